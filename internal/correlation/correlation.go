// Package correlation derives two-time correlation functions and
// emission spectra through the quantum regression theorem. The time-0
// operator is frozen: it rides along as a commuting spectator, joins
// cumulant partitions, and does not count toward the truncation order.
// The resulting equations are linear in the correlation variables, so
// the spectrum reduces to one complex linear solve per frequency.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"math/cmplx"

	"github.com/san-kum/qmoment/internal/moment"
	"github.com/san-kum/qmoment/internal/ode"
	"github.com/san-kum/qmoment/internal/qalg"
)

var (
	// ErrBadOperator reports a correlation operator that is not a plain
	// single-term product.
	ErrBadOperator = errors.New("correlation: operator must be a single product term")

	// ErrNoGenerator reports a base system without derivation context.
	ErrNoGenerator = errors.New("correlation: base system carries no generator")

	// ErrNotClosed reports a base system with unclosed averages.
	ErrNotClosed = errors.New("correlation: base system is not closed")

	// ErrNonlinear reports right-hand sides that are not affine in the
	// correlation variables, so no transfer matrix exists.
	ErrNonlinear = errors.New("correlation: equations are not linear in the correlation variables")

	// ErrSingular reports a singular linear system.
	ErrSingular = errors.New("correlation: singular matrix")
)

// Correlation is the closed equation set for c(τ) = ⟨A(τ)B(0)⟩ over a
// steady base system. Vars are the correlation state variables in
// equation order; the seed ⟨A B°⟩ sits at slot Slot.
type Correlation struct {
	Sys  *moment.System
	Vars []string
	Slot int

	base   *moment.System
	pref   qalg.Scalar
	init   []qalg.Scalar
	varIdx map[string]int
	frozen map[string]bool
}

// Build freezes b at time 0, seeds ⟨a b°⟩, and closes the regression
// equations. Base averages appearing as cofactors stay external; their
// steady values come from the environment at evaluation time.
func Build(a, b qalg.OpExpr, base *moment.System, opts moment.Options) (*Correlation, error) {
	gen := base.Generator()
	if gen == nil {
		return nil, ErrNoGenerator
	}
	if !base.Closed() {
		return nil, ErrNotClosed
	}
	aT, ok := qalg.Target(a)
	if !ok {
		return nil, ErrBadOperator
	}
	bT, ok := qalg.Target(b)
	if !ok {
		return nil, ErrBadOperator
	}

	frozenOps := make([]qalg.Elem, len(bT.Ops))
	for i, o := range bT.Ops {
		o.Frozen = true
		frozenOps[i] = o
	}
	seedExpr := qalg.MulExpr(
		qalg.OpExpr{qalg.NewTerm(qalg.NumOf(1), aT.Ops...)},
		qalg.OpExpr{qalg.NewTerm(qalg.NumOf(1), frozenOps...)},
	)
	seed, ok := qalg.Target(seedExpr)
	if !ok {
		return nil, ErrBadOperator
	}
	atom, ok := qalg.AverageOf(seed.Ops).(*qalg.Average)
	if !ok {
		return nil, ErrBadOperator
	}

	known := map[string]bool{}
	for _, k := range base.Keys() {
		known[k] = true
	}
	for k := range base.Known {
		known[k] = true
	}
	for k := range opts.Known {
		known[k] = true
	}
	opts.Known = known

	sys, err := moment.Close(gen, []qalg.Term{seed}, opts)
	if err != nil {
		return nil, err
	}

	c := &Correlation{
		Sys:    sys,
		Vars:   sys.Keys(),
		base:   base,
		pref:   qalg.MulOf(aT.Coeff, bT.Coeff),
		varIdx: map[string]int{},
		frozen: map[string]bool{},
	}
	slot := -1
	for i, k := range c.Vars {
		c.varIdx[k] = i
		if k == atom.RepKey() {
			slot = i
		}
	}
	if slot < 0 {
		return nil, fmt.Errorf("%w: seed variable missing", ErrBadOperator)
	}
	c.Slot = slot

	for _, e := range sys.Eqs {
		qalg.WalkAverages(e.RHS, func(av *qalg.Average) {
			if av.HasFrozen() && av.Order() == 0 {
				c.frozen[av.RepKey()] = true
			}
		})
	}

	// Initial values: at τ=0 the frozen factor thaws, so each variable
	// starts at the equal-time moment of its unfrozen product.
	c.init = make([]qalg.Scalar, len(sys.Eqs))
	for i, e := range sys.Eqs {
		ops := e.LHS.Ops()
		thawed := make([]qalg.Elem, len(ops))
		for j, o := range ops {
			o.Frozen = false
			thawed[j] = o
		}
		prod := qalg.Normalize(qalg.OpExpr{qalg.NewTerm(qalg.NumOf(1), thawed...)})
		c.init[i] = qalg.AverageExpr(prod, base.Order)
	}
	return c, nil
}

// Dim is the number of correlation variables.
func (c *Correlation) Dim() int { return len(c.Vars) }

// stateEnv evaluates correlation variables from x. Pure time-0 factors
// are forced to zero when forceFrozen is set; otherwise they fall
// through to the steady environment. Everything else delegates to env.
func (c *Correlation) stateEnv(x []complex128, env *qalg.Env, forceFrozen bool) *qalg.Env {
	bound := qalg.Env{}
	if env != nil {
		bound = *env
	}
	outer := bound.Avg
	bound.Avg = func(key string) (complex128, bool) {
		if i, ok := c.varIdx[key]; ok {
			return x[i], true
		}
		if c.frozen[key] {
			return 0, forceFrozen
		}
		if outer != nil {
			return outer(key)
		}
		return 0, false
	}
	return &bound
}

func (c *Correlation) rhs(x []complex128, env *qalg.Env, forceFrozen bool) ([]complex128, error) {
	bound := c.stateEnv(x, env, forceFrozen)
	out := make([]complex128, len(c.Sys.Eqs))
	for i, e := range c.Sys.Eqs {
		v, err := e.RHS.Eval(bound)
		if err != nil {
			return nil, fmt.Errorf("equation for %s: %w", e.LHS, err)
		}
		out[i] = v
	}
	return out, nil
}

// Matrices extracts dX/dτ = M·X + b. The steady base averages and
// parameters come from env.
func (c *Correlation) Matrices(env *qalg.Env) ([][]complex128, []complex128, error) {
	n := c.Dim()
	x := make([]complex128, n)

	// Inhomogeneity: variables zero, time-0 factors at steady value.
	b, err := c.rhs(x, env, false)
	if err != nil {
		return nil, nil, err
	}

	// Column j: unit in slot j, time-0 factors suppressed.
	m := make([][]complex128, n)
	for i := range m {
		m[i] = make([]complex128, n)
	}
	for j := 0; j < n; j++ {
		x[j] = 1
		col, err := c.rhs(x, env, true)
		if err != nil {
			return nil, nil, err
		}
		x[j] = 0
		for i := 0; i < n; i++ {
			m[i][j] = col[i]
		}
	}

	// The extraction is only faithful for affine right-hand sides.
	probe := make([]complex128, n)
	for i := range probe {
		probe[i] = complex(0.3+0.05*float64(i), -0.2+0.04*float64(i))
	}
	full, err := c.rhs(probe, env, false)
	if err != nil {
		return nil, nil, err
	}
	for i := 0; i < n; i++ {
		want := b[i]
		for j := 0; j < n; j++ {
			want += m[i][j] * probe[j]
		}
		if cmplx.Abs(full[i]-want) > 1e-8*(1+cmplx.Abs(want)) {
			return nil, nil, fmt.Errorf("%w: equation for %s", ErrNonlinear, c.Vars[i])
		}
	}
	return m, b, nil
}

// InitialValues evaluates X(0), the equal-time moments of the thawed
// variable products, under the steady environment.
func (c *Correlation) InitialValues(env *qalg.Env) ([]complex128, error) {
	out := make([]complex128, len(c.init))
	for i, s := range c.init {
		v, err := s.Eval(env)
		if err != nil {
			return nil, fmt.Errorf("initial value for %s: %w", c.Vars[i], err)
		}
		out[i] = v
	}
	return out, nil
}

// Evolve integrates c(τ) over [0, cfg.Duration] and returns the τ grid
// with the correlation trace.
func (c *Correlation) Evolve(ctx context.Context, env *qalg.Env, cfg ode.Config) ([]float64, []complex128, error) {
	compiled, err := ode.Compile(c.Sys)
	if err != nil {
		return nil, nil, err
	}
	x0, err := c.InitialValues(env)
	if err != nil {
		return nil, nil, err
	}
	pf, err := c.pref.Eval(env)
	if err != nil {
		return nil, nil, err
	}
	res, err := ode.Evolve(ctx, compiled, x0, env, cfg)
	if err != nil {
		return nil, nil, err
	}
	trace, ok := res.Series(c.Vars[c.Slot])
	if !ok {
		return nil, nil, fmt.Errorf("correlation: variable %s missing from trajectory", c.Vars[c.Slot])
	}
	for i := range trace {
		trace[i] *= pf
	}
	return res.Times, trace, nil
}

// Spectrum returns S(ω) = 2·Re ∫₀^∞ e^{-iωτ} (c(τ) − c(∞)) dτ as a
// callable. The asymptote solves M·x∞ = −b; each frequency is one
// complex linear solve (iωI − M)·x = x0 − x∞.
func (c *Correlation) Spectrum(env *qalg.Env) (func(omega float64) (float64, error), error) {
	m, b, err := c.Matrices(env)
	if err != nil {
		return nil, err
	}
	x0, err := c.InitialValues(env)
	if err != nil {
		return nil, err
	}
	pf, err := c.pref.Eval(env)
	if err != nil {
		return nil, err
	}

	n := c.Dim()
	negB := make([]complex128, n)
	for i, v := range b {
		negB[i] = -v
	}
	xInf, err := solve(m, negB)
	if err != nil {
		return nil, fmt.Errorf("asymptote: %w", err)
	}
	y0 := make([]complex128, n)
	for i := range y0 {
		y0[i] = x0[i] - xInf[i]
	}
	slot := c.Slot

	return func(omega float64) (float64, error) {
		a := make([][]complex128, n)
		for i := range a {
			a[i] = make([]complex128, n)
			for j := range a[i] {
				a[i][j] = -m[i][j]
			}
			a[i][i] += complex(0, omega)
		}
		x, err := solve(a, y0)
		if err != nil {
			return 0, err
		}
		return 2 * real(pf*x[slot]), nil
	}, nil
}
