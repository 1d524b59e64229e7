package ode

import (
	"errors"
	"fmt"

	"github.com/san-kum/qmoment/internal/moment"
	"github.com/san-kum/qmoment/internal/qalg"
)

var (
	// ErrNotClosed reports compilation of a system that still references
	// averages without equations.
	ErrNotClosed = errors.New("ode: system is not closed")

	// ErrDimension reports a state vector of the wrong length.
	ErrDimension = errors.New("ode: state dimension mismatch")

	// ErrNoConvergence reports a steady-state relaxation that did not
	// settle within the step budget.
	ErrNoConvergence = errors.New("ode: steady state did not converge")
)

// Compiled is a closed equation system flattened into a callable
// complex vector field. The state vector follows Vars order; entry i is
// the current value of the representative average Vars[i].
type Compiled struct {
	Vars []string
	sys  *moment.System
	idx  map[string]int
}

// Compile freezes the variable order of a closed system.
func Compile(sys *moment.System) (*Compiled, error) {
	if !sys.Closed() {
		return nil, fmt.Errorf("%w: %v", ErrNotClosed, sys.Unclosed())
	}
	c := &Compiled{
		Vars: sys.Keys(),
		sys:  sys,
		idx:  map[string]int{},
	}
	for i, k := range c.Vars {
		c.idx[k] = i
	}
	return c, nil
}

// Dim is the state dimension.
func (c *Compiled) Dim() int { return len(c.Vars) }

// Index resolves a representative average key to its state slot.
func (c *Compiled) Index(key string) (int, bool) {
	i, ok := c.idx[key]
	return i, ok
}

// bind layers the state vector over the caller environment: state
// variables resolve from x, everything else falls through.
func (c *Compiled) bind(x []complex128, env *qalg.Env) *qalg.Env {
	bound := qalg.Env{}
	if env != nil {
		bound = *env
	}
	outer := bound.Avg
	bound.Avg = func(key string) (complex128, bool) {
		if i, ok := c.idx[key]; ok {
			return x[i], true
		}
		if outer != nil {
			return outer(key)
		}
		return 0, false
	}
	return &bound
}

// Derivative evaluates dx/dt into dst. Parameters and any externally
// known averages come from env.
func (c *Compiled) Derivative(x []complex128, env *qalg.Env, dst []complex128) error {
	if len(x) != len(c.Vars) || len(dst) != len(c.Vars) {
		return ErrDimension
	}
	bound := c.bind(x, env)
	for i, e := range c.sys.Eqs {
		v, err := e.RHS.Eval(bound)
		if err != nil {
			return fmt.Errorf("equation for %s: %w", e.LHS, err)
		}
		dst[i] = v
	}
	return nil
}

// InitialState evaluates a set of initial averages into a state
// vector; unspecified variables start at zero.
func (c *Compiled) InitialState(init map[string]complex128) ([]complex128, error) {
	x := make([]complex128, len(c.Vars))
	for key, v := range init {
		i, ok := c.idx[key]
		if !ok {
			return nil, fmt.Errorf("%w: unknown variable %s", ErrDimension, key)
		}
		x[i] = v
	}
	return x, nil
}
