package config

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/san-kum/qmoment/internal/hilbert"
	"github.com/san-kum/qmoment/internal/moment"
	"github.com/san-kum/qmoment/internal/qalg"
)

var (
	// ErrUnknownSpace reports an operator or index referencing an
	// undeclared space.
	ErrUnknownSpace = errors.New("config: unknown space")

	// ErrUnknownIndex reports an operator or sum referencing an
	// undeclared index.
	ErrUnknownIndex = errors.New("config: unknown index")

	// ErrBadOp reports an operator declaration that cannot be built.
	ErrBadOp = errors.New("config: bad operator")

	// ErrBadFilter reports an unrecognized filter name.
	ErrBadFilter = errors.New("config: bad filter")
)

// Model is the compiled scenario: the declared composite system, its
// generator, and everything the commands need to run it.
type Model struct {
	Product *hilbert.Product
	Spaces  map[string]*hilbert.Space
	Indices map[string]*hilbert.Index

	Generator *moment.Generator
	Seeds     []qalg.Term
	Filter    func(*qalg.Average) bool

	Params map[string]float64
	Init   map[string]complex128
}

// Build compiles the scenario declaration into symbolic form.
func (c *Config) Build() (*Model, error) {
	m := &Model{
		Product: hilbert.NewProduct(),
		Spaces:  map[string]*hilbert.Space{},
		Indices: map[string]*hilbert.Index{},
		Params:  c.Params,
		Init:    map[string]complex128{},
	}
	for _, sc := range c.Spaces {
		sp, err := buildSpace(m.Product, sc)
		if err != nil {
			return nil, err
		}
		m.Spaces[sc.Name] = sp
	}
	for _, ic := range c.Indices {
		ix, err := m.buildIndex(ic)
		if err != nil {
			return nil, err
		}
		m.Indices[ic.Name] = ix
	}

	h, err := m.buildHamiltonian(c.Hamiltonian)
	if err != nil {
		return nil, err
	}
	jumps, err := m.buildJumps(c.Jumps)
	if err != nil {
		return nil, err
	}
	order := c.Order
	if order <= 0 {
		order = DefaultOrder
	}
	gen, err := moment.NewGenerator(h, jumps, order)
	if err != nil {
		return nil, err
	}
	m.Generator = gen

	for _, seed := range c.Seeds {
		e, err := m.BuildProduct(seed)
		if err != nil {
			return nil, err
		}
		t, ok := qalg.Target(e)
		if !ok {
			return nil, fmt.Errorf("%w: seed is not a single product", ErrBadOp)
		}
		m.Seeds = append(m.Seeds, t)
	}

	switch c.Filter {
	case "", "none":
	case "u1":
		m.Filter = moment.U1Filter()
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadFilter, c.Filter)
	}

	for _, init := range c.Initial {
		e, err := m.BuildProduct(init.Ops)
		if err != nil {
			return nil, err
		}
		t, ok := qalg.Target(e)
		if !ok {
			return nil, fmt.Errorf("%w: initial value is not a single product", ErrBadOp)
		}
		atom, ok := qalg.AverageOf(t.Ops).(*qalg.Average)
		if !ok {
			return nil, fmt.Errorf("%w: initial value has no average", ErrBadOp)
		}
		v := complex(init.Re, init.Im)
		if atom.IsConj() {
			v = complex(init.Re, -init.Im)
		}
		m.Init[atom.RepKey()] = v
	}
	return m, nil
}

// Close derives the closed system for the scenario seeds.
func (m *Model) Close(opts moment.Options) (*moment.System, error) {
	opts.Filter = m.Filter
	return moment.Close(m.Generator, m.Seeds, opts)
}

// Env is the evaluation environment for the scenario parameters.
func (m *Model) Env() *qalg.Env {
	return &qalg.Env{Params: m.Params}
}

func buildSpace(p *hilbert.Product, sc SpaceConfig) (*hilbert.Space, error) {
	switch sc.Kind {
	case "fock":
		return p.AddFock(sc.Name), nil
	case "nlevel":
		if sc.Indexed {
			return p.AddIndexedNLevel(sc.Name, sc.Levels)
		}
		return p.AddNLevel(sc.Name, sc.Levels)
	default:
		return nil, fmt.Errorf("%w: space %q has kind %q", ErrUnknownSpace, sc.Name, sc.Kind)
	}
}

func (m *Model) buildIndex(ic IndexConfig) (*hilbert.Index, error) {
	sp, ok := m.Spaces[ic.Space]
	if !ok {
		return nil, fmt.Errorf("%w: index %q over %q", ErrUnknownSpace, ic.Name, ic.Space)
	}
	var bound hilbert.Bound
	if n, err := strconv.Atoi(ic.Bound); err == nil {
		bound = hilbert.NumBound(n)
	} else {
		bound = hilbert.SymBound(ic.Bound)
	}
	if ic.Identical {
		return hilbert.NewIdenticalIndex(ic.Name, sp, bound)
	}
	return hilbert.NewIndex(ic.Name, sp, bound)
}

// buildOp compiles one elementary operator.
func (m *Model) buildOp(oc OpConfig) (qalg.OpExpr, error) {
	sp, ok := m.Spaces[oc.Space]
	if !ok {
		return nil, fmt.Errorf("%w: operator on %q", ErrUnknownSpace, oc.Space)
	}
	switch oc.Op {
	case "create":
		e, err := qalg.NewCreate(sp)
		if err != nil {
			return nil, err
		}
		return qalg.OpExpr{qalg.NewTerm(qalg.NumOf(1), e)}, nil
	case "destroy":
		e, err := qalg.NewDestroy(sp)
		if err != nil {
			return nil, err
		}
		return qalg.OpExpr{qalg.NewTerm(qalg.NumOf(1), e)}, nil
	case "transition":
		ref, err := m.opRef(oc)
		if err != nil {
			return nil, err
		}
		if sp.Indexed {
			e, err := qalg.NewTransitionRef(sp, oc.From, oc.To, ref)
			if err != nil {
				return nil, err
			}
			return qalg.OpExpr{qalg.NewTerm(qalg.NumOf(1), e)}, nil
		}
		e, err := qalg.NewTransition(sp, oc.From, oc.To)
		if err != nil {
			return nil, err
		}
		return qalg.OpExpr{qalg.NewTerm(qalg.NumOf(1), e)}, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrBadOp, oc.Op)
	}
}

func (m *Model) opRef(oc OpConfig) (hilbert.Ref, error) {
	if oc.Index != "" {
		ix, ok := m.Indices[oc.Index]
		if !ok {
			return hilbert.Ref{}, fmt.Errorf("%w: %q", ErrUnknownIndex, oc.Index)
		}
		return hilbert.SymRef(ix), nil
	}
	return hilbert.LitRef(oc.Replica), nil
}

// BuildProduct compiles an operator product declaration.
func (m *Model) BuildProduct(ops []OpConfig) (qalg.OpExpr, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: empty product", ErrBadOp)
	}
	var out qalg.OpExpr
	for i, oc := range ops {
		e, err := m.buildOp(oc)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			out = e
		} else {
			out = qalg.MulExpr(out, e)
		}
	}
	return out, nil
}

func (m *Model) buildHamiltonian(terms []TermConfig) (qalg.OpExpr, error) {
	var h qalg.OpExpr
	for _, tc := range terms {
		e, err := m.BuildProduct(tc.Ops)
		if err != nil {
			return nil, err
		}
		coeff := termCoeff(tc)
		e = qalg.ScaleExpr(coeff, e)
		if tc.Sum != "" {
			ix, ok := m.Indices[tc.Sum]
			if !ok {
				return nil, fmt.Errorf("%w: sum over %q", ErrUnknownIndex, tc.Sum)
			}
			e = qalg.SumExpr(e, ix)
		}
		if tc.HC {
			e = qalg.AddExpr(e, qalg.DagExpr(e))
		}
		h = qalg.AddExpr(h, e)
	}
	return h, nil
}

func termCoeff(tc TermConfig) qalg.Scalar {
	factor := tc.Factor
	if factor == 0 {
		factor = 1
	}
	var c complex128 = complex(factor, 0)
	if tc.Imag {
		c = complex(0, factor)
	}
	coeff := qalg.Scalar(qalg.NumOf(c))
	if tc.Param != "" {
		coeff = qalg.MulOf(coeff, qalg.ParamOf(tc.Param))
	}
	return coeff
}

func (m *Model) buildJumps(jumps []JumpConfig) ([]moment.Jump, error) {
	out := make([]moment.Jump, len(jumps))
	for i, jc := range jumps {
		e, err := m.BuildProduct(jc.Ops)
		if err != nil {
			return nil, err
		}
		j := moment.Jump{Op: e, Rate: rateScalar(m, jc)}
		if jc.Index != "" {
			ix, ok := m.Indices[jc.Index]
			if !ok {
				return nil, fmt.Errorf("%w: jump index %q", ErrUnknownIndex, jc.Index)
			}
			j.Idx = ix
		}
		if jc.Index2 != "" {
			ix, ok := m.Indices[jc.Index2]
			if !ok {
				return nil, fmt.Errorf("%w: jump index %q", ErrUnknownIndex, jc.Index2)
			}
			j.Idx2 = ix
		}
		out[i] = j
	}
	return out, nil
}

func rateScalar(m *Model, jc JumpConfig) qalg.Scalar {
	if !jc.RateIndexed {
		return qalg.ParamOf(jc.Rate)
	}
	var refs []hilbert.Ref
	if jc.Index != "" {
		if ix, ok := m.Indices[jc.Index]; ok {
			refs = append(refs, hilbert.SymRef(ix))
		}
	}
	if jc.Index2 != "" {
		if ix, ok := m.Indices[jc.Index2]; ok {
			refs = append(refs, hilbert.SymRef(ix))
		}
	}
	return qalg.ParamOf(jc.Rate, refs...)
}
