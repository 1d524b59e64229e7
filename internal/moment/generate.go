package moment

import (
	"fmt"

	"github.com/san-kum/qmoment/internal/hilbert"
	"github.com/san-kum/qmoment/internal/qalg"
)

// Jump is one Lindblad loss channel. A plain channel has a nil Idx and
// a scalar Rate. With Idx set the channel is replicated over the index
// range with rate Rate(i); with Idx2 also set the rate is a matrix
// Rate(i,j) coupling replica pairs, contributing
//
//	Σ_i Σ_j R(i,j) (⟨J_i† O J_j⟩ − ½⟨J_i† J_j O⟩ − ½⟨O J_i† J_j⟩)
type Jump struct {
	Op   qalg.OpExpr
	Rate qalg.Scalar
	Idx  *hilbert.Index
	Idx2 *hilbert.Index
}

// Generator derives the time derivative of operator averages under a
// Hamiltonian and a set of jump operators, truncated at a cumulant
// order. Convention: d⟨O⟩/dt = i⟨[H,O]⟩ + dissipators, ħ = 1.
type Generator struct {
	H     qalg.OpExpr
	Jumps []Jump
	Order int

	bound map[string]*hilbert.Index // index names bound inside H/jumps
}

// NewGenerator validates index bindings across the Hamiltonian, jump
// operators, and rates.
func NewGenerator(h qalg.OpExpr, jumps []Jump, order int) (*Generator, error) {
	if order < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrBadOrder, order)
	}
	g := &Generator{H: h, Jumps: jumps, Order: order, bound: map[string]*hilbert.Index{}}

	register := func(m map[string][]*hilbert.Index) error {
		for name, objs := range m {
			for _, ix := range objs {
				prev, seen := g.bound[name]
				if !seen {
					g.bound[name] = ix
					continue
				}
				if prev.Space != ix.Space || prev.Bound.String() != ix.Bound.String() {
					return &BindingError{Name: name, Wrapped: ErrIndexBinding}
				}
			}
		}
		return nil
	}

	if err := register(qalg.IndicesOf(h)); err != nil {
		return nil, err
	}
	for _, j := range jumps {
		if err := register(qalg.IndicesOf(j.Op)); err != nil {
			return nil, err
		}
		if j.Rate != nil {
			if err := register(qalg.IndicesOf(qalg.OpExpr{qalg.NewTerm(j.Rate)})); err != nil {
				return nil, err
			}
		}
		if j.Idx != nil {
			if err := register(map[string][]*hilbert.Index{j.Idx.Name: {j.Idx}}); err != nil {
				return nil, err
			}
		}
		if j.Idx2 != nil {
			if err := register(map[string][]*hilbert.Index{j.Idx2.Name: {j.Idx2}}); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// boundNames are the index names the generator owns; a target may not
// reuse them.
func (g *Generator) sumBound() map[string]bool {
	out := map[string]bool{}
	for _, t := range g.H {
		for _, s := range t.Sums {
			out[s.Name] = true
		}
	}
	for _, j := range g.Jumps {
		for _, t := range j.Op {
			for _, s := range t.Sums {
				out[s.Name] = true
			}
		}
		if j.Idx != nil {
			out[j.Idx.Name] = true
		}
		if j.Idx2 != nil {
			out[j.Idx2.Name] = true
		}
	}
	return out
}

// Derive produces the equation of motion for one target average.
// Free target indices must not reuse names bound inside the generator.
func (g *Generator) Derive(target qalg.Term) (*Equation, error) {
	reserved := g.sumBound()
	for name := range qalg.IndicesOf(qalg.OpExpr{target}) {
		if reserved[name] {
			return nil, &BindingError{Name: name, Wrapped: ErrIndexBinding}
		}
	}

	atom, ok := qalg.AverageOf(target.Ops).(*qalg.Average)
	if !ok {
		return nil, ErrBadTarget
	}
	// Equations are always derived for the representative orientation.
	lhsOps := atom.Ops()
	o := qalg.OpExpr{qalg.NewTerm(nil, lhsOps...)}
	if len(target.Excl) > 0 {
		withExcl := o[0]
		withExcl.Excl = append([]qalg.Pair(nil), target.Excl...)
		o = qalg.OpExpr{withExcl}
	}

	total := qalg.ScaleExpr(qalg.I(), qalg.Commutator(g.H, o))
	for _, j := range g.Jumps {
		d, err := dissipator(j, o)
		if err != nil {
			return nil, err
		}
		total = qalg.AddExpr(total, d)
	}
	total = qalg.ExpandNumeric(total, nil)

	lhs, _ := qalg.AverageOf(lhsOps).(*qalg.Average)
	return &Equation{LHS: lhs, RHS: qalg.AverageExpr(total, g.Order)}, nil
}

// dissipator builds R(⟨J†OJ⟩ − ½⟨J†JO⟩ − ½⟨OJ†J⟩) for one channel,
// wrapping index sums for replicated channels.
func dissipator(j Jump, o qalg.OpExpr) (qalg.OpExpr, error) {
	left := j.Op
	right := j.Op
	if j.Idx2 != nil {
		if j.Idx == nil {
			return nil, fmt.Errorf("%w: rate matrix requires a primary index", ErrIndexBinding)
		}
		right = qalg.SubstExpr(j.Op, qalg.Subst{j.Idx.Name: hilbert.SymRef(j.Idx2)})
	}
	ld := qalg.DagExpr(left)

	half := qalg.NumOf(complex(-0.5, 0))
	sandwich := qalg.MulExpr(qalg.MulExpr(ld, o), right)
	normLeft := qalg.ScaleExpr(half, qalg.MulExpr(qalg.MulExpr(ld, right), o))
	normRight := qalg.ScaleExpr(half, qalg.MulExpr(o, qalg.MulExpr(ld, right)))
	d := qalg.AddExpr(sandwich, normLeft, normRight)

	rate := j.Rate
	if rate == nil {
		rate = qalg.NumOf(1)
	}
	d = qalg.ScaleExpr(rate, d)

	if j.Idx2 != nil {
		d = qalg.SumExpr(d, j.Idx2)
	}
	if j.Idx != nil {
		d = qalg.SumExpr(d, j.Idx)
	}
	return d, nil
}
