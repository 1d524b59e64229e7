// Package scale collapses equation systems over ensembles of
// interchangeable replicas. Deferred sums over an identical index turn
// into multiplicity factors times one representative average, so the
// system size stops depending on the ensemble bound.
package scale

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/san-kum/qmoment/internal/hilbert"
	"github.com/san-kum/qmoment/internal/moment"
	"github.com/san-kum/qmoment/internal/qalg"
)

var (
	// ErrNotClosed reports a scaling attempt on an unclosed system.
	ErrNotClosed = errors.New("scale: system must be closed before scaling")

	// ErrNotIdentical reports a deferred sum over an index whose
	// replicas were not declared interchangeable.
	ErrNotIdentical = errors.New("scale: summation index is not over identical replicas")

	// ErrUnmatchedAverage reports a collapsed average with no equation
	// in the system, which would leave the scaled system dangling.
	ErrUnmatchedAverage = errors.New("scale: collapsed average has no equation")

	// ErrReplicaCoefficient reports a coefficient that still depends on
	// the collapsed replica index, so the summands were not equal.
	ErrReplicaCoefficient = errors.New("scale: coefficient depends on the collapsed replica")
)

// Reduce rewrites every deferred replica sum in the system into a
// multiplicity factor times the representative average. The input must
// be closed; the result is closed over the same state variables with
// the ensemble size appearing only through bound parameters.
func Reduce(sys *moment.System) (*moment.System, error) {
	if !sys.Closed() {
		return nil, ErrNotClosed
	}
	canon := moment.NewCanonicalizer(sys)

	known := map[string]bool{}
	for _, key := range sys.Keys() {
		known[key] = true
	}

	r := &reducer{}
	eqs := make([]*moment.Equation, len(sys.Eqs))
	for i, e := range sys.Eqs {
		r.names = r.names[:0]
		rhs, err := r.rewrite(e.RHS)
		if err != nil {
			return nil, fmt.Errorf("equation for %s: %w", e.LHS, err)
		}
		rhs = qalg.MapAverages(rhs, canon.Rewrite)
		for _, name := range r.names {
			if qalg.UsesIndex(rhs, name) {
				return nil, fmt.Errorf("%w: equation for %s", ErrReplicaCoefficient, e.LHS)
			}
		}

		var dangling error
		qalg.WalkAverages(rhs, func(a *qalg.Average) {
			if dangling != nil || a.HasFrozen() {
				return
			}
			key := canon.Key(a.Ops())
			if !known[key] && !sys.Known[key] && !sys.Dropped[key] {
				dangling = fmt.Errorf("%w: %s", ErrUnmatchedAverage, a)
			}
		})
		if dangling != nil {
			return nil, dangling
		}
		eqs[i] = &moment.Equation{LHS: e.LHS, RHS: rhs}
	}
	return sys.Rewritten(eqs), nil
}

type reducer struct {
	fresh int
	names []string
}

// rewrite collapses sums bottom-up so nested replica sums each get
// their own representative.
func (r *reducer) rewrite(s qalg.Scalar) (qalg.Scalar, error) {
	switch v := s.(type) {
	case *qalg.Add:
		terms := v.Terms()
		out := make([]qalg.Scalar, len(terms))
		for i, t := range terms {
			nt, err := r.rewrite(t)
			if err != nil {
				return nil, err
			}
			out[i] = nt
		}
		return qalg.AddOf(out...), nil
	case *qalg.Mul:
		factors := v.Factors()
		out := make([]qalg.Scalar, len(factors))
		for i, f := range factors {
			nf, err := r.rewrite(f)
			if err != nil {
				return nil, err
			}
			out[i] = nf
		}
		return qalg.MulOf(out...), nil
	case *qalg.Sum:
		body, err := r.rewrite(v.Body())
		if err != nil {
			return nil, err
		}
		idx := v.Index()
		if !idx.Identical {
			return nil, fmt.Errorf("%w: %s", ErrNotIdentical, idx.Name)
		}
		// All admissible values contribute the same representative
		// term; the sum is the count of admissible values times it.
		// The placeholder keeps the original label's sort position so
		// atom canonicalization lands on the same orientation the
		// closure derived.
		r.fresh++
		rep := &hilbert.Index{
			Name:      idx.Name + "\x00" + strconv.Itoa(r.fresh),
			Space:     idx.Space,
			Bound:     idx.Bound,
			Identical: idx.Identical,
		}
		r.names = append(r.names, rep.Name)
		collapsed := body.Subst(qalg.Subst{idx.Name: hilbert.SymRef(rep)})
		return qalg.MulOf(multiplicity(idx.Bound, len(v.Exclusions())), collapsed), nil
	}
	return s, nil
}

func multiplicity(b hilbert.Bound, excluded int) qalg.Scalar {
	if b.Concrete() {
		return qalg.NumOf(complex(float64(b.N-excluded), 0))
	}
	if excluded == 0 {
		return qalg.ParamOf(b.Sym)
	}
	return qalg.AddOf(qalg.ParamOf(b.Sym), qalg.NumOf(complex(float64(-excluded), 0)))
}
