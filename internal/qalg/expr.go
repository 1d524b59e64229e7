package qalg

import (
	"github.com/san-kum/qmoment/internal/hilbert"
)

// Convenience constructors for building Hamiltonians and jump
// operators. They panic on structurally invalid input; the New*
// constructors in operator.go are the error-returning forms.

// A is the annihilation operator on a bosonic mode.
func A(sp *hilbert.Space) OpExpr {
	e, err := NewDestroy(sp)
	if err != nil {
		panic(err)
	}
	return OpExpr{NewTerm(one, e)}
}

// Ad is the creation operator on a bosonic mode.
func Ad(sp *hilbert.Space) OpExpr {
	e, err := NewCreate(sp)
	if err != nil {
		panic(err)
	}
	return OpExpr{NewTerm(one, e)}
}

// Sigma is σ(from,to) on a plain N-level space.
func Sigma(sp *hilbert.Space, from, to int) OpExpr {
	e, err := NewTransition(sp, from, to)
	if err != nil {
		panic(err)
	}
	return OpExpr{NewTerm(one, e)}
}

// SigmaIdx is σ(from,to) on the replica addressed by ix.
func SigmaIdx(sp *hilbert.Space, from, to int, ix *hilbert.Index) OpExpr {
	return SigmaRef(sp, from, to, hilbert.SymRef(ix))
}

// SigmaRef is σ(from,to) on the replica addressed by ref.
func SigmaRef(sp *hilbert.Space, from, to int, ref hilbert.Ref) OpExpr {
	e, err := NewTransitionRef(sp, from, to, ref)
	if err != nil {
		panic(err)
	}
	return OpExpr{NewTerm(one, e)}
}

// Target wraps a normalized single-term operator product as an
// equation target.
func Target(e OpExpr) (Term, bool) {
	n := Normalize(e)
	if len(n) != 1 || len(n[0].Sums) != 0 {
		return Term{}, false
	}
	return n[0], true
}
