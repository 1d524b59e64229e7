package qalg

import (
	"math/cmplx"
)

// Average is the expectation value of a canonical operator product,
// used as an opaque scalar atom. ⟨O⟩ and ⟨O†⟩ share one representative
// state variable: the atom stores the representative product and a
// conjugation flag, so complex-conjugate pairs are recognized as
// duplicates structurally.
type Average struct {
	ops []Elem
	dag bool
}

// AverageOf builds the average atom for a canonical operator product.
func AverageOf(ops []Elem) Scalar { return newAvgAtom(ops) }

func newAvgAtom(ops []Elem) Scalar {
	if len(ops) == 0 {
		return one
	}
	for _, o := range ops {
		if o.Frozen {
			// Correlation variables keep their orientation.
			return &Average{ops: append([]Elem(nil), ops...)}
		}
	}
	dg := daggerOps(ops)
	if OpsKey(dg) < OpsKey(ops) {
		return &Average{ops: dg, dag: true}
	}
	return &Average{ops: append([]Elem(nil), ops...)}
}

// daggerOps is the adjoint of a canonical product, re-sorted into
// canonical order. No commutator corrections arise: per subsystem the
// adjoint of a normal-ordered product is again normal-ordered.
func daggerOps(ops []Elem) []Elem {
	out := make([]Elem, len(ops))
	for i, o := range ops {
		out[len(ops)-1-i] = o.Dagger()
	}
	// Stable insertion keeps relative order of equal keys.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].sortKey() < out[j-1].sortKey(); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Ops returns the representative operator product.
func (a *Average) Ops() []Elem { return a.ops }

// IsConj reports whether the atom is the conjugate of its
// representative.
func (a *Average) IsConj() bool { return a.dag }

// HasFrozen reports whether the atom is a two-time correlation
// variable.
func (a *Average) HasFrozen() bool {
	for _, o := range a.ops {
		if o.Frozen {
			return true
		}
	}
	return false
}

// Order is the number of unfrozen elementary operators.
func (a *Average) Order() int {
	n := 0
	for _, o := range a.ops {
		if !o.Frozen {
			n++
		}
	}
	return n
}

// RepKey identifies the representative state variable.
func (a *Average) RepKey() string { return "av{" + OpsKey(a.ops) + "}" }

func (a *Average) Key() string {
	if a.dag {
		return RepKeyConj(a.RepKey())
	}
	return a.RepKey()
}

// RepKeyConj marks a representative key as conjugated.
func RepKeyConj(key string) string { return key + "*" }

func (a *Average) String() string {
	parts := ""
	for i, o := range a.ops {
		if i > 0 {
			parts += " "
		}
		parts += o.String()
	}
	if a.dag {
		return "conj(<" + parts + ">)"
	}
	return "<" + parts + ">"
}

func (a *Average) usesIndex(name string) bool {
	for _, o := range a.ops {
		if o.Ref.Idx != nil && o.Ref.Idx.Name == name {
			return true
		}
	}
	return false
}

// Subst rewrites replica references and re-canonicalizes; a
// substitution that makes two references coincide re-triggers the
// composition rules, so the result may be a full scalar expression.
func (a *Average) Subst(m Subst) Scalar {
	nops := make([]Elem, len(a.ops))
	changed := false
	for i, o := range a.ops {
		nops[i] = o.subst(m)
		if !nops[i].Ref.Same(o.Ref) {
			changed = true
		}
	}
	if !changed {
		return a
	}
	s := reaverage(nops)
	if a.dag {
		s = s.Conj()
	}
	return s
}

// reaverage rebuilds the average of a possibly non-canonical product.
func reaverage(ops []Elem) Scalar {
	terms := normalizeTerm(NewTerm(one, ops...))
	out := make([]Scalar, len(terms))
	for i, t := range terms {
		out[i] = MulOf(t.Coeff, newAvgAtom(t.Ops))
	}
	return AddOf(out...)
}

func (a *Average) Conj() Scalar {
	if !a.HasFrozen() && OpsKey(daggerOps(a.ops)) == OpsKey(a.ops) {
		return a // self-adjoint, real-valued
	}
	return &Average{ops: a.ops, dag: !a.dag}
}

func (a *Average) Eval(env *Env) (complex128, error) {
	var v complex128
	if env != nil && env.Avg != nil {
		if got, ok := env.Avg(a.RepKey()); ok {
			v = got
			if a.dag {
				v = cmplx.Conj(v)
			}
			return v, nil
		}
	}
	if a.HasFrozen() && a.allFrozen() {
		// A lone time-0 factor is the steady expectation of B itself.
		base := make([]Elem, len(a.ops))
		for i, o := range a.ops {
			o.Frozen = false
			base[i] = o
		}
		s := reaverage(base)
		v, err := s.Eval(env)
		if err != nil {
			return 0, err
		}
		if a.dag {
			v = cmplx.Conj(v)
		}
		return v, nil
	}
	return 0, &MissingAverageError{Key: a.RepKey()}
}

func (a *Average) allFrozen() bool {
	for _, o := range a.ops {
		if !o.Frozen {
			return false
		}
	}
	return true
}

// MissingAverageError reports an average with no supplied value.
type MissingAverageError struct{ Key string }

func (e *MissingAverageError) Error() string {
	return "qalg: no value for average " + e.Key
}

// ------------------------------------------------------------------
// Cumulant expansion
// ------------------------------------------------------------------

// MomentOf is the order-k moment expansion of an operator product
// average. Products of more than k unfrozen operators are rewritten
// through the cumulant inversion
//
//	⟨x₁…xₙ⟩ = Σ_{partitions P, |P|≥2} (−1)^{|P|} (|P|−1)! Π_{B∈P} ⟨B⟩
//
// with blocks keeping the original operator order and oversized blocks
// recursing. Frozen time-0 operators join the partitions but do not
// count toward the truncation order.
func MomentOf(ops []Elem, k int) Scalar {
	if len(ops) == 0 {
		return one
	}
	n := 0
	for _, o := range ops {
		if !o.Frozen {
			n++
		}
	}
	if n <= k {
		return newAvgAtom(ops)
	}
	var terms []Scalar
	forEachPartition(len(ops), func(blocks [][]int) {
		if len(blocks) < 2 {
			return
		}
		sign := 1.0
		if len(blocks)%2 != 0 {
			sign = -1.0
		}
		coeff := sign * factorial(len(blocks)-1)
		factors := []Scalar{NumOf(complex(coeff, 0))}
		for _, b := range blocks {
			sub := make([]Elem, len(b))
			for i, idx := range b {
				sub[i] = ops[idx]
			}
			factors = append(factors, MomentOf(sub, k))
		}
		terms = append(terms, MulOf(factors...))
	})
	return AddOf(terms...)
}

func factorial(n int) float64 {
	f := 1.0
	for i := 2; i <= n; i++ {
		f *= float64(i)
	}
	return f
}

// forEachPartition enumerates set partitions of {0..n-1}; block
// element order follows the original sequence.
func forEachPartition(n int, fn func([][]int)) {
	var blocks [][]int
	var rec func(i int)
	rec = func(i int) {
		if i == n {
			cp := make([][]int, len(blocks))
			for j, b := range blocks {
				cp[j] = append([]int(nil), b...)
			}
			fn(cp)
			return
		}
		for j := range blocks {
			blocks[j] = append(blocks[j], i)
			rec(i + 1)
			blocks[j] = blocks[j][:len(blocks[j])-1]
		}
		blocks = append(blocks, []int{i})
		rec(i + 1)
		blocks = blocks[:len(blocks)-1]
	}
	rec(0)
}

// AverageTerm converts one canonical operator term into its scalar
// average at truncation order k, wrapping deferred sums around the
// cumulant-expanded body.
func AverageTerm(t Term, k int) Scalar {
	body := MulOf(t.Coeff, MomentOf(t.Ops, k))
	remaining := append([]Pair(nil), t.Excl...)
	for i := len(t.Sums) - 1; i >= 0; i-- {
		ix := t.Sums[i]
		var mine, rest []Pair
		for _, p := range remaining {
			if refIsIdx(p.A, ix) || refIsIdx(p.B, ix) {
				mine = append(mine, p)
			} else {
				rest = append(rest, p)
			}
		}
		body = SumOf(body, ix, mine...)
		remaining = rest
	}
	return body
}

// AverageExpr converts a whole operator expression at order k.
func AverageExpr(e OpExpr, k int) Scalar {
	terms := make([]Scalar, len(e))
	for i, t := range e {
		terms[i] = AverageTerm(t, k)
	}
	return AddOf(terms...)
}
