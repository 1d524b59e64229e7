package qalg

import (
	"sort"
	"strconv"
	"strings"

	"github.com/san-kum/qmoment/internal/hilbert"
)

// Term is one canonical summand of an operator expression:
//
//	Σ_{Sums, subject to Excl}  Coeff · Ops[0] Ops[1] ...
//
// Ops are kept in normal-ordered canonical form: two algebraically
// equal products compare structurally equal. Deferred index sums and
// their exclusion constraints live directly on the term, so a
// SymbolicSum is a Term with one summation index and a DoubleSum a
// Term with two.
type Term struct {
	Coeff Scalar
	Ops   []Elem
	Sums  []*hilbert.Index
	Excl  []Pair
}

// OpExpr is an operator polynomial: a sum of canonical terms.
type OpExpr []Term

// NewTerm builds a raw (not yet normalized) term.
func NewTerm(coeff Scalar, ops ...Elem) Term {
	if coeff == nil {
		coeff = one
	}
	return Term{Coeff: coeff, Ops: ops}
}

func (t Term) clone() Term {
	c := t
	c.Ops = append([]Elem(nil), t.Ops...)
	c.Sums = append([]*hilbert.Index(nil), t.Sums...)
	c.Excl = append([]Pair(nil), t.Excl...)
	return c
}

// subst rewrites index references throughout the term. Summation
// indices are never substituted; the caller removes them first when a
// sum collapses.
func (t Term) subst(m Subst) Term {
	c := t.clone()
	c.Coeff = c.Coeff.Subst(m)
	for i := range c.Ops {
		c.Ops[i] = c.Ops[i].subst(m)
	}
	for i := range c.Excl {
		c.Excl[i] = c.Excl[i].subst(m)
	}
	return c
}

func (t Term) hasSum(ix *hilbert.Index) bool {
	for _, s := range t.Sums {
		if s.Name == ix.Name {
			return true
		}
	}
	return false
}

func (t Term) withoutSum(name string) Term {
	c := t.clone()
	out := c.Sums[:0]
	for _, s := range c.Sums {
		if s.Name != name {
			out = append(out, s)
		}
	}
	c.Sums = out
	return c
}

// indexNames collects every index name appearing in the term.
func (t Term) indexNames() map[string]bool {
	names := map[string]bool{}
	for _, s := range t.Sums {
		names[s.Name] = true
	}
	for _, o := range t.Ops {
		if o.Ref.Idx != nil {
			names[o.Ref.Idx.Name] = true
		}
	}
	for _, p := range t.Excl {
		if p.A.Idx != nil {
			names[p.A.Idx.Name] = true
		}
		if p.B.Idx != nil {
			names[p.B.Idx.Name] = true
		}
	}
	collectScalarIndexNames(t.Coeff, names)
	return names
}

func collectScalarIndexNames(s Scalar, names map[string]bool) {
	switch v := s.(type) {
	case *Param:
		for _, r := range v.Refs() {
			if r.Idx != nil {
				names[r.Idx.Name] = true
			}
		}
	case *Delta:
		if v.a.Idx != nil {
			names[v.a.Idx.Name] = true
		}
		if v.b.Idx != nil {
			names[v.b.Idx.Name] = true
		}
	case *Add:
		for _, t := range v.terms {
			collectScalarIndexNames(t, names)
		}
	case *Mul:
		for _, f := range v.factors {
			collectScalarIndexNames(f, names)
		}
	case *Sum:
		names[v.idx.Name] = true
		collectScalarIndexNames(v.body, names)
	case *Average:
		for _, o := range v.ops {
			if o.Ref.Idx != nil {
				names[o.Ref.Idx.Name] = true
			}
		}
	}
}

func (t Term) usesIndex(name string) bool {
	for _, o := range t.Ops {
		if o.Ref.Idx != nil && o.Ref.Idx.Name == name {
			return true
		}
	}
	if UsesIndex(t.Coeff, name) {
		return true
	}
	return false
}

// provablyDistinct reports whether two references can never take the
// same value within this term.
func (t Term) provablyDistinct(a, b hilbert.Ref) bool {
	if a.Literal() && b.Literal() {
		return a.Val != b.Val
	}
	want := Pair{A: a, B: b}.Key()
	for _, p := range t.Excl {
		if p.Key() == want {
			return true
		}
	}
	return false
}

// OpsKey identifies the operator part of the term.
func OpsKey(ops []Elem) string {
	parts := make([]string, len(ops))
	for i, o := range ops {
		parts[i] = o.IdentityKey()
	}
	return strings.Join(parts, " ")
}

// canonicalKey identifies the term up to renaming of its summation
// indices, used to combine like terms.
func (t Term) canonicalKey() string {
	m := Subst{}
	reps := t.sumRenaming()
	for i, s := range t.Sums {
		m[s.Name] = hilbert.SymRef(reps[i])
	}
	r := t.subst(m)
	keys := make([]string, len(r.Excl))
	for i, p := range r.Excl {
		keys[i] = p.Key()
	}
	sort.Strings(keys)
	sums := make([]string, len(r.Sums))
	for i, s := range t.Sums {
		sums[i] = reps[i].Name + ":" + s.Bound.String()
	}
	return OpsKey(r.Ops) + " |S " + strings.Join(sums, ",") + " |E " + strings.Join(keys, ";")
}

// sumRenaming maps each summation index to a positional pseudo-index.
func (t Term) sumRenaming() []*hilbert.Index {
	reps := make([]*hilbert.Index, len(t.Sums))
	for i, s := range t.Sums {
		reps[i] = &hilbert.Index{
			Name:      "%" + strconv.Itoa(i+1),
			Space:     s.Space,
			Bound:     s.Bound,
			Identical: s.Identical,
		}
	}
	return reps
}

func (t Term) String() string {
	var b strings.Builder
	for _, s := range t.Sums {
		b.WriteString("sum_" + s.Name + " ")
	}
	for _, p := range t.Excl {
		b.WriteString("(" + p.A.String() + "!=" + p.B.String() + ") ")
	}
	b.WriteString(t.Coeff.String())
	for _, o := range t.Ops {
		b.WriteString(" " + o.String())
	}
	return b.String()
}

// ------------------------------------------------------------------
// Normal ordering
// ------------------------------------------------------------------

// normalizeTerm rewrites a term into canonical normal-ordered form.
// One term may split into several: bosonic reordering produces
// commutator remainders, indexed products split into index-equal and
// index-distinct branches, and ground-projector elimination expands
// σ(1,1) into 1 − Σ_{m≥2} σ(m,m).
func normalizeTerm(t Term) []Term {
	queue := []Term{t}
	var out []Term
	for len(queue) > 0 {
		cur := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if isZero(cur.Coeff) {
			continue
		}
		if next, done := rewriteStep(cur); !done {
			queue = append(queue, next...)
			continue
		}
		cur, dead := cur.tidy()
		if dead || isZero(cur.Coeff) {
			continue
		}
		out = append(out, cur)
	}
	return out
}

// rewriteStep applies the first applicable rewrite. done=true means
// the term is already canonical.
func rewriteStep(cur Term) ([]Term, bool) {
	for i := 0; i+1 < len(cur.Ops); i++ {
		x, y := cur.Ops[i], cur.Ops[i+1]
		if x.SameSite(y) {
			if x.Frozen {
				continue // the time-0 factor is kept verbatim
			}
			switch x.Space.Kind {
			case hilbert.Fock:
				if x.Kind == Destroy && y.Kind == Create {
					// a a† = a† a + 1
					swapped := cur.clone()
					swapped.Ops[i], swapped.Ops[i+1] = y, x
					contracted := cur.clone()
					contracted.Ops = append(contracted.Ops[:i], contracted.Ops[i+2:]...)
					return []Term{swapped, contracted}, false
				}
			case hilbert.NLevel:
				// σ(a,b) σ(c,d) = δ(b,c) σ(a,d)
				if x.To != y.From {
					return nil, false // δ kills the term
				}
				merged := cur.clone()
				m := x
				m.To = y.To
				merged.Ops[i] = m
				merged.Ops = append(merged.Ops[:i+1], merged.Ops[i+2:]...)
				return []Term{merged}, false
			}
			continue
		}
		// Same indexed space, different replica references that could
		// still coincide: split into equal and distinct branches.
		if x.Space == y.Space && x.Frozen == y.Frozen && x.Indexed() &&
			!x.Ref.Same(y.Ref) && !cur.provablyDistinct(x.Ref, y.Ref) {
			return splitEqual(cur, i), false
		}
		if y.sortKey() < x.sortKey() {
			// Distinct subsystems or provably distinct replicas commute.
			swapped := cur.clone()
			swapped.Ops[i], swapped.Ops[i+1] = y, x
			return []Term{swapped}, false
		}
	}
	if i := findGroundProjector(cur.Ops); i >= 0 {
		return expandProjector(cur, i), false
	}
	return nil, true
}

// splitEqual handles a product of two operators on the same indexed
// space whose replica references may coincide. The equal branch
// substitutes one reference by the other (consuming a summation index
// or folding a Kronecker delta into the coefficient); the distinct
// branch records the inequality constraint.
func splitEqual(cur Term, i int) []Term {
	x, y := cur.Ops[i], cur.Ops[i+1]

	neq := cur.clone()
	neq.Excl = append(neq.Excl, Pair{A: x.Ref, B: y.Ref}.normalized())

	var eq Term
	switch {
	case !y.Ref.Literal() && cur.hasSum(y.Ref.Idx):
		eq = cur.withoutSum(y.Ref.Idx.Name).subst(Subst{y.Ref.Idx.Name: x.Ref})
	case !x.Ref.Literal() && cur.hasSum(x.Ref.Idx):
		eq = cur.withoutSum(x.Ref.Idx.Name).subst(Subst{x.Ref.Idx.Name: y.Ref})
	case !y.Ref.Literal():
		eq = cur.subst(Subst{y.Ref.Idx.Name: x.Ref})
		eq.Coeff = MulOf(eq.Coeff, DeltaOf(x.Ref, y.Ref))
	default:
		// x symbolic, y literal
		eq = cur.subst(Subst{x.Ref.Idx.Name: y.Ref})
		eq.Coeff = MulOf(eq.Coeff, DeltaOf(x.Ref, y.Ref))
	}
	return []Term{eq, neq}
}

func findGroundProjector(ops []Elem) int {
	for i, o := range ops {
		if o.Kind == Transition && o.From == 1 && o.To == 1 && !o.Frozen {
			return i
		}
	}
	return -1
}

// expandProjector rewrites σ(1,1) = 1 − Σ_{m=2..L} σ(m,m) so the
// emitted operator basis stays minimal.
func expandProjector(cur Term, i int) []Term {
	out := make([]Term, 0, cur.Ops[i].Space.Levels)
	ident := cur.clone()
	ident.Ops = append(ident.Ops[:i], ident.Ops[i+1:]...)
	out = append(out, ident)
	for m := 2; m <= cur.Ops[i].Space.Levels; m++ {
		t := cur.clone()
		t.Ops[i].From, t.Ops[i].To = m, m
		t.Coeff = MulOf(NumOf(-1), t.Coeff)
		out = append(out, t)
	}
	return out
}

// tidy finalizes a canonical term: absorbs summation indices the body
// no longer references into multiplicity factors, normalizes and
// prunes exclusion constraints, and detects contradictions.
func (t Term) tidy() (Term, bool) {
	// Absorb sums over indices the term no longer uses.
	for changed := true; changed; {
		changed = false
		for _, s := range t.Sums {
			if t.usesIndex(s.Name) {
				continue
			}
			count := 0
			rest := make([]Pair, 0, len(t.Excl))
			for _, p := range t.Excl {
				if refIsIdx(p.A, s) || refIsIdx(p.B, s) {
					count++
				} else {
					rest = append(rest, p)
				}
			}
			t = t.withoutSum(s.Name)
			t.Excl = rest
			t.Coeff = MulOf(t.Coeff, multiplicity(s.Bound, count))
			changed = true
			break
		}
	}

	seen := map[string]bool{}
	kept := make([]Pair, 0, len(t.Excl))
	for _, p := range t.Excl {
		p = p.normalized()
		if p.A.Same(p.B) {
			return t, true // i != i is unsatisfiable
		}
		if p.A.Literal() && p.B.Literal() {
			continue // distinct literals, trivially true
		}
		if seen[p.Key()] {
			continue
		}
		seen[p.Key()] = true
		kept = append(kept, p)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Key() < kept[j].Key() })
	t.Excl = kept
	return t, false
}

// ------------------------------------------------------------------
// Expression arithmetic
// ------------------------------------------------------------------

// Normalize canonicalizes every term and combines like terms.
func Normalize(e OpExpr) OpExpr {
	groups := map[string]*Term{}
	order := []string{}
	for _, raw := range e {
		for _, t := range normalizeTerm(raw) {
			key := t.canonicalKey()
			rep, ok := groups[key]
			if !ok {
				c := t.clone()
				groups[key] = &c
				order = append(order, key)
				continue
			}
			// Rename this term's summation indices onto the
			// representative's before combining coefficients.
			m := Subst{}
			for i, s := range t.Sums {
				m[s.Name] = hilbert.SymRef(rep.Sums[i])
			}
			rep.Coeff = AddOf(rep.Coeff, t.Coeff.Subst(m))
		}
	}
	sort.Strings(order)
	out := make(OpExpr, 0, len(order))
	for _, key := range order {
		t := groups[key]
		if isZero(t.Coeff) {
			continue
		}
		out = append(out, *t)
	}
	return out
}

// AddExpr sums operator expressions.
func AddExpr(es ...OpExpr) OpExpr {
	var all OpExpr
	for _, e := range es {
		all = append(all, e...)
	}
	return Normalize(all)
}

// ScaleExpr multiplies an expression by a scalar.
func ScaleExpr(s Scalar, e OpExpr) OpExpr {
	out := make(OpExpr, 0, len(e))
	for _, t := range e {
		c := t.clone()
		c.Coeff = MulOf(s, c.Coeff)
		out = append(out, c)
	}
	return Normalize(out)
}

// MulExpr multiplies two operator expressions, renaming colliding
// summation indices before concatenating operator products.
func MulExpr(a, b OpExpr) OpExpr {
	var out OpExpr
	for _, ta := range a {
		for _, tb := range b {
			out = append(out, mulTerms(ta, tb))
		}
	}
	return Normalize(out)
}

func mulTerms(a, b Term) Term {
	used := a.indexNames()
	for n := range b.indexNames() {
		used[n] = true
	}
	ren := Subst{}
	sums := append([]*hilbert.Index(nil), b.Sums...)
	for i, s := range b.Sums {
		if !a.indexNames()[s.Name] {
			continue
		}
		name := s.Name
		for used[name] {
			name += "'"
		}
		used[name] = true
		fresh := &hilbert.Index{Name: name, Space: s.Space, Bound: s.Bound, Identical: s.Identical}
		ren[s.Name] = hilbert.SymRef(fresh)
		sums[i] = fresh
	}
	rb := b
	if len(ren) > 0 {
		rb = b.clone()
		rb.Sums = nil
		rb = rb.subst(ren)
		rb.Sums = sums
	}
	c := Term{
		Coeff: MulOf(a.Coeff, rb.Coeff),
		Ops:   append(append([]Elem(nil), a.Ops...), rb.Ops...),
		Sums:  append(append([]*hilbert.Index(nil), a.Sums...), rb.Sums...),
		Excl:  append(append([]Pair(nil), a.Excl...), rb.Excl...),
	}
	return c
}

// DagExpr is the Hermitian adjoint of an expression.
func DagExpr(e OpExpr) OpExpr {
	out := make(OpExpr, 0, len(e))
	for _, t := range e {
		c := t.clone()
		c.Coeff = c.Coeff.Conj()
		rev := make([]Elem, len(c.Ops))
		for i, o := range c.Ops {
			rev[len(c.Ops)-1-i] = o.Dagger()
		}
		c.Ops = rev
		out = append(out, c)
	}
	return Normalize(out)
}

// Commutator is [a, b] = ab − ba.
func Commutator(a, b OpExpr) OpExpr {
	return AddExpr(MulExpr(a, b), ScaleExpr(NumOf(-1), MulExpr(b, a)))
}

// SumExpr wraps every term of e in a sum over ix with optional
// exclusion constraints.
func SumExpr(e OpExpr, ix *hilbert.Index, excl ...Pair) OpExpr {
	out := make(OpExpr, 0, len(e))
	for _, t := range e {
		c := t.clone()
		c.Sums = append(c.Sums, ix)
		c.Excl = append(c.Excl, excl...)
		out = append(out, c)
	}
	return Normalize(out)
}

// SubstExpr rewrites free index references across an expression.
func SubstExpr(e OpExpr, m Subst) OpExpr {
	out := make(OpExpr, 0, len(e))
	for _, t := range e {
		out = append(out, t.subst(m))
	}
	return Normalize(out)
}

// IndicesOf collects every index object referenced by the expression,
// keyed by name. Two distinct objects under one name indicate a
// binding conflict, reported by the caller.
func IndicesOf(e OpExpr) map[string][]*hilbert.Index {
	out := map[string][]*hilbert.Index{}
	add := func(ix *hilbert.Index) {
		if ix == nil {
			return
		}
		for _, seen := range out[ix.Name] {
			if seen == ix {
				return
			}
		}
		out[ix.Name] = append(out[ix.Name], ix)
	}
	var walkScalar func(s Scalar)
	walkScalar = func(s Scalar) {
		switch v := s.(type) {
		case *Param:
			for _, r := range v.Refs() {
				add(r.Idx)
			}
		case *Delta:
			add(v.a.Idx)
			add(v.b.Idx)
		case *Add:
			for _, t := range v.terms {
				walkScalar(t)
			}
		case *Mul:
			for _, f := range v.factors {
				walkScalar(f)
			}
		case *Sum:
			add(v.idx)
			walkScalar(v.body)
		case *Average:
			for _, o := range v.ops {
				add(o.Ref.Idx)
			}
		}
	}
	for _, t := range e {
		for _, s := range t.Sums {
			add(s)
		}
		for _, o := range t.Ops {
			add(o.Ref.Idx)
		}
		for _, p := range t.Excl {
			add(p.A.Idx)
			add(p.B.Idx)
		}
		walkScalar(t.Coeff)
	}
	return out
}

// ExpandNumeric materializes every summation index whose bound is
// concrete (directly or via bounds) into explicit terms.
func ExpandNumeric(e OpExpr, bounds map[string]int) OpExpr {
	var out OpExpr
	for _, t := range e {
		out = append(out, expandTermNumeric(t, bounds)...)
	}
	return Normalize(out)
}

func expandTermNumeric(t Term, bounds map[string]int) []Term {
	for si, s := range t.Sums {
		n := s.Bound.N
		if n == 0 && bounds != nil {
			n = bounds[s.Bound.Sym]
		}
		if n == 0 {
			continue // symbolic bound, keep deferred
		}
		var out []Term
		base := t.clone()
		base.Sums = append(base.Sums[:si], base.Sums[si+1:]...)
		for v := 1; v <= n; v++ {
			inst := base.subst(Subst{s.Name: hilbert.LitRef(v)})
			out = append(out, expandTermNumeric(inst, bounds)...)
		}
		return out
	}
	return []Term{t}
}
