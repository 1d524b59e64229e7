package qalg

import (
	"fmt"
	"math/cmplx"
	"sort"
	"strconv"
	"strings"

	"github.com/san-kum/qmoment/internal/hilbert"
)

// Scalar is a symbolic scalar expression: complex constants, named
// (possibly indexed) parameters, Kronecker deltas, operator averages,
// products, sums, and deferred index sums. All values are immutable;
// constructors return simplified trees with deterministic ordering.
type Scalar interface {
	// Key is a canonical identity string; two scalars are structurally
	// equal iff their keys match.
	Key() string
	String() string
	// Subst replaces symbolic index references.
	Subst(m Subst) Scalar
	// Conj is the complex conjugate. Parameters are real-valued.
	Conj() Scalar
	// Eval computes a numeric value under env. Unresolved symbols are
	// reported as errors.
	Eval(env *Env) (complex128, error)
}

// Subst maps index names to replacement references.
type Subst map[string]hilbert.Ref

func substRef(r hilbert.Ref, m Subst) hilbert.Ref {
	if r.Idx == nil {
		return r
	}
	if nr, ok := m[r.Idx.Name]; ok {
		return nr
	}
	return r
}

// Pair is an index-inequality constraint: the two references must take
// distinct values.
type Pair struct {
	A, B hilbert.Ref
}

func (p Pair) normalized() Pair {
	if p.B.Key() < p.A.Key() {
		return Pair{A: p.B, B: p.A}
	}
	return p
}

func (p Pair) Key() string { return p.normalized().A.Key() + "!" + p.normalized().B.Key() }

func (p Pair) subst(m Subst) Pair {
	return Pair{A: substRef(p.A, m), B: substRef(p.B, m)}
}

// Env supplies numeric values for evaluation.
type Env struct {
	// Params maps parameter value keys ("g", "Gamma[1,2]") to values.
	Params map[string]float64
	// ParamFn is an optional fallback for indexed parameters.
	ParamFn func(name string, refs []int) (float64, bool)
	// Avg maps representative average keys to current values.
	Avg func(key string) (complex128, bool)
	// Bounds resolves symbolic index range sizes.
	Bounds map[string]int
}

func (e *Env) bound(b hilbert.Bound) (int, error) {
	if b.Concrete() {
		return b.N, nil
	}
	if e != nil && e.Bounds != nil {
		if n, ok := e.Bounds[b.Sym]; ok {
			return n, nil
		}
	}
	return 0, fmt.Errorf("qalg: unresolved index bound %q", b.Sym)
}

// ------------------------------------------------------------------
// Num
// ------------------------------------------------------------------

// Num is a complex constant.
type Num struct{ v complex128 }

// NumOf wraps a complex constant.
func NumOf(v complex128) *Num { return &Num{v: v} }

var (
	one   = NumOf(1)
	zero  = NumOf(0)
	iUnit = NumOf(complex(0, 1))
)

// I is the imaginary unit.
func I() *Num { return iUnit }

func fmtFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

func (n *Num) Value() complex128 { return n.v }
func (n *Num) IsZero() bool      { return n.v == 0 }

func (n *Num) Key() string {
	return "#" + fmtFloat(real(n.v)) + "," + fmtFloat(imag(n.v))
}

func (n *Num) String() string { return formatComplex(n.v) }

func formatComplex(v complex128) string {
	re, im := real(v), imag(v)
	switch {
	case im == 0:
		return fmtFloat(re)
	case re == 0 && im == 1:
		return "i"
	case re == 0 && im == -1:
		return "-i"
	case re == 0:
		return fmtFloat(im) + "i"
	default:
		if im < 0 {
			return "(" + fmtFloat(re) + fmtFloat(im) + "i)"
		}
		return "(" + fmtFloat(re) + "+" + fmtFloat(im) + "i)"
	}
}

func (n *Num) Subst(Subst) Scalar { return n }
func (n *Num) Conj() Scalar       { return NumOf(cmplx.Conj(n.v)) }
func (n *Num) Eval(*Env) (complex128, error) {
	return n.v, nil
}

// ------------------------------------------------------------------
// Param
// ------------------------------------------------------------------

// Param is a named real parameter, optionally indexed (g(i), Γ(i,j)).
type Param struct {
	name string
	refs []hilbert.Ref
}

// ParamOf declares a scalar parameter reference.
func ParamOf(name string, refs ...hilbert.Ref) *Param {
	return &Param{name: name, refs: refs}
}

func (p *Param) Name() string        { return p.name }
func (p *Param) Refs() []hilbert.Ref { return p.refs }
func (p *Param) Indexed() bool       { return len(p.refs) > 0 }
func (p *Param) Conj() Scalar        { return p }

func (p *Param) Subst(m Subst) Scalar {
	if len(p.refs) == 0 {
		return p
	}
	nr := make([]hilbert.Ref, len(p.refs))
	for i, r := range p.refs {
		nr[i] = substRef(r, m)
	}
	return &Param{name: p.name, refs: nr}
}

func (p *Param) Key() string {
	if len(p.refs) == 0 {
		return "$" + p.name
	}
	parts := make([]string, len(p.refs))
	for i, r := range p.refs {
		parts[i] = r.Key()
	}
	return "$" + p.name + "[" + strings.Join(parts, ",") + "]"
}

func (p *Param) String() string {
	if len(p.refs) == 0 {
		return p.name
	}
	parts := make([]string, len(p.refs))
	for i, r := range p.refs {
		parts[i] = r.String()
	}
	return p.name + "(" + strings.Join(parts, ",") + ")"
}

// ValueKey is the lookup key used against Env.Params once all index
// references are literal.
func (p *Param) ValueKey() (string, bool) {
	if len(p.refs) == 0 {
		return p.name, true
	}
	parts := make([]string, len(p.refs))
	for i, r := range p.refs {
		if !r.Literal() {
			return "", false
		}
		parts[i] = strconv.Itoa(r.Val)
	}
	return p.name + "[" + strings.Join(parts, ",") + "]", true
}

func (p *Param) Eval(env *Env) (complex128, error) {
	key, ok := p.ValueKey()
	if !ok {
		return 0, fmt.Errorf("qalg: parameter %s has unresolved indices", p.String())
	}
	if env != nil && env.Params != nil {
		if v, found := env.Params[key]; found {
			return complex(v, 0), nil
		}
	}
	if env != nil && env.ParamFn != nil && len(p.refs) > 0 {
		vals := make([]int, len(p.refs))
		for i, r := range p.refs {
			vals[i] = r.Val
		}
		if v, found := env.ParamFn(p.name, vals); found {
			return complex(v, 0), nil
		}
	}
	return 0, fmt.Errorf("qalg: parameter %q has no value", key)
}

// ------------------------------------------------------------------
// Delta
// ------------------------------------------------------------------

// Delta is a Kronecker delta over two index references.
type Delta struct {
	a, b hilbert.Ref
}

// DeltaOf builds δ(a,b), simplifying when both sides are resolved.
func DeltaOf(a, b hilbert.Ref) Scalar {
	if a.Same(b) {
		return one
	}
	if a.Literal() && b.Literal() {
		return zero // distinct literals
	}
	if b.Key() < a.Key() {
		a, b = b, a
	}
	return &Delta{a: a, b: b}
}

func (d *Delta) Left() hilbert.Ref  { return d.a }
func (d *Delta) Right() hilbert.Ref { return d.b }

func (d *Delta) Key() string    { return "d{" + d.a.Key() + "," + d.b.Key() + "}" }
func (d *Delta) String() string { return "d(" + d.a.String() + "," + d.b.String() + ")" }
func (d *Delta) Conj() Scalar   { return d }

func (d *Delta) Subst(m Subst) Scalar {
	return DeltaOf(substRef(d.a, m), substRef(d.b, m))
}

func (d *Delta) Eval(*Env) (complex128, error) {
	return 0, fmt.Errorf("qalg: unresolved delta %s", d.String())
}

// ------------------------------------------------------------------
// Add
// ------------------------------------------------------------------

// Add is a sum of scalar terms, canonically ordered with like terms
// combined.
type Add struct{ terms []Scalar }

// AddOf sums scalars, flattening nested sums and folding constants.
func AddOf(terms ...Scalar) Scalar {
	flat := make([]Scalar, 0, len(terms))
	for _, t := range terms {
		if t == nil {
			continue
		}
		if a, ok := t.(*Add); ok {
			flat = append(flat, a.terms...)
		} else {
			flat = append(flat, t)
		}
	}
	// Combine terms sharing the same non-numeric part.
	type group struct {
		coeff complex128
		rest  []Scalar
	}
	groups := map[string]*group{}
	order := []string{}
	for _, t := range flat {
		c, rest := splitCoeff(t)
		key := restKey(rest)
		g, seen := groups[key]
		if !seen {
			g = &group{rest: rest}
			groups[key] = g
			order = append(order, key)
		}
		g.coeff += c
	}
	sort.Strings(order)
	out := make([]Scalar, 0, len(order))
	for _, key := range order {
		g := groups[key]
		if g.coeff == 0 {
			continue
		}
		if len(g.rest) == 0 {
			out = append(out, NumOf(g.coeff))
			continue
		}
		if g.coeff == 1 && len(g.rest) == 1 {
			out = append(out, g.rest[0])
			continue
		}
		factors := append([]Scalar{NumOf(g.coeff)}, g.rest...)
		out = append(out, MulOf(factors...))
	}
	switch len(out) {
	case 0:
		return zero
	case 1:
		return out[0]
	}
	return &Add{terms: out}
}

func splitCoeff(s Scalar) (complex128, []Scalar) {
	switch v := s.(type) {
	case *Num:
		return v.v, nil
	case *Mul:
		if len(v.factors) > 0 {
			if n, ok := v.factors[0].(*Num); ok {
				return n.v, v.factors[1:]
			}
		}
		return 1, v.factors
	default:
		return 1, []Scalar{s}
	}
}

func restKey(rest []Scalar) string {
	parts := make([]string, len(rest))
	for i, r := range rest {
		parts[i] = r.Key()
	}
	return strings.Join(parts, "*")
}

func (a *Add) Terms() []Scalar { return a.terms }

func (a *Add) Key() string {
	parts := make([]string, len(a.terms))
	for i, t := range a.terms {
		parts[i] = t.Key()
	}
	return "(+ " + strings.Join(parts, " ") + ")"
}

func (a *Add) String() string {
	parts := make([]string, len(a.terms))
	for i, t := range a.terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " + ")
}

func (a *Add) Subst(m Subst) Scalar {
	nt := make([]Scalar, len(a.terms))
	for i, t := range a.terms {
		nt[i] = t.Subst(m)
	}
	return AddOf(nt...)
}

func (a *Add) Conj() Scalar {
	nt := make([]Scalar, len(a.terms))
	for i, t := range a.terms {
		nt[i] = t.Conj()
	}
	return AddOf(nt...)
}

func (a *Add) Eval(env *Env) (complex128, error) {
	var acc complex128
	for _, t := range a.terms {
		v, err := t.Eval(env)
		if err != nil {
			return 0, err
		}
		acc += v
	}
	return acc, nil
}

// ------------------------------------------------------------------
// Mul
// ------------------------------------------------------------------

// Mul is a product with a leading numeric coefficient and key-sorted
// symbolic factors.
type Mul struct{ factors []Scalar }

// MulOf multiplies scalars, flattening nested products and folding
// constants. A zero coefficient collapses the product.
func MulOf(factors ...Scalar) Scalar {
	coeff := complex128(1)
	rest := []Scalar{}
	var addFactor func(s Scalar)
	addFactor = func(s Scalar) {
		switch v := s.(type) {
		case *Num:
			coeff *= v.v
		case *Mul:
			for _, f := range v.factors {
				addFactor(f)
			}
		default:
			rest = append(rest, s)
		}
	}
	for _, f := range factors {
		if f == nil {
			continue
		}
		addFactor(f)
	}
	if coeff == 0 {
		return zero
	}
	// Distribute over sums so the canonical form is a sum of products.
	for i, f := range rest {
		if a, ok := f.(*Add); ok {
			others := make([]Scalar, 0, len(rest)-1)
			others = append(others, rest[:i]...)
			others = append(others, rest[i+1:]...)
			terms := make([]Scalar, len(a.terms))
			for j, t := range a.terms {
				fs := append([]Scalar{NumOf(coeff), t}, others...)
				terms[j] = MulOf(fs...)
			}
			return AddOf(terms...)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Key() < rest[j].Key() })
	if len(rest) == 0 {
		return NumOf(coeff)
	}
	if coeff == 1 {
		if len(rest) == 1 {
			return rest[0]
		}
		return &Mul{factors: rest}
	}
	return &Mul{factors: append([]Scalar{NumOf(coeff)}, rest...)}
}

func (m *Mul) Factors() []Scalar { return m.factors }

func (m *Mul) Key() string {
	parts := make([]string, len(m.factors))
	for i, f := range m.factors {
		parts[i] = f.Key()
	}
	return "(* " + strings.Join(parts, " ") + ")"
}

func (m *Mul) String() string {
	parts := make([]string, len(m.factors))
	for i, f := range m.factors {
		if _, ok := f.(*Add); ok {
			parts[i] = "(" + f.String() + ")"
		} else {
			parts[i] = f.String()
		}
	}
	return strings.Join(parts, "*")
}

func (m *Mul) Subst(sub Subst) Scalar {
	nf := make([]Scalar, len(m.factors))
	for i, f := range m.factors {
		nf[i] = f.Subst(sub)
	}
	return MulOf(nf...)
}

func (m *Mul) Conj() Scalar {
	nf := make([]Scalar, len(m.factors))
	for i, f := range m.factors {
		nf[i] = f.Conj()
	}
	return MulOf(nf...)
}

func (m *Mul) Eval(env *Env) (complex128, error) {
	acc := complex128(1)
	for _, f := range m.factors {
		v, err := f.Eval(env)
		if err != nil {
			return 0, err
		}
		acc *= v
	}
	return acc, nil
}

// ------------------------------------------------------------------
// Sum: deferred symbolic sum over an index range
// ------------------------------------------------------------------

// Sum is an unevaluated sum of its body over one index, with optional
// exclusion constraints against other references. Double sums are
// nested Sum nodes.
type Sum struct {
	body Scalar
	idx  *hilbert.Index
	excl []Pair
}

// SumOf builds Σ_idx body, resolving Kronecker deltas over idx and
// pulling index-independent factors out of the sum.
func SumOf(body Scalar, idx *hilbert.Index, excl ...Pair) Scalar {
	if isZero(body) {
		return zero
	}
	// Keep only constraints that mention idx; others belong to the caller.
	kept := make([]Pair, 0, len(excl))
	for _, p := range excl {
		if refIsIdx(p.A, idx) || refIsIdx(p.B, idx) {
			kept = append(kept, p.normalized())
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Key() < kept[j].Key() })

	// Distribute over addition.
	if a, ok := body.(*Add); ok {
		terms := make([]Scalar, len(a.terms))
		for i, t := range a.terms {
			terms[i] = SumOf(t, idx, kept...)
		}
		return AddOf(terms...)
	}

	// Resolve a delta pinning the summation index: Σ_i δ(i,r) f(i) = f(r).
	if resolved, ok := resolveDelta(body, idx, kept); ok {
		return resolved
	}

	// Pull factors independent of the index out of the sum.
	if m, ok := body.(*Mul); ok {
		dep := []Scalar{}
		indep := []Scalar{}
		for _, f := range m.factors {
			if UsesIndex(f, idx.Name) {
				dep = append(dep, f)
			} else {
				indep = append(indep, f)
			}
		}
		if len(indep) > 0 {
			inner := SumOf(MulOf(dep...), idx, kept...)
			return MulOf(append(indep, inner)...)
		}
	}

	// A body independent of the index sums to a multiplicity factor.
	if !UsesIndex(body, idx.Name) {
		return MulOf(multiplicity(idx.Bound, len(kept)), body)
	}
	return &Sum{body: body, idx: idx, excl: kept}
}

func refIsIdx(r hilbert.Ref, idx *hilbert.Index) bool {
	return r.Idx != nil && r.Idx.Name == idx.Name
}

// multiplicity is bound minus the number of excluded values.
func multiplicity(b hilbert.Bound, excluded int) Scalar {
	if b.Concrete() {
		return NumOf(complex(float64(b.N-excluded), 0))
	}
	if excluded == 0 {
		return ParamOf(b.Sym)
	}
	return AddOf(ParamOf(b.Sym), NumOf(complex(float64(-excluded), 0)))
}

// resolveDelta looks for δ(idx, r) inside a product body and collapses
// the sum by substituting idx := r.
func resolveDelta(body Scalar, idx *hilbert.Index, excl []Pair) (Scalar, bool) {
	var factors []Scalar
	switch v := body.(type) {
	case *Delta:
		factors = []Scalar{v}
	case *Mul:
		factors = v.factors
	default:
		return nil, false
	}
	for i, f := range factors {
		d, ok := f.(*Delta)
		if !ok {
			continue
		}
		var other hilbert.Ref
		switch {
		case refIsIdx(d.a, idx):
			other = d.b
		case refIsIdx(d.b, idx):
			other = d.a
		default:
			continue
		}
		// An excluded pairing forces the delta to zero.
		for _, p := range excl {
			target := Pair{A: hilbert.SymRef(idx), B: other}
			if p.Key() == target.Key() {
				return zero, true
			}
		}
		rem := make([]Scalar, 0, len(factors)-1)
		rem = append(rem, factors[:i]...)
		rem = append(rem, factors[i+1:]...)
		sub := Subst{idx.Name: other}
		out := MulOf(rem...).Subst(sub)
		return out, true
	}
	return nil, false
}

func isZero(s Scalar) bool {
	n, ok := s.(*Num)
	return ok && n.v == 0
}

func (s *Sum) Body() Scalar          { return s.body }
func (s *Sum) Index() *hilbert.Index { return s.idx }
func (s *Sum) Exclusions() []Pair    { return s.excl }

func (s *Sum) Key() string {
	parts := make([]string, len(s.excl))
	for i, p := range s.excl {
		parts[i] = p.Key()
	}
	return "(sum " + s.idx.Name + ":" + s.idx.Bound.String() + "{" + strings.Join(parts, ";") + "} " + s.body.Key() + ")"
}

func (s *Sum) String() string {
	c := ""
	for _, p := range s.excl {
		c += " " + p.A.String() + "!=" + p.B.String()
	}
	return "sum_" + s.idx.Name + "[1.." + s.idx.Bound.String() + c + "](" + s.body.String() + ")"
}

func (s *Sum) Subst(m Subst) Scalar {
	// The bound index is not substituted.
	inner := Subst{}
	for k, v := range m {
		if k != s.idx.Name {
			inner[k] = v
		}
	}
	ne := make([]Pair, len(s.excl))
	for i, p := range s.excl {
		ne[i] = p.subst(inner)
	}
	return SumOf(s.body.Subst(inner), s.idx, ne...)
}

func (s *Sum) Conj() Scalar {
	return SumOf(s.body.Conj(), s.idx, s.excl...)
}

func (s *Sum) Eval(env *Env) (complex128, error) {
	n, err := env.bound(s.idx.Bound)
	if err != nil {
		return 0, err
	}
	var acc complex128
	for v := 1; v <= n; v++ {
		if s.excludedValue(v) {
			continue
		}
		term := s.body.Subst(Subst{s.idx.Name: hilbert.LitRef(v)})
		tv, err := term.Eval(env)
		if err != nil {
			return 0, err
		}
		acc += tv
	}
	return acc, nil
}

func (s *Sum) excludedValue(v int) bool {
	for _, p := range s.excl {
		other := p.A
		if refIsIdx(p.A, s.idx) {
			other = p.B
		} else if !refIsIdx(p.B, s.idx) {
			continue
		}
		if other.Literal() && other.Val == v {
			return true
		}
	}
	return false
}

// Materialize expands a sum with a resolvable bound into an explicit
// scalar sum of substituted bodies, honoring exclusions against
// literal references.
func (s *Sum) Materialize(bounds map[string]int) (Scalar, error) {
	n := s.idx.Bound.N
	if n == 0 {
		var ok bool
		n, ok = bounds[s.idx.Bound.Sym]
		if !ok {
			return nil, fmt.Errorf("qalg: cannot materialize sum over %s, bound %s unknown", s.idx.Name, s.idx.Bound.String())
		}
	}
	terms := make([]Scalar, 0, n)
	for v := 1; v <= n; v++ {
		if s.excludedValue(v) {
			continue
		}
		terms = append(terms, s.body.Subst(Subst{s.idx.Name: hilbert.LitRef(v)}))
	}
	return AddOf(terms...), nil
}

// UsesIndex reports whether the expression references the named index.
func UsesIndex(s Scalar, name string) bool {
	switch v := s.(type) {
	case *Num:
		return false
	case *Param:
		for _, r := range v.refs {
			if r.Idx != nil && r.Idx.Name == name {
				return true
			}
		}
		return false
	case *Delta:
		return (v.a.Idx != nil && v.a.Idx.Name == name) || (v.b.Idx != nil && v.b.Idx.Name == name)
	case *Add:
		for _, t := range v.terms {
			if UsesIndex(t, name) {
				return true
			}
		}
		return false
	case *Mul:
		for _, f := range v.factors {
			if UsesIndex(f, name) {
				return true
			}
		}
		return false
	case *Sum:
		if v.idx.Name == name {
			return false // shadowed
		}
		for _, p := range v.excl {
			if (p.A.Idx != nil && p.A.Idx.Name == name) || (p.B.Idx != nil && p.B.Idx.Name == name) {
				return true
			}
		}
		return UsesIndex(v.body, name)
	case *Average:
		return v.usesIndex(name)
	}
	return false
}

// WalkAverages visits every average atom in the expression.
func WalkAverages(s Scalar, fn func(*Average)) {
	switch v := s.(type) {
	case *Add:
		for _, t := range v.terms {
			WalkAverages(t, fn)
		}
	case *Mul:
		for _, f := range v.factors {
			WalkAverages(f, fn)
		}
	case *Sum:
		WalkAverages(v.body, fn)
	case *Average:
		fn(v)
	}
}

// WalkParams visits every parameter atom in the expression.
func WalkParams(s Scalar, fn func(*Param)) {
	switch v := s.(type) {
	case *Add:
		for _, t := range v.terms {
			WalkParams(t, fn)
		}
	case *Mul:
		for _, f := range v.factors {
			WalkParams(f, fn)
		}
	case *Sum:
		WalkParams(v.body, fn)
	case *Param:
		fn(v)
	}
}

// MapAverages rebuilds the expression with every average atom passed
// through fn. Returning nil keeps the atom unchanged.
func MapAverages(s Scalar, fn func(*Average) Scalar) Scalar {
	switch v := s.(type) {
	case *Add:
		nt := make([]Scalar, len(v.terms))
		for i, t := range v.terms {
			nt[i] = MapAverages(t, fn)
		}
		return AddOf(nt...)
	case *Mul:
		nf := make([]Scalar, len(v.factors))
		for i, f := range v.factors {
			nf[i] = MapAverages(f, fn)
		}
		return MulOf(nf...)
	case *Sum:
		return SumOf(MapAverages(v.body, fn), v.idx, v.excl...)
	case *Average:
		if r := fn(v); r != nil {
			return r
		}
		return v
	}
	return s
}
