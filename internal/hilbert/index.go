package hilbert

import (
	"fmt"
	"strconv"
)

// Bound is the upper limit of an index range [1..Bound]. It is either a
// concrete size (N > 0) or a named symbolic size.
type Bound struct {
	N   int
	Sym string
}

// NumBound is a concrete range size.
func NumBound(n int) Bound { return Bound{N: n} }

// SymBound is a symbolic range size resolved at evaluation time.
func SymBound(name string) Bound { return Bound{Sym: name} }

// Concrete reports whether the bound is a known integer.
func (b Bound) Concrete() bool { return b.N > 0 }

func (b Bound) String() string {
	if b.Concrete() {
		return strconv.Itoa(b.N)
	}
	return b.Sym
}

// Index is a symbol ranging over the replicas of an indexed space.
// Within one equation-generation call every index name is bound to
// exactly one (space, bound) pair.
type Index struct {
	Name      string
	Space     *Space
	Bound     Bound
	Identical bool // replicas are interchangeable (enables scaling)
}

// NewIndex declares an index over an indexed space.
func NewIndex(name string, space *Space, bound Bound) (*Index, error) {
	if space == nil || !space.Indexed {
		return nil, fmt.Errorf("hilbert: index %q must range over an indexed space", name)
	}
	return &Index{Name: name, Space: space, Bound: bound}, nil
}

// NewIdenticalIndex declares an index over interchangeable replicas,
// which permits symmetry scaling of the resulting equations.
func NewIdenticalIndex(name string, space *Space, bound Bound) (*Index, error) {
	ix, err := NewIndex(name, space, bound)
	if err != nil {
		return nil, err
	}
	ix.Identical = true
	return ix, nil
}

// Ref points an elementary operator or parameter at one replica: either
// a symbolic index or a literal value in [1..bound].
type Ref struct {
	Idx *Index // nil when literal
	Val int    // literal replica number, 0 when symbolic
}

// SymRef references a replica through a symbolic index.
func SymRef(ix *Index) Ref { return Ref{Idx: ix} }

// LitRef references a concrete replica.
func LitRef(v int) Ref { return Ref{Val: v} }

// Literal reports whether the reference is a concrete replica number.
func (r Ref) Literal() bool { return r.Idx == nil }

// Same reports structural identity of two references.
func (r Ref) Same(o Ref) bool {
	if r.Literal() != o.Literal() {
		return false
	}
	if r.Literal() {
		return r.Val == o.Val
	}
	return r.Idx.Name == o.Idx.Name
}

// Key is a deterministic sort/identity key. Literals order before
// symbolic references.
func (r Ref) Key() string {
	if r.Literal() {
		return fmt.Sprintf("0%06d", r.Val)
	}
	return "1" + r.Idx.Name
}

func (r Ref) String() string {
	if r.Literal() {
		return strconv.Itoa(r.Val)
	}
	return r.Idx.Name
}
