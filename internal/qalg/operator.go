package qalg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/san-kum/qmoment/internal/hilbert"
)

// ErrInvalidOperator reports an operator constructed with out-of-range
// transition levels or on an unsuitable subsystem space.
var ErrInvalidOperator = errors.New("qalg: invalid operator")

// OpKind discriminates the elementary operator variants. The set is
// closed; algebra rules are exhaustive over it.
type OpKind int

const (
	// Create is the bosonic raising operator a†.
	Create OpKind = iota
	// Destroy is the bosonic lowering operator a.
	Destroy
	// Transition is σ(a,b) = |a⟩⟨b| on an N-level space.
	Transition
)

// Elem is one elementary operator. Operators on indexed spaces carry a
// replica reference; frozen operators belong to the time-0 factor of a
// two-time correlation and commute with everything unfrozen.
type Elem struct {
	Kind     OpKind
	Space    *hilbert.Space
	From, To int // transition levels, unused for ladder operators
	Ref      hilbert.Ref
	Frozen   bool
}

// NewCreate builds a† on a bosonic mode.
func NewCreate(sp *hilbert.Space) (Elem, error) {
	if sp.Kind != hilbert.Fock {
		return Elem{}, fmt.Errorf("%w: ladder operator on non-bosonic space %q", ErrInvalidOperator, sp.Name)
	}
	return Elem{Kind: Create, Space: sp}, nil
}

// NewDestroy builds a on a bosonic mode.
func NewDestroy(sp *hilbert.Space) (Elem, error) {
	e, err := NewCreate(sp)
	if err != nil {
		return Elem{}, err
	}
	e.Kind = Destroy
	return e, nil
}

// NewTransition builds σ(from,to) on an N-level space.
func NewTransition(sp *hilbert.Space, from, to int) (Elem, error) {
	if sp.Kind != hilbert.NLevel {
		return Elem{}, fmt.Errorf("%w: transition on non-N-level space %q", ErrInvalidOperator, sp.Name)
	}
	if !sp.ValidLevel(from) || !sp.ValidLevel(to) {
		return Elem{}, fmt.Errorf("%w: levels (%d,%d) outside 1..%d on space %q",
			ErrInvalidOperator, from, to, sp.Levels, sp.Name)
	}
	if sp.Indexed {
		return Elem{}, fmt.Errorf("%w: space %q is indexed, transition needs a replica reference", ErrInvalidOperator, sp.Name)
	}
	return Elem{Kind: Transition, Space: sp, From: from, To: to}, nil
}

// NewTransitionRef builds σ(from,to) on one replica of an indexed
// N-level space.
func NewTransitionRef(sp *hilbert.Space, from, to int, ref hilbert.Ref) (Elem, error) {
	if !sp.Indexed {
		return Elem{}, fmt.Errorf("%w: space %q is not indexed", ErrInvalidOperator, sp.Name)
	}
	if sp.Kind != hilbert.NLevel || !sp.ValidLevel(from) || !sp.ValidLevel(to) {
		return Elem{}, fmt.Errorf("%w: levels (%d,%d) outside 1..%d on space %q",
			ErrInvalidOperator, from, to, sp.Levels, sp.Name)
	}
	if ref.Idx != nil && ref.Idx.Space != sp {
		return Elem{}, fmt.Errorf("%w: index %q ranges over %q, not %q",
			ErrInvalidOperator, ref.Idx.Name, ref.Idx.Space.Name, sp.Name)
	}
	return Elem{Kind: Transition, Space: sp, From: from, To: to, Ref: ref}, nil
}

// Dagger is the Hermitian adjoint of a single elementary operator.
func (e Elem) Dagger() Elem {
	switch e.Kind {
	case Create:
		e.Kind = Destroy
	case Destroy:
		e.Kind = Create
	case Transition:
		e.From, e.To = e.To, e.From
	}
	return e
}

// Indexed reports whether the operator addresses a replica.
func (e Elem) Indexed() bool { return e.Space.Indexed }

// SameSite reports whether two operators act on the same subsystem
// replica and time slot, so composition rules apply.
func (e Elem) SameSite(o Elem) bool {
	return e.Space == o.Space && e.Frozen == o.Frozen && (!e.Indexed() || e.Ref.Same(o.Ref))
}

func kindRank(k OpKind) int {
	switch k {
	case Create:
		return 0
	case Transition:
		return 1
	default:
		return 2
	}
}

// sortKey orders elementary operators canonically: unfrozen before
// frozen, then subsystem precedence, then replica, then creation
// before annihilation.
func (e Elem) sortKey() string {
	frozen := "0"
	if e.Frozen {
		frozen = "1"
	}
	return frozen + "|" + fmt.Sprintf("%04d", e.Space.Order()) + "|" + e.Ref.Key() + "|" + strconv.Itoa(kindRank(e.Kind))
}

// IdentityKey identifies the operator structurally.
func (e Elem) IdentityKey() string {
	var b strings.Builder
	if e.Frozen {
		b.WriteString("~")
	}
	b.WriteString(e.Space.Name)
	if e.Indexed() {
		b.WriteString("[" + e.Ref.Key() + "]")
	}
	switch e.Kind {
	case Create:
		b.WriteString("'")
	case Transition:
		b.WriteString(fmt.Sprintf("(%d,%d)", e.From, e.To))
	}
	return b.String()
}

func (e Elem) String() string {
	name := e.Space.Name
	switch e.Kind {
	case Create:
		name += "'"
	case Transition:
		name = fmt.Sprintf("%s%d%d", e.Space.Name, e.From, e.To)
	}
	if e.Indexed() {
		name += "_" + e.Ref.String()
	}
	if e.Frozen {
		name += "°"
	}
	return name
}

// subst rewrites the replica reference of an indexed operator.
func (e Elem) subst(m Subst) Elem {
	if e.Indexed() {
		e.Ref = substRef(e.Ref, m)
	}
	return e
}
