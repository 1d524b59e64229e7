package hilbert

import "fmt"

// Kind discriminates the supported subsystem space types.
type Kind int

const (
	// Fock is a single bosonic mode with ladder operators a, a†.
	Fock Kind = iota
	// NLevel is a finite N-level space with transition operators σ(a,b).
	NLevel
)

// Space is one subsystem of a composite Hilbert space. Spaces are
// immutable once declared; the order field fixes the canonical
// operator ordering across subsystems.
type Space struct {
	Name    string
	Kind    Kind
	Levels  int // number of levels for NLevel spaces, 0 for Fock
	Indexed bool
	order   int
}

// Product is a composite of independent subsystem spaces.
type Product struct {
	spaces []*Space
}

// NewProduct declares a composite space. Subsystem precedence for
// canonical operator ordering follows declaration order.
func NewProduct() *Product {
	return &Product{}
}

// AddFock declares one bosonic mode.
func (p *Product) AddFock(name string) *Space {
	s := &Space{Name: name, Kind: Fock, order: len(p.spaces)}
	p.spaces = append(p.spaces, s)
	return s
}

// AddNLevel declares an N-level space with levels numbered 1..levels.
// Level 1 is the ground state used for projector elimination.
func (p *Product) AddNLevel(name string, levels int) (*Space, error) {
	if levels < 2 {
		return nil, fmt.Errorf("hilbert: space %q needs at least 2 levels, got %d", name, levels)
	}
	s := &Space{Name: name, Kind: NLevel, Levels: levels, order: len(p.spaces)}
	p.spaces = append(p.spaces, s)
	return s, nil
}

// AddIndexedNLevel declares an N-level space replicated over an index
// range. Operators on it carry an index referring to one replica.
func (p *Product) AddIndexedNLevel(name string, levels int) (*Space, error) {
	s, err := p.AddNLevel(name, levels)
	if err != nil {
		return nil, err
	}
	s.Indexed = true
	return s, nil
}

// Spaces returns the declared subsystems in precedence order.
func (p *Product) Spaces() []*Space { return p.spaces }

// Order reports the subsystem precedence of s.
func (s *Space) Order() int { return s.order }

// ValidLevel reports whether level l exists on an N-level space.
func (s *Space) ValidLevel(l int) bool {
	return s.Kind == NLevel && l >= 1 && l <= s.Levels
}
