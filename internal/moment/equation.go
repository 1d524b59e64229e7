package moment

import (
	"sort"
	"strings"

	"github.com/san-kum/qmoment/internal/qalg"
)

// Equation is d/dt⟨lhs⟩ = rhs, with rhs a scalar expression over other
// averages, parameters, and deferred index sums.
type Equation struct {
	LHS *qalg.Average
	RHS qalg.Scalar
}

func (e *Equation) String() string {
	return "d/dt " + e.LHS.String() + " = " + e.RHS.String()
}

// System is an ordered equation set. The left-hand averages are
// pairwise distinct; closure appends, it never rewrites.
type System struct {
	Eqs     []*Equation
	Order   int
	Dropped map[string]bool // averages zeroed by the closure filter
	Known   map[string]bool // averages supplied externally, no equation

	gen *Generator
}

// Generator returns the generator the system was derived with.
func (s *System) Generator() *Generator { return s.gen }

// Rewritten copies the system metadata over a transformed equation set.
func (s *System) Rewritten(eqs []*Equation) *System {
	return &System{
		Eqs:     eqs,
		Order:   s.Order,
		Dropped: s.Dropped,
		Known:   s.Known,
		gen:     s.gen,
	}
}

// Lookup finds the equation for a representative average key.
func (s *System) Lookup(key string) *Equation {
	for _, e := range s.Eqs {
		if e.LHS.RepKey() == key {
			return e
		}
	}
	return nil
}

// Keys lists the representative state-variable keys in order.
func (s *System) Keys() []string {
	out := make([]string, len(s.Eqs))
	for i, e := range s.Eqs {
		out[i] = e.LHS.RepKey()
	}
	return out
}

// Params lists the symbolic parameter names the right-hand sides
// reference, sorted.
func (s *System) Params() []string {
	seen := map[string]bool{}
	for _, e := range s.Eqs {
		qalg.WalkParams(e.RHS, func(p *qalg.Param) {
			seen[p.Name()] = true
		})
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Unclosed lists canonical average keys referenced by some rhs but
// absent from the left-hand sides (dropped averages excluded). An
// empty result means the system is closed.
func (s *System) Unclosed() []string {
	known := map[string]bool{}
	for _, e := range s.Eqs {
		known[e.LHS.RepKey()] = true
	}
	missing := map[string]bool{}
	pool := newRepPool(s.Eqs)
	for _, e := range s.Eqs {
		qalg.WalkAverages(e.RHS, func(a *qalg.Average) {
			if allFrozenOps(a.Ops()) {
				// Steady-state constants, resolved at evaluation time.
				return
			}
			_, _, key := pool.canonicalize(a.Ops())
			if !known[key] && !s.Dropped[key] && !s.Known[key] {
				missing[key] = true
			}
		})
	}
	out := make([]string, 0, len(missing))
	for k := range missing {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Closed reports whether every rhs average has an equation.
func (s *System) Closed() bool { return len(s.Unclosed()) == 0 }

func (s *System) String() string {
	var b strings.Builder
	for _, e := range s.Eqs {
		b.WriteString(e.String())
		b.WriteString("\n")
	}
	return b.String()
}
