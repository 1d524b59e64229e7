package moment

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/san-kum/qmoment/internal/hilbert"
	"github.com/san-kum/qmoment/internal/qalg"
)

// repPool assigns canonical index names per indexed space so that
// averages differing only in symbolic index labels share one equation.
// Names learned from left-hand sides take precedence; extra positions
// get generated names.
type repPool struct {
	reps map[string][]*hilbert.Index
}

func emptyRepPool() *repPool {
	return &repPool{reps: map[string][]*hilbert.Index{}}
}

// newRepPool seeds the pool from the free indices of existing
// left-hand sides.
func newRepPool(eqs []*Equation) *repPool {
	p := emptyRepPool()
	for _, e := range eqs {
		p.learn(e.LHS.Ops())
	}
	return p
}

// learn records symbolic indices in first-appearance order per space.
func (p *repPool) learn(ops []qalg.Elem) {
	seen := map[string]bool{}
	count := map[string]int{}
	for _, o := range ops {
		if !o.Indexed() || o.Ref.Literal() {
			continue
		}
		sp := o.Space.Name
		if seen[o.Ref.Idx.Name] {
			continue
		}
		seen[o.Ref.Idx.Name] = true
		pos := count[sp]
		count[sp]++
		if pos >= len(p.reps[sp]) {
			p.reps[sp] = append(p.reps[sp], o.Ref.Idx)
		}
	}
}

// rep returns the canonical index for position pos on a space,
// extending the pool with a generated name when needed.
func (p *repPool) rep(space string, pos int, like *hilbert.Index) *hilbert.Index {
	for pos >= len(p.reps[space]) {
		n := len(p.reps[space])
		name := "i" + strconv.Itoa(n+1)
		if n > 0 {
			name = p.reps[space][0].Name + strconv.Itoa(n+1)
		}
		ix := *like
		ix.Name = name
		p.reps[space] = append(p.reps[space], &ix)
	}
	return p.reps[space][pos]
}

// canonicalize renames the symbolic free indices of an operator
// product onto the pool representatives, in first-appearance order of
// the product's representative orientation. It returns the renamed
// product, the substitution used, and the canonical average key.
func (p *repPool) canonicalize(ops []qalg.Elem) ([]qalg.Elem, qalg.Subst, string) {
	atom, ok := qalg.AverageOf(ops).(*qalg.Average)
	if !ok {
		return nil, nil, ""
	}
	rep := atom.Ops()

	sub := qalg.Subst{}
	count := map[string]int{}
	assigned := map[string]bool{}
	for _, o := range rep {
		if !o.Indexed() || o.Ref.Literal() || assigned[o.Ref.Idx.Name] {
			continue
		}
		assigned[o.Ref.Idx.Name] = true
		sp := o.Space.Name
		r := p.rep(sp, count[sp], o.Ref.Idx)
		count[sp]++
		if r.Name != o.Ref.Idx.Name {
			sub[o.Ref.Idx.Name] = hilbert.SymRef(r)
		}
	}
	if len(sub) == 0 {
		return rep, sub, atom.RepKey()
	}

	renamed, _ := atom.Subst(sub).(*qalg.Average)
	if renamed == nil {
		// Renaming free labels injectively cannot change the algebra.
		return rep, sub, atom.RepKey()
	}
	return renamed.Ops(), sub, renamed.RepKey()
}

// exclFor builds the pairwise-distinct constraints implied by a
// multi-index product: two different symbolic labels on the same
// space denote different replicas.
func exclFor(ops []qalg.Elem) []qalg.Pair {
	bySpace := map[string][]hilbert.Ref{}
	seen := map[string]bool{}
	for _, o := range ops {
		if !o.Indexed() || o.Ref.Literal() || seen[o.Ref.Idx.Name] {
			continue
		}
		seen[o.Ref.Idx.Name] = true
		bySpace[o.Space.Name] = append(bySpace[o.Space.Name], o.Ref)
	}
	var out []qalg.Pair
	for _, refs := range bySpace {
		for i := 0; i < len(refs); i++ {
			for j := i + 1; j < len(refs); j++ {
				out = append(out, qalg.Pair{A: refs[i], B: refs[j]})
			}
		}
	}
	return out
}

func allFrozenOps(ops []qalg.Elem) bool {
	for _, o := range ops {
		if !o.Frozen {
			return false
		}
	}
	return len(ops) > 0
}

// Options tunes the closure scan.
type Options struct {
	// Filter decides whether an average becomes a state variable.
	// Rejected averages are set to zero everywhere. A nil filter
	// accepts everything.
	Filter func(*qalg.Average) bool
	// MaxScans bounds the breadth-first scans before giving up
	// (default 1000).
	MaxScans int
	// Known marks average keys supplied externally, for which no
	// equation is derived.
	Known map[string]bool
	// Log receives per-scan progress at debug level.
	Log *zerolog.Logger
}

// Close derives equations for the seed averages and, transitively, for
// every average their right-hand sides reference, until the system is
// closed under the cumulant truncation.
func Close(gen *Generator, seeds []qalg.Term, opts Options) (*System, error) {
	maxScans := opts.MaxScans
	if maxScans <= 0 {
		maxScans = 1000
	}
	logger := zerolog.Nop()
	if opts.Log != nil {
		logger = *opts.Log
	}

	sys := &System{
		Order:   gen.Order,
		Dropped: map[string]bool{},
		Known:   map[string]bool{},
		gen:     gen,
	}
	for k := range opts.Known {
		sys.Known[k] = true
	}

	type pending struct {
		ops  []qalg.Elem
		excl []qalg.Pair
	}
	pool := emptyRepPool()
	known := map[string]bool{}
	queued := map[string]bool{}
	var queue []pending

	for _, s := range seeds {
		if len(s.Ops) == 0 {
			return nil, ErrBadTarget
		}
		atom, ok := qalg.AverageOf(s.Ops).(*qalg.Average)
		if !ok {
			return nil, ErrBadTarget
		}
		pool.learn(atom.Ops())
	}
	for _, s := range seeds {
		atom := qalg.AverageOf(s.Ops).(*qalg.Average)
		cOps, _, key := pool.canonicalize(atom.Ops())
		if opts.Filter != nil && !opts.Filter(atom) {
			return nil, fmt.Errorf("%w: seed %s", ErrInconsistentFilter, key)
		}
		if queued[key] || sys.Known[key] {
			continue
		}
		queued[key] = true
		excl := append(exclFor(cOps), s.Excl...)
		queue = append(queue, pending{ops: cOps, excl: excl})
	}

	scans := 0
	for len(queue) > 0 {
		if scans >= maxScans {
			pend := make([]string, 0, len(queue))
			for _, t := range queue {
				_, _, key := pool.canonicalize(t.ops)
				pend = append(pend, key)
			}
			return nil, &ClosureError{Pending: pend, Scans: scans, Wrapped: ErrNonClosure}
		}
		scans++

		// Targets in one scan are independent; derive them in parallel
		// and merge in queue order so the result stays deterministic.
		eqs := make([]*Equation, len(queue))
		errs := make([]error, len(queue))
		sem := make(chan struct{}, runtime.GOMAXPROCS(0))
		var wg sync.WaitGroup
		for i, tgt := range queue {
			wg.Add(1)
			go func(i int, tgt pending) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				eqs[i], errs[i] = gen.Derive(qalg.Term{Ops: tgt.ops, Excl: tgt.excl})
			}(i, tgt)
		}
		wg.Wait()

		var next []pending
		for i := range queue {
			if errs[i] != nil {
				return nil, errs[i]
			}
			eq := eqs[i]
			sys.Eqs = append(sys.Eqs, eq)
			known[eq.LHS.RepKey()] = true

			qalg.WalkAverages(eq.RHS, func(a *qalg.Average) {
				if allFrozenOps(a.Ops()) {
					return
				}
				cOps, _, key := pool.canonicalize(a.Ops())
				if known[key] || queued[key] || sys.Known[key] || sys.Dropped[key] {
					return
				}
				if opts.Filter != nil && !opts.Filter(a) {
					sys.Dropped[key] = true
					return
				}
				queued[key] = true
				next = append(next, pending{ops: cOps, excl: exclFor(cOps)})
			})
		}
		logger.Debug().
			Int("scan", scans).
			Int("equations", len(sys.Eqs)).
			Int("pending", len(next)).
			Msg("closure scan")
		queue = next
	}

	if len(sys.Dropped) > 0 {
		for _, e := range sys.Eqs {
			e.RHS = qalg.MapAverages(e.RHS, func(a *qalg.Average) qalg.Scalar {
				_, _, key := pool.canonicalize(a.Ops())
				if sys.Dropped[key] {
					return qalg.NumOf(0)
				}
				return a
			})
		}
	}

	if un := sys.Unclosed(); len(un) > 0 {
		return nil, &ClosureError{Pending: un, Scans: scans, Wrapped: ErrInconsistentFilter}
	}

	logger.Info().
		Int("equations", len(sys.Eqs)).
		Int("dropped", len(sys.Dropped)).
		Int("scans", scans).
		Msg("system closed")
	return sys, nil
}

// Canonicalizer maps average atoms onto the representative index names
// of an existing system, so rewrites stay within its state variables.
type Canonicalizer struct {
	pool *repPool
}

// NewCanonicalizer learns the representative names from the system's
// left-hand sides.
func NewCanonicalizer(sys *System) *Canonicalizer {
	return &Canonicalizer{pool: newRepPool(sys.Eqs)}
}

// Key is the canonical average key for an operator product.
func (c *Canonicalizer) Key(ops []qalg.Elem) string {
	_, _, key := c.pool.canonicalize(ops)
	return key
}

// Rewrite renames an atom's free indices onto the representatives,
// preserving conjugation.
func (c *Canonicalizer) Rewrite(a *qalg.Average) qalg.Scalar {
	_, sub, _ := c.pool.canonicalize(a.Ops())
	if len(sub) == 0 {
		return a
	}
	return a.Subst(sub)
}

// U1Filter keeps averages whose net excitation charge vanishes:
// annihilators count +1, creators -1, and a transition counts its
// level change. Under a Hamiltonian that conserves total excitation
// number the discarded averages stay zero for vacuum-adjacent initial
// states, so the filter is consistent.
func U1Filter() func(*qalg.Average) bool {
	return func(a *qalg.Average) bool {
		c := 0
		for _, o := range a.Ops() {
			switch o.Kind {
			case qalg.Destroy:
				c++
			case qalg.Create:
				c--
			case qalg.Transition:
				c += o.To - o.From
			}
		}
		return c == 0
	}
}
