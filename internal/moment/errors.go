package moment

import "errors"

// Domain errors for equation generation and closure.
var (
	// ErrIndexBinding indicates an index symbol bound to more than one
	// (space, bound) pair, or a target index already bound inside the
	// Hamiltonian or jump list.
	ErrIndexBinding = errors.New("moment: conflicting index binding")

	// ErrNonClosure indicates the closure scan ceiling was reached
	// before a fixed point.
	ErrNonClosure = errors.New("moment: closure did not reach a fixed point")

	// ErrInconsistentFilter indicates the filter predicate rejected an
	// average that surviving equations still reference.
	ErrInconsistentFilter = errors.New("moment: filter rejects a required average")

	// ErrBadTarget indicates a target that is not a single canonical
	// operator product.
	ErrBadTarget = errors.New("moment: target must be a single operator product")

	// ErrBadOrder indicates a truncation order below 1.
	ErrBadOrder = errors.New("moment: truncation order must be >= 1")
)

// ClosureError wraps a closure failure with the averages still
// pending when it occurred.
type ClosureError struct {
	Pending []string
	Scans   int
	Wrapped error
}

func (e *ClosureError) Error() string { return e.Wrapped.Error() }
func (e *ClosureError) Unwrap() error { return e.Wrapped }

// BindingError identifies the conflicting index symbol.
type BindingError struct {
	Name    string
	Wrapped error
}

func (e *BindingError) Error() string { return e.Wrapped.Error() + ": " + e.Name }
func (e *BindingError) Unwrap() error { return e.Wrapped }
