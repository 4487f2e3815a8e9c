package mem

import (
	"errors"
	"fmt"
)

// ErrKind classifies errors so callers can branch on intent rather than text.
type ErrKind int

const (
	// ErrKindOutOfMemory: the request exceeds configured maxima, no backing
	// memory is available under FlagNeverAllocate, or eviction could not
	// free enough budget.
	ErrKindOutOfMemory ErrKind = iota

	// ErrKindInvalidArgument: nil inputs, preferred > max, or an
	// unsupported resource shape.
	ErrKindInvalidArgument

	// ErrKindBudgetExceeded: eviction found no evictable candidates.
	// Translated to out-of-memory at the facade boundary.
	ErrKindBudgetExceeded

	// ErrKindBackend: pass-through failure from the driver backend.
	ErrKindBackend
)

// Error is a typed error with an optional underlying cause.
// errors.Is matches any two Errors of the same kind, so the exported
// sentinels below work as match targets for wrapped errors.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Kind == te.Kind
}

// Sentinels for errors.Is matching.
var (
	ErrOutOfMemory     = &Error{Kind: ErrKindOutOfMemory, Msg: "mem: out of memory"}
	ErrInvalidArgument = &Error{Kind: ErrKindInvalidArgument, Msg: "mem: invalid argument"}
	ErrBudgetExceeded  = &Error{Kind: ErrKindBudgetExceeded, Msg: "mem: budget exceeded"}
	ErrBackend         = &Error{Kind: ErrKindBackend, Msg: "mem: backend failure"}
)

// OutOfMemoryf builds an out-of-memory error.
func OutOfMemoryf(format string, args ...any) error {
	return &Error{Kind: ErrKindOutOfMemory, Msg: fmt.Sprintf(format, args...)}
}

// InvalidArgumentf builds an invalid-argument error.
func InvalidArgumentf(format string, args ...any) error {
	return &Error{Kind: ErrKindInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

// BudgetExceededf builds a budget-exceeded error.
func BudgetExceededf(format string, args ...any) error {
	return &Error{Kind: ErrKindBudgetExceeded, Msg: fmt.Sprintf(format, args...)}
}

// BackendError wraps a driver failure.
func BackendError(op string, err error) error {
	return &Error{Kind: ErrKindBackend, Msg: "mem: backend " + op + " failed", Err: err}
}

// IsOutOfMemory reports whether err is an out-of-memory error.
func IsOutOfMemory(err error) bool { return errors.Is(err, ErrOutOfMemory) }

// IsBudgetExceeded reports whether err is a budget-exceeded error.
func IsBudgetExceeded(err error) bool { return errors.Is(err, ErrBudgetExceeded) }
