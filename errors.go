package chainbase

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Precondition and contention errors, reported to the caller without
// any state change (spec.md §7).
var (
	ErrNotFound          = errors.New("chainbase: not found")
	ErrUniquenessViolation = errors.New("chainbase: uniqueness violation")
	ErrDuplicateType     = errors.New("chainbase: type already registered")
	ErrUnknownType       = errors.New("chainbase: unknown type")
	ErrLockTimeout       = errors.New("chainbase: lock acquisition timed out")
	ErrOpenFailed        = errors.New("chainbase: open failed")
	ErrResizeBlocked     = errors.New("chainbase: resize blocked while sessions are open")
	ErrEngineClosed      = errors.New("chainbase: engine is closed")
)

// InvariantError marks the class of failure that leaves the engine
// non-operational: reversal corruption, environment mismatch, or a
// fatal backing-store error encountered mid-operation (spec.md §7).
// Once raised, only Close and Wipe remain valid on the Engine that
// produced it. Wrapped with github.com/pkg/errors (rather than
// fmt.Errorf's %w) to carry a stack trace to the log line that reports
// it, matching the wrapping style RuiFG-streaming uses throughout its
// pack for the same class of "this should never happen" error.
type InvariantError struct {
	Op    string
	cause error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("chainbase: invariant violation during %s: %v", e.Op, e.cause)
}

func (e *InvariantError) Unwrap() error { return e.cause }

// NewInvariantError wraps cause as a fatal, engine-disabling error
// occurring during op.
func NewInvariantError(op string, cause error) *InvariantError {
	return &InvariantError{Op: op, cause: pkgerrors.WithStack(cause)}
}

// IsInvariantViolation reports whether err (or something it wraps) is an
// InvariantError.
func IsInvariantViolation(err error) bool {
	var invErr *InvariantError
	return errors.As(err, &invErr)
}
