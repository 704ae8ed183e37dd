// Package errkind classifies gateway failures so callers can choose between
// retrying on a later scan, skipping the input, or aborting the job.
//
// Import graph: errkind is a leaf package with no internal dependencies.
package errkind

import (
	"errors"
	"fmt"
)

// Kind identifies how a failure should be handled.
type Kind int

const (
	// Internal is an unclassified failure. Treated like Transient.
	Internal Kind = iota

	// Transient covers blob-store and queue network errors. The work item
	// keeps its prior state and is re-offered by the next scan.
	Transient

	// FatalToJob aborts the current send job. The worker reports the failure
	// description and moves to Completed.
	FatalToJob

	// MalformedInput is an external message that can never be processed.
	// It is logged and discarded.
	MalformedInput

	// Resource signals local exhaustion (disk space, association limit).
	// Surfaced to the peer as a protocol refusal, never a crash.
	Resource
)

// String returns a stable name for log fields and metric labels.
func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case FatalToJob:
		return "fatal_to_job"
	case MalformedInput:
		return "malformed_input"
	case Resource:
		return "resource"
	default:
		return "internal"
	}
}

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with kind and op. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transientf wraps err as Transient.
func Transientf(op string, err error) error {
	return New(Transient, op, err)
}

// Fatal wraps err as FatalToJob.
func Fatal(op string, err error) error {
	return New(FatalToJob, op, err)
}

// Malformed builds a MalformedInput error from a format string.
func Malformed(op, format string, args ...any) error {
	return &Error{Kind: MalformedInput, Op: op, Err: fmt.Errorf(format, args...)}
}

// Exhausted wraps err as Resource.
func Exhausted(op string, err error) error {
	return New(Resource, op, err)
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or Internal when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether a later pass may succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case Transient, Internal:
		return err != nil
	default:
		return false
	}
}
