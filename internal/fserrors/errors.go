// Package fserrors classifies the failure kinds from spec §7 (path,
// resource, protocol, evaluation, callback) and tracks the process-wide
// error count the exit code is derived from, grounded on the teacher's
// fs/fserrors package (referenced by fs/walk/walk_test.go as
// fserrors.FsError / fserrors.Count / fserrors.NoRetryError).
package fserrors

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// Kind classifies a failure per spec §7.
type Kind int

const (
	// KindPath is a stat/open/readdir failure on a specific entry.
	KindPath Kind = iota
	// KindResource is descriptor exhaustion or allocation failure.
	KindResource
	// KindProtocol is an invalid format specifier, mode string, or integer.
	KindProtocol
	// KindEvaluation is a regex execution failure during evaluation.
	KindEvaluation
	// KindCallback is an invalid callback return value.
	KindCallback
)

func (k Kind) String() string {
	switch k {
	case KindPath:
		return "path error"
	case KindResource:
		return "resource error"
	case KindProtocol:
		return "protocol error"
	case KindEvaluation:
		return "evaluation error"
	case KindCallback:
		return "callback error"
	default:
		return "error"
	}
}

// Error wraps an underlying cause with its Kind.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.cause.Error() }

// Unwrap lets errors.Is/As see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// New classifies err as Kind, wrapping it with pkg/errors for stack
// context, and bumps the global error counter used for the exit code.
func New(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	wrapped := &Error{Kind: kind, cause: errors.WithStack(err)}
	Count(wrapped)
	return wrapped
}

// retryMark marks an error as not worth retrying; EMFILE-and-give-up,
// or a corrupted format string, are never transient.
type retryMark struct{ error }

func (r retryMark) Unwrap() error { return r.error }

// NoRetryError marks err as one the walker should not attempt again.
func NoRetryError(err error) error {
	if err == nil {
		return nil
	}
	return retryMark{err}
}

// IsNoRetry reports whether err (or something it wraps) was marked via
// NoRetryError.
func IsNoRetry(err error) bool {
	var r retryMark
	return errors.As(err, &r)
}

var errorCount int64

// Count increments the global error counter; a non-zero counter forces a
// non-zero process exit code per spec §6.
func Count(err error) {
	if err != nil {
		atomic.AddInt64(&errorCount, 1)
	}
}

// Total returns the number of errors counted so far.
func Total() int64 {
	return atomic.LoadInt64(&errorCount)
}

// ExitCode implements spec §6: 0 on success, non-zero if any error was
// recorded.
func ExitCode() int {
	if Total() > 0 {
		return 1
	}
	return 0
}
