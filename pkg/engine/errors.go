package engine

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an Error for callers that want to branch on failure
// category without string-matching a message.
type Kind int

const (
	// KindValidation covers malformed input: empty query, k out of
	// range, an unknown filter field, a dimension mismatch.
	KindValidation Kind = iota
	// KindEmbedding covers an embedder call that errored or returned a
	// malformed matrix.
	KindEmbedding
	// KindNotReady covers a query issued before any build or load
	// completed.
	KindNotReady
	// KindIO covers a snapshot read/write failure.
	KindIO
	// KindCancelled covers an explicit cancellation.
	KindCancelled
	// KindTimeout covers a deadline exceeded mid-operation.
	KindTimeout
	// KindInternal covers an unanticipated invariant violation.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindEmbedding:
		return "embedding"
	case KindNotReady:
		return "not_ready"
	case KindIO:
		return "io"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the engine's error type: every failure surfaced across the
// package boundary carries a Kind so callers can decide whether to
// retry, fail the request, or page an operator.
type Error struct {
	Kind       Kind
	Message    string
	Generation uint64
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindInternal {
		return fmt.Sprintf("engine: %s (generation %d): %s", e.Kind, e.Generation, e.Message)
	}
	return fmt.Sprintf("engine: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string, wrapped error) *Error {
	return &Error{Kind: kind, Message: msg, Err: wrapped}
}

func validationErrorf(format string, args ...any) *Error {
	return newError(KindValidation, fmt.Sprintf(format, args...), nil)
}

func notReadyError(msg string) *Error {
	return newError(KindNotReady, msg, nil)
}

func embeddingError(err error) *Error {
	return newError(KindEmbedding, err.Error(), err)
}

func ioError(msg string, err error) *Error {
	return newError(KindIO, msg, err)
}

func cancelledError() *Error {
	return newError(KindCancelled, "operation cancelled", context.Canceled)
}

func timeoutError() *Error {
	return newError(KindTimeout, "operation exceeded its deadline", context.DeadlineExceeded)
}

func internalErrorf(generation uint64, format string, args ...any) *Error {
	e := newError(KindInternal, fmt.Sprintf(format, args...), nil)
	e.Generation = generation
	return e
}

// AsEngineError unwraps err to an *Error, if it is (or wraps) one.
func AsEngineError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
