// Package errors provides the error kinds surfaced by the parallel task
// execution engine.
package errors

import (
	goerrors "errors"
	"fmt"
)

// Kind identifies one of the error kinds the engine can surface.
type Kind string

const (
	KindSerializeFailed          Kind = "SERIALIZE_FAILED"
	KindSpawnFailed               Kind = "SPAWN_FAILED"
	KindWorkerMissing             Kind = "WORKER_MISSING"
	KindPayloadTooLarge           Kind = "PAYLOAD_TOO_LARGE"
	KindNestingExceeded           Kind = "NESTING_EXCEEDED"
	KindRateLimited               Kind = "RATE_LIMITED"
	KindTaskFailed                Kind = "TASK_FAILED"
	KindTaskTimedOut              Kind = "TASK_TIMED_OUT"
	KindPoolTimedOut              Kind = "POOL_TIMED_OUT"
	KindPoolCancelled             Kind = "POOL_CANCELLED"
	KindCancelled                 Kind = "CANCELLED"
	KindStreamEndedUnexpectedly   Kind = "STREAM_ENDED_UNEXPECTEDLY"
	KindCorruptedStatus           Kind = "CORRUPTED_STATUS"
)

// Error is the single error type used across the engine. Every error kind
// in §7 of the spec is represented as one of these, distinguished by Kind
// rather than by Go type, so callers compare with Is against the sentinel
// values below instead of string-matching messages.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so sentinel
// values below work with errors.Is/errors.As without exposing Kind
// comparisons at every call site.
func (e *Error) Is(target error) bool {
	var other *Error
	if !goerrors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// New builds an *Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Sentinels usable with errors.Is(err, ErrNestingExceeded) and friends; the
// Message/Err fields are ignored by Is, only Kind is compared.
var (
	ErrSerializeFailed        = &Error{Kind: KindSerializeFailed}
	ErrSpawnFailed            = &Error{Kind: KindSpawnFailed}
	ErrWorkerMissing          = &Error{Kind: KindWorkerMissing}
	ErrPayloadTooLarge        = &Error{Kind: KindPayloadTooLarge}
	ErrNestingExceeded        = &Error{Kind: KindNestingExceeded}
	ErrRateLimited            = &Error{Kind: KindRateLimited}
	ErrTaskFailed             = &Error{Kind: KindTaskFailed}
	ErrTaskTimedOut           = &Error{Kind: KindTaskTimedOut}
	ErrPoolTimedOut           = &Error{Kind: KindPoolTimedOut}
	ErrPoolCancelled          = &Error{Kind: KindPoolCancelled}
	ErrCancelled              = &Error{Kind: KindCancelled}
	ErrStreamEndedUnexpectedly = &Error{Kind: KindStreamEndedUnexpectedly}
	ErrCorruptedStatus        = &Error{Kind: KindCorruptedStatus}
)

// Is reports whether err carries the given kind, at any depth of wrapping.
func Is(err error, kind Kind) bool {
	var e *Error
	if !goerrors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind of err, or "" if err is not (and does not wrap)
// an *Error.
func KindOf(err error) Kind {
	var e *Error
	if !goerrors.As(err, &e) {
		return ""
	}
	return e.Kind
}
