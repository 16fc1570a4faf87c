// Package apperror defines the typed errors surfaced by the traceability core.
// Every failure carries a Kind so the HTTP layer and callers can decide whether
// to retry without parsing messages.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	KindNotFound Kind = "not_found"
	KindConflict Kind = "conflict"
	KindState    Kind = "state"
	KindArtifact Kind = "artifact"
	KindStorage  Kind = "storage"
	KindInvalid  Kind = "invalid"
	KindInternal Kind = "internal"
)

// FieldBatchCode marks conflicts caused by a batch code collision.
const FieldBatchCode = "batch_code"

// Error is the concrete error type returned by stores and services.
type Error struct {
	Kind  Kind
	Op    string
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so errors.Is(err, apperror.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotFound = &Error{Kind: KindNotFound}
	ErrConflict = &Error{Kind: KindConflict}
	ErrState    = &Error{Kind: KindState}
	ErrArtifact = &Error{Kind: KindArtifact}
	ErrStorage  = &Error{Kind: KindStorage}
	ErrInvalid  = &Error{Kind: KindInvalid}
)

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...any) *Error {
	return newf(KindNotFound, op, format, args...)
}

func Conflict(op, format string, args ...any) *Error {
	return newf(KindConflict, op, format, args...)
}

func State(op, format string, args ...any) *Error {
	return newf(KindState, op, format, args...)
}

func Invalid(op, format string, args ...any) *Error {
	return newf(KindInvalid, op, format, args...)
}

// ConflictOn builds a uniqueness conflict on a named field.
func ConflictOn(op, field string, err error) *Error {
	return &Error{Kind: KindConflict, Op: op, Field: field, Msg: field + " already exists", Err: err}
}

// Artifact wraps a QR synthesis failure.
func Artifact(op string, err error) *Error {
	return &Error{Kind: KindArtifact, Op: op, Msg: "artifact synthesis failed", Err: err}
}

// Storage wraps a transport, timeout or unclassified driver failure.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Msg: "storage unavailable", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// FieldOf returns the conflicting field recorded on err, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

// IsRetryable reports whether a caller may retry the request with fresh input.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindArtifact, KindStorage:
		return true
	case KindConflict:
		return FieldOf(err) == FieldBatchCode
	}
	return false
}
