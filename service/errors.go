package service

import (
	"errors"
	"fmt"
)

// Kind classifies a lifecycle failure so callers can render a specific
// message and pick the right response code.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindForbidden         Kind = "forbidden"
	KindValidationFailed  Kind = "validation_failed"
	KindRenderFailed      Kind = "render_failed"
	KindDeliveryFailed    Kind = "delivery_failed"
	KindConflictingWrite  Kind = "conflicting_write"
)

// Error is the discriminated failure every write operation can return.
// Entity and Field narrow the message down to what the caller got wrong;
// Err carries the underlying cause for logs and is never shown verbatim
// to end users.
type Error struct {
	Kind   Kind
	Entity string
	Field  string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports a missing entity.
func NotFound(entity, msg string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, Msg: msg}
}

// InvalidTransition reports a status guard failure.
func InvalidTransition(entity, msg string) *Error {
	return &Error{Kind: KindInvalidTransition, Entity: entity, Msg: msg}
}

// Forbidden reports an ownership or role guard failure.
func Forbidden(entity, msg string) *Error {
	return &Error{Kind: KindForbidden, Entity: entity, Msg: msg}
}

// Invalid reports a missing or malformed input field.
func Invalid(entity, field, msg string) *Error {
	return &Error{Kind: KindValidationFailed, Entity: entity, Field: field, Msg: msg}
}

// RenderFailed wraps a document generation failure. The user-facing message
// is fixed; the cause travels only to the logs.
func RenderFailed(err error) *Error {
	return &Error{Kind: KindRenderFailed, Msg: "document generation failed", Err: err}
}

// DeliveryFailed wraps an email delivery failure.
func DeliveryFailed(err error) *Error {
	return &Error{Kind: KindDeliveryFailed, Msg: "email delivery failed", Err: err}
}

// Conflict reports an optimistic-concurrency loss.
func Conflict(entity, msg string) *Error {
	return &Error{Kind: KindConflictingWrite, Entity: entity, Msg: msg}
}

// KindOf extracts the taxonomy kind from an error, or "" if it is not a
// lifecycle error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
