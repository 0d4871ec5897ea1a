package speech

import (
	"errors"
	"fmt"
)

// Kind is the stable machine-readable error classification exposed to
// callers. Every failure of the façade resolves to exactly one kind.
type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindAccessDenied        Kind = "ACCESS_DENIED"
	KindQuotaExceeded       Kind = "QUOTA_EXCEEDED"
	KindInvalidVoice        Kind = "INVALID_VOICE"
	KindProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"
	KindStorage             Kind = "STORAGE_ERROR"
	KindInternal            Kind = "INTERNAL_ERROR"
)

// Error is the typed failure of the speech façade.
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

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf classifies any error. Unrecognized errors are internal.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}
