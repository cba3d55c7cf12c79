package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error independently of how it is rendered to clients.
type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindInvalidInput        Kind = "INVALID_INPUT"
	KindAccountNotActivated Kind = "ACCOUNT_NOT_ACTIVATED"
	KindAccountLocked       Kind = "ACCOUNT_LOCKED"
	KindInvalidCredentials  Kind = "INVALID_CREDENTIALS"
	KindInvalidRefreshToken Kind = "INVALID_REFRESH_TOKEN"
	KindAccountInactive     Kind = "ACCOUNT_INACTIVE"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindForbidden           Kind = "FORBIDDEN"
	KindTokenExpired        Kind = "TOKEN_EXPIRED"
	KindTokenInvalid        Kind = "TOKEN_INVALID"
	KindInternal            Kind = "INTERNAL"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Kind    Kind                   `json:"-"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, ErrAccountLocked) works on clones and wrapped values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a new Error instance.
func New(kind Kind, code string, status int, message string) *Error {
	return &Error{Kind: kind, Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error using the kind and rendering of base.
func Wrap(err error, base *Error, message string) *Error {
	wrapped := Clone(base, message)
	wrapped.Err = err
	return wrapped
}

// Predefined errors for common scenarios.
var (
	ErrNotFound            = New(KindNotFound, "NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict            = New(KindConflict, "CONFLICT", http.StatusConflict, "conflict")
	ErrValidation          = New(KindInvalidInput, "VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrAccountNotActivated = New(KindAccountNotActivated, "ACCOUNT_NOT_ACTIVATED", http.StatusForbidden, "account is not activated")
	ErrAccountLocked       = New(KindAccountLocked, "ACCOUNT_LOCKED", http.StatusLocked, "account is temporarily locked")
	ErrInvalidCredentials  = New(KindInvalidCredentials, "INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInvalidRefreshToken = New(KindInvalidRefreshToken, "INVALID_REFRESH_TOKEN", http.StatusUnauthorized, "refresh token is invalid, expired or revoked")
	ErrInactiveAccount     = New(KindAccountInactive, "ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrUnauthorized        = New(KindUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrForbidden           = New(KindForbidden, "FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrTokenExpired        = New(KindTokenExpired, "TOKEN_EXPIRED", http.StatusUnauthorized, "access token has expired")
	ErrTokenInvalid        = New(KindTokenInvalid, "TOKEN_INVALID", http.StatusUnauthorized, "access token is invalid")
	ErrInternal            = New(KindInternal, "INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")

	// ErrCacheMiss is returned by cache repositories when a key is absent.
	ErrCacheMiss = errors.New("cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal, "")
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Err = nil
	clone.Details = nil
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of err carrying the given details.
func WithDetails(err *Error, details map[string]interface{}) *Error {
	clone := Clone(err, "")
	clone.Err = err.Err
	clone.Details = details
	return clone
}

// Disguise renders err exactly as the public error as while keeping the
// kind of err for callers that inspect it in-process.
func Disguise(kind Kind, as *Error) *Error {
	clone := Clone(as, "")
	clone.Kind = kind
	return clone
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return FromError(err).Kind
}
