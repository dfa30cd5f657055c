package push

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable failure classification. Every failure
// leaving the core carries exactly one kind alongside a human-readable
// message, so callers can tell bad credentials from an expired endpoint
// from a transient network fault.
type ErrorKind string

const (
	ErrKindKeyGeneration          ErrorKind = "key_generation"
	ErrKindInvalidKeyEncoding     ErrorKind = "invalid_key_encoding"
	ErrKindKeyDerivation          ErrorKind = "key_derivation"
	ErrKindSigning                ErrorKind = "signing"
	ErrKindAuthFailure            ErrorKind = "auth_failure"
	ErrKindMalformedTokenResponse ErrorKind = "malformed_token_response"
	ErrKindInvalidSubscription    ErrorKind = "invalid_subscription"
	ErrKindNotFound               ErrorKind = "not_found"
	ErrKindTransportFailure       ErrorKind = "transport_failure"
	ErrKindRateLimited            ErrorKind = "rate_limited"
	ErrKindEncryptionFailure      ErrorKind = "encryption_failure"
	ErrKindUnknown                ErrorKind = "unknown"
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a typed error with no underlying cause.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError attaches a kind and message to an underlying cause.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the classification from any error chain. Untyped errors
// classify as ErrKindUnknown.
func KindOf(err error) ErrorKind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ErrKindUnknown
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind ErrorKind) bool {
	var typed *Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.Kind == kind
}

// StatusOf extracts the upstream HTTP status from a typed error, if any.
func StatusOf(err error) int {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.StatusCode
	}
	return 0
}
