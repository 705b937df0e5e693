package apiclient

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is wrapped by AuthError when the backend rejects the
// request even after the credential was renewed.
var ErrUnauthorized = errors.New("backend rejected credential after renewal")

// APIError is an application-level failure reported by the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// DecodeError reports a response body that could not be decoded. Body holds
// the raw bytes for diagnostics.
type DecodeError struct {
	Status int
	Body   []byte
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response (status %d): %v: %q", e.Status, e.Err, truncate(e.Body, 256))
}

func (e *DecodeError) Unwrap() error { return e.Err }

// AuthError means the bot could not authenticate the request at all: renewal
// failed, or the renewed credential was rejected too.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authorization failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
