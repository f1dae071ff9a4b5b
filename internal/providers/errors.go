package providers

import (
	"errors"
	"fmt"
)

// UnavailableError means the provider is configured off or missing
// credentials. The router skips such providers without consuming an attempt.
type UnavailableError struct {
	Provider string
	Reason   string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Provider, e.Reason)
}

// RequestError means an upstream request failed transiently (network, status,
// malformed payload). Consumes an attempt and is eligible for retry/fallback.
type RequestError struct {
	Provider string
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// unavailable and requestFailed are the construction helpers used by every
// provider implementation.
func unavailable(provider, reason string) error {
	return &UnavailableError{Provider: provider, Reason: reason}
}

func requestFailed(provider string, err error) error {
	return &RequestError{Provider: provider, Err: err}
}

func requestFailedf(provider, format string, args ...interface{}) error {
	return &RequestError{Provider: provider, Err: fmt.Errorf(format, args...)}
}

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
