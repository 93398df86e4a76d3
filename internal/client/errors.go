package client

import (
	"errors"
	"fmt"
)

// Provider failure kinds. Every error returned by a WeatherClient wraps exactly one.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrMalformedResponse    = errors.New("malformed response")
	ErrRateLimited          = errors.New("rate limited")
)

// ProviderError carries the failure kind, the provider operation and, when the
// provider answered, its status (HTTP status or body code).
type ProviderError struct {
	Kind       error
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause to errors.Is/As.
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, status int, cause error) *ProviderError {
	return &ProviderError{Kind: kind, Op: op, StatusCode: status, Err: cause}
}

// kindOf returns the sentinel wrapped by err, or nil for foreign errors.
func kindOf(err error) error {
	for _, k := range []error{ErrAuthenticationFailed, ErrRateLimited, ErrMalformedResponse, ErrUpstreamUnavailable} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
