package client

import (
	"context"
	"errors"
	"net"
)

// ErrorCategory is a stable label for error classification in metrics and logs.
type ErrorCategory string

const (
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryCanceled    ErrorCategory = "canceled"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryAuth        ErrorCategory = "auth_failed"
	ErrorCategoryRateLimited ErrorCategory = "rate_limited"
	ErrorCategoryUnavailable ErrorCategory = "upstream_unavailable"
	ErrorCategoryMalformed   ErrorCategory = "malformed_response"
	ErrorCategoryCircuitOpen ErrorCategory = "circuit_open"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory. Transport-level causes
// (timeout, cancellation, network) take precedence over the kind they were reported as.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCategoryCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	}
	if errors.Is(err, errCircuitOpen) {
		return ErrorCategoryCircuitOpen
	}

	switch kindOf(err) {
	case ErrAuthenticationFailed:
		return ErrorCategoryAuth
	case ErrRateLimited:
		return ErrorCategoryRateLimited
	case ErrMalformedResponse:
		return ErrorCategoryMalformed
	case ErrUpstreamUnavailable:
		return ErrorCategoryUnavailable
	}
	return ErrorCategoryUnknown
}

// CountsAsOutage reports whether err says the provider itself is unhealthy. Auth and
// schema failures do not; retrying them sooner would not help.
func CountsAsOutage(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrRateLimited)
}
