package reliability

import (
	"context"
	"errors"
	"net"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Class describes a failure for surfaces that report errors to end users.
// Retryable is advice for the user; the pipeline itself never retries.
type Class struct {
	Code      string
	Retryable bool
}

type httpStatusError interface {
	HTTPStatus() int
}

// Classify maps a completion failure to a stable code.
func Classify(err error) Class {
	if err == nil {
		return Class{Code: "ok"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Class{Code: "provider_timeout", Retryable: true}
	}
	if errors.Is(err, context.Canceled) {
		return Class{Code: "canceled"}
	}

	var se httpStatusError
	if errors.As(err, &se) {
		code := se.HTTPStatus()
		switch {
		case code == 401 || code == 403:
			return Class{Code: "provider_auth"}
		case code == 429:
			return Class{Code: "provider_rate_limited", Retryable: true}
		default:
			return Class{Code: "provider_http_error", Retryable: IsRetryableHTTPStatus(code)}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Class{Code: "provider_unreachable", Retryable: true}
	}
	return Class{Code: "provider_error"}
}
