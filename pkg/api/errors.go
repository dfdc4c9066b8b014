package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// ErrMalformedBody is returned when a 2xx response does not hold valid JSON.
var ErrMalformedBody = errors.New("malformed response body")

// HTTPError is a non-2xx answer from the upstream API.
type HTTPError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: http %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: http %d: %s", e.Path, e.StatusCode, e.Body)
}

// IsRateLimited reports whether the server asked us to slow down.
func (e *HTTPError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// IsServerError reports a 5xx answer.
func (e *HTTPError) IsServerError() bool { return e.StatusCode >= 500 }

// ErrorClass partitions failures by what the caller should do with them.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	// ClassRetryable covers 429, 5xx, timeouts and connection failures. After the
	// retry budget is spent the unit is recorded as failed.
	ClassRetryable
	// ClassClient covers the remaining 4xx answers and undecodable bodies. Never retried;
	// routed to the dead-letter path.
	ClassClient
	// ClassFatal covers cancellation and programming errors.
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassRetryable:
		return "retryable"
	case ClassClient:
		return "client"
	default:
		return "fatal"
	}
}

// Classify maps an error returned by the client (or wrapping one) to its class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	var he *HTTPError
	if errors.As(err, &he) {
		switch {
		case he.IsRateLimited(), he.IsServerError():
			return ClassRetryable
		case he.StatusCode >= 400:
			return ClassClient
		default:
			return ClassFatal
		}
	}
	if errors.Is(err, ErrMalformedBody) {
		return ClassClient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassRetryable
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return ClassRetryable
	}
	return ClassFatal
}

// IsRetryable reports whether err belongs to ClassRetryable.
func IsRetryable(err error) bool { return Classify(err) == ClassRetryable }

// IsClientError reports whether err should be dead-lettered instead of retried.
func IsClientError(err error) bool { return Classify(err) == ClassClient }

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}
