package listing

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failed remote call.
type ErrorKind int

const (
	// KindUnknown is the conservative default: queued like a transient
	// failure but still surfaced to a foreground caller.
	KindUnknown ErrorKind = iota
	// KindTransient failures (no connectivity, timeout, service
	// unavailable) are expected to succeed on a later retry.
	KindTransient
	// KindRateLimited is transient with a server-supplied retry hint.
	KindRateLimited
	// KindPermanent failures (validation, auth, business-rule rejection)
	// will not succeed on retry with the same input.
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// RequestError is a structured failure from the remote listing service.
type RequestError struct {
	Kind       ErrorKind
	StatusCode int
	Code       string // machine-readable error code from the response body
	Message    string
	RetryAfter *time.Time // rate-limit hint, only set for KindRateLimited
	Err        error
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("listing request failed (%s): %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("listing request failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("listing request failed (%s): status %d", e.Kind, e.StatusCode)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth queuing for a later
// attempt. Unknown failures are treated as retryable on purpose.
func (e *RequestError) Retryable() bool {
	return e.Kind != KindPermanent
}

// Transient wraps err as a transient request failure.
func Transient(err error) *RequestError {
	return &RequestError{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a permanent request failure.
func Permanent(code, message string) *RequestError {
	return &RequestError{Kind: KindPermanent, Code: code, Message: message}
}

// AsRequestError unwraps err into a RequestError, if it is one.
func AsRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr, true
	}
	return nil, false
}

// IsRetryable reports whether err should be queued and retried later.
// Errors that are not RequestError values get the conservative treatment.
func IsRetryable(err error) bool {
	if reqErr, ok := AsRequestError(err); ok {
		return reqErr.Retryable()
	}
	return true
}

// RetryAfterHint extracts the server-supplied retry instant, if any.
func RetryAfterHint(err error) (time.Time, bool) {
	reqErr, ok := AsRequestError(err)
	if !ok || reqErr.RetryAfter == nil {
		return time.Time{}, false
	}
	return *reqErr.RetryAfter, true
}

// ClassifyStatus maps an HTTP status code onto the error taxonomy.
func ClassifyStatus(status int) ErrorKind {
	switch status {
	case 408, 500, 502, 503, 504:
		return KindTransient
	case 429:
		return KindRateLimited
	case 400, 401, 403, 404, 409, 422:
		return KindPermanent
	default:
		return KindUnknown
	}
}
