package provider

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind categorizes provider failures. The kind decides both retry
// behavior (inside the client) and how the failure is reported to the
// operator.
type ErrorKind int

const (
	// KindAuth is a bad or missing credential. Non-retryable; every
	// remaining call to the same provider will fail the same way.
	KindAuth ErrorKind = iota

	// KindRateLimited is a quota/429-equivalent. Retryable with backoff,
	// honoring any provider-supplied retry hint.
	KindRateLimited

	// KindTransient is a timeout, 5xx, or connection failure. Retryable
	// with exponential backoff and jitter.
	KindTransient

	// KindMalformed is a response missing expected fields (e.g. truncated
	// generation). Terminal for the attempt; carries stop-reason detail.
	KindMalformed

	// KindUnsupportedInput is a file the provider rejects (wrong MIME,
	// over size/pixel limits). Non-retryable; resubmitting unchanged is
	// pointless.
	KindUnsupportedInput
)

// String returns the kind's wire/log name.
func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	case KindUnsupportedInput:
		return "unsupported_input"
	default:
		return "unknown"
	}
}

// Retryable reports whether the kind may succeed on retry.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimited || k == KindTransient
}

// Error is a typed provider failure. It carries enough detail for the
// operator to understand the failure without re-running: the kind, the
// provider, the provider-reported stop reason when one exists, and any
// retry-after hint.
type Error struct {
	Kind     ErrorKind
	Provider string
	Message  string

	// RetryAfter is the provider-supplied backoff hint, zero if none.
	RetryAfter time.Duration

	// StopReason is the provider-reported generation stop reason, set for
	// KindMalformed so truncated output can be told apart from no output.
	StopReason string

	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether this error may succeed on retry.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// Errorf builds a typed provider error.
func Errorf(kind ErrorKind, providerName, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: providerName, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from an error chain. Errors that are not
// typed provider errors (network failures, timeouts) classify as
// KindTransient, matching how HTTP client errors behave in practice.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// FromStatus classifies an HTTP status from a provider backend into a typed
// error. bodyPreview should be a short excerpt of the response body.
func FromStatus(providerName string, status int, bodyPreview string, retryAfter time.Duration) *Error {
	kind := KindTransient
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusRequestEntityTooLarge ||
		status == http.StatusUnsupportedMediaType ||
		status == http.StatusUnprocessableEntity ||
		status == http.StatusBadRequest:
		kind = KindUnsupportedInput
	case status >= 500 || status == http.StatusRequestTimeout:
		kind = KindTransient
	default:
		kind = KindMalformed
	}
	return &Error{
		Kind:       kind,
		Provider:   providerName,
		Message:    fmt.Sprintf("HTTP %d: %s", status, bodyPreview),
		RetryAfter: retryAfter,
	}
}

// ParseRetryAfter converts a Retry-After header value (seconds form) into a
// duration, zero when absent or unparsable.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(header, "%d", &secs); err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
