package riot

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies API and transform failures into the categories the
// pipeline's per-item policy acts on.
type ErrorKind int

// Error kinds, from least to most severe.
const (
	// KindNotFound: the requested tier/division/match/player does not exist.
	// Skipped, never retried.
	KindNotFound ErrorKind = iota
	// KindRateLimited: the shared budget or the server's limit was exceeded
	// and bounded retries did not clear it.
	KindRateLimited
	// KindTransient: network failure or 5xx that survived its retry budget.
	KindTransient
	// KindFatal: rejected credential or malformed request; indicates a
	// systemic misconfiguration and aborts the run.
	KindFatal
	// KindMalformedPayload: a response missing a required identifying field.
	KindMalformedPayload
)

// String returns the kind's log label.
func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindMalformedPayload:
		return "malformed_payload"
	default:
		return "unknown"
	}
}

// Error is a classified failure from the API client or payload transform.
type Error struct {
	Kind       ErrorKind
	Endpoint   string
	StatusCode int
	// RetryAfter is the server-directed delay on rate-limit responses.
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("riot: %s", e.Kind)
	if e.Endpoint != "" {
		msg += " " + e.Endpoint
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification from err, or KindTransient if err is not
// a classified *Error. An unclassified error at a call boundary means some
// layer below failed outside the API contract, which the pipeline treats the
// same as an exhausted transient failure.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTransient
}

// IsFatal reports whether err should abort the run rather than skip the item.
func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}

func newError(kind ErrorKind, endpoint string, status int, err error) *Error {
	return &Error{Kind: kind, Endpoint: endpoint, StatusCode: status, Err: err}
}
