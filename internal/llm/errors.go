package llm

import "fmt"

// ErrorKind classifies upstream failures for the client-visible taxonomy.
type ErrorKind string

const (
	KindTimeout      ErrorKind = "timeout"
	KindRateLimited  ErrorKind = "rate_limited"
	KindInvalidModel ErrorKind = "invalid_model"
	KindTransport    ErrorKind = "transport"
	KindUnknown      ErrorKind = "unknown"
)

// Error is a failed upstream call or stream.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("upstream %s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("upstream %s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("upstream %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a fresh attempt could plausibly succeed. Only
// failures before the first fragment should ever be retried.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTransport
}

// WrapStatus maps an HTTP status from a provider API to an Error.
func WrapStatus(status int, detail string, err error) *Error {
	kind := KindUnknown
	switch {
	case status == 408 || status == 504:
		kind = KindTimeout
	case status == 429:
		kind = KindRateLimited
	case status == 400 || status == 404:
		kind = KindInvalidModel
	case status >= 500:
		kind = KindTransport
	}
	return &Error{Kind: kind, Detail: detail, Err: err}
}
