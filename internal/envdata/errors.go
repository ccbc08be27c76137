package envdata

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a subject could not be served fresh data.
type FailureKind string

const (
	// FailMalformedQuery means the query is missing or carries invalid
	// fields for the subject. Detected before any network I/O.
	FailMalformedQuery FailureKind = "malformedQuery"
	// FailProviderUnavailable covers timeouts, transport errors and 5xx
	// responses, including an open circuit breaker.
	FailProviderUnavailable FailureKind = "providerUnavailable"
	// FailProviderRejected covers authentication and authorization
	// refusals (401/403), typically a bad or expired key.
	FailProviderRejected FailureKind = "providerRejected"
	// FailProviderRateLimited means the upstream answered 429. Distinct
	// from our own quota window running out.
	FailProviderRateLimited FailureKind = "providerRateLimited"
	// FailQuotaExceeded means the local call budget for the provider is
	// spent; no outbound request was made.
	FailQuotaExceeded FailureKind = "quotaExceeded"
	// FailCacheUnavailable marks a degraded cache backend. Absorbed by
	// the aggregator, surfaced only in logs and metrics.
	FailCacheUnavailable FailureKind = "cacheUnavailable"
)

// ProviderError is the typed failure attached to a DomainResult. It also
// implements error so adapters can return it directly.
type ProviderError struct {
	Kind     FailureKind `json:"kind"`
	Provider string      `json:"provider"`
	Message  string      `json:"message"`
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// NewProviderError builds a typed failure.
func NewProviderError(kind FailureKind, provider, format string, args ...any) *ProviderError {
	return &ProviderError{
		Kind:     kind,
		Provider: provider,
		Message:  fmt.Sprintf(format, args...),
	}
}

// MalformedQuery builds the validation failure adapters return before
// touching the network.
func MalformedQuery(provider, format string, args ...any) *ProviderError {
	return NewProviderError(FailMalformedQuery, provider, format, args...)
}

// AsProviderError unwraps err into a *ProviderError when possible.
func AsProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// FailureFromError coerces any adapter error into a typed failure. Errors
// that are not already classified count as provider unavailability.
func FailureFromError(provider string, err error) *ProviderError {
	if perr, ok := AsProviderError(err); ok {
		return perr
	}
	return NewProviderError(FailProviderUnavailable, provider, "%v", err)
}

// ErrMalformedQuery marks request-level validation failures, the only kind
// that fails an entire Resolve call instead of a single subject.
var ErrMalformedQuery = errors.New("malformed query")
