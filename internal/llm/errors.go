package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAllProvidersExhausted matches any *AllProvidersExhaustedError via errors.Is.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// ErrNotConfigured is returned by adapters called without a credential.
var ErrNotConfigured = errors.New("provider not configured")

// ProviderError is a transport, auth or quota failure from one backend.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RateLimited reports whether the backend rejected the call for quota reasons.
func (e *ProviderError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// ParseError is returned when a structured reply is not valid JSON.
type ParseError struct {
	Provider string
	Raw      string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: invalid JSON response: %v", e.Provider, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// AllProvidersExhaustedError is the only error the Manager returns. It
// carries how many providers were tried and the last underlying failure.
type AllProvidersExhaustedError struct {
	Operation string
	Attempts  int
	LastErr   error
}

func (e *AllProvidersExhaustedError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("all providers exhausted for %s after %d attempts: no provider available", e.Operation, e.Attempts)
	}
	return fmt.Sprintf("all providers exhausted for %s after %d attempts: %v", e.Operation, e.Attempts, e.LastErr)
}

func (e *AllProvidersExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

func (e *AllProvidersExhaustedError) Unwrap() error { return e.LastErr }

func isRateLimit(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.RateLimited()
}
