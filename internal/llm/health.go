package llm

import (
	"sync"
	"time"
)

// Status is the health state of a provider.
type Status string

const (
	StatusActive      Status = "active"
	StatusFailed      Status = "failed"
	StatusRateLimited Status = "rate_limited"
	StatusDisabled    Status = "disabled"
)

// FailureThreshold is the number of consecutive failures that take a
// provider out of rotation.
const FailureThreshold = 3

// Health tracks the outcome counters of one provider. It lives for the
// process lifetime and is never persisted.
type Health struct {
	mu                sync.Mutex
	configured        bool
	status            Status
	consecutiveErrors int
	successCount      int64
	errorCount        int64
	lastError         string
	lastFailure       time.Time
	now               func() time.Time
}

// NewHealth returns ACTIVE health for a configured provider and DISABLED
// health otherwise.
func NewHealth(configured bool) *Health {
	status := StatusActive
	if !configured {
		status = StatusDisabled
	}
	return &Health{configured: configured, status: status, now: time.Now}
}

// MarkSuccess resets the consecutive error count and reactivates the provider.
func (h *Health) MarkSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.successCount++
	h.consecutiveErrors = 0
	if h.configured {
		h.status = StatusActive
	}
}

// MarkFailure records a failed call. At FailureThreshold consecutive
// failures the provider becomes FAILED, or RATE_LIMITED when the last
// failure was a quota rejection.
func (h *Health) MarkFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorCount++
	h.consecutiveErrors++
	h.lastFailure = h.now()
	if err != nil {
		h.lastError = err.Error()
	}
	if h.consecutiveErrors >= FailureThreshold && h.configured {
		if isRateLimit(err) {
			h.status = StatusRateLimited
		} else {
			h.status = StatusFailed
		}
	}
}

// IsAvailable is true iff the provider is ACTIVE and has a credential.
func (h *Health) IsAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.configured && h.status == StatusActive
}

// retryable reports whether a FAILED or RATE_LIMITED provider has waited
// long enough since its last failure to be tried again.
func (h *Health) retryable(cooldown time.Duration) bool {
	if cooldown <= 0 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.configured || (h.status != StatusFailed && h.status != StatusRateLimited) {
		return false
	}
	return h.now().Sub(h.lastFailure) >= cooldown
}

// Configured reports whether a credential was supplied.
func (h *Health) Configured() bool {
	return h.configured
}

// HealthSnapshot is a point-in-time copy of a provider's counters.
type HealthSnapshot struct {
	Status            Status `json:"status"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
	SuccessCount      int64  `json:"success_count"`
	ErrorCount        int64  `json:"error_count"`
	LastError         string `json:"last_error,omitempty"`
}

// Snapshot copies the current counters.
func (h *Health) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{
		Status:            h.status,
		ConsecutiveErrors: h.consecutiveErrors,
		SuccessCount:      h.successCount,
		ErrorCount:        h.errorCount,
		LastError:         h.lastError,
	}
}
