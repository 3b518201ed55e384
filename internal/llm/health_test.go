package llm

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthThreshold(t *testing.T) {
	h := NewHealth(true)
	assert.True(t, h.IsAvailable())

	boom := errors.New("boom")
	h.MarkFailure(boom)
	h.MarkFailure(boom)
	assert.True(t, h.IsAvailable(), "below threshold stays active")

	h.MarkFailure(boom)
	assert.False(t, h.IsAvailable())

	snap := h.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, 3, snap.ConsecutiveErrors)
	assert.Equal(t, int64(3), snap.ErrorCount)
	assert.Equal(t, "boom", snap.LastError)
}

func TestHealthSuccessResets(t *testing.T) {
	h := NewHealth(true)
	for i := 0; i < FailureThreshold; i++ {
		h.MarkFailure(errors.New("x"))
	}
	h.MarkSuccess()

	snap := h.Snapshot()
	assert.Equal(t, StatusActive, snap.Status)
	assert.Zero(t, snap.ConsecutiveErrors)
	assert.Equal(t, int64(1), snap.SuccessCount)
	assert.Equal(t, int64(FailureThreshold), snap.ErrorCount)
}

func TestHealthRateLimited(t *testing.T) {
	h := NewHealth(true)
	quota := &ProviderError{Provider: "openai", StatusCode: http.StatusTooManyRequests, Err: errors.New("slow down")}
	for i := 0; i < FailureThreshold; i++ {
		h.MarkFailure(quota)
	}
	assert.Equal(t, StatusRateLimited, h.Snapshot().Status)
	assert.False(t, h.IsAvailable())
}

func TestHealthUnconfiguredIsDisabled(t *testing.T) {
	h := NewHealth(false)
	assert.Equal(t, StatusDisabled, h.Snapshot().Status)
	assert.False(t, h.IsAvailable())

	h.MarkSuccess()
	assert.False(t, h.IsAvailable())
}

func TestHealthRetryable(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := NewHealth(true)
	h.now = func() time.Time { return now }

	for i := 0; i < FailureThreshold; i++ {
		h.MarkFailure(errors.New("down"))
	}
	assert.False(t, h.retryable(0), "zero cooldown never recovers")
	assert.False(t, h.retryable(time.Minute))

	now = now.Add(time.Minute)
	assert.True(t, h.retryable(time.Minute))
}
