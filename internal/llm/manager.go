package llm

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/vortex/internal/metrics"
)

// ManagerOptions tune provider selection.
type ManagerOptions struct {
	// LoadBalance rotates across available providers instead of always
	// preferring the highest priority one.
	LoadBalance bool
	// TargetDimensions is the width every embedding is adapted to.
	TargetDimensions int
	// RecoveryCooldown lets a FAILED or RATE_LIMITED provider be tried again
	// once this long has passed since its last failure. Zero disables recovery.
	RecoveryCooldown time.Duration
}

// Manager owns the provider pools and runs every call with failover.
type Manager struct {
	providers []Provider
	text      []TextGenerator
	embed     []Embedder
	opts      ManagerOptions
	cursor    atomic.Uint64
	// attempts of the most recently finished call
	lastAttempts atomic.Int64
}

// NewManager builds text and embedding pools from providers, keeping their
// order as priority (index 0 first).
func NewManager(providers []Provider, opts ManagerOptions) *Manager {
	if opts.TargetDimensions <= 0 {
		opts.TargetDimensions = DefaultTargetDimensions
	}
	m := &Manager{providers: providers, opts: opts}
	for _, p := range providers {
		if tg, ok := p.(TextGenerator); ok {
			m.text = append(m.text, tg)
		}
		if e, ok := p.(Embedder); ok {
			m.embed = append(m.embed, e)
		}
	}
	return m
}

// TargetDimensions returns the width of vectors returned by Embed.
func (m *Manager) TargetDimensions() int {
	return m.opts.TargetDimensions
}

// LastAttempts returns how many providers the most recently finished call
// tried, including the one that succeeded. With concurrent callers it
// reflects whichever call finished last.
func (m *Manager) LastAttempts() int {
	return int(m.lastAttempts.Load())
}

// HasText reports whether any text provider is configured.
func (m *Manager) HasText() bool { return len(m.text) > 0 }

// HasEmbedding reports whether any embedding provider is configured.
func (m *Manager) HasEmbedding() bool { return len(m.embed) > 0 }

// GenerateText returns a completion from the first provider that succeeds.
func (m *Manager) GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	out, _, err := failover(ctx, m, "generate_text", m.text, func(p TextGenerator) (string, error) {
		return p.GenerateText(ctx, prompt, opts)
	})
	return out, err
}

// GenerateJSON returns a decoded JSON object. A reply that does not parse
// counts as a failure of that provider and the next one is tried.
func (m *Manager) GenerateJSON(ctx context.Context, prompt string, opts GenerateOptions) (map[string]any, error) {
	out, _, err := failover(ctx, m, "generate_json", m.text, func(p TextGenerator) (map[string]any, error) {
		return p.GenerateJSON(ctx, prompt, opts)
	})
	return out, err
}

// Embed returns an embedding adapted to TargetDimensions.
func (m *Manager) Embed(ctx context.Context, text string) ([]float32, error) {
	out, _, err := failover(ctx, m, "embed", m.embed, func(p Embedder) ([]float32, error) {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return Adapt(vec, m.opts.TargetDimensions), nil
	})
	return out, err
}

// selectProvider picks the next provider from pool that is available and
// not yet tried in this call. The shared cursor is advanced atomically; under
// contention callers may see skipped or repeated indexes.
func selectProvider[P Provider](m *Manager, pool []P, excluded map[string]bool) (P, bool) {
	var available []P
	for _, p := range pool {
		if excluded[p.Name()] {
			continue
		}
		h := p.Health()
		if h.IsAvailable() || h.retryable(m.opts.RecoveryCooldown) {
			available = append(available, p)
		}
	}

	if len(available) == 0 {
		var zero P
		return zero, false
	}

	if m.opts.LoadBalance {
		i := m.cursor.Add(1) - 1
		return available[i%uint64(len(available))], true
	}
	return available[0], true
}

// failover tries providers from pool until one succeeds. Every available
// provider is tried at most once per call.
func failover[P Provider, T any](ctx context.Context, m *Manager, op string, pool []P, call func(P) (T, error)) (T, int, error) {
	var zero T
	excluded := make(map[string]bool, len(pool))
	attempts := 0
	var lastErr error
	defer func() {
		m.lastAttempts.Store(int64(attempts))
		metrics.ProviderAttempts.WithLabelValues(op).Observe(float64(attempts))
	}()

	for {
		p, ok := selectProvider(m, pool, excluded)
		if ok && ctx.Err() != nil {
			lastErr, ok = ctx.Err(), false
		}
		if !ok {
			metrics.ProvidersExhausted.WithLabelValues(op).Inc()
			zap.L().Error("all providers exhausted",
				zap.String("operation", op),
				zap.Int("attempts", attempts),
				zap.Error(lastErr),
			)
			return zero, attempts, &AllProvidersExhaustedError{Operation: op, Attempts: attempts, LastErr: lastErr}
		}

		attempts++
		start := time.Now()
		out, err := call(p)
		metrics.ProviderLatency.WithLabelValues(p.Name(), op).Observe(time.Since(start).Seconds())

		if err == nil {
			p.Health().MarkSuccess()
			metrics.ProviderCalls.WithLabelValues(p.Name(), op, "success").Inc()
			if attempts > 1 {
				zap.L().Info("provider succeeded after failover",
					zap.String("provider", p.Name()),
					zap.String("operation", op),
					zap.Int("attempts", attempts),
				)
			} else {
				zap.L().Debug("provider call succeeded",
					zap.String("provider", p.Name()),
					zap.String("operation", op),
					zap.Int("attempts", attempts),
				)
			}
			return out, attempts, nil
		}

		// The caller gave up; the provider is not at fault.
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.ProviderCalls.WithLabelValues(p.Name(), op, "canceled").Inc()
			zap.L().Debug("provider call canceled by caller",
				zap.String("provider", p.Name()),
				zap.String("operation", op),
				zap.Error(err),
			)
			return zero, attempts, &AllProvidersExhaustedError{Operation: op, Attempts: attempts, LastErr: ctxErr}
		}

		p.Health().MarkFailure(err)
		metrics.ProviderCalls.WithLabelValues(p.Name(), op, "failure").Inc()
		zap.L().Warn("provider call failed, trying next",
			zap.String("provider", p.Name()),
			zap.String("operation", op),
			zap.Error(err),
		)
		lastErr = err
		excluded[p.Name()] = true
	}
}

// Reacher is implemented by providers that can check their endpoint without
// spending a completion, such as a local Ollama server.
type Reacher interface {
	Reachable(ctx context.Context) bool
}

// Reachability checks every provider that implements Reacher, keyed by
// provider name. Health state is not changed.
func (m *Manager) Reachability(ctx context.Context) map[string]bool {
	out := make(map[string]bool)
	for _, p := range m.providers {
		if r, ok := p.(Reacher); ok {
			out[p.Name()] = r.Reachable(ctx)
		}
	}
	return out
}

// ProviderStatus is one row of the Status report.
type ProviderStatus struct {
	Name         string       `json:"name"`
	DisplayName  string       `json:"display_name"`
	Priority     int          `json:"priority"`
	Capabilities []Capability `json:"capabilities"`
	Available    bool         `json:"available"`
	HealthSnapshot
}

// Status returns a snapshot of every configured provider in priority order.
func (m *Manager) Status() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(m.providers))
	for i, p := range m.providers {
		out = append(out, ProviderStatus{
			Name:           p.Name(),
			DisplayName:    p.DisplayName(),
			Priority:       i,
			Capabilities:   Capabilities(p),
			Available:      p.Health().IsAvailable(),
			HealthSnapshot: p.Health().Snapshot(),
		})
	}
	return out
}
