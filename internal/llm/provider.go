package llm

import (
	"context"
	"unicode/utf8"
)

// Capability names a kind of work a provider can do.
type Capability string

const (
	CapabilityText      Capability = "text"
	CapabilityEmbedding Capability = "embedding"
)

// GenerateOptions are per-call generation settings. Zero values fall back to
// the adapter's defaults.
type GenerateOptions struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Provider is implemented by every backend adapter.
type Provider interface {
	Name() string
	DisplayName() string
	Health() *Health
}

// TextGenerator is a provider able to produce text and JSON completions.
type TextGenerator interface {
	Provider
	GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	GenerateJSON(ctx context.Context, prompt string, opts GenerateOptions) (map[string]any, error)
}

// Embedder is a provider able to produce embedding vectors.
type Embedder interface {
	Provider
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbeddingDimensions() int
}

// Capabilities lists what p implements.
func Capabilities(p Provider) []Capability {
	var caps []Capability
	if _, ok := p.(TextGenerator); ok {
		caps = append(caps, CapabilityText)
	}
	if _, ok := p.(Embedder); ok {
		caps = append(caps, CapabilityEmbedding)
	}
	return caps
}

// chatMessage is the role/content pair shared by chat-style REST APIs.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// base holds identity and health shared by all adapters.
type base struct {
	name        string
	displayName string
	health      *Health
}

func newBase(name, displayName string, configured bool) base {
	return base{
		name:        name,
		displayName: displayName,
		health:      NewHealth(configured),
	}
}

func (b *base) Name() string        { return b.name }
func (b *base) DisplayName() string { return b.displayName }
func (b *base) Health() *Health     { return b.health }

func (b *base) fail(status int, err error) error {
	return &ProviderError{Provider: b.name, StatusCode: status, Err: err}
}

// truncateRunes cuts s to at most n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func pick(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
