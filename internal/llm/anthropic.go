package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicBaseURL    = "https://api.anthropic.com/v1"
)

// AnthropicConfig configures the Anthropic Messages adapter.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// AnthropicProvider is a text-only adapter for the Claude Messages API.
// There is no native JSON mode, so GenerateJSON relies on prompting.
type AnthropicProvider struct {
	base
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicProvider creates an Anthropic adapter.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	return &AnthropicProvider{
		base:    newBase("anthropic", "Anthropic Claude", cfg.APIKey != ""),
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(pick(cfg.BaseURL, anthropicBaseURL), "/"),
		model:   pick(cfg.Model, "claude-3-5-haiku-20241022"),
		client:  newHTTPClient(cfg.Timeout),
	}
}

// GenerateText returns the concatenated text blocks of the reply.
func (a *AnthropicProvider) GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if a.apiKey == "" {
		return "", a.fail(0, ErrNotConfigured)
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := anthropicRequest{
		Model:       pick(opts.Model, a.model),
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature(opts),
	}
	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}

	var resp anthropicResponse
	if err := a.postJSON(ctx, a.client, a.baseURL+"/messages", headers, body, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", a.fail(0, fmt.Errorf("anthropic API error: %s - %s", resp.Error.Type, resp.Error.Message))
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", a.fail(0, errors.New("no text block in response"))
	}
	return sb.String(), nil
}

// GenerateJSON appends a JSON-only instruction and parses the fenced reply.
func (a *AnthropicProvider) GenerateJSON(ctx context.Context, prompt string, opts GenerateOptions) (map[string]any, error) {
	text, err := a.GenerateText(ctx, prompt+jsonInstruction, opts)
	if err != nil {
		return nil, err
	}
	return ParseJSON(a.name, text)
}
