package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

const cohereBaseURL = "https://api.cohere.ai/v1"

// CohereConfig configures the Cohere adapter.
type CohereConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
}

// CohereProvider implements chat and multilingual embeddings.
type CohereProvider struct {
	base
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	client         *http.Client
}

// NewCohereProvider creates a Cohere adapter.
func NewCohereProvider(cfg CohereConfig) *CohereProvider {
	return &CohereProvider{
		base:           newBase("cohere", "Cohere", cfg.APIKey != ""),
		apiKey:         cfg.APIKey,
		baseURL:        strings.TrimSuffix(pick(cfg.BaseURL, cohereBaseURL), "/"),
		model:          pick(cfg.Model, "command-r-plus"),
		embeddingModel: pick(cfg.EmbeddingModel, "embed-multilingual-v3.0"),
		client:         newHTTPClient(cfg.Timeout),
	}
}

type cohereChatRequest struct {
	Model       string  `json:"model"`
	Message     string  `json:"message"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type cohereChatResponse struct {
	Text string `json:"text"`
}

type cohereEmbedRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type cohereEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// GenerateText sends prompt to the chat endpoint.
func (c *CohereProvider) GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if c.apiKey == "" {
		return "", c.fail(0, ErrNotConfigured)
	}

	body := cohereChatRequest{
		Model:       pick(opts.Model, c.model),
		Message:     prompt,
		Temperature: temperature(opts),
		MaxTokens:   opts.MaxTokens,
	}
	var resp cohereChatResponse
	if err := c.postJSON(ctx, c.client, c.baseURL+"/chat", c.headers(), body, &resp); err != nil {
		return "", err
	}
	if resp.Text == "" {
		return "", c.fail(0, errors.New("empty response"))
	}
	return resp.Text, nil
}

// GenerateJSON prompts for JSON and strips fencing before parsing.
func (c *CohereProvider) GenerateJSON(ctx context.Context, prompt string, opts GenerateOptions) (map[string]any, error) {
	text, err := c.GenerateText(ctx, prompt+jsonInstruction, opts)
	if err != nil {
		return nil, err
	}
	return ParseJSON(c.name, text)
}

// Embed returns a 1024-dimensional document embedding. Input is cut to
// 8000 characters.
func (c *CohereProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.apiKey == "" {
		return nil, c.fail(0, ErrNotConfigured)
	}

	body := cohereEmbedRequest{
		Model:     c.embeddingModel,
		Texts:     []string{truncateRunes(text, 8000)},
		InputType: "search_document",
	}
	var resp cohereEmbedResponse
	if err := c.postJSON(ctx, c.client, c.baseURL+"/embed", c.headers(), body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, c.fail(0, errors.New("no embeddings returned"))
	}
	return resp.Embeddings[0], nil
}

// EmbeddingDimensions returns 1024.
func (c *CohereProvider) EmbeddingDimensions() int {
	return NativeDimensions["cohere"]
}

func (c *CohereProvider) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}
