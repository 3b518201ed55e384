package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// OllamaConfig configures a local Ollama server.
type OllamaConfig struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
}

// OllamaProvider is a local provider. It counts as configured when a base
// URL is set; no credential is needed.
type OllamaProvider struct {
	base
	baseURL        string
	model          string
	embeddingModel string
	client         *http.Client
}

// NewOllamaProvider creates an Ollama adapter.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaProvider{
		base:           newBase("ollama", "Ollama (local)", cfg.BaseURL != ""),
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		model:          pick(cfg.Model, "qwen2.5:7b"),
		embeddingModel: pick(cfg.EmbeddingModel, "nomic-embed-text"),
		client:         newHTTPClient(timeout),
	}
}

// Reachable checks that the server answers and has the text model pulled.
func (o *OllamaProvider) Reachable(ctx context.Context) bool {
	if o.baseURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	return false
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// GenerateText sends prompt to /api/chat.
func (o *OllamaProvider) GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return o.chat(ctx, prompt, opts, "")
}

// GenerateJSON uses Ollama's format=json mode.
func (o *OllamaProvider) GenerateJSON(ctx context.Context, prompt string, opts GenerateOptions) (map[string]any, error) {
	text, err := o.chat(ctx, prompt, opts, "json")
	if err != nil {
		return nil, err
	}
	return ParseJSON(o.name, text)
}

func (o *OllamaProvider) chat(ctx context.Context, prompt string, opts GenerateOptions, format string) (string, error) {
	if o.baseURL == "" {
		return "", o.fail(0, ErrNotConfigured)
	}

	options := map[string]any{"temperature": temperature(opts)}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	body := ollamaChatRequest{
		Model:    pick(opts.Model, o.model),
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Format:   format,
		Options:  options,
	}

	var resp ollamaChatResponse
	if err := o.postJSON(ctx, o.client, o.baseURL+"/api/chat", nil, body, &resp); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// Embed calls /api/embed with a single input.
func (o *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if o.baseURL == "" {
		return nil, o.fail(0, ErrNotConfigured)
	}

	body := map[string]any{
		"model": o.embeddingModel,
		"input": []string{truncateRunes(text, 8000)},
	}
	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := o.postJSON(ctx, o.client, o.baseURL+"/api/embed", nil, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, o.fail(0, errors.New("no embeddings returned"))
	}
	return resp.Embeddings[0], nil
}

// EmbeddingDimensions returns 768 for nomic-embed-text.
func (o *OllamaProvider) EmbeddingDimensions() int {
	return NativeDimensions["ollama"]
}
