package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiConfig configures the Google Gemini REST adapter.
type GeminiConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
}

// GeminiProvider implements text, JSON and embeddings on the Gemini REST API.
// JSON is requested natively through responseMimeType.
type GeminiProvider struct {
	base
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	client         *http.Client
}

// NewGeminiProvider creates a Gemini adapter.
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	return &GeminiProvider{
		base:           newBase("gemini", "Google Gemini", cfg.APIKey != ""),
		apiKey:         cfg.APIKey,
		baseURL:        strings.TrimSuffix(pick(cfg.BaseURL, geminiBaseURL), "/"),
		model:          pick(cfg.Model, "gemini-2.0-flash"),
		embeddingModel: pick(cfg.EmbeddingModel, "text-embedding-004"),
		client:         newHTTPClient(cfg.Timeout),
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float32 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiGenerateRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// GenerateText returns the first candidate's text.
func (g *GeminiProvider) GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return g.generate(ctx, prompt, opts, "")
}

// GenerateJSON asks for application/json output and parses it.
func (g *GeminiProvider) GenerateJSON(ctx context.Context, prompt string, opts GenerateOptions) (map[string]any, error) {
	text, err := g.generate(ctx, prompt, opts, "application/json")
	if err != nil {
		return nil, err
	}
	return ParseJSON(g.name, text)
}

func (g *GeminiProvider) generate(ctx context.Context, prompt string, opts GenerateOptions, mimeType string) (string, error) {
	if g.apiKey == "" {
		return "", g.fail(0, ErrNotConfigured)
	}

	body := geminiGenerateRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      temperature(opts),
			MaxOutputTokens:  opts.MaxTokens,
			ResponseMimeType: mimeType,
		},
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, pick(opts.Model, g.model))
	var resp geminiGenerateResponse
	if err := g.postJSON(ctx, g.client, url, g.headers(), body, &resp); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		return "", g.fail(0, errors.New("no candidates in response"))
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// Embed returns a 768-dimensional embedding. Input is cut to 9000 characters.
func (g *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if g.apiKey == "" {
		return nil, g.fail(0, ErrNotConfigured)
	}

	model := strings.TrimPrefix(g.embeddingModel, "models/")
	body := geminiEmbedRequest{
		Model:   "models/" + model,
		Content: geminiContent{Parts: []geminiPart{{Text: truncateRunes(text, 9000)}}},
	}

	url := fmt.Sprintf("%s/models/%s:embedContent", g.baseURL, model)
	var resp geminiEmbedResponse
	if err := g.postJSON(ctx, g.client, url, g.headers(), body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, g.fail(0, errors.New("empty embedding"))
	}
	return resp.Embedding.Values, nil
}

// EmbeddingDimensions returns 768.
func (g *GeminiProvider) EmbeddingDimensions() int {
	return NativeDimensions["gemini"]
}

func (g *GeminiProvider) headers() map[string]string {
	return map[string]string{"x-goog-api-key": g.apiKey}
}
