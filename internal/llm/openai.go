package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/TobiSchelling/vortex/internal/retry"
)

// OpenAIConfig configures any backend speaking the OpenAI chat and
// embeddings protocol (OpenAI, Groq, DeepSeek, Mistral, Together).
type OpenAIConfig struct {
	Name           string
	DisplayName    string
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	// EmbeddingDimensions is the native width of EmbeddingModel.
	EmbeddingDimensions int
	// NativeJSON requests response_format=json_object.
	NativeJSON bool
	// MaxRetries is the number of attempts on HTTP 429 before failing.
	MaxRetries    int
	MaxInputChars int
	Timeout       time.Duration
}

// OpenAIProvider is a text provider over the OpenAI protocol.
type OpenAIProvider struct {
	base
	cfg    OpenAIConfig
	client *openai.Client
}

// OpenAIEmbeddingProvider adds embeddings to OpenAIProvider.
type OpenAIEmbeddingProvider struct {
	*OpenAIProvider
}

// NewOpenAIProvider returns an *OpenAIEmbeddingProvider when cfg names an
// embedding model and a text-only *OpenAIProvider otherwise.
func NewOpenAIProvider(cfg OpenAIConfig) Provider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = newHTTPClient(cfg.Timeout)
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = 8000
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}

	p := &OpenAIProvider{
		base:   newBase(cfg.Name, cfg.DisplayName, cfg.APIKey != ""),
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
	}
	if cfg.EmbeddingModel != "" {
		return &OpenAIEmbeddingProvider{OpenAIProvider: p}
	}
	return p
}

// GenerateText sends prompt as a single user message.
func (p *OpenAIProvider) GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return p.complete(ctx, prompt, opts, false)
}

// GenerateJSON requests a JSON object, natively when the backend supports it.
func (p *OpenAIProvider) GenerateJSON(ctx context.Context, prompt string, opts GenerateOptions) (map[string]any, error) {
	if !p.cfg.NativeJSON {
		prompt += jsonInstruction
	}
	text, err := p.complete(ctx, prompt, opts, p.cfg.NativeJSON)
	if err != nil {
		return nil, err
	}
	return ParseJSON(p.name, text)
}

func (p *OpenAIProvider) complete(ctx context.Context, prompt string, opts GenerateOptions, jsonMode bool) (string, error) {
	if p.cfg.APIKey == "" {
		return "", p.fail(0, ErrNotConfigured)
	}

	req := openai.ChatCompletionRequest{
		Model: pick(opts.Model, p.cfg.Model),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature(opts),
		MaxTokens:   opts.MaxTokens,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := retry.DoWithResult(ctx, p.retryConfig(), func() (openai.ChatCompletionResponse, error) {
		return p.client.CreateChatCompletion(ctx, req)
	})
	if err != nil {
		return "", p.wrap(err)
	}
	if len(resp.Choices) == 0 {
		return "", p.fail(0, errors.New("no choices in response"))
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the native-width embedding of text.
func (p *OpenAIEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.cfg.APIKey == "" {
		return nil, p.fail(0, ErrNotConfigured)
	}

	req := openai.EmbeddingRequest{
		Input: []string{truncateRunes(text, p.cfg.MaxInputChars)},
		Model: openai.EmbeddingModel(p.cfg.EmbeddingModel),
	}
	resp, err := retry.DoWithResult(ctx, p.retryConfig(), func() (openai.EmbeddingResponse, error) {
		return p.client.CreateEmbeddings(ctx, req)
	})
	if err != nil {
		return nil, p.wrap(err)
	}
	if len(resp.Data) == 0 {
		return nil, p.fail(0, errors.New("no embeddings returned"))
	}
	return resp.Data[0].Embedding, nil
}

// EmbeddingDimensions returns the native width of the embedding model.
func (p *OpenAIEmbeddingProvider) EmbeddingDimensions() int {
	return p.cfg.EmbeddingDimensions
}

func (p *OpenAIProvider) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: p.cfg.MaxRetries,
		Delay:       retry.Exponential(500*time.Millisecond, 30*time.Second),
		Retryable: func(err error) bool {
			return statusCode(err) == http.StatusTooManyRequests
		},
		Logger: zap.L().With(zap.String("provider", p.name)),
	}
}

func (p *OpenAIProvider) wrap(err error) error {
	return p.fail(statusCode(err), fmt.Errorf("%s API error: %w", p.displayName, err))
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// temperature returns opts.Temperature or the default of 0.3.
func temperature(opts GenerateOptions) float32 {
	if opts.Temperature > 0 {
		return opts.Temperature
	}
	return 0.3
}
