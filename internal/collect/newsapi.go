package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPIClient fetches articles from NewsAPI.
type NewsAPIClient struct {
	apiKey   string
	language string
	baseURL  string
	client   *http.Client
}

// NewNewsAPIClient creates a NewsAPI client for the given key and language.
func NewNewsAPIClient(apiKey, language string) *NewsAPIClient {
	if language == "" {
		language = "pt"
	}
	return &NewsAPIClient{
		apiKey:   apiKey,
		language: language,
		baseURL:  newsAPIBaseURL,
		client:   newHTTPClient(30 * time.Second),
	}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		Author      string `json:"author"`
		PublishedAt string `json:"publishedAt"`
		Content     string `json:"content"`
		Description string `json:"description"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// Search returns articles matching query published within daysBack days.
func (c *NewsAPIClient) Search(ctx context.Context, query string, daysBack, pageSize int) ([]Entry, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("newsapi: no API key configured")
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}

	params := url.Values{
		"q":        {query},
		"from":     {time.Now().AddDate(0, 0, -daysBack).Format("2006-01-02")},
		"language": {c.language},
		"pageSize": {strconv.Itoa(pageSize)},
		"sortBy":   {"publishedAt"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("newsapi request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsapi: %w", err)
	}
	defer resp.Body.Close()

	var result newsAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("newsapi decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK || result.Status != "ok" {
		return nil, fmt.Errorf("newsapi returned %d: %s", resp.StatusCode, result.Message)
	}

	var entries []Entry
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}

		var published string
		if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
			published = t.UTC().Format(time.RFC3339)
		}

		content := strings.TrimSpace(a.Content)
		if content == "" {
			content = strings.TrimSpace(a.Description)
		}

		source := "newsapi"
		if a.Source.Name != "" {
			source = a.Source.Name
		}

		entries = append(entries, Entry{
			URL:         a.URL,
			Title:       strings.TrimSpace(a.Title),
			Subtitle:    strings.TrimSpace(a.Description),
			Author:      strings.TrimSpace(a.Author),
			PublishedAt: published,
			Content:     content,
			SourceName:  source,
		})
	}

	zap.L().Info("fetched articles from NewsAPI",
		zap.Int("count", len(entries)),
		zap.String("query", query),
	)
	return entries, nil
}
