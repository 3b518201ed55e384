package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/TobiSchelling/vortex/internal/database"
)

const (
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	acceptLanguage = "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7"

	// MinContentChars is the stored content length below which an article
	// is considered a feed teaser and its page is downloaded.
	MinContentChars = 200

	// minScrapedChars is the shortest site-selector body accepted before
	// falling back to readability.
	minScrapedChars = 300
	// minReadableChars is the shortest readability extraction accepted.
	minReadableChars = 100

	maxPageBytes = 5 << 20
)

// Result holds the results of a content fetch run.
type Result struct {
	Fetched int
	Failed  int
	Skipped int
}

// ContentFetcher downloads article pages and extracts their body text.
type ContentFetcher struct {
	db     *database.DB
	client *http.Client
}

// NewContentFetcher creates a new content fetcher.
func NewContentFetcher(db *database.DB, timeout time.Duration) *ContentFetcher {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &ContentFetcher{
		db: db,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// FetchMissingContent fetches pages for up to limit articles whose content
// is missing or shorter than MinContentChars. A domain answering with an
// HTTP error is skipped for the rest of the run.
func (f *ContentFetcher) FetchMissingContent(ctx context.Context, limit int) (*Result, error) {
	articles, err := f.db.GetArticlesNeedingFetch(MinContentChars, limit)
	if err != nil {
		return nil, fmt.Errorf("listing articles needing fetch: %w", err)
	}

	result := &Result{}
	if len(articles) == 0 {
		zap.L().Info("no articles need content fetching")
		return result, nil
	}

	failedDomains := make(map[string]struct{})

	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		domain := ""
		if u, err := url.Parse(article.URL); err == nil {
			domain = strings.ToLower(u.Host)
		}

		if _, failed := failedDomains[domain]; failed {
			result.Skipped++
			f.markAttempted(article.ID)
			continue
		}

		content, err := f.fetchArticleContent(ctx, article.URL)
		if err != nil {
			result.Failed++
			f.markAttempted(article.ID)
			var he *httpError
			if errors.As(err, &he) && domain != "" {
				failedDomains[domain] = struct{}{}
				zap.L().Warn("HTTP error, skipping remaining articles from domain",
					zap.String("url", article.URL),
					zap.String("domain", domain),
					zap.Error(err),
				)
			} else {
				zap.L().Debug("fetch failed", zap.String("url", article.URL), zap.Error(err))
			}
			continue
		}

		if content == "" {
			result.Failed++
			f.markAttempted(article.ID)
			zap.L().Debug("no extractable content", zap.String("url", article.URL))
			continue
		}

		if err := f.db.UpdateArticleContent(article.ID, &content); err != nil {
			return result, fmt.Errorf("storing content for article %d: %w", article.ID, err)
		}
		result.Fetched++
		zap.L().Debug("fetched content", zap.String("title", article.Title), zap.Int("chars", len(content)))
	}

	zap.L().Info("content fetch complete",
		zap.Int("fetched", result.Fetched),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (f *ContentFetcher) markAttempted(id int64) {
	if err := f.db.MarkArticleFetchAttempted(id); err != nil {
		zap.L().Warn("marking fetch attempt", zap.Int64("article_id", id), zap.Error(err))
	}
}

// fetchArticleContent returns the article body. Only HTTP status failures
// are reported as *httpError; other problems yield a plain error.
func (f *ContentFetcher) fetchArticleContent(ctx context.Context, articleURL string) (string, error) {
	pageURL, err := url.Parse(articleURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return extract(body, pageURL), nil
}

// extract tries the site selectors first and falls back to readability.
func extract(body []byte, pageURL *url.URL) string {
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		p := scrape(doc, pageURL.Host)
		if len([]rune(p.Body)) >= minScrapedChars {
			return p.Body
		}
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(article.TextContent)
	if len([]rune(text)) > minReadableChars {
		return text
	}
	return ""
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.code, http.StatusText(e.code))
}
