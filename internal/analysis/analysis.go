// Package analysis scores stored articles for misinformation markers.
package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/vortex/internal/database"
	"github.com/TobiSchelling/vortex/internal/llm"
	"github.com/TobiSchelling/vortex/internal/metrics"
)

const analysisPrompt = `Analyze the following news article for potential misinformation, fake news markers, and bias.

TITLE: %s
CONTENT: %s

Evaluate and return:
- is_fake: whether the article is fake news
- confidence_score: your confidence (0.0 to 1.0)
- reasoning: brief explanation
- detected_markers: list of markers found (e.g., "sensationalist headline", "lack of sources")
- scores: factual_consistency, linguistic_bias, sensationalism, source_credibility (each 0-10)

Respond with ONLY this JSON:
{
    "is_fake": true or false,
    "confidence_score": 0.0-1.0,
    "reasoning": "...",
    "detected_markers": ["marker 1", "marker 2"],
    "scores": {
        "factual_consistency": 0-10,
        "linguistic_bias": 0-10,
        "sensationalism": 0-10,
        "source_credibility": 0-10
    }
}`

const (
	DefaultLimit = 5
	MaxLimit     = 50

	defaultContentChars = 4000
	defaultConcurrency  = 3
	neutralScore        = 5
)

// Detection is the model's assessment of one article.
type Detection struct {
	IsFake          bool            `json:"is_fake"`
	ConfidenceScore float64         `json:"confidence_score"`
	Reasoning       string          `json:"reasoning"`
	DetectedMarkers []string        `json:"detected_markers"`
	Scores          database.Scores `json:"scores"`
	// Failed is set on the neutral record produced when analysis failed.
	Failed bool `json:"-"`
}

// Result holds the results of a batch analysis run.
type Result struct {
	Processed int
	Fake      int
	Errors    int
	Skipped   int
}

// Generator produces structured completions. *llm.Manager satisfies it.
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string, opts llm.GenerateOptions) (map[string]any, error)
}

// Store is the subset of the database the analyzer needs.
type Store interface {
	GetUnanalyzedArticles(limit int) ([]database.Article, error)
	InsertAnalysis(a database.Analysis) (bool, error)
}

// Options tune the batch run.
type Options struct {
	Concurrency  int
	Delay        time.Duration
	ContentChars int
}

// Analyzer runs misinformation analysis over stored articles.
type Analyzer struct {
	store Store
	gen   Generator
	opts  Options
}

// NewAnalyzer creates a new article analyzer.
func NewAnalyzer(store Store, gen Generator, opts Options) *Analyzer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.ContentChars <= 0 {
		opts.ContentChars = defaultContentChars
	}
	return &Analyzer{store: store, gen: gen, opts: opts}
}

// AnalyzeArticle never fails: on any provider or schema error it returns a
// neutral detection whose reasoning carries the error.
func (a *Analyzer) AnalyzeArticle(ctx context.Context, article database.Article) *Detection {
	content := ""
	if article.Content != nil {
		content = *article.Content
	}
	if content == "" {
		content = article.Title
	}
	if r := []rune(content); len(r) > a.opts.ContentChars {
		content = string(r[:a.opts.ContentChars]) + "..."
	}

	prompt := fmt.Sprintf(analysisPrompt, article.Title, content)
	parsed, err := a.gen.GenerateJSON(ctx, prompt, llm.GenerateOptions{Temperature: 0.1, MaxTokens: 1024})
	if err == nil {
		var d *Detection
		if d, err = decodeDetection(parsed); err == nil {
			return d
		}
	}

	if ctx.Err() != nil {
		zap.L().Debug("analysis canceled", zap.Int64("article_id", article.ID), zap.Error(err))
		return fallback(err)
	}
	zap.L().Error("analysis failed",
		zap.Int64("article_id", article.ID),
		zap.String("title", truncate(article.Title, 40)),
		zap.Error(err),
	)
	return fallback(err)
}

func fallback(err error) *Detection {
	return &Detection{
		Reasoning:       fmt.Sprintf("Error during analysis: %v", err),
		DetectedMarkers: []string{},
		Scores: database.Scores{
			FactualConsistency: neutralScore,
			LinguisticBias:     neutralScore,
			Sensationalism:     neutralScore,
			SourceCredibility:  neutralScore,
		},
		Failed: true,
	}
}

// RunBatchAnalysis analyzes up to limit unanalyzed articles (default 5, at
// most 50). Fallback detections are stored too, so a poison article is not
// picked again. A storage error leaves the article for the next run, and so
// does cancellation of ctx, which is returned as the error.
func (a *Analyzer) RunBatchAnalysis(ctx context.Context, limit int) (*Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	articles, err := a.store.GetUnanalyzedArticles(limit)
	if err != nil {
		return nil, fmt.Errorf("listing unanalyzed articles: %w", err)
	}

	r := &Result{}
	if len(articles) == 0 {
		zap.L().Info("no articles pending analysis")
		return r, nil
	}
	zap.L().Info("analyzing articles",
		zap.Int("count", len(articles)),
		zap.Int("concurrency", a.opts.Concurrency),
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for _, article := range articles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			zap.L().Debug("checking article", zap.String("title", truncate(article.Title, 40)))
			d := a.AnalyzeArticle(gctx, article)
			if d.Failed && ctx.Err() != nil {
				// Aborted by the caller: leave the article for the next run.
				metrics.ArticlesAnalyzed.WithLabelValues("canceled").Inc()
				return ctx.Err()
			}

			stored, err := a.store.InsertAnalysis(database.Analysis{
				ArticleID:  article.ID,
				IsFake:     d.IsFake,
				Confidence: d.ConfidenceScore,
				Reasoning:  d.Reasoning,
				Markers:    d.DetectedMarkers,
				Scores:     d.Scores,
			})

			mu.Lock()
			switch {
			case err != nil:
				r.Errors++
				zap.L().Error("storing analysis", zap.Int64("article_id", article.ID), zap.Error(err))
			case !stored:
				r.Skipped++
			default:
				r.Processed++
				if d.Failed {
					r.Errors++
				}
				if d.IsFake {
					r.Fake++
				}
			}
			mu.Unlock()
			metrics.ArticlesAnalyzed.WithLabelValues(outcome(d, stored, err)).Inc()

			if a.opts.Delay > 0 {
				select {
				case <-gctx.Done():
				case <-time.After(a.opts.Delay):
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return r, err
	}

	zap.L().Info("analysis complete",
		zap.Int("processed", r.Processed),
		zap.Int("fake", r.Fake),
		zap.Int("errors", r.Errors),
		zap.Int("skipped", r.Skipped),
	)
	return r, nil
}

func outcome(d *Detection, stored bool, err error) string {
	switch {
	case err != nil:
		return "storage_error"
	case !stored:
		return "skipped"
	case d.Failed:
		return "fallback"
	case d.IsFake:
		return "fake"
	default:
		return "genuine"
	}
}

func decodeDetection(m map[string]any) (*Detection, error) {
	isFake, ok := m["is_fake"].(bool)
	if !ok {
		return nil, fmt.Errorf("is_fake missing or not a boolean")
	}
	scores, ok := m["scores"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("scores missing or not an object")
	}

	d := &Detection{
		IsFake:          isFake,
		ConfidenceScore: clampFloat(getFloat(m, "confidence_score", 0), 0, 1),
		Reasoning:       getString(m, "reasoning", ""),
		DetectedMarkers: getStrings(m, "detected_markers"),
		Scores: database.Scores{
			FactualConsistency: clampScore(getInt(scores, "factual_consistency", neutralScore)),
			LinguisticBias:     clampScore(getInt(scores, "linguistic_bias", neutralScore)),
			Sensationalism:     clampScore(getInt(scores, "sensationalism", neutralScore)),
			SourceCredibility:  clampScore(getInt(scores, "source_credibility", neutralScore)),
		},
	}
	return d, nil
}

func getString(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return fallback
}

func getFloat(m map[string]any, key string, fallback float64) float64 {
	if f, ok := m[key].(float64); ok && !math.IsNaN(f) {
		return f
	}
	return fallback
}

func getInt(m map[string]any, key string, fallback int) int {
	if f, ok := m[key].(float64); ok && !math.IsNaN(f) {
		return int(math.Round(f))
	}
	return fallback
}

func getStrings(m map[string]any, key string) []string {
	out := []string{}
	arr, _ := m[key].([]any)
	for _, v := range arr {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func clampScore(n int) int {
	return min(max(n, 0), 10)
}

func clampFloat(f, lo, hi float64) float64 {
	return math.Min(math.Max(f, lo), hi)
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
