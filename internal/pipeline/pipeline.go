package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/vortex/internal/analysis"
	"github.com/TobiSchelling/vortex/internal/collect"
	"github.com/TobiSchelling/vortex/internal/config"
	"github.com/TobiSchelling/vortex/internal/database"
	"github.com/TobiSchelling/vortex/internal/fetch"
	"github.com/TobiSchelling/vortex/internal/index"
	"github.com/TobiSchelling/vortex/internal/llm"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Started time.Time
	Steps   []StepResult
}

// Failed reports whether any step returned an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Model is what the analysis and indexing steps need from the provider
// layer. *llm.Manager satisfies it.
type Model interface {
	GenerateJSON(ctx context.Context, prompt string, opts llm.GenerateOptions) (map[string]any, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	TargetDimensions() int
}

// Pipeline runs collect, fetch, analyze and index in order.
type Pipeline struct {
	db            *database.DB
	collector     *collect.Collector
	fetcher       *fetch.ContentFetcher
	analyzer      *analysis.Analyzer
	indexer       *index.Indexer
	analysisLimit int
}

// New creates a new pipeline. daysBack bounds how old collected feed items
// may be; zero keeps everything the feeds return.
func New(cfg *config.Config, db *database.DB, model Model, daysBack int) *Pipeline {
	return &Pipeline{
		db:        db,
		collector: collect.NewCollector(cfg, db, daysBack),
		fetcher:   fetch.NewContentFetcher(db, 20*time.Second),
		analyzer: analysis.NewAnalyzer(db, model, analysis.Options{
			Concurrency:  cfg.Analysis.Concurrency,
			Delay:        cfg.Analysis.Delay,
			ContentChars: cfg.Analysis.ContentChars,
		}),
		indexer: index.New(db, model, index.Options{
			BatchSize:   cfg.Index.BatchSize,
			Concurrency: cfg.Index.Concurrency,
			EmbedDelay:  cfg.Index.EmbedDelay,
			BatchDelay:  cfg.Index.BatchDelay,
		}),
		analysisLimit: cfg.Scheduler.AnalysisLimit,
	}
}

// WithMirror copies new embeddings to m during the index step.
func (p *Pipeline) WithMirror(m index.Mirror) *Pipeline {
	p.indexer.WithMirror(m)
	return p
}

// Run executes the pipeline. A failed collection stops the run; later steps
// work on whatever is stored and run regardless of each other.
func (p *Pipeline) Run(ctx context.Context) *Result {
	r := &Result{Started: time.Now()}

	step := p.runCollect(ctx)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	r.Steps = append(r.Steps, p.runFetch(ctx))
	r.Steps = append(r.Steps, p.runAnalyze(ctx))
	r.Steps = append(r.Steps, p.runIndex(ctx))

	zap.L().Info("pipeline finished",
		zap.Duration("duration", time.Since(r.Started)),
		zap.Bool("failed", r.Failed()),
	)
	return r
}

// DryRun reports what Run would work on without calling any remote service.
func (p *Pipeline) DryRun() *Result {
	r := &Result{Started: time.Now()}

	feeds, err := p.db.ListActiveFeeds()
	r.Steps = append(r.Steps, StepResult{
		Name:    "Collect",
		Summary: fmt.Sprintf("[dry-run] %d active feeds would be fetched", len(feeds)),
		Err:     err,
	})

	needing, err := p.db.GetArticlesNeedingFetch(fetch.MinContentChars, 0)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Fetch",
		Summary: fmt.Sprintf("[dry-run] %d articles need content fetching", len(needing)),
		Err:     err,
	})

	unanalyzed, err := p.db.GetUnanalyzedArticles(p.limit())
	r.Steps = append(r.Steps, StepResult{
		Name:    "Analyze",
		Summary: fmt.Sprintf("[dry-run] %d articles would be analyzed", len(unanalyzed)),
		Err:     err,
	})

	unembedded, err := p.db.CountUnembedded()
	r.Steps = append(r.Steps, StepResult{
		Name:    "Index",
		Summary: fmt.Sprintf("[dry-run] %d articles need embeddings", unembedded),
		Err:     err,
	})

	return r
}

func (p *Pipeline) limit() int {
	if p.analysisLimit <= 0 {
		return analysis.DefaultLimit
	}
	return min(p.analysisLimit, analysis.MaxLimit)
}

func (p *Pipeline) runCollect(ctx context.Context) StepResult {
	zap.L().Info("step 1/4: collecting articles")
	result, err := p.collector.Collect(ctx)
	if err != nil {
		return StepResult{Name: "Collect", Err: err}
	}
	return StepResult{
		Name: "Collect",
		Summary: fmt.Sprintf("Found %d new articles (%d total, %d duplicates, %d feed errors)",
			result.NewArticles, result.TotalFound, result.Duplicates, result.FeedErrors),
	}
}

func (p *Pipeline) runFetch(ctx context.Context) StepResult {
	zap.L().Info("step 2/4: fetching article content")
	result, err := p.fetcher.FetchMissingContent(ctx, 0)
	if err != nil {
		return StepResult{Name: "Fetch", Err: err}
	}
	return StepResult{
		Name:    "Fetch",
		Summary: fmt.Sprintf("Fetched %d articles, %d failed, %d skipped", result.Fetched, result.Failed, result.Skipped),
	}
}

func (p *Pipeline) runAnalyze(ctx context.Context) StepResult {
	zap.L().Info("step 3/4: analyzing articles")
	result, err := p.analyzer.RunBatchAnalysis(ctx, p.limit())
	if err != nil {
		return StepResult{Name: "Analyze", Err: err}
	}
	return StepResult{
		Name: "Analyze",
		Summary: fmt.Sprintf("Analyzed %d articles: %d flagged as fake, %d errors",
			result.Processed, result.Fake, result.Errors),
	}
}

func (p *Pipeline) runIndex(ctx context.Context) StepResult {
	zap.L().Info("step 4/4: indexing articles")
	result, err := p.indexer.IndexDocuments(ctx, 0)
	if err != nil {
		return StepResult{Name: "Index", Err: err}
	}
	return StepResult{
		Name:    "Index",
		Summary: fmt.Sprintf("Indexed %d articles, %d failed", result.Indexed, result.Failed),
	}
}
