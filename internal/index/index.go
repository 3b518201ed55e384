// Package index embeds stored articles so they can be retrieved as evidence.
package index

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/TobiSchelling/vortex/internal/database"
	"github.com/TobiSchelling/vortex/internal/llm"
	"github.com/TobiSchelling/vortex/internal/metrics"
)

const (
	minConcurrency = 3
	maxConcurrency = 10
)

// Embedder produces fixed-width embeddings. *llm.Manager satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	TargetDimensions() int
}

// Mirror receives every stored embedding, e.g. a Qdrant collection.
type Mirror interface {
	Upsert(ctx context.Context, a database.Article, vec []float32) error
}

// Store is the subset of the database the indexer needs.
type Store interface {
	CountUnembedded() (int, error)
	GetUnembeddedArticles(limit int) ([]database.Article, error)
	SetArticleEmbedding(ctx context.Context, articleID int64, vec []float32) (bool, error)
}

// Options tune batching and pacing. Zero delays disable the pauses.
type Options struct {
	BatchSize   int
	Concurrency int
	EmbedDelay  time.Duration
	BatchDelay  time.Duration
}

// Result summarises one indexing run.
type Result struct {
	Pending   int
	Processed int
	Indexed   int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// Indexer embeds unembedded articles in bounded batches.
type Indexer struct {
	store    Store
	embedder Embedder
	mirror   Mirror
	opts     Options
}

// New creates an Indexer. Concurrency is clamped to 3-10.
func New(store Store, embedder Embedder, opts Options) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	opts.Concurrency = min(max(opts.Concurrency, minConcurrency), maxConcurrency)
	return &Indexer{store: store, embedder: embedder, opts: opts}
}

// WithMirror makes the indexer copy each stored embedding to m.
func (ix *Indexer) WithMirror(m Mirror) *Indexer {
	ix.mirror = m
	return ix
}

// DocumentText is the canonical text embedded for an article.
func DocumentText(a database.Article) string {
	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(a.Title)
	b.WriteString("\nSubtitle: ")
	if a.Subtitle != nil {
		b.WriteString(*a.Subtitle)
	}
	b.WriteString("\nContent: ")
	if a.Content != nil {
		b.WriteString(*a.Content)
	}
	return b.String()
}

// IndexDocuments embeds up to limit articles (0 means all). Per-article
// failures are counted, skipped for the rest of the run and left for the
// next one. The run ends early only when every article of a batch failed
// because no embedding provider was left.
func (ix *Indexer) IndexDocuments(ctx context.Context, limit int) (*Result, error) {
	start := time.Now()
	res := &Result{}

	pending, err := ix.store.CountUnembedded()
	if err != nil {
		return nil, err
	}
	res.Pending = pending
	if pending == 0 {
		zap.L().Info("all articles already indexed")
		return res, nil
	}

	total := pending
	if limit > 0 && limit < total {
		total = limit
	}
	zap.L().Info("indexing articles",
		zap.Int("pending", pending),
		zap.Int("target", total),
		zap.Int("concurrency", ix.opts.Concurrency),
	)

	p := &progress{total: total, start: start}
	failed := make(map[int64]bool)
	for res.Processed < total {
		size := min(ix.opts.BatchSize, total-res.Processed)
		// Articles that failed earlier in this run stay unembedded and
		// would come back first; over-fetch and drop them.
		rows, err := ix.store.GetUnembeddedArticles(size + len(failed))
		if err != nil {
			return res, err
		}
		batch := make([]database.Article, 0, size)
		for _, a := range rows {
			if !failed[a.ID] && len(batch) < size {
				batch = append(batch, a)
			}
		}
		if len(batch) == 0 {
			break
		}

		exhausted, err := ix.runBatch(ctx, batch, res, p, failed)
		if err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
		if exhausted == len(batch) {
			zap.L().Error("no embedding provider left, stopping", zap.Int("batch", len(batch)))
			break
		}

		if res.Processed < total && ix.opts.BatchDelay > 0 {
			if err := sleep(ctx, ix.opts.BatchDelay); err != nil {
				res.Duration = time.Since(start)
				return res, err
			}
		}
	}

	res.Duration = time.Since(start)
	zap.L().Info("indexing complete",
		zap.Int("processed", res.Processed),
		zap.Int("indexed", res.Indexed),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// runBatch embeds one slice of articles concurrently and returns how many
// failed because every provider was exhausted.
func (ix *Indexer) runBatch(ctx context.Context, batch []database.Article, res *Result, p *progress, failed map[int64]bool) (int, error) {
	sem := semaphore.NewWeighted(int64(ix.opts.Concurrency))
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		exhausted int
	)

	for _, a := range batch {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return exhausted, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			outcome, noProvider := ix.indexOne(ctx, a)

			mu.Lock()
			res.Processed++
			if noProvider {
				exhausted++
			}
			switch outcome {
			case "success":
				res.Indexed++
			case "skipped":
				res.Skipped++
			default:
				res.Failed++
				failed[a.ID] = true
			}
			p.log(res.Processed)
			mu.Unlock()
			metrics.ArticlesIndexed.WithLabelValues(outcome).Inc()

			if ix.opts.EmbedDelay > 0 {
				_ = sleep(ctx, ix.opts.EmbedDelay)
			}
		}()
	}
	wg.Wait()
	return exhausted, ctx.Err()
}

// indexOne embeds and stores one article. The flag reports a failure caused
// by running out of providers.
func (ix *Indexer) indexOne(ctx context.Context, a database.Article) (string, bool) {
	vec, err := ix.embedder.Embed(ctx, DocumentText(a))
	if err != nil {
		if errors.Is(err, llm.ErrAllProvidersExhausted) {
			zap.L().Error("no embedding provider left", zap.Int64("article_id", a.ID), zap.Error(err))
			return "failure", true
		}
		zap.L().Warn("embedding failed", zap.Int64("article_id", a.ID), zap.Error(err))
		return "failure", false
	}
	if err := llm.Validate(vec, ix.embedder.TargetDimensions()); err != nil {
		zap.L().Warn("invalid embedding", zap.Int64("article_id", a.ID), zap.Error(err))
		return "failure", false
	}

	stored, err := ix.store.SetArticleEmbedding(ctx, a.ID, vec)
	if err != nil {
		zap.L().Warn("storing embedding", zap.Int64("article_id", a.ID), zap.Error(err))
		return "failure", false
	}
	if !stored {
		return "skipped", false
	}

	if ix.mirror != nil {
		if err := ix.mirror.Upsert(ctx, a, vec); err != nil {
			zap.L().Warn("mirroring embedding", zap.Int64("article_id", a.ID), zap.Error(err))
		}
	}
	return "success", false
}

type progress struct {
	total int
	start time.Time
}

func (p *progress) log(done int) {
	elapsed := time.Since(p.start)
	rate := float64(done) / elapsed.Seconds()
	var eta time.Duration
	if rate > 0 {
		eta = time.Duration(float64(p.total-done) / rate * float64(time.Second))
	}
	zap.L().Info("indexing progress",
		zap.Int("done", done),
		zap.Int("total", p.total),
		zap.Float64("per_second", rate),
		zap.Duration("eta", eta.Round(time.Second)),
	)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
