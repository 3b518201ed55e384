package collect

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/vortex/internal/config"
	"github.com/TobiSchelling/vortex/internal/database"
	"github.com/TobiSchelling/vortex/internal/metrics"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// feedConcurrency bounds simultaneous feed downloads.
const feedConcurrency = 4

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// Result holds the results of a collection run.
type Result struct {
	Feeds       int
	FeedErrors  int
	TotalFound  int
	NewArticles int
	Duplicates  int
	Sources     map[string]int
}

// Collector gathers articles from the feeds stored in the database and,
// optionally, from NewsAPI.
type Collector struct {
	db         *database.DB
	feeds      []config.Feed
	parser     *FeedParser
	newsClient *NewsAPIClient
	newsQuery  string
	daysBack   int
}

// NewCollector creates a collector. Feeds listed in cfg are registered in
// the database on the first Collect.
func NewCollector(cfg *config.Config, db *database.DB, daysBack int) *Collector {
	c := &Collector{
		db:       db,
		feeds:    cfg.Sources.Feeds,
		parser:   NewFeedParser(defaultMaxPerFeed, 25*time.Second),
		daysBack: daysBack,
	}

	apiCfg := cfg.Sources.NewsAPI
	if apiCfg.Enabled {
		c.newsClient = NewNewsAPIClient(os.Getenv(apiCfg.APIKeyEnv), apiCfg.Language)
		c.newsQuery = apiCfg.Query
	}
	return c
}

// SeedFeeds registers every configured feed and its source. Existing rows
// are left alone. Returns the number of feeds added.
func (c *Collector) SeedFeeds() (int, error) {
	added := 0
	for _, f := range c.feeds {
		source := f.Source
		if source == "" {
			source = sourceNameFromURL(f.URL)
		}
		sourceID, err := c.db.UpsertSource(source, source, nil)
		if err != nil {
			return added, err
		}

		var name, category *string
		if f.Name != "" {
			name = &f.Name
		}
		if f.Category != "" {
			category = &f.Category
		}
		id, err := c.db.AddFeed(sourceID, f.URL, name, category)
		if err != nil {
			return added, err
		}
		if id > 0 {
			added++
		}
	}
	return added, nil
}

// Collect fetches every active feed and stores new articles.
func (c *Collector) Collect(ctx context.Context) (*Result, error) {
	r := &Result{Sources: make(map[string]int)}

	if added, err := c.SeedFeeds(); err != nil {
		return nil, err
	} else if added > 0 {
		zap.L().Info("registered configured feeds", zap.Int("added", added))
	}

	feeds, err := c.db.ListActiveFeeds()
	if err != nil {
		return nil, err
	}
	r.Feeds = len(feeds)

	var cutoff time.Time
	if c.daysBack > 0 {
		cutoff = time.Now().AddDate(0, 0, -c.daysBack)
	}

	var (
		mu      sync.Mutex
		entries []Entry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(feedConcurrency)
	for _, feed := range feeds {
		g.Go(func() error {
			parsed, err := c.parser.Parse(gctx, feed.URL, cutoff)

			mu.Lock()
			defer mu.Unlock()
			if rerr := c.db.RecordFeedFetch(feed.ID, err); rerr != nil {
				zap.L().Warn("recording feed fetch", zap.Int64("feed_id", feed.ID), zap.Error(rerr))
			}
			if err != nil {
				r.FeedErrors++
				zap.L().Warn("failed to parse feed", zap.String("url", feed.URL), zap.Error(err))
				return nil
			}
			for i := range parsed {
				parsed[i].SourceID = feed.SourceID
				parsed[i].SourceName = feed.SourceName
			}
			entries = append(entries, parsed...)
			zap.L().Debug("parsed feed", zap.String("url", feed.URL), zap.Int("entries", len(parsed)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.newsClient != nil && c.newsClient.IsConfigured() && c.newsQuery != "" {
		news, err := c.newsClient.Search(ctx, c.newsQuery, max(c.daysBack, 1), 100)
		if err != nil {
			zap.L().Warn("NewsAPI search failed", zap.Error(err))
		}
		entries = append(entries, news...)
	}

	r.TotalFound = len(entries)
	for _, e := range entries {
		id, err := c.db.InsertArticle(toInput(e))
		if err != nil {
			return r, err
		}
		if id > 0 {
			r.NewArticles++
			r.Sources[e.SourceName]++
		} else {
			r.Duplicates++
		}
	}
	metrics.ArticlesCollected.Add(float64(r.NewArticles))

	zap.L().Info("collection complete",
		zap.Int("feeds", r.Feeds),
		zap.Int("found", r.TotalFound),
		zap.Int("new", r.NewArticles),
		zap.Int("duplicates", r.Duplicates),
	)
	return r, nil
}

func toInput(e Entry) database.ArticleInput {
	in := database.ArticleInput{
		URL:    e.URL,
		Title:  e.Title,
		Author: e.Author,
	}
	if e.Subtitle != "" {
		in.Subtitle = &e.Subtitle
	}
	if e.Content != "" {
		in.Content = &e.Content
	}
	if e.PublishedAt != "" {
		in.PublishedAt = &e.PublishedAt
	}
	if e.SourceID != 0 {
		in.SourceID = &e.SourceID
	}
	if e.SourceName != "" {
		in.SourceName = &e.SourceName
	}
	return in
}
