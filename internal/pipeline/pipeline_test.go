package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/vortex/internal/config"
	"github.com/TobiSchelling/vortex/internal/database"
	"github.com/TobiSchelling/vortex/internal/llm"
)

type mockModel struct {
	mu     sync.Mutex
	embeds int
}

func (m *mockModel) GenerateJSON(context.Context, string, llm.GenerateOptions) (map[string]any, error) {
	return map[string]any{
		"is_fake":          false,
		"confidence_score": 0.8,
		"reasoning":        "Consistent with sources",
		"detected_markers": []any{},
		"scores": map[string]any{
			"factual_consistency": float64(9),
			"linguistic_bias":     float64(1),
			"sensationalism":      float64(1),
			"source_credibility":  float64(9),
		},
	}, nil
}

func (m *mockModel) Embed(context.Context, string) ([]float32, error) {
	m.mu.Lock()
	m.embeds++
	m.mu.Unlock()
	return []float32{1, 0, 0, 0}, nil
}

func (m *mockModel) TargetDimensions() int { return 4 }

func newsSite(t *testing.T) *httptest.Server {
	t.Helper()
	paragraph := strings.Repeat("Segundo o relatório oficial divulgado hoje, os números confirmam a tendência. ", 3)
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/rss":
			fmt.Fprintf(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>T</title>
<item><title>Relatório confirma tendência</title><link>%[1]s/noticia/1</link><description>Resumo.</description></item>
<item><title>Outra notícia</title><link>%[1]s/noticia/2</link><description>Resumo.</description></item>
</channel></rss>`, srv.URL)
		case strings.HasPrefix(r.URL.Path, "/noticia/"):
			fmt.Fprintf(w, `<html><body><article><h1>Título</h1><p>%s</p><p>%s</p><p>%s</p></article></body></html>`,
				paragraph, strings.ToUpper(paragraph), strings.ToLower(paragraph)+r.URL.Path)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(feedURL string) *config.Config {
	return &config.Config{
		Sources:   config.Sources{Feeds: []config.Feed{{URL: feedURL, Source: "teste"}}},
		Index:     config.Index{BatchSize: 10, Concurrency: 3},
		Analysis:  config.Analysis{Concurrency: 2},
		Scheduler: config.Scheduler{AnalysisLimit: 10},
	}
}

func openDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunAllSteps(t *testing.T) {
	srv := newsSite(t)
	db := openDB(t)
	model := &mockModel{}

	r := New(testConfig(srv.URL+"/rss"), db, model, 0).Run(context.Background())
	require.Len(t, r.Steps, 4)
	assert.False(t, r.Failed())
	for _, s := range r.Steps {
		assert.NoError(t, s.Err, s.Name)
	}
	assert.Contains(t, r.Steps[0].Summary, "Found 2 new articles")
	assert.Contains(t, r.Steps[1].Summary, "Fetched 2 articles")

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalArticles)
	assert.Equal(t, 2, stats.AnalyzedArticles)
	assert.Equal(t, 2, stats.IndexedArticles)
	assert.Equal(t, 2, model.embeds)
}

func TestRunStopsWhenCollectFails(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.Close())

	r := New(testConfig("http://127.0.0.1:1/rss"), db, &mockModel{}, 0).Run(context.Background())
	require.Len(t, r.Steps, 1)
	assert.Error(t, r.Steps[0].Err)
	assert.True(t, r.Failed())
}

func TestDryRun(t *testing.T) {
	db := openDB(t)
	for i := 0; i < 3; i++ {
		_, err := db.InsertArticle(database.ArticleInput{URL: fmt.Sprintf("https://example.com/%d", i), Title: "T"})
		require.NoError(t, err)
	}

	model := &mockModel{}
	r := New(testConfig("https://example.com/rss"), db, model, 0).DryRun()
	require.Len(t, r.Steps, 4)
	assert.Equal(t, "[dry-run] 0 active feeds would be fetched", r.Steps[0].Summary)
	assert.Equal(t, "[dry-run] 3 articles need content fetching", r.Steps[1].Summary)
	assert.Equal(t, "[dry-run] 3 articles would be analyzed", r.Steps[2].Summary)
	assert.Equal(t, "[dry-run] 3 articles need embeddings", r.Steps[3].Summary)
	assert.Zero(t, model.embeds)
}
