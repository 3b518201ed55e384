package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func insert(t *testing.T, db *DB, url, title string, content *string) int64 {
	t.Helper()
	id, err := db.InsertArticle(ArticleInput{URL: url, Title: title, Content: content})
	if err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}
	return id
}

func TestInsertArticle(t *testing.T) {
	db := openTestDB(t)
	id, err := db.InsertArticle(ArticleInput{
		URL:         "https://example.com/test",
		Title:       "Governo anuncia programa",
		Subtitle:    ptr("Resumo"),
		Content:     ptr("Texto da notícia"),
		PublishedAt: ptr("2026-01-27T10:00:00Z"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero article ID")
	}

	a, err := db.GetArticleByID(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Author != DefaultAuthor {
		t.Errorf("expected default author %q, got %q", DefaultAuthor, a.Author)
	}
	if a.Subtitle == nil || *a.Subtitle != "Resumo" {
		t.Error("expected subtitle to be stored")
	}
}

func TestInsertDuplicateArticle(t *testing.T) {
	db := openTestDB(t)
	insert(t, db, "https://example.com/dup", "First", nil)
	id, err := db.InsertArticle(ArticleInput{URL: "https://example.com/dup", Title: "Duplicate"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 0 {
		t.Error("expected 0 for duplicate article")
	}
}

func TestGetArticleByIDMissing(t *testing.T) {
	db := openTestDB(t)
	a, err := db.GetArticleByID(42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != nil {
		t.Error("expected nil for missing article")
	}
}

func TestArticlesNeedingFetch(t *testing.T) {
	db := openTestDB(t)
	insert(t, db, "https://a.com", "No content", nil)
	insert(t, db, "https://b.com", "Short content", ptr("Resumo curto"))
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	insert(t, db, "https://c.com", "Full content", ptr(string(long)))

	needing, err := db.GetArticlesNeedingFetch(200, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(needing) != 2 {
		t.Fatalf("expected 2 articles needing fetch, got %d", len(needing))
	}

	if err := db.UpdateArticleContent(needing[0].ID, ptr(string(long))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := db.MarkArticleFetchAttempted(needing[1].ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	needing, _ = db.GetArticlesNeedingFetch(200, 0)
	if len(needing) != 0 {
		t.Errorf("expected 0 after fetch, got %d", len(needing))
	}
}

func TestEmbeddingLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := insert(t, db, "https://a.com", "A", nil)
	insert(t, db, "https://b.com", "B", nil)

	n, err := db.CountUnembedded()
	if err != nil || n != 2 {
		t.Fatalf("expected 2 unembedded, got %d (%v)", n, err)
	}

	stored, err := db.SetArticleEmbedding(ctx, a, []float32{1, 0, 0})
	if err != nil || !stored {
		t.Fatalf("expected embedding stored, got %v (%v)", stored, err)
	}

	// A second write must not overwrite the first.
	stored, err = db.SetArticleEmbedding(ctx, a, []float32{0, 1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored {
		t.Error("expected second write to be skipped")
	}
	vec, _ := db.GetArticleEmbedding(a)
	if len(vec) != 3 || vec[0] != 1 {
		t.Errorf("expected original embedding, got %v", vec)
	}

	pending, _ := db.GetUnembeddedArticles(10)
	if len(pending) != 1 || pending[0].Title != "B" {
		t.Errorf("expected only B pending, got %+v", pending)
	}

	cleared, err := db.ClearEmbeddings()
	if err != nil || cleared != 1 {
		t.Fatalf("expected 1 cleared, got %d (%v)", cleared, err)
	}
	n, _ = db.CountUnembedded()
	if n != 2 {
		t.Errorf("expected 2 unembedded after clear, got %d", n)
	}
}

func TestSearchSimilar(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	vectors := map[string][]float32{
		"same":       {1, 0, 0},
		"close":      {0.9, 0.1, 0},
		"orthogonal": {0, 1, 0},
		"opposite":   {-1, 0, 0},
	}
	for title, vec := range vectors {
		id := insert(t, db, "https://example.com/"+title, title, nil)
		if _, err := db.SetArticleEmbedding(ctx, id, vec); err != nil {
			t.Fatalf("SetArticleEmbedding: %v", err)
		}
	}
	odd := insert(t, db, "https://example.com/odd", "odd width", nil)
	db.SetArticleEmbedding(ctx, odd, []float32{1, 0})
	insert(t, db, "https://example.com/none", "unembedded", nil)

	results, err := db.SearchSimilar(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Title != "same" || results[1].Title != "close" {
		t.Errorf("unexpected order: %s, %s", results[0].Title, results[1].Title)
	}
	if results[0].Similarity < 0.999 {
		t.Errorf("expected similarity ~1, got %f", results[0].Similarity)
	}

	all, _ := db.SearchSimilar(ctx, []float32{1, 0, 0}, 10)
	if len(all) != 4 {
		t.Errorf("expected mismatched widths skipped, got %d results", len(all))
	}
}

func TestCosineZeroVector(t *testing.T) {
	if got := cosine([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("expected 0 for zero vector, got %f", got)
	}
}

func TestAnalysisLifecycle(t *testing.T) {
	db := openTestDB(t)
	id := insert(t, db, "https://a.com", "Test", nil)

	untouched, _ := db.GetUnanalyzedArticles(10)
	if len(untouched) != 1 {
		t.Fatalf("expected 1 unanalyzed, got %d", len(untouched))
	}

	first := Analysis{
		ArticleID:  id,
		IsFake:     true,
		Confidence: 0.8,
		Reasoning:  "Sensationalist headline",
		Markers:    []string{"clickbait", "no sources"},
		Scores:     Scores{FactualConsistency: 2, LinguisticBias: 8, Sensationalism: 9, SourceCredibility: 3},
	}
	inserted, err := db.InsertAnalysis(first)
	if err != nil || !inserted {
		t.Fatalf("expected insert, got %v (%v)", inserted, err)
	}

	second := first
	second.IsFake = false
	inserted, err = db.InsertAnalysis(second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted {
		t.Error("expected second analysis to be ignored")
	}

	got, err := db.GetAnalysis(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsFake || got.Scores.Sensationalism != 9 || len(got.Markers) != 2 {
		t.Errorf("unexpected analysis: %+v", got)
	}

	untouched, _ = db.GetUnanalyzedArticles(10)
	if len(untouched) != 0 {
		t.Error("expected 0 unanalyzed after analysis")
	}
}

func TestVerificationHistory(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 3; i++ {
		_, err := db.InsertVerification(Verification{
			UserID:     "ana",
			Claim:      fmt.Sprintf("claim %d", i),
			Verdict:    "FALSO",
			Confidence: 80,
			Evidence:   []int64{1, 2},
			Quotes:     []string{"citação"},
		})
		if err != nil {
			t.Fatalf("InsertVerification: %v", err)
		}
	}
	if _, err := db.InsertVerification(Verification{Claim: "anonymous", Verdict: "INCONCLUSIVO"}); err != nil {
		t.Fatalf("InsertVerification: %v", err)
	}

	history, err := db.ListVerifications(VerificationFilter{UserID: "ana", Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].Claim != "claim 2" {
		t.Errorf("expected newest first, got %q", history[0].Claim)
	}
	if len(history[0].Evidence) != 2 || history[0].Quotes[0] != "citação" {
		t.Errorf("unexpected evidence/quotes: %+v", history[0])
	}

	anon, _ := db.ListVerifications(VerificationFilter{UserID: "default"})
	if len(anon) != 1 || anon[0].Verdict != "INCONCLUSIVO" {
		t.Errorf("expected default user entry, got %+v", anon)
	}
}

func TestSourcesAndFeeds(t *testing.T) {
	db := openTestDB(t)

	id, err := db.UpsertSource("g1", "G1", ptr("https://g1.globo.com"))
	if err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}
	again, _ := db.UpsertSource("g1", "G1 Globo", nil)
	if again != id {
		t.Errorf("expected upsert to keep id %d, got %d", id, again)
	}
	src, _ := db.GetSourceByName("g1")
	if src.DisplayName != "G1 Globo" || src.WebsiteURL == nil {
		t.Errorf("unexpected source: %+v", src)
	}

	feedID, err := db.AddFeed(id, "https://g1.globo.com/rss/g1/", ptr("G1"), ptr("geral"))
	if err != nil || feedID == 0 {
		t.Fatalf("AddFeed: %d (%v)", feedID, err)
	}
	dup, _ := db.AddFeed(id, "https://g1.globo.com/rss/g1/", nil, nil)
	if dup != 0 {
		t.Error("expected 0 for duplicate feed")
	}

	db.RecordFeedFetch(feedID, nil)
	db.RecordFeedFetch(feedID, errors.New("timeout"))
	feeds, _ := db.ListActiveFeeds()
	if len(feeds) != 1 {
		t.Fatalf("expected 1 feed, got %d", len(feeds))
	}
	f := feeds[0]
	if f.FetchCount != 1 || f.ErrorCount != 1 || f.LastError == nil || f.SourceName != "g1" || f.FeedType != "rss2" {
		t.Errorf("unexpected feed bookkeeping: %+v", f)
	}

	if err := db.SetSourceActive("g1", false); err != nil {
		t.Fatalf("SetSourceActive: %v", err)
	}
	feeds, _ = db.ListActiveFeeds()
	if len(feeds) != 0 {
		t.Error("expected no active feeds after disabling source")
	}

	if err := db.UpdateSourceStatus("g1", "online", time.Now()); err != nil {
		t.Fatalf("UpdateSourceStatus: %v", err)
	}
	src, _ = db.GetSourceByName("g1")
	if src.Status != "online" || src.LastChecked == nil {
		t.Errorf("expected status recorded, got %+v", src)
	}
}

func TestListArticlesFilter(t *testing.T) {
	db := openTestDB(t)
	srcID, _ := db.UpsertSource("folha", "Folha", nil)
	db.InsertArticle(ArticleInput{URL: "https://a.com", Title: "Economia cresce", SourceID: &srcID})
	db.InsertArticle(ArticleInput{URL: "https://b.com", Title: "Chuva em SP"})

	bySource, err := db.ListArticles(ArticleFilter{SourceID: srcID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bySource) != 1 {
		t.Errorf("expected 1 article for source, got %d", len(bySource))
	}

	bySearch, _ := db.ListArticles(ArticleFilter{Search: "Chuva"})
	if len(bySearch) != 1 || bySearch[0].URL != "https://b.com" {
		t.Errorf("unexpected search result: %+v", bySearch)
	}

	latest, _ := db.ListArticles(ArticleFilter{Limit: 1})
	if len(latest) != 1 {
		t.Errorf("expected limit to apply, got %d", len(latest))
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := insert(t, db, "https://a.com", "A", nil)
	insert(t, db, "https://b.com", "B", nil)
	db.SetArticleEmbedding(ctx, a, []float32{1})
	db.InsertAnalysis(Analysis{ArticleID: a, IsFake: true})
	db.InsertVerification(Verification{Claim: "x", Verdict: "FALSO"})

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalArticles != 2 || stats.IndexedArticles != 1 || stats.AnalyzedArticles != 1 ||
		stats.FakeArticles != 1 || stats.Verifications != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestGetQuality(t *testing.T) {
	db := openTestDB(t)
	good := strings.Repeat("conteúdo relevante ", 10)
	short := "curto"
	insert(t, db, "https://a.com", "A", &good)
	insert(t, db, "https://b.com", "B", &short)
	insert(t, db, "https://c.com", "C", nil)

	q, err := db.GetQuality()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Total != 3 || q.Valid != 1 {
		t.Errorf("unexpected quality: %+v", q)
	}
	if len(q.Issues) != 2 {
		t.Errorf("expected 2 issues, got %v", q.Issues)
	}
	if q.Score() != 33.3 {
		t.Errorf("expected score 33.3, got %v", q.Score())
	}
}

func TestSimilarArticles(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := insert(t, db, "https://a.com", "A", nil)
	b := insert(t, db, "https://b.com", "B", nil)
	c := insert(t, db, "https://c.com", "C", nil)
	none := insert(t, db, "https://d.com", "D", nil)
	db.SetArticleEmbedding(ctx, a, []float32{1, 0})
	db.SetArticleEmbedding(ctx, b, []float32{0.9, 0.1})
	db.SetArticleEmbedding(ctx, c, []float32{0, 1})

	got, err := db.SimilarArticles(ctx, a, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != b {
		t.Errorf("expected B as nearest neighbour, got %+v", got)
	}

	got, err = db.SimilarArticles(ctx, none, 3)
	if err != nil || got != nil {
		t.Errorf("expected nil for an unindexed article, got %v (%v)", got, err)
	}
}
