package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/vortex/internal/database"
)

var longParagraph = strings.Repeat("O governo federal anunciou nesta segunda-feira um novo pacote econômico. ", 3)

const g1Page = `<html><head>
<script type="application/ld+json">[{"@type":"BreadcrumbList"},{"@type":"NewsArticle","headline":"Pacote econômico é anunciado","datePublished":"2026-10-18T09:00:00-03:00","author":[{"@type":"Person","name":"Joana Reis"}]}]</script>
</head><body>
<h1 class="content-head__title">Título da página</h1>
<h2 class="content-head__subtitle">Medidas valem a partir de janeiro</h2>
<div class="mc-article-body">
  <p class="content-text__container">%s</p>
  <p class="content-text__container">%s</p>
  <p class="content-text__container">Curto demais.</p>
  <p class="content-text__container">%s Leia também</p>
  <p class="content-text__container">%s</p>
  <script>var x = 1;</script>
</div>
</body></html>`

func g1HTML() string {
	second := strings.Replace(longParagraph, "segunda", "terça", 1)
	third := strings.Replace(longParagraph, "segunda", "quarta", 1)
	return fmt.Sprintf(g1Page, longParagraph, longParagraph, second, third)
}

func TestScrapeSiteLayout(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(g1HTML()))
	require.NoError(t, err)

	p := scrape(doc, "g1.globo.com")
	assert.Equal(t, "Pacote econômico é anunciado", p.Title)
	assert.Equal(t, "Medidas valem a partir de janeiro", p.Subtitle)
	assert.Equal(t, "Joana Reis", p.Author)
	assert.Equal(t, "2026-10-18T09:00:00-03:00", p.Published)

	blocks := strings.Split(p.Body, "\n\n")
	require.Len(t, blocks, 3, "duplicate and short paragraphs are dropped")
	assert.NotContains(t, p.Body, "Leia também")
	assert.NotContains(t, p.Body, "var x")
}

func TestLayoutFor(t *testing.T) {
	assert.Equal(t, "div.c-news__body", layoutFor("www1.folha.uol.com.br").Body)
	assert.Equal(t, "div.mc-article-body", layoutFor("g1.globo.com").Body)
	assert.Equal(t, defaultLayout, layoutFor("example.org"))
}

func TestJSONLDAuthorForms(t *testing.T) {
	assert.Equal(t, "Ana", jsonLD{Author: map[string]any{"name": "Ana"}}.author())
	assert.Equal(t, "Bia", jsonLD{Author: "Bia"}.author())
	assert.Equal(t, "", jsonLD{Author: []any{}}.author())
	assert.True(t, jsonLD{Type: []any{"Thing", "Article"}}.isArticle())
	assert.False(t, jsonLD{Type: "WebPage"}.isArticle())
}

func TestExtractFallsBackToReadability(t *testing.T) {
	html := `<html><head><title>Sem layout</title></head><body><div id="main"><p>` +
		strings.Repeat("Texto corrido de uma notícia sem marcação conhecida. ", 20) +
		`</p><p>` + strings.Repeat("Mais um parágrafo com conteúdo relevante. ", 20) + `</p></div></body></html>`
	u, _ := url.Parse("https://example.org/noticia")

	text := extract([]byte(html), u)
	assert.Contains(t, text, "Texto corrido")
}

func TestFetchMissingContent(t *testing.T) {
	var brokenHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")
		_, _ = w.Write([]byte(g1HTML()))
	}))
	defer srv.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		brokenHits++
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer broken.Close()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	teaser := "Resumo curto."
	long := strings.Repeat("x", 300)
	for _, in := range []database.ArticleInput{
		{URL: srv.URL + "/a", Title: "A", Content: &teaser},
		{URL: broken.URL + "/b", Title: "B"},
		{URL: broken.URL + "/c", Title: "C"},
		{URL: srv.URL + "/d", Title: "D", Content: &long},
	} {
		_, err := db.InsertArticle(in)
		require.NoError(t, err)
	}

	f := NewContentFetcher(db, 0)
	r, err := f.FetchMissingContent(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Fetched)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 1, brokenHits, "failed domain is not retried in the same run")

	again, err := f.FetchMissingContent(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Result{}, *again)

	articles, err := db.ListArticles(database.ArticleFilter{Limit: 10})
	require.NoError(t, err)
	for _, a := range articles {
		if a.Title == "A" {
			require.NotNil(t, a.Content)
			assert.Contains(t, *a.Content, "pacote econômico")
			assert.True(t, a.ContentFetched)
		}
	}
}
