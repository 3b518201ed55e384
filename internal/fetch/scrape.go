package fetch

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// siteLayout names the CSS selectors of a news portal's article page.
type siteLayout struct {
	Title     string
	Subtitle  string
	Body      string
	Paragraph string
}

var siteLayouts = []struct {
	domain string
	layout siteLayout
}{
	{"g1.globo.com", siteLayout{"h1.content-head__title", "h2.content-head__subtitle", "div.mc-article-body", "p.content-text__container"}},
	{"folha.uol.com.br", siteLayout{"h1.c-content-head__title", "h2.c-content-head__subtitle", "div.c-news__body", "p"}},
	{"noticias.uol.com.br", siteLayout{"h1.pg-title", "p.pg-subtitle", "div.text", "p"}},
	{"cnnbrasil.com.br", siteLayout{"h1.post__title", "p.post__excerpt", "div.post__content", "p"}},
	{"estadao.com.br", siteLayout{"h1.n-title", "h2.n-subtitle", "div.n-content", "p"}},
	{"bbc.com", siteLayout{"h1", "", "main", "p"}},
	{"agenciabrasil.ebc.com.br", siteLayout{"h1", "div.linha-fina", "div.conteudo-noticia", "p"}},
	{"tecmundo.com.br", siteLayout{"h1.tec--article__header__title", "div.tec--article__header__description", "div.tec--article__body", "p"}},
	{"tecnoblog.net", siteLayout{"h1", "p.excerpt", "div.texts", "p"}},
	{"olhardigital.com.br", siteLayout{"h1.post-title", "p.post-excerpt", "div.post-content", "p"}},
	{"canaltech.com.br", siteLayout{"h1", "div.c-card__title", "div.c-body", "p"}},
}

var defaultLayout = siteLayout{Title: "h1", Body: "article", Paragraph: "p"}

func layoutFor(host string) siteLayout {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, s := range siteLayouts {
		if strings.Contains(host, s.domain) {
			return s.layout
		}
	}
	return defaultLayout
}

// Paragraphs shorter than this are captions, bylines or share buttons.
const minParagraphChars = 60

var boilerplate = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\(ver mais\)`),
	regexp.MustCompile(`(?i)\(veja mais\)`),
	regexp.MustCompile(`(?i)leia também`),
	regexp.MustCompile(`(?i)veja também`),
	regexp.MustCompile(`(?i)baixe o app`),
	regexp.MustCompile(`(?is)esta reportagem foi produzida.*`),
	regexp.MustCompile(`(?is)caso o leitor opte.*`),
	regexp.MustCompile(`(?is)a globo poderá.*`),
	regexp.MustCompile(`(?is)esclarecemos que a globo.*`),
}

func cleanText(text string) string {
	for _, re := range boilerplate {
		text = re.ReplaceAllString(text, "")
	}
	return strings.Join(strings.Fields(text), " ")
}

// page is what the site scraper extracts from an article page.
type page struct {
	Title     string
	Subtitle  string
	Author    string
	Published string
	Body      string
}

func scrape(doc *goquery.Document, host string) page {
	layout := layoutFor(host)
	ld := articleJSONLD(doc)

	p := page{
		Title:     cleanText(ld.Headline),
		Author:    ld.author(),
		Published: ld.DatePublished,
	}
	if p.Title == "" {
		p.Title = selectText(doc, layout.Title)
	}
	if layout.Subtitle != "" {
		p.Subtitle = selectText(doc, layout.Subtitle)
	}
	p.Body = extractBody(doc, layout)
	return p
}

func selectText(doc *goquery.Document, selector string) string {
	return cleanText(doc.Find(selector).First().Text())
}

func extractBody(doc *goquery.Document, layout siteLayout) string {
	container := doc.Find(layout.Body).First()
	if container.Length() == 0 {
		return ""
	}
	container.Find("script, style, iframe, aside, ul.post-tags, div.social-buttons, div.advertisement").Remove()

	var blocks []string
	seen := make(map[string]bool)
	container.Find(layout.Paragraph).Each(func(_ int, s *goquery.Selection) {
		txt := cleanText(s.Text())
		if len([]rune(txt)) <= minParagraphChars || seen[txt] {
			return
		}
		seen[txt] = true
		blocks = append(blocks, txt)
	})
	return strings.Join(blocks, "\n\n")
}

type jsonLD struct {
	Type          any    `json:"@type"`
	Headline      string `json:"headline"`
	DatePublished string `json:"datePublished"`
	Author        any    `json:"author"`
}

func (ld jsonLD) isArticle() bool {
	switch t := ld.Type.(type) {
	case string:
		return t == "NewsArticle" || t == "Article" || t == "BlogPosting"
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && (jsonLD{Type: s}).isArticle() {
				return true
			}
		}
	}
	return false
}

// author returns the first author name, or "" when none is given.
func (ld jsonLD) author() string {
	a := ld.Author
	if list, ok := a.([]any); ok {
		if len(list) == 0 {
			return ""
		}
		a = list[0]
	}
	switch v := a.(type) {
	case map[string]any:
		name, _ := v["name"].(string)
		return strings.TrimSpace(name)
	case string:
		return strings.TrimSpace(v)
	}
	return ""
}

// articleJSONLD returns the first schema.org article block on the page.
func articleJSONLD(doc *goquery.Document) jsonLD {
	var found jsonLD
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := []byte(strings.TrimSpace(s.Text()))
		if len(raw) == 0 {
			return true
		}

		var list []jsonLD
		if raw[0] == '[' {
			if json.Unmarshal(raw, &list) != nil {
				return true
			}
		} else {
			var one jsonLD
			if json.Unmarshal(raw, &one) != nil {
				return true
			}
			list = []jsonLD{one}
		}
		for _, ld := range list {
			if ld.isArticle() {
				found = ld
				return false
			}
		}
		return true
	})
	return found
}
