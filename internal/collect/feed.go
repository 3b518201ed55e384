package collect

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const defaultMaxPerFeed = 30

// Entry is one collected item, ready to be stored as an article.
type Entry struct {
	URL         string
	Title       string
	Subtitle    string
	Author      string
	PublishedAt string // RFC3339 or empty
	Content     string
	SourceID    int64
	SourceName  string
}

// FeedParser fetches and parses RSS/Atom feeds.
type FeedParser struct {
	parser     *gofeed.Parser
	maxPerFeed int
}

// NewFeedParser creates a FeedParser keeping at most maxPerFeed items per feed.
func NewFeedParser(maxPerFeed int, timeout time.Duration) *FeedParser {
	if maxPerFeed <= 0 {
		maxPerFeed = defaultMaxPerFeed
	}
	p := gofeed.NewParser()
	p.UserAgent = userAgent
	if timeout > 0 {
		p.Client = newHTTPClient(timeout)
	}
	return &FeedParser{parser: p, maxPerFeed: maxPerFeed}
}

// Parse fetches feedURL and returns entries published at or after cutoff.
func (fp *FeedParser) Parse(ctx context.Context, feedURL string, cutoff time.Time) ([]Entry, error) {
	feed, err := fp.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, item := range feed.Items {
		if len(entries) >= fp.maxPerFeed {
			break
		}

		entry := parseItem(item)
		if entry == nil {
			continue
		}
		if isWithinWindow(item, cutoff) {
			entries = append(entries, *entry)
		}
	}

	return entries, nil
}

func parseItem(item *gofeed.Item) *Entry {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	if itemURL == "" {
		return nil
	}

	title := htmlToText(item.Title)
	if title == "" {
		return nil
	}

	var published string
	if t := itemTime(item); t != nil {
		published = t.UTC().Format(time.RFC3339)
	}

	e := &Entry{
		URL:         strings.TrimSpace(itemURL),
		Title:       title,
		PublishedAt: published,
		Subtitle:    htmlToText(item.Description),
	}
	if item.Content != "" {
		e.Content = htmlToText(item.Content)
	} else {
		e.Content = e.Subtitle
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		e.Author = strings.TrimSpace(item.Authors[0].Name)
	}
	return e
}

func itemTime(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	return item.UpdatedParsed
}

// isWithinWindow gives undated items the benefit of the doubt.
func isWithinWindow(item *gofeed.Item, cutoff time.Time) bool {
	t := itemTime(item)
	if t == nil || cutoff.IsZero() {
		return true
	}
	return !t.Before(cutoff)
}

// htmlToText renders an HTML fragment as whitespace-normalised text.
func htmlToText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc.Find("script, style").Remove()
	var parts []string
	collectText(doc.Find("body"), &parts)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// collectText gathers text nodes in document order so adjacent block
// elements stay separated by a space.
func collectText(s *goquery.Selection, parts *[]string) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			*parts = append(*parts, c.Text())
			return
		}
		collectText(c, parts)
	})
}

// sourceNameFromURL derives a short source key such as "folha" from a URL.
func sourceNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "rss.", "feeds.", "blog.", "blogs."} {
		host = strings.TrimPrefix(host, prefix)
	}

	return strings.Split(host, ".")[0]
}
