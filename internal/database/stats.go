package database

import (
	"fmt"
	"math"
	"strings"
)

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	var s Stats
	err := db.conn.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM articles),
			(SELECT COUNT(*) FROM articles WHERE embedding IS NOT NULL),
			(SELECT COUNT(*) FROM analyses),
			(SELECT COUNT(*) FROM analyses WHERE is_fake = 1),
			(SELECT COUNT(*) FROM verifications),
			(SELECT COUNT(*) FROM sources),
			(SELECT COUNT(*) FROM rss_feeds WHERE is_active = 1)
	`).Scan(&s.TotalArticles, &s.IndexedArticles, &s.AnalyzedArticles, &s.FakeArticles,
		&s.Verifications, &s.Sources, &s.ActiveFeeds)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Quality summarises how usable the stored articles are as evidence.
type Quality struct {
	Total  int
	Valid  int
	Issues []string
}

// minEvidenceChars is the shortest content considered usable evidence.
const minEvidenceChars = 50

// maxQualityIssues caps the issue list returned by GetQuality.
const maxQualityIssues = 20

// GetQuality checks every article for a title, a URL and usable content.
func (db *DB) GetQuality() (*Quality, error) {
	rows, err := db.conn.Query(
		`SELECT id, title, url, length(COALESCE(content, '')) FROM articles ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	q := &Quality{Issues: []string{}}
	for rows.Next() {
		var (
			id         int64
			title, url string
			contentLen int
		)
		if err := rows.Scan(&id, &title, &url, &contentLen); err != nil {
			return nil, err
		}
		q.Total++

		var issue string
		switch {
		case strings.TrimSpace(title) == "":
			issue = fmt.Sprintf("article %d: missing title", id)
		case contentLen == 0:
			issue = fmt.Sprintf("article %d: missing content", id)
		case strings.TrimSpace(url) == "":
			issue = fmt.Sprintf("article %d: missing URL", id)
		case contentLen < minEvidenceChars:
			issue = fmt.Sprintf("article %d: content too short (%d chars)", id, contentLen)
		default:
			q.Valid++
			continue
		}
		if len(q.Issues) < maxQualityIssues {
			q.Issues = append(q.Issues, issue)
		}
	}
	return q, rows.Err()
}

// Score is the percentage of valid articles, rounded to one decimal.
func (q *Quality) Score() float64 {
	if q.Total == 0 {
		return 0
	}
	return math.Round(float64(q.Valid)/float64(q.Total)*1000) / 10
}
