package database

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertSource creates a source or refreshes its display name and URL.
// Returns the source ID.
func (db *DB) UpsertSource(name, displayName string, websiteURL *string) (int64, error) {
	if displayName == "" {
		displayName = name
	}
	_, err := db.conn.Exec(
		`INSERT INTO sources (name, display_name, website_url) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name = excluded.display_name,
			website_url = COALESCE(excluded.website_url, sources.website_url)`,
		name, displayName, websiteURL,
	)
	if err != nil {
		return 0, fmt.Errorf("upserting source %s: %w", name, err)
	}

	var id int64
	if err := db.conn.QueryRow("SELECT id FROM sources WHERE name = ?", name).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetSourceByName returns a source by its unique name.
func (db *DB) GetSourceByName(name string) (*Source, error) {
	row := db.conn.QueryRow(
		`SELECT id, name, display_name, website_url, status, last_checked, is_active
		FROM sources WHERE name = ?`, name,
	)
	s, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListSources returns all sources ordered by name.
func (db *DB) ListSources(activeOnly bool) ([]Source, error) {
	query := `SELECT id, name, display_name, website_url, status, last_checked, is_active FROM sources`
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY name"

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdateSourceStatus records the result of an availability check.
func (db *DB) UpdateSourceStatus(name, status string, checkedAt time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE sources SET status = ?, last_checked = ? WHERE name = ?",
		status, checkedAt.UTC().Format(time.RFC3339), name,
	)
	return err
}

// SetSourceActive enables or disables a source and its feeds.
func (db *DB) SetSourceActive(name string, active bool) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE sources SET is_active = ? WHERE name = ?", active, name); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`UPDATE rss_feeds SET is_active = ?, updated_at = datetime('now')
		WHERE source_id = (SELECT id FROM sources WHERE name = ?)`, active, name,
	); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*Source, error) {
	var s Source
	var status *string
	var active int
	if err := row.Scan(&s.ID, &s.Name, &s.DisplayName, &s.WebsiteURL, &status, &s.LastChecked, &active); err != nil {
		return nil, err
	}
	s.Status = "unknown"
	if status != nil {
		s.Status = *status
	}
	s.IsActive = active != 0
	return &s, nil
}

// AddFeed registers a feed for a source. Returns 0 if the URL already exists.
func (db *DB) AddFeed(sourceID int64, url string, name, category *string) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT OR IGNORE INTO rss_feeds (source_id, feed_url, name, category) VALUES (?, ?, ?, ?)`,
		sourceID, url, name, category,
	)
	if err != nil {
		return 0, fmt.Errorf("adding feed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// ListActiveFeeds returns active feeds of active sources.
func (db *DB) ListActiveFeeds() ([]RSSFeed, error) {
	return db.listFeeds(true)
}

// ListFeeds returns every feed.
func (db *DB) ListFeeds() ([]RSSFeed, error) {
	return db.listFeeds(false)
}

func (db *DB) listFeeds(activeOnly bool) ([]RSSFeed, error) {
	query := `SELECT f.id, f.source_id, s.name, f.feed_url, f.name, f.feed_type, f.category, f.is_active,
		f.last_fetched, f.fetch_count, f.error_count, f.last_error
		FROM rss_feeds f JOIN sources s ON s.id = f.source_id`
	if activeOnly {
		query += " WHERE f.is_active = 1 AND s.is_active = 1"
	}
	query += " ORDER BY s.name, f.id"

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RSSFeed
	for rows.Next() {
		var f RSSFeed
		var active int
		var feedType *string
		if err := rows.Scan(&f.ID, &f.SourceID, &f.SourceName, &f.URL, &f.Name, &feedType, &f.Category,
			&active, &f.LastFetched, &f.FetchCount, &f.ErrorCount, &f.LastError); err != nil {
			return nil, err
		}
		f.IsActive = active != 0
		f.FeedType = "rss2"
		if feedType != nil {
			f.FeedType = *feedType
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RecordFeedFetch updates fetch bookkeeping for a feed. A nil fetchErr
// counts as a successful fetch.
func (db *DB) RecordFeedFetch(feedID int64, fetchErr error) error {
	if fetchErr == nil {
		_, err := db.conn.Exec(
			`UPDATE rss_feeds SET last_fetched = datetime('now'), fetch_count = fetch_count + 1,
			updated_at = datetime('now') WHERE id = ?`, feedID,
		)
		return err
	}

	msg := fetchErr.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	_, err := db.conn.Exec(
		`UPDATE rss_feeds SET error_count = error_count + 1, last_error = ?,
		updated_at = datetime('now') WHERE id = ?`, msg, feedID,
	)
	return err
}
