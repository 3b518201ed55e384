package database

import (
	"database/sql"
	"fmt"
)

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    display_name TEXT NOT NULL,
    website_url TEXT,
    status TEXT DEFAULT 'unknown',
    last_checked TEXT,
    is_active INTEGER DEFAULT 1,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS rss_feeds (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id INTEGER NOT NULL REFERENCES sources(id),
    feed_url TEXT UNIQUE NOT NULL,
    name TEXT,
    feed_type TEXT DEFAULT 'rss2',
    category TEXT,
    is_active INTEGER DEFAULT 1,
    last_fetched TEXT,
    fetch_count INTEGER DEFAULT 0,
    error_count INTEGER DEFAULT 0,
    last_error TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    subtitle TEXT,
    author TEXT DEFAULT 'Redação',
    content TEXT,
    content_fetched INTEGER DEFAULT 0,
    published_at TEXT,
    source_id INTEGER REFERENCES sources(id),
    source_name TEXT,
    embedding TEXT,
    indexed_at TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS analyses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    article_id INTEGER UNIQUE NOT NULL REFERENCES articles(id),
    is_fake INTEGER NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0,
    reasoning TEXT,
    markers TEXT,
    scores TEXT,
    analyzed_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS verifications (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL DEFAULT 'default',
    claim TEXT NOT NULL,
    verdict TEXT NOT NULL,
    confidence INTEGER DEFAULT 0,
    analysis TEXT,
    evidence TEXT,
    quotes TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_rss_feeds_source ON rss_feeds(source_id);
CREATE INDEX IF NOT EXISTS idx_verifications_user ON verifications(user_id, created_at);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "article columns and indexes",
		Up: func(tx *sql.Tx) error {
			if err := addMissingColumns(tx, "articles", articleColumns); err != nil {
				return err
			}
			_, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_articles_url ON articles(url);
CREATE INDEX IF NOT EXISTS idx_articles_created ON articles(created_at);
CREATE INDEX IF NOT EXISTS idx_articles_unembedded ON articles(id) WHERE embedding IS NULL;
`)
			return err
		},
	},
}

type columnDef struct {
	name string
	decl string
}

// articleColumns are the articles columns that legacy databases may lack.
var articleColumns = []columnDef{
	{"subtitle", "TEXT"},
	{"author", "TEXT DEFAULT 'Redação'"},
	{"content", "TEXT"},
	{"content_fetched", "INTEGER DEFAULT 0"},
	{"published_at", "TEXT"},
	{"source_id", "INTEGER REFERENCES sources(id)"},
	{"source_name", "TEXT"},
	{"embedding", "TEXT"},
	{"indexed_at", "TEXT"},
	{"created_at", "TEXT"},
}

// addMissingColumns adds each column of cols not already present in table.
func addMissingColumns(tx *sql.Tx, table string, cols []columnDef) error {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("reading %s columns: %w", table, err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, ctype      string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, c := range cols {
		if existing[c.name] {
			continue
		}
		if _, err := tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.decl)); err != nil {
			return fmt.Errorf("adding %s.%s: %w", table, c.name, err)
		}
	}
	return nil
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
