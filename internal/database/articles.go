package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

const articleSelect = `a.id, a.url, a.title, a.subtitle, a.author, a.content, a.content_fetched,
	a.published_at, a.source_id, a.source_name, a.indexed_at, a.created_at`

// InsertArticle stores an article. Returns the ID on success, 0 if the URL
// is already known.
func (db *DB) InsertArticle(in ArticleInput) (int64, error) {
	author := in.Author
	if strings.TrimSpace(author) == "" {
		author = DefaultAuthor
	}
	result, err := db.conn.Exec(
		`INSERT OR IGNORE INTO articles (url, title, subtitle, author, content, published_at, source_id, source_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.URL, in.Title, in.Subtitle, author, in.Content, in.PublishedAt, in.SourceID, in.SourceName,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting article: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// DefaultAuthor is stored when a feed item names no author.
const DefaultAuthor = "Redação"

// GetArticleByID returns a single article by ID.
func (db *DB) GetArticleByID(articleID int64) (*Article, error) {
	row := db.conn.QueryRow(`SELECT `+articleSelect+` FROM articles a WHERE a.id = ?`, articleID)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ArticleFilter narrows ListArticles. Zero fields are ignored.
type ArticleFilter struct {
	Limit    int
	SourceID int64
	Since    string
	Search   string
}

// ListArticles returns the newest articles matching f.
func (db *DB) ListArticles(f ArticleFilter) ([]Article, error) {
	q := sq.Select(articleSelect).From("articles a").OrderBy("a.created_at DESC", "a.id DESC")
	if f.SourceID != 0 {
		q = q.Where(sq.Eq{"a.source_id": f.SourceID})
	}
	if f.Since != "" {
		q = q.Where(sq.GtOrEq{"a.created_at": f.Since})
	}
	if f.Search != "" {
		q = q.Where(sq.Like{"a.title": "%" + f.Search + "%"})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building article query: %w", err)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// GetArticlesNeedingFetch returns articles whose stored content is shorter
// than minChars and that have not been fetched yet.
func (db *DB) GetArticlesNeedingFetch(minChars, limit int) ([]Article, error) {
	query := `SELECT ` + articleSelect + ` FROM articles a
		WHERE (a.content IS NULL OR length(a.content) < ?) AND a.content_fetched = 0
		ORDER BY a.created_at DESC`
	args := []any{minChars}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// UpdateArticleContent updates article content after fetching.
func (db *DB) UpdateArticleContent(articleID int64, content *string) error {
	_, err := db.conn.Exec(
		"UPDATE articles SET content = ?, content_fetched = 1 WHERE id = ?",
		content, articleID,
	)
	return err
}

// MarkArticleFetchAttempted marks that we tried to fetch content.
func (db *DB) MarkArticleFetchAttempted(articleID int64) error {
	_, err := db.conn.Exec(
		"UPDATE articles SET content_fetched = 1 WHERE id = ?", articleID,
	)
	return err
}

// CountUnembedded returns how many articles still lack an embedding.
func (db *DB) CountUnembedded() (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM articles WHERE embedding IS NULL").Scan(&n)
	return n, err
}

// GetUnembeddedArticles returns up to limit articles without an embedding,
// oldest first.
func (db *DB) GetUnembeddedArticles(limit int) ([]Article, error) {
	rows, err := db.conn.Query(
		`SELECT `+articleSelect+` FROM articles a WHERE a.embedding IS NULL ORDER BY a.id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// SetArticleEmbedding stores vec for an article in its own transaction. It
// only writes when the article has no embedding yet and reports whether it
// did.
func (db *DB) SetArticleEmbedding(ctx context.Context, articleID int64, vec []float32) (bool, error) {
	encoded, err := encodeEmbedding(vec)
	if err != nil {
		return false, err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE articles SET embedding = ?, indexed_at = datetime('now')
		WHERE id = ? AND embedding IS NULL`,
		encoded, articleID,
	)
	if err != nil {
		return false, fmt.Errorf("storing embedding: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

// GetArticleEmbedding returns the stored vector, or nil when unset.
func (db *DB) GetArticleEmbedding(articleID int64) ([]float32, error) {
	var raw sql.NullString
	err := db.conn.QueryRow("SELECT embedding FROM articles WHERE id = ?", articleID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !raw.Valid {
		return nil, nil
	}
	return decodeEmbedding(raw.String)
}

// ClearEmbeddings removes every stored vector so the next indexing run
// rebuilds them. Returns the number of articles cleared.
func (db *DB) ClearEmbeddings() (int64, error) {
	result, err := db.conn.Exec("UPDATE articles SET embedding = NULL, indexed_at = NULL WHERE embedding IS NOT NULL")
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SearchSimilar returns the k articles whose embeddings are closest to vec
// by cosine similarity, most similar first. Stored vectors of a different
// width are skipped.
func (db *DB) SearchSimilar(ctx context.Context, vec []float32, k int) ([]ScoredArticle, error) {
	if k <= 0 || len(vec) == 0 {
		return nil, nil
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+articleSelect+`, a.embedding FROM articles a WHERE a.embedding IS NOT NULL`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []ScoredArticle
	for rows.Next() {
		var a Article
		var fetched int
		var raw string
		if err := rows.Scan(&a.ID, &a.URL, &a.Title, &a.Subtitle, &a.Author, &a.Content, &fetched,
			&a.PublishedAt, &a.SourceID, &a.SourceName, &a.IndexedAt, &a.CreatedAt, &raw); err != nil {
			return nil, err
		}
		a.ContentFetched = fetched != 0

		stored, err := decodeEmbedding(raw)
		if err != nil || len(stored) != len(vec) {
			continue
		}
		scored = append(scored, ScoredArticle{Article: a, Similarity: cosine(vec, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// SimilarArticles returns the k indexed articles closest to the stored
// embedding of articleID, excluding the article itself. It returns nil when
// the article has no embedding.
func (db *DB) SimilarArticles(ctx context.Context, articleID int64, k int) ([]ScoredArticle, error) {
	vec, err := db.GetArticleEmbedding(articleID)
	if err != nil || vec == nil {
		return nil, err
	}
	hits, err := db.SearchSimilar(ctx, vec, k+1)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredArticle, 0, k)
	for _, h := range hits {
		if h.ID != articleID && len(out) < k {
			out = append(out, h)
		}
	}
	return out, nil
}

// GetUnanalyzedArticles returns up to limit articles without an analysis,
// newest first.
func (db *DB) GetUnanalyzedArticles(limit int) ([]Article, error) {
	rows, err := db.conn.Query(
		`SELECT `+articleSelect+`
		FROM articles a LEFT JOIN analyses an ON a.id = an.article_id
		WHERE an.article_id IS NULL
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

func scanArticles(rows *sql.Rows) ([]Article, error) {
	var articles []Article
	for rows.Next() {
		var a Article
		var fetched int
		if err := rows.Scan(&a.ID, &a.URL, &a.Title, &a.Subtitle, &a.Author, &a.Content, &fetched,
			&a.PublishedAt, &a.SourceID, &a.SourceName, &a.IndexedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.ContentFetched = fetched != 0
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func scanArticle(row *sql.Row) (*Article, error) {
	var a Article
	var fetched int
	if err := row.Scan(&a.ID, &a.URL, &a.Title, &a.Subtitle, &a.Author, &a.Content, &fetched,
		&a.PublishedAt, &a.SourceID, &a.SourceName, &a.IndexedAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.ContentFetched = fetched != 0
	return &a, nil
}
