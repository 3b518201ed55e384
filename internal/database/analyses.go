package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// InsertAnalysis stores an analysis. An article keeps its first analysis:
// a second insert for the same article is a no-op and reports false.
func (db *DB) InsertAnalysis(a Analysis) (bool, error) {
	markers := a.Markers
	if markers == nil {
		markers = []string{}
	}
	markersJSON, err := json.Marshal(markers)
	if err != nil {
		return false, err
	}
	scoresJSON, err := json.Marshal(a.Scores)
	if err != nil {
		return false, err
	}

	result, err := db.conn.Exec(
		`INSERT INTO analyses (article_id, is_fake, confidence, reasoning, markers, scores)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(article_id) DO NOTHING`,
		a.ArticleID, a.IsFake, a.Confidence, a.Reasoning, string(markersJSON), string(scoresJSON),
	)
	if err != nil {
		return false, fmt.Errorf("inserting analysis: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetAnalysis returns the analysis for an article.
func (db *DB) GetAnalysis(articleID int64) (*Analysis, error) {
	row := db.conn.QueryRow(
		`SELECT id, article_id, is_fake, confidence, reasoning, markers, scores, analyzed_at
		FROM analyses WHERE article_id = ?`, articleID,
	)

	var a Analysis
	var isFake int
	var reasoning, markersJSON, scoresJSON *string
	if err := row.Scan(&a.ID, &a.ArticleID, &isFake, &a.Confidence, &reasoning,
		&markersJSON, &scoresJSON, &a.AnalyzedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	a.IsFake = isFake != 0
	if reasoning != nil {
		a.Reasoning = *reasoning
	}
	if markersJSON != nil {
		if err := json.Unmarshal([]byte(*markersJSON), &a.Markers); err != nil {
			a.Markers = nil
		}
	}
	if scoresJSON != nil {
		_ = json.Unmarshal([]byte(*scoresJSON), &a.Scores)
	}
	return &a, nil
}
