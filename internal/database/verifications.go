package database

import (
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// InsertVerification appends a verification to the history.
func (db *DB) InsertVerification(v Verification) (int64, error) {
	if v.UserID == "" {
		v.UserID = "default"
	}
	evidence := v.Evidence
	if evidence == nil {
		evidence = []int64{}
	}
	quotes := v.Quotes
	if quotes == nil {
		quotes = []string{}
	}
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return 0, err
	}
	quotesJSON, err := json.Marshal(quotes)
	if err != nil {
		return 0, err
	}

	result, err := db.conn.Exec(
		`INSERT INTO verifications (user_id, claim, verdict, confidence, analysis, evidence, quotes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.UserID, v.Claim, v.Verdict, v.Confidence, v.Analysis, string(evidenceJSON), string(quotesJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting verification: %w", err)
	}
	return result.LastInsertId()
}

// VerificationFilter narrows ListVerifications. Zero fields are ignored.
type VerificationFilter struct {
	UserID  string
	Verdict string
	Limit   int
}

// ListVerifications returns matching verifications, newest first.
func (db *DB) ListVerifications(f VerificationFilter) ([]Verification, error) {
	q := sq.Select("id", "user_id", "claim", "verdict", "confidence", "analysis", "evidence", "quotes", "created_at").
		From("verifications").
		OrderBy("created_at DESC", "id DESC")
	if f.UserID != "" {
		q = q.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.Verdict != "" {
		q = q.Where(sq.Eq{"verdict": f.Verdict})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building history query: %w", err)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Verification
	for rows.Next() {
		var v Verification
		var analysis, evidenceJSON, quotesJSON *string
		if err := rows.Scan(&v.ID, &v.UserID, &v.Claim, &v.Verdict, &v.Confidence,
			&analysis, &evidenceJSON, &quotesJSON, &v.CreatedAt); err != nil {
			return nil, err
		}
		if analysis != nil {
			v.Analysis = *analysis
		}
		if evidenceJSON != nil {
			_ = json.Unmarshal([]byte(*evidenceJSON), &v.Evidence)
		}
		if quotesJSON != nil {
			_ = json.Unmarshal([]byte(*quotesJSON), &v.Quotes)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
