package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/TobiSchelling/vortex/internal/analysis"
	"github.com/TobiSchelling/vortex/internal/database"
	"github.com/TobiSchelling/vortex/internal/verify"
)

const (
	minClaimChars       = 10
	maxClaimChars       = 2000
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	defaultNewsLimit    = 50
	maxNewsLimit        = 200
)

type verifyRequest struct {
	Claim string `json:"claim"`
}

type analyzeRequest struct {
	Limit *int `json:"limit"`
}

type articleJSON struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Source      *string `json:"source"`
	Author      string  `json:"author,omitempty"`
	PublishedAt *string `json:"published_at"`
	Content     string  `json:"content,omitempty"`
}

type historyEntry struct {
	ID          int64    `json:"id"`
	UserID      string   `json:"user_id"`
	Claim       string   `json:"claim"`
	Veredito    string   `json:"veredito"`
	Confianca   int      `json:"confianca"`
	Analise     string   `json:"analise"`
	Evidencias  []string `json:"evidencias"`
	EvidenceIDs []int64  `json:"evidence_ids"`
	CreatedAt   *string  `json:"created_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"version":        s.opts.Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		s.internalError(w, "loading stats", err)
		return
	}

	body := map[string]any{
		"status":         "online",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"auth_enabled":   s.AuthEnabled(),
		"version":        s.opts.Version,
		"stats": map[string]int{
			"total_articles":    stats.TotalArticles,
			"indexed_articles":  stats.IndexedArticles,
			"analyzed_articles": stats.AnalyzedArticles,
			"fake_articles":     stats.FakeArticles,
			"verifications":     stats.Verifications,
			"sources":           stats.Sources,
			"active_feeds":      stats.ActiveFeeds,
		},
	}
	if s.providers != nil {
		body["providers"] = s.providers.Status()
	}
	if s.jobs != nil {
		body["scheduler"] = s.jobs.Info()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	claim := strings.TrimSpace(req.Claim)
	n := utf8.RuneCountInString(claim)
	if n < minClaimChars || n > maxClaimChars {
		writeError(w, http.StatusUnprocessableEntity,
			"claim must be between 10 and 2000 characters")
		return
	}

	userID := userIDFrom(r)
	verdict := s.verifier.VerifyClaim(r.Context(), claim, userID)
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	req := analyzeRequest{}
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}

	limit := analysis.DefaultLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit < 1 || limit > analysis.MaxLimit {
		writeError(w, http.StatusUnprocessableEntity, "limit must be between 1 and 50")
		return
	}

	res, err := s.analyzer.RunBatchAnalysis(r.Context(), limit)
	if err != nil {
		s.internalError(w, "running analysis", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "completed",
		"limit":     limit,
		"processed": res.Processed,
		"fake":      res.Fake,
		"errors":    res.Errors,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, defaultHistoryLimit, maxHistoryLimit)
	if !ok {
		return
	}

	verdict := r.URL.Query().Get("verdict")
	if verdict != "" {
		label, ok := verify.ParseLabel(verdict)
		if !ok && label != verify.LabelError {
			writeError(w, http.StatusUnprocessableEntity,
				"verdict must be one of VERDADEIRO, FALSO, PARCIALMENTE VERDADEIRO, INCONCLUSIVO, ERRO")
			return
		}
	}

	items, err := s.verifier.Search(r.Context(), database.VerificationFilter{
		UserID:  userIDFrom(r),
		Verdict: verdict,
		Limit:   limit,
	})
	if err != nil {
		s.internalError(w, "loading history", err)
		return
	}

	entries := make([]historyEntry, 0, len(items))
	for _, v := range items {
		entries = append(entries, historyEntry{
			ID:          v.ID,
			UserID:      v.UserID,
			Claim:       v.Claim,
			Veredito:    "[" + v.Verdict + "]",
			Confianca:   v.Confidence,
			Analise:     v.Analysis,
			Evidencias:  nonNil(v.Quotes),
			EvidenceIDs: nonNil(v.Evidence),
			CreatedAt:   v.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(entries), "entries": entries})
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, defaultNewsLimit, maxNewsLimit)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := database.ArticleFilter{Limit: limit, Search: strings.TrimSpace(q.Get("search"))}
	if raw := q.Get("since"); raw != "" {
		since, err := parseSince(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity,
				"since must be a date (2006-01-02) or an RFC 3339 timestamp")
			return
		}
		f.Since = since
	}
	if name := strings.TrimSpace(q.Get("source")); name != "" {
		src, err := s.store.GetSourceByName(name)
		if err != nil {
			s.internalError(w, "loading source", err)
			return
		}
		if src == nil {
			writeJSON(w, http.StatusOK, map[string]any{"count": 0, "articles": []articleJSON{}})
			return
		}
		f.SourceID = src.ID
	}

	articles, err := s.store.ListArticles(f)
	if err != nil {
		s.internalError(w, "loading articles", err)
		return
	}

	out := make([]articleJSON, 0, len(articles))
	for _, a := range articles {
		out = append(out, toArticleJSON(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "articles": out})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		writeError(w, http.StatusServiceUnavailable, "Source monitoring is not configured")
		return
	}
	if !s.sources.Checked() {
		if _, err := s.sources.Check(r.Context()); err != nil {
			s.internalError(w, "checking sources", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.sources.Report())
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	q, err := s.store.GetQuality()
	if err != nil {
		s.internalError(w, "checking quality", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":         q.Total,
		"valid":         q.Valid,
		"invalid":       q.Total - q.Valid,
		"quality_score": q.Score(),
		"issues":        q.Issues,
	})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	zap.L().Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

// decodeBody writes the error response itself and reports whether decoding
// succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request too large")
			return false
		}
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return false
	}
	return true
}

func queryLimit(w http.ResponseWriter, r *http.Request, def, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		writeError(w, http.StatusUnprocessableEntity,
			"limit must be an integer between 1 and "+strconv.Itoa(max))
		return 0, false
	}
	return n, true
}

// parseSince converts a date or RFC 3339 timestamp into the UTC layout
// SQLite uses for created_at.
func parseSince(raw string) (string, error) {
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, raw); err != nil {
			return "", err
		}
	}
	return t.UTC().Format(time.DateTime), nil
}

func userIDFrom(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return id
	}
	return verify.DefaultUserID
}

func toArticleJSON(a database.Article) articleJSON {
	out := articleJSON{
		ID:          a.ID,
		Title:       a.Title,
		URL:         a.URL,
		Source:      a.SourceName,
		Author:      a.Author,
		PublishedAt: a.PublishedAt,
	}
	if a.Content != nil {
		out.Content = truncateRunes(*a.Content, 300)
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
