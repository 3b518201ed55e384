package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TobiSchelling/vortex/internal/analysis"
	"github.com/TobiSchelling/vortex/internal/database"
	"github.com/TobiSchelling/vortex/internal/scheduler"
	"github.com/TobiSchelling/vortex/internal/verify"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

type fakeVerifier struct {
	claims  []string
	users   []string
	filters []database.VerificationFilter
	history []database.Verification
}

func (f *fakeVerifier) VerifyClaim(_ context.Context, claim, userID string) *verify.Verdict {
	f.claims = append(f.claims, claim)
	f.users = append(f.users, userID)
	return &verify.Verdict{
		Veredito:   "[FALSO]",
		Analise:    "Nenhuma fonte confirma.",
		Confianca:  80,
		Evidencias: []string{"trecho"},
	}
}

func (f *fakeVerifier) Search(_ context.Context, filter database.VerificationFilter) ([]database.Verification, error) {
	f.users = append(f.users, filter.UserID)
	f.filters = append(f.filters, filter)
	return f.history, nil
}

type fakeAnalyzer struct {
	limits []int
	err    error
}

func (f *fakeAnalyzer) RunBatchAnalysis(_ context.Context, limit int) (*analysis.Result, error) {
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	return &analysis.Result{Processed: limit, Fake: 1}, nil
}

type fakeMonitor struct {
	checks int
}

func (f *fakeMonitor) Check(context.Context) (*scheduler.Report, error) {
	f.checks++
	return f.Report(), nil
}

func (f *fakeMonitor) Report() *scheduler.Report {
	return &scheduler.Report{
		Total:  1,
		Online: 1,
		Sources: map[string]scheduler.SourceStatus{
			"g1": {DisplayName: "G1", URL: "https://g1.globo.com", Status: scheduler.StatusOnline},
		},
	}
}

func (f *fakeMonitor) Checked() bool { return f.checks > 0 }

type testServer struct {
	srv      *Server
	db       *database.DB
	verifier *fakeVerifier
	analyzer *fakeAnalyzer
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	db := openTestDB(t)
	v := &fakeVerifier{}
	a := &fakeAnalyzer{}
	return &testServer{srv: New(db, v, a, opts), db: db, verifier: v, analyzer: a}
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Options{Version: "1.2.3"})

	rec := ts.do(t, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "healthy" || body["version"] != "1.2.3" {
		t.Errorf("unexpected body: %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, "GET", "/health", "", map[string]string{"X-Request-ID": "abc"})
	if got := rec.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("expected echoed request id, got %q", got)
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, Options{})
	if _, err := ts.db.InsertArticle(database.ArticleInput{URL: "https://a.com", Title: "A"}); err != nil {
		t.Fatalf("InsertArticle: %v", err)
	}

	rec := ts.do(t, "GET", "/api/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["auth_enabled"] != false {
		t.Errorf("expected auth disabled, got %v", body["auth_enabled"])
	}
	stats := body["stats"].(map[string]any)
	if stats["total_articles"] != float64(1) {
		t.Errorf("expected 1 article, got %v", stats["total_articles"])
	}
}

func TestVerify(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.do(t, "POST", "/api/verify", `{"claim":"  A vacina causa autismo  "}`,
		map[string]string{"X-User-ID": "maria"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["veredito"] != "[FALSO]" || body["confianca"] != float64(80) {
		t.Errorf("unexpected verdict: %v", body)
	}
	if ts.verifier.claims[0] != "A vacina causa autismo" {
		t.Errorf("expected trimmed claim, got %q", ts.verifier.claims[0])
	}
	if ts.verifier.users[0] != "maria" {
		t.Errorf("expected user maria, got %q", ts.verifier.users[0])
	}
}

func TestVerifyDefaultUser(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.do(t, "POST", "/api/verify", `{"claim":"O céu é verde todos os dias"}`, nil)
	if len(ts.verifier.users) != 1 || ts.verifier.users[0] != verify.DefaultUserID {
		t.Errorf("expected default user, got %v", ts.verifier.users)
	}
}

func TestVerifyRejectsBadClaims(t *testing.T) {
	cases := map[string]string{
		"short":   `{"claim":"curta"}`,
		"long":    `{"claim":"` + strings.Repeat("a", 2001) + `"}`,
		"missing": `{}`,
		"invalid": `{"claim":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t, Options{})
			rec := ts.do(t, "POST", "/api/verify", body, nil)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("expected 422, got %d", rec.Code)
			}
			if len(ts.verifier.claims) != 0 {
				t.Error("verifier should not be called")
			}
		})
	}
}

func TestVerifyCountsRunesNotBytes(t *testing.T) {
	ts := newTestServer(t, Options{})
	// 10 runes, 20 bytes
	rec := ts.do(t, "POST", "/api/verify", `{"claim":"çççççççççç"}`, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAnalyze(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.do(t, "POST", "/api/analyze", `{"limit":3}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["status"] != "completed" || body["processed"] != float64(3) || body["fake"] != float64(1) {
		t.Errorf("unexpected body: %v", body)
	}

	ts.do(t, "POST", "/api/analyze", "", nil)
	if ts.analyzer.limits[1] != analysis.DefaultLimit {
		t.Errorf("expected default limit, got %d", ts.analyzer.limits[1])
	}
}

func TestAnalyzeLimitBounds(t *testing.T) {
	ts := newTestServer(t, Options{})
	for _, body := range []string{`{"limit":0}`, `{"limit":51}`} {
		rec := ts.do(t, "POST", "/api/analyze", body, nil)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: expected 422, got %d", body, rec.Code)
		}
	}
}

func TestAnalyzeFailure(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.analyzer.err = errors.New("db closed")

	rec := ts.do(t, "POST", "/api/analyze", `{"limit":1}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db closed") {
		t.Error("internal error details should not leak")
	}
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.verifier.history = []database.Verification{
		{ID: 1, UserID: "default", Claim: "x", Verdict: "FALSO", Confidence: 90},
	}

	rec := ts.do(t, "GET", "/api/history?limit=5", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["count"] != float64(1) {
		t.Fatalf("unexpected body: %v", body)
	}
	entry := body["entries"].([]any)[0].(map[string]any)
	if entry["veredito"] != "[FALSO]" {
		t.Errorf("expected bracketed verdict, got %v", entry["veredito"])
	}
	if _, ok := entry["evidencias"].([]any); !ok {
		t.Errorf("expected evidencias to be an array, got %v", entry["evidencias"])
	}

	rec = ts.do(t, "GET", "/api/history?limit=abc", "", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for bad limit, got %d", rec.Code)
	}
}

func TestNews(t *testing.T) {
	ts := newTestServer(t, Options{})
	long := strings.Repeat("x", 500)
	ts.db.InsertArticle(database.ArticleInput{URL: "https://a.com", Title: "A", Content: &long})
	ts.db.InsertArticle(database.ArticleInput{URL: "https://b.com", Title: "B", Content: ptr("curto")})

	rec := ts.do(t, "GET", "/api/news?limit=10", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["count"] != float64(2) {
		t.Fatalf("expected 2 articles, got %v", body["count"])
	}
	for _, raw := range body["articles"].([]any) {
		a := raw.(map[string]any)
		if c, _ := a["content"].(string); len([]rune(c)) > 303 {
			t.Errorf("content should be truncated, got %d chars", len(c))
		}
	}
}

func TestSourcesChecksOnFirstRequest(t *testing.T) {
	ts := newTestServer(t, Options{})
	mon := &fakeMonitor{}
	ts.srv.WithSources(mon)

	for range 2 {
		rec := ts.do(t, "GET", "/api/sources", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}
	if mon.checks != 1 {
		t.Errorf("expected a single check, got %d", mon.checks)
	}
}

func TestSourcesNotConfigured(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, "GET", "/api/sources", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestQuality(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.db.InsertArticle(database.ArticleInput{URL: "https://a.com", Title: "A", Content: ptr(strings.Repeat("y", 80))})
	ts.db.InsertArticle(database.ArticleInput{URL: "https://b.com", Title: "B"})

	body := decode(t, ts.do(t, "GET", "/api/quality", "", nil))
	if body["total"] != float64(2) || body["valid"] != float64(1) || body["quality_score"] != float64(50) {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t, Options{APIKey: "secret"})

	rec := ts.do(t, "GET", "/api/status", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := decode(t, rec); body["detail"] != "Invalid or missing API key. Set X-API-Key header." {
		t.Errorf("unexpected detail: %v", body["detail"])
	}

	rec = ts.do(t, "GET", "/api/status", "", map[string]string{"X-API-Key": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong key, got %d", rec.Code)
	}

	rec = ts.do(t, "GET", "/api/status", "", map[string]string{"X-API-Key": "secret"})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with key, got %d", rec.Code)
	}

	// health stays public
	rec = ts.do(t, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected public health, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, Options{})

	for i := range 5 {
		rec := ts.do(t, "POST", "/api/analyze", `{"limit":1}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := ts.do(t, "POST", "/api/analyze", `{"limit":1}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if body := decode(t, rec); body["detail"] != "Rate limit exceeded. Try again later." {
		t.Errorf("unexpected detail: %v", body["detail"])
	}

	// other clients and routes have their own buckets
	rec = ts.do(t, "POST", "/api/analyze", `{"limit":1}`, map[string]string{"X-Forwarded-For": "10.0.0.9"})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for another client, got %d", rec.Code)
	}
	rec = ts.do(t, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 on another route, got %d", rec.Code)
	}
}

func TestBodyTooLarge(t *testing.T) {
	ts := newTestServer(t, Options{MaxBodyBytes: 64})

	rec := ts.do(t, "POST", "/api/verify", `{"claim":"`+strings.Repeat("a", 200)+`"}`, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if body := decode(t, rec); body["detail"] != "Request too large" {
		t.Errorf("unexpected detail: %v", body["detail"])
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, Options{AllowedOrigins: []string{"http://localhost:5173"}})

	rec := ts.do(t, "GET", "/health", "", map[string]string{"Origin": "http://localhost:5173"})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected allowed origin, got %q", got)
	}

	rec = ts.do(t, "GET", "/health", "", map[string]string{"Origin": "http://evil.example"})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected allow origin %q", got)
	}

	rec = ts.do(t, "OPTIONS", "/api/verify", "", map[string]string{
		"Origin":                        "http://localhost:5173",
		"Access-Control-Request-Method": "POST",
	})
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 preflight, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key") {
		t.Errorf("expected X-API-Key in allowed headers")
	}
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, "GET", "/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHistoryVerdictFilter(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.do(t, "GET", "/api/history?verdict=%5Bfalso%5D", "", map[string]string{"X-User-ID": "ana"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(ts.verifier.filters) != 1 {
		t.Fatalf("expected one search, got %d", len(ts.verifier.filters))
	}
	f := ts.verifier.filters[0]
	if f.Verdict != "[falso]" || f.UserID != "ana" || f.Limit != defaultHistoryLimit {
		t.Errorf("unexpected filter: %+v", f)
	}

	rec = ts.do(t, "GET", "/api/history?verdict=ERRO", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for ERRO, got %d", rec.Code)
	}

	rec = ts.do(t, "GET", "/api/history?verdict=talvez", "", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for unknown verdict, got %d", rec.Code)
	}
	if len(ts.verifier.filters) != 2 {
		t.Errorf("invalid verdict should not reach the verifier")
	}
}

func TestNewsFilters(t *testing.T) {
	ts := newTestServer(t, Options{})
	srcID, err := ts.db.UpsertSource("g1", "G1", nil)
	if err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}
	ts.db.InsertArticle(database.ArticleInput{URL: "https://g1.com/a", Title: "Economia cresce", SourceID: &srcID})
	ts.db.InsertArticle(database.ArticleInput{URL: "https://b.com/b", Title: "Economia recua"})
	ts.db.InsertArticle(database.ArticleInput{URL: "https://b.com/c", Title: "Futebol"})

	count := func(path string) float64 {
		t.Helper()
		rec := ts.do(t, "GET", path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		return decode(t, rec)["count"].(float64)
	}

	if n := count("/api/news?search=Economia"); n != 2 {
		t.Errorf("search: expected 2, got %v", n)
	}
	if n := count("/api/news?source=g1"); n != 1 {
		t.Errorf("source: expected 1, got %v", n)
	}
	if n := count("/api/news?source=desconhecida"); n != 0 {
		t.Errorf("unknown source: expected 0, got %v", n)
	}
	if n := count("/api/news?since=2000-01-01"); n != 3 {
		t.Errorf("since in the past: expected 3, got %v", n)
	}
	if n := count("/api/news?since=2999-01-01T00:00:00Z"); n != 0 {
		t.Errorf("since in the future: expected 0, got %v", n)
	}

	rec := ts.do(t, "GET", "/api/news?since=ontem", "", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for bad since, got %d", rec.Code)
	}
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("2024-03-01T12:30:00-03:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "2024-03-01 15:30:00" {
		t.Errorf("expected UTC conversion, got %q", got)
	}
	if got, _ := parseSince("2024-03-01"); got != "2024-03-01 00:00:00" {
		t.Errorf("unexpected date conversion %q", got)
	}
}
