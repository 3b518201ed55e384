package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/vortex/internal/analysis"
	"github.com/TobiSchelling/vortex/internal/database"
	"github.com/TobiSchelling/vortex/internal/llm"
	"github.com/TobiSchelling/vortex/internal/metrics"
	"github.com/TobiSchelling/vortex/internal/scheduler"
	"github.com/TobiSchelling/vortex/internal/verify"
)

// Verifier checks claims and lists past verdicts. *verify.Verifier
// satisfies it.
type Verifier interface {
	VerifyClaim(ctx context.Context, claim, userID string) *verify.Verdict
	Search(ctx context.Context, f database.VerificationFilter) ([]database.Verification, error)
}

// Analyzer runs fake-news detection over stored articles.
type Analyzer interface {
	RunBatchAnalysis(ctx context.Context, limit int) (*analysis.Result, error)
}

// Store is the read side of the database used by the API.
type Store interface {
	GetStats() (*database.Stats, error)
	ListArticles(f database.ArticleFilter) ([]database.Article, error)
	GetSourceByName(name string) (*database.Source, error)
	GetQuality() (*database.Quality, error)
}

// ProviderStatus reports the LLM providers. *llm.Manager satisfies it.
type ProviderStatus interface {
	Status() []llm.ProviderStatus
}

// JobInfo reports scheduled jobs. *scheduler.Scheduler satisfies it.
type JobInfo interface {
	Info() []scheduler.JobInfo
}

// SourceMonitor reports news site availability.
type SourceMonitor interface {
	Check(ctx context.Context) (*scheduler.Report, error)
	Report() *scheduler.Report
	Checked() bool
}

// Options configures the HTTP surface.
type Options struct {
	// APIKey enables authentication when non-empty.
	APIKey         string
	AllowedOrigins []string
	MaxBodyBytes   int64
	Version        string
}

// Server is the JSON API in front of the verification pipeline.
type Server struct {
	store     Store
	verifier  Verifier
	analyzer  Analyzer
	providers ProviderStatus
	jobs      JobInfo
	sources   SourceMonitor
	opts      Options

	started  time.Time
	limiters *limiterSet
	mux      *http.ServeMux
}

// New creates a Server. providers, jobs and sources may be nil.
func New(store Store, verifier Verifier, analyzer Analyzer, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		store:    store,
		verifier: verifier,
		analyzer: analyzer,
		opts:     opts,
		started:  time.Now(),
		limiters: newLimiterSet(),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// WithProviders attaches the provider status source.
func (s *Server) WithProviders(p ProviderStatus) *Server {
	s.providers = p
	return s
}

// WithScheduler attaches the scheduler status source.
func (s *Server) WithScheduler(j JobInfo) *Server {
	s.jobs = j
	return s
}

// WithSources attaches the source monitor.
func (s *Server) WithSources(m SourceMonitor) *Server {
	s.sources = m
	return s
}

func (s *Server) routes() {
	s.handle("GET /health", 60, false, s.handleHealth)
	s.handle("GET /api/status", 30, true, s.handleStatus)
	s.handle("POST /api/verify", 10, true, s.handleVerify)
	s.handle("POST /api/analyze", 5, true, s.handleAnalyze)
	s.handle("GET /api/history", 30, true, s.handleHistory)
	s.handle("GET /api/news", 20, true, s.handleNews)
	s.handle("GET /api/sources", 30, true, s.handleSources)
	s.handle("GET /api/quality", 30, true, s.handleQuality)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

// handle registers a route behind its rate limit and, when protected,
// the API key check.
func (s *Server) handle(pattern string, perMinute int, protected bool, h http.HandlerFunc) {
	var next http.Handler = h
	if protected {
		next = s.requireAPIKey(next)
	}
	s.mux.Handle(pattern, s.rateLimit(pattern, perMinute, next))
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.requestID(s.observe(s.cors(s.limitBody(s.mux))))
}

// AuthEnabled reports whether requests must carry X-API-Key.
func (s *Server) AuthEnabled() bool {
	return s.opts.APIKey != ""
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		zap.L().Info("server listening",
			zap.String("addr", addr),
			zap.Bool("auth_enabled", s.AuthEnabled()),
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	zap.L().Info("server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("writing response", zap.Error(err))
	}
}

// writeError uses the {"detail": ...} shape for every error response.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
