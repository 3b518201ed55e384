package scheduler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/vortex/internal/config"
	"github.com/TobiSchelling/vortex/internal/metrics"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	checkTimeout     = 10 * time.Second
	maxErrorChars    = 100
)

// SourceStatus is the last observed state of a monitored site.
type SourceStatus struct {
	DisplayName string    `json:"display_name"`
	URL         string    `json:"url"`
	Status      string    `json:"status"`
	HTTPCode    int       `json:"http_code,omitempty"`
	Error       string    `json:"error,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Report summarises the last check.
type Report struct {
	Total   int                     `json:"total"`
	Online  int                     `json:"online"`
	Offline int                     `json:"offline"`
	Sources map[string]SourceStatus `json:"sources"`
}

// SourceStore records site status. *database.DB satisfies it.
type SourceStore interface {
	UpsertSource(name, displayName string, websiteURL *string) (int64, error)
	UpdateSourceStatus(name, status string, checkedAt time.Time) error
}

// SourceMonitor checks whether the monitored news sites answer.
type SourceMonitor struct {
	sites  []config.Site
	store  SourceStore
	client *http.Client

	mu     sync.RWMutex
	status map[string]SourceStatus
}

// NewSourceMonitor creates a monitor. store may be nil.
func NewSourceMonitor(sites []config.Site, store SourceStore) *SourceMonitor {
	return &SourceMonitor{
		sites:  sites,
		store:  store,
		client: &http.Client{Timeout: checkTimeout},
		status: make(map[string]SourceStatus),
	}
}

// Check sends a GET to every site concurrently. Any HTTP answer counts as
// online; transport errors and timeouts count as offline.
func (m *SourceMonitor) Check(ctx context.Context) (*Report, error) {
	results := make([]SourceStatus, len(m.sites))

	g, gctx := errgroup.WithContext(ctx)
	for i, site := range m.sites {
		g.Go(func() error {
			results[i] = m.checkSite(gctx, site)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	for i, site := range m.sites {
		m.status[site.Name] = results[i]
	}
	m.mu.Unlock()

	for i, site := range m.sites {
		m.record(site, results[i])
	}

	r := m.Report()
	metrics.SourcesOnline.Set(float64(r.Online))
	zap.L().Info("source check complete", zap.Int("online", r.Online), zap.Int("offline", r.Offline))
	return r, ctx.Err()
}

func (m *SourceMonitor) checkSite(ctx context.Context, site config.Site) SourceStatus {
	st := SourceStatus{DisplayName: site.DisplayName, URL: site.URL, CheckedAt: time.Now().UTC()}
	if st.DisplayName == "" {
		st.DisplayName = site.Name
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, site.URL, nil)
	if err != nil {
		return offline(st, err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		zap.L().Warn("source is down", zap.String("source", site.Name), zap.Error(err))
		return offline(st, err)
	}
	resp.Body.Close()

	st.Status = StatusOnline
	st.HTTPCode = resp.StatusCode
	return st
}

func offline(st SourceStatus, err error) SourceStatus {
	st.Status = StatusOffline
	msg := err.Error()
	if len(msg) > maxErrorChars {
		msg = msg[:maxErrorChars]
	}
	st.Error = msg
	return st
}

func (m *SourceMonitor) record(site config.Site, st SourceStatus) {
	if m.store == nil {
		return
	}
	url := site.URL
	if _, err := m.store.UpsertSource(site.Name, st.DisplayName, &url); err != nil {
		zap.L().Warn("saving source", zap.String("source", site.Name), zap.Error(err))
		return
	}
	if err := m.store.UpdateSourceStatus(site.Name, st.Status, st.CheckedAt); err != nil {
		zap.L().Warn("saving source status", zap.String("source", site.Name), zap.Error(err))
	}
}

// Report returns the last known status of every checked site.
func (m *SourceMonitor) Report() *Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := &Report{Sources: make(map[string]SourceStatus, len(m.status))}
	for name, st := range m.status {
		r.Sources[name] = st
		if st.Status == StatusOnline {
			r.Online++
		}
	}
	r.Total = len(r.Sources)
	r.Offline = r.Total - r.Online
	return r
}

// Checked reports whether Check has completed at least once.
func (m *SourceMonitor) Checked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.status) > 0
}
