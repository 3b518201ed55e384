package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/vortex/internal/config"
	"github.com/TobiSchelling/vortex/internal/database"
)

func TestSchedulerRunsJobs(t *testing.T) {
	var runs atomic.Int32
	s := New()
	s.Add(Job{
		Name:       "tick",
		Interval:   10 * time.Millisecond,
		RunAtStart: true,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	info := s.Info()
	require.Len(t, info, 1)
	assert.Equal(t, "tick", info[0].Name)
	assert.NotNil(t, info[0].LastRun)
	assert.NotNil(t, info[0].NextRun)
	assert.False(t, info[0].Running)
}

func TestSchedulerNeverOverlaps(t *testing.T) {
	var active, maxActive, runs atomic.Int32
	release := make(chan struct{})
	s := New()
	s.Add(Job{
		Name:     "slow",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			runs.Add(1)
			<-release
			active.Add(-1)
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.False(t, s.Trigger("slow"), "trigger while running is refused")
	close(release)
	s.Stop()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestSchedulerRecordsErrors(t *testing.T) {
	s := New()
	s.Add(Job{Name: "bad", Interval: time.Hour, Run: func(context.Context) error { return errors.New("feed down") }})
	require.NoError(t, s.Start(context.Background()))

	assert.True(t, s.Trigger("bad"))
	assert.False(t, s.Trigger("missing"))
	assert.Eventually(t, func() bool { return s.Info()[0].LastError == "feed down" }, time.Second, time.Millisecond)
	s.Stop()
}

func TestSourceMonitorCheck(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.UserAgent(), "Mozilla/5.0")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer up.Close()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	sites := []config.Site{
		{Name: "g1", DisplayName: "G1", URL: up.URL},
		{Name: "down", URL: "http://127.0.0.1:1"},
	}
	m := NewSourceMonitor(sites, db)
	assert.False(t, m.Checked())

	r, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, r.Total)
	assert.Equal(t, 1, r.Online)
	assert.Equal(t, 1, r.Offline)
	assert.Equal(t, http.StatusServiceUnavailable, r.Sources["g1"].HTTPCode)
	assert.Equal(t, StatusOffline, r.Sources["down"].Status)
	assert.NotEmpty(t, r.Sources["down"].Error)
	assert.LessOrEqual(t, len(r.Sources["down"].Error), maxErrorChars)
	assert.Equal(t, "down", r.Sources["down"].DisplayName)
	assert.True(t, m.Checked())

	src, err := db.GetSourceByName("g1")
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, StatusOnline, src.Status)
	assert.NotNil(t, src.LastChecked)
}
