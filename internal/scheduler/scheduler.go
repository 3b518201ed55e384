// Package scheduler runs the periodic collection pipeline and source checks.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is a named task run every Interval.
type Job struct {
	Name        string
	Description string
	Interval    time.Duration
	// RunAtStart runs the job once as soon as the scheduler starts.
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// JobInfo describes a job for status reports.
type JobInfo struct {
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	IntervalSeconds float64    `json:"interval_seconds"`
	LastRun         *time.Time `json:"last_run"`
	NextRun         *time.Time `json:"next_run"`
	Running         bool       `json:"running"`
	LastError       string     `json:"last_error,omitempty"`
}

type jobState struct {
	Job
	running atomic.Bool

	mu      sync.Mutex
	lastRun time.Time
	nextRun time.Time
	lastErr error
}

// Scheduler runs each job on its own ticker. A job never overlaps with
// itself: a tick that arrives while the previous run is still going is
// dropped.
type Scheduler struct {
	mu     sync.Mutex
	jobs   []*jobState
	stop   chan struct{}
	wg     sync.WaitGroup
	runCtx context.Context
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Add registers a job. Jobs added after Start are not scheduled.
func (s *Scheduler) Add(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &jobState{Job: job})
}

// Start launches one goroutine per job. It returns immediately; calling it
// again while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}

	s.stop = make(chan struct{})
	s.runCtx = ctx
	for _, j := range s.jobs {
		if j.Interval <= 0 {
			zap.L().Warn("job has no interval, not scheduling", zap.String("job", j.Name))
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, j, s.stop)
	}
	zap.L().Info("scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, j *jobState, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	j.setNext(time.Now().Add(j.Interval))

	if j.RunAtStart {
		s.run(ctx, j)
	}
	for {
		select {
		case <-ticker.C:
			j.setNext(time.Now().Add(j.Interval))
			s.run(ctx, j)
		case <-ctx.Done():
			return
		case <-stop:
			return
		}
	}
}

// run executes j unless it is already running and reports whether it ran.
func (s *Scheduler) run(ctx context.Context, j *jobState) bool {
	if !j.running.CompareAndSwap(false, true) {
		zap.L().Warn("job still running, skipping", zap.String("job", j.Name))
		return false
	}
	defer j.running.Store(false)

	start := time.Now()
	zap.L().Info("scheduled job starting", zap.String("job", j.Name))
	err := j.Run(ctx)

	j.mu.Lock()
	j.lastRun = start
	j.lastErr = err
	j.mu.Unlock()

	if err != nil {
		zap.L().Error("scheduled job failed", zap.String("job", j.Name), zap.Error(err))
	} else {
		zap.L().Info("scheduled job finished",
			zap.String("job", j.Name),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return true
}

// Trigger runs the named job now in the background. It reports false when
// the job is unknown or already running.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	ctx := s.runCtx
	var job *jobState
	for _, j := range s.jobs {
		if j.Name == name {
			job = j
		}
	}
	s.mu.Unlock()

	if job == nil || job.running.Load() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, job)
	}()
	return true
}

// Stop halts all tickers and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Info returns the state of every job in registration order.
func (s *Scheduler) Info() []JobInfo {
	s.mu.Lock()
	jobs := append([]*jobState(nil), s.jobs...)
	s.mu.Unlock()

	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		info := JobInfo{
			Name:            j.Name,
			Description:     j.Description,
			IntervalSeconds: j.Interval.Seconds(),
			Running:         j.running.Load(),
		}
		if !j.lastRun.IsZero() {
			t := j.lastRun
			info.LastRun = &t
		}
		if !j.nextRun.IsZero() {
			t := j.nextRun
			info.NextRun = &t
		}
		if j.lastErr != nil {
			info.LastError = j.lastErr.Error()
		}
		j.mu.Unlock()
		out = append(out, info)
	}
	return out
}

func (j *jobState) setNext(t time.Time) {
	j.mu.Lock()
	j.nextRun = t
	j.mu.Unlock()
}
