// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler drives the recurring background jobs. Every job gets
// its own goroutine with a timer, an optional wake channel for on-demand
// runs, and a guard so API-triggered runs and the loop never overlap.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aronjanosch/readmeabook/internal/metrics"
)

// ErrUnknownJob is returned when a run is requested for a name that was
// never registered.
var ErrUnknownJob = errors.New("unknown job")

// Job describes one recurring processor.
type Job struct {
	Name  string
	Every time.Duration
	// EveryFunc overrides Every when set, consulted before each wait so
	// settings changes apply without a restart.
	EveryFunc func() time.Duration
	// Wake triggers an immediate run when signaled.
	Wake <-chan struct{}
	Run  func(ctx context.Context) (map[string]int, error)
}

func (j Job) interval() time.Duration {
	if j.EveryFunc != nil {
		if d := j.EveryFunc(); d > 0 {
			return d
		}
	}
	return j.Every
}

// RunResult is the outcome of a single job run, kept for the jobs API.
type RunResult struct {
	Job           string         `json:"job"`
	CorrelationID string         `json:"correlationId"`
	StartedAt     time.Time      `json:"startedAt"`
	DurationMs    int64          `json:"durationMs"`
	Success       bool           `json:"success"`
	Message       string         `json:"message,omitempty"`
	Counts        map[string]int `json:"counts,omitempty"`
}

// JobStatus pairs a job with its most recent run.
type JobStatus struct {
	Name     string     `json:"name"`
	Interval string     `json:"interval"`
	LastRun  *RunResult `json:"lastRun,omitempty"`
}

type managedJob struct {
	job     Job
	running atomic.Bool

	mu      sync.RWMutex
	lastRun *RunResult
}

// Scheduler owns the registered jobs and their loops.
type Scheduler struct {
	mu     sync.Mutex
	jobs   []*managedJob
	byName map[string]*managedJob

	metrics *metrics.MetricsManager

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds a scheduler. The metrics manager may be nil when the metrics
// listener is disabled.
func New(m *metrics.MetricsManager) *Scheduler {
	return &Scheduler{byName: make(map[string]*managedJob), metrics: m}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	managed := &managedJob{job: job}
	s.jobs = append(s.jobs, managed)
	s.byName[job.Name] = managed
}

// Start launches one loop per job. Each job runs once immediately, then on
// its interval or wake signal.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, managed := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(loopCtx, managed)
	}
	log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop cancels the loops and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, managed *managedJob) {
	defer s.wg.Done()

	s.execute(ctx, managed, "")

	timer := time.NewTimer(managed.job.interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-managed.job.Wake:
			// A nil wake channel blocks forever, which is what jobs
			// without one want.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		s.execute(ctx, managed, "")
		timer.Reset(managed.job.interval())
	}
}

// RunNow executes a job on behalf of the API and returns its result. A run
// already in flight is not duplicated; the caller gets success=false.
func (s *Scheduler) RunNow(ctx context.Context, name, correlationID string) (RunResult, error) {
	s.mu.Lock()
	managed, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return RunResult{}, ErrUnknownJob
	}
	return s.execute(ctx, managed, correlationID), nil
}

// List reports every job with its last run, in registration order.
func (s *Scheduler) List() []JobStatus {
	s.mu.Lock()
	jobs := make([]*managedJob, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(jobs))
	for _, managed := range jobs {
		managed.mu.RLock()
		last := managed.lastRun
		managed.mu.RUnlock()
		statuses = append(statuses, JobStatus{
			Name:     managed.job.Name,
			Interval: managed.job.interval().String(),
			LastRun:  last,
		})
	}
	return statuses
}

func (s *Scheduler) execute(ctx context.Context, managed *managedJob, correlationID string) RunResult {
	name := managed.job.Name
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	if !managed.running.CompareAndSwap(false, true) {
		return RunResult{
			Job:           name,
			CorrelationID: correlationID,
			StartedAt:     time.Now(),
			Success:       false,
			Message:       "already running",
		}
	}
	defer managed.running.Store(false)

	started := time.Now()
	counts, err := managed.job.Run(ctx)
	duration := time.Since(started)

	result := RunResult{
		Job:           name,
		CorrelationID: correlationID,
		StartedAt:     started,
		DurationMs:    duration.Milliseconds(),
		Success:       err == nil,
		Counts:        counts,
	}

	if err != nil {
		result.Message = err.Error()
		if errors.Is(err, context.Canceled) {
			log.Debug().Str("job", name).Str("correlationId", correlationID).Msg("Job run canceled")
		} else {
			log.Error().Err(err).Str("job", name).Str("correlationId", correlationID).Msg("Job run failed")
		}
	} else {
		log.Debug().
			Str("job", name).
			Str("correlationId", correlationID).
			Dur("duration", duration).
			Interface("counts", counts).
			Msg("Job run finished")
	}

	s.record(result, duration)

	managed.mu.Lock()
	managed.lastRun = &result
	managed.mu.Unlock()

	return result
}

func (s *Scheduler) record(result RunResult, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	p := s.metrics.Pipeline

	outcome := "ok"
	if !result.Success {
		outcome = "error"
	}
	p.JobRunsTotal.WithLabelValues(result.Job, outcome).Inc()
	p.JobDuration.WithLabelValues(result.Job).Observe(duration.Seconds())

	counts := result.Counts
	if counts == nil {
		return
	}
	switch result.Job {
	case JobSearchQueue:
		p.SearchesTotal.Add(float64(counts["checked"]))
		p.GrabsTotal.Add(float64(counts["grabbed"]))
		p.SearchNoMatchTotal.Add(float64(counts["noMatch"]))
		p.SearchFailuresTotal.Add(float64(counts["failed"]))
	case JobFeedsSweep:
		p.FeedItemsTotal.Add(float64(counts["items"]))
		p.FeedMatchesTotal.Add(float64(counts["matched"]))
	case JobSeedingReconcile:
		p.SeedingDeletesTotal.Add(float64(counts["clientDeletes"]))
	case JobImportRetries:
		p.ImportRetriesTotal.Add(float64(counts["processed"]))
	case JobDownloadsMonitor:
		p.ImportsTotal.WithLabelValues("success").Add(float64(counts["completed"]))
		p.ImportsTotal.WithLabelValues("failure").Add(float64(counts["failed"]))
	}
}
