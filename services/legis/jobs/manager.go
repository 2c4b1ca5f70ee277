// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jobs manages the async lifecycle of pipeline runs: create,
// start, progress, cancel, expire. All state mutations are serialized
// through a single mutex; runners execute on their own goroutines and
// observe cancellation through their context.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Job is the tracked record of one pipeline run. Snapshot copies of it are
// handed out; the manager owns the live instance.
type Job struct {
	ID          string     `json:"id"`
	State       State      `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Progress     float64        `json:"progress"`
	Phase        string         `json:"phase,omitempty"`
	TechMessage  string         `json:"technical_message,omitempty"`
	ActiveAgents []string       `json:"active_agents,omitempty"`
	Stats        map[string]int `json:"stats,omitempty"`

	Request any    `json:"request,omitempty"`
	Report  any    `json:"report,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Runner executes the job's work. It must observe ctx for cancellation at
// stage boundaries and return the final report.
type Runner func(ctx context.Context) (any, error)

// Manager is the thread-safe job registry.
type Manager struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
	running int

	maxConcurrent int
	timeout       time.Duration
	logger        *slog.Logger

	// production mode sanitizes failure messages handed to clients.
	production bool
}

// Option configures the Manager.
type Option func(*Manager)

// WithProductionErrors sanitizes job failure messages.
func WithProductionErrors(on bool) Option {
	return func(m *Manager) { m.production = on }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager. maxConcurrent bounds simultaneously running
// jobs; timeout bounds each run (0 = no timeout).
func NewManager(maxConcurrent int, timeout time.Duration, opts ...Option) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	m := &Manager{
		jobs:          make(map[string]*Job),
		cancels:       make(map[string]context.CancelFunc),
		maxConcurrent: maxConcurrent,
		timeout:       timeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new pending job for the given request and returns its id.
func (m *Manager) Create(request any) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.jobs[id] = &Job{
		ID:        id,
		State:     StatePending,
		CreatedAt: time.Now().UTC(),
		Request:   request,
	}
	m.logger.Info("job created", slog.String("job_id", id))
	return id
}

// ErrTooManyJobs is returned by Start when the concurrency bound is hit.
var ErrTooManyJobs = errors.New("jobs: too many running jobs")

// Start transitions a pending job to running and executes runner on a new
// goroutine.
func (m *Manager) Start(id string, runner Runner) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("jobs: %s not found", id)
	}
	if job.State != StatePending {
		m.mu.Unlock()
		return fmt.Errorf("jobs: %s is %s, not pending", id, job.State)
	}
	if m.running >= m.maxConcurrent {
		m.mu.Unlock()
		return ErrTooManyJobs
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if m.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	now := time.Now().UTC()
	job.State = StateRunning
	job.StartedAt = &now
	m.cancels[id] = cancel
	m.running++
	m.mu.Unlock()

	m.logger.Info("job started", slog.String("job_id", id))

	go m.run(ctx, id, runner)
	return nil
}

func (m *Manager) run(ctx context.Context, id string, runner Runner) {
	defer func() {
		if r := recover(); r != nil {
			m.finish(id, nil, fmt.Errorf("panic: %v", r))
		}
	}()

	report, err := runner(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	m.finish(id, report, err)
}

func (m *Manager) finish(id string, report any, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return
	}
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
	m.running--

	// A cancel that raced the runner's completion stays cancelled.
	if job.State == StateCancelled {
		return
	}

	now := time.Now().UTC()
	job.CompletedAt = &now

	switch {
	case errors.Is(err, context.Canceled):
		job.State = StateCancelled
	case err != nil:
		job.State = StateFailed
		if m.production {
			job.Error = "internal processing error"
		} else {
			job.Error = err.Error()
		}
		m.logger.Error("job failed",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
	default:
		job.State = StateCompleted
		job.Report = report
		job.Progress = 100
		m.logger.Info("job completed", slog.String("job_id", id))
	}
}

// Get returns a snapshot of the job, or false.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return snapshot(job), true
}

// List returns snapshots of all jobs, newest first.
func (m *Manager) List() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, snapshot(job))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Cancel requests cancellation. Pending jobs terminate immediately; running
// jobs get their context cancelled and the orchestrator stops at the next
// stage boundary. Returns false for unknown or already-terminal jobs.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.State.Terminal() {
		return false
	}

	if job.State == StatePending {
		now := time.Now().UTC()
		job.State = StateCancelled
		job.CompletedAt = &now
		m.logger.Info("pending job cancelled", slog.String("job_id", id))
		return true
	}

	job.State = StateCancelled
	now := time.Now().UTC()
	job.CompletedAt = &now
	if cancel, ok := m.cancels[id]; ok {
		cancel()
	}
	m.logger.Info("running job cancelled", slog.String("job_id", id))
	return true
}

// UpdateProgress sets the progress percentage and message of a running job.
// Safe to call from worker goroutines.
func (m *Manager) UpdateProgress(id string, percent float64, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.State.Terminal() {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	job.Progress = percent
	if message != "" {
		job.TechMessage = message
	}
}

// UpdatePhase sets the detailed phase information of a running job.
func (m *Manager) UpdatePhase(id, phase, techMessage string, activeAgents []string, stats map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.State.Terminal() {
		return
	}
	if phase != "" {
		job.Phase = phase
	}
	if techMessage != "" {
		job.TechMessage = techMessage
	}
	if activeAgents != nil {
		job.ActiveAgents = append([]string(nil), activeAgents...)
	}
	if stats != nil {
		job.Stats = make(map[string]int, len(stats))
		for k, v := range stats {
			job.Stats[k] = v
		}
	}
}

// Cleanup removes terminal jobs older than maxAge. Returns how many were
// removed.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for id, job := range m.jobs {
		if job.State.Terminal() && job.CreatedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("expired jobs cleaned up", slog.Int("removed", removed))
	}
	return removed
}

// Stats are aggregate counters over the job registry.
type Stats struct {
	Total        int     `json:"total"`
	Completed    int     `json:"completed"`
	Failed       int     `json:"failed"`
	Active       int     `json:"active"`
	SuccessRate  float64 `json:"success_rate"`
	MeanDuration float64 `json:"mean_duration_seconds"`
}

// GetStats summarizes the registry.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	var durations float64
	var completed int
	for _, job := range m.jobs {
		s.Total++
		switch job.State {
		case StateCompleted:
			s.Completed++
			if job.StartedAt != nil && job.CompletedAt != nil {
				durations += job.CompletedAt.Sub(*job.StartedAt).Seconds()
				completed++
			}
		case StateFailed:
			s.Failed++
		case StatePending, StateRunning:
			s.Active++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Completed) / float64(s.Total)
	}
	if completed > 0 {
		s.MeanDuration = durations / float64(completed)
	}
	return s
}

func snapshot(job *Job) Job {
	cp := *job
	cp.ActiveAgents = append([]string(nil), job.ActiveAgents...)
	if job.Stats != nil {
		cp.Stats = make(map[string]int, len(job.Stats))
		for k, v := range job.Stats {
			cp.Stats[k] = v
		}
	}
	return cp
}
