// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

// waitState polls until the job reaches a terminal state or times out.
func waitState(t *testing.T, m *Manager, id string, want State) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := m.Get(id)
		if !ok {
			t.Fatalf("job %s disappeared", id)
		}
		if job.State == want {
			return job
		}
		if job.State.Terminal() && job.State != want {
			t.Fatalf("job reached %s, want %s (error: %s)", job.State, want, job.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", id, want)
	return Job{}
}

func TestLifecycle_Completed(t *testing.T) {
	m := NewManager(2, 0)

	id := m.Create(map[string]string{"doc": "tema7"})

	job, ok := m.Get(id)
	if !ok || job.State != StatePending {
		t.Fatalf("new job should be pending, got %+v", job)
	}

	err := m.Start(id, func(ctx context.Context) (any, error) {
		return "report", nil
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	job = waitState(t, m, id, StateCompleted)
	if job.Report != "report" {
		t.Errorf("report = %v", job.Report)
	}
	if job.Progress != 100 {
		t.Errorf("completed job progress = %v", job.Progress)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Error("timestamps should be set")
	}
}

func TestLifecycle_Failed(t *testing.T) {
	m := NewManager(2, 0)
	id := m.Create(nil)

	m.Start(id, func(ctx context.Context) (any, error) {
		return nil, errors.New("pipeline exploded")
	})

	job := waitState(t, m, id, StateFailed)
	if job.Error != "pipeline exploded" {
		t.Errorf("error = %q", job.Error)
	}
}

func TestLifecycle_ProductionSanitizesErrors(t *testing.T) {
	m := NewManager(2, 0, WithProductionErrors(true))
	id := m.Create(nil)

	m.Start(id, func(ctx context.Context) (any, error) {
		return nil, errors.New("secret internal detail")
	})

	job := waitState(t, m, id, StateFailed)
	if job.Error == "secret internal detail" {
		t.Error("production mode must sanitize failure messages")
	}
}

func TestCancel_PendingJob(t *testing.T) {
	m := NewManager(2, 0)
	id := m.Create(nil)

	if !m.Cancel(id) {
		t.Fatal("pending job should be cancellable")
	}
	job, _ := m.Get(id)
	if job.State != StateCancelled {
		t.Errorf("state = %s", job.State)
	}

	if m.Cancel(id) {
		t.Error("terminal job must not be cancellable again")
	}
}

func TestCancel_RunningJobObservesContext(t *testing.T) {
	m := NewManager(2, 0)
	id := m.Create(nil)

	started := make(chan struct{})
	m.Start(id, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done() // the orchestrator checks at stage boundaries
		return nil, ctx.Err()
	})
	<-started

	if !m.Cancel(id) {
		t.Fatal("running job should be cancellable")
	}
	waitState(t, m, id, StateCancelled)
}

func TestStart_ConcurrencyBound(t *testing.T) {
	m := NewManager(1, 0)

	blocker := make(chan struct{})
	id1 := m.Create(nil)
	m.Start(id1, func(ctx context.Context) (any, error) {
		<-blocker
		return nil, nil
	})

	id2 := m.Create(nil)
	err := m.Start(id2, func(ctx context.Context) (any, error) { return nil, nil })
	if !errors.Is(err, ErrTooManyJobs) {
		t.Errorf("second start should hit the bound, got %v", err)
	}

	close(blocker)
	waitState(t, m, id1, StateCompleted)

	// Capacity is released after completion.
	if err := m.Start(id2, func(ctx context.Context) (any, error) { return nil, nil }); err != nil {
		t.Errorf("start after release: %v", err)
	}
	waitState(t, m, id2, StateCompleted)
}

func TestStart_Timeout(t *testing.T) {
	m := NewManager(2, 20*time.Millisecond)
	id := m.Create(nil)

	m.Start(id, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	job := waitState(t, m, id, StateFailed)
	if job.Error == "" {
		t.Error("timeout should be reported")
	}
}

func TestUpdateProgressAndPhase(t *testing.T) {
	m := NewManager(2, 0)
	id := m.Create(nil)

	m.UpdateProgress(id, 150, "clamped")
	m.UpdatePhase(id, "Fase 2: Convergencia", "3 agentes en paralelo",
		[]string{"agente-a", "agente-b", "agente-c"}, map[string]int{"refs": 4})

	job, _ := m.Get(id)
	if job.Progress != 100 {
		t.Errorf("progress should clamp to 100, got %v", job.Progress)
	}
	if job.Phase != "Fase 2: Convergencia" || len(job.ActiveAgents) != 3 {
		t.Errorf("phase info not recorded: %+v", job)
	}
	if job.Stats["refs"] != 4 {
		t.Errorf("stats not recorded: %+v", job.Stats)
	}
}

func TestCleanup(t *testing.T) {
	m := NewManager(2, 0)
	id := m.Create(nil)
	m.Cancel(id)

	// Fresh terminal job survives a long max-age.
	if removed := m.Cleanup(time.Hour); removed != 0 {
		t.Errorf("fresh job removed: %d", removed)
	}
	// Zero max-age expires everything terminal.
	if removed := m.Cleanup(0); removed != 1 {
		t.Errorf("expired removal = %d, want 1", removed)
	}
	if _, ok := m.Get(id); ok {
		t.Error("cleaned-up job should be gone")
	}
}

func TestGetStats(t *testing.T) {
	m := NewManager(4, 0)

	done := m.Create(nil)
	m.Start(done, func(ctx context.Context) (any, error) { return nil, nil })
	waitState(t, m, done, StateCompleted)

	failed := m.Create(nil)
	m.Start(failed, func(ctx context.Context) (any, error) { return nil, errors.New("x") })
	waitState(t, m, failed, StateFailed)

	m.Create(nil) // pending

	s := m.GetStats()
	if s.Total != 3 || s.Completed != 1 || s.Failed != 1 || s.Active != 1 {
		t.Errorf("stats = %+v", s)
	}
}
