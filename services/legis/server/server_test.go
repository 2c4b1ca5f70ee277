// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/legis/services/legis/config"
	"github.com/AleutianAI/legis/services/legis/convergence"
	"github.com/AleutianAI/legis/services/legis/jobs"
	"github.com/AleutianAI/legis/services/legis/pipeline"
	"github.com/AleutianAI/legis/services/legis/reference"
)

type emptyEngine struct{}

func (emptyEngine) Run(_ context.Context, _ string) (*convergence.Result, error) {
	return &convergence.Result{Converged: true, Rounds: 1}, nil
}

type passNormalizer struct{}

func (passNormalizer) Normalize(_ context.Context, ref *reference.Reference, _ string) *reference.Reference {
	return ref
}

type passValidator struct{}

func (passValidator) Validate(_ context.Context, ref *reference.Reference) *reference.Reference {
	return ref
}

func newTestRouter(t *testing.T) (*gin.Engine, *jobs.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	mgr := jobs.NewManager(cfg.Jobs.MaxConcurrent, cfg.Jobs.Timeout)

	factory := func(progress pipeline.ProgressFunc, opts RunOptions) (*pipeline.Pipeline, error) {
		return pipeline.New(emptyEngine{}, nil, nil, passNormalizer{}, passValidator{}, nil,
			pipeline.Options{
				MaxWorkers:          opts.MaxWorkers,
				ConfidenceThreshold: opts.ConfidenceThreshold,
			},
			pipeline.WithProgress(progress),
		), nil
	}

	srv := New(cfg, mgr, factory, nil)
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), srv)
	return router, mgr
}

func do(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(t, router, http.MethodGet, "/v1/legis/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestProcess_AcceptsAndCompletes(t *testing.T) {
	router, mgr := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/v1/legis/process",
		`{"titulo": "Tema 7", "contenido": "<p>La LPAC regula...</p>"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := mgr.Get(resp.JobID)
		if ok && job.State == jobs.StateCompleted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never completed")
}

func TestProcess_RejectsMissingContenido(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(t, router, http.MethodPost, "/v1/legis/process", `{"titulo": "x"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestProcess_RejectsOutOfRangeOptions(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(t, router, http.MethodPost, "/v1/legis/process",
		`{"contenido": "<p>x</p>", "max_rounds": 99}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(t, router, http.MethodGet, "/v1/legis/jobs/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
}

func TestCancel_Conflict(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(t, router, http.MethodDelete, "/v1/legis/jobs/nope", "")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d", w.Code)
	}
}

func TestListAndStats(t *testing.T) {
	router, _ := newTestRouter(t)

	if w := do(t, router, http.MethodGet, "/v1/legis/jobs", ""); w.Code != http.StatusOK {
		t.Errorf("list status = %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/v1/legis/stats", ""); w.Code != http.StatusOK {
		t.Errorf("stats status = %d", w.Code)
	}
}
