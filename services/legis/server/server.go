// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the pipeline as a jobs HTTP API. Handlers are thin
// adapters over the job manager; no pipeline logic lives here.
package server

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/legis/services/legis/config"
	"github.com/AleutianAI/legis/services/legis/document"
	"github.com/AleutianAI/legis/services/legis/jobs"
	"github.com/AleutianAI/legis/services/legis/pipeline"
)

// ProcessRequest is the POST /process payload. Options default to the
// service configuration when omitted.
type ProcessRequest struct {
	Title     string `json:"titulo"`
	Contenido string `json:"contenido" binding:"required"`

	MaxRounds           *int  `json:"max_rounds,omitempty" binding:"omitempty,min=1,max=10"`
	MaxWorkers          *int  `json:"max_workers,omitempty" binding:"omitempty,min=1,max=8"`
	ConfidenceThreshold *int  `json:"confidence_threshold,omitempty" binding:"omitempty,min=50,max=95"`
	UseContextAgent     *bool `json:"use_context_agent,omitempty"`
	UseInferenceAgent   *bool `json:"use_inference_agent,omitempty"`
	TextLimit           *int  `json:"text_limit,omitempty" binding:"omitempty,min=0"`
}

// RunOptions is the per-job configuration resolved from the request.
type RunOptions struct {
	MaxRounds           int
	MaxWorkers          int
	ConfidenceThreshold int
	UseContextAgent     bool
	UseInferenceAgent   bool
	TextLimit           int
}

// PipelineFactory builds a pipeline bound to a job's progress callback.
// The server never assembles agents itself; main owns the wiring.
type PipelineFactory func(progress pipeline.ProgressFunc, opts RunOptions) (*pipeline.Pipeline, error)

// Server bundles the job manager with the pipeline factory.
type Server struct {
	cfg     *config.Config
	manager *jobs.Manager
	factory PipelineFactory
	logger  *slog.Logger
}

// New creates the server.
func New(cfg *config.Config, manager *jobs.Manager, factory PipelineFactory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, manager: manager, factory: factory, logger: logger}
}

// resolveOptions overlays request options on the configured defaults.
func (s *Server) resolveOptions(req *ProcessRequest) RunOptions {
	p := s.cfg.Pipeline
	opts := RunOptions{
		MaxRounds:           p.MaxRounds,
		MaxWorkers:          p.MaxWorkers,
		ConfidenceThreshold: p.ConfidenceThreshold,
		UseContextAgent:     p.UseContextAgent,
		UseInferenceAgent:   p.UseInferenceAgent,
		TextLimit:           p.TextLimit,
	}
	if req.MaxRounds != nil {
		opts.MaxRounds = *req.MaxRounds
	}
	if req.MaxWorkers != nil {
		opts.MaxWorkers = *req.MaxWorkers
	}
	if req.ConfidenceThreshold != nil {
		opts.ConfidenceThreshold = *req.ConfidenceThreshold
	}
	if req.UseContextAgent != nil {
		opts.UseContextAgent = *req.UseContextAgent
	}
	if req.UseInferenceAgent != nil {
		opts.UseInferenceAgent = *req.UseInferenceAgent
	}
	if req.TextLimit != nil {
		opts.TextLimit = *req.TextLimit
	}
	return opts
}

// runner builds the job runner for a request: the pipeline reports progress
// into the job record and returns its report as the job result.
func (s *Server) runner(jobID string, req *ProcessRequest, opts RunOptions) jobs.Runner {
	return func(ctx context.Context) (any, error) {
		doc := &document.Document{Title: req.Title, Contenido: req.Contenido}

		progress := func(pr pipeline.Progress) {
			s.manager.UpdateProgress(jobID, pr.Percent, pr.TechMessage)
			s.manager.UpdatePhase(jobID, pr.Phase, pr.TechMessage, pr.ActiveAgents, nil)
		}

		p, err := s.factory(progress, opts)
		if err != nil {
			return nil, err
		}
		return p.Run(ctx, doc)
	}
}
