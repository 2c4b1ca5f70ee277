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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/legis/services/legis/jobs"
)

// HandleHealth reports service liveness.
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleProcess creates and starts a processing job for the posted document.
func (s *Server) HandleProcess(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := s.resolveOptions(&req)
	jobID := s.manager.Create(gin.H{"titulo": req.Title})

	if err := s.manager.Start(jobID, s.runner(jobID, &req, opts)); err != nil {
		if errors.Is(err, jobs.ErrTooManyJobs) {
			c.Header("Retry-After", "30")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "too many running jobs, retry later",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("processing job accepted",
		slog.String("job_id", jobID),
		slog.String("titulo", req.Title),
	)
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// HandleListJobs returns all jobs, newest first.
func (s *Server) HandleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.manager.List()})
}

// HandleGetJob returns one job.
func (s *Server) HandleGetJob(c *gin.Context) {
	job, ok := s.manager.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// HandleCancelJob cancels a pending or running job.
func (s *Server) HandleCancelJob(c *gin.Context) {
	if !s.manager.Cancel(c.Param("id")) {
		c.JSON(http.StatusConflict, gin.H{"error": "job not cancellable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// HandleStats returns aggregate job counters.
func (s *Server) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.GetStats())
}
