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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes mounts the jobs API under the given group:
//
//	POST   /legis/process   — create and start a processing job
//	GET    /legis/jobs      — list jobs
//	GET    /legis/jobs/:id  — job state, progress and report
//	DELETE /legis/jobs/:id  — cancel
//	GET    /legis/stats     — aggregate job counters
//	GET    /legis/health    — liveness
func RegisterRoutes(rg *gin.RouterGroup, s *Server) {
	g := rg.Group("/legis")
	g.GET("/health", s.HandleHealth)
	g.POST("/process", s.HandleProcess)
	g.GET("/jobs", s.HandleListJobs)
	g.GET("/jobs/:id", s.HandleGetJob)
	g.DELETE("/jobs/:id", s.HandleCancelJob)
	g.GET("/stats", s.HandleStats)
}

// RegisterMetrics mounts the Prometheus scrape endpoint on the engine root.
func RegisterMetrics(engine *gin.Engine) {
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
