// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command legis starts the legal-reference extraction API server.
//
// The server ingests study documents, runs the multi-agent extraction
// pipeline against the BOE and EUR-Lex registries, and exposes the runs as
// cancellable jobs.
//
// Usage:
//
//	GEMINI_API_KEY=... go run ./cmd/legis
//	GEMINI_API_KEY=... go run ./cmd/legis -port 9090 -config legis.yaml
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/legis/health
//
//	# Submit a document
//	curl -X POST http://localhost:8080/v1/legis/process \
//	  -H "Content-Type: application/json" \
//	  -d '{"titulo": "Tema 7", "contenido": "<p>La LPAC regula...</p>"}'
//
//	# Poll the job
//	curl http://localhost:8080/v1/legis/jobs/<job_id>
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/legis/services/legis"
	"github.com/AleutianAI/legis/services/legis/config"
	"github.com/AleutianAI/legis/services/legis/jobs"
	"github.com/AleutianAI/legis/services/legis/pipeline"
	"github.com/AleutianAI/legis/services/legis/server"
)

func main() {
	configPath := flag.String("config", "legis.yaml", "Path to the YAML configuration")
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Port = *port
	}

	// W3C TraceContext propagation so trace ids flow from incoming headers
	// through the handlers.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	components, err := legis.Open(cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to initialize components", slog.String("error", err.Error()))
		os.Exit(1)
	}

	manager := jobs.NewManager(cfg.Jobs.MaxConcurrent, cfg.Jobs.Timeout,
		jobs.WithProductionErrors(!*debug),
	)

	factory := func(progress pipeline.ProgressFunc, opts server.RunOptions) (*pipeline.Pipeline, error) {
		p := cfg.Pipeline
		p.MaxRounds = opts.MaxRounds
		p.MaxWorkers = opts.MaxWorkers
		p.ConfidenceThreshold = opts.ConfidenceThreshold
		p.UseContextAgent = opts.UseContextAgent
		p.UseInferenceAgent = opts.UseInferenceAgent
		p.TextLimit = opts.TextLimit
		return components.NewPipeline(p, progress), nil
	}

	srv := server.New(cfg, manager, factory, slog.Default())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-legis"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	server.RegisterRoutes(v1, srv)
	server.RegisterMetrics(router)

	// Expire terminal jobs periodically.
	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupDone:
				return
			case <-ticker.C:
				manager.Cleanup(cfg.Jobs.MaxAge)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutting down legis server")
		close(cleanupDone)
		if err := components.Close(); err != nil {
			slog.Warn("Failed to close components", slog.String("error", err.Error()))
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("Starting legis server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
