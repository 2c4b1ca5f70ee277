// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package legis assembles the extraction pipeline from its components. The
// HTTP server and the CLI both build runs through this package; nothing
// here holds per-run state.
package legis

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/legis/services/legis/abbrev"
	"github.com/AleutianAI/legis/services/legis/agents"
	"github.com/AleutianAI/legis/services/legis/config"
	"github.com/AleutianAI/legis/services/legis/convergence"
	"github.com/AleutianAI/legis/services/legis/fetcher"
	"github.com/AleutianAI/legis/services/legis/pipeline"
	"github.com/AleutianAI/legis/services/legis/registry"
	badgerstore "github.com/AleutianAI/legis/services/legis/storage/badger"
	"github.com/AleutianAI/legis/services/llm"
)

// Components are the long-lived process-wide pieces: the static sigla
// registry, the registry clients with their shared caches, and the provider
// client. One Components instance serves every concurrent job.
type Components struct {
	Registry *abbrev.Registry
	BOE      *registry.BOEClient
	EURLex   *registry.EURLexClient
	Fetcher  *fetcher.Fetcher
	LLM      llm.Client
	Logger   *slog.Logger

	db *badgerstore.DB
}

// Open builds the components. The on-disk cache degrades gracefully: if the
// cache directory cannot be opened the registries run uncached.
func Open(cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gemini, err := llm.NewGeminiClient()
	if err != nil {
		return nil, fmt.Errorf("legis: %w", err)
	}

	var db *badgerstore.DB
	if cfg.Pipeline.UseCache {
		dir := cfg.CacheDir
		if dir == "" {
			if home, herr := os.UserHomeDir(); herr == nil {
				dir = filepath.Join(home, ".legis", "cache")
			}
		}
		bcfg := badgerstore.DefaultConfig()
		bcfg.Path = dir
		db, err = badgerstore.OpenDB(bcfg)
		if err != nil {
			logger.Warn("registry cache unavailable, running uncached",
				slog.String("path", dir),
				slog.String("error", err.Error()),
			)
			db = nil
		} else {
			logger.Info("registry cache opened", slog.String("path", dir))
		}
	}

	boe := registry.NewBOEClient(
		registry.WithBOECache(registry.NewCache(db, "boe", logger)),
		registry.WithBOELogger(logger),
	)
	eurlex := registry.NewEURLexClient(
		registry.WithEURLexCache(registry.NewCache(db, "eurlex", logger)),
		registry.WithEURLexLogger(logger),
	)

	return &Components{
		Registry: abbrev.New(),
		BOE:      boe,
		EURLex:   eurlex,
		Fetcher:  fetcher.New(boe, eurlex, logger),
		LLM:      gemini,
		Logger:   logger,
		db:       db,
	}, nil
}

// Close releases the on-disk cache.
func (c *Components) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// NewPipeline assembles one run's pipeline. Agents are cheap per-run
// wrappers over the shared provider client, so every run gets fresh
// metrics.
func (c *Components) NewPipeline(p config.Pipeline, progress pipeline.ProgressFunc) *pipeline.Pipeline {
	extractorA := agents.NewExtractorA(c.LLM, c.Registry, c.Logger)
	extractorB := agents.NewExtractorB(c.LLM, c.Registry, c.Logger)
	extractorC := agents.NewExtractorC(c.LLM, c.Registry, c.Logger)

	engine := convergence.New(
		[]convergence.Agent{extractorA, extractorB, extractorC},
		c.LLM,
		convergence.Options{
			MaxRounds:     p.MaxRounds,
			MinConfidence: p.ExtractionThreshold,
			LLMDedupMax:   20,
		},
		c.Logger,
	)

	ctxResolver := agents.NewContextResolver(c.LLM, c.Registry, agents.DefaultContextResolverOptions(), c.Logger)
	titleResolver := agents.NewTitleResolver(c.LLM, c.Registry, c.Logger)
	normalizer := agents.NewNormalizer(c.LLM, c.Registry, c.Logger)
	validator := agents.NewValidator(c.Registry, c.BOE, c.EURLex, c.Fetcher, c.Logger)
	validator.VerifyArticles = p.VerifyArticles

	opts := []pipeline.Option{
		pipeline.WithLogger(c.Logger),
		pipeline.WithMetricsSources(extractorA, extractorB, extractorC,
			ctxResolver, titleResolver, normalizer),
	}
	if progress != nil {
		opts = append(opts, pipeline.WithProgress(progress))
	}
	if p.UseInferenceAgent {
		inferrer := agents.NewInferenceAgent(c.LLM, c.Fetcher, agents.DefaultInferenceOptions(), c.Logger)
		opts = append(opts, pipeline.WithInferrer(inferrer), pipeline.WithMetricsSources(inferrer))
	}

	return pipeline.New(engine, ctxResolver, titleResolver, normalizer, validator, c.Fetcher,
		pipeline.Options{
			MaxWorkers:          p.MaxWorkers,
			ConfidenceThreshold: p.ConfidenceThreshold,
			UseContextAgent:     p.UseContextAgent,
			UseInferenceAgent:   p.UseInferenceAgent,
			TextLimit:           p.TextLimit,
		},
		opts...,
	)
}
