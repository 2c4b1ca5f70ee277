// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads service configuration: YAML file first, environment
// overrides second, range validation last. Every knob has a production
// default so an empty config is runnable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Pipeline holds the per-run options the orchestrator recognizes.
type Pipeline struct {
	// MaxRounds bounds the convergence loop.
	MaxRounds int `yaml:"max_rounds" validate:"min=1,max=10"`
	// MaxWorkers bounds intra-stage parallelism.
	MaxWorkers int `yaml:"max_workers" validate:"min=1,max=8"`
	// ConfidenceThreshold filters the final output.
	ConfidenceThreshold int `yaml:"confidence_threshold" validate:"min=50,max=95"`
	// ExtractionThreshold filters intermediate convergence output.
	ExtractionThreshold int `yaml:"extraction_threshold" validate:"min=0,max=95"`
	// UseContextAgent enables the context-resolution stage.
	UseContextAgent bool `yaml:"use_context_agent"`
	// UseInferenceAgent enables the BETA inference stage.
	UseInferenceAgent bool `yaml:"use_inference_agent"`
	// UseCache enables the on-disk registry caches.
	UseCache bool `yaml:"use_cache"`
	// TextLimit truncates the source document; 0 means no limit.
	TextLimit int `yaml:"text_limit" validate:"min=0"`
	// VerifyArticles gates the validator's article-existence check.
	VerifyArticles bool `yaml:"verify_articles"`
}

// Jobs holds the job-manager limits.
type Jobs struct {
	MaxConcurrent int           `yaml:"max_concurrent" validate:"min=1,max=16"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxAge        time.Duration `yaml:"max_age"`
}

// Config is the full service configuration.
type Config struct {
	Port     int      `yaml:"port" validate:"min=1,max=65535"`
	CacheDir string   `yaml:"cache_dir"`
	Pipeline Pipeline `yaml:"pipeline"`
	Jobs     Jobs     `yaml:"jobs"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Port:     8080,
		CacheDir: "", // resolved to ~/.legis/cache at startup when empty
		Pipeline: Pipeline{
			MaxRounds:           7,
			MaxWorkers:          4,
			ConfidenceThreshold: 70,
			ExtractionThreshold: 60,
			UseContextAgent:     true,
			UseInferenceAgent:   false,
			UseCache:            true,
			VerifyArticles:      true,
		},
		Jobs: Jobs{
			MaxConcurrent: 2,
			Timeout:       5 * time.Minute,
			MaxAge:        24 * time.Hour,
		},
	}
}

// Load reads the YAML file at path (missing file = defaults), applies
// environment overrides and validates ranges.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid values: %w", err)
	}
	return cfg, nil
}

// applyEnv layers LEGIS_* environment variables over the file values.
func applyEnv(cfg *Config) {
	if v, ok := envInt("LEGIS_PORT"); ok {
		cfg.Port = v
	}
	if v := os.Getenv("LEGIS_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v, ok := envInt("LEGIS_MAX_ROUNDS"); ok {
		cfg.Pipeline.MaxRounds = v
	}
	if v, ok := envInt("LEGIS_MAX_WORKERS"); ok {
		cfg.Pipeline.MaxWorkers = v
	}
	if v, ok := envInt("LEGIS_CONFIDENCE_THRESHOLD"); ok {
		cfg.Pipeline.ConfidenceThreshold = v
	}
	if v, ok := envBool("LEGIS_USE_CONTEXT_AGENT"); ok {
		cfg.Pipeline.UseContextAgent = v
	}
	if v, ok := envBool("LEGIS_USE_INFERENCE_AGENT"); ok {
		cfg.Pipeline.UseInferenceAgent = v
	}
	if v, ok := envBool("LEGIS_USE_CACHE"); ok {
		cfg.Pipeline.UseCache = v
	}
	if v, ok := envInt("LEGIS_TEXT_LIMIT"); ok {
		cfg.Pipeline.TextLimit = v
	}
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(name string) (bool, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
