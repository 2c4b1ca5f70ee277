// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Pipeline.MaxRounds)
	assert.Equal(t, 4, cfg.Pipeline.MaxWorkers)
	assert.Equal(t, 70, cfg.Pipeline.ConfidenceThreshold)
	assert.Equal(t, 60, cfg.Pipeline.ExtractionThreshold)
	assert.True(t, cfg.Pipeline.UseContextAgent)
	assert.False(t, cfg.Pipeline.UseInferenceAgent)
	assert.True(t, cfg.Pipeline.UseCache)
	assert.Equal(t, 2, cfg.Jobs.MaxConcurrent)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9090
pipeline:
  max_rounds: 3
  max_workers: 2
  confidence_threshold: 80
  extraction_threshold: 60
  use_inference_agent: true
  use_cache: true
  use_context_agent: true
  verify_articles: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 3, cfg.Pipeline.MaxRounds)
	assert.Equal(t, 80, cfg.Pipeline.ConfidenceThreshold)
	assert.True(t, cfg.Pipeline.UseInferenceAgent)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pipeline.MaxRounds)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LEGIS_MAX_ROUNDS", "5")
	t.Setenv("LEGIS_USE_INFERENCE_AGENT", "true")
	t.Setenv("LEGIS_CONFIDENCE_THRESHOLD", "90")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Pipeline.MaxRounds)
	assert.True(t, cfg.Pipeline.UseInferenceAgent)
	assert.Equal(t, 90, cfg.Pipeline.ConfidenceThreshold)
}

func TestLoad_RangeValidation(t *testing.T) {
	t.Setenv("LEGIS_MAX_ROUNDS", "99")

	_, err := Load("")
	assert.Error(t, err, "max_rounds above 10 must be rejected")
}

func TestLoad_ThresholdRange(t *testing.T) {
	t.Setenv("LEGIS_CONFIDENCE_THRESHOLD", "40")

	_, err := Load("")
	assert.Error(t, err, "confidence_threshold below 50 must be rejected")
}
