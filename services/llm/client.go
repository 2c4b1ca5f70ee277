// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the single text-generation gateway used by every
// agent in the extraction pipeline. No other package talks to the model
// provider; this is an invariant the agents rely on for metrics and
// failure accounting.
package llm

import (
	"context"
	"errors"
)

// GenerationParams holds provider-agnostic options for a generation request.
type GenerationParams struct {
	// System is an optional system instruction.
	System string

	// Temperature controls randomness (0.0–1.0). Nil uses the provider
	// default; agents always pin it at construction time.
	Temperature *float32

	// MaxOutputTokens bounds the response length. Nil uses the provider
	// default.
	MaxOutputTokens *int
}

// Client is the minimal text-in/text-out interface agents depend on.
//
// Thread Safety: implementations must be safe for concurrent use.
type Client interface {
	// Generate sends a prompt and returns the model's text response.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// ErrProvider marks a failure coming from the model provider (timeout,
// HTTP error, empty response). Callers absorb it per the stage's failure
// policy; it is never fatal to a run.
var ErrProvider = errors.New("llm: provider failure")

// Temp is a convenience for building pinned-temperature params.
func Temp(t float32) *float32 { return &t }
