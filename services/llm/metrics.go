// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for LLM Calls
// =============================================================================

var (
	// llmCallsTotal counts generation calls by agent and status.
	llmCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "legis",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "Total generation calls by agent and status",
	}, []string{"agent", "status"})

	// llmTokensTotal counts approximate tokens by agent and direction.
	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "legis",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Approximate tokens by agent and direction",
	}, []string{"agent", "direction"})

	// llmLatencySeconds measures generation latency by agent.
	llmLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "legis",
		Subsystem: "llm",
		Name:      "latency_seconds",
		Help:      "Generation call latency",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"agent"})
)

// AgentMetrics accumulates per-agent usage counters: call count,
// approximate input/output tokens, elapsed time and error count.
//
// Token counts use a character heuristic (1 token ≈ 4 characters of
// Spanish text); they exist for cost reporting only.
//
// Thread Safety: safe for concurrent use via sync.Mutex.
type AgentMetrics struct {
	mu           sync.Mutex
	agent        string
	Calls        int
	InputTokens  int
	OutputTokens int
	Errors       int
	ElapsedMs    int64
}

// NewAgentMetrics creates a metrics accumulator for an agent.
func NewAgentMetrics(agent string) *AgentMetrics {
	return &AgentMetrics{agent: agent}
}

// RecordCall records a successful generation call.
func (m *AgentMetrics) RecordCall(promptChars, responseChars int, elapsed time.Duration) {
	in, out := promptChars/4, responseChars/4

	m.mu.Lock()
	m.Calls++
	m.InputTokens += in
	m.OutputTokens += out
	m.ElapsedMs += elapsed.Milliseconds()
	m.mu.Unlock()

	llmCallsTotal.WithLabelValues(m.agent, "ok").Inc()
	llmTokensTotal.WithLabelValues(m.agent, "input").Add(float64(in))
	llmTokensTotal.WithLabelValues(m.agent, "output").Add(float64(out))
	llmLatencySeconds.WithLabelValues(m.agent).Observe(elapsed.Seconds())
}

// RecordError records a failed generation call.
func (m *AgentMetrics) RecordError(elapsed time.Duration) {
	m.mu.Lock()
	m.Calls++
	m.Errors++
	m.ElapsedMs += elapsed.Milliseconds()
	m.mu.Unlock()

	llmCallsTotal.WithLabelValues(m.agent, "error").Inc()
}

// Snapshot returns a copy of the counters for reporting.
func (m *AgentMetrics) Snapshot() AgentMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := AgentMetricsSnapshot{
		Agent:        m.agent,
		Calls:        m.Calls,
		InputTokens:  m.InputTokens,
		OutputTokens: m.OutputTokens,
		Errors:       m.Errors,
		ElapsedMs:    m.ElapsedMs,
	}
	if m.Calls > 0 {
		snap.MeanLatencyMs = m.ElapsedMs / int64(m.Calls)
	}
	return snap
}

// AgentMetricsSnapshot is the immutable view included in run reports.
type AgentMetricsSnapshot struct {
	Agent         string `json:"agent"`
	Calls         int    `json:"calls"`
	InputTokens   int    `json:"input_tokens"`
	OutputTokens  int    `json:"output_tokens"`
	Errors        int    `json:"errors"`
	ElapsedMs     int64  `json:"elapsed_ms"`
	MeanLatencyMs int64  `json:"mean_latency_ms"`
}

// MeteredClient wraps a Client with per-agent metrics and a pinned
// temperature. Every agent holds its own MeteredClient over the shared
// underlying provider client; the provider client stays stateless.
type MeteredClient struct {
	inner       Client
	metrics     *AgentMetrics
	temperature float32
	logger      *slog.Logger
}

// NewMeteredClient wraps inner for one agent with a fixed temperature.
// logger may be nil.
func NewMeteredClient(inner Client, agent string, temperature float32, logger *slog.Logger) *MeteredClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &MeteredClient{
		inner:       inner,
		metrics:     NewAgentMetrics(agent),
		temperature: temperature,
		logger:      logger,
	}
}

// Generate forwards to the underlying client with the agent's pinned
// temperature, recording counters either way.
func (c *MeteredClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	if params.Temperature == nil {
		params.Temperature = Temp(c.temperature)
	}

	start := time.Now()
	text, err := c.inner.Generate(ctx, prompt, params)
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.RecordError(elapsed)
		c.logger.Warn("generation call failed",
			slog.String("agent", c.metrics.agent),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	c.metrics.RecordCall(len(prompt)+len(params.System), len(text), elapsed)
	return text, nil
}

// Metrics returns the agent's accumulator.
func (c *MeteredClient) Metrics() *AgentMetrics { return c.metrics }
