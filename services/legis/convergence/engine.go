// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package convergence runs the iterative multi-extractor loop: every round
// fans the three extraction agents out over the same text, reconciles their
// outputs into a deduplicated set, and stops at the fixed point where a
// round contributes nothing new.
package convergence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/legis/services/legis/agents"
	"github.com/AleutianAI/legis/services/legis/reference"
	"github.com/AleutianAI/legis/services/llm"
)

// Agent is the extractor contract the engine drives. The three production
// extractors satisfy it; tests substitute stubs.
type Agent interface {
	Name() string
	Extract(ctx context.Context, text string, round int, previous []*reference.Reference) ([]*reference.Reference, error)
}

// Options bound the loop.
type Options struct {
	// MaxRounds caps the number of extraction rounds (1–10).
	MaxRounds int
	// MinConfidence filters the accumulated set before it leaves the engine.
	MinConfidence int
	// LLMDedupMax is the largest batch sent to the model for semantic
	// deduplication; larger batches are first reduced by exact-text
	// comparison.
	LLMDedupMax int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{MaxRounds: 7, MinConfidence: 60, LLMDedupMax: 20}
}

// RoundStats records what one round contributed.
type RoundStats struct {
	Round      int `json:"round"`
	Candidates int `json:"candidates"`
	Unique     int `json:"unique"`
	New        int `json:"new"`
	Total      int `json:"total"`
}

// Result is the engine's output.
type Result struct {
	Refs      []*reference.Reference `json:"refs"`
	Rounds    int                    `json:"rounds"`
	Converged bool                   `json:"converged"`
	History   []RoundStats           `json:"history"`
	// AgentErrors lists per-agent failures absorbed during the run; they
	// end up in the run report, never abort the loop.
	AgentErrors []string `json:"agent_errors,omitempty"`
	// PerAgentKeys holds the semantic keys each agent produced across all
	// rounds, before reconciliation. The comparator measures inter-agent
	// agreement from these.
	PerAgentKeys map[string][]string `json:"per_agent_keys,omitempty"`
}

// Engine coordinates the extractors and the semantic deduplication step.
type Engine struct {
	agents []Agent
	// dedupClient performs LLM equivalence clustering on small candidate
	// batches. Nil disables the model pass (exact dedup only).
	dedupClient *llm.MeteredClient
	opts        Options
	logger      *slog.Logger
}

// New creates an engine over the given extractors, in tie-break order:
// earlier agents win attribution for references several agents produce.
func New(extractors []Agent, dedupBase llm.Client, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRounds <= 0 {
		opts = DefaultOptions()
	}
	var dedup *llm.MeteredClient
	if dedupBase != nil {
		dedup = llm.NewMeteredClient(dedupBase, "dedup", 0.1, logger)
	}
	return &Engine{agents: extractors, dedupClient: dedup, opts: opts, logger: logger}
}

// Run executes up to MaxRounds extraction rounds over text and returns the
// accumulated, confidence-filtered set.
//
// One failing agent leaves the round to the survivors. If every agent fails
// the round counts as empty, which may declare convergence prematurely —
// the orchestrator reports that through AgentErrors.
func (e *Engine) Run(ctx context.Context, text string) (*Result, error) {
	res := &Result{PerAgentKeys: make(map[string][]string)}
	seenPerAgent := make(map[string]map[string]bool)
	var accumulated []*reference.Reference

	for round := 1; round <= e.opts.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		candidates, errs := e.runRound(ctx, text, round, accumulated)
		res.AgentErrors = append(res.AgentErrors, errs...)

		for _, ref := range candidates {
			agent := ref.Provenance.Agent
			if seenPerAgent[agent] == nil {
				seenPerAgent[agent] = make(map[string]bool)
			}
			key := ref.SemanticKey()
			if !seenPerAgent[agent][key] {
				seenPerAgent[agent][key] = true
				res.PerAgentKeys[agent] = append(res.PerAgentKeys[agent], key)
			}
		}

		unique := e.dedupSemantic(ctx, candidates)

		added := 0
		for _, ref := range unique {
			if isDuplicate(ref, accumulated) {
				continue
			}
			accumulated = append(accumulated, ref)
			added++
		}

		res.Rounds = round
		res.History = append(res.History, RoundStats{
			Round:      round,
			Candidates: len(candidates),
			Unique:     len(unique),
			New:        added,
			Total:      len(accumulated),
		})

		e.logger.Info("convergence round complete",
			slog.Int("round", round),
			slog.Int("candidates", len(candidates)),
			slog.Int("new", added),
			slog.Int("total", len(accumulated)),
		)

		if added == 0 {
			res.Converged = true
			break
		}
	}

	res.Refs = filterConfidence(accumulated, e.opts.MinConfidence)
	if dropped := len(accumulated) - len(res.Refs); dropped > 0 {
		e.logger.Info("references below confidence floor dropped",
			slog.Int("dropped", dropped),
			slog.Int("floor", e.opts.MinConfidence),
		)
	}
	return res, nil
}

// runRound fans all agents out in parallel and concatenates their outputs
// in agent order, which keeps attribution deterministic.
func (e *Engine) runRound(ctx context.Context, text string, round int, previous []*reference.Reference) ([]*reference.Reference, []string) {
	outputs := make([][]*reference.Reference, len(e.agents))
	var mu sync.Mutex
	var errs []string

	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range e.agents {
		g.Go(func() error {
			refs, err := agent.Extract(gctx, text, round, previous)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Sprintf("round %d: %v", round, err))
				mu.Unlock()
				return nil // one agent failing never fails the round
			}
			outputs[i] = refs
			return nil
		})
	}
	g.Wait()

	var candidates []*reference.Reference
	for _, refs := range outputs {
		candidates = append(candidates, refs...)
	}
	return candidates, errs
}

// dedupSemantic collapses semantically equivalent candidates. Small batches
// go through the model for equivalence clustering ("CE art. 24" ==
// "artículo 24 de la Constitución"). Larger batches go through exact
// normalized-text deduplication first and reach the model only if that
// leaves at most LLMDedupMax refs; any model failure falls back to exact
// deduplication.
func (e *Engine) dedupSemantic(ctx context.Context, refs []*reference.Reference) []*reference.Reference {
	if len(refs) <= 1 {
		return refs
	}
	if e.dedupClient == nil || len(refs) > e.opts.LLMDedupMax {
		exact := dedupExact(refs)
		if e.dedupClient != nil && len(exact) <= e.opts.LLMDedupMax {
			return e.dedupWithModel(ctx, exact)
		}
		return exact
	}
	return e.dedupWithModel(ctx, refs)
}

func (e *Engine) dedupWithModel(ctx context.Context, refs []*reference.Reference) []*reference.Reference {
	prompt := buildDedupPrompt(refs)

	raw, err := e.dedupClient.Generate(ctx, prompt, llm.GenerationParams{
		System: "Eres un experto en referencias legales españolas. Devuelve SOLO JSON.",
	})
	if err != nil {
		e.logger.Warn("semantic dedup call failed, using exact dedup",
			slog.String("error", err.Error()))
		return dedupExact(refs)
	}

	blob, err := agents.ExtractJSON(raw)
	if err != nil {
		return dedupExact(refs)
	}
	var payload struct {
		Indices []int `json:"indices_unicos"`
	}
	if err := json.Unmarshal(blob, &payload); err != nil || len(payload.Indices) == 0 {
		return dedupExact(refs)
	}

	var out []*reference.Reference
	seen := make(map[int]bool)
	for _, idx := range payload.Indices {
		if idx >= 0 && idx < len(refs) && !seen[idx] {
			seen[idx] = true
			out = append(out, refs[idx])
		}
	}
	if len(out) == 0 {
		return dedupExact(refs)
	}
	return out
}

func buildDedupPrompt(refs []*reference.Reference) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analiza estas %d referencias legales y detecta cuáles son DUPLICADOS SEMÁNTICOS.\n\n", len(refs))
	b.WriteString(`Dos referencias son duplicados si se refieren a la MISMA ley y artículo aunque estén escritas diferente:
- "CE art.24" y "artículo 24 de la Constitución" → DUPLICADOS
- "LEC art.5" y "Ley 1/2000 artículo 5" → DUPLICADOS
- "CE art.1" y "CE art.2" → NO duplicados (artículos distintos)

REFERENCIAS A ANALIZAR:
`)
	for i, ref := range refs {
		fmt.Fprintf(&b, "%d. %q (ley: %s, art: %s)\n", i, ref.RawText, na(ref.Law), na(ref.Article))
	}
	b.WriteString(`
TAREA: Identifica los índices de las referencias ÚNICAS. Entre duplicados, elige la más completa.

FORMATO DE SALIDA (JSON):
` + "```json" + `
{"indices_unicos": [0, 2, 5]}
` + "```" + `
Responde SOLO con el JSON.`)
	return b.String()
}

func na(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// dedupExact keeps the first reference per normalized raw text.
func dedupExact(refs []*reference.Reference) []*reference.Reference {
	seen := make(map[string]bool, len(refs))
	var out []*reference.Reference
	for _, ref := range refs {
		key := ref.NormalizedText()
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ref)
	}
	return out
}

// isDuplicate reports whether ref matches an accumulated reference by raw
// text or semantic key (case-normalized). The key includes the article, so
// two articles of one law are not duplicates.
func isDuplicate(ref *reference.Reference, accumulated []*reference.Reference) bool {
	text := ref.NormalizedText()
	key := ""
	if ref.Law != "" {
		key = ref.SemanticKey()
	}
	for _, prev := range accumulated {
		if text != "" && text == prev.NormalizedText() {
			return true
		}
		if key != "" && key == prev.SemanticKey() {
			return true
		}
	}
	return false
}

func filterConfidence(refs []*reference.Reference, floor int) []*reference.Reference {
	out := make([]*reference.Reference, 0, len(refs))
	for _, ref := range refs {
		if ref.Confidence >= floor {
			out = append(out, ref)
		}
	}
	return out
}
