// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline sequences the extraction stages over a document:
// convergence, context resolution, title resolution, normalization,
// validation, optional inference, enrichment, and the final audit. Stages
// parallelize internally where safe; failures stay confined to the
// reference or stage that produced them.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/legis/services/legis/audit"
	"github.com/AleutianAI/legis/services/legis/convergence"
	"github.com/AleutianAI/legis/services/legis/document"
	"github.com/AleutianAI/legis/services/legis/fetcher"
	"github.com/AleutianAI/legis/services/legis/reference"
	"github.com/AleutianAI/legis/services/llm"
)

// Progress is one progress notification. The callback is invoked from
// worker goroutines; the pipeline serializes calls so implementations only
// need to be fast, not reentrant.
type Progress struct {
	Percent      float64  `json:"percent"`
	Phase        string   `json:"phase"`
	TechMessage  string   `json:"technical_message"`
	ActiveAgents []string `json:"active_agents,omitempty"`
}

// ProgressFunc receives stage notifications.
type ProgressFunc func(Progress)

// Stage collaborator contracts. The production agents satisfy them; tests
// substitute stubs.
type (
	// Engine runs the convergence loop.
	Engine interface {
		Run(ctx context.Context, text string) (*convergence.Result, error)
	}
	// ContextResolver fills missing law fields from surrounding text.
	ContextResolver interface {
		Resolve(ctx context.Context, refs []*reference.Reference, fullText string) ([]*reference.Reference, error)
	}
	// TitleResolver fills official titles.
	TitleResolver interface {
		Resolve(ctx context.Context, refs []*reference.Reference, excerpt string) ([]*reference.Reference, error)
	}
	// Normalizer canonicalizes one reference.
	Normalizer interface {
		Normalize(ctx context.Context, ref *reference.Reference, docContext string) *reference.Reference
	}
	// Validator resolves registry ids and verifies articles.
	Validator interface {
		Validate(ctx context.Context, ref *reference.Reference) *reference.Reference
	}
	// Inferrer proposes BETA references from legal concepts.
	Inferrer interface {
		Infer(ctx context.Context, text string, existing []*reference.Reference) ([]*reference.Reference, error)
	}
	// ArticleFetcher retrieves authoritative article text.
	ArticleFetcher interface {
		FetchArticle(ctx context.Context, boeID, article, hint string) (*fetcher.Article, error)
		FetchEUArticle(ctx context.Context, celexID, article, lang string) (*fetcher.Article, error)
	}
	// MetricsSource exposes an agent's usage counters for the report.
	MetricsSource interface {
		Metrics() *llm.AgentMetrics
	}
)

// Options are the per-run knobs.
type Options struct {
	MaxWorkers          int
	ConfidenceThreshold int
	UseContextAgent     bool
	UseInferenceAgent   bool
	TextLimit           int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxWorkers:          4,
		ConfidenceThreshold: 70,
		UseContextAgent:     true,
	}
}

// Report is the structured result of one run. It is always produced, even
// for an empty or degraded run.
type Report struct {
	Document  string    `json:"document"`
	Timestamp time.Time `json:"timestamp"`
	ElapsedMs int64     `json:"elapsed_ms"`
	TextChars int       `json:"text_chars"`

	// Refs is the exportable set, in extraction order.
	Refs []*reference.Reference `json:"refs"`
	// Quarantined holds detected hallucinations, excluded from Refs.
	Quarantined []*reference.Reference `json:"quarantined,omitempty"`
	// Inferred holds the BETA section, never mixed into Refs.
	Inferred []*reference.Reference `json:"inferred,omitempty"`
	// BelowThreshold counts references dropped by the final filter.
	BelowThreshold int `json:"below_threshold"`

	Rounds    int                      `json:"rounds"`
	Converged bool                     `json:"converged"`
	History   []convergence.RoundStats `json:"history,omitempty"`

	Comparison *audit.Comparison `json:"comparison,omitempty"`
	Audit      *audit.Report     `json:"audit,omitempty"`

	// StageErrors lists degraded stages; none of them aborts a run.
	StageErrors []string `json:"stage_errors,omitempty"`

	AgentMetrics []llm.AgentMetricsSnapshot `json:"agent_metrics,omitempty"`
}

// Pipeline wires the stages together.
type Pipeline struct {
	engine    Engine
	ctxAgent  ContextResolver
	titles    TitleResolver
	norm      Normalizer
	validator Validator
	inferrer  Inferrer
	fetch     ArticleFetcher

	opts   Options
	logger *slog.Logger

	metricsSources []MetricsSource

	progressMu sync.Mutex
	progress   ProgressFunc
}

// Option configures optional collaborators.
type Option func(*Pipeline)

// WithInferrer enables the BETA inference stage.
func WithInferrer(inf Inferrer) Option {
	return func(p *Pipeline) { p.inferrer = inf }
}

// WithProgress installs the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// WithMetricsSources registers agents whose counters go into the report.
func WithMetricsSources(sources ...MetricsSource) Option {
	return func(p *Pipeline) { p.metricsSources = append(p.metricsSources, sources...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New assembles a pipeline. engine, norm and validator are required;
// ctxAgent, titles and fetch may be nil (the stage becomes a no-op).
func New(engine Engine, ctxAgent ContextResolver, titles TitleResolver, norm Normalizer, validator Validator, fetch ArticleFetcher, opts Options, pipelineOpts ...Option) *Pipeline {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultOptions().MaxWorkers
	}
	p := &Pipeline{
		engine:    engine,
		ctxAgent:  ctxAgent,
		titles:    titles,
		norm:      norm,
		validator: validator,
		fetch:     fetch,
		opts:      opts,
		logger:    slog.Default(),
	}
	for _, opt := range pipelineOpts {
		opt(p)
	}
	return p
}

func (p *Pipeline) report(percent float64, phase, tech string, agents ...string) {
	if p.progress == nil {
		return
	}
	p.progressMu.Lock()
	defer p.progressMu.Unlock()
	p.progress(Progress{Percent: percent, Phase: phase, TechMessage: tech, ActiveAgents: agents})
}

// Run executes the full pipeline over doc. Cancellation is observed at
// stage boundaries and between batches; in-flight calls finish and their
// results are discarded. An error (cancellation or an engine failure) is
// returned together with the partial report built up to that point.
func (p *Pipeline) Run(ctx context.Context, doc *document.Document) (*Report, error) {
	ctx, span := otel.Tracer("aleutian.legis").Start(ctx, "pipeline.run",
		oteltrace.WithAttributes(attribute.String("document", doc.Title)),
	)
	defer span.End()

	start := time.Now()
	rep := &Report{
		Document:  doc.Title,
		Timestamp: start.UTC(),
	}

	// Stage 1: document text.
	p.report(15, "Fase 1: Extracción de texto", "Convirtiendo el documento a texto plano")
	text := doc.Text(p.opts.TextLimit)
	rep.TextChars = len(text)
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	// Stage 2: convergence loop.
	p.report(30, "Fase 2: Convergencia", "3 agentes extractores en paralelo",
		"agente-a-conservador", "agente-b-agresivo", "agente-c-sabueso")
	convRes, err := p.engine.Run(ctx, text)
	if err != nil {
		return rep, err
	}
	rep.Rounds = convRes.Rounds
	rep.Converged = convRes.Converged
	rep.History = convRes.History
	rep.StageErrors = append(rep.StageErrors, convRes.AgentErrors...)
	refs := convRes.Refs

	p.logger.Info("convergence finished",
		slog.Int("refs", len(refs)),
		slog.Int("rounds", convRes.Rounds),
		slog.Bool("converged", convRes.Converged),
	)

	// An empty set flows through the remaining stages as no-ops.

	// Stage 3: context resolution (optional, non-essential).
	if p.opts.UseContextAgent && p.ctxAgent != nil && len(refs) > 0 {
		p.report(35, "Fase 3: Resolución de contexto", "Completando referencias incompletas", "context-resolver")
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if _, cerr := p.ctxAgent.Resolve(ctx, refs, text); cerr != nil {
			rep.StageErrors = append(rep.StageErrors, fmt.Sprintf("context: %v", cerr))
		}
	}

	// Stage 4: title resolution (non-essential).
	if p.titles != nil && len(refs) > 0 {
		p.report(40, "Fase 4: Resolución de títulos", "Resolviendo títulos oficiales", "title-resolver")
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		excerpt := text
		if len(excerpt) > 3000 {
			excerpt = excerpt[:3000]
		}
		if _, terr := p.titles.Resolve(ctx, refs, excerpt); terr != nil {
			rep.StageErrors = append(rep.StageErrors, fmt.Sprintf("titles: %v", terr))
		}
	}

	// Stage 5: normalization, batched across workers.
	p.report(50, "Fase 5: Normalización", "Canonicalizando formatos", "normalizer")
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	docContext := text
	if len(docContext) > 2000 {
		docContext = docContext[:2000]
	}
	p.forEachRef(ctx, refs, func(ref *reference.Reference) {
		p.norm.Normalize(ctx, ref, docContext)
	})

	// Stage 6: validation, per-ref fan-out.
	p.report(65, "Fase 6: Validación BOE", "Verificando referencias contra los registros oficiales", "validator")
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	p.forEachRef(ctx, refs, func(ref *reference.Reference) {
		p.validator.Validate(ctx, ref)
	})

	// Stage 7: inference (BETA, optional, non-essential).
	if p.opts.UseInferenceAgent && p.inferrer != nil {
		p.report(70, "Fase 7: Inferencia (BETA)", "Proponiendo normativa desde conceptos", "inference")
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		inferred, ierr := p.inferrer.Infer(ctx, text, refs)
		if ierr != nil {
			rep.StageErrors = append(rep.StageErrors, fmt.Sprintf("inference: %v", ierr))
		}
		rep.Inferred = inferred
	}

	// Stage 8: enrichment — fetch authoritative article text.
	if p.fetch != nil {
		p.report(75, "Fase 8: Enriquecimiento", "Descargando textos oficiales de artículos", "article-fetcher")
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		p.forEachRef(ctx, refs, func(ref *reference.Reference) {
			p.enrich(ctx, ref)
		})
	}

	// Stage 9: inter-agent comparison and quality audit (read-only).
	p.report(85, "Fase 9: Auditoría", "Analizando acuerdo entre agentes y calidad del conjunto")
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	rep.Comparison = audit.Compare(convRes.PerAgentKeys)

	// Stage 10: final assembly.
	p.report(95, "Fase 10: Informe", "Preparando el conjunto exportable")
	final, quarantined, dropped := assemble(refs, p.opts.ConfidenceThreshold)
	rep.Refs = final
	rep.Quarantined = quarantined
	rep.BelowThreshold = dropped
	rep.Audit = audit.Audit(final, audit.PipelineFacts{
		Converged: rep.Converged,
		Rounds:    rep.Rounds,
	})

	for _, src := range p.metricsSources {
		rep.AgentMetrics = append(rep.AgentMetrics, src.Metrics().Snapshot())
	}

	rep.ElapsedMs = time.Since(start).Milliseconds()
	span.SetAttributes(
		attribute.Int("refs.exportable", len(rep.Refs)),
		attribute.Int("refs.quarantined", len(rep.Quarantined)),
		attribute.Int("rounds", rep.Rounds),
	)
	p.report(100, "Completado", "Procesamiento completado")

	p.logger.Info("pipeline run complete",
		slog.Int("exportable", len(rep.Refs)),
		slog.Int("quarantined", len(rep.Quarantined)),
		slog.Int("inferred", len(rep.Inferred)),
		slog.Int64("elapsed_ms", rep.ElapsedMs),
	)
	return rep, nil
}

// forEachRef fans fn out over refs with the worker bound, preserving input
// order (each worker writes only its own index). Per-ref panics are
// confined to the ref they touched.
func (p *Pipeline) forEachRef(ctx context.Context, refs []*reference.Reference, fn func(*reference.Reference)) {
	if len(refs) == 0 {
		return
	}
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MaxWorkers)

	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					ref.AddAudit(fmt.Sprintf("stage panic: %v", r))
					p.logger.Error("per-ref stage panic recovered",
						slog.String("raw", ref.RawText),
						slog.Any("panic", r),
					)
				}
			}()
			fn(ref)
			return nil
		})
	}
	g.Wait()
}

// enrich attaches the authoritative article body to a reference.
func (p *Pipeline) enrich(ctx context.Context, ref *reference.Reference) {
	if ref.RegistryID == "" || ref.Flags.Hallucinated {
		return
	}

	var art *fetcher.Article
	var err error
	switch {
	case ref.Kind.IsEU():
		if ref.Article == "" {
			return
		}
		art, err = p.fetch.FetchEUArticle(ctx, ref.RegistryID, ref.Article, "ES")
	case ref.Article != "":
		art, err = p.fetch.FetchArticle(ctx, ref.RegistryID, ref.Article, "")
	default:
		return
	}

	if err != nil || art == nil {
		ref.AddAudit("enrich: article text unavailable")
		return
	}
	ref.ArticleBody = art.Body
	ref.ArticleTitle = art.Title
	ref.IsSubpoint = art.IsSubpoint
	if art.URL != "" {
		ref.RegistryURL = art.URL
	}
}

// assemble applies the final semantic dedup, splits quarantined
// hallucinations out, and filters by exportability and the confidence
// threshold — preserving extraction order.
func assemble(refs []*reference.Reference, threshold int) (final, quarantined []*reference.Reference, dropped int) {
	deduped := reference.DedupSemantic(refs)
	for _, ref := range deduped {
		switch {
		case ref.Flags.Hallucinated:
			quarantined = append(quarantined, ref)
		case !ref.Exportable():
			dropped++
		case ref.Confidence < threshold:
			dropped++
		default:
			final = append(final, ref)
		}
	}
	return final, quarantined, dropped
}
