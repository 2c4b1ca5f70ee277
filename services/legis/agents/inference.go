// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/legis/services/legis/fetcher"
	"github.com/AleutianAI/legis/services/legis/reference"
	"github.com/AleutianAI/legis/services/llm"
)

// InferenceOptions are the tunables of the inference agent. The survivor
// ratio is a production heuristic, deliberately exposed.
type InferenceOptions struct {
	// MaxConcepts caps how many detected concepts are pursued.
	MaxConcepts int
	// MinConfidence rejects concept→norm proposals below this self-reported
	// confidence.
	MinConfidence int
	// SurvivorRatio rejects a proposal when fewer than this share of its
	// proposed articles exist in the official index.
	SurvivorRatio float64
}

// DefaultInferenceOptions returns the production defaults.
func DefaultInferenceOptions() InferenceOptions {
	return InferenceOptions{MaxConcepts: 10, MinConfidence: 70, SurvivorRatio: 0.5}
}

// InferenceAgent proposes additional references from legal concepts the
// text mentions without citing ("homicidio", "procedimiento
// administrativo"). Every proposal is cross-checked against the norm's real
// BOE index; results are BETA and are reported in a separate section, never
// mixed into the validated set.
type InferenceAgent struct {
	client *llm.MeteredClient
	fetch  *fetcher.Fetcher
	opts   InferenceOptions
	logger *slog.Logger
}

// NewInferenceAgent builds the agent (temperature 0.2).
func NewInferenceAgent(base llm.Client, fetch *fetcher.Fetcher, opts InferenceOptions, logger *slog.Logger) *InferenceAgent {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxConcepts <= 0 {
		opts = DefaultInferenceOptions()
	}
	return &InferenceAgent{
		client: llm.NewMeteredClient(base, "inference", 0.2, logger),
		fetch:  fetch,
		opts:   opts,
		logger: logger,
	}
}

// Metrics exposes the agent's usage counters.
func (a *InferenceAgent) Metrics() *llm.AgentMetrics { return a.client.Metrics() }

// Infer runs concept detection, concept→norm mapping and the index
// cross-check, returning deduplicated BETA references.
func (a *InferenceAgent) Infer(ctx context.Context, text string, existing []*reference.Reference) ([]*reference.Reference, error) {
	concepts, err := a.detectConcepts(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(concepts) == 0 {
		a.logger.Info("no legal concepts detected for inference")
		return nil, nil
	}

	a.logger.Info("legal concepts detected",
		slog.Int("count", len(concepts)),
		slog.String("concepts", strings.Join(concepts, ", ")),
	)

	var inferred []*reference.Reference
	for _, concept := range concepts {
		if err := ctx.Err(); err != nil {
			return inferred, err
		}
		proposal := a.mapConcept(ctx, concept, text)
		if proposal == nil {
			continue
		}
		ref := a.crossCheck(ctx, proposal)
		if ref != nil {
			inferred = append(inferred, ref)
		}
	}

	out := dedupeInferred(inferred, existing, a.opts.SurvivorRatio)
	a.logger.Info("inference complete",
		slog.Int("proposals", len(inferred)),
		slog.Int("kept", len(out)),
	)
	return out, nil
}

func (a *InferenceAgent) detectConcepts(ctx context.Context, text string) ([]string, error) {
	if len(text) > 4000 {
		text = text[:4000]
	}
	prompt := fmt.Sprintf(`Analiza el siguiente texto de un temario de oposiciones.

TAREA: Identifica CONCEPTOS LEGALES mencionados SIN referencia legal explícita (ej: homicidio, aborto, lesiones, delitos contra la libertad, procedimiento administrativo, recurso contencioso-administrativo).

IMPORTANTE:
- Solo conceptos claramente regulados por leyes españolas
- NO incluyas conceptos que ya tengan cita explícita (ej: "art. 138 CP")
- Usa terminología jurídica precisa

TEXTO:
%s

Responde SOLO con una lista de conceptos, uno por línea, sin numeración.
Si no hay conceptos relevantes, responde: NINGUNO`, text)

	raw, err := a.client.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	reply := strings.TrimSpace(raw)
	if strings.EqualFold(reply, "NINGUNO") || reply == "" {
		return nil, nil
	}

	var concepts []string
	for _, line := range strings.Split(reply, "\n") {
		c := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-•*"))
		if c == "" || strings.HasPrefix(c, "#") {
			continue
		}
		concepts = append(concepts, c)
		if len(concepts) >= a.opts.MaxConcepts {
			break
		}
	}
	return concepts, nil
}

// proposal is one concept→norm mapping before the index cross-check.
type proposal struct {
	concept    string
	law        string
	boeID      string
	articles   []string
	confidence int
}

func (a *InferenceAgent) mapConcept(ctx context.Context, concept, text string) *proposal {
	if len(text) > 2000 {
		text = text[:2000]
	}
	prompt := fmt.Sprintf(`Eres un experto en legislación española.

CONCEPTO DETECTADO: %s

CONTEXTO DEL TEXTO:
%s

TAREA: Identifica la ley española que regula este concepto y los artículos relevantes.

LEYES PRINCIPALES (con BOE-ID):
- Código Penal: BOE-A-1995-25444
- Constitución Española: BOE-A-1978-31229
- Ley 39/2015 (Procedimiento Administrativo): BOE-A-2015-10565
- Ley 40/2015 (Régimen Jurídico Sector Público): BOE-A-2015-10566
- LOPJ: BOE-A-1985-12666
- LECrim: BOE-A-1882-6036
- LEC: BOE-A-2000-323
- Estatuto de los Trabajadores: BOE-A-2015-11430

Responde EN FORMATO JSON:
{"ley": "nombre completo", "boe_id": "BOE-A-XXXX-XXXXX", "articulos_inicio": "138", "articulos_fin": "143", "confianza": 85}

Solo sugiere leyes si estás MUY SEGURO (confianza >= %d). Si no, responde {"confianza": 0}.`,
		concept, text, a.opts.MinConfidence)

	raw, err := a.client.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		a.logger.Warn("concept mapping failed",
			slog.String("concept", concept),
			slog.String("error", err.Error()),
		)
		return nil
	}

	blob, err := ExtractJSON(raw)
	if err != nil {
		return nil
	}
	var payload struct {
		Ley       flexString `json:"ley"`
		BOEID     flexString `json:"boe_id"`
		Inicio    flexString `json:"articulos_inicio"`
		Fin       flexString `json:"articulos_fin"`
		Confianza flexInt    `json:"confianza"`
	}
	if err := json.Unmarshal(blob, &payload); err != nil {
		return nil
	}
	if int(payload.Confianza) < a.opts.MinConfidence {
		a.logger.Debug("concept proposal below confidence floor",
			slog.String("concept", concept),
			slog.Int("confidence", int(payload.Confianza)),
		)
		return nil
	}

	first, err1 := strconv.Atoi(payload.Inicio.String())
	last, err2 := strconv.Atoi(payload.Fin.String())
	if err1 != nil || err2 != nil || last < first || last-first > 200 {
		return nil
	}
	boeID := payload.BOEID.String()
	if !regexp.MustCompile(`^BOE-[A-Z]-\d{4}-\d+$`).MatchString(boeID) {
		return nil
	}

	articles := make([]string, 0, last-first+1)
	for n := first; n <= last; n++ {
		articles = append(articles, strconv.Itoa(n))
	}
	return &proposal{
		concept:    concept,
		law:        payload.Ley.String(),
		boeID:      boeID,
		articles:   articles,
		confidence: int(payload.Confianza),
	}
}

// crossCheck keeps only the proposed articles that exist in the norm's real
// index, rejecting the proposal when fewer than the survivor ratio remain.
func (a *InferenceAgent) crossCheck(ctx context.Context, p *proposal) *reference.Reference {
	blocks, err := a.fetch.Index(ctx, p.boeID)
	if err != nil {
		a.logger.Warn("index unavailable for inference cross-check",
			slog.String("boe_id", p.boeID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	real := make(map[string]bool, len(blocks))
	artRE := regexp.MustCompile(`(?i)^Art[ií]culo\s+(\d+(?:\.\d+)*)`)
	for _, block := range blocks {
		if m := artRE.FindStringSubmatch(strings.TrimSpace(block.Title)); m != nil {
			real[m[1]] = true
		}
	}

	var surviving []string
	for _, art := range p.articles {
		if real[art] {
			surviving = append(surviving, art)
		}
	}
	if float64(len(surviving)) < a.opts.SurvivorRatio*float64(len(p.articles)) {
		a.logger.Debug("proposal rejected by index cross-check",
			slog.String("concept", p.concept),
			slog.Int("proposed", len(p.articles)),
			slog.Int("surviving", len(surviving)),
		)
		return nil
	}

	return &reference.Reference{
		RawText:          p.concept,
		Kind:             reference.KindLaw,
		Law:              p.law,
		RegistryID:       p.boeID,
		RegistryURL:      "https://www.boe.es/buscar/act.php?id=" + p.boeID,
		Confidence:       p.confidence,
		Concept:          p.concept,
		InferredArticles: surviving,
		Flags:            reference.Flags{Inferred: true},
		Provenance: reference.Provenance{
			Agent:     "inference",
			Timestamp: time.Now().UTC(),
		},
	}
}

// dedupeInferred removes articles already covered by the verified set; a
// reference survives only if at least ratio of its articles are new.
func dedupeInferred(inferred, existing []*reference.Reference, ratio float64) []*reference.Reference {
	seen := make(map[string]bool)
	for _, ref := range existing {
		if ref.RegistryID == "" {
			continue
		}
		if ref.Article != "" {
			seen[ref.RegistryID+"#"+ref.Article] = true
		}
		for _, art := range ref.InferredArticles {
			seen[ref.RegistryID+"#"+art] = true
		}
	}

	var out []*reference.Reference
	for _, ref := range inferred {
		var fresh []string
		for _, art := range ref.InferredArticles {
			if !seen[ref.RegistryID+"#"+art] {
				fresh = append(fresh, art)
			}
		}
		if len(ref.InferredArticles) == 0 ||
			float64(len(fresh)) < ratio*float64(len(ref.InferredArticles)) {
			continue
		}
		ref.InferredArticles = fresh
		out = append(out, ref)
	}
	return out
}
