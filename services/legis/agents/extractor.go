// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agents implements the LLM-backed workers of the extraction
// pipeline: the three extractors, the context and title resolvers, the
// normalizer, the validator and the inference agent. Every agent talks to
// the model exclusively through its metered llm client.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/legis/services/legis/abbrev"
	"github.com/AleutianAI/legis/services/legis/reference"
	"github.com/AleutianAI/legis/services/llm"
)

// extractorStyle selects the prompt strategy of an extractor.
type extractorStyle int

const (
	styleConservative extractorStyle = iota // explicit citations only
	styleAggressive                         // implicit citations + sigla hints
	styleHound                              // natural-language references, no hints
)

// maxPromptChars bounds the document slice sent to the model (~12,500
// tokens of Spanish text).
const maxPromptChars = 50_000

// previousRefsInPrompt caps how many already-found references are listed
// back to the model in later rounds.
const previousRefsInPrompt = 10

// Extractor is one of the three extraction agents. The three instances
// share one underlying provider client but differ in prompt strategy and
// pinned temperature.
type Extractor struct {
	name     string
	style    extractorStyle
	client   *llm.MeteredClient
	registry *abbrev.Registry
	logger   *slog.Logger
}

// NewExtractorA builds the conservative extractor (temperature 0.1):
// explicit citations only, reject on doubt.
func NewExtractorA(base llm.Client, reg *abbrev.Registry, logger *slog.Logger) *Extractor {
	return newExtractor("agente-a-conservador", styleConservative, 0.1, base, reg, logger)
}

// NewExtractorB builds the aggressive extractor (temperature 0.4):
// implicit citations and siglas, prompt seeded with the known sigla list.
func NewExtractorB(base llm.Client, reg *abbrev.Registry, logger *slog.Logger) *Extractor {
	return newExtractor("agente-b-agresivo", styleAggressive, 0.4, base, reg, logger)
}

// NewExtractorC builds the hound extractor (temperature 0.4): catches
// natural-language references; receives no sigla hints so it stays
// unbiased by the curated list.
func NewExtractorC(base llm.Client, reg *abbrev.Registry, logger *slog.Logger) *Extractor {
	return newExtractor("agente-c-sabueso", styleHound, 0.4, base, reg, logger)
}

func newExtractor(name string, style extractorStyle, temp float32, base llm.Client, reg *abbrev.Registry, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		name:     name,
		style:    style,
		client:   llm.NewMeteredClient(base, name, temp, logger),
		registry: reg,
		logger:   logger,
	}
}

// Name returns the agent identifier used in provenance records.
func (e *Extractor) Name() string { return e.name }

// Metrics exposes the agent's usage counters for the run report.
func (e *Extractor) Metrics() *llm.AgentMetrics { return e.client.Metrics() }

// Extract runs one extraction pass over text for the given round,
// returning only references not already present in previous.
//
// A malformed model reply degrades to regex extraction at reduced
// confidence; it never fails the round.
func (e *Extractor) Extract(ctx context.Context, text string, round int, previous []*reference.Reference) ([]*reference.Reference, error) {
	prompt := e.buildPrompt(text, round, previous)

	raw, err := e.client.Generate(ctx, prompt, llm.GenerationParams{System: e.systemInstruction()})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}

	refs := e.parseReply(raw, round)
	refs = e.filterPrevious(refs, previous)

	e.logger.Info("extraction pass complete",
		slog.String("agent", e.name),
		slog.Int("round", round),
		slog.Int("new_refs", len(refs)),
	)
	return refs, nil
}

func (e *Extractor) systemInstruction() string {
	switch e.style {
	case styleConservative:
		return `Eres un asistente legal especializado en extracción de referencias legales de temarios de oposiciones del Estado español.

REGLAS CRÍTICAS:
1. SOLO incluye referencias que aparezcan EXPLÍCITAMENTE en el texto
2. NO inventes ni deduzcas referencias que no estén escritas
3. NO incluyas referencias genéricas como "la ley" sin especificar cuál
4. SÉ EXTREMADAMENTE CONSERVADOR: en caso de duda, NO incluyas la referencia
5. Extrae el texto EXACTO de la referencia tal como aparece

Devuelve SOLO JSON válido, sin texto adicional.`
	case styleAggressive:
		return `Eres un asistente legal especializado en extracción EXHAUSTIVA de referencias legales de temarios de oposiciones del Estado español.

REGLAS:
1. Busca referencias EXPLÍCITAS e IMPLÍCITAS
2. Identifica SIGLAS legales (LPAC, LRJSP, LEC, CE...) y expándelas
3. Detecta referencias como "la ley" o "el reglamento" y deduce cuál es según el contexto
4. SÉ MÁS INCLUSIVO: en caso de duda razonable, INCLUYE la referencia
5. Marca el nivel de confianza según cuán explícita sea la referencia

Devuelve SOLO JSON válido, sin texto adicional.`
	default:
		return `Eres un experto en extracción de referencias legales españolas.

Tu especialidad es encontrar referencias mencionadas en LENGUAJE NATURAL sin formato estándar: "según el Código Civil", "la Constitución establece", "el Estatuto prevé", "el Reglamento dispone".

NO captures doctrina ni jurisprudencia (STC, STS) ni citas de autores.

REGLAS:
1. Extrae el texto EXACTO de la referencia
2. Identifica el tipo de norma (ley, código, constitución, real decreto...)
3. Si puedes inferir la ley completa del contexto, hazlo
4. En caso de duda razonable, incluye la referencia con confianza media

Devuelve SOLO JSON válido, sin texto adicional.`
	}
}

func (e *Extractor) buildPrompt(text string, round int, previous []*reference.Reference) string {
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars] + "\n\n[... texto truncado ...]"
		e.logger.Warn("document truncated for prompt",
			slog.String("agent", e.name),
			slog.Int("max_chars", maxPromptChars),
		)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analiza el siguiente texto de un tema de oposiciones y extrae TODAS las referencias legales.\n\nTEXTO A ANALIZAR:\n---\n%s\n---\n\nRONDA DE EXTRACCIÓN: %d\n\n", text, round)

	if round > 1 && len(previous) > 0 {
		b.WriteString("REFERENCIAS YA ENCONTRADAS (no las repitas):\n")
		listed := previous
		if len(listed) > previousRefsInPrompt {
			listed = listed[:previousRefsInPrompt]
		}
		for _, ref := range listed {
			fmt.Fprintf(&b, "- %s\n", ref.RawText)
		}
		if len(previous) > previousRefsInPrompt {
			b.WriteString("... y más\n")
		}
		b.WriteString("\nTAREA: Encuentra NUEVAS referencias que NO estén en la lista anterior.\n\n")
	}

	// The hound works without hints on purpose.
	if e.style != styleHound && e.registry != nil {
		b.WriteString(e.registry.PromptAssistance(20))
		b.WriteString("\n")
	}

	b.WriteString(`FORMATO DE RESPUESTA (JSON):
` + "```json" + `
{
  "referencias": [
    {
      "texto_completo": "Artículo 24 de la Constitución Española",
      "tipo": "articulo",
      "ley": "Constitución Española",
      "articulo": "24",
      "contexto": "El artículo 24 de la Constitución Española reconoce...",
      "confianza": 100
    }
  ]
}
` + "```" + `

TIPOS: ley, ley_organica, real_decreto, real_decreto_legislativo, articulo, codigo, constitucion, sigla, reglamento_ue, directiva_ue, decision_ue, contextual.
`)

	switch e.style {
	case styleConservative:
		b.WriteString("\nNIVEL DE CONFIANZA: 100 explícita; 90-99 muy clara; 80-89 con ambigüedad menor. NO incluyas referencias con confianza < 80.\n")
	default:
		b.WriteString("\nNIVEL DE CONFIANZA: 100 explícita con número; 80-99 clara o sigla conocida; 60-79 deducida del contexto. Incluye referencias con confianza >= 60.\n")
	}

	b.WriteString("\nResponde SOLO con el JSON, sin texto adicional antes o después.")
	return b.String()
}

// refItem is the permissive wire shape of one extracted reference.
type refItem struct {
	TextoCompleto flexString `json:"texto_completo"`
	Tipo          flexString `json:"tipo"`
	Ley           flexString `json:"ley"`
	Articulo      flexString `json:"articulo"`
	Contexto      flexString `json:"contexto"`
	Confianza     flexInt    `json:"confianza"`
}

type refPayload struct {
	Referencias []refItem `json:"referencias"`
}

func (e *Extractor) parseReply(raw string, round int) []*reference.Reference {
	blob, err := ExtractJSON(raw)
	if err != nil {
		e.logger.Warn("model reply was not JSON, using regex fallback",
			slog.String("agent", e.name),
			slog.String("error", err.Error()),
		)
		return e.regexFallback(raw, round)
	}

	var payload refPayload
	if err := json.Unmarshal(blob, &payload); err != nil {
		e.logger.Warn("model JSON did not match expected shape, using regex fallback",
			slog.String("agent", e.name),
			slog.String("error", err.Error()),
		)
		return e.regexFallback(raw, round)
	}

	refs := make([]*reference.Reference, 0, len(payload.Referencias))
	for _, item := range payload.Referencias {
		rawText := item.TextoCompleto.String()
		if rawText == "" {
			continue
		}
		refs = append(refs, &reference.Reference{
			RawText:    rawText,
			Kind:       mapKind(item.Tipo.String()),
			Law:        item.Ley.String(),
			Article:    item.Articulo.String(),
			Context:    item.Contexto.String(),
			Confidence: int(item.Confianza),
			Provenance: reference.Provenance{
				Agent:     e.name,
				Round:     round,
				Timestamp: time.Now().UTC(),
			},
		})
	}
	return refs
}

// fallbackPatterns recovers citations from an unparseable reply. Reduced
// confidence marks them for the context resolver.
var fallbackPatterns = []struct {
	re   *regexp.Regexp
	kind reference.Kind
}{
	{regexp.MustCompile(`(?i)Ley\s+Orgánica\s+\d+/\d{4}`), reference.KindOrganicLaw},
	{regexp.MustCompile(`(?i)Real\s+Decreto\s+Legislativo\s+\d+/\d{4}`), reference.KindLegislativeRD},
	{regexp.MustCompile(`(?i)Real\s+Decreto\s+\d+/\d{4}`), reference.KindRoyalDecree},
	{regexp.MustCompile(`(?i)\bRD\s+\d+/\d{4}`), reference.KindRoyalDecree},
	{regexp.MustCompile(`(?i)Ley\s+\d+/\d{4}`), reference.KindLaw},
	{regexp.MustCompile(`(?i)Constitución\s+Española`), reference.KindConstitution},
	{regexp.MustCompile(`(?i)Código\s+(Civil|Penal|de\s+Comercio)`), reference.KindCode},
}

const fallbackConfidence = 70

func (e *Extractor) regexFallback(raw string, round int) []*reference.Reference {
	var refs []*reference.Reference
	seen := make(map[string]bool)

	for _, fp := range fallbackPatterns {
		for _, m := range fp.re.FindAllString(raw, -1) {
			key := reference.NormalizeText(m)
			if seen[key] {
				continue
			}
			seen[key] = true
			refs = append(refs, &reference.Reference{
				RawText:    m,
				Kind:       fp.kind,
				Law:        m,
				Confidence: fallbackConfidence,
				Context:    "(extraído por fallback)",
				Provenance: reference.Provenance{
					Agent:     e.name,
					Round:     round,
					Timestamp: time.Now().UTC(),
				},
			})
		}
	}

	e.logger.Info("regex fallback extraction",
		slog.String("agent", e.name),
		slog.Int("refs", len(refs)),
	)
	return refs
}

// filterPrevious drops refs whose raw text or semantic key (law plus
// article) already appears in previous (case-normalized), including
// duplicates within the batch itself.
func (e *Extractor) filterPrevious(refs, previous []*reference.Reference) []*reference.Reference {
	seen := make(map[string]bool, len(previous)*2)
	for _, ref := range previous {
		if t := ref.NormalizedText(); t != "" {
			seen[t] = true
		}
		if ref.Law != "" {
			seen[ref.SemanticKey()] = true
		}
	}

	var out []*reference.Reference
	for _, ref := range refs {
		text := ref.NormalizedText()
		key := ""
		if ref.Law != "" {
			key = ref.SemanticKey()
		}
		if (text != "" && seen[text]) || (key != "" && seen[key]) {
			continue
		}
		out = append(out, ref)
		if text != "" {
			seen[text] = true
		}
		if key != "" {
			seen[key] = true
		}
	}
	return out
}

// mapKind translates the wire tipo into the model's Kind tag.
func mapKind(tipo string) reference.Kind {
	switch strings.ToLower(strings.TrimSpace(tipo)) {
	case "ley":
		return reference.KindLaw
	case "ley_organica", "ley orgánica", "ley organica":
		return reference.KindOrganicLaw
	case "real_decreto", "real decreto":
		return reference.KindRoyalDecree
	case "real_decreto_legislativo", "real decreto legislativo":
		return reference.KindLegislativeRD
	case "articulo", "artículo", "apartado":
		return reference.KindArticle
	case "codigo", "código", "estatuto":
		return reference.KindCode
	case "constitucion", "constitución":
		return reference.KindConstitution
	case "reglamento_ue", "reglamento (ue)", "reglamento ue":
		return reference.KindEURegulation
	case "directiva_ue", "directiva (ue)", "directiva ue", "directiva":
		return reference.KindEUDirective
	case "decision_ue", "decisión (ue)", "decision ue":
		return reference.KindEUDecision
	case "sigla", "abreviatura":
		return reference.KindAbbreviation
	case "contextual":
		return reference.KindContextual
	default:
		return reference.KindContextual
	}
}
