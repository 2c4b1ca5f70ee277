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
	"strings"

	"github.com/AleutianAI/legis/services/legis/abbrev"
	"github.com/AleutianAI/legis/services/legis/reference"
	"github.com/AleutianAI/legis/services/llm"
)

// ContextResolverOptions are the tunables of the context resolver. The
// promote-at threshold is a heuristic carried over from production tuning;
// both knobs are deliberately exposed.
type ContextResolverOptions struct {
	// Window is the number of characters taken on each side of a
	// reference's position in the document.
	Window int
	// BatchSize caps how many contexts go into one model call.
	BatchSize int
	// PromoteAt promotes any reference at or above this confidence to 100
	// during the second pass.
	PromoteAt int
	// DocHeadChars is how much of the document head the principal-law
	// detection reads.
	DocHeadChars int
	// PrincipalMinConfidence is the minimum self-reported confidence for a
	// detected principal law to be used.
	PrincipalMinConfidence int
}

// DefaultContextResolverOptions returns the production defaults.
func DefaultContextResolverOptions() ContextResolverOptions {
	return ContextResolverOptions{
		Window:                 1500,
		BatchSize:              10,
		PromoteAt:              95,
		DocHeadChars:           5000,
		PrincipalMinConfidence: 80,
	}
}

// ContextResolver fills the missing law field of low-confidence references
// by reading the text surrounding each citation, with a document-level
// second pass for references the local context cannot settle.
type ContextResolver struct {
	client   *llm.MeteredClient
	registry *abbrev.Registry
	opts     ContextResolverOptions
	logger   *slog.Logger
}

// NewContextResolver builds the resolver (temperature 0.2).
func NewContextResolver(base llm.Client, reg *abbrev.Registry, opts ContextResolverOptions, logger *slog.Logger) *ContextResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Window <= 0 {
		opts = DefaultContextResolverOptions()
	}
	return &ContextResolver{
		client:   llm.NewMeteredClient(base, "context-resolver", 0.2, logger),
		registry: reg,
		opts:     opts,
		logger:   logger,
	}
}

// Metrics exposes the agent's usage counters.
func (r *ContextResolver) Metrics() *llm.AgentMetrics { return r.client.Metrics() }

// Resolve mutates refs in place, filling law fields and raising confidence
// where the surrounding text identifies the governing norm. The input slice
// is returned for chaining. Model failures leave the affected batch
// untouched and are reported through the returned error; refs always come
// back usable.
func (r *ContextResolver) Resolve(ctx context.Context, refs []*reference.Reference, fullText string) ([]*reference.Reference, error) {
	var incomplete []*reference.Reference
	for _, ref := range refs {
		if ref.Confidence < 100 {
			incomplete = append(incomplete, ref)
		}
	}
	if len(incomplete) == 0 {
		return refs, nil
	}

	r.logger.Info("resolving incomplete references from context",
		slog.Int("total", len(refs)),
		slog.Int("incomplete", len(incomplete)),
	)

	var firstErr error
	for start := 0; start < len(incomplete); start += r.opts.BatchSize {
		end := start + r.opts.BatchSize
		if end > len(incomplete) {
			end = len(incomplete)
		}
		if err := r.resolveBatch(ctx, incomplete[start:end], fullText); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Second pass: document-level principal law for anything still short.
	var unresolved []*reference.Reference
	for _, ref := range incomplete {
		if ref.Confidence < 100 {
			unresolved = append(unresolved, ref)
		}
	}
	if len(unresolved) > 0 {
		r.secondPass(ctx, unresolved, fullText)
	}

	return refs, firstErr
}

type contextEntry struct {
	ref     *reference.Reference
	snippet string
}

func (r *ContextResolver) resolveBatch(ctx context.Context, batch []*reference.Reference, fullText string) error {
	entries := make([]contextEntry, 0, len(batch))
	for _, ref := range batch {
		pos, ok := findPosition(ref.RawText, fullText)
		if !ok {
			ref.AddAudit("context: citation text not found in document")
			continue
		}
		entries = append(entries, contextEntry{ref: ref, snippet: window(fullText, pos, r.opts.Window)})
	}
	if len(entries) == 0 {
		return nil
	}

	prompt := r.buildBatchPrompt(entries)
	raw, err := r.client.Generate(ctx, prompt, llm.GenerationParams{System: r.systemInstruction()})
	if err != nil {
		return fmt.Errorf("context-resolver: %w", err)
	}

	blob, err := ExtractJSON(raw)
	if err != nil {
		return fmt.Errorf("context-resolver: %w", err)
	}

	var payload struct {
		Resoluciones []struct {
			Index     int        `json:"index"`
			Ley       flexString `json:"ley_identificada"`
			Confianza flexInt    `json:"confianza"`
		} `json:"resoluciones"`
	}
	if err := json.Unmarshal(blob, &payload); err != nil {
		return fmt.Errorf("context-resolver: decoding reply: %w", err)
	}

	for _, res := range payload.Resoluciones {
		idx := res.Index - 1 // the prompt numbers entries from 1
		if idx < 0 || idx >= len(entries) {
			continue
		}
		law := res.Ley.String()
		if law == "" || isContextualPhrase(law) {
			continue
		}
		ref := entries[idx].ref
		ref.Law = law
		ref.RaiseConfidence(int(res.Confianza))
		ref.Flags.ContextResolved = true
	}
	return nil
}

func (r *ContextResolver) systemInstruction() string {
	assist := ""
	if r.registry != nil {
		assist = "\nMAPEO DE SIGLAS LEGALES (solo como ayuda):\n" + r.registry.PromptAssistance(0)
	}
	return `Eres un experto en legislación española especializado en análisis contextual de documentos legales.

Tu tarea es identificar a qué LEY pertenece cada referencia basándote en el contexto proporcionado.

REGLAS PARA CONFIANZA 100:
- El documento trata claramente sobre una ley específica → los artículos sin ley pertenecen a esa ley
- El contexto dice "artículo X de la [LEY]" → confianza 100
- Menciones repetidas y consistentes de una ley o sigla → confianza 100

REFERENCIAS CONTEXTUALES: "la presente ley", "esta ley", "el presente código" NO se copian literalmente; identifica la ley concreta a la que se refieren.

SOLO asigna confianza < 100 si hay ambigüedad real entre varias leyes o información contradictoria. Sé DECISIVO.
` + assist + `
Devuelve SOLO JSON, sin texto adicional.`
}

func (r *ContextResolver) buildBatchPrompt(entries []contextEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Identifica a qué LEY pertenece cada referencia según su contexto.\n\nREFERENCIAS A RESOLVER (%d):\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(&b, "\nReferencia %d:\n- Texto original: %q\n- Artículo: %s\n- Ley actual: %s\n- Confianza actual: %d%%\n\nCONTEXTO:\n%s\n---\n",
			i+1, e.ref.RawText, orNA(e.ref.Article), orNA(e.ref.Law), e.ref.Confidence, e.snippet)
	}
	b.WriteString(`
FORMATO DE SALIDA (JSON):
` + "```json" + `
{"resoluciones": [{"index": 1, "ley_identificada": "Ley 15/2015", "confianza": 100}]}
` + "```" + `
Responde SOLO con el JSON.`)
	return b.String()
}

// secondPass detects the document's principal law and assigns it to any
// reference with no law identified; references already at or above the
// promote-at threshold are lifted to 100.
func (r *ContextResolver) secondPass(ctx context.Context, refs []*reference.Reference, fullText string) {
	head := fullText
	if len(head) > r.opts.DocHeadChars {
		head = head[:r.opts.DocHeadChars]
	}

	principal := r.detectPrincipalLaw(ctx, head)

	for _, ref := range refs {
		switch {
		case principal != "" && ref.Law == "":
			ref.Law = principal
			ref.Confidence = 100
			ref.Flags.ContextResolved = true
		case ref.Confidence >= r.opts.PromoteAt:
			ref.RaiseConfidence(100)
		}
	}

	if principal != "" {
		r.logger.Info("principal law applied to unresolved references",
			slog.String("law", principal),
			slog.Int("refs", len(refs)),
		)
	}
}

// detectPrincipalLaw asks the model which law the document is mainly about.
// Returns "" when no law dominates or the call fails.
func (r *ContextResolver) detectPrincipalLaw(ctx context.Context, head string) string {
	prompt := fmt.Sprintf(`Analiza este fragmento del inicio de un documento legal y determina cuál es la LEY PRINCIPAL que trata.

CONTEXTO DEL DOCUMENTO:
%s

Si una ley domina claramente (por repetición, títulos o secciones), identifícala. Si el documento trata múltiples leyes sin predominio claro, devuelve null.

FORMATO DE SALIDA (JSON):
`+"```json"+`
{"ley_principal": "Ley 15/2015", "confianza": 95}
`+"```"+`
Responde SOLO con JSON.`, head)

	raw, err := r.client.Generate(ctx, prompt, llm.GenerationParams{
		System: "Experto en identificar la ley principal de documentos legales españoles.",
	})
	if err != nil {
		r.logger.Warn("principal law detection failed", slog.String("error", err.Error()))
		return ""
	}

	blob, err := ExtractJSON(raw)
	if err != nil {
		return ""
	}
	var payload struct {
		Ley       flexString `json:"ley_principal"`
		Confianza flexInt    `json:"confianza"`
	}
	if err := json.Unmarshal(blob, &payload); err != nil {
		return ""
	}
	if int(payload.Confianza) < r.opts.PrincipalMinConfidence {
		return ""
	}
	law := payload.Ley.String()
	if isContextualPhrase(law) || strings.EqualFold(law, "null") {
		return ""
	}
	return law
}

// findPosition locates a citation in the document: exact match first, then
// a whitespace/punctuation-tolerant pattern.
func findPosition(needle, haystack string) (int, bool) {
	if needle == "" {
		return 0, false
	}
	lowerHay := strings.ToLower(haystack)
	lowerNeedle := strings.ToLower(needle)
	if idx := strings.Index(lowerHay, lowerNeedle); idx >= 0 {
		return idx, true
	}

	tolerant := regexp.QuoteMeta(lowerNeedle)
	tolerant = strings.ReplaceAll(tolerant, `\.`, `\.?`)
	tolerant = strings.ReplaceAll(tolerant, ` `, `\s+`)
	re, err := regexp.Compile(tolerant)
	if err != nil {
		return 0, false
	}
	if loc := re.FindStringIndex(lowerHay); loc != nil {
		return loc[0], true
	}
	return 0, false
}

// window slices ±n characters around pos, with ellipses at cut edges.
func window(text string, pos, n int) string {
	start := pos - n
	if start < 0 {
		start = 0
	}
	end := pos + n
	if end > len(text) {
		end = len(text)
	}
	chunk := text[start:end]
	if start > 0 {
		chunk = "..." + chunk
	}
	if end < len(text) {
		chunk += "..."
	}
	return chunk
}

// contextualPhrases are citation forms that must never end up as a law name.
var contextualPhrases = []string{
	"la presente ley", "esta ley", "dicha ley", "la citada ley",
	"la mencionada ley", "el presente código", "este código",
	"la presente norma", "esta norma",
}

func isContextualPhrase(s string) bool {
	norm := reference.NormalizeText(s)
	for _, p := range contextualPhrases {
		if norm == p {
			return true
		}
	}
	return false
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
