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
	"strings"

	"github.com/AleutianAI/legis/services/legis/abbrev"
	"github.com/AleutianAI/legis/services/legis/reference"
	"github.com/AleutianAI/legis/services/llm"
)

// titleBatchSize caps how many references go into one resolution call.
const titleBatchSize = 15

// titleExcerptChars is how much document context accompanies each batch.
const titleExcerptChars = 3000

// TitleResolver maps each reference to the official BOE title of its norm.
// Known siglas are injected as prompt hints only — the model is required to
// reason, never to invent, and failures simply leave the title unset.
type TitleResolver struct {
	client   *llm.MeteredClient
	registry *abbrev.Registry
	logger   *slog.Logger
}

// NewTitleResolver builds the resolver (temperature 0.1: official titles
// leave no room for creativity).
func NewTitleResolver(base llm.Client, reg *abbrev.Registry, logger *slog.Logger) *TitleResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TitleResolver{
		client:   llm.NewMeteredClient(base, "title-resolver", 0.1, logger),
		registry: reg,
		logger:   logger,
	}
}

// Metrics exposes the agent's usage counters.
func (r *TitleResolver) Metrics() *llm.AgentMetrics { return r.client.Metrics() }

// Resolve fills OfficialTitle on as many refs as the model can identify.
// Refs are mutated in place and returned. A failed batch keeps its refs
// untouched; subsequent stages tolerate missing titles.
func (r *TitleResolver) Resolve(ctx context.Context, refs []*reference.Reference, textExcerpt string) ([]*reference.Reference, error) {
	if len(refs) == 0 {
		return refs, nil
	}
	if len(textExcerpt) > titleExcerptChars {
		textExcerpt = textExcerpt[:titleExcerptChars]
	}

	var firstErr error
	resolved := 0
	for start := 0; start < len(refs); start += titleBatchSize {
		end := start + titleBatchSize
		if end > len(refs) {
			end = len(refs)
		}
		n, err := r.resolveBatch(ctx, refs[start:end], textExcerpt)
		resolved += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	r.logger.Info("title resolution complete",
		slog.Int("total", len(refs)),
		slog.Int("resolved", resolved),
	)
	return refs, firstErr
}

func (r *TitleResolver) resolveBatch(ctx context.Context, batch []*reference.Reference, excerpt string) (int, error) {
	prompt := r.buildPrompt(batch, excerpt)

	raw, err := r.client.Generate(ctx, prompt, llm.GenerationParams{System: titleSystemInstruction})
	if err != nil {
		return 0, fmt.Errorf("title-resolver: %w", err)
	}

	blob, err := ExtractJSON(raw)
	if err != nil {
		return 0, fmt.Errorf("title-resolver: %w", err)
	}

	var payload struct {
		Titulos []struct {
			Index     int        `json:"index"`
			Titulo    flexString `json:"titulo_completo"`
			Confianza flexInt    `json:"confianza"`
		} `json:"titulos_resueltos"`
	}
	if err := json.Unmarshal(blob, &payload); err != nil {
		return 0, fmt.Errorf("title-resolver: decoding reply: %w", err)
	}

	resolved := 0
	for _, t := range payload.Titulos {
		idx := t.Index - 1
		if idx < 0 || idx >= len(batch) {
			continue
		}
		title := t.Titulo.String()
		if title == "" || strings.EqualFold(title, "null") {
			continue
		}
		batch[idx].OfficialTitle = title
		batch[idx].Flags.TitleResolved = true
		resolved++
	}
	return resolved, nil
}

const titleSystemInstruction = `Eres un experto en legislación española.

Tu tarea es identificar el TÍTULO OFICIAL COMPLETO de cada norma, tal como aparece en el BOE: número, fecha y descripción.

IMPORTANTE:
- Usa tu conocimiento de legislación española
- NUNCA inventes títulos; si no estás seguro, asigna confianza baja u omite la referencia
- Si la referencia es una sigla (CE, LEC, TRET...), expándela al título oficial

EJEMPLO:
Input: "Ley 13/2009"
Output: "Ley 13/2009, de 3 de noviembre, de reforma de la legislación procesal para la implantación de la nueva oficina judicial"

Devuelve SOLO JSON, sin texto adicional.`

func (r *TitleResolver) buildPrompt(batch []*reference.Reference, excerpt string) string {
	var b strings.Builder
	b.WriteString("Resuelve el TÍTULO OFICIAL COMPLETO de estas referencias legales.\n\n")
	if excerpt != "" {
		fmt.Fprintf(&b, "CONTEXTO DEL TEMA (para desambiguar):\n%s\n\n", excerpt)
	}
	if r.registry != nil {
		b.WriteString(r.registry.PromptAssistance(20))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "REFERENCIAS A RESOLVER (%d):\n", len(batch))
	for i, ref := range batch {
		fmt.Fprintf(&b, "%d. Texto: %q | Ley identificada: %q\n", i+1, ref.RawText, orNA(ref.Law))
	}
	b.WriteString(`
FORMATO DE SALIDA (JSON):
` + "```json" + `
{"titulos_resueltos": [{"index": 1, "titulo_completo": "Constitución Española de 27 de diciembre de 1978", "confianza": 100}]}
` + "```" + `
Responde SOLO con el JSON.`)
	return b.String()
}
