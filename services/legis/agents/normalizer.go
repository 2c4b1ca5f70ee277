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
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/AleutianAI/legis/services/legis/abbrev"
	"github.com/AleutianAI/legis/services/legis/celex"
	"github.com/AleutianAI/legis/services/legis/reference"
	"github.com/AleutianAI/legis/services/llm"
)

// Normalizer canonicalizes reference formats: it routes EU citations to
// CELEX synthesis, expands Spanish siglas, unifies law-number formats and
// annotates classification metadata. Purely textual rules run first; the
// model is consulted only for ambiguous siglas.
type Normalizer struct {
	client   *llm.MeteredClient
	registry *abbrev.Registry
	logger   *slog.Logger

	// ambiguous lists siglas with more than one accepted expansion; the
	// model picks one using document context.
	ambiguous map[string][]string
}

// NewNormalizer builds the normalizer (temperature 0.2).
func NewNormalizer(base llm.Client, reg *abbrev.Registry, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		client:   llm.NewMeteredClient(base, "normalizer", 0.2, logger),
		registry: reg,
		logger:   logger,
		ambiguous: map[string][]string{
			"CE": {"Constitución Española", "Comunidad Europea"},
			"LC": {"Ley 22/2003, Concursal", "Ley 22/1988, de Costas"},
		},
	}
}

// Metrics exposes the agent's usage counters.
func (n *Normalizer) Metrics() *llm.AgentMetrics { return n.client.Metrics() }

// euMarkers flag a citation as EU legislation.
var euMarkers = []string{
	"reglamento (ue", "reglamento (ce", "reglamento ue", "reglamento ce",
	"directiva (ue", "directiva (ce", "directiva ue", "directiva ce", "directiva",
	"decisión (ue", "decision (ue", "decisión ue",
	"eur-lex", "unión europea",
}

// Normalize canonicalizes one reference in place. docContext is a short
// excerpt of the document used for sigla disambiguation. Errors from the
// disambiguation call degrade to the first-listed expansion.
func (n *Normalizer) Normalize(ctx context.Context, ref *reference.Reference, docContext string) *reference.Reference {
	if n.isEuropean(ref) {
		n.normalizeEuropean(ref)
		ref.Flags.Normalized = true
		n.annotate(ref)
		return ref
	}

	n.expandSigla(ctx, ref, docContext)
	n.canonicalizeLawNumber(ref)
	n.annotate(ref)
	ref.Flags.Normalized = true
	return ref
}

func (n *Normalizer) isEuropean(ref *reference.Reference) bool {
	if ref.Kind.IsEU() {
		return true
	}
	if n.registry.IsEUSigla(ref.RawText) || n.registry.IsEUSigla(ref.Law) ||
		n.registry.IsEUSigla(stripEUArticlePhrase(ref.RawText)) {
		return true
	}
	probe := strings.ToLower(ref.RawText + " " + ref.Law)
	for _, marker := range euMarkers {
		if strings.Contains(probe, marker) {
			return true
		}
	}
	return false
}

// articleInEUText pulls an article number out of phrasing like
// "artículo 17 del RGPD".
var articleInEUText = regexp.MustCompile(`(?i)art(?:ículo|iculo)?\.?\s*(\d+(?:\.\d+)*)`)

// stripEUArticlePhrase removes the "artículo N de(l)" wrapper so the
// remaining token can be matched against the EU sigla table.
func stripEUArticlePhrase(text string) string {
	s := articleInEUText.ReplaceAllString(text, "")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "del ")
	s = strings.TrimPrefix(s, "de la ")
	s = strings.TrimPrefix(s, "de ")
	return strings.TrimSpace(s)
}

// normalizeEuropean expands EU siglas, synthesizes the CELEX and stores it
// in RegistryID. EU references never touch the BOE path.
func (n *Normalizer) normalizeEuropean(ref *reference.Reference) {
	ref.Flags.TitleEuropean = true

	if ref.Article == "" {
		if m := articleInEUText.FindStringSubmatch(ref.RawText); m != nil {
			ref.Article = m[1]
		}
	}

	// Known EU sigla, possibly wrapped in "artículo N del ...".
	stripped := stripEUArticlePhrase(ref.RawText)
	for _, candidate := range []string{ref.Law, stripped, ref.RawText} {
		if e, ok := n.registry.LookupEU(candidate); ok {
			ref.Law = e.Name
			ref.RegistryID = e.CELEX
			ref.Kind = euKindFromCelex(e.CELEX)
			ref.RegistryURL = euDocURL(e.CELEX)
			return
		}
	}

	// Standard form: synthesize from the number pair and the document class.
	doc := euDocTypeFromText(ref.RawText + " " + ref.Law)
	year, number, ok := celex.SplitCitation(ref.RawText + " " + ref.Law)
	if !ok || doc == 0 {
		ref.AddAudit("normalize: could not synthesize CELEX from citation")
		return
	}
	id, err := celex.Synthesize(doc, year, number)
	if err != nil {
		ref.AddAudit("normalize: " + err.Error())
		return
	}
	ref.RegistryID = id
	ref.Kind = euKindFromCelex(id)
	ref.RegistryURL = euDocURL(id)
	if ref.Law == "" {
		ref.Law = strings.TrimSpace(ref.RawText)
	}
}

func euDocTypeFromText(text string) celex.DocType {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "reglamento"):
		return celex.Regulation
	case strings.Contains(lower, "directiva"):
		return celex.Directive
	case strings.Contains(lower, "decisión"), strings.Contains(lower, "decision"):
		return celex.Decision
	}
	return 0
}

func euKindFromCelex(id string) reference.Kind {
	doc, _, _, err := celex.Parse(id)
	if err != nil {
		return reference.KindEURegulation
	}
	switch doc {
	case celex.Directive:
		return reference.KindEUDirective
	case celex.Decision:
		return reference.KindEUDecision
	default:
		return reference.KindEURegulation
	}
}

func euDocURL(id string) string {
	return "https://eur-lex.europa.eu/legal-content/ES/TXT/?uri=CELEX:" + id
}

// looksLikeSigla matches short all-caps tokens such as "LPAC" or "LOPJ".
func looksLikeSigla(text string) bool {
	t := strings.ReplaceAll(strings.TrimSpace(text), ".", "")
	if len(t) < 2 || len(t) > 10 {
		return false
	}
	return strings.ToUpper(t) == t && strings.IndexFunc(t, func(r rune) bool {
		return r >= 'A' && r <= 'Z'
	}) >= 0
}

func (n *Normalizer) expandSigla(ctx context.Context, ref *reference.Reference, docContext string) {
	isSigla := ref.Kind == reference.KindAbbreviation || looksLikeSigla(ref.RawText)
	if !isSigla {
		return
	}
	token := strings.TrimSpace(ref.RawText)

	if expansions, ok := n.ambiguous[strings.ToUpper(strings.ReplaceAll(token, ".", ""))]; ok {
		pick := n.disambiguate(ctx, token, expansions, docContext)
		ref.Law = pick
		if e, found := n.registry.Lookup(token); found && strings.EqualFold(pick, e.Law) {
			ref.Law = e.Law
		}
		return
	}

	if e, ok := n.registry.Lookup(token); ok {
		ref.Law = e.Law
	}
}

// disambiguate asks the model to pick among expansions for a sigla; the
// first expansion is the fallback on any failure.
func (n *Normalizer) disambiguate(ctx context.Context, sigla string, expansions []string, docContext string) string {
	if len(docContext) > 2000 {
		docContext = docContext[:2000]
	}
	var options strings.Builder
	for i, e := range expansions {
		fmt.Fprintf(&options, "%d. %s\n", i+1, e)
	}

	prompt := fmt.Sprintf(`Dada la sigla %q en un tema de oposiciones, determina el significado más probable.

POSIBLES SIGNIFICADOS:
%s
CONTEXTO DEL TEMA:
%s

Responde SOLO con el número del significado más probable.`, sigla, options.String(), docContext)

	raw, err := n.client.Generate(ctx, prompt, llm.GenerationParams{
		System: "Eres un experto en derecho administrativo español.",
	})
	if err != nil {
		n.logger.Warn("sigla disambiguation failed, using first expansion",
			slog.String("sigla", sigla),
			slog.String("error", err.Error()),
		)
		return expansions[0]
	}

	if m := regexp.MustCompile(`\b([1-9]\d?)\b`).FindStringSubmatch(raw); m != nil {
		var idx int
		fmt.Sscanf(m[1], "%d", &idx)
		if idx >= 1 && idx <= len(expansions) {
			return expansions[idx-1]
		}
	}
	return expansions[0]
}

var lawNumberPatterns = []struct {
	re     *regexp.Regexp
	format string
	kind   reference.LawKind
}{
	{regexp.MustCompile(`(?i)^Ley\s+Orgánica\s+(\d+/\d{4})`), "Ley Orgánica %s", reference.LawOrganic},
	{regexp.MustCompile(`(?i)^Real\s+Decreto\s+Legislativo\s+(\d+/\d{4})`), "Real Decreto Legislativo %s", reference.LawLegislativeRD},
	{regexp.MustCompile(`(?i)^Real\s+Decreto(?:\s+Ley)?\s+(\d+/\d{4})`), "Real Decreto %s", reference.LawRoyalDecree},
	{regexp.MustCompile(`(?i)^RDL\s+(\d+/\d{4})`), "Real Decreto Legislativo %s", reference.LawLegislativeRD},
	{regexp.MustCompile(`(?i)^RD\s+(\d+/\d{4})`), "Real Decreto %s", reference.LawRoyalDecree},
	{regexp.MustCompile(`(?i)^LO\s+(\d+/\d{4})`), "Ley Orgánica %s", reference.LawOrganic},
	{regexp.MustCompile(`(?i)^Ley\s+(\d+/\d{4})`), "Ley %s", reference.LawOrdinary},
}

func (n *Normalizer) canonicalizeLawNumber(ref *reference.Reference) {
	law := strings.TrimSpace(ref.Law)
	if law == "" {
		return
	}
	for _, p := range lawNumberPatterns {
		if m := p.re.FindStringSubmatch(law); m != nil {
			ref.Law = fmt.Sprintf(p.format, m[1])
			ref.LawKind = p.kind
			return
		}
	}
}

func (n *Normalizer) annotate(ref *reference.Reference) {
	switch ref.Kind {
	case reference.KindLaw, reference.KindOrganicLaw, reference.KindRoyalDecree,
		reference.KindLegislativeRD, reference.KindCode, reference.KindConstitution,
		reference.KindEURegulation, reference.KindEUDirective, reference.KindEUDecision,
		reference.KindAbbreviation:
		ref.Category = reference.CategoryNorm
	case reference.KindArticle:
		ref.Category = reference.CategoryDisposition
	default:
		ref.Category = reference.CategoryOther
	}
}
