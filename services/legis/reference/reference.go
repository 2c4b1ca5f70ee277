// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reference defines the central record of the extraction pipeline:
// a single legal citation with provenance, confidence and resolution state.
//
// A Reference is created by an extractor agent and mutated only by later
// pipeline stages, in order: context resolution, title resolution,
// normalization, validation, enrichment. After enrichment the record is
// read-only (the comparator and auditor never write).
package reference

import (
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the citation type. EU kinds and Spanish kinds take
// different normalization and validation paths; a flat tag plus explicit
// branching is intentional — there is no type hierarchy here.
type Kind string

const (
	KindLaw           Kind = "law"
	KindRoyalDecree   Kind = "royal_decree"
	KindOrganicLaw    Kind = "organic_law"
	KindLegislativeRD Kind = "legislative_rd"
	KindArticle       Kind = "article"
	KindCode          Kind = "code"
	KindConstitution  Kind = "constitution"
	KindEURegulation  Kind = "eu_regulation"
	KindEUDirective   Kind = "eu_directive"
	KindEUDecision    Kind = "eu_decision"
	KindAbbreviation  Kind = "abbreviation"
	KindContextual    Kind = "contextual"
)

// IsEU reports whether the kind belongs to EU legislation.
func (k Kind) IsEU() bool {
	switch k {
	case KindEURegulation, KindEUDirective, KindEUDecision:
		return true
	}
	return false
}

// Provenance records which agent produced a reference and when.
type Provenance struct {
	Agent     string    `json:"agent"`
	Round     int       `json:"round"`
	Timestamp time.Time `json:"timestamp"`
}

// Flags tracks which pipeline stages have touched the reference.
type Flags struct {
	ContextResolved bool `json:"context_resolved,omitempty"`
	TitleResolved   bool `json:"title_resolved,omitempty"`
	Normalized      bool `json:"normalized,omitempty"`
	Validated       bool `json:"validated,omitempty"`
	Inferred        bool `json:"inferred,omitempty"`
	TitleEuropean   bool `json:"title_european,omitempty"`
	Hallucinated    bool `json:"hallucinated,omitempty"`
}

// LawKind is the facet recorded by the normalizer for Spanish norms.
type LawKind string

const (
	LawOrdinary      LawKind = "ordinaria"
	LawOrganic       LawKind = "organica"
	LawRoyalDecree   LawKind = "real_decreto"
	LawLegislativeRD LawKind = "real_decreto_legislativo"
)

// Category is the coarse classification recorded by the normalizer.
type Category string

const (
	CategoryNorm        Category = "normativa"
	CategoryDisposition Category = "disposicion"
	CategoryOther       Category = "otra"
)

// Reference is one legal citation found in (or inferred from) a document.
// Optional fields stay empty until the owning stage fills them.
type Reference struct {
	RawText string `json:"raw_text"`
	Kind    Kind   `json:"kind"`

	// Law is the canonical short name or number ("Ley 39/2015"). Empty until
	// extraction or context resolution identifies it.
	Law     string `json:"law,omitempty"`
	Article string `json:"article,omitempty"`

	// Confidence in 0–100. Never decreases across stages except when
	// validation proves the cited article does not exist, in which case it
	// drops to exactly 0 and Flags.Hallucinated is set.
	Confidence int `json:"confidence"`

	Provenance Provenance `json:"provenance"`

	// RegistryID is a BOE-ID (Spain) or CELEX (EU) once resolved.
	RegistryID    string `json:"registry_id,omitempty"`
	RegistryURL   string `json:"registry_url,omitempty"`
	OfficialTitle string `json:"official_title,omitempty"`

	// ArticleBody is the authoritative article text once fetched.
	ArticleBody  string `json:"article_body,omitempty"`
	ArticleTitle string `json:"article_title,omitempty"`
	IsSubpoint   bool   `json:"is_subpoint,omitempty"`

	LawKind  LawKind  `json:"law_kind,omitempty"`
	Category Category `json:"category,omitempty"`

	// Context is the surrounding snippet reported by the extractor.
	Context string `json:"context,omitempty"`

	// Concept is set on inferred references only (BETA): the legal concept
	// that triggered the inference, plus every surviving article number.
	Concept          string   `json:"concept,omitempty"`
	InferredArticles []string `json:"inferred_articles,omitempty"`

	Flags Flags `json:"flags"`

	// Audit accumulates reason strings for non-validation / non-resolution.
	Audit []string `json:"audit,omitempty"`
}

// Exportable reports whether the reference belongs in the final output:
// a resolved registry id (BOE validation or synthesized CELEX) and not a
// detected hallucination.
func (r *Reference) Exportable() bool {
	return r.RegistryID != "" && !r.Flags.Hallucinated
}

// AddAudit appends a reason string to the audit trail.
func (r *Reference) AddAudit(reason string) {
	if reason == "" {
		return
	}
	r.Audit = append(r.Audit, reason)
}

// RaiseConfidence increases confidence to v if v is higher. Confidence is
// monotone outside of hallucination demotion, so callers never lower it here.
func (r *Reference) RaiseConfidence(v int) {
	if v > 100 {
		v = 100
	}
	if v > r.Confidence {
		r.Confidence = v
	}
}

// Demote marks the reference as a detected hallucination: the cited article
// does not exist in the official norm. Confidence drops to exactly 0.
func (r *Reference) Demote(reason string) {
	r.Confidence = 0
	r.Flags.Hallucinated = true
	r.Flags.Validated = false
	r.AddAudit(reason)
}

// NormalizedText returns the raw text lowercased with collapsed whitespace,
// the key used for exact-text deduplication.
func (r *Reference) NormalizedText() string {
	return NormalizeText(r.RawText)
}

// SemanticKey returns the equivalence-class key for a reference. Two
// references are semantically equal iff their registry ids match (when both
// present) or their normalized (law, article) pairs match.
func (r *Reference) SemanticKey() string {
	if r.RegistryID != "" {
		return "id:" + r.RegistryID
	}
	law := strings.ReplaceAll(NormalizeText(r.Law), " ", "")
	art := NormalizeText(r.Article)
	if law == "" {
		return "raw:" + r.NormalizedText()
	}
	if art == "" {
		return law
	}
	return fmt.Sprintf("%s:art%s", law, art)
}

// NormalizeText lowercases and collapses runs of whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Completeness scores how filled-in a reference is. Used to pick the
// surviving representative of a semantic equivalence class.
func (r *Reference) Completeness() int {
	score := 0
	if r.Law != "" {
		score += 4
	}
	if r.Article != "" {
		score += 2
	}
	if r.RegistryID != "" {
		score += 4
	}
	if r.OfficialTitle != "" {
		score += 2
	}
	if r.ArticleBody != "" {
		score++
	}
	if r.Context != "" {
		score++
	}
	return score
}

// Better reports whether r should survive over other within the same
// semantic equivalence class: most complete wins, ties broken by earliest
// round then highest confidence.
func (r *Reference) Better(other *Reference) bool {
	if c1, c2 := r.Completeness(), other.Completeness(); c1 != c2 {
		return c1 > c2
	}
	if r.Provenance.Round != other.Provenance.Round {
		return r.Provenance.Round < other.Provenance.Round
	}
	return r.Confidence > other.Confidence
}

// DedupSemantic collapses refs into one representative per semantic
// equivalence class, preserving first-seen order of the classes.
func DedupSemantic(refs []*Reference) []*Reference {
	best := make(map[string]*Reference, len(refs))
	order := make([]string, 0, len(refs))
	for _, ref := range refs {
		key := ref.SemanticKey()
		cur, seen := best[key]
		if !seen {
			best[key] = ref
			order = append(order, key)
			continue
		}
		if ref.Better(cur) {
			best[key] = ref
		}
	}
	out := make([]*Reference, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}
