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
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/AleutianAI/legis/services/legis/abbrev"
	"github.com/AleutianAI/legis/services/legis/fetcher"
	"github.com/AleutianAI/legis/services/legis/reference"
	"github.com/AleutianAI/legis/services/legis/registry"
)

// Validator resolves each reference to its official registry identifier and
// confirms that cited articles actually exist in the norm. An article
// proven absent demotes the reference to a detected hallucination.
//
// The resolution cascade never issues a network call when a static tier
// answers first.
type Validator struct {
	registry *abbrev.Registry
	boe      *registry.BOEClient
	eurlex   *registry.EURLexClient
	fetch    *fetcher.Fetcher

	// VerifyArticles gates the article-existence check (step 4).
	VerifyArticles bool

	logger *slog.Logger
}

// NewValidator creates a validator with article verification enabled.
// eurlex may be nil; EU references then stay unvalidated but exportable.
func NewValidator(reg *abbrev.Registry, boe *registry.BOEClient, eurlex *registry.EURLexClient, fetch *fetcher.Fetcher, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		registry:       reg,
		boe:            boe,
		eurlex:         eurlex,
		fetch:          fetch,
		VerifyArticles: true,
		logger:         logger,
	}
}

// Validate resolves and verifies one reference in place and returns it.
// Failures are absorbed into the reference's audit trail — validation never
// fails a run.
func (v *Validator) Validate(ctx context.Context, ref *reference.Reference) *reference.Reference {
	if ref.Kind.IsEU() || looksLikeCelex(ref.RegistryID) {
		v.validateEuropean(ctx, ref)
		return ref
	}
	v.validateSpanish(ctx, ref)
	return ref
}

// lawNumberRE extracts (kind, number/year) from a normalized law string.
var lawNumberRE = regexp.MustCompile(`(?i)^(Ley\s+Orgánica|Real\s+Decreto\s+Legislativo|Real\s+Decreto|Ley|RDL|RD|LO)\s+(\d+/\d{4})`)

func (v *Validator) validateSpanish(ctx context.Context, ref *reference.Reference) {
	id := v.resolveBOEID(ctx, ref)
	if id == "" {
		ref.AddAudit("validate: no BOE-ID found")
		v.logger.Debug("reference not validated",
			slog.String("raw", ref.RawText),
			slog.String("law", ref.Law),
		)
		return
	}

	ref.RegistryID = id
	ref.RegistryURL = registry.NormURL(id)
	ref.Flags.Validated = true

	// Prefer the registry's own title over the model-recalled one.
	if title, err := v.boe.FetchTitle(ctx, id); err == nil && title != "" {
		ref.OfficialTitle = title
	}

	if ref.Article != "" && v.VerifyArticles {
		exists, err := v.fetch.ArticleExists(ctx, id, ref.Article)
		switch {
		case err != nil:
			// Could not check; the reference keeps its validation but the
			// uncertainty is recorded.
			ref.AddAudit("validate: article check unavailable: " + err.Error())
		case !exists:
			// The norm exists — its id stays for the audit trail — but the
			// cited article does not.
			ref.Demote(fmt.Sprintf("article %s does not exist in %s", ref.Article, id))
			v.logger.Warn("hallucinated article detected",
				slog.String("article", ref.Article),
				slog.String("boe_id", id),
				slog.String("raw", ref.RawText),
			)
		}
	}
}

// resolveBOEID runs the cascade: static name map, static number map, BOE
// search API, then a retry driven by the resolved official title.
func (v *Validator) resolveBOEID(ctx context.Context, ref *reference.Reference) string {
	// (a) sigla / name map.
	for _, name := range []string{ref.Law, ref.RawText} {
		if name == "" {
			continue
		}
		if id, ok := v.registry.BOEIDForName(name); ok {
			return id
		}
	}

	// (b) + (c) from the normalized law number.
	if id := v.resolveByNumber(ctx, ref.Law); id != "" {
		return id
	}
	if id := v.resolveByNumber(ctx, ref.RawText); id != "" {
		return id
	}

	// (d) extract a number from the resolved official title and retry.
	if ref.OfficialTitle != "" {
		if id := v.resolveByNumber(ctx, ref.OfficialTitle); id != "" {
			return id
		}
		if id, ok := v.registry.BOEIDForName(ref.OfficialTitle); ok {
			return id
		}
	}
	return ""
}

func (v *Validator) resolveByNumber(ctx context.Context, text string) string {
	m := lawNumberRE.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return ""
	}
	kind, number := m[1], m[2]

	if id, ok := v.registry.BOEIDForNumber(kind, number); ok {
		return id
	}

	parts := strings.SplitN(number, "/", 2)
	id, err := v.boe.SearchLaw(ctx, kind, parts[0], parts[1])
	if err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			v.logger.Debug("BOE search failed",
				slog.String("number", number),
				slog.String("error", err.Error()),
			)
		}
		return ""
	}
	return id
}

func (v *Validator) validateEuropean(ctx context.Context, ref *reference.Reference) {
	if ref.RegistryID == "" {
		ref.AddAudit("validate: EU reference without CELEX")
		return
	}
	if v.eurlex == nil {
		ref.AddAudit("validate: CELEX not checked (EUR-Lex client disabled)")
		return
	}

	exists, _, err := v.eurlex.CelexExists(ctx, ref.RegistryID)
	if err != nil {
		// Unreachable endpoint: unvalidated but still exportable — the EU
		// URL composes deterministically from the CELEX.
		ref.AddAudit("validate: CELEX check failed: " + err.Error())
		return
	}
	if !exists {
		ref.AddAudit("validate: CELEX " + ref.RegistryID + " not found in EUR-Lex")
		return
	}
	ref.Flags.Validated = true
}

var celexShape = regexp.MustCompile(`^3\d{4}[RLD]\d{4}$`)

func looksLikeCelex(id string) bool { return celexShape.MatchString(id) }
