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
	"strings"
	"testing"

	"github.com/AleutianAI/legis/services/legis/abbrev"
	"github.com/AleutianAI/legis/services/legis/reference"
)

func newNormalizerTest() *Normalizer {
	return NewNormalizer(&stubLLM{fallback: "1"}, abbrev.New(), nil)
}

func TestNormalize_EUSiglaSynthesizesCelex(t *testing.T) {
	n := newNormalizerTest()

	ref := &reference.Reference{RawText: "artículo 17 del RGPD", Kind: reference.KindAbbreviation, Confidence: 95}
	n.Normalize(context.Background(), ref, "")

	if ref.RegistryID != "32016R0679" {
		t.Errorf("registry id = %q, want the RGPD CELEX", ref.RegistryID)
	}
	if ref.Kind != reference.KindEURegulation {
		t.Errorf("kind = %s", ref.Kind)
	}
	if ref.Article != "17" {
		t.Errorf("article = %q, want 17", ref.Article)
	}
	if !strings.Contains(ref.RegistryURL, "CELEX:32016R0679") {
		t.Errorf("url = %q", ref.RegistryURL)
	}
	if !ref.Flags.TitleEuropean || !ref.Flags.Normalized {
		t.Errorf("flags = %+v", ref.Flags)
	}
}

func TestNormalize_EUStandardFormBothOrderings(t *testing.T) {
	n := newNormalizerTest()

	cases := []struct {
		raw  string
		want string
		kind reference.Kind
	}{
		{"Reglamento (UE) 2016/679", "32016R0679", reference.KindEURegulation},
		{"Reglamento (CE) 593/2008", "32008R0593", reference.KindEURegulation},
		{"Directiva (UE) 2022/2555", "32022L2555", reference.KindEUDirective},
	}
	for _, tc := range cases {
		ref := &reference.Reference{RawText: tc.raw, Confidence: 100}
		n.Normalize(context.Background(), ref, "")
		if ref.RegistryID != tc.want {
			t.Errorf("%q → registry id %q, want %q", tc.raw, ref.RegistryID, tc.want)
		}
		if ref.Kind != tc.kind {
			t.Errorf("%q → kind %s, want %s", tc.raw, ref.Kind, tc.kind)
		}
	}
}

func TestNormalize_EUUnsynthesizableIsAudited(t *testing.T) {
	n := newNormalizerTest()

	ref := &reference.Reference{RawText: "la Directiva de servicios", Kind: reference.KindEUDirective}
	n.Normalize(context.Background(), ref, "")

	if ref.RegistryID != "" {
		t.Errorf("no number pair → no CELEX, got %q", ref.RegistryID)
	}
	if len(ref.Audit) == 0 {
		t.Error("failed synthesis should leave an audit entry")
	}
}

func TestNormalize_SpanishSiglaExpansion(t *testing.T) {
	n := newNormalizerTest()

	ref := &reference.Reference{RawText: "LPAC", Kind: reference.KindAbbreviation, Confidence: 95}
	n.Normalize(context.Background(), ref, "")

	if ref.Law != "Ley 39/2015" {
		t.Errorf("law = %q", ref.Law)
	}
}

func TestNormalize_AmbiguousSiglaUsesModel(t *testing.T) {
	// The stub answers "2" → second expansion.
	stub := &stubLLM{replies: map[string]string{"POSIBLES SIGNIFICADOS": "2"}}
	n := NewNormalizer(stub, abbrev.New(), nil)

	ref := &reference.Reference{RawText: "CE", Kind: reference.KindAbbreviation}
	n.Normalize(context.Background(), ref, "tema sobre derecho comunitario europeo")

	if ref.Law != "Comunidad Europea" {
		t.Errorf("law = %q, want the model-picked expansion", ref.Law)
	}
}

func TestNormalize_AmbiguousSiglaFallsBackOnModelFailure(t *testing.T) {
	stub := &stubLLM{err: errProviderDown}
	n := NewNormalizer(stub, abbrev.New(), nil)

	ref := &reference.Reference{RawText: "CE", Kind: reference.KindAbbreviation}
	n.Normalize(context.Background(), ref, "")

	if ref.Law != "Constitución Española" {
		t.Errorf("law = %q, want the first expansion as fallback", ref.Law)
	}
}

func TestNormalize_CanonicalizesLawNumbers(t *testing.T) {
	n := newNormalizerTest()

	cases := []struct {
		in       string
		wantLaw  string
		wantKind reference.LawKind
	}{
		{"ley 39/2015", "Ley 39/2015", reference.LawOrdinary},
		{"Ley Orgánica 6/1985", "Ley Orgánica 6/1985", reference.LawOrganic},
		{"RD 203/2021", "Real Decreto 203/2021", reference.LawRoyalDecree},
		{"Real Decreto Legislativo 2/2015", "Real Decreto Legislativo 2/2015", reference.LawLegislativeRD},
		{"LO 6/1985", "Ley Orgánica 6/1985", reference.LawOrganic},
	}
	for _, tc := range cases {
		ref := &reference.Reference{RawText: tc.in, Law: tc.in, Kind: reference.KindLaw}
		n.Normalize(context.Background(), ref, "")
		if ref.Law != tc.wantLaw {
			t.Errorf("%q → law %q, want %q", tc.in, ref.Law, tc.wantLaw)
		}
		if ref.LawKind != tc.wantKind {
			t.Errorf("%q → law kind %q, want %q", tc.in, ref.LawKind, tc.wantKind)
		}
	}
}

func TestNormalize_CategoryAnnotation(t *testing.T) {
	n := newNormalizerTest()

	law := &reference.Reference{RawText: "Ley 39/2015", Law: "Ley 39/2015", Kind: reference.KindLaw}
	n.Normalize(context.Background(), law, "")
	if law.Category != reference.CategoryNorm {
		t.Errorf("law category = %s", law.Category)
	}

	art := &reference.Reference{RawText: "artículo 23", Article: "23", Kind: reference.KindArticle}
	n.Normalize(context.Background(), art, "")
	if art.Category != reference.CategoryDisposition {
		t.Errorf("article category = %s", art.Category)
	}

	ctxRef := &reference.Reference{RawText: "la presente ley", Kind: reference.KindContextual}
	n.Normalize(context.Background(), ctxRef, "")
	if ctxRef.Category != reference.CategoryOther {
		t.Errorf("contextual category = %s", ctxRef.Category)
	}
}
