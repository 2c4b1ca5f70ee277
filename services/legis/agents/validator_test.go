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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/legis/services/legis/abbrev"
	"github.com/AleutianAI/legis/services/legis/fetcher"
	"github.com/AleutianAI/legis/services/legis/reference"
	"github.com/AleutianAI/legis/services/legis/registry"
)

// boeStub serves a minimal BOE API: metadata title, a Código Penal index
// and article blocks 138–142.
func boeStub(t *testing.T) (*registry.BOEClient, *fetcher.Fetcher, *int) {
	t.Helper()
	calls := new(int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		switch {
		case strings.HasSuffix(r.URL.Path, "/texto/indice"):
			w.Write([]byte(`<indice>
<bloque><id>ti</id><titulo>TÍTULO I. Del homicidio y sus formas</titulo></bloque>
<bloque><id>a138</id><titulo>Artículo 138</titulo></bloque>
<bloque><id>a139</id><titulo>Artículo 139</titulo></bloque>
<bloque><id>a140</id><titulo>Artículo 140</titulo></bloque>
<bloque><id>a141</id><titulo>Artículo 141</titulo></bloque>
<bloque><id>a142</id><titulo>Artículo 142</titulo></bloque>
</indice>`))
		case strings.Contains(r.URL.Path, "/texto/bloque/"):
			fmt.Fprint(w, `<response><code>200</code><bloque titulo="Artículo"><version><p>texto</p></version></bloque></response>`)
		case strings.Contains(r.URL.Path, "/legislacion-consolidada/id/"):
			w.Write([]byte(`<response><data><titulo>Ley Orgánica 10/1995, de 23 de noviembre, del Código Penal.</titulo></data></response>`))
		default:
			// Search endpoint.
			w.Write([]byte(`<response><data><item>
<identificador>BOE-A-2009-17493</identificador>
<titulo>Ley 13/2009, de 3 de noviembre, de reforma de la legislación procesal.</titulo>
</item></data></response>`))
		}
	}))
	t.Cleanup(srv.Close)

	boe := registry.NewBOEClient(registry.WithBOEBaseURL(srv.URL))
	return boe, fetcher.New(boe, nil, nil), calls
}

func TestValidate_StaticMapTier(t *testing.T) {
	boe, fetch, _ := boeStub(t)
	v := NewValidator(abbrev.New(), boe, nil, fetch, nil)
	v.VerifyArticles = false

	ref := &reference.Reference{RawText: "LPAC", Law: "Ley 39/2015", Kind: reference.KindLaw, Confidence: 100}
	v.Validate(context.Background(), ref)

	if ref.RegistryID != "BOE-A-2015-10565" {
		t.Errorf("registry id = %q", ref.RegistryID)
	}
	if !ref.Flags.Validated {
		t.Error("ref should be validated")
	}
	if ref.RegistryURL != "https://www.boe.es/buscar/act.php?id=BOE-A-2015-10565" {
		t.Errorf("url = %q", ref.RegistryURL)
	}
}

func TestValidate_SearchAPITier(t *testing.T) {
	boe, fetch, _ := boeStub(t)
	v := NewValidator(abbrev.New(), boe, nil, fetch, nil)
	v.VerifyArticles = false

	// Ley 13/2009 is not in the static tables; the search API resolves it.
	ref := &reference.Reference{RawText: "Ley 13/2009", Law: "Ley 13/2009", Kind: reference.KindLaw, Confidence: 100}
	v.Validate(context.Background(), ref)

	if ref.RegistryID != "BOE-A-2009-17493" {
		t.Errorf("registry id = %q", ref.RegistryID)
	}
}

func TestValidate_OfficialTitleTier(t *testing.T) {
	boe, fetch, _ := boeStub(t)
	v := NewValidator(abbrev.New(), boe, nil, fetch, nil)
	v.VerifyArticles = false

	// Neither raw text nor law carries a number, but the resolved title does.
	ref := &reference.Reference{
		RawText:       "la ley de la oficina judicial",
		Kind:          reference.KindLaw,
		OfficialTitle: "Ley 13/2009, de 3 de noviembre, de reforma de la legislación procesal",
		Confidence:    90,
	}
	v.Validate(context.Background(), ref)

	if ref.RegistryID != "BOE-A-2009-17493" {
		t.Errorf("title-driven retry failed, id = %q", ref.RegistryID)
	}
}

func TestValidate_HallucinatedArticleDemoted(t *testing.T) {
	boe, fetch, _ := boeStub(t)
	v := NewValidator(abbrev.New(), boe, nil, fetch, nil)

	ref := &reference.Reference{
		RawText:    "artículo 999 del Código Penal",
		Law:        "Código Penal",
		Article:    "999",
		Kind:       reference.KindArticle,
		Confidence: 100,
	}
	v.Validate(context.Background(), ref)

	if !ref.Flags.Hallucinated {
		t.Fatal("article 999 is not in the index; ref must be demoted")
	}
	if ref.Confidence != 0 {
		t.Errorf("confidence = %d, want exactly 0", ref.Confidence)
	}
	if ref.Exportable() {
		t.Error("hallucinated refs are not exportable")
	}
}

func TestValidate_ExistingArticleStaysValidated(t *testing.T) {
	boe, fetch, _ := boeStub(t)
	v := NewValidator(abbrev.New(), boe, nil, fetch, nil)

	ref := &reference.Reference{
		RawText:    "artículo 138 del Código Penal",
		Law:        "Código Penal",
		Article:    "138",
		Kind:       reference.KindArticle,
		Confidence: 100,
	}
	v.Validate(context.Background(), ref)

	if !ref.Flags.Validated || ref.Flags.Hallucinated {
		t.Errorf("flags = %+v", ref.Flags)
	}
	if ref.RegistryID != "BOE-A-1995-25444" {
		t.Errorf("registry id = %q", ref.RegistryID)
	}
}

func TestValidate_UnresolvableIsAuditedNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	boe := registry.NewBOEClient(registry.WithBOEBaseURL(srv.URL))
	v := NewValidator(abbrev.New(), boe, nil, fetcher.New(boe, nil, nil), nil)

	ref := &reference.Reference{RawText: "Ley 999/2099", Law: "Ley 999/2099", Kind: reference.KindLaw, Confidence: 100}
	v.Validate(context.Background(), ref)

	if ref.Flags.Validated {
		t.Error("unknown law must stay unvalidated")
	}
	if len(ref.Audit) == 0 {
		t.Error("the failure must be recorded in the audit trail")
	}
}

func TestValidate_EUCelexExists(t *testing.T) {
	sparql := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":{"bindings":[{"work":{"value":"cellar/x"}}]}}`))
	}))
	defer sparql.Close()
	eurlex := registry.NewEURLexClient(registry.WithSPARQLURL(sparql.URL))

	boe, fetch, _ := boeStub(t)
	v := NewValidator(abbrev.New(), boe, eurlex, fetch, nil)

	ref := &reference.Reference{
		RawText:    "RGPD",
		Kind:       reference.KindEURegulation,
		RegistryID: "32016R0679",
		Confidence: 100,
	}
	v.Validate(context.Background(), ref)

	if !ref.Flags.Validated {
		t.Error("existing CELEX should validate")
	}
}

func TestValidate_EUEndpointDownStaysExportable(t *testing.T) {
	sparql := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer sparql.Close()
	eurlex := registry.NewEURLexClient(registry.WithSPARQLURL(sparql.URL))

	boe, fetch, _ := boeStub(t)
	v := NewValidator(abbrev.New(), boe, eurlex, fetch, nil)

	ref := &reference.Reference{
		RawText:    "RGPD",
		Kind:       reference.KindEURegulation,
		RegistryID: "32016R0679",
		Confidence: 100,
	}
	v.Validate(context.Background(), ref)

	if ref.Flags.Validated {
		t.Error("unreachable endpoint cannot validate")
	}
	if !ref.Exportable() {
		t.Error("EU refs with a synthesized CELEX stay exportable")
	}
	if len(ref.Audit) == 0 {
		t.Error("the failed check must be audited")
	}
}
