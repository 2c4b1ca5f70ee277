// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	badgerstore "github.com/AleutianAI/legis/services/legis/storage/badger"
)

const searchXML = `<?xml version="1.0" encoding="UTF-8"?>
<response>
  <data>
    <item>
      <identificador>BOE-A-2015-10565</identificador>
      <titulo>Ley 39/2015, de 1 de octubre, del Procedimiento Administrativo Común de las Administraciones Públicas.</titulo>
    </item>
  </data>
</response>`

const indexXML = `<?xml version="1.0" encoding="UTF-8"?>
<indice>
  <bloque><id>tpreliminar</id><titulo>TÍTULO PRELIMINAR</titulo></bloque>
  <bloque><id>a1</id><titulo>Artículo 1</titulo></bloque>
  <bloque><id>a2</id><titulo>Artículo 2</titulo></bloque>
</indice>`

func newBOETest(t *testing.T, handler http.HandlerFunc, cache *Cache) *BOEClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBOEClient(WithBOEBaseURL(srv.URL), WithBOECache(cache))
}

func memCache(t *testing.T, name string) *Cache {
	t.Helper()
	db, err := badgerstore.OpenDB(badgerstore.Config{})
	if err != nil {
		t.Fatalf("opening in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewCache(db, name, nil)
}

func TestSearchLaw_ParsesIdentifier(t *testing.T) {
	var gotQuery string
	client := newBOETest(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		w.Write([]byte(searchXML))
	}, nil)

	id, err := client.SearchLaw(context.Background(), "Ley", "39", "2015")
	if err != nil {
		t.Fatalf("SearchLaw: %v", err)
	}
	if id != "BOE-A-2015-10565" {
		t.Errorf("id = %q", id)
	}
	if !strings.Contains(gotQuery, "numero_oficial:39/2015") {
		t.Errorf("query parameter should carry numero_oficial, got %q", gotQuery)
	}
}

func TestSearchLaw_KindMismatchIsNotFound(t *testing.T) {
	client := newBOETest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(searchXML))
	}, nil)

	// The returned title says "Ley ..."; asking for a Real Decreto with the
	// same official number must not match.
	_, err := client.SearchLaw(context.Background(), "Real Decreto", "39", "2015")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on kind mismatch, got %v", err)
	}
}

func TestSearchLaw_CachesSuccessOnly(t *testing.T) {
	cache := memCache(t, "boe")

	calls := 0
	client := newBOETest(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(searchXML))
	}, cache)

	for i := 0; i < 3; i++ {
		if _, err := client.SearchLaw(context.Background(), "Ley", "39", "2015"); err != nil {
			t.Fatalf("SearchLaw: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("warm cache should stop repeat lookups, got %d calls", calls)
	}
}

func TestSearchLaw_FailureNotCached(t *testing.T) {
	cache := memCache(t, "boe")

	calls := 0
	client := newBOETest(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}, cache)

	client.SearchLaw(context.Background(), "Ley", "39", "2015")
	client.SearchLaw(context.Background(), "Ley", "39", "2015")

	if calls != 2 {
		t.Errorf("failed responses must not be cached, got %d calls", calls)
	}
}

func TestFetchIndex(t *testing.T) {
	client := newBOETest(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/texto/indice") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(indexXML))
	}, nil)

	blocks, err := client.FetchIndex(context.Background(), "BOE-A-2015-10565")
	if err != nil {
		t.Fatalf("FetchIndex: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(blocks))
	}
	if blocks[1].ID != "a1" || blocks[1].Title != "Artículo 1" {
		t.Errorf("block[1] = %+v", blocks[1])
	}
}

func TestFetchBlock_404IsNotFound(t *testing.T) {
	client := newBOETest(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}, nil)

	_, err := client.FetchBlock(context.Background(), "BOE-A-2015-10565", "a999")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("404 should map to ErrNotFound, got %v", err)
	}
}

func TestFetchTitle(t *testing.T) {
	client := newBOETest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<response><data><titulo>Ley 39/2015, de 1 de octubre</titulo></data></response>`))
	}, nil)

	title, err := client.FetchTitle(context.Background(), "BOE-A-2015-10565")
	if err != nil {
		t.Fatalf("FetchTitle: %v", err)
	}
	if title != "Ley 39/2015, de 1 de octubre" {
		t.Errorf("title = %q", title)
	}
}

func TestNormAndArticleURLs(t *testing.T) {
	if got := NormURL("BOE-A-2015-10565"); got != "https://www.boe.es/buscar/act.php?id=BOE-A-2015-10565" {
		t.Errorf("NormURL = %q", got)
	}
	if got := ArticleURL("BOE-A-2015-10565", "23"); !strings.HasSuffix(got, "#a23") {
		t.Errorf("ArticleURL = %q", got)
	}
}
