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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// EURLexClient checks CELEX identifiers against the EU Publications Office
// SPARQL endpoint and fetches document HTML from the public EUR-Lex portal.
//
// CELEX existence checks are cached without expiry: a published identifier
// never disappears. Failed checks are not cached.
//
// Thread Safety: safe for concurrent use.
type EURLexClient struct {
	httpClient *http.Client
	sparqlURL  string
	portalURL  string
	cache      *Cache
	logger     *slog.Logger
}

// EURLexOption configures an EURLexClient.
type EURLexOption func(*EURLexClient)

// WithSPARQLURL overrides the SPARQL endpoint (tests).
func WithSPARQLURL(u string) EURLexOption {
	return func(c *EURLexClient) { c.sparqlURL = u }
}

// WithPortalURL overrides the public portal base URL (tests).
func WithPortalURL(u string) EURLexOption {
	return func(c *EURLexClient) { c.portalURL = strings.TrimRight(u, "/") }
}

// WithEURLexCache attaches the on-disk cache. May be nil.
func WithEURLexCache(cache *Cache) EURLexOption {
	return func(c *EURLexClient) { c.cache = cache }
}

// WithEURLexLogger sets the logger.
func WithEURLexLogger(l *slog.Logger) EURLexOption {
	return func(c *EURLexClient) { c.logger = l }
}

// NewEURLexClient creates an EUR-Lex client with a 10s SPARQL timeout.
func NewEURLexClient(opts ...EURLexOption) *EURLexClient {
	c := &EURLexClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		sparqlURL:  "https://publications.europa.eu/webapi/rdf/sparql",
		portalURL:  "https://eur-lex.europa.eu",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CelexMetadata is the small record returned alongside an existence check.
type CelexMetadata struct {
	Work string `json:"work,omitempty"`
}

// sparqlResponse mirrors the SPARQL JSON results format.
type sparqlResponse struct {
	Results struct {
		Bindings []map[string]struct {
			Value string `json:"value"`
		} `json:"bindings"`
	} `json:"results"`
}

// CelexExists checks whether a CELEX identifier names a published work.
//
// A network or endpoint failure is returned as an error so the caller can
// leave the reference unvalidated-but-exportable; only definitive yes/no
// answers are cached.
func (c *EURLexClient) CelexExists(ctx context.Context, celex string) (bool, *CelexMetadata, error) {
	key := c.cache.Key("celex", celex)
	if raw, ok := c.cache.Get(ctx, key); ok {
		var cached struct {
			Exists bool           `json:"exists"`
			Meta   *CelexMetadata `json:"meta,omitempty"`
		}
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached.Exists, cached.Meta, nil
		}
	}

	query := fmt.Sprintf(`PREFIX cdm: <http://publications.europa.eu/ontology/cdm#>
SELECT ?work WHERE { ?work cdm:resource_legal_id_celex "%s"^^<http://www.w3.org/2001/XMLSchema#string> } LIMIT 1`, celex)

	params := url.Values{}
	params.Set("query", query)
	params.Set("format", "application/sparql-results+json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sparqlURL+"?"+params.Encode(), nil)
	if err != nil {
		return false, nil, fmt.Errorf("eurlex: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/sparql-results+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, nil, fmt.Errorf("eurlex: SPARQL request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil, fmt.Errorf("eurlex: SPARQL returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, nil, fmt.Errorf("eurlex: reading SPARQL response: %w", err)
	}

	var sr sparqlResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return false, nil, fmt.Errorf("eurlex: parsing SPARQL response: %w", err)
	}

	exists := len(sr.Results.Bindings) > 0
	var meta *CelexMetadata
	if exists {
		if work, ok := sr.Results.Bindings[0]["work"]; ok {
			meta = &CelexMetadata{Work: work.Value}
		}
	}

	if payload, err := json.Marshal(struct {
		Exists bool           `json:"exists"`
		Meta   *CelexMetadata `json:"meta,omitempty"`
	}{exists, meta}); err == nil {
		c.cache.Set(ctx, key, payload, TTLForever)
	}

	c.logger.Debug("CELEX existence check",
		slog.String("celex", celex),
		slog.Bool("exists", exists),
	)
	return exists, meta, nil
}

// FetchDocumentHTML retrieves the full HTML view of a document in the given
// language (ES, EN, FR, ...). Used by the article fetcher to extract EU
// article bodies. Cached as norm text.
func (c *EURLexClient) FetchDocumentHTML(ctx context.Context, celex, lang string) (string, error) {
	lang = strings.ToUpper(strings.TrimSpace(lang))
	if lang == "" {
		lang = "ES"
	}

	key := c.cache.Key("html", celex, lang)
	if raw, ok := c.cache.Get(ctx, key); ok {
		return string(raw), nil
	}

	docURL := fmt.Sprintf("%s/legal-content/%s/TXT/HTML/?uri=CELEX:%s", c.portalURL, lang, celex)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return "", fmt.Errorf("eurlex: creating request: %w", err)
	}
	req.Header.Set("User-Agent", "legis/1.0 (+https://github.com/AleutianAI/legis)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("eurlex: document request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("eurlex: portal returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("eurlex: reading document: %w", err)
	}

	c.cache.Set(ctx, key, body, TTLNormText)
	return string(body), nil
}

// DocumentURL composes the public EUR-Lex URL for a CELEX in the requested
// format (TXT, PDF, ALL, HTML) and language.
func DocumentURL(celex, lang, format string) string {
	if lang == "" {
		lang = "ES"
	}
	if format == "" {
		format = "TXT"
	}
	return fmt.Sprintf("https://eur-lex.europa.eu/legal-content/%s/%s/?uri=CELEX:%s",
		strings.ToUpper(lang), strings.ToUpper(format), celex)
}
