// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry holds the read-only clients for the official legislation
// registries: the Spanish BOE consolidated-legislation API and the EUR-Lex
// SPARQL endpoint. Responses are cached on disk so each remote authority is
// consulted at most once per distinct request.
package registry

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotFound marks a well-formed registry response that simply has no
// matching record (HTTP 404 or an empty result set).
var ErrNotFound = errors.New("registry: not found")

// boeIDPattern validates consolidated identifiers (BOE-A-YYYY-NNNNN).
var boeIDPattern = regexp.MustCompile(`^BOE-[A-Z]-\d{4}-\d+$`)

// IndexBlock is one entry of a norm's block index.
type IndexBlock struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// BOEClient is the read-only client for the BOE consolidated-legislation
// API.
//
// Thread Safety: safe for concurrent use.
type BOEClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	cache      *Cache
	logger     *slog.Logger
}

// BOEOption configures a BOEClient.
type BOEOption func(*BOEClient)

// WithBOEBaseURL overrides the API base URL (tests).
func WithBOEBaseURL(u string) BOEOption {
	return func(c *BOEClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithBOECache attaches the on-disk cache. May be nil.
func WithBOECache(cache *Cache) BOEOption {
	return func(c *BOEClient) { c.cache = cache }
}

// WithBOELogger sets the logger.
func WithBOELogger(l *slog.Logger) BOEOption {
	return func(c *BOEClient) { c.logger = l }
}

// NewBOEClient creates a BOE client. Requests are paced at two per second
// to stay polite with the public API, and each call carries a 15s timeout.
func NewBOEClient(opts ...BOEOption) *BOEClient {
	c := &BOEClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    "https://www.boe.es/datosabiertos/api",
		limiter:    rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// searchResponse mirrors the XML of the search endpoint:
// <response><data><item><identificador/><titulo/></item>...</data></response>
type searchResponse struct {
	Items []searchItem `xml:"data>item"`
}

type searchItem struct {
	Identifier string `xml:"identificador"`
	Title      string `xml:"titulo"`
}

// SearchLaw searches the consolidated-legislation index for a norm by
// official number ("39/2015") and returns its BOE-ID. kind ("Ley", "Real
// Decreto", ...) is matched against the returned titles to discard
// homonymous numbers of other norm classes.
//
// Returns ErrNotFound when the API answers but no item matches.
func (c *BOEClient) SearchLaw(ctx context.Context, kind, number, year string) (string, error) {
	official := number
	if !strings.Contains(official, "/") && year != "" {
		official = number + "/" + year
	}

	key := c.cache.Key("search", kind, official)
	if raw, ok := c.cache.Get(ctx, key); ok {
		return string(raw), nil
	}

	query, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"query_string": map[string]any{
				"query": "numero_oficial:" + official,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("boe: building search query: %w", err)
	}

	params := url.Values{}
	params.Set("query", string(query))
	params.Set("limit", "5")

	body, err := c.get(ctx, c.baseURL+"/legislacion-consolidada?"+params.Encode())
	if err != nil {
		return "", err
	}

	var resp searchResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("boe: parsing search response: %w", err)
	}

	id := matchSearchItem(resp.Items, kind)
	if id == "" {
		c.logger.Debug("BOE search returned no matching item",
			slog.String("official", official),
			slog.String("kind", kind),
			slog.Int("items", len(resp.Items)),
		)
		return "", ErrNotFound
	}

	c.cache.Set(ctx, key, []byte(id), TTLSearch)
	return id, nil
}

// matchSearchItem picks the first item whose title matches the requested
// norm kind. Unknown kinds accept the first well-formed identifier.
func matchSearchItem(items []searchItem, kind string) string {
	kindLower := strings.ToLower(strings.TrimSpace(kind))
	for _, item := range items {
		id := strings.TrimSpace(item.Identifier)
		if !boeIDPattern.MatchString(id) {
			continue
		}
		title := strings.ToLower(item.Title)
		switch kindLower {
		case "ley", "ley orgánica", "ley organica":
			if strings.Contains(title, "ley") {
				return id
			}
		case "real decreto", "rd", "real decreto legislativo", "rdl":
			if strings.Contains(title, "real decreto") {
				return id
			}
		default:
			return id
		}
	}
	return ""
}

// FetchIndex retrieves the block index of a consolidated norm: every block
// id with its title, in document order.
func (c *BOEClient) FetchIndex(ctx context.Context, boeID string) ([]IndexBlock, error) {
	key := c.cache.Key("index", boeID)
	if raw, ok := c.cache.Get(ctx, key); ok {
		var blocks []IndexBlock
		if err := json.Unmarshal(raw, &blocks); err == nil {
			return blocks, nil
		}
	}

	body, err := c.get(ctx, fmt.Sprintf("%s/legislacion-consolidada/id/%s/texto/indice", c.baseURL, boeID))
	if err != nil {
		return nil, err
	}

	blocks, err := parseIndex(body)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, ErrNotFound
	}

	if payload, err := json.Marshal(blocks); err == nil {
		c.cache.Set(ctx, key, payload, TTLNormText)
	}
	return blocks, nil
}

func parseIndex(body []byte) ([]IndexBlock, error) {
	// The index may arrive wrapped in a <response><data> envelope or bare;
	// scan for <bloque> elements instead of assuming one shape.
	dec := xml.NewDecoder(strings.NewReader(string(body)))
	var blocks []IndexBlock
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("boe: parsing index: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "bloque" {
			continue
		}
		var b struct {
			ID    string `xml:"id"`
			Title string `xml:"titulo"`
		}
		if err := dec.DecodeElement(&b, &start); err != nil {
			return nil, fmt.Errorf("boe: parsing index block: %w", err)
		}
		id, title := strings.TrimSpace(b.ID), strings.TrimSpace(b.Title)
		if id != "" && title != "" {
			blocks = append(blocks, IndexBlock{ID: id, Title: title})
		}
	}
	return blocks, nil
}

// FetchBlock retrieves one block (an article, usually) of a consolidated
// norm as raw XML. Returns ErrNotFound for unknown block ids.
func (c *BOEClient) FetchBlock(ctx context.Context, boeID, blockID string) ([]byte, error) {
	key := c.cache.Key("block", boeID, blockID)
	if raw, ok := c.cache.Get(ctx, key); ok {
		return raw, nil
	}

	body, err := c.get(ctx, fmt.Sprintf("%s/legislacion-consolidada/id/%s/texto/bloque/%s", c.baseURL, boeID, blockID))
	if err != nil {
		return nil, err
	}

	c.cache.Set(ctx, key, body, TTLNormText)
	return body, nil
}

// FetchTitle retrieves the official title of a norm from its metadata
// endpoint. Titles are immutable and cached without expiry.
func (c *BOEClient) FetchTitle(ctx context.Context, boeID string) (string, error) {
	key := c.cache.Key("title", boeID)
	if raw, ok := c.cache.Get(ctx, key); ok {
		return string(raw), nil
	}

	body, err := c.get(ctx, fmt.Sprintf("%s/legislacion-consolidada/id/%s", c.baseURL, boeID))
	if err != nil {
		return "", err
	}

	title := extractFirstElement(body, "titulo")
	if title == "" {
		return "", ErrNotFound
	}

	c.cache.Set(ctx, key, []byte(title), TTLForever)
	return title, nil
}

// NormURL composes the public consultation URL for a whole norm.
func NormURL(boeID string) string {
	return "https://www.boe.es/buscar/act.php?id=" + boeID
}

// ArticleURL composes the public URL anchored at an article.
func ArticleURL(boeID, article string) string {
	return NormURL(boeID) + "#a" + article
}

// get performs a paced GET with the XML accept header and returns the body.
// Any transport failure or 5xx is returned as-is for the caller's strategy
// cascade; a 404 maps to ErrNotFound.
func (c *BOEClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("boe: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/xml")
	req.Header.Set("User-Agent", "legis/1.0 (+https://github.com/AleutianAI/legis)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("boe: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("boe: API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("boe: reading response: %w", err)
	}
	return body, nil
}

// extractFirstElement returns the text of the first occurrence of the named
// element in an XML document, or "".
func extractFirstElement(body []byte, name string) string {
	dec := xml.NewDecoder(strings.NewReader(string(body)))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != name {
			continue
		}
		var text string
		if err := dec.DecodeElement(&text, &start); err != nil {
			return ""
		}
		return strings.TrimSpace(text)
	}
}
