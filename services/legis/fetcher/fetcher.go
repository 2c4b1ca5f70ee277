// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fetcher retrieves authoritative article text from the official
// registries. Block ids are not uniform across consolidated norms, so the
// fetcher tries a cascade of synthetic id patterns before falling back to a
// scan of the norm's index.
package fetcher

import (
	"container/list"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/AleutianAI/legis/services/legis/registry"
)

// Article is a fetched article: official title of the block, body HTML and
// the public consultation URL.
type Article struct {
	Number     string `json:"number"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	URL        string `json:"url"`
	IsSubpoint bool   `json:"is_subpoint,omitempty"`
}

// Fetcher resolves (registry id, article number) to article text. All
// strategies share one in-memory LRU keyed by (id, article); the registry
// clients add their own on-disk layer underneath.
//
// Network failures surface as "not found" to the enrichment path — a
// missing body never blocks the pipeline — while ArticleExists keeps the
// distinction between "definitively absent" and "could not check" that the
// validator's hallucination rule depends on.
//
// Thread Safety: safe for concurrent use.
type Fetcher struct {
	boe    *registry.BOEClient
	eurlex *registry.EURLexClient
	cache  *lruCache
	logger *slog.Logger
}

// New creates a Fetcher. eurlex may be nil when EU enrichment is disabled.
func New(boe *registry.BOEClient, eurlex *registry.EURLexClient, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		boe:    boe,
		eurlex: eurlex,
		cache:  newLRU(200),
		logger: logger,
	}
}

// FetchArticle retrieves one article of a Spanish norm. hint is an optional
// caller-supplied block id tried alongside the synthetic patterns.
//
// Returns (nil, nil) when the article cannot be located; errors are
// reserved for cancelled contexts.
func (f *Fetcher) FetchArticle(ctx context.Context, boeID, article, hint string) (*Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cacheKey := boeID + "#" + article
	if cached, ok := f.cache.get(cacheKey); ok {
		return cached, nil
	}

	num := normalizeArticleNumber(article)
	base := strings.SplitN(num, ".", 2)[0]

	// Direct attempts with the known block-id patterns.
	patterns := []string{"a" + base}
	if n, err := strconv.Atoi(base); err == nil {
		if word, werr := wordBlockID(n); werr == nil {
			patterns = append(patterns, word)
		}
	}
	patterns = append(patterns, "art"+base, "a"+base+"bis", "art"+base+"bis")
	if hint != "" {
		patterns = append(patterns, hint)
	}

	for _, blockID := range patterns {
		if art := f.tryBlock(ctx, boeID, blockID, num); art != nil {
			markSubpoint(art, num, base)
			f.cache.put(cacheKey, art)
			return art, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	// Index-driven fallback.
	if art := f.searchIndex(ctx, boeID, num); art != nil {
		markSubpoint(art, num, base)
		f.cache.put(cacheKey, art)
		return art, nil
	}

	// Subpoint fallback: "517.2.5.º" or "22.e)" retries the base article.
	if baseArticle := subpointBase(article); baseArticle != "" && baseArticle != article {
		art, err := f.FetchArticle(ctx, boeID, baseArticle, hint)
		if err != nil || art == nil {
			return art, err
		}
		sub := *art
		sub.Number = normalizeArticleNumber(article)
		sub.IsSubpoint = true
		f.cache.put(cacheKey, &sub)
		return &sub, nil
	}

	f.logger.Debug("article not available",
		slog.String("boe_id", boeID),
		slog.String("article", article),
	)
	return nil, nil
}

// ArticleExists checks whether the article appears in the norm's index.
// The error return means the index could not be obtained; callers must not
// treat that as absence.
func (f *Fetcher) ArticleExists(ctx context.Context, boeID, article string) (bool, error) {
	blocks, err := f.boe.FetchIndex(ctx, boeID)
	if err != nil {
		return false, fmt.Errorf("fetcher: index of %s unavailable: %w", boeID, err)
	}

	num := normalizeArticleNumber(article)
	base := strings.SplitN(num, ".", 2)[0]
	for _, block := range blocks {
		if matchesArticleTitle(block.Title, num) || matchesArticleTitle(block.Title, base) {
			return true, nil
		}
	}
	return false, nil
}

// Index exposes the norm's block index (the inference agent cross-checks
// proposed articles against it).
func (f *Fetcher) Index(ctx context.Context, boeID string) ([]registry.IndexBlock, error) {
	return f.boe.FetchIndex(ctx, boeID)
}

// FetchEUArticle pulls one article out of the EUR-Lex HTML view of a
// document. Best effort: (nil, nil) when the article heading cannot be
// located in the page.
func (f *Fetcher) FetchEUArticle(ctx context.Context, celexID, article, lang string) (*Article, error) {
	if f.eurlex == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cacheKey := celexID + "#" + article
	if cached, ok := f.cache.get(cacheKey); ok {
		return cached, nil
	}

	html, err := f.eurlex.FetchDocumentHTML(ctx, celexID, lang)
	if err != nil {
		f.logger.Debug("EUR-Lex document unavailable",
			slog.String("celex", celexID),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	body := extractEUArticle(html, article)
	if body == "" {
		return nil, nil
	}

	art := &Article{
		Number: article,
		Title:  "Artículo " + article,
		Body:   body,
		URL:    registry.DocumentURL(celexID, lang, "TXT"),
	}
	f.cache.put(cacheKey, art)
	return art, nil
}

// tryBlock downloads one block and accepts it when it parses as an article.
func (f *Fetcher) tryBlock(ctx context.Context, boeID, blockID, num string) *Article {
	raw, err := f.boe.FetchBlock(ctx, boeID, blockID)
	if err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			f.logger.Debug("block fetch failed",
				slog.String("boe_id", boeID),
				slog.String("block", blockID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	title, body, ok := parseBlock(raw)
	if !ok {
		return nil
	}
	return &Article{
		Number: num,
		Title:  title,
		Body:   body,
		URL:    registry.ArticleURL(boeID, strings.SplitN(num, ".", 2)[0]),
	}
}

// searchIndex scans block titles for "Artículo <n>" and variants.
func (f *Fetcher) searchIndex(ctx context.Context, boeID, num string) *Article {
	blocks, err := f.boe.FetchIndex(ctx, boeID)
	if err != nil {
		f.logger.Debug("index fetch failed",
			slog.String("boe_id", boeID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	base := strings.SplitN(num, ".", 2)[0]
	for _, candidate := range []string{num, base} {
		for _, block := range blocks {
			if !matchesArticleTitle(block.Title, candidate) {
				continue
			}
			if art := f.tryBlock(ctx, boeID, block.ID, num); art != nil {
				return art
			}
		}
	}
	return nil
}

// matchesArticleTitle reports whether a block title names the article.
func matchesArticleTitle(title, num string) bool {
	if num == "" {
		return false
	}
	esc := regexp.QuoteMeta(num)
	re := regexp.MustCompile(`(?i)^Art[ií]culo\s+` + esc + `(\.|\b)`)
	if re.MatchString(strings.TrimSpace(title)) {
		return true
	}
	return regexp.MustCompile(`(?i)\bArt\.\s*`+esc+`\b`).MatchString(title)
}

// normalizeArticleNumber strips "art."/"artículo" prefixes and keeps the
// dotted number ("117.3" stays "117.3").
var articlePrefix = regexp.MustCompile(`(?i)^(artículo|articulo|art\.?)\s*`)

func normalizeArticleNumber(s string) string {
	s = articlePrefix.ReplaceAllString(strings.TrimSpace(s), "")
	if m := regexp.MustCompile(`^\d+(?:\.\d+)*`).FindString(s); m != "" {
		return m
	}
	return strings.TrimSpace(s)
}

// markSubpoint flags results served from a base-article block when the
// caller asked for a dotted subpoint.
func markSubpoint(art *Article, num, base string) {
	if num != base {
		art.IsSubpoint = true
	}
}

// subpointBase returns the base article of a subpoint designator, or "".
func subpointBase(article string) string {
	if !strings.ContainsAny(article, ".)") {
		return ""
	}
	base := strings.SplitN(article, ".", 2)[0]
	base = strings.SplitN(base, ")", 2)[0]
	return strings.TrimSpace(base)
}

// parseBlock extracts the title attribute and version HTML from a BOE block
// response:
// <response><code>200</code>...<bloque titulo="..."><version><p/>...</version></bloque>
func parseBlock(raw []byte) (title, body string, ok bool) {
	dec := xml.NewDecoder(strings.NewReader(string(raw)))
	var inVersion bool
	var parts []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", "", false
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "bloque":
				for _, attr := range t.Attr {
					if attr.Name.Local == "titulo" {
						title = attr.Value
					}
				}
			case "version":
				if inVersion {
					continue
				}
				inVersion = true
			default:
				if inVersion {
					var buf strings.Builder
					if err := collectElement(dec, t, &buf); err != nil {
						return "", "", false
					}
					parts = append(parts, buf.String())
				}
			}
		case xml.EndElement:
			if t.Name.Local == "version" && inVersion {
				body = strings.Join(parts, "\n")
				return title, body, body != ""
			}
		}
	}
	return "", "", false
}

// collectElement re-serializes an element subtree as text-ish HTML.
func collectElement(dec *xml.Decoder, start xml.StartElement, buf *strings.Builder) error {
	buf.WriteString("<" + start.Name.Local + ">")
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := collectElement(dec, t, buf); err != nil {
				return err
			}
		case xml.CharData:
			buf.WriteString(string(t))
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				buf.WriteString("</" + start.Name.Local + ">")
				return nil
			}
		}
	}
}

// extractEUArticle returns the text of the given article inside EUR-Lex
// HTML: everything after its heading up to the next article heading.
func extractEUArticle(html, article string) string {
	text := stripTags(html)
	esc := regexp.QuoteMeta(article)
	re := regexp.MustCompile(`(?is)Art[ií]culo\s+` + esc + `\b(.*?)(Art[ií]culo\s+\d+\b|$)`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	body := strings.TrimSpace(m[1])
	if len(body) > 8000 {
		body = body[:8000]
	}
	return body
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func stripTags(html string) string {
	return strings.Join(strings.Fields(tagPattern.ReplaceAllString(html, " ")), " ")
}

// lruCache is a small bounded cache for fetched articles.
type lruCache struct {
	mu    sync.Mutex
	max   int
	items map[string]*list.Element
	order *list.List
}

type lruEntry struct {
	key string
	art *Article
}

func newLRU(max int) *lruCache {
	return &lruCache{
		max:   max,
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

func (c *lruCache) get(key string) (*Article, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).art, true
}

func (c *lruCache) put(key string, art *Article) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).art = art
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&lruEntry{key: key, art: art})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}
