// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package document models the pipeline's input: a study document carrying
// HTML content and a free-form title. The pipeline consumes only the
// stripped plain text.
package document

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
)

// Document is the structured input object. Contenido carries the HTML body
// as produced by the upstream format converters.
type Document struct {
	Title     string `json:"titulo"`
	Contenido string `json:"contenido"`
}

// Parse decodes a document from its JSON form.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("document: decoding: %w", err)
	}
	if strings.TrimSpace(doc.Contenido) == "" {
		return nil, fmt.Errorf("document: empty contenido")
	}
	return &doc, nil
}

var (
	scriptStylePattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	blockClosePattern  = regexp.MustCompile(`(?i)</(p|div|li|h[1-6]|tr|table|section|article|blockquote)>`)
	brPattern          = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagPattern         = regexp.MustCompile(`<[^>]*>`)
	blankLinesPattern  = regexp.MustCompile(`\n{3,}`)
	spacesPattern      = regexp.MustCompile(`[ \t]+`)
)

// Text returns the document's plain text: tags stripped, entities decoded,
// block boundaries preserved as newlines. limit > 0 truncates the result.
func (d *Document) Text(limit int) string {
	t := scriptStylePattern.ReplaceAllString(d.Contenido, " ")
	t = brPattern.ReplaceAllString(t, "\n")
	t = blockClosePattern.ReplaceAllString(t, "\n")
	t = tagPattern.ReplaceAllString(t, " ")
	t = html.UnescapeString(t)

	t = spacesPattern.ReplaceAllString(t, " ")
	lines := strings.Split(t, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	t = strings.Join(lines, "\n")
	t = blankLinesPattern.ReplaceAllString(t, "\n\n")
	t = strings.TrimSpace(t)

	if limit > 0 && len(t) > limit {
		t = t[:limit]
	}
	return t
}
