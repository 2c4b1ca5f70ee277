// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package celex synthesizes and parses CELEX identifiers for EU secondary
// legislation: sector 3, format 3<YYYY><R|L|D><NNNN>.
package celex

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DocType is the one-letter CELEX document class.
type DocType byte

const (
	Regulation DocType = 'R'
	Directive  DocType = 'L'
	Decision   DocType = 'D'
)

var pattern = regexp.MustCompile(`^3(\d{4})([RLD])(\d{4})$`)

// numberPattern matches the number/year (or year/number) pair in citation
// text such as "2016/679" or "679/2016". The 4-digit side is the year.
var numberPattern = regexp.MustCompile(`(\d{1,4})\s*/\s*(\d{1,4})`)

// Synthesize builds a CELEX from a document type, year and sequence number.
func Synthesize(doc DocType, year, number int) (string, error) {
	switch doc {
	case Regulation, Directive, Decision:
	default:
		return "", fmt.Errorf("celex: unknown document type %q", string(doc))
	}
	if year < 1000 || year > 9999 {
		return "", fmt.Errorf("celex: year %d out of range", year)
	}
	if number < 0 || number > 9999 {
		return "", fmt.Errorf("celex: number %d out of range", number)
	}
	return fmt.Sprintf("3%04d%c%04d", year, doc, number), nil
}

// Parse splits a sector-3 CELEX back into its (type, year, number) triple.
func Parse(id string) (DocType, int, int, error) {
	m := pattern.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return 0, 0, 0, fmt.Errorf("celex: %q is not a sector-3 identifier", id)
	}
	year, _ := strconv.Atoi(m[1])
	number, _ := strconv.Atoi(m[3])
	return DocType(m[2][0]), year, number, nil
}

// SplitCitation extracts (year, number) from a "YYYY/NNN" or "NNN/YYYY"
// citation fragment. The 4-digit side between 1950 and 2100 is the year;
// both orderings occur in practice ("2016/679" vs "679/2016").
func SplitCitation(text string) (year, number int, ok bool) {
	m := numberPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])

	switch {
	case isYear(a) && !isYear(b):
		return a, b, true
	case isYear(b) && !isYear(a):
		return b, a, true
	case isYear(a) && isYear(b):
		// Ambiguous ("2007/2016"); modern EU numbering puts the year first.
		return a, b, true
	}
	return 0, 0, false
}

func isYear(n int) bool { return n >= 1950 && n <= 2100 }
