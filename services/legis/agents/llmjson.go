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
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the first JSON object out of a model reply. Replies
// arrive either as bare JSON or wrapped in a ```json fence, sometimes with
// prose around it; extra fields inside the object are tolerated by the
// caller's decode.
func ExtractJSON(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)

	// Strip a markdown fence if present.
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	} else if idx := strings.Index(s, "```"); idx == 0 {
		s = strings.TrimPrefix(s, "```")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	s = strings.TrimSpace(s)

	// Walk to the first balanced top-level object.
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, fmt.Errorf("agents: no JSON object in reply")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return nil, fmt.Errorf("agents: reply contains malformed JSON")
				}
				return []byte(candidate), nil
			}
		}
	}
	return nil, fmt.Errorf("agents: unterminated JSON object in reply")
}

// flexString tolerates JSON values that arrive as strings or numbers
// ("23.2" vs 23). Model replies are not schema-strict.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	// Null or any other shape decays to empty.
	*f = ""
	return nil
}

func (f flexString) String() string { return strings.TrimSpace(string(f)) }

// flexInt tolerates confidence values that arrive as numbers or numeric
// strings, clamping into 0–100.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = clampConfidence(int(n))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		var v float64
		if _, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &v); err == nil {
			*f = clampConfidence(int(v))
			return nil
		}
	}
	*f = 0
	return nil
}

func clampConfidence(v int) flexInt {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return flexInt(v)
}
