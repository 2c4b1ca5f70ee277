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
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/legis/services/llm"
)

// errProviderDown simulates a provider outage in agent tests.
var errProviderDown = errors.New("provider down")

// stubLLM answers prompts by substring match against its reply table; the
// fallback answers anything else. It records every prompt it sees.
type stubLLM struct {
	mu       sync.Mutex
	replies  map[string]string
	fallback string
	err      error
	prompts  []string
	systems  []string
}

func (s *stubLLM) Generate(_ context.Context, prompt string, params llm.GenerationParams) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.systems = append(s.systems, params.System)
	s.mu.Unlock()

	if s.err != nil {
		return "", s.err
	}
	for needle, reply := range s.replies {
		if strings.Contains(prompt, needle) {
			return reply, nil
		}
	}
	return s.fallback, nil
}

func (s *stubLLM) sawPrompt(needle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.prompts {
		if strings.Contains(p, needle) {
			return true
		}
	}
	return false
}

func TestExtractJSON_Fenced(t *testing.T) {
	raw := "Aquí está el resultado:\n```json\n{\"referencias\": []}\n```\nEspero que ayude."
	blob, err := ExtractJSON(raw)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	if !json.Valid(blob) {
		t.Errorf("blob not valid JSON: %s", blob)
	}
}

func TestExtractJSON_BareWithProse(t *testing.T) {
	raw := `El análisis es: {"resoluciones": [{"index": 1}]} fin.`
	blob, err := ExtractJSON(raw)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(blob, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}

func TestExtractJSON_NestedBracesAndStrings(t *testing.T) {
	raw := `{"a": {"b": "tiene } llave y {"}, "c": 1}`
	blob, err := ExtractJSON(raw)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	if string(blob) != raw {
		t.Errorf("blob = %s", blob)
	}
}

func TestExtractJSON_NoObject(t *testing.T) {
	if _, err := ExtractJSON("no hay json aquí"); err == nil {
		t.Error("prose without JSON should fail")
	}
	if _, err := ExtractJSON(`{"rota": `); err == nil {
		t.Error("unterminated object should fail")
	}
}

func TestFlexTypes(t *testing.T) {
	var item refItem
	raw := `{"texto_completo": "Ley 39/2015", "articulo": 23, "confianza": "95"}`
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if item.Articulo.String() != "23" {
		t.Errorf("numeric articulo should decode as string, got %q", item.Articulo.String())
	}
	if int(item.Confianza) != 95 {
		t.Errorf("string confianza should decode as int, got %d", item.Confianza)
	}

	var clamped refItem
	if err := json.Unmarshal([]byte(`{"confianza": 900}`), &clamped); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if int(clamped.Confianza) != 100 {
		t.Errorf("confidence should clamp to 100, got %d", clamped.Confianza)
	}
}
