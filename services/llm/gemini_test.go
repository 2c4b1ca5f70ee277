// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newGeminiTestServer(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGeminiClientWithConfig("test-key", "gemini-2.0-flash-exp", srv.URL), srv
}

func TestGeminiGenerate_Success(t *testing.T) {
	var gotReq geminiRequest
	client, _ := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		resp := geminiResponse{
			Candidates: []geminiCandidate{{
				Content:      geminiContent{Parts: []geminiPart{{Text: "hola"}, {Text: " mundo"}}},
				FinishReason: "STOP",
			}},
		}
		json.NewEncoder(w).Encode(resp)
	})

	out, err := client.Generate(context.Background(), "ping", GenerationParams{
		System:      "system prompt",
		Temperature: Temp(0.1),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "hola mundo" {
		t.Errorf("joined candidate parts = %q", out)
	}

	if gotReq.SystemInstruction == nil || gotReq.SystemInstruction.Parts[0].Text != "system prompt" {
		t.Error("system instruction not forwarded")
	}
	if gotReq.GenerationConfig == nil || gotReq.GenerationConfig.Temperature == nil ||
		*gotReq.GenerationConfig.Temperature != 0.1 {
		t.Error("temperature not forwarded")
	}
}

func TestGeminiGenerate_HTTPErrorIsProviderError(t *testing.T) {
	client, _ := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	_, err := client.Generate(context.Background(), "ping", GenerationParams{})
	if err == nil {
		t.Fatal("expected error on 429")
	}
	if !errors.Is(err, ErrProvider) {
		t.Errorf("HTTP failure should wrap ErrProvider, got %v", err)
	}
}

func TestGeminiGenerate_APIErrorPayload(t *testing.T) {
	client, _ := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geminiResponse{
			Error: &geminiError{Code: 400, Status: "INVALID_ARGUMENT", Message: "bad request"},
		})
	})

	_, err := client.Generate(context.Background(), "ping", GenerationParams{})
	if !errors.Is(err, ErrProvider) {
		t.Errorf("API error payload should wrap ErrProvider, got %v", err)
	}
}

func TestGeminiGenerate_EmptyCandidates(t *testing.T) {
	client, _ := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geminiResponse{})
	})

	_, err := client.Generate(context.Background(), "ping", GenerationParams{})
	if !errors.Is(err, ErrProvider) {
		t.Errorf("empty candidates should wrap ErrProvider, got %v", err)
	}
}

func TestSafeLogString_RedactsAndTruncates(t *testing.T) {
	in := "error calling key=AIzaSyAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA endpoint"
	out := SafeLogString(in)
	if out == in {
		t.Error("gemini key should be redacted")
	}

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	if got := SafeLogString(string(long)); len(got) > safeLogMaxLen+3 {
		t.Errorf("long strings should be truncated, got %d chars", len(got))
	}
}
