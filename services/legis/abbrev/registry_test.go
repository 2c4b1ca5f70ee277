// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package abbrev

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_CaseAndDotInsensitive(t *testing.T) {
	r := New()

	for _, form := range []string{"LPAC", "lpac", "L.P.A.C.", " lpac "} {
		e, ok := r.Lookup(form)
		require.True(t, ok, "form %q should resolve", form)
		assert.Equal(t, "Ley 39/2015", e.Law)
		assert.Equal(t, "BOE-A-2015-10565", e.BOEID)
	}
}

func TestBOEIDForName(t *testing.T) {
	r := New()

	cases := map[string]string{
		"CE":                    "BOE-A-1978-31229",
		"constitución española": "BOE-A-1978-31229",
		"Código Civil":          "BOE-A-1889-4763",
		"ley 39/2015":           "BOE-A-2015-10565",
		"LOPJ":                  "BOE-A-1985-12666",
	}
	for name, want := range cases {
		id, ok := r.BOEIDForName(name)
		require.True(t, ok, "name %q should resolve", name)
		assert.Equal(t, want, id, "name %q", name)
	}

	_, ok := r.BOEIDForName("Ley 999/9999")
	assert.False(t, ok)
}

func TestBOEIDForNumber(t *testing.T) {
	r := New()

	cases := []struct {
		kind, number, want string
	}{
		{"Ley", "39/2015", "BOE-A-2015-10565"},
		{"ley", "40/2015", "BOE-A-2015-10566"},
		{"Ley Orgánica", "6/1985", "BOE-A-1985-12666"},
		{"LO", "6/1985", "BOE-A-1985-12666"},
		{"Real Decreto", "203/2021", "BOE-A-2021-5032"},
		{"RD", "203/2021", "BOE-A-2021-5032"},
		{"Real Decreto Legislativo", "2/2015", "BOE-A-2015-11430"},
		{"RDL", "2/2015", "BOE-A-2015-11430"},
	}
	for _, tc := range cases {
		id, ok := r.BOEIDForNumber(tc.kind, tc.number)
		require.True(t, ok, "%s %s should resolve", tc.kind, tc.number)
		assert.Equal(t, tc.want, id)
	}

	_, ok := r.BOEIDForNumber("Ley", "123/1812")
	assert.False(t, ok)
}

func TestLookupEU(t *testing.T) {
	r := New()

	e, ok := r.LookupEU("RGPD")
	require.True(t, ok)
	assert.Equal(t, "32016R0679", e.CELEX)

	e, ok = r.LookupEU("roma i")
	require.True(t, ok)
	assert.Equal(t, "32008R0593", e.CELEX)

	assert.True(t, r.IsEUSigla("dsa"))
	assert.False(t, r.IsEUSigla("LPAC"))
}

func TestEntries_PriorityFirst(t *testing.T) {
	r := New()

	entries := r.Entries()
	require.NotEmpty(t, entries)

	sawNonPriority := false
	for _, e := range entries {
		if !e.Priority {
			sawNonPriority = true
		} else if sawNonPriority {
			t.Fatalf("priority entry %s listed after non-priority entries", e.Sigla)
		}
	}
}

func TestPromptAssistance(t *testing.T) {
	r := New()

	block := r.PromptAssistance(5)
	assert.Contains(t, block, "SIGLAS LEGALES CONOCIDAS")
	assert.Contains(t, block, "BOE-A-")
	// Max five entries plus the heading line.
	assert.LessOrEqual(t, strings.Count(block, "\n"), 6)
}
