// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/legis/services/legis/reference"
)

func TestCompare_ConsensusLevels(t *testing.T) {
	perAgent := map[string][]string{
		"a": {"ley39/2015", "ley40/2015", "solo-a"},
		"b": {"ley39/2015", "ley40/2015"},
		"c": {"ley39/2015", "solo-c"},
	}

	cmp := Compare(perAgent)

	assert.Equal(t, 3, cmp.TotalAgents)
	assert.Equal(t, 1, cmp.FullConsensus, "ley39/2015 is found by all three")
	assert.Equal(t, 1, cmp.PartConsensus, "ley40/2015 is found by two of three")
	assert.Equal(t, 4, cmp.TotalUniqueRefs)
	assert.Equal(t, 1, cmp.UniquePerAgent["a"])
	assert.Equal(t, 0, cmp.UniquePerAgent["b"])
	assert.Equal(t, 1, cmp.UniquePerAgent["c"])
	assert.InDelta(t, 50.0, cmp.AgreementPct, 0.01)
	assert.InDelta(t, 100.0, cmp.ConsensusCoverage["b"], 0.01)
}

func TestCompare_Empty(t *testing.T) {
	cmp := Compare(nil)
	assert.Equal(t, 0, cmp.TotalAgents)
	assert.Equal(t, 0, cmp.TotalUniqueRefs)
}

func validatedRef(kind reference.Kind, conf int) *reference.Reference {
	return &reference.Reference{
		Kind:       kind,
		Confidence: conf,
		Flags:      reference.Flags{Validated: true},
	}
}

func TestAudit_GradeWeights(t *testing.T) {
	refs := []*reference.Reference{
		validatedRef(reference.KindLaw, 100),
		validatedRef(reference.KindArticle, 100),
		validatedRef(reference.KindConstitution, 100),
	}

	rep := Audit(refs, PipelineFacts{Converged: true, Rounds: 2})

	// confidence 10 * 0.4 + validation 10 * 0.4 + coverage 6 * 0.2 = 9.2
	assert.InDelta(t, 9.2, rep.Grade.Score, 0.01)
	assert.Equal(t, "excelente", rep.Grade.Level)
	assert.Equal(t, 1.0, rep.ValidationRate)
}

func TestAudit_DetectsLowValidation(t *testing.T) {
	refs := []*reference.Reference{
		validatedRef(reference.KindLaw, 90),
		{Kind: reference.KindLaw, Confidence: 80},
		{Kind: reference.KindArticle, Confidence: 75},
		{Kind: reference.KindCode, Confidence: 70},
		{Kind: reference.KindLaw, Confidence: 85},
	}

	rep := Audit(refs, PipelineFacts{Converged: true})

	found := false
	for _, p := range rep.Problems {
		if p.Kind == "validacion_baja" {
			found = true
			assert.Equal(t, "alta", p.Severity)
		}
	}
	assert.True(t, found, "20%% validation rate should be flagged")
}

func TestAudit_DetectsNonConvergenceAndFewRefs(t *testing.T) {
	rep := Audit([]*reference.Reference{validatedRef(reference.KindLaw, 100)},
		PipelineFacts{Converged: false, Rounds: 7})

	kinds := make(map[string]bool)
	for _, p := range rep.Problems {
		kinds[p.Kind] = true
	}
	assert.True(t, kinds["sin_convergencia"])
	assert.True(t, kinds["pocas_referencias"])
}

func TestAudit_CountsHallucinations(t *testing.T) {
	demoted := &reference.Reference{Kind: reference.KindArticle}
	demoted.Demote("article missing")

	rep := Audit([]*reference.Reference{demoted}, PipelineFacts{Converged: true})

	assert.Equal(t, 1, rep.Hallucinated)
	assert.Equal(t, 1, rep.LowConfidence)
}

func TestAudit_EmptySet(t *testing.T) {
	rep := Audit(nil, PipelineFacts{Converged: true})
	assert.Equal(t, 0, rep.TotalRefs)
	assert.NotEmpty(t, rep.Suggestions)
}
