// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit analyzes a finished run: the comparator measures
// inter-agent agreement, the auditor condenses quality into a 0–10 score
// with detected problems and suggestions. Both are read-only over the
// reference set.
package audit

import "sort"

// Comparison is the inter-agent agreement analysis.
type Comparison struct {
	TotalAgents    int            `json:"total_agents"`
	FullConsensus  int            `json:"full_consensus"`
	PartConsensus  int            `json:"partial_consensus"`
	UniquePerAgent map[string]int `json:"unique_per_agent"`
	RefsPerAgent   map[string]int `json:"refs_per_agent"`
	// AgreementPct is the share of distinct references found by at least
	// two agents.
	AgreementPct float64 `json:"agreement_pct"`
	// ConsensusCoverage is, per agent, the share of full-consensus
	// references that agent found.
	ConsensusCoverage map[string]float64 `json:"consensus_coverage,omitempty"`
	TotalUniqueRefs   int                `json:"total_unique_refs"`
}

// Compare analyzes the semantic keys each agent produced across the
// convergence rounds.
func Compare(perAgentKeys map[string][]string) *Comparison {
	cmp := &Comparison{
		TotalAgents:    len(perAgentKeys),
		UniquePerAgent: make(map[string]int),
		RefsPerAgent:   make(map[string]int),
	}
	if len(perAgentKeys) == 0 {
		return cmp
	}

	sets := make(map[string]map[string]bool, len(perAgentKeys))
	counter := make(map[string]int)
	for agent, keys := range perAgentKeys {
		set := make(map[string]bool, len(keys))
		for _, k := range keys {
			if !set[k] {
				set[k] = true
				counter[k]++
			}
		}
		sets[agent] = set
		cmp.RefsPerAgent[agent] = len(set)
	}
	cmp.TotalUniqueRefs = len(counter)

	var fullKeys []string
	for key, count := range counter {
		switch {
		case count == cmp.TotalAgents && cmp.TotalAgents > 1:
			cmp.FullConsensus++
			fullKeys = append(fullKeys, key)
		case count >= 2:
			cmp.PartConsensus++
		}
	}
	sort.Strings(fullKeys)

	if cmp.TotalUniqueRefs > 0 {
		cmp.AgreementPct = float64(cmp.FullConsensus+cmp.PartConsensus) /
			float64(cmp.TotalUniqueRefs) * 100
	}

	for agent, set := range sets {
		unique := 0
		for key := range set {
			if counter[key] == 1 {
				unique++
			}
		}
		cmp.UniquePerAgent[agent] = unique
	}

	if len(fullKeys) > 0 {
		cmp.ConsensusCoverage = make(map[string]float64, len(sets))
		for agent, set := range sets {
			found := 0
			for _, key := range fullKeys {
				if set[key] {
					found++
				}
			}
			cmp.ConsensusCoverage[agent] = float64(found) / float64(len(fullKeys)) * 100
		}
	}
	return cmp
}
