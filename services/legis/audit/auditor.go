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
	"fmt"

	"github.com/AleutianAI/legis/services/legis/reference"
)

// Thresholds used by the quality analysis.
const (
	highConfidence       = 90
	mediumConfidence     = 70
	goodValidationRate   = 0.70
	okValidationRate     = 0.50
	lowConfidenceShare   = 0.30
	fewReferencesFloor   = 5
)

// Problem is one detected quality issue.
type Problem struct {
	Severity    string `json:"severity"` // alta, media, baja
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Action      string `json:"action"`
}

// Grade is the condensed 0–10 quality score with its factors.
type Grade struct {
	Score   float64 `json:"score"`
	Level   string  `json:"level"`
	Factors struct {
		Confidence float64 `json:"confidence"`
		Validation float64 `json:"validation"`
		Coverage   float64 `json:"coverage"`
	} `json:"factors"`
}

// Report is the full audit output.
type Report struct {
	TotalRefs        int      `json:"total_refs"`
	MeanConfidence   float64  `json:"mean_confidence"`
	HighConfidence   int      `json:"high_confidence"`
	MediumConfidence int      `json:"medium_confidence"`
	LowConfidence    int      `json:"low_confidence"`
	Validated        int      `json:"validated"`
	ValidationRate   float64  `json:"validation_rate"`
	Hallucinated     int      `json:"hallucinated"`
	KindCount        int      `json:"kind_count"`
	Grade            Grade    `json:"grade"`
	Problems         []Problem `json:"problems,omitempty"`
	Suggestions      []string  `json:"suggestions,omitempty"`
}

// PipelineFacts are the run-level signals the auditor folds in.
type PipelineFacts struct {
	Converged bool
	Rounds    int
}

// Audit analyzes the final reference set and produces the quality report.
// Weights: 40% confidence, 40% validation rate, 20% kind coverage.
func Audit(refs []*reference.Reference, facts PipelineFacts) *Report {
	rep := &Report{TotalRefs: len(refs)}

	kinds := make(map[reference.Kind]bool)
	confSum := 0
	for _, ref := range refs {
		confSum += ref.Confidence
		switch {
		case ref.Confidence >= highConfidence:
			rep.HighConfidence++
		case ref.Confidence >= mediumConfidence:
			rep.MediumConfidence++
		default:
			rep.LowConfidence++
		}
		if ref.Flags.Validated {
			rep.Validated++
		}
		if ref.Flags.Hallucinated {
			rep.Hallucinated++
		}
		kinds[ref.Kind] = true
	}
	rep.KindCount = len(kinds)
	if len(refs) > 0 {
		rep.MeanConfidence = float64(confSum) / float64(len(refs))
		rep.ValidationRate = float64(rep.Validated) / float64(len(refs))
	}

	rep.Problems = detectProblems(rep, facts)
	rep.Suggestions = suggestions(rep)
	rep.Grade = grade(rep)
	return rep
}

func detectProblems(rep *Report, facts PipelineFacts) []Problem {
	var problems []Problem

	if rep.TotalRefs > 0 && rep.ValidationRate < okValidationRate {
		problems = append(problems, Problem{
			Severity:    "alta",
			Kind:        "validacion_baja",
			Description: fmt.Sprintf("tasa de validación %.1f%% (esperado >50%%)", rep.ValidationRate*100),
			Action:      "revisar manualmente las referencias no validadas o ampliar el mapeo de leyes",
		})
	}

	if rep.TotalRefs > 0 && float64(rep.LowConfidence) > float64(rep.TotalRefs)*lowConfidenceShare {
		problems = append(problems, Problem{
			Severity:    "media",
			Kind:        "confianza_baja",
			Description: fmt.Sprintf("%d referencias con confianza < %d", rep.LowConfidence, mediumConfidence),
			Action:      "revisar manualmente las referencias de baja confianza",
		})
	}

	if !facts.Converged {
		problems = append(problems, Problem{
			Severity:    "media",
			Kind:        "sin_convergencia",
			Description: fmt.Sprintf("no se alcanzó convergencia en %d rondas", facts.Rounds),
			Action:      "aumentar el máximo de rondas o revisar el texto",
		})
	}

	if rep.TotalRefs < fewReferencesFloor {
		problems = append(problems, Problem{
			Severity:    "alta",
			Kind:        "pocas_referencias",
			Description: fmt.Sprintf("solo %d referencias encontradas", rep.TotalRefs),
			Action:      "el tema puede tener pocas referencias legales o los agentes necesitan ajuste",
		})
	}

	if rep.Hallucinated > 0 {
		problems = append(problems, Problem{
			Severity:    "baja",
			Kind:        "alucinaciones",
			Description: fmt.Sprintf("%d artículos citados no existen en la norma oficial", rep.Hallucinated),
			Action:      "las referencias demotadas quedan excluidas del conjunto exportable",
		})
	}

	return problems
}

func suggestions(rep *Report) []string {
	var out []string
	if rep.TotalRefs == 0 {
		return []string{"no se encontraron referencias; revisar el documento de entrada"}
	}
	if rep.MeanConfidence < mediumConfidence {
		out = append(out, "confianza promedio baja: revisar manualmente el conjunto")
	}
	if rep.ValidationRate < goodValidationRate {
		out = append(out, "ampliar el mapeo de leyes frecuentes para mejorar la validación")
	}
	if rep.LowConfidence > 0 {
		out = append(out, fmt.Sprintf("%d referencias requieren revisión manual", rep.LowConfidence))
	}
	if len(out) == 0 {
		out = append(out, "la extracción parece correcta; revisión manual opcional")
	}
	return out
}

func grade(rep *Report) Grade {
	var g Grade
	g.Factors.Confidence = rep.MeanConfidence / 10
	g.Factors.Validation = rep.ValidationRate * 10
	coverage := rep.KindCount
	if coverage > 5 {
		coverage = 5
	}
	g.Factors.Coverage = float64(coverage) * 2

	g.Score = g.Factors.Confidence*0.4 + g.Factors.Validation*0.4 + g.Factors.Coverage*0.2
	g.Score = float64(int(g.Score*10+0.5)) / 10

	switch {
	case g.Score >= 8:
		g.Level = "excelente"
	case g.Score >= 6:
		g.Level = "bueno"
	case g.Score >= 4:
		g.Level = "aceptable"
	default:
		g.Level = "requiere revisión"
	}
	return g
}
