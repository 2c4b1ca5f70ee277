// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/legis/services/legis"
	"github.com/AleutianAI/legis/services/legis/config"
	"github.com/AleutianAI/legis/services/legis/document"
	"github.com/AleutianAI/legis/services/legis/pipeline"
)

// Flag values for the process command.
var (
	processConfig    string
	processRounds    int
	processWorkers   int
	processThreshold int
	processInference bool
	processNoContext bool
	processTextLimit int
	processQuiet     bool
)

func newProcessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <document.json>",
		Short: "Run the extraction pipeline over a document",
		Args:  cobra.ExactArgs(1),
		RunE:  runProcess,
	}
	cmd.Flags().StringVar(&processConfig, "config", "legis.yaml", "YAML configuration path")
	cmd.Flags().IntVar(&processRounds, "max-rounds", 0, "Override max convergence rounds (1-10)")
	cmd.Flags().IntVar(&processWorkers, "max-workers", 0, "Override worker pool size (1-8)")
	cmd.Flags().IntVar(&processThreshold, "threshold", 0, "Override final confidence threshold (50-95)")
	cmd.Flags().BoolVar(&processInference, "inference", false, "Enable the BETA inference agent")
	cmd.Flags().BoolVar(&processNoContext, "no-context", false, "Disable the context resolver")
	cmd.Flags().IntVar(&processTextLimit, "text-limit", 0, "Truncate the source document to N characters")
	cmd.Flags().BoolVar(&processQuiet, "quiet", false, "Suppress progress output")
	return cmd
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(processConfig)
	if err != nil {
		return err
	}
	p := cfg.Pipeline
	if processRounds > 0 {
		p.MaxRounds = processRounds
	}
	if processWorkers > 0 {
		p.MaxWorkers = processWorkers
	}
	if processThreshold > 0 {
		p.ConfidenceThreshold = processThreshold
	}
	if processInference {
		p.UseInferenceAgent = true
	}
	if processNoContext {
		p.UseContextAgent = false
	}
	if processTextLimit > 0 {
		p.TextLimit = processTextLimit
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}
	doc, err := document.Parse(raw)
	if err != nil {
		return err
	}

	components, err := legis.Open(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer components.Close()

	var progress pipeline.ProgressFunc
	if !processQuiet {
		progress = func(pr pipeline.Progress) {
			fmt.Fprintf(os.Stderr, "[%5.1f%%] %s — %s\n", pr.Percent, pr.Phase, pr.TechMessage)
		}
	}

	report, err := components.NewPipeline(p, progress).Run(cmd.Context(), doc)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
