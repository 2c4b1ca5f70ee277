// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command legisctl runs the extraction pipeline over a document from the
// command line, without the API server.
//
// Usage:
//
//	GEMINI_API_KEY=... legisctl process tema7.json
//	GEMINI_API_KEY=... legisctl process tema7.json --inference --max-rounds 3
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "legisctl",
		Short: "Legal-reference extraction pipeline CLI",
		Long: `legisctl runs the multi-agent legal-reference extraction pipeline
over a study document and prints the structured report.`,
	}
	rootCmd.AddCommand(newProcessCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
