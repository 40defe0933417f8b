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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	jsonOutput bool

	indexLaws     []string
	indexForce    bool
	indexNoIngest bool

	consultSession string
	consultPersist bool

	serveAddr string

	rootCmd = &cobra.Command{
		Use:   "lexgraph",
		Short: "Build statute knowledge graphs and run legal consultations over them",
		Long: `lexgraph indexes Korean statutes (Act, Enforcement Decree, Enforcement Rule)
into a category graph and runs consultations that narrow a user's situation
down to the applicable articles and check each legal requirement in turn.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}

	// --- Indexing ---
	indexCmd = &cobra.Command{
		Use:   "index",
		Short: "Rebuild the category index for laws whose sources changed",
		RunE:  runIndex, // Defined in cmd_index.go
	}
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Watch the laws directory and re-index laws as their files change",
		RunE:  runWatch,
	}
	coverageCmd = &cobra.Command{
		Use:   "coverage",
		Short: "Audit that every Act article is mapped to exactly one category",
		RunE:  runCoverage,
	}

	// --- Consultation ---
	consultCmd = &cobra.Command{
		Use:   "consult",
		Short: "Start an interactive consultation in the terminal",
		RunE:  runConsult, // Defined in cmd_consult.go
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve consultations over HTTP",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- Setup ---
	initCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		// init must work before any configuration exists.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		RunE:               runInit,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config YAML (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn, error")

	for _, cmd := range []*cobra.Command{indexCmd, coverageCmd} {
		cmd.Flags().StringSliceVarP(&indexLaws, "law", "l", nil, "restrict to these laws (repeatable)")
		cmd.Flags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	}
	indexCmd.Flags().BoolVarP(&indexForce, "force", "f", false, "rebuild even when sources are unchanged")
	indexCmd.Flags().BoolVar(&indexNoIngest, "no-ingest", false, "skip writing articles to the vector store")
	watchCmd.Flags().BoolVar(&indexNoIngest, "no-ingest", false, "skip writing articles to the vector store")

	consultCmd.Flags().StringVarP(&consultSession, "session", "s", "", "resume a stored session by ID")
	consultCmd.Flags().BoolVar(&consultPersist, "persist", false, "store the session so it can be resumed")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")

	rootCmd.AddCommand(indexCmd, watchCmd, coverageCmd, consultCmd, serveCmd, initCmd)
}
