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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAssay/cmd/assay/config"
	"github.com/AleutianAI/AleutianAssay/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPath       string
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	runTest        string
	runProfile     string
	runMode        string
	runMaxParallel int
	runTimeout     int
	runNoTUI       bool
	runJSON        bool

	listJSON bool

	compareRunID string
	compareJSON  bool

	acceptRunID string
	acceptForce bool

	historyLimit int
	historyJSON  bool
	trendBefore  string
	trendAfter   string

	explainRunID string

	serveAddr string

	watchDebounceMS int

	rootCmd = &cobra.Command{
		Use:   "assay",
		Short: "A regression harness for numerical scientific packages",
		Long: `Assay runs labeled calculations against a scientific package,
				extracts CHECKDATA markers from their logs, and compares the
				values against stored references under per-key tolerances.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := config.Init(configPath); err != nil {
				fmt.Fprintf(os.Stderr, "config error: %v\n", err)
				os.Exit(exitConfig)
			}
			initLogging(config.Global())

			// Personality: flag wins, then config, then environment/TTY.
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else if p := config.Global().UX.Personality; p != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(p))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Run ---
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the regression suite and compare against references",
		Run:   runRunCommand, // Defined in cmd_run.go
	}

	// --- Discovery ---
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List discovered cases and which the current selection keeps",
		Run:   runListCommand, // Defined in cmd_list.go
	}

	// --- Compare ---
	compareCmd = &cobra.Command{
		Use:   "compare [case] [logfile]",
		Short: "Re-extract and re-compare an existing log without executing",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runCompareCommand, // Defined in cmd_compare.go
	}

	// --- Accept ---
	acceptCmd = &cobra.Command{
		Use:   "accept [case...]",
		Short: "Promote extracted check files from a run into the reference directory",
		Run:   runAcceptCommand, // Defined in cmd_accept.go
	}

	// --- History ---
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Inspect stored runs",
	}
	historyListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Run:   runHistoryList, // Defined in cmd_history.go
	}
	historyShowCmd = &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show one stored run in detail",
		Args:  cobra.ExactArgs(1),
		Run:   runHistoryShow, // Defined in cmd_history.go
	}
	historyTrendCmd = &cobra.Command{
		Use:   "trend",
		Short: "Classify per-case movement between two runs",
		Run:   runHistoryTrend, // Defined in cmd_history.go
	}

	// --- Explain ---
	explainCmd = &cobra.Command{
		Use:   "explain [case...]",
		Short: "Ask the configured LLM provider to analyze run failures",
		Run:   runExplainCommand, // Defined in cmd_explain.go
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs, reports, and a live event feed over HTTP",
		Run:   runServeCommand, // Defined in cmd_serve.go
	}

	// --- Archive ---
	archiveCmd = &cobra.Command{
		Use:   "archive [run-id]",
		Short: "Upload a run's work tree and reports to Google Cloud Storage",
		Args:  cobra.ExactArgs(1),
		Run:   runArchiveCommand, // Defined in cmd_archive.go
	}

	// --- Watch ---
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Rerun cases automatically when their input decks change",
		Run:   runWatchCommand, // Defined in cmd_watch.go
	}

	// --- Version ---
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run:   runVersionCommand, // Defined in cmd_version.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to assay.yaml (default ~/.aleutian/assay.yaml, created on first run)")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default, rich nautical), standard, minimal, or machine (scripting)")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runTest, "test", "t", "", "Run exactly one case, bypassing ranges and profiles")
	runCmd.Flags().StringVarP(&runProfile, "profile", "p", "", "Selection profile from tests.profiles (e.g. short, full)")
	runCmd.Flags().StringVarP(&runMode, "mode", "m", "", "Tolerance mode: strict or loose")
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "Override worker pool size")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "Override per-case timeout in seconds")
	runCmd.Flags().BoolVar(&runNoTUI, "no-tui", false, "Disable the progress view even on a terminal")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the report payload as JSON on stdout")

	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&runProfile, "profile", "p", "", "Selection profile to preview")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON for scripting")

	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().StringVar(&compareRunID, "run", "", "Take the log from this stored run (default: latest)")
	compareCmd.Flags().BoolVar(&compareJSON, "json", false, "Output the verdict as JSON")

	rootCmd.AddCommand(acceptCmd)
	acceptCmd.Flags().StringVar(&acceptRunID, "run", "", "Source run for check files (default: latest)")
	acceptCmd.Flags().BoolVar(&acceptForce, "force", false, "Overwrite references without the interactive picker")

	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum runs to list")
	historyListCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON for scripting")
	historyCmd.AddCommand(historyShowCmd)
	historyShowCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON for scripting")
	historyCmd.AddCommand(historyTrendCmd)
	historyTrendCmd.Flags().StringVar(&trendBefore, "before", "", "Older run id (default: second newest)")
	historyTrendCmd.Flags().StringVar(&trendAfter, "after", "", "Newer run id (default: newest)")
	historyTrendCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON for scripting")

	rootCmd.AddCommand(explainCmd)
	explainCmd.Flags().StringVar(&explainRunID, "run", "", "Run to analyze (default: latest)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, e.g. :8089)")

	rootCmd.AddCommand(archiveCmd)

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().IntVar(&watchDebounceMS, "debounce", 500, "Debounce window in milliseconds")

	rootCmd.AddCommand(versionCmd)
}
