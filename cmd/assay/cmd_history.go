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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAssay/cmd/assay/config"
	"github.com/AleutianAI/AleutianAssay/pkg/ux"
	"github.com/AleutianAI/AleutianAssay/services/assay"
	"github.com/AleutianAI/AleutianAssay/services/assay/history"
	"github.com/AleutianAI/AleutianAssay/services/assay/report"
)

// =============================================================================
// STORE ACCESS
// =============================================================================

// openHistory opens the configured history store. Shared by every
// command that reads or writes stored runs.
func openHistory(fileCfg config.AssayConfig) (*history.Store, error) {
	h := fileCfg.History
	if h.InMemory {
		return history.Open(history.InMemoryConfig())
	}
	cfg := history.DefaultConfig(expandHome(h.Dir))
	if h.Retain > 0 {
		cfg.Retain = h.Retain
	}
	cfg.Logger = slogger()
	return history.Open(cfg)
}

// expandHome resolves a leading ~ in config paths.
func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

// resolveRun loads a run by id, or the latest when id is empty.
func resolveRun(ctx context.Context, store *history.Store, id string) (*assay.RunResult, error) {
	if id == "" {
		return store.Latest(ctx)
	}
	return store.Get(ctx, id)
}

// =============================================================================
// HISTORY LIST
// =============================================================================

func runHistoryList(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := openHistory(config.Global())
	if err != nil {
		fmt.Fprintf(os.Stderr, "history store: %v\n", err)
		os.Exit(exitError)
	}
	defer store.Close()

	summaries, err := store.List(ctx, historyLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list runs: %v\n", err)
		os.Exit(exitError)
	}

	if historyJSON {
		printJSON(summaries)
		return
	}
	if len(summaries) == 0 {
		ux.Muted("no stored runs")
		return
	}
	fmt.Printf("%-10s %-20s %-7s %-6s %6s %6s %6s %6s\n",
		"RUN", "STARTED", "MODE", "STATE", "TOTAL", "PASS", "FAIL", "OTHER")
	for _, s := range summaries {
		fmt.Printf("%-10s %-20s %-7s %-6s %6d %6d %6d %6d\n",
			s.RunID,
			s.StartedAt.Format("2006-01-02 15:04:05"),
			s.Mode,
			s.State,
			s.Total, s.Passed, s.Failed, s.TimedOut+s.Errored,
		)
	}
}

// =============================================================================
// HISTORY SHOW
// =============================================================================

func runHistoryShow(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := openHistory(config.Global())
	if err != nil {
		fmt.Fprintf(os.Stderr, "history store: %v\n", err)
		os.Exit(exitError)
	}
	defer store.Close()

	result, err := store.Get(ctx, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "load run %s: %v\n", args[0], err)
		os.Exit(exitError)
	}

	if historyJSON {
		printJSON(report.BuildPayload(result, config.Global().Reporting.TimestampFormat, nil))
		return
	}

	ux.Title(fmt.Sprintf("run %s", result.RunID))
	fmt.Printf("started:  %s\n", result.StartedAt.Format(time.RFC3339))
	fmt.Printf("duration: %s\n", ux.Duration(result.Duration()))
	fmt.Printf("mode:     %s\n", result.Mode)
	if result.PackageVersion != "" {
		fmt.Printf("version:  %s\n", result.PackageVersion)
	}
	fmt.Println()
	for _, v := range result.Verdicts {
		printVerdict(v)
	}
	ux.RunSummary(result.Passed, result.Failed, result.Errored+result.TimedOut, len(result.Verdicts))
}

// =============================================================================
// HISTORY TREND
// =============================================================================

func runHistoryTrend(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := openHistory(config.Global())
	if err != nil {
		fmt.Fprintf(os.Stderr, "history store: %v\n", err)
		os.Exit(exitError)
	}
	defer store.Close()

	before, after, err := trendRuns(ctx, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trend: %v\n", err)
		os.Exit(exitError)
	}

	trend := report.Compare(before, after)
	if historyJSON {
		printJSON(trend)
	} else {
		printTrend(trend)
	}

	// A regression between the two runs is an actionable signal for CI.
	if trend.Regressed() {
		os.Exit(exitFailures)
	}
}

// trendRuns resolves the two runs to diff: explicit ids when given,
// otherwise the two most recent.
func trendRuns(ctx context.Context, store *history.Store) (before, after *assay.RunResult, err error) {
	if trendBefore == "" && trendAfter == "" {
		return store.LastTwo(ctx)
	}
	if trendBefore == "" || trendAfter == "" {
		return nil, nil, fmt.Errorf("trend needs both --before and --after, or neither")
	}
	if before, err = store.Get(ctx, trendBefore); err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", trendBefore, err)
	}
	if after, err = store.Get(ctx, trendAfter); err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", trendAfter, err)
	}
	return before, after, nil
}

// printTrend renders the trend report, quiet about cases that kept
// passing.
func printTrend(t *report.TrendReport) {
	ux.Title(fmt.Sprintf("trend %s → %s", t.BeforeRunID, t.AfterRunID))
	for _, c := range t.Cases {
		switch c.Change {
		case report.ChangeNewFailure:
			ux.CaseStatus(c.Name, ux.IconError, "new failure")
		case report.ChangeFixed:
			ux.CaseStatus(c.Name, ux.IconSuccess, "fixed")
		case report.ChangeStillFailing:
			ux.CaseStatus(c.Name, ux.IconWarning, "still failing")
		case report.ChangeNewTest:
			ux.CaseStatus(c.Name, ux.IconPending, "new test")
		case report.ChangeRemoved:
			ux.CaseStatus(c.Name, ux.IconPending, "removed")
		}
	}
	s := t.Summary
	fmt.Printf("\n%d new failures, %d fixed, %d still failing, %d still passing",
		s.NewFailures, s.Fixed, s.StillFailing, s.StillPassing)
	if s.NewTests > 0 || s.Removed > 0 {
		fmt.Printf(", %d new, %d removed", s.NewTests, s.Removed)
	}
	fmt.Println()
}

// printJSON writes v indented to stdout, exiting on encode failure.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		os.Exit(exitError)
	}
}
