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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAssay/cmd/assay/config"
	"github.com/AleutianAI/AleutianAssay/pkg/ux"
	"github.com/AleutianAI/AleutianAssay/pkg/validation"
	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// runCompareCommand re-compares an existing log against the current
// references and tolerances. Useful after editing a tolerance rule or
// blessing new references: no solver run needed.
func runCompareCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	fileCfg := config.Global()
	ecfg := buildEngineConfig(fileCfg)

	svc, err := assay.NewService(ecfg, slogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration rejected: %v\n", err)
		os.Exit(exitConfig)
	}

	caseName := args[0]
	tc, err := svc.LookupCase(caseName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unknown case %s: %v\n", caseName, err)
		os.Exit(exitConfig)
	}

	logPath, err := compareLogPath(ctx, fileCfg, ecfg, caseName, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(exitError)
	}

	verdict, err := svc.CompareLog(ctx, tc, logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "compare: %v\n", err)
		os.Exit(exitError)
	}

	if compareJSON {
		printJSON(verdict)
	} else {
		printVerdict(verdict)
		for _, m := range verdict.Mismatches {
			fmt.Printf("  %s[%d] %s: got %s, want %s\n",
				m.Key, m.Occurrence, m.Kind, m.Generated, m.Reference)
		}
		for _, k := range verdict.MissingKeys {
			fmt.Printf("  missing %s\n", k)
		}
		for _, k := range verdict.ExtraKeys {
			fmt.Printf("  extra %s\n", k)
		}
		if len(verdict.FailedModules) > 0 {
			ux.Warning(fmt.Sprintf("incomplete modules: %v", verdict.FailedModules))
		}
	}

	if !verdict.Passed {
		os.Exit(exitFailures)
	}
}

// compareLogPath resolves which log to compare: an explicit second
// argument, or the case's log inside the chosen run's work tree.
func compareLogPath(ctx context.Context, fileCfg config.AssayConfig, ecfg *assay.Config, caseName string, args []string) (string, error) {
	if len(args) > 1 {
		return args[1], nil
	}

	runID := compareRunID
	if runID == "" {
		store, err := openHistory(fileCfg)
		if err != nil {
			return "", fmt.Errorf("history store: %w (pass an explicit log file)", err)
		}
		defer store.Close()
		latest, err := store.Latest(ctx)
		if err != nil {
			return "", fmt.Errorf("no stored runs: %w (pass an explicit log file)", err)
		}
		runID = latest.RunID
	}

	// The id and case name become path segments under the work root.
	if err := validation.ValidateRunID(runID); err != nil {
		return "", err
	}
	if err := validation.ValidateLabel(caseName); err != nil {
		return "", err
	}

	logPath := filepath.Join(ecfg.WorkRoot, runID, caseName, caseName+ecfg.LogSuffix)
	if _, err := os.Stat(logPath); err != nil {
		return "", fmt.Errorf("no log for %s in run %s at %s", caseName, runID, logPath)
	}
	return logPath, nil
}
