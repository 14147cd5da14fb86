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
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAssay/cmd/assay/config"
	"github.com/AleutianAI/AleutianAssay/pkg/ux"
	"github.com/AleutianAI/AleutianAssay/pkg/validation"
	"github.com/AleutianAI/AleutianAssay/services/assay"
	"github.com/AleutianAI/AleutianAssay/services/assay/archive"
)

// runArchiveCommand uploads one run's artifacts to GCS for retention
// beyond the local history window.
func runArchiveCommand(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fileCfg := config.Global()
	if fileCfg.Archive.Bucket == "" {
		fmt.Fprintln(os.Stderr, "archive.bucket is not configured")
		os.Exit(exitConfig)
	}

	runID := args[0]
	// The id becomes a path segment under the work root.
	if err := validation.ValidateRunID(runID); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(exitConfig)
	}
	store, err := openHistory(fileCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history store: %v\n", err)
		os.Exit(exitError)
	}
	result, err := store.Get(ctx, runID)
	store.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load run %s: %v\n", runID, err)
		os.Exit(exitError)
	}

	ecfg := fileCfg.Engine()
	workDir := filepath.Join(ecfg.WorkRoot, runID)
	if _, err := os.Stat(workDir); err != nil {
		fmt.Fprintf(os.Stderr, "work tree for run %s is gone (%s); nothing to archive\n", runID, workDir)
		os.Exit(exitError)
	}

	archiver, err := archive.NewArchiver(ctx, archive.Config{
		ProjectID:       fileCfg.Archive.ProjectID,
		Bucket:          fileCfg.Archive.Bucket,
		CredentialsFile: fileCfg.Archive.CredentialsFile,
		Prefix:          fileCfg.Archive.Prefix,
	}, slogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "archive: %v\n", err)
		os.Exit(exitError)
	}
	defer archiver.Close()

	spin := ux.NewSpinner(fmt.Sprintf("uploading run %s", runID))
	spin.Start()
	dest, err := archiver.ArchiveRun(ctx, runID, workDir, runReportFiles(fileCfg, result)...)
	if err != nil {
		spin.StopWithError(fmt.Sprintf("archive %s: %v", runID, err))
		os.Exit(exitError)
	}
	spin.Stop()
	ux.Success("archived to " + dest)
}

// runReportFiles lists the run's rendered reports that still exist on
// disk. Report names derive from the finish timestamp, so a stored
// run is enough to reconstruct them.
func runReportFiles(fileCfg config.AssayConfig, result *assay.RunResult) []string {
	r := fileCfg.Reporting
	tsFormat := r.TimestampFormat
	if tsFormat == "" {
		tsFormat = "2006-01-02_15-04-05"
	}
	ts := result.FinishedAt.Format(tsFormat)

	var out []string
	for _, format := range []string{"json", "html"} {
		path := filepath.Join(r.OutputDir, "report_"+ts+"."+format)
		if _, err := os.Stat(path); err == nil {
			out = append(out, path)
		}
	}
	return out
}
