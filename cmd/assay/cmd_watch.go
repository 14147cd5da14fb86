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
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAssay/cmd/assay/config"
	"github.com/AleutianAI/AleutianAssay/pkg/ux"
	"github.com/AleutianAI/AleutianAssay/services/assay"
	"github.com/AleutianAI/AleutianAssay/services/assay/watch"
)

// runWatchCommand reruns cases whenever their input decks change.
// Ctrl-C exits cleanly.
func runWatchCommand(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fileCfg := config.Global()
	ecfg := buildEngineConfig(fileCfg)

	svc, err := assay.NewService(ecfg, slogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration rejected: %v\n", err)
		os.Exit(exitConfig)
	}

	opts := watch.DefaultOptions()
	if watchDebounceMS > 0 {
		opts.Debounce = time.Duration(watchDebounceMS) * time.Millisecond
	}

	w, err := watch.NewWatcher(svc, printVerdict, slogger(), &opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		os.Exit(exitError)
	}

	ux.Info(fmt.Sprintf("watching %s for %s; edit a deck to rerun its case, Ctrl-C to stop",
		ecfg.InputDir, ecfg.InputPattern))
	if err := w.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "watch stopped: %v\n", err)
		os.Exit(exitError)
	}
}
