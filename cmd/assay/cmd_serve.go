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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAssay/cmd/assay/config"
	"github.com/AleutianAI/AleutianAssay/services/assay/server"
	"github.com/AleutianAI/AleutianAssay/services/assay/telemetry"
)

// runServeCommand serves the dashboard/API until interrupted.
func runServeCommand(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fileCfg := config.Global()
	logger := slogger()

	if fileCfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetryConfig(fileCfg))
		if err != nil {
			logger.Warn("telemetry disabled", "error", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	store, err := openHistory(fileCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history store: %v\n", err)
		os.Exit(exitError)
	}
	defer store.Close()

	scfg := server.DefaultConfig()
	if fileCfg.Server.Addr != "" {
		scfg.Addr = fileCfg.Server.Addr
	}
	if serveAddr != "" {
		scfg.Addr = serveAddr
	}
	scfg.CORSOrigins = fileCfg.Server.CORSOrigins

	srv, err := server.NewServer(scfg, store, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(exitError)
	}

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "server stopped: %v\n", err)
		os.Exit(exitError)
	}
}
