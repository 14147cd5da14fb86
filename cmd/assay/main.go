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
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianAssay/cmd/assay/config"
	"github.com/AleutianAI/AleutianAssay/pkg/logging"
)

// =============================================================================
// EXIT CODES
// =============================================================================

// Exit codes are part of the CI contract: pipelines branch on them.
const (
	exitOK       = 0
	exitError    = 1 // infrastructure failure (store, report, provider)
	exitConfig   = 2 // configuration or selection error
	exitGate     = 3 // build gate refused the run
	exitFailures = 4 // run finished, one or more cases failed
)

// =============================================================================
// LOGGING
// =============================================================================

var appLogger *logging.Logger

// initLogging builds the process logger from the logging section.
// Called from PersistentPreRun after the config is loaded.
func initLogging(cfg config.AssayConfig) {
	appLogger = logging.New(logging.Config{
		Level:   parseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "assay",
		JSON:    cfg.Logging.JSON,
		Quiet:   cfg.Logging.Quiet,
	})
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// slogger returns the process slog.Logger, safe to call before
// initLogging in tests.
func slogger() *slog.Logger {
	if appLogger == nil {
		return slog.Default()
	}
	return appLogger.Slog()
}

func main() {
	defer func() {
		if appLogger != nil {
			appLogger.Close()
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitError)
	}
}
