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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAssay/cmd/assay/config"
	"github.com/AleutianAI/AleutianAssay/pkg/ux"
	"github.com/AleutianAI/AleutianAssay/services/assay"
	"github.com/AleutianAI/AleutianAssay/services/assay/explain"
	"github.com/AleutianAI/AleutianAssay/services/assay/report"
	"github.com/AleutianAI/AleutianAssay/services/assay/sink"
	"github.com/AleutianAI/AleutianAssay/services/assay/telemetry"
	"github.com/AleutianAI/AleutianAssay/services/assay/tui"
)

// verdictBuffer sizes the TUI feed channel. Suites are bounded by the
// three-digit ordinal convention, so this never blocks the scheduler.
const verdictBuffer = 1024

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runRunCommand executes the full pipeline and exits with the CI code.
func runRunCommand(cmd *cobra.Command, args []string) {
	os.Exit(executeRun())
}

// executeRun is the run command body, separated so the exit code is a
// return value.
//
// Description:
//
//	Builds the engine from file config plus flag overrides, runs the
//	suite under an interruptible context (TUI on a terminal, plain
//	verdict lines otherwise), then persists, reports, and exports the
//	result.
//
// Outputs:
//
//	int - exitOK, exitError, exitConfig, exitGate, or exitFailures.
func executeRun() int {
	fileCfg := config.Global()
	logger := slogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if fileCfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetryConfig(fileCfg))
		if err != nil {
			logger.Warn("telemetry disabled", "error", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	ecfg := buildEngineConfig(fileCfg)

	useTUI := tui.Enabled() && !runNoTUI && !runJSON
	var verdicts chan assay.ComparisonVerdict
	var opts []assay.ServiceOption
	if useTUI {
		verdicts = make(chan assay.ComparisonVerdict, verdictBuffer)
		opts = append(opts, assay.WithNotify(func(v assay.ComparisonVerdict) {
			verdicts <- v
		}))
	} else {
		opts = append(opts, assay.WithNotify(printVerdict))
	}

	svc, err := assay.NewService(ecfg, logger, opts...)
	if err != nil {
		ux.Error(fmt.Sprintf("configuration rejected: %v", err))
		return exitConfig
	}

	var result *assay.RunResult
	var runErr error
	if useTUI {
		result, runErr = tui.Run(ctx, svc, verdicts)
	} else {
		result, runErr = svc.Run(ctx)
	}

	if runErr != nil {
		code := exitCodeForRunError(runErr)
		if code == exitGate {
			ux.Error(fmt.Sprintf("build gate: %v", runErr))
		} else {
			ux.Error(fmt.Sprintf("run failed: %v", runErr))
		}
		if result == nil {
			return code
		}
		// A partial result (interrupt, late failure) still gets
		// persisted and reported below, but the error code wins.
		finishRun(ctx, fileCfg, result)
		return code
	}

	return finishRun(ctx, fileCfg, result)
}

// exitCodeForRunError maps engine errors onto the CI exit codes.
func exitCodeForRunError(err error) int {
	var cfgErr *assay.ConfigError
	switch {
	case errors.Is(err, assay.ErrBuildGate),
		errors.Is(err, assay.ErrManifestUnreadable):
		return exitGate
	case errors.As(err, &cfgErr),
		errors.Is(err, assay.ErrUnknownProfile),
		errors.Is(err, assay.ErrBadRange),
		errors.Is(err, assay.ErrUnknownMode),
		errors.Is(err, assay.ErrUnknownCase),
		errors.Is(err, assay.ErrNoCases):
		return exitConfig
	default:
		return exitError
	}
}

// buildEngineConfig projects the file config and applies CLI overrides.
func buildEngineConfig(fileCfg config.AssayConfig) *assay.Config {
	ecfg := fileCfg.Engine()
	if runTest != "" {
		ecfg.Single = runTest
	}
	if runProfile != "" {
		ecfg.Profile = runProfile
	}
	if runMode != "" {
		ecfg.Mode = runMode
	}
	if runMaxParallel > 0 {
		ecfg.MaxParallel = runMaxParallel
	}
	if runTimeout > 0 {
		ecfg.Timeout = time.Duration(runTimeout) * time.Second
	}
	return ecfg
}

// telemetryConfig builds the telemetry init config from the file tree.
func telemetryConfig(fileCfg config.AssayConfig) telemetry.Config {
	tcfg := telemetry.DefaultConfig()
	t := fileCfg.Telemetry
	if t.TraceExporter != "" {
		tcfg.TraceExporter = t.TraceExporter
	}
	if t.MetricExporter != "" {
		tcfg.MetricExporter = t.MetricExporter
	}
	if t.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = t.OTLPEndpoint
	}
	tcfg.OTLPInsecure = t.OTLPInsecure
	if t.PrometheusPort > 0 {
		tcfg.PrometheusPort = t.PrometheusPort
	}
	return tcfg
}

// printVerdict is the notify hook for non-TUI runs: one line per
// finished case, machine-parseable under the machine personality.
func printVerdict(v assay.ComparisonVerdict) {
	icon := ux.IconSuccess
	detail := ux.Duration(v.Outcome.Duration)
	switch v.Status() {
	case "timeout":
		icon = ux.IconWarning
		detail = "killed at time budget"
	case "error":
		icon = ux.IconError
		detail = fmt.Sprintf("exit %d", v.Outcome.ExitCode)
	case "fail":
		icon = ux.IconError
		if n := len(v.Mismatches); n > 0 {
			detail = fmt.Sprintf("%d mismatches, %s", n, detail)
		} else if len(v.MissingKeys) > 0 {
			detail = fmt.Sprintf("missing %s", v.MissingKeys[0])
		}
	}
	ux.CaseStatus(v.Case.Name, icon, detail)
}

// =============================================================================
// POST-RUN PIPELINE
// =============================================================================

// finishRun persists, explains, reports, and exports a finished run.
// Every step is best-effort except report generation; the returned
// exit code reflects the verdicts.
func finishRun(ctx context.Context, fileCfg config.AssayConfig, result *assay.RunResult) int {
	logger := slogger()

	storeRun(ctx, fileCfg, result)

	var explanations map[string]string
	if fileCfg.Explain.Enabled && !result.Success() {
		explanations = explainRun(ctx, fileCfg, result)
	}

	gen := report.NewGenerator(reportConfig(fileCfg), logger)
	artifacts, err := gen.Generate(ctx, result, explanations)
	if err != nil {
		logger.Error("report generation failed", "run_id", result.RunID, "error", err)
	}

	exportRun(ctx, fileCfg, result)

	if runJSON {
		payload := report.BuildPayload(result, fileCfg.Reporting.TimestampFormat, explanations)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(payload); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return exitError
		}
	} else {
		ux.RunSummary(result.Passed, result.Failed, result.Errored+result.TimedOut, len(result.Verdicts))
		if path, ok := artifacts["html"]; ok {
			ux.Muted("report: " + path)
		}
	}

	if result.Success() {
		return exitOK
	}
	return exitFailures
}

// storeRun writes the result into the history store. History being
// down never fails a run.
func storeRun(ctx context.Context, fileCfg config.AssayConfig, result *assay.RunResult) {
	logger := slogger()
	store, err := openHistory(fileCfg)
	if err != nil {
		logger.Warn("history store unavailable", "error", err)
		return
	}
	defer store.Close()

	if err := store.Put(ctx, result); err != nil {
		logger.Warn("history write failed", "run_id", result.RunID, "error", err)
	}
}

// explainRun asks the configured provider about each failing case.
func explainRun(ctx context.Context, fileCfg config.AssayConfig, result *assay.RunResult) map[string]string {
	logger := slogger()
	exp, err := explain.NewExplainer(explainConfig(fileCfg), logger)
	if err != nil {
		logger.Warn("explain disabled", "error", err)
		return nil
	}
	return exp.ExplainRun(ctx, result)
}

// exportRun pushes run metrics into InfluxDB when configured.
func exportRun(ctx context.Context, fileCfg config.AssayConfig, result *assay.RunResult) {
	in := fileCfg.Metrics.Influx
	if !in.Enabled {
		return
	}
	logger := slogger()
	s, err := sink.NewInfluxSink(sink.Config{
		URL:    in.URL,
		Token:  os.Getenv(in.TokenEnv),
		Org:    in.Org,
		Bucket: in.Bucket,
	}, logger)
	if err != nil {
		logger.Warn("influx sink disabled", "error", err)
		return
	}
	defer s.Close()
	s.Record(ctx, result)
}

// reportConfig builds the generator config from the file tree.
func reportConfig(fileCfg config.AssayConfig) report.Config {
	r := fileCfg.Reporting
	cfg := report.DefaultConfig()
	if r.OutputDir != "" {
		cfg.OutputDir = r.OutputDir
	}
	if len(r.Formats) > 0 {
		cfg.Formats = r.Formats
	}
	if r.TimestampFormat != "" {
		cfg.TimestampFormat = r.TimestampFormat
	}
	return cfg
}

// explainConfig builds the explainer config from the file tree.
func explainConfig(fileCfg config.AssayConfig) explain.Config {
	e := fileCfg.Explain
	cfg := explain.DefaultConfig()
	if e.Provider != "" {
		cfg.Provider = e.Provider
	}
	if e.Model != "" {
		cfg.Model = e.Model
	}
	if e.Endpoint != "" {
		cfg.Endpoint = e.Endpoint
	}
	if e.APIKeyEnv != "" {
		cfg.APIKeyEnv = e.APIKeyEnv
	}
	if e.MaxTokens > 0 {
		cfg.MaxTokens = e.MaxTokens
	}
	if e.Temperature > 0 {
		cfg.Temperature = float32(e.Temperature)
	}
	if e.RatePerMinute > 0 {
		cfg.RatePerMinute = e.RatePerMinute
	}
	if e.ChunkSize > 0 {
		cfg.ChunkSize = e.ChunkSize
	}
	if e.ChunkOverlap > 0 {
		cfg.ChunkOverlap = e.ChunkOverlap
	}
	return cfg
}
