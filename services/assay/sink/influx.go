// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sink exports finished runs to InfluxDB so pass rates and
// case durations can be graphed over months of nightly runs.
//
// The export is strictly best-effort: a metrics outage must never
// fail a regression run, so every error here is logged and swallowed.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the InfluxDB connection settings.
type Config struct {
	// URL is the InfluxDB base URL.
	URL string `yaml:"url" json:"url"`

	// Token is the API token. Required when the sink is enabled.
	Token string `yaml:"token" json:"token"`

	// Org is the InfluxDB organization.
	Org string `yaml:"org" json:"org"`

	// Bucket receives the points.
	Bucket string `yaml:"bucket" json:"bucket"`
}

// DefaultConfig returns local-instance defaults. Token stays empty on
// purpose; an unset token keeps the sink disabled.
func DefaultConfig() Config {
	return Config{
		URL:    "http://localhost:8086",
		Org:    "aleutian",
		Bucket: "assay",
	}
}

// =============================================================================
// INFLUX SINK
// =============================================================================

// InfluxSink writes one point per case and one summary point per run.
//
// Thread Safety: Safe for concurrent use; the blocking write API
// serializes internally.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   *slog.Logger
}

// NewInfluxSink connects to InfluxDB.
//
// Inputs:
//
//	cfg - Connection settings; Token must be set.
//	logger - Structured logger; nil uses slog.Default.
//
// Outputs:
//
//	*InfluxSink - Ready sink; call Close when done.
//	error - Non-nil when required settings are missing.
func NewInfluxSink(cfg Config, logger *slog.Logger) (*InfluxSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultConfig().URL
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("influx token not configured")
	}
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx org and bucket must be configured")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger:   logger,
	}, nil
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Record exports one finished run.
//
// Description:
//
//	Builds all points up front and writes them in one batch. Failures
//	are logged at warn level and otherwise ignored; the caller's run
//	verdict is already decided.
func (s *InfluxSink) Record(ctx context.Context, result *assay.RunResult) {
	if result == nil {
		return
	}
	points := buildPoints(result)
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		s.logger.Warn("influx export failed",
			slog.String("run_id", result.RunID),
			slog.Int("points", len(points)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("run exported to influx",
		slog.String("run_id", result.RunID),
		slog.Int("points", len(points)),
	)
}

// buildPoints renders a run into line-protocol points.
func buildPoints(result *assay.RunResult) []*write.Point {
	points := make([]*write.Point, 0, len(result.Verdicts)+1)

	for _, v := range result.Verdicts {
		ts := v.Outcome.Finished
		if ts.IsZero() {
			ts = result.FinishedAt
		}
		points = append(points, influxdb2.NewPoint(
			"assay_case",
			map[string]string{
				"run":    result.RunID,
				"case":   v.Case.Name,
				"status": v.Status(),
			},
			map[string]interface{}{
				"duration_s": v.Outcome.Duration.Seconds(),
				"mismatches": len(v.Mismatches),
				"exit_code":  v.Outcome.ExitCode,
			},
			ts,
		))
	}

	points = append(points, influxdb2.NewPoint(
		"assay_run",
		map[string]string{
			"run":   result.RunID,
			"state": string(result.State),
			"mode":  result.Mode,
		},
		map[string]interface{}{
			"total":      len(result.Verdicts),
			"passed":     result.Passed,
			"failed":     result.Failed,
			"timed_out":  result.TimedOut,
			"errored":    result.Errored,
			"duration_s": runDuration(result).Seconds(),
		},
		result.FinishedAt,
	))

	return points
}

// runDuration guards against unfinished results from aborted runs.
func runDuration(result *assay.RunResult) time.Duration {
	if result.FinishedAt.IsZero() || result.StartedAt.IsZero() {
		return 0
	}
	return result.FinishedAt.Sub(result.StartedAt)
}
