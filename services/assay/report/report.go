// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders run results into JSON and HTML artifacts and
// diffs runs against each other for trend tracking.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianAssay/services/assay"
)

//go:embed report.html.tmpl
var htmlTemplate string

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config controls where and how reports are written.
type Config struct {
	// OutputDir receives report_<ts>.json / report_<ts>.html plus the
	// rolling latest.json. Created if missing.
	// Default: "reports"
	OutputDir string

	// Formats selects the rendered formats: "json", "html".
	// Default: both.
	Formats []string

	// TimestampFormat names report files.
	// Default: "2006-01-02_15-04-05"
	TimestampFormat string
}

// DefaultConfig returns the default reporting configuration.
func DefaultConfig() Config {
	return Config{
		OutputDir:       "reports",
		Formats:         []string{"json", "html"},
		TimestampFormat: "2006-01-02_15-04-05",
	}
}

// =============================================================================
// PAYLOAD
// =============================================================================

// Summary carries the verdict tallies for quick machine inspection.
type Summary struct {
	Total    int `json:"total_tests"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	TimedOut int `json:"timed_out"`
	Errored  int `json:"errored"`
}

// CaseReport is the per-case slice of the payload. Finding fields are
// empty on passing cases, keeping them one line each in the JSON.
type CaseReport struct {
	Name            string                    `json:"name"`
	Ordinal         int                       `json:"ordinal"`
	Status          string                    `json:"status"`
	ExitCode        int                       `json:"exit_code"`
	DurationSeconds float64                   `json:"duration_seconds"`
	LogFile         string                    `json:"log_file,omitempty"`
	CheckFile       string                    `json:"check_file,omitempty"`
	ReferenceFile   string                    `json:"reference_file,omitempty"`
	Mismatches      []assay.Mismatch          `json:"mismatches,omitempty"`
	MissingKeys     []string                  `json:"missing_keys,omitempty"`
	ExtraKeys       []string                  `json:"extra_keys,omitempty"`
	FailedModules   []string                  `json:"failed_modules,omitempty"`
	ErrorEvents     []assay.ErrorEvent        `json:"error_events,omitempty"`
	Warnings        []assay.ExtractionWarning `json:"warnings,omitempty"`
	Explanation     string                    `json:"explanation,omitempty"`
}

// Payload is the complete JSON report document.
type Payload struct {
	RunID           string       `json:"run_id"`
	Timestamp       string       `json:"timestamp"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
	DurationSeconds float64      `json:"duration_seconds"`
	Mode            string       `json:"mode"`
	PackageVersion  string       `json:"package_version,omitempty"`
	Summary         Summary      `json:"summary"`
	Cases           []CaseReport `json:"cases"`
}

// Artifacts maps format name to the written file path.
type Artifacts map[string]string

// =============================================================================
// GENERATOR
// =============================================================================

// Generator renders RunResults into report files.
//
// Thread Safety: safe for concurrent use; each Generate call works on
// its own payload.
type Generator struct {
	cfg    Config
	logger *slog.Logger
}

// NewGenerator builds a Generator, filling config gaps with defaults.
func NewGenerator(cfg Config, logger *slog.Logger) *Generator {
	def := DefaultConfig()
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = def.Formats
	}
	if cfg.TimestampFormat == "" {
		cfg.TimestampFormat = def.TimestampFormat
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{cfg: cfg, logger: logger}
}

// Generate renders the configured formats concurrently and refreshes
// latest.json.
//
// Inputs:
//
//	ctx - Cancels in-flight rendering.
//	result - The finished run.
//	explanations - Optional case name to advisory analysis text.
//
// Outputs:
//
//	Artifacts - Format name to written path, including "latest".
//	error - First render failure; earlier artifacts may exist.
func (g *Generator) Generate(ctx context.Context, result *assay.RunResult, explanations map[string]string) (Artifacts, error) {
	if err := os.MkdirAll(g.cfg.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("create report dir %s: %w", g.cfg.OutputDir, err)
	}

	payload := BuildPayload(result, g.cfg.TimestampFormat, explanations)
	artifacts := make(Artifacts, len(g.cfg.Formats)+1)

	eg, _ := errgroup.WithContext(ctx)
	for _, format := range g.cfg.Formats {
		format := format
		path := filepath.Join(g.cfg.OutputDir, "report_"+payload.Timestamp+"."+format)
		artifacts[format] = path
		eg.Go(func() error {
			switch format {
			case "json":
				return writeJSON(path, payload)
			case "html":
				return g.renderHTML(path, payload)
			default:
				return fmt.Errorf("unknown report format %q", format)
			}
		})
	}
	if err := eg.Wait(); err != nil {
		return artifacts, err
	}

	// latest.json always reflects the newest run regardless of the
	// configured formats.
	latest := filepath.Join(g.cfg.OutputDir, "latest.json")
	if err := writeJSON(latest, payload); err != nil {
		return artifacts, err
	}
	artifacts["latest"] = latest

	g.logger.Info("report written",
		slog.String("run_id", result.RunID),
		slog.String("dir", g.cfg.OutputDir),
		slog.Int("formats", len(g.cfg.Formats)),
	)
	return artifacts, nil
}

// BuildPayload converts a RunResult into the serializable document.
// Exported so the server can serve payloads without touching disk.
func BuildPayload(result *assay.RunResult, tsFormat string, explanations map[string]string) Payload {
	if tsFormat == "" {
		tsFormat = DefaultConfig().TimestampFormat
	}
	p := Payload{
		RunID:           result.RunID,
		Timestamp:       result.FinishedAt.Format(tsFormat),
		StartedAt:       result.StartedAt,
		FinishedAt:      result.FinishedAt,
		DurationSeconds: result.Duration().Seconds(),
		Mode:            result.Mode,
		PackageVersion:  result.PackageVersion,
		Summary: Summary{
			Total:    len(result.Verdicts),
			Passed:   result.Passed,
			Failed:   result.Failed,
			TimedOut: result.TimedOut,
			Errored:  result.Errored,
		},
		Cases: make([]CaseReport, 0, len(result.Verdicts)),
	}
	for _, v := range result.Verdicts {
		cr := CaseReport{
			Name:            v.Case.Name,
			Ordinal:         v.Case.Ordinal,
			Status:          v.Status(),
			ExitCode:        v.Outcome.ExitCode,
			DurationSeconds: v.Outcome.Duration.Seconds(),
		}
		if !v.Passed {
			cr.LogFile = v.Outcome.LogFile
			cr.CheckFile = v.CheckFile
			cr.ReferenceFile = v.Case.ReferenceFile
			cr.Mismatches = v.Mismatches
			cr.MissingKeys = v.MissingKeys
			cr.ExtraKeys = v.ExtraKeys
			cr.FailedModules = v.FailedModules
			cr.ErrorEvents = v.ErrorEvents
			cr.Warnings = v.Warnings
			if explanations != nil {
				cr.Explanation = explanations[v.Case.Name]
			}
		}
		p.Cases = append(p.Cases, cr)
	}
	return p
}

func writeJSON(path string, payload Payload) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

// LoadPayload reads a previously written JSON report.
func LoadPayload(path string) (*Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report %s: %w", path, err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}
	return &p, nil
}

// =============================================================================
// HTML RENDERING
// =============================================================================

// htmlData wraps the payload with the pre-filtered failed list so the
// template stays free of logic.
type htmlData struct {
	Payload
	FailedCases []CaseReport
}

func (g *Generator) renderHTML(path string, payload Payload) error {
	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("parse report template: %w", err)
	}

	data := htmlData{Payload: payload}
	for _, c := range payload.Cases {
		if c.Status != "pass" {
			data.FailedCases = append(data.FailedCases, c)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create report %s: %w", path, err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("render report %s: %w", path, err)
	}
	return nil
}

// RenderHTML renders the payload to a string, used by the server's
// report endpoint.
func RenderHTML(payload Payload) (string, error) {
	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("parse report template: %w", err)
	}
	data := htmlData{Payload: payload}
	for _, c := range payload.Cases {
		if c.Status != "pass" {
			data.FailedCases = append(data.FailedCases, c)
		}
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}
