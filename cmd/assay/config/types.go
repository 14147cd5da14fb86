// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// =============================================================================
// SHARED VALIDATOR INSTANCE
// =============================================================================

// assayValidate is the validator instance for the file configuration.
var assayValidate *validator.Validate

func init() {
	assayValidate = validator.New()
}

// =============================================================================
// FILE CONFIGURATION
// =============================================================================

// AssayConfig is the full typed view of assay.yaml.
//
// The engine receives only its narrow slice via Engine(); reporting,
// history, server, and the other outer services read their own
// sections directly.
type AssayConfig struct {
	Package    PackageSection    `yaml:"package"`
	Tests      TestsSection      `yaml:"tests"`
	Tolerances TolerancesSection `yaml:"tolerances"`
	Build      BuildSection      `yaml:"build"`
	Reporting  ReportingSection  `yaml:"reporting"`
	History    HistorySection    `yaml:"history"`
	Explain    ExplainSection    `yaml:"explain"`
	Archive    ArchiveSection    `yaml:"archive"`
	Server     ServerSection     `yaml:"server"`
	Metrics    MetricsSection    `yaml:"metrics"`
	Telemetry  TelemetrySection  `yaml:"telemetry"`
	Logging    LoggingSection    `yaml:"logging"`
	UX         UXSection         `yaml:"ux"`
}

// PackageSection identifies the scientific package under test.
type PackageSection struct {
	Name string `yaml:"name"`
	// Home is the installation root, substituted for {home}.
	Home string `yaml:"home"`
	// Command and Args are templates; see the engine documentation for
	// the {home} {scratch} {threads} {input} placeholders.
	Command string `yaml:"command"`
	Args    string `yaml:"args"`
}

// RangeSection is an inclusive ordinal window.
type RangeSection struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// TestsSection configures discovery, selection, and execution.
type TestsSection struct {
	InputDir       string                  `yaml:"input_dir"`
	ReferenceDir   string                  `yaml:"reference_dir"`
	WorkDir        string                  `yaml:"work_dir"`
	InputPattern   string                  `yaml:"input_pattern"`
	LogSuffix      string                  `yaml:"log_suffix"`
	CheckSuffix    string                  `yaml:"check_suffix"`
	Marker         string                  `yaml:"marker"`
	TimeoutSeconds int                     `yaml:"timeout_seconds" validate:"gte=0"`
	MaxParallel    int                     `yaml:"max_parallel" validate:"gte=0"`
	Threads        int                     `yaml:"threads" validate:"gte=0"`
	EnabledRange   RangeSection            `yaml:"enabled_range"`
	Profile        string                  `yaml:"profile"`
	Profiles       map[string]RangeSection `yaml:"profiles"`
	ScratchRoot    string                  `yaml:"scratch_root"`
	HomeVar        string                  `yaml:"home_var"`
	ScratchVar     string                  `yaml:"scratch_var"`
	StackSize      string                  `yaml:"stack_size"`
	Env            map[string]string       `yaml:"env"`
	MaxErrorEvents int                     `yaml:"max_error_events" validate:"gte=0"`
}

// ScaleSection carries the tolerance scale factors. Strict is fixed at
// 1.0 and present only so the file documents both modes.
type ScaleSection struct {
	Strict float64 `yaml:"strict"`
	Loose  float64 `yaml:"loose" validate:"gte=0"`
}

// TolerancesSection configures the comparator.
type TolerancesSection struct {
	Mode           string                `yaml:"mode" validate:"omitempty,oneof=strict loose"`
	Scale          ScaleSection          `yaml:"scale"`
	Default        assay.ToleranceRule   `yaml:"default"`
	Rules          []assay.ToleranceRule `yaml:"rules"`
	ReplaceRules   bool                  `yaml:"replace_rules"`
	FalsePositives []string              `yaml:"false_positives"`
}

// BuildSection points at the external build pipeline's manifest.
type BuildSection struct {
	Manifest  string `yaml:"manifest"`
	RequireOK bool   `yaml:"require_ok"`
}

// ReportingSection configures rendered run reports.
type ReportingSection struct {
	OutputDir           string   `yaml:"output_dir"`
	Formats             []string `yaml:"formats" validate:"dive,oneof=json html"`
	TimestampFormat     string   `yaml:"timestamp_format"`
	IncludeExplanations bool     `yaml:"include_explanations"`
}

// HistorySection configures the run history store.
type HistorySection struct {
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"in_memory"`
	// Retain caps stored runs; older runs are trimmed. 0 keeps all.
	Retain int `yaml:"retain" validate:"gte=0"`
}

// ExplainSection configures the advisory LLM failure analysis.
type ExplainSection struct {
	Enabled       bool    `yaml:"enabled"`
	Provider      string  `yaml:"provider" validate:"omitempty,oneof=openai ollama"`
	Model         string  `yaml:"model"`
	Endpoint      string  `yaml:"endpoint"`
	APIKeyEnv     string  `yaml:"api_key_env"`
	MaxTokens     int     `yaml:"max_tokens" validate:"gte=0"`
	Temperature   float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	RatePerMinute int     `yaml:"rate_per_minute" validate:"gte=0"`
	ChunkSize     int     `yaml:"chunk_size" validate:"gte=0"`
	ChunkOverlap  int     `yaml:"chunk_overlap" validate:"gte=0"`
}

// ArchiveSection configures GCS run archival.
type ArchiveSection struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
	ProjectID       string `yaml:"project_id"`
}

// ServerSection configures the dashboard/API server.
type ServerSection struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// MetricsSection configures optional external metric sinks.
type MetricsSection struct {
	Influx InfluxSection `yaml:"influx"`
}

// InfluxSection configures the InfluxDB sink.
type InfluxSection struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	TokenEnv string `yaml:"token_env"`
	Org      string `yaml:"org"`
	Bucket   string `yaml:"bucket"`
}

// TelemetrySection configures OpenTelemetry exporters.
type TelemetrySection struct {
	Enabled        bool   `yaml:"enabled"`
	TraceExporter  string `yaml:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusPort int    `yaml:"prometheus_port" validate:"gte=0,lte=65535"`
}

// LoggingSection configures the structured logger.
type LoggingSection struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

// UXSection configures terminal output.
type UXSection struct {
	Personality string `yaml:"personality" validate:"omitempty,oneof=full standard minimal machine"`
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks struct tags plus the cross-field rules tags cannot
// express. Returns the first violation found.
func (c *AssayConfig) Validate() error {
	if err := assayValidate.Struct(c); err != nil {
		return err
	}

	if r := c.Tests.EnabledRange; r.Max > 0 && r.Min > r.Max {
		return fmt.Errorf("tests.enabled_range: min %d exceeds max %d", r.Min, r.Max)
	}
	for name, r := range c.Tests.Profiles {
		if r.Min > r.Max {
			return fmt.Errorf("tests.profiles.%s: min %d exceeds max %d", name, r.Min, r.Max)
		}
	}
	if p := c.Tests.Profile; p != "" {
		if _, ok := c.Tests.Profiles[p]; !ok {
			return fmt.Errorf("tests.profile: %q not defined under tests.profiles", p)
		}
	}

	if s := c.Tolerances.Scale.Strict; s != 0 && s != 1.0 {
		return fmt.Errorf("tolerances.scale.strict is fixed at 1.0, got %g", s)
	}
	for i, r := range c.Tolerances.Rules {
		if r.Key == "" && r.Pattern == "" {
			return fmt.Errorf("tolerances.rules[%d]: one of key or pattern is required", i)
		}
		if r.Key != "" && r.Pattern != "" {
			return fmt.Errorf("tolerances.rules[%d]: key and pattern are mutually exclusive", i)
		}
		if !r.Kind.Valid() {
			return fmt.Errorf("tolerances.rules[%d]: unknown kind %q", i, r.Kind)
		}
	}
	if k := c.Tolerances.Default.Kind; k != "" && !k.Valid() {
		return fmt.Errorf("tolerances.default: unknown kind %q", k)
	}

	if c.Explain.Enabled && c.Explain.Provider == "" {
		return fmt.Errorf("explain.provider is required when explain.enabled is true")
	}
	if in := c.Metrics.Influx; in.Enabled {
		if in.URL == "" || in.Org == "" || in.Bucket == "" {
			return fmt.Errorf("metrics.influx: url, org, and bucket are required when enabled")
		}
	}
	return nil
}

// =============================================================================
// ENGINE BRIDGE
// =============================================================================

// Engine projects the file configuration onto the engine's narrow
// config. Load seeds the default tree before unmarshaling, so keys
// absent from the file arrive here already defaulted.
func (c *AssayConfig) Engine() *assay.Config {
	ecfg := assay.DefaultConfig()

	if c.Package.Name != "" {
		ecfg.PackageName = c.Package.Name
	}
	if c.Package.Home != "" {
		ecfg.PackageHome = expandPath(c.Package.Home)
	}
	if c.Package.Command != "" {
		ecfg.Command = c.Package.Command
	}
	if c.Package.Args != "" {
		ecfg.Args = c.Package.Args
	}

	t := c.Tests
	if t.InputDir != "" {
		ecfg.InputDir = expandPath(t.InputDir)
	}
	if t.ReferenceDir != "" {
		ecfg.ReferenceDir = expandPath(t.ReferenceDir)
	}
	if t.WorkDir != "" {
		ecfg.WorkRoot = expandPath(t.WorkDir)
	}
	if t.InputPattern != "" {
		ecfg.InputPattern = t.InputPattern
	}
	if t.LogSuffix != "" {
		ecfg.LogSuffix = t.LogSuffix
	}
	if t.CheckSuffix != "" {
		ecfg.CheckSuffix = t.CheckSuffix
	}
	if t.Marker != "" {
		ecfg.Marker = t.Marker
	}
	if t.TimeoutSeconds > 0 {
		ecfg.Timeout = time.Duration(t.TimeoutSeconds) * time.Second
	}
	if t.MaxParallel > 0 {
		ecfg.MaxParallel = t.MaxParallel
	}
	ecfg.Threads = t.Threads
	if t.EnabledRange.Max > 0 {
		ecfg.EnabledRange = assay.RangeSpec{Min: t.EnabledRange.Min, Max: t.EnabledRange.Max}
	}
	ecfg.Profile = t.Profile
	if len(t.Profiles) > 0 {
		ecfg.Profiles = make(map[string]assay.RangeSpec, len(t.Profiles))
		for name, r := range t.Profiles {
			ecfg.Profiles[name] = assay.RangeSpec{Min: r.Min, Max: r.Max}
		}
	}
	if t.ScratchRoot != "" {
		ecfg.ScratchRoot = t.ScratchRoot
	}
	if t.HomeVar != "" {
		ecfg.HomeVar = t.HomeVar
	}
	if t.ScratchVar != "" {
		ecfg.ScratchVar = t.ScratchVar
	}
	if t.StackSize != "" {
		ecfg.StackSize = t.StackSize
	}
	if len(t.Env) > 0 {
		ecfg.Env = t.Env
	}
	ecfg.MaxErrorEvents = t.MaxErrorEvents

	tol := c.Tolerances
	if tol.Mode != "" {
		ecfg.Mode = tol.Mode
	}
	if tol.Scale.Loose > 0 {
		ecfg.LooseScale = tol.Scale.Loose
	}
	ecfg.DefaultRule = tol.Default
	ecfg.Rules = tol.Rules
	ecfg.ReplaceRules = tol.ReplaceRules
	ecfg.FalsePositives = tol.FalsePositives

	if c.Build.Manifest != "" {
		ecfg.BuildManifest = expandPath(c.Build.Manifest)
	}
	ecfg.RequireBuildOK = c.Build.RequireOK

	return ecfg
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultAssayConfig returns the tree written on first run. Load
// unmarshals user files over these values, so absent keys keep them.
func DefaultAssayConfig() AssayConfig {
	return AssayConfig{
		Package: PackageSection{
			Name:    "solver",
			Home:    "/opt/solver",
			Command: "{home}/bin/run",
			Args:    "{input}",
		},
		Tests: TestsSection{
			InputDir:       "tests/inputs",
			ReferenceDir:   "tests/references",
			WorkDir:        "work",
			InputPattern:   "test*.inp",
			Marker:         "CHECKDATA",
			TimeoutSeconds: 1200,
			MaxParallel:    4,
			EnabledRange:   RangeSection{Min: 1, Max: 999},
			Profiles: map[string]RangeSection{
				"short": {Min: 1, Max: 64},
				"full":  {Min: 1, Max: 999},
			},
			ScratchRoot:    "/tmp/scratch-$RANDOM",
			HomeVar:        "PKG_HOME",
			ScratchVar:     "PKG_SCRATCH",
			StackSize:      "512M",
			MaxErrorEvents: 20,
		},
		Tolerances: TolerancesSection{
			Mode:  "strict",
			Scale: ScaleSection{Strict: 1.0, Loose: 5.0},
		},
		Build: BuildSection{
			RequireOK: true,
		},
		Reporting: ReportingSection{
			OutputDir:       "reports",
			Formats:         []string{"json", "html"},
			TimestampFormat: "2006-01-02_15-04-05",
		},
		History: HistorySection{
			Dir:    "~/.aleutian/assay/history",
			Retain: 90,
		},
		Explain: ExplainSection{
			Provider:      "ollama",
			Model:         "qwen2.5:14b",
			Endpoint:      "http://localhost:11434",
			APIKeyEnv:     "OPENAI_API_KEY",
			MaxTokens:     1024,
			Temperature:   0.2,
			RatePerMinute: 6,
			ChunkSize:     4000,
			ChunkOverlap:  200,
		},
		Server: ServerSection{
			Addr: ":8089",
		},
		Metrics: MetricsSection{
			Influx: InfluxSection{
				URL:      "http://localhost:8086",
				TokenEnv: "INFLUX_TOKEN",
				Org:      "aleutian",
				Bucket:   "assay",
			},
		},
		Telemetry: TelemetrySection{
			TraceExporter:  "none",
			MetricExporter: "none",
			PrometheusPort: 9464,
		},
		Logging: LoggingSection{
			Level: "info",
			Dir:   "~/.aleutian/assay/logs",
		},
		UX: UXSection{
			Personality: "full",
		},
	}
}
