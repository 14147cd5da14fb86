// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assay

import (
	"runtime"
	"strconv"
	"time"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the engine configuration for one run.
//
// The CLI builds this from the typed YAML file; library callers can
// construct it directly. Only the engine-facing slice of configuration
// lives here: reporting, history, and server settings stay in their
// own packages.
type Config struct {
	// PackageName is the display name of the package under test.
	// Default: "pkg"
	PackageName string

	// PackageHome is the installation root substituted for {home} in
	// command and environment templates. Overridden by the build
	// manifest when one is configured.
	PackageHome string

	// Command is the executable template. {home} is substituted.
	// Default: "{home}/bin/run"
	Command string

	// Args is the argument template, split shell-style after
	// substitution. {input} becomes the staged input file name.
	// Default: "{input}"
	Args string

	// InputDir is the directory scanned for input decks.
	InputDir string

	// ReferenceDir is the directory holding accepted reference files.
	ReferenceDir string

	// WorkRoot is the root under which per-run, per-case working
	// directories are created.
	// Default: "work"
	WorkRoot string

	// InputPattern is the discovery glob.
	// Default: "test*.inp"
	InputPattern string

	// LogSuffix is the extension of captured case logs.
	// Default: ".log"
	LogSuffix string

	// CheckSuffix is the extension of reference and extracted marker
	// files.
	// Default: ".check"
	CheckSuffix string

	// Marker is the marker token opening a CHECKDATA line.
	// Default: "CHECKDATA"
	Marker string

	// Timeout bounds each case execution.
	// Default: 20m
	Timeout time.Duration

	// MaxParallel bounds concurrently executing cases.
	// Default: 4, clamped to [1, NumCPU]
	MaxParallel int

	// EnabledRange is the base ordinal selection.
	// Default: {1, 999}
	EnabledRange RangeSpec

	// Profile optionally names an entry in Profiles. When set and
	// known it replaces EnabledRange entirely.
	Profile string

	// Profiles are named alternative ranges.
	Profiles map[string]RangeSpec

	// Single optionally selects exactly one case by label or bare
	// ordinal, bypassing ranges and profiles.
	Single string

	// ScratchRoot is the template for the per-run scratch root.
	// A literal "$RANDOM" is resolved once per run.
	// Default: "/tmp/scratch-$RANDOM"
	ScratchRoot string

	// HomeVar is the environment variable carrying PackageHome.
	// Default: "PKG_HOME"
	HomeVar string

	// ScratchVar is the environment variable carrying the scratch dir.
	// Default: "PKG_SCRATCH"
	ScratchVar string

	// StackSize is the OMP_STACKSIZE value.
	// Default: "512M"
	StackSize string

	// Threads overrides the derived OMP_NUM_THREADS when positive.
	// Default: 0 (derive cores / MaxParallel, floor, min 1)
	Threads int

	// Env is extra per-case environment. Values support the
	// {home} {scratch} {threads} {input} placeholders.
	Env map[string]string

	// Mode selects the tolerance scale: "strict" or "loose".
	// Default: "strict"
	Mode string

	// LooseScale is the multiplier applied in loose mode.
	// Default: 5.0
	LooseScale float64

	// DefaultRule applies when no rule matches a key. Zero value means
	// exact whitespace-normalized equality.
	DefaultRule ToleranceRule

	// Rules replace or extend the built-in tolerance seed. When
	// ReplaceRules is false they are appended after the seed.
	Rules []ToleranceRule

	// ReplaceRules drops the built-in seed entirely.
	ReplaceRules bool

	// BuildManifest is an optional path to the build pipeline's result
	// manifest. When set, a failed build aborts the run.
	BuildManifest string

	// RequireBuildOK aborts when the manifest is configured but
	// missing or unreadable. When false such a manifest is skipped
	// with a warning.
	// Default: true
	RequireBuildOK bool

	// MaxErrorEvents caps collected error lines per case.
	// Default: 20
	MaxErrorEvents int

	// FalsePositives are regex patterns whose matches are excluded
	// from error-event collection. Appended to the built-in table.
	FalsePositives []string
}

// DefaultConfig returns a Config with sensible defaults.
//
// Outputs:
//
//	*Config - Configuration with default values
func DefaultConfig() *Config {
	return &Config{
		PackageName:    "pkg",
		Command:        "{home}/bin/run",
		Args:           "{input}",
		WorkRoot:       "work",
		InputPattern:   "test*.inp",
		LogSuffix:      ".log",
		CheckSuffix:    ".check",
		Marker:         "CHECKDATA",
		Timeout:        20 * time.Minute,
		MaxParallel:    4,
		EnabledRange:   RangeSpec{Min: 1, Max: 999},
		ScratchRoot:    "/tmp/scratch-$RANDOM",
		HomeVar:        "PKG_HOME",
		ScratchVar:     "PKG_SCRATCH",
		StackSize:      "512M",
		Mode:           ModeStrict,
		LooseScale:     5.0,
		RequireBuildOK: true,
		MaxErrorEvents: 20,
	}
}

// Validate checks the configuration and clamps recoverable fields.
//
// Hard faults (bad range, unknown profile, unknown rule kind) return a
// ConfigError; soft faults (zero timeout, out-of-range parallelism)
// are clamped silently.
//
// Outputs:
//
//	error - Non-nil if configuration is invalid
func (c *Config) Validate() error {
	if c.InputPattern == "" {
		c.InputPattern = "test*.inp"
	}
	if c.LogSuffix == "" {
		c.LogSuffix = ".log"
	}
	if c.CheckSuffix == "" {
		c.CheckSuffix = ".check"
	}
	if c.Marker == "" {
		c.Marker = "CHECKDATA"
	}
	if c.Timeout < time.Second {
		c.Timeout = 20 * time.Minute
	}
	if c.MaxParallel < 1 {
		c.MaxParallel = 1
	}
	if n := runtime.NumCPU(); c.MaxParallel > n {
		c.MaxParallel = n
	}
	if c.HomeVar == "" {
		c.HomeVar = "PKG_HOME"
	}
	if c.ScratchVar == "" {
		c.ScratchVar = "PKG_SCRATCH"
	}
	if c.StackSize == "" {
		c.StackSize = "512M"
	}
	if c.Mode == "" {
		c.Mode = ModeStrict
	}
	if c.Mode != ModeStrict && c.Mode != ModeLoose {
		return &ConfigError{Field: "mode", Value: c.Mode, Cause: ErrUnknownMode}
	}
	if c.LooseScale <= 0 {
		c.LooseScale = 5.0
	}
	if c.MaxErrorEvents < 0 {
		c.MaxErrorEvents = 0
	}

	if c.Profile != "" {
		if _, ok := c.Profiles[c.Profile]; !ok {
			return &ConfigError{Field: "profile", Value: c.Profile, Cause: ErrUnknownProfile}
		}
	}
	if r := c.effectiveRange(); !r.Valid() {
		return &ConfigError{Field: "enabled_range", Value: r.describe(), Cause: ErrBadRange}
	}
	for _, rule := range c.Rules {
		if !rule.Kind.Valid() {
			return &ConfigError{Field: "tolerances.rules", Value: string(rule.Kind), Cause: ErrUnknownRuleKind}
		}
	}
	if c.DefaultRule.Kind != "" && !c.DefaultRule.Kind.Valid() {
		return &ConfigError{Field: "tolerances.default", Value: string(c.DefaultRule.Kind), Cause: ErrUnknownRuleKind}
	}
	return nil
}

// effectiveRange resolves the profile-vs-base precedence. The profile
// wins absolutely when set; Validate has already confirmed it exists.
func (c *Config) effectiveRange() RangeSpec {
	if c.Profile != "" {
		if r, ok := c.Profiles[c.Profile]; ok {
			return r
		}
	}
	return c.EnabledRange
}

// ThreadHint derives the per-case OMP thread budget: logical cores
// divided by MaxParallel, floored, never below 1. An explicit Threads
// value wins.
func (c *Config) ThreadHint() int {
	if c.Threads > 0 {
		return c.Threads
	}
	n := runtime.NumCPU() / c.MaxParallel
	if n < 1 {
		n = 1
	}
	return n
}

func (r RangeSpec) describe() string {
	return "[" + strconv.Itoa(r.Min) + ", " + strconv.Itoa(r.Max) + "]"
}

// =============================================================================
// CONFIGURATION OPTIONS
// =============================================================================

// Option is a function that modifies Config.
type Option func(*Config)

// WithInputDir sets the input deck directory.
func WithInputDir(dir string) Option {
	return func(c *Config) {
		c.InputDir = dir
	}
}

// WithReferenceDir sets the reference file directory.
func WithReferenceDir(dir string) Option {
	return func(c *Config) {
		c.ReferenceDir = dir
	}
}

// WithWorkRoot sets the working directory root.
func WithWorkRoot(dir string) Option {
	return func(c *Config) {
		c.WorkRoot = dir
	}
}

// WithTimeout sets the per-case timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithMaxParallel sets the worker pool bound.
func WithMaxParallel(n int) Option {
	return func(c *Config) {
		c.MaxParallel = n
	}
}

// WithRange sets the base enabled range.
func WithRange(min, max int) Option {
	return func(c *Config) {
		c.EnabledRange = RangeSpec{Min: min, Max: max}
	}
}

// WithProfile selects a named range profile.
func WithProfile(name string) Option {
	return func(c *Config) {
		c.Profile = name
	}
}

// WithSingle selects exactly one case, bypassing ranges and profiles.
func WithSingle(label string) Option {
	return func(c *Config) {
		c.Single = label
	}
}

// WithMode sets the tolerance mode ("strict" or "loose").
func WithMode(mode string) Option {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithRules appends tolerance rules after the built-in seed.
func WithRules(rules ...ToleranceRule) Option {
	return func(c *Config) {
		c.Rules = append(c.Rules, rules...)
	}
}

// WithBuildManifest sets the build gate manifest path.
func WithBuildManifest(path string) Option {
	return func(c *Config) {
		c.BuildManifest = path
	}
}

// NewConfig creates a Config with the given options applied.
//
// Inputs:
//
//	opts - Options to apply to the default config
//
// Outputs:
//
//	*Config - Configuration with options applied
//	error - Non-nil if the resulting configuration is invalid
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
