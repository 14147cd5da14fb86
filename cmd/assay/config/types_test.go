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
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// TestValidate_Defaults verifies the default tree passes validation.
func TestValidate_Defaults(t *testing.T) {
	cfg := DefaultAssayConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

// TestValidate_CrossField exercises the checks struct tags cannot express.
func TestValidate_CrossField(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AssayConfig)
		want   string
	}{
		{
			name:   "inverted enabled range",
			mutate: func(c *AssayConfig) { c.Tests.EnabledRange = RangeSection{Min: 9, Max: 2} },
			want:   "enabled_range",
		},
		{
			name:   "inverted profile range",
			mutate: func(c *AssayConfig) { c.Tests.Profiles["short"] = RangeSection{Min: 64, Max: 1} },
			want:   "profiles.short",
		},
		{
			name:   "profile without definition",
			mutate: func(c *AssayConfig) { c.Tests.Profile = "nightly" },
			want:   "not defined",
		},
		{
			name:   "non-unit strict scale",
			mutate: func(c *AssayConfig) { c.Tolerances.Scale.Strict = 2.0 },
			want:   "fixed at 1.0",
		},
		{
			name: "rule with neither key nor pattern",
			mutate: func(c *AssayConfig) {
				c.Tolerances.Rules = []assay.ToleranceRule{{Kind: assay.RuleAbsolute, Value: 1e-6}}
			},
			want: "key or pattern",
		},
		{
			name: "rule with both key and pattern",
			mutate: func(c *AssayConfig) {
				c.Tolerances.Rules = []assay.ToleranceRule{
					{Key: "HF.ENERGY", Pattern: "HF.*", Kind: assay.RuleAbsolute, Value: 1e-6},
				}
			},
			want: "mutually exclusive",
		},
		{
			name: "rule with unknown kind",
			mutate: func(c *AssayConfig) {
				c.Tolerances.Rules = []assay.ToleranceRule{{Key: "HF.ENERGY", Kind: "vague"}}
			},
			want: "unknown kind",
		},
		{
			name:   "explain enabled without provider",
			mutate: func(c *AssayConfig) { c.Explain.Enabled = true; c.Explain.Provider = "" },
			want:   "explain.provider",
		},
		{
			name: "influx enabled without bucket",
			mutate: func(c *AssayConfig) {
				c.Metrics.Influx.Enabled = true
				c.Metrics.Influx.Bucket = ""
			},
			want: "metrics.influx",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAssayConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() passed, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

// TestValidate_TagViolations verifies a sample of the struct-tag rules.
func TestValidate_TagViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AssayConfig)
	}{
		{"bad mode", func(c *AssayConfig) { c.Tolerances.Mode = "fuzzy" }},
		{"bad report format", func(c *AssayConfig) { c.Reporting.Formats = []string{"pdf"} }},
		{"bad personality", func(c *AssayConfig) { c.UX.Personality = "sarcastic" }},
		{"bad log level", func(c *AssayConfig) { c.Logging.Level = "verbose" }},
		{"negative timeout", func(c *AssayConfig) { c.Tests.TimeoutSeconds = -1 }},
		{"bad trace exporter", func(c *AssayConfig) { c.Telemetry.TraceExporter = "jaeger2" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAssayConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() passed, want error")
			}
		})
	}
}

// TestEngine_Projection verifies the bridge into the engine config.
func TestEngine_Projection(t *testing.T) {
	cfg := DefaultAssayConfig()
	cfg.Package.Home = "/opt/xuanyuan"
	cfg.Tests.InputDir = "/data/tests"
	cfg.Tests.ReferenceDir = "/data/refs"
	cfg.Tests.TimeoutSeconds = 600
	cfg.Tests.MaxParallel = 3
	cfg.Tests.Profile = "short"
	cfg.Tolerances.Mode = "loose"
	cfg.Tolerances.Scale.Loose = 3.0
	cfg.Tolerances.Rules = []assay.ToleranceRule{
		{Key: "HF.ENERGY", Kind: assay.RuleAbsolute, Value: 1e-6},
	}
	cfg.Build.Manifest = "/var/build/manifest.json"

	ecfg := cfg.Engine()
	if ecfg.PackageHome != "/opt/xuanyuan" {
		t.Errorf("PackageHome = %q", ecfg.PackageHome)
	}
	if ecfg.Timeout != 600*time.Second {
		t.Errorf("Timeout = %v, want 10m", ecfg.Timeout)
	}
	if ecfg.MaxParallel != 3 {
		t.Errorf("MaxParallel = %d", ecfg.MaxParallel)
	}
	if ecfg.Profile != "short" {
		t.Errorf("Profile = %q", ecfg.Profile)
	}
	if ecfg.Profiles["short"] != (assay.RangeSpec{Min: 1, Max: 64}) {
		t.Errorf("Profiles[short] = %+v", ecfg.Profiles["short"])
	}
	if ecfg.Mode != "loose" || ecfg.LooseScale != 3.0 {
		t.Errorf("Mode/LooseScale = %q/%g", ecfg.Mode, ecfg.LooseScale)
	}
	if len(ecfg.Rules) != 1 || ecfg.Rules[0].Key != "HF.ENERGY" {
		t.Errorf("Rules = %+v", ecfg.Rules)
	}
	if ecfg.BuildManifest != "/var/build/manifest.json" || !ecfg.RequireBuildOK {
		t.Errorf("build gate = %q require=%v", ecfg.BuildManifest, ecfg.RequireBuildOK)
	}

	// The projected config must satisfy the engine's own validation.
	if err := ecfg.Validate(); err != nil {
		t.Errorf("projected engine config invalid: %v", err)
	}
}

// TestEngine_EmptyKeepsEngineDefaults verifies an untouched section
// leaves the engine defaults alone.
func TestEngine_EmptyKeepsEngineDefaults(t *testing.T) {
	var cfg AssayConfig // zero value, not DefaultAssayConfig

	ecfg := cfg.Engine()
	def := assay.DefaultConfig()
	if ecfg.Marker != def.Marker {
		t.Errorf("Marker = %q, want engine default %q", ecfg.Marker, def.Marker)
	}
	if ecfg.Timeout != def.Timeout {
		t.Errorf("Timeout = %v, want engine default %v", ecfg.Timeout, def.Timeout)
	}
	if ecfg.ScratchRoot != def.ScratchRoot {
		t.Errorf("ScratchRoot = %q, want engine default %q", ecfg.ScratchRoot, def.ScratchRoot)
	}
}
