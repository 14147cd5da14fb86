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
	"errors"
	"runtime"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Marker != "CHECKDATA" {
		t.Errorf("Marker = %q, want CHECKDATA", cfg.Marker)
	}
	if cfg.Timeout != 20*time.Minute {
		t.Errorf("Timeout = %v, want 20m", cfg.Timeout)
	}
	if cfg.MaxParallel != 4 {
		t.Errorf("MaxParallel = %d, want 4", cfg.MaxParallel)
	}
	if cfg.EnabledRange != (RangeSpec{Min: 1, Max: 999}) {
		t.Errorf("EnabledRange = %+v, want [1, 999]", cfg.EnabledRange)
	}
	if cfg.Mode != ModeStrict {
		t.Errorf("Mode = %q, want strict", cfg.Mode)
	}
	if cfg.LooseScale != 5.0 {
		t.Errorf("LooseScale = %g, want 5.0", cfg.LooseScale)
	}
	if !cfg.RequireBuildOK {
		t.Error("RequireBuildOK should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestConfig_ValidateClamps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 0
	cfg.MaxParallel = 0
	cfg.LooseScale = -2
	cfg.MaxErrorEvents = -5

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if cfg.Timeout != 20*time.Minute {
		t.Errorf("Timeout = %v, want clamped to 20m", cfg.Timeout)
	}
	if cfg.MaxParallel != 1 {
		t.Errorf("MaxParallel = %d, want clamped to 1", cfg.MaxParallel)
	}
	if cfg.LooseScale != 5.0 {
		t.Errorf("LooseScale = %g, want clamped to 5.0", cfg.LooseScale)
	}
	if cfg.MaxErrorEvents != 0 {
		t.Errorf("MaxErrorEvents = %d, want clamped to 0", cfg.MaxErrorEvents)
	}

	cfg = DefaultConfig()
	cfg.MaxParallel = 100000
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if cfg.MaxParallel != runtime.NumCPU() {
		t.Errorf("MaxParallel = %d, want NumCPU %d", cfg.MaxParallel, runtime.NumCPU())
	}
}

func TestConfig_ValidateHardFaults(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"bad mode", func(c *Config) { c.Mode = "fuzzy" }, ErrUnknownMode},
		{"unknown profile", func(c *Config) { c.Profile = "nightly" }, ErrUnknownProfile},
		{"inverted range", func(c *Config) { c.EnabledRange = RangeSpec{Min: 9, Max: 1} }, ErrBadRange},
		{
			"inverted profile range",
			func(c *Config) {
				c.Profiles = map[string]RangeSpec{"p": {Min: 5, Max: 2}}
				c.Profile = "p"
			},
			ErrBadRange,
		},
		{
			"bad rule kind",
			func(c *Config) { c.Rules = []ToleranceRule{{Key: "X", Kind: "approximate"}} },
			ErrUnknownRuleKind,
		},
		{
			"bad default rule kind",
			func(c *Config) { c.DefaultRule = ToleranceRule{Kind: "vague"} },
			ErrUnknownRuleKind,
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("Validate() = %T, want *ConfigError", err)
			}
		})
	}
}

func TestNewConfig(t *testing.T) {
	t.Run("options apply", func(t *testing.T) {
		cfg, err := NewConfig(
			WithInputDir("/data/inputs"),
			WithReferenceDir("/data/refs"),
			WithMode(ModeLoose),
			WithMaxParallel(2),
			WithRange(10, 20),
			WithTimeout(time.Minute),
		)
		if err != nil {
			t.Fatalf("NewConfig() = %v", err)
		}
		if cfg.InputDir != "/data/inputs" || cfg.ReferenceDir != "/data/refs" {
			t.Errorf("dirs = %q %q", cfg.InputDir, cfg.ReferenceDir)
		}
		if cfg.Mode != ModeLoose || cfg.MaxParallel != 2 || cfg.Timeout != time.Minute {
			t.Errorf("cfg = %+v", cfg)
		}
		if cfg.EnabledRange != (RangeSpec{Min: 10, Max: 20}) {
			t.Errorf("range = %+v", cfg.EnabledRange)
		}
	})

	t.Run("invalid option fails", func(t *testing.T) {
		_, err := NewConfig(WithMode("fuzzy"))
		if !errors.Is(err, ErrUnknownMode) {
			t.Errorf("err = %v, want ErrUnknownMode", err)
		}
	})
}

func TestConfig_ThreadHint(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("explicit threads win", func(t *testing.T) {
		cfg.Threads = 3
		if got := cfg.ThreadHint(); got != 3 {
			t.Errorf("ThreadHint() = %d, want 3", got)
		}
	})

	t.Run("derived from cores", func(t *testing.T) {
		cfg.Threads = 0
		cfg.MaxParallel = 1
		if got := cfg.ThreadHint(); got != runtime.NumCPU() {
			t.Errorf("ThreadHint() = %d, want %d", got, runtime.NumCPU())
		}
	})

	t.Run("never below one", func(t *testing.T) {
		cfg.Threads = 0
		cfg.MaxParallel = runtime.NumCPU() * 4
		if got := cfg.ThreadHint(); got != 1 {
			t.Errorf("ThreadHint() = %d, want floor of 1", got)
		}
	})
}

func TestRangeSpec(t *testing.T) {
	r := RangeSpec{Min: 2, Max: 5}
	for n, want := range map[int]bool{1: false, 2: true, 5: true, 6: false} {
		if got := r.Contains(n); got != want {
			t.Errorf("Contains(%d) = %v, want %v", n, got, want)
		}
	}
	if !r.Valid() {
		t.Error("2..5 should be valid")
	}
	if (RangeSpec{Min: 3, Max: 1}).Valid() {
		t.Error("3..1 should be invalid")
	}
}
