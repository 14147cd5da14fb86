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
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	global     AssayConfig
	globalSet  bool
	globalOnce sync.Once
	globalErr  error
)

// DefaultPath returns the per-user configuration location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "assay.yaml"
	}
	return filepath.Join(home, ".aleutian", "assay.yaml")
}

// Init loads the global configuration once. path == "" means the
// default location, created on first run.
func Init(path string) error {
	globalOnce.Do(func() {
		cfg, err := Load(path)
		if err != nil {
			globalErr = err
			return
		}
		global = *cfg
		globalSet = true
	})
	return globalErr
}

// Global returns the configuration loaded by Init. Before Init, or
// after a failed Init, it returns the defaults so callers always get
// a usable tree.
func Global() AssayConfig {
	if !globalSet {
		return DefaultAssayConfig()
	}
	return global
}

// Load reads, defaults, and validates a configuration file.
//
// Inputs:
//
//	path - Config file location. Empty means DefaultPath(), which is
//	       created with defaults on first run. An explicit path that
//	       does not exist is an error.
//
// Outputs:
//
//	*AssayConfig - Parsed configuration over the default tree.
//	error - Read, parse, or validation failure.
func Load(path string) (*AssayConfig, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "first run detected, creating config at %s\n", path)
			if err := createDefault(path); err != nil {
				return nil, err
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultAssayConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// createDefault writes the default tree so the user has a complete
// commented-out-free starting point to edit.
func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultAssayConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// expandPath resolves ~ and environment variables in path fields.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return os.ExpandEnv(path)
}
