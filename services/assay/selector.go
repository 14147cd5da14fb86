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
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// =============================================================================
// SELECTOR
// =============================================================================

// Selector discovers labeled input decks and resolves the enabled
// subset for a run.
//
// Immutable after construction; safe for concurrent use.
type Selector struct {
	inputDir     string
	referenceDir string
	pattern      string
	checkSuffix  string
	enabledRange RangeSpec
	profiles     map[string]RangeSpec
	profile      string
	single       string
	logger       *slog.Logger
}

// NewSelector builds a Selector from the engine configuration.
//
// Inputs:
//
//	cfg - Validated engine configuration.
//	logger - Logger for discovery diagnostics. Must not be nil.
//
// Outputs:
//
//	*Selector - Ready-to-use selector.
func NewSelector(cfg *Config, logger *slog.Logger) *Selector {
	return &Selector{
		inputDir:     cfg.InputDir,
		referenceDir: cfg.ReferenceDir,
		pattern:      cfg.InputPattern,
		checkSuffix:  cfg.CheckSuffix,
		enabledRange: cfg.EnabledRange,
		profiles:     cfg.Profiles,
		profile:      cfg.Profile,
		single:       cfg.Single,
		logger:       logger,
	}
}

// Discover scans the input directory for cases matching the input
// pattern.
//
// Description:
//
//	Each match contributes one TestCase: the file stem becomes the
//	label, trailing digits become the ordinal (-1 when absent), files
//	sharing the stem but not matching the pattern become support
//	files, and the reference path is derived from the stem and check
//	suffix. Results are sorted by ordinal, non-conforming labels last
//	by name.
//
// Outputs:
//
//	[]TestCase - All discovered cases, selection not yet applied.
//	error - Non-nil when the directory cannot be read or nothing
//	matches (ErrNoCases).
func (s *Selector) Discover() ([]TestCase, error) {
	matches, err := filepath.Glob(filepath.Join(s.inputDir, s.pattern))
	if err != nil {
		return nil, &ConfigError{Field: "tests.input_pattern", Value: s.pattern, Cause: err}
	}
	if len(matches) == 0 {
		return nil, &ConfigError{Field: "tests.input_dir", Value: s.inputDir, Cause: ErrNoCases}
	}

	cases := make([]TestCase, 0, len(matches))
	for _, input := range matches {
		stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		tc := TestCase{
			Name:          stem,
			Ordinal:       trailingOrdinal(stem),
			InputFile:     input,
			SupportFiles:  s.supportFiles(input, stem),
			ReferenceFile: filepath.Join(s.referenceDir, stem+s.checkSuffix),
		}
		cases = append(cases, tc)
	}

	sort.Slice(cases, func(i, j int) bool {
		a, b := cases[i], cases[j]
		if a.Ordinal != b.Ordinal {
			// Non-conforming stems (ordinal -1) sort last.
			if a.Ordinal == -1 {
				return false
			}
			if b.Ordinal == -1 {
				return true
			}
			return a.Ordinal < b.Ordinal
		}
		return a.Name < b.Name
	})

	s.logger.Debug("discovered test cases",
		slog.Int("count", len(cases)),
		slog.String("dir", s.inputDir),
		slog.String("pattern", s.pattern))
	return cases, nil
}

// Select resolves the enabled subset of the discovered cases.
//
// Description:
//
//	A single-case override bypasses range and profile entirely and
//	yields exactly one case. Otherwise the effective range filters by
//	ordinal; cases without a parseable ordinal are excluded. When a
//	profile is set, its range silently and absolutely replaces the
//	base enabled range — the base range contributes nothing, not even
//	as a clamp.
//
// Inputs:
//
//	cases - Output of Discover.
//
// Outputs:
//
//	[]TestCase - The enabled cases in ordinal order.
//	error - ConfigError wrapping ErrUnknownProfile, ErrBadRange, or
//	ErrUnknownCase.
func (s *Selector) Select(cases []TestCase) ([]TestCase, error) {
	if s.single != "" {
		return s.selectSingle(cases)
	}

	rng, err := s.EffectiveRange()
	if err != nil {
		return nil, err
	}

	selected := make([]TestCase, 0, len(cases))
	for _, tc := range cases {
		if tc.Ordinal >= 0 && rng.Contains(tc.Ordinal) {
			selected = append(selected, tc)
		}
	}
	s.logger.Info("selected test cases",
		slog.Int("selected", len(selected)),
		slog.Int("discovered", len(cases)),
		slog.Int("min", rng.Min),
		slog.Int("max", rng.Max),
		slog.String("profile", s.profile))
	return selected, nil
}

// EffectiveRange returns the range that governs selection: the
// profile's range when a profile is set, the base enabled range
// otherwise.
//
// Outputs:
//
//	RangeSpec - The governing range.
//	error - ConfigError when the profile is unknown or the resolved
//	range has min > max.
func (s *Selector) EffectiveRange() (RangeSpec, error) {
	rng := s.enabledRange
	if s.profile != "" {
		r, ok := s.profiles[s.profile]
		if !ok {
			return RangeSpec{}, &ConfigError{Field: "tests.profile", Value: s.profile, Cause: ErrUnknownProfile}
		}
		rng = r
	}
	if !rng.Valid() {
		return RangeSpec{}, &ConfigError{Field: "tests.enabled_range", Value: rng.describe(), Cause: ErrBadRange}
	}
	return rng, nil
}

// selectSingle resolves the single-case override: an exact label
// match first, then a bare ordinal (e.g. "5" selects the discovered
// case with ordinal 5).
func (s *Selector) selectSingle(cases []TestCase) ([]TestCase, error) {
	for _, tc := range cases {
		if tc.Name == s.single {
			s.logger.Info("single-case override", slog.String("case", tc.Name))
			return []TestCase{tc}, nil
		}
	}
	if n, err := strconv.Atoi(s.single); err == nil {
		for _, tc := range cases {
			if tc.Ordinal == n {
				s.logger.Info("single-case override",
					slog.String("case", tc.Name),
					slog.Int("ordinal", n))
				return []TestCase{tc}, nil
			}
		}
	}
	return nil, &ConfigError{Field: "tests.single", Value: s.single, Cause: ErrUnknownCase}
}

// supportFiles collects same-stem files next to the input that do not
// match the input pattern themselves (basis sets, geometries).
func (s *Selector) supportFiles(input, stem string) []string {
	matches, err := filepath.Glob(filepath.Join(s.inputDir, stem+".*"))
	if err != nil {
		return nil
	}
	var support []string
	for _, m := range matches {
		if m == input {
			continue
		}
		if info, err := os.Stat(m); err != nil || info.IsDir() {
			continue
		}
		support = append(support, m)
	}
	return support
}

// trailingOrdinal parses the integer suffix of a label: "test149"
// yields 149. Labels without trailing digits yield -1.
func trailingOrdinal(label string) int {
	i := len(label)
	for i > 0 && label[i-1] >= '0' && label[i-1] <= '9' {
		i--
	}
	if i == len(label) {
		return -1
	}
	n, err := strconv.Atoi(label[i:])
	if err != nil {
		return -1
	}
	return n
}
