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

import "path"

// =============================================================================
// TOLERANCE MODES
// =============================================================================

// Tolerance modes. Loose multiplies every numeric tolerance by the
// configured scale; strict applies tolerances as declared.
const (
	ModeStrict = "strict"
	ModeLoose  = "loose"
)

// =============================================================================
// RULE KINDS
// =============================================================================

// RuleKind selects how a matched key's values are compared.
type RuleKind string

const (
	// RuleAbsolute passes when |generated - reference| <= value*scale.
	RuleAbsolute RuleKind = "absolute"

	// RuleRelative passes when
	// |generated - reference| <= value*scale*max(1, |reference|).
	RuleRelative RuleKind = "relative"

	// RuleExact requires whitespace-normalized string equality.
	RuleExact RuleKind = "exact"

	// RuleIgnore excludes the key from the pass/fail decision.
	RuleIgnore RuleKind = "ignore"
)

// Valid reports whether the kind is one of the recognized values.
func (k RuleKind) Valid() bool {
	switch k {
	case RuleAbsolute, RuleRelative, RuleExact, RuleIgnore:
		return true
	default:
		return false
	}
}

// =============================================================================
// TOLERANCE RULES
// =============================================================================

// ToleranceRule binds a marker key (or key pattern) to a comparison
// kind and tolerance value.
//
// Exactly one of Key and Pattern should be set. Pattern uses
// path.Match syntax against the canonical dotted key, so "ELECOUP.*"
// matches every key under the ELECOUP module.
type ToleranceRule struct {
	// Key matches one canonical key exactly.
	Key string `json:"key,omitempty" yaml:"key,omitempty"`

	// Pattern matches keys by glob.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// Kind selects the comparison.
	Kind RuleKind `json:"kind" yaml:"kind"`

	// Value is the unscaled tolerance for absolute/relative kinds.
	Value float64 `json:"value,omitempty" yaml:"value,omitempty"`
}

// matches reports whether the rule applies to the given key.
func (r ToleranceRule) matches(key string) bool {
	if r.Key != "" {
		return r.Key == key
	}
	if r.Pattern != "" {
		ok, err := path.Match(r.Pattern, key)
		return err == nil && ok
	}
	return false
}

// builtinRules is the accepted tolerance seed for quantum-chemistry
// marker keys. YAML configuration may extend or replace it.
func builtinRules() []ToleranceRule {
	return []ToleranceRule{
		{Key: "HF.ENERGY", Kind: RuleAbsolute, Value: 1e-8},
		{Key: "MCSCF.MCENERGY", Kind: RuleAbsolute, Value: 1e-6},
		{Key: "GRAD.ERI_GRAD", Kind: RuleAbsolute, Value: 2e-5},
		{Key: "GRAD.TOT_GRAD", Kind: RuleAbsolute, Value: 2e-5},
		{Key: "TDDFT.EXCITENE", Kind: RuleAbsolute, Value: 2e-4},
		{Key: "MRCI.ECI", Kind: RuleAbsolute, Value: 5e-8},
		{Key: "MRCI.ECI_DAV", Kind: RuleAbsolute, Value: 5e-8},
		{Key: "MP2.Eab", Kind: RuleAbsolute, Value: 1e-7},
		{Key: "MP2.Emp2", Kind: RuleAbsolute, Value: 1e-7},
		{Key: "MP2.Ecorr", Kind: RuleAbsolute, Value: 1e-7},
		{Key: "EOMEESO.ECCSD", Kind: RuleAbsolute, Value: 1e-7},
		{Key: "EOMIPSO.EXCITEDSTATE", Kind: RuleAbsolute, Value: 1e-7},
		{Key: "EOMEASO.EXCITEDSTATE", Kind: RuleAbsolute, Value: 1e-7},
		{Pattern: "ELECOUP.*", Kind: RuleRelative, Value: 0.05},
		{Key: "XUANYUAN.SO2EINT", Kind: RuleIgnore},
	}
}

// =============================================================================
// RULE TABLE
// =============================================================================

// RuleTable resolves the effective rule for a marker key.
//
// Resolution order: exact key match, then the first matching pattern
// in declaration order, then the default rule. Immutable after
// construction; safe for concurrent use.
type RuleTable struct {
	exact    map[string]ToleranceRule
	patterns []ToleranceRule
	fallback ToleranceRule
}

// NewRuleTable builds a table from the given rules.
//
// Description:
//
//	Later exact rules for the same key override earlier ones, so a
//	configured rule replaces its seed entry. Pattern rules keep
//	declaration order. A zero-value defaultRule means exact
//	whitespace-normalized equality, matching the behavior for keys no
//	rule knows about.
//
// Inputs:
//
//	rules - Rules in declaration order (seed first, then config).
//	defaultRule - Applied when nothing matches.
//
// Outputs:
//
//	*RuleTable - The immutable resolver.
//
// Thread Safety: The returned table is safe for concurrent use.
func NewRuleTable(rules []ToleranceRule, defaultRule ToleranceRule) *RuleTable {
	t := &RuleTable{
		exact:    make(map[string]ToleranceRule, len(rules)),
		fallback: defaultRule,
	}
	if t.fallback.Kind == "" {
		t.fallback.Kind = RuleExact
	}
	for _, r := range rules {
		switch {
		case r.Key != "":
			t.exact[r.Key] = r
		case r.Pattern != "":
			t.patterns = append(t.patterns, r)
		}
	}
	return t
}

// NewDefaultRuleTable builds the table for a Config: the built-in
// seed (unless replaced) followed by configured rules.
func NewDefaultRuleTable(cfg *Config) *RuleTable {
	var rules []ToleranceRule
	if !cfg.ReplaceRules {
		rules = builtinRules()
	}
	rules = append(rules, cfg.Rules...)
	return NewRuleTable(rules, cfg.DefaultRule)
}

// Resolve returns the effective rule for a key.
//
// Inputs:
//
//	key - Canonical dotted marker key.
//
// Outputs:
//
//	ToleranceRule - Exact match, first pattern match, or the default.
func (t *RuleTable) Resolve(key string) ToleranceRule {
	if r, ok := t.exact[key]; ok {
		return r
	}
	for _, r := range t.patterns {
		if r.matches(key) {
			return r
		}
	}
	return t.fallback
}

// Scale returns the tolerance multiplier for a mode: 1.0 for strict,
// looseScale for loose. Unknown modes fall back to strict.
func Scale(mode string, looseScale float64) float64 {
	if mode == ModeLoose {
		if looseScale > 0 {
			return looseScale
		}
		return 5.0
	}
	return 1.0
}
