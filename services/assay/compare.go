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
	"math"
	"strconv"
	"strings"
)

// =============================================================================
// COMPARATOR
// =============================================================================

// Comparator evaluates extracted markers against a reference set
// under the configured tolerance rules.
//
// # Description
//
// The comparator is pure: same inputs, same verdict, no side effects.
// It enumerates every finding rather than stopping at the first, and
// it evaluates execution state, marker mismatches, missing/extra
// occurrences, and failed modules independently — an abnormal exit
// never suppresses comparison detail when a log was produced.
//
// # Thread Safety
//
// Safe for concurrent use; the rule table is immutable after
// construction.
type Comparator struct {
	table *RuleTable
	scale float64
}

// NewComparator builds a comparator from a validated configuration.
func NewComparator(cfg *Config) *Comparator {
	return &Comparator{
		table: NewDefaultRuleTable(cfg),
		scale: Scale(cfg.Mode, cfg.LooseScale),
	}
}

// Compare produces the verdict for one executed case.
//
// Description:
//
//	Matches generated against reference markers positionally per key:
//	the Nth generated occurrence of a key is compared with the Nth
//	reference occurrence. Occurrence-count differences become
//	missing/extra findings, never numeric comparisons. Keys under an
//	ignore rule contribute nothing.
//
// Inputs:
//
//	tc - The case under comparison.
//	outcome - Raw execution outcome.
//	gen - Extraction from the generated log.
//	ref - Reference marker records in file order.
//
// Outputs:
//
//	ComparisonVerdict - Complete, immutable finding set.
func (c *Comparator) Compare(tc TestCase, outcome RawOutcome, gen Extraction, ref []MarkerRecord) ComparisonVerdict {
	v := ComparisonVerdict{
		Case:          tc,
		ExecutionOK:   outcome.Normal(),
		FailedModules: gen.FailedModules(),
		Warnings:      gen.Warnings,
		ErrorEvents:   gen.ErrorEvents,
		Outcome:       outcome,
		CheckFile:     gen.CheckFile,
	}

	genByKey, genOrder := groupByKey(gen.Markers)
	refByKey, refOrder := groupByKey(ref)

	// Reference keys first in file order, then generated-only keys in
	// log order: verdict contents are deterministic for a given input
	// pair.
	for _, key := range refOrder {
		c.compareKey(&v, key, genByKey[key], refByKey[key])
	}
	for _, key := range genOrder {
		if _, ok := refByKey[key]; ok {
			continue
		}
		c.compareKey(&v, key, genByKey[key], nil)
	}

	v.Passed = v.ExecutionOK &&
		len(v.Mismatches) == 0 &&
		len(v.MissingKeys) == 0 &&
		len(v.ExtraKeys) == 0 &&
		len(v.FailedModules) == 0
	return v
}

// compareKey evaluates all occurrences of one key.
func (c *Comparator) compareKey(v *ComparisonVerdict, key string, gen, ref []MarkerRecord) {
	rule := c.table.Resolve(key)
	if rule.Kind == RuleIgnore {
		return
	}

	n := len(gen)
	if len(ref) < n {
		n = len(ref)
	}
	for i := 0; i < n; i++ {
		c.compareValues(v, key, i, gen[i].Value, ref[i].Value, rule)
	}
	for i := n; i < len(ref); i++ {
		v.MissingKeys = append(v.MissingKeys, key)
	}
	for i := n; i < len(gen); i++ {
		v.ExtraKeys = append(v.ExtraKeys, key)
	}
}

// compareValues evaluates one matched occurrence pair field-by-field.
func (c *Comparator) compareValues(v *ComparisonVerdict, key string, occurrence int, gv, rv string, rule ToleranceRule) {
	gf := strings.Fields(gv)
	rf := strings.Fields(rv)

	if len(gf) != len(rf) {
		v.Mismatches = append(v.Mismatches, Mismatch{
			Key:        key,
			Occurrence: occurrence,
			Kind:       MismatchShape,
			Generated:  gv,
			Reference:  rv,
			TokenIndex: -1,
		})
		return
	}

	for ti := range gf {
		if gf[ti] == rf[ti] {
			continue
		}

		if rule.Kind == RuleExact {
			v.Mismatches = append(v.Mismatches, Mismatch{
				Key:        key,
				Occurrence: occurrence,
				Kind:       MismatchText,
				Generated:  gf[ti],
				Reference:  rf[ti],
				TokenIndex: ti,
			})
			continue
		}

		gn, gErr := strconv.ParseFloat(gf[ti], 64)
		rn, rErr := strconv.ParseFloat(rf[ti], 64)
		if gErr != nil || rErr != nil {
			// One or both fields are non-numeric; unequal strings
			// mismatch regardless of the numeric rule.
			v.Mismatches = append(v.Mismatches, Mismatch{
				Key:        key,
				Occurrence: occurrence,
				Kind:       MismatchText,
				Generated:  gf[ti],
				Reference:  rf[ti],
				TokenIndex: ti,
			})
			continue
		}

		delta := math.Abs(gn - rn)
		limit := c.limit(rule, rn)
		if delta > limit {
			v.Mismatches = append(v.Mismatches, Mismatch{
				Key:        key,
				Occurrence: occurrence,
				Kind:       MismatchNumeric,
				Generated:  gf[ti],
				Reference:  rf[ti],
				TokenIndex: ti,
				Tolerance:  limit,
				Delta:      delta,
			})
		}
	}
}

// limit computes the effective tolerance for one numeric field.
//
// Absolute: tol × scale. Relative: tol × scale × max(1, |ref|), so
// near-zero references degrade to an absolute bound instead of
// demanding exact zero agreement.
func (c *Comparator) limit(rule ToleranceRule, ref float64) float64 {
	base := rule.Value * c.scale
	if rule.Kind == RuleRelative {
		mag := math.Abs(ref)
		if mag < 1 {
			mag = 1
		}
		return base * mag
	}
	return base
}

// groupByKey buckets records per key, preserving occurrence order
// inside each bucket and first-appearance order across keys.
func groupByKey(markers []MarkerRecord) (map[string][]MarkerRecord, []string) {
	byKey := make(map[string][]MarkerRecord, len(markers))
	order := make([]string, 0, len(markers))
	for _, m := range markers {
		if _, seen := byKey[m.Key]; !seen {
			order = append(order, m.Key)
		}
		byKey[m.Key] = append(byKey[m.Key], m)
	}
	return byKey, order
}
