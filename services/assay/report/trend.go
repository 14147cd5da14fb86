// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"sort"
	"time"

	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// =============================================================================
// TREND CLASSIFICATION
// =============================================================================

// Change classifies how one case moved between two runs.
type Change string

const (
	ChangeNewFailure   Change = "new_failure"
	ChangeFixed        Change = "fixed"
	ChangeStillFailing Change = "still_failing"
	ChangeStillPassing Change = "still_passing"
	ChangeNewTest      Change = "new_test"
	ChangeRemoved      Change = "removed"
)

// CaseTrend is one case's movement between the compared runs. Before
// and After are "passed", "failed", or "" when the case was absent
// from that run.
type CaseTrend struct {
	Name   string `json:"name"`
	Before string `json:"status_before,omitempty"`
	After  string `json:"status_after,omitempty"`
	Change Change `json:"change"`
}

// TrendSummary counts cases per change class.
type TrendSummary struct {
	NewFailures  int `json:"new_failures"`
	Fixed        int `json:"fixed"`
	StillFailing int `json:"still_failing"`
	StillPassing int `json:"still_passing"`
	NewTests     int `json:"new_tests"`
	Removed      int `json:"removed"`
}

// TrendReport is the full diff between two runs.
type TrendReport struct {
	BeforeRunID   string       `json:"before_run_id"`
	AfterRunID    string       `json:"after_run_id"`
	BeforeStarted time.Time    `json:"before_started"`
	AfterStarted  time.Time    `json:"after_started"`
	Cases         []CaseTrend  `json:"cases"`
	Summary       TrendSummary `json:"summary"`
}

// Regressed reports whether the newer run introduced failures.
func (t *TrendReport) Regressed() bool {
	return t.Summary.NewFailures > 0
}

// Compare diffs two runs case by case.
//
// A case is "passed" or "failed" per its verdict; timeouts and
// execution errors count as failed, matching how the run's own
// Success() treats them. Cases are reported in name order.
func Compare(before, after *assay.RunResult) *TrendReport {
	beforeStatus := statusMap(before)
	afterStatus := statusMap(after)

	names := make(map[string]struct{}, len(beforeStatus)+len(afterStatus))
	for name := range beforeStatus {
		names[name] = struct{}{}
	}
	for name := range afterStatus {
		names[name] = struct{}{}
	}
	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	tr := &TrendReport{
		BeforeRunID:   before.RunID,
		AfterRunID:    after.RunID,
		BeforeStarted: before.StartedAt,
		AfterStarted:  after.StartedAt,
		Cases:         make([]CaseTrend, 0, len(ordered)),
	}

	for _, name := range ordered {
		b, inBefore := beforeStatus[name]
		a, inAfter := afterStatus[name]

		var change Change
		switch {
		case !inBefore:
			change = ChangeNewTest
		case !inAfter:
			change = ChangeRemoved
		case b == "passed" && a == "failed":
			change = ChangeNewFailure
		case b == "failed" && a == "passed":
			change = ChangeFixed
		case b == "failed" && a == "failed":
			change = ChangeStillFailing
		default:
			change = ChangeStillPassing
		}

		tr.Cases = append(tr.Cases, CaseTrend{Name: name, Before: b, After: a, Change: change})
		switch change {
		case ChangeNewFailure:
			tr.Summary.NewFailures++
		case ChangeFixed:
			tr.Summary.Fixed++
		case ChangeStillFailing:
			tr.Summary.StillFailing++
		case ChangeStillPassing:
			tr.Summary.StillPassing++
		case ChangeNewTest:
			tr.Summary.NewTests++
		case ChangeRemoved:
			tr.Summary.Removed++
		}
	}
	return tr
}

func statusMap(result *assay.RunResult) map[string]string {
	m := make(map[string]string, len(result.Verdicts))
	for _, v := range result.Verdicts {
		if v.Passed {
			m[v.Case.Name] = "passed"
		} else {
			m[v.Case.Name] = "failed"
		}
	}
	return m
}
