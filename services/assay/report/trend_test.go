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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// run builds a minimal RunResult from case name to passed.
func run(id string, statuses map[string]bool) *assay.RunResult {
	r := &assay.RunResult{RunID: id}
	for name, passed := range statuses {
		r.Verdicts = append(r.Verdicts, assay.ComparisonVerdict{
			Case:   assay.TestCase{Name: name},
			Passed: passed,
		})
	}
	return r
}

func TestCompare_AllChangeClasses(t *testing.T) {
	before := run("run-a", map[string]bool{
		"test001": true,  // stays green
		"test002": true,  // regresses
		"test003": false, // gets fixed
		"test004": false, // stays red
		"test005": true,  // removed
	})
	after := run("run-b", map[string]bool{
		"test001": true,
		"test002": false,
		"test003": true,
		"test004": false,
		"test006": true, // new
	})

	tr := Compare(before, after)
	require.Len(t, tr.Cases, 6)

	byName := make(map[string]CaseTrend, len(tr.Cases))
	for _, c := range tr.Cases {
		byName[c.Name] = c
	}
	assert.Equal(t, ChangeStillPassing, byName["test001"].Change)
	assert.Equal(t, ChangeNewFailure, byName["test002"].Change)
	assert.Equal(t, ChangeFixed, byName["test003"].Change)
	assert.Equal(t, ChangeStillFailing, byName["test004"].Change)
	assert.Equal(t, ChangeRemoved, byName["test005"].Change)
	assert.Equal(t, ChangeNewTest, byName["test006"].Change)

	assert.Equal(t, TrendSummary{
		NewFailures:  1,
		Fixed:        1,
		StillFailing: 1,
		StillPassing: 1,
		NewTests:     1,
		Removed:      1,
	}, tr.Summary)
	assert.True(t, tr.Regressed())

	// Absent statuses stay empty rather than inventing one.
	assert.Equal(t, "", byName["test006"].Before)
	assert.Equal(t, "passed", byName["test006"].After)
	assert.Equal(t, "passed", byName["test005"].Before)
	assert.Equal(t, "", byName["test005"].After)
}

func TestCompare_SortedByName(t *testing.T) {
	before := run("a", map[string]bool{"test010": true, "test002": true})
	after := run("b", map[string]bool{"test010": true, "test002": true, "test001": true})

	tr := Compare(before, after)
	require.Len(t, tr.Cases, 3)
	assert.Equal(t, "test001", tr.Cases[0].Name)
	assert.Equal(t, "test002", tr.Cases[1].Name)
	assert.Equal(t, "test010", tr.Cases[2].Name)
	assert.False(t, tr.Regressed())
}

func TestCompare_IdenticalRuns(t *testing.T) {
	statuses := map[string]bool{"test001": true, "test002": false}
	tr := Compare(run("a", statuses), run("b", statuses))

	assert.Equal(t, 1, tr.Summary.StillPassing)
	assert.Equal(t, 1, tr.Summary.StillFailing)
	assert.Equal(t, 0, tr.Summary.NewFailures)
	assert.False(t, tr.Regressed())
}
