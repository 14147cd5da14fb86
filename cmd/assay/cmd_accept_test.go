// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// acceptFixture builds a run with one passed case, one failed case
// whose check file exists, and one failed case whose work tree is
// gone.
func acceptFixture(t *testing.T) (*assay.RunResult, string) {
	t.Helper()
	workRoot := t.TempDir()

	runID := "run42"
	caseDir := filepath.Join(workRoot, runID, "test002")
	if err := os.MkdirAll(caseDir, 0o755); err != nil {
		t.Fatal(err)
	}
	checkFile := filepath.Join(caseDir, "test002.check")
	if err := os.WriteFile(checkFile, []byte("CHECKDATA:SCF:E -76.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := &assay.RunResult{
		RunID: runID,
		Verdicts: []assay.ComparisonVerdict{
			{Case: assay.TestCase{Name: "test001", Ordinal: 1}, Passed: true, ExecutionOK: true},
			{
				Case:        assay.TestCase{Name: "test002", Ordinal: 2},
				Passed:      false,
				ExecutionOK: true,
				CheckFile:   checkFile,
				Mismatches: []assay.Mismatch{
					{Key: "SCF.E", Kind: assay.MismatchNumeric},
				},
			},
			{Case: assay.TestCase{Name: "test003", Ordinal: 3}, Passed: false, ExecutionOK: true},
		},
		Passed: 1,
		Failed: 2,
	}
	return result, workRoot
}

func TestAcceptCandidates(t *testing.T) {
	result, workRoot := acceptFixture(t)

	got := acceptCandidates(result, workRoot, ".check")
	if len(got) != 1 {
		t.Fatalf("candidates = %d, want 1 (passed and missing-file cases excluded)", len(got))
	}
	if got[0].Name != "test002" {
		t.Errorf("candidate = %s, want test002", got[0].Name)
	}
	if got[0].Detail != "1 mismatches" {
		t.Errorf("detail = %q, want mismatch count", got[0].Detail)
	}
}

func TestPickAcceptCases_ExplicitArgs(t *testing.T) {
	result, workRoot := acceptFixture(t)
	candidates := acceptCandidates(result, workRoot, ".check")

	picked, err := pickAcceptCases(result, candidates, []string{"test002"})
	if err != nil {
		t.Fatalf("pickAcceptCases: %v", err)
	}
	if len(picked) != 1 || picked[0].Name != "test002" {
		t.Errorf("picked = %v, want [test002]", picked)
	}
}

func TestPickAcceptCases_RefusesPassedCase(t *testing.T) {
	result, workRoot := acceptFixture(t)
	candidates := acceptCandidates(result, workRoot, ".check")

	_, err := pickAcceptCases(result, candidates, []string{"test001"})
	if err == nil {
		t.Fatal("expected refusal for a passed case, got nil")
	}
	if !strings.Contains(err.Error(), "passed") {
		t.Errorf("error = %q, want mention that the case passed", err)
	}
}

func TestPickAcceptCases_MissingCheckFile(t *testing.T) {
	result, workRoot := acceptFixture(t)
	candidates := acceptCandidates(result, workRoot, ".check")

	_, err := pickAcceptCases(result, candidates, []string{"test003"})
	if err == nil {
		t.Fatal("expected error for a case without a check file, got nil")
	}
	if !strings.Contains(err.Error(), "no check file") {
		t.Errorf("error = %q, want missing check file message", err)
	}
}

func TestPickAcceptCases_RejectsTraversal(t *testing.T) {
	result, workRoot := acceptFixture(t)
	candidates := acceptCandidates(result, workRoot, ".check")

	_, err := pickAcceptCases(result, candidates, []string{"../test002"})
	if err == nil {
		t.Fatal("expected error for a path-like case name, got nil")
	}
	if !strings.Contains(err.Error(), "invalid") {
		t.Errorf("error = %q, want validation message", err)
	}
}

func TestPickAcceptCases_Force(t *testing.T) {
	result, workRoot := acceptFixture(t)
	candidates := acceptCandidates(result, workRoot, ".check")

	saved := acceptForce
	acceptForce = true
	t.Cleanup(func() { acceptForce = saved })

	picked, err := pickAcceptCases(result, candidates, nil)
	if err != nil {
		t.Fatalf("pickAcceptCases: %v", err)
	}
	if len(picked) != len(candidates) {
		t.Errorf("picked = %d, want all %d candidates", len(picked), len(candidates))
	}
}

func TestCopyFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.check")
	if err := os.WriteFile(src, []byte("CHECKDATA:HF:ENERGY -76.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(t.TempDir(), "refs", "test001.check")

	if err := copyFile(src, dst); err != nil {
		t.Fatalf("copyFile: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "CHECKDATA:HF:ENERGY -76.0\n" {
		t.Errorf("dst content = %q", data)
	}
}
