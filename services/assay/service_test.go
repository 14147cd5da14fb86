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
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// serviceFixture builds a two-case suite: test001 reproduces its
// reference, test002 drifts beyond the HF.ENERGY tolerance.
func serviceFixture(t *testing.T) *Config {
	t.Helper()
	inputDir := t.TempDir()
	refDir := t.TempDir()

	for _, name := range []string{"test001.inp", "test002.inp"} {
		if err := os.WriteFile(filepath.Join(inputDir, name), []byte("deck\n"), 0o640); err != nil {
			t.Fatal(err)
		}
	}
	refs := map[string]string{
		"test001.check": "CHECKDATA:HF:ENERGY -76.02676543\n",
		"test002.check": "CHECKDATA:HF:ENERGY -99.00000000\n",
	}
	for name, content := range refs {
		if err := os.WriteFile(filepath.Join(refDir, name), []byte(content), 0o640); err != nil {
			t.Fatal(err)
		}
	}

	cfg := DefaultConfig()
	cfg.PackageHome = "/opt/solver"
	cfg.InputDir = inputDir
	cfg.ReferenceDir = refDir
	cfg.WorkRoot = t.TempDir()
	cfg.ScratchRoot = filepath.Join(t.TempDir(), "scratch-$RANDOM")
	cfg.Timeout = 5 * time.Second
	cfg.MaxParallel = 2
	return cfg
}

// fakeSolver simulates the package under test: it writes a log whose
// markers depend on the case name.
func fakeSolver() *MockCaseExecutor {
	logs := map[string]string{
		"test001": strings.Join([]string{
			"start running module scf",
			"CHECKDATA:HF:ENERGY -76.02676543",
			"end running module scf",
		}, "\n") + "\n",
		"test002": "CHECKDATA:HF:ENERGY -100.00000000\n",
	}
	return &MockCaseExecutor{
		ExecuteFunc: func(ctx context.Context, spec ExecutionSpec) RawOutcome {
			name := strings.TrimSuffix(filepath.Base(spec.LogFile), ".log")
			if err := os.WriteFile(spec.LogFile, []byte(logs[name]), 0o640); err != nil {
				return RawOutcome{ExitCode: -1, Err: err.Error()}
			}
			return RawOutcome{
				ExitCode: 0,
				LogFile:  spec.LogFile,
				Started:  time.Now(),
				Finished: time.Now(),
			}
		},
	}
}

// =============================================================================
// SERVICE TESTS
// =============================================================================

func TestService_Run(t *testing.T) {
	cfg := serviceFixture(t)
	mock := fakeSolver()
	svc, err := NewService(cfg, nil, WithExecutor(mock))
	if err != nil {
		t.Fatalf("NewService() = %v", err)
	}

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if result.State != StateDone {
		t.Errorf("State = %s, want done", result.State)
	}
	if len(result.RunID) != 8 {
		t.Errorf("RunID = %q, want 8-char id", result.RunID)
	}
	if len(result.Verdicts) != 2 {
		t.Fatalf("verdicts = %d, want 2", len(result.Verdicts))
	}
	if result.Passed != 1 || result.Failed != 1 {
		t.Errorf("tallies = %d passed / %d failed, want 1/1", result.Passed, result.Failed)
	}

	v1, v2 := result.Verdicts[0], result.Verdicts[1]
	if v1.Case.Name != "test001" || !v1.Passed {
		t.Errorf("test001 = %+v, want pass", v1.Status())
	}
	if v2.Case.Name != "test002" || v2.Passed {
		t.Errorf("test002 = %s, want fail", v2.Status())
	}
	if len(v2.Mismatches) != 1 || v2.Mismatches[0].Key != "HF.ENERGY" {
		t.Errorf("test002 mismatches = %+v, want one on HF.ENERGY", v2.Mismatches)
	}

	if calls := mock.GetCalls(); len(calls) != 2 {
		t.Errorf("executor calls = %d, want 2", len(calls))
	}

	// The check artifact pairs with the log in the work directory.
	check := filepath.Join(cfg.WorkRoot, result.RunID, "test001", "test001.check")
	if _, err := os.Stat(check); err != nil {
		t.Errorf("check artifact missing: %v", err)
	}
	if v1.CheckFile != check {
		t.Errorf("CheckFile = %s, want %s", v1.CheckFile, check)
	}
}

func TestService_RunNilContext(t *testing.T) {
	svc, err := NewService(serviceFixture(t), nil, WithExecutor(fakeSolver()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Run(nil); !errors.Is(err, ErrNilContext) {
		t.Errorf("Run(nil) = %v, want ErrNilContext", err)
	}
}

// =============================================================================
// BUILD GATE
// =============================================================================

func TestService_BuildGate(t *testing.T) {
	t.Run("failed build aborts before any case", func(t *testing.T) {
		cfg := serviceFixture(t)
		manifest := filepath.Join(t.TempDir(), "build.json")
		if err := os.WriteFile(manifest, []byte(`{"success":false,"version":"r1890"}`), 0o640); err != nil {
			t.Fatal(err)
		}
		cfg.BuildManifest = manifest

		mock := fakeSolver()
		svc, err := NewService(cfg, nil, WithExecutor(mock))
		if err != nil {
			t.Fatal(err)
		}

		result, err := svc.Run(context.Background())
		if !errors.Is(err, ErrBuildGate) {
			t.Fatalf("Run() = %v, want ErrBuildGate", err)
		}
		if result.State != StateAborted {
			t.Errorf("State = %s, want aborted", result.State)
		}
		if len(result.Verdicts) != 0 {
			t.Errorf("verdicts = %d, want 0 (no partial execution)", len(result.Verdicts))
		}
		if calls := mock.GetCalls(); len(calls) != 0 {
			t.Errorf("executor calls = %d, want 0", len(calls))
		}
	})

	t.Run("manifest overrides home and records version", func(t *testing.T) {
		cfg := serviceFixture(t)
		manifest := filepath.Join(t.TempDir(), "build.json")
		content := `{"success":true,"home":"/opt/solver-r1891","version":"r1891"}`
		if err := os.WriteFile(manifest, []byte(content), 0o640); err != nil {
			t.Fatal(err)
		}
		cfg.BuildManifest = manifest

		mock := fakeSolver()
		svc, err := NewService(cfg, nil, WithExecutor(mock))
		if err != nil {
			t.Fatal(err)
		}

		result, err := svc.Run(context.Background())
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
		if result.PackageVersion != "r1891" {
			t.Errorf("PackageVersion = %q, want r1891", result.PackageVersion)
		}
		calls := mock.GetCalls()
		if len(calls) == 0 {
			t.Fatal("executor never called")
		}
		if home := calls[0].Env["PKG_HOME"]; home != "/opt/solver-r1891" {
			t.Errorf("PKG_HOME = %q, want manifest override", home)
		}
	})

	t.Run("unreadable manifest aborts when required", func(t *testing.T) {
		cfg := serviceFixture(t)
		cfg.BuildManifest = filepath.Join(t.TempDir(), "absent.json")

		svc, err := NewService(cfg, nil, WithExecutor(fakeSolver()))
		if err != nil {
			t.Fatal(err)
		}
		result, err := svc.Run(context.Background())
		if !errors.Is(err, ErrManifestUnreadable) {
			t.Fatalf("Run() = %v, want ErrManifestUnreadable", err)
		}
		if result.State != StateAborted {
			t.Errorf("State = %s, want aborted", result.State)
		}
	})

	t.Run("unreadable manifest skipped when not required", func(t *testing.T) {
		cfg := serviceFixture(t)
		cfg.BuildManifest = filepath.Join(t.TempDir(), "absent.json")
		cfg.RequireBuildOK = false

		svc, err := NewService(cfg, nil, WithExecutor(fakeSolver()))
		if err != nil {
			t.Fatal(err)
		}
		result, err := svc.Run(context.Background())
		if err != nil {
			t.Fatalf("Run() = %v, want gate skipped", err)
		}
		if result.State != StateDone {
			t.Errorf("State = %s, want done", result.State)
		}
	})
}

// =============================================================================
// EDGE CASES
// =============================================================================

func TestService_MissingReference(t *testing.T) {
	cfg := serviceFixture(t)
	if err := os.Remove(filepath.Join(cfg.ReferenceDir, "test001.check")); err != nil {
		t.Fatal(err)
	}

	svc, err := NewService(cfg, nil, WithExecutor(fakeSolver()))
	if err != nil {
		t.Fatal(err)
	}
	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}

	v := result.Verdicts[0]
	if v.Case.Name != "test001" {
		t.Fatalf("verdicts[0] = %s", v.Case.Name)
	}
	if v.Passed {
		t.Error("a case without a readable reference must not pass")
	}
	found := false
	for _, w := range v.Warnings {
		if strings.Contains(w.Reason, "reference") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %+v, want reference warning", v.Warnings)
	}
}

func TestService_TimeoutTally(t *testing.T) {
	cfg := serviceFixture(t)
	mock := &MockCaseExecutor{
		ExecuteFunc: func(ctx context.Context, spec ExecutionSpec) RawOutcome {
			name := strings.TrimSuffix(filepath.Base(spec.LogFile), ".log")
			if name == "test002" {
				return RawOutcome{ExitCode: -1, TimedOut: true, LogFile: spec.LogFile}
			}
			os.WriteFile(spec.LogFile, []byte("CHECKDATA:HF:ENERGY -76.02676543\n"), 0o640)
			return RawOutcome{ExitCode: 0, LogFile: spec.LogFile}
		},
	}

	svc, err := NewService(cfg, nil, WithExecutor(mock))
	if err != nil {
		t.Fatal(err)
	}
	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if result.Passed != 1 || result.TimedOut != 1 {
		t.Errorf("tallies = %+v, want 1 passed / 1 timed out", result)
	}
	if result.Verdicts[1].Status() != "timeout" {
		t.Errorf("test002 status = %s, want timeout", result.Verdicts[1].Status())
	}
}

// =============================================================================
// TARGETED OPERATIONS
// =============================================================================

func TestService_LookupCase(t *testing.T) {
	svc, err := NewService(serviceFixture(t), nil, WithExecutor(fakeSolver()))
	if err != nil {
		t.Fatal(err)
	}

	tc, err := svc.LookupCase("test002")
	if err != nil || tc.Ordinal != 2 {
		t.Errorf("LookupCase(test002) = %+v, %v", tc, err)
	}
	if _, err := svc.LookupCase("test404"); !errors.Is(err, ErrUnknownCase) {
		t.Errorf("err = %v, want ErrUnknownCase", err)
	}
}

func TestService_RunCase(t *testing.T) {
	svc, err := NewService(serviceFixture(t), nil, WithExecutor(fakeSolver()))
	if err != nil {
		t.Fatal(err)
	}
	tc, err := svc.LookupCase("test001")
	if err != nil {
		t.Fatal(err)
	}

	v, err := svc.RunCase(context.Background(), tc)
	if err != nil {
		t.Fatalf("RunCase() = %v", err)
	}
	if !v.Passed {
		t.Errorf("verdict = %s, want pass", v.Status())
	}
}

func TestService_CompareLog(t *testing.T) {
	cfg := serviceFixture(t)
	svc, err := NewService(cfg, nil, WithExecutor(fakeSolver()))
	if err != nil {
		t.Fatal(err)
	}
	tc, err := svc.LookupCase("test001")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("existing log", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "test001.log")
		if err := os.WriteFile(logPath, []byte("CHECKDATA:HF:ENERGY -76.02676543\n"), 0o640); err != nil {
			t.Fatal(err)
		}
		v, err := svc.CompareLog(context.Background(), tc, logPath)
		if err != nil {
			t.Fatalf("CompareLog() = %v", err)
		}
		if !v.Passed {
			t.Errorf("verdict = %s, want pass", v.Status())
		}
	})

	t.Run("missing log", func(t *testing.T) {
		_, err := svc.CompareLog(context.Background(), tc, filepath.Join(t.TempDir(), "absent.log"))
		if !errors.Is(err, ErrNoLog) {
			t.Errorf("err = %v, want ErrNoLog", err)
		}
	})
}

func TestNewService_Validation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = "fuzzy"
	if _, err := NewService(cfg, nil); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("NewService(bad mode) = %v, want ErrUnknownMode", err)
	}

	svc, err := NewService(nil, nil)
	if err != nil || svc == nil {
		t.Errorf("NewService(nil, nil) = %v, want defaults", err)
	}
}
