// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// watchFixture builds a one-case suite whose fake solver reproduces
// the reference exactly.
func watchFixture(t *testing.T) *assay.Service {
	t.Helper()
	inputDir := t.TempDir()
	refDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(inputDir, "test001.inp"), []byte("deck\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	ref := "CHECKDATA:HF:ENERGY -76.02676543\n"
	if err := os.WriteFile(filepath.Join(refDir, "test001.check"), []byte(ref), 0o640); err != nil {
		t.Fatal(err)
	}

	cfg := assay.DefaultConfig()
	cfg.PackageHome = "/opt/solver"
	cfg.InputDir = inputDir
	cfg.ReferenceDir = refDir
	cfg.WorkRoot = t.TempDir()
	cfg.ScratchRoot = filepath.Join(t.TempDir(), "scratch-$RANDOM")
	cfg.Timeout = 5 * time.Second

	mock := &assay.MockCaseExecutor{
		ExecuteFunc: func(ctx context.Context, spec assay.ExecutionSpec) assay.RawOutcome {
			log := "start running module scf\n" + ref + "end running module scf\n"
			if err := os.WriteFile(spec.LogFile, []byte(log), 0o640); err != nil {
				return assay.RawOutcome{ExitCode: -1, Err: err.Error()}
			}
			return assay.RawOutcome{ExitCode: 0, LogFile: spec.LogFile}
		},
	}

	svc, err := assay.NewService(cfg, nil, assay.WithExecutor(mock))
	if err != nil {
		t.Fatalf("NewService() = %v", err)
	}
	return svc
}

func TestWatcher_RerunsChangedCase(t *testing.T) {
	svc := watchFixture(t)

	verdicts := make(chan assay.ComparisonVerdict, 4)
	w, err := NewWatcher(svc, func(v assay.ComparisonVerdict) {
		verdicts <- v
	}, nil, &Options{Debounce: 50 * time.Millisecond, BufferSize: 8})
	if err != nil {
		t.Fatalf("NewWatcher() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	// Let Run register the directory before touching the deck.
	time.Sleep(200 * time.Millisecond)

	deck := filepath.Join(svc.Config().InputDir, "test001.inp")
	if err := os.WriteFile(deck, []byte("deck v2\n"), 0o640); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-verdicts:
		if v.Case.Name != "test001" {
			t.Errorf("rerun case = %s, want test001", v.Case.Name)
		}
		if !v.Passed {
			t.Errorf("rerun status = %s, want pass", v.Status())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no verdict after deck change")
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run() = %v, want clean shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	svc := watchFixture(t)

	verdicts := make(chan assay.ComparisonVerdict, 16)
	w, err := NewWatcher(svc, func(v assay.ComparisonVerdict) {
		verdicts <- v
	}, nil, &Options{Debounce: 300 * time.Millisecond, BufferSize: 8})
	if err != nil {
		t.Fatalf("NewWatcher() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	time.Sleep(200 * time.Millisecond)

	// An editor-style burst: several writes inside one debounce window.
	deck := filepath.Join(svc.Config().InputDir, "test001.inp")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(deck, []byte(strings.Repeat("x", i+1)+"\n"), 0o640); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-verdicts:
	case <-time.After(5 * time.Second):
		t.Fatal("no verdict after burst")
	}

	// The burst must have collapsed into exactly one rerun.
	select {
	case v := <-verdicts:
		t.Errorf("second rerun for one burst: %+v", v.Case.Name)
	case <-time.After(600 * time.Millisecond):
	}
}

func TestWatcher_IgnoresNonMatchingFiles(t *testing.T) {
	svc := watchFixture(t)

	verdicts := make(chan assay.ComparisonVerdict, 4)
	w, err := NewWatcher(svc, func(v assay.ComparisonVerdict) {
		verdicts <- v
	}, nil, &Options{Debounce: 50 * time.Millisecond, BufferSize: 8})
	if err != nil {
		t.Fatalf("NewWatcher() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	time.Sleep(200 * time.Millisecond)

	stray := filepath.Join(svc.Config().InputDir, "notes.txt")
	if err := os.WriteFile(stray, []byte("scratch\n"), 0o640); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-verdicts:
		t.Errorf("stray file triggered rerun of %s", v.Case.Name)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	svc := watchFixture(t)
	w, err := NewWatcher(svc, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewWatcher() = %v", err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_NilContext(t *testing.T) {
	svc := watchFixture(t)
	w, err := NewWatcher(svc, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewWatcher() = %v", err)
	}
	defer w.Stop()

	//nolint:staticcheck // nil context is the case under test
	if err := w.Run(nil); err != assay.ErrNilContext {
		t.Errorf("Run(nil) = %v, want ErrNilContext", err)
	}
}
