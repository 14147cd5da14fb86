// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package explain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type stubProvider struct {
	calls int
	fail  bool
}

func (s *stubProvider) Explain(_ context.Context, fc FailureContext) (string, error) {
	s.calls++
	if s.fail {
		return "", fmt.Errorf("provider unavailable")
	}
	return "analysis for " + fc.TestName, nil
}

func (s *stubProvider) Name() string { return "stub" }

func newTestExplainer(p Provider) *Explainer {
	return &Explainer{
		cfg:      DefaultConfig(),
		provider: p,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func mcscfFailure() FailureContext {
	return FailureContext{
		TestName:       "test017",
		Ordinal:        17,
		ExitCode:       0,
		Mode:           "strict",
		PackageVersion: "1.0.5",
		Verdict: assay.ComparisonVerdict{
			Case:          assay.TestCase{Name: "test017", Ordinal: 17},
			FailedModules: []string{"mcscf"},
			MissingKeys:   []string{"GRAD.NORM"},
			ErrorEvents: []assay.ErrorEvent{
				{Line: 4812, Text: "Error: MCSCF not converged after 200 macro iterations", Module: "mcscf"},
			},
		},
	}
}

// =============================================================================
// PROMPT TESTS
// =============================================================================

func TestBuildPrompt_ModuleKnowledge(t *testing.T) {
	prompt := BuildPrompt(mcscfFailure())

	for _, want := range []string{
		"test017",
		"Package version: 1.0.5",
		"Tolerance mode: strict",
		"multi-configurational SCF",
		"analytic nuclear gradients",
		"MCSCF fails to converge",
		"GRAD.NORM",
		"line 4812 [mcscf]:",
		"1) Short TL;DR",
		"4) Notes on whether differences",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q\n%s", want, prompt)
		}
	}
}

func TestBuildPrompt_TDDFTNote(t *testing.T) {
	fc := FailureContext{
		TestName: "test101",
		Verdict: assay.ComparisonVerdict{
			Case: assay.TestCase{Name: "test101", Ordinal: 101},
			Mismatches: []assay.Mismatch{
				{
					Key:        "TDDFT.EXC_ENERGY",
					Occurrence: 0,
					Kind:       assay.MismatchNumeric,
					Generated:  "3.42",
					Reference:  "3.40",
					TokenIndex: 0,
					Tolerance:  1e-6,
					Delta:      0.02,
				},
			},
		},
	}
	prompt := BuildPrompt(fc)

	if !strings.Contains(prompt, "TDDFT.EXC_ENERGY[0] numeric: got 3.42, want 3.40") {
		t.Errorf("mismatch line not rendered:\n%s", prompt)
	}
	if !strings.Contains(prompt, "tolerance 1.000e-06") {
		t.Errorf("tolerance not rendered:\n%s", prompt)
	}
	if !strings.Contains(prompt, "changed default settings") {
		t.Errorf("TDDFT domain note missing:\n%s", prompt)
	}
}

func TestBuildPrompt_TimedOut(t *testing.T) {
	fc := FailureContext{
		TestName: "test042",
		ExitCode: -1,
		TimedOut: true,
		Verdict:  assay.ComparisonVerdict{Case: assay.TestCase{Name: "test042"}},
	}
	prompt := BuildPrompt(fc)
	if !strings.Contains(prompt, "killed at its time budget") {
		t.Errorf("timeout not mentioned:\n%s", prompt)
	}
}

func TestBuildPrompt_BoundsLongFindings(t *testing.T) {
	fc := FailureContext{TestName: "test999"}
	for i := 0; i < 40; i++ {
		fc.Verdict.Mismatches = append(fc.Verdict.Mismatches, assay.Mismatch{
			Key:        fmt.Sprintf("SCF.E%d", i),
			Kind:       assay.MismatchNumeric,
			Generated:  "1.0",
			Reference:  "2.0",
			TokenIndex: 0,
		})
		fc.Verdict.MissingKeys = append(fc.Verdict.MissingKeys, fmt.Sprintf("MP2.K%d", i))
	}
	prompt := BuildPrompt(fc)

	if !strings.Contains(prompt, fmt.Sprintf("and %d more", 40-maxPromptMismatches)) {
		t.Errorf("mismatch list not truncated:\n%s", prompt)
	}
	if strings.Contains(prompt, "SCF.E20[") {
		t.Errorf("mismatch past cap rendered:\n%s", prompt)
	}
	if !strings.Contains(prompt, fmt.Sprintf("and %d more", 40-maxPromptKeys)) {
		t.Errorf("key list not truncated:\n%s", prompt)
	}
}

func TestKeyModule(t *testing.T) {
	cases := map[string]string{
		"TDDFT.EXC_ENERGY": "TDDFT",
		"SCF.E_TOT":        "SCF",
		"GRADNORM":         "GRADNORM",
	}
	for key, want := range cases {
		if got := keyModule(key); got != want {
			t.Errorf("keyModule(%q) = %q, want %q", key, got, want)
		}
	}
}

// =============================================================================
// EXPLAINER TESTS
// =============================================================================

func TestNewExplainer_UnknownProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider = "copilot"
	if _, err := NewExplainer(cfg, nil); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestExplainer_ExplainRun(t *testing.T) {
	stub := &stubProvider{}
	e := newTestExplainer(stub)

	result := &assay.RunResult{
		Verdicts: []assay.ComparisonVerdict{
			{Case: assay.TestCase{Name: "test001", Ordinal: 1}, Passed: true, ExecutionOK: true},
			{Case: assay.TestCase{Name: "test002", Ordinal: 2}, ExecutionOK: true,
				MissingKeys: []string{"SCF.E_TOT"}},
		},
	}

	out := e.ExplainRun(context.Background(), result)
	if len(out) != 1 {
		t.Fatalf("expected 1 explanation, got %d", len(out))
	}
	if got := out["test002"]; got != "analysis for test002" {
		t.Errorf("unexpected explanation: %q", got)
	}
	if stub.calls != 1 {
		t.Errorf("provider called %d times, want 1", stub.calls)
	}
}

func TestExplainer_ExplainRun_ProviderErrorSkips(t *testing.T) {
	stub := &stubProvider{fail: true}
	e := newTestExplainer(stub)

	result := &assay.RunResult{
		Verdicts: []assay.ComparisonVerdict{
			{Case: assay.TestCase{Name: "test002", Ordinal: 2}, ExecutionOK: true},
		},
	}

	out := e.ExplainRun(context.Background(), result)
	if len(out) != 0 {
		t.Fatalf("expected no explanations, got %v", out)
	}
}

func TestExplainer_ExplainCase(t *testing.T) {
	e := newTestExplainer(&stubProvider{})
	result := &assay.RunResult{
		Verdicts: []assay.ComparisonVerdict{
			{Case: assay.TestCase{Name: "test001", Ordinal: 1}, Passed: true, ExecutionOK: true},
			{Case: assay.TestCase{Name: "test002", Ordinal: 2}, ExecutionOK: true},
		},
	}

	if _, err := e.ExplainCase(context.Background(), result, "test001"); !errors.Is(err, ErrCasePassed) {
		t.Errorf("expected ErrCasePassed, got %v", err)
	}
	if _, err := e.ExplainCase(context.Background(), result, "test404"); !errors.Is(err, ErrCaseNotFound) {
		t.Errorf("expected ErrCaseNotFound, got %v", err)
	}
	text, err := e.ExplainCase(context.Background(), result, "test002")
	if err != nil {
		t.Fatalf("ExplainCase: %v", err)
	}
	if text != "analysis for test002" {
		t.Errorf("unexpected explanation: %q", text)
	}
}

// =============================================================================
// LOG EXCERPT TESTS
// =============================================================================

func TestLogExcerpt_ShortLogVerbatim(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "case.log")
	content := "compass done\nscf converged\nError: mcscf diverged\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	e := newTestExplainer(&stubProvider{})
	got, err := e.logExcerpt(path)
	if err != nil {
		t.Fatalf("logExcerpt: %v", err)
	}
	if got != strings.TrimSpace(content) {
		t.Errorf("short log not returned verbatim: %q", got)
	}
}

func TestLogExcerpt_LongLogKeepsTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "case.log")

	var b strings.Builder
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&b, "iteration %4d  energy -76.02678%03d  delta 1.2e-07\n", i, i)
	}
	b.WriteString("Error: NMR module terminated abnormally\n")
	full := b.String()
	if err := os.WriteFile(path, []byte(full), 0o644); err != nil {
		t.Fatal(err)
	}

	e := newTestExplainer(&stubProvider{})
	e.cfg.ChunkSize = 2000
	e.cfg.ChunkOverlap = 100

	got, err := e.logExcerpt(path)
	if err != nil {
		t.Fatalf("logExcerpt: %v", err)
	}
	if len(got) >= len(full) {
		t.Errorf("excerpt not shortened: %d >= %d", len(got), len(full))
	}
	if !strings.Contains(got, "NMR module terminated abnormally") {
		t.Errorf("excerpt lost the final error line:\n%s", got)
	}
}

func TestReadTail_Bounded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.log")
	content := strings.Repeat("0123456789", 100)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := readTail(path, 100)
	if err != nil {
		t.Fatalf("readTail: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("tail length = %d, want 100", len(got))
	}
	if got != content[len(content)-100:] {
		t.Errorf("tail content mismatch")
	}
}

// =============================================================================
// OLLAMA PROVIDER TESTS
// =============================================================================

func TestOllamaProvider_Explain(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"qwen2.5:14b","created_at":"2025-08-25T10:00:00Z","response":"MCSCF did not converge.","done":true}`)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL
	p, err := NewOllamaProvider(cfg)
	if err != nil {
		t.Fatalf("NewOllamaProvider: %v", err)
	}

	text, err := p.Explain(context.Background(), mcscfFailure())
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if text != "MCSCF did not converge." {
		t.Errorf("unexpected response: %q", text)
	}
	if !strings.Contains(gotBody, `"model":"qwen2.5:14b"`) {
		t.Errorf("request missing model: %s", gotBody)
	}
	if !strings.Contains(gotBody, "test017") {
		t.Errorf("request missing prompt content: %s", gotBody)
	}
	if !strings.Contains(gotBody, `"stream":false`) {
		t.Errorf("request did not disable streaming: %s", gotBody)
	}
}

func TestOllamaProvider_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'missing:7b' not found, try pulling it first"}`)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL
	cfg.Model = "missing:7b"
	p, err := NewOllamaProvider(cfg)
	if err != nil {
		t.Fatalf("NewOllamaProvider: %v", err)
	}

	_, err = p.Explain(context.Background(), FailureContext{TestName: "test001"})
	if err == nil || !strings.Contains(err.Error(), "ollama pull missing:7b") {
		t.Fatalf("expected pull hint, got %v", err)
	}
}

func TestNewOllamaProvider_SchemePrepended(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoint = "localhost:11434/"
	p, err := NewOllamaProvider(cfg)
	if err != nil {
		t.Fatalf("NewOllamaProvider: %v", err)
	}
	if p.baseURL != "http://localhost:11434" {
		t.Errorf("baseURL = %q", p.baseURL)
	}
}

func TestNewOllamaProvider_RequiresEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoint = ""
	if _, err := NewOllamaProvider(cfg); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

// =============================================================================
// API KEY TESTS
// =============================================================================

func TestLoadAPIKey_Missing(t *testing.T) {
	t.Setenv("ASSAY_EXPLAIN_TEST_KEY", "")
	if _, err := LoadAPIKey("ASSAY_EXPLAIN_TEST_KEY"); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestLoadAPIKey_FromEnv(t *testing.T) {
	t.Setenv("ASSAY_EXPLAIN_TEST_KEY", "  sk-test-123 \n")
	key, err := LoadAPIKey("ASSAY_EXPLAIN_TEST_KEY")
	if err != nil {
		t.Fatalf("LoadAPIKey: %v", err)
	}
	buf, err := key.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer buf.Destroy()
	if buf.String() != "sk-test-123" {
		t.Errorf("key = %q, want trimmed value", buf.String())
	}
}
