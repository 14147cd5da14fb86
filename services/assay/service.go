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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// BUILD GATE
// =============================================================================

// BuildManifest is the JSON summary the external build pipeline
// writes when it finishes compiling the package under test.
type BuildManifest struct {
	// Success is false when the build or its smoke checks failed.
	Success bool `json:"success"`

	// Home optionally overrides the configured package home.
	Home string `json:"home,omitempty"`

	// Version is the package version string, recorded on RunResult.
	Version string `json:"version,omitempty"`

	// FinishedAt is when the build completed, informational only.
	FinishedAt string `json:"finished_at,omitempty"`
}

// readBuildManifest loads and parses a build manifest file.
func readBuildManifest(path string) (*BuildManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestUnreadable, path, err)
	}
	var m BuildManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestUnreadable, path, err)
	}
	return &m, nil
}

// =============================================================================
// SERVICE
// =============================================================================

// Service orchestrates the full regression pipeline: selection,
// sandboxed execution, extraction, comparison, and aggregation.
//
// # Thread Safety
//
// One run at a time per Service; concurrent Run calls return
// ErrAlreadyRunning. Read-only helpers are safe at any time.
type Service struct {
	cfg        *Config
	selector   *Selector
	sandbox    *Sandbox
	executor   CaseExecutor
	extractor  *Extractor
	comparator *Comparator
	notify     func(ComparisonVerdict)
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
}

// ServiceOption customizes Service construction.
type ServiceOption func(*Service)

// WithExecutor replaces the subprocess executor, used by tests to
// avoid real processes.
func WithExecutor(e CaseExecutor) ServiceOption {
	return func(s *Service) { s.executor = e }
}

// WithNotify registers a per-verdict progress hook, invoked serially
// as cases complete.
func WithNotify(fn func(ComparisonVerdict)) ServiceOption {
	return func(s *Service) { s.notify = fn }
}

// NewService creates a regression service.
//
// Inputs:
//
//	cfg - Engine configuration; nil uses DefaultConfig.
//	logger - Structured logger; nil uses slog.Default.
//	opts - Optional customizations.
//
// Outputs:
//
//	*Service - Ready service.
//	error - ConfigError when validation or rule compilation fails.
func NewService(cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	extractor, err := NewExtractor(cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		selector:   NewSelector(cfg, logger),
		sandbox:    NewSandbox(cfg, logger),
		executor:   NewDefaultCaseExecutor(logger),
		extractor:  extractor,
		comparator: NewComparator(cfg),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the validated engine configuration.
func (s *Service) Config() *Config {
	return s.cfg
}

// Cases returns the selected test cases without executing anything.
func (s *Service) Cases() ([]TestCase, error) {
	all, err := s.selector.Discover()
	if err != nil {
		return nil, err
	}
	return s.selector.Select(all)
}

// LookupCase finds one discovered case by label.
func (s *Service) LookupCase(name string) (TestCase, error) {
	all, err := s.selector.Discover()
	if err != nil {
		return TestCase{}, err
	}
	for _, tc := range all {
		if tc.Name == name {
			return tc, nil
		}
	}
	return TestCase{}, fmt.Errorf("%w: %s", ErrUnknownCase, name)
}

// IsRunning reports whether a run is in flight.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Run executes the full regression pipeline.
//
// Description:
//
//	Applies the build gate, discovers and selects cases, fans them
//	out to the bounded scheduler, and aggregates verdicts sorted by
//	ordinal. The run state machine is
//	pending → running → aggregating → done, with aborted reachable
//	from pending when the build gate refuses the run.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//
// Outputs:
//
//	*RunResult - Aggregate result; non-nil whenever a run was started
//	             or aborted by the gate.
//	error - ErrBuildGate/ErrManifestUnreadable on gate refusal,
//	        selection ConfigErrors, ErrAlreadyRunning on overlap.
func (s *Service) Run(ctx context.Context) (*RunResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	runID := uuid.New().String()[:8]
	result := &RunResult{RunID: runID, State: StatePending, Mode: s.cfg.Mode}

	s.logger.Info("starting regression run",
		slog.String("run_id", runID),
		slog.String("mode", s.cfg.Mode),
		slog.Int("max_parallel", s.cfg.MaxParallel),
		slog.Int("threads", s.sandbox.Threads()),
		slog.String("scratch_root", s.sandbox.ScratchRoot()),
	)

	if s.cfg.BuildManifest != "" {
		if err := s.applyBuildGate(result); err != nil {
			s.transition(result, nil, StateAborted)
			return result, err
		}
	}

	all, err := s.selector.Discover()
	if err != nil {
		return nil, err
	}
	cases, err := s.selector.Select(all)
	if err != nil {
		return nil, err
	}

	ctx, span := startRunSpan(ctx, runID, s.cfg.Mode, len(cases))
	defer span.End()

	result.StartedAt = time.Now()
	s.transition(result, span, StateRunning)

	sched := NewScheduler(s.cfg.MaxParallel, s.notify, s.logger)
	verdicts := sched.Run(ctx, cases, s.caseFunc(runID))

	s.transition(result, span, StateAggregating)
	result.Verdicts = verdicts
	for _, v := range verdicts {
		switch v.Status() {
		case "pass":
			result.Passed++
		case "timeout":
			result.TimedOut++
		case "error":
			result.Errored++
		default:
			result.Failed++
		}
	}
	result.FinishedAt = time.Now()
	s.transition(result, span, StateDone)

	setRunSpanResult(span, result)
	recordRunMetrics(ctx, result)

	s.logger.Info("regression run complete",
		slog.String("run_id", runID),
		slog.String("final_state", result.State.String()),
		slog.Int("passed", result.Passed),
		slog.Int("failed", result.Failed),
		slog.Int("timed_out", result.TimedOut),
		slog.Int("errored", result.Errored),
		slog.Duration("duration", result.Duration()),
	)
	return result, nil
}

// applyBuildGate enforces the build manifest before any case starts.
func (s *Service) applyBuildGate(result *RunResult) error {
	manifest, err := readBuildManifest(s.cfg.BuildManifest)
	if err != nil {
		if s.cfg.RequireBuildOK {
			return err
		}
		s.logger.Warn("build manifest unreadable, gate disabled by config",
			slog.String("manifest", s.cfg.BuildManifest),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if !manifest.Success {
		return fmt.Errorf("%w: manifest %s reports failure", ErrBuildGate, s.cfg.BuildManifest)
	}
	if manifest.Home != "" {
		s.logger.Info("build manifest overrides package home",
			slog.String("home", manifest.Home))
		s.cfg.PackageHome = manifest.Home
	}
	result.PackageVersion = manifest.Version
	return nil
}

// RunCase executes one case end to end outside a full run, used by
// the watch loop and by targeted reruns.
func (s *Service) RunCase(ctx context.Context, tc TestCase) (ComparisonVerdict, error) {
	if ctx == nil {
		return ComparisonVerdict{}, ErrNilContext
	}
	runID := uuid.New().String()[:8]
	return s.caseFunc(runID)(ctx, tc), nil
}

// CompareLog re-extracts and re-compares an existing log without
// executing anything.
//
// Inputs:
//
//	ctx - Context for tracing.
//	tc - The case the log belongs to.
//	logPath - Existing solver log.
//
// Outputs:
//
//	ComparisonVerdict - Verdict with a synthetic normal outcome; only
//	                    comparison findings decide it.
//	error - ErrNoLog when the log does not exist.
func (s *Service) CompareLog(ctx context.Context, tc TestCase, logPath string) (ComparisonVerdict, error) {
	if ctx == nil {
		return ComparisonVerdict{}, ErrNilContext
	}
	ctx, span := startCaseSpan(ctx, tc.Name, tc.Ordinal)
	defer span.End()

	checkPath := filepath.Join(filepath.Dir(logPath), tc.Name+s.cfg.CheckSuffix)
	gen, err := s.extractor.ExtractFile(logPath, checkPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ComparisonVerdict{}, err
	}

	outcome := RawOutcome{ExitCode: 0, LogFile: logPath}
	v := s.compareExtraction(tc, outcome, gen)
	setCaseSpanResult(span, v)
	return v, nil
}

// caseFunc builds the per-case pipeline for one run.
func (s *Service) caseFunc(runID string) CaseFunc {
	return func(ctx context.Context, tc TestCase) ComparisonVerdict {
		ctx, span := startCaseSpan(ctx, tc.Name, tc.Ordinal)
		defer span.End()
		started := time.Now()

		spec, err := s.sandbox.Prepare(runID, tc)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error("case staging failed",
				slog.String("case", tc.Name),
				slog.String("error", err.Error()),
			)
			v := ComparisonVerdict{
				Case:    tc,
				Outcome: RawOutcome{ExitCode: -1, Err: err.Error()},
			}
			setCaseSpanResult(span, v)
			return v
		}
		defer s.sandbox.Cleanup(spec)

		outcome := s.executor.Execute(ctx, spec)
		if !outcome.Normal() {
			execErr := classifyOutcome(tc.Name, outcome)
			span.RecordError(execErr)
			s.logger.Warn("case execution abnormal",
				slog.String("case", tc.Name),
				slog.String("category", string(execErr.Category)),
				slog.Int("exit_code", outcome.ExitCode),
				slog.Duration("duration", outcome.Duration),
			)
		}

		var gen Extraction
		if outcome.LogFile != "" {
			checkPath := filepath.Join(spec.WorkDir, tc.Name+s.cfg.CheckSuffix)
			gen, err = s.extractor.ExtractFile(outcome.LogFile, checkPath)
			if err != nil && !errors.Is(err, ErrNoLog) {
				s.logger.Warn("extraction failed",
					slog.String("case", tc.Name),
					slog.String("error", err.Error()),
				)
			}
		}

		v := s.compareExtraction(tc, outcome, gen)
		setCaseSpanResult(span, v)
		recordCaseMetrics(ctx, v, time.Since(started))

		s.logger.Info("case complete",
			slog.String("run_id", runID),
			slog.String("case", tc.Name),
			slog.String("status", v.Status()),
			slog.Int("mismatches", len(v.Mismatches)),
			slog.Duration("duration", outcome.Duration),
		)
		return v
	}
}

// compareExtraction loads the reference and produces the verdict.
func (s *Service) compareExtraction(tc TestCase, outcome RawOutcome, gen Extraction) ComparisonVerdict {
	ref, refErr := s.extractor.ReadReference(tc.ReferenceFile)
	if refErr != nil {
		gen.Warnings = append(gen.Warnings, ExtractionWarning{
			Text:   tc.ReferenceFile,
			Reason: "reference file unreadable: " + refErr.Error(),
		})
	}

	v := s.comparator.Compare(tc, outcome, gen, ref)
	if refErr != nil {
		// A case without a readable reference never passes; `assay
		// accept` promotes its extracted markers into one.
		v.Passed = false
	}
	return v
}

// classifyOutcome maps an abnormal outcome to an ExecutionError.
func classifyOutcome(caseName string, outcome RawOutcome) *ExecutionError {
	e := &ExecutionError{Case: caseName, ExitCode: outcome.ExitCode}
	switch {
	case outcome.TimedOut:
		e.Category = ExecTimeout
		e.Cause = ErrCaseTimeout
	case outcome.NotFound:
		e.Category = ExecNotFound
	default:
		e.Category = ExecAbnormalExit
	}
	return e
}

// legal run state transitions.
var runTransitions = map[RunState][]RunState{
	StatePending:     {StateRunning, StateAborted},
	StateRunning:     {StateAggregating, StateAborted},
	StateAggregating: {StateDone},
}

// transition changes run state with logging; illegal edges are
// refused and reported.
func (s *Service) transition(result *RunResult, span trace.Span, to RunState) {
	from := result.State
	if !legalTransition(from, to) {
		s.logger.Error("illegal run state transition",
			slog.String("run_id", result.RunID),
			slog.String("error", (&StateTransitionError{From: from, To: to}).Error()),
		)
		return
	}
	result.State = to

	recordStateTransition(context.Background(), from, to)
	if span != nil {
		addStateTransitionEvent(span, from, to)
	}
	s.logger.Info("run state transition",
		slog.String("run_id", result.RunID),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

func legalTransition(from, to RunState) bool {
	for _, t := range runTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
