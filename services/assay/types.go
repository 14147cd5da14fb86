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

import "time"

// =============================================================================
// RUN STATE
// =============================================================================

// RunState represents a state in the run lifecycle.
type RunState string

const (
	// StatePending is the initial state before any case launches.
	StatePending RunState = "pending"

	// StateRunning indicates cases are executing under the worker pool.
	StateRunning RunState = "running"

	// StateAggregating indicates all cases finished and verdicts are
	// being ordered and counted.
	StateAggregating RunState = "aggregating"

	// StateDone indicates the run completed and RunResult is final.
	StateDone RunState = "done"

	// StateAborted indicates the run was stopped before any case
	// launched (configuration or build-gate failure).
	StateAborted RunState = "aborted"
)

// String returns the string representation of the state.
func (s RunState) String() string {
	return string(s)
}

// IsTerminal returns true if the state is terminal (done or aborted).
func (s RunState) IsTerminal() bool {
	return s == StateDone || s == StateAborted
}

// AllRunStates returns all valid run states.
func AllRunStates() []RunState {
	return []RunState{
		StatePending,
		StateRunning,
		StateAggregating,
		StateDone,
		StateAborted,
	}
}

// =============================================================================
// TEST CASE
// =============================================================================

// TestCase identifies one labeled calculation discovered on disk.
//
// Cases are immutable after discovery: the selector builds them once
// per run and every later stage treats them as read-only values.
type TestCase struct {
	// Name is the stable case label derived from the input file stem,
	// e.g. "test149" for test149.inp.
	Name string `json:"name"`

	// Ordinal is the integer parsed from the trailing digits of the
	// label. Used for range selection and result ordering. -1 when the
	// label carries no trailing digits.
	Ordinal int `json:"ordinal"`

	// InputFile is the absolute path to the primary input deck.
	InputFile string `json:"input_file"`

	// SupportFiles are same-stem auxiliary files (basis sets, geometry
	// fragments) staged into the sandbox next to the input.
	SupportFiles []string `json:"support_files,omitempty"`

	// ReferenceFile is the absolute path to the accepted reference
	// marker file. May point at a missing file; comparison then reports
	// every generated marker as extra.
	ReferenceFile string `json:"reference_file"`
}

// ExecutionSpec is the fully resolved recipe for one case execution.
//
// Built once per TestCase per run and never reused: the Env map holds
// a per-invocation scratch path that must not leak across runs.
type ExecutionSpec struct {
	// Command is the argv to execute, templates already substituted.
	Command []string `json:"command"`

	// WorkDir is the isolated per-case working directory.
	WorkDir string `json:"work_dir"`

	// Env is the full child environment (os.Environ overlaid with the
	// case-specific variables, scratch path included).
	Env map[string]string `json:"env"`

	// LogFile is the path stdout+stderr stream into during the run.
	LogFile string `json:"log_file"`

	// ScratchDir is the per-invocation scratch directory.
	ScratchDir string `json:"scratch_dir"`

	// Timeout bounds wall-clock execution time.
	Timeout time.Duration `json:"timeout"`
}

// =============================================================================
// EXECUTION OUTCOME
// =============================================================================

// RawOutcome captures how a case subprocess terminated.
type RawOutcome struct {
	// ExitCode is the process exit code. -1 when the process never
	// produced one (timeout kill, spawn failure).
	ExitCode int `json:"exit_code"`

	// Duration is wall-clock time from spawn to termination.
	Duration time.Duration `json:"duration"`

	// TimedOut is true when the case exceeded its timeout and the
	// process group was killed.
	TimedOut bool `json:"timed_out"`

	// NotFound is true when the executable could not be located.
	NotFound bool `json:"not_found"`

	// Started is when the subprocess was spawned.
	Started time.Time `json:"started"`

	// Finished is when the subprocess terminated.
	Finished time.Time `json:"finished"`

	// LogFile is the path of the captured log, empty if no log was
	// produced (spawn failure before redirection).
	LogFile string `json:"log_file,omitempty"`

	// Err holds the execution error message, if any.
	Err string `json:"error,omitempty"`
}

// Normal returns true when the process ran to completion with exit
// code zero inside its time budget.
func (o RawOutcome) Normal() bool {
	return !o.TimedOut && !o.NotFound && o.ExitCode == 0 && o.Err == ""
}

// =============================================================================
// EXTRACTION
// =============================================================================

// MarkerRecord is one extracted marker line.
//
// Records preserve log order; the same key may appear any number of
// times and every occurrence is kept.
type MarkerRecord struct {
	// Key is the canonical dotted identifier, e.g. "GRAD.TOT_GRAD".
	Key string `json:"key"`

	// Value is the trimmed raw text following the key segments.
	Value string `json:"value"`

	// Line is the 1-based line number in the source log.
	Line int `json:"line"`

	// Raw is the original marker line verbatim, written unchanged to
	// the check artifact.
	Raw string `json:"-"`
}

// ModuleSpan is one start/end region of a named computation module.
//
// Spans of the same name may nest or repeat; each entry is tracked
// independently with LIFO matching of end markers.
type ModuleSpan struct {
	// Name is the lowercased module name.
	Name string `json:"name"`

	// StartLine is the 1-based line of the start marker.
	StartLine int `json:"start_line"`

	// EndLine is the 1-based line of the matching end marker, 0 when
	// the span never closed.
	EndLine int `json:"end_line"`

	// Closed is true when a matching end marker was seen.
	Closed bool `json:"closed"`
}

// ExtractionWarning records a line the extractor could not interpret.
// Warnings never fail a case by themselves.
type ExtractionWarning struct {
	// Line is the 1-based log line number.
	Line int `json:"line"`

	// Text is the offending line, trimmed.
	Text string `json:"text"`

	// Reason describes what could not be parsed.
	Reason string `json:"reason"`
}

// ErrorEvent is a log line that looks like a runtime error report.
// Collected for reporting and explanation; never consulted for the
// pass/fail decision.
type ErrorEvent struct {
	// Line is the 1-based log line number.
	Line int `json:"line"`

	// Text is the matching line, trimmed.
	Text string `json:"text"`

	// Module is the innermost open module at that point, if any.
	Module string `json:"module,omitempty"`
}

// Extraction is the complete result of scanning one log file.
type Extraction struct {
	// Markers are the extracted records in log order.
	Markers []MarkerRecord `json:"markers"`

	// Spans are all module spans in start order.
	Spans []ModuleSpan `json:"spans"`

	// Warnings are non-fatal parse anomalies.
	Warnings []ExtractionWarning `json:"warnings,omitempty"`

	// ErrorEvents are suspected error lines, capped at the extractor's
	// configured limit.
	ErrorEvents []ErrorEvent `json:"error_events,omitempty"`

	// CheckFile is the path of the written marker artifact, empty when
	// artifact writing was disabled.
	CheckFile string `json:"check_file,omitempty"`
}

// FailedModules returns the names of spans still open at EOF, in
// start order. Duplicate names are reported once.
func (e *Extraction) FailedModules() []string {
	var failed []string
	seen := make(map[string]bool, len(e.Spans))
	for _, s := range e.Spans {
		if !s.Closed && !seen[s.Name] {
			failed = append(failed, s.Name)
			seen[s.Name] = true
		}
	}
	return failed
}

// =============================================================================
// COMPARISON
// =============================================================================

// MismatchKind classifies a single comparison finding.
type MismatchKind string

const (
	// MismatchNumeric is a numeric field outside its tolerance.
	MismatchNumeric MismatchKind = "numeric"

	// MismatchShape is a field-count difference between matched values.
	MismatchShape MismatchKind = "shape"

	// MismatchText is a non-numeric field difference.
	MismatchText MismatchKind = "text"

	// MismatchMissing is a reference occurrence with no generated
	// counterpart.
	MismatchMissing MismatchKind = "missing"

	// MismatchExtra is a generated occurrence with no reference
	// counterpart.
	MismatchExtra MismatchKind = "extra"
)

// Mismatch is one comparison finding. The comparator enumerates all
// findings; it never stops at the first.
type Mismatch struct {
	// Key is the canonical marker key.
	Key string `json:"key"`

	// Occurrence is the 0-based index among same-key occurrences.
	Occurrence int `json:"occurrence"`

	// Kind classifies the finding.
	Kind MismatchKind `json:"kind"`

	// Generated is the generated value text ("" for missing).
	Generated string `json:"generated,omitempty"`

	// Reference is the reference value text ("" for extra).
	Reference string `json:"reference,omitempty"`

	// TokenIndex is the 0-based field index for numeric/text findings,
	// -1 for whole-value findings.
	TokenIndex int `json:"token_index"`

	// Tolerance is the effective (scaled) tolerance applied, 0 when no
	// numeric rule applied.
	Tolerance float64 `json:"tolerance,omitempty"`

	// Delta is |generated - reference| for numeric findings.
	Delta float64 `json:"delta,omitempty"`
}

// ComparisonVerdict is the immutable per-case result.
type ComparisonVerdict struct {
	// Case is the test case this verdict belongs to.
	Case TestCase `json:"case"`

	// Passed is true iff execution was normal, no mismatches were
	// found, no untolerated missing/extra keys exist, and no module
	// failed.
	Passed bool `json:"passed"`

	// ExecutionOK is true when the subprocess terminated normally.
	// Reported independently of comparison findings.
	ExecutionOK bool `json:"execution_ok"`

	// Mismatches are all numeric/shape/text findings.
	Mismatches []Mismatch `json:"mismatches,omitempty"`

	// MissingKeys lists reference keys absent from the generated set,
	// one entry per missing occurrence.
	MissingKeys []string `json:"missing_keys,omitempty"`

	// ExtraKeys lists generated keys absent from the reference set,
	// one entry per extra occurrence.
	ExtraKeys []string `json:"extra_keys,omitempty"`

	// FailedModules are modules that started but never ended.
	FailedModules []string `json:"failed_modules,omitempty"`

	// Warnings are extraction anomalies surfaced for reporting.
	Warnings []ExtractionWarning `json:"warnings,omitempty"`

	// ErrorEvents are suspected error lines from the log.
	ErrorEvents []ErrorEvent `json:"error_events,omitempty"`

	// Outcome is the raw execution outcome.
	Outcome RawOutcome `json:"outcome"`

	// CheckFile is the extracted marker artifact path, when written.
	CheckFile string `json:"check_file,omitempty"`
}

// Status returns a compact classification for display and storage:
// "pass", "timeout", "error" (abnormal execution), or "fail".
func (v ComparisonVerdict) Status() string {
	switch {
	case v.Passed:
		return "pass"
	case v.Outcome.TimedOut:
		return "timeout"
	case !v.ExecutionOK:
		return "error"
	default:
		return "fail"
	}
}

// =============================================================================
// RUN RESULT
// =============================================================================

// RunResult is the aggregate outcome of one engine run.
type RunResult struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// StartedAt is when the run entered the running state.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when aggregation completed.
	FinishedAt time.Time `json:"finished_at"`

	// State is the final run state.
	State RunState `json:"state"`

	// Mode is the tolerance mode the comparator ran under.
	Mode string `json:"mode"`

	// PackageVersion is the version reported by the build manifest,
	// empty when no manifest was configured.
	PackageVersion string `json:"package_version,omitempty"`

	// Verdicts are the per-case results sorted by case ordinal.
	Verdicts []ComparisonVerdict `json:"verdicts"`

	// Passed counts verdicts with Passed == true.
	Passed int `json:"passed"`

	// Failed counts comparison failures with normal execution.
	Failed int `json:"failed"`

	// TimedOut counts cases killed at their time budget.
	TimedOut int `json:"timed_out"`

	// Errored counts abnormal executions other than timeout.
	Errored int `json:"errored"`
}

// Success returns true when every case passed.
func (r *RunResult) Success() bool {
	return r.State == StateDone && r.Passed == len(r.Verdicts)
}

// Duration returns the wall-clock span of the run.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// =============================================================================
// RANGE SELECTION
// =============================================================================

// RangeSpec is an inclusive ordinal interval.
type RangeSpec struct {
	// Min is the lowest enabled ordinal.
	Min int `json:"min" yaml:"min"`

	// Max is the highest enabled ordinal.
	Max int `json:"max" yaml:"max"`
}

// Contains reports whether ordinal n falls inside the range.
func (r RangeSpec) Contains(n int) bool {
	return n >= r.Min && n <= r.Max
}

// Valid reports whether the range is well-formed.
func (r RangeSpec) Valid() bool {
	return r.Min <= r.Max
}
