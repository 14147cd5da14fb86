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
	"errors"
	"strconv"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrBadRange indicates an enabled range with min > max after
	// profile resolution.
	ErrBadRange = errors.New("enabled range min exceeds max")

	// ErrUnknownProfile indicates a selected profile name that is not
	// declared in the configuration.
	ErrUnknownProfile = errors.New("unknown selection profile")

	// ErrUnknownCase indicates a single-case override naming a case
	// that discovery did not find.
	ErrUnknownCase = errors.New("unknown test case")

	// ErrNoCases indicates discovery found no input files at all.
	ErrNoCases = errors.New("no test cases discovered")

	// ErrBuildGate indicates the build manifest reported failure, so
	// no case may launch.
	ErrBuildGate = errors.New("build gate failed")

	// ErrManifestUnreadable indicates a configured build manifest that
	// could not be read or parsed.
	ErrManifestUnreadable = errors.New("build manifest unreadable")

	// ErrNilContext indicates a nil context.Context was passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrCaseTimeout indicates case execution exceeded its timeout.
	ErrCaseTimeout = errors.New("case execution timeout")

	// ErrNoLog indicates execution produced no log file, so extraction
	// and comparison cannot run.
	ErrNoLog = errors.New("no log file produced")

	// ErrUnknownRuleKind indicates a tolerance rule with an
	// unrecognized kind.
	ErrUnknownRuleKind = errors.New("unknown tolerance rule kind")

	// ErrUnknownMode indicates a tolerance mode other than strict or
	// loose.
	ErrUnknownMode = errors.New("unknown tolerance mode")

	// ErrAlreadyRunning indicates Run was called while a run owned by
	// the same Service invocation is still active.
	ErrAlreadyRunning = errors.New("run already in progress")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ConfigError wraps a configuration fault detected before scheduling.
// It is fatal: no case launches when one is raised.
type ConfigError struct {
	// Field names the offending configuration entry.
	Field string

	// Value is the rejected value, formatted for display.
	Value string

	// Cause is the sentinel this error wraps.
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := "invalid configuration"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Value != "" {
		msg += " = " + e.Value
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the wrapped sentinel.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ExecutionCategory classifies how a case execution failed.
type ExecutionCategory string

const (
	// ExecNotFound means the executable could not be located.
	ExecNotFound ExecutionCategory = "not-found"

	// ExecAbnormalExit means the process exited non-zero inside its
	// time budget.
	ExecAbnormalExit ExecutionCategory = "abnormal-exit"

	// ExecTimeout means the process group was killed at the deadline.
	ExecTimeout ExecutionCategory = "timeout"
)

// ExecutionError describes a per-case execution failure. It is
// recorded on the verdict and never halts the run.
type ExecutionError struct {
	// Case is the test case label.
	Case string

	// Category classifies the failure.
	Category ExecutionCategory

	// ExitCode is the process exit code, -1 when unavailable.
	ExitCode int

	// Cause is the underlying error if any.
	Cause error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	msg := e.Case + ": execution failed (" + string(e.Category) + ")"
	if e.Category == ExecAbnormalExit {
		msg += ": exit code " + strconv.Itoa(e.ExitCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// StateTransitionError indicates an invalid run state transition.
type StateTransitionError struct {
	From RunState
	To   RunState
}

// Error implements the error interface.
func (e *StateTransitionError) Error() string {
	return "invalid run state transition: " + string(e.From) + " -> " + string(e.To)
}
