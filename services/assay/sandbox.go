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
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CASE EXECUTOR SEAM
// =============================================================================

// CaseExecutor abstracts subprocess execution for one prepared case.
//
// All process spawning in the engine goes through this interface so
// tests can simulate timeouts, crashes, and missing binaries without
// real processes.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple
// goroutines; the scheduler executes cases in parallel.
type CaseExecutor interface {
	// Execute runs the spec's command to completion or deadline.
	//
	// # Description
	//
	// Spawns the command in the spec's working directory with the
	// spec's environment, streaming stdout+stderr to the spec's log
	// file for the whole lifetime of the process. On deadline the
	// entire process group is killed.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation; the spec timeout is layered
	//     on top.
	//   - spec: Fully resolved execution recipe.
	//
	// # Outputs
	//
	//   - RawOutcome: Always populated, even on failure.
	Execute(ctx context.Context, spec ExecutionSpec) RawOutcome
}

// =============================================================================
// DEFAULT EXECUTOR
// =============================================================================

// DefaultCaseExecutor implements CaseExecutor using os/exec.
//
// This is the production implementation. Use MockCaseExecutor in
// tests instead.
type DefaultCaseExecutor struct {
	logger *slog.Logger
}

// NewDefaultCaseExecutor creates the production executor.
func NewDefaultCaseExecutor(logger *slog.Logger) *DefaultCaseExecutor {
	return &DefaultCaseExecutor{logger: logger}
}

// Execute runs the spec's command to completion or deadline.
func (e *DefaultCaseExecutor) Execute(ctx context.Context, spec ExecutionSpec) RawOutcome {
	outcome := RawOutcome{ExitCode: -1, Started: time.Now()}

	ctx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkDir
	cmd.Env = flattenEnv(spec.Env)
	setProcGroup(cmd)
	cmd.Cancel = func() error {
		// Kill the whole group so no solver helper outlives the case.
		return killProcGroup(cmd)
	}

	// The log must exist on disk while the case runs; operators tail
	// it live and the extractor reads it afterwards.
	logFile, err := os.Create(spec.LogFile)
	if err != nil {
		outcome.Finished = time.Now()
		outcome.Err = fmt.Sprintf("create log file: %v", err)
		return outcome
	}
	defer logFile.Close()
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	outcome.LogFile = spec.LogFile

	e.logger.Debug("executing case",
		slog.String("command", spec.Command[0]),
		slog.Any("args", spec.Command[1:]),
		slog.String("work_dir", spec.WorkDir),
		slog.Duration("timeout", spec.Timeout),
	)

	runErr := cmd.Run()
	outcome.Finished = time.Now()
	outcome.Duration = outcome.Finished.Sub(outcome.Started)

	if ctx.Err() == context.DeadlineExceeded {
		outcome.TimedOut = true
		outcome.Err = ErrCaseTimeout.Error()
		e.logger.Warn("case execution timed out",
			slog.String("log", spec.LogFile),
			slog.Duration("timeout", spec.Timeout),
		)
		return outcome
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			outcome.ExitCode = exitErr.ExitCode()
		case errors.Is(runErr, exec.ErrNotFound):
			outcome.NotFound = true
			outcome.Err = runErr.Error()
		default:
			outcome.NotFound = isNotFound(runErr)
			outcome.Err = runErr.Error()
		}
		return outcome
	}

	outcome.ExitCode = 0
	return outcome
}

// isNotFound detects spawn failures caused by a missing executable.
func isNotFound(err error) bool {
	return errors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "executable file not found")
}

// flattenEnv converts an env map to the KEY=VALUE slice exec.Cmd
// expects, sorted for reproducible specs.
func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// MOCK EXECUTOR FOR TESTING
// =============================================================================

// MockCaseExecutor is a test double for CaseExecutor.
//
// Configure the mock by setting ExecuteFunc before use. Every
// invocation is recorded in Calls for verification.
type MockCaseExecutor struct {
	// ExecuteFunc is called when Execute is invoked.
	ExecuteFunc func(ctx context.Context, spec ExecutionSpec) RawOutcome

	// Calls records all specs passed to Execute.
	Calls []ExecutionSpec

	mu sync.Mutex
}

// Execute delegates to ExecuteFunc and records the call.
func (m *MockCaseExecutor) Execute(ctx context.Context, spec ExecutionSpec) RawOutcome {
	m.mu.Lock()
	m.Calls = append(m.Calls, spec)
	fn := m.ExecuteFunc
	m.mu.Unlock()
	if fn == nil {
		panic("MockCaseExecutor.ExecuteFunc not set")
	}
	return fn(ctx, spec)
}

// GetCalls returns a copy of all recorded specs.
func (m *MockCaseExecutor) GetCalls() []ExecutionSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExecutionSpec, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// Compile-time interface compliance check.
var (
	_ CaseExecutor = (*DefaultCaseExecutor)(nil)
	_ CaseExecutor = (*MockCaseExecutor)(nil)
)

// =============================================================================
// SANDBOX
// =============================================================================

// Sandbox prepares isolated execution environments for test cases.
//
// # Description
//
// For each case the sandbox creates a private working directory under
// <work_root>/<run_id>/<case>/, stages the input deck and its support
// files into it, allocates a scratch directory whose name embeds a
// fresh random suffix, and resolves the command and environment
// templates. The scratch root template's "$RANDOM" token is resolved
// once at sandbox construction, i.e. once per run.
//
// # Thread Safety
//
// Safe for concurrent use; Prepare touches only per-case paths.
type Sandbox struct {
	cfg         *Config
	scratchRoot string
	threads     int
	logger      *slog.Logger
}

// NewSandbox creates a sandbox for one run.
//
// Inputs:
//
//	cfg - Validated engine configuration.
//	logger - Logger for staging diagnostics.
//
// Outputs:
//
//	*Sandbox - Ready-to-use sandbox with the scratch root resolved.
func NewSandbox(cfg *Config, logger *slog.Logger) *Sandbox {
	return &Sandbox{
		cfg:         cfg,
		scratchRoot: resolveScratchRoot(cfg.ScratchRoot),
		threads:     cfg.ThreadHint(),
		logger:      logger,
	}
}

// ScratchRoot returns the resolved per-run scratch root.
func (s *Sandbox) ScratchRoot() string {
	return s.scratchRoot
}

// Threads returns the derived per-case thread budget.
func (s *Sandbox) Threads() int {
	return s.threads
}

// Prepare stages one case and resolves its execution spec.
//
// Description:
//
//	Creates the per-case working directory, copies the input deck and
//	every support file into it, creates the per-invocation scratch
//	directory, and substitutes the command, argument, and environment
//	templates. The returned spec is complete: Execute needs nothing
//	else.
//
// Inputs:
//
//	runID - Run identifier, part of the workdir path.
//	tc - The case to stage.
//
// Outputs:
//
//	ExecutionSpec - Fully resolved recipe.
//	error - Non-nil when staging fails (directory creation, copy).
func (s *Sandbox) Prepare(runID string, tc TestCase) (ExecutionSpec, error) {
	var spec ExecutionSpec

	workDir := filepath.Join(s.cfg.WorkRoot, runID, tc.Name)
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return spec, fmt.Errorf("create work dir %s: %w", workDir, err)
	}

	// Fresh random suffix per invocation: re-running a case never
	// collides with a stale scratch tree.
	scratchDir := filepath.Join(s.scratchRoot, tc.Name+"-"+uuid.New().String()[:8])
	if err := os.MkdirAll(scratchDir, 0o750); err != nil {
		return spec, fmt.Errorf("create scratch dir %s: %w", scratchDir, err)
	}

	inputName := filepath.Base(tc.InputFile)
	if err := stageFile(tc.InputFile, filepath.Join(workDir, inputName)); err != nil {
		return spec, fmt.Errorf("stage input %s: %w", tc.InputFile, err)
	}
	for _, sf := range tc.SupportFiles {
		if err := stageFile(sf, filepath.Join(workDir, filepath.Base(sf))); err != nil {
			return spec, fmt.Errorf("stage support file %s: %w", sf, err)
		}
	}

	sub := templateVars{
		home:    s.cfg.PackageHome,
		scratch: scratchDir,
		threads: strconv.Itoa(s.threads),
		input:   inputName,
	}

	spec = ExecutionSpec{
		Command:    buildCommand(s.cfg.Command, s.cfg.Args, sub),
		WorkDir:    workDir,
		Env:        s.buildEnv(sub),
		LogFile:    filepath.Join(workDir, tc.Name+s.cfg.LogSuffix),
		ScratchDir: scratchDir,
		Timeout:    s.cfg.Timeout,
	}

	s.logger.Debug("staged case",
		slog.String("case", tc.Name),
		slog.String("work_dir", workDir),
		slog.String("scratch_dir", scratchDir),
		slog.Int("support_files", len(tc.SupportFiles)),
	)
	return spec, nil
}

// buildEnv overlays the parent environment with the case variables.
func (s *Sandbox) buildEnv(sub templateVars) map[string]string {
	env := make(map[string]string, 64)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}

	env[s.cfg.HomeVar] = s.cfg.PackageHome
	env[s.cfg.ScratchVar] = sub.scratch
	env["OMP_NUM_THREADS"] = sub.threads
	env["OMP_STACKSIZE"] = s.cfg.StackSize

	// Configured entries win, including over the derived thread count.
	for k, v := range s.cfg.Env {
		env[k] = sub.apply(v)
	}
	return env
}

// templateVars carries the per-case substitution values.
type templateVars struct {
	home    string
	scratch string
	threads string
	input   string
}

// apply substitutes all placeholders in a template string.
func (t templateVars) apply(s string) string {
	s = strings.ReplaceAll(s, "{home}", t.home)
	s = strings.ReplaceAll(s, "{scratch}", t.scratch)
	s = strings.ReplaceAll(s, "{threads}", t.threads)
	s = strings.ReplaceAll(s, "{input}", t.input)
	return s
}

// buildCommand resolves the command and argument templates into argv.
// Templates are whitespace-split after substitution.
func buildCommand(command, args string, sub templateVars) []string {
	argv := strings.Fields(sub.apply(command))
	argv = append(argv, strings.Fields(sub.apply(args))...)
	return argv
}

// resolveScratchRoot substitutes the $RANDOM token once per run.
func resolveScratchRoot(template string) string {
	if !strings.Contains(template, "$RANDOM") {
		return template
	}
	return strings.ReplaceAll(template, "$RANDOM", strconv.Itoa(rand.IntN(32768)))
}

// stageFile copies one file into the sandbox, preserving mode bits.
func stageFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Cleanup removes the per-invocation scratch directory. Work
// directories are kept: logs and check artifacts live there.
func (s *Sandbox) Cleanup(spec ExecutionSpec) {
	if spec.ScratchDir == "" {
		return
	}
	if err := os.RemoveAll(spec.ScratchDir); err != nil {
		s.logger.Warn("scratch cleanup failed",
			slog.String("dir", spec.ScratchDir),
			slog.String("error", err.Error()))
	}
}
