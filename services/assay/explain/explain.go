// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package explain produces advisory root-cause analyses for failed
// cases using a configured LLM provider.
//
// The explainer is strictly downstream of the comparator: its output
// is attached to reports and printed for humans, and is never
// consulted for the pass/fail decision. Provider selection is
// configuration-driven; callers hold the Provider interface and never
// inspect the concrete type.
package explain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUnknownProvider indicates an unrecognized provider name.
	ErrUnknownProvider = errors.New("unknown explain provider")

	// ErrCaseNotFound indicates the named case is not in the run.
	ErrCaseNotFound = errors.New("case not found in run")

	// ErrCasePassed indicates the named case has nothing to explain.
	ErrCasePassed = errors.New("case passed; nothing to explain")
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config controls provider selection and prompt assembly.
type Config struct {
	// Provider selects the backend: "openai" or "ollama".
	Provider string

	// Model is the provider model name.
	Model string

	// Endpoint is the Ollama base URL. A bare host:port gets an
	// http:// scheme prepended.
	Endpoint string

	// APIKeyEnv names the environment variable holding the OpenAI
	// key. A /run/secrets/<lowercase name> file is the fallback.
	APIKeyEnv string

	// MaxTokens caps the completion length.
	MaxTokens int

	// Temperature is the sampling temperature.
	Temperature float32

	// RatePerMinute caps provider calls per minute across a run.
	RatePerMinute int

	// ChunkSize is the character budget for the log excerpt. Longer
	// tails are split at natural boundaries and only the final chunk
	// is kept.
	ChunkSize int

	// ChunkOverlap is the splitter overlap between adjacent chunks.
	ChunkOverlap int

	// MaxLogBytes bounds how much of the log tail is read from disk
	// before chunking.
	MaxLogBytes int64
}

// DefaultConfig returns the local-first defaults.
func DefaultConfig() Config {
	return Config{
		Provider:      "ollama",
		Model:         "qwen2.5:14b",
		Endpoint:      "http://localhost:11434",
		APIKeyEnv:     "OPENAI_API_KEY",
		MaxTokens:     1024,
		Temperature:   0.2,
		RatePerMinute: 6,
		ChunkSize:     4000,
		ChunkOverlap:  200,
		MaxLogBytes:   64 * 1024,
	}
}

// =============================================================================
// FAILURE CONTEXT
// =============================================================================

// FailureContext carries everything a provider needs to analyze one
// failed case.
type FailureContext struct {
	// TestName is the case name, e.g. "test042".
	TestName string

	// Ordinal is the 1-based case number.
	Ordinal int

	// ExitCode is the subprocess exit code.
	ExitCode int

	// TimedOut is true when the case was killed at its time budget.
	TimedOut bool

	// PackageVersion is the package build version, when known.
	PackageVersion string

	// Mode is the tolerance mode the run used.
	Mode string

	// Verdict is the full comparison verdict.
	Verdict assay.ComparisonVerdict

	// LogExcerpt is the budgeted tail of the case log.
	LogExcerpt string
}

// Provider is one LLM backend. Implementations build their own wire
// request from the shared prompt.
type Provider interface {
	// Explain returns a free-text analysis for one failed case.
	Explain(ctx context.Context, fc FailureContext) (string, error)

	// Name identifies the provider for logging.
	Name() string
}

// =============================================================================
// EXPLAINER
// =============================================================================

// Explainer fans failed cases out to the configured provider under a
// shared rate limit.
//
// Thread Safety: Safe for concurrent use.
type Explainer struct {
	cfg      Config
	provider Provider
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewExplainer selects and constructs the configured provider.
//
// Inputs:
//
//	cfg - Explain configuration. Zero numeric fields fall back to
//	DefaultConfig values.
//	logger - Structured logger. Nil falls back to slog.Default().
//
// Outputs:
//
//	*Explainer - Ready to use.
//	error - ErrUnknownProvider, or a provider construction error
//	(e.g. missing API key).
func NewExplainer(cfg Config, logger *slog.Logger) (*Explainer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = def.RatePerMinute
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = def.ChunkOverlap
	}
	if cfg.MaxLogBytes <= 0 {
		cfg.MaxLogBytes = def.MaxLogBytes
	}

	var (
		provider Provider
		err      error
	)
	switch cfg.Provider {
	case "openai":
		provider, err = NewOpenAIProvider(cfg)
	case "ollama":
		provider, err = NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return &Explainer{
		cfg:      cfg,
		provider: provider,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1),
		logger:   logger,
	}, nil
}

// ExplainRun produces one explanation per failing case, keyed by case
// name.
//
// Description:
//
//	Walks the run's verdicts in order and asks the provider about each
//	failure under the shared rate limit. Provider errors are logged
//	and the case skipped: explanations are advisory and never gate a
//	run. A canceled context stops the walk.
func (e *Explainer) ExplainRun(ctx context.Context, result *assay.RunResult) map[string]string {
	out := make(map[string]string)
	for _, v := range result.Verdicts {
		if v.Passed {
			continue
		}
		if err := e.limiter.Wait(ctx); err != nil {
			e.logger.Warn("explanation pass interrupted", slog.String("error", err.Error()))
			break
		}
		text, err := e.provider.Explain(ctx, e.failureContext(result, v))
		if err != nil {
			e.logger.Warn("explanation failed",
				slog.String("case", v.Case.Name),
				slog.String("provider", e.provider.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		out[v.Case.Name] = text
		e.logger.Debug("case explained",
			slog.String("case", v.Case.Name),
			slog.Int("chars", len(text)),
		)
	}
	return out
}

// ExplainCase explains one named failing case from a stored run.
func (e *Explainer) ExplainCase(ctx context.Context, result *assay.RunResult, name string) (string, error) {
	for _, v := range result.Verdicts {
		if v.Case.Name != name {
			continue
		}
		if v.Passed {
			return "", fmt.Errorf("%w: %s", ErrCasePassed, name)
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return "", err
		}
		return e.provider.Explain(ctx, e.failureContext(result, v))
	}
	return "", fmt.Errorf("%w: %s", ErrCaseNotFound, name)
}

// failureContext assembles the provider input for one verdict.
func (e *Explainer) failureContext(result *assay.RunResult, v assay.ComparisonVerdict) FailureContext {
	fc := FailureContext{
		TestName:       v.Case.Name,
		Ordinal:        v.Case.Ordinal,
		ExitCode:       v.Outcome.ExitCode,
		TimedOut:       v.Outcome.TimedOut,
		PackageVersion: result.PackageVersion,
		Mode:           result.Mode,
		Verdict:        v,
	}
	if v.Outcome.LogFile != "" {
		excerpt, err := e.logExcerpt(v.Outcome.LogFile)
		if err != nil {
			e.logger.Debug("log excerpt unavailable",
				slog.String("case", v.Case.Name),
				slog.String("error", err.Error()),
			)
		} else {
			fc.LogExcerpt = excerpt
		}
	}
	return fc
}
