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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for engine operations.
var (
	tracer = otel.Tracer("aleutian.assay")
	meter  = otel.Meter("aleutian.assay")
)

// Metrics for engine operations.
var (
	runDuration      metric.Float64Histogram
	runsTotal        metric.Int64Counter
	caseDuration     metric.Float64Histogram
	casesTotal       metric.Int64Counter
	mismatchesTotal  metric.Int64Counter
	stateTransitions metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runDuration, err = meter.Float64Histogram(
			"assay_run_duration_seconds",
			metric.WithDescription("Wall-clock duration of regression runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runsTotal, err = meter.Int64Counter(
			"assay_runs_total",
			metric.WithDescription("Total number of regression runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		caseDuration, err = meter.Float64Histogram(
			"assay_case_duration_seconds",
			metric.WithDescription("Wall-clock duration of individual cases"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		casesTotal, err = meter.Int64Counter(
			"assay_cases_total",
			metric.WithDescription("Total number of executed cases"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		mismatchesTotal, err = meter.Int64Counter(
			"assay_mismatches_total",
			metric.WithDescription("Total number of comparison findings"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stateTransitions, err = meter.Int64Counter(
			"assay_state_transitions_total",
			metric.WithDescription("Total number of run state transitions"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startRunSpan creates a span for a regression run.
func startRunSpan(ctx context.Context, runID, mode string, caseCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Service.Run",
		trace.WithAttributes(
			attribute.String("assay.run_id", runID),
			attribute.String("assay.mode", mode),
			attribute.Int("assay.case_count", caseCount),
		),
	)
}

// setRunSpanResult sets the result attributes on a run span.
func setRunSpanResult(span trace.Span, result *RunResult) {
	span.SetAttributes(
		attribute.Bool("assay.success", result.Success()),
		attribute.String("assay.final_state", result.State.String()),
		attribute.Int("assay.passed", result.Passed),
		attribute.Int("assay.failed", result.Failed),
		attribute.Int("assay.timed_out", result.TimedOut),
		attribute.Int("assay.errored", result.Errored),
	)
}

// startCaseSpan creates a span for one case execution.
func startCaseSpan(ctx context.Context, name string, ordinal int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Service.runCase",
		trace.WithAttributes(
			attribute.String("assay.case", name),
			attribute.Int("assay.ordinal", ordinal),
		),
	)
}

// setCaseSpanResult sets the verdict attributes on a case span.
func setCaseSpanResult(span trace.Span, v ComparisonVerdict) {
	span.SetAttributes(
		attribute.String("assay.status", v.Status()),
		attribute.Int("assay.mismatches", len(v.Mismatches)),
		attribute.Int("assay.missing", len(v.MissingKeys)),
		attribute.Int("assay.extra", len(v.ExtraKeys)),
		attribute.Int("assay.failed_modules", len(v.FailedModules)),
	)
}

// recordRunMetrics records metrics for a completed run.
func recordRunMetrics(ctx context.Context, result *RunResult) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", result.Mode),
		attribute.Bool("success", result.Success()),
	)
	runDuration.Record(ctx, result.Duration().Seconds(), attrs)
	runsTotal.Add(ctx, 1, attrs)
}

// recordCaseMetrics records metrics for one case verdict.
func recordCaseMetrics(ctx context.Context, v ComparisonVerdict, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("status", v.Status()),
	)
	caseDuration.Record(ctx, duration.Seconds(), attrs)
	casesTotal.Add(ctx, 1, attrs)
	if n := len(v.Mismatches) + len(v.MissingKeys) + len(v.ExtraKeys); n > 0 {
		mismatchesTotal.Add(ctx, int64(n), attrs)
	}
}

// recordStateTransition records a run state transition event.
func recordStateTransition(ctx context.Context, from, to RunState) {
	if err := initMetrics(); err != nil {
		return
	}
	stateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

// addStateTransitionEvent adds a state transition event to the span.
func addStateTransitionEvent(span trace.Span, from, to RunState) {
	span.AddEvent("state_transition", trace.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}
