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
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
)

// CaseFunc executes one case end to end and returns its verdict.
type CaseFunc func(ctx context.Context, tc TestCase) ComparisonVerdict

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler fans test cases out to a bounded worker pool.
//
// # Description
//
// At most maxParallel cases execute concurrently. Workers keep local
// verdict slices to avoid lock contention and the merged result is
// sorted by case ordinal, so the output order is reproducible
// regardless of completion order. A panic inside one case converts to
// an errored verdict for that case only; the worker keeps consuming.
//
// # Thread Safety
//
// Run may not be called concurrently on the same Scheduler; the
// notify hook is invoked serially.
type Scheduler struct {
	workers int
	notify  func(ComparisonVerdict)
	logger  *slog.Logger
}

// NewScheduler creates a scheduler with a fixed worker budget.
//
// Inputs:
//
//	maxParallel - Upper bound on concurrent cases; clamped to 1.
//	notify - Optional per-completion hook for progress consumers,
//	         called serially as verdicts arrive. May be nil.
//	logger - Logger for worker diagnostics.
func NewScheduler(maxParallel int, notify func(ComparisonVerdict), logger *slog.Logger) *Scheduler {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Scheduler{workers: maxParallel, notify: notify, logger: logger}
}

// Run executes all cases and returns their verdicts sorted by ordinal.
//
// Description:
//
//	With maxParallel=1 this degenerates to sequential execution with
//	identical per-case semantics. Cancelling ctx does not discard
//	queued cases; each still produces a verdict, recording the
//	cancelled execution.
//
// Inputs:
//
//	ctx - Context observed by each case execution.
//	cases - Cases in any order.
//	run - Per-case pipeline.
//
// Outputs:
//
//	[]ComparisonVerdict - One verdict per case, ordinal order.
func (s *Scheduler) Run(ctx context.Context, cases []TestCase, run CaseFunc) []ComparisonVerdict {
	if len(cases) == 0 {
		return nil
	}

	workers := min(s.workers, len(cases))
	locals := make([][]ComparisonVerdict, workers)
	workChan := make(chan TestCase, min(len(cases), 256))

	var notifyMu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			local := make([]ComparisonVerdict, 0, len(cases)/workers+1)
			for tc := range workChan {
				v := s.runGuarded(ctx, tc, run, workerID)
				local = append(local, v)
				if s.notify != nil {
					notifyMu.Lock()
					s.notify(v)
					notifyMu.Unlock()
				}
			}
			locals[workerID] = local
		}(i)
	}

	for _, tc := range cases {
		workChan <- tc
	}
	close(workChan)
	wg.Wait()

	verdicts := make([]ComparisonVerdict, 0, len(cases))
	for _, local := range locals {
		verdicts = append(verdicts, local...)
	}
	sortVerdicts(verdicts)
	return verdicts
}

// runGuarded runs one case with panic containment.
func (s *Scheduler) runGuarded(ctx context.Context, tc TestCase, run CaseFunc, workerID int) (v ComparisonVerdict) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			s.logger.Error("panic in case worker",
				slog.Int("worker_id", workerID),
				slog.String("case", tc.Name),
				slog.Any("panic", r),
				slog.String("stack", string(buf[:n])),
			)
			v = ComparisonVerdict{
				Case:    tc,
				Outcome: RawOutcome{ExitCode: -1, Err: fmt.Sprintf("panic: %v", r)},
			}
		}
	}()
	return run(ctx, tc)
}

// sortVerdicts orders verdicts by case ordinal ascending, unnumbered
// cases last, name as tiebreak. Matches selector discovery order.
func sortVerdicts(verdicts []ComparisonVerdict) {
	sort.Slice(verdicts, func(i, j int) bool {
		a, b := verdicts[i].Case, verdicts[j].Case
		switch {
		case a.Ordinal < 0 && b.Ordinal < 0:
			return a.Name < b.Name
		case a.Ordinal < 0:
			return false
		case b.Ordinal < 0:
			return true
		case a.Ordinal != b.Ordinal:
			return a.Ordinal < b.Ordinal
		default:
			return a.Name < b.Name
		}
	})
}
