// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/AleutianAssay/pkg/ux"
	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// =============================================================================
// Runner
// =============================================================================

// Enabled reports whether the live view should be used: stdout must
// be a terminal and the personality must not be machine. Piped and CI
// invocations fall back to plain log lines.
func Enabled() bool {
	return ux.IsInteractive()
}

// Run drives one engine run under the live view.
//
// # Description
//
// Starts svc.Run on its own goroutine and renders verdicts as they
// arrive on the verdict channel. ctrl+c and q cancel the run context
// and the view stays up until the engine winds down, so partial
// results are still aggregated and stored by the caller.
//
// # Inputs
//
//   - ctx: Parent context; the run gets a cancelable child.
//   - svc: Configured service, constructed with a WithNotify hook
//     feeding the verdicts channel.
//   - verdicts: The channel that hook feeds. Buffer it generously;
//     after an early quit nobody consumes until the drain starts.
//
// # Outputs
//
//   - *assay.RunResult: The engine's result, possibly partial.
//   - error: The engine's error, or a terminal rendering error.
func Run(ctx context.Context, svc *assay.Service, verdicts <-chan assay.ComparisonVerdict) (*assay.RunResult, error) {
	cases, err := svc.Cases()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan RunOutcome, 1)
	go func() {
		result, runErr := svc.Run(ctx)
		done <- RunOutcome{Result: result, Err: runErr}
	}()

	// The view renders on stderr so stdout stays clean for the
	// summary and any machine output that follows.
	m := NewRunModel(len(cases), verdicts, done, cancel)
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithContext(ctx))

	finalModel, err := p.Run()
	if err != nil {
		// The terminal broke, not the run. Stop the engine and
		// surface its outcome anyway.
		cancel()
		go drain(verdicts)
		out := <-done
		if out.Err != nil {
			return out.Result, out.Err
		}
		return out.Result, fmt.Errorf("rendering run view: %w", err)
	}

	rm, ok := finalModel.(RunModel)
	if !ok {
		cancel()
		go drain(verdicts)
		out := <-done
		return out.Result, out.Err
	}

	if out, ended := rm.Outcome(); ended {
		return out.Result, out.Err
	}

	// The view exited before the engine did. Keep the verdict channel
	// moving while the engine finishes cancellation.
	cancel()
	go drain(verdicts)
	out := <-done
	return out.Result, out.Err
}

// drain keeps a notify channel from blocking engine workers once the
// view is gone.
func drain(ch <-chan assay.ComparisonVerdict) {
	for range ch {
	}
}
