// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch reruns single cases when their input decks change on
// disk. It is the edit-rerun loop behind `assay watch`: save a deck,
// get a fresh verdict seconds later.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianAssay/services/assay"
)

// =============================================================================
// OPTIONS
// =============================================================================

// VerdictHandler receives each rerun verdict. Called from the watch
// loop goroutine, one verdict at a time.
type VerdictHandler func(assay.ComparisonVerdict)

// Options configures the watcher.
type Options struct {
	// Debounce is how long a deck must stay quiet before its case
	// reruns. Editors write in bursts (truncate, write, chmod), and
	// some save through a rename; the window collapses each burst
	// into one rerun.
	Debounce time.Duration

	// BufferSize is the pending-rerun channel capacity.
	BufferSize int
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		Debounce:   500 * time.Millisecond,
		BufferSize: 64,
	}
}

// =============================================================================
// WATCHER
// =============================================================================

// Watcher runs the edit-rerun loop.
//
// # Description
//
// Watches the configured input directory for create/write events on
// files matching the discovery pattern. Events are debounced per case
// with a timer-reset map, so a burst of saves to test042.inp yields
// one rerun of test042. Reruns are serialized: a human edits one deck
// at a time, and serial verdicts read better than interleaved ones.
//
// # Thread Safety
//
// One Run per Watcher. Stop may be called from any goroutine.
type Watcher struct {
	svc      *assay.Service
	handler  VerdictHandler
	logger   *slog.Logger
	debounce time.Duration

	watcher  *fsnotify.Watcher
	pending  chan string
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher creates a watcher over the service's input directory.
//
// Inputs:
//
//	svc - Configured regression service; supplies discovery and the
//	per-case pipeline.
//	handler - Receives each rerun verdict. May be nil.
//	logger - Structured logger; nil uses slog.Default.
//	opts - Nil uses DefaultOptions.
//
// Outputs:
//
//	*Watcher - Ready watcher; call Run to start.
//	error - Non-nil when the notify backend cannot be created.
func NewWatcher(svc *assay.Service, handler VerdictHandler, logger *slog.Logger, opts *Options) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	return &Watcher{
		svc:      svc,
		handler:  handler,
		logger:   logger,
		debounce: opts.Debounce,
		watcher:  fw,
		pending:  make(chan string, opts.BufferSize),
		done:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Run watches until the context is canceled.
//
// Description:
//
//	Blocks, rerunning debounced cases as their decks change. Context
//	cancellation (the CLI wires Ctrl-C to it) is the clean shutdown
//	path and returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	if ctx == nil {
		return assay.ErrNilContext
	}
	cfg := w.svc.Config()
	if err := w.watcher.Add(cfg.InputDir); err != nil {
		w.Stop()
		return fmt.Errorf("watching %s: %w", cfg.InputDir, err)
	}

	w.logger.Info("watching for input changes",
		slog.String("dir", cfg.InputDir),
		slog.String("pattern", cfg.InputPattern),
	)

	go w.processEvents(ctx, cfg.InputPattern)

	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return nil
		case <-w.done:
			return nil
		case name := <-w.pending:
			w.rerun(ctx, name)
		}
	}
}

// Stop ends the watch loop and releases the notify backend.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		for name, t := range w.timers {
			t.Stop()
			delete(w.timers, name)
		}
		w.mu.Unlock()
	})
}

// processEvents filters raw notify events down to case names and
// schedules their debounce timers.
func (w *Watcher) processEvents(ctx context.Context, pattern string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			base := filepath.Base(event.Name)
			if matched, _ := filepath.Match(pattern, base); !matched {
				continue
			}
			w.schedule(strings.TrimSuffix(base, filepath.Ext(base)))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch backend error", slog.String("error", err.Error()))
		}
	}
}

// schedule starts or resets the case's debounce timer. The case is
// queued for rerun only when its timer expires untouched.
func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[name]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[name] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, name)
		w.mu.Unlock()

		select {
		case w.pending <- name:
		case <-w.done:
		}
	})
}

// rerun executes one case and hands its verdict to the handler.
func (w *Watcher) rerun(ctx context.Context, name string) {
	tc, err := w.svc.LookupCase(name)
	if err != nil {
		w.logger.Warn("changed deck has no discoverable case",
			slog.String("case", name),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("input changed, rerunning case", slog.String("case", name))
	started := time.Now()
	v, err := w.svc.RunCase(ctx, tc)
	if err != nil {
		w.logger.Error("case rerun failed",
			slog.String("case", name),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("case rerun finished",
		slog.String("case", name),
		slog.String("status", v.Status()),
		slog.Duration("took", time.Since(started)),
	)
	if w.handler != nil {
		w.handler(v)
	}
}
