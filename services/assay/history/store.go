// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists finished runs in an embedded BadgerDB so
// trends can be computed across invocations and the server can browse
// past results.
//
// Keys:
//
//	run/<id>                      full RunResult, JSON
//	run-index/<started>/<id>      id, <started> = zero-padded UnixNano
//
// The index keeps chronological order lexicographic, so listing never
// decodes more runs than asked for.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianAssay/services/assay"
)

const (
	runPrefix   = "run/"
	indexPrefix = "run-index/"

	// loadParallelism bounds concurrent decodes in Recent.
	loadParallelism = 8
)

// ErrRunNotFound is returned when no run exists under the given id.
var ErrRunNotFound = errors.New("run not found in history")

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the history store configuration.
type Config struct {
	// Dir is the BadgerDB directory. Required unless InMemory.
	Dir string

	// InMemory keeps everything in RAM; used by tests and --no-history
	// style invocations.
	InMemory bool

	// Retain caps stored runs. After each Put the oldest runs beyond
	// the cap are deleted. 0 keeps everything.
	Retain int

	// SyncWrites makes each commit durable before returning.
	// Default: true for persistent stores.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. 0 disables.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio before GC rewrites
	// a value log file.
	// Default: 0.5
	GCDiscardRatio float64

	// Logger receives store and BadgerDB internal logs. nil disables
	// BadgerDB's internal logging.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults for a persistent store.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		Retain:         90,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a volatile configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// STORE
// =============================================================================

// Store is the run history database.
//
// Thread Safety: safe for concurrent use; BadgerDB transactions
// provide isolation.
type Store struct {
	db     *badger.DB
	cfg    Config
	logger *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}
}

// Open opens (and if needed creates) the history store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("history dir is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create history directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(cfg.SyncWrites)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, cfg: cfg, logger: logger}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC()
	}
	return s, nil
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
		s.gcStop = nil
	}
	return s.db.Close()
}

// runGC periodically rewrites the value log. ErrNoRewrite just means
// there was nothing worth collecting.
func (s *Store) runGC() {
	defer close(s.gcDone)

	ratio := s.cfg.GCDiscardRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("history value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// =============================================================================
// KEYS
// =============================================================================

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

// indexKey orders runs chronologically. Zero-padded UnixNano keeps the
// lexicographic byte order equal to time order.
func indexKey(startedAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", indexPrefix, startedAt.UnixNano(), id))
}

// =============================================================================
// WRITE PATH
// =============================================================================

// Put stores a finished run and trims beyond the retention cap.
func (s *Store) Put(ctx context.Context, result *assay.RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if result == nil || result.RunID == "" {
		return errors.New("run result must carry a run id")
	}

	value, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", result.RunID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(runKey(result.RunID), value); err != nil {
			return err
		}
		if err := txn.Set(indexKey(result.StartedAt, result.RunID), []byte(result.RunID)); err != nil {
			return err
		}
		if s.cfg.Retain > 0 {
			return s.trimLocked(txn)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store run %s: %w", result.RunID, err)
	}

	s.logger.Debug("run stored",
		slog.String("run_id", result.RunID),
		slog.Int("verdicts", len(result.Verdicts)),
	)
	return nil
}

// trimLocked deletes the oldest runs beyond the retention cap inside
// the caller's transaction.
func (s *Store) trimLocked(txn *badger.Txn) error {
	type entry struct {
		indexKey []byte
		id       string
	}
	var entries []entry

	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(indexPrefix)})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		entries = append(entries, entry{indexKey: item.KeyCopy(nil), id: string(id)})
	}

	excess := len(entries) - s.cfg.Retain
	for i := 0; i < excess; i++ {
		if err := txn.Delete(entries[i].indexKey); err != nil {
			return err
		}
		if err := txn.Delete(runKey(entries[i].id)); err != nil {
			return err
		}
		s.logger.Debug("run trimmed by retention", slog.String("run_id", entries[i].id))
	}
	return nil
}

// Delete removes one run and its index entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	run, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(runKey(id)); err != nil {
			return err
		}
		return txn.Delete(indexKey(run.StartedAt, id))
	})
}

// =============================================================================
// READ PATH
// =============================================================================

// Get loads one run by id.
func (s *Store) Get(ctx context.Context, id string) (*assay.RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result assay.RunResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &result)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return &result, nil
}

// IDs returns stored run ids, newest first, capped at limit (0 means
// all).
func (s *Store) IDs(ctx context.Context, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(indexPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			ids = append(ids, string(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	// The index iterates oldest first.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Summary is the list view of a stored run.
type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	State      string    `json:"state"`
	Mode       string    `json:"mode"`
	Total      int       `json:"total"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	TimedOut   int       `json:"timed_out"`
	Errored    int       `json:"errored"`
}

// List returns run summaries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	runs, err := s.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, Summary{
			RunID:      r.RunID,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			State:      string(r.State),
			Mode:       r.Mode,
			Total:      len(r.Verdicts),
			Passed:     r.Passed,
			Failed:     r.Failed,
			TimedOut:   r.TimedOut,
			Errored:    r.Errored,
		})
	}
	return summaries, nil
}

// Recent loads the newest runs in full, newest first. Decodes run in
// parallel since verdict-heavy runs are large.
func (s *Store) Recent(ctx context.Context, limit int) ([]*assay.RunResult, error) {
	ids, err := s.IDs(ctx, limit)
	if err != nil {
		return nil, err
	}

	runs := make([]*assay.RunResult, len(ids))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(loadParallelism)
	for i, id := range ids {
		i, id := i, id
		eg.Go(func() error {
			run, err := s.Get(egCtx, id)
			if err != nil {
				return err
			}
			runs[i] = run
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

// Latest returns the newest stored run.
func (s *Store) Latest(ctx context.Context) (*assay.RunResult, error) {
	ids, err := s.IDs(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrRunNotFound
	}
	return s.Get(ctx, ids[0])
}

// LastTwo returns the previous and latest runs for trend diffing.
func (s *Store) LastTwo(ctx context.Context) (before, after *assay.RunResult, err error) {
	runs, err := s.Recent(ctx, 2)
	if err != nil {
		return nil, nil, err
	}
	if len(runs) < 2 {
		return nil, nil, fmt.Errorf("%w: need two runs for a trend", ErrRunNotFound)
	}
	// Recent is newest first.
	return runs[1], runs[0], nil
}

// =============================================================================
// SUBSCRIPTION
// =============================================================================

// Subscribe invokes fn for every run stored while ctx lives. Used by
// the server to stream new results to websocket clients. Blocks until
// ctx is done.
func (s *Store) Subscribe(ctx context.Context, fn func(*assay.RunResult)) error {
	cb := func(kvs *badger.KVList) error {
		for _, kv := range kvs.Kv {
			if len(kv.Value) == 0 || !strings.HasPrefix(string(kv.Key), runPrefix) {
				continue
			}
			var run assay.RunResult
			if err := json.Unmarshal(kv.Value, &run); err != nil {
				s.logger.Warn("undecodable run in subscription",
					slog.String("key", string(kv.Key)),
					slog.String("error", err.Error()),
				)
				continue
			}
			fn(&run)
		}
		return nil
	}
	match := []pb.Match{{Prefix: []byte(runPrefix)}}
	err := s.db.Subscribe(ctx, cb, match)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
