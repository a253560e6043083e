// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists weave run reports in BadgerDB.
//
// Reports are stored as JSON under "run/<started-at>/<run-id>" so that a
// reverse prefix scan lists the newest first, with an "id/<run-id>" index
// entry pointing at the report key.
//
// # Thread Safety
//
// Store is safe for concurrent use.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

const (
	runPrefix = "run/"
	idPrefix  = "id/"
)

// Store keeps run reports.
type Store struct {
	db     *badger.DB
	gc     *GCRunner
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Open opens a store.
//
// Description:
//
//	Opens the Badger database described by opts and, for persistent
//	stores with a GC interval, starts value log GC.
//
// Outputs:
//
//	*Store - The store. Call Close when done.
//	error - ErrPathRequired or a Badger open failure.
func Open(opts Options) (*Store, error) {
	db, err := openBadger(opts)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}

	if opts.GCInterval > 0 && !opts.InMemory {
		gc, err := NewGCRunner(db, opts.GCInterval, opts.GCDiscardRatio, opts.Logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = gc
		gc.Start()
	}
	return s, nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.gc != nil {
		s.gc.Stop()
	}
	return s.db.Close()
}

func runKey(r *RunReport) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", runPrefix, r.StartedAt.UnixNano(), r.RunID))
}

func idKey(runID string) []byte {
	return []byte(idPrefix + runID)
}

func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(fn)
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.View(fn)
}

// SaveRun stores a report, replacing any report with the same run ID.
func (s *Store) SaveRun(ctx context.Context, r *RunReport) error {
	if r == nil {
		return ErrNilReport
	}
	if r.RunID == "" {
		return ErrEmptyRunID
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", r.RunID, err)
	}
	key := runKey(r)

	err = s.update(ctx, func(txn *badger.Txn) error {
		if old, err := lookupKey(txn, r.RunID); err == nil {
			if err := txn.Delete(old); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrRunNotFound) {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(idKey(r.RunID), key)
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.RunID, err)
	}
	s.logger.Debug("run report saved", slog.String("run_id", r.RunID), slog.Int("bytes", len(data)))
	return nil
}

func lookupKey(txn *badger.Txn, runID string) ([]byte, error) {
	item, err := txn.Get(idKey(runID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func decode(item *badger.Item) (*RunReport, error) {
	var r RunReport
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", item.Key(), err)
	}
	return &r, nil
}

// GetRun returns the report of a run, or ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunReport, error) {
	if runID == "" {
		return nil, ErrEmptyRunID
	}
	var out *RunReport
	err := s.view(ctx, func(txn *badger.Txn) error {
		key, err := lookupKey(txn, runID)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrRunNotFound
		}
		if err != nil {
			return err
		}
		out, err = decode(item)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return out, nil
}

// ListRuns returns up to limit reports, newest first. A limit of 0 or
// less returns every report.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunReport, error) {
	var out []*RunReport
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scanNewestFirst(txn, func(item *badger.Item) (bool, error) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			r, err := decode(item)
			if err != nil {
				return false, err
			}
			out = append(out, r)
			return limit <= 0 || len(out) < limit, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// scanNewestFirst visits run entries in reverse key order until fn
// returns false.
func scanNewestFirst(txn *badger.Txn, fn func(item *badger.Item) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = []byte(runPrefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	// Reverse iteration seeks to the last key <= the seek key.
	for it.Seek([]byte(runPrefix + "\xff")); it.ValidForPrefix([]byte(runPrefix)); it.Next() {
		more, err := fn(it.Item())
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// DeleteRun removes a report. Deleting an unknown run returns
// ErrRunNotFound.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if runID == "" {
		return ErrEmptyRunID
	}
	err := s.update(ctx, func(txn *badger.Txn) error {
		key, err := lookupKey(txn, runID)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(idKey(runID))
	})
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	return nil
}

// Prune keeps the newest keep reports and deletes the rest.
//
// Outputs:
//
//	int - Number of reports deleted.
//	error - Non-nil if the scan or a delete fails.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	type victim struct {
		key   []byte
		runID string
	}
	var victims []victim
	err := s.view(ctx, func(txn *badger.Txn) error {
		seen := 0
		return scanNewestFirst(txn, func(item *badger.Item) (bool, error) {
			seen++
			if seen <= keep {
				return true, nil
			}
			r, err := decode(item)
			if err != nil {
				return false, err
			}
			victims = append(victims, victim{key: item.KeyCopy(nil), runID: r.RunID})
			return true, nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}

	for _, v := range victims {
		err := s.update(ctx, func(txn *badger.Txn) error {
			if err := txn.Delete(v.key); err != nil {
				return err
			}
			return txn.Delete(idKey(v.runID))
		})
		if err != nil {
			return 0, fmt.Errorf("prune run %s: %w", v.runID, err)
		}
	}
	if len(victims) > 0 {
		s.logger.Debug("run reports pruned", slog.Int("deleted", len(victims)), slog.Int("kept", keep))
	}
	return len(victims), nil
}
