// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Options configures the Badger database behind a Store.
type Options struct {
	// Path is the database directory. "~" expands to the home directory.
	// Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory. Used by tests and dry runs.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives Badger's own log output. Nil silences it.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. 0 disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable fraction that triggers GC.
	GCDiscardRatio float64
}

// DefaultOptions returns persistent options for a path.
func DefaultOptions(path string) Options {
	return Options{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryOptions returns options for a throwaway in-memory store.
func InMemoryOptions() Options {
	return Options{InMemory: true}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func openBadger(opts Options) (*badger.DB, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, ErrPathRequired
		}
		path := expandPath(opts.Path)
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", path, err)
		}
		bopts = badger.DefaultOptions(path)
	}

	bopts = bopts.WithSyncWrites(opts.SyncWrites).WithNumVersionsToKeep(1)
	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: opts.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// GCRunner runs Badger value log GC on an interval.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	startOne sync.Once
	stopOne  sync.Once
}

// NewGCRunner creates a runner. Call Start to begin and Stop to halt.
//
// Inputs:
//
//	db - The database. Must not be nil.
//	interval - Time between GC attempts. Must be positive.
//	ratio - Discard ratio in [0, 1].
//	logger - Optional logger for GC events.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio < 0 || ratio > 1 {
		return nil, errors.New("ratio must be between 0 and 1")
	}
	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start launches the GC goroutine. Later calls are no-ops.
func (r *GCRunner) Start() {
	r.startOne.Do(func() { go r.run() })
}

// Stop halts the GC goroutine and waits for it. Safe to call more than
// once, and before Start.
func (r *GCRunner) Stop() {
	r.stopOne.Do(func() {
		close(r.stopCh)
		started := true
		r.startOne.Do(func() { started = false })
		if started {
			<-r.doneCh
		}
	})
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *GCRunner) runGC() {
	err := r.db.RunValueLogGC(r.ratio)
	switch {
	case err == nil:
		if r.logger != nil {
			r.logger.Debug("store value log GC completed")
		}
	case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
		// Nothing to collect, or GC already running.
	default:
		if r.logger != nil {
			r.logger.Warn("store value log GC failed", slog.String("error", err.Error()))
		}
	}
}
