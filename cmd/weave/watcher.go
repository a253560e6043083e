// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fileWatcher reports debounced changes to a fixed set of files.
//
// The containing directories are watched rather than the files, so
// editors that save by rename are seen as well.
type fileWatcher struct {
	files    map[string]bool
	debounce time.Duration
	fw       *fsnotify.Watcher
	logger   *slog.Logger
}

func newFileWatcher(files []string, debounce time.Duration, logger *slog.Logger) (*fileWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &fileWatcher{
		files:    make(map[string]bool, len(files)),
		debounce: debounce,
		fw:       fw,
		logger:   logger,
	}

	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("resolve %s: %w", f, err)
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Run calls onChange with the changed files, sorted, after each quiet
// period of the debounce window. It blocks until ctx is done and closes
// the watcher before returning.
func (w *fileWatcher) Run(ctx context.Context, onChange func(changed []string)) error {
	defer w.fw.Close()

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || !w.files[name] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				pending[name] = time.Now()
			}

		case <-ticker.C:
			now := time.Now()
			var ready []string
			for file, t := range pending {
				if now.Sub(t) >= w.debounce {
					ready = append(ready, file)
					delete(pending, file)
				}
			}
			if len(ready) > 0 {
				sort.Strings(ready)
				onChange(ready)
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watch error", slog.String("error", err.Error()))
		}
	}
}
