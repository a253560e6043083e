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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWatcher_DebouncesWatchedFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "program.yaml")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(target, []byte("a"), 0644))

	w, err := newFileWatcher([]string{target}, 30*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan []string, 8)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(changed []string) { changes <- changed })
	}()

	require.NoError(t, os.WriteFile(other, []byte("x"), 0644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(target, []byte{byte('b' + i)}, 0644))
	}

	select {
	case got := <-changes:
		assert.Equal(t, []string{target}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNewFileWatcher_MissingDirectory(t *testing.T) {
	_, err := newFileWatcher([]string{filepath.Join(t.TempDir(), "gone", "program.yaml")}, time.Millisecond, nil)
	require.Error(t, err)
}
