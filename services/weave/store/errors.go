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

import "errors"

var (
	// ErrRunNotFound is returned when no report has the requested run ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrNilReport is returned by SaveRun for a nil report.
	ErrNilReport = errors.New("report must not be nil")

	// ErrEmptyRunID is returned for a report or lookup without a run ID.
	ErrEmptyRunID = errors.New("run ID must not be empty")

	// ErrPathRequired is returned when a persistent store has no path.
	ErrPathRequired = errors.New("path is required for persistent store")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)
