// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package declarative

import "errors"

var (
	// ErrInvalidAspects wraps every problem found while parsing an aspects
	// document.
	ErrInvalidAspects = errors.New("invalid aspects document")

	// ErrNoContainingType is returned when a rule needs the type of a
	// target that has none in the view.
	ErrNoContainingType = errors.New("target has no containing type")
)
