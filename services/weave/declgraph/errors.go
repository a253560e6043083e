// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package declgraph

import "errors"

// Sentinel errors for the declgraph package.
var (
	// ErrGraphFrozen is returned when adding to a graph after Freeze.
	ErrGraphFrozen = errors.New("graph is frozen")

	// ErrNilDeclaration is returned when a nil declaration is added.
	ErrNilDeclaration = errors.New("declaration must not be nil")

	// ErrEmptyID is returned when a declaration has no identity.
	ErrEmptyID = errors.New("declaration ID must not be empty")

	// ErrDuplicateDeclaration is returned when two declarations share an ID.
	ErrDuplicateDeclaration = errors.New("declaration with this ID already exists")

	// ErrUnknownContainer is returned at freeze time when a member names a
	// containing type that is not in the graph.
	ErrUnknownContainer = errors.New("containing declaration not found")

	// ErrMemberWithoutContainer is returned when a member has no containing type.
	ErrMemberWithoutContainer = errors.New("member declaration has no containing type")

	// ErrUnknownBaseType is returned at freeze time when a base type is missing.
	ErrUnknownBaseType = errors.New("base type not found")

	// ErrInvalidProgram is returned when a program document cannot be parsed.
	ErrInvalidProgram = errors.New("invalid program document")
)
