// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aspect

import "errors"

// Sentinel errors for the aspect package.
var (
	// ErrNilDeclaration is returned when registering a nil declaration.
	ErrNilDeclaration = errors.New("aspect declaration must not be nil")

	// ErrNotAnAspect is returned when the declaration lacks the Aspect attribute.
	ErrNotAnAspect = errors.New("declaration is not marked as an aspect")

	// ErrDuplicateClass is returned when an aspect class is registered twice.
	ErrDuplicateClass = errors.New("aspect class already registered")

	// ErrUnknownBaseClass is returned when the base aspect class is not registered.
	ErrUnknownBaseClass = errors.New("base aspect class not registered")

	// ErrTemplateNotFound is returned when a template name is not in the table.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrTemplateAmbiguous is returned when a template name maps to several members.
	ErrTemplateAmbiguous = errors.New("template name is ambiguous")

	// ErrNilCompiler is returned when a driver cache has no compiler.
	ErrNilCompiler = errors.New("template compiler must not be nil")
)
