// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package template

import (
	"context"

	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
)

// Invocation is the context a driver expands a template in.
type Invocation struct {
	// Template is the template member being expanded.
	Template *declgraph.Declaration

	// Target is the member the expansion is for. For introductions this is
	// the declaration being introduced.
	Target *declgraph.Declaration

	// MemberID is the identity that self-references resolve against.
	MemberID string

	// Layer is the authoring aspect layer.
	Layer LayerID

	// Accessor selects the accessor body to expand.
	Accessor TargetKind

	// Tags are the advice tags.
	Tags map[string]string

	// Config is the aspect instance configuration.
	Config map[string]any
}

// Driver expands one compiled template.
//
// Implementations report user mistakes as *InvalidUserCodeError.
type Driver interface {
	Expand(ctx context.Context, inv Invocation) (Body, error)
}

// DriverFunc adapts a function to Driver.
type DriverFunc func(ctx context.Context, inv Invocation) (Body, error)

// Expand calls f.
func (f DriverFunc) Expand(ctx context.Context, inv Invocation) (Body, error) {
	return f(ctx, inv)
}

// Compiler turns a template member into a Driver.
//
// Description:
//
//	The compiler is the external collaborator that owns template parsing.
//	The weaver calls Compile at most once per template member per aspect
//	class; results are memoized by aspect.DriverCache.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
type Compiler interface {
	Compile(ctx context.Context, tmpl *declgraph.Declaration) (Driver, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(ctx context.Context, tmpl *declgraph.Declaration) (Driver, error)

// Compile calls f.
func (f CompilerFunc) Compile(ctx context.Context, tmpl *declgraph.Declaration) (Driver, error) {
	return f(ctx, tmpl)
}
