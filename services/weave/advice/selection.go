// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advice

import (
	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
)

// TemplateSet names the templates supplied for a method-shaped advice, one
// per template kind. Default is required.
type TemplateSet struct {
	Default       string
	Async         string
	Iterator      string
	AsyncIterator string
}

// Templates returns a set with only the default template.
func Templates(name string) TemplateSet {
	return TemplateSet{Default: name}
}

// Name returns the template name for a kind.
func (s TemplateSet) Name(kind aspect.TemplateKind) string {
	switch kind {
	case aspect.TemplateAsync:
		return s.Async
	case aspect.TemplateIterator:
		return s.Iterator
	case aspect.TemplateAsyncIterator:
		return s.AsyncIterator
	default:
		return s.Default
	}
}

// candidates lists the template kinds a target shape accepts, best first.
var candidates = map[declgraph.MethodShape][]aspect.TemplateKind{
	declgraph.ShapeSync:          {aspect.TemplateDefault},
	declgraph.ShapeAsync:         {aspect.TemplateAsync, aspect.TemplateDefault},
	declgraph.ShapeIterator:      {aspect.TemplateIterator, aspect.TemplateDefault},
	declgraph.ShapeAsyncIterator: {aspect.TemplateAsyncIterator, aspect.TemplateIterator, aspect.TemplateAsync, aspect.TemplateDefault},
}

// SelectTemplate picks the template for a target method shape.
//
// Description:
//
//	Among the kinds the shape accepts, the first one with a supplied
//	template wins, in the priority AsyncIterator > Iterator > Async >
//	Default. The result depends only on the shape and the set, so the
//	same inputs always select the same template.
//
// Outputs:
//
//	string - The selected template name.
//	aspect.TemplateKind - The kind it was selected as.
//	bool - False when no accepted kind has a template, which can only
//	       happen when Default is empty.
func SelectTemplate(shape declgraph.MethodShape, set TemplateSet) (string, aspect.TemplateKind, bool) {
	for _, kind := range candidates[shape] {
		if name := set.Name(kind); name != "" {
			return name, kind, true
		}
	}
	return "", aspect.TemplateDefault, false
}
