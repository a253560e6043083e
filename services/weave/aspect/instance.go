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

import (
	"fmt"

	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
)

// SourceKind identifies where an instance came from.
type SourceKind int

// The declaration order is the query priority used when merging sources.
const (
	SourceInherited SourceKind = iota
	SourceExclusion
	SourceAttribute
	SourceImplicit
	SourceReactive
	SourceAggregate
)

var sourceKindNames = map[SourceKind]string{
	SourceInherited: "inherited",
	SourceExclusion: "exclusion",
	SourceAttribute: "attribute",
	SourceImplicit:  "implicit",
	SourceReactive:  "reactive",
	SourceAggregate: "aggregate",
}

// String returns the source kind name.
func (k SourceKind) String() string {
	if s, ok := sourceKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("source(%d)", int(k))
}

// PrimaryRank orders instances competing for one (class, target) slot.
// The instance with the lowest rank becomes primary. Explicitly written
// instances beat derived ones.
func (k SourceKind) PrimaryRank() int {
	switch k {
	case SourceAttribute:
		return 0
	case SourceImplicit:
		return 1
	case SourceReactive:
		return 2
	case SourceInherited:
		return 3
	default:
		return 4
	}
}

// Origin records how an instance was created.
type Origin struct {
	Kind SourceKind

	// Predecessor is the instance this one was derived from, for inherited
	// and reactive instances.
	Predecessor *Instance

	// Attribute is the annotation that produced an attribute instance.
	Attribute *declgraph.Attribute
}

// Instance is one application of an aspect class to one declaration.
type Instance struct {
	Class  *Class
	Target *declgraph.Declaration

	// Config is the user configuration. For attribute instances it holds
	// the attribute arguments.
	Config map[string]any

	Origin Origin

	// Secondary holds other instances of the same class on the same target,
	// merged into this primary instance.
	Secondary []*Instance
}

// Key returns the (class, target) identity used for deduplication.
func (i *Instance) Key() string {
	return i.Class.Name() + "|" + i.Target.ID
}

// Location returns the diagnostic location of the instance. Attribute
// instances and instances derived from them point at the target.
func (i *Instance) Location() diag.Location {
	return diag.At(i.Target)
}

// Chain returns the predecessor chain, starting with i.
func (i *Instance) Chain() []*Instance {
	var out []*Instance
	for cur := i; cur != nil; cur = cur.Origin.Predecessor {
		out = append(out, cur)
	}
	return out
}

// String renders "Class@Target".
func (i *Instance) String() string {
	return i.Class.Name() + "@" + i.Target.ID
}

// NewInstance creates an instance with a copied configuration.
func NewInstance(class *Class, target *declgraph.Declaration, kind SourceKind, config map[string]any) *Instance {
	cfg := make(map[string]any, len(config))
	for k, v := range config {
		cfg[k] = v
	}
	return &Instance{
		Class:  class,
		Target: target,
		Config: cfg,
		Origin: Origin{Kind: kind},
	}
}
