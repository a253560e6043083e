// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"sync"

	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
)

// =============================================================================
// Attribute
// =============================================================================

// AttributeSource yields an instance for every attribute whose type is the
// aspect class name. Attribute arguments become the instance config.
type AttributeSource struct{}

func (AttributeSource) Kind() aspect.SourceKind { return aspect.SourceAttribute }
func (AttributeSource) Priority() int           { return int(aspect.SourceAttribute) }

// Collect implements Source.
func (AttributeSource) Collect(ctx context.Context, view declgraph.View, class *aspect.Class) (Collection, error) {
	return Collection{Instances: attributeInstances(view, class)}, ctx.Err()
}

func attributeInstances(view declgraph.View, class *aspect.Class) []*aspect.Instance {
	var out []*aspect.Instance
	for _, d := range view.Declarations() {
		for _, a := range d.AttributesOf(class.Name()) {
			cfg := make(map[string]any, len(a.Args))
			for k, v := range a.Args {
				cfg[k] = v
			}
			inst := aspect.NewInstance(class, d, aspect.SourceAttribute, cfg)
			attr := a
			inst.Origin.Attribute = &attr
			out = append(out, inst)
		}
	}
	return out
}

// =============================================================================
// Inherited
// =============================================================================

// InheritedSource propagates instances of inheritable classes from a type
// to every derived type, and from a method to every override of it. Each
// derived instance records the instance it came from as predecessor.
// Derived targets the class is not eligible for are skipped silently.
type InheritedSource struct{}

func (InheritedSource) Kind() aspect.SourceKind { return aspect.SourceInherited }
func (InheritedSource) Priority() int           { return int(aspect.SourceInherited) }

// Collect implements Source.
func (InheritedSource) Collect(ctx context.Context, view declgraph.View, class *aspect.Class) (Collection, error) {
	if !class.Inheritable() {
		return Collection{}, nil
	}
	var out []*aspect.Instance
	for _, pred := range attributeInstances(view, class) {
		if err := ctx.Err(); err != nil {
			return Collection{}, err
		}
		out = append(out, propagate(view, class, pred)...)
	}
	return Collection{Instances: out}, nil
}

func propagate(view declgraph.View, class *aspect.Class, pred *aspect.Instance) []*aspect.Instance {
	target := pred.Target
	derive := func(d *declgraph.Declaration) *aspect.Instance {
		inst := aspect.NewInstance(class, d, aspect.SourceInherited, pred.Config)
		inst.Origin.Predecessor = pred
		return inst
	}

	var out []*aspect.Instance
	switch {
	case target.Kind == declgraph.KindType:
		for _, dt := range declgraph.DerivedTypes(view, target.ID) {
			if class.IsEligible(dt) {
				out = append(out, derive(dt))
			}
		}
	case target.Kind.IsMember() && (target.IsOverridable() || target.IsAbstract):
		fromInterface := isInterfaceMember(view, target)
		for _, dt := range declgraph.DerivedTypes(view, target.ContainingID) {
			m, ok := declgraph.FindOwnMember(view, dt.ID, target)
			if !ok || m.Kind != target.Kind {
				continue
			}
			if (m.IsOverride || fromInterface) && class.IsEligible(m) {
				out = append(out, derive(m))
			}
		}
	}
	return out
}

// isInterfaceMember reports whether the member is declared by an interface,
// in which case every same-signature member of an implementing type
// inherits the instance.
func isInterfaceMember(view declgraph.View, member *declgraph.Declaration) bool {
	t, ok := declgraph.DeclaringType(view, member)
	return ok && t.IsInterface()
}

// =============================================================================
// Exclusion
// =============================================================================

// ExclusionSource collects ExcludeAspect attributes. An attribute with an
// "aspect" argument excludes that class only.
type ExclusionSource struct{}

func (ExclusionSource) Kind() aspect.SourceKind { return aspect.SourceExclusion }
func (ExclusionSource) Priority() int           { return int(aspect.SourceExclusion) }

// Collect implements Source.
func (ExclusionSource) Collect(ctx context.Context, view declgraph.View, class *aspect.Class) (Collection, error) {
	var out []Exclusion
	for _, d := range view.Declarations() {
		for _, a := range d.AttributesOf(aspect.AttrExcludeAspect) {
			name, _ := a.Arg("aspect")
			if name != "" && name != class.Name() {
				continue
			}
			out = append(out, Exclusion{DeclarationID: d.ID, Class: name})
		}
	}
	return Collection{Exclusions: out}, ctx.Err()
}

// =============================================================================
// Implicit
// =============================================================================

type implicitEntry struct {
	class    string
	targetID string
	config   map[string]any
}

// ImplicitSource holds instances registered programmatically, for example
// by a CLI or by a fabric that applies aspects by naming convention.
//
// Thread Safety:
//
//	Safe for concurrent use.
type ImplicitSource struct {
	mu      sync.RWMutex
	entries []implicitEntry
}

// NewImplicitSource creates an empty implicit source.
func NewImplicitSource() *ImplicitSource {
	return &ImplicitSource{}
}

// Add registers an instance of class on the declaration targetID.
func (s *ImplicitSource) Add(class, targetID string, config map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, implicitEntry{class: class, targetID: targetID, config: config})
}

func (s *ImplicitSource) Kind() aspect.SourceKind { return aspect.SourceImplicit }
func (s *ImplicitSource) Priority() int           { return int(aspect.SourceImplicit) }

// Collect implements Source. Entries naming a declaration absent from the
// view are ignored.
func (s *ImplicitSource) Collect(ctx context.Context, view declgraph.View, class *aspect.Class) (Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*aspect.Instance
	for _, e := range s.entries {
		if e.class != class.Name() {
			continue
		}
		if d, ok := view.Declaration(e.targetID); ok {
			out = append(out, aspect.NewInstance(class, d, aspect.SourceImplicit, e.config))
		}
	}
	return Collection{Instances: out}, ctx.Err()
}

// =============================================================================
// Reactive
// =============================================================================

// Request is an instance requested by a running aspect.
type Request struct {
	// Requestor is the instance whose evaluation emitted the request.
	Requestor *aspect.Instance
	Class     string
	Target    *declgraph.Declaration
	Config    map[string]any
}

// ReactiveSource yields the instances requested by aspects evaluated in
// earlier stages.
//
// Thread Safety:
//
//	Safe for concurrent use.
type ReactiveSource struct {
	mu       sync.RWMutex
	requests []Request
}

// NewReactiveSource creates an empty reactive source.
func NewReactiveSource() *ReactiveSource {
	return &ReactiveSource{}
}

// Add records requests.
func (s *ReactiveSource) Add(reqs ...Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, reqs...)
}

// Len returns the number of recorded requests.
func (s *ReactiveSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}

func (s *ReactiveSource) Kind() aspect.SourceKind { return aspect.SourceReactive }
func (s *ReactiveSource) Priority() int           { return int(aspect.SourceReactive) }

// Collect implements Source. The target is re-read from the view so the
// instance sees the current snapshot's declaration.
func (s *ReactiveSource) Collect(ctx context.Context, view declgraph.View, class *aspect.Class) (Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*aspect.Instance
	for _, r := range s.requests {
		if r.Class != class.Name() || r.Target == nil {
			continue
		}
		target := r.Target
		if d, ok := view.Declaration(target.ID); ok {
			target = d
		}
		inst := aspect.NewInstance(class, target, aspect.SourceReactive, r.Config)
		inst.Origin.Predecessor = r.Requestor
		out = append(out, inst)
	}
	return Collection{Instances: out}, ctx.Err()
}

// =============================================================================
// Aggregate
// =============================================================================

// AggregateSource is the union of child sources. It is queried after every
// other source. Instances keep the origin their child gave them.
type AggregateSource struct {
	Children []Source
}

func (a *AggregateSource) Kind() aspect.SourceKind { return aspect.SourceAggregate }
func (a *AggregateSource) Priority() int           { return int(aspect.SourceAggregate) }

// Collect implements Source.
func (a *AggregateSource) Collect(ctx context.Context, view declgraph.View, class *aspect.Class) (Collection, error) {
	var out Collection
	for _, child := range a.Children {
		col, err := child.Collect(ctx, view, class)
		if err != nil {
			return Collection{}, err
		}
		out.Instances = append(out.Instances, col.Instances...)
		out.Exclusions = append(out.Exclusions, col.Exclusions...)
		out.Diagnostics = append(out.Diagnostics, col.Diagnostics...)
	}
	return out, nil
}

// Defaults returns the attribute, inherited and exclusion sources.
func Defaults() []Source {
	return []Source{InheritedSource{}, ExclusionSource{}, AttributeSource{}}
}
