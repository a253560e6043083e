// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source discovers aspect instances in a program.
//
// Each Source yields instances and exclusions for one aspect class. Merge
// queries a set of sources in priority order, drops excluded instances,
// folds duplicate (class, target) instances into one primary with
// secondaries, and returns the survivors in a deterministic order.
package source

import (
	"context"
	"sort"

	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
)

// Exclusion suppresses instances of an aspect class on a declaration and
// everything it contains.
type Exclusion struct {
	// DeclarationID is the excluded declaration.
	DeclarationID string

	// Class is the excluded class name. Empty excludes every class.
	Class string
}

// Matches reports whether the exclusion applies to an instance.
func (e Exclusion) Matches(view declgraph.View, inst *aspect.Instance) bool {
	if e.Class != "" && e.Class != inst.Class.Name() {
		return false
	}
	if inst.Target.ID == e.DeclarationID {
		return true
	}
	for _, a := range declgraph.Ancestors(view, inst.Target) {
		if a.ID == e.DeclarationID {
			return true
		}
	}
	return false
}

// Collection is what a source yields for one class.
type Collection struct {
	Instances   []*aspect.Instance
	Exclusions  []Exclusion
	Diagnostics []diag.Diagnostic
}

// Source discovers instances of one aspect class.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent Collect calls.
type Source interface {
	// Kind identifies the source.
	Kind() aspect.SourceKind

	// Priority orders sources during Merge, lower first.
	Priority() int

	// Collect returns the instances and exclusions for class.
	Collect(ctx context.Context, view declgraph.View, class *aspect.Class) (Collection, error)
}

// Merge queries every source and consolidates the results.
//
// Description:
//
//	Sources are queried in Priority order. Every exclusion collected from
//	any source is applied to every instance, regardless of which source
//	produced it. Instances on an ineligible target are dropped with
//	CR0201. Remaining instances are grouped by (class, target); in each
//	group the instance whose source kind has the best PrimaryRank becomes
//	primary and the rest become its secondaries. The result is sorted by
//	target ID, then origin priority.
//
// Inputs:
//
//	ctx - Checked before each source is queried.
//	view - The program snapshot.
//	class - The aspect class.
//	sources - The sources to query.
//
// Outputs:
//
//	[]*aspect.Instance - Primary instances.
//	[]diag.Diagnostic - Source and eligibility diagnostics.
//	error - Context or source error.
func Merge(ctx context.Context, view declgraph.View, class *aspect.Class, sources ...Source) ([]*aspect.Instance, []diag.Diagnostic, error) {
	ordered := make([]Source, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority() < ordered[j].Priority() })

	var (
		all        []*aspect.Instance
		exclusions []Exclusion
		diags      []diag.Diagnostic
	)
	for _, s := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		col, err := s.Collect(ctx, view, class)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, col.Instances...)
		exclusions = append(exclusions, col.Exclusions...)
		diags = append(diags, col.Diagnostics...)
	}

	groups := make(map[string][]*aspect.Instance)
	var keys []string
	for _, inst := range all {
		if excluded(view, exclusions, inst) {
			continue
		}
		if !class.IsEligible(inst.Target) {
			diags = append(diags, diag.AspectNotEligible.New(inst.Location(), class.Name(), inst.Target.Kind, inst.Target.ID))
			continue
		}
		k := inst.Key()
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], inst)
	}

	out := make([]*aspect.Instance, 0, len(keys))
	for _, k := range keys {
		group := groups[k]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Origin.Kind.PrimaryRank() < group[j].Origin.Kind.PrimaryRank()
		})
		primary := group[0]
		primary.Secondary = append(primary.Secondary[:0:0], group[1:]...)
		out = append(out, primary)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Target.ID != out[j].Target.ID {
			return out[i].Target.ID < out[j].Target.ID
		}
		return out[i].Origin.Kind < out[j].Origin.Kind
	})
	return out, diags, nil
}

func excluded(view declgraph.View, exclusions []Exclusion, inst *aspect.Instance) bool {
	for _, e := range exclusions {
		if e.Matches(view, inst) {
			return true
		}
	}
	return false
}
