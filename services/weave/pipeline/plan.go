// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/dag"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

// Ordering is the program-level ordering declaration. Each inner list
// names aspect classes ("Class") or single layers ("Class:Layer"); every
// entry runs before the entries after it in the same list.
type Ordering [][]string

// StageKind distinguishes ordinary advice stages from collaborator stages.
type StageKind int

const (
	// StageAdvice runs one aspect layer through the advice engine.
	StageAdvice StageKind = iota

	// StageCollaborator hands every layer of one collaborator to it at once.
	StageCollaborator
)

// String returns the stage kind name.
func (k StageKind) String() string {
	switch k {
	case StageAdvice:
		return "advice"
	case StageCollaborator:
		return "collaborator"
	default:
		return fmt.Sprintf("stage(%d)", int(k))
	}
}

// Stage is one step of a plan.
type Stage struct {
	Kind StageKind

	// Name is the layer ID for advice stages and "collaborator:<name>"
	// for collaborator stages.
	Name string

	// Layers holds the single layer of an advice stage, or the
	// collaborator's layers in plan order.
	Layers []aspect.Layer

	Collaborator string
}

// LayerIDs returns the IDs of the stage's layers.
func (s Stage) LayerIDs() []template.LayerID {
	ids := make([]template.LayerID, len(s.Layers))
	for i, l := range s.Layers {
		ids[i] = l.ID()
	}
	return ids
}

// Plan is the ordered stage sequence of a run.
type Plan struct {
	Stages []Stage

	// Diagnostics holds ordering warnings.
	Diagnostics []diag.Diagnostic
}

// Names returns the stage names in order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		names[i] = s.Name
	}
	return names
}

type layerNode struct {
	dag.BaseNode
}

type entry struct {
	class       *aspect.Class
	first, last string
	whole       bool
}

// BuildPlan orders every registered layer into stages.
//
// Description:
//
//	Constraints, in addition to the ordering declaration:
//	  - the layers of a class run in declared order, default layer first;
//	  - a derived class absent from the ordering declaration takes its
//	    base class's place in it and runs after the base class.
//	Unconstrained layers are ordered by class name, then layer index.
//	Entries naming unknown classes or layers are reported as CR0304
//	warnings and ignored. The layers of classes sharing a collaborator
//	form one stage at the position of the group's first layer.
//
// Inputs:
//
//	reg - The registry. Must not be nil.
//	ordering - The ordering declaration. May be nil.
//
// Outputs:
//
//	*Plan - The stages.
//	error - ErrOrderingCycle (wrapping *dag.CycleError) when the
//	        constraints cannot be satisfied.
func BuildPlan(reg *aspect.Registry, ordering Ordering) (*Plan, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}

	type key struct {
		class string
		index int
	}
	keys := make(map[string]key)
	layers := make(map[string]aspect.Layer)

	b := dag.NewBuilder("weave-plan")
	for _, c := range reg.Classes() {
		var prev string
		for _, l := range c.Layers() {
			id := l.ID().String()
			keys[id] = key{class: c.Name(), index: l.Index()}
			layers[id] = l
			b.AddNode(&layerNode{BaseNode: dag.BaseNode{NodeName: id}})
			if prev != "" {
				b.AddEdge(prev, id)
			}
			prev = id
		}
	}
	b.WithLess(func(x, y string) bool {
		kx, ky := keys[x], keys[y]
		if kx.class != ky.class {
			return kx.class < ky.class
		}
		return kx.index < ky.index
	})

	plan := &Plan{}
	resolved := make([][]entry, len(ordering))
	positioned := make(map[string]bool)
	for i, list := range ordering {
		for _, raw := range list {
			e, ok := resolveEntry(reg, strings.TrimSpace(raw))
			if !ok {
				plan.Diagnostics = append(plan.Diagnostics, diag.UnknownAspectInOrdering.New(diag.Location{}, raw))
				continue
			}
			positioned[e.class.Name()] = true
			resolved[i] = append(resolved[i], e)
		}
	}

	// heirs maps a positioned class to the unpositioned classes deriving
	// from it.
	heirs := make(map[string][]*aspect.Class)
	for _, c := range reg.Classes() {
		if positioned[c.Name()] {
			continue
		}
		if c.Base() != nil {
			b.AddEdge(lastLayer(c.Base()), firstLayer(c))
		}
		for a := c.Base(); a != nil; a = a.Base() {
			if positioned[a.Name()] {
				heirs[a.Name()] = append(heirs[a.Name()], c)
				break
			}
		}
	}

	for _, list := range resolved {
		for i := 0; i+1 < len(list); i++ {
			from, to := list[i], list[i+1]
			froms := []string{from.last}
			if from.whole {
				for _, h := range heirs[from.class.Name()] {
					froms = append(froms, lastLayer(h))
				}
			}
			tos := []string{to.first}
			if to.whole {
				for _, h := range heirs[to.class.Name()] {
					tos = append(tos, firstLayer(h))
				}
			}
			for _, f := range froms {
				for _, t := range tos {
					if f != t {
						b.AddEdge(f, t)
					}
				}
			}
		}
	}

	d, err := b.Build()
	if err != nil {
		var cycle *dag.CycleError
		if errors.As(err, &cycle) {
			return nil, fmt.Errorf("%w: %w", ErrOrderingCycle, cycle)
		}
		return nil, err
	}

	groups := make(map[string]int)
	for _, id := range d.Order() {
		l := layers[id]
		collab := l.Class.Collaborator()
		if collab == "" {
			plan.Stages = append(plan.Stages, Stage{Kind: StageAdvice, Name: id, Layers: []aspect.Layer{l}})
			continue
		}
		if i, ok := groups[collab]; ok {
			plan.Stages[i].Layers = append(plan.Stages[i].Layers, l)
			continue
		}
		groups[collab] = len(plan.Stages)
		plan.Stages = append(plan.Stages, Stage{
			Kind:         StageCollaborator,
			Name:         "collaborator:" + collab,
			Layers:       []aspect.Layer{l},
			Collaborator: collab,
		})
	}
	return plan, nil
}

func resolveEntry(reg *aspect.Registry, raw string) (entry, bool) {
	id := template.ParseLayerID(raw)
	c, ok := reg.Class(id.Aspect)
	if !ok {
		return entry{}, false
	}
	if !strings.Contains(raw, ":") {
		return entry{class: c, first: firstLayer(c), last: lastLayer(c), whole: true}, true
	}
	l, ok := c.Layer(id.Layer)
	if !ok {
		return entry{}, false
	}
	return entry{class: c, first: l.ID().String(), last: l.ID().String()}, true
}

func firstLayer(c *aspect.Class) string {
	return c.DefaultLayer().ID().String()
}

func lastLayer(c *aspect.Class) string {
	ls := c.Layers()
	return ls[len(ls)-1].ID().String()
}
