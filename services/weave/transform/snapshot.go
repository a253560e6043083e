// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"slices"

	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
)

// Snapshot is an immutable program state: a base program plus the ordered
// transformations of every stage applied so far.
//
// Description:
//
//	Each snapshot stores only what its own stage changed (introduced
//	members, promoted fields, types with added interfaces) and reads
//	everything else through its parent. Fold never modifies the receiver,
//	so a snapshot handed to a stage stays valid for as long as anyone
//	holds it, and the original program is always reachable as Root.
//
// Thread Safety:
//
//	Safe for concurrent reads. Snapshots are never mutated after Fold
//	returns them.
type Snapshot struct {
	parent     *Snapshot
	root       declgraph.View
	generation int
	stage      string

	log     []Transformation
	decls   map[string]*declgraph.Declaration
	added   map[string][]string
	ordered []string
}

// NewSnapshot wraps a program as generation 0.
func NewSnapshot(root declgraph.View) *Snapshot {
	return &Snapshot{root: root}
}

// Fold returns a new snapshot recording ts on top of s.
//
// Inputs:
//
//	stage - Name of the stage producing the transformations.
//	ts - The transformations, in application order.
//
// Outputs:
//
//	*Snapshot - The child snapshot. s is unchanged.
func (s *Snapshot) Fold(stage string, ts []Transformation) *Snapshot {
	next := &Snapshot{
		parent:     s,
		root:       s.root,
		generation: s.generation + 1,
		stage:      stage,
		log:        slices.Clone(ts),
		decls:      make(map[string]*declgraph.Declaration),
		added:      make(map[string][]string),
	}
	for _, t := range ts {
		switch tt := t.(type) {
		case *IntroducedMember:
			d := tt.Declaration
			if _, exists := next.Declaration(d.ID); !exists {
				next.added[d.ContainingID] = append(next.added[d.ContainingID], d.ID)
				next.ordered = append(next.ordered, d.ID)
			}
			next.decls[d.ID] = d
		case *OverriddenMember:
			if !tt.PromotesField {
				continue
			}
			if cur, ok := next.Declaration(tt.TargetID); ok && cur.Kind == declgraph.KindField {
				next.decls[cur.ID] = promote(cur)
			}
		case *IntroducedInterface:
			if cur, ok := next.Declaration(tt.TypeID); ok && !slices.Contains(cur.Interfaces, tt.InterfaceID) {
				c := cur.Clone()
				c.Interfaces = append(c.Interfaces, tt.InterfaceID)
				next.decls[c.ID] = c
			}
		default:
			panic("transform: unknown transformation in Fold")
		}
	}
	return next
}

// Without returns the snapshot s would be had the transformations matched
// by drop never been folded. Every layer is refolded under its stage name,
// empty or not, so generations and provenance stages stay valid. s is
// returned when nothing matches.
func (s *Snapshot) Without(drop func(Transformation) bool) *Snapshot {
	layers := s.chain()
	matched := false
	kept := make([][]Transformation, len(layers))
	for i, layer := range layers {
		for _, t := range layer.log {
			if drop(t) {
				matched = true
				continue
			}
			kept[i] = append(kept[i], t)
		}
	}
	if !matched {
		return s
	}

	cur := NewSnapshot(s.root)
	for i, layer := range layers {
		cur = cur.Fold(layer.stage, kept[i])
	}
	return cur
}

// promote turns a field into a property with get and set accessors.
func promote(field *declgraph.Declaration) *declgraph.Declaration {
	p := field.Clone()
	p.Kind = declgraph.KindProperty
	p.Accessors = map[string]string{
		declgraph.AccessorGet: "return " + field.Name + ";",
		declgraph.AccessorSet: field.Name + " = value;",
	}
	return p
}

// Parent returns the previous snapshot, or nil for generation 0.
func (s *Snapshot) Parent() *Snapshot { return s.parent }

// Root returns the original program.
func (s *Snapshot) Root() declgraph.View { return s.root }

// Generation returns the number of folds since the original program.
func (s *Snapshot) Generation() int { return s.generation }

// Stage returns the name of the stage that produced the snapshot.
func (s *Snapshot) Stage() string { return s.stage }

// Transformations returns the transformations recorded by this snapshot.
func (s *Snapshot) Transformations() []Transformation {
	return slices.Clone(s.log)
}

// AllTransformations returns every transformation from generation 1 up to
// this snapshot, in application order.
func (s *Snapshot) AllTransformations() []Transformation {
	var out []Transformation
	for _, layer := range s.chain() {
		out = append(out, layer.log...)
	}
	return out
}

// TransformationsFor returns the transformations editing memberID.
func (s *Snapshot) TransformationsFor(memberID string) []Transformation {
	var out []Transformation
	for _, t := range s.AllTransformations() {
		if id, ok := MemberOf(t); ok && id == memberID {
			out = append(out, t)
		}
	}
	return out
}

// chain returns the folded layers oldest first, excluding generation 0.
func (s *Snapshot) chain() []*Snapshot {
	var layers []*Snapshot
	for cur := s; cur != nil && cur.parent != nil; cur = cur.parent {
		layers = append(layers, cur)
	}
	slices.Reverse(layers)
	return layers
}

// Declaration implements declgraph.View.
func (s *Snapshot) Declaration(id string) (*declgraph.Declaration, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if d, ok := cur.decls[id]; ok {
			return d, true
		}
	}
	return s.root.Declaration(id)
}

// Members implements declgraph.View. Introduced members follow the
// original ones in introduction order.
func (s *Snapshot) Members(typeID string) []*declgraph.Declaration {
	base := s.root.Members(typeID)
	out := make([]*declgraph.Declaration, 0, len(base))
	for _, m := range base {
		out = append(out, s.current(m))
	}
	for _, layer := range s.chain() {
		for _, id := range layer.added[typeID] {
			if d, ok := s.Declaration(id); ok {
				out = append(out, d)
			}
		}
	}
	return out
}

// Types implements declgraph.View.
func (s *Snapshot) Types() []*declgraph.Declaration {
	base := s.root.Types()
	out := make([]*declgraph.Declaration, len(base))
	for i, t := range base {
		out[i] = s.current(t)
	}
	return out
}

// Declarations implements declgraph.View.
func (s *Snapshot) Declarations() []*declgraph.Declaration {
	base := s.root.Declarations()
	out := make([]*declgraph.Declaration, 0, len(base))
	for _, d := range base {
		out = append(out, s.current(d))
	}
	for _, layer := range s.chain() {
		for _, id := range layer.ordered {
			if d, ok := s.Declaration(id); ok {
				out = append(out, d)
			}
		}
	}
	return out
}

func (s *Snapshot) current(d *declgraph.Declaration) *declgraph.Declaration {
	if cur, ok := s.Declaration(d.ID); ok {
		return cur
	}
	return d
}

var _ declgraph.View = (*Snapshot)(nil)
