// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transform applies advice to program snapshots.
//
// The Engine resolves each advice against the current snapshot, expands
// its templates through the aspect class's drivers, and produces
// Transformations. Snapshot.Fold records a batch of transformations as a
// new snapshot layered over the previous one; earlier snapshots are never
// modified.
package transform

import (
	"fmt"

	"github.com/AleutianAI/AleutianWeave/services/weave/advice"
	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

// Kind discriminates the transformation variants.
type Kind int

const (
	KindIntroducedMember Kind = iota
	KindOverriddenMember
	KindIntroducedInterface
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindIntroducedMember:
		return "introduced-member"
	case KindOverriddenMember:
		return "overridden-member"
	case KindIntroducedInterface:
		return "introduced-interface"
	default:
		return fmt.Sprintf("transformation(%d)", int(k))
	}
}

// Provenance records where a transformation came from.
type Provenance struct {
	Advice advice.Advice
	Aspect string
	Layer  template.LayerID

	// Stage is the generation of the snapshot the transformation belongs to.
	Stage int

	// Order is the position within its stage.
	Order int
}

// Transformation is one applied edit. The union is closed.
type Transformation interface {
	Kind() Kind
	Provenance() Provenance
	sealed()
}

// Introduction says how an introduced member relates to existing ones.
type Introduction int

const (
	// IntroducePlain adds a member that collides with nothing.
	IntroducePlain Introduction = iota

	// IntroduceAsNew hides an inherited member.
	IntroduceAsNew

	// IntroduceAsOverride overrides an inherited virtual member.
	IntroduceAsOverride
)

// String returns the introduction name.
func (i Introduction) String() string {
	switch i {
	case IntroducePlain:
		return "plain"
	case IntroduceAsNew:
		return "new"
	case IntroduceAsOverride:
		return "override"
	default:
		return fmt.Sprintf("introduction(%d)", int(i))
	}
}

// IntroducedMember adds a declaration to a type.
type IntroducedMember struct {
	prov Provenance

	Declaration  *declgraph.Declaration
	Introduction Introduction

	// Replaces is the inherited member hidden or overridden, if any.
	Replaces *declgraph.Declaration

	// Bodies holds the expanded body per accessor (TargetDefault for
	// methods and field initializers).
	Bodies map[template.TargetKind]template.Body
}

func (t *IntroducedMember) Kind() Kind             { return KindIntroducedMember }
func (t *IntroducedMember) Provenance() Provenance { return t.prov }
func (t *IntroducedMember) sealed()                {}

// OverriddenMember replaces one body of an existing member. The previous
// body stays reachable through the linker's version chain.
type OverriddenMember struct {
	prov Provenance

	TargetID     string
	Accessor     template.TargetKind
	TemplateID   string
	TemplateKind aspect.TemplateKind
	Body         template.Body

	// PromotesField turns a field target into a property.
	PromotesField bool
}

func (t *OverriddenMember) Kind() Kind             { return KindOverriddenMember }
func (t *OverriddenMember) Provenance() Provenance { return t.prov }
func (t *OverriddenMember) sealed()                {}

// IntroducedInterface adds an interface to a type.
type IntroducedInterface struct {
	prov Provenance

	TypeID      string
	InterfaceID string

	// MemberMap maps each interface member ID to the implementing member ID.
	MemberMap map[string]string
}

func (t *IntroducedInterface) Kind() Kind             { return KindIntroducedInterface }
func (t *IntroducedInterface) Provenance() Provenance { return t.prov }
func (t *IntroducedInterface) sealed()                {}

// MemberOf returns the member a transformation edits, and whether it
// edits one. Interface introductions edit a type, not a member.
func MemberOf(t Transformation) (string, bool) {
	switch tt := t.(type) {
	case *IntroducedMember:
		return tt.Declaration.ID, true
	case *OverriddenMember:
		return tt.TargetID, true
	case *IntroducedInterface:
		return "", false
	default:
		panic(fmt.Sprintf("transform: unknown transformation %T", t))
	}
}
