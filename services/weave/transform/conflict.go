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
	"fmt"

	"github.com/AleutianAI/AleutianWeave/services/weave/advice"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
)

// Resolution is the outcome of introduction conflict resolution.
type Resolution int

const (
	// ResolveIntroduce adds the member; nothing collides.
	ResolveIntroduce Resolution = iota

	// ResolveIntroduceNew adds the member hiding an inherited one.
	ResolveIntroduceNew

	// ResolveIntroduceOverride adds the member as an override of an
	// inherited virtual member.
	ResolveIntroduceOverride

	// ResolveOverrideInPlace overrides the member the type already declares.
	ResolveOverrideInPlace

	// ResolveIgnore drops the introduction.
	ResolveIgnore

	// ResolveReject drops the introduction and reports a diagnostic.
	ResolveReject
)

var resolutionNames = map[Resolution]string{
	ResolveIntroduce:         "introduce",
	ResolveIntroduceNew:      "introduce-new",
	ResolveIntroduceOverride: "introduce-override",
	ResolveOverrideInPlace:   "override-in-place",
	ResolveIgnore:            "ignore",
	ResolveReject:            "reject",
}

// String returns the resolution name.
func (r Resolution) String() string {
	if s, ok := resolutionNames[r]; ok {
		return s
	}
	return fmt.Sprintf("resolution(%d)", int(r))
}

// Decision is the result of ResolveIntroduction.
type Decision struct {
	Resolution Resolution

	// Existing is the colliding member, own or inherited.
	Existing *declgraph.Declaration

	// Diagnostic is set when Resolution is ResolveReject.
	Diagnostic *diag.Diagnostic
}

// IntroductionRequest describes one member introduction to resolve.
type IntroductionRequest struct {
	Aspect   string
	TypeID   string
	Member   advice.MemberSpec
	Mode     advice.ConflictMode
	Location diag.Location
}

// ResolveIntroduction decides how a member introduction interacts with
// the members the type already has.
//
// Description:
//
//	A member with the same signature is looked up first in the type
//	itself, then in its base types (private base members do not collide).
//	A staticity mismatch with the colliding member is always rejected
//	with CR0504. Otherwise the mode decides:
//
//	  mode      same type         base, virtual         base, not virtual or sealed
//	  Fail      reject CR0502     reject CR0502         reject CR0502
//	  Ignore    ignore            ignore                ignore
//	  New       reject CR0503     introduce new         introduce new
//	  Override  override in place introduce override    reject CR0505
//
//	An override of a base member must keep its type (CR0506). Default
//	resolves to Fail.
//
// Thread Safety:
//
//	Safe for concurrent use with any View safe for concurrent reads.
func ResolveIntroduction(view declgraph.View, req IntroductionRequest) Decision {
	candidate := req.Member.Declaration(req.TypeID)
	mode := req.Mode.Resolve()

	reject := func(existing *declgraph.Declaration, d diag.Diagnostic) Decision {
		return Decision{Resolution: ResolveReject, Existing: existing, Diagnostic: &d}
	}

	if own, ok := declgraph.FindOwnMember(view, req.TypeID, candidate); ok {
		if own.IsStatic != candidate.IsStatic {
			return reject(own, diag.CannotIntroduceWithDifferentStaticity.New(req.Location, req.Aspect, candidate.Name, req.TypeID, own.ID))
		}
		switch mode {
		case advice.ConflictIgnore:
			return Decision{Resolution: ResolveIgnore, Existing: own}
		case advice.ConflictNew:
			return reject(own, diag.CannotIntroduceNewInSameType.New(req.Location, req.Aspect, candidate.Name, req.TypeID))
		case advice.ConflictOverride:
			if own.Kind != candidate.Kind {
				return reject(own, diag.MemberAlreadyExists.New(req.Location, req.Aspect, candidate.Name, req.TypeID, own.ID))
			}
			return Decision{Resolution: ResolveOverrideInPlace, Existing: own}
		default:
			return reject(own, diag.MemberAlreadyExists.New(req.Location, req.Aspect, candidate.Name, req.TypeID, own.ID))
		}
	}

	inherited, ok := declgraph.FindInheritedMember(view, req.TypeID, candidate)
	if !ok {
		return Decision{Resolution: ResolveIntroduce}
	}
	if inherited.IsStatic != candidate.IsStatic {
		return reject(inherited, diag.CannotIntroduceWithDifferentStaticity.New(req.Location, req.Aspect, candidate.Name, req.TypeID, inherited.ID))
	}
	switch mode {
	case advice.ConflictIgnore:
		return Decision{Resolution: ResolveIgnore, Existing: inherited}
	case advice.ConflictNew:
		return Decision{Resolution: ResolveIntroduceNew, Existing: inherited}
	case advice.ConflictOverride:
		if !inherited.IsOverridable() || inherited.Kind != candidate.Kind {
			return reject(inherited, diag.CannotIntroduceOverrideOfSealed.New(req.Location, req.Aspect, candidate.Name, req.TypeID, inherited.ID))
		}
		if inherited.MemberType() != candidate.MemberType() {
			return reject(inherited, diag.CannotIntroduceDifferentExistingReturnType.New(req.Location,
				req.Aspect, candidate.Name, req.TypeID, inherited.ID, inherited.MemberType(), candidate.MemberType()))
		}
		return Decision{Resolution: ResolveIntroduceOverride, Existing: inherited}
	default:
		return reject(inherited, diag.MemberAlreadyExists.New(req.Location, req.Aspect, candidate.Name, req.TypeID, inherited.ID))
	}
}
