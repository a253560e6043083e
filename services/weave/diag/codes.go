// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diag

// =============================================================================
// CR01xx: aspect class registry
// =============================================================================

var (
	TemplateNameCollision = Descriptor{
		Code: "CR0101", Severity: SeverityError, Title: "TemplateNameCollision",
		Format: "aspect %s declares template %q which is already defined by %s; mark it as an override or rename it",
	}
	DuplicateLayerName = Descriptor{
		Code: "CR0102", Severity: SeverityError, Title: "DuplicateLayerName",
		Format: "aspect %s declares layer %q more than once",
	}
	UnknownBaseAspect = Descriptor{
		Code: "CR0103", Severity: SeverityError, Title: "UnknownBaseAspect",
		Format: "aspect %s derives from %s which is not a registered aspect",
	}
)

// =============================================================================
// CR02xx: aspect sources and eligibility
// =============================================================================

var (
	AspectNotEligible = Descriptor{
		Code: "CR0201", Severity: SeverityError, Title: "AspectNotEligible",
		Format: "aspect %s cannot be applied to %s %s",
	}
	CannotAddAspectToPreviousStep = Descriptor{
		Code: "CR0202", Severity: SeverityError, Title: "CannotAddAspectToPreviousStep",
		Format: "aspect %s requested aspect %s on %s, but %s has already been evaluated",
	}
	UnknownAspectClass = Descriptor{
		Code: "CR0203", Severity: SeverityError, Title: "UnknownAspectClass",
		Format: "aspect %s requested unknown aspect %q on %s",
	}
)

// =============================================================================
// CR03xx: pipeline
// =============================================================================

var (
	OrderingCycle = Descriptor{
		Code: "CR0301", Severity: SeverityError, Title: "OrderingCycle",
		Format: "aspect layers cannot be ordered deterministically: cycle %s",
	}
	AspectCrashed = Descriptor{
		Code: "CR0302", Severity: SeverityError, Title: "AspectCrashed",
		Format: "aspect %s crashed on %s with %s: %v\n%s",
	}
	CollaboratorFailed = Descriptor{
		Code: "CR0303", Severity: SeverityError, Title: "CollaboratorFailed",
		Format: "collaborator %s failed: %v",
	}
	UnknownAspectInOrdering = Descriptor{
		Code: "CR0304", Severity: SeverityWarning, Title: "UnknownAspectInOrdering",
		Format: "ordering declaration names unknown aspect layer %q",
	}
	AspectFailed = Descriptor{
		Code: "CR0305", Severity: SeverityError, Title: "AspectFailed",
		Format: "aspect %s failed on %s: %v",
	}
)

// =============================================================================
// CR05xx: advice
// =============================================================================

var (
	AspectMustHaveExactlyOneTemplateMember = Descriptor{
		Code: "CR0500", Severity: SeverityError, Title: "AspectMustHaveExactlyOneTemplateMember",
		Format: "aspect %s must have exactly one template member named %q: %s",
	}
	InvalidAdviceTarget = Descriptor{
		Code: "CR0501", Severity: SeverityError, Title: "InvalidAdviceTarget",
		Format: "%s cannot target %s %s",
	}
	MemberAlreadyExists = Descriptor{
		Code: "CR0502", Severity: SeverityError, Title: "CannotIntroduceMemberAlreadyExists",
		Format: "aspect %s cannot introduce %s into %s because %s already exists",
	}
	CannotIntroduceNewInSameType = Descriptor{
		Code: "CR0503", Severity: SeverityError, Title: "CannotIntroduceNewMemberWhenItAlreadyExists",
		Format: "aspect %s cannot introduce %s as new into %s because the type itself already declares it",
	}
	CannotIntroduceWithDifferentStaticity = Descriptor{
		Code: "CR0504", Severity: SeverityError, Title: "CannotIntroduceWithDifferentStaticity",
		Format: "aspect %s cannot introduce %s into %s because %s exists with different staticity",
	}
	CannotIntroduceOverrideOfSealed = Descriptor{
		Code: "CR0505", Severity: SeverityError, Title: "CannotIntroduceOverrideOfSealed",
		Format: "aspect %s cannot introduce %s into %s as an override because %s is not virtual or is sealed",
	}
	CannotIntroduceDifferentExistingReturnType = Descriptor{
		Code: "CR0506", Severity: SeverityError, Title: "CannotIntroduceDifferentExistingReturnType",
		Format: "aspect %s cannot introduce %s into %s because %s has type %s instead of %s",
	}
	CannotIntroduceInstanceMemberIntoStaticType = Descriptor{
		Code: "CR0507", Severity: SeverityError, Title: "CannotIntroduceInstanceMemberIntoStaticType",
		Format: "aspect %s cannot introduce instance member %s into static type %s",
	}
	InterfaceIsAlreadyImplemented = Descriptor{
		Code: "CR0508", Severity: SeverityError, Title: "InterfaceIsAlreadyImplemented",
		Format: "aspect %s cannot implement %s on %s because it is already implemented",
	}
	MissingInterfaceMemberTemplate = Descriptor{
		Code: "CR0509", Severity: SeverityError, Title: "MissingInterfaceMemberTemplate",
		Format: "aspect %s implements %s on %s but has no template for interface member %s",
	}
	InvalidIntroductionTarget = Descriptor{
		Code: "CR0510", Severity: SeverityError, Title: "InvalidIntroductionTarget",
		Format: "aspect %s cannot introduce %s into %s %s",
	}
	UnknownLayer = Descriptor{
		Code: "CR0511", Severity: SeverityError, Title: "UnknownLayer",
		Format: "aspect %s has no layer named %q",
	}
	TemplateExpansionFailed = Descriptor{
		Code: "CR0512", Severity: SeverityError, Title: "TemplateExpansionFailed",
		Format: "template %s of aspect %s failed to expand for %s: %v",
	}
	TemplateKindMismatch = Descriptor{
		Code: "CR0513", Severity: SeverityError, Title: "TemplateKindMismatch",
		Format: "template %s of aspect %s is a %s but %s requires a %s template",
	}
	InvalidTemplateSyntax = Descriptor{
		Code: "CR0514", Severity: SeverityError, Title: "InvalidTemplateSyntax",
		Format: "template %s has an invalid placeholder %q at offset %d",
	}
)

// =============================================================================
// CR06xx: linker
// =============================================================================

var (
	UnresolvedAspectReference = Descriptor{
		Code: "CR0601", Severity: SeverityError, Title: "UnresolvedAspectReference",
		Format: "reference to %s (%s) in %s cannot be resolved: %s",
	}
)

// Catalogue lists every descriptor, ordered by code.
func Catalogue() []Descriptor {
	return []Descriptor{
		TemplateNameCollision, DuplicateLayerName, UnknownBaseAspect,
		AspectNotEligible, CannotAddAspectToPreviousStep, UnknownAspectClass,
		OrderingCycle, AspectCrashed, CollaboratorFailed, UnknownAspectInOrdering, AspectFailed,
		AspectMustHaveExactlyOneTemplateMember, InvalidAdviceTarget, MemberAlreadyExists,
		CannotIntroduceNewInSameType, CannotIntroduceWithDifferentStaticity,
		CannotIntroduceOverrideOfSealed, CannotIntroduceDifferentExistingReturnType,
		CannotIntroduceInstanceMemberIntoStaticType, InterfaceIsAlreadyImplemented,
		MissingInterfaceMemberTemplate, InvalidIntroductionTarget, UnknownLayer,
		TemplateExpansionFailed, TemplateKindMismatch, InvalidTemplateSyntax,
		UnresolvedAspectReference,
	}
}
