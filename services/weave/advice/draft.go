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
	"slices"

	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
)

// MemberDraft is the mutable form of a member being introduced. It is
// handed to WithBuild callbacks and frozen into a MemberSpec before the
// factory call returns. Any setter called after that panics with
// ErrDraftFrozen.
type MemberDraft struct {
	spec   MemberSpec
	frozen bool
}

func newDraft(spec MemberSpec) *MemberDraft {
	spec.Signature.Parameters = slices.Clone(spec.Signature.Parameters)
	spec.Attributes = slices.Clone(spec.Attributes)
	spec.Accessors = slices.Clone(spec.Accessors)
	return &MemberDraft{spec: spec}
}

func (d *MemberDraft) check() {
	if d.frozen {
		panic(ErrDraftFrozen)
	}
}

// Name returns the current member name.
func (d *MemberDraft) Name() string { return d.spec.Name }

// Kind returns the member kind.
func (d *MemberDraft) Kind() declgraph.Kind { return d.spec.Kind }

// SetName renames the member.
func (d *MemberDraft) SetName(name string) {
	d.check()
	d.spec.Name = name
}

// SetAccessibility sets the member accessibility.
func (d *MemberDraft) SetAccessibility(a declgraph.Accessibility) {
	d.check()
	d.spec.Accessibility = a
}

// SetStatic sets the member staticity.
func (d *MemberDraft) SetStatic(static bool) {
	d.check()
	d.spec.IsStatic = static
}

// SetVirtual makes the member overridable.
func (d *MemberDraft) SetVirtual(virtual bool) {
	d.check()
	d.spec.IsVirtual = virtual
}

// SetSealed seals the member.
func (d *MemberDraft) SetSealed(sealed bool) {
	d.check()
	d.spec.IsSealed = sealed
}

// SetReturnType sets the return type of a method.
func (d *MemberDraft) SetReturnType(t string) {
	d.check()
	d.spec.Signature.ReturnType = t
}

// SetParameters replaces the parameter list of a method.
func (d *MemberDraft) SetParameters(params ...declgraph.Parameter) {
	d.check()
	d.spec.Signature.Parameters = slices.Clone(params)
}

// SetValueType sets the type of a field, property or event.
func (d *MemberDraft) SetValueType(t string) {
	d.check()
	d.spec.ValueType = t
}

// AddAttribute appends an attribute.
func (d *MemberDraft) AddAttribute(a declgraph.Attribute) {
	d.check()
	d.spec.Attributes = append(d.spec.Attributes, a)
}

func (d *MemberDraft) freeze() MemberSpec {
	d.frozen = true
	out := d.spec
	out.Signature.Parameters = slices.Clone(d.spec.Signature.Parameters)
	out.Attributes = slices.Clone(d.spec.Attributes)
	out.Accessors = slices.Clone(d.spec.Accessors)
	return out
}
