// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package advice turns aspect instances into structural edit requests.
//
// An aspect implementation receives a Builder for each instance and calls
// its factory methods (OverrideMethod, IntroduceProperty, ...). Each call
// validates the request, resolves template names against the aspect
// class, and appends one Advice to the builder's ordered list. Advice are
// plain values; the transform package applies them.
//
// The Advice union is closed: OverrideMember, IntroduceMember and
// ImplementInterface are the only implementations.
package advice

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

// Kind discriminates the advice variants.
type Kind int

const (
	KindOverrideMember Kind = iota
	KindIntroduceMember
	KindImplementInterface
)

// String returns the advice kind name.
func (k Kind) String() string {
	switch k {
	case KindOverrideMember:
		return "override-member"
	case KindIntroduceMember:
		return "introduce-member"
	case KindImplementInterface:
		return "implement-interface"
	default:
		return fmt.Sprintf("advice(%d)", int(k))
	}
}

// ConflictMode says what an introduction does when a member with the same
// signature already exists.
type ConflictMode int

const (
	// ConflictDefault is resolved contextually; see Resolve.
	ConflictDefault ConflictMode = iota
	ConflictFail
	ConflictIgnore
	ConflictNew
	ConflictOverride
)

var conflictNames = map[ConflictMode]string{
	ConflictDefault:  "default",
	ConflictFail:     "fail",
	ConflictIgnore:   "ignore",
	ConflictNew:      "new",
	ConflictOverride: "override",
}

// String returns the mode name.
func (m ConflictMode) String() string {
	if s, ok := conflictNames[m]; ok {
		return s
	}
	return fmt.Sprintf("conflict(%d)", int(m))
}

// Resolve maps ConflictDefault to ConflictFail, the default for member
// and interface introductions.
func (m ConflictMode) Resolve() ConflictMode {
	if m == ConflictDefault {
		return ConflictFail
	}
	return m
}

// ParseConflictMode parses a mode name. The empty string is ConflictDefault.
func ParseConflictMode(s string) (ConflictMode, error) {
	if s == "" {
		return ConflictDefault, nil
	}
	for m, name := range conflictNames {
		if strings.EqualFold(name, s) {
			return m, nil
		}
	}
	return ConflictDefault, fmt.Errorf("%w: %q", ErrUnknownConflictMode, s)
}

// TemplateRef binds a resolved template member to the shape it was
// selected for.
type TemplateRef struct {
	Member *aspect.TemplateMember
	Kind   aspect.TemplateKind
}

// IsZero reports whether the reference is unset.
func (r TemplateRef) IsZero() bool {
	return r.Member == nil
}

// Common holds the fields every advice carries.
type Common struct {
	// Instance is the aspect instance that produced the advice.
	Instance *aspect.Instance

	// Layer is the aspect layer the advice is applied in.
	Layer aspect.Layer

	// Target is the declaration the advice edits: the member for
	// overrides, the type for introductions and interface implementations.
	Target *declgraph.Declaration

	// Order is the creation order within one aspect evaluation.
	Order int

	Tags map[string]string

	// ForceNotInlineable keeps the versions this advice produces out of
	// the linker's inlining pass.
	ForceNotInlineable bool

	Location diag.Location
}

// Advice is one requested edit. The union is closed.
type Advice interface {
	Kind() Kind
	Common() *Common
	sealed()
}

// OverrideMember replaces the body of an existing method, or the accessors
// of a property, event or field.
type OverrideMember struct {
	common Common

	// Templates maps the overridden body (TargetDefault for methods,
	// accessor kinds otherwise) to its template.
	Templates map[template.TargetKind]TemplateRef

	// PromoteField is set when the target is a field; later snapshots see
	// it as a property with get and set accessors.
	PromoteField bool
}

func (a *OverrideMember) Kind() Kind      { return KindOverrideMember }
func (a *OverrideMember) Common() *Common { return &a.common }
func (a *OverrideMember) sealed()         {}

// TargetKinds returns the overridden bodies in TargetKind order.
func (a *OverrideMember) TargetKinds() []template.TargetKind {
	return sortedKinds(a.Templates)
}

// IntroduceMember adds a new member to a type.
type IntroduceMember struct {
	common Common

	Member     MemberSpec
	WhenExists ConflictMode

	// Templates maps bodies of the new member to their templates. Fields
	// have none.
	Templates map[template.TargetKind]TemplateRef
}

func (a *IntroduceMember) Kind() Kind      { return KindIntroduceMember }
func (a *IntroduceMember) Common() *Common { return &a.common }
func (a *IntroduceMember) sealed()         {}

// TargetKinds returns the bodies to expand in TargetKind order.
func (a *IntroduceMember) TargetKinds() []template.TargetKind {
	return sortedKinds(a.Templates)
}

// InterfaceSpec is one interface requested by ImplementInterface.
type InterfaceSpec struct {
	InterfaceID string
	WhenExists  ConflictMode
	Tags        map[string]string
}

// ImplementInterface adds interfaces to a type. Calls against the same
// type and layer during one evaluation accumulate into one advice.
type ImplementInterface struct {
	common Common

	Interfaces []InterfaceSpec
}

func (a *ImplementInterface) Kind() Kind      { return KindImplementInterface }
func (a *ImplementInterface) Common() *Common { return &a.common }
func (a *ImplementInterface) sealed()         {}

func sortedKinds(m map[template.TargetKind]TemplateRef) []template.TargetKind {
	kinds := slices.Collect(maps.Keys(m))
	slices.Sort(kinds)
	return kinds
}

// MemberSpec is the frozen description of a member to introduce.
type MemberSpec struct {
	Name          string
	Kind          declgraph.Kind
	Accessibility declgraph.Accessibility
	IsStatic      bool
	IsVirtual     bool
	IsSealed      bool
	Signature     declgraph.Signature
	ValueType     string
	Attributes    []declgraph.Attribute

	// Accessors lists the accessor names the member has.
	Accessors []string
}

// Declaration builds the declaration the spec introduces into typeID.
// Bodies are left empty; they are produced by template expansion.
func (s MemberSpec) Declaration(typeID string) *declgraph.Declaration {
	d := &declgraph.Declaration{
		ID:            declgraph.MemberID(typeID, s.Name, s.Kind, s.Signature.Parameters),
		Name:          s.Name,
		Kind:          s.Kind,
		ContainingID:  typeID,
		Accessibility: s.Accessibility,
		IsStatic:      s.IsStatic,
		IsVirtual:     s.IsVirtual,
		IsSealed:      s.IsSealed,
		Signature:     s.Signature,
		ValueType:     s.ValueType,
		Attributes:    s.Attributes,
	}
	if len(s.Accessors) > 0 {
		d.Accessors = make(map[string]string, len(s.Accessors))
		for _, a := range s.Accessors {
			d.Accessors[a] = ""
		}
	}
	return d.Clone()
}
