// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package template defines the contract between the weaver and template
// drivers, and the body representation drivers produce.
//
// A template driver expands one template member for one target into a
// Body: a sequence of literal code fragments and tagged references. Each
// reference carries a ReferenceSpec saying which version of the referenced
// member it must resolve to once the linker has seen every layer.
package template

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
)

// LayerID identifies an aspect layer by aspect class name and layer name.
// The empty layer name is the default layer.
type LayerID struct {
	Aspect string `json:"aspect"`
	Layer  string `json:"layer,omitempty"`
}

// IsDefault reports whether this is the aspect's default layer.
func (l LayerID) IsDefault() bool {
	return l.Layer == ""
}

// String renders "Aspect" or "Aspect:Layer".
func (l LayerID) String() string {
	if l.Layer == "" {
		return l.Aspect
	}
	return l.Aspect + ":" + l.Layer
}

// ParseLayerID parses "Aspect" or "Aspect:Layer".
func ParseLayerID(s string) LayerID {
	aspect, layer, _ := strings.Cut(s, ":")
	return LayerID{Aspect: aspect, Layer: layer}
}

// Order selects which version of a member a reference resolves to.
type Order int

const (
	// OrderBase is the semantic before the authoring layer's edit.
	// Zero value.
	OrderBase Order = iota

	// OrderSelf is the semantic immediately after the authoring layer's edit.
	OrderSelf

	// OrderFinal is the semantic after every layer, including virtual dispatch.
	OrderFinal

	// OrderOriginal is the as-declared semantic, skipping every layer.
	OrderOriginal
)

// String returns the lowercase order name.
func (o Order) String() string {
	switch o {
	case OrderBase:
		return "base"
	case OrderSelf:
		return "self"
	case OrderFinal:
		return "final"
	case OrderOriginal:
		return "original"
	default:
		return fmt.Sprintf("order(%d)", int(o))
	}
}

// TargetKind selects the accessor of a member a reference or an override
// applies to.
type TargetKind int

const (
	// TargetDefault is the member itself (method body, field storage).
	TargetDefault TargetKind = iota
	TargetGetter
	TargetSetter
	TargetAdder
	TargetRemover
	TargetRaiser
)

var targetAccessors = map[TargetKind]string{
	TargetGetter:  declgraph.AccessorGet,
	TargetSetter:  declgraph.AccessorSet,
	TargetAdder:   declgraph.AccessorAdd,
	TargetRemover: declgraph.AccessorRemove,
	TargetRaiser:  declgraph.AccessorRaise,
}

// AccessorName returns the declgraph accessor key, or "" for TargetDefault.
func (k TargetKind) AccessorName() string {
	return targetAccessors[k]
}

// String returns the accessor name or "default".
func (k TargetKind) String() string {
	if k == TargetDefault {
		return "default"
	}
	if s, ok := targetAccessors[k]; ok {
		return s
	}
	return fmt.Sprintf("target(%d)", int(k))
}

// TargetKindForAccessor maps a declgraph accessor key back to a TargetKind.
func TargetKindForAccessor(name string) (TargetKind, bool) {
	for k, s := range targetAccessors {
		if s == name {
			return k, true
		}
	}
	return TargetDefault, name == ""
}

// ReferenceSpec tags a reference with the layer that authored it, the
// version order it asks for and the accessor it targets.
type ReferenceSpec struct {
	Layer  LayerID    `json:"layer"`
	Order  Order      `json:"order"`
	Target TargetKind `json:"target"`
}

// String renders "order@layer[/accessor]".
func (s ReferenceSpec) String() string {
	out := s.Order.String() + "@" + s.Layer.String()
	if s.Target != TargetDefault {
		out += "/" + s.Target.String()
	}
	return out
}

// Reference is a call from a generated body to a member version.
type Reference struct {
	// MemberID is the declaration the reference points at.
	MemberID string `json:"member_id"`

	// Spec says which version of MemberID to resolve to.
	Spec ReferenceSpec `json:"spec"`

	// Args is the literal argument list passed at the call site.
	Args string `json:"args,omitempty"`
}

// Fragment is either literal code or a reference.
type Fragment struct {
	Code string     `json:"code,omitempty"`
	Ref  *Reference `json:"ref,omitempty"`
}

// Body is the expanded, unlinked text of a member version.
type Body []Fragment

// Literal returns a body made of one code fragment.
func Literal(code string) Body {
	if code == "" {
		return nil
	}
	return Body{{Code: code}}
}

// References returns every reference of the body in order.
func (b Body) References() []*Reference {
	var refs []*Reference
	for _, f := range b {
		if f.Ref != nil {
			refs = append(refs, f.Ref)
		}
	}
	return refs
}

// String renders the body with references shown as {{spec member(args)}}.
func (b Body) String() string {
	var sb strings.Builder
	for _, f := range b {
		if f.Ref == nil {
			sb.WriteString(f.Code)
			continue
		}
		fmt.Fprintf(&sb, "{{%s %s(%s)}}", f.Ref.Spec, f.Ref.MemberID, f.Ref.Args)
	}
	return sb.String()
}
