// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aspect

import (
	"strings"

	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
)

// Eligibility is the set of declaration kinds an aspect class applies to.
type Eligibility uint8

const (
	EligibleType Eligibility = 1 << iota
	EligibleMethod
	EligibleField
	EligibleProperty
	EligibleEvent
	EligibleConstructor

	EligibleNone Eligibility = 0
	EligibleAll              = EligibleType | EligibleMethod | EligibleField |
		EligibleProperty | EligibleEvent | EligibleConstructor
)

var eligibilityByKind = map[declgraph.Kind]Eligibility{
	declgraph.KindType:        EligibleType,
	declgraph.KindMethod:      EligibleMethod,
	declgraph.KindField:       EligibleField,
	declgraph.KindProperty:    EligibleProperty,
	declgraph.KindEvent:       EligibleEvent,
	declgraph.KindConstructor: EligibleConstructor,
}

// EligibilityFor returns the flag for a declaration kind.
func EligibilityFor(kind declgraph.Kind) Eligibility {
	return eligibilityByKind[kind]
}

// Allows reports whether the set contains the given declaration kind.
func (e Eligibility) Allows(kind declgraph.Kind) bool {
	return e&EligibilityFor(kind) != 0
}

// String lists the kinds in the set, e.g. "method|property".
func (e Eligibility) String() string {
	if e == EligibleNone {
		return "none"
	}
	var parts []string
	for _, k := range []declgraph.Kind{
		declgraph.KindType, declgraph.KindMethod, declgraph.KindField,
		declgraph.KindProperty, declgraph.KindEvent, declgraph.KindConstructor,
	} {
		if e.Allows(k) {
			parts = append(parts, k.String())
		}
	}
	return strings.Join(parts, "|")
}

// ParseEligibility parses kind names ("type", "method", "field",
// "property", "event", "constructor", "field_or_property", "all").
func ParseEligibility(names []string) (Eligibility, error) {
	var e Eligibility
	for _, n := range names {
		switch strings.ToLower(n) {
		case "all":
			e |= EligibleAll
		case "field_or_property":
			e |= EligibleField | EligibleProperty
		default:
			k, err := declgraph.ParseKind(n)
			if err != nil {
				return 0, err
			}
			e |= EligibilityFor(k)
		}
	}
	return e, nil
}

// Capability interfaces. An aspect implementation declares which kinds of
// declaration it applies to by implementing one or more of them; the
// method refines eligibility for a particular declaration.

// TypeAspect applies to types.
type TypeAspect interface {
	EligibleType(t *declgraph.Declaration) bool
}

// MethodAspect applies to methods.
type MethodAspect interface {
	EligibleMethod(m *declgraph.Declaration) bool
}

// FieldOrPropertyAspect applies to fields and properties.
type FieldOrPropertyAspect interface {
	EligibleFieldOrProperty(d *declgraph.Declaration) bool
}

// FieldAspect applies to fields only.
type FieldAspect interface {
	EligibleField(f *declgraph.Declaration) bool
}

// PropertyAspect applies to properties only.
type PropertyAspect interface {
	EligibleProperty(p *declgraph.Declaration) bool
}

// EventAspect applies to events.
type EventAspect interface {
	EligibleEvent(e *declgraph.Declaration) bool
}

// ConstructorAspect applies to constructors.
type ConstructorAspect interface {
	EligibleConstructor(c *declgraph.Declaration) bool
}

// EligibilityProvider supplies eligibility as data. It is consulted in
// addition to the capability interfaces.
type EligibilityProvider interface {
	Eligibility() Eligibility
}

// eligibilityOf derives the kind set from the capabilities impl implements.
func eligibilityOf(impl any) Eligibility {
	var e Eligibility
	if _, ok := impl.(TypeAspect); ok {
		e |= EligibleType
	}
	if _, ok := impl.(MethodAspect); ok {
		e |= EligibleMethod
	}
	if _, ok := impl.(FieldOrPropertyAspect); ok {
		e |= EligibleField | EligibleProperty
	}
	if _, ok := impl.(FieldAspect); ok {
		e |= EligibleField
	}
	if _, ok := impl.(PropertyAspect); ok {
		e |= EligibleProperty
	}
	if _, ok := impl.(EventAspect); ok {
		e |= EligibleEvent
	}
	if _, ok := impl.(ConstructorAspect); ok {
		e |= EligibleConstructor
	}
	if p, ok := impl.(EligibilityProvider); ok {
		e |= p.Eligibility()
	}
	return e
}

// refine runs the capability predicate for the declaration's kind. An
// implementation that only provides eligibility as data accepts every
// declaration of an allowed kind.
func refine(impl any, d *declgraph.Declaration) bool {
	switch d.Kind {
	case declgraph.KindType:
		if a, ok := impl.(TypeAspect); ok {
			return a.EligibleType(d)
		}
	case declgraph.KindMethod:
		if a, ok := impl.(MethodAspect); ok {
			return a.EligibleMethod(d)
		}
	case declgraph.KindField:
		if a, ok := impl.(FieldAspect); ok && !a.EligibleField(d) {
			return false
		}
		if a, ok := impl.(FieldOrPropertyAspect); ok {
			return a.EligibleFieldOrProperty(d)
		}
	case declgraph.KindProperty:
		if a, ok := impl.(PropertyAspect); ok && !a.EligibleProperty(d) {
			return false
		}
		if a, ok := impl.(FieldOrPropertyAspect); ok {
			return a.EligibleFieldOrProperty(d)
		}
	case declgraph.KindEvent:
		if a, ok := impl.(EventAspect); ok {
			return a.EligibleEvent(d)
		}
	case declgraph.KindConstructor:
		if a, ok := impl.(ConstructorAspect); ok {
			return a.EligibleConstructor(d)
		}
	}
	return true
}
