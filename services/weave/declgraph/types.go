// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package declgraph

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Kind is the kind of a declaration.
type Kind int

const (
	// KindType is a class, struct or interface.
	KindType Kind = iota

	// KindMethod is an ordinary method.
	KindMethod

	// KindField is a field.
	KindField

	// KindProperty is a property with get/set accessors.
	KindProperty

	// KindEvent is an event with add/remove/raise accessors.
	KindEvent

	// KindConstructor is a constructor.
	KindConstructor
)

var kindNames = map[Kind]string{
	KindType:        "type",
	KindMethod:      "method",
	KindField:       "field",
	KindProperty:    "property",
	KindEvent:       "event",
	KindConstructor: "constructor",
}

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses a kind name as produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown declaration kind %q", ErrInvalidProgram, s)
}

// IsMember returns true for every kind except KindType.
func (k Kind) IsMember() bool {
	return k != KindType
}

// IsFieldOrProperty returns true for fields and properties.
func (k Kind) IsFieldOrProperty() bool {
	return k == KindField || k == KindProperty
}

// TypeKind distinguishes the flavours of a type declaration.
type TypeKind int

const (
	// TypeKindClass is a reference type supporting inheritance.
	TypeKindClass TypeKind = iota

	// TypeKindStruct is a value type.
	TypeKindStruct

	// TypeKindInterface is an interface.
	TypeKindInterface
)

// String returns the lowercase name of the type kind.
func (k TypeKind) String() string {
	switch k {
	case TypeKindClass:
		return "class"
	case TypeKindStruct:
		return "struct"
	case TypeKindInterface:
		return "interface"
	default:
		return fmt.Sprintf("typekind(%d)", int(k))
	}
}

// Accessibility is the declared visibility of a declaration.
type Accessibility int

const (
	// AccessPrivate is visible only inside the declaring type.
	AccessPrivate Accessibility = iota

	// AccessProtected is visible to the declaring type and derived types.
	AccessProtected

	// AccessInternal is visible inside the program.
	AccessInternal

	// AccessPublic is visible everywhere.
	AccessPublic
)

var accessNames = map[Accessibility]string{
	AccessPrivate:   "private",
	AccessProtected: "protected",
	AccessInternal:  "internal",
	AccessPublic:    "public",
}

// String returns the lowercase name of the accessibility.
func (a Accessibility) String() string {
	if s, ok := accessNames[a]; ok {
		return s
	}
	return fmt.Sprintf("access(%d)", int(a))
}

// ParseAccessibility parses an accessibility name. The empty string maps
// to AccessPrivate.
func ParseAccessibility(s string) (Accessibility, error) {
	if s == "" {
		return AccessPrivate, nil
	}
	for a, name := range accessNames {
		if strings.EqualFold(name, s) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown accessibility %q", ErrInvalidProgram, s)
}

// MethodShape classifies a method by its asynchrony and iteration behaviour.
type MethodShape int

const (
	// ShapeSync is an ordinary synchronous method.
	ShapeSync MethodShape = iota

	// ShapeAsync is an asynchronous method.
	ShapeAsync

	// ShapeIterator yields a sequence synchronously.
	ShapeIterator

	// ShapeAsyncIterator yields a sequence asynchronously.
	ShapeAsyncIterator
)

// String returns the shape name.
func (s MethodShape) String() string {
	switch s {
	case ShapeSync:
		return "sync"
	case ShapeAsync:
		return "async"
	case ShapeIterator:
		return "iterator"
	case ShapeAsyncIterator:
		return "async-iterator"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Parameter is one method parameter.
type Parameter struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Signature describes a method signature.
type Signature struct {
	ReturnType string
	Parameters []Parameter
	IsAsync    bool
	IsIterator bool
}

// ParameterTypes returns the parameter types in declaration order.
func (s Signature) ParameterTypes() []string {
	types := make([]string, len(s.Parameters))
	for i, p := range s.Parameters {
		types[i] = p.Type
	}
	return types
}

// SameParameters reports whether two signatures take the same parameter types.
func (s Signature) SameParameters(other Signature) bool {
	return slices.Equal(s.ParameterTypes(), other.ParameterTypes())
}

// Attribute is a declarative annotation attached to a declaration.
type Attribute struct {
	// Type is the annotation type name, e.g. "Logged" or "ExcludeAspect".
	Type string

	// Args holds the named annotation arguments.
	Args map[string]string
}

// Arg returns the named argument and whether it was present.
func (a Attribute) Arg(name string) (string, bool) {
	v, ok := a.Args[name]
	return v, ok
}

func (a Attribute) clone() Attribute {
	return Attribute{Type: a.Type, Args: maps.Clone(a.Args)}
}

// Accessor names used as keys of Declaration.Accessors.
const (
	AccessorGet    = "get"
	AccessorSet    = "set"
	AccessorAdd    = "add"
	AccessorRemove = "remove"
	AccessorRaise  = "raise"
)

// Declaration is one node of the declaration graph.
//
// Description:
//
//	A Declaration is an immutable value once it has been added to a Graph.
//	Types carry BaseTypeID and Interfaces; members carry ContainingID and,
//	depending on kind, a Signature (methods, constructors) or a ValueType
//	(fields, properties, events).
//
// Thread Safety:
//
//	Safe for concurrent reads. Use Clone to derive a modified copy.
type Declaration struct {
	ID            string
	Name          string
	Kind          Kind
	TypeKind      TypeKind
	ContainingID  string
	Accessibility Accessibility

	IsStatic   bool
	IsVirtual  bool
	IsSealed   bool
	IsAbstract bool
	IsOverride bool

	Signature Signature
	ValueType string

	BaseTypeID string
	Interfaces []string

	Attributes []Attribute

	// Body is the opaque source text of a method or template.
	Body string

	// Accessors holds opaque accessor bodies keyed by AccessorGet and friends.
	Accessors map[string]string

	File string
	Line int
}

// Clone returns a deep copy of the declaration.
func (d *Declaration) Clone() *Declaration {
	if d == nil {
		return nil
	}
	c := *d
	c.Signature.Parameters = slices.Clone(d.Signature.Parameters)
	c.Interfaces = slices.Clone(d.Interfaces)
	c.Accessors = maps.Clone(d.Accessors)
	if d.Attributes != nil {
		c.Attributes = make([]Attribute, len(d.Attributes))
		for i, a := range d.Attributes {
			c.Attributes[i] = a.clone()
		}
	}
	return &c
}

// HasAttribute reports whether an attribute of the given type is present.
func (d *Declaration) HasAttribute(attrType string) bool {
	_, ok := d.Attribute(attrType)
	return ok
}

// Attribute returns the first attribute of the given type.
func (d *Declaration) Attribute(attrType string) (Attribute, bool) {
	for _, a := range d.Attributes {
		if a.Type == attrType {
			return a, true
		}
	}
	return Attribute{}, false
}

// AttributesOf returns every attribute of the given type in declaration order.
func (d *Declaration) AttributesOf(attrType string) []Attribute {
	var out []Attribute
	for _, a := range d.Attributes {
		if a.Type == attrType {
			out = append(out, a)
		}
	}
	return out
}

// IsInterface reports whether the declaration is an interface type.
func (d *Declaration) IsInterface() bool {
	return d.Kind == KindType && d.TypeKind == TypeKindInterface
}

// IsOverridable reports whether a derived type may override this member.
func (d *Declaration) IsOverridable() bool {
	return (d.IsVirtual || d.IsAbstract || d.IsOverride) && !d.IsSealed && !d.IsStatic
}

// MethodShape classifies the method by its signature flags.
func (d *Declaration) MethodShape() MethodShape {
	switch {
	case d.Signature.IsAsync && d.Signature.IsIterator:
		return ShapeAsyncIterator
	case d.Signature.IsIterator:
		return ShapeIterator
	case d.Signature.IsAsync:
		return ShapeAsync
	default:
		return ShapeSync
	}
}

// MemberType returns the return type of a method or the value type of a
// field, property or event.
func (d *Declaration) MemberType() string {
	if d.Kind == KindMethod || d.Kind == KindConstructor {
		return d.Signature.ReturnType
	}
	return d.ValueType
}

// SameSignature reports whether two members collide by name and, for
// methods, by parameter types.
func (d *Declaration) SameSignature(other *Declaration) bool {
	if d.Name != other.Name {
		return false
	}
	dm := d.Kind == KindMethod || d.Kind == KindConstructor
	om := other.Kind == KindMethod || other.Kind == KindConstructor
	if dm && om {
		return d.Signature.SameParameters(other.Signature)
	}
	return true
}

// String returns the declaration ID.
func (d *Declaration) String() string {
	return d.ID
}

// MemberID builds the conventional identity of a member: "Type.Name" for
// non-method members and "Type.Name(T1,T2)" for methods and constructors.
func MemberID(typeID, name string, kind Kind, params []Parameter) string {
	if kind != KindMethod && kind != KindConstructor {
		return typeID + "." + name
	}
	types := make([]string, len(params))
	for i, p := range params {
		types[i] = p.Type
	}
	return typeID + "." + name + "(" + strings.Join(types, ",") + ")"
}
