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

// Structural queries shared by every View implementation.

// maxHierarchyDepth bounds base-type walks so a malformed graph with a
// base-type loop cannot hang the weaver.
const maxHierarchyDepth = 256

// BaseType returns the base type of a type declaration.
func BaseType(v View, typeID string) (*Declaration, bool) {
	t, ok := v.Declaration(typeID)
	if !ok || t.BaseTypeID == "" {
		return nil, false
	}
	return v.Declaration(t.BaseTypeID)
}

// BaseTypes returns the chain of base types of a type, nearest first.
func BaseTypes(v View, typeID string) []*Declaration {
	var chain []*Declaration
	cur := typeID
	for i := 0; i < maxHierarchyDepth; i++ {
		b, ok := BaseType(v, cur)
		if !ok {
			break
		}
		chain = append(chain, b)
		cur = b.ID
	}
	return chain
}

// DeclaringType returns the type that contains a member.
func DeclaringType(v View, d *Declaration) (*Declaration, bool) {
	if d == nil || !d.Kind.IsMember() {
		return nil, false
	}
	return v.Declaration(d.ContainingID)
}

// Ancestors returns the containing chain of a declaration, nearest first.
func Ancestors(v View, d *Declaration) []*Declaration {
	var out []*Declaration
	cur := d
	for i := 0; cur != nil && cur.ContainingID != "" && i < maxHierarchyDepth; i++ {
		parent, ok := v.Declaration(cur.ContainingID)
		if !ok {
			break
		}
		out = append(out, parent)
		cur = parent
	}
	return out
}

// Implements reports whether a type implements an interface, either
// directly, through a base type, or through interface inheritance.
func Implements(v View, typeID, interfaceID string) bool {
	seen := make(map[string]bool)
	var walk func(id string, depth int) bool
	walk = func(id string, depth int) bool {
		if depth > maxHierarchyDepth || seen[id] {
			return false
		}
		seen[id] = true
		t, ok := v.Declaration(id)
		if !ok {
			return false
		}
		for _, iface := range t.Interfaces {
			if iface == interfaceID || walk(iface, depth+1) {
				return true
			}
		}
		if t.BaseTypeID != "" {
			return walk(t.BaseTypeID, depth+1)
		}
		return false
	}
	return walk(typeID, 0)
}

// IsAssignableTo reports whether a value of type fromID can be used where
// type toID is expected.
func IsAssignableTo(v View, fromID, toID string) bool {
	if fromID == toID {
		return true
	}
	for _, b := range BaseTypes(v, fromID) {
		if b.ID == toID {
			return true
		}
	}
	return Implements(v, fromID, toID)
}

// DerivedTypes returns every type that directly or transitively derives
// from, or implements, the given type. Order follows v.Types.
func DerivedTypes(v View, typeID string) []*Declaration {
	var out []*Declaration
	for _, t := range v.Types() {
		if t.ID != typeID && IsAssignableTo(v, t.ID, typeID) {
			out = append(out, t)
		}
	}
	return out
}

// FindOwnMember returns the member of a type that collides with the candidate.
func FindOwnMember(v View, typeID string, candidate *Declaration) (*Declaration, bool) {
	for _, m := range v.Members(typeID) {
		if m.SameSignature(candidate) {
			return m, true
		}
	}
	return nil, false
}

// FindInheritedMember walks the base chain of a type and returns the
// nearest non-private member that collides with the candidate.
func FindInheritedMember(v View, typeID string, candidate *Declaration) (*Declaration, bool) {
	for _, b := range BaseTypes(v, typeID) {
		for _, m := range v.Members(b.ID) {
			if m.Accessibility == AccessPrivate {
				continue
			}
			if m.SameSignature(candidate) {
				return m, true
			}
		}
	}
	return nil, false
}

// Equivalent reports whether two declarations denote the same entity.
func Equivalent(a, b *Declaration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}
