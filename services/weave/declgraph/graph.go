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
)

// View is the read-only query surface over a declaration graph.
//
// Description:
//
//	Both the frozen Graph and every transform.Snapshot implement View, so
//	the weaver components can run against the original program or against
//	any intermediate snapshot without knowing which one they hold.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent reads.
type View interface {
	// Declaration returns the declaration with the given ID.
	Declaration(id string) (*Declaration, bool)

	// Members returns the members declared directly by a type, in
	// declaration order. Inherited members are not included.
	Members(typeID string) []*Declaration

	// Types returns every type declaration in declaration order.
	Types() []*Declaration

	// Declarations returns every declaration in declaration order.
	Declarations() []*Declaration
}

// Graph is the frozen, in-memory implementation of View.
//
// Description:
//
//	Graph is built by calling Add for each declaration and then Freeze.
//	Freeze validates containment and base-type references and makes the
//	graph read-only. Secondary indexes by container and by kind are built
//	as declarations are added.
//
// Thread Safety:
//
//	Add and Freeze must be called from a single goroutine. After Freeze
//	the graph is safe for concurrent reads.
type Graph struct {
	decls   map[string]*Declaration
	order   []string
	members map[string][]string
	byKind  map[Kind][]string
	frozen  bool
}

// NewGraph creates an empty, unfrozen graph.
func NewGraph() *Graph {
	return &Graph{
		decls:   make(map[string]*Declaration),
		members: make(map[string][]string),
		byKind:  make(map[Kind][]string),
	}
}

// Add adds a declaration to the graph.
//
// Inputs:
//
//	decl - The declaration. Its ID must be unique within the graph.
//
// Outputs:
//
//	error - ErrGraphFrozen, ErrNilDeclaration, ErrEmptyID,
//	        ErrMemberWithoutContainer or ErrDuplicateDeclaration.
func (g *Graph) Add(decl *Declaration) error {
	if g.frozen {
		return ErrGraphFrozen
	}
	if decl == nil {
		return ErrNilDeclaration
	}
	if decl.ID == "" {
		return ErrEmptyID
	}
	if decl.Kind.IsMember() && decl.ContainingID == "" {
		return fmt.Errorf("%w: %s", ErrMemberWithoutContainer, decl.ID)
	}
	if _, exists := g.decls[decl.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDeclaration, decl.ID)
	}

	g.decls[decl.ID] = decl
	g.order = append(g.order, decl.ID)
	g.byKind[decl.Kind] = append(g.byKind[decl.Kind], decl.ID)
	if decl.Kind.IsMember() {
		g.members[decl.ContainingID] = append(g.members[decl.ContainingID], decl.ID)
	}
	return nil
}

// Freeze validates references and makes the graph read-only.
//
// Outputs:
//
//	error - ErrUnknownContainer or ErrUnknownBaseType when a reference
//	        cannot be resolved. The graph stays unfrozen on error.
func (g *Graph) Freeze() error {
	if g.frozen {
		return nil
	}
	for _, id := range g.order {
		d := g.decls[id]
		if d.Kind.IsMember() {
			if _, ok := g.decls[d.ContainingID]; !ok {
				return fmt.Errorf("%w: %s (member %s)", ErrUnknownContainer, d.ContainingID, d.ID)
			}
		}
		if d.BaseTypeID != "" {
			if _, ok := g.decls[d.BaseTypeID]; !ok {
				return fmt.Errorf("%w: %s (type %s)", ErrUnknownBaseType, d.BaseTypeID, d.ID)
			}
		}
	}
	g.frozen = true
	return nil
}

// IsFrozen reports whether Freeze has succeeded.
func (g *Graph) IsFrozen() bool {
	return g.frozen
}

// Len returns the number of declarations.
func (g *Graph) Len() int {
	return len(g.order)
}

// Declaration implements View.
func (g *Graph) Declaration(id string) (*Declaration, bool) {
	d, ok := g.decls[id]
	return d, ok
}

// Members implements View.
func (g *Graph) Members(typeID string) []*Declaration {
	return g.resolve(g.members[typeID])
}

// Types implements View.
func (g *Graph) Types() []*Declaration {
	return g.resolve(g.byKind[KindType])
}

// Declarations implements View.
func (g *Graph) Declarations() []*Declaration {
	return g.resolve(g.order)
}

// OfKind returns every declaration of the given kind in declaration order.
func (g *Graph) OfKind(kind Kind) []*Declaration {
	return g.resolve(g.byKind[kind])
}

func (g *Graph) resolve(ids []string) []*Declaration {
	out := make([]*Declaration, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.decls[id])
	}
	return out
}
