// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package declgraph provides the read-only declaration graph the weaver
// consumes.
//
// A declaration graph holds the types of a program together with their
// members (methods, fields, properties, events, constructors). Every
// declaration has a stable string identity, a containing declaration, an
// accessibility, a static flag and, for methods, a signature.
//
// The weaver never mutates a graph. Consumers query it through the View
// interface; the transform package layers snapshots on top of a View
// without touching the underlying Graph.
//
// # Building a Graph
//
//	g := declgraph.NewGraph()
//	_ = g.Add(&declgraph.Declaration{ID: "Shop.Order", Name: "Order", Kind: declgraph.KindType})
//	_ = g.Add(&declgraph.Declaration{
//	    ID:           declgraph.MemberID("Shop.Order", "Save", declgraph.KindMethod, nil),
//	    Name:         "Save",
//	    Kind:         declgraph.KindMethod,
//	    ContainingID: "Shop.Order",
//	})
//	if err := g.Freeze(); err != nil {
//	    return err
//	}
//
// Programs can also be described in YAML and loaded with LoadProgram.
//
// # Thread Safety
//
// A frozen Graph is safe for concurrent reads. Declarations returned by
// a View are shared and must be treated as read-only.
package declgraph
