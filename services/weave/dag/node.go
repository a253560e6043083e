// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dag orders named nodes by their dependencies and executes them.
//
// Unlike a general task scheduler, execution is strictly sequential in a
// deterministic topological order: every node sees the output of the node
// executed before it, which lets a pipeline thread a value (such as a
// program snapshot) through its stages.
package dag

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// DefaultNodeTimeout is the timeout for nodes that do not specify one.
// Zero means no timeout.
const DefaultNodeTimeout time.Duration = 0

// InputPrevious is the inputs key holding the output of the node executed
// immediately before, or the run input for the first node.
const InputPrevious = "previous"

// Node is one unit of work in a DAG.
type Node interface {
	// Name returns the unique node name.
	Name() string

	// Dependencies returns the names of nodes that must run first.
	Dependencies() []string

	// Timeout returns the maximum execution time, or zero for none.
	Timeout() time.Duration

	// Execute runs the node. inputs holds each dependency's output by name
	// and the previous node's output under InputPrevious.
	Execute(ctx context.Context, inputs map[string]any) (any, error)
}

// BaseNode implements the common parts of Node. Embed it and provide Execute.
type BaseNode struct {
	NodeName         string
	NodeDependencies []string
	NodeTimeout      time.Duration
}

// Name returns the node's unique identifier.
func (n *BaseNode) Name() string {
	return n.NodeName
}

// Dependencies returns the names of nodes that must complete first.
func (n *BaseNode) Dependencies() []string {
	if n.NodeDependencies == nil {
		return []string{}
	}
	return n.NodeDependencies
}

// Timeout returns the maximum execution time for this node.
func (n *BaseNode) Timeout() time.Duration {
	if n.NodeTimeout == 0 {
		return DefaultNodeTimeout
	}
	return n.NodeTimeout
}

// Execute returns an error if called directly.
func (n *BaseNode) Execute(_ context.Context, _ map[string]any) (any, error) {
	return nil, fmt.Errorf("%w: BaseNode.Execute must be overridden by concrete implementation", ErrInvalidInput)
}

// FuncNode wraps a function as a Node.
type FuncNode struct {
	BaseNode
	fn func(context.Context, map[string]any) (any, error)
}

// NewFuncNode creates a node from a function.
//
// Inputs:
//
//	name - The node name.
//	deps - Dependency node names.
//	fn - The function to execute.
//
// Outputs:
//
//	*FuncNode - The function node.
func NewFuncNode(name string, deps []string, fn func(context.Context, map[string]any) (any, error)) *FuncNode {
	return &FuncNode{
		BaseNode: BaseNode{NodeName: name, NodeDependencies: deps},
		fn:       fn,
	}
}

// Execute runs the wrapped function.
func (n *FuncNode) Execute(ctx context.Context, inputs map[string]any) (any, error) {
	if n.fn == nil {
		return nil, ErrInvalidInput
	}
	return n.fn(ctx, inputs)
}

// WithTimeout sets the timeout for a FuncNode.
func (n *FuncNode) WithTimeout(d time.Duration) *FuncNode {
	n.NodeTimeout = d
	return n
}

// Edge is a dependency: From must run before To.
type Edge struct {
	From string
	To   string
}

// DAG is a validated, ordered set of nodes.
//
// Thread Safety:
//
//	Immutable after Build. Safe for concurrent use.
type DAG struct {
	name  string
	nodes map[string]Node
	deps  map[string][]string
	order []string
}

// Name returns the DAG name.
func (d *DAG) Name() string { return d.name }

// NodeCount returns the number of nodes.
func (d *DAG) NodeCount() int { return len(d.nodes) }

// Order returns the node names in execution order.
func (d *DAG) Order() []string { return slices.Clone(d.order) }

// Node returns the named node.
func (d *DAG) Node(name string) (Node, bool) {
	n, ok := d.nodes[name]
	return n, ok
}

// Dependencies returns every node that must run before name, from both
// node declarations and explicit edges.
func (d *DAG) Dependencies(name string) []string {
	return slices.Clone(d.deps[name])
}

// Builder constructs a DAG with validation.
//
// Description:
//
//	Builder collects nodes and edges. Build validates that every edge
//	names a known node and computes a deterministic topological order:
//	among the nodes that are ready at each step, the one that sorts first
//	under the builder's less function runs next.
//
// Thread Safety:
//
//	Builder is NOT safe for concurrent use.
//
// Example:
//
//	d, err := dag.NewBuilder("weave").
//	    AddNode(a).
//	    AddNode(b).
//	    AddEdge("a", "b").
//	    Build()
type Builder struct {
	name   string
	nodes  map[string]Node
	added  []string
	edges  []Edge
	less   func(a, b string) bool
	errors []error
}

// NewBuilder creates a DAG builder. Ties are broken by insertion order
// unless WithLess is set.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:  name,
		nodes: make(map[string]Node),
	}
}

// WithLess sets the tie-break used when several nodes are ready.
func (b *Builder) WithLess(less func(a, b string) bool) *Builder {
	b.less = less
	return b
}

// AddNode adds a node and edges from its declared dependencies.
func (b *Builder) AddNode(node Node) *Builder {
	if node == nil {
		b.errors = append(b.errors, ErrNilNode)
		return b
	}
	name := node.Name()
	if _, exists := b.nodes[name]; exists {
		b.errors = append(b.errors, NewNodeError(name, ErrDuplicateNode))
		return b
	}
	b.nodes[name] = node
	b.added = append(b.added, name)
	for _, dep := range node.Dependencies() {
		b.edges = append(b.edges, Edge{From: dep, To: name})
	}
	return b
}

// AddEdge records that from must run before to. Duplicate edges are
// ignored.
func (b *Builder) AddEdge(from, to string) *Builder {
	e := Edge{From: from, To: to}
	if !slices.Contains(b.edges, e) {
		b.edges = append(b.edges, e)
	}
	return b
}

// Build validates the graph and computes the execution order.
//
// Outputs:
//
//	*DAG - The constructed DAG.
//	error - The first recorded error, a *NodeError wrapping
//	        ErrNodeNotFound, or a *CycleError.
func (b *Builder) Build() (*DAG, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}

	deps := make(map[string][]string, len(b.nodes))
	for _, e := range b.edges {
		if _, ok := b.nodes[e.From]; !ok {
			return nil, NewNodeError(e.From, ErrNodeNotFound)
		}
		if _, ok := b.nodes[e.To]; !ok {
			return nil, NewNodeError(e.To, ErrNodeNotFound)
		}
		if !slices.Contains(deps[e.To], e.From) {
			deps[e.To] = append(deps[e.To], e.From)
		}
	}

	order, err := b.sort(deps)
	if err != nil {
		return nil, err
	}
	return &DAG{name: b.name, nodes: b.nodes, deps: deps, order: order}, nil
}

// sort is Kahn's algorithm choosing the least ready node at each step.
func (b *Builder) sort(deps map[string][]string) ([]string, error) {
	rank := make(map[string]int, len(b.added))
	for i, name := range b.added {
		rank[name] = i
	}
	less := b.less
	if less == nil {
		less = func(x, y string) bool { return rank[x] < rank[y] }
	}

	inDegree := make(map[string]int, len(b.nodes))
	dependents := make(map[string][]string, len(b.nodes))
	for to, froms := range deps {
		inDegree[to] = len(froms)
		for _, from := range froms {
			dependents[from] = append(dependents[from], to)
		}
	}

	var ready []string
	for _, name := range b.added {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(b.nodes))
	for len(ready) > 0 {
		best := 0
		for i := 1; i < len(ready); i++ {
			if less(ready[i], ready[best]) {
				best = i
			}
		}
		next := ready[best]
		ready = slices.Delete(ready, best, best+1)
		order = append(order, next)
		for _, dep := range dependents[next] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(b.nodes) {
		return nil, NewCycleError(b.findCycle(deps, order))
	}
	return order, nil
}

// findCycle returns one cycle among the nodes the sort could not place.
func (b *Builder) findCycle(deps map[string][]string, placed []string) []string {
	done := make(map[string]bool, len(placed))
	for _, name := range placed {
		done[name] = true
	}

	onStack := make(map[string]bool)
	visited := make(map[string]bool)
	var path []string
	var cycle []string

	var dfs func(name string) bool
	dfs = func(name string) bool {
		visited[name] = true
		onStack[name] = true
		path = append(path, name)
		froms := slices.Clone(deps[name])
		slices.Sort(froms)
		for _, from := range froms {
			if done[from] {
				continue
			}
			if onStack[from] {
				start := slices.Index(path, from)
				cycle = append(slices.Clone(path[start:]), from)
				return true
			}
			if !visited[from] && dfs(from) {
				return true
			}
		}
		path = path[:len(path)-1]
		onStack[name] = false
		return false
	}

	remaining := make([]string, 0, len(b.nodes)-len(placed))
	for _, name := range b.added {
		if !done[name] {
			remaining = append(remaining, name)
		}
	}
	slices.Sort(remaining)
	for _, name := range remaining {
		if !visited[name] && dfs(name) {
			break
		}
	}
	// Dependencies were followed backwards; present the cycle in run order.
	slices.Reverse(cycle)
	return cycle
}
