// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for DAG construction and execution.
var (
	// ErrInvalidInput is returned when a required argument is missing.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNilContext is returned when Run is called with a nil context.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilNode is returned when a nil node is added.
	ErrNilNode = errors.New("node must not be nil")

	// ErrDuplicateNode is returned when two nodes share a name.
	ErrDuplicateNode = errors.New("duplicate node name")

	// ErrNodeNotFound is returned when an edge names an unknown node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrCycleDetected is matched by every *CycleError.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrNodeTimeout is returned when a node exceeds its timeout.
	ErrNodeTimeout = errors.New("node timed out")
)

// NodeError wraps an error with the node that produced it.
type NodeError struct {
	NodeName string
	Err      error
}

// NewNodeError creates a NodeError.
func NewNodeError(name string, err error) *NodeError {
	return &NodeError{NodeName: name, Err: err}
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeName, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// CycleError reports a dependency cycle.
//
// Path lists the nodes of the cycle with the first node repeated at the end.
type CycleError struct {
	Path []string
}

// NewCycleError creates a CycleError.
func NewCycleError(path []string) *CycleError {
	return &CycleError{Path: path}
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCycleDetected, strings.Join(e.Path, " -> "))
}

// Is matches ErrCycleDetected.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}
