// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
)

// Sentinel errors for the pipeline.
var (
	// ErrNilContext is returned when Run is called with a nil context.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilRegistry is returned when a pipeline is created without a registry.
	ErrNilRegistry = errors.New("registry must not be nil")

	// ErrNilView is returned when Run is called without a program.
	ErrNilView = errors.New("program view must not be nil")

	// ErrOrderingCycle is returned by BuildPlan when the layer order has a cycle.
	ErrOrderingCycle = errors.New("aspect layer ordering has a cycle")

	// ErrUnknownCollaborator is reported when a stage names a collaborator
	// that was not registered with the pipeline.
	ErrUnknownCollaborator = errors.New("unknown collaborator")
)

// StageError wraps an error that aborted a stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// fatalError carries the single diagnostic of a pipeline-fatal failure
// through the stage executor.
type fatalError struct {
	diagnostic diag.Diagnostic
}

func (e *fatalError) Error() string {
	return "pipeline fatal: " + e.diagnostic.String()
}
