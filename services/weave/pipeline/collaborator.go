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
	"context"

	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
	"github.com/AleutianAI/AleutianWeave/services/weave/transform"
)

// CollaboratorInput is what a collaborator stage receives.
type CollaboratorInput struct {
	Snapshot *transform.Snapshot

	// Layers are the collaborator's layers in plan order.
	Layers []template.LayerID

	// Instances are the merged instances of every class in the group.
	Instances []*aspect.Instance
}

// CollaboratorOutput is what a collaborator returns.
type CollaboratorOutput struct {
	Transformations []transform.Transformation
	Diagnostics     []diag.Diagnostic
}

// Collaborator is an external code generator that owns the layers of one
// or more aspect classes. Any error it returns, or any panic, aborts the
// run with CR0303.
type Collaborator interface {
	Name() string
	Execute(ctx context.Context, in CollaboratorInput) (CollaboratorOutput, error)
}

// NoopCollaborator accepts its layers and changes nothing.
type NoopCollaborator struct {
	CollaboratorName string
}

// Name implements Collaborator.
func (c NoopCollaborator) Name() string { return c.CollaboratorName }

// Execute implements Collaborator.
func (c NoopCollaborator) Execute(ctx context.Context, _ CollaboratorInput) (CollaboratorOutput, error) {
	return CollaboratorOutput{}, ctx.Err()
}
