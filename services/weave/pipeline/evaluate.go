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
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianWeave/services/weave/advice"
	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/fault"
	"github.com/AleutianAI/AleutianWeave/services/weave/source"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

// Outcome classifies an aspect evaluation.
type Outcome int

const (
	// OutcomeSucceeded means the advice and requests are kept.
	OutcomeSucceeded Outcome = iota

	// OutcomeRecoverable means the instance's edits are discarded and the
	// run continues.
	OutcomeRecoverable

	// OutcomeFatal aborts the run.
	OutcomeFatal
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeRecoverable:
		return "recoverable"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// EvaluationResult is the result of running one instance's build logic.
type EvaluationResult struct {
	Instance    *aspect.Instance
	Outcome     Outcome
	Advices     []advice.Advice
	Requests    []source.Request
	Diagnostics []diag.Diagnostic
	Skipped     bool
}

// Evaluate runs an instance's BuildAspect inside the fault boundary.
//
// Description:
//
//	Panics become CR0302 and discard the instance. Error diagnostics,
//	whether reported through the builder or carried by the returned
//	error, also discard it. An error wrapping advice.ErrFatal is fatal.
//	Other errors become CR0305. A class whose implementation does not
//	implement advice.Aspect produces no advice.
//
// Inputs:
//
//	ctx - Passed to the builder.
//	view - The snapshot the instance is evaluated against.
//	inst - The instance.
//
// Outputs:
//
//	EvaluationResult - The classified result.
//	error - Non-nil only when ctx is done.
//
// Thread Safety: Safe for concurrent use with distinct instances.
func Evaluate(ctx context.Context, view declgraph.View, inst *aspect.Instance) (EvaluationResult, error) {
	res := EvaluationResult{Instance: inst}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	impl, ok := inst.Class.Implementation().(advice.Aspect)
	if !ok {
		return res, nil
	}

	b := advice.NewBuilder(ctx, view, inst)
	err := fault.Capture(func() error { return impl.BuildAspect(b) })
	res.Diagnostics = b.Diagnostics()

	if err != nil {
		if pe, ok := fault.AsPanic(err); ok {
			res.Outcome = OutcomeRecoverable
			res.Diagnostics = append(res.Diagnostics,
				diag.AspectCrashed.New(inst.Location(), inst.Class.Name(), inst.Target.ID, pe.Kind(), pe.Value, pe.Stack))
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return res, ctxErr
		}
		if errors.Is(err, advice.ErrFatal) {
			res.Outcome = OutcomeFatal
			res.Diagnostics = append(res.Diagnostics, diag.AspectFailed.New(inst.Location(), inst.Class.Name(), inst.Target.ID, err))
			return res, nil
		}
		res.Outcome = OutcomeRecoverable
		if len(res.Diagnostics) > 0 {
			return res, nil
		}
		if uds, ok := template.UserDiagnostics(err); ok && len(uds) > 0 {
			res.Diagnostics = uds
			return res, nil
		}
		res.Diagnostics = append(res.Diagnostics, diag.AspectFailed.New(inst.Location(), inst.Class.Name(), inst.Target.ID, err))
		return res, nil
	}

	if diag.HasErrors(res.Diagnostics) {
		res.Outcome = OutcomeRecoverable
		return res, nil
	}
	if b.Skipped() {
		res.Skipped = true
		return res, nil
	}
	res.Advices = b.Advices()
	res.Requests = b.Requests()
	return res, nil
}

// fatalDiagnostic returns the diagnostic that made a result fatal.
func (r EvaluationResult) fatalDiagnostic() diag.Diagnostic {
	for i := len(r.Diagnostics) - 1; i >= 0; i-- {
		if r.Diagnostics[i].IsError() {
			return r.Diagnostics[i]
		}
	}
	return diag.AspectFailed.New(r.Instance.Location(), r.Instance.Class.Name(), r.Instance.Target.ID, advice.ErrFatal)
}
