// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advice

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

// Sentinel errors for the advice package.
var (
	// ErrDraftFrozen is the panic value when a draft is modified after
	// its factory call returned.
	ErrDraftFrozen = errors.New("member draft is frozen")

	// ErrNilTarget is returned when a factory method receives a nil target.
	ErrNilTarget = errors.New("advice target must not be nil")

	// ErrUnknownConflictMode is returned by ParseConflictMode.
	ErrUnknownConflictMode = errors.New("unknown conflict mode")

	// ErrTemplateResolution is matched by every *TemplateResolutionError.
	ErrTemplateResolution = errors.New("template resolution failed")

	// ErrFatal is returned by an aspect that wants the whole pipeline to
	// stop. The pipeline returns the input program unmodified.
	ErrFatal = errors.New("aspect requested a fatal stop")
)

// TemplateResolutionError reports a template name that could not be
// resolved to exactly one member of the aspect class.
type TemplateResolutionError struct {
	Template   string
	Diagnostic diag.Diagnostic
	Err        error
}

func (e *TemplateResolutionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTemplateResolution, e.Template, e.Err)
}

func (e *TemplateResolutionError) Unwrap() error {
	return e.Err
}

// Is matches ErrTemplateResolution.
func (e *TemplateResolutionError) Is(target error) bool {
	return target == ErrTemplateResolution
}

// Diagnostics returns the user-facing diagnostics carried by an error
// returned from a factory method, if any.
func Diagnostics(err error) ([]diag.Diagnostic, bool) {
	var terr *TemplateResolutionError
	if errors.As(err, &terr) {
		return []diag.Diagnostic{terr.Diagnostic}, true
	}
	return template.UserDiagnostics(err)
}
