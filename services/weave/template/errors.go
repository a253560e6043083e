// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package template

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
)

var (
	// ErrNilTemplate is returned when compiling a nil template member.
	ErrNilTemplate = errors.New("template must not be nil")

	// ErrInvalidUserCode is matched by every *InvalidUserCodeError.
	ErrInvalidUserCode = errors.New("invalid user code")
)

// InvalidUserCodeError carries every diagnostic collected while processing
// user-supplied aspect or template code.
type InvalidUserCodeError struct {
	Diagnostics []diag.Diagnostic
}

// NewInvalidUserCodeError creates an InvalidUserCodeError.
func NewInvalidUserCodeError(ds ...diag.Diagnostic) *InvalidUserCodeError {
	return &InvalidUserCodeError{Diagnostics: ds}
}

// Error joins the diagnostic messages.
func (e *InvalidUserCodeError) Error() string {
	if len(e.Diagnostics) == 0 {
		return ErrInvalidUserCode.Error()
	}
	msgs := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		msgs[i] = d.Code + ": " + d.Message
	}
	return fmt.Sprintf("%s: %s", ErrInvalidUserCode, strings.Join(msgs, "; "))
}

// Is matches ErrInvalidUserCode.
func (e *InvalidUserCodeError) Is(target error) bool {
	return target == ErrInvalidUserCode
}

// UserDiagnostics extracts the diagnostics of an *InvalidUserCodeError in
// err's chain.
func UserDiagnostics(err error) ([]diag.Diagnostic, bool) {
	var uerr *InvalidUserCodeError
	if errors.As(err, &uerr) {
		return uerr.Diagnostics, true
	}
	return nil, false
}
