// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fault provides the boundary that converts panics raised by
// user-supplied aspect and template code into ordinary errors.
package fault

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

// maxStackLines caps the trace kept on a PanicError.
const maxStackLines = 40

// PanicError is a recovered panic.
type PanicError struct {
	// Value is the value passed to panic.
	Value any

	// Stack is the formatted goroutine trace at the point of recovery.
	Stack string
}

// Error returns the panic value.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Kind returns the dynamic type of the panic value, e.g. "runtime.boundsError".
func (e *PanicError) Kind() string {
	return fmt.Sprintf("%T", e.Value)
}

// Capture runs fn and converts a panic into a *PanicError.
//
// Description:
//
//	Errors returned by fn pass through unchanged. A panic is recovered and
//	returned as *PanicError carrying the value and a trimmed stack trace.
//
// Inputs:
//
//	fn - The function to run. Must not be nil.
//
// Outputs:
//
//	error - fn's error, a *PanicError, or nil.
//
// Thread Safety: Safe for concurrent use.
func Capture(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: trimStack(string(debug.Stack()))}
		}
	}()
	return fn()
}

// AsPanic returns the *PanicError in err's chain, if any.
func AsPanic(err error) (*PanicError, bool) {
	var pe *PanicError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func trimStack(stack string) string {
	lines := strings.Split(strings.TrimRight(stack, "\n"), "\n")
	if len(lines) > maxStackLines {
		lines = append(lines[:maxStackLines], "\t...")
	}
	return strings.Join(lines, "\n")
}
