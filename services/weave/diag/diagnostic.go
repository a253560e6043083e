// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diag defines the diagnostics produced by the weaver.
//
// A Diagnostic is a (code, severity, message, location, args) tuple.
// Codes are stable short strings partitioned by subsystem so tooling can
// filter them:
//
//	CR01xx  aspect class registry
//	CR02xx  aspect sources and eligibility
//	CR03xx  pipeline scheduler
//	CR05xx  advice and introduction conflicts
//	CR06xx  linker
package diag

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
)

// Severity is the severity of a diagnostic.
type Severity int

const (
	// SeverityInfo is informational.
	SeverityInfo Severity = iota

	// SeverityWarning does not discard any edit.
	SeverityWarning

	// SeverityError discards the edits of the aspect instance that raised it.
	SeverityError
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Location attributes a diagnostic to a declaration.
type Location struct {
	DeclarationID string `json:"declaration_id,omitempty"`
	File          string `json:"file,omitempty"`
	Line          int    `json:"line,omitempty"`
}

// At returns the location of a declaration. A nil declaration yields the
// zero location.
func At(d *declgraph.Declaration) Location {
	if d == nil {
		return Location{}
	}
	return Location{DeclarationID: d.ID, File: d.File, Line: d.Line}
}

// String renders the location as "file:line (id)".
func (l Location) String() string {
	var b strings.Builder
	if l.File != "" {
		b.WriteString(l.File)
		if l.Line > 0 {
			fmt.Fprintf(&b, ":%d", l.Line)
		}
	}
	if l.DeclarationID != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "(%s)", l.DeclarationID)
	}
	return b.String()
}

// Diagnostic is one reported condition.
type Diagnostic struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Location Location `json:"location"`
	Args     []any    `json:"args,omitempty"`
}

// IsError reports whether the diagnostic has error severity.
func (d Diagnostic) IsError() bool {
	return d.Severity == SeverityError
}

// String renders the diagnostic in compiler style.
func (d Diagnostic) String() string {
	loc := d.Location.String()
	if loc == "" {
		return fmt.Sprintf("%s %s: %s", d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("%s: %s %s: %s", loc, d.Severity, d.Code, d.Message)
}

// Descriptor is the static definition of a diagnostic code.
type Descriptor struct {
	Code     string
	Severity Severity
	Title    string
	Format   string
}

// New instantiates the descriptor at a location. Args are applied to the
// descriptor's format string and kept on the diagnostic.
func (d Descriptor) New(loc Location, args ...any) Diagnostic {
	return Diagnostic{
		Code:     d.Code,
		Severity: d.Severity,
		Message:  fmt.Sprintf(d.Format, args...),
		Location: loc,
		Args:     args,
	}
}

// HasErrors reports whether any diagnostic has error severity.
func HasErrors(ds []Diagnostic) bool {
	return slices.ContainsFunc(ds, Diagnostic.IsError)
}

// Codes returns the codes of the diagnostics in order.
func Codes(ds []Diagnostic) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Code
	}
	return out
}

// Bag accumulates diagnostics.
//
// Thread Safety: Safe for concurrent use.
type Bag struct {
	mu    sync.Mutex
	items []Diagnostic
}

// Add appends diagnostics to the bag.
func (b *Bag) Add(ds ...Diagnostic) {
	if len(ds) == 0 {
		return
	}
	b.mu.Lock()
	b.items = append(b.items, ds...)
	b.mu.Unlock()
}

// Items returns a copy of the collected diagnostics in insertion order.
func (b *Bag) Items() []Diagnostic {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.items)
}

// Len returns the number of collected diagnostics.
func (b *Bag) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// HasErrors reports whether any collected diagnostic is an error.
func (b *Bag) HasErrors() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return HasErrors(b.items)
}

// CountBySeverity returns the number of diagnostics per severity.
func (b *Bag) CountBySeverity() map[Severity]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	counts := make(map[Severity]int)
	for _, d := range b.items {
		counts[d.Severity]++
	}
	return counts
}
