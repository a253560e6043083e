// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"time"

	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/pipeline"
)

// RunReport is the persisted summary of one weave run.
type RunReport struct {
	RunID     string        `json:"run_id"`
	Program   string        `json:"program,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Fatal     bool          `json:"fatal"`

	// Generation is the number of snapshots folded over the input.
	Generation int `json:"generation"`

	Stages      []pipeline.StageReport `json:"stages"`
	Diagnostics []DiagnosticRecord     `json:"diagnostics,omitempty"`
	Members     []MemberRecord         `json:"members,omitempty"`
}

// DiagnosticRecord is a diagnostic flattened for storage.
type DiagnosticRecord struct {
	Code          string `json:"code"`
	Severity      string `json:"severity"`
	Message       string `json:"message"`
	DeclarationID string `json:"declaration_id,omitempty"`
	File          string `json:"file,omitempty"`
	Line          int    `json:"line,omitempty"`
}

// MemberRecord is the linked version chain of one member accessor.
type MemberRecord struct {
	ID       string          `json:"id"`
	Accessor string          `json:"accessor"`
	Versions []VersionRecord `json:"versions"`
}

// VersionRecord is one linked version.
type VersionRecord struct {
	Name       string `json:"name"`
	Origin     string `json:"origin"`
	Layer      string `json:"layer,omitempty"`
	Linked     string `json:"linked"`
	EntryPoint bool   `json:"entry_point,omitempty"`
	Inlined    bool   `json:"inlined,omitempty"`
}

// NewRunReport summarises a pipeline result.
//
// Inputs:
//
//	result - The run result. Must not be nil.
//	program - Label of the woven program, typically its file path.
//	started - When the run began.
//	elapsed - Wall time of the run.
func NewRunReport(result *pipeline.Result, program string, started time.Time, elapsed time.Duration) *RunReport {
	r := &RunReport{
		RunID:     result.RunID,
		Program:   program,
		StartedAt: started.UTC(),
		Duration:  elapsed,
		Fatal:     result.Fatal,
		Stages:    result.Stages,
	}
	if result.Snapshot != nil {
		r.Generation = result.Snapshot.Generation()
	}
	for _, d := range result.Diagnostics {
		r.Diagnostics = append(r.Diagnostics, DiagnosticRecord{
			Code:          d.Code,
			Severity:      d.Severity.String(),
			Message:       d.Message,
			DeclarationID: d.Location.DeclarationID,
			File:          d.Location.File,
			Line:          d.Location.Line,
		})
	}
	if result.Program != nil {
		for _, m := range result.Program.Members() {
			rec := MemberRecord{ID: m.ID, Accessor: m.Accessor.String()}
			for _, v := range m.Versions {
				vr := VersionRecord{
					Name:       v.Name,
					Origin:     v.Origin.String(),
					Linked:     v.Linked,
					EntryPoint: v.EntryPoint,
					Inlined:    v.Inlined,
				}
				if v.Layer.Aspect != "" {
					vr.Layer = v.Layer.String()
				}
				rec.Versions = append(rec.Versions, vr)
			}
			r.Members = append(r.Members, rec)
		}
	}
	return r
}

// ErrorCount returns the number of error diagnostics.
func (r *RunReport) ErrorCount() int {
	n := 0
	for _, d := range r.Diagnostics {
		if d.Severity == diag.SeverityError.String() {
			n++
		}
	}
	return n
}
