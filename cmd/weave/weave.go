// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/declarative"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/pipeline"
	"github.com/AleutianAI/AleutianWeave/services/weave/store"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

// errWeaveFailed is returned when a run ends fatally or with errors, so
// the process exits non-zero.
var errWeaveFailed = errors.New("weave failed")

// weaveInputs names the files of one weave.
type weaveInputs struct {
	program string
	aspects string
	inline  bool
}

// loadPipeline parses both files and builds a pipeline over them.
func (c *cli) loadPipeline(in weaveInputs) (declgraph.View, *pipeline.Pipeline, []diag.Diagnostic, error) {
	g, err := declgraph.LoadProgram(in.program)
	if err != nil {
		return nil, nil, nil, err
	}
	impls := map[string]any{}
	if in.aspects != "" {
		set, err := declarative.Load(in.aspects)
		if err != nil {
			return nil, nil, nil, err
		}
		impls = set.Implementations()
	}

	reg := aspect.NewRegistry(template.NewTextCompiler(), aspect.WithLogger(c.logger.Slog()))
	_, diags, err := reg.RegisterAll(g, impls)
	if err != nil {
		return nil, nil, diags, fmt.Errorf("register aspects: %w", err)
	}

	p, err := pipeline.New(reg,
		pipeline.WithLogger(c.logger.Slog()),
		pipeline.WithOrdering(pipeline.Ordering(c.cfg.Ordering)),
		pipeline.WithMaxParallelism(c.cfg.Pipeline.MaxParallelism),
		pipeline.WithStageTimeout(c.cfg.Pipeline.StageTimeout),
		pipeline.WithLinking(in.inline),
	)
	if err != nil {
		return nil, nil, diags, err
	}
	return g, p, diags, nil
}

// weaveOnce runs one weave and builds its report. Registration
// diagnostics are prepended to the run's diagnostics.
func (c *cli) weaveOnce(ctx context.Context, in weaveInputs) (*pipeline.Result, *store.RunReport, error) {
	view, p, regDiags, err := c.loadPipeline(in)
	if err != nil {
		return nil, nil, err
	}
	started := time.Now()
	res, err := p.Run(ctx, view)
	if err != nil {
		return nil, nil, err
	}
	res.Diagnostics = append(regDiags, res.Diagnostics...)
	return res, store.NewRunReport(res, in.program, started, time.Since(started)), nil
}

// saveReport stores a report and prunes old ones. Storage failures are
// logged, never fatal to the weave.
func (c *cli) saveReport(ctx context.Context, r *store.RunReport) {
	s, err := c.openStore()
	if err != nil {
		c.logger.Slog().Warn("run store unavailable", slog.String("error", err.Error()))
		return
	}
	defer s.Close()

	if err := s.SaveRun(ctx, r); err != nil {
		c.logger.Slog().Warn("run report not saved", slog.String("run_id", r.RunID), slog.String("error", err.Error()))
		return
	}
	if c.cfg.Store.Retain > 0 {
		if _, err := s.Prune(ctx, c.cfg.Store.Retain); err != nil {
			c.logger.Slog().Warn("run prune failed", slog.String("error", err.Error()))
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport renders a report as text.
func printReport(w io.Writer, r *store.RunReport, showMembers bool) {
	status := "ok"
	switch {
	case r.Fatal:
		status = "fatal"
	case r.ErrorCount() > 0:
		status = fmt.Sprintf("%d error(s)", r.ErrorCount())
	}
	fmt.Fprintf(w, "run %s  %s  generation %d  %s\n", r.RunID, status, r.Generation, r.Duration.Round(time.Microsecond))
	if r.Program != "" {
		fmt.Fprintf(w, "program %s\n", r.Program)
	}

	if len(r.Stages) > 0 {
		fmt.Fprintln(w, "\nstages:")
		for _, s := range r.Stages {
			fmt.Fprintf(w, "  %-28s %-12s instances=%d advices=%d transformations=%d discarded=%d diagnostics=%d\n",
				s.Name, s.Kind, s.Instances, s.Advices, s.Transformations, s.Discarded, s.Diagnostics)
		}
	}

	if len(r.Diagnostics) > 0 {
		fmt.Fprintln(w, "\ndiagnostics:")
		for _, d := range r.Diagnostics {
			loc := d.DeclarationID
			if d.File != "" {
				loc = fmt.Sprintf("%s:%d %s", d.File, d.Line, d.DeclarationID)
			}
			fmt.Fprintf(w, "  %-7s %s %s: %s\n", d.Severity, d.Code, loc, d.Message)
		}
	}

	if showMembers && len(r.Members) > 0 {
		fmt.Fprintln(w, "\nmembers:")
		for _, m := range r.Members {
			fmt.Fprintf(w, "  %s [%s]\n", m.ID, m.Accessor)
			for _, v := range m.Versions {
				if v.Inlined {
					continue
				}
				origin := v.Origin
				if v.Layer != "" {
					origin = v.Layer
				}
				fmt.Fprintf(w, "    %-24s %-16s %s\n", v.Name, origin, v.Linked)
			}
		}
	}
}
