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
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWeave/services/weave/advice"
	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/pipeline"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func report(id string, minute int) *RunReport {
	return &RunReport{
		RunID:     id,
		StartedAt: base.Add(time.Duration(minute) * time.Minute),
		Stages:    []pipeline.StageReport{{Name: "Trace", Kind: "advice", Instances: 1}},
	}
}

func TestStore_SaveGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	r := report("run-a", 0)
	r.Diagnostics = []DiagnosticRecord{{Code: "CR0201", Severity: "error", Message: "not eligible"}}
	require.NoError(t, s.SaveRun(ctx, r))

	got, err := s.GetRun(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, r.StartedAt, got.StartedAt)
	assert.Equal(t, r.Stages, got.Stages)
	assert.Equal(t, 1, got.ErrorCount())

	require.NoError(t, s.DeleteRun(ctx, "run-a"))
	_, err = s.GetRun(ctx, "run-a")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, s.DeleteRun(ctx, "run-a"), ErrRunNotFound)
}

func TestStore_SaveReplacesSameRunID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveRun(ctx, report("run-a", 0)))
	updated := report("run-a", 5)
	updated.Fatal = true
	require.NoError(t, s.SaveRun(ctx, updated))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Fatal)
}

func TestStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i, minute := range []int{3, 1, 2} {
		require.NoError(t, s.SaveRun(ctx, report(fmt.Sprintf("run-%d", i), minute)))
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.RunID
	}
	assert.Equal(t, []string{"run-0", "run-2", "run-1"}, ids)

	runs, err = s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestStore_Prune(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveRun(ctx, report(fmt.Sprintf("run-%d", i), i)))
	}

	deleted, err := s.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-4", runs[0].RunID)
	assert.Equal(t, "run-3", runs[1].RunID)

	_, err = s.GetRun(ctx, "run-0")
	assert.ErrorIs(t, err, ErrRunNotFound)

	deleted, err = s.Prune(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestStore_InvalidInput(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	assert.ErrorIs(t, s.SaveRun(ctx, nil), ErrNilReport)
	assert.ErrorIs(t, s.SaveRun(ctx, &RunReport{}), ErrEmptyRunID)
	_, err := s.GetRun(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyRunID)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, s.SaveRun(cancelled, report("run-a", 0)), context.Canceled)

	_, err = Open(Options{})
	assert.ErrorIs(t, err, ErrPathRequired)
}

func TestStore_ClosedStore(t *testing.T) {
	s, err := Open(InMemoryOptions())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.ListRuns(context.Background(), 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions(t.TempDir())
	opts.GCInterval = time.Hour

	s, err := Open(opts)
	require.NoError(t, err)
	require.NoError(t, s.SaveRun(ctx, report("run-a", 0)))
	require.NoError(t, s.Close())

	s, err = Open(opts)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetRun(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, "run-a", got.RunID)
}

func TestGCRunner_Validation(t *testing.T) {
	_, err := NewGCRunner(nil, time.Second, 0.5, nil)
	assert.Error(t, err)

	s := openTestStore(t)
	_, err = NewGCRunner(s.db, 0, 0.5, nil)
	assert.Error(t, err)
	_, err = NewGCRunner(s.db, time.Second, 1.5, nil)
	assert.Error(t, err)

	r, err := NewGCRunner(s.db, time.Second, 0.5, nil)
	require.NoError(t, err)
	r.Stop()
	r.Stop()
}

const reportProgram = `
types:
  - id: Aspects.Trace
    attributes: [{type: Aspect}]
    members:
      - {name: Around, kind: method, body: "trace(); {{proceed}}", attributes: [{type: Template}]}
  - id: Shop.Order
    members:
      - {name: Save, kind: method, access: public, body: "save();", attributes: [{type: Trace}]}
      - {name: Load, kind: method, access: public, body: "load();", attributes: [{type: Trace}]}
`

type traceAspect struct{}

func (traceAspect) Eligibility() aspect.Eligibility { return aspect.EligibleAll }

func (traceAspect) BuildAspect(b *advice.Builder) error {
	if b.Target().Name == "Load" {
		b.Report(diag.AspectFailed.New(diag.At(b.Target()), "Trace", b.Target().ID, "load is not traced"))
		return nil
	}
	_, err := b.OverrideMethod(b.Target(), advice.Templates("Around"))
	return err
}

func TestNewRunReport_FromPipelineRun(t *testing.T) {
	g, err := declgraph.ParseProgram([]byte(reportProgram))
	require.NoError(t, err)
	reg := aspect.NewRegistry(template.NewTextCompiler())
	_, diags, err := reg.RegisterAll(g, map[string]any{"Trace": traceAspect{}})
	require.NoError(t, err)
	require.Empty(t, diags)

	p, err := pipeline.New(reg, pipeline.WithLinking(false))
	require.NoError(t, err)
	res, err := p.Run(context.Background(), g)
	require.NoError(t, err)

	r := NewRunReport(res, "shop.yaml", base, time.Second)
	assert.Equal(t, res.RunID, r.RunID)
	assert.Equal(t, "shop.yaml", r.Program)
	assert.Equal(t, 1, r.Generation)
	require.Len(t, r.Stages, 1)
	assert.Equal(t, []string{"CR0305"}, codes(r.Diagnostics))
	assert.Equal(t, 1, r.ErrorCount())

	require.Len(t, r.Members, 1)
	m := r.Members[0]
	assert.Equal(t, "Shop.Order.Save()", m.ID)
	require.Len(t, m.Versions, 2)
	assert.Equal(t, "Save_Source", m.Versions[0].Name)
	assert.Equal(t, "Trace", m.Versions[1].Layer)
	assert.True(t, m.Versions[1].EntryPoint)

	s := openTestStore(t)
	require.NoError(t, s.SaveRun(context.Background(), r))
	got, err := s.GetRun(context.Background(), r.RunID)
	require.NoError(t, err)
	assert.Equal(t, r.Members, got.Members)
}

func codes(ds []DiagnosticRecord) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Code
	}
	return out
}
