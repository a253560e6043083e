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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWeave/services/weave/advice"
	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
	"github.com/AleutianAI/AleutianWeave/services/weave/transform"
)

const saveID = "Shop.Order.Save()"

func newPipeline(t *testing.T, program string, impls map[string]any, opts ...Option) (*declgraph.Graph, *Pipeline) {
	t.Helper()
	g, reg := buildRegistry(t, program, impls)
	p, err := New(reg, opts...)
	require.NoError(t, err)
	return g, p
}

func TestRun_WeavesAndLinks(t *testing.T) {
	g, p := newPipeline(t, weaveProgram,
		map[string]any{"Trace": testAspect{}, "Audit": testAspect{}},
		WithOrdering(Ordering{{"Trace", "Audit"}}),
		WithLinking(false),
	)

	res, err := p.Run(context.Background(), g)
	require.NoError(t, err)
	assert.False(t, res.Fatal)
	assert.Empty(t, res.Diagnostics)
	assert.Len(t, res.RunID, 12)
	assert.Equal(t, 2, res.Snapshot.Generation())

	var names []string
	for _, s := range res.Stages {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Trace", "TraceMore", "Audit"}, names)
	assert.Equal(t, 1, res.Stages[0].Transformations)
	assert.Equal(t, 0, res.Stages[1].Instances)

	require.NotNil(t, res.Program)
	m, ok := res.Program.Member(saveID, template.TargetDefault)
	require.True(t, ok)
	assert.Equal(t, "audit(); Save_Trace()", m.EntryPoint().Linked)
	assert.Equal(t, []string{"Save", "Save_Trace", "Save_Source"}, res.Program.CallGraph(saveID, template.TargetDefault))

	// The input program is untouched.
	orig, ok := g.Declaration(saveID)
	require.True(t, ok)
	assert.Equal(t, "save();", orig.Body)
	assert.Len(t, res.Snapshot.Root().Members("Shop.Order"), 2)
}

func TestRun_RecoverableFailuresDiscardOnlyTheInstance(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *advice.Builder) error
		code  string
	}{
		{
			name:  "panic",
			build: func(*advice.Builder) error { panic("index out of range") },
			code:  "CR0302",
		},
		{
			name:  "error",
			build: func(*advice.Builder) error { return errors.New("cannot weave") },
			code:  "CR0305",
		},
		{
			name: "user diagnostic",
			build: func(b *advice.Builder) error {
				_, err := b.OverrideMethod(b.Target(), advice.Templates("Around"))
				b.Report(diag.AspectFailed.New(b.Instance().Location(), "Trace", b.Target().ID, "rejected"))
				return err
			},
			code: "CR0305",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, p := newPipeline(t, weaveProgram,
				map[string]any{"Trace": testAspect{build: tt.build}, "Audit": testAspect{}},
				WithOrdering(Ordering{{"Trace", "Audit"}}),
				WithLinking(true),
			)

			res, err := p.Run(context.Background(), g)
			require.NoError(t, err)
			assert.False(t, res.Fatal)
			assert.Equal(t, []string{tt.code}, diag.Codes(res.Diagnostics))

			m, ok := res.Program.Member(saveID, template.TargetDefault)
			require.True(t, ok)
			require.Len(t, m.Versions, 2)
			assert.Equal(t, "audit(); save();", m.EntryPoint().Linked)
		})
	}
}

func TestRun_FailedInstanceLosesEditsOfEveryLayer(t *testing.T) {
	collide := func(b *advice.Builder, opts ...advice.Option) error {
		owner, _ := b.View().Declaration(b.Target().ContainingID)
		_, err := b.IntroduceMethod(owner, advice.Templates("Around"), append(opts, advice.WithName("Save"))...)
		return err
	}
	tests := []struct {
		name  string
		build func(b *advice.Builder) error
	}{
		{
			name: "later layer fails",
			build: func(b *advice.Builder) error {
				if _, err := b.OverrideMethod(b.Target(), advice.Templates("Around")); err != nil {
					return err
				}
				return collide(b, advice.InLayer("late"))
			},
		},
		{
			name: "earlier layer fails",
			build: func(b *advice.Builder) error {
				if err := collide(b); err != nil {
					return err
				}
				load, _ := b.View().Declaration("Shop.Order.Load()")
				_, err := b.OverrideMethod(load, advice.Templates("Around"), advice.InLayer("late"))
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, p := newPipeline(t, weaveProgram,
				map[string]any{
					"Trace": layeredAspect{testAspect: testAspect{build: tt.build}, layers: []string{"late"}},
					"Audit": testAspect{},
				},
				WithOrdering(Ordering{{"Trace", "Audit", "Trace:late"}}),
				WithLinking(true),
			)

			res, err := p.Run(context.Background(), g)
			require.NoError(t, err)
			assert.False(t, res.Fatal)
			assert.Equal(t, []string{"CR0502"}, diag.Codes(res.Diagnostics))

			for _, tr := range res.Snapshot.AllTransformations() {
				assert.NotEqual(t, "Trace", tr.Provenance().Aspect)
			}
			save, ok := res.Program.Member(saveID, template.TargetDefault)
			require.True(t, ok)
			require.Len(t, save.Versions, 2)
			assert.Equal(t, "audit(); save();", save.EntryPoint().Linked)
			_, ok = res.Program.Member("Shop.Order.Load()", template.TargetDefault)
			assert.False(t, ok)

			var late *StageReport
			for i := range res.Stages {
				if res.Stages[i].Name == "Trace:late" {
					late = &res.Stages[i]
				}
			}
			require.NotNil(t, late)
			assert.Equal(t, 1, late.Discarded)
		})
	}
}

func TestRun_FatalReturnsOriginalProgram(t *testing.T) {
	g, p := newPipeline(t, weaveProgram,
		map[string]any{
			"Trace": testAspect{},
			"Audit": testAspect{build: func(*advice.Builder) error {
				return fmt.Errorf("license check: %w", advice.ErrFatal)
			}},
		},
		WithOrdering(Ordering{{"Trace", "Audit"}}),
		WithLinking(false),
	)

	res, err := p.Run(context.Background(), g)
	require.NoError(t, err)
	assert.True(t, res.Fatal)
	assert.Equal(t, []string{"CR0305"}, diag.Codes(res.Diagnostics))
	assert.Equal(t, 0, res.Snapshot.Generation())
	assert.Nil(t, res.Program)
}

func TestRun_OrderingCycleIsFatal(t *testing.T) {
	g, p := newPipeline(t, weaveProgram,
		map[string]any{"Trace": testAspect{}, "Audit": testAspect{}},
		WithOrdering(Ordering{{"Trace", "Audit"}, {"Audit", "Trace"}}),
	)

	res, err := p.Run(context.Background(), g)
	require.NoError(t, err)
	assert.True(t, res.Fatal)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "CR0301", res.Diagnostics[0].Code)
	assert.Contains(t, res.Diagnostics[0].Message, "->")
	assert.Equal(t, 0, res.Snapshot.Generation())
}

func TestRun_ReactiveRequests(t *testing.T) {
	g, p := newPipeline(t, weaveProgram,
		map[string]any{
			"Trace": testAspect{build: func(b *advice.Builder) error {
				load, _ := b.View().Declaration("Shop.Order.Load()")
				b.RequireAspect("Audit", load, nil)
				b.RequireAspect("Missing", load, nil)
				_, err := b.OverrideMethod(b.Target(), advice.Templates("Around"))
				return err
			}},
			"Audit": testAspect{build: func(b *advice.Builder) error {
				b.RequireAspect("Trace", b.Target(), nil)
				_, err := b.OverrideMethod(b.Target(), advice.Templates("Around"))
				return err
			}},
		},
		WithOrdering(Ordering{{"Trace", "Audit"}}),
		WithLinking(false),
	)

	res, err := p.Run(context.Background(), g)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"CR0203", "CR0202", "CR0202"}, diag.Codes(res.Diagnostics))

	load, ok := res.Program.Member("Shop.Order.Load()", template.TargetDefault)
	require.True(t, ok)
	assert.Equal(t, "audit(); Load_Source()", load.EntryPoint().Linked)
	assert.Equal(t, 2, res.Stages[2].Instances)
}

func TestRun_Cancellation(t *testing.T) {
	g, p := newPipeline(t, weaveProgram, map[string]any{"Trace": testAspect{}, "Audit": testAspect{}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := p.Run(ctx, g)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	g2, p2 := newPipeline(t, weaveProgram, map[string]any{
		"Audit": testAspect{build: func(b *advice.Builder) error {
			cancel()
			<-b.Context().Done()
			return b.Context().Err()
		}},
		"Trace": testAspect{},
	})
	res, err = p2.Run(ctx, g2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestRun_InvalidInput(t *testing.T) {
	_, p := newPipeline(t, weaveProgram, nil)
	//nolint:staticcheck // nil context is the case under test
	_, err := p.Run(nil, nil)
	assert.ErrorIs(t, err, ErrNilContext)
	_, err = p.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilView)

	_, err = New(nil)
	assert.ErrorIs(t, err, ErrNilRegistry)
}

func TestRun_ParallelEvaluationIsDeterministic(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(weaveProgram)
	sb.WriteString("  - id: Shop.Bulk\n    members:\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "      - {name: M%02d, kind: method, access: public, body: \"m();\", attributes: [{type: Trace}]}\n", i)
	}
	program := sb.String()

	run := func() []string {
		g, p := newPipeline(t, program, map[string]any{"Trace": testAspect{}}, WithMaxParallelism(8))
		res, err := p.Run(context.Background(), g)
		require.NoError(t, err)
		var ids []string
		for _, tr := range res.Snapshot.AllTransformations() {
			id, _ := transform.MemberOf(tr)
			ids = append(ids, fmt.Sprintf("%s@%d", id, tr.Provenance().Order))
		}
		return ids
	}

	first := run()
	assert.Len(t, first, 41)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, run())
	}
}

type failingCollaborator struct {
	name  string
	panic bool
}

func (c failingCollaborator) Name() string { return c.name }

func (c failingCollaborator) Execute(context.Context, CollaboratorInput) (CollaboratorOutput, error) {
	if c.panic {
		panic("generator crashed")
	}
	return CollaboratorOutput{}, errors.New("generator unavailable")
}

type recordingCollaborator struct {
	in *CollaboratorInput
}

func (recordingCollaborator) Name() string { return "gen" }

func (c recordingCollaborator) Execute(_ context.Context, in CollaboratorInput) (CollaboratorOutput, error) {
	*c.in = in
	return CollaboratorOutput{}, nil
}

func TestRun_Collaborators(t *testing.T) {
	program := weaveProgram + collaboratorTypes

	var seen CollaboratorInput
	impls := map[string]any{"Trace": testAspect{}, "Audit": testAspect{}}
	g, p := newPipeline(t, program, impls, WithCollaborator(recordingCollaborator{in: &seen}))
	res, err := p.Run(context.Background(), g)
	require.NoError(t, err)
	assert.False(t, res.Fatal)
	assert.Equal(t, []template.LayerID{{Aspect: "Gen"}, {Aspect: "GenMore"}}, seen.Layers)
	assert.Equal(t, "collaborator:gen", res.Stages[1].Name)
	assert.Equal(t, "collaborator", res.Stages[1].Kind)

	tests := []struct {
		name string
		opts []Option
	}{
		{name: "unknown", opts: nil},
		{name: "error", opts: []Option{WithCollaborator(failingCollaborator{name: "gen"})}},
		{name: "panic", opts: []Option{WithCollaborator(failingCollaborator{name: "gen", panic: true})}},
		{name: "noop is fine", opts: []Option{WithCollaborator(NoopCollaborator{CollaboratorName: "gen"})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, p := newPipeline(t, program, impls, tt.opts...)
			res, err := p.Run(context.Background(), g)
			require.NoError(t, err)
			if tt.name == "noop is fine" {
				assert.False(t, res.Fatal)
				assert.Empty(t, res.Diagnostics)
				return
			}
			assert.True(t, res.Fatal)
			assert.Equal(t, []string{"CR0303"}, diag.Codes(res.Diagnostics))
			assert.Equal(t, 0, res.Snapshot.Generation())
		})
	}
}

func TestEvaluate_NonAspectImplementation(t *testing.T) {
	g, reg := buildRegistry(t, weaveProgram, map[string]any{"Trace": struct{}{}})
	class, ok := reg.Class("Trace")
	require.True(t, ok)
	save, _ := g.Declaration(saveID)

	inst := aspect.NewInstance(class, save, aspect.SourceAttribute, nil)
	res, err := Evaluate(context.Background(), transform.NewSnapshot(g), inst)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Empty(t, res.Advices)
	assert.Equal(t, "recoverable", OutcomeRecoverable.String())
}
