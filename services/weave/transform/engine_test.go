// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWeave/services/weave/advice"
	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

const engineProgram = `
types:
  - id: Aspects.Log
    attributes: [{type: Aspect}]
    members:
      - {name: Around, kind: method, body: "log(\"{{target}}\"); {{proceed}}", attributes: [{type: Template}]}
      - {name: Boom, kind: method, body: "unused", attributes: [{type: Template}]}
      - name: Describe
        kind: method
        access: public
        returns: string
        body: "return \"{{target.type}}\";"
        attributes: [{type: Introduce}]
      - {name: Run, kind: method, access: public, body: "{{base}}", attributes: [{type: Introduce}]}
      - name: Key
        kind: property
        type: string
        accessors: {get: "return \"{{target}}\";"}
        attributes: [{type: InterfaceMember}]
  - id: Shop.IKeyed
    kind: interface
    members:
      - {name: Key, kind: property, type: string}
  - id: Shop.INamed
    kind: interface
    members:
      - {name: Name, kind: property, type: string}
  - id: Shop.Base
    members:
      - {name: Run, kind: method, access: public, virtual: true}
      - {name: Foo, kind: method, access: public}
  - id: Shop.Order
    base: Shop.Base
    members:
      - {name: Save, kind: method, access: public, virtual: true}
      - {name: count, kind: field, type: int}
  - id: Shop.Keyed
    interfaces: [Shop.IKeyed]
    members:
      - name: Key
        kind: property
        access: public
        type: string
        accessors: {get: "return key;"}
`

type logAspect struct{}

func (logAspect) Eligibility() aspect.Eligibility { return aspect.EligibleAll }

type engineFixture struct {
	g     *declgraph.Graph
	snap  *Snapshot
	class *aspect.Class
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	g, err := declgraph.ParseProgram([]byte(engineProgram))
	require.NoError(t, err)

	text := template.NewTextCompiler()
	compiler := template.CompilerFunc(func(ctx context.Context, tmpl *declgraph.Declaration) (template.Driver, error) {
		if tmpl.Name == "Boom" {
			return template.DriverFunc(func(context.Context, template.Invocation) (template.Body, error) {
				panic("boom")
			}), nil
		}
		return text.Compile(ctx, tmpl)
	})

	reg := aspect.NewRegistry(compiler)
	_, diags, err := reg.RegisterAll(g, map[string]any{"Log": logAspect{}})
	require.NoError(t, err)
	require.Empty(t, diags)
	class, ok := reg.Class("Log")
	require.True(t, ok)
	return &engineFixture{g: g, snap: NewSnapshot(g), class: class}
}

func (f *engineFixture) decl(t *testing.T, id string) *declgraph.Declaration {
	t.Helper()
	d, ok := f.g.Declaration(id)
	require.True(t, ok, id)
	return d
}

func (f *engineFixture) builder(t *testing.T, targetID string) *advice.Builder {
	t.Helper()
	inst := aspect.NewInstance(f.class, f.decl(t, targetID), aspect.SourceAttribute, nil)
	return advice.NewBuilder(context.Background(), f.snap, inst)
}

func TestEngine_OverrideAndIntroduce(t *testing.T) {
	f := newEngineFixture(t)
	b := f.builder(t, "Shop.Order")
	_, err := b.OverrideMethod(f.decl(t, "Shop.Order.Save()"), advice.Templates("Around"))
	require.NoError(t, err)
	_, err = b.IntroduceMethod(f.decl(t, "Shop.Order"), advice.Templates("Describe"))
	require.NoError(t, err)

	out, err := NewEngine(nil).Apply(context.Background(), f.snap, "Log", b.Advices())
	require.NoError(t, err)
	require.Empty(t, out.Diagnostics)
	require.Len(t, out.Transformations, 2)

	ov, ok := out.Transformations[0].(*OverriddenMember)
	require.True(t, ok)
	assert.Equal(t, "Shop.Order.Save()", ov.TargetID)
	assert.Equal(t, "Aspects.Log.Around()", ov.TemplateID)
	refs := ov.Body.References()
	require.Len(t, refs, 1)
	assert.Equal(t, "Shop.Order.Save()", refs[0].MemberID)
	assert.Equal(t, template.OrderBase, refs[0].Spec.Order)
	assert.Equal(t, `log("Save"); `, ov.Body[0].Code)

	intro, ok := out.Transformations[1].(*IntroducedMember)
	require.True(t, ok)
	assert.Equal(t, IntroducePlain, intro.Introduction)
	assert.Equal(t, `return "Shop.Order";`, intro.Declaration.Body)

	for i, tr := range out.Transformations {
		p := tr.Provenance()
		assert.Equal(t, 1, p.Stage)
		assert.Equal(t, i, p.Order)
		assert.Equal(t, "Log", p.Aspect)
	}

	next := f.snap.Fold("Log", out.Transformations)
	d, ok := next.Declaration("Shop.Order.Describe()")
	require.True(t, ok)
	assert.Equal(t, "Shop.Order", d.ContainingID)
	_, ok = f.snap.Declaration("Shop.Order.Describe()")
	assert.False(t, ok)
}

func TestEngine_DiscardsFailedInstance(t *testing.T) {
	f := newEngineFixture(t)

	failing := f.builder(t, "Shop.Order")
	_, err := failing.IntroduceMethod(f.decl(t, "Shop.Order"), advice.Templates("Describe"))
	require.NoError(t, err)
	_, err = failing.IntroduceMethod(f.decl(t, "Shop.Order"), advice.Templates("Describe"))
	require.NoError(t, err)

	healthy := f.builder(t, "Shop.Order.Save()")
	_, err = healthy.OverrideMethod(healthy.Target(), advice.Templates("Around"))
	require.NoError(t, err)

	advices := append(failing.Advices(), healthy.Advices()...)
	out, err := NewEngine(nil).Apply(context.Background(), f.snap, "Log", advices)
	require.NoError(t, err)

	assert.Equal(t, 1, out.Discarded)
	assert.Equal(t, []string{"CR0502"}, diag.Codes(out.Diagnostics))
	require.Len(t, out.Transformations, 1)
	assert.Equal(t, KindOverriddenMember, out.Transformations[0].Kind())
	assert.Equal(t, 0, out.Transformations[0].Provenance().Order)
}

func TestEngine_ImplementInterface(t *testing.T) {
	f := newEngineFixture(t)
	b := f.builder(t, "Shop.Order")
	_, err := b.ImplementInterface(f.decl(t, "Shop.Order"), "Shop.IKeyed")
	require.NoError(t, err)

	out, err := NewEngine(nil).Apply(context.Background(), f.snap, "Log", b.Advices())
	require.NoError(t, err)
	require.Empty(t, out.Diagnostics)
	require.Len(t, out.Transformations, 2)

	member := out.Transformations[0].(*IntroducedMember)
	assert.Equal(t, "Shop.Order.Key", member.Declaration.ID)
	assert.Equal(t, `return "Key";`, member.Declaration.Accessors[declgraph.AccessorGet])

	iface := out.Transformations[1].(*IntroducedInterface)
	assert.Equal(t, map[string]string{"Shop.IKeyed.Key": "Shop.Order.Key"}, iface.MemberMap)

	next := f.snap.Fold("Log", out.Transformations)
	assert.True(t, declgraph.Implements(next, "Shop.Order", "Shop.IKeyed"))
	assert.False(t, declgraph.Implements(f.snap, "Shop.Order", "Shop.IKeyed"))
}

const sizedProgram = `
types:
  - id: Aspects.Log
    attributes: [{type: Aspect}]
    members:
      - name: Size
        kind: property
        type: int
        accessors: {get: "return size;", set: "size = value;"}
        attributes: [{type: InterfaceMember}]
  - id: Shop.ISized
    kind: interface
    members:
      - {name: Size, kind: property, type: int, accessors: {get: "", set: ""}}
  - id: Shop.Order
    members:
      - {name: size, kind: field, type: int}
`

func TestEngine_ImplementInterfaceExpandsAccessorsInOrder(t *testing.T) {
	g, err := declgraph.ParseProgram([]byte(sizedProgram))
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen []template.TargetKind
	)
	text := template.NewTextCompiler()
	compiler := template.CompilerFunc(func(ctx context.Context, tmpl *declgraph.Declaration) (template.Driver, error) {
		inner, err := text.Compile(ctx, tmpl)
		if err != nil {
			return nil, err
		}
		return template.DriverFunc(func(ctx context.Context, inv template.Invocation) (template.Body, error) {
			mu.Lock()
			seen = append(seen, inv.Accessor)
			mu.Unlock()
			return inner.Expand(ctx, inv)
		}), nil
	})
	reg := aspect.NewRegistry(compiler)
	_, diags, err := reg.RegisterAll(g, map[string]any{"Log": logAspect{}})
	require.NoError(t, err)
	require.Empty(t, diags)
	class, ok := reg.Class("Log")
	require.True(t, ok)
	order, ok := g.Declaration("Shop.Order")
	require.True(t, ok)
	snap := NewSnapshot(g)

	for i := 0; i < 20; i++ {
		seen = nil
		b := advice.NewBuilder(context.Background(), snap, aspect.NewInstance(class, order, aspect.SourceAttribute, nil))
		_, err := b.ImplementInterface(order, "Shop.ISized")
		require.NoError(t, err)

		out, err := NewEngine(nil).Apply(context.Background(), snap, "Log", b.Advices())
		require.NoError(t, err)
		require.Empty(t, out.Diagnostics)
		assert.Equal(t, []template.TargetKind{template.TargetGetter, template.TargetSetter}, seen)

		member := out.Transformations[0].(*IntroducedMember)
		assert.Equal(t, "return size;", member.Declaration.Accessors[declgraph.AccessorGet])
		assert.Equal(t, "size = value;", member.Declaration.Accessors[declgraph.AccessorSet])
	}
}

func TestEngine_ImplementInterfaceConflicts(t *testing.T) {
	f := newEngineFixture(t)
	engine := NewEngine(nil)

	tests := []struct {
		name   string
		target string
		iface  string
		mode   advice.ConflictMode
		codes  []string
		count  int
	}{
		{"already implemented fails by default", "Shop.Keyed", "Shop.IKeyed", advice.ConflictDefault, []string{"CR0508"}, 0},
		{"already implemented ignored", "Shop.Keyed", "Shop.IKeyed", advice.ConflictIgnore, []string{}, 0},
		{"already implemented maps existing member", "Shop.Keyed", "Shop.IKeyed", advice.ConflictNew, []string{}, 1},
		{"missing interface member template", "Shop.Order", "Shop.INamed", advice.ConflictDefault, []string{"CR0509"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := f.builder(t, tt.target)
			_, err := b.ImplementInterface(f.decl(t, tt.target), tt.iface, advice.WhenExists(tt.mode))
			require.NoError(t, err)

			out, err := engine.Apply(context.Background(), f.snap, "Log", b.Advices())
			require.NoError(t, err)
			assert.Equal(t, tt.codes, diag.Codes(out.Diagnostics))
			assert.Len(t, out.Transformations, tt.count)
		})
	}
}

func TestEngine_IntroduceNewAndOverride(t *testing.T) {
	f := newEngineFixture(t)
	engine := NewEngine(nil)

	tests := []struct {
		mode      advice.ConflictMode
		want      Introduction
		overrides bool
	}{
		{advice.ConflictNew, IntroduceAsNew, false},
		{advice.ConflictOverride, IntroduceAsOverride, true},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			b := f.builder(t, "Shop.Order")
			_, err := b.IntroduceMethod(f.decl(t, "Shop.Order"), advice.Templates("Run"), advice.WhenExists(tt.mode))
			require.NoError(t, err)

			out, err := engine.Apply(context.Background(), f.snap, "Log", b.Advices())
			require.NoError(t, err)
			require.Empty(t, out.Diagnostics)
			require.Len(t, out.Transformations, 1)

			intro := out.Transformations[0].(*IntroducedMember)
			assert.Equal(t, tt.want, intro.Introduction)
			assert.Equal(t, tt.overrides, intro.Declaration.IsOverride)
			require.NotNil(t, intro.Replaces)
			assert.Equal(t, "Shop.Base.Run()", intro.Replaces.ID)
			assert.Equal(t, "Shop.Order.Run()", intro.Declaration.ID)
		})
	}
}

func TestEngine_NonVirtualBaseMember(t *testing.T) {
	f := newEngineFixture(t)
	engine := NewEngine(nil)
	introduce := func(mode advice.ConflictMode) StageOutput {
		b := f.builder(t, "Shop.Order")
		_, err := b.IntroduceMethod(f.decl(t, "Shop.Order"), advice.Templates("Run"),
			advice.WithName("Foo"), advice.WhenExists(mode))
		require.NoError(t, err)
		out, err := engine.Apply(context.Background(), f.snap, "Log", b.Advices())
		require.NoError(t, err)
		return out
	}

	out := introduce(advice.ConflictNew)
	assert.Empty(t, out.Diagnostics)
	require.Len(t, out.Transformations, 1)
	intro := out.Transformations[0].(*IntroducedMember)
	assert.Equal(t, IntroduceAsNew, intro.Introduction)
	assert.Equal(t, "Shop.Base.Foo()", intro.Replaces.ID)

	out = introduce(advice.ConflictOverride)
	assert.Equal(t, []string{"CR0505"}, diag.Codes(out.Diagnostics))
	assert.Empty(t, out.Transformations)
	assert.Equal(t, 1, out.Discarded)
}

func TestEngine_OverrideInPlace(t *testing.T) {
	f := newEngineFixture(t)
	b := f.builder(t, "Shop.Order")
	_, err := b.IntroduceMethod(f.decl(t, "Shop.Order"), advice.Templates("Describe"), advice.WithName("Save"), advice.WhenExists(advice.ConflictOverride))
	require.NoError(t, err)

	out, err := NewEngine(nil).Apply(context.Background(), f.snap, "Log", b.Advices())
	require.NoError(t, err)
	require.Empty(t, out.Diagnostics)
	require.Len(t, out.Transformations, 1)
	ov := out.Transformations[0].(*OverriddenMember)
	assert.Equal(t, "Shop.Order.Save()", ov.TargetID)
}

func TestEngine_TemplatePanicBecomesDiagnostic(t *testing.T) {
	f := newEngineFixture(t)
	b := f.builder(t, "Shop.Order")
	_, err := b.OverrideMethod(f.decl(t, "Shop.Order.Save()"), advice.Templates("Boom"))
	require.NoError(t, err)

	out, err := NewEngine(nil).Apply(context.Background(), f.snap, "Log", b.Advices())
	require.NoError(t, err)
	require.Equal(t, []string{"CR0302"}, diag.Codes(out.Diagnostics))
	assert.Contains(t, out.Diagnostics[0].Message, "boom")
	assert.Equal(t, 1, out.Discarded)
	assert.Empty(t, out.Transformations)
}

func TestEngine_PromotesField(t *testing.T) {
	f := newEngineFixture(t)
	b := f.builder(t, "Shop.Order")
	_, err := b.OverrideFieldOrPropertyAccessors(f.decl(t, "Shop.Order.count"), "Around", "Around")
	require.NoError(t, err)

	out, err := NewEngine(nil).Apply(context.Background(), f.snap, "Log", b.Advices())
	require.NoError(t, err)
	require.Empty(t, out.Diagnostics)
	require.Len(t, out.Transformations, 2)

	next := f.snap.Fold("Log", out.Transformations)
	promoted, _ := next.Declaration("Shop.Order.count")
	assert.Equal(t, declgraph.KindProperty, promoted.Kind)
	assert.Equal(t, "return count;", promoted.Accessors[declgraph.AccessorGet])

	original, _ := f.snap.Declaration("Shop.Order.count")
	assert.Equal(t, declgraph.KindField, original.Kind)
}

func TestEngine_Cancelled(t *testing.T) {
	f := newEngineFixture(t)
	b := f.builder(t, "Shop.Order")
	_, err := b.OverrideMethod(f.decl(t, "Shop.Order.Save()"), advice.Templates("Around"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewEngine(nil).Apply(ctx, f.snap, "Log", b.Advices())
	assert.ErrorIs(t, err, context.Canceled)
}
