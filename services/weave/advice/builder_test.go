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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

const adviceProgram = `
types:
  - id: Aspects.Trace
    attributes: [{type: Aspect}]
    members:
      - {name: Around, kind: method, body: "{{proceed}}", attributes: [{type: Template}]}
      - {name: AroundAsync, kind: method, async: true, body: "await {{proceed}}", attributes: [{type: Template}]}
      - {name: AroundIter, kind: method, iterator: true, body: "yield {{proceed}}", attributes: [{type: Template}]}
      - name: Describe
        kind: method
        access: public
        returns: string
        body: "return \"{{target}}\";"
        attributes: [{type: Introduce}, {type: Obsolete}]
      - {name: Counter, kind: field, type: int, body: "0", attributes: [{type: Introduce}]}
      - name: Label
        kind: property
        type: string
        accessors: {get: "return label;", set: "label = value;"}
        attributes: [{type: Introduce}]
      - {name: Changed, kind: event, type: Handler, attributes: [{type: Introduce}]}
      - {name: Dup, kind: method, attributes: [{type: Template}]}
      - {name: Dup, kind: property, attributes: [{type: Template}]}
  - id: Shop.IKeyed
    kind: interface
    members:
      - {name: Key, kind: property, type: string}
  - id: Shop.Order
    members:
      - {name: Save, kind: method, access: public, virtual: true}
      - {name: Fetch, kind: method, access: public, async: true}
      - {name: Items, kind: method, access: public, async: true, iterator: true}
      - {name: Total, kind: property, access: public, type: decimal}
      - {name: count, kind: field, type: int}
      - {name: Updated, kind: event, access: public, type: Handler}
  - id: Shop.Util
    static: true
`

type traceAspect struct{}

func (traceAspect) Eligibility() aspect.Eligibility { return aspect.EligibleAll }
func (traceAspect) Layers() []string                { return []string{"outer"} }

type fixture struct {
	g     *declgraph.Graph
	class *aspect.Class
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g, err := declgraph.ParseProgram([]byte(adviceProgram))
	require.NoError(t, err)
	reg := aspect.NewRegistry(template.NewTextCompiler())
	_, diags, err := reg.RegisterAll(g, map[string]any{"Trace": traceAspect{}})
	require.NoError(t, err)
	require.Equal(t, []string{"CR0101"}, diag.Codes(diags))
	class, _ := reg.Class("Trace")
	return &fixture{g: g, class: class}
}

func (f *fixture) decl(t *testing.T, id string) *declgraph.Declaration {
	t.Helper()
	d, ok := f.g.Declaration(id)
	require.True(t, ok, id)
	return d
}

func (f *fixture) builder(t *testing.T, targetID string) *Builder {
	inst := aspect.NewInstance(f.class, f.decl(t, targetID), aspect.SourceAttribute, nil)
	return NewBuilder(context.Background(), f.g, inst)
}

func TestSelectTemplate_Grid(t *testing.T) {
	full := TemplateSet{Default: "d", Async: "a", Iterator: "i", AsyncIterator: "ai"}
	tests := []struct {
		shape declgraph.MethodShape
		set   TemplateSet
		want  string
		kind  aspect.TemplateKind
	}{
		{declgraph.ShapeSync, full, "d", aspect.TemplateDefault},
		{declgraph.ShapeAsync, full, "a", aspect.TemplateAsync},
		{declgraph.ShapeIterator, full, "i", aspect.TemplateIterator},
		{declgraph.ShapeAsyncIterator, full, "ai", aspect.TemplateAsyncIterator},
		{declgraph.ShapeAsyncIterator, TemplateSet{Default: "d", Async: "a", Iterator: "i"}, "i", aspect.TemplateIterator},
		{declgraph.ShapeAsyncIterator, TemplateSet{Default: "d", Async: "a"}, "a", aspect.TemplateAsync},
		{declgraph.ShapeAsync, TemplateSet{Default: "d", Iterator: "i"}, "d", aspect.TemplateDefault},
		{declgraph.ShapeIterator, TemplateSet{Default: "d", Async: "a"}, "d", aspect.TemplateDefault},
		{declgraph.ShapeSync, TemplateSet{Default: "d", AsyncIterator: "ai"}, "d", aspect.TemplateDefault},
	}
	for _, tt := range tests {
		t.Run(tt.shape.String()+"/"+tt.want, func(t *testing.T) {
			name, kind, ok := SelectTemplate(tt.shape, tt.set)
			require.True(t, ok)
			assert.Equal(t, tt.want, name)
			assert.Equal(t, tt.kind, kind)

			again, againKind, _ := SelectTemplate(tt.shape, tt.set)
			assert.Equal(t, name, again)
			assert.Equal(t, kind, againKind)
		})
	}

	_, _, ok := SelectTemplate(declgraph.ShapeSync, TemplateSet{Async: "a"})
	assert.False(t, ok)
}

func TestOverrideMethod_SelectsByTargetShape(t *testing.T) {
	f := newFixture(t)
	b := f.builder(t, "Shop.Order")
	set := TemplateSet{Default: "Around", Async: "AroundAsync", Iterator: "AroundIter"}

	save, err := b.OverrideMethod(f.decl(t, "Shop.Order.Save()"), set)
	require.NoError(t, err)
	assert.Equal(t, "Around", save.Templates[template.TargetDefault].Member.Name)

	fetch, err := b.OverrideMethod(f.decl(t, "Shop.Order.Fetch()"), set, InLayer("outer"), WithTags(map[string]string{"k": "v"}))
	require.NoError(t, err)
	assert.Equal(t, "AroundAsync", fetch.Templates[template.TargetDefault].Member.Name)
	assert.Equal(t, "Trace:outer", fetch.Common().Layer.String())
	assert.Equal(t, "v", fetch.Common().Tags["k"])

	items, err := b.OverrideMethod(f.decl(t, "Shop.Order.Items()"), set, ForceNotInlineable())
	require.NoError(t, err)
	assert.Equal(t, aspect.TemplateIterator, items.Templates[template.TargetDefault].Kind)
	assert.True(t, items.Common().ForceNotInlineable)

	advices := b.Advices()
	require.Len(t, advices, 3)
	for i, a := range advices {
		assert.Equal(t, i, a.Common().Order)
		assert.Equal(t, KindOverrideMember, a.Kind())
	}
}

func TestOverrideMethod_TemplateResolutionErrors(t *testing.T) {
	f := newFixture(t)
	b := f.builder(t, "Shop.Order")
	save := f.decl(t, "Shop.Order.Save()")

	_, err := b.OverrideMethod(save, Templates("Missing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateResolution)
	assert.ErrorIs(t, err, aspect.ErrTemplateNotFound)

	_, err = b.OverrideMethod(save, Templates("Dup"))
	assert.ErrorIs(t, err, aspect.ErrTemplateAmbiguous)

	_, err = b.OverrideMethod(save, TemplateSet{Async: "AroundAsync"})
	assert.ErrorIs(t, err, ErrTemplateResolution)

	ds, ok := Diagnostics(err)
	require.True(t, ok)
	assert.Equal(t, []string{"CR0500"}, diag.Codes(ds))
	assert.Equal(t, []string{"CR0500", "CR0500", "CR0500"}, diag.Codes(b.Diagnostics()))
	assert.Empty(t, b.Advices())
}

func TestOverrideMethod_CollectsEveryDiagnostic(t *testing.T) {
	f := newFixture(t)
	b := f.builder(t, "Shop.Order")

	_, err := b.OverrideMethod(f.decl(t, "Shop.Order.Total"), Templates("Label"), InLayer("nope"))
	require.Error(t, err)
	assert.ErrorIs(t, err, template.ErrInvalidUserCode)

	ds, ok := Diagnostics(err)
	require.True(t, ok)
	assert.Equal(t, []string{"CR0501", "CR0513", "CR0511"}, diag.Codes(ds))
	assert.Empty(t, b.Advices())
}

func TestOverrideFieldOrProperty(t *testing.T) {
	f := newFixture(t)
	b := f.builder(t, "Shop.Order")

	field, err := b.OverrideFieldOrProperty(f.decl(t, "Shop.Order.count"), "Label")
	require.NoError(t, err)
	assert.True(t, field.PromoteField)
	assert.Equal(t, []template.TargetKind{template.TargetGetter, template.TargetSetter}, field.TargetKinds())

	prop, err := b.OverrideFieldOrPropertyAccessors(f.decl(t, "Shop.Order.Total"), "Around", "")
	require.NoError(t, err)
	assert.False(t, prop.PromoteField)
	assert.Equal(t, []template.TargetKind{template.TargetGetter}, prop.TargetKinds())

	ev, err := b.OverrideEventAccessors(f.decl(t, "Shop.Order.Updated"), "Around", "Around", "")
	require.NoError(t, err)
	assert.Equal(t, []template.TargetKind{template.TargetAdder, template.TargetRemover}, ev.TargetKinds())

	_, err = b.OverrideEventAccessors(f.decl(t, "Shop.Order.Total"), "Around", "", "")
	ds, _ := Diagnostics(err)
	assert.Equal(t, []string{"CR0501"}, diag.Codes(ds))
}

func TestIntroduce_DefaultsFromTemplate(t *testing.T) {
	f := newFixture(t)
	b := f.builder(t, "Shop.Order")
	order := f.decl(t, "Shop.Order")

	m, err := b.IntroduceMethod(order, Templates("Describe"), WhenExists(ConflictOverride))
	require.NoError(t, err)
	assert.Equal(t, "Describe", m.Member.Name)
	assert.Equal(t, declgraph.AccessPublic, m.Member.Accessibility)
	assert.Equal(t, "string", m.Member.Signature.ReturnType)
	assert.Equal(t, ConflictOverride, m.WhenExists)
	require.Len(t, m.Member.Attributes, 1)
	assert.Equal(t, "Obsolete", m.Member.Attributes[0].Type)
	assert.Equal(t, "Shop.Order.Describe()", m.Member.Declaration("Shop.Order").ID)

	fld, err := b.IntroduceField(order, "Counter", WithName("hits"), WithAccessibility(declgraph.AccessProtected))
	require.NoError(t, err)
	assert.Equal(t, "hits", fld.Member.Name)
	assert.Equal(t, declgraph.AccessProtected, fld.Member.Accessibility)
	assert.Contains(t, fld.Templates, template.TargetDefault)

	prop, err := b.IntroduceProperty(order, "Label")
	require.NoError(t, err)
	assert.Equal(t, []string{"get", "set"}, prop.Member.Accessors)
	assert.Equal(t, []template.TargetKind{template.TargetGetter, template.TargetSetter}, prop.TargetKinds())

	ev, err := b.IntroduceEvent(order, "Changed")
	require.NoError(t, err)
	assert.Equal(t, []string{"add", "remove"}, ev.Member.Accessors)

	_, err = b.IntroduceEvent(order, "Label")
	ds, _ := Diagnostics(err)
	assert.Equal(t, []string{"CR0513"}, diag.Codes(ds))
}

func TestIntroduce_Staticity(t *testing.T) {
	f := newFixture(t)
	b := f.builder(t, "Shop.Util")
	util := f.decl(t, "Shop.Util")

	m, err := b.IntroduceMethod(util, Templates("Describe"))
	require.NoError(t, err)
	assert.True(t, m.Member.IsStatic, "members introduced into a static type default to static")

	_, err = b.IntroduceMethod(util, Templates("Describe"), WithScope(ScopeInstance))
	ds, _ := Diagnostics(err)
	assert.Equal(t, []string{"CR0507"}, diag.Codes(ds))

	_, err = b.IntroduceField(util, "Counter", WithBuild(func(d *MemberDraft) { d.SetStatic(false) }))
	ds, _ = Diagnostics(err)
	assert.Equal(t, []string{"CR0507"}, diag.Codes(ds))

	_, err = b.IntroduceMethod(f.decl(t, "Shop.IKeyed"), Templates("Describe"))
	ds, _ = Diagnostics(err)
	assert.Equal(t, []string{"CR0510"}, diag.Codes(ds))
}

func TestIntroduce_DraftIsFrozenAfterCall(t *testing.T) {
	f := newFixture(t)
	b := f.builder(t, "Shop.Order")

	var kept *MemberDraft
	m, err := b.IntroduceMethod(f.decl(t, "Shop.Order"), Templates("Describe"), WithBuild(func(d *MemberDraft) {
		d.SetName("Explain")
		d.SetParameters(declgraph.Parameter{Name: "verbose", Type: "bool"})
		kept = d
	}))
	require.NoError(t, err)
	assert.Equal(t, "Explain", m.Member.Name)
	assert.Equal(t, "Shop.Order.Explain(bool)", m.Member.Declaration("Shop.Order").ID)

	assert.PanicsWithValue(t, ErrDraftFrozen, func() { kept.SetName("Later") })
	assert.Equal(t, "Explain", m.Member.Name)
}

func TestImplementInterface_Accumulates(t *testing.T) {
	f := newFixture(t)
	b := f.builder(t, "Shop.Order")
	order := f.decl(t, "Shop.Order")

	_, err := b.IntroduceField(order, "Counter")
	require.NoError(t, err)
	first, err := b.ImplementInterface(order, "Shop.IKeyed")
	require.NoError(t, err)
	_, err = b.IntroduceProperty(order, "Label")
	require.NoError(t, err)
	second, err := b.ImplementInterface(order, "Shop.IKeyed", WhenExists(ConflictIgnore))
	require.NoError(t, err)

	assert.Same(t, first, second)
	require.Len(t, first.Interfaces, 2)
	assert.Equal(t, ConflictIgnore, first.Interfaces[1].WhenExists)

	kinds := make([]Kind, 0, 3)
	for _, a := range b.Advices() {
		kinds = append(kinds, a.Kind())
	}
	assert.Equal(t, []Kind{KindIntroduceMember, KindImplementInterface, KindIntroduceMember}, kinds)

	_, err = b.ImplementInterface(order, "Shop.Order")
	ds, _ := Diagnostics(err)
	assert.Equal(t, []string{"CR0501"}, diag.Codes(ds))
}

func TestImplementInterface_KeepsLayerAndInlining(t *testing.T) {
	f := newFixture(t)
	b := f.builder(t, "Shop.Order")
	order := f.decl(t, "Shop.Order")

	plain, err := b.ImplementInterface(order, "Shop.IKeyed")
	require.NoError(t, err)
	outer, err := b.ImplementInterface(order, "Shop.IKeyed", InLayer("outer"))
	require.NoError(t, err)
	pinned, err := b.ImplementInterface(order, "Shop.IKeyed", ForceNotInlineable())
	require.NoError(t, err)

	assert.NotSame(t, plain, outer)
	assert.Equal(t, "Trace", plain.Common().Layer.String())
	assert.Equal(t, "Trace:outer", outer.Common().Layer.String())
	assert.False(t, outer.Common().ForceNotInlineable)

	assert.Same(t, plain, pinned)
	assert.True(t, plain.Common().ForceNotInlineable)
	assert.Len(t, plain.Interfaces, 2)
	assert.Len(t, outer.Interfaces, 1)
	assert.Len(t, b.Advices(), 2)
}

func TestBuilder_RequireAspectAndSkip(t *testing.T) {
	f := newFixture(t)
	b := f.builder(t, "Shop.Order")
	cfg := map[string]any{"ttl": 5}
	b.RequireAspect("Cached", f.decl(t, "Shop.Order.Save()"), cfg)
	cfg["ttl"] = 6

	reqs := b.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 5, reqs[0].Config["ttl"])
	assert.Same(t, b.Instance(), reqs[0].Requestor)

	b.Report(diag.AspectFailed.New(diag.Location{}, "Trace", "x", errors.New("boom")))
	b.Skip()
	assert.True(t, b.Skipped())
	assert.Len(t, b.Diagnostics(), 1)
}

func TestConflictMode(t *testing.T) {
	assert.Equal(t, ConflictFail, ConflictDefault.Resolve())
	assert.Equal(t, ConflictNew, ConflictNew.Resolve())

	m, err := ParseConflictMode("Override")
	require.NoError(t, err)
	assert.Equal(t, ConflictOverride, m)

	m, err = ParseConflictMode("")
	require.NoError(t, err)
	assert.Equal(t, ConflictDefault, m)

	_, err = ParseConflictMode("merge")
	assert.ErrorIs(t, err, ErrUnknownConflictMode)
}
