// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aspect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

const aspectProgram = `
types:
  - id: Aspects.Logged
    attributes:
      - type: Aspect
        args: {inheritable: "true", name: "Logging"}
    members:
      - name: Wrap
        kind: method
        virtual: true
        body: "log(); {{proceed}}"
        attributes: [{type: Template}]
      - name: WrapAsync
        kind: method
        async: true
        body: "await log(); {{proceed}}"
        attributes: [{type: Template}]
  - id: Aspects.AuditLogged
    base: Aspects.Logged
    attributes: [{type: Aspect}]
    members:
      - name: Wrap
        kind: method
        override: true
        body: "audit(); {{proceed}}"
        attributes: [{type: Template}]
      - name: WrapAsync
        kind: method
        body: "broken"
        attributes: [{type: Template}]
      - name: Extra
        kind: method
        attributes: [{type: Template}]
      - name: Extra
        kind: property
        attributes: [{type: Introduce}]
  - id: Shop.Order
    members:
      - name: Save
        kind: method
        access: public
        virtual: true
      - name: Total
        kind: property
        access: public
        type: decimal
`

type methodOnly struct{}

func (methodOnly) EligibleMethod(m *declgraph.Declaration) bool {
	return m.Accessibility == declgraph.AccessPublic
}

type layeredMethods struct{ methodOnly }

func (layeredMethods) Layers() []string { return []string{"outer", "inner", "outer"} }

func buildTestGraph(t *testing.T) *declgraph.Graph {
	t.Helper()
	g, err := declgraph.ParseProgram([]byte(aspectProgram))
	require.NoError(t, err)
	return g
}

func TestRegistry_RegisterAll_OrdersByInheritance(t *testing.T) {
	g := buildTestGraph(t)
	reg := NewRegistry(template.NewTextCompiler())

	classes, diags, err := reg.RegisterAll(g, map[string]any{
		"Logged":      methodOnly{},
		"AuditLogged": layeredMethods{},
	})
	require.NoError(t, err)
	require.Len(t, classes, 2)
	assert.Equal(t, "Logged", classes[0].Name())
	assert.Equal(t, "AuditLogged", classes[1].Name())

	// WrapAsync redefined without override, Extra declared twice, layer "outer" twice.
	assert.ElementsMatch(t, []string{"CR0101", "CR0101", "CR0102"}, diag.Codes(diags))

	audit, ok := reg.Class("AuditLogged")
	require.True(t, ok)
	assert.Same(t, classes[0], audit.Base())
	assert.True(t, audit.Inheritable())
	assert.Equal(t, "Logging", classes[0].DisplayName())
	assert.Equal(t, "AuditLogged", audit.DisplayName())

	wrap, err := audit.Template("Wrap")
	require.NoError(t, err)
	assert.Equal(t, "AuditLogged", wrap.DeclaringClass)

	_, err = audit.Template("WrapAsync")
	assert.ErrorIs(t, err, ErrTemplateAmbiguous)
	_, err = audit.Template("Extra")
	assert.ErrorIs(t, err, ErrTemplateAmbiguous)
	_, err = audit.Template("Missing")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	assert.Equal(t, []string{"Wrap"}, audit.TemplateNames())
	assert.Equal(t, []string{"Wrap", "WrapAsync"}, classes[0].TemplateNames())
}

func TestRegistry_Layers(t *testing.T) {
	g := buildTestGraph(t)
	reg := NewRegistry(template.NewTextCompiler())
	classes, _, err := reg.RegisterAll(g, map[string]any{"AuditLogged": layeredMethods{}})
	require.NoError(t, err)

	audit := classes[1]
	layers := audit.Layers()
	require.Len(t, layers, 3)
	assert.True(t, layers[0].IsDefault())
	assert.Equal(t, "AuditLogged:outer", layers[1].String())
	assert.Equal(t, 2, layers[2].Index())

	_, ok := audit.Layer("missing")
	assert.False(t, ok)

	// Without Layered the base class's layers are inherited.
	assert.Len(t, classes[0].Layers(), 1)
}

func TestClass_IsEligible(t *testing.T) {
	g := buildTestGraph(t)
	reg := NewRegistry(template.NewTextCompiler())
	_, _, err := reg.RegisterAll(g, map[string]any{"Logged": methodOnly{}})
	require.NoError(t, err)

	logged, _ := reg.Class("Logged")
	save, _ := g.Declaration("Shop.Order.Save()")
	total, _ := g.Declaration("Shop.Order.Total")
	wrap, _ := g.Declaration("Aspects.Logged.Wrap()")

	assert.True(t, logged.IsEligible(save))
	assert.False(t, logged.IsEligible(total), "properties are not in the eligibility set")
	assert.False(t, logged.IsEligible(wrap), "private methods are refused by the predicate")
	assert.Equal(t, EligibleMethod, logged.Eligibility())

	audit, _ := reg.Class("AuditLogged")
	assert.Equal(t, EligibleNone, audit.Eligibility())
	assert.False(t, audit.IsEligible(save))
}

func TestRegistry_RegisterErrors(t *testing.T) {
	g := buildTestGraph(t)
	reg := NewRegistry(template.NewTextCompiler())

	_, _, err := reg.Register(g, nil, nil)
	assert.ErrorIs(t, err, ErrNilDeclaration)

	order, _ := g.Declaration("Shop.Order")
	_, _, err = reg.Register(g, order, nil)
	assert.ErrorIs(t, err, ErrNotAnAspect)

	audit, _ := g.Declaration("Aspects.AuditLogged")
	_, diags, err := reg.Register(g, audit, nil)
	assert.ErrorIs(t, err, ErrUnknownBaseClass)
	assert.Equal(t, []string{"CR0103"}, diag.Codes(diags))

	logged, _ := g.Declaration("Aspects.Logged")
	_, _, err = reg.Register(g, logged, nil)
	require.NoError(t, err)
	_, _, err = reg.Register(g, logged, nil)
	assert.ErrorIs(t, err, ErrDuplicateClass)
}

func TestParseEligibility(t *testing.T) {
	e, err := ParseEligibility([]string{"method", "field_or_property"})
	require.NoError(t, err)
	assert.Equal(t, "method|field|property", e.String())

	e, err = ParseEligibility([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, EligibleAll, e)

	_, err = ParseEligibility([]string{"bogus"})
	assert.Error(t, err)
}

func TestDriverCache_CompilesOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	compiler := template.CompilerFunc(func(ctx context.Context, tmpl *declgraph.Declaration) (template.Driver, error) {
		calls.Add(1)
		<-release
		return template.NewTextCompiler().Compile(ctx, tmpl)
	})
	cache := NewDriverCache(compiler)
	tm := &TemplateMember{Name: "Wrap", Declaration: &declgraph.Declaration{ID: "A.Wrap()", Body: "{{proceed}}"}}

	var wg sync.WaitGroup
	drivers := make([]template.Driver, 8)
	for i := range drivers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := cache.Driver(context.Background(), tm)
			assert.NoError(t, err)
			drivers[i] = d
		}(i)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), cache.Compilations())
	assert.Equal(t, 1, cache.Len())

	d, err := cache.Driver(context.Background(), tm)
	require.NoError(t, err)
	assert.Same(t, drivers[0], d)
}

func TestDriverCache_DoesNotCacheFailures(t *testing.T) {
	fail := true
	compiler := template.CompilerFunc(func(ctx context.Context, tmpl *declgraph.Declaration) (template.Driver, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return template.NewTextCompiler().Compile(ctx, tmpl)
	})
	cache := NewDriverCache(compiler)
	tm := &TemplateMember{Declaration: &declgraph.Declaration{ID: "A.T()", Body: "x"}}

	_, err := cache.Driver(context.Background(), tm)
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len())

	fail = false
	_, err = cache.Driver(context.Background(), tm)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	_, err = NewDriverCache(nil).Driver(context.Background(), tm)
	assert.ErrorIs(t, err, ErrNilCompiler)
}

func TestInstance_KeyAndChain(t *testing.T) {
	g := buildTestGraph(t)
	reg := NewRegistry(template.NewTextCompiler())
	_, _, err := reg.RegisterAll(g, nil)
	require.NoError(t, err)
	logged, _ := reg.Class("Logged")
	save, _ := g.Declaration("Shop.Order.Save()")

	cfg := map[string]any{"level": "info"}
	parent := NewInstance(logged, save, SourceAttribute, cfg)
	cfg["level"] = "debug"
	assert.Equal(t, "info", parent.Config["level"])

	child := NewInstance(logged, save, SourceInherited, nil)
	child.Origin.Predecessor = parent
	assert.Equal(t, "Logged|Shop.Order.Save()", child.Key())
	assert.Equal(t, []*Instance{child, parent}, child.Chain())
	assert.Less(t, SourceAttribute.PrimaryRank(), SourceInherited.PrimaryRank())
	assert.Equal(t, "reactive", SourceReactive.String())
}
