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
	"maps"
	"slices"
	"sort"

	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/source"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

// Aspect is implemented by aspect implementations that produce advice.
//
// BuildAspect is called once per aspect instance. Returning ErrFatal stops
// the whole pipeline; any other error marks the instance as failed while
// the rest of the pipeline continues.
type Aspect interface {
	BuildAspect(b *Builder) error
}

// Scope controls the staticity of an introduced member.
type Scope int

const (
	// ScopeDefault copies the template's staticity, and makes the member
	// static when the target type is static.
	ScopeDefault Scope = iota
	ScopeStatic
	ScopeInstance
)

type options struct {
	whenExists         ConflictMode
	layer              string
	layerSet           bool
	name               string
	access             *declgraph.Accessibility
	scope              Scope
	tags               map[string]string
	forceNotInlineable bool
	build              func(*MemberDraft)
}

// Option configures one factory call.
type Option func(*options)

// WhenExists sets the conflict mode of an introduction.
func WhenExists(mode ConflictMode) Option {
	return func(o *options) { o.whenExists = mode }
}

// InLayer applies the advice in a named layer of the aspect class.
func InLayer(name string) Option {
	return func(o *options) {
		o.layer = name
		o.layerSet = true
	}
}

// WithName renames an introduced member.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithAccessibility overrides the accessibility of an introduced member.
func WithAccessibility(a declgraph.Accessibility) Option {
	return func(o *options) { o.access = &a }
}

// WithScope sets the staticity of an introduced member.
func WithScope(s Scope) Option {
	return func(o *options) { o.scope = s }
}

// WithTags attaches tags, readable by templates as {{tag.KEY}}.
func WithTags(tags map[string]string) Option {
	return func(o *options) { o.tags = maps.Clone(tags) }
}

// ForceNotInlineable keeps the produced versions out of inlining.
func ForceNotInlineable() Option {
	return func(o *options) { o.forceNotInlineable = true }
}

// WithBuild edits the member draft of an introduction before it is frozen.
func WithBuild(fn func(*MemberDraft)) Option {
	return func(o *options) { o.build = fn }
}

// Builder collects the advice produced by one aspect evaluation.
//
// Description:
//
//	A Builder is created for one aspect instance and is not reused. Each
//	factory method validates its arguments, records every diagnostic it
//	finds, and either appends one advice or returns an error. Advice keep
//	the order of the calls that created them, except that repeated
//	ImplementInterface calls for one type fold into the first.
//
// Thread Safety:
//
//	Not safe for concurrent use. Each evaluation owns its builder.
type Builder struct {
	ctx  context.Context
	view declgraph.View
	inst *aspect.Instance

	advices    []Advice
	interfaces map[string]*ImplementInterface
	requests   []source.Request
	diags      []diag.Diagnostic
	skipped    bool
}

// NewBuilder creates a builder for one instance evaluated against view.
func NewBuilder(ctx context.Context, view declgraph.View, inst *aspect.Instance) *Builder {
	return &Builder{
		ctx:        ctx,
		view:       view,
		inst:       inst,
		interfaces: make(map[string]*ImplementInterface),
	}
}

// Context returns the evaluation context.
func (b *Builder) Context() context.Context { return b.ctx }

// View returns the snapshot the aspect is evaluated against.
func (b *Builder) View() declgraph.View { return b.view }

// Instance returns the aspect instance.
func (b *Builder) Instance() *aspect.Instance { return b.inst }

// Target returns the declaration the aspect is applied to.
func (b *Builder) Target() *declgraph.Declaration { return b.inst.Target }

// Config returns the instance configuration.
func (b *Builder) Config() map[string]any { return b.inst.Config }

// Advices returns the advice produced so far, in creation order.
func (b *Builder) Advices() []Advice { return slices.Clone(b.advices) }

// Diagnostics returns every diagnostic recorded so far.
func (b *Builder) Diagnostics() []diag.Diagnostic { return slices.Clone(b.diags) }

// Requests returns the aspect instances requested through RequireAspect.
func (b *Builder) Requests() []source.Request { return slices.Clone(b.requests) }

// Skipped reports whether the aspect called Skip.
func (b *Builder) Skipped() bool { return b.skipped }

// Skip discards every advice of this evaluation. Diagnostics are kept.
func (b *Builder) Skip() { b.skipped = true }

// Report records user diagnostics.
func (b *Builder) Report(ds ...diag.Diagnostic) {
	b.diags = append(b.diags, ds...)
}

// RequireAspect asks for an instance of another aspect class on target.
// The request is honoured by a later stage; requesting a class whose stage
// has already run is reported by the pipeline.
func (b *Builder) RequireAspect(class string, target *declgraph.Declaration, config map[string]any) {
	b.requests = append(b.requests, source.Request{
		Requestor: b.inst,
		Class:     class,
		Target:    target,
		Config:    maps.Clone(config),
	})
}

// =============================================================================
// Overrides
// =============================================================================

// OverrideMethod replaces the body of a method. The template is selected
// from set by the target's shape.
func (b *Builder) OverrideMethod(target *declgraph.Declaration, set TemplateSet, opts ...Option) (*OverrideMember, error) {
	o := collect(opts)
	if target == nil {
		return nil, ErrNilTarget
	}
	ref, err := b.resolveSet(set, target.MethodShape())
	if err != nil {
		return nil, err
	}

	var ds []diag.Diagnostic
	if target.Kind != declgraph.KindMethod || b.inInterface(target) {
		ds = append(ds, b.invalidTarget("OverrideMethod", target))
	}
	ds = append(ds, b.requireKind(ref.Member, "OverrideMethod", declgraph.KindMethod)...)
	layer, lds := b.layer(o)
	ds = append(ds, lds...)
	if len(ds) > 0 {
		return nil, b.fail(ds)
	}

	adv := &OverrideMember{
		common:    b.common(target, layer, o),
		Templates: map[template.TargetKind]TemplateRef{template.TargetDefault: ref},
	}
	b.advices = append(b.advices, adv)
	return adv, nil
}

// OverrideFieldOrProperty overrides the accessors of a field or property
// with a property template. A field is promoted to a property in later
// snapshots.
func (b *Builder) OverrideFieldOrProperty(target *declgraph.Declaration, tmpl string, opts ...Option) (*OverrideMember, error) {
	o := collect(opts)
	if target == nil {
		return nil, ErrNilTarget
	}
	tm, err := b.resolve(tmpl)
	if err != nil {
		return nil, err
	}

	var ds []diag.Diagnostic
	if !target.Kind.IsFieldOrProperty() || b.inInterface(target) {
		ds = append(ds, b.invalidTarget("OverrideFieldOrProperty", target))
	}
	ds = append(ds, b.requireKind(tm, "OverrideFieldOrProperty", declgraph.KindProperty)...)
	layer, lds := b.layer(o)
	ds = append(ds, lds...)
	if len(ds) > 0 {
		return nil, b.fail(ds)
	}

	templates := make(map[template.TargetKind]TemplateRef)
	for _, acc := range propertyAccessors(target) {
		if len(tm.Declaration.Accessors) > 0 {
			if _, ok := tm.Declaration.Accessors[acc]; !ok {
				continue
			}
		}
		kind, _ := template.TargetKindForAccessor(acc)
		templates[kind] = TemplateRef{Member: tm}
	}

	adv := &OverrideMember{
		common:       b.common(target, layer, o),
		Templates:    templates,
		PromoteField: target.Kind == declgraph.KindField,
	}
	b.advices = append(b.advices, adv)
	return adv, nil
}

// OverrideFieldOrPropertyAccessors overrides the getter and setter of a
// field or property with method templates. Either name may be empty.
func (b *Builder) OverrideFieldOrPropertyAccessors(target *declgraph.Declaration, getter, setter string, opts ...Option) (*OverrideMember, error) {
	o := collect(opts)
	if target == nil {
		return nil, ErrNilTarget
	}
	templates, err := b.resolveAccessors(map[template.TargetKind]string{
		template.TargetGetter: getter,
		template.TargetSetter: setter,
	})
	if err != nil {
		return nil, err
	}

	var ds []diag.Diagnostic
	if !target.Kind.IsFieldOrProperty() || b.inInterface(target) {
		ds = append(ds, b.invalidTarget("OverrideFieldOrPropertyAccessors", target))
	}
	for _, ref := range templates {
		ds = append(ds, b.requireKind(ref.Member, "OverrideFieldOrPropertyAccessors", declgraph.KindMethod)...)
	}
	layer, lds := b.layer(o)
	ds = append(ds, lds...)
	if len(ds) > 0 {
		return nil, b.fail(ds)
	}

	adv := &OverrideMember{
		common:       b.common(target, layer, o),
		Templates:    templates,
		PromoteField: target.Kind == declgraph.KindField,
	}
	b.advices = append(b.advices, adv)
	return adv, nil
}

// OverrideEventAccessors overrides the add, remove and raise accessors of
// an event with method templates. Any name may be empty.
func (b *Builder) OverrideEventAccessors(target *declgraph.Declaration, add, remove, raise string, opts ...Option) (*OverrideMember, error) {
	o := collect(opts)
	if target == nil {
		return nil, ErrNilTarget
	}
	templates, err := b.resolveAccessors(map[template.TargetKind]string{
		template.TargetAdder:   add,
		template.TargetRemover: remove,
		template.TargetRaiser:  raise,
	})
	if err != nil {
		return nil, err
	}

	var ds []diag.Diagnostic
	if target.Kind != declgraph.KindEvent || b.inInterface(target) {
		ds = append(ds, b.invalidTarget("OverrideEventAccessors", target))
	}
	for _, ref := range templates {
		ds = append(ds, b.requireKind(ref.Member, "OverrideEventAccessors", declgraph.KindMethod)...)
	}
	layer, lds := b.layer(o)
	ds = append(ds, lds...)
	if len(ds) > 0 {
		return nil, b.fail(ds)
	}

	adv := &OverrideMember{
		common:    b.common(target, layer, o),
		Templates: templates,
	}
	b.advices = append(b.advices, adv)
	return adv, nil
}

// =============================================================================
// Introductions
// =============================================================================

// IntroduceMethod adds a method to a type. The template is selected from
// set by the shape of the default template.
func (b *Builder) IntroduceMethod(targetType *declgraph.Declaration, set TemplateSet, opts ...Option) (*IntroduceMember, error) {
	if targetType == nil {
		return nil, ErrNilTarget
	}
	if set.Default == "" {
		return nil, b.missingDefault()
	}
	def, err := b.resolve(set.Default)
	if err != nil {
		return nil, err
	}
	ref, err := b.resolveSet(set, def.Declaration.MethodShape())
	if err != nil {
		return nil, err
	}
	return b.introduce("IntroduceMethod", targetType, ref.Member, declgraph.KindMethod,
		map[template.TargetKind]TemplateRef{template.TargetDefault: ref}, collect(opts))
}

// IntroduceField adds a field to a type. A non-empty template body is the
// field initializer.
func (b *Builder) IntroduceField(targetType *declgraph.Declaration, tmpl string, opts ...Option) (*IntroduceMember, error) {
	if targetType == nil {
		return nil, ErrNilTarget
	}
	tm, err := b.resolve(tmpl)
	if err != nil {
		return nil, err
	}
	templates := map[template.TargetKind]TemplateRef{}
	if tm.Declaration.Body != "" {
		templates[template.TargetDefault] = TemplateRef{Member: tm}
	}
	return b.introduce("IntroduceField", targetType, tm, declgraph.KindField, templates, collect(opts))
}

// IntroduceProperty adds a property to a type. Each accessor of the
// template property becomes an accessor of the new property.
func (b *Builder) IntroduceProperty(targetType *declgraph.Declaration, tmpl string, opts ...Option) (*IntroduceMember, error) {
	return b.introduceWithAccessors("IntroduceProperty", targetType, tmpl, declgraph.KindProperty, opts)
}

// IntroduceEvent adds an event to a type.
func (b *Builder) IntroduceEvent(targetType *declgraph.Declaration, tmpl string, opts ...Option) (*IntroduceMember, error) {
	return b.introduceWithAccessors("IntroduceEvent", targetType, tmpl, declgraph.KindEvent, opts)
}

func (b *Builder) introduceWithAccessors(factory string, targetType *declgraph.Declaration, tmpl string, kind declgraph.Kind, opts []Option) (*IntroduceMember, error) {
	if targetType == nil {
		return nil, ErrNilTarget
	}
	tm, err := b.resolve(tmpl)
	if err != nil {
		return nil, err
	}
	templates := make(map[template.TargetKind]TemplateRef)
	for _, acc := range accessorsOf(tm.Declaration, kind) {
		if k, ok := template.TargetKindForAccessor(acc); ok {
			templates[k] = TemplateRef{Member: tm}
		}
	}
	return b.introduce(factory, targetType, tm, kind, templates, collect(opts))
}

func (b *Builder) introduce(
	factory string,
	targetType *declgraph.Declaration,
	tm *aspect.TemplateMember,
	kind declgraph.Kind,
	templates map[template.TargetKind]TemplateRef,
	o options,
) (*IntroduceMember, error) {
	src := tm.Declaration
	var ds []diag.Diagnostic

	name := src.Name
	if o.name != "" {
		name = o.name
	}
	if targetType.Kind != declgraph.KindType || targetType.IsInterface() {
		ds = append(ds, diag.InvalidIntroductionTarget.New(b.inst.Location(),
			b.inst.Class.Name(), name, targetType.Kind, targetType.ID))
	}
	ds = append(ds, b.requireKind(tm, factory, kind)...)

	spec := MemberSpec{
		Name:          name,
		Kind:          kind,
		Accessibility: src.Accessibility,
		IsStatic:      src.IsStatic,
		IsVirtual:     src.IsVirtual,
		IsSealed:      src.IsSealed,
		Signature:     src.Signature,
		ValueType:     src.ValueType,
		Attributes:    forwardable(src.Attributes),
		Accessors:     accessorsOf(src, kind),
	}
	if o.access != nil {
		spec.Accessibility = *o.access
	}
	switch o.scope {
	case ScopeStatic:
		spec.IsStatic = true
	case ScopeInstance:
		spec.IsStatic = false
	default:
		spec.IsStatic = spec.IsStatic || targetType.IsStatic
	}

	draft := newDraft(spec)
	if o.build != nil {
		o.build(draft)
	}
	spec = draft.freeze()
	if spec.Name == "" {
		spec.Name = name
	}

	if targetType.IsStatic && !spec.IsStatic {
		ds = append(ds, diag.CannotIntroduceInstanceMemberIntoStaticType.New(b.inst.Location(),
			b.inst.Class.Name(), spec.Name, targetType.ID))
	}
	layer, lds := b.layer(o)
	ds = append(ds, lds...)
	if len(ds) > 0 {
		return nil, b.fail(ds)
	}

	adv := &IntroduceMember{
		common:     b.common(targetType, layer, o),
		Member:     spec,
		WhenExists: o.whenExists,
		Templates:  templates,
	}
	b.advices = append(b.advices, adv)
	return adv, nil
}

// ImplementInterface makes a type implement an interface. Every member of
// the interface must be matched by an InterfaceMember template of the
// aspect or by an existing member of the type.
func (b *Builder) ImplementInterface(targetType *declgraph.Declaration, interfaceID string, opts ...Option) (*ImplementInterface, error) {
	o := collect(opts)
	if targetType == nil {
		return nil, ErrNilTarget
	}

	var ds []diag.Diagnostic
	if targetType.Kind != declgraph.KindType || targetType.IsInterface() {
		ds = append(ds, diag.InvalidIntroductionTarget.New(b.inst.Location(),
			b.inst.Class.Name(), interfaceID, targetType.Kind, targetType.ID))
	}
	if iface, ok := b.view.Declaration(interfaceID); !ok || !iface.IsInterface() {
		ds = append(ds, diag.InvalidAdviceTarget.New(b.inst.Location(), "ImplementInterface", "non-interface", interfaceID))
	}
	layer, lds := b.layer(o)
	ds = append(ds, lds...)
	if len(ds) > 0 {
		return nil, b.fail(ds)
	}

	spec := InterfaceSpec{InterfaceID: interfaceID, WhenExists: o.whenExists, Tags: o.tags}
	key := targetType.ID + "\x00" + layer.Name
	if adv, ok := b.interfaces[key]; ok {
		adv.Interfaces = append(adv.Interfaces, spec)
		adv.common.ForceNotInlineable = adv.common.ForceNotInlineable || o.forceNotInlineable
		return adv, nil
	}
	adv := &ImplementInterface{
		common:     b.common(targetType, layer, o),
		Interfaces: []InterfaceSpec{spec},
	}
	b.interfaces[key] = adv
	b.advices = append(b.advices, adv)
	return adv, nil
}

// =============================================================================
// Helpers
// =============================================================================

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (b *Builder) common(target *declgraph.Declaration, layer aspect.Layer, o options) Common {
	return Common{
		Instance:           b.inst,
		Layer:              layer,
		Target:             target,
		Order:              len(b.advices),
		Tags:               maps.Clone(o.tags),
		ForceNotInlineable: o.forceNotInlineable,
		Location:           b.inst.Location(),
	}
}

func (b *Builder) fail(ds []diag.Diagnostic) error {
	b.diags = append(b.diags, ds...)
	return template.NewInvalidUserCodeError(ds...)
}

func (b *Builder) layer(o options) (aspect.Layer, []diag.Diagnostic) {
	if !o.layerSet {
		return b.inst.Class.DefaultLayer(), nil
	}
	l, ok := b.inst.Class.Layer(o.layer)
	if !ok {
		return aspect.Layer{}, []diag.Diagnostic{
			diag.UnknownLayer.New(b.inst.Location(), b.inst.Class.Name(), o.layer),
		}
	}
	return l, nil
}

func (b *Builder) resolve(name string) (*aspect.TemplateMember, error) {
	tm, err := b.inst.Class.Template(name)
	if err == nil {
		return tm, nil
	}
	reason := "no template member has this name"
	if errors.Is(err, aspect.ErrTemplateAmbiguous) {
		reason = "more than one template member has this name"
	}
	d := diag.AspectMustHaveExactlyOneTemplateMember.New(b.inst.Location(), b.inst.Class.Name(), name, reason)
	b.diags = append(b.diags, d)
	return nil, &TemplateResolutionError{Template: name, Diagnostic: d, Err: err}
}

func (b *Builder) missingDefault() error {
	d := diag.AspectMustHaveExactlyOneTemplateMember.New(b.inst.Location(), b.inst.Class.Name(), "", "a default template is required")
	b.diags = append(b.diags, d)
	return &TemplateResolutionError{Diagnostic: d, Err: aspect.ErrTemplateNotFound}
}

// resolveSet resolves every supplied name, then selects by shape.
func (b *Builder) resolveSet(set TemplateSet, shape declgraph.MethodShape) (TemplateRef, error) {
	if set.Default == "" {
		return TemplateRef{}, b.missingDefault()
	}
	resolved := make(map[string]*aspect.TemplateMember)
	for _, name := range []string{set.Default, set.Async, set.Iterator, set.AsyncIterator} {
		if name == "" || resolved[name] != nil {
			continue
		}
		tm, err := b.resolve(name)
		if err != nil {
			return TemplateRef{}, err
		}
		resolved[name] = tm
	}
	name, kind, _ := SelectTemplate(shape, set)
	return TemplateRef{Member: resolved[name], Kind: kind}, nil
}

func (b *Builder) resolveAccessors(names map[template.TargetKind]string) (map[template.TargetKind]TemplateRef, error) {
	kinds := slices.Collect(maps.Keys(names))
	slices.Sort(kinds)
	out := make(map[template.TargetKind]TemplateRef)
	for _, k := range kinds {
		if names[k] == "" {
			continue
		}
		tm, err := b.resolve(names[k])
		if err != nil {
			return nil, err
		}
		out[k] = TemplateRef{Member: tm}
	}
	if len(out) == 0 {
		return nil, b.missingDefault()
	}
	return out, nil
}

func (b *Builder) requireKind(tm *aspect.TemplateMember, factory string, kind declgraph.Kind) []diag.Diagnostic {
	if tm.Declaration.Kind == kind {
		return nil
	}
	return []diag.Diagnostic{diag.TemplateKindMismatch.New(b.inst.Location(),
		tm.Name, b.inst.Class.Name(), tm.Declaration.Kind, factory, kind)}
}

func (b *Builder) invalidTarget(factory string, target *declgraph.Declaration) diag.Diagnostic {
	return diag.InvalidAdviceTarget.New(b.inst.Location(), factory, target.Kind, target.ID)
}

func (b *Builder) inInterface(member *declgraph.Declaration) bool {
	t, ok := declgraph.DeclaringType(b.view, member)
	return ok && t.IsInterface()
}

// forwardable drops the weaver's marker attributes.
func forwardable(attrs []declgraph.Attribute) []declgraph.Attribute {
	var out []declgraph.Attribute
	for _, a := range attrs {
		if !aspect.IsMarkerAttribute(a.Type) {
			out = append(out, a)
		}
	}
	return out
}

// propertyAccessors returns the accessors a field or property exposes. A
// field, or a property with no explicit accessors, has get and set.
func propertyAccessors(d *declgraph.Declaration) []string {
	if d.Kind == declgraph.KindField || len(d.Accessors) == 0 {
		return []string{declgraph.AccessorGet, declgraph.AccessorSet}
	}
	return sortedAccessors(d.Accessors)
}

// accessorsOf returns the accessors a new member of kind gets from its
// template, with conventional defaults when the template lists none.
func accessorsOf(tmpl *declgraph.Declaration, kind declgraph.Kind) []string {
	switch kind {
	case declgraph.KindProperty:
		if len(tmpl.Accessors) == 0 {
			return []string{declgraph.AccessorGet, declgraph.AccessorSet}
		}
	case declgraph.KindEvent:
		if len(tmpl.Accessors) == 0 {
			return []string{declgraph.AccessorAdd, declgraph.AccessorRemove}
		}
	default:
		return nil
	}
	return sortedAccessors(tmpl.Accessors)
}

func sortedAccessors(m map[string]string) []string {
	out := slices.Collect(maps.Keys(m))
	sort.Strings(out)
	return out
}
