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
	"errors"
	"log/slog"
	"slices"

	"github.com/AleutianAI/AleutianWeave/services/weave/advice"
	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/fault"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

// Engine applies advice to snapshots.
//
// Thread Safety:
//
//	Safe for concurrent use. The engine holds no per-run state.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an engine. A nil logger uses slog.Default().
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// StageOutput is the result of applying one stage's advice.
type StageOutput struct {
	// Transformations are the accepted edits, in application order.
	Transformations []Transformation

	Diagnostics []diag.Diagnostic

	// Discarded counts instances whose advice were dropped because one of
	// them produced an error.
	Discarded int

	// Failed lists the discarded instances, in processing order.
	Failed []*aspect.Instance
}

// Apply resolves advice against a snapshot.
//
// Description:
//
//	Advice are grouped by the instance that produced them and processed
//	in creation order. Each advice sees the effects of the ones before
//	it. If any advice of an instance is rejected, every transformation of
//	that instance is discarded and the snapshot continues from the state
//	before the instance. Template panics are reported as CR0302.
//
// Inputs:
//
//	ctx - Checked before each instance group.
//	snap - The snapshot the stage starts from. Not modified.
//	stage - The stage name, used for the intermediate snapshots.
//	advices - The stage's advice.
//
// Outputs:
//
//	StageOutput - Accepted transformations and diagnostics. Provenance
//	              Stage is snap.Generation()+1.
//	error - Non-nil only when ctx is done.
func (e *Engine) Apply(ctx context.Context, snap *Snapshot, stage string, advices []advice.Advice) (StageOutput, error) {
	var out StageOutput
	current := snap
	gen := snap.Generation() + 1

	for _, group := range groupByInstance(advices) {
		if err := ctx.Err(); err != nil {
			return StageOutput{}, err
		}

		working := current
		var accepted []Transformation
		failed := false
		for _, adv := range group {
			ts, ds, err := e.applyOne(ctx, working, adv)
			if err != nil {
				return StageOutput{}, err
			}
			out.Diagnostics = append(out.Diagnostics, ds...)
			if diag.HasErrors(ds) {
				failed = true
				break
			}
			for _, t := range ts {
				setProvenance(t, Provenance{
					Advice: adv,
					Aspect: adv.Common().Instance.Class.Name(),
					Layer:  adv.Common().Layer.ID(),
					Stage:  gen,
					Order:  len(out.Transformations) + len(accepted),
				})
				accepted = append(accepted, t)
			}
			if len(ts) > 0 {
				working = working.Fold(stage, ts)
			}
		}

		if failed {
			out.Discarded++
			out.Failed = append(out.Failed, group[0].Common().Instance)
			e.logger.Debug("instance advice discarded",
				slog.String("stage", stage),
				slog.String("instance", group[0].Common().Instance.String()),
			)
			continue
		}
		current = working
		out.Transformations = append(out.Transformations, accepted...)
	}
	return out, nil
}

func groupByInstance(advices []advice.Advice) [][]advice.Advice {
	index := make(map[*aspect.Instance]int)
	var groups [][]advice.Advice
	for _, a := range advices {
		inst := a.Common().Instance
		i, ok := index[inst]
		if !ok {
			i = len(groups)
			index[inst] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], a)
	}
	return groups
}

func setProvenance(t Transformation, p Provenance) {
	switch tt := t.(type) {
	case *IntroducedMember:
		tt.prov = p
	case *OverriddenMember:
		tt.prov = p
	case *IntroducedInterface:
		tt.prov = p
	}
}

// Stamp sets the provenance of transformations produced outside the
// engine, such as by a collaborator. Order follows slice position.
func Stamp(ts []Transformation, aspectName string, layer template.LayerID, stage int) {
	for i, t := range ts {
		setProvenance(t, Provenance{Aspect: aspectName, Layer: layer, Stage: stage, Order: i})
	}
}

func (e *Engine) applyOne(ctx context.Context, view *Snapshot, adv advice.Advice) ([]Transformation, []diag.Diagnostic, error) {
	switch a := adv.(type) {
	case *advice.OverrideMember:
		return e.applyOverride(ctx, view, a)
	case *advice.IntroduceMember:
		return e.applyIntroduce(ctx, view, a)
	case *advice.ImplementInterface:
		return e.applyInterfaces(ctx, view, a)
	default:
		panic("transform: unknown advice kind")
	}
}

func (e *Engine) applyOverride(ctx context.Context, view *Snapshot, a *advice.OverrideMember) ([]Transformation, []diag.Diagnostic, error) {
	c := a.Common()
	target, ok := view.Declaration(c.Target.ID)
	if !ok {
		return nil, []diag.Diagnostic{diag.InvalidAdviceTarget.New(c.Location, "OverrideMember", "missing declaration", c.Target.ID)}, nil
	}
	return e.overrideBodies(ctx, c, target, a.Templates, a.PromoteField)
}

func (e *Engine) overrideBodies(
	ctx context.Context,
	c *advice.Common,
	target *declgraph.Declaration,
	templates map[template.TargetKind]advice.TemplateRef,
	promote bool,
) ([]Transformation, []diag.Diagnostic, error) {
	var (
		ts    []Transformation
		diags []diag.Diagnostic
	)
	for _, kind := range sortedTargetKinds(templates) {
		ref := templates[kind]
		body, ds, err := e.expand(ctx, c, ref, target, target.ID, kind)
		if err != nil {
			return nil, nil, err
		}
		diags = append(diags, ds...)
		if diag.HasErrors(ds) {
			continue
		}
		ts = append(ts, &OverriddenMember{
			TargetID:      target.ID,
			Accessor:      kind,
			TemplateID:    ref.Member.Declaration.ID,
			TemplateKind:  ref.Kind,
			Body:          body,
			PromotesField: promote,
		})
	}
	if diag.HasErrors(diags) {
		return nil, diags, nil
	}
	return ts, diags, nil
}

func (e *Engine) applyIntroduce(ctx context.Context, view *Snapshot, a *advice.IntroduceMember) ([]Transformation, []diag.Diagnostic, error) {
	c := a.Common()
	typeID := c.Target.ID
	dec := ResolveIntroduction(view, IntroductionRequest{
		Aspect:   c.Instance.Class.Name(),
		TypeID:   typeID,
		Member:   a.Member,
		Mode:     a.WhenExists,
		Location: c.Location,
	})

	var intro Introduction
	switch dec.Resolution {
	case ResolveReject:
		return nil, []diag.Diagnostic{*dec.Diagnostic}, nil
	case ResolveIgnore:
		e.logger.Debug("introduction ignored",
			slog.String("aspect", c.Instance.Class.Name()),
			slog.String("member", a.Member.Name),
			slog.String("existing", dec.Existing.ID),
		)
		return nil, nil, nil
	case ResolveOverrideInPlace:
		return e.overrideBodies(ctx, c, dec.Existing, a.Templates, false)
	case ResolveIntroduceNew:
		intro = IntroduceAsNew
	case ResolveIntroduceOverride:
		intro = IntroduceAsOverride
	default:
		intro = IntroducePlain
	}

	decl := a.Member.Declaration(typeID)
	if typ, ok := view.Declaration(typeID); ok {
		decl.File = typ.File
	}
	if intro == IntroduceAsOverride {
		decl.IsOverride = true
		decl.IsVirtual = false
	}

	bodies := make(map[template.TargetKind]template.Body)
	var diags []diag.Diagnostic
	for _, kind := range sortedTargetKinds(a.Templates) {
		body, ds, err := e.expand(ctx, c, a.Templates[kind], decl, decl.ID, kind)
		if err != nil {
			return nil, nil, err
		}
		diags = append(diags, ds...)
		bodies[kind] = body
		if kind == template.TargetDefault {
			decl.Body = body.String()
		} else if name := kind.AccessorName(); name != "" {
			if decl.Accessors == nil {
				decl.Accessors = make(map[string]string)
			}
			decl.Accessors[name] = body.String()
		}
	}
	if diag.HasErrors(diags) {
		return nil, diags, nil
	}
	return []Transformation{&IntroducedMember{
		Declaration:  decl,
		Introduction: intro,
		Replaces:     dec.Existing,
		Bodies:       bodies,
	}}, diags, nil
}

func (e *Engine) applyInterfaces(ctx context.Context, view *Snapshot, a *advice.ImplementInterface) ([]Transformation, []diag.Diagnostic, error) {
	c := a.Common()
	class := c.Instance.Class
	typeID := c.Target.ID

	var (
		ts    []Transformation
		diags []diag.Diagnostic
	)
	working := view
	for _, spec := range a.Interfaces {
		mode := spec.WhenExists.Resolve()
		if declgraph.Implements(working, typeID, spec.InterfaceID) {
			switch mode {
			case advice.ConflictIgnore:
				continue
			case advice.ConflictFail:
				diags = append(diags, diag.InterfaceIsAlreadyImplemented.New(c.Location, class.Name(), spec.InterfaceID, typeID))
				continue
			}
		}

		memberMap := make(map[string]string)
		var step []Transformation
		for _, im := range working.Members(spec.InterfaceID) {
			tm := interfaceTemplate(class, im)
			existing, hasExisting := declgraph.FindOwnMember(working, typeID, im)
			if !hasExisting {
				existing, hasExisting = declgraph.FindInheritedMember(working, typeID, im)
			}

			switch {
			case tm != nil && hasExisting && mode == advice.ConflictOverride && existing.ContainingID == typeID:
				ov, ds, err := e.overrideBodies(ctx, c, existing, interfaceTemplates(tm, im), false)
				if err != nil {
					return nil, nil, err
				}
				diags = append(diags, ds...)
				step = append(step, ov...)
				memberMap[im.ID] = existing.ID
			case hasExisting:
				memberMap[im.ID] = existing.ID
			case tm != nil:
				t, ds, err := e.introduceInterfaceMember(ctx, c, working, typeID, im, tm)
				if err != nil {
					return nil, nil, err
				}
				diags = append(diags, ds...)
				if t != nil {
					step = append(step, t)
					memberMap[im.ID] = t.Declaration.ID
				}
			default:
				diags = append(diags, diag.MissingInterfaceMemberTemplate.New(c.Location, class.Name(), spec.InterfaceID, typeID, im.ID))
			}
		}
		step = append(step, &IntroducedInterface{TypeID: typeID, InterfaceID: spec.InterfaceID, MemberMap: memberMap})
		if diag.HasErrors(diags) {
			continue
		}
		ts = append(ts, step...)
		working = working.Fold("", step)
	}
	if diag.HasErrors(diags) {
		return nil, diags, nil
	}
	return ts, diags, nil
}

func (e *Engine) introduceInterfaceMember(
	ctx context.Context,
	c *advice.Common,
	view *Snapshot,
	typeID string,
	im *declgraph.Declaration,
	tm *aspect.TemplateMember,
) (*IntroducedMember, []diag.Diagnostic, error) {
	spec := advice.MemberSpec{
		Name:          im.Name,
		Kind:          im.Kind,
		Accessibility: declgraph.AccessPublic,
		Signature:     im.Signature,
		ValueType:     im.ValueType,
	}
	refs := interfaceTemplates(tm, im)
	kinds := sortedTargetKinds(refs)
	for _, acc := range kinds {
		if name := acc.AccessorName(); name != "" {
			spec.Accessors = append(spec.Accessors, name)
		}
	}
	decl := spec.Declaration(typeID)
	if typ, ok := view.Declaration(typeID); ok {
		decl.File = typ.File
	}

	bodies := make(map[template.TargetKind]template.Body)
	var diags []diag.Diagnostic
	for _, kind := range kinds {
		body, ds, err := e.expand(ctx, c, refs[kind], decl, decl.ID, kind)
		if err != nil {
			return nil, nil, err
		}
		diags = append(diags, ds...)
		bodies[kind] = body
		if kind == template.TargetDefault {
			decl.Body = body.String()
		} else {
			decl.Accessors[kind.AccessorName()] = body.String()
		}
	}
	if diag.HasErrors(diags) {
		return nil, diags, nil
	}
	return &IntroducedMember{Declaration: decl, Bodies: bodies}, diags, nil
}

// interfaceTemplate finds the InterfaceMember template matching an
// interface member by name, kind and parameters.
func interfaceTemplate(class *aspect.Class, im *declgraph.Declaration) *aspect.TemplateMember {
	for _, tm := range class.TemplatesWithRole(aspect.RoleInterfaceMember) {
		if tm.Declaration.Kind == im.Kind && tm.Declaration.SameSignature(im) {
			return tm
		}
	}
	return nil
}

func interfaceTemplates(tm *aspect.TemplateMember, im *declgraph.Declaration) map[template.TargetKind]advice.TemplateRef {
	out := make(map[template.TargetKind]advice.TemplateRef)
	switch im.Kind {
	case declgraph.KindProperty, declgraph.KindEvent:
		accs := im.Accessors
		if len(accs) == 0 {
			accs = tm.Declaration.Accessors
		}
		for name := range accs {
			if k, ok := template.TargetKindForAccessor(name); ok && k != template.TargetDefault {
				out[k] = advice.TemplateRef{Member: tm}
			}
		}
		if len(out) == 0 && im.Kind == declgraph.KindProperty {
			out[template.TargetGetter] = advice.TemplateRef{Member: tm}
		}
	default:
		out[template.TargetDefault] = advice.TemplateRef{Member: tm}
	}
	return out
}

// expand runs a template driver inside the fault boundary.
func (e *Engine) expand(
	ctx context.Context,
	c *advice.Common,
	ref advice.TemplateRef,
	target *declgraph.Declaration,
	memberID string,
	kind template.TargetKind,
) (template.Body, []diag.Diagnostic, error) {
	class := c.Instance.Class
	tmplID := ref.Member.Declaration.ID

	driver, err := class.Drivers().Driver(ctx, ref.Member)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		if ds, ok := template.UserDiagnostics(err); ok {
			return nil, ds, nil
		}
		return nil, []diag.Diagnostic{diag.TemplateExpansionFailed.New(c.Location, tmplID, class.Name(), target.ID, err)}, nil
	}

	var body template.Body
	err = fault.Capture(func() error {
		var expandErr error
		body, expandErr = driver.Expand(ctx, template.Invocation{
			Template: ref.Member.Declaration,
			Target:   target,
			MemberID: memberID,
			Layer:    c.Layer.ID(),
			Accessor: kind,
			Tags:     c.Tags,
			Config:   c.Instance.Config,
		})
		return expandErr
	})
	if err == nil {
		return body, nil, nil
	}
	if pe, ok := fault.AsPanic(err); ok {
		return nil, []diag.Diagnostic{diag.AspectCrashed.New(c.Location, class.Name(), target.ID, pe.Kind(), pe.Value, pe.Stack)}, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, nil, err
	}
	if ds, ok := template.UserDiagnostics(err); ok {
		return nil, ds, nil
	}
	return nil, []diag.Diagnostic{diag.TemplateExpansionFailed.New(c.Location, tmplID, class.Name(), target.ID, err)}, nil
}

func sortedTargetKinds(m map[template.TargetKind]advice.TemplateRef) []template.TargetKind {
	kinds := make([]template.TargetKind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
