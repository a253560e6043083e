// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package declarative

import (
	"fmt"
	"path"

	"github.com/AleutianAI/AleutianWeave/services/weave/advice"
	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
)

// Aspect is a YAML-described aspect. It implements advice.Aspect,
// aspect.Layered and aspect.EligibilityProvider.
//
// Thread Safety: Immutable; safe for concurrent evaluation.
type Aspect struct {
	class       string
	layers      []string
	eligibility aspect.Eligibility
	rules       []rule
}

type rule struct {
	doc        RuleDocument
	whenExists advice.ConflictMode
	access     *declgraph.Accessibility
	members    *selector
}

type selector struct {
	kind      *declgraph.Kind
	name      string
	access    *declgraph.Accessibility
	attribute string
}

func (s *selector) matches(d *declgraph.Declaration) bool {
	if s.kind != nil && d.Kind != *s.kind {
		return false
	}
	if s.access != nil && d.Accessibility != *s.access {
		return false
	}
	if s.name != "" {
		if ok, _ := path.Match(s.name, d.Name); !ok {
			return false
		}
	}
	if s.attribute != "" && len(d.AttributesOf(s.attribute)) == 0 {
		return false
	}
	return true
}

// Class returns the aspect class name.
func (a *Aspect) Class() string { return a.class }

// Layers returns the named layers after the default layer.
func (a *Aspect) Layers() []string { return a.layers }

// Eligibility returns the declaration kinds the aspect applies to.
func (a *Aspect) Eligibility() aspect.Eligibility { return a.eligibility }

// BuildAspect applies every rule to the instance target in order.
//
// Description:
//
//	The first factory error stops the evaluation and is returned; the
//	builder already holds its diagnostics. A rule whose members selector
//	matches nothing produces no advice.
func (a *Aspect) BuildAspect(b *advice.Builder) error {
	for i := range a.rules {
		if err := b.Context().Err(); err != nil {
			return err
		}
		if err := a.apply(b, &a.rules[i]); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aspect) apply(b *advice.Builder, r *rule) error {
	switch r.doc.Action {
	case ActionIntroduceMethod, ActionIntroduceField, ActionIntroduceProperty, ActionIntroduceEvent, ActionImplement:
		owner, err := typeOf(b.View(), b.Target())
		if err != nil {
			return err
		}
		return a.applyToType(b, r, owner)
	}

	targets, err := a.targets(b, r)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if err := a.applyToMember(b, r, t); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aspect) targets(b *advice.Builder, r *rule) ([]*declgraph.Declaration, error) {
	if r.members == nil {
		return []*declgraph.Declaration{b.Target()}, nil
	}
	owner, err := typeOf(b.View(), b.Target())
	if err != nil {
		return nil, err
	}
	var out []*declgraph.Declaration
	for _, m := range b.View().Members(owner.ID) {
		if r.members.matches(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (a *Aspect) applyToMember(b *advice.Builder, r *rule, t *declgraph.Declaration) error {
	opts := r.options()
	var err error
	switch r.doc.Action {
	case ActionRequire:
		b.RequireAspect(r.doc.Aspect, t, r.doc.Config)
	case ActionOverrideAccessors:
		if t.Kind == declgraph.KindEvent {
			_, err = b.OverrideEventAccessors(t, r.doc.Adder, r.doc.Remover, r.doc.Raiser, opts...)
		} else {
			_, err = b.OverrideFieldOrPropertyAccessors(t, r.doc.Getter, r.doc.Setter, opts...)
		}
	default:
		switch {
		case t.Kind.IsFieldOrProperty():
			_, err = b.OverrideFieldOrProperty(t, r.doc.Template, opts...)
		case t.Kind == declgraph.KindEvent:
			_, err = b.OverrideEventAccessors(t, r.doc.Template, r.doc.Template, r.doc.Template, opts...)
		default:
			_, err = b.OverrideMethod(t, r.templateSet(), opts...)
		}
	}
	return err
}

func (a *Aspect) applyToType(b *advice.Builder, r *rule, owner *declgraph.Declaration) error {
	opts := r.options()
	var err error
	switch r.doc.Action {
	case ActionIntroduceMethod:
		_, err = b.IntroduceMethod(owner, r.templateSet(), opts...)
	case ActionIntroduceField:
		_, err = b.IntroduceField(owner, r.doc.Template, opts...)
	case ActionIntroduceProperty:
		_, err = b.IntroduceProperty(owner, r.doc.Template, opts...)
	case ActionIntroduceEvent:
		_, err = b.IntroduceEvent(owner, r.doc.Template, opts...)
	case ActionImplement:
		_, err = b.ImplementInterface(owner, r.doc.Interface, opts...)
	}
	return err
}

func (r *rule) templateSet() advice.TemplateSet {
	return advice.TemplateSet{
		Default:       r.doc.Template,
		Async:         r.doc.Async,
		Iterator:      r.doc.Iterator,
		AsyncIterator: r.doc.AsyncIterator,
	}
}

func (r *rule) options() []advice.Option {
	var opts []advice.Option
	if r.doc.Layer != "" {
		opts = append(opts, advice.InLayer(r.doc.Layer))
	}
	if r.doc.Name != "" {
		opts = append(opts, advice.WithName(r.doc.Name))
	}
	if r.access != nil {
		opts = append(opts, advice.WithAccessibility(*r.access))
	}
	if r.whenExists != advice.ConflictDefault {
		opts = append(opts, advice.WhenExists(r.whenExists))
	}
	if len(r.doc.Tags) > 0 {
		opts = append(opts, advice.WithTags(r.doc.Tags))
	}
	if r.doc.NotInlineable {
		opts = append(opts, advice.ForceNotInlineable())
	}
	return opts
}

// typeOf returns d when it is a type, otherwise its containing type.
func typeOf(view declgraph.View, d *declgraph.Declaration) (*declgraph.Declaration, error) {
	if d.Kind == declgraph.KindType {
		return d, nil
	}
	owner, ok := view.Declaration(d.ContainingID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoContainingType, d.ID)
	}
	return owner, nil
}
