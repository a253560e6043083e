// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package linker merges the transformations stacked on each member into
// one chain of named versions and resolves the references between them.
//
// Version 0 of a chain is the declared body, or the introduced one. Each
// override adds a version. The last version is the entry point and keeps
// the member's name; the others are renamed "<Name>_Source" or
// "<Name>_<Aspect>[_<Layer>]".
package linker

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
	"github.com/AleutianAI/AleutianWeave/services/weave/transform"
)

// Options configures Link.
type Options struct {
	// Inline substitutes versions referenced exactly once into their
	// caller. Entry points and versions of advice marked
	// ForceNotInlineable are never inlined, and neither is a version
	// whose call site is an expression or passes other arguments than
	// the member's own parameters.
	Inline bool
}

type linker struct {
	snap     *transform.Snapshot
	opts     Options
	prog     *Program
	layerGen map[string]int
	diags    []diag.Diagnostic
}

// Link builds the version chains of every transformed member.
//
// Description:
//
//	Transformations are read in application order. References resolve
//	as follows, relative to the layer that authored them:
//	  - Base: the last version produced before the authoring layer. For
//	    version 0 of an introduction that hides or overrides an
//	    inherited member, the inherited member.
//	  - Self: the last version produced by the authoring layer or before.
//	  - Final: the entry point.
//	  - Original: version 0.
//	References to members without a chain call the member directly.
//	Unresolvable references are reported as CR0601 and rendered as-is.
//
// Inputs:
//
//	snap - The final snapshot. Nil yields an empty program.
//	opts - Link options.
//
// Outputs:
//
//	*Program - The linked program.
//	[]diag.Diagnostic - CR0601 diagnostics.
//
// Thread Safety: Safe for concurrent use with distinct snapshots.
func Link(snap *transform.Snapshot, opts Options) (*Program, []diag.Diagnostic) {
	l := &linker{
		snap:     snap,
		opts:     opts,
		prog:     &Program{Snapshot: snap, members: make(map[memberKey]*Member)},
		layerGen: make(map[string]int),
	}
	if snap == nil {
		return l.prog, nil
	}
	l.buildChains()
	l.prog.sortMembers()
	for _, m := range l.prog.Members() {
		l.nameVersions(m)
	}
	for _, m := range l.prog.Members() {
		for i, v := range m.Versions {
			l.resolve(m, i, v)
		}
	}
	if opts.Inline {
		l.markInlined()
	}
	for _, m := range l.prog.Members() {
		for _, v := range m.Versions {
			v.Linked = l.render(m, v, make(map[*Version]bool))
		}
	}
	return l.prog, l.diags
}

func (l *linker) buildChains() {
	for _, t := range l.snap.AllTransformations() {
		prov := t.Provenance()
		if _, ok := l.layerGen[prov.Layer.String()]; !ok {
			l.layerGen[prov.Layer.String()] = prov.Stage
		}
		force := prov.Advice != nil && prov.Advice.Common().ForceNotInlineable

		switch tt := t.(type) {
		case *transform.IntroducedMember:
			decl := tt.Declaration
			for _, acc := range introducedAccessors(tt) {
				body, ok := tt.Bodies[acc]
				if !ok {
					body = template.Literal(sourceBody(decl, acc))
				}
				l.prog.add(&Member{
					ID:           decl.ID,
					Name:         decl.Name,
					Accessor:     acc,
					Decl:         decl,
					Introduction: tt,
					Versions: []*Version{{
						Origin:             OriginIntroduction,
						Layer:              prov.Layer,
						Stage:              prov.Stage,
						Body:               body,
						ForceNotInlineable: force,
					}},
				})
			}
		case *transform.OverriddenMember:
			m := l.chain(tt.TargetID, tt.Accessor)
			if m == nil {
				continue
			}
			m.Versions = append(m.Versions, &Version{
				Index:              len(m.Versions),
				Origin:             OriginOverride,
				Layer:              prov.Layer,
				Stage:              prov.Stage,
				Body:               tt.Body,
				ForceNotInlineable: force,
			})
		case *transform.IntroducedInterface:
		default:
			panic(fmt.Sprintf("linker: unknown transformation %T", t))
		}
	}
}

// chain returns the chain of a member accessor, creating it from the
// declared body when the member is overridden for the first time.
func (l *linker) chain(id string, acc template.TargetKind) *Member {
	if m, ok := l.prog.Member(id, acc); ok {
		return m
	}
	decl, ok := l.snap.Root().Declaration(id)
	if !ok {
		decl, ok = l.snap.Declaration(id)
	}
	if !ok {
		return nil
	}
	m := &Member{
		ID:       id,
		Name:     decl.Name,
		Accessor: acc,
		Decl:     decl,
		Versions: []*Version{{
			Origin: OriginSource,
			Body:   template.Literal(sourceBody(decl, acc)),
		}},
	}
	l.prog.add(m)
	return m
}

func introducedAccessors(t *transform.IntroducedMember) []template.TargetKind {
	if len(t.Bodies) > 0 {
		out := make([]template.TargetKind, 0, len(t.Bodies))
		for k := template.TargetDefault; k <= template.TargetRaiser; k++ {
			if _, ok := t.Bodies[k]; ok {
				out = append(out, k)
			}
		}
		return out
	}
	var out []template.TargetKind
	for k := template.TargetGetter; k <= template.TargetRaiser; k++ {
		if _, ok := t.Declaration.Accessors[k.AccessorName()]; ok {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		out = append(out, template.TargetDefault)
	}
	return out
}

// sourceBody returns the declared body of one accessor. Fields have no
// accessor bodies, so their get and set read and write the storage.
func sourceBody(d *declgraph.Declaration, acc template.TargetKind) string {
	if acc == template.TargetDefault {
		return d.Body
	}
	if d.Kind == declgraph.KindField {
		switch acc {
		case template.TargetGetter:
			return "return " + d.Name + ";"
		case template.TargetSetter:
			return d.Name + " = value;"
		}
	}
	return d.Accessors[acc.AccessorName()]
}

func (l *linker) nameVersions(m *Member) {
	used := make(map[string]bool)
	last := len(m.Versions) - 1
	for i, v := range m.Versions {
		v.Index = i
		var name string
		switch {
		case i == last:
			name = m.Name
			v.EntryPoint = true
		case v.Origin == OriginSource:
			name = m.Name + "_Source"
		default:
			name = m.Name + "_" + sanitize(v.Layer.Aspect)
			if v.Layer.Layer != "" {
				name += "_" + sanitize(v.Layer.Layer)
			}
		}
		base := name
		for n := 2; used[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		used[name] = true
		v.Name = name
	}
}

func sanitize(s string) string {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return strings.Map(func(r rune) rune {
		if r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			return r
		}
		return '_'
	}, s)
}

// resolve fills v.Calls, one entry per reference of v.Body.
func (l *linker) resolve(m *Member, index int, v *Version) {
	for _, ref := range v.Body.References() {
		call, reason := l.resolveRef(m, index, ref)
		if reason != "" {
			l.diags = append(l.diags, diag.UnresolvedAspectReference.New(diag.At(m.Decl),
				ref.MemberID, ref.Spec.String(), v.Name, reason))
			call = Call{Kind: CallMember, MemberID: ref.MemberID, Accessor: ref.Spec.Target, Version: -1, Name: unresolvedName(ref), Args: ref.Args}
		}
		v.Calls = append(v.Calls, call)
	}
}

func unresolvedName(ref *template.Reference) string {
	return "unresolved<" + ref.Spec.String() + " " + ref.MemberID + ">"
}

func (l *linker) resolveRef(from *Member, index int, ref *template.Reference) (Call, string) {
	target, ok := l.prog.Member(ref.MemberID, ref.Spec.Target)
	if !ok {
		decl, found := l.snap.Declaration(ref.MemberID)
		if !found {
			return Call{}, "unknown member"
		}
		return Call{Kind: CallMember, MemberID: decl.ID, Accessor: ref.Spec.Target, Version: -1, Name: decl.Name, Args: ref.Args}, ""
	}

	same := target == from
	authorGen, known := l.layerGen[ref.Spec.Layer.String()]
	if same {
		authorGen, known = from.Versions[index].Stage, true
	}

	idx := -1
	switch ref.Spec.Order {
	case template.OrderOriginal:
		idx = 0
	case template.OrderFinal:
		idx = len(target.Versions) - 1
	case template.OrderSelf:
		if !known {
			return Call{}, "authoring layer produced no transformation"
		}
		idx = lastAtOrBefore(target, authorGen, false)
		if idx < 0 {
			return Call{}, "member does not exist at the authoring layer"
		}
	case template.OrderBase:
		switch {
		case same:
			idx = index - 1
		case !known:
			return Call{}, "authoring layer produced no transformation"
		default:
			idx = lastAtOrBefore(target, authorGen, true)
		}
		if idx < 0 {
			if intro := target.Introduction; intro != nil && intro.Replaces != nil {
				return Call{
					Kind:     CallBaseMember,
					MemberID: intro.Replaces.ID,
					Accessor: ref.Spec.Target,
					Version:  -1,
					Name:     intro.Replaces.Name,
					Args:     ref.Args,
				}, ""
			}
			return Call{}, "member has no base version"
		}
	default:
		return Call{}, "unknown order"
	}
	return Call{
		Kind:     CallVersion,
		MemberID: target.ID,
		Accessor: target.Accessor,
		Version:  idx,
		Name:     target.Versions[idx].Name,
		Args:     ref.Args,
	}, ""
}

// lastAtOrBefore returns the index of the last version produced at or
// before gen, or strictly before it when strict is set.
func lastAtOrBefore(m *Member, gen int, strict bool) int {
	idx := -1
	for i, v := range m.Versions {
		if v.Stage < gen || !strict && v.Stage == gen {
			idx = i
		}
	}
	return idx
}

// render produces the linked text of v. Inlined callees are substituted;
// active guards against reference cycles between inlined versions.
//
// A callee inlined at a return site replaces the whole return statement,
// so the caller's "return" keyword is dropped. The ';' that ended the
// call statement is taken over by the callee's own text.
func (l *linker) render(m *Member, v *Version, active map[*Version]bool) string {
	active[v] = true
	defer delete(active, v)

	var sb strings.Builder
	calls := v.Calls
	skipSemicolon := false
	for i, f := range v.Body {
		if f.Ref == nil {
			code := f.Code
			if skipSemicolon {
				code = strings.TrimLeftFunc(code, unicode.IsSpace)
				if code == "" {
					continue
				}
				code = strings.TrimPrefix(code, ";")
				skipSemicolon = false
			}
			if next := l.inlinedAt(v, i+1, active); next != nil && next.site.kind == siteReturn {
				code = strings.TrimSuffix(strings.TrimRightFunc(code, unicode.IsSpace), "return")
			}
			sb.WriteString(code)
			continue
		}
		c := calls[0]
		calls = calls[1:]
		if callee := l.inlinedAt(v, i, active); callee != nil {
			cm, _ := l.prog.Member(c.MemberID, c.Accessor)
			text := l.render(cm, callee, active)
			if callee.site.semicolon {
				skipSemicolon = true
				trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
				if trimmed == "" || !strings.ContainsAny(trimmed[len(trimmed)-1:], ";}") {
					text = trimmed + ";"
				}
			}
			sb.WriteString(text)
			continue
		}
		sb.WriteString(callText(c, l.kindOf(c)))
	}
	return sb.String()
}

// inlinedAt returns the version inlined at v.Body[i], or nil.
func (l *linker) inlinedAt(v *Version, i int, active map[*Version]bool) *Version {
	if i >= len(v.Body) || v.Body[i].Ref == nil {
		return nil
	}
	k := 0
	for _, f := range v.Body[:i] {
		if f.Ref != nil {
			k++
		}
	}
	c := v.Calls[k]
	if c.Kind != CallVersion {
		return nil
	}
	cm, _ := l.prog.Member(c.MemberID, c.Accessor)
	callee := cm.Versions[c.Version]
	if !callee.Inlined || active[callee] {
		return nil
	}
	return callee
}

func (l *linker) kindOf(c Call) declgraph.Kind {
	if d, ok := l.snap.Declaration(c.MemberID); ok {
		return d.Kind
	}
	return declgraph.KindMethod
}

// callText renders a call to a version, member or base member.
func callText(c Call, kind declgraph.Kind) string {
	name := c.Name
	if c.Kind == CallBaseMember {
		name = "base." + name
	}
	switch c.Accessor {
	case template.TargetGetter:
		return name
	case template.TargetSetter:
		return name + " = " + c.Args
	case template.TargetAdder:
		return name + " += " + c.Args
	case template.TargetRemover:
		return name + " -= " + c.Args
	case template.TargetRaiser:
		return name + "(" + c.Args + ")"
	}
	if kind == declgraph.KindMethod || kind == declgraph.KindConstructor {
		return name + "(" + c.Args + ")"
	}
	return name
}
