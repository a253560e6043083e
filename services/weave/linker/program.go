// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package linker

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
	"github.com/AleutianAI/AleutianWeave/services/weave/transform"
)

// Origin says where a version came from.
type Origin int

const (
	// OriginSource is the member as declared in the input program.
	OriginSource Origin = iota

	// OriginIntroduction is the body an aspect introduced the member with.
	OriginIntroduction

	// OriginOverride is one override layered on top of the earlier versions.
	OriginOverride
)

// String returns the origin name.
func (o Origin) String() string {
	switch o {
	case OriginSource:
		return "source"
	case OriginIntroduction:
		return "introduction"
	case OriginOverride:
		return "override"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// CallKind classifies what a resolved reference points at.
type CallKind int

const (
	// CallVersion targets a version of a linked member.
	CallVersion CallKind = iota

	// CallBaseMember targets the inherited member an introduction hides
	// or overrides.
	CallBaseMember

	// CallMember targets a member the linker did not version.
	CallMember
)

// Call is one resolved reference.
type Call struct {
	Kind CallKind `json:"kind"`

	// MemberID and Accessor identify the called member.
	MemberID string              `json:"member_id"`
	Accessor template.TargetKind `json:"accessor"`

	// Version is the called version index for CallVersion, else -1.
	Version int `json:"version"`

	Name string `json:"name"`
	Args string `json:"args,omitempty"`
}

// Version is one link in a member's version chain.
type Version struct {
	Index  int              `json:"index"`
	Name   string           `json:"name"`
	Origin Origin           `json:"origin"`
	Layer  template.LayerID `json:"layer"`

	// Stage is the snapshot generation that produced the version; 0 for
	// source versions.
	Stage int `json:"stage"`

	// Body is the unlinked body.
	Body template.Body `json:"-"`

	// Linked is the body with every reference resolved and, when
	// inlining is enabled, inlineable versions substituted.
	Linked string `json:"linked"`

	Calls []Call `json:"calls,omitempty"`

	EntryPoint         bool `json:"entry_point"`
	Inlined            bool `json:"inlined"`
	ForceNotInlineable bool `json:"force_not_inlineable,omitempty"`

	// site is where an inlined version lands in its single caller.
	site callSite
}

// Member is the version chain of one accessor of one member.
type Member struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Accessor template.TargetKind    `json:"accessor"`
	Decl     *declgraph.Declaration `json:"-"`

	// Introduction is set when an aspect introduced the member.
	Introduction *transform.IntroducedMember `json:"-"`

	Versions []*Version `json:"versions"`
}

// EntryPoint returns the version that keeps the member's name.
func (m *Member) EntryPoint() *Version {
	return m.Versions[len(m.Versions)-1]
}

// Emitted returns the versions that remain as separate members after
// inlining.
func (m *Member) Emitted() []*Version {
	var out []*Version
	for _, v := range m.Versions {
		if !v.Inlined {
			out = append(out, v)
		}
	}
	return out
}

type memberKey struct {
	id       string
	accessor template.TargetKind
}

// Program is the linked output of a run.
//
// Thread Safety:
//
//	Immutable after Link returns; safe for concurrent reads.
type Program struct {
	Snapshot *transform.Snapshot
	members  map[memberKey]*Member
	order    []memberKey
}

// Member returns the chain of one member accessor.
func (p *Program) Member(id string, accessor template.TargetKind) (*Member, bool) {
	m, ok := p.members[memberKey{id: id, accessor: accessor}]
	return m, ok
}

// Members returns every linked chain ordered by member ID, then accessor.
func (p *Program) Members() []*Member {
	out := make([]*Member, len(p.order))
	for i, k := range p.order {
		out[i] = p.members[k]
	}
	return out
}

// Len returns the number of linked chains.
func (p *Program) Len() int {
	return len(p.order)
}

// CallGraph returns the call chain starting at a member's entry point.
//
// Description:
//
//	Walks resolved calls depth first from the entry point. Versions
//	appear by their emitted name, base members as "base:<ID>", and
//	members without a chain by their ID. Each node appears once.
//
// Outputs:
//
//	[]string - The chain, entry point first. Nil when the member has
//	           no chain.
func (p *Program) CallGraph(id string, accessor template.TargetKind) []string {
	m, ok := p.Member(id, accessor)
	if !ok {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	var walk func(m *Member, v *Version)
	walk = func(m *Member, v *Version) {
		node := m.ID + "#" + v.Name
		if seen[node] {
			return
		}
		seen[node] = true
		out = append(out, v.Name)
		for _, c := range v.Calls {
			switch c.Kind {
			case CallVersion:
				if cm, ok := p.Member(c.MemberID, c.Accessor); ok {
					walk(cm, cm.Versions[c.Version])
				}
			case CallBaseMember:
				if n := "base:" + c.MemberID; !seen[n] {
					seen[n] = true
					out = append(out, n)
				}
			default:
				if !seen[c.MemberID] {
					seen[c.MemberID] = true
					out = append(out, c.MemberID)
				}
			}
		}
	}
	walk(m, m.EntryPoint())
	return out
}

func (p *Program) add(m *Member) {
	k := memberKey{id: m.ID, accessor: m.Accessor}
	if _, exists := p.members[k]; !exists {
		p.order = append(p.order, k)
	}
	p.members[k] = m
}

func (p *Program) sortMembers() {
	sort.Slice(p.order, func(i, j int) bool {
		if p.order[i].id != p.order[j].id {
			return p.order[i].id < p.order[j].id
		}
		return p.order[i].accessor < p.order[j].accessor
	})
}
