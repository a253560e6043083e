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
	"fmt"
	"slices"
	"sort"

	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

// Attribute types recognized on aspect declarations and their members.
const (
	// AttrAspect marks a type as an aspect class. Optional args:
	// "name" (display name), "inheritable" ("true"), "collaborator".
	AttrAspect = "Aspect"

	// AttrTemplate marks a member as a template usable by advice.
	AttrTemplate = "Template"

	// AttrIntroduce marks a member as a template for declarative introduction.
	AttrIntroduce = "Introduce"

	// AttrInterfaceMember marks a member as the template for an interface member.
	AttrInterfaceMember = "InterfaceMember"

	// AttrExcludeAspect suppresses aspects on a declaration and its members.
	// Optional arg "aspect" restricts the exclusion to one aspect class.
	AttrExcludeAspect = "ExcludeAspect"
)

// TemplateKind is the method shape a template is written for.
type TemplateKind int

const (
	TemplateDefault TemplateKind = iota
	TemplateAsync
	TemplateIterator
	TemplateAsyncIterator
)

// String returns the template kind name.
func (k TemplateKind) String() string {
	switch k {
	case TemplateDefault:
		return "default"
	case TemplateAsync:
		return "async"
	case TemplateIterator:
		return "iterator"
	case TemplateAsyncIterator:
		return "async-iterator"
	default:
		return fmt.Sprintf("templatekind(%d)", int(k))
	}
}

// TemplateRole says which marker attribute made a member a template.
type TemplateRole int

const (
	RoleTemplate TemplateRole = iota
	RoleIntroduce
	RoleInterfaceMember
)

var roleAttributes = []struct {
	attr string
	role TemplateRole
}{
	{AttrTemplate, RoleTemplate},
	{AttrIntroduce, RoleIntroduce},
	{AttrInterfaceMember, RoleInterfaceMember},
}

// IsMarkerAttribute reports whether an attribute type is consumed by the
// weaver rather than forwarded onto generated members.
func IsMarkerAttribute(attrType string) bool {
	switch attrType {
	case AttrAspect, AttrTemplate, AttrIntroduce, AttrInterfaceMember:
		return true
	}
	return false
}

// TemplateMember is one entry of an aspect class's template table.
type TemplateMember struct {
	// Name is the template name used by advice factory calls.
	Name string

	// Declaration is the member of the aspect declaration.
	Declaration *declgraph.Declaration

	// DeclaringClass is the name of the aspect class that declared it.
	DeclaringClass string

	Role TemplateRole
}

// Layer is one ordered sub-phase of an aspect class.
type Layer struct {
	Class *Class
	Name  string
}

// ID returns the comparable layer identity.
func (l Layer) ID() template.LayerID {
	return template.LayerID{Aspect: l.Class.Name(), Layer: l.Name}
}

// IsDefault reports whether this is the class's default layer.
func (l Layer) IsDefault() bool {
	return l.Name == ""
}

// Index returns the position of the layer within its class.
func (l Layer) Index() int {
	return slices.Index(l.Class.layers, l.Name)
}

// String renders "Aspect" or "Aspect:Layer".
func (l Layer) String() string {
	return l.ID().String()
}

// Class is the compile-time descriptor of one aspect kind.
//
// Description:
//
//	A Class is built by Registry.Register and is immutable afterwards.
//	It owns the template table (inherited from the base class, extended
//	or overridden by its own members), the ordered layer list with the
//	default layer first, the eligibility set and a DriverCache that
//	memoizes compiled template drivers for this class only.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Class struct {
	name         string
	displayName  string
	decl         *declgraph.Declaration
	base         *Class
	layers       []string
	templates    map[string]*TemplateMember
	ambiguous    map[string]bool
	eligibility  Eligibility
	inheritable  bool
	collaborator string
	impl         any
	drivers      *DriverCache
}

// Name returns the class name used to apply the aspect.
func (c *Class) Name() string { return c.name }

// DisplayName returns the human-readable class name.
func (c *Class) DisplayName() string { return c.displayName }

// Declaration returns the aspect type declaration.
func (c *Class) Declaration() *declgraph.Declaration { return c.decl }

// Base returns the base aspect class, or nil.
func (c *Class) Base() *Class { return c.base }

// Implementation returns the user-supplied aspect implementation.
func (c *Class) Implementation() any { return c.impl }

// Drivers returns the class's template driver cache.
func (c *Class) Drivers() *DriverCache { return c.drivers }

// Eligibility returns the declaration kinds the class applies to.
func (c *Class) Eligibility() Eligibility { return c.eligibility }

// Inheritable reports whether instances propagate to derived declarations.
func (c *Class) Inheritable() bool { return c.inheritable }

// Collaborator returns the name of the external code-generating
// collaborator that owns this class's layers, or "".
func (c *Class) Collaborator() string { return c.collaborator }

// Layers returns the ordered layers, default layer first.
func (c *Class) Layers() []Layer {
	out := make([]Layer, len(c.layers))
	for i, name := range c.layers {
		out[i] = Layer{Class: c, Name: name}
	}
	return out
}

// DefaultLayer returns the class's default layer.
func (c *Class) DefaultLayer() Layer {
	return Layer{Class: c}
}

// Layer returns the named layer.
func (c *Class) Layer(name string) (Layer, bool) {
	if !slices.Contains(c.layers, name) {
		return Layer{}, false
	}
	return Layer{Class: c, Name: name}, true
}

// TemplateNames returns the sorted names of all resolvable templates.
func (c *Class) TemplateNames() []string {
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		if !c.ambiguous[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Template resolves a template name.
//
// Outputs:
//
//	*TemplateMember - The template.
//	error - ErrTemplateNotFound or ErrTemplateAmbiguous.
func (c *Class) Template(name string) (*TemplateMember, error) {
	if c.ambiguous[name] {
		return nil, fmt.Errorf("%w: %s.%s", ErrTemplateAmbiguous, c.name, name)
	}
	tm, ok := c.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrTemplateNotFound, c.name, name)
	}
	return tm, nil
}

// TemplatesWithRole returns the templates of a role, sorted by name.
func (c *Class) TemplatesWithRole(role TemplateRole) []*TemplateMember {
	var out []*TemplateMember
	for _, name := range c.TemplateNames() {
		if tm := c.templates[name]; tm.Role == role {
			out = append(out, tm)
		}
	}
	return out
}

// IsEligible reports whether an instance of this class may target d.
func (c *Class) IsEligible(d *declgraph.Declaration) bool {
	if d == nil || !c.eligibility.Allows(d.Kind) {
		return false
	}
	return refine(c.impl, d)
}

// IsSubclassOf reports whether c is other or derives from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cur := c; cur != nil; cur = cur.base {
		if cur == other {
			return true
		}
	}
	return false
}

// String returns the class name.
func (c *Class) String() string {
	return c.name
}
