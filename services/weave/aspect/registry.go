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
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

// Layered is implemented by aspect implementations that split their work
// into named layers. The default layer always runs first and is not listed.
type Layered interface {
	Layers() []string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Registry builds and holds aspect classes.
//
// Description:
//
//	Each registered class gets its own DriverCache backed by the compiler
//	given to NewRegistry, so template drivers are never shared between
//	registries or classes.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	compiler template.Compiler
	logger   *slog.Logger
	classes  map[string]*Class
	byID     map[string]*Class
}

// NewRegistry creates an empty registry.
//
// Inputs:
//
//	compiler - Compiles template members into drivers. Must not be nil
//	           for any class whose templates are expanded.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Registry - The registry.
func NewRegistry(compiler template.Compiler, opts ...RegistryOption) *Registry {
	r := &Registry{
		compiler: compiler,
		logger:   slog.Default(),
		classes:  make(map[string]*Class),
		byID:     make(map[string]*Class),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register builds an aspect class from its declaration.
//
// Description:
//
//	The template table starts as a copy of the base class's table. Each
//	own member carrying a template marker either adds a name, replaces an
//	inherited template when it is an override, or collides. A collision
//	reports CR0101 and leaves the name ambiguous so any later lookup of it
//	fails. Named layers come from impl when it implements Layered,
//	otherwise from the base class.
//
// Inputs:
//
//	view - The program containing the aspect declaration and its members.
//	decl - The aspect type declaration.
//	impl - The user implementation. May be nil for an aspect with no
//	       eligible targets.
//
// Outputs:
//
//	*Class - The registered class. Nil when err is non-nil.
//	[]diag.Diagnostic - Registration diagnostics (CR0101, CR0102, CR0103).
//	error - ErrNilDeclaration, ErrNotAnAspect, ErrDuplicateClass or
//	        ErrUnknownBaseClass.
func (r *Registry) Register(view declgraph.View, decl *declgraph.Declaration, impl any) (*Class, []diag.Diagnostic, error) {
	if decl == nil {
		return nil, nil, ErrNilDeclaration
	}
	attr, ok := decl.Attribute(AttrAspect)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotAnAspect, decl.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.classes[decl.Name]; dup {
		return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateClass, decl.Name)
	}

	var diags []diag.Diagnostic
	loc := diag.At(decl)

	var base *Class
	if decl.BaseTypeID != "" {
		base = r.byID[decl.BaseTypeID]
		if base == nil {
			if bd, ok := view.Declaration(decl.BaseTypeID); ok && bd.HasAttribute(AttrAspect) {
				diags = append(diags, diag.UnknownBaseAspect.New(loc, decl.Name, decl.BaseTypeID))
				return nil, diags, fmt.Errorf("%w: %s derives from %s", ErrUnknownBaseClass, decl.Name, decl.BaseTypeID)
			}
		}
	}

	c := &Class{
		name:        decl.Name,
		displayName: decl.Name,
		decl:        decl,
		base:        base,
		templates:   make(map[string]*TemplateMember),
		ambiguous:   make(map[string]bool),
		eligibility: eligibilityOf(impl),
		impl:        impl,
		drivers:     NewDriverCache(r.compiler),
	}
	if name, ok := attr.Arg("name"); ok && name != "" {
		c.displayName = name
	}
	if v, ok := attr.Arg("inheritable"); ok {
		c.inheritable = v == "true"
	} else if base != nil {
		c.inheritable = base.inheritable
	}
	if v, ok := attr.Arg("collaborator"); ok {
		c.collaborator = v
	} else if base != nil {
		c.collaborator = base.collaborator
	}

	if base != nil {
		maps.Copy(c.templates, base.templates)
		maps.Copy(c.ambiguous, base.ambiguous)
	}
	diags = append(diags, r.scanTemplates(view, c)...)

	layers, layerDiags := resolveLayers(c, impl, base)
	c.layers = layers
	diags = append(diags, layerDiags...)

	r.classes[c.name] = c
	r.byID[decl.ID] = c

	r.logger.Debug("aspect class registered",
		slog.String("aspect", c.name),
		slog.Int("templates", len(c.templates)),
		slog.Int("layers", len(c.layers)),
		slog.String("eligibility", c.eligibility.String()),
	)
	return c, diags, nil
}

func (r *Registry) scanTemplates(view declgraph.View, c *Class) []diag.Diagnostic {
	var diags []diag.Diagnostic
	own := make(map[string]bool)
	for _, m := range view.Members(c.decl.ID) {
		for _, ra := range roleAttributes {
			a, ok := m.Attribute(ra.attr)
			if !ok {
				continue
			}
			name := m.Name
			if n, ok := a.Arg("name"); ok && n != "" {
				name = n
			}
			tm := &TemplateMember{Name: name, Declaration: m, DeclaringClass: c.name, Role: ra.role}

			switch inherited, exists := c.templates[name]; {
			case own[name]:
				diags = append(diags, diag.TemplateNameCollision.New(diag.At(m), c.name, name, c.name))
				c.ambiguous[name] = true
			case exists && inherited.DeclaringClass != c.name && !m.IsOverride:
				diags = append(diags, diag.TemplateNameCollision.New(diag.At(m), c.name, name, inherited.DeclaringClass))
				c.ambiguous[name] = true
			default:
				c.templates[name] = tm
				delete(c.ambiguous, name)
			}
			own[name] = true
			break
		}
	}
	return diags
}

func resolveLayers(c *Class, impl any, base *Class) ([]string, []diag.Diagnostic) {
	l, ok := impl.(Layered)
	if !ok {
		if base != nil {
			return slices.Clone(base.layers), nil
		}
		return []string{""}, nil
	}

	var diags []diag.Diagnostic
	layers := []string{""}
	for _, name := range l.Layers() {
		if slices.Contains(layers, name) {
			diags = append(diags, diag.DuplicateLayerName.New(diag.At(c.decl), c.name, name))
			continue
		}
		layers = append(layers, name)
	}
	return layers, diags
}

// RegisterAll registers every aspect declaration of a program.
//
// Description:
//
//	Declarations are registered base classes first (by inheritance depth,
//	then by ID) so callers need not order them. The implementation for a
//	declaration is looked up in impls by declaration name, then by ID.
//	Registration continues past failures; all errors are joined.
//
// Outputs:
//
//	[]*Class - Successfully registered classes, in registration order.
//	[]diag.Diagnostic - Diagnostics from every registration.
//	error - Joined registration errors, or nil.
func (r *Registry) RegisterAll(view declgraph.View, impls map[string]any) ([]*Class, []diag.Diagnostic, error) {
	var decls []*declgraph.Declaration
	for _, t := range view.Types() {
		if t.HasAttribute(AttrAspect) {
			decls = append(decls, t)
		}
	}
	depth := func(d *declgraph.Declaration) int {
		n := 0
		for _, b := range declgraph.BaseTypes(view, d.ID) {
			if b.HasAttribute(AttrAspect) {
				n++
			}
		}
		return n
	}
	sort.SliceStable(decls, func(i, j int) bool {
		di, dj := depth(decls[i]), depth(decls[j])
		if di != dj {
			return di < dj
		}
		return decls[i].ID < decls[j].ID
	})

	var (
		classes []*Class
		diags   []diag.Diagnostic
		errs    []error
	)
	for _, d := range decls {
		impl, ok := impls[d.Name]
		if !ok {
			impl = impls[d.ID]
		}
		c, ds, err := r.Register(view, d, impl)
		diags = append(diags, ds...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		classes = append(classes, c)
	}
	return classes, diags, errors.Join(errs...)
}

// Class returns the class with the given name.
func (r *Registry) Class(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	return c, ok
}

// ClassByID returns the class registered for an aspect declaration ID.
func (r *Registry) ClassByID(id string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// Classes returns every registered class sorted by name.
func (r *Registry) Classes() []*Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := slices.Collect(maps.Values(r.classes))
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Len returns the number of registered classes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.classes)
}
