// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package declgraph

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProgramDocument is the YAML form of a program.
type ProgramDocument struct {
	Types []TypeDocument `yaml:"types"`
}

// TypeDocument is the YAML form of a type and its members.
type TypeDocument struct {
	ID         string              `yaml:"id"`
	Name       string              `yaml:"name,omitempty"`
	Kind       string              `yaml:"kind,omitempty"`
	Base       string              `yaml:"base,omitempty"`
	Interfaces []string            `yaml:"interfaces,omitempty"`
	Access     string              `yaml:"access,omitempty"`
	Static     bool                `yaml:"static,omitempty"`
	Sealed     bool                `yaml:"sealed,omitempty"`
	Abstract   bool                `yaml:"abstract,omitempty"`
	File       string              `yaml:"file,omitempty"`
	Line       int                 `yaml:"line,omitempty"`
	Attributes []AttributeDocument `yaml:"attributes,omitempty"`
	Members    []MemberDocument    `yaml:"members,omitempty"`
}

// MemberDocument is the YAML form of a member.
type MemberDocument struct {
	ID         string              `yaml:"id,omitempty"`
	Name       string              `yaml:"name"`
	Kind       string              `yaml:"kind"`
	Access     string              `yaml:"access,omitempty"`
	Static     bool                `yaml:"static,omitempty"`
	Virtual    bool                `yaml:"virtual,omitempty"`
	Sealed     bool                `yaml:"sealed,omitempty"`
	Abstract   bool                `yaml:"abstract,omitempty"`
	Override   bool                `yaml:"override,omitempty"`
	Returns    string              `yaml:"returns,omitempty"`
	Params     []Parameter         `yaml:"params,omitempty"`
	Async      bool                `yaml:"async,omitempty"`
	Iterator   bool                `yaml:"iterator,omitempty"`
	Type       string              `yaml:"type,omitempty"`
	Body       string              `yaml:"body,omitempty"`
	Accessors  map[string]string   `yaml:"accessors,omitempty"`
	Line       int                 `yaml:"line,omitempty"`
	Attributes []AttributeDocument `yaml:"attributes,omitempty"`
}

// AttributeDocument is the YAML form of an attribute.
type AttributeDocument struct {
	Type string            `yaml:"type"`
	Args map[string]string `yaml:"args,omitempty"`
}

// LoadProgram reads a YAML program from disk and returns a frozen graph.
//
// Inputs:
//
//	path - Path to the YAML document.
//
// Outputs:
//
//	*Graph - The frozen graph.
//	error - Non-nil if the file cannot be read or is invalid.
func LoadProgram(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program %s: %w", path, err)
	}
	g, err := ParseProgram(data)
	if err != nil {
		return nil, fmt.Errorf("parse program %s: %w", path, err)
	}
	return g, nil
}

// ParseProgram decodes a YAML program document into a frozen graph.
func ParseProgram(data []byte) (*Graph, error) {
	var doc ProgramDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	return doc.Build()
}

// Build converts the document into a frozen graph.
func (doc ProgramDocument) Build() (*Graph, error) {
	g := NewGraph()
	for _, td := range doc.Types {
		typeDecl, err := td.declaration()
		if err != nil {
			return nil, err
		}
		if err := g.Add(typeDecl); err != nil {
			return nil, err
		}
		for _, md := range td.Members {
			m, err := md.declaration(typeDecl)
			if err != nil {
				return nil, err
			}
			if err := g.Add(m); err != nil {
				return nil, err
			}
		}
	}
	if err := g.Freeze(); err != nil {
		return nil, err
	}
	return g, nil
}

func (td TypeDocument) declaration() (*Declaration, error) {
	if td.ID == "" {
		return nil, fmt.Errorf("%w: type without id", ErrInvalidProgram)
	}
	access, err := ParseAccessibility(defaultString(td.Access, "public"))
	if err != nil {
		return nil, err
	}
	typeKind := TypeKindClass
	switch strings.ToLower(td.Kind) {
	case "", "class":
	case "struct":
		typeKind = TypeKindStruct
	case "interface":
		typeKind = TypeKindInterface
	default:
		return nil, fmt.Errorf("%w: unknown type kind %q for %s", ErrInvalidProgram, td.Kind, td.ID)
	}
	name := td.Name
	if name == "" {
		name = td.ID[strings.LastIndex(td.ID, ".")+1:]
	}
	return &Declaration{
		ID:            td.ID,
		Name:          name,
		Kind:          KindType,
		TypeKind:      typeKind,
		Accessibility: access,
		IsStatic:      td.Static,
		IsSealed:      td.Sealed,
		IsAbstract:    td.Abstract,
		BaseTypeID:    td.Base,
		Interfaces:    td.Interfaces,
		Attributes:    attributes(td.Attributes),
		File:          td.File,
		Line:          td.Line,
	}, nil
}

func (md MemberDocument) declaration(owner *Declaration) (*Declaration, error) {
	if md.Name == "" {
		return nil, fmt.Errorf("%w: member without name in %s", ErrInvalidProgram, owner.ID)
	}
	kind, err := ParseKind(md.Kind)
	if err != nil {
		return nil, err
	}
	if kind == KindType {
		return nil, fmt.Errorf("%w: nested types are not supported (%s.%s)", ErrInvalidProgram, owner.ID, md.Name)
	}
	defaultAccess := "private"
	if owner.IsInterface() {
		defaultAccess = "public"
	}
	access, err := ParseAccessibility(defaultString(md.Access, defaultAccess))
	if err != nil {
		return nil, err
	}
	id := md.ID
	if id == "" {
		id = MemberID(owner.ID, md.Name, kind, md.Params)
	}
	return &Declaration{
		ID:            id,
		Name:          md.Name,
		Kind:          kind,
		ContainingID:  owner.ID,
		Accessibility: access,
		IsStatic:      md.Static,
		IsVirtual:     md.Virtual,
		IsSealed:      md.Sealed,
		IsAbstract:    md.Abstract || owner.IsInterface(),
		IsOverride:    md.Override,
		Signature: Signature{
			ReturnType: md.Returns,
			Parameters: md.Params,
			IsAsync:    md.Async,
			IsIterator: md.Iterator,
		},
		ValueType:  md.Type,
		Body:       md.Body,
		Accessors:  md.Accessors,
		Attributes: attributes(md.Attributes),
		File:       owner.File,
		Line:       md.Line,
	}, nil
}

func attributes(docs []AttributeDocument) []Attribute {
	if len(docs) == 0 {
		return nil
	}
	out := make([]Attribute, len(docs))
	for i, a := range docs {
		out[i] = Attribute{Type: a.Type, Args: a.Args}
	}
	return out
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
