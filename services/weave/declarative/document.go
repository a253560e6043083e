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
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianWeave/services/weave/advice"
	"github.com/AleutianAI/AleutianWeave/services/weave/aspect"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
)

// Action names.
const (
	ActionOverride          = "override"
	ActionOverrideAccessors = "override-accessors"
	ActionIntroduceMethod   = "introduce-method"
	ActionIntroduceField    = "introduce-field"
	ActionIntroduceProperty = "introduce-property"
	ActionIntroduceEvent    = "introduce-event"
	ActionImplement         = "implement"
	ActionRequire           = "require"
)

// Document is the YAML root.
type Document struct {
	Aspects []AspectDocument `yaml:"aspects" validate:"dive"`
}

// AspectDocument describes one aspect class implementation.
type AspectDocument struct {
	Class    string         `yaml:"class" validate:"required"`
	Eligible []string       `yaml:"eligible"`
	Layers   []string       `yaml:"layers" validate:"dive,required"`
	Rules    []RuleDocument `yaml:"rules" validate:"dive"`
}

// RuleDocument is one advice-producing rule.
type RuleDocument struct {
	Action string `yaml:"action" validate:"required,oneof=override override-accessors introduce-method introduce-field introduce-property introduce-event implement require"`

	Template      string `yaml:"template"`
	Async         string `yaml:"async"`
	Iterator      string `yaml:"iterator"`
	AsyncIterator string `yaml:"async_iterator"`

	Getter  string `yaml:"getter"`
	Setter  string `yaml:"setter"`
	Adder   string `yaml:"adder"`
	Remover string `yaml:"remover"`
	Raiser  string `yaml:"raiser"`

	Members *SelectorDocument `yaml:"members"`

	Layer         string            `yaml:"layer"`
	Name          string            `yaml:"name"`
	Access        string            `yaml:"access"`
	WhenExists    string            `yaml:"when_exists"`
	Tags          map[string]string `yaml:"tags"`
	NotInlineable bool              `yaml:"not_inlineable"`

	Interface string         `yaml:"interface" validate:"required_if=Action implement"`
	Aspect    string         `yaml:"aspect" validate:"required_if=Action require"`
	Config    map[string]any `yaml:"config"`
}

// SelectorDocument filters the members of a type. Empty fields match
// everything; Name is a path.Match pattern.
type SelectorDocument struct {
	Kind      string `yaml:"kind"`
	Name      string `yaml:"name"`
	Access    string `yaml:"access"`
	Attribute string `yaml:"attribute"`
}

var validate = validator.New()

// Set is the parsed aspects of one document, keyed by class name.
type Set struct {
	aspects map[string]*Aspect
}

// Load reads and parses an aspects file.
func Load(filePath string) (*Set, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read aspects %s: %w", filePath, err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return set, nil
}

// Parse parses an aspects document.
//
// Description:
//
//	Checks every rule up front: unknown actions, eligibility kinds,
//	accessibility and conflict-mode names, and missing template names are
//	reported together. Duplicate classes are rejected.
//
// Outputs:
//
//	*Set - The parsed aspects.
//	error - Wraps ErrInvalidAspects for document problems.
func Parse(data []byte) (*Set, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAspects, err)
	}
	return doc.Build()
}

// Build compiles a document into a Set.
func (doc Document) Build() (*Set, error) {
	var problems []string
	if err := validate.Struct(doc); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAspects, err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
		}
	}

	set := &Set{aspects: make(map[string]*Aspect, len(doc.Aspects))}
	for i, ad := range doc.Aspects {
		if ad.Class == "" {
			continue
		}
		if _, dup := set.aspects[ad.Class]; dup {
			problems = append(problems, fmt.Sprintf("aspects[%d]: duplicate class %q", i, ad.Class))
			continue
		}
		a, errs := compileAspect(ad)
		for _, e := range errs {
			problems = append(problems, fmt.Sprintf("aspects[%d] (%s): %v", i, ad.Class, e))
		}
		set.aspects[ad.Class] = a
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAspects, strings.Join(problems, "; "))
	}
	return set, nil
}

// Len returns the number of aspects.
func (s *Set) Len() int { return len(s.aspects) }

// Names returns the class names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.aspects))
	for name := range s.aspects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aspect returns the aspect of a class.
func (s *Set) Aspect(class string) (*Aspect, bool) {
	a, ok := s.aspects[class]
	return a, ok
}

// Implementations returns the aspects in the form aspect.Registry.RegisterAll
// accepts.
func (s *Set) Implementations() map[string]any {
	out := make(map[string]any, len(s.aspects))
	for name, a := range s.aspects {
		out[name] = a
	}
	return out
}

func compileAspect(ad AspectDocument) (*Aspect, []error) {
	var errs []error
	a := &Aspect{class: ad.Class, layers: ad.Layers, eligibility: aspect.EligibleAll}
	if len(ad.Eligible) > 0 {
		e, err := aspect.ParseEligibility(ad.Eligible)
		if err != nil {
			errs = append(errs, err)
		}
		a.eligibility = e
	}
	for j, rd := range ad.Rules {
		r, err := compileRule(rd)
		if err != nil {
			errs = append(errs, fmt.Errorf("rules[%d]: %w", j, err))
			continue
		}
		a.rules = append(a.rules, r)
	}
	return a, errs
}

func compileRule(rd RuleDocument) (rule, error) {
	r := rule{doc: rd}

	switch rd.Action {
	case ActionOverrideAccessors:
		if rd.Getter == "" && rd.Setter == "" && rd.Adder == "" && rd.Remover == "" && rd.Raiser == "" {
			return r, errors.New("override-accessors needs at least one accessor template")
		}
	case ActionImplement, ActionRequire:
	default:
		if rd.Template == "" {
			return r, fmt.Errorf("%s needs a template", rd.Action)
		}
	}

	mode, err := advice.ParseConflictMode(rd.WhenExists)
	if err != nil {
		return r, err
	}
	r.whenExists = mode

	if rd.Access != "" {
		access, err := declgraph.ParseAccessibility(rd.Access)
		if err != nil {
			return r, err
		}
		r.access = &access
	}

	if sd := rd.Members; sd != nil {
		sel := &selector{name: sd.Name, attribute: sd.Attribute}
		if sd.Kind != "" {
			k, err := declgraph.ParseKind(sd.Kind)
			if err != nil {
				return r, err
			}
			sel.kind = &k
		}
		if sd.Access != "" {
			access, err := declgraph.ParseAccessibility(sd.Access)
			if err != nil {
				return r, err
			}
			sel.access = &access
		}
		if sd.Name != "" {
			if _, err := path.Match(sd.Name, ""); err != nil {
				return r, fmt.Errorf("members.name %q: %w", sd.Name, err)
			}
		}
		r.members = sel
	}
	return r, nil
}
