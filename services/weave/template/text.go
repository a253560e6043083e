// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package template

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
	"github.com/AleutianAI/AleutianWeave/services/weave/diag"
)

// TextCompiler compiles template bodies written as plain text with
// placeholders.
//
// Description:
//
//	Recognized placeholders:
//
//	  {{proceed}}            call the previous version (same as {{base}})
//	  {{base}} {{self}} {{final}} {{original}}
//	                         call the target member at that order
//	  {{base:ID}}            call member ID at that order (any order keyword)
//	  {{base(a, b)}}         explicit argument list
//	  {{target}}             name of the target member
//	  {{target.type}}        ID of the target's declaring type
//	  {{tag.KEY}}            advice tag value
//	  {{config.KEY}}         aspect instance configuration value
//
//	Without an explicit argument list a call forwards the target method's
//	parameters, or "value" for a setter.
//
// Thread Safety:
//
//	Safe for concurrent use. Compiled drivers are immutable.
type TextCompiler struct{}

// NewTextCompiler returns a TextCompiler.
func NewTextCompiler() *TextCompiler {
	return &TextCompiler{}
}

type placeholderKind int

const (
	phLiteral placeholderKind = iota
	phReference
	phTargetName
	phTargetType
	phTag
	phConfig
)

type segment struct {
	kind     placeholderKind
	text     string
	order    Order
	memberID string
	args     string
	hasArgs  bool
}

var orderKeywords = map[string]Order{
	"proceed":  OrderBase,
	"base":     OrderBase,
	"self":     OrderSelf,
	"final":    OrderFinal,
	"original": OrderOriginal,
}

// Compile parses the template's body and accessor bodies.
//
// Outputs:
//
//	Driver - The compiled driver.
//	error - *InvalidUserCodeError listing every invalid placeholder.
func (c *TextCompiler) Compile(_ context.Context, tmpl *declgraph.Declaration) (Driver, error) {
	if tmpl == nil {
		return nil, ErrNilTemplate
	}

	var problems []diag.Diagnostic
	d := &textDriver{bodies: make(map[TargetKind][]segment)}

	parse := func(kind TargetKind, text string) {
		segs, bad := parseSegments(text)
		for _, b := range bad {
			problems = append(problems, diag.InvalidTemplateSyntax.New(
				diag.Location{DeclarationID: tmpl.ID, File: tmpl.File, Line: tmpl.Line},
				tmpl.ID, b.token, b.offset,
			))
		}
		d.bodies[kind] = segs
	}

	parse(TargetDefault, tmpl.Body)
	for name, text := range tmpl.Accessors {
		if kind, ok := TargetKindForAccessor(name); ok && kind != TargetDefault {
			parse(kind, text)
		}
	}

	if len(problems) > 0 {
		return nil, NewInvalidUserCodeError(problems...)
	}
	return d, nil
}

type badPlaceholder struct {
	token  string
	offset int
}

func parseSegments(text string) ([]segment, []badPlaceholder) {
	var segs []segment
	var bad []badPlaceholder
	rest := text
	offset := 0
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			if rest != "" {
				segs = append(segs, segment{kind: phLiteral, text: rest})
			}
			return segs, bad
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			bad = append(bad, badPlaceholder{token: rest[start:], offset: offset + start})
			return segs, bad
		}
		if start > 0 {
			segs = append(segs, segment{kind: phLiteral, text: rest[:start]})
		}
		token := strings.TrimSpace(rest[start+2 : start+end])
		if seg, ok := parsePlaceholder(token); ok {
			segs = append(segs, seg)
		} else {
			bad = append(bad, badPlaceholder{token: token, offset: offset + start})
		}
		consumed := start + end + 2
		rest = rest[consumed:]
		offset += consumed
	}
}

func parsePlaceholder(token string) (segment, bool) {
	switch {
	case token == "target":
		return segment{kind: phTargetName}, true
	case token == "target.type":
		return segment{kind: phTargetType}, true
	case strings.HasPrefix(token, "tag.") && len(token) > len("tag."):
		return segment{kind: phTag, text: strings.TrimPrefix(token, "tag.")}, true
	case strings.HasPrefix(token, "config.") && len(token) > len("config."):
		return segment{kind: phConfig, text: strings.TrimPrefix(token, "config.")}, true
	}

	seg := segment{kind: phReference}
	keyword, rest := token, ""
	if i := strings.IndexAny(token, ":("); i >= 0 {
		keyword, rest = token[:i], token[i:]
	}
	order, ok := orderKeywords[strings.TrimSpace(keyword)]
	if !ok {
		return segment{}, false
	}
	seg.order = order

	switch {
	case rest == "":
	case rest[0] == '(':
		if !strings.HasSuffix(rest, ")") {
			return segment{}, false
		}
		seg.args = strings.TrimSpace(rest[1 : len(rest)-1])
		seg.hasArgs = true
	default:
		member := rest[1:]
		// "ID(params)(args)": the last ")(" separates the member ID from the call arguments.
		if i := strings.LastIndex(member, ")("); i >= 0 {
			if !strings.HasSuffix(member, ")") {
				return segment{}, false
			}
			seg.args = strings.TrimSpace(member[i+2 : len(member)-1])
			seg.hasArgs = true
			member = member[:i+1]
		}
		seg.memberID = strings.TrimSpace(member)
		if seg.memberID == "" {
			return segment{}, false
		}
	}
	return seg, true
}

type textDriver struct {
	bodies map[TargetKind][]segment
}

// Expand renders the compiled segments for the invocation.
func (d *textDriver) Expand(ctx context.Context, inv Invocation) (Body, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	segs, ok := d.bodies[inv.Accessor]
	if !ok {
		segs = d.bodies[TargetDefault]
	}

	memberID := inv.MemberID
	if memberID == "" && inv.Target != nil {
		memberID = inv.Target.ID
	}

	var body Body
	appendCode := func(s string) {
		if s == "" {
			return
		}
		if n := len(body); n > 0 && body[n-1].Ref == nil {
			body[n-1].Code += s
			return
		}
		body = append(body, Fragment{Code: s})
	}

	for _, s := range segs {
		switch s.kind {
		case phLiteral:
			appendCode(s.text)
		case phTargetName:
			if inv.Target != nil {
				appendCode(inv.Target.Name)
			}
		case phTargetType:
			if inv.Target != nil {
				appendCode(inv.Target.ContainingID)
			}
		case phTag:
			appendCode(inv.Tags[s.text])
		case phConfig:
			if v, ok := inv.Config[s.text]; ok {
				appendCode(fmt.Sprint(v))
			}
		case phReference:
			ref := &Reference{
				MemberID: memberID,
				Spec:     ReferenceSpec{Layer: inv.Layer, Order: s.order, Target: inv.Accessor},
				Args:     forwardedArgs(inv),
			}
			if s.memberID != "" {
				ref.MemberID = s.memberID
				ref.Spec.Target = TargetDefault
				ref.Args = ""
			}
			if s.hasArgs {
				ref.Args = s.args
			}
			body = append(body, Fragment{Ref: ref})
		}
	}
	return body, nil
}

func forwardedArgs(inv Invocation) string {
	if inv.Accessor == TargetSetter {
		return "value"
	}
	if inv.Target == nil {
		return ""
	}
	names := make([]string, len(inv.Target.Signature.Parameters))
	for i, p := range inv.Target.Signature.Parameters {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}
