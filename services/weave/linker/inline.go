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
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

// siteKind is the syntactic position of a reference in its body.
type siteKind int

const (
	// siteExpression is any position inside an expression. Never inlined.
	siteExpression siteKind = iota

	// siteTail is the last statement of the body: "a(); {{ref}}".
	siteTail

	// siteStatement is a statement with code after it: "{{ref}}; b();".
	siteStatement

	// siteReturn is the operand of a return: "return {{ref}};".
	siteReturn
)

// callSite locates one reference. semicolon is set when a ';' after the
// reference ends the statement.
type callSite struct {
	kind      siteKind
	semicolon bool
}

// refMark stands for a reference in flattened body text.
const refMark = "\x00"

// flatten concatenates the code of a body, writing refMark for each
// reference.
func flatten(body template.Body) string {
	var sb strings.Builder
	for _, f := range body {
		if f.Ref != nil {
			sb.WriteString(refMark)
			continue
		}
		sb.WriteString(f.Code)
	}
	return sb.String()
}

func statementStart(s string) bool {
	return s == "" || strings.ContainsAny(s[len(s)-1:], ";{}")
}

// classify returns the position of the reference at body[i].
func classify(body template.Body, i int) callSite {
	before := strings.TrimRightFunc(flatten(body[:i]), unicode.IsSpace)
	after := strings.TrimLeftFunc(flatten(body[i+1:]), unicode.IsSpace)

	semicolon := strings.HasPrefix(after, ";")
	rest := after
	if semicolon {
		rest = strings.TrimLeftFunc(after[1:], unicode.IsSpace)
	}

	if statementStart(before) {
		switch {
		case rest == "":
			return callSite{kind: siteTail, semicolon: semicolon}
		case semicolon || strings.HasPrefix(after, "}"):
			return callSite{kind: siteStatement, semicolon: semicolon}
		}
		return callSite{kind: siteExpression}
	}
	if prefix, ok := strings.CutSuffix(before, "return"); ok &&
		statementStart(strings.TrimRightFunc(prefix, unicode.IsSpace)) &&
		(semicolon || after == "") {
		return callSite{kind: siteReturn, semicolon: semicolon}
	}
	return callSite{kind: siteExpression}
}

func isIdent(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// returnWords counts the "return" keywords of flattened code. Keywords
// inside literals are counted too, which only makes inlining rarer.
func returnWords(code string) int {
	n := 0
	for i := 0; ; {
		j := strings.Index(code[i:], "return")
		if j < 0 {
			return n
		}
		start, end := i+j, i+j+len("return")
		leftOK := start == 0 || !isIdent(rune(code[start-1]))
		rightOK := end == len(code) || !isIdent(rune(code[end]))
		if leftOK && rightOK {
			n++
		}
		i = end
	}
}

// lastStatement returns the final statement of flattened code without
// its terminating ';'.
func lastStatement(code string) string {
	code = strings.TrimSpace(code)
	code = strings.TrimSuffix(code, ";")
	if i := strings.LastIndexAny(code, ";{}"); i >= 0 {
		code = code[i+1:]
	}
	return strings.TrimSpace(code)
}

// forwardedArgs is the argument list that passes a member's own
// parameters through unchanged.
func forwardedArgs(m *Member) string {
	if m.Accessor == template.TargetSetter {
		return "value"
	}
	if m.Decl == nil {
		return ""
	}
	names := make([]string, len(m.Decl.Signature.Parameters))
	for i, p := range m.Decl.Signature.Parameters {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}

func sameArgs(a, b string) bool {
	norm := func(s string) string {
		parts := strings.Split(s, ",")
		for i, p := range parts {
			parts[i] = strings.Join(strings.Fields(p), " ")
		}
		return strings.Join(parts, ",")
	}
	return norm(a) == norm(b)
}

// inliner decides which versions are substituted into their caller.
//
// A version is a candidate when it has exactly one caller, is not an
// entry point, is not forced out of line, does not call itself, and its
// call site is not an expression and forwards the member's parameters.
// Candidates at a tail site are always inlined; their returns become the
// caller's returns. A candidate at a statement site must not return. A
// candidate at a return site must return exactly once, in its last
// statement.
type inliner struct {
	l         *linker
	sites     map[*Version]callSite
	callers   map[*Version]*Version
	candidate map[*Version]bool
	returns   map[*Version]int
	visiting  map[*Version]bool
}

// cyclic is the return count given to versions on a call cycle.
const cyclic = 1 << 20

func (l *linker) markInlined() {
	in := &inliner{
		l:         l,
		sites:     make(map[*Version]callSite),
		callers:   make(map[*Version]*Version),
		candidate: make(map[*Version]bool),
		returns:   make(map[*Version]int),
		visiting:  make(map[*Version]bool),
	}

	counts := make(map[*Version]int)
	selfRef := make(map[*Version]bool)
	argsOK := make(map[*Version]bool)
	for _, m := range l.prog.Members() {
		for _, v := range m.Versions {
			k := 0
			for i, f := range v.Body {
				if f.Ref == nil {
					continue
				}
				c := v.Calls[k]
				k++
				if c.Kind != CallVersion {
					continue
				}
				cm, _ := l.prog.Member(c.MemberID, c.Accessor)
				callee := cm.Versions[c.Version]
				counts[callee]++
				if callee == v {
					selfRef[callee] = true
				}
				in.sites[callee] = classify(v.Body, i)
				in.callers[callee] = v
				argsOK[callee] = sameArgs(c.Args, forwardedArgs(cm))
			}
		}
	}

	for _, m := range l.prog.Members() {
		for _, v := range m.Versions {
			in.candidate[v] = counts[v] == 1 && !v.EntryPoint && !v.ForceNotInlineable && !selfRef[v] &&
				argsOK[v] && in.sites[v].kind != siteExpression
		}
	}
	for _, m := range l.prog.Members() {
		for _, v := range m.Versions {
			v.Inlined = in.accept(v)
			if v.Inlined {
				v.site = in.sites[v]
			}
		}
	}
}

func (in *inliner) accept(v *Version) bool {
	if !in.candidate[v] {
		return false
	}
	switch in.sites[v].kind {
	case siteTail:
		return true
	case siteStatement:
		return in.returnCount(v) == 0
	case siteReturn:
		return in.returnCount(v) == 1 && in.endsInReturn(v)
	}
	return false
}

// tailCallee returns the version inlined at the tail of v, if any.
func (in *inliner) tailCallee(v *Version) *Version {
	for callee, caller := range in.callers {
		if caller == v && in.candidate[callee] && in.sites[callee].kind == siteTail {
			return callee
		}
	}
	return nil
}

// returnCount counts the returns v has once its tail callee is inlined.
func (in *inliner) returnCount(v *Version) int {
	if n, ok := in.returns[v]; ok {
		return n
	}
	if in.visiting[v] {
		return cyclic
	}
	in.visiting[v] = true
	defer delete(in.visiting, v)

	n := returnWords(flatten(v.Body))
	if callee := in.tailCallee(v); callee != nil {
		n += in.returnCount(callee)
	}
	in.returns[v] = n
	return n
}

// endsInReturn reports whether the last statement of v, after inlining
// its tail callee, is a return.
func (in *inliner) endsInReturn(v *Version) bool {
	if in.visiting[v] {
		return false
	}
	in.visiting[v] = true
	defer delete(in.visiting, v)

	last := lastStatement(flatten(v.Body))
	if returnWords(last) > 0 && strings.HasPrefix(last, "return") {
		return true
	}
	if last == refMark {
		if callee := in.tailCallee(v); callee != nil {
			return in.endsInReturn(callee)
		}
	}
	return false
}
