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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWeave/services/weave/advice"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
)

const conflictProgram = `
types:
  - id: Shop.Base
    members:
      - {name: Run, kind: method, access: public, virtual: true}
      - {name: Stop, kind: method, access: public}
      - {name: Seal, kind: method, access: public, override: true, sealed: true}
      - {name: Make, kind: method, access: public, virtual: true, returns: int}
      - {name: Util, kind: method, access: public, static: true}
      - {name: hidden, kind: method}
  - id: Shop.Child
    base: Shop.Base
    members:
      - {name: Own, kind: method, access: public}
      - {name: Shared, kind: method, access: public, static: true}
      - {name: Value, kind: property, access: public, type: int}
`

func methodSpec(name string, static bool) advice.MemberSpec {
	return advice.MemberSpec{Name: name, Kind: declgraph.KindMethod, IsStatic: static, Accessibility: declgraph.AccessPublic}
}

func TestResolveIntroduction_Grid(t *testing.T) {
	g, err := declgraph.ParseProgram([]byte(conflictProgram))
	require.NoError(t, err)

	tests := []struct {
		name   string
		member advice.MemberSpec
		mode   advice.ConflictMode
		want   Resolution
		code   string
	}{
		{"own/fail", methodSpec("Own", false), advice.ConflictFail, ResolveReject, "CR0502"},
		{"own/default", methodSpec("Own", false), advice.ConflictDefault, ResolveReject, "CR0502"},
		{"own/ignore", methodSpec("Own", false), advice.ConflictIgnore, ResolveIgnore, ""},
		{"own/new", methodSpec("Own", false), advice.ConflictNew, ResolveReject, "CR0503"},
		{"own/override", methodSpec("Own", false), advice.ConflictOverride, ResolveOverrideInPlace, ""},
		{"own/override kind mismatch", methodSpec("Value", false), advice.ConflictOverride, ResolveReject, "CR0502"},
		{"own/staticity", methodSpec("Shared", false), advice.ConflictIgnore, ResolveReject, "CR0504"},

		{"virtual/fail", methodSpec("Run", false), advice.ConflictFail, ResolveReject, "CR0502"},
		{"virtual/ignore", methodSpec("Run", false), advice.ConflictIgnore, ResolveIgnore, ""},
		{"virtual/new", methodSpec("Run", false), advice.ConflictNew, ResolveIntroduceNew, ""},
		{"virtual/override", methodSpec("Run", false), advice.ConflictOverride, ResolveIntroduceOverride, ""},
		{"non-virtual/new", methodSpec("Stop", false), advice.ConflictNew, ResolveIntroduceNew, ""},
		{"non-virtual/override", methodSpec("Stop", false), advice.ConflictOverride, ResolveReject, "CR0505"},
		{"sealed/override", methodSpec("Seal", false), advice.ConflictOverride, ResolveReject, "CR0505"},
		{"return type/override", methodSpec("Make", false), advice.ConflictOverride, ResolveReject, "CR0506"},
		{"inherited staticity", methodSpec("Util", false), advice.ConflictNew, ResolveReject, "CR0504"},

		{"private base member does not collide", methodSpec("hidden", false), advice.ConflictFail, ResolveIntroduce, ""},
		{"no collision", methodSpec("Fresh", false), advice.ConflictFail, ResolveIntroduce, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := ResolveIntroduction(g, IntroductionRequest{
				Aspect: "Log",
				TypeID: "Shop.Child",
				Member: tt.member,
				Mode:   tt.mode,
			})
			assert.Equal(t, tt.want, dec.Resolution, dec.Resolution.String())
			if tt.code == "" {
				assert.Nil(t, dec.Diagnostic)
				return
			}
			require.NotNil(t, dec.Diagnostic)
			assert.Equal(t, tt.code, dec.Diagnostic.Code)
			assert.NotNil(t, dec.Existing)
		})
	}
}

func TestResolveIntroduction_ExistingPointsAtCollision(t *testing.T) {
	g, err := declgraph.ParseProgram([]byte(conflictProgram))
	require.NoError(t, err)

	dec := ResolveIntroduction(g, IntroductionRequest{
		Aspect: "Log", TypeID: "Shop.Child", Member: methodSpec("Run", false), Mode: advice.ConflictOverride,
	})
	require.NotNil(t, dec.Existing)
	assert.Equal(t, "Shop.Base.Run()", dec.Existing.ID)

	dec = ResolveIntroduction(g, IntroductionRequest{
		Aspect: "Log", TypeID: "Shop.Child", Member: methodSpec("Own", false), Mode: advice.ConflictOverride,
	})
	assert.Equal(t, "Shop.Child.Own()", dec.Existing.ID)
}
