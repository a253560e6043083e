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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWeave/services/weave/advice"
	"github.com/AleutianAI/AleutianWeave/services/weave/declgraph"
)

func introduced(typeID, name string) *IntroducedMember {
	spec := advice.MemberSpec{Name: name, Kind: declgraph.KindMethod, Accessibility: declgraph.AccessPublic}
	return &IntroducedMember{Declaration: spec.Declaration(typeID)}
}

func memberIDs(ds []*declgraph.Declaration) []string {
	ids := make([]string, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
	}
	return ids
}

func TestSnapshot_FoldLeavesParentUnchanged(t *testing.T) {
	g, err := declgraph.ParseProgram([]byte(conflictProgram))
	require.NoError(t, err)

	root := NewSnapshot(g)
	first := root.Fold("A", []Transformation{introduced("Shop.Child", "Alpha")})
	second := first.Fold("B", []Transformation{
		introduced("Shop.Child", "Beta"),
		&IntroducedInterface{TypeID: "Shop.Child", InterfaceID: "Shop.IThing"},
	})

	assert.Equal(t, 0, root.Generation())
	assert.Equal(t, 2, second.Generation())
	assert.Equal(t, "B", second.Stage())
	assert.Same(t, first, second.Parent())
	assert.Same(t, declgraph.View(g), second.Root())

	base := []string{"Shop.Child.Own()", "Shop.Child.Shared()", "Shop.Child.Value"}
	assert.Equal(t, base, memberIDs(root.Members("Shop.Child")))
	assert.Equal(t, append(base, "Shop.Child.Alpha()"), memberIDs(first.Members("Shop.Child")))
	assert.Equal(t, append(base, "Shop.Child.Alpha()", "Shop.Child.Beta()"), memberIDs(second.Members("Shop.Child")))

	child, _ := second.Declaration("Shop.Child")
	assert.Equal(t, []string{"Shop.IThing"}, child.Interfaces)
	original, _ := first.Declaration("Shop.Child")
	assert.Empty(t, original.Interfaces)

	assert.Len(t, second.Transformations(), 2)
	assert.Len(t, second.AllTransformations(), 3)
	assert.Len(t, second.TransformationsFor("Shop.Child.Beta()"), 1)
	assert.Empty(t, root.AllTransformations())

	all := memberIDs(second.Declarations())
	assert.Equal(t, "Shop.Child.Beta()", all[len(all)-1])
	assert.Equal(t, len(g.Declarations())+2, len(all))
}

func TestSnapshot_WithoutRefoldsRemainingLayers(t *testing.T) {
	g, err := declgraph.ParseProgram([]byte(conflictProgram))
	require.NoError(t, err)

	alpha := introduced("Shop.Child", "Alpha")
	beta := introduced("Shop.Child", "Beta")
	root := NewSnapshot(g)
	snap := root.Fold("A", []Transformation{alpha}).Fold("B", []Transformation{beta})

	assert.Same(t, snap, snap.Without(func(Transformation) bool { return false }))

	pruned := snap.Without(func(t Transformation) bool { return t == alpha })
	assert.Equal(t, 2, pruned.Generation())
	assert.Equal(t, "B", pruned.Stage())
	assert.Equal(t, "A", pruned.Parent().Stage())
	assert.Empty(t, pruned.Parent().Transformations())
	assert.Equal(t, []Transformation{beta}, pruned.AllTransformations())

	_, ok := pruned.Declaration("Shop.Child.Alpha()")
	assert.False(t, ok)
	_, ok = snap.Declaration("Shop.Child.Alpha()")
	assert.True(t, ok)
}

func TestSnapshot_ConcurrentReaders(t *testing.T) {
	g, err := declgraph.ParseProgram([]byte(conflictProgram))
	require.NoError(t, err)

	base := NewSnapshot(g).Fold("A", []Transformation{introduced("Shop.Child", "Alpha")})
	want := memberIDs(base.Members("Shop.Child"))

	var wg sync.WaitGroup
	children := make([]*Snapshot, 8)
	for i := range children {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			children[i] = base.Fold(fmt.Sprintf("S%d", i), []Transformation{introduced("Shop.Child", fmt.Sprintf("M%d", i))})
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.Equal(t, want, memberIDs(base.Members("Shop.Child")))
				_, ok := base.Declaration("Shop.Child.Alpha()")
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, want, memberIDs(base.Members("Shop.Child")))
	for i, c := range children {
		ids := memberIDs(c.Members("Shop.Child"))
		assert.Equal(t, fmt.Sprintf("Shop.Child.M%d()", i), ids[len(ids)-1])
		assert.Len(t, ids, len(want)+1)
	}
}

func TestSnapshot_UnknownTransformationPanics(t *testing.T) {
	g, err := declgraph.ParseProgram([]byte(conflictProgram))
	require.NoError(t, err)
	assert.Panics(t, func() {
		NewSnapshot(g).Fold("A", []Transformation{nil})
	})
}
