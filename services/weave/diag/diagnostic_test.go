// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diag

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalogue_CodesAreUniqueAndPartitioned(t *testing.T) {
	seen := make(map[string]string)
	for _, d := range Catalogue() {
		if prev, dup := seen[d.Code]; dup {
			t.Errorf("code %s used by both %s and %s", d.Code, prev, d.Title)
		}
		seen[d.Code] = d.Title
		assert.Regexp(t, `^CR0[1-6]\d\d$`, d.Code)
	}

	assert.NotEqual(t, CannotIntroduceWithDifferentStaticity.Code, CannotIntroduceOverrideOfSealed.Code)
}

func TestDescriptor_New(t *testing.T) {
	loc := Location{DeclarationID: "Shop.Order", File: "order.cs", Line: 12}
	d := AspectNotEligible.New(loc, "Logged", "field", "Shop.Order.id")

	assert.Equal(t, "CR0201", d.Code)
	assert.True(t, d.IsError())
	assert.Equal(t, "aspect Logged cannot be applied to field Shop.Order.id", d.Message)
	assert.Equal(t, "order.cs:12 (Shop.Order): error CR0201: aspect Logged cannot be applied to field Shop.Order.id", d.String())
	assert.Len(t, d.Args, 3)
}

func TestDiagnostic_StringWithoutLocation(t *testing.T) {
	d := UnknownAspectInOrdering.New(Location{}, "Ghost")
	assert.Equal(t, `warning CR0304: ordering declaration names unknown aspect layer "Ghost"`, d.String())
	assert.False(t, d.IsError())
}

func TestBag_ConcurrentAdd(t *testing.T) {
	var bag Bag
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bag.Add(UnknownAspectInOrdering.New(Location{}, "x"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, bag.Len())
	assert.False(t, bag.HasErrors())
	assert.Equal(t, 50, bag.CountBySeverity()[SeverityWarning])

	bag.Add(OrderingCycle.New(Location{}, "A -> B -> A"))
	assert.True(t, bag.HasErrors())
}

func TestHasErrorsAndCodes(t *testing.T) {
	ds := []Diagnostic{
		UnknownAspectInOrdering.New(Location{}, "x"),
		MemberAlreadyExists.New(Location{}, "A", "Foo", "T", "T.Foo"),
	}
	assert.True(t, HasErrors(ds))
	assert.False(t, HasErrors(ds[:1]))
	assert.Equal(t, []string{"CR0304", "CR0502"}, Codes(ds))
}
