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
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianWeave/services/weave/template"
)

// DriverCache memoizes compiled template drivers by template ID.
//
// Description:
//
//	Concurrent requests for the same template compile it once. Failed
//	compilations are not cached, so a later request retries.
//
// Thread Safety:
//
//	Safe for concurrent use.
type DriverCache struct {
	compiler template.Compiler

	mu      sync.RWMutex
	drivers map[string]template.Driver
	flight  singleflight.Group

	compilations int64
}

// NewDriverCache creates a cache backed by compiler.
func NewDriverCache(compiler template.Compiler) *DriverCache {
	return &DriverCache{
		compiler: compiler,
		drivers:  make(map[string]template.Driver),
	}
}

// Driver returns the compiled driver for a template member.
//
// Inputs:
//
//	ctx - Passed to the compiler.
//	tm - The template member.
//
// Outputs:
//
//	template.Driver - The driver, possibly shared with earlier callers.
//	error - ErrNilCompiler, template.ErrNilTemplate, or the compiler error.
func (c *DriverCache) Driver(ctx context.Context, tm *TemplateMember) (template.Driver, error) {
	if tm == nil || tm.Declaration == nil {
		return nil, template.ErrNilTemplate
	}
	if c.compiler == nil {
		return nil, ErrNilCompiler
	}
	key := tm.Declaration.ID

	c.mu.RLock()
	d, ok := c.drivers[key]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		d, ok := c.drivers[key]
		c.mu.RUnlock()
		if ok {
			return d, nil
		}

		d, err := c.compiler.Compile(ctx, tm.Declaration)
		if err != nil {
			return nil, err
		}
		atomic.AddInt64(&c.compilations, 1)

		c.mu.Lock()
		c.drivers[key] = d
		c.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(template.Driver), nil
}

// Len returns the number of cached drivers.
func (c *DriverCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.drivers)
}

// Compilations returns how many successful compilations the cache ran.
func (c *DriverCache) Compilations() int64 {
	return atomic.LoadInt64(&c.compilations)
}
