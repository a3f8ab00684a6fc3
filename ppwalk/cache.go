// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ppwalk

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"go.chromium.org/infra/build/ppwalk/macros"
)

// cacheKey is (file, state fingerprint).
type cacheKey struct {
	path string
	fp   uint64
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s@%016x", k.path, k.fp)
}

// includeEntry is the state at the end of a complete walk of an
// included file.
type includeEntry struct {
	macros *macros.Table
	once   []string
}

type usageEntry struct {
	refs     []MacroRef
	complete bool
}

type guardEntry struct {
	rng Range
	ok  bool
}

// Cache holds walk results per (file, state).
// Entries are stored only for walks that ran to completion.
// It is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	includes map[cacheKey]includeEntry
	usages   map[cacheKey][]MacroRef
	guards   map[string]guardEntry

	group singleflight.Group
}

// NewCache creates a new cache.
func NewCache() *Cache {
	return &Cache{
		includes: make(map[cacheKey]includeEntry),
		usages:   make(map[cacheKey][]MacroRef),
		guards:   make(map[string]guardEntry),
	}
}

func (c *Cache) include(key cacheKey) (includeEntry, bool) {
	if c == nil {
		return includeEntry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.includes[key]
	return e, ok
}

func (c *Cache) setInclude(key cacheKey, st *State) {
	if c == nil {
		return
	}
	e := includeEntry{
		macros: st.Macros.Clone(),
		once:   st.onceFiles(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.includes[key] = e
}

// HasUsages reports whether usages of path under st are cached.
func (c *Cache) HasUsages(path string, st *State) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.usages[cacheKey{path: path, fp: st.Fingerprint()}]
	return ok
}

// NumIncludes returns number of cached include entries.
func (c *Cache) NumIncludes() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.includes)
}

// usagesOrCollect returns usages of key, computing them by collect if not
// cached. Concurrent calls for the same key share one collect call.
// The result is stored only if collect completed.
func (c *Cache) usagesOrCollect(ctx context.Context, key cacheKey, collect func() ([]MacroRef, bool, error)) ([]MacroRef, error) {
	if c == nil {
		refs, _, err := collect()
		return refs, err
	}
	for {
		c.mu.Lock()
		refs, ok := c.usages[key]
		c.mu.Unlock()
		if ok {
			return refs, nil
		}
		v, err, shared := c.group.Do(key.String(), func() (any, error) {
			refs, complete, err := collect()
			if err != nil {
				return nil, err
			}
			if complete {
				c.mu.Lock()
				c.usages[key] = refs
				c.mu.Unlock()
			}
			return usageEntry{refs: refs, complete: complete}, nil
		})
		if err != nil {
			return nil, err
		}
		e := v.(usageEntry)
		if e.complete || !shared || ctx.Err() != nil {
			return e.refs, nil
		}
		// the shared walk was stopped by other caller's cancellation.
	}
}

func (c *Cache) guard(path string) (guardEntry, bool) {
	if c == nil {
		return guardEntry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.guards[path]
	return e, ok
}

func (c *Cache) setGuard(path string, e guardEntry) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guards[path] = e
}

// Forget forgets entries that may depend on path, e.g. when path is
// modified. Usage and include entries are dropped entirely since they
// depend on the content of nested includes.
func (c *Cache) Forget(path string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.usages)
	clear(c.includes)
	delete(c.guards, path)
}
