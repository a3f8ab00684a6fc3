// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package project

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"go.chromium.org/infra/build/ppwalk/ppwalk"
)

// DefaultRefIndexSize is the default number of references kept in
// RefIndex.
const DefaultRefIndexSize = 1 << 16

type refKey struct {
	file string
	rng  ppwalk.Range
	name string
}

// RefIndex is a cross-file index of resolved references, keyed by the
// file and range of the reference.
// It implements ppwalk.RefIndex.
type RefIndex struct {
	refs *lru.Cache[refKey, *ppwalk.Symbol]
}

// NewRefIndex creates a reference index that keeps at most size
// references.
func NewRefIndex(size int) (*RefIndex, error) {
	if size <= 0 {
		size = DefaultRefIndexSize
	}
	refs, err := lru.New[refKey, *ppwalk.Symbol](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create ref index: %w", err)
	}
	return &RefIndex{refs: refs}, nil
}

func keyOf(ref ppwalk.MacroRef) refKey {
	return refKey{file: ref.File(), rng: ref.Range(), name: ref.Text()}
}

// Lookup returns a symbol previously resolved for ref, or nil.
func (x *RefIndex) Lookup(ref ppwalk.MacroRef) *ppwalk.Symbol {
	sym, _ := x.refs.Get(keyOf(ref))
	return sym
}

// Remember records sym as the resolution of ref.
func (x *RefIndex) Remember(ref ppwalk.MacroRef, sym *ppwalk.Symbol) {
	x.refs.Add(keyOf(ref), sym)
}

// Len returns number of references in the index.
func (x *RefIndex) Len() int {
	return x.refs.Len()
}

// Forget removes references in file, and references resolved to
// symbols in file.
func (x *RefIndex) Forget(file string) {
	for _, k := range x.refs.Keys() {
		if k.file == file {
			x.refs.Remove(k)
			continue
		}
		if sym, ok := x.refs.Peek(k); ok && sym.File == file {
			x.refs.Remove(k)
		}
	}
}
