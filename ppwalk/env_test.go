// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ppwalk

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sync"
	"testing"

	"go.chromium.org/infra/build/ppwalk/macros"
	"go.chromium.org/infra/build/ppwalk/pptree"
)

// memEnv is an in-memory Env.
type memEnv struct {
	files map[string]string
	// phantom files are resolvable, but missing.
	phantom map[string]bool

	mu    sync.Mutex
	reads map[string]int
}

func newMemEnv(files map[string]string) *memEnv {
	return &memEnv{
		files:   files,
		phantom: make(map[string]bool),
		reads:   make(map[string]int),
	}
}

func (e *memEnv) exists(p string) bool {
	_, ok := e.files[p]
	return ok || e.phantom[p]
}

func (e *memEnv) Tree(ctx context.Context, p string) (*pptree.Tree, error) {
	buf, ok := e.files[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, fs.ErrNotExist)
	}
	e.mu.Lock()
	e.reads[p]++
	e.mu.Unlock()
	return pptree.Build(ctx, p, []byte(buf), pptree.KindOf(p))
}

func (e *memEnv) numReads(p string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reads[p]
}

func (e *memEnv) ResolveInclude(ctx context.Context, st *State, from, header string, next bool) (Include, error) {
	name := header[1 : len(header)-1]
	start := 0
	if next {
		if top, ok := st.Top(); ok {
			start = top.DirIndex + 1
		}
	}
	if header[0] == '"' && !next {
		p := path.Join(path.Dir(from), name)
		if e.exists(p) {
			return Include{Path: p, DirIndex: -1}, nil
		}
	}
	dirs := st.Paths.Dirs()
	for i := start; i < len(dirs); i++ {
		p := path.Join(dirs[i], name)
		if e.exists(p) {
			return Include{Path: p, DirIndex: i}, nil
		}
	}
	return Include{}, fmt.Errorf("%s: %w", header, fs.ErrNotExist)
}

// newTestState creates a state with -D defines.
func newTestState(t *testing.T, defines ...string) *State {
	t.Helper()
	tab := macros.NewTable()
	for _, d := range defines {
		def, err := macros.ParseDefine(d)
		if err != nil {
			t.Fatalf("ParseDefine(%q)=_, %v", d, err)
		}
		tab.Define(def)
	}
	return NewState(tab, Paths{})
}

// staticStates is a StateProvider returning fixed states.
type staticStates []*State

func (s staticStates) States(ctx context.Context, file string) ([]*State, error) {
	return s, nil
}

type refSummary struct {
	Kind  RefKind
	Name  string
	Start int
	End   int
}

func summarize(refs []MacroRef) []refSummary {
	var r []refSummary
	for _, ref := range refs {
		r = append(r, refSummary{
			Kind:  ref.Kind(),
			Name:  ref.Text(),
			Start: ref.Range().Start,
			End:   ref.Range().End,
		})
	}
	return r
}
