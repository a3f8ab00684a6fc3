// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ppwalk

import (
	"context"

	"go.chromium.org/infra/build/ppwalk/pptree"
)

// DefaultMaxStacks is the default limit of include stacks recorded per
// header.
const DefaultMaxStacks = 16

// StackRecorder records include stacks that reach each header, so
// states of headers can be restored later.
// Stacks are deduplicated by the state at the include directive.
type StackRecorder struct {
	// MaxStacks limits stacks per header. DefaultMaxStacks if 0.
	MaxStacks int

	stacks map[string][][]IncludeFrame
	seen   map[string]map[uint64]bool
}

// NewStackRecorder creates a new recorder.
func NewStackRecorder() *StackRecorder {
	return &StackRecorder{
		stacks: make(map[string][][]IncludeFrame),
		seen:   make(map[string]map[uint64]bool),
	}
}

type recordHooks struct {
	NopHooks
	r *StackRecorder
}

func (h recordHooks) OnInclude(ctx context.Context, w *Walker, n *pptree.Node, frame IncludeFrame) bool {
	if frame.Path == "" || w.onStack(frame.Path) {
		return true
	}
	r := h.r
	limit := r.MaxStacks
	if limit <= 0 {
		limit = DefaultMaxStacks
	}
	if len(r.stacks[frame.Path]) >= limit {
		return true
	}
	st := w.State()
	fp := st.Fingerprint()
	seen := r.seen[frame.Path]
	if seen == nil {
		seen = make(map[uint64]bool)
		r.seen[frame.Path] = seen
	}
	if seen[fp] {
		return true
	}
	seen[fp] = true
	stack := append(append([]IncludeFrame(nil), st.Stack...), frame)
	r.stacks[frame.Path] = append(r.stacks[frame.Path], stack)
	return true
}

// Record walks source under a clone of st and records include stacks.
// Include cache is not used since every include must be visited.
// It returns true if the walk ran to completion.
func (r *StackRecorder) Record(ctx context.Context, env Env, st *State, source string, diags *Diagnostics) (bool, error) {
	w := NewWalker(env, st.Clone(), recordHooks{r: r}, Options{Diags: diags})
	return w.Walk(ctx, source)
}

// Stacks returns include stacks recorded for header.
func (r *StackRecorder) Stacks(header string) [][]IncludeFrame {
	return r.stacks[header]
}

// Headers returns number of headers recorded.
func (r *StackRecorder) Headers() int {
	return len(r.stacks)
}
