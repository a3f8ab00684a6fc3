// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ppwalk

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStackRecorder(t *testing.T) {
	ctx := context.Background()
	env := newMemEnv(restoreFiles())
	r := NewStackRecorder()
	complete, err := r.Record(ctx, env, newTestState(t), "main.c", nil)
	if !complete || err != nil {
		t.Fatalf("Record=%t, %v; want true, nil", complete, err)
	}
	if got := r.Headers(); got != 3 {
		t.Errorf("Headers=%d; want 3", got)
	}
	if diff := cmp.Diff([][]IncludeFrame{viaA, viaB}, r.Stacks("c.h")); diff != "" {
		t.Errorf("Stacks(c.h) diff -want +got:\n%s", diff)
	}
	if diff := cmp.Diff([][]IncludeFrame{viaB[:1]}, r.Stacks("b.h")); diff != "" {
		t.Errorf("Stacks(b.h) diff -want +got:\n%s", diff)
	}

	// recorded stacks are restorable.
	for _, stack := range r.Stacks("c.h") {
		st, err := Restore(ctx, env, newTestState(t), stack, nil)
		if err != nil {
			t.Errorf("Restore(%v)=_, %v", stack, err)
			continue
		}
		if diff := cmp.Diff(stack, st.Stack); diff != "" {
			t.Errorf("restored stack diff -want +got:\n%s", diff)
		}
	}
}

func TestStackRecorder_dedup(t *testing.T) {
	ctx := context.Background()
	env := newMemEnv(map[string]string{
		"main.c": "#include \"c.h\"\n#include \"c.h\"\n#define X\n#include \"c.h\"\n",
		"c.h":    "int c;\n",
	})
	r := NewStackRecorder()
	if _, err := r.Record(ctx, env, newTestState(t), "main.c", nil); err != nil {
		t.Fatalf("Record=_, %v", err)
	}
	want := [][]IncludeFrame{
		{{File: "main.c", Index: 0, Path: "c.h", DirIndex: -1}},
		{{File: "main.c", Index: 2, Path: "c.h", DirIndex: -1}},
	}
	if diff := cmp.Diff(want, r.Stacks("c.h")); diff != "" {
		t.Errorf("Stacks(c.h) diff -want +got:\n%s", diff)
	}

	r = NewStackRecorder()
	r.MaxStacks = 1
	if _, err := r.Record(ctx, env, newTestState(t), "main.c", nil); err != nil {
		t.Fatalf("Record=_, %v", err)
	}
	if got := len(r.Stacks("c.h")); got != 1 {
		t.Errorf("len(Stacks(c.h))=%d; want 1", got)
	}
}

func TestStackRecorder_cycle(t *testing.T) {
	ctx := context.Background()
	env := newMemEnv(map[string]string{
		"x.c": "#include \"a.h\"\n",
		"a.h": "#include \"a.h\"\n#include \"a.h\"\n",
	})
	diags := &Diagnostics{}
	r := NewStackRecorder()
	complete, err := r.Record(ctx, env, newTestState(t), "x.c", diags)
	if !complete || err != nil {
		t.Fatalf("Record=%t, %v; want true, nil", complete, err)
	}
	want := [][]IncludeFrame{
		{{File: "x.c", Index: 0, Path: "a.h", DirIndex: -1}},
	}
	if diff := cmp.Diff(want, r.Stacks("a.h")); diff != "" {
		t.Errorf("Stacks(a.h) diff -want +got:\n%s", diff)
	}
	if got := diags.Count(IncludeCycle); got != 2 {
		t.Errorf("IncludeCycle=%d; want 2: %v", got, diags.All())
	}
}
