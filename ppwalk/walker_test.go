// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ppwalk

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/infra/build/ppwalk/macros"
	"go.chromium.org/infra/build/ppwalk/pptoken"
	"go.chromium.org/infra/build/ppwalk/pptree"
)

// traceHooks records token runs and includes seen by walker.
type traceHooks struct {
	NopHooks
	trace []string
}

func (h *traceHooks) OnTokens(ctx context.Context, w *Walker, n *pptree.Node) {
	h.trace = append(h.trace, fmt.Sprintf("%s: %s", w.File(), pptoken.Join(pptoken.WithoutComments(n.Tokens))))
}

func (h *traceHooks) OnInclude(ctx context.Context, w *Walker, n *pptree.Node, frame IncludeFrame) bool {
	h.trace = append(h.trace, fmt.Sprintf("include %s", frame))
	return true
}

func TestWalkConditional(t *testing.T) {
	const src = `#if A > 1
int a;
#elif defined(B) && !defined(C)
int b;
#else
int c;
#endif
#ifdef B
int d;
#endif
#ifndef B
int e;
#endif
`
	for _, tc := range []struct {
		name    string
		defines []string
		want    []string
	}{
		{
			name: "none",
			want: []string{"x.c: int c ;", "x.c: int e ;"},
		},
		{
			name:    "A",
			defines: []string{"-DA=2"},
			want:    []string{"x.c: int a ;", "x.c: int e ;"},
		},
		{
			name:    "A=1",
			defines: []string{"-DA=1", "-DB"},
			want:    []string{"x.c: int b ;", "x.c: int d ;"},
		},
		{
			name:    "B_C",
			defines: []string{"-DB", "-DC"},
			want:    []string{"x.c: int c ;", "x.c: int d ;"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			env := newMemEnv(map[string]string{"x.c": src})
			h := &traceHooks{}
			w := NewWalker(env, newTestState(t, tc.defines...), h, Options{})
			complete, err := w.Walk(ctx, "x.c")
			if !complete || err != nil {
				t.Fatalf("Walk(ctx, %q)=%t, %v; want true, nil", "x.c", complete, err)
			}
			if diff := cmp.Diff(tc.want, h.trace); diff != "" {
				t.Errorf("trace diff -want +got:\n%s", diff)
			}
		})
	}
}

func TestWalkDefineUndef(t *testing.T) {
	ctx := context.Background()
	env := newMemEnv(map[string]string{
		"x.c": `#define A 1
#define F(x, y) x + y
#define B A
#undef A
#if defined(A)
#define IN_A
#endif
#if F(B, 2) == 2
#define SUM_OK
#endif
`,
	})
	st := newTestState(t)
	w := NewWalker(env, st, nil, Options{})
	if _, err := w.Walk(ctx, "x.c"); err != nil {
		t.Fatalf("Walk=%v", err)
	}
	if diff := cmp.Diff([]string{"B", "F", "SUM_OK"}, st.Macros.Names()); diff != "" {
		t.Errorf("macros diff -want +got:\n%s", diff)
	}
	if got, want := st.Macros.Lookup("F").String(), "F(x,y)=x + y"; got != want {
		t.Errorf("F=%q; want %q", got, want)
	}
	if got, want := st.Macros.Lookup("B").Offset, len("#define A 1\n#define F(x, y) x + y\n#define "); got != want {
		t.Errorf("B.Offset=%d; want %d", got, want)
	}
}

func TestWalkInclude(t *testing.T) {
	ctx := context.Background()
	env := newMemEnv(map[string]string{
		"main.c": `#include "a.h"
#if A
int a;
#endif
#include <sys.h>
#define HDR "b.h"
#include HDR
int b = B;
`,
		"a.h":         "#define A 1\nint in_a;\n",
		"inc/sys.h":   "int in_sys;\n",
		"sys/sys.h":   "int in_sys2;\n",
		"b.h":         "#define B 2\n",
		"unused.h":    "int unused;\n",
		"inc/other.h": "",
	})
	st := newTestState(t)
	st.Paths = Paths{Include: []string{"inc"}, System: []string{"sys"}}
	h := &traceHooks{}
	w := NewWalker(env, st, h, Options{})
	complete, err := w.Walk(ctx, "main.c")
	if !complete || err != nil {
		t.Fatalf("Walk=%t, %v; want true, nil", complete, err)
	}
	want := []string{
		"include main.c#0 include a.h",
		"a.h: int in_a ;",
		"main.c: int a ;",
		"include main.c#1 include inc/sys.h",
		"inc/sys.h: int in_sys ;",
		"include main.c#2 include b.h",
		"main.c: int b = B ;",
	}
	if diff := cmp.Diff(want, h.trace); diff != "" {
		t.Errorf("trace diff -want +got:\n%s", diff)
	}
	if len(st.Stack) != 0 {
		t.Errorf("Stack=%v; want empty", st.Stack)
	}
	if st.Macros.Lookup("B") == nil {
		t.Errorf("B is not defined by macro include")
	}
}

func TestWalkIncludeNext(t *testing.T) {
	ctx := context.Background()
	env := newMemEnv(map[string]string{
		"main.c":  "#include <x.h>\n",
		"d1/x.h":  "#define X1\n#include_next <x.h>\n",
		"d2/x.h":  "#define X2\n#include_next <x.h>\n",
		"d3/y.h":  "",
		"d3/x.hh": "",
	})
	st := newTestState(t)
	st.Paths = Paths{Include: []string{"d1", "d2"}, System: []string{"d3"}}
	h := &traceHooks{}
	w := NewWalker(env, st, h, Options{Diags: &Diagnostics{}})
	if _, err := w.Walk(ctx, "main.c"); err != nil {
		t.Fatalf("Walk=%v", err)
	}
	want := []string{
		"include main.c#0 include d1/x.h",
		"include d1/x.h#0 include_next d2/x.h",
		"include d2/x.h#0 include_next ",
	}
	if diff := cmp.Diff(want, h.trace); diff != "" {
		t.Errorf("trace diff -want +got:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"X1", "X2"}, st.Macros.Names()); diff != "" {
		t.Errorf("macros diff -want +got:\n%s", diff)
	}
}

type defineCounter struct {
	NopHooks
	n map[string]int
}

func (c *defineCounter) OnDefine(ctx context.Context, w *Walker, n *pptree.Node, def *macros.Definition) {
	c.n[def.Name]++
}

func TestWalkPragmaOnce(t *testing.T) {
	ctx := context.Background()
	env := newMemEnv(map[string]string{
		"main.c": "#include \"a.h\"\n#include \"a.h\"\n#include \"b.h\"\n#include \"b.h\"\n",
		"a.h":    "#pragma once\n#define A\n",
		"b.h":    "#define B\n",
	})
	c := &defineCounter{n: make(map[string]int)}
	st := newTestState(t)
	w := NewWalker(env, st, c, Options{})
	if _, err := w.Walk(ctx, "main.c"); err != nil {
		t.Fatalf("Walk=%v", err)
	}
	if diff := cmp.Diff(map[string]int{"A": 1, "B": 2}, c.n); diff != "" {
		t.Errorf("defines diff -want +got:\n%s", diff)
	}
	if !st.Once("a.h") || st.Once("b.h") {
		t.Errorf("Once(a.h)=%t Once(b.h)=%t; want true, false", st.Once("a.h"), st.Once("b.h"))
	}
}

func TestWalkIncludeCache(t *testing.T) {
	ctx := context.Background()
	env := newMemEnv(map[string]string{
		"main.c": "#include \"a.h\"\n",
		"a.h":    "#define A 1\n#include \"b.h\"\n",
		"b.h":    "#define B A\n",
	})
	cache := NewCache()
	opts := Options{Cache: cache, UseIncludeCache: true, Remember: true}

	for i := 0; i < 2; i++ {
		st := newTestState(t)
		w := NewWalker(env, st, nil, opts)
		if _, err := w.Walk(ctx, "main.c"); err != nil {
			t.Fatalf("Walk#%d=%v", i, err)
		}
		if diff := cmp.Diff([]string{"A", "B"}, st.Macros.Names()); diff != "" {
			t.Errorf("macros#%d diff -want +got:\n%s", i, diff)
		}
	}
	if got := env.numReads("a.h"); got != 1 {
		t.Errorf("reads of a.h=%d; want 1", got)
	}
	if got := env.numReads("b.h"); got != 1 {
		t.Errorf("reads of b.h=%d; want 1", got)
	}
	if got := env.numReads("main.c"); got != 2 {
		t.Errorf("reads of main.c=%d; want 2", got)
	}

	// different state is not served by the cache.
	st := newTestState(t, "-DOTHER")
	w := NewWalker(env, st, nil, opts)
	if _, err := w.Walk(ctx, "main.c"); err != nil {
		t.Fatalf("Walk=%v", err)
	}
	if got := env.numReads("a.h"); got != 2 {
		t.Errorf("reads of a.h=%d; want 2", got)
	}
}

type stopAt struct {
	NopHooks
	file string
}

func (s stopAt) ShouldStop(w *Walker, n *pptree.Node) bool {
	return w.File() == s.file && n.Kind == pptree.TokenRun
}

func TestWalkStoppedNotRemembered(t *testing.T) {
	ctx := context.Background()
	env := newMemEnv(map[string]string{
		"main.c": "#include \"a.h\"\n",
		"a.h":    "#define A 1\nint a;\n",
	})
	cache := NewCache()
	w := NewWalker(env, newTestState(t), stopAt{file: "a.h"}, Options{Cache: cache, UseIncludeCache: true, Remember: true})
	complete, err := w.Walk(ctx, "main.c")
	if complete || err != nil {
		t.Fatalf("Walk=%t, %v; want false, nil", complete, err)
	}
	if w.Stopped() != StopCondition {
		t.Errorf("Stopped=%s; want %s", w.Stopped(), StopCondition)
	}
	if got := cache.NumIncludes(); got != 0 {
		t.Errorf("NumIncludes=%d; want 0", got)
	}
}

func TestWalkCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env := newMemEnv(map[string]string{
		"main.c": "#include \"a.h\"\n",
		"a.h":    "#define A 1\n",
	})
	cache := NewCache()
	st := newTestState(t)
	w := NewWalker(env, st, nil, Options{Cache: cache, UseIncludeCache: true, Remember: true})
	complete, err := w.Walk(ctx, "main.c")
	if complete || err != nil {
		t.Fatalf("Walk=%t, %v; want false, nil", complete, err)
	}
	if w.Stopped() != Cancelled {
		t.Errorf("Stopped=%s; want %s", w.Stopped(), Cancelled)
	}
	if got := cache.NumIncludes(); got != 0 {
		t.Errorf("NumIncludes=%d; want 0", got)
	}
	if st.Macros.Lookup("A") != nil {
		t.Errorf("A defined after cancelled walk")
	}
}

func TestWalkMalformed(t *testing.T) {
	ctx := context.Background()
	env := newMemEnv(map[string]string{
		"x.c": `#if 1 +
int a;
#elif 1
int b;
#endif
#define
#include
int c;
`,
	})
	diags := &Diagnostics{}
	h := &traceHooks{}
	w := NewWalker(env, newTestState(t), h, Options{Diags: diags})
	complete, err := w.Walk(ctx, "x.c")
	if !complete || err != nil {
		t.Fatalf("Walk=%t, %v; want true, nil", complete, err)
	}
	want := []string{
		"x.c: int b ;",
		"include x.c#0 include ",
		"x.c: int c ;",
	}
	if diff := cmp.Diff(want, h.trace); diff != "" {
		t.Errorf("trace diff -want +got:\n%s", diff)
	}
	if got := diags.Count(MalformedDirective); got != 3 {
		t.Errorf("MalformedDirective=%d; want 3: %v", got, diags.All())
	}
}

func TestWalkMissing(t *testing.T) {
	ctx := context.Background()
	env := newMemEnv(map[string]string{
		"x.c": "#include \"none.h\"\n#include \"phantom.h\"\nint x;\n",
	})
	env.phantom["phantom.h"] = true
	diags := &Diagnostics{}
	h := &traceHooks{}
	w := NewWalker(env, newTestState(t), h, Options{Diags: diags})
	complete, err := w.Walk(ctx, "x.c")
	if !complete || err != nil {
		t.Fatalf("Walk=%t, %v; want true, nil", complete, err)
	}
	if got := diags.Count(UnresolvedInclude); got != 1 {
		t.Errorf("UnresolvedInclude=%d; want 1", got)
	}
	if got := diags.Count(InputMissing); got != 1 {
		t.Errorf("InputMissing=%d; want 1", got)
	}
	if got, want := h.trace[len(h.trace)-1], "x.c: int x ;"; got != want {
		t.Errorf("last trace=%q; want %q", got, want)
	}

	_, err = NewWalker(env, newTestState(t), nil, Options{Diags: diags}).Walk(ctx, "none.c")
	if !errors.Is(err, ErrNoFile) {
		t.Errorf("Walk(none.c)=_, %v; want %v", err, ErrNoFile)
	}
}

func TestWalkIncludeDepth(t *testing.T) {
	ctx := context.Background()
	files := make(map[string]string)
	for i := 0; i < 10; i++ {
		files[fmt.Sprintf("d%d.h", i)] = fmt.Sprintf("#include \"d%d.h\"\n", i+1)
	}
	env := newMemEnv(files)
	diags := &Diagnostics{}
	st := newTestState(t)
	w := NewWalker(env, st, nil, Options{Diags: diags, MaxIncludeDepth: 5})
	complete, err := w.Walk(ctx, "d0.h")
	if !complete || err != nil {
		t.Fatalf("Walk=%t, %v; want true, nil", complete, err)
	}
	if got := diags.Count(IncludeDepth); got != 1 {
		t.Errorf("IncludeDepth=%d; want 1", got)
	}
	if !w.Truncated() {
		t.Errorf("Truncated=false; want true")
	}
	for i := 0; i < 10; i++ {
		want := 0
		if i <= 5 {
			want = 1
		}
		if got := env.numReads(fmt.Sprintf("d%d.h", i)); got != want {
			t.Errorf("reads of d%d.h=%d; want %d", i, got, want)
		}
	}
}

func TestWalkIncludeCycle(t *testing.T) {
	for _, tc := range []struct {
		name  string
		files map[string]string
		root  string
		want  []string
		// cycles is number of includes skipped as cycles.
		cycles int
	}{
		{
			name: "self",
			files: map[string]string{
				"x.c": "#include \"a.h\"\nint x;\n",
				"a.h": "#include \"a.h\"\n#include \"a.h\"\nint a;\n",
			},
			root: "x.c",
			want: []string{
				"include x.c#0 include a.h",
				"include a.h#0 include a.h",
				"include a.h#1 include a.h",
				"a.h: int a ;",
				"x.c: int x ;",
			},
			cycles: 2,
		},
		{
			name: "root",
			files: map[string]string{
				"x.c": "#include \"a.h\"\nint x;\n",
				"a.h": "#include \"x.c\"\nint a;\n",
			},
			root: "x.c",
			want: []string{
				"include x.c#0 include a.h",
				"include a.h#0 include x.c",
				"a.h: int a ;",
				"x.c: int x ;",
			},
			cycles: 1,
		},
		{
			name: "mutual",
			files: map[string]string{
				"x.c": "#include \"a.h\"\n#include \"b.h\"\n",
				"a.h": "#include \"b.h\"\nint a;\n",
				"b.h": "#include \"a.h\"\nint b;\n",
			},
			root: "x.c",
			want: []string{
				"include x.c#0 include a.h",
				"include a.h#0 include b.h",
				"include b.h#0 include a.h",
				"b.h: int b ;",
				"a.h: int a ;",
				"include x.c#1 include b.h",
				"include b.h#0 include a.h",
				"include a.h#0 include b.h",
				"a.h: int a ;",
				"b.h: int b ;",
			},
			cycles: 2,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			env := newMemEnv(tc.files)
			diags := &Diagnostics{}
			h := &traceHooks{}
			w := NewWalker(env, newTestState(t), h, Options{Diags: diags})
			complete, err := w.Walk(ctx, tc.root)
			if !complete || err != nil {
				t.Fatalf("Walk=%t, %v; want true, nil", complete, err)
			}
			if diff := cmp.Diff(tc.want, h.trace); diff != "" {
				t.Errorf("trace diff -want +got:\n%s", diff)
			}
			if got := diags.Count(IncludeCycle); got != tc.cycles {
				t.Errorf("IncludeCycle=%d; want %d: %v", got, tc.cycles, diags.All())
			}
			if got := diags.Count(IncludeDepth); got != 0 {
				t.Errorf("IncludeDepth=%d; want 0", got)
			}
		})
	}
}

func TestWalkIncludeCacheTruncated(t *testing.T) {
	ctx := context.Background()
	env := newMemEnv(map[string]string{
		"x.c": "#include \"a.h\"\n",
		"y.c": "#include \"b.h\"\n",
		"a.h": "#include \"b.h\"\n",
		"b.h": "#include \"c.h\"\n",
		"c.h": "#define X 1\n",
	})
	cache := NewCache()
	opts := Options{Cache: cache, UseIncludeCache: true, Remember: true, MaxIncludeDepth: 2}

	// x.c -> a.h -> b.h -> c.h exceeds the depth limit in b.h.
	st := newTestState(t)
	w := NewWalker(env, st, nil, opts)
	if _, err := w.Walk(ctx, "x.c"); err != nil {
		t.Fatalf("Walk(x.c)=%v", err)
	}
	if st.Macros.Lookup("X") != nil {
		t.Errorf("X defined in x.c; want undefined beyond include depth")
	}
	if got := cache.NumIncludes(); got != 0 {
		t.Errorf("NumIncludes=%d; want 0", got)
	}

	// y.c -> b.h -> c.h is within the limit.
	st = newTestState(t)
	w = NewWalker(env, st, nil, opts)
	if _, err := w.Walk(ctx, "y.c"); err != nil {
		t.Fatalf("Walk(y.c)=%v", err)
	}
	if w.Truncated() {
		t.Errorf("Truncated=true; want false")
	}
	if st.Macros.Lookup("X") == nil {
		t.Errorf("X undefined in y.c; want defined")
	}
	if got := env.numReads("b.h"); got != 2 {
		t.Errorf("reads of b.h=%d; want 2", got)
	}
	if got := cache.NumIncludes(); got != 2 {
		t.Errorf("NumIncludes=%d; want 2", got)
	}
}
