// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package project

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/infra/build/ppwalk/ppwalk"
)

func TestDecls(t *testing.T) {
	fset := newTestFileset(t, map[string]string{
		"a.h": "#define A 1\n" +
			"#if X\n" +
			"#define B(x) x\n" +
			"#else\n" +
			"#define B(x) 0\n" +
			"#endif\n",
	})
	d := NewDecls(fset)

	got := d.MacrosDeclaredIn("a.h", "")
	want := []*ppwalk.Symbol{
		{Name: "A", File: "a.h", Start: 8, End: 9, Body: "1"},
		{Name: "B", File: "a.h", Start: 26, End: 27, Body: "x"},
		{Name: "B", File: "a.h", Start: 47, End: 48, Body: "0"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MacrosDeclaredIn(a.h, \"\") diff -want +got:\n%s", diff)
	}
	if got := d.MacrosDeclaredIn("a.h", "B"); len(got) != 2 {
		t.Errorf("MacrosDeclaredIn(a.h, B)=%v; want 2 symbols", got)
	}

	declared := d.MacrosDeclaredIn("a.h", "B")[0]
	if got := d.Register("a.h", &ppwalk.Symbol{Name: "B", File: "a.h", Start: 26, End: 27, Synthetic: true}); got != declared {
		t.Errorf("Register(a.h, B@26)=%v; want declared %v", got, declared)
	}

	c := &ppwalk.Symbol{Name: "C", File: "a.h", Start: 100, End: 101, Synthetic: true}
	if got := d.Register("a.h", c); got != c {
		t.Errorf("Register(a.h, C@100)=%p; want %p", got, c)
	}
	if got := d.Register("a.h", &ppwalk.Symbol{Name: "C", File: "a.h", Start: 100, End: 101, Synthetic: true}); got != c {
		t.Errorf("Register(a.h, C@100) again=%p; want %p", got, c)
	}
	if got := d.MacrosDeclaredIn("a.h", "C"); len(got) != 1 || got[0] != c {
		t.Errorf("MacrosDeclaredIn(a.h, C)=%v; want [%v]", got, c)
	}

	if got := d.MacrosDeclaredIn("none.h", ""); len(got) != 0 {
		t.Errorf("MacrosDeclaredIn(none.h, \"\")=%v; want none", got)
	}

	setupFiles(t, fset.Root(), map[string]string{
		"a.h": "#define Z\n",
	})
	fset.Invalidate("a.h")
	d.Forget("a.h")
	got = d.MacrosDeclaredIn("a.h", "")
	want = []*ppwalk.Symbol{
		{Name: "Z", File: "a.h", Start: 8, End: 9},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MacrosDeclaredIn(a.h, \"\") after Forget diff -want +got:\n%s", diff)
	}
}
