// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package project

import (
	"testing"

	"go.chromium.org/infra/build/ppwalk/macros"
	"go.chromium.org/infra/build/ppwalk/ppwalk"
)

func TestRefIndex(t *testing.T) {
	x, err := NewRefIndex(0)
	if err != nil {
		t.Fatalf("NewRefIndex(0)=_, %v; want nil err", err)
	}
	def := &macros.Definition{Name: "A", File: "a.h", Offset: 8}
	ref := ppwalk.NewLazyRef("x.c", ppwalk.Range{Start: 20, End: 21}, ppwalk.DirectUsage, def, nil)
	if got := x.Lookup(ref); got != nil {
		t.Errorf("Lookup(ref)=%v; want nil", got)
	}
	sym := &ppwalk.Symbol{Name: "A", File: "a.h", Start: 8, End: 9}
	x.Remember(ref, sym)
	if got := x.Lookup(ref); got != sym {
		t.Errorf("Lookup(ref)=%v; want %v", got, sym)
	}
	// same file and range refers to the same entry.
	same := ppwalk.NewLazyRef("x.c", ppwalk.Range{Start: 20, End: 21}, ppwalk.DirectUsage, def, nil)
	if got := x.Lookup(same); got != sym {
		t.Errorf("Lookup(same)=%v; want %v", got, sym)
	}

	other := ppwalk.NewLazyRef("y.c", ppwalk.Range{Start: 5, End: 6}, ppwalk.DirectUsage, def, nil)
	x.Remember(other, sym)
	decl := ppwalk.NewLazyRef("b.h", ppwalk.Range{Start: 8, End: 9}, ppwalk.Declaration, &macros.Definition{Name: "B", File: "b.h", Offset: 8}, nil)
	x.Remember(decl, &ppwalk.Symbol{Name: "B", File: "b.h", Start: 8, End: 9})
	if got, want := x.Len(), 3; got != want {
		t.Errorf("Len()=%d; want %d", got, want)
	}

	x.Forget("x.c")
	if got := x.Lookup(ref); got != nil {
		t.Errorf("Lookup(ref) after Forget(x.c)=%v; want nil", got)
	}
	x.Forget("a.h")
	if got := x.Lookup(other); got != nil {
		t.Errorf("Lookup(other) after Forget(a.h)=%v; want nil", got)
	}
	if got, want := x.Len(), 1; got != want {
		t.Errorf("Len()=%d; want %d", got, want)
	}
}

func TestRefIndex_size(t *testing.T) {
	x, err := NewRefIndex(2)
	if err != nil {
		t.Fatalf("NewRefIndex(2)=_, %v; want nil err", err)
	}
	def := &macros.Definition{Name: "A", File: "a.h", Offset: 8}
	sym := &ppwalk.Symbol{Name: "A", File: "a.h", Start: 8, End: 9}
	for i := 0; i < 3; i++ {
		x.Remember(ppwalk.NewLazyRef("x.c", ppwalk.Range{Start: i * 10, End: i*10 + 1}, ppwalk.DirectUsage, def, nil), sym)
	}
	if got, want := x.Len(), 2; got != want {
		t.Errorf("Len()=%d; want %d", got, want)
	}
}
