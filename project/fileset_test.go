// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package project

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/infra/build/ppwalk/ppwalk"
)

func setupFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for k, v := range files {
		fname := filepath.Join(dir, filepath.FromSlash(k))
		err := os.MkdirAll(filepath.Dir(fname), 0755)
		if err != nil {
			t.Fatal(err)
		}
		err = os.WriteFile(fname, []byte(v), 0644)
		if err != nil {
			t.Fatal(err)
		}
	}
}

func newTestFileset(t *testing.T, files map[string]string) *Fileset {
	t.Helper()
	dir := t.TempDir()
	setupFiles(t, dir, files)
	fset, err := NewFileset(dir, 0)
	if err != nil {
		t.Fatalf("NewFileset(%q, 0)=_, %v; want nil err", dir, err)
	}
	return fset
}

func TestFilesetResolveInclude(t *testing.T) {
	ctx := context.Background()
	other := t.TempDir()
	setupFiles(t, other, map[string]string{
		"ext.h": "",
	})
	otherDir := filepath.ToSlash(other)
	fset := newTestFileset(t, map[string]string{
		"src/main.c":      "",
		"src/local.h":     "",
		"quote/q.h":       "",
		"include/sys.h":   "",
		"include/next.h":  "#include_next <next.h>\n",
		"include2/next.h": "",
		"framework/Foo.h": "",
		"hmap/ios.hmap": string(HeaderMap{
			"Foo/Foo.h": "framework/Foo.h",
			"Gone.h":    "framework/Gone.h",
		}.Marshal()),
	})
	st := ppwalk.NewState(nil, ppwalk.Paths{
		Quote:   []string{"quote"},
		Include: []string{"hmap/ios.hmap", "include", "include2"},
		System:  []string{otherDir},
	})

	for _, tc := range []struct {
		name    string
		from    string
		header  string
		want    ppwalk.Include
		wantErr bool
	}{
		{
			name:   "quote-local",
			from:   "src/main.c",
			header: `"local.h"`,
			want:   ppwalk.Include{Path: "src/local.h", DirIndex: -1},
		},
		{
			name:   "quote-dir",
			from:   "src/main.c",
			header: `"q.h"`,
			want:   ppwalk.Include{Path: "quote/q.h", DirIndex: -1},
		},
		{
			name:   "quote-fallback",
			from:   "src/main.c",
			header: `"sys.h"`,
			want:   ppwalk.Include{Path: "include/sys.h", DirIndex: 1},
		},
		{
			name:   "angle",
			from:   "src/main.c",
			header: "<sys.h>",
			want:   ppwalk.Include{Path: "include/sys.h", DirIndex: 1},
		},
		{
			name:    "angle-no-local",
			from:    "src/main.c",
			header:  "<local.h>",
			wantErr: true,
		},
		{
			name:   "hmap",
			from:   "src/main.c",
			header: "<foo/foo.h>",
			want:   ppwalk.Include{Path: "framework/Foo.h", DirIndex: 0},
		},
		{
			name:    "hmap-missing-target",
			from:    "src/main.c",
			header:  "<Gone.h>",
			wantErr: true,
		},
		{
			name:   "outside-root",
			from:   "src/main.c",
			header: "<ext.h>",
			want:   ppwalk.Include{Path: otherDir + "/ext.h", DirIndex: 3},
		},
		{
			name:   "absolute",
			from:   "src/main.c",
			header: "<" + otherDir + "/ext.h>",
			want:   ppwalk.Include{Path: otherDir + "/ext.h", DirIndex: -1},
		},
		{
			name:    "not-found",
			from:    "src/main.c",
			header:  "<none.h>",
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fset.ResolveInclude(ctx, st, tc.from, tc.header, false)
			if tc.wantErr {
				if !errors.Is(err, fs.ErrNotExist) {
					t.Errorf("ResolveInclude(ctx, st, %q, %q, false)=%v, %v; want fs.ErrNotExist", tc.from, tc.header, got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveInclude(ctx, st, %q, %q, false)=%v, %v; want nil err", tc.from, tc.header, got, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ResolveInclude(ctx, st, %q, %q, false) diff -want +got:\n%s", tc.from, tc.header, diff)
			}
		})
	}

	t.Run("include_next", func(t *testing.T) {
		st := st.Clone()
		st.Stack = []ppwalk.IncludeFrame{
			{File: "src/main.c", Index: 0, Path: "include/next.h", DirIndex: 1},
		}
		for _, header := range []string{"<next.h>", `"next.h"`} {
			got, err := fset.ResolveInclude(ctx, st, "include/next.h", header, true)
			want := ppwalk.Include{Path: "include2/next.h", DirIndex: 2}
			if err != nil || got != want {
				t.Errorf("ResolveInclude(ctx, st, include/next.h, %s, true)=%v, %v; want %v, nil", header, got, err, want)
			}
		}
		st.Stack[0].Path = "include2/next.h"
		st.Stack[0].DirIndex = 2
		_, err := fset.ResolveInclude(ctx, st, "include2/next.h", "<next.h>", true)
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("ResolveInclude(ctx, st, include2/next.h, <next.h>, true)=_, %v; want fs.ErrNotExist", err)
		}
	})
}

func TestFilesetTree(t *testing.T) {
	ctx := context.Background()
	fset := newTestFileset(t, map[string]string{
		"a.h": "#define A 1\n",
	})
	for i := 0; i < 2; i++ {
		tree, err := fset.Tree(ctx, "a.h")
		if err != nil {
			t.Fatalf("Tree(ctx, a.h)=_, %v; want nil err", err)
		}
		if len(tree.Nodes) != 1 {
			t.Errorf("Tree(ctx, a.h).Nodes=%d; want 1", len(tree.Nodes))
		}
	}
	stats := fset.IOMetrics().Stats()
	if stats.ROps != 1 || stats.Builds != 1 || stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats=%v; want 1 read, 1 build, 1 hit, 1 miss", stats)
	}
	if !fset.Exists(ctx, "a.h") {
		t.Errorf("Exists(ctx, a.h)=false; want true")
	}

	_, err := fset.Tree(ctx, "none.h")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Tree(ctx, none.h)=_, %v; want fs.ErrNotExist", err)
	}
	if fset.Exists(ctx, "none.h") {
		t.Errorf("Exists(ctx, none.h)=true; want false")
	}

	setupFiles(t, fset.Root(), map[string]string{
		"a.h": "#define A 2\n#define B 3\n",
	})
	tree, err := fset.Tree(ctx, "a.h")
	if err != nil || len(tree.Nodes) != 1 {
		t.Errorf("Tree(ctx, a.h) before Invalidate=%v, %v; want cached tree", tree, err)
	}
	fset.Invalidate("a.h")
	tree, err = fset.Tree(ctx, "a.h")
	if err != nil || len(tree.Nodes) != 2 {
		t.Errorf("Tree(ctx, a.h) after Invalidate=%v, %v; want 2 nodes", tree, err)
	}
}

func TestFilesetFindFile(t *testing.T) {
	fset := newTestFileset(t, map[string]string{
		"dir/a.h": "",
	})
	for _, tc := range []struct {
		p              string
		preferExisting bool
		want           string
		wantOK         bool
	}{
		{p: "dir/../dir/a.h", preferExisting: true, want: "dir/a.h", wantOK: true},
		{p: filepath.ToSlash(filepath.Join(fset.Root(), "dir/a.h")), preferExisting: true, want: "dir/a.h", wantOK: true},
		{p: "dir/b.h", preferExisting: true},
		{p: "dir/b.h", want: "dir/b.h", wantOK: true},
		{p: ""},
		{p: UnresolvedFile},
	} {
		got, ok := fset.FindFile(tc.p, tc.preferExisting)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("FindFile(%q, %t)=%q, %t; want %q, %t", tc.p, tc.preferExisting, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestFilesetRel(t *testing.T) {
	fset := newTestFileset(t, nil)
	got, err := fset.Rel(filepath.Join(fset.Root(), "src", "a.c"))
	if err != nil || got != "src/a.c" {
		t.Errorf("Rel(<root>/src/a.c)=%q, %v; want src/a.c, nil", got, err)
	}
}
