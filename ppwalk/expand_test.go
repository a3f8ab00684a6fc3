// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ppwalk

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExpandAtOffset(t *testing.T) {
	const src = `#define A 1
int x;
#undef A
#define A 2
#ifdef X
#define Y A + 1
int y;
#endif
#include "a.h"
int z;
`
	env := newMemEnv(map[string]string{
		"x.c": src,
		"a.h": "#define FROM_A(v) (v * 2)\n",
	})
	for _, tc := range []struct {
		name     string
		defines  []string
		fragment string
		offset   int
		want     string
	}{
		{
			name:     "start",
			fragment: "A",
			offset:   0,
			want:     "A",
		},
		{
			name:     "after-define",
			fragment: "A",
			offset:   strings.Index(src, "int x;"),
			want:     "1",
		},
		{
			name:     "after-undef",
			fragment: "A",
			offset:   strings.Index(src, "#define A 2"),
			want:     "A",
		},
		{
			name:     "inside-conditional",
			defines:  []string{"-DX"},
			fragment: "Y",
			offset:   strings.Index(src, "int y;"),
			want:     "2 + 1",
		},
		{
			name:     "conditional-not-taken",
			fragment: "Y",
			offset:   strings.Index(src, "int y;"),
			want:     "Y",
		},
		{
			name:     "after-include",
			fragment: "FROM_A(A) /* comment */ + B",
			offset:   strings.Index(src, "int z;"),
			want:     "( 2 * 2 ) + B",
		},
		{
			name:     "end",
			fragment: "FROM_A",
			offset:   len(src),
			want:     "FROM_A",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			st := newTestState(t, tc.defines...)
			got, err := ExpandAtOffset(ctx, env, st, "x.c", tc.fragment, tc.offset, Options{})
			if err != nil || got != tc.want {
				t.Errorf("ExpandAtOffset(%q, %d)=%q, %v; want %q, nil", tc.fragment, tc.offset, got, err, tc.want)
			}
			if st.Macros.Len() != len(tc.defines) {
				t.Errorf("state modified: %s", st)
			}
		})
	}
}

func TestExpandAtOffset_cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env := newMemEnv(map[string]string{
		"x.c": "#define A 1\nint x;\n",
	})
	got, err := ExpandAtOffset(ctx, env, newTestState(t), "x.c", "A", 100, Options{})
	if got != "" || err != nil {
		t.Errorf("ExpandAtOffset=%q, %v; want \"\", nil", got, err)
	}
}

func TestServiceExpandAtOffset(t *testing.T) {
	ctx := context.Background()
	env := newMemEnv(map[string]string{
		"x.c": "#define A B\nint x;\n",
	})
	s := NewService(env, staticStates{newTestState(t, "-DB=3")}, nil)
	got, err := s.ExpandAtOffset(ctx, "x.c", "A", nil, 12)
	if err != nil || got != "3" {
		t.Errorf("ExpandAtOffset=%q, %v; want \"3\", nil", got, err)
	}

	invalid := newTestState(t)
	invalid.Invalidate()
	_, err = s.ExpandAtOffset(ctx, "x.c", "A", invalid, 12)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("ExpandAtOffset(invalid)=_, %v; want %v", err, ErrInvalidState)
	}
}
