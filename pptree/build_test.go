// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package pptree

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// dump renders tree structure for comparison.
func dump(nodes []*Node, indent string, sb *strings.Builder) {
	for _, n := range nodes {
		fmt.Fprintf(sb, "%s%s\n", indent, n.Kind)
		dump(n.Children, indent+"  ", sb)
		for _, b := range n.Branches {
			fmt.Fprintf(sb, "%s%s\n", indent, b.Kind)
			dump(b.Children, indent+"  ", sb)
		}
		if n.Endif != nil {
			fmt.Fprintf(sb, "%sendif\n", indent)
		}
	}
}

func TestBuildStructure(t *testing.T) {
	ctx := context.Background()
	buf := `// Copyright
#ifndef FOO_H_
#define FOO_H_

#include <stdint.h>
#if defined(A) && B > 1
int a;
#elif C
# include "c.h"
#else
#ifdef D
int d;
#endif
#endif

#undef X
#pragma once
#error oops
#endif  // FOO_H_
`
	tree, err := Build(ctx, "foo.h", []byte(buf), Header)
	if err != nil {
		t.Fatalf("Build(ctx, %q, buf, Header)=_, %v; want nil err", "foo.h", err)
	}
	var sb strings.Builder
	dump(tree.Nodes, "", &sb)
	want := `tokens
ifndef
  define
  include
  if
    tokens
  elif
    include
  else
    ifdef
      tokens
    endif
  endif
  undef
  pragma-once
  other
endif
`
	if diff := cmp.Diff(want, sb.String()); diff != "" {
		t.Errorf("tree diff -want +got:\n%s", diff)
	}
	if len(tree.Problems) != 0 {
		t.Errorf("Problems=%v; want none", tree.Problems)
	}

	var headers []string
	for i, n := range tree.Includes {
		if n.Index != i {
			t.Errorf("Includes[%d].Index=%d", i, n.Index)
		}
		headers = append(headers, n.Header)
	}
	if diff := cmp.Diff([]string{"<stdint.h>", `"c.h"`}, headers); diff != "" {
		t.Errorf("headers diff -want +got:\n%s", diff)
	}

	guard := tree.Nodes[1]
	if guard.Name.Text != "FOO_H_" {
		t.Errorf("guard name=%q; want FOO_H_", guard.Name.Text)
	}
	if got, want := buf[guard.Name.Offset:guard.Name.End], "FOO_H_"; got != want {
		t.Errorf("guard name range=%q; want %q", got, want)
	}
	if got := buf[guard.Offset:guard.End]; got != "#ifndef FOO_H_" {
		t.Errorf("guard directive=%q", got)
	}
	if guard.BlockEnd != strings.LastIndex(buf, "\n") {
		t.Errorf("guard.BlockEnd=%d; want %d", guard.BlockEnd, strings.LastIndex(buf, "\n"))
	}
}

func TestBuildDefine(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		line      string
		name      string
		funcLike  bool
		params    []string
		variadic  bool
		body      string
		malformed bool
	}{
		{line: "#define FOO 1", name: "FOO", body: "1"},
		{line: "#define FOO (1)", name: "FOO", body: "( 1 )"},
		{line: "#define EMPTY", name: "EMPTY", body: ""},
		{line: "#define F(a, b) a + b /* c */", name: "F", funcLike: true, params: []string{"a", "b"}, body: "a + b"},
		{line: "#define G() g", name: "G", funcLike: true, params: []string{}, body: "g"},
		{line: "#define V(fmt, ...) printf(fmt, __VA_ARGS__)", name: "V", funcLike: true, params: []string{"fmt"}, variadic: true, body: "printf ( fmt , __VA_ARGS__ )"},
		{line: "#define N(args...) f(args)", name: "N", funcLike: true, params: []string{"args"}, variadic: true, body: "f ( args )"},
		{line: "#define B(a,", name: "B", funcLike: true, params: []string{"a"}, malformed: true},
		{line: "#define 1", malformed: true},
	} {
		t.Run(tc.line, func(t *testing.T) {
			tree, err := Build(ctx, "x.h", []byte(tc.line+"\n"), Header)
			if err != nil {
				t.Fatal(err)
			}
			if len(tree.Nodes) != 1 {
				t.Fatalf("nodes=%v; want 1 node", tree.Nodes)
			}
			n := tree.Nodes[0]
			if n.Kind != Define {
				t.Fatalf("kind=%v; want define", n.Kind)
			}
			if got := n.Malformed != ""; got != tc.malformed {
				t.Fatalf("malformed=%q; want %t", n.Malformed, tc.malformed)
			}
			if tc.malformed {
				return
			}
			if n.Name.Text != tc.name || n.FuncLike != tc.funcLike || n.Variadic != tc.variadic {
				t.Errorf("name=%q funcLike=%t variadic=%t; want %q %t %t", n.Name.Text, n.FuncLike, n.Variadic, tc.name, tc.funcLike, tc.variadic)
			}
			if diff := cmp.Diff(tc.params, n.Params); diff != "" {
				t.Errorf("params diff -want +got:\n%s", diff)
			}
			var body []string
			for _, tok := range n.Tokens {
				body = append(body, tok.Text)
			}
			if got := strings.Join(body, " "); got != tc.body {
				t.Errorf("body=%q; want %q", got, tc.body)
			}
		})
	}
}

func TestBuildProblems(t *testing.T) {
	ctx := context.Background()
	buf := `#endif
#else
#if A
#include
#define
`
	tree, err := Build(ctx, "bad.c", []byte(buf), Source)
	if err != nil {
		t.Fatal(err)
	}
	var msgs []string
	for _, p := range tree.Problems {
		msgs = append(msgs, p.Msg)
	}
	want := []string{
		"#endif without #if",
		"#else without #if",
		`#include expects "FILENAME" or <FILENAME>`,
		"#define without macro name",
		"unterminated #if",
	}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("problems diff -want +got:\n%s", diff)
	}
	if len(tree.Nodes) != 1 || tree.Nodes[0].Kind != If {
		t.Fatalf("nodes=%v; want one #if", tree.Nodes)
	}
	if got := tree.Nodes[0].BlockEnd; got != len(buf) {
		t.Errorf("BlockEnd=%d; want %d", got, len(buf))
	}
}

func TestBuildMacroInclude(t *testing.T) {
	ctx := context.Background()
	buf := "#define H \"h.h\"\n#include H\n#include_next <sys/x.h>\n#import \"m.h\"\n"
	tree, err := Build(ctx, "a.c", []byte(buf), Source)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Includes) != 3 {
		t.Fatalf("includes=%v; want 3", tree.Includes)
	}
	inc := tree.Includes[0]
	if inc.Header != "" || len(inc.Tokens) != 1 || inc.Tokens[0].Text != "H" {
		t.Errorf("include H: header=%q tokens=%v", inc.Header, inc.Tokens)
	}
	if got := tree.Includes[1]; got.Kind != IncludeNext || got.Header != "<sys/x.h>" {
		t.Errorf("include_next: kind=%v header=%q", got.Kind, got.Header)
	}
	if got := tree.Includes[2]; got.Kind != Include || got.Header != `"m.h"` {
		t.Errorf("import: kind=%v header=%q", got.Kind, got.Header)
	}
}

func TestKindOf(t *testing.T) {
	for fname, want := range map[string]FileKind{
		"a.c":    Source,
		"b.CC":   Source,
		"c.h":    Header,
		"d.hpp":  Header,
		"vector": Header,
		"e.mm":   Source,
	} {
		if got := KindOf(fname); got != want {
			t.Errorf("KindOf(%q)=%v; want %v", fname, got, want)
		}
	}
}
