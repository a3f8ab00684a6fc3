// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package pptree builds directive trees of C/C++ files.
//
// A directive tree is the structural representation of the
// preprocessing directives of a file:
//
//	#define / #undef
//	#if / #ifdef / #ifndef with their #elif / #else branches
//	#include / #include_next / #import
//	runs of ordinary code tokens between directives
//
// Conditionals own their nested nodes, so walkers only descend into
// branches they take. Trees are immutable once built and shared by all
// walks of the file.
package pptree

import (
	"fmt"
	"path"
	"strings"

	"go.chromium.org/infra/build/ppwalk/pptoken"
)

// Kind is a kind of directive node.
type Kind int

const (
	Define Kind = iota
	Undef
	If
	Ifdef
	Ifndef
	Elif
	Else
	Endif
	Include
	IncludeNext
	TokenRun
	PragmaOnce
	Other
)

var kindNames = [...]string{
	Define:      "define",
	Undef:       "undef",
	If:          "if",
	Ifdef:       "ifdef",
	Ifndef:      "ifndef",
	Elif:        "elif",
	Else:        "else",
	Endif:       "endif",
	Include:     "include",
	IncludeNext: "include_next",
	TokenRun:    "tokens",
	PragmaOnce:  "pragma-once",
	Other:       "other",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsConditional reports whether k opens a conditional block.
func (k Kind) IsConditional() bool {
	return k == If || k == Ifdef || k == Ifndef
}

// IsInclude reports whether k is an include directive.
func (k Kind) IsInclude() bool {
	return k == Include || k == IncludeNext
}

// FileKind is a kind of file.
type FileKind int

const (
	Source FileKind = iota
	Header
)

func (k FileKind) String() string {
	if k == Header {
		return "header"
	}
	return "source"
}

// KindOf returns file kind of fname by its extension.
func KindOf(fname string) FileKind {
	switch strings.ToLower(path.Ext(fname)) {
	case ".c", ".cc", ".cpp", ".cxx", ".c++", ".m", ".mm":
		return Source
	}
	return Header
}

// Node is a directive tree node.
type Node struct {
	Kind Kind

	// Offset is the offset of the node start ('#' for directives).
	// End is the offset of the end of the directive line (or the last
	// token of a token run).
	Offset int
	End    int

	// Name is the macro name token of define, undef, ifdef and ifndef.
	Name pptoken.Token

	// FuncLike, Params and Variadic describe function-like defines.
	// VarArgs is the name of the variadic parameter: "__VA_ARGS__"
	// for "...", or the parameter name for GNU "args...".
	FuncLike bool
	Params   []string
	Variadic bool
	VarArgs  string

	// Tokens is the condition of if/elif, the path tokens of includes,
	// the body of define, and the tokens of token run.
	// Comments are removed except for token runs.
	Tokens []pptoken.Token

	// Header is the literal header name of includes, i.e. "foo.h" or
	// <foo.h> including delimiters. Empty if include uses macros.
	Header string

	// Index is the index of include directives in the file.
	Index int

	// Children are nodes of the branch that starts with this node.
	// Set for if, ifdef, ifndef, elif and else.
	Children []*Node

	// Branches are elif/else branches of if, ifdef and ifndef.
	Branches []*Node

	// Endif is the closing #endif of a conditional. nil if unterminated.
	Endif *Node

	// BlockEnd is the end offset of the whole conditional block.
	BlockEnd int

	// Malformed describes why the directive could not be parsed.
	Malformed string
}

func (n *Node) String() string {
	switch n.Kind {
	case Define, Undef, Ifdef, Ifndef:
		return fmt.Sprintf("#%s %s@%d", n.Kind, n.Name.Text, n.Offset)
	case Include, IncludeNext:
		if n.Header != "" {
			return fmt.Sprintf("#%s %s@%d", n.Kind, n.Header, n.Offset)
		}
		return fmt.Sprintf("#%s %s@%d", n.Kind, pptoken.Spell(n.Tokens), n.Offset)
	case TokenRun:
		return fmt.Sprintf("tokens[%d]@%d", len(n.Tokens), n.Offset)
	}
	return fmt.Sprintf("#%s@%d", n.Kind, n.Offset)
}

// Problem is a structural problem found while building a tree.
type Problem struct {
	Offset int
	Msg    string
}

func (p Problem) String() string {
	return fmt.Sprintf("%d: %s", p.Offset, p.Msg)
}

// Tree is a directive tree of a file.
type Tree struct {
	Path string
	Kind FileKind
	Size int

	Nodes []*Node

	// Includes are include directives indexed by Node.Index.
	Includes []*Node

	Problems []Problem
}

// Walk calls fn for each node in document order, including nodes in all
// branches of conditionals. It stops descending if fn returns false.
func (t *Tree) Walk(fn func(n *Node) bool) {
	walkNodes(t.Nodes, fn)
}

func walkNodes(nodes []*Node, fn func(n *Node) bool) bool {
	for _, n := range nodes {
		if !fn(n) {
			return false
		}
		if !walkNodes(n.Children, fn) {
			return false
		}
		for _, b := range n.Branches {
			if !fn(b) {
				return false
			}
			if !walkNodes(b.Children, fn) {
				return false
			}
		}
		if n.Endif != nil && !fn(n.Endif) {
			return false
		}
	}
	return true
}
