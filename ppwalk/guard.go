// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ppwalk

import (
	"context"
	"errors"

	"go.chromium.org/infra/build/ppwalk/pptoken"
	"go.chromium.org/infra/build/ppwalk/pptree"
)

// guardDetector detects classic include guard:
//
//	// comments
//	#ifndef NAME
//	#define NAME
//	...
//	#endif
//	// comments
//
// It stops as soon as it reaches content that is not part of the
// pattern.
type guardDetector struct {
	NopHooks
	// tree is the tree of the file walked, holding ifndef.
	tree   *pptree.Tree
	ifndef *pptree.Node
	found  bool
}

func commentsOnly(n *pptree.Node) bool {
	if n.Kind != pptree.TokenRun {
		return false
	}
	for _, t := range n.Tokens {
		if t.Kind != pptoken.Comment && t.Kind != pptoken.Newline {
			return false
		}
	}
	return true
}

func (g *guardDetector) ShouldStop(w *Walker, n *pptree.Node) bool {
	if w.Depth() > 0 {
		return false
	}
	if commentsOnly(n) {
		return false
	}
	if g.ifndef == nil {
		if n.Kind == pptree.Ifndef && n.Malformed == "" {
			g.tree = w.Tree()
			g.ifndef = n
			return false
		}
		// content before #ifndef.
		return true
	}
	// first content in #ifndef must be #define of the same name.
	g.found = n.Kind == pptree.Define && n.Malformed == "" && n.Name.Text == g.ifndef.Name.Text
	return true
}

func (g *guardDetector) OnInclude(context.Context, *Walker, *pptree.Node, IncludeFrame) bool {
	return false
}

// guardStructure checks ifndef has no other branches and is followed
// only by comments in tree.
func guardStructure(tree *pptree.Tree, ifndef *pptree.Node) bool {
	if len(ifndef.Branches) > 0 || ifndef.Endif == nil {
		return false
	}
	i := 0
	for i < len(tree.Nodes) && tree.Nodes[i] != ifndef {
		i++
	}
	if i == len(tree.Nodes) {
		return false
	}
	for _, n := range tree.Nodes[i+1:] {
		if !commentsOnly(n) {
			return false
		}
	}
	return true
}

// DetectGuard detects include guard of file, and returns the range of
// the guard macro name in #ifndef.
// It returns false if file has no guard or doesn't exist.
func DetectGuard(ctx context.Context, env Env, file string, diags *Diagnostics) (Range, bool, error) {
	g := &guardDetector{}
	st := NewState(nil, Paths{})
	w := NewWalker(env, st, g, Options{Diags: diags})
	_, err := w.Walk(ctx, file)
	if errors.Is(err, ErrNoFile) {
		return Range{}, false, nil
	}
	if err != nil {
		return Range{}, false, err
	}
	if !g.found || w.Stopped() == Cancelled {
		return Range{}, false, nil
	}
	if !guardStructure(g.tree, g.ifndef) {
		return Range{}, false, nil
	}
	name := g.ifndef.Name
	return Range{Start: name.Offset, End: name.End}, true, nil
}
