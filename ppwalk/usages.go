// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ppwalk

import (
	"context"
	"slices"

	"go.chromium.org/infra/build/ppwalk/macros"
	"go.chromium.org/infra/build/ppwalk/pptoken"
	"go.chromium.org/infra/build/ppwalk/pptree"
)

// usageCollector collects macro references in the walked file.
// References in included files are not collected, but includes are
// walked to keep the macro table up to date.
type usageCollector struct {
	NopHooks
	resolve *ResolveEnv
	refs    []MacroRef
}

func (c *usageCollector) ref(w *Walker, tok pptoken.Token, kind RefKind, def *macros.Definition) MacroRef {
	rng := Range{Start: tok.Offset, End: tok.End}
	if def.Kind != macros.UserDefined {
		return NewSystemRef(w.File(), rng, def)
	}
	return NewLazyRef(w.File(), rng, kind, def, c.resolve)
}

// directive records unconditional usages of macros in directive tokens.
func (c *usageCollector) directive(w *Walker, toks []pptoken.Token) {
	for _, t := range toks {
		if t.Kind != pptoken.Ident {
			continue
		}
		def := w.State().Macros.Lookup(t.Text)
		if def == nil {
			continue
		}
		c.refs = append(c.refs, c.ref(w, t, DirectUsage, def))
	}
}

// code records usages of macros in ordinary code tokens. Function-like
// macros are used only when followed by '('. Identifiers in params are
// macro parameters, not macros.
func (c *usageCollector) code(w *Walker, toks []pptoken.Token, params []string) {
	for i, t := range toks {
		if t.Kind != pptoken.Ident || slices.Contains(params, t.Text) {
			continue
		}
		def := w.State().Macros.Lookup(t.Text)
		if def == nil {
			continue
		}
		if def.FuncLike && !followedByParen(toks[i+1:]) {
			continue
		}
		c.refs = append(c.refs, c.ref(w, t, DirectUsage, def))
	}
}

func followedByParen(toks []pptoken.Token) bool {
	for _, t := range toks {
		switch t.Kind {
		case pptoken.Comment, pptoken.Newline:
			continue
		}
		return t.Is("(")
	}
	return false
}

func (c *usageCollector) OnDefine(ctx context.Context, w *Walker, n *pptree.Node, def *macros.Definition) {
	if w.Depth() > 0 {
		return
	}
	// the declaration goes where the usage pass of the define started,
	// i.e. before usages in the body.
	start := len(c.refs)
	var params []string
	if n.FuncLike {
		params = n.Params
		if n.Variadic {
			params = append(slices.Clip(params), n.VarArgs)
		}
	}
	c.code(w, n.Tokens, params)
	decl := c.ref(w, n.Name, Declaration, def)
	c.refs = slices.Insert(c.refs, start, decl)
}

func (c *usageCollector) OnUndef(ctx context.Context, w *Walker, n *pptree.Node) {
	if w.Depth() > 0 {
		return
	}
	c.directive(w, []pptoken.Token{n.Name})
}

func (c *usageCollector) OnConditional(ctx context.Context, w *Walker, n *pptree.Node, taken bool) {
	if w.Depth() > 0 {
		return
	}
	switch n.Kind {
	case pptree.Ifdef, pptree.Ifndef:
		c.directive(w, []pptoken.Token{n.Name})
	case pptree.If, pptree.Elif:
		c.directive(w, n.Tokens)
	}
}

func (c *usageCollector) OnInclude(ctx context.Context, w *Walker, n *pptree.Node, frame IncludeFrame) bool {
	if w.Depth() == 0 && n.Header == "" {
		c.directive(w, n.Tokens)
	}
	return true
}

func (c *usageCollector) OnTokens(ctx context.Context, w *Walker, n *pptree.Node) {
	if w.Depth() > 0 {
		return
	}
	c.code(w, n.Tokens, nil)
}

// CollectUsages walks file under st and returns macro references in
// file in document order. st is not modified.
// It returns true if the walk ran to completion.
func CollectUsages(ctx context.Context, env Env, st *State, file string, resolve *ResolveEnv, opts Options) ([]MacroRef, bool, error) {
	c := &usageCollector{resolve: resolve}
	opts.UseIncludeCache = true
	w := NewWalker(env, st.Clone(), c, opts)
	complete, err := w.Walk(ctx, file)
	return c.refs, complete, err
}

// MergeRefs merges reference lists of multiple states into one list
// ordered by start offset. References at the same range are collapsed
// into the first one.
func MergeRefs(lists ...[]MacroRef) []MacroRef {
	var all []MacroRef
	for _, refs := range lists {
		all = append(all, refs...)
	}
	slices.SortStableFunc(all, func(a, b MacroRef) int {
		return a.Range().Start - b.Range().Start
	})
	seen := make(map[Range]bool)
	merged := all[:0]
	for _, r := range all {
		if seen[r.Range()] {
			continue
		}
		seen[r.Range()] = true
		merged = append(merged, r)
	}
	return merged
}
