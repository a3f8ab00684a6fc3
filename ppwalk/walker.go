// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ppwalk walks directive trees of C/C++ files, simulating
// conditional compilation under preprocessing states.
//
// The Walker traverses a directive tree depth-first, evaluates
// conditionals against the state's macro table, applies #define and
// #undef, and recurses into included files. Walker variants (usage
// collector, include guard detector, stop-at-offset expander, state
// restorer and include stack recorder) are Hooks plugged into the
// Walker.
package ppwalk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/charmbracelet/log"

	"go.chromium.org/infra/build/ppwalk/macros"
	"go.chromium.org/infra/build/ppwalk/pptoken"
	"go.chromium.org/infra/build/ppwalk/pptree"
)

var (
	// ErrNoFile is returned when a file to walk is not found.
	ErrNoFile = errors.New("no file")

	// ErrInvalidState is returned when a state became invalid,
	// e.g. the include graph changed since the include stack was
	// recorded.
	ErrInvalidState = errors.New("invalid preprocessing state")
)

// DefaultMaxIncludeDepth is the default limit of nested includes.
const DefaultMaxIncludeDepth = 200

// Include is a resolved include.
type Include struct {
	Path string
	// DirIndex is the index in State.Paths.Dirs() where Path was
	// found, or -1 if it was found relative to the includer.
	DirIndex int
}

// Env provides directive trees and include resolution to walkers.
type Env interface {
	// Tree returns the directive tree of path.
	// It returns an error wrapping fs.ErrNotExist if path doesn't exist.
	Tree(ctx context.Context, path string) (*pptree.Tree, error)

	// ResolveInclude resolves header ("foo.h" or <foo.h>) included
	// from file under st. next is true for #include_next.
	// It returns an error wrapping fs.ErrNotExist if not found.
	ResolveInclude(ctx context.Context, st *State, from, header string, next bool) (Include, error)
}

// StopReason is a reason why a walk stopped.
type StopReason int

const (
	NotStopped StopReason = iota
	// Cancelled is set when the context was cancelled.
	Cancelled
	// StopCondition is set when Hooks.ShouldStop returned true.
	StopCondition
	// Restored is set when the state restorer reached the target include.
	Restored
	// Invalidated is set when the state was invalidated.
	Invalidated
)

func (r StopReason) String() string {
	switch r {
	case NotStopped:
		return "not-stopped"
	case Cancelled:
		return "cancelled"
	case StopCondition:
		return "stop-condition"
	case Restored:
		return "restored"
	case Invalidated:
		return "invalidated"
	}
	return fmt.Sprintf("stop(%d)", int(r))
}

// Hooks are callbacks of walker variants.
// Hooks are called only for nodes in taken branches.
type Hooks interface {
	// OnDefine is called for #define before def is added to the
	// macro table.
	OnDefine(ctx context.Context, w *Walker, n *pptree.Node, def *macros.Definition)

	// OnUndef is called for #undef before the macro is removed.
	OnUndef(ctx context.Context, w *Walker, n *pptree.Node)

	// OnConditional is called for each evaluated #if, #ifdef, #ifndef,
	// #elif and #else with the evaluation result.
	OnConditional(ctx context.Context, w *Walker, n *pptree.Node, taken bool)

	// OnInclude is called for #include and #include_next.
	// frame.Path is empty if the include was not resolved.
	// It returns whether to descend into the included file.
	OnInclude(ctx context.Context, w *Walker, n *pptree.Node, frame IncludeFrame) bool

	// OnMissing is called when the included file of frame is missing.
	OnMissing(ctx context.Context, w *Walker, frame IncludeFrame)

	// OnTokens is called for runs of non-directive tokens.
	OnTokens(ctx context.Context, w *Walker, n *pptree.Node)

	// ShouldStop is polled before each node.
	ShouldStop(w *Walker, n *pptree.Node) bool
}

// NopHooks is Hooks that does nothing. It is embedded by walker
// variants to implement only hooks they need.
type NopHooks struct{}

func (NopHooks) OnDefine(context.Context, *Walker, *pptree.Node, *macros.Definition) {}
func (NopHooks) OnUndef(context.Context, *Walker, *pptree.Node) {}
func (NopHooks) OnConditional(context.Context, *Walker, *pptree.Node, bool) {}
func (NopHooks) OnInclude(context.Context, *Walker, *pptree.Node, IncludeFrame) bool {
	return true
}
func (NopHooks) OnMissing(context.Context, *Walker, IncludeFrame) {}
func (NopHooks) OnTokens(context.Context, *Walker, *pptree.Node) {}
func (NopHooks) ShouldStop(*Walker, *pptree.Node) bool { return false }

// Options are options of walker.
type Options struct {
	// Cache is used for include entries if UseIncludeCache is set.
	Cache *Cache
	// UseIncludeCache reuses the end state of included files walked
	// before under the same state.
	UseIncludeCache bool
	// Remember stores include entries for included files walked to
	// completion.
	Remember bool

	Diags *Diagnostics

	// MaxIncludeDepth limits nested includes.
	// DefaultMaxIncludeDepth if 0.
	MaxIncludeDepth int
}

// Walker walks directive trees under a state.
// A Walker is single-threaded and used for one walk.
type Walker struct {
	env   Env
	hooks Hooks
	opts  Options
	st    *State

	// base is the length of the include stack at start of the walk.
	base int

	file string
	tree *pptree.Tree

	// truncated is set when an include was skipped by the depth limit
	// or a cycle, so the end state of enclosing includes is partial.
	truncated bool

	stopped StopReason
}

// NewWalker creates a walker over env, mutating st.
func NewWalker(env Env, st *State, hooks Hooks, opts Options) *Walker {
	if hooks == nil {
		hooks = NopHooks{}
	}
	if opts.MaxIncludeDepth <= 0 {
		opts.MaxIncludeDepth = DefaultMaxIncludeDepth
	}
	return &Walker{
		env:   env,
		hooks: hooks,
		opts:  opts,
		st:    st,
	}
}

// State returns the state of the walker.
func (w *Walker) State() *State { return w.st }

// File returns the file currently walked.
func (w *Walker) File() string { return w.file }

// Tree returns the tree of the file currently walked.
func (w *Walker) Tree() *pptree.Tree { return w.tree }

// Depth returns include depth of the current file; 0 for the file
// given to Walk.
func (w *Walker) Depth() int { return len(w.st.Stack) - w.base }

// Truncated reports whether any include was skipped by the include
// depth limit or an include cycle.
func (w *Walker) Truncated() bool { return w.truncated }

// onStack reports whether path is being walked, i.e. it is the current
// file or on the include stack.
func (w *Walker) onStack(path string) bool {
	if path == w.file {
		return true
	}
	for _, f := range w.st.Stack {
		if f.File == path || f.Path == path {
			return true
		}
	}
	return false
}

// Stop stops the walk by reason.
func (w *Walker) Stop(reason StopReason) {
	if w.stopped == NotStopped {
		w.stopped = reason
	}
}

// Stopped returns why the walk stopped.
func (w *Walker) Stopped() StopReason { return w.stopped }

// Diag records a diagnostic at offset of the current file.
func (w *Walker) Diag(kind DiagKind, offset int, msg string) {
	w.opts.Diags.Add(Diag{
		Kind:   kind,
		File:   w.file,
		Offset: offset,
		Msg:    msg,
		State:  w.st.ID,
	})
}

// Walk walks path. It returns true if the walk ran to completion.
// It returns an error wrapping ErrNoFile if path doesn't exist, or
// other I/O errors.
func (w *Walker) Walk(ctx context.Context, path string) (bool, error) {
	w.base = len(w.st.Stack)
	err := w.walkFile(ctx, path)
	if err != nil {
		return false, err
	}
	log.Debugf("walk %s state=%s: stopped=%s", path, w.st.ID, w.stopped)
	return w.stopped == NotStopped, nil
}

func (w *Walker) walkFile(ctx context.Context, path string) error {
	tree, err := w.env.Tree(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.opts.Diags.Add(Diag{Kind: InputMissing, File: path, Msg: err.Error(), State: w.st.ID})
			return fmt.Errorf("%s: %w", path, ErrNoFile)
		}
		if ctx.Err() != nil {
			w.Stop(Cancelled)
			return nil
		}
		return fmt.Errorf("failed to get tree of %s: %w", path, err)
	}
	prevFile, prevTree := w.file, w.tree
	w.file, w.tree = path, tree
	defer func() {
		w.file, w.tree = prevFile, prevTree
	}()
	return w.walkNodes(ctx, tree.Nodes)
}

func (w *Walker) checkStop(ctx context.Context, n *pptree.Node) bool {
	if w.stopped != NotStopped {
		return true
	}
	if ctx.Err() != nil {
		w.Stop(Cancelled)
		return true
	}
	if w.hooks.ShouldStop(w, n) {
		w.Stop(StopCondition)
		return true
	}
	return false
}

func (w *Walker) walkNodes(ctx context.Context, nodes []*pptree.Node) error {
	for _, n := range nodes {
		if w.checkStop(ctx, n) {
			return nil
		}
		var err error
		switch n.Kind {
		case pptree.Define:
			w.define(ctx, n)
		case pptree.Undef:
			if n.Malformed != "" {
				w.Diag(MalformedDirective, n.Offset, n.Malformed)
				continue
			}
			w.hooks.OnUndef(ctx, w, n)
			w.st.Macros.Undef(n.Name.Text)
		case pptree.If, pptree.Ifdef, pptree.Ifndef:
			err = w.conditional(ctx, n)
		case pptree.Include, pptree.IncludeNext:
			err = w.include(ctx, n)
		case pptree.TokenRun:
			w.hooks.OnTokens(ctx, w, n)
		case pptree.PragmaOnce:
			w.st.markOnce(w.file)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) define(ctx context.Context, n *pptree.Node) {
	if n.Malformed != "" {
		w.Diag(MalformedDirective, n.Offset, n.Malformed)
		return
	}
	for _, t := range n.Tokens {
		if t.Unterminated {
			w.Diag(MalformedDirective, n.Offset, fmt.Sprintf("unterminated %s in body of %s", t.Kind, n.Name.Text))
			return
		}
	}
	def := &macros.Definition{
		Name:     n.Name.Text,
		Kind:     macros.UserDefined,
		FuncLike: n.FuncLike,
		Params:   n.Params,
		Variadic: n.Variadic,
		VarArgs:  n.VarArgs,
		Body:     n.Tokens,
		File:     w.file,
		Offset:   n.Name.Offset,
	}
	w.hooks.OnDefine(ctx, w, n, def)
	w.st.Macros.Define(def)
}

// eval evaluates the condition of n. Malformed conditions are not taken.
func (w *Walker) eval(n *pptree.Node) bool {
	if n.Malformed != "" {
		w.Diag(MalformedDirective, n.Offset, n.Malformed)
		return false
	}
	switch n.Kind {
	case pptree.Else:
		return true
	case pptree.Ifdef:
		return w.st.Macros.Lookup(n.Name.Text) != nil
	case pptree.Ifndef:
		return w.st.Macros.Lookup(n.Name.Text) == nil
	}
	ok, err := macros.Eval(n.Tokens, w.st.Macros)
	if err != nil {
		w.Diag(MalformedDirective, n.Offset, fmt.Sprintf("#%s %s: %v", n.Kind, pptoken.Spell(n.Tokens), err))
		return false
	}
	return ok
}

func (w *Walker) conditional(ctx context.Context, n *pptree.Node) error {
	taken := w.eval(n)
	w.hooks.OnConditional(ctx, w, n, taken)
	if taken {
		return w.walkNodes(ctx, n.Children)
	}
	for _, b := range n.Branches {
		if w.checkStop(ctx, b) {
			return nil
		}
		taken = w.eval(b)
		w.hooks.OnConditional(ctx, w, b, taken)
		if taken {
			return w.walkNodes(ctx, b.Children)
		}
	}
	return nil
}

// includeHeader returns header name of include n, expanding macros
// if n doesn't use literal header name.
func (w *Walker) includeHeader(n *pptree.Node) string {
	if n.Header != "" {
		return n.Header
	}
	toks := pptoken.WithoutComments(macros.Expand(n.Tokens, w.st.Macros))
	if len(toks) == 0 {
		return ""
	}
	switch {
	case toks[0].Kind == pptoken.String && strings.HasPrefix(toks[0].Text, `"`) && !toks[0].Unterminated:
		return toks[0].Text
	case toks[0].Is("<"):
		for i, t := range toks {
			if t.Is(">") {
				return pptoken.Spell(toks[:i+1])
			}
		}
	}
	return ""
}

func (w *Walker) include(ctx context.Context, n *pptree.Node) error {
	frame := IncludeFrame{
		File:     w.file,
		Index:    n.Index,
		Next:     n.Kind == pptree.IncludeNext,
		DirIndex: -1,
	}
	var header string
	if n.Malformed != "" {
		w.Diag(MalformedDirective, n.Offset, n.Malformed)
	} else {
		header = w.includeHeader(n)
		if header == "" {
			w.Diag(MalformedDirective, n.Offset, fmt.Sprintf("#%s %s: expands to no header name", n.Kind, pptoken.Spell(n.Tokens)))
		}
	}
	if header != "" {
		inc, err := w.env.ResolveInclude(ctx, w.st, w.file, header, frame.Next)
		switch {
		case err == nil:
			frame.Path = inc.Path
			frame.DirIndex = inc.DirIndex
		case errors.Is(err, fs.ErrNotExist):
			w.Diag(UnresolvedInclude, n.Offset, fmt.Sprintf("#%s %s: %v", n.Kind, header, err))
		case ctx.Err() != nil:
			w.Stop(Cancelled)
			return nil
		default:
			return fmt.Errorf("failed to resolve %s in %s: %w", header, w.file, err)
		}
	}
	descend := w.hooks.OnInclude(ctx, w, n, frame)
	if !descend || frame.Path == "" || w.stopped != NotStopped {
		return nil
	}
	if w.st.Once(frame.Path) {
		return nil
	}
	if w.onStack(frame.Path) {
		w.Diag(IncludeCycle, n.Offset, fmt.Sprintf("#include cycle: %s", frame.Path))
		w.truncated = true
		return nil
	}
	if len(w.st.Stack) >= w.opts.MaxIncludeDepth {
		w.Diag(IncludeDepth, n.Offset, fmt.Sprintf("#include nested too deeply: %s", frame.Path))
		w.truncated = true
		return nil
	}
	return w.descend(ctx, frame)
}

func (w *Walker) descend(ctx context.Context, frame IncludeFrame) error {
	w.st.Stack = append(w.st.Stack, frame)
	defer func() {
		w.st.Stack = w.st.Stack[:len(w.st.Stack)-1]
	}()
	useCache := w.opts.UseIncludeCache && w.opts.Cache != nil
	var key cacheKey
	if useCache {
		key = cacheKey{path: frame.Path, fp: w.st.Fingerprint()}
		if e, ok := w.opts.Cache.include(key); ok {
			w.st.Macros = e.macros.Clone()
			for _, f := range e.once {
				w.st.markOnce(f)
			}
			return nil
		}
	}
	// truncated is tracked per include; a partial end state must not
	// be remembered, but it makes every includer partial too.
	outer := w.truncated
	w.truncated = false
	defer func() {
		w.truncated = w.truncated || outer
	}()
	err := w.walkFile(ctx, frame.Path)
	if errors.Is(err, ErrNoFile) {
		w.hooks.OnMissing(ctx, w, frame)
		return nil
	}
	if err != nil {
		return err
	}
	if useCache && w.opts.Remember && w.stopped == NotStopped && !w.truncated {
		w.opts.Cache.setInclude(key, w.st)
	}
	return nil
}
