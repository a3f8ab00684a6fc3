// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ppwalk

import (
	"context"
	"errors"

	"go.chromium.org/infra/build/ppwalk/macros"
	"go.chromium.org/infra/build/ppwalk/pptoken"
	"go.chromium.org/infra/build/ppwalk/pptree"
)

// offsetStopper stops the walk at the first node of the walked file
// that ends at or after offset.
type offsetStopper struct {
	NopHooks
	offset int
}

func (s offsetStopper) ShouldStop(w *Walker, n *pptree.Node) bool {
	return w.Depth() == 0 && n.End >= s.offset
}

// MacrosAt returns the macro table of file at offset under st.
// st is not modified. The walk is partial by construction, so it
// reads the include cache but never writes to it.
// It returns nil table if the walk was cancelled.
func MacrosAt(ctx context.Context, env Env, st *State, file string, offset int, opts Options) (*macros.Table, error) {
	st = st.Clone()
	opts.UseIncludeCache = true
	opts.Remember = false
	w := NewWalker(env, st, offsetStopper{offset: offset}, opts)
	_, err := w.Walk(ctx, file)
	if err != nil && !errors.Is(err, ErrNoFile) {
		return nil, err
	}
	if w.Stopped() == Cancelled {
		return nil, nil
	}
	return st.Macros, nil
}

// ExpandAtOffset expands fragment with the macro table of file at
// offset under st, and returns the expansion without comments.
func ExpandAtOffset(ctx context.Context, env Env, st *State, file, fragment string, offset int, opts Options) (string, error) {
	table, err := MacrosAt(ctx, env, st, file, offset, opts)
	if err != nil || table == nil {
		return "", err
	}
	e := &macros.Expander{
		Table: table,
		File:  file,
	}
	toks := e.Expand(pptoken.LexString(fragment))
	return pptoken.Join(pptoken.WithoutComments(toks)), nil
}
