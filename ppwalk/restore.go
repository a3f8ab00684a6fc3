// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ppwalk

import (
	"context"
	"errors"
	"fmt"

	"go.chromium.org/infra/build/ppwalk/pptree"
)

// restoredStateNotRemembered: restored states are never stored in the
// cache, and the restorer walks without the include cache. A header
// reached only through restoration may be analyzed with a state that
// became stale after other configurations changed; such headers are
// not re-escalated to a full forward walk. This is a known limitation.
const restoredStateNotRemembered = true

// restorer replays an include stack to reconstruct the state at the
// last frame's include directive.
type restorer struct {
	NopHooks
	frames []IncludeFrame

	// level is the number of frames entered so far.
	level int

	restored bool
	stack    []IncludeFrame
	missing  string
}

func (r *restorer) invalidate(w *Walker, format string, args ...any) {
	w.State().Invalidate()
	w.Diag(StateInvalidated, 0, fmt.Sprintf(format, args...))
	w.Stop(Invalidated)
}

func (r *restorer) ShouldStop(w *Walker, n *pptree.Node) bool {
	if w.Depth() < r.level {
		// returned from a file on the stack without reaching the
		// next frame.
		r.invalidate(w, "include of %s not reached", r.frames[w.Depth()+1].Path)
		return true
	}
	return false
}

func (r *restorer) OnInclude(ctx context.Context, w *Walker, n *pptree.Node, frame IncludeFrame) bool {
	if w.Depth() != r.level {
		return true
	}
	want := r.frames[r.level]
	switch {
	case n.Index < want.Index:
		return true
	case n.Index > want.Index:
		r.invalidate(w, "passed include #%d in %s", want.Index, want.File)
		return false
	}
	if frame.File != want.File || frame.Path != want.Path || frame.Next != want.Next {
		r.invalidate(w, "include #%d in %s: got %s; want %s", want.Index, want.File, frame.Path, want.Path)
		return false
	}
	if r.level == len(r.frames)-1 {
		r.stack = append(append([]IncludeFrame(nil), w.State().Stack...), frame)
		r.restored = true
		w.Stop(Restored)
		return false
	}
	r.level++
	return true
}

func (r *restorer) OnMissing(ctx context.Context, w *Walker, frame IncludeFrame) {
	if r.level == 0 {
		return
	}
	if want := r.frames[r.level-1]; frame.File == want.File && frame.Index == want.Index {
		r.missing = frame.Path
		w.Stop(Invalidated)
	}
}

// Restore reconstructs the state at the include directive of the last
// frame of frames, by replaying frames from frames[0].File under a
// clone of base. The returned state's Stack is frames (with resolved
// include dirs), and it is ready to walk the last frame's Path.
//
// It returns an error wrapping ErrNoFile if a file on the stack is
// missing, or ErrInvalidState if the include graph no longer matches
// frames. Restored states are not remembered in the cache.
func Restore(ctx context.Context, env Env, base *State, frames []IncludeFrame, diags *Diagnostics) (*State, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no include frames: %w", ErrInvalidState)
	}
	st := base.Clone()
	st.Stack = nil
	st.restored = false
	r := &restorer{frames: frames}
	w := NewWalker(env, st, r, Options{
		Diags:           diags,
		UseIncludeCache: !restoredStateNotRemembered,
	})
	_, err := w.Walk(ctx, frames[0].File)
	if err != nil {
		return nil, err
	}
	switch {
	case r.missing != "":
		return nil, fmt.Errorf("restore %s: %s: %w", frames[len(frames)-1].Path, r.missing, ErrNoFile)
	case w.Stopped() == Cancelled:
		return nil, context.Cause(ctx)
	case !r.restored:
		if st.Valid() {
			st.Invalidate()
			diags.Add(Diag{
				Kind:  StateInvalidated,
				File:  frames[0].File,
				Msg:   fmt.Sprintf("include of %s not reached", frames[r.level].Path),
				State: st.ID,
			})
		}
		return nil, fmt.Errorf("restore %s: %w", frames[len(frames)-1].Path, ErrInvalidState)
	}
	st.Stack = r.stack
	st.restored = true
	return st, nil
}

// IsInvalid reports whether err is caused by an invalidated state.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidState)
}
