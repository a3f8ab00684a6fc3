// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ppwalk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"go.chromium.org/infra/build/ppwalk/runtimex"
	"go.chromium.org/infra/build/ppwalk/sync/semaphore"
)

// WalkSemaphore is the name of the semaphore bounding concurrent walks
// of a service.
const WalkSemaphore = "ppwalk-walks"

// StateProvider provides preprocessing states of a file, e.g. one per
// build configuration.
type StateProvider interface {
	States(ctx context.Context, file string) ([]*State, error)
}

// Service serves macro usages, include guards, expansions and state
// restoration of files.
type Service struct {
	env     Env
	states  StateProvider
	resolve *ResolveEnv
	cache   *Cache
	diags   *Diagnostics
	sema    *semaphore.Semaphore
}

// ServiceOption is an option of Service.
type ServiceOption func(*Service)

// WithCache sets cache of the service.
func WithCache(c *Cache) ServiceOption {
	return func(s *Service) {
		s.cache = c
	}
}

// WithDiagnostics sets diagnostics collector of the service.
func WithDiagnostics(d *Diagnostics) ServiceOption {
	return func(s *Service) {
		s.diags = d
	}
}

// WithParallelism limits number of concurrent walks.
func WithParallelism(n int) ServiceOption {
	return func(s *Service) {
		s.sema = semaphore.New(WalkSemaphore, n)
	}
}

// NewService creates a new service.
func NewService(env Env, states StateProvider, resolve *ResolveEnv, opts ...ServiceOption) *Service {
	s := &Service{
		env:     env,
		states:  states,
		resolve: resolve,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewCache()
	}
	if s.diags == nil {
		s.diags = &Diagnostics{}
	}
	if s.sema == nil {
		s.sema = semaphore.New(WalkSemaphore, runtimex.NumCPU())
	}
	return s
}

// Cache returns the cache of the service.
func (s *Service) Cache() *Cache { return s.cache }

// Diags returns the diagnostics collector of the service.
func (s *Service) Diags() *Diagnostics { return s.diags }

// validStates returns valid states of file.
func (s *Service) validStates(ctx context.Context, file string) ([]*State, error) {
	states, err := s.states.States(ctx, file)
	if err != nil {
		return nil, err
	}
	var valid []*State
	for _, st := range states {
		if st.Valid() {
			valid = append(valid, st)
		}
	}
	if len(valid) == 0 {
		s.diags.Add(Diag{Kind: EmptyStateSet, File: file, Msg: "no preprocessing state"})
	}
	return valid, nil
}

// CollectMacroUsages collects macro references of file under all its
// states, merged in offset order.
// Cancellation of ctx is not an error; it returns partial results.
func (s *Service) CollectMacroUsages(ctx context.Context, file string) ([]MacroRef, error) {
	started := time.Now()
	states, err := s.validStates(ctx, file)
	if err != nil || len(states) == 0 {
		return nil, err
	}
	results := make([][]MacroRef, len(states))
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range states {
		g.Go(func() error {
			return s.sema.Do(gctx, func(ctx context.Context) error {
				refs, err := s.collect(ctx, file, st)
				results[i] = refs
				return err
			})
		})
	}
	err = g.Wait()
	switch {
	case err == nil:
	case ctx.Err() != nil:
		log.Infof("usages %s cancelled: %v", file, context.Cause(ctx))
	case errors.Is(err, ErrNoFile):
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to collect macro usages of %s: %w", file, err)
	}
	refs := MergeRefs(results...)
	log.Debugf("usages %s: states=%d refs=%d in %s", file, len(states), len(refs), time.Since(started))
	return refs, nil
}

func (s *Service) collect(ctx context.Context, file string, st *State) ([]MacroRef, error) {
	opts := Options{
		Cache:    s.cache,
		Remember: true,
		Diags:    s.diags,
	}
	if st.Restored() && restoredStateNotRemembered {
		opts.Remember = false
		refs, _, err := CollectUsages(ctx, s.env, st, file, s.resolve, opts)
		return refs, err
	}
	key := cacheKey{path: file, fp: st.Fingerprint()}
	return s.cache.usagesOrCollect(ctx, key, func() ([]MacroRef, bool, error) {
		return CollectUsages(ctx, s.env, st, file, s.resolve, opts)
	})
}

// DetectGuard detects include guard of file and returns the range of
// the guard macro name.
func (s *Service) DetectGuard(ctx context.Context, file string) (Range, bool, error) {
	if e, ok := s.cache.guard(file); ok {
		return e.rng, e.ok, nil
	}
	rng, ok, err := DetectGuard(ctx, s.env, file, s.diags)
	if err != nil || ctx.Err() != nil {
		return rng, ok, err
	}
	s.cache.setGuard(file, guardEntry{rng: rng, ok: ok})
	return rng, ok, nil
}

// HasGuard reports whether file has include guard.
func (s *Service) HasGuard(ctx context.Context, file string) bool {
	_, ok, err := s.DetectGuard(ctx, file)
	if err != nil {
		log.Warnf("guard %s: %v", file, err)
		return false
	}
	return ok
}

// ExpandAtOffset expands fragment with macros of file at offset.
// If st is nil, the first state of file is used.
func (s *Service) ExpandAtOffset(ctx context.Context, file, fragment string, st *State, offset int) (string, error) {
	if st == nil {
		states, err := s.validStates(ctx, file)
		if err != nil || len(states) == 0 {
			return "", err
		}
		st = states[0]
	}
	if !st.Valid() {
		return "", fmt.Errorf("expand %s: %w", file, ErrInvalidState)
	}
	var expanded string
	err := s.sema.Do(ctx, func(ctx context.Context) error {
		var err error
		expanded, err = ExpandAtOffset(ctx, s.env, st, file, fragment, offset, Options{
			Cache: s.cache,
			Diags: s.diags,
		})
		return err
	})
	if err != nil && ctx.Err() != nil {
		return "", nil
	}
	return expanded, err
}

// RestoreState restores the state at the include of the last frame,
// replaying frames under base.
func (s *Service) RestoreState(ctx context.Context, base *State, frames []IncludeFrame) (*State, error) {
	return Restore(ctx, s.env, base, frames, s.diags)
}
