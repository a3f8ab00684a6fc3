// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package project provides a project model for ppwalk: a fileset of
// sources and headers, preprocessing configurations, declaration and
// reference indexes, and preprocessing states of files.
package project

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"go.chromium.org/infra/build/ppwalk/build/buildconfig"
	"go.chromium.org/infra/build/ppwalk/macros"
	"go.chromium.org/infra/build/ppwalk/ppwalk"
	"go.chromium.org/infra/build/ppwalk/runtimex"
	"go.chromium.org/infra/build/ppwalk/ui"
)

// Project is a C/C++ project: files in a fileset compiled with
// configurations.
// It implements ppwalk.StateProvider.
type Project struct {
	fset    *Fileset
	configs []buildconfig.Configuration
	diags   *ppwalk.Diagnostics

	decls   *Decls
	index   *RefIndex
	service *ppwalk.Service

	// sources maps a source file to indices of configs that compile it.
	sources map[string][]int

	group singleflight.Group

	mu        sync.Mutex
	bases     map[int]*ppwalk.State
	recorders []*ppwalk.StackRecorder
}

// Option is an option of Project.
type Option func(*options)

type options struct {
	diags        *ppwalk.Diagnostics
	parallelism  int
	refIndexSize int
}

// WithDiagnostics sets diagnostics collector of the project.
func WithDiagnostics(d *ppwalk.Diagnostics) Option {
	return func(o *options) {
		o.diags = d
	}
}

// WithParallelism limits number of concurrent walks.
func WithParallelism(n int) Option {
	return func(o *options) {
		o.parallelism = n
	}
}

// WithRefIndexSize sets the size of the reference index.
func WithRefIndexSize(n int) Option {
	return func(o *options) {
		o.refIndexSize = n
	}
}

// New creates a project of fset compiled with configs.
// Source paths in configs are relative to the fileset root.
func New(fset *Fileset, configs []buildconfig.Configuration, opts ...Option) (*Project, error) {
	o := options{
		parallelism: runtimex.NumCPU(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.diags == nil {
		o.diags = &ppwalk.Diagnostics{}
	}
	index, err := NewRefIndex(o.refIndexSize)
	if err != nil {
		return nil, err
	}
	p := &Project{
		fset:    fset,
		configs: configs,
		diags:   o.diags,
		decls:   NewDecls(fset),
		index:   index,
		sources: make(map[string][]int),
		bases:   make(map[int]*ppwalk.State),
	}
	for i, cfg := range configs {
		for _, src := range cfg.Sources {
			src, ok := fset.FindFile(src, false)
			if !ok {
				continue
			}
			p.sources[src] = append(p.sources[src], i)
		}
	}
	p.service = ppwalk.NewService(fset, p, &ppwalk.ResolveEnv{
		Index:      index,
		Finders:    []ppwalk.FileFinder{fset},
		Decls:      p.decls,
		Unresolved: fset.Unresolved(),
	},
		ppwalk.WithDiagnostics(o.diags),
		ppwalk.WithParallelism(o.parallelism))
	return p, nil
}

// Fileset returns the fileset of the project.
func (p *Project) Fileset() *Fileset { return p.fset }

// Service returns the preprocessing service of the project.
func (p *Project) Service() *ppwalk.Service { return p.service }

// Diags returns the diagnostics collector of the project.
func (p *Project) Diags() *ppwalk.Diagnostics { return p.diags }

// Decls returns the declaration model of the project.
func (p *Project) Decls() *Decls { return p.decls }

// RefIndex returns the reference index of the project.
func (p *Project) RefIndex() *RefIndex { return p.index }

// Configs returns configurations of the project.
func (p *Project) Configs() []buildconfig.Configuration { return p.configs }

// Sources returns all source files of the project in sorted order.
func (p *Project) Sources() []string {
	srcs := make([]string, 0, len(p.sources))
	for src := range p.sources {
		srcs = append(srcs, src)
	}
	sort.Strings(srcs)
	return srcs
}

// IsSource reports whether file is compiled by any configuration.
func (p *Project) IsSource(file string) bool {
	_, ok := p.sources[file]
	return ok
}

// baseState returns the state of the i-th configuration before any
// source: predefined macros, -D/-U macros, include dirs and forced
// includes.
func (p *Project) baseState(ctx context.Context, i int) (*ppwalk.State, error) {
	p.mu.Lock()
	st, ok := p.bases[i]
	p.mu.Unlock()
	if ok {
		return st, nil
	}
	cfg := p.configs[i]
	v, err, _ := p.group.Do("base:"+cfg.Name, func() (any, error) {
		t := macros.Predefined(cfg.CPlusPlus)
		for _, d := range cfg.Defines {
			def, err := macros.ParseDefine(d)
			if err != nil {
				return nil, fmt.Errorf("config %s: bad define %q: %w", cfg.Name, d, err)
			}
			t.Define(def)
		}
		for _, u := range cfg.Undefines {
			t.Undef(u)
		}
		st := ppwalk.NewState(t, ppwalk.Paths{
			Quote:   cfg.QuoteDirs,
			Include: cfg.IncludeDirs,
			System:  cfg.SystemDirs,
		})
		for _, inc := range cfg.Includes {
			inc, ok := p.fset.FindFile(inc, false)
			if !ok {
				continue
			}
			w := ppwalk.NewWalker(p.fset, st, nil, ppwalk.Options{
				Cache:           p.service.Cache(),
				UseIncludeCache: true,
				Remember:        true,
				Diags:           p.diags,
			})
			complete, err := w.Walk(ctx, inc)
			if errors.Is(err, ppwalk.ErrNoFile) {
				log.Warnf("config %s: forced include %s: %v", cfg.Name, inc, err)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("config %s: forced include: %w", cfg.Name, err)
			}
			if !complete {
				return nil, fmt.Errorf("config %s: forced include %s: %w", cfg.Name, inc, context.Cause(ctx))
			}
		}
		log.Debugf("config %s: base state %s macros=%d", cfg.Name, st.ID, st.Macros.Len())
		p.mu.Lock()
		p.bases[i] = st
		p.mu.Unlock()
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ppwalk.State), nil
}

// Index records include stacks of headers by walking all sources of
// all configurations. It is done once until Invalidate.
func (p *Project) Index(ctx context.Context) error {
	p.mu.Lock()
	done := p.recorders != nil
	p.mu.Unlock()
	if done {
		return nil
	}
	_, err, _ := p.group.Do("index", func() (any, error) {
		started := time.Now()
		recorders := make([]*ppwalk.StackRecorder, len(p.configs))
		g, gctx := errgroup.WithContext(ctx)
		for i, cfg := range p.configs {
			recorders[i] = ppwalk.NewStackRecorder()
			g.Go(func() error {
				base, err := p.baseState(gctx, i)
				if err != nil {
					return err
				}
				for _, src := range cfg.Sources {
					src, ok := p.fset.FindFile(src, false)
					if !ok {
						continue
					}
					_, err := recorders[i].Record(gctx, p.fset, base, src, p.diags)
					if errors.Is(err, ppwalk.ErrNoFile) {
						log.Warnf("index %s: %s: %v", cfg.Name, src, err)
						continue
					}
					if err != nil {
						return err
					}
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("failed to index: %w", err)
		}
		p.mu.Lock()
		p.recorders = recorders
		p.mu.Unlock()
		var headers int
		for _, r := range recorders {
			headers += r.Headers()
		}
		log.Infof("index: configs=%d sources=%d headers=%d in %s", len(p.configs), len(p.sources), headers, ui.FormatDuration(time.Since(started)))
		return nil, nil
	})
	return err
}

// States returns preprocessing states of file.
//
// A source file has the base state of each configuration that compiles
// it. A header has states restored from include stacks recorded by
// Index; stacks that no longer match the include graph are skipped.
// A file that is neither compiled nor included falls back to the base
// states of all configurations.
func (p *Project) States(ctx context.Context, file string) ([]*ppwalk.State, error) {
	if idx, ok := p.sources[file]; ok {
		var states []*ppwalk.State
		for _, i := range idx {
			st, err := p.baseState(ctx, i)
			if err != nil {
				return nil, err
			}
			states = append(states, st.Clone())
		}
		return states, nil
	}
	if err := p.Index(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	recorders := p.recorders
	p.mu.Unlock()

	var states []*ppwalk.State
	var recorded bool
	for i, r := range recorders {
		stacks := r.Stacks(file)
		if len(stacks) == 0 {
			continue
		}
		recorded = true
		base, err := p.baseState(ctx, i)
		if err != nil {
			return nil, err
		}
		for _, stack := range stacks {
			st, err := p.service.RestoreState(ctx, base, stack)
			switch {
			case err == nil:
				states = append(states, st)
			case ppwalk.IsInvalid(err), errors.Is(err, ppwalk.ErrNoFile):
				log.Debugf("states %s: config %s: %v", file, p.configs[i].Name, err)
			case ctx.Err() != nil:
				return states, nil
			default:
				return nil, err
			}
		}
	}
	if recorded {
		return states, nil
	}
	log.Debugf("states %s: not included from any source; use base states", file)
	for i := range p.configs {
		st, err := p.baseState(ctx, i)
		if err != nil {
			return nil, err
		}
		states = append(states, st.Clone())
	}
	return states, nil
}

// Invalidate forgets everything derived from file, e.g. when file is
// modified. Base states and include stacks are recomputed lazily.
func (p *Project) Invalidate(file string) {
	p.fset.Invalidate(file)
	p.service.Cache().Forget(file)
	p.decls.Forget(file)
	p.index.Forget(file)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bases = make(map[int]*ppwalk.State)
	p.recorders = nil
}
