// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"go.chromium.org/infra/build/ppwalk/o11y/iometrics"
	"go.chromium.org/infra/build/ppwalk/osfs"
	"go.chromium.org/infra/build/ppwalk/pptree"
	"go.chromium.org/infra/build/ppwalk/ppwalk"
	"go.chromium.org/infra/build/ppwalk/runtimex"
	"go.chromium.org/infra/build/ppwalk/sync/semaphore"
)

// UnresolvedFile is the file of symbols whose defining file is unknown.
const UnresolvedFile = "<unresolved>"

// DefaultTreeCacheSize is the default number of directive trees kept
// in memory.
const DefaultTreeCacheSize = 4096

// TreeSemaphore is the name of the semaphore bounding concurrent
// directive tree builds.
const TreeSemaphore = "pptree-build"

var treeSema = semaphore.New(TreeSemaphore, runtimex.NumCPU())

// Fileset is a file model of source files under root.
// Paths are slash separated and relative to root, or absolute for
// files outside of root (e.g. system headers).
// It implements ppwalk.Env and ppwalk.FileFinder.
type Fileset struct {
	root string
	osfs *osfs.OSFS

	trees *lru.Cache[string, *pptree.Tree]
	group singleflight.Group

	mu     sync.Mutex
	exists map[string]bool
	hmaps  map[string]HeaderMap
}

// NewFileset creates a fileset of root, which keeps at most size
// directive trees.
func NewFileset(root string, size int) (*Fileset, error) {
	if size <= 0 {
		size = DefaultTreeCacheSize
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	trees, err := lru.New[string, *pptree.Tree](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create tree cache: %w", err)
	}
	return &Fileset{
		root:   root,
		osfs:   osfs.New("fileset"),
		trees:  trees,
		exists: make(map[string]bool),
		hmaps:  make(map[string]HeaderMap),
	}, nil
}

// Root returns the root dir of the fileset.
func (fset *Fileset) Root() string { return fset.root }

// IOMetrics returns I/O metrics of the fileset.
func (fset *Fileset) IOMetrics() *iometrics.IOMetrics { return fset.osfs.IOMetrics }

// Unresolved returns the unresolved file sentinel.
func (fset *Fileset) Unresolved() string { return UnresolvedFile }

func (fset *Fileset) fullpath(p string) string {
	if path.IsAbs(p) {
		return filepath.FromSlash(p)
	}
	return filepath.Join(fset.root, filepath.FromSlash(p))
}

// Rel converts fname to the fileset path.
// fname is relative to the working dir, or absolute.
func (fset *Fileset) Rel(fname string) (string, error) {
	abs, err := filepath.Abs(fname)
	if err != nil {
		return "", err
	}
	return fset.canon(abs), nil
}

// canon converts an absolute path to the fileset path.
func (fset *Fileset) canon(abs string) string {
	rel, err := filepath.Rel(fset.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// Tree returns the directive tree of p.
func (fset *Fileset) Tree(ctx context.Context, p string) (*pptree.Tree, error) {
	if t, ok := fset.trees.Get(p); ok {
		fset.osfs.CacheDone(true)
		return t, nil
	}
	fset.osfs.CacheDone(false)
	v, err, _ := fset.group.Do(p, func() (any, error) {
		var t *pptree.Tree
		err := treeSema.Do(ctx, func(ctx context.Context) error {
			buf, err := fset.osfs.ReadFile(ctx, fset.fullpath(p))
			if err != nil {
				return err
			}
			started := time.Now()
			t, err = pptree.Build(ctx, p, buf, pptree.KindOf(p))
			fset.osfs.BuildDone(time.Since(started), err)
			return err
		})
		if err != nil {
			return nil, err
		}
		fset.trees.Add(p, t)
		fset.setExists(p, true)
		return t, nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fset.setExists(p, false)
		}
		return nil, err
	}
	return v.(*pptree.Tree), nil
}

func (fset *Fileset) setExists(p string, ok bool) {
	fset.mu.Lock()
	defer fset.mu.Unlock()
	fset.exists[p] = ok
}

// Exists reports whether p exists as a regular file.
func (fset *Fileset) Exists(ctx context.Context, p string) bool {
	fset.mu.Lock()
	ok, cached := fset.exists[p]
	fset.mu.Unlock()
	if cached {
		return ok
	}
	fi, err := fset.osfs.Stat(ctx, fset.fullpath(p))
	ok = err == nil && fi.Mode().IsRegular()
	fset.setExists(p, ok)
	return ok
}

func (fset *Fileset) headerMap(ctx context.Context, p string) HeaderMap {
	fset.mu.Lock()
	m, ok := fset.hmaps[p]
	fset.mu.Unlock()
	if ok {
		return m
	}
	buf, err := fset.osfs.ReadFile(ctx, fset.fullpath(p))
	if err == nil {
		m, err = ParseHeaderMap(buf)
	}
	if err != nil {
		log.Warnf("hmap %s: %v", p, err)
	}
	fset.mu.Lock()
	fset.hmaps[p] = m
	fset.mu.Unlock()
	return m
}

// lookup looks up name in dir, which may be a header map.
func (fset *Fileset) lookup(ctx context.Context, dir, name string) (string, bool) {
	if strings.HasSuffix(dir, ".hmap") {
		target, ok := fset.headerMap(ctx, dir).Lookup(name)
		if !ok {
			return "", false
		}
		if !path.IsAbs(target) {
			// relative to the root, as ninja builds see them.
			target = path.Clean(target)
		} else {
			target = fset.canon(filepath.FromSlash(target))
		}
		return target, fset.Exists(ctx, target)
	}
	p := path.Join(dir, name)
	if path.IsAbs(dir) {
		p = fset.canon(filepath.FromSlash(p))
	}
	return p, fset.Exists(ctx, p)
}

// ResolveInclude resolves header included from file `from` under st.
//
// "..." is searched in the dir of from, the quote dirs, then dirs of
// st.Paths.Dirs(). <...> is searched in st.Paths.Dirs(). #include_next
// continues the search after the dir where the including file was found.
func (fset *Fileset) ResolveInclude(ctx context.Context, st *ppwalk.State, from, header string, next bool) (ppwalk.Include, error) {
	if len(header) < 3 {
		return ppwalk.Include{}, fmt.Errorf("bad header name %q: %w", header, fs.ErrNotExist)
	}
	quoted := header[0] == '"'
	name := header[1 : len(header)-1]
	if path.IsAbs(name) {
		p := fset.canon(filepath.FromSlash(path.Clean(name)))
		if fset.Exists(ctx, p) {
			return ppwalk.Include{Path: p, DirIndex: -1}, nil
		}
		return ppwalk.Include{}, fmt.Errorf("%s: %w", header, fs.ErrNotExist)
	}
	start := 0
	if next {
		if top, ok := st.Top(); ok && top.DirIndex >= 0 {
			start = top.DirIndex + 1
		}
	}
	if quoted && !next {
		dirs := append([]string{path.Dir(from)}, st.Paths.Quote...)
		for _, dir := range dirs {
			if p, ok := fset.lookup(ctx, dir, name); ok {
				return ppwalk.Include{Path: p, DirIndex: -1}, nil
			}
		}
	}
	dirs := st.Paths.Dirs()
	for i := start; i < len(dirs); i++ {
		if err := ctx.Err(); err != nil {
			return ppwalk.Include{}, err
		}
		if p, ok := fset.lookup(ctx, dirs[i], name); ok {
			return ppwalk.Include{Path: p, DirIndex: i}, nil
		}
	}
	log.Debugf("include %s from %s: not found in %d dirs", header, from, len(dirs)-start)
	return ppwalk.Include{}, fmt.Errorf("%s: %w", header, fs.ErrNotExist)
}

// FindFile returns the fileset path of p.
// If preferExisting, it returns false for files that don't exist.
func (fset *Fileset) FindFile(p string, preferExisting bool) (string, bool) {
	if p == "" || p == UnresolvedFile {
		return "", false
	}
	if path.IsAbs(p) {
		p = fset.canon(filepath.FromSlash(p))
	} else {
		p = path.Clean(p)
	}
	if preferExisting && !fset.Exists(context.Background(), p) {
		return "", false
	}
	return p, true
}

// Invalidate forgets cached contents of p, e.g. when p is modified.
func (fset *Fileset) Invalidate(p string) {
	fset.trees.Remove(p)
	fset.mu.Lock()
	defer fset.mu.Unlock()
	delete(fset.exists, p)
	delete(fset.hmaps, p)
}
