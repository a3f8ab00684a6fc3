// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package project

import (
	"context"
	"errors"
	"io/fs"
	"sync"

	"github.com/charmbracelet/log"

	"go.chromium.org/infra/build/ppwalk/pptoken"
	"go.chromium.org/infra/build/ppwalk/pptree"
	"go.chromium.org/infra/build/ppwalk/ppwalk"
)

// Decls is a macro declaration model of files in a fileset.
// Declarations are scanned from #define directives in all branches of
// a file, and synthetic symbols may be registered for macros whose
// declaration was not found.
// It implements ppwalk.DeclQuery.
type Decls struct {
	fset *Fileset

	mu    sync.Mutex
	files map[string]*fileDecls
}

type fileDecls struct {
	declared   []*ppwalk.Symbol
	registered []*ppwalk.Symbol
}

// NewDecls creates declaration model of fset.
func NewDecls(fset *Fileset) *Decls {
	return &Decls{
		fset:  fset,
		files: make(map[string]*fileDecls),
	}
}

func scanDecls(t *pptree.Tree) []*ppwalk.Symbol {
	var syms []*ppwalk.Symbol
	t.Walk(func(n *pptree.Node) bool {
		if n.Kind != pptree.Define || n.Malformed != "" || n.Name.Text == "" {
			return true
		}
		syms = append(syms, &ppwalk.Symbol{
			Name:  n.Name.Text,
			File:  t.Path,
			Start: n.Name.Offset,
			End:   n.Name.End,
			Body:  pptoken.Join(n.Tokens),
		})
		return true
	})
	return syms
}

// get returns declarations of file, scanning the file if needed.
func (d *Decls) get(file string) *fileDecls {
	d.mu.Lock()
	fd, ok := d.files[file]
	d.mu.Unlock()
	if ok {
		return fd
	}
	fd = &fileDecls{}
	t, err := d.fset.Tree(context.Background(), file)
	switch {
	case err == nil:
		fd.declared = scanDecls(t)
	case errors.Is(err, fs.ErrNotExist):
	default:
		log.Warnf("decls %s: %v", file, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.files[file]; ok {
		return cur
	}
	d.files[file] = fd
	return fd
}

// MacrosDeclaredIn returns macro symbols declared in file, filtered by
// name if name is not empty. Registered symbols follow declared ones.
func (d *Decls) MacrosDeclaredIn(file, name string) []*ppwalk.Symbol {
	fd := d.get(file)
	d.mu.Lock()
	defer d.mu.Unlock()
	var syms []*ppwalk.Symbol
	for _, list := range [][]*ppwalk.Symbol{fd.declared, fd.registered} {
		for _, s := range list {
			if name == "" || s.Name == name {
				syms = append(syms, s)
			}
		}
	}
	return syms
}

// Register registers sym as a symbol owned by file.
// It returns the existing symbol if the same name is declared or
// registered at the same offset.
func (d *Decls) Register(file string, sym *ppwalk.Symbol) *ppwalk.Symbol {
	fd := d.get(file)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, list := range [][]*ppwalk.Symbol{fd.declared, fd.registered} {
		for _, s := range list {
			if s.Name == sym.Name && s.Start == sym.Start {
				return s
			}
		}
	}
	fd.registered = append(fd.registered, sym)
	return sym
}

// Forget forgets declarations of file.
func (d *Decls) Forget(file string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, file)
}
