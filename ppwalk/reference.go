// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ppwalk

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.chromium.org/infra/build/ppwalk/macros"
)

// RefKind is a kind of macro reference.
type RefKind int

const (
	// Declaration is a reference at the name of #define.
	Declaration RefKind = iota
	// DirectUsage is a reference where the macro is used.
	DirectUsage
)

func (k RefKind) String() string {
	if k == Declaration {
		return "declaration"
	}
	return "usage"
}

// Range is an offset range [Start, End).
type Range struct {
	Start, End int
}

// Symbol is a macro symbol that references resolve to.
type Symbol struct {
	Name string
	File string
	// Start and End are the offset range of the macro name in File.
	Start, End int
	Body       string

	// Synthetic is set for symbols not found in the declaration index.
	Synthetic bool
	// System is set for compiler/position predefined and user
	// specified macros.
	System bool
}

func (s *Symbol) String() string {
	return fmt.Sprintf("%s@%s:%d", s.Name, s.File, s.Start)
}

// MacroRef is a macro reference found by the usage collector.
type MacroRef interface {
	// File is the file containing the reference.
	File() string
	Range() Range
	// Text is the macro name.
	Text() string
	Kind() RefKind
	// Definition is the macro definition referenced.
	Definition() *macros.Definition
	// Symbol returns the symbol the reference resolves to.
	Symbol() *Symbol
}

// RefIndex is a cross-file reference index.
type RefIndex interface {
	// Lookup returns a symbol previously resolved for ref, or nil.
	Lookup(ref MacroRef) *Symbol
	// Remember records sym as the resolution of ref.
	Remember(ref MacroRef, sym *Symbol)
}

// FileFinder finds a file by path.
type FileFinder interface {
	// FindFile returns the canonical path of path. If preferExisting,
	// it returns only files that exist.
	FindFile(path string, preferExisting bool) (string, bool)
}

// DeclQuery queries macro declarations.
type DeclQuery interface {
	// MacrosDeclaredIn returns macro symbols declared in file,
	// filtered by name if name is not empty.
	MacrosDeclaredIn(file, name string) []*Symbol
	// Register registers sym as a symbol owned by file, and returns
	// the registered symbol. If a symbol of the same name is already
	// registered at the same offset, it returns the existing one.
	Register(file string, sym *Symbol) *Symbol
}

// ResolveEnv is collaborators used to resolve lazy references.
type ResolveEnv struct {
	Index RefIndex
	// Finders are tried in order, e.g. project lookup then
	// cross-project model lookup.
	Finders []FileFinder
	Decls   DeclQuery
	// Unresolved is the unresolved file sentinel.
	Unresolved string
}

// ResolveState is a resolution state of lazy reference.
type ResolveState int32

const (
	Unresolved ResolveState = iota
	Resolving
	Resolved
)

func (s ResolveState) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolving:
		return "resolving"
	case Resolved:
		return "resolved"
	}
	return fmt.Sprintf("resolve-state(%d)", int32(s))
}

// LazyRef is a reference to a user defined macro, lazily bound to a
// symbol on first access. The symbol is resolved at most once.
type LazyRef struct {
	file string
	rng  Range
	kind RefKind
	def  *macros.Definition
	env  *ResolveEnv

	state atomic.Int32
	sym   atomic.Pointer[Symbol]

	// mu serializes resolution of this reference.
	mu sync.Mutex
}

// NewLazyRef creates a lazy reference to def.
func NewLazyRef(file string, rng Range, kind RefKind, def *macros.Definition, env *ResolveEnv) *LazyRef {
	return &LazyRef{
		file: file,
		rng:  rng,
		kind: kind,
		def:  def,
		env:  env,
	}
}

func (r *LazyRef) File() string { return r.file }
func (r *LazyRef) Range() Range { return r.rng }
func (r *LazyRef) Text() string { return r.def.Name }
func (r *LazyRef) Kind() RefKind { return r.kind }
func (r *LazyRef) Definition() *macros.Definition { return r.def }

// State returns the resolution state.
func (r *LazyRef) State() ResolveState {
	return ResolveState(r.state.Load())
}

func (r *LazyRef) String() string {
	return fmt.Sprintf("%s %s@%s:%d-%d", r.kind, r.def.Name, r.file, r.rng.Start, r.rng.End)
}

// Symbol resolves the reference.
func (r *LazyRef) Symbol() *Symbol {
	if s := r.sym.Load(); s != nil {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.sym.Load(); s != nil {
		return s
	}
	r.state.Store(int32(Resolving))
	s := r.resolve()
	r.sym.Store(s)
	r.state.Store(int32(Resolved))
	return s
}

func (r *LazyRef) resolve() *Symbol {
	env := r.env
	if env == nil {
		env = &ResolveEnv{}
	}
	if env.Index != nil {
		if s := env.Index.Lookup(r); s != nil && s.Start == r.def.Offset {
			return s
		}
	}
	target := r.targetFile(env)
	if env.Decls != nil {
		for _, s := range env.Decls.MacrosDeclaredIn(target, r.def.Name) {
			if s.Start == r.def.Offset {
				r.remember(env, s)
				return s
			}
		}
	}
	s := &Symbol{
		Name:      r.def.Name,
		File:      target,
		Start:     r.def.Offset,
		End:       r.def.Offset + len(r.def.Name),
		Synthetic: true,
	}
	if target == env.Unresolved {
		// placeholder: the defining file was not found.
		return s
	}
	if env.Decls != nil {
		s = env.Decls.Register(target, s)
	}
	r.remember(env, s)
	return s
}

func (r *LazyRef) remember(env *ResolveEnv, s *Symbol) {
	if env.Index != nil {
		env.Index.Remember(r, s)
	}
}

// targetFile returns the file where the macro symbol should be.
func (r *LazyRef) targetFile(env *ResolveEnv) string {
	if r.kind == Declaration {
		return r.file
	}
	for _, f := range env.Finders {
		if p, ok := f.FindFile(r.def.File, true); ok {
			return p
		}
	}
	return env.Unresolved
}

// SystemRef is a reference to a predefined or user specified macro.
// Its symbol is synthesized eagerly since there is no declaration in
// source.
type SystemRef struct {
	file string
	rng  Range
	def  *macros.Definition
	sym  *Symbol
}

// SystemFile is the file name of predefined macro symbols.
const SystemFile = "<built-in>"

// NewSystemRef creates a reference to system macro def.
func NewSystemRef(file string, rng Range, def *macros.Definition) *SystemRef {
	return &SystemRef{
		file: file,
		rng:  rng,
		def:  def,
		sym: &Symbol{
			Name:      def.Name,
			File:      SystemFile,
			Start:     -1,
			End:       -1,
			Body:      def.BodyText(),
			Synthetic: true,
			System:    true,
		},
	}
}

func (r *SystemRef) File() string { return r.file }
func (r *SystemRef) Range() Range { return r.rng }
func (r *SystemRef) Text() string { return r.def.Name }
func (r *SystemRef) Kind() RefKind { return DirectUsage }
func (r *SystemRef) Definition() *macros.Definition { return r.def }
func (r *SystemRef) Symbol() *Symbol { return r.sym }

func (r *SystemRef) String() string {
	return fmt.Sprintf("%s %s(%s)@%s:%d-%d", DirectUsage, r.def.Name, r.def.Kind, r.file, r.rng.Start, r.rng.End)
}
