// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ppwalk

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/highwayhash"

	"go.chromium.org/infra/build/ppwalk/macros"
)

// IncludeFrame is a frame of include stack, i.e. which #include
// directive led to the included file.
type IncludeFrame struct {
	// File is the including file.
	File string
	// Index is the include directive index in File.
	Index int
	// Path is the included path. Empty if unresolved.
	Path string
	// Next is true for #include_next.
	Next bool
	// DirIndex is the index of the include search dir where Path was
	// found, used by #include_next. -1 if found relative to File.
	DirIndex int
}

func (f IncludeFrame) String() string {
	directive := "include"
	if f.Next {
		directive = "include_next"
	}
	return fmt.Sprintf("%s#%d %s %s", f.File, f.Index, directive, f.Path)
}

// Paths are include search dirs of a state.
type Paths struct {
	// Quote dirs are searched only for "..." includes (-iquote).
	Quote []string
	// Include dirs are searched for both "..." and <...> (-I).
	Include []string
	// System dirs are searched after Include (-isystem).
	System []string
}

// Dirs returns search dirs for <...> includes.
// DirIndex of IncludeFrame refers to these dirs.
func (p Paths) Dirs() []string {
	dirs := make([]string, 0, len(p.Include)+len(p.System))
	dirs = append(dirs, p.Include...)
	return append(dirs, p.System...)
}

// State is a preprocessing state: a macro table and an include stack.
// One file may have many distinct states.
// State is mutated by walks, so it must not be shared by concurrent
// walks. Use Clone.
type State struct {
	// ID identifies the state in logs and diagnostics.
	ID string

	Macros *macros.Table
	Stack  []IncludeFrame
	Paths  Paths

	// once holds files seen #pragma once.
	once     map[string]bool
	invalid  bool
	restored bool
}

// NewState creates a new state with macro table m.
func NewState(m *macros.Table, paths Paths) *State {
	if m == nil {
		m = macros.NewTable()
	}
	return &State{
		ID:     uuid.New().String(),
		Macros: m,
		Paths:  paths,
		once:   make(map[string]bool),
	}
}

// Clone returns a copy of the state, with a new ID.
func (s *State) Clone() *State {
	once := make(map[string]bool, len(s.once))
	for k, v := range s.once {
		once[k] = v
	}
	return &State{
		ID:       uuid.New().String(),
		Macros:   s.Macros.Clone(),
		Stack:    append([]IncludeFrame(nil), s.Stack...),
		Paths:    s.Paths,
		once:     once,
		invalid:  s.invalid,
		restored: s.restored,
	}
}

// Invalidate marks the state unusable.
func (s *State) Invalidate() {
	s.invalid = true
}

// Valid reports whether the state is usable.
func (s *State) Valid() bool {
	return s != nil && !s.invalid
}

// Restored reports whether the state was made by Restore.
func (s *State) Restored() bool {
	return s.restored
}

// Top returns the top frame of the include stack.
func (s *State) Top() (IncludeFrame, bool) {
	if len(s.Stack) == 0 {
		return IncludeFrame{}, false
	}
	return s.Stack[len(s.Stack)-1], true
}

// Once reports whether fname has been seen with #pragma once.
func (s *State) Once(fname string) bool {
	return s.once[fname]
}

func (s *State) markOnce(fname string) {
	s.once[fname] = true
}

func (s *State) onceFiles() []string {
	files := make([]string, 0, len(s.once))
	for f := range s.once {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

var stateKey = []byte("ppwalk-state-fingerprint-key!!!!")

// Fingerprint returns a fingerprint of the state that determines the
// result of walking a file: macros, #pragma once files, include dirs
// and the include dir of the top frame (for #include_next).
// The fingerprint must be computed at lookup time since State is mutable.
func (s *State) Fingerprint() uint64 {
	h, err := highwayhash.New64(stateKey)
	if err != nil {
		panic(err)
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], s.Macros.Fingerprint())
	h.Write(b[:])
	for _, f := range s.onceFiles() {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	for _, dirs := range [][]string{s.Paths.Quote, s.Paths.Include, s.Paths.System} {
		h.Write([]byte(strings.Join(dirs, "\x00")))
		h.Write([]byte{1})
	}
	dirIndex := -2
	if top, ok := s.Top(); ok {
		dirIndex = top.DirIndex
	}
	binary.LittleEndian.PutUint64(b[:], uint64(int64(dirIndex)))
	h.Write(b[:])
	return h.Sum64()
}

func (s *State) String() string {
	return fmt.Sprintf("state{id=%s macros=%d stack=%d valid=%t}", s.ID, s.Macros.Len(), len(s.Stack), s.Valid())
}
