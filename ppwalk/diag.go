// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ppwalk

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// DiagKind is a kind of diagnostic.
type DiagKind int

const (
	// InputMissing is reported when a file is not found mid-walk.
	InputMissing DiagKind = iota
	// MalformedDirective is reported for bad token stream in a
	// condition, macro body or include path.
	MalformedDirective
	// EmptyStateSet is reported when a file has no preprocessing states.
	EmptyStateSet
	// StateInvalidated is reported when state restoration failed.
	StateInvalidated
	// IncludeDepth is reported when includes nest too deep.
	IncludeDepth
	// UnresolvedInclude is reported when an include could not be resolved.
	UnresolvedInclude
	// IncludeCycle is reported when a file includes a file being walked.
	IncludeCycle
)

func (k DiagKind) String() string {
	switch k {
	case InputMissing:
		return "input-missing"
	case MalformedDirective:
		return "malformed-directive"
	case EmptyStateSet:
		return "empty-state-set"
	case StateInvalidated:
		return "state-invalidated"
	case IncludeDepth:
		return "include-depth"
	case UnresolvedInclude:
		return "unresolved-include"
	case IncludeCycle:
		return "include-cycle"
	}
	return fmt.Sprintf("diag(%d)", int(k))
}

// Diag is a diagnostic found while walking.
type Diag struct {
	Kind   DiagKind
	File   string
	Offset int
	Msg    string
	// State is the ID of the preprocessing state, if any.
	State string
}

func (d Diag) String() string {
	if d.State != "" {
		return fmt.Sprintf("%s:%d: %s: %s [state=%s]", d.File, d.Offset, d.Kind, d.Msg, d.State)
	}
	return fmt.Sprintf("%s:%d: %s: %s", d.File, d.Offset, d.Kind, d.Msg)
}

// Diagnostics collects diagnostics. It is safe for concurrent use.
// nil Diagnostics only logs.
type Diagnostics struct {
	mu    sync.Mutex
	diags []Diag
}

// Add adds d.
func (ds *Diagnostics) Add(d Diag) {
	switch d.Kind {
	case EmptyStateSet, StateInvalidated, IncludeDepth:
		log.Warnf("%s", d)
	default:
		log.Debugf("%s", d)
	}
	if ds == nil {
		return
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.diags = append(ds.diags, d)
}

// All returns all diagnostics.
func (ds *Diagnostics) All() []Diag {
	if ds == nil {
		return nil
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return append([]Diag(nil), ds.diags...)
}

// Count returns number of diagnostics of kind.
func (ds *Diagnostics) Count(kind DiagKind) int {
	if ds == nil {
		return 0
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	n := 0
	for _, d := range ds.diags {
		if d.Kind == kind {
			n++
		}
	}
	return n
}
