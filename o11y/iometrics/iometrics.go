// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package iometrics manages I/O metrics of source files: reads, stats
// and directive tree builds.
package iometrics

import (
	"fmt"
	"sync"
	"time"
)

// IOMetrics holds I/O metrics.
type IOMetrics struct {
	name string

	mu sync.Mutex

	ops     int64
	opsErrs int64
	rOps    int64
	rBytes  int64
	rErrs   int64

	builds    int64
	buildErrs int64
	buildTime time.Duration

	hits   int64
	misses int64
}

// New returns new iometrics for name.
func New(name string) *IOMetrics {
	return &IOMetrics{name: name}
}

// OpsDone counts when a non read I/O operation is done. err is an I/O operation error.
// e.g. stat of include search candidates.
func (m *IOMetrics) OpsDone(err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops++
	if err != nil {
		m.opsErrs++
	}
}

// ReadDone counts when a read operation is done.
// n is the number of bytes, and err is a read error.
func (m *IOMetrics) ReadDone(n int, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rOps++
	m.rBytes += int64(n)
	if err != nil {
		m.rErrs++
	}
}

// BuildDone counts when a directive tree build is done.
// dur is the time spent for the build, and err is a build error.
func (m *IOMetrics) BuildDone(dur time.Duration, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builds++
	m.buildTime += dur
	if err != nil {
		m.buildErrs++
	}
}

// CacheDone counts tree cache lookups.
func (m *IOMetrics) CacheDone(hit bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
		return
	}
	m.misses++
}

// Name returns the name of the iometrics.
func (m *IOMetrics) Name() string {
	if m == nil {
		return "<nil>"
	}
	return m.name
}

// Stats holds iometrics.
type Stats struct {
	// Number of I/O operations other than reads.
	Ops int64
	// Number of I/O operation errors other than read errors.
	OpsErrs int64

	// Number of read operations.
	ROps int64
	// Number of read bytes.
	RBytes int64
	// Number of read errors.
	RErrs int64

	// Number of tree builds.
	Builds int64
	// Number of tree build errors.
	BuildErrs int64
	// Total time of tree builds.
	BuildTime time.Duration

	// Number of tree cache hits and misses.
	Hits   int64
	Misses int64
}

func (s Stats) String() string {
	return fmt.Sprintf("ops=%d(err=%d) reads=%d/%dB(err=%d) builds=%d(err=%d) %s cache=%d/%d",
		s.Ops, s.OpsErrs, s.ROps, s.RBytes, s.RErrs, s.Builds, s.BuildErrs, s.BuildTime, s.Hits, s.Hits+s.Misses)
}

// Stats returns the snapshot of the iometrics.
func (m *IOMetrics) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Ops:       m.ops,
		OpsErrs:   m.opsErrs,
		ROps:      m.rOps,
		RBytes:    m.rBytes,
		RErrs:     m.rErrs,
		Builds:    m.builds,
		BuildErrs: m.buildErrs,
		BuildTime: m.buildTime,
		Hits:      m.hits,
		Misses:    m.misses,
	}
}
