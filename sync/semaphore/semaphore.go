// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package semaphore provides named semaphores bounding concurrent work,
// e.g. directive tree builds and per-state walks.
package semaphore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

var (
	mu         sync.Mutex
	semaphores = map[string]*Semaphore{}
)

// Semaphore is a semaphore.
type Semaphore struct {
	name string
	ch   chan int

	waits atomic.Int64
	reqs  atomic.Int64
	errs  atomic.Int64

	// total wait time in nanoseconds.
	waitTime atomic.Int64
}

// Lookup returns a semaphore for the name.
func Lookup(name string) (*Semaphore, error) {
	mu.Lock()
	defer mu.Unlock()
	s, ok := semaphores[name]
	if !ok {
		return nil, fmt.Errorf("semaphore %q not found", name)
	}
	return s, nil
}

// New creates a new semaphore with name and capacity,
// and registers it for Lookup.
func New(name string, n int) *Semaphore {
	if n <= 0 {
		n = 1
	}
	ch := make(chan int, n)
	for i := 0; i < n; i++ {
		ch <- i + 1 // tid
	}
	s := &Semaphore{
		name: name,
		ch:   ch,
	}
	mu.Lock()
	semaphores[name] = s
	mu.Unlock()
	return s
}

// WaitAcquire acquires a semaphore.
// It returns a context for acquired semaphore and func to release it.
// The release func takes the error of the work done under the semaphore.
func (s *Semaphore) WaitAcquire(ctx context.Context) (context.Context, func(error), error) {
	s.waits.Add(1)
	defer s.waits.Add(-1)
	started := time.Now()
	select {
	case tid := <-s.ch:
		s.reqs.Add(1)
		s.waitTime.Add(int64(time.Since(started)))
		return ctx, func(err error) {
			if err != nil {
				s.errs.Add(1)
				log.Debugf("semaphore %s tid=%d: %v", s.name, tid, err)
			}
			s.ch <- tid
		}, nil
	case <-ctx.Done():
		return ctx, func(error) {}, context.Cause(ctx)
	}
}

// Name returns name of the semaphore.
func (s *Semaphore) Name() string {
	return s.name
}

// Capacity returns capacity of the semaphore.
func (s *Semaphore) Capacity() int {
	if s == nil {
		return 0
	}
	return cap(s.ch)
}

// NumServs returns number of currently served.
func (s *Semaphore) NumServs() int {
	return cap(s.ch) - len(s.ch)
}

// Stats is a snapshot of semaphore counters.
type Stats struct {
	Name     string
	Capacity int
	Servs    int
	Waits    int
	Requests int
	Errs     int
	WaitTime time.Duration
}

func (st Stats) String() string {
	return fmt.Sprintf("%s: capacity=%d servs=%d waits=%d reqs=%d errs=%d wait=%s", st.Name, st.Capacity, st.Servs, st.Waits, st.Requests, st.Errs, st.WaitTime)
}

// Stats returns the current counters of the semaphore.
func (s *Semaphore) Stats() Stats {
	return Stats{
		Name:     s.name,
		Capacity: cap(s.ch),
		Servs:    s.NumServs(),
		Waits:    int(s.waits.Load()),
		Requests: int(s.reqs.Load()),
		Errs:     int(s.errs.Load()),
		WaitTime: time.Duration(s.waitTime.Load()),
	}
}

// Do runs f under semaphore.
func (s *Semaphore) Do(ctx context.Context, f func(ctx context.Context) error) error {
	ctx, done, err := s.WaitAcquire(ctx)
	if err != nil {
		return err
	}
	err = f(ctx)
	done(err)
	return err
}
