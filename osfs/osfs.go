// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package osfs provides OS Filesystem access to source files.
package osfs

import (
	"context"
	"io"
	"io/fs"
	"os"
	"runtime"
	"time"

	"github.com/charmbracelet/log"

	"go.chromium.org/infra/build/ppwalk/o11y/iometrics"
)

// slowOp is a threshold to log slow operations.
const slowOp = 1 * time.Minute

// OSFS provides OS Filesystem access.
// It counts metrics by iometrics.
type OSFS struct {
	*iometrics.IOMetrics
}

// New creates new OSFS.
func New(name string) *OSFS {
	return &OSFS{IOMetrics: iometrics.New(name)}
}

func logSlow(name string, dur time.Duration, err error) {
	buf := make([]byte, 4*1024)
	n := runtime.Stack(buf, false)
	log.Warnf("slow op %s: %s %v\n%s", name, dur, err, buf[:n])
}

// Stat returns a FileInfo describing the named file.
func (fs *OSFS) Stat(ctx context.Context, fname string) (fs.FileInfo, error) {
	started := time.Now()
	fi, err := os.Stat(fname)
	fs.OpsDone(err)
	if dur := time.Since(started); dur > slowOp {
		logSlow(fname, dur, err)
	}
	return fi, err
}

// ReadFile reads the named file.
// It stops reading when ctx is done.
func (fs *OSFS) ReadFile(ctx context.Context, fname string) ([]byte, error) {
	started := time.Now()
	f, err := os.Open(fname)
	if err != nil {
		fs.ReadDone(0, err)
		return nil, err
	}
	buf, err := io.ReadAll(ctxReader{ctx: ctx, r: f})
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	fs.ReadDone(len(buf), err)
	if dur := time.Since(started); dur > slowOp {
		logSlow(fname, dur, err)
	}
	return buf, err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(buf []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(buf)
}
