// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package runtimex provides runtime information that the standard
// runtime package reports incompletely.
package runtimex

import (
	"runtime"
	"sync"
)

var numCPU = sync.OnceValue(func() int {
	if n := getproccount(); n > 0 {
		return n
	}
	return runtime.NumCPU()
})

// NumCPU returns the number of logical CPUs usable by the process.
// On Windows, runtime.NumCPU only counts a single processor group
// (up to 64 CPUs), so it asks GetActiveProcessorCount for all groups.
func NumCPU() int {
	return numCPU()
}
