// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package metadata provides a data structure to hold project metadata.
package metadata

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strconv"

	"go.chromium.org/infra/build/ppwalk/runtimex"
)

// Metadata contains structured metadata set by the project config.
// It can hold arbitrary key-value pairs, but some keys are well-known:
//   - num_cpu: number of CPUs
//   - goos: the value of Go's GOOS constant
//   - goarch: the value of Go's GOARCH constant
type Metadata struct {
	entries map[string]string
}

// New returns an initialized Metadata struct.
func New() Metadata {
	metadata := Metadata{
		entries: make(map[string]string),
	}
	metadata.entries["num_cpu"] = strconv.Itoa(runtimex.NumCPU())
	metadata.entries["goos"] = runtime.GOOS
	metadata.entries["goarch"] = runtime.GOARCH
	return metadata
}

// SortedKeys returns a sorted list of all available keys in the metadata.
func (md Metadata) SortedKeys() []string {
	keys := make([]string, 0, len(md.entries))
	for k := range md.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set sets a key-value pair in the metadata.
func (md Metadata) Set(key, value string) error {
	switch key {
	case "num_cpu", "goos", "goarch":
		return fmt.Errorf("cannot override well-known key %q in metadata", key)
	case "":
		return fmt.Errorf("empty key in metadata")
	}
	md.entries[key] = value
	return nil
}

// Get returns the value for the given key. If the key is not set, it returns
// the empty string.
func (md Metadata) Get(key string) string {
	return md.entries[key]
}

// Size returns the number of key-value pairs in the metadata.
func (md Metadata) Size() int {
	return len(md.entries)
}

// MarshalJSON encodes the metadata as a JSON object.
func (md Metadata) MarshalJSON() ([]byte, error) {
	if md.entries == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(md.entries)
}
