// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package buildconfig

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
)

// globSpec specifies glob operations.
type globSpec struct {
	dir      string
	includes []string
	excludes []string
}

// Glob scans dir of fsys and returns files matched with the glob spec,
// as slash separated paths joined with dir.
// A pattern without "/" matches the base name; otherwise, it matches
// the path relative to dir.
func (g globSpec) Glob(ctx context.Context, fsys fs.FS) ([]string, error) {
	dir := path.Clean(g.dir)
	if !fs.ValidPath(dir) {
		return nil, fmt.Errorf("glob dir is out of root %q", g.dir)
	}
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return nil, err
	}
	m := g.matcher()
	var files []string
	err = fs.WalkDir(sub, ".", func(pathname string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if m(pathname) {
			files = append(files, path.Join(dir, pathname))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	log.Debugf("glob %s includes=%q excludes=%q: %d files", dir, g.includes, g.excludes, len(files))
	return files, nil
}

func patternMatcher(p string) func(string) bool {
	if strings.Contains(p, "/") {
		return func(s string) bool {
			ok, _ := path.Match(p, s)
			return ok
		}
	}
	return func(s string) bool {
		ok, _ := path.Match(p, path.Base(s))
		return ok
	}
}

func (g globSpec) matcher() func(string) bool {
	var inc, exc []func(string) bool
	for _, p := range g.includes {
		inc = append(inc, patternMatcher(p))
	}
	for _, p := range g.excludes {
		exc = append(exc, patternMatcher(p))
	}
	return func(s string) bool {
		for _, m := range exc {
			if m(s) {
				return false
			}
		}
		for _, m := range inc {
			if m(s) {
				return true
			}
		}
		return false
	}
}
