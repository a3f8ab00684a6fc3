// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package buildconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/charmbracelet/log"
	"go.starlark.net/starlark"
)

const (
	configRepo          = "config"
	configOverridesRepo = "config_overrides"
)

type emptyFS struct{}

func (emptyFS) Open(name string) (fs.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// repoLoader is a Starlark repository loader.
type repoLoader struct {
	ctx         context.Context
	repos       map[string]fs.FS
	predeclared starlark.StringDict
}

// splitModule splits "@<repo>//<fname>" into repo and fname.
// A module without repo is in defaultRepo.
func splitModule(module, defaultRepo string) (string, string, error) {
	if !strings.HasPrefix(module, "@") {
		return defaultRepo, module, nil
	}
	m, n, ok := strings.Cut(module, "//")
	if !ok {
		return "", "", fmt.Errorf("failed to parse module: %q", module)
	}
	return m[1:], n, nil
}

// Load loads a Starlark module.
// A module may be `@<repo>//` prefix to select repository.
// Otherwise, it is loaded from the same repository as the current module,
// relative to the current module's dir.
func (r *repoLoader) Load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	curname, _ := thread.Local("modulename").(string)
	log.Debugf("load %s from %s", module, curname)
	curRepo, curFname, err := splitModule(curname, configRepo)
	if err != nil {
		return nil, err
	}
	repo, fname, err := splitModule(module, curRepo)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(module, "@") && !path.IsAbs(fname) {
		fname = path.Join(path.Dir(curFname), fname)
	}
	fname = strings.TrimPrefix(fname, "/")
	fullname := fmt.Sprintf("@%s//%s", repo, fname)
	repoFS, ok := r.repos[repo]
	if !ok {
		return nil, fmt.Errorf("no such module defined %q", repo)
	}
	buf, err := fs.ReadFile(repoFS, fname)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && repo == configOverridesRepo {
			log.Warnf("no @%s//%s: %v", configOverridesRepo, fname, err)
			name := strings.TrimSuffix(path.Base(fname), path.Ext(fname))
			return starlark.StringDict{
				name: starlark.None,
			}, nil
		}
		return nil, fmt.Errorf("failed to load %s: %w", fullname, err)
	}
	t := &starlark.Thread{
		Name: "module " + fullname,
		Print: func(thread *starlark.Thread, msg string) {
			log.Infof("thread:%s %s", thread.Name, msg)
		},
		Load: r.Load,
	}
	t.SetLocal("modulename", fullname)
	return starlark.ExecFile(t, fullname, buf, r.predeclared)
}
