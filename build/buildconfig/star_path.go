// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package buildconfig

import (
	"fmt"
	"path"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// starPath returns path module for slash separated paths,
// as used in configurations.
//
//	base(fname)
//	dir(fname)
//	ext(fname)
//	clean(fname)
//	join(...)
//	rel(basepath, targetpath)
//	isabs(fname)
func starPath() starlark.Value {
	pathModule := &starlarkstruct.Module{
		Name: "path",
		Members: map[string]starlark.Value{
			"base":  starlark.NewBuiltin("base", starPathFunc(path.Base)),
			"dir":   starlark.NewBuiltin("dir", starPathFunc(path.Dir)),
			"ext":   starlark.NewBuiltin("ext", starPathFunc(path.Ext)),
			"clean": starlark.NewBuiltin("clean", starPathFunc(path.Clean)),
			"join":  starlark.NewBuiltin("join", starPathJoin),
			"rel":   starlark.NewBuiltin("rel", starPathRel),
			"isabs": starlark.NewBuiltin("isabs", starPathIsAbs),
		},
	}
	pathModule.Freeze()
	return pathModule
}

// starPathFunc makes Starlark function `path.<name>(fname)` from f.
func starPathFunc(f func(string) string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var fname string
		err := starlark.UnpackArgs(fn.Name(), args, kwargs, "fname", &fname)
		if err != nil {
			return starlark.None, err
		}
		return starlark.String(f(fname)), nil
	}
}

// Starlark function `path.join(...)` to return joined path name.
func starPathJoin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var elems []string
	for _, v := range args {
		s, ok := starlark.AsString(v)
		if !ok {
			return starlark.None, fmt.Errorf("join: for parameter elems: got %s, want string", v.Type())
		}
		elems = append(elems, s)
	}
	return starlark.String(path.Join(elems...)), nil
}

// Starlark function `path.rel(basepath, targetpath)` to return relative path of targetpath from basepath.
func starPathRel(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var basepath, targetpath string
	err := starlark.UnpackArgs("rel", args, kwargs, "basepath", &basepath, "targetpath", &targetpath)
	if err != nil {
		return starlark.None, err
	}
	rel, err := relPath(basepath, targetpath)
	if err != nil {
		return starlark.None, err
	}
	return starlark.String(rel), nil
}

// relPath is path.Rel for slash separated paths.
func relPath(basepath, targetpath string) (string, error) {
	base := path.Clean(basepath)
	target := path.Clean(targetpath)
	if path.IsAbs(base) != path.IsAbs(target) {
		return "", fmt.Errorf("rel: can't make %s relative to %s", targetpath, basepath)
	}
	if base == target {
		return ".", nil
	}
	if base == "." {
		base = ""
	}
	if target == "." {
		target = ""
	}
	split := func(p string) []string {
		if p == "" || p == "/" {
			return nil
		}
		return strings.Split(strings.TrimPrefix(p, "/"), "/")
	}
	b, t := split(base), split(target)
	i := 0
	for i < len(b) && i < len(t) && b[i] == t[i] {
		i++
	}
	for _, e := range b[i:] {
		if e == ".." {
			return "", fmt.Errorf("rel: can't make %s relative to %s", targetpath, basepath)
		}
	}
	var elems []string
	for range b[i:] {
		elems = append(elems, "..")
	}
	elems = append(elems, t[i:]...)
	if len(elems) == 0 {
		return ".", nil
	}
	return strings.Join(elems, "/"), nil
}

// Starlark function `path.isabs(fname)` to return true if fname is absolute path.
func starPathIsAbs(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fname string
	err := starlark.UnpackArgs("isabs", args, kwargs, "fname", &fname)
	if err != nil {
		return starlark.None, err
	}
	return starlark.Bool(path.IsAbs(fname)), nil
}
