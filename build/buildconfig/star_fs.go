// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package buildconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/charmbracelet/log"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// starFS returns fs module of the project source tree.
//
//	read(fname): reads a file.
//	is_dir(fname): check if fname is a dir.
//	exists(fname): check if fname exists.
//	size(fname): report size of fname's content.
//	glob(dir, includes, excludes): list files under dir.
func starFS(ctx context.Context, fsys fs.FS, fsc *fscache) starlark.Value {
	receiver := starFSReceiver{
		ctx:     ctx,
		fs:      fsys,
		fscache: fsc,
	}
	return starlarkstruct.FromStringDict(starlark.String("fs"), map[string]starlark.Value{
		"read":   starlark.NewBuiltin("read", starFSRead).BindReceiver(receiver),
		"is_dir": starlark.NewBuiltin("is_dir", starFSIsDir).BindReceiver(receiver),
		"exists": starlark.NewBuiltin("exists", starFSExists).BindReceiver(receiver),
		"size":   starlark.NewBuiltin("size", starFSSize).BindReceiver(receiver),
		"glob":   starlark.NewBuiltin("glob", starFSGlob).BindReceiver(receiver),
	})
}

type starFSReceiver struct {
	ctx     context.Context
	fs      fs.FS
	fscache *fscache
}

func (r starFSReceiver) String() string {
	return fmt.Sprintf("fs[%v]", r.fs)
}

func (starFSReceiver) Type() string          { return "fs" }
func (starFSReceiver) Freeze()               {}
func (starFSReceiver) Truth() starlark.Bool  { return starlark.True }
func (starFSReceiver) Hash() (uint32, error) { return 0, errors.New("fs is not hashable") }

func fsReceiver(fn *starlark.Builtin) (starFSReceiver, error) {
	c, ok := fn.Receiver().(starFSReceiver)
	if !ok {
		return c, fmt.Errorf("unexpected receiver: %v", fn.Receiver())
	}
	return c, nil
}

// Starlark function `fs.read(fname)` to return contents of fname.
func starFSRead(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, err := fsReceiver(fn)
	if err != nil {
		return starlark.None, err
	}
	var fname string
	err = starlark.UnpackArgs("read", args, kwargs, "fname", &fname)
	if err != nil {
		return starlark.None, err
	}
	buf, err := c.fscache.Get(c.ctx, c.fs, fname)
	if err != nil {
		return starlark.None, err
	}
	return starlark.Bytes(buf), nil
}

// Starlark function `fs.is_dir(fname)` to check fname is a dir.
func starFSIsDir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, err := fsReceiver(fn)
	if err != nil {
		return starlark.None, err
	}
	var fname string
	err = starlark.UnpackArgs("is_dir", args, kwargs, "fname", &fname)
	if err != nil {
		return starlark.None, err
	}
	fi, err := fs.Stat(c.fs, fname)
	if err != nil {
		return starlark.None, err
	}
	return starlark.Bool(fi.IsDir()), nil
}

// Starlark function `fs.exists(fname)` to check fname exists.
func starFSExists(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, err := fsReceiver(fn)
	if err != nil {
		return starlark.None, err
	}
	var fname string
	err = starlark.UnpackArgs("exists", args, kwargs, "fname", &fname)
	if err != nil {
		return starlark.None, err
	}
	_, err = fs.Stat(c.fs, fname)
	return starlark.Bool(err == nil), nil
}

// Starlark function `fs.size(fname)` to get file size.
func starFSSize(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, err := fsReceiver(fn)
	if err != nil {
		return starlark.None, err
	}
	var fname string
	err = starlark.UnpackArgs("size", args, kwargs, "fname", &fname)
	if err != nil {
		return starlark.None, err
	}
	fi, err := fs.Stat(c.fs, fname)
	if err != nil {
		return starlark.None, err
	}
	return starlark.MakeInt64(fi.Size()), nil
}

// Starlark function `fs.glob(dir, includes, excludes=[])` to list files
// under dir matched with includes and not matched with excludes.
func starFSGlob(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	log.Debugf("fs.glob args=%s kwargs=%s", args, kwargs)
	c, err := fsReceiver(fn)
	if err != nil {
		return starlark.None, err
	}
	var dir string
	var includes, excludes starlark.Value
	err = starlark.UnpackArgs("glob", args, kwargs, "dir", &dir, "includes", &includes, "excludes?", &excludes)
	if err != nil {
		return starlark.None, err
	}
	g := globSpec{dir: dir}
	g.includes, err = unpackList(includes)
	if err != nil {
		return starlark.None, fmt.Errorf("glob: includes: %w", err)
	}
	if excludes != nil && excludes != starlark.None {
		g.excludes, err = unpackList(excludes)
		if err != nil {
			return starlark.None, fmt.Errorf("glob: excludes: %w", err)
		}
	}
	files, err := g.Glob(c.ctx, c.fs)
	if err != nil {
		return starlark.None, err
	}
	return packList(files), nil
}
