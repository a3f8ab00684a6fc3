// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package buildconfig provides project config for `ppwalk`.
//
// A project config is a Starlark file that defines `init(ctx)`, which
// returns module(configurations=[...]). Each configuration is a struct
// describing one way the sources are compiled:
//
//	struct(
//	    name = "linux",
//	    cplusplus = True,
//	    defines = ["NDEBUG", "VERSION=3"],
//	    undefines = [],
//	    quote_dirs = [],
//	    include_dirs = ["include"],
//	    system_dirs = ["/usr/include"],
//	    includes = ["build/config.h"],
//	    sources = ctx.fs.glob("src", includes=["*.cc"]),
//	)
package buildconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/charmbracelet/log"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"go.chromium.org/infra/build/ppwalk/build/metadata"
)

const configEntryPoint = "init"

// Configuration is a preprocessing configuration of sources.
type Configuration struct {
	Name      string
	CPlusPlus bool

	// Defines are NAME or NAME=VALUE, as -D.
	Defines []string
	// Undefines are macro names, as -U.
	Undefines []string

	// QuoteDirs are searched only for #include "..." (-iquote).
	QuoteDirs []string
	// IncludeDirs are include search dirs (-I). Dirs ending with
	// .hmap are header maps.
	IncludeDirs []string
	// SystemDirs are searched after IncludeDirs (-isystem).
	SystemDirs []string

	// Includes are files included before each source (-include).
	Includes []string

	// Sources are source files compiled with the configuration.
	Sources []string
}

// Config is a project config.
type Config struct {
	// Metadata contains key-value metadata set by the config.
	Metadata metadata.Metadata

	// flags given to the config.
	flags map[string]string

	// global variables loaded by the config.
	globals map[string]starlark.Value

	// filesystem cache used for ctx.fs.
	fscache *fscache
}

// New returns new project config loaded from fname.
// repos must have "config" repo for `@config//`.
func New(ctx context.Context, fname string, flags map[string]string, repos map[string]fs.FS) (*Config, error) {
	if repos == nil {
		repos = map[string]fs.FS{}
	}
	repos["builtin"] = builtinStar
	if _, ok := repos[configRepo]; !ok {
		return nil, errors.New("config module is not set")
	}
	if _, ok := repos[configOverridesRepo]; !ok {
		repos[configOverridesRepo] = emptyFS{}
	}
	loader := &repoLoader{
		ctx:         ctx,
		repos:       repos,
		predeclared: builtinModule(),
	}
	resolve.AllowRecursion = true

	thread := &starlark.Thread{
		Name: "load",
		Print: func(thread *starlark.Thread, msg string) {
			log.Infof("thread:%s %s", thread.Name, msg)
		},
		Load: loader.Load,
	}
	thread.SetLocal("modulename", fname)
	globals, err := loader.Load(thread, fname)
	if err != nil {
		log.Warnf("thread:%s failed to exec file %s: %v", thread.Name, fname, err)
		var eerr *starlark.EvalError
		if errors.As(err, &eerr) {
			log.Warnf("stacktrace:\n%s", eerr.Backtrace())
		}
		return nil, err
	}
	v, ok := globals[configEntryPoint]
	if !ok {
		return nil, fmt.Errorf("%s is not defined in %s", configEntryPoint, fname)
	}
	if _, ok := v.(starlark.Callable); !ok {
		return nil, fmt.Errorf("%s %s is not callable in %s", configEntryPoint, v.Type(), fname)
	}
	return &Config{
		Metadata: metadata.New(),
		flags:    flags,
		globals:  globals,
		fscache: &fscache{
			m: make(map[string][]byte),
		},
	}, nil
}

// InitError is error of `init`.
type InitError struct {
	fn  starlark.Value
	err *starlark.EvalError
}

func (e InitError) Error() string {
	if fn, ok := e.fn.(*starlark.Function); ok {
		return fmt.Sprintf("failed to run %s[%s:%s]: %v", configEntryPoint, fn.Position(), fn.Name(), e.err)
	}
	return fmt.Sprintf("failed to run %s[%s]: %v", configEntryPoint, e.fn, e.err)
}

// Backtrace returns Starlark backtrace of the error.
func (e InitError) Backtrace() string {
	return e.err.CallStack.String()
}

func (e InitError) Unwrap() error {
	return e.err
}

// Init runs `init` and returns configurations.
// root is the project source tree, accessed by ctx.fs.
func (cfg *Config) Init(ctx context.Context, root fs.FS) ([]Configuration, error) {
	cfg.fscache = &fscache{m: make(map[string][]byte)}

	fun := cfg.globals[configEntryPoint]
	thread := &starlark.Thread{
		Name: configEntryPoint,
		Print: func(thread *starlark.Thread, msg string) {
			log.Infof("thread:%s %s", thread.Name, msg)
		},
		Load: func(*starlark.Thread, string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load is not allowed in init")
		},
	}
	hctx := starlarkstruct.FromStringDict(starlark.String("ctx"), map[string]starlark.Value{
		"actions":  starActions(cfg.Metadata),
		"metadata": starMetadata(cfg.Metadata),
		"flags":    starFlags(cfg.flags),
		"fs":       starFS(ctx, root, cfg.fscache),
	})
	ret, err := starlark.Call(thread, fun, []starlark.Value{hctx}, nil)
	if err != nil {
		log.Warnf("thread:%s failed to run %s: %v", thread.Name, configEntryPoint, err)
		var eerr *starlark.EvalError
		if errors.As(err, &eerr) {
			log.Warnf("stacktrace:\n%s", eerr.Backtrace())
			return nil, InitError{fn: fun, err: eerr}
		}
		return nil, fmt.Errorf("failed to run %s: %w", configEntryPoint, err)
	}
	m, ok := ret.(*starlarkstruct.Module)
	if !ok {
		return nil, fmt.Errorf("%s returned %s, want module", configEntryPoint, ret.Type())
	}
	v, err := m.Attr("configurations")
	if err != nil {
		return nil, fmt.Errorf("no configurations in %v: %w", ret, err)
	}
	configs, err := unpackConfigurations(v)
	if err != nil {
		return nil, fmt.Errorf("bad configurations: %w", err)
	}
	log.Infof("config: %d configurations", len(configs))
	return configs, nil
}

func unpackConfigurations(v starlark.Value) ([]Configuration, error) {
	iter := starlark.Iterate(v)
	if iter == nil {
		return nil, fmt.Errorf("got %s; want list", v.Type())
	}
	defer iter.Done()
	var configs []Configuration
	seen := make(map[string]bool)
	var elem starlark.Value
	for iter.Next(&elem) {
		c, err := unpackConfiguration(elem)
		if err != nil {
			return nil, fmt.Errorf("configuration[%d]: %w", len(configs), err)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("configuration[%d]: duplicate name %q", len(configs), c.Name)
		}
		seen[c.Name] = true
		configs = append(configs, c)
	}
	return configs, nil
}

func unpackConfiguration(v starlark.Value) (Configuration, error) {
	s, ok := v.(starlark.HasAttrs)
	if !ok {
		return Configuration{}, fmt.Errorf("got %s; want struct", v.Type())
	}
	var c Configuration
	var err error
	c.Name, err = attrString(s, "name")
	if err != nil {
		return c, err
	}
	if c.Name == "" {
		return c, errors.New("no name")
	}
	c.CPlusPlus, err = attrBool(s, "cplusplus")
	if err != nil {
		return c, err
	}
	for _, f := range []struct {
		name string
		p    *[]string
	}{
		{"defines", &c.Defines},
		{"undefines", &c.Undefines},
		{"quote_dirs", &c.QuoteDirs},
		{"include_dirs", &c.IncludeDirs},
		{"system_dirs", &c.SystemDirs},
		{"includes", &c.Includes},
		{"sources", &c.Sources},
	} {
		*f.p, err = attrList(s, f.name)
		if err != nil {
			return c, err
		}
	}
	c.Sources = uniqueList(c.Sources)
	sort.Strings(c.Sources)
	return c, nil
}

// attr returns attribute name of s, or nil if missing or None.
func attr(s starlark.HasAttrs, name string) (starlark.Value, error) {
	v, err := s.Attr(name)
	if err != nil || v == nil || v == starlark.None {
		return nil, nil
	}
	return v, nil
}

func attrString(s starlark.HasAttrs, name string) (string, error) {
	v, err := attr(s, name)
	if v == nil || err != nil {
		return "", err
	}
	str, ok := starlark.AsString(v)
	if !ok {
		return "", fmt.Errorf("%s: got %s; want string", name, v.Type())
	}
	return str, nil
}

func attrBool(s starlark.HasAttrs, name string) (bool, error) {
	v, err := attr(s, name)
	if v == nil || err != nil {
		return false, err
	}
	b, ok := v.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("%s: got %s; want bool", name, v.Type())
	}
	return bool(b), nil
}

func attrList(s starlark.HasAttrs, name string) ([]string, error) {
	v, err := attr(s, name)
	if v == nil || err != nil {
		return nil, err
	}
	list, err := unpackList(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return list, nil
}
