// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package loader loads a project for subcommands.
package loader

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"go.chromium.org/luci/common/flag/stringlistflag"
	"go.chromium.org/luci/common/flag/stringmapflag"

	"go.chromium.org/infra/build/ppwalk/build/buildconfig"
	"go.chromium.org/infra/build/ppwalk/ppwalk"
	"go.chromium.org/infra/build/ppwalk/project"
	"go.chromium.org/infra/build/ppwalk/runtimex"
	"go.chromium.org/infra/build/ppwalk/sync/semaphore"
	"go.chromium.org/infra/build/ppwalk/ui"
)

// DefaultConfig is the default project config file, relative to the
// project root.
const DefaultConfig = ".ppwalk/main.star"

// Flags are flags to load a project.
type Flags struct {
	Root        string
	Config      string
	ConfigFlags stringmapflag.Value
	CacheSize   int
	Parallelism int
	Stats       bool

	// flags for a configuration without project config.
	CPlusPlus   bool
	Defines     stringlistflag.Flag
	Undefines   stringlistflag.Flag
	QuoteDirs   stringlistflag.Flag
	IncludeDirs stringlistflag.Flag
	SystemDirs  stringlistflag.Flag
	Includes    stringlistflag.Flag
}

// Register registers flags in flags.
func (f *Flags) Register(flags *flag.FlagSet) {
	flags.StringVar(&f.Root, "C", ".", "project root dir")
	flags.StringVar(&f.Config, "config", DefaultConfig, "project config file relative to the project root. if it doesn't exist, a configuration is made from -D, -U, -I etc")
	f.ConfigFlags = make(stringmapflag.Value)
	flags.Var(&f.ConfigFlags, "config_flag", "key=value flag passed to the project config as ctx.flags. can be repeated")
	flags.IntVar(&f.CacheSize, "cache_size", project.DefaultTreeCacheSize, "number of directive trees kept in memory")
	flags.BoolVar(&f.Stats, "stats", false, "print I/O and concurrency stats to stderr")
	flags.IntVar(&f.Parallelism, "j", runtimex.NumCPU(), "number of concurrent walks")

	flags.BoolVar(&f.CPlusPlus, "cplusplus", true, "preprocess as C++")
	flags.Var(&f.Defines, "D", "define macro NAME or NAME=VALUE. can be repeated")
	flags.Var(&f.Undefines, "U", "undefine macro. can be repeated")
	flags.Var(&f.QuoteDirs, "iquote", "quote include dir. can be repeated")
	flags.Var(&f.IncludeDirs, "I", "include dir. can be repeated")
	flags.Var(&f.SystemDirs, "isystem", "system include dir. can be repeated")
	flags.Var(&f.Includes, "include", "forced include. can be repeated")
}

// Load loads the project.
// files are the files given in the command line, used as sources of
// the configuration made from flags.
func (f *Flags) Load(ctx context.Context, files []string) (*project.Project, []string, error) {
	fset, err := project.NewFileset(f.Root, f.CacheSize)
	if err != nil {
		return nil, nil, err
	}
	var paths []string
	for _, fname := range files {
		p, err := fset.Rel(fname)
		if err != nil {
			return nil, nil, err
		}
		paths = append(paths, p)
	}
	configs, err := f.configs(ctx, fset, paths)
	if err != nil {
		return nil, nil, err
	}
	p, err := project.New(fset, configs, project.WithParallelism(f.Parallelism))
	if err != nil {
		return nil, nil, err
	}
	return p, paths, nil
}

func (f *Flags) configs(ctx context.Context, fset *project.Fileset, paths []string) ([]buildconfig.Configuration, error) {
	cfgPath := filepath.Join(fset.Root(), filepath.FromSlash(f.Config))
	_, err := os.Stat(cfgPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Infof("no project config %s; use flags", cfgPath)
		return []buildconfig.Configuration{{
			Name:        "flags",
			CPlusPlus:   f.CPlusPlus,
			Defines:     f.Defines,
			Undefines:   f.Undefines,
			QuoteDirs:   f.QuoteDirs,
			IncludeDirs: f.IncludeDirs,
			SystemDirs:  f.SystemDirs,
			Includes:    f.Includes,
			Sources:     paths,
		}}, nil
	}
	if err != nil {
		return nil, err
	}
	repos := map[string]fs.FS{
		"config": os.DirFS(filepath.Dir(cfgPath)),
	}
	overrides := filepath.Join(fset.Root(), ".ppwalk_overrides")
	if fi, err := os.Stat(overrides); err == nil && fi.IsDir() {
		repos["config_overrides"] = os.DirFS(overrides)
	}
	cfg, err := buildconfig.New(ctx, "@config//"+filepath.Base(cfgPath), f.ConfigFlags, repos)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", cfgPath, err)
	}
	configs, err := cfg.Init(ctx, os.DirFS(fset.Root()))
	if err != nil {
		return nil, err
	}
	for _, k := range cfg.Metadata.SortedKeys() {
		log.Debugf("metadata %s=%s", k, cfg.Metadata.Get(k))
	}
	return configs, nil
}

// Index indexes include stacks of p with a spinner, if some of files
// are not sources of p and need states restored from include stacks.
func Index(ctx context.Context, p *project.Project, files []string) error {
	need := false
	for _, f := range files {
		if !p.IsSource(f) {
			need = true
			break
		}
	}
	if !need || len(p.Sources()) == 0 {
		return nil
	}
	s := ui.Default.NewSpinner()
	s.Start("indexing %d sources", len(p.Sources()))
	err := p.Index(ctx)
	s.Stop(err)
	return err
}

// PrintDiags prints diagnostics of p to w.
func PrintDiags(w io.Writer, p *project.Project) {
	for _, d := range p.Diags().All() {
		fmt.Fprintln(w, d)
	}
}

// PrintStats prints I/O metrics of the fileset and semaphore stats to w.
func PrintStats(w io.Writer, p *project.Project) {
	fmt.Fprintln(w, p.Fileset().IOMetrics().Stats())
	for _, name := range []string{project.TreeSemaphore, ppwalk.WalkSemaphore} {
		s, err := semaphore.Lookup(name)
		if err != nil {
			continue
		}
		fmt.Fprintln(w, s.Stats())
	}
}
