// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// ppwalk walks C/C++ preprocessing directives of a project to find
// macro references, include guards and macro expansions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/system/signals"

	"go.chromium.org/infra/build/ppwalk/subcmd/expand"
	"go.chromium.org/infra/build/ppwalk/subcmd/guard"
	"go.chromium.org/infra/build/ppwalk/subcmd/help"
	"go.chromium.org/infra/build/ppwalk/subcmd/states"
	"go.chromium.org/infra/build/ppwalk/subcmd/usages"
	"go.chromium.org/infra/build/ppwalk/subcmd/version"
	"go.chromium.org/infra/build/ppwalk/ui"
)

const ppwalkVersion = "v0.1.0"

var logLevel = flag.String("log_level", "warn", "log level: debug, info, warn, error")

func getApplication(ctx context.Context) *cli.Application {
	return &cli.Application{
		Name:  "ppwalk",
		Title: "C/C++ preprocessing directive walker",
		Context: func(context.Context) context.Context {
			return ctx
		},
		Commands: []*subcommands.Command{
			usages.Cmd(),
			guard.Cmd(),
			expand.Cmd(),
			states.Cmd(),

			help.Cmd(),
			version.Cmd(ppwalkVersion),
		},
	}
}

func main() {
	os.Exit(ppwalkMain())
}

func ppwalkMain() int {
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(out, "global flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: bad -log_level: %v\n", err)
		return 2
	}
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	ui.Init()
	defer ui.Restore()

	ctx, cancel := context.WithCancel(context.Background())
	defer signals.HandleInterrupt(cancel)()

	// Print a stack trace when a panic occurs.
	defer func() {
		if r := recover(); r != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			log.Fatalf("panic: %v\n%s", r, buf)
		}
	}()

	// Print build information to the log.
	buildinfo, ok := debug.ReadBuildInfo()
	if ok {
		log.Debugf("main module: %s %s", moduleInfo(&buildinfo.Main), vcsInfo(buildinfo))
		for _, m := range buildinfo.Deps {
			log.Debugf("deps module: %s", moduleInfo(m))
		}
	}
	return subcommands.Run(getApplication(ctx), flag.Args())
}

func moduleInfo(m *debug.Module) string {
	if m == nil {
		return "<nil>"
	}
	return fmt.Sprintf("path:%s version:%s sum:%s replace:%s", m.Path, m.Version, m.Sum, moduleInfo(m.Replace))
}

func vcsInfo(buildinfo *debug.BuildInfo) string {
	m := make(map[string]string)
	for _, bs := range buildinfo.Settings {
		if strings.HasPrefix(bs.Key, "vcs.") {
			m[bs.Key] = bs.Value
		}
	}
	return fmt.Sprintf("vcs[revision=%s time=%s modified=%s]", m["vcs.revision"], m["vcs.time"], m["vcs.modified"])
}
