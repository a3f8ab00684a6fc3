// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package states is states subcommand to show preprocessing states of
// files.
package states

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"

	"go.chromium.org/infra/build/ppwalk/subcmd/loader"
)

const usage = `show preprocessing states of files

 $ ppwalk states [-C <root>] [-macros] <file>...

Sources have a state per configuration. Headers have states restored
from include stacks that reach them from sources.
`

// Cmd returns the Command for the `states` subcommand provided by this package.
func Cmd() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "states <file>...",
		ShortDesc: "show preprocessing states of files",
		LongDesc:  usage,
		Advanced:  true,
		CommandRun: func() subcommands.CommandRun {
			c := &run{}
			c.init()
			return c
		},
	}
}

type run struct {
	subcommands.CommandRunBase

	loader loader.Flags
	macros bool
	diags  bool
}

func (c *run) init() {
	c.loader.Register(&c.Flags)
	c.Flags.BoolVar(&c.macros, "macros", false, "print macro definitions of states")
	c.Flags.BoolVar(&c.diags, "diags", false, "print diagnostics to stderr")
}

func (c *run) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	err := c.run(ctx, args)
	if err != nil {
		switch {
		case errors.Is(err, flag.ErrHelp):
			fmt.Fprintf(os.Stderr, "%v\n%s\n", err, usage)
		default:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func (c *run) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no files: %w", flag.ErrHelp)
	}
	p, files, err := c.loader.Load(ctx, args)
	if err != nil {
		return err
	}
	if c.diags {
		defer loader.PrintDiags(os.Stderr, p)
	}
	if c.loader.Stats {
		defer loader.PrintStats(os.Stderr, p)
	}
	err = loader.Index(ctx, p, files)
	if err != nil {
		return err
	}
	for _, file := range files {
		states, err := p.States(ctx, file)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d states\n", file, len(states))
		for i, st := range states {
			fmt.Printf(" [%d] %s restored=%t macros=%d fingerprint=%016x\n", i, st.ID, st.Restored(), st.Macros.Len(), st.Fingerprint())
			for _, f := range st.Stack {
				fmt.Printf("   %s\n", f)
			}
			if !c.macros {
				continue
			}
			for _, name := range st.Macros.Names() {
				fmt.Printf("   %s\n", st.Macros.Lookup(name))
			}
		}
	}
	return ctx.Err()
}
