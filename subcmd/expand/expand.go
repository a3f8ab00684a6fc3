// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package expand is expand subcommand to expand a code fragment with
// macros at an offset of a file.
package expand

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

const usage = `expand a code fragment with macros at an offset

 $ ppwalk expand [-C <root>] -fragment '<code>' [-offset <n>] [-state <i>] <file>

It expands <code> with macros defined at byte offset <n> of <file>
(end of the file if -offset is negative), under the <i>-th
preprocessing state of the file.
`

// Cmd returns the Command for the `expand` subcommand provided by this package.
func Cmd() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "expand <args>...",
		ShortDesc: "expand a code fragment with macros at an offset",
		LongDesc:  usage,
		CommandRun: func() subcommands.CommandRun {
			c := &run{}
			c.init()
			return c
		},
	}
}

type run struct {
	subcommands.CommandRunBase

	loader   loader.Flags
	fragment string
	offset   int
	state    int
}

func (c *run) init() {
	c.loader.Register(&c.Flags)
	c.Flags.StringVar(&c.fragment, "fragment", "", "code fragment to expand")
	c.Flags.IntVar(&c.offset, "offset", -1, "byte offset in the file. end of the file if negative")
	c.Flags.IntVar(&c.state, "state", 0, "index of preprocessing state of the file")
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
	if len(args) != 1 {
		return fmt.Errorf("want one file, got %d: %w", len(args), flag.ErrHelp)
	}
	if c.fragment == "" {
		return fmt.Errorf("missing -fragment: %w", flag.ErrHelp)
	}
	p, files, err := c.loader.Load(ctx, args)
	if err != nil {
		return err
	}
	if c.loader.Stats {
		defer loader.PrintStats(os.Stderr, p)
	}
	err = loader.Index(ctx, p, files)
	if err != nil {
		return err
	}
	file := files[0]
	states, err := p.States(ctx, file)
	if err != nil {
		return err
	}
	if c.state < 0 || c.state >= len(states) {
		return fmt.Errorf("state %d out of range: %s has %d states", c.state, file, len(states))
	}
	offset := c.offset
	if offset < 0 {
		t, err := p.Fileset().Tree(ctx, file)
		if err != nil {
			return err
		}
		offset = t.Size
	}
	expanded, err := p.Service().ExpandAtOffset(ctx, file, c.fragment, states[c.state], offset)
	if err != nil {
		return err
	}
	fmt.Println(expanded)
	return ctx.Err()
}
