// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package guard is guard subcommand to detect include guards of headers.
package guard

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"

	"go.chromium.org/infra/build/ppwalk/project"
)

const usage = `detect include guards of headers

 $ ppwalk guard [-C <root>] <header>...

For each header, it prints the range of the include guard macro name,
or "none" if the header doesn't have an include guard.
`

// Cmd returns the Command for the `guard` subcommand provided by this package.
func Cmd() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "guard <header>...",
		ShortDesc: "detect include guards of headers",
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

	root string
}

func (c *run) init() {
	c.Flags.StringVar(&c.root, "C", ".", "project root dir")
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
		return fmt.Errorf("no headers: %w", flag.ErrHelp)
	}
	fset, err := project.NewFileset(c.root, 0)
	if err != nil {
		return err
	}
	// guard detection needs no preprocessing state.
	p, err := project.New(fset, nil)
	if err != nil {
		return err
	}
	s := p.Service()
	for _, fname := range args {
		file, err := fset.Rel(fname)
		if err != nil {
			return err
		}
		rng, ok, err := s.DetectGuard(ctx, file)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("%s: none\n", file)
			continue
		}
		fmt.Printf("%s:%d-%d\n", file, rng.Start, rng.End)
	}
	return nil
}
