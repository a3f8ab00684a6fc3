// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package usages is usages subcommand to list macro references of files.
package usages

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"

	"go.chromium.org/infra/build/ppwalk/ppwalk"
	"go.chromium.org/infra/build/ppwalk/subcmd/loader"
)

const usage = `list macro references of files

 $ ppwalk usages [-C <root>] [-config <config>] [-json] <file>...

For each file, it prints macro declarations and usages under all
preprocessing states of the file, and symbols they resolve to.
`

// Cmd returns the Command for the `usages` subcommand provided by this package.
func Cmd() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "usages <args>...",
		ShortDesc: "list macro references of files",
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

	loader loader.Flags
	json   bool
	diags  bool
}

func (c *run) init() {
	c.loader.Register(&c.Flags)
	c.Flags.BoolVar(&c.json, "json", false, "print references in json")
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

// Symbol is a symbol in json output.
type Symbol struct {
	Name      string `json:"name"`
	File      string `json:"file"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Body      string `json:"body,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
	System    bool   `json:"system,omitempty"`
}

// Ref is a macro reference in json output.
type Ref struct {
	File   string `json:"file"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Symbol Symbol `json:"symbol"`
}

// Refs converts references to json output.
func Refs(refs []ppwalk.MacroRef) []Ref {
	r := make([]Ref, 0, len(refs))
	for _, ref := range refs {
		sym := ref.Symbol()
		r = append(r, Ref{
			File:  ref.File(),
			Start: ref.Range().Start,
			End:   ref.Range().End,
			Kind:  ref.Kind().String(),
			Name:  ref.Text(),
			Symbol: Symbol{
				Name:      sym.Name,
				File:      sym.File,
				Start:     sym.Start,
				End:       sym.End,
				Body:      sym.Body,
				Synthetic: sym.Synthetic,
				System:    sym.System,
			},
		})
	}
	return r
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
	s := p.Service()
	results := make(map[string][]Ref)
	for _, file := range files {
		refs, err := s.CollectMacroUsages(ctx, file)
		if err != nil {
			return err
		}
		results[file] = Refs(refs)
		if !c.json {
			printRefs(os.Stdout, results[file])
		}
	}
	if c.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", " ")
		return enc.Encode(results)
	}
	return ctx.Err()
}

func printRefs(w io.Writer, refs []Ref) {
	for _, r := range refs {
		fmt.Fprintf(w, "%s:%d-%d %s %s -> %s@%s:%d", r.File, r.Start, r.End, r.Kind, r.Name, r.Symbol.Name, r.Symbol.File, r.Symbol.Start)
		switch {
		case r.Symbol.System:
			fmt.Fprint(w, " (system)")
		case r.Symbol.Synthetic:
			fmt.Fprint(w, " (synthetic)")
		}
		fmt.Fprintln(w)
	}
}
