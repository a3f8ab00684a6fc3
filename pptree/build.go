// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package pptree

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"go.chromium.org/infra/build/ppwalk/pptoken"
)

type condFrame struct {
	cond   *Node
	branch *Node
}

type builder struct {
	buf   []byte
	tree  *Tree
	stack []condFrame

	// pending token run.
	run *Node
}

// Build builds a directive tree of fname from buf.
func Build(ctx context.Context, fname string, buf []byte, kind FileKind) (*Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := time.Now()
	b := &builder{
		buf: buf,
		tree: &Tree{
			Path: fname,
			Kind: kind,
			Size: len(buf),
		},
	}
	toks := pptoken.Lex(buf)
	for len(toks) > 0 {
		i := 0
		for i < len(toks) && toks[i].Kind != pptoken.Newline {
			i++
		}
		line := toks[:i]
		if i < len(toks) {
			i++ // newline
		}
		toks = toks[i:]
		b.line(line)
	}
	b.flushRun()
	for len(b.stack) > 0 {
		f := b.stack[len(b.stack)-1]
		b.problem(f.cond.Offset, fmt.Sprintf("unterminated #%s", f.cond.Kind))
		f.cond.BlockEnd = len(buf)
		b.stack = b.stack[:len(b.stack)-1]
	}
	if dur := time.Since(started); dur > time.Second {
		log.Infof("slow pptree.Build %s %s", fname, dur)
	}
	return b.tree, nil
}

func (b *builder) problem(offset int, msg string) {
	log.Debugf("%s:%d: %s", b.tree.Path, offset, msg)
	b.tree.Problems = append(b.tree.Problems, Problem{Offset: offset, Msg: msg})
}

// add adds n to current container.
func (b *builder) add(n *Node) {
	if len(b.stack) == 0 {
		b.tree.Nodes = append(b.tree.Nodes, n)
		return
	}
	f := b.stack[len(b.stack)-1]
	f.branch.Children = append(f.branch.Children, n)
}

func (b *builder) flushRun() {
	if b.run == nil {
		return
	}
	b.add(b.run)
	b.run = nil
}

// lineEnd returns offset of the end of line that contains offset.
func (b *builder) lineEnd(line []pptoken.Token) int {
	last := line[len(line)-1]
	i := bytes.IndexByte(b.buf[last.End:], '\n')
	if i < 0 {
		return len(b.buf)
	}
	return last.End + i
}

func firstNonComment(line []pptoken.Token) int {
	for i, t := range line {
		if t.Kind != pptoken.Comment {
			return i
		}
	}
	return -1
}

func (b *builder) line(line []pptoken.Token) {
	if len(line) == 0 {
		return
	}
	i := firstNonComment(line)
	if i < 0 || !line[i].Is("#") {
		// not directive line
		if b.run == nil {
			b.run = &Node{
				Kind:   TokenRun,
				Offset: line[0].Offset,
			}
		}
		b.run.Tokens = append(b.run.Tokens, line...)
		b.run.End = line[len(line)-1].End
		return
	}
	b.flushRun()
	hash := line[i]
	rest := pptoken.WithoutComments(line[i+1:])
	end := b.lineEnd(line)
	if len(rest) == 0 {
		// null directive.
		return
	}
	name := rest[0]
	args := rest[1:]
	n := &Node{
		Offset: hash.Offset,
		End:    end,
	}
	if name.Kind != pptoken.Ident {
		n.Kind = Other
		b.add(n)
		return
	}
	switch name.Text {
	case "define":
		n.Kind = Define
		b.define(n, args)
		b.add(n)
	case "undef":
		n.Kind = Undef
		b.macroName(n, args)
		b.add(n)
	case "if":
		n.Kind = If
		n.Tokens = args
		if len(args) == 0 {
			n.Malformed = "#if with no expression"
			b.problem(n.Offset, n.Malformed)
		}
		b.open(n)
	case "ifdef", "ifndef":
		n.Kind = Ifdef
		if name.Text == "ifndef" {
			n.Kind = Ifndef
		}
		b.macroName(n, args)
		b.open(n)
	case "elif", "elifdef", "elifndef":
		n.Kind = Elif
		switch name.Text {
		case "elif":
			n.Tokens = args
			if len(args) == 0 {
				n.Malformed = "#elif with no expression"
				b.problem(n.Offset, n.Malformed)
			}
		default:
			// #elifdef X => #elif defined X
			b.macroName(n, args)
			def := pptoken.Token{Kind: pptoken.Ident, Text: "defined", Offset: name.Offset, End: name.End}
			n.Tokens = []pptoken.Token{def, n.Name}
			if name.Text == "elifndef" {
				not := pptoken.Token{Kind: pptoken.Punct, Text: "!", Offset: name.Offset, End: name.Offset}
				n.Tokens = append([]pptoken.Token{not}, n.Tokens...)
			}
		}
		b.branch(n)
	case "else":
		n.Kind = Else
		b.branch(n)
	case "endif":
		n.Kind = Endif
		b.close(n)
	case "include", "import", "include_next":
		n.Kind = Include
		if name.Text == "include_next" {
			n.Kind = IncludeNext
		}
		b.include(n, name, args)
		n.Index = len(b.tree.Includes)
		b.tree.Includes = append(b.tree.Includes, n)
		b.add(n)
	case "pragma":
		n.Kind = Other
		if len(args) > 0 && args[0].Kind == pptoken.Ident && args[0].Text == "once" {
			n.Kind = PragmaOnce
		}
		b.add(n)
	default:
		// #error, #warning, #line, #ident etc.
		n.Kind = Other
		b.add(n)
	}
}

func (b *builder) macroName(n *Node, args []pptoken.Token) {
	if len(args) == 0 || args[0].Kind != pptoken.Ident {
		n.Malformed = fmt.Sprintf("#%s without macro name", n.Kind)
		b.problem(n.Offset, n.Malformed)
		return
	}
	n.Name = args[0]
}

func (b *builder) define(n *Node, args []pptoken.Token) {
	b.macroName(n, args)
	if n.Malformed != "" {
		return
	}
	args = args[1:]
	if len(args) > 0 && args[0].Is("(") && args[0].Offset == n.Name.End {
		n.FuncLike = true
		n.Params = []string{}
		i := 1
		expectParam := true
	params:
		for {
			if i >= len(args) {
				n.Malformed = fmt.Sprintf("missing ')' in parameter list of %s", n.Name.Text)
				b.problem(n.Offset, n.Malformed)
				return
			}
			t := args[i]
			i++
			switch {
			case t.Is(")"):
				if expectParam && len(n.Params) > 0 {
					n.Malformed = fmt.Sprintf("parameter name missing in %s", n.Name.Text)
					b.problem(n.Offset, n.Malformed)
					return
				}
				break params
			case t.Is("...") && expectParam:
				n.Variadic = true
				n.VarArgs = "__VA_ARGS__"
				expectParam = false
			case t.Kind == pptoken.Ident && expectParam:
				if i < len(args) && args[i].Is("...") {
					// GNU named variadic: args...
					i++
					n.Variadic = true
					n.VarArgs = t.Text
				}
				n.Params = append(n.Params, t.Text)
				expectParam = false
			case t.Is(",") && !expectParam && !n.Variadic:
				expectParam = true
			default:
				n.Malformed = fmt.Sprintf("bad token %q in parameter list of %s", t.Text, n.Name.Text)
				b.problem(n.Offset, n.Malformed)
				return
			}
		}
		args = args[i:]
	}
	n.Tokens = args
}

func (b *builder) include(n *Node, directive pptoken.Token, args []pptoken.Token) {
	if len(args) == 0 {
		n.Malformed = fmt.Sprintf("#%s expects \"FILENAME\" or <FILENAME>", directive.Text)
		b.problem(n.Offset, n.Malformed)
		return
	}
	first := args[0]
	switch {
	case first.Kind == pptoken.String && !first.Unterminated && first.Text[0] == '"':
		n.Header = first.Text
		n.Tokens = args[:1]
	case first.Is("<"):
		// header name is taken from the raw buffer, since
		// <a/b-c.h> is not a sequence of pp tokens.
		start := first.Offset
		i := bytes.IndexByte(b.buf[start:n.End], '>')
		if i < 0 {
			n.Malformed = fmt.Sprintf("missing terminating > in #%s", directive.Text)
			b.problem(n.Offset, n.Malformed)
			n.Tokens = args
			return
		}
		end := start + i + 1
		n.Header = string(b.buf[start:end])
		n.Tokens = []pptoken.Token{{
			Kind:   pptoken.HeaderName,
			Text:   n.Header,
			Offset: start,
			End:    end,
			Space:  first.Space,
		}}
	default:
		// #include MACRO
		n.Tokens = args
	}
}

func (b *builder) open(n *Node) {
	b.add(n)
	b.stack = append(b.stack, condFrame{cond: n, branch: n})
}

func (b *builder) branch(n *Node) {
	if len(b.stack) == 0 {
		b.problem(n.Offset, fmt.Sprintf("#%s without #if", n.Kind))
		return
	}
	f := &b.stack[len(b.stack)-1]
	if f.branch.Kind == Else {
		b.problem(n.Offset, fmt.Sprintf("#%s after #else", n.Kind))
	}
	f.cond.Branches = append(f.cond.Branches, n)
	f.branch = n
}

func (b *builder) close(n *Node) {
	if len(b.stack) == 0 {
		b.problem(n.Offset, "#endif without #if")
		return
	}
	f := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	f.cond.Endif = n
	f.cond.BlockEnd = n.End
}
