// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package macros

import (
	"bytes"
	"slices"
	"strconv"
	"strings"

	"go.chromium.org/infra/build/ppwalk/pptoken"
)

// hideset is a sorted set of macro names that must not be expanded
// again for a token.
type hideset []string

func (h hideset) has(name string) bool {
	_, found := slices.BinarySearch(h, name)
	return found
}

func (h hideset) add(name string) hideset {
	i, found := slices.BinarySearch(h, name)
	if found {
		return h
	}
	r := make(hideset, 0, len(h)+1)
	r = append(r, h[:i]...)
	r = append(r, name)
	return append(r, h[i:]...)
}

func (h hideset) union(o hideset) hideset {
	r := h
	for _, name := range o {
		r = r.add(name)
	}
	return r
}

func (h hideset) intersect(o hideset) hideset {
	var r hideset
	for _, name := range h {
		if o.has(name) {
			r = append(r, name)
		}
	}
	return r
}

type xtok struct {
	pptoken.Token
	hide hideset
}

// Expander expands macros in token streams.
type Expander struct {
	Table *Table

	// File is used for __FILE__.
	File string
	// Source is the buffer of File, used for __LINE__.
	Source []byte

	// inCondition keeps operands of defined unexpanded.
	inCondition bool

	counter int
}

// Expand expands macros in toks using t.
func Expand(toks []pptoken.Token, t *Table) []pptoken.Token {
	e := &Expander{Table: t}
	return e.Expand(toks)
}

// Expand expands macros in toks. Newline tokens are dropped; comments
// outside of macro invocations are kept.
func (e *Expander) Expand(toks []pptoken.Token) []pptoken.Token {
	in := make([]xtok, 0, len(toks))
	for _, t := range toks {
		if t.Kind == pptoken.Newline {
			continue
		}
		in = append(in, xtok{Token: t})
	}
	out := e.expand(in)
	r := make([]pptoken.Token, 0, len(out))
	for _, t := range out {
		r = append(r, t.Token)
	}
	return r
}

func (e *Expander) expand(in []xtok) []xtok {
	var out []xtok
	for len(in) > 0 {
		t := in[0]
		in = in[1:]
		if e.inCondition && t.Kind == pptoken.Ident && t.Text == "defined" {
			n := 0
			if n < len(in) && in[n].Is("(") {
				n++
			}
			if n < len(in) && in[n].Kind == pptoken.Ident {
				n++
			}
			out = append(out, t)
			out = append(out, in[:n]...)
			in = in[n:]
			continue
		}
		if t.Kind != pptoken.Ident || t.hide.has(t.Text) {
			out = append(out, t)
			continue
		}
		d := e.Table.Lookup(t.Text)
		if d == nil {
			out = append(out, t)
			continue
		}
		if d.Kind == PositionPredefined {
			out = append(out, e.position(t, d))
			continue
		}
		if !d.FuncLike {
			body := e.subst(d, nil, t.hide.add(d.Name), t.Token)
			in = append(body, in...)
			continue
		}
		j := 0
		for j < len(in) && in[j].Kind == pptoken.Comment {
			j++
		}
		if j >= len(in) || !in[j].Is("(") {
			// not an invocation.
			out = append(out, t)
			continue
		}
		args, rparen, n, ok := collectArgs(in[j+1:], d)
		if !ok {
			// unterminated or mismatched invocation.
			out = append(out, t)
			continue
		}
		hs := t.hide.intersect(rparen.hide).add(d.Name)
		body := e.subst(d, args, hs, t.Token)
		in = append(body, in[j+1+n:]...)
	}
	return out
}

// collectArgs collects arguments of an invocation of d from in, which
// starts right after "(". It returns arguments, the closing paren and
// the number of consumed tokens.
func collectArgs(in []xtok, d *Definition) ([][]xtok, xtok, int, bool) {
	params := d.paramNames()
	var args [][]xtok
	var cur []xtok
	depth := 0
	for i, t := range in {
		switch {
		case t.Kind == pptoken.Comment:
			continue
		case t.Is("("):
			depth++
		case t.Is(")") && depth > 0:
			depth--
		case t.Is(")"):
			args = append(args, cur)
			if len(params) == 0 && len(args) == 1 && len(args[0]) == 0 {
				args = nil
			}
			switch {
			case len(args) == len(params):
			case d.Variadic && len(args) == len(params)-1:
				// F(a) for F(a, ...): empty variadic arguments.
				args = append(args, nil)
			default:
				return nil, xtok{}, 0, false
			}
			return args, t, i + 1, true
		case t.Is(",") && depth == 0:
			if d.Variadic && len(args) == len(params)-1 {
				// commas belong to variadic arguments.
				break
			}
			args = append(args, cur)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	return nil, xtok{}, 0, false
}

// subst substitutes parameters of d's body by args and returns
// resulting tokens with hideset hs, positioned at origin.
func (e *Expander) subst(d *Definition, args [][]xtok, hs hideset, origin pptoken.Token) []xtok {
	params := d.paramNames()
	param := func(t pptoken.Token) int {
		if t.Kind != pptoken.Ident || !d.FuncLike {
			return -1
		}
		return slices.Index(params, t.Text)
	}
	var expanded map[int][]xtok
	expandArg := func(i int) []xtok {
		if r, ok := expanded[i]; ok {
			return r
		}
		if expanded == nil {
			expanded = make(map[int][]xtok)
		}
		r := e.expand(slices.Clone(args[i]))
		expanded[i] = r
		return r
	}

	var out []xtok
	// placemarker is set when the left operand of ## is an empty argument.
	placemarker := false
	body := d.Body
	for i := 0; i < len(body); i++ {
		t := body[i]
		switch {
		case t.Is("#") && d.FuncLike && i+1 < len(body) && param(body[i+1]) >= 0:
			out = append(out, xtok{Token: stringize(args[param(body[i+1])])})
			i++
			continue

		case t.Is("##") && i+1 < len(body):
			next := body[i+1]
			i++
			var rhs []xtok
			if p := param(next); p >= 0 {
				rhs = args[p]
				if len(rhs) == 0 && d.Variadic && params[p] == params[len(params)-1] && len(out) > 0 && out[len(out)-1].Is(",") {
					// GNU: , ## __VA_ARGS__ drops the comma when empty.
					out = out[:len(out)-1]
					continue
				}
			} else {
				rhs = []xtok{{Token: next}}
			}
			if len(rhs) == 0 {
				continue
			}
			if placemarker || len(out) == 0 {
				placemarker = false
				out = append(out, rhs...)
				continue
			}
			lhs := out[len(out)-1]
			out = append(out[:len(out)-1], paste(lhs, rhs[0])...)
			out = append(out, rhs[1:]...)
			continue
		}
		if p := param(t); p >= 0 {
			if i+1 < len(body) && body[i+1].Is("##") {
				// operand of ## is not expanded.
				out = append(out, args[p]...)
				placemarker = len(args[p]) == 0
				continue
			}
			arg := expandArg(p)
			for j, a := range arg {
				if j == 0 {
					a.Space = t.Space
				}
				out = append(out, a)
			}
			continue
		}
		out = append(out, xtok{Token: t})
	}
	for i := range out {
		out[i].hide = out[i].hide.union(hs)
		out[i].Offset = origin.Offset
		out[i].End = origin.End
		out[i].FromMacro = true
	}
	if len(out) > 0 {
		out[0].Space = origin.Space
	}
	return out
}

func paste(lhs, rhs xtok) []xtok {
	text := lhs.Text + rhs.Text
	toks := pptoken.WithoutComments(pptoken.LexString(text))
	if len(toks) != 1 {
		// invalid paste; keep both tokens.
		return []xtok{lhs, rhs}
	}
	t := toks[0]
	t.Space = lhs.Space
	return []xtok{{Token: t, hide: lhs.hide.intersect(rhs.hide)}}
}

func stringize(arg []xtok) pptoken.Token {
	var sb strings.Builder
	sb.WriteByte('"')
	for i, t := range arg {
		if i > 0 && t.Space {
			sb.WriteByte(' ')
		}
		switch t.Kind {
		case pptoken.String, pptoken.Char:
			for _, c := range []byte(t.Text) {
				if c == '"' || c == '\\' {
					sb.WriteByte('\\')
				}
				sb.WriteByte(c)
			}
		default:
			sb.WriteString(t.Text)
		}
	}
	sb.WriteByte('"')
	return pptoken.Token{Kind: pptoken.String, Text: sb.String()}
}

func (e *Expander) position(t xtok, d *Definition) xtok {
	r := t
	r.FromMacro = true
	switch d.Name {
	case "__FILE__":
		r.Kind = pptoken.String
		r.Text = strconv.Quote(e.File)
	case "__LINE__":
		r.Kind = pptoken.Number
		line := 0
		if e.Source != nil && t.Offset <= len(e.Source) {
			line = bytes.Count(e.Source[:t.Offset], []byte{'\n'}) + 1
		}
		r.Text = strconv.Itoa(line)
	case "__COUNTER__":
		r.Kind = pptoken.Number
		r.Text = strconv.Itoa(e.counter)
		e.counter++
	default:
		if len(d.Body) > 0 {
			r.Kind = d.Body[0].Kind
			r.Text = d.Body[0].Text
		}
	}
	return r
}
