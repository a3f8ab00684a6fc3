// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package macros

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.chromium.org/infra/build/ppwalk/pptoken"
)

// ErrSyntax is returned for malformed conditional expressions.
var ErrSyntax = errors.New("syntax error in conditional expression")

// hasFeatures are function-like operators that are not evaluated and
// treated as 0.
var hasFeatures = map[string]bool{
	"__has_include":            true,
	"__has_include_next":       true,
	"__has_feature":            true,
	"__has_extension":          true,
	"__has_builtin":            true,
	"__has_attribute":          true,
	"__has_cpp_attribute":      true,
	"__has_c_attribute":        true,
	"__has_declspec_attribute": true,
	"__has_warning":            true,
	"__has_embed":              true,
}

// Eval evaluates conditional expression toks of #if/#elif using t.
func Eval(toks []pptoken.Token, t *Table) (bool, error) {
	v, err := EvalInt(toks, t)
	return v != 0, err
}

// EvalInt evaluates conditional expression toks and returns its value.
func EvalInt(toks []pptoken.Token, t *Table) (int64, error) {
	toks = pptoken.WithoutComments(toks)
	for _, tok := range toks {
		if tok.Unterminated {
			return 0, fmt.Errorf("unterminated %s %q: %w", tok.Kind, tok.Text, ErrSyntax)
		}
	}
	toks, err := replaceDefined(toks, t)
	if err != nil {
		return 0, err
	}
	e := &Expander{Table: t, inCondition: true}
	toks = e.Expand(toks)
	// macros may expand to defined.
	toks, err = replaceDefined(toks, t)
	if err != nil {
		return 0, err
	}
	toks = pptoken.WithoutComments(toks)
	if len(toks) == 0 {
		return 0, fmt.Errorf("empty expression: %w", ErrSyntax)
	}
	p := &parser{
		toks:      toks,
		cplusplus: t.Lookup("__cplusplus") != nil,
	}
	v, err := p.expr(true)
	if err != nil {
		return 0, err
	}
	if p.pos < len(p.toks) {
		return 0, fmt.Errorf("unexpected %q: %w", p.toks[p.pos].Text, ErrSyntax)
	}
	return v, nil
}

func number(v bool, at pptoken.Token) pptoken.Token {
	text := "0"
	if v {
		text = "1"
	}
	return pptoken.Token{Kind: pptoken.Number, Text: text, Offset: at.Offset, End: at.End, Space: at.Space}
}

// replaceDefined replaces defined X, defined(X) and __has_*(...) by
// numbers.
func replaceDefined(toks []pptoken.Token, t *Table) ([]pptoken.Token, error) {
	var r []pptoken.Token
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if tok.Kind != pptoken.Ident {
			r = append(r, tok)
			continue
		}
		switch {
		case tok.Text == "defined":
			i++
			for i < len(toks) && toks[i].Kind == pptoken.Comment {
				i++
			}
			paren := i < len(toks) && toks[i].Is("(")
			if paren {
				i++
			}
			if i >= len(toks) || toks[i].Kind != pptoken.Ident {
				return nil, fmt.Errorf("operator \"defined\" requires an identifier: %w", ErrSyntax)
			}
			name := toks[i].Text
			if paren {
				i++
				if i >= len(toks) || !toks[i].Is(")") {
					return nil, fmt.Errorf("missing ')' after \"defined\": %w", ErrSyntax)
				}
			}
			r = append(r, number(t.Lookup(name) != nil, tok))
		case hasFeatures[tok.Text]:
			i++
			if i >= len(toks) || !toks[i].Is("(") {
				// used as #ifdef __has_include etc.
				r = append(r, number(true, tok))
				i--
				continue
			}
			depth := 0
			for ; i < len(toks); i++ {
				if toks[i].Is("(") {
					depth++
				} else if toks[i].Is(")") {
					depth--
					if depth == 0 {
						break
					}
				}
			}
			if i >= len(toks) {
				return nil, fmt.Errorf("missing ')' after %q: %w", tok.Text, ErrSyntax)
			}
			r = append(r, number(false, tok))
		default:
			r = append(r, tok)
		}
	}
	return r, nil
}

type parser struct {
	toks      []pptoken.Token
	pos       int
	cplusplus bool
}

func (p *parser) peek() pptoken.Token {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return pptoken.Token{}
}

func (p *parser) accept(op string) bool {
	if p.peek().Is(op) {
		p.pos++
		return true
	}
	return false
}

// binary operator precedence; higher binds tighter.
var precedence = map[string]int{
	"||": 1,
	"&&": 2,
	"|":  3,
	"^":  4,
	"&":  5,
	"==": 6, "!=": 6,
	"<": 7, ">": 7, "<=": 7, ">=": 7,
	"<<": 8, ">>": 8,
	"+": 9, "-": 9,
	"*": 10, "/": 10, "%": 10,
}

// expr parses conditional expression. If eval is false, the operand is
// not evaluated (e.g. rhs of 0 && x), so division by zero is not an
// error there.
func (p *parser) expr(eval bool) (int64, error) {
	cond, err := p.binary(1, eval)
	if err != nil {
		return 0, err
	}
	if !p.accept("?") {
		return cond, nil
	}
	a, err := p.expr(eval && cond != 0)
	if err != nil {
		return 0, err
	}
	if !p.accept(":") {
		return 0, fmt.Errorf("expected ':' in conditional expression: %w", ErrSyntax)
	}
	b, err := p.expr(eval && cond == 0)
	if err != nil {
		return 0, err
	}
	if cond != 0 {
		return a, nil
	}
	return b, nil
}

func (p *parser) binary(minPrec int, eval bool) (int64, error) {
	lhs, err := p.unary(eval)
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		prec, ok := precedence[op.Text]
		if op.Kind != pptoken.Punct || !ok || prec < minPrec {
			return lhs, nil
		}
		p.pos++
		rhsEval := eval
		switch op.Text {
		case "&&":
			rhsEval = eval && lhs != 0
		case "||":
			rhsEval = eval && lhs == 0
		}
		rhs, err := p.binary(prec+1, rhsEval)
		if err != nil {
			return 0, err
		}
		lhs, err = apply(op.Text, lhs, rhs, rhsEval)
		if err != nil {
			return 0, err
		}
	}
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func apply(op string, a, b int64, eval bool) (int64, error) {
	switch op {
	case "||":
		return b2i(a != 0 || b != 0), nil
	case "&&":
		return b2i(a != 0 && b != 0), nil
	case "|":
		return a | b, nil
	case "^":
		return a ^ b, nil
	case "&":
		return a & b, nil
	case "==":
		return b2i(a == b), nil
	case "!=":
		return b2i(a != b), nil
	case "<":
		return b2i(a < b), nil
	case ">":
		return b2i(a > b), nil
	case "<=":
		return b2i(a <= b), nil
	case ">=":
		return b2i(a >= b), nil
	case "<<":
		return a << uint64(b&63), nil
	case ">>":
		return a >> uint64(b&63), nil
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/", "%":
		if b == 0 {
			if !eval {
				return 0, nil
			}
			return 0, errors.New("division by zero in preprocessor expression")
		}
		if op == "/" {
			return a / b, nil
		}
		return a % b, nil
	}
	return 0, fmt.Errorf("unknown operator %q: %w", op, ErrSyntax)
}

func (p *parser) unary(eval bool) (int64, error) {
	tok := p.peek()
	if tok.Kind == pptoken.Punct {
		switch tok.Text {
		case "!", "~", "-", "+":
			p.pos++
			v, err := p.unary(eval)
			if err != nil {
				return 0, err
			}
			switch tok.Text {
			case "!":
				return b2i(v == 0), nil
			case "~":
				return ^v, nil
			case "-":
				return -v, nil
			}
			return v, nil
		case "(":
			p.pos++
			v, err := p.expr(eval)
			if err != nil {
				return 0, err
			}
			if !p.accept(")") {
				return 0, fmt.Errorf("missing ')' in expression: %w", ErrSyntax)
			}
			return v, nil
		}
	}
	return p.primary()
}

func (p *parser) primary() (int64, error) {
	if p.pos >= len(p.toks) {
		return 0, fmt.Errorf("unexpected end of expression: %w", ErrSyntax)
	}
	tok := p.toks[p.pos]
	p.pos++
	switch tok.Kind {
	case pptoken.Number:
		return parseNumber(tok.Text)
	case pptoken.Char:
		return parseChar(tok.Text)
	case pptoken.Ident:
		if p.cplusplus {
			switch tok.Text {
			case "true":
				return 1, nil
			case "false":
				return 0, nil
			}
		}
		// identifiers that are not macros are 0.
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected %q: %w", tok.Text, ErrSyntax)
}

func parseNumber(s string) (int64, error) {
	text := strings.ReplaceAll(s, "'", "")
	text = strings.TrimRight(text, "uUlLzZ")
	if text == "" {
		return 0, fmt.Errorf("invalid number %q: %w", s, ErrSyntax)
	}
	base := 10
	switch {
	case len(text) > 1 && (text[:2] == "0x" || text[:2] == "0X"):
		base = 16
		text = text[2:]
	case len(text) > 1 && (text[:2] == "0b" || text[:2] == "0B"):
		base = 2
		text = text[2:]
	case len(text) > 1 && text[0] == '0':
		base = 8
		text = text[1:]
	}
	v, err := strconv.ParseUint(text, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer constant %q: %w", s, ErrSyntax)
	}
	return int64(v), nil
}

func parseChar(s string) (int64, error) {
	i := strings.IndexByte(s, '\'')
	if i < 0 || len(s) < i+3 || s[len(s)-1] != '\'' {
		return 0, fmt.Errorf("invalid character constant %s: %w", s, ErrSyntax)
	}
	body := s[i+1 : len(s)-1]
	if body[0] != '\\' {
		r := []rune(body)
		return int64(r[0]), nil
	}
	if len(body) < 2 {
		return 0, fmt.Errorf("invalid character constant %s: %w", s, ErrSyntax)
	}
	switch c := body[1]; c {
	case 'n':
		return '\n', nil
	case 't':
		return '\t', nil
	case 'r':
		return '\r', nil
	case 'a':
		return '\a', nil
	case 'b':
		return '\b', nil
	case 'f':
		return '\f', nil
	case 'v':
		return '\v', nil
	case 'x':
		v, err := strconv.ParseUint(body[2:], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid character constant %s: %w", s, ErrSyntax)
		}
		return int64(v), nil
	case '0', '1', '2', '3', '4', '5', '6', '7':
		v, err := strconv.ParseUint(body[1:], 8, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid character constant %s: %w", s, ErrSyntax)
		}
		return int64(v), nil
	default:
		return int64(c), nil
	}
}
