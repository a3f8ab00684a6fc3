// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package pptoken

import "strings"

// three and two char punctuators, longest first.
var puncts = []string{
	"<<=", ">>=", "...", "->*",
	"##", "<<", ">>", "<=", ">=", "==", "!=", "&&", "||",
	"++", "--", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=",
	"->", "::", ".*",
}

type lexer struct {
	buf   []byte
	pos   int
	space bool
	toks  []Token
}

// Lex tokenizes buf.
func Lex(buf []byte) []Token {
	l := &lexer{buf: buf}
	l.run()
	return l.toks
}

// LexString tokenizes s.
func LexString(s string) []Token {
	return Lex([]byte(s))
}

func (l *lexer) peek(i int) byte {
	if l.pos+i >= len(l.buf) {
		return 0
	}
	return l.buf[l.pos+i]
}

func (l *lexer) emit(kind Kind, start int) *Token {
	l.toks = append(l.toks, Token{
		Kind:   kind,
		Text:   string(l.buf[start:l.pos]),
		Offset: start,
		End:    l.pos,
		Space:  l.space,
	})
	l.space = false
	return &l.toks[len(l.toks)-1]
}

func (l *lexer) run() {
	for l.pos < len(l.buf) {
		c := l.buf[l.pos]
		switch {
		case c == '\\' && l.peek(1) == '\n':
			l.pos += 2
			l.space = true
		case c == '\\' && l.peek(1) == '\r' && l.peek(2) == '\n':
			l.pos += 3
			l.space = true
		case c == '\n':
			start := l.pos
			l.pos++
			l.emit(Newline, start)
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			l.pos++
			l.space = true
		case c == '/' && l.peek(1) == '/':
			l.lineComment()
		case c == '/' && l.peek(1) == '*':
			l.blockComment()
		case isIdentStart(c):
			l.ident()
		case isDigit(c) || (c == '.' && isDigit(l.peek(1))):
			l.number()
		case c == '"':
			l.quoted('"', String)
		case c == '\'':
			l.quoted('\'', Char)
		default:
			l.punct()
		}
	}
}

func (l *lexer) lineComment() {
	start := l.pos
	for l.pos < len(l.buf) && l.buf[l.pos] != '\n' {
		if l.buf[l.pos] == '\\' && l.peek(1) == '\n' {
			l.pos += 2
			continue
		}
		l.pos++
	}
	l.emit(Comment, start)
	l.space = true
}

func (l *lexer) blockComment() {
	start := l.pos
	l.pos += 2
	for {
		if l.pos >= len(l.buf) {
			t := l.emit(Comment, start)
			t.Unterminated = true
			l.space = true
			return
		}
		if l.buf[l.pos] == '*' && l.peek(1) == '/' {
			l.pos += 2
			l.emit(Comment, start)
			l.space = true
			return
		}
		l.pos++
	}
}

func (l *lexer) ident() {
	start := l.pos
	for l.pos < len(l.buf) && isIdentChar(l.buf[l.pos]) {
		l.pos++
	}
	// string/char literal prefixes: L"", u8"", u'', U"" ...
	if l.pos < len(l.buf) {
		switch prefix := string(l.buf[start:l.pos]); prefix {
		case "L", "u", "U", "u8", "R", "LR", "uR", "UR", "u8R":
			if l.buf[l.pos] == '"' && !strings.HasSuffix(prefix, "R") {
				l.pos = start
				l.prefixedQuoted(len(prefix), '"', String)
				return
			}
			if l.buf[l.pos] == '\'' && !strings.HasSuffix(prefix, "R") {
				l.pos = start
				l.prefixedQuoted(len(prefix), '\'', Char)
				return
			}
		}
	}
	l.emit(Ident, start)
}

func (l *lexer) number() {
	start := l.pos
	// pp-number: digit, ident char, '.', sign after e/E/p/P, digit separator '.
	for l.pos < len(l.buf) {
		c := l.buf[l.pos]
		switch {
		case (c == '+' || c == '-') && l.pos > start && strings.ContainsRune("eEpP", rune(l.buf[l.pos-1])):
			l.pos++
		case isIdentChar(c) || c == '.':
			l.pos++
		case c == '\'' && l.pos > start && isIdentChar(l.peek(1)):
			l.pos++
		default:
			l.emit(Number, start)
			return
		}
	}
	l.emit(Number, start)
}

func (l *lexer) prefixedQuoted(prefixLen int, q byte, kind Kind) {
	start := l.pos
	l.pos += prefixLen
	l.scanQuoted(start, q, kind)
}

func (l *lexer) quoted(q byte, kind Kind) {
	l.scanQuoted(l.pos, q, kind)
}

func (l *lexer) scanQuoted(start int, q byte, kind Kind) {
	l.pos++ // opening quote
	for l.pos < len(l.buf) {
		c := l.buf[l.pos]
		switch {
		case c == '\\' && l.pos+1 < len(l.buf):
			l.pos += 2
		case c == q:
			l.pos++
			l.emit(kind, start)
			return
		case c == '\n':
			t := l.emit(kind, start)
			t.Unterminated = true
			return
		default:
			l.pos++
		}
	}
	t := l.emit(kind, start)
	t.Unterminated = true
}

func (l *lexer) punct() {
	start := l.pos
	rest := l.buf[l.pos:]
	for _, p := range puncts {
		if len(rest) >= len(p) && string(rest[:len(p)]) == p {
			l.pos += len(p)
			l.emit(Punct, start)
			return
		}
	}
	c := l.buf[l.pos]
	l.pos++
	if c < 0x20 || c >= 0x7f {
		// utf-8 in identifiers is accepted as part of ident by
		// isIdentStart, so this is a stray control byte.
		l.emit(Other, start)
		return
	}
	l.emit(Punct, start)
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// IsIdent reports whether s is a valid identifier.
func IsIdent(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}
