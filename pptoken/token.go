// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package pptoken provides a tokenizer for C/C++ preprocessing tokens.
//
// Tokens keep byte offsets into the original buffer, so walkers can
// report references by offset range. Comments are preserved as tokens
// (include guard detection needs to see them), and newlines are
// reported as Newline tokens except when escaped by backslash.
package pptoken

import (
	"fmt"
	"strings"
)

// Kind is a kind of preprocessing token.
type Kind int

const (
	Ident Kind = iota
	Number
	String
	Char
	Punct
	Comment
	HeaderName
	Newline
	Other
)

func (k Kind) String() string {
	switch k {
	case Ident:
		return "ident"
	case Number:
		return "number"
	case String:
		return "string"
	case Char:
		return "char"
	case Punct:
		return "punct"
	case Comment:
		return "comment"
	case HeaderName:
		return "header-name"
	case Newline:
		return "newline"
	case Other:
		return "other"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Token is a preprocessing token.
type Token struct {
	Kind Kind
	Text string

	// Offset and End are byte offsets [Offset, End) in the buffer.
	// Tokens produced by macro expansion keep offsets of the
	// macro invocation.
	Offset int
	End    int

	// Space is true if the token is preceded by whitespace or comment.
	Space bool

	// Unterminated is set for string/char literals and block comments
	// that reach end of line (or buffer) without closing.
	Unterminated bool

	// FromMacro is set for tokens produced by macro expansion.
	FromMacro bool
}

func (t Token) String() string {
	return fmt.Sprintf("%s:%q@%d", t.Kind, t.Text, t.Offset)
}

// Is reports whether t is punctuator s.
func (t Token) Is(s string) bool {
	return t.Kind == Punct && t.Text == s
}

// Join joins token texts with a single space, so tokens are never
// pasted together.
func Join(toks []Token) string {
	var sb strings.Builder
	for i, t := range toks {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.Text)
	}
	return sb.String()
}

// Spell joins token texts as spelled, using Space to insert
// whitespace. Used for stringizing and header names built from tokens.
func Spell(toks []Token) string {
	var sb strings.Builder
	for i, t := range toks {
		if i > 0 && t.Space {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.Text)
	}
	return sb.String()
}

// WithoutComments returns toks without comment and newline tokens.
func WithoutComments(toks []Token) []Token {
	r := make([]Token, 0, len(toks))
	for _, t := range toks {
		switch t.Kind {
		case Comment, Newline:
			continue
		}
		r = append(r, t)
	}
	return r
}
