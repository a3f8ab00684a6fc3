// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package macros provides macro tables, macro expansion and evaluation
// of preprocessing conditional expressions.
package macros

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/minio/highwayhash"

	"go.chromium.org/infra/build/ppwalk/pptoken"
)

// Kind is a kind of macro definition.
type Kind int

const (
	// UserDefined is a macro defined by #define in source.
	UserDefined Kind = iota
	// CompilerPredefined is a macro predefined by compiler, e.g. __STDC__.
	CompilerPredefined
	// PositionPredefined is a macro that depends on position, e.g. __LINE__.
	PositionPredefined
	// UserSpecified is a macro specified by -D.
	UserSpecified
)

func (k Kind) String() string {
	switch k {
	case UserDefined:
		return "user-defined"
	case CompilerPredefined:
		return "compiler-predefined"
	case PositionPredefined:
		return "position-predefined"
	case UserSpecified:
		return "user-specified"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Definition is a macro definition.
type Definition struct {
	Name     string
	Kind     Kind
	FuncLike bool
	Params   []string
	Variadic bool
	// VarArgs is the variadic parameter name; "__VA_ARGS__" unless
	// GNU named variadic (args...) is used, in which case it is the
	// last element of Params.
	VarArgs string
	Body    []pptoken.Token

	// File and Offset are where the macro name is defined.
	// Offset is -1 for macros not defined in source.
	File   string
	Offset int
}

func (d *Definition) String() string {
	var sb strings.Builder
	sb.WriteString(d.Name)
	if d.FuncLike {
		sb.WriteByte('(')
		params := append([]string(nil), d.Params...)
		switch {
		case d.namedVariadic():
			params[len(params)-1] += "..."
		case d.Variadic:
			params = append(params, "...")
		}
		sb.WriteString(strings.Join(params, ","))
		sb.WriteByte(')')
	}
	if len(d.Body) > 0 {
		sb.WriteByte('=')
		sb.WriteString(pptoken.Join(d.Body))
	}
	return sb.String()
}

func (d *Definition) namedVariadic() bool {
	return d.Variadic && d.VarArgs != "" && d.VarArgs != "__VA_ARGS__"
}

// paramNames returns parameter names including the variadic one.
func (d *Definition) paramNames() []string {
	if d.Variadic && !d.namedVariadic() {
		return append(append([]string(nil), d.Params...), "__VA_ARGS__")
	}
	return d.Params
}

// BodyText returns body as text.
func (d *Definition) BodyText() string {
	return pptoken.Join(d.Body)
}

// Table is a macro table.
// It is not safe for concurrent use; each preprocessing state owns its table.
type Table struct {
	m map[string]*Definition
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{m: make(map[string]*Definition)}
}

// Define defines d, overwriting existing definition of the same name.
func (t *Table) Define(d *Definition) {
	t.m[d.Name] = d
}

// Undef removes definition of name.
func (t *Table) Undef(name string) {
	delete(t.m, name)
}

// Lookup returns definition of name, or nil if not defined.
func (t *Table) Lookup(name string) *Definition {
	if t == nil {
		return nil
	}
	return t.m[name]
}

// Len returns number of definitions.
func (t *Table) Len() int {
	return len(t.m)
}

// Names returns sorted macro names.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.m))
	for name := range t.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy of t. Definitions are immutable, so they are shared.
func (t *Table) Clone() *Table {
	m := make(map[string]*Definition, len(t.m))
	for k, v := range t.m {
		m[k] = v
	}
	return &Table{m: m}
}

var fingerprintKey = []byte("ppwalk-macro-table-fingerprint!!")

// Fingerprint returns a hash of the table content.
// Tables with the same definitions have the same fingerprint,
// regardless of definition order.
func (t *Table) Fingerprint() uint64 {
	h, err := highwayhash.New64(fingerprintKey)
	if err != nil {
		// key is 32 bytes.
		panic(err)
	}
	var n [8]byte
	for _, name := range t.Names() {
		d := t.m[name]
		h.Write([]byte(name))
		binary.LittleEndian.PutUint64(n[:], uint64(d.Kind))
		h.Write(n[:])
		if d.FuncLike {
			h.Write([]byte{'('})
			h.Write([]byte(strings.Join(d.Params, ",")))
			if d.Variadic {
				h.Write([]byte(d.VarArgs + "..."))
			}
			h.Write([]byte{')'})
		}
		for _, tok := range d.Body {
			h.Write([]byte{' '})
			h.Write([]byte(tok.Text))
		}
		h.Write([]byte(d.File))
		binary.LittleEndian.PutUint64(n[:], uint64(int64(d.Offset)))
		h.Write(n[:])
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// ParseDefine parses -D style definition, e.g. "FOO", "FOO=1", "F(x)=x".
func ParseDefine(s string) (*Definition, error) {
	s = strings.TrimPrefix(s, "-D")
	name, value, ok := strings.Cut(s, "=")
	if !ok {
		value = "1"
	}
	d := &Definition{
		Kind:   UserSpecified,
		Offset: -1,
	}
	if i := strings.IndexByte(name, '('); i >= 0 {
		if !strings.HasSuffix(name, ")") {
			return nil, fmt.Errorf("missing ')' in %q", s)
		}
		d.FuncLike = true
		d.Params = []string{}
		params := strings.TrimSpace(name[i+1 : len(name)-1])
		name = name[:i]
		if params != "" {
			for _, p := range strings.Split(params, ",") {
				p = strings.TrimSpace(p)
				if p == "..." {
					d.Variadic = true
					d.VarArgs = "__VA_ARGS__"
					continue
				}
				if named, ok := strings.CutSuffix(p, "..."); ok {
					d.Variadic = true
					d.VarArgs = named
					p = named
				}
				if !pptoken.IsIdent(p) {
					return nil, fmt.Errorf("bad parameter %q in %q", p, s)
				}
				d.Params = append(d.Params, p)
			}
		}
	}
	if !pptoken.IsIdent(name) {
		return nil, fmt.Errorf("invalid macro name %q", name)
	}
	d.Name = name
	d.Body = pptoken.WithoutComments(pptoken.LexString(value))
	return d, nil
}

// Predefined returns a table with compiler and position predefined macros.
func Predefined(cplusplus bool) *Table {
	t := NewTable()
	for _, p := range []struct {
		name string
		kind Kind
		body string
	}{
		{"__FILE__", PositionPredefined, `""`},
		{"__LINE__", PositionPredefined, "0"},
		{"__COUNTER__", PositionPredefined, "0"},
		{"__DATE__", PositionPredefined, `"Jan  1 1970"`},
		{"__TIME__", PositionPredefined, `"00:00:00"`},
		{"__STDC__", CompilerPredefined, "1"},
		{"__STDC_HOSTED__", CompilerPredefined, "1"},
	} {
		t.Define(&Definition{
			Name:   p.name,
			Kind:   p.kind,
			Body:   pptoken.LexString(p.body),
			Offset: -1,
		})
	}
	if cplusplus {
		t.Define(&Definition{Name: "__cplusplus", Kind: CompilerPredefined, Body: pptoken.LexString("201703L"), Offset: -1})
	} else {
		t.Define(&Definition{Name: "__STDC_VERSION__", Kind: CompilerPredefined, Body: pptoken.LexString("201710L"), Offset: -1})
	}
	return t
}
