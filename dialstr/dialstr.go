// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package dialstr provides support for building and parsing origination
// variable strings of the form {name=value,...}.
package dialstr

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/creachadair/mds/value"
)

// Variables reserved for the origination protocol. A Builder marked reserved
// by Reserve ignores attempts by later writers to replace these values.
//
// Variable names are not case-sensitive.
const (
	OriginationUUID = "origination_uuid"
	ReturnRingReady = "return_ring_ready"
)

// A Var is a single variable binding. Value is the encoded form as it
// appears on the wire.
type Var struct {
	Name  string
	Value string
}

// A Builder accumulates variable bindings in order. The zero value is ready
// for use as an empty builder. Setting a name that is already bound replaces
// its value in place.
//
// A binding whose name or encoded value would not read back as a single
// variable is discarded, and reported by Err.
type Builder struct {
	vars     []Var
	reserved []string
	err      error
}

// Reserve binds name to the encoded value v and prevents any later call on b
// from changing it.
func (b *Builder) Reserve(name, v string) {
	if !b.set(name, v, true) {
		return
	}
	if !slices.ContainsFunc(b.reserved, equalFold(name)) {
		b.reserved = append(b.reserved, name)
	}
}

// Err reports the first binding discarded by b because it was invalid, or
// nil if there was none.
func (b *Builder) Err() error { return b.err }

// Bool binds name to a Boolean, encoded as "true" or "false".
func (b *Builder) Bool(name string, ok bool) { b.Put(name, value.Cond(ok, "true", "false")) }

// Int binds name to an integer, encoded without quotes.
func (b *Builder) Int(name string, v int64) { b.Put(name, strconv.FormatInt(v, 10)) }

// Float binds name to a floating-point number, encoded without quotes.
func (b *Builder) Float(name string, v float64) {
	b.Put(name, strconv.FormatFloat(v, 'g', -1, 64))
}

// String binds name to a string, encoded as by Quote.
func (b *Builder) String(name, s string) { b.Put(name, Quote(s)) }

// Put binds name to the encoded value v, which is used verbatim. The value
// must be quoted, or free of quotes, braces, commas and backslashes.
func (b *Builder) Put(name, v string) { b.set(name, v, false) }

// Any binds name to v according to its dynamic type: bool, integer and
// floating-point values as by Bool, Int and Float; everything else as a
// string formatted with fmt.Sprint.
func (b *Builder) Any(name string, v any) {
	switch t := v.(type) {
	case bool:
		b.Bool(name, t)
	case int:
		b.Int(name, int64(t))
	case int32:
		b.Int(name, int64(t))
	case int64:
		b.Int(name, t)
	case uint:
		b.Put(name, strconv.FormatUint(uint64(t), 10))
	case uint32:
		b.Put(name, strconv.FormatUint(uint64(t), 10))
	case uint64:
		b.Put(name, strconv.FormatUint(t, 10))
	case float32:
		b.Float(name, float64(t))
	case float64:
		b.Float(name, t)
	case string:
		b.String(name, t)
	default:
		b.String(name, fmt.Sprint(v))
	}
}

// Map binds each variable in m, in lexicographic order by name.
func (b *Builder) Map(m map[string]any) {
	for _, name := range sortedKeys(m) {
		b.Any(name, m[name])
	}
}

// set binds name to v and reports whether the binding was made.
func (b *Builder) set(name, v string, force bool) bool {
	if !validName(name) {
		b.fail(fmt.Errorf("invalid variable name %q", name))
		return false
	} else if !validValue(v) {
		b.fail(fmt.Errorf("invalid value for %q: %q", name, v))
		return false
	}
	if !force && slices.ContainsFunc(b.reserved, equalFold(name)) {
		return false
	}
	if i := slices.IndexFunc(b.vars, func(kv Var) bool { return strings.EqualFold(kv.Name, name) }); i >= 0 {
		b.vars[i].Value = v
	} else {
		b.vars = append(b.vars, Var{Name: name, Value: v})
	}
	return true
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func equalFold(name string) func(string) bool {
	return func(s string) bool { return strings.EqualFold(s, name) }
}

// Get returns the encoded value bound to name, and reports whether it was
// found.
func (b *Builder) Get(name string) (string, bool) {
	for _, kv := range b.vars {
		if strings.EqualFold(kv.Name, name) {
			return kv.Value, true
		}
	}
	return "", false
}

// Len reports the number of variables bound in b.
func (b *Builder) Len() int { return len(b.vars) }

// Vars returns a copy of the bindings in b, in order.
func (b *Builder) Vars() []Var { return slices.Clone(b.vars) }

// Reset discards the contents of b, including reservations and errors.
func (b *Builder) Reset() { b.vars, b.reserved, b.err = b.vars[:0], nil, nil }

// Encode returns the variable string for b, or "" if b is empty.
func (b *Builder) Encode() string {
	if len(b.vars) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, kv := range b.vars {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(kv.Name)
		sb.WriteByte('=')
		sb.WriteString(kv.Value)
	}
	sb.WriteByte('}')
	return sb.String()
}

// Quote returns s enclosed in single quotes, unless it is already a well-formed
// value enclosed in single or double quotes. Backslashes and single quotes
// within s are escaped with a backslash.
func Quote(s string) string {
	if isQuoted(s) {
		return s
	}
	var sb strings.Builder
	sb.WriteByte('\'')
	for i := range len(s) {
		if s[i] == '\\' || s[i] == '\'' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('\'')
	return sb.String()
}

// Unquote removes one level of enclosing single or double quotes from s, if
// present, and the escapes within them.
func Unquote(s string) string {
	if !isQuoted(s) {
		return s
	}
	inner := s[1 : len(s)-1]
	if !strings.Contains(inner, `\`) {
		return inner
	}
	var sb strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			i++
		}
		sb.WriteByte(inner[i])
	}
	return sb.String()
}

// isQuoted reports whether s is enclosed in matching quotes, with every
// occurrence of the quote and of backslash inside escaped.
func isQuoted(s string) bool {
	if len(s) < 2 || (s[0] != '\'' && s[0] != '"') || s[len(s)-1] != s[0] {
		return false
	}
	inner := s[1 : len(s)-1]
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '\\':
			if i++; i == len(inner) {
				return false // escapes the closing quote
			}
		case s[0]:
			return false
		}
	}
	return true
}

// validName reports whether name can be bound without changing the structure
// of a variable block.
func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "=,{}'\"\\ \t\r\n")
}

// validValue reports whether the encoded value v reads back as a single
// value.
func validValue(v string) bool {
	return isQuoted(v) || !strings.ContainsAny(v, ",{}'\"\\\r\n")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
