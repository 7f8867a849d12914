// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package dialstr

import (
	"errors"
	"fmt"
	"strings"
)

// Parse splits a dial string into its leading variable block and the
// remaining dial path. Variables are reported with their encoded values. A
// dial string without a leading "{" has no variables.
//
// Commas and closing braces inside quoted values do not end a binding, nor
// does a quote escaped with a backslash.
func Parse(s string) (vars []Var, rest string, err error) {
	if !strings.HasPrefix(s, "{") {
		return nil, s, nil
	}
	var quote byte
	start := 1
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++ // the escaped byte does not end the value
			} else if c == quote {
				quote = 0
			}
			continue
		case c == '\'' || c == '"':
			quote = c
			continue
		case c != ',' && c != '}':
			continue
		}
		if item := s[start:i]; item != "" {
			v, err := parseVar(item)
			if err != nil {
				return nil, "", err
			}
			vars = append(vars, v)
		}
		if c == '}' {
			return vars, s[i+1:], nil
		}
		start = i + 1
	}
	if quote != 0 {
		return nil, "", errors.New("unterminated quoted value")
	}
	return nil, "", errors.New("unterminated variable block")
}

func parseVar(item string) (Var, error) {
	name, value, ok := strings.Cut(item, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return Var{}, fmt.Errorf("invalid binding %q", item)
	}
	return Var{Name: name, Value: value}, nil
}

// Scan parses a dial string like Parse, and loads its variables into a new
// Builder.
func Scan(s string) (*Builder, string, error) {
	vars, rest, err := Parse(s)
	if err != nil {
		return nil, "", err
	}
	b := new(Builder)
	for _, v := range vars {
		b.Put(v.Name, v.Value)
	}
	if err := b.Err(); err != nil {
		return nil, "", err
	}
	return b, rest, nil
}
