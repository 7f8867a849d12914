// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package esl

import "regexp"

// A Predicate reports whether an event is of interest to a subscriber.
type Predicate func(*Event) bool

// Always is a Predicate that accepts every event.
func Always(*Event) bool { return true }

// Has returns a Predicate that accepts events having the named header.
func Has(name string) Predicate {
	return func(e *Event) bool { return e.Has(name) }
}

// Equals returns a Predicate that accepts events whose named header has
// exactly the given value.
func Equals(name, value string) Predicate {
	return func(e *Event) bool {
		for _, v := range e.Values(name) {
			if v == value {
				return true
			}
		}
		return false
	}
}

// Matches returns a Predicate that accepts events whose named header has a
// value matched by re.
func Matches(name string, re *regexp.Regexp) Predicate {
	return func(e *Event) bool {
		for _, v := range e.Values(name) {
			if re.MatchString(v) {
				return true
			}
		}
		return false
	}
}

// All returns a Predicate that accepts events accepted by all of ps, which
// are evaluated in order. All with no arguments accepts every event.
func All(ps ...Predicate) Predicate {
	return func(e *Event) bool {
		for _, p := range ps {
			if !p(e) {
				return false
			}
		}
		return true
	}
}
