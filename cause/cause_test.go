// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package cause_test

import (
	"testing"

	"github.com/creachadair/esl/cause"
	"github.com/google/go-cmp/cmp"
)

func TestStandard(t *testing.T) {
	tests := []struct {
		name string
		code int
	}{
		{"NORMAL_CLEARING", 16},
		{"USER_BUSY", 17},
		{"NO_ANSWER", 19},
		{"ORIGINATOR_CANCEL", 487},
		{"SYSTEM_SHUTDOWN", 701},
	}
	for _, tc := range tests {
		if code, ok := cause.Standard.Lookup(tc.name); !ok || code != tc.code {
			t.Errorf("Lookup(%q): got %d, %v; want %d, true", tc.name, code, ok, tc.code)
		}
		if got := cause.Standard.Name(tc.code); got != tc.name {
			t.Errorf("Name(%d): got %q, want %q", tc.code, got, tc.name)
		}
	}

	if code, ok := cause.Standard.Lookup("user_busy"); !ok || code != 17 {
		t.Errorf("Lookup(user_busy): got %d, %v; want 17, true", code, ok)
	}
	if code, ok := cause.Standard.Lookup("NONESUCH"); ok {
		t.Errorf("Lookup(NONESUCH): got %d, want not found", code)
	}
	if got := cause.Standard.Name(4); got != "" {
		t.Errorf("Name(4): got %q, want empty", got)
	}
}

func TestCanonical(t *testing.T) {
	for in, want := range map[string]string{
		"16":              "NORMAL_CLEARING",
		"no_answer":       "NO_ANSWER",
		"NO_ANSWER":       "NO_ANSWER",
		"9999":            "",
		"SOMETHING_ELSE":  "",
		"normal_clearing": "NORMAL_CLEARING",
	} {
		if got := cause.Standard.Canonical(in); got != want {
			t.Errorf("Canonical(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestCatalogShared(t *testing.T) {
	cat := cause.New().Set("A", 1)
	cp := cat
	cat.Set("B", 2)
	if code, ok := cp.Lookup("B"); !ok || code != 2 {
		t.Errorf("Copy does not share mapping: got %d, %v", code, ok)
	}

	// Reassigning a name moves it to the new code.
	cat.Set("A", 3)
	if got := cat.Name(1); got != "" {
		t.Errorf("Name(1) after move: got %q, want empty", got)
	}
	if got := cat.Name(3); got != "A" {
		t.Errorf("Name(3): got %q, want A", got)
	}

	// The first name set for a code is preferred.
	cat.Set("C", 2)
	if got := cat.Name(2); got != "B" {
		t.Errorf("Name(2): got %q, want B", got)
	}
}

func TestTextRoundTrip(t *testing.T) {
	text, err := cause.Standard.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var cat cause.Catalog
	if err := cat.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if diff := cmp.Diff(cat.Names(), cause.Standard.Names()); diff != "" {
		t.Errorf("Names (-got, +want):\n%s", diff)
	}

	const input = `
# local additions
16 normal_clearing
900 CUSTOM_FAILURE
`
	if err := cat.UnmarshalText([]byte(input)); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if diff := cmp.Diff(cat.Names(), []string{"NORMAL_CLEARING", "CUSTOM_FAILURE"}); diff != "" {
		t.Errorf("Names (-got, +want):\n%s", diff)
	}

	for _, bad := range []string{"x NAME\n", "16\n", "-1 NAME\n", "1 A B\n"} {
		if err := cat.UnmarshalText([]byte(bad)); err == nil {
			t.Errorf("UnmarshalText(%q): got nil, want error", bad)
		}
	}
}

func TestIsNormal(t *testing.T) {
	for name, want := range map[string]bool{
		cause.NormalClearing:   true,
		"originator_cancel":    true,
		cause.UserBusy:         false,
		cause.TemporaryFailure: false,
	} {
		if got := cause.IsNormal(name); got != want {
			t.Errorf("IsNormal(%q): got %v, want %v", name, got, want)
		}
	}
}
