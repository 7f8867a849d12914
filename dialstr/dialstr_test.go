// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package dialstr_test

import (
	"strings"
	"testing"

	"github.com/creachadair/esl/dialstr"
	"github.com/google/go-cmp/cmp"
)

func TestBuilder(t *testing.T) {
	var b dialstr.Builder
	b.Bool("ignore_early_media", true)
	b.Int("originate_timeout", 30)
	b.String("caller_id_name", "John Doe")
	b.String("ringback", "'%(2000,4000,440.0,480.0)'")
	b.Float("gain", 1.5)
	b.Put("raw", "x")

	const want = `{ignore_early_media=true,originate_timeout=30,caller_id_name='John Doe',` +
		`ringback='%(2000,4000,440.0,480.0)',gain=1.5,raw=x}`
	if got := b.Encode(); got != want {
		t.Errorf("Encode:\n got %q\nwant %q", got, want)
	}
	if n := b.Len(); n != 6 {
		t.Errorf("Len = %d, want 6", n)
	}

	// Rebinding a name replaces its value in place.
	b.Bool("ignore_early_media", false)
	if v, ok := b.Get("ignore_early_media"); !ok || v != "false" {
		t.Errorf("Get: got %q, %v; want false, true", v, ok)
	}

	b.Reset()
	if got := b.Encode(); got != "" {
		t.Errorf("Encode after Reset: got %q, want empty", got)
	}
}

func TestReserve(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]any
		want string
	}{
		{"Override", map[string]any{
			"origination_uuid":  "evil",
			"return_ring_ready": false,
			"leg_timeout":       20,
		}, "{origination_uuid=abc,return_ring_ready=true,leg_timeout=20}"},

		{"Case", map[string]any{
			"ORIGINATION_UUID":  "evil",
			"Return_Ring_Ready": false,
		}, "{origination_uuid=abc,return_ring_ready=true}"},

		{"QuoteInValue", map[string]any{
			"caller_id_name": "x',origination_uuid='evil",
		}, `{origination_uuid=abc,return_ring_ready=true,caller_id_name='x\',origination_uuid=\'evil'}`},

		{"QuotedValue", map[string]any{
			"caller_id_name": "'x',origination_uuid='evil'",
		}, `{origination_uuid=abc,return_ring_ready=true,caller_id_name='\'x\',origination_uuid=\'evil\''}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var b dialstr.Builder
			b.Reserve(dialstr.OriginationUUID, "abc")
			b.Reserve(dialstr.ReturnRingReady, "true")
			b.Map(tc.vars)
			got := b.Encode()
			if got != tc.want {
				t.Errorf("Encode:\n got %q\nwant %q", got, tc.want)
			}
			if err := b.Err(); err != nil {
				t.Errorf("Err: unexpected error: %v", err)
			}

			// Reading the block back finds exactly one binding of each
			// reserved variable.
			vars, _, err := dialstr.Parse(got)
			if err != nil {
				t.Fatalf("Parse: unexpected error: %v", err)
			}
			for _, name := range []string{dialstr.OriginationUUID, dialstr.ReturnRingReady} {
				var vals []string
				for _, v := range vars {
					if strings.EqualFold(v.Name, name) {
						vals = append(vals, v.Value)
					}
				}
				if len(vals) != 1 {
					t.Errorf("Parse: got %q bindings of %q, want 1", vals, name)
				}
			}
		})
	}

	t.Run("Invalid", func(t *testing.T) {
		var b dialstr.Builder
		b.Reserve(dialstr.OriginationUUID, "abc")
		b.Any("x=1,origination_uuid", "evil")
		b.Put("y", "1,origination_uuid=evil")
		b.Put("z", "'unterminated")
		const want = "{origination_uuid=abc}"
		if got := b.Encode(); got != want {
			t.Errorf("Encode: got %q, want %q", got, want)
		}
		if b.Err() == nil {
			t.Error("Err: got nil, want error")
		}
	})
}

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		vars  []dialstr.Var
		rest  string
	}{
		{"user/1000", nil, "user/1000"},
		{"{}user/1000", nil, "user/1000"},
		{"{a=1,b='x,y}'}sofia/gw/1 &park()", []dialstr.Var{
			{Name: "a", Value: "1"},
			{Name: "b", Value: "'x,y}'"},
		}, "sofia/gw/1 &park()"},
		{`{n="q"}x`, []dialstr.Var{{Name: "n", Value: `"q"`}}, "x"},
		{`{n='x\',y=z'}x`, []dialstr.Var{{Name: "n", Value: `'x\',y=z'`}}, "x"},
	}
	for _, tc := range tests {
		vars, rest, err := dialstr.Parse(tc.input)
		if err != nil {
			t.Errorf("Parse %q: unexpected error: %v", tc.input, err)
			continue
		}
		if diff := cmp.Diff(vars, tc.vars); diff != "" {
			t.Errorf("Parse %q vars (-got, +want):\n%s", tc.input, diff)
		}
		if rest != tc.rest {
			t.Errorf("Parse %q rest: got %q, want %q", tc.input, rest, tc.rest)
		}
	}

	for _, bad := range []string{"{a=1", "{a='1}", "{=1}", "{a}", `{a='1\'}`} {
		if vars, rest, err := dialstr.Parse(bad); err == nil {
			t.Errorf("Parse %q: got (%v, %q), want error", bad, vars, rest)
		}
	}
}

func TestScanRoundTrip(t *testing.T) {
	var b dialstr.Builder
	b.String("x", "hello world")
	b.Int("y", -4)
	in := b.Encode() + "loopback/9664"

	got, rest, err := dialstr.Scan(in)
	if err != nil {
		t.Fatalf("Scan: unexpected error: %v", err)
	}
	if rest != "loopback/9664" {
		t.Errorf("Scan rest: got %q", rest)
	}
	if diff := cmp.Diff(got.Vars(), b.Vars()); diff != "" {
		t.Errorf("Scan vars (-got, +want):\n%s", diff)
	}
}

func TestQuote(t *testing.T) {
	for in, want := range map[string]string{
		"":        "''",
		"a":       "'a'",
		"'a'":     "'a'",
		`"a"`:     `"a"`,
		`'a"`:     `'\'a"'`,
		"'":       `'\''`,
		`a\b`:     `'a\\b'`,
		`'a\'`:    `'\'a\\\''`,
		`'it\'s'`: `'it\'s'`,
		`x',y='z`: `'x\',y=\'z'`,
	} {
		if got := dialstr.Quote(in); got != want {
			t.Errorf("Quote(%q): got %q, want %q", in, got, want)
		}
	}
	for in, want := range map[string]string{
		"'x y'":       "x y",
		`'it\'s'`:     "it's",
		`"a\\b"`:      `a\b`,
		"unquoted":    "unquoted",
		`'dangling'"`: `'dangling'"`,
	} {
		if got := dialstr.Unquote(in); got != want {
			t.Errorf("Unquote(%q): got %q, want %q", in, got, want)
		}
	}
}
