// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package esl_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/esl"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

func TestEventReadFrom(t *testing.T) {
	const input = "Content-Type: auth/request\n\n" +
		"\n" + // stray blank lines between frames are skipped
		"Content-Type: api/response\r\nContent-Length: 6\r\n\r\n+OK 42" + "\n" +
		"Event-Name: CUSTOM\nEvent-Subclass: conference%3A%3Amaintenance\n" +
		"variable_greeting: hello%20world\nvariable_greeting: again\n\n"

	br := bufio.NewReader(strings.NewReader(input))
	var got []*esl.Event
	for {
		ev := new(esl.Event)
		if _, err := ev.ReadFrom(br); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("ReadFrom: unexpected error: %v", err)
		}
		got = append(got, ev)
	}
	if len(got) != 3 {
		t.Fatalf("Got %d events, want 3: %v", len(got), got)
	}

	if ct := got[0].ContentType(); ct != "auth/request" {
		t.Errorf("Event 1: got content type %q", ct)
	}
	if got, want := got[1].Reply(), "+OK 42"; got != want {
		t.Errorf("Event 2: got reply %q, want %q", got, want)
	}
	if got[1].IsError() {
		t.Error("Event 2: IsError is true")
	}

	ev := got[2]
	if name := ev.Name(); name != "conference::maintenance" {
		t.Errorf("Event 3: got name %q, want conference::maintenance", name)
	}
	if diff := cmp.Diff(ev.Values("variable_greeting"), []string{"hello world", "again"}); diff != "" {
		t.Errorf("Values (-got, +want):\n%s", diff)
	}
	if v := ev.Get("VARIABLE_GREETING"); v != "hello world" {
		t.Errorf("Get without case: got %q", v)
	}
	if !ev.Has("Event-Name") || ev.Has("Unique-ID") {
		t.Errorf("Has: wrong result for %v", ev)
	}
}

func TestEventReadErrors(t *testing.T) {
	tests := []struct {
		name, input string
		eof         bool
	}{
		{"Empty", "", true},
		{"BlankOnly", "\n\n", true},
		{"NoColon", "not a header\n\n", false},
		{"EmptyName", ": value\n\n", false},
		{"Unterminated", "Content-Type: command/reply\n", false},
		{"BadLength", "Content-Length: many\n\n", false},
		{"NegativeLength", "Content-Length: -1\n\n", false},
		{"Truncated", "Content-Length: 10\n\nshort", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var ev esl.Event
			_, err := ev.ReadFrom(strings.NewReader(tc.input))
			if tc.eof {
				if err != io.EOF {
					t.Errorf("ReadFrom: got %v, want EOF", err)
				}
				return
			}
			var fe *esl.FrameError
			if !errors.As(err, &fe) {
				t.Errorf("ReadFrom: got %v, want FrameError", err)
			}
		})
	}
}

func TestEventWriteTo(t *testing.T) {
	tests := []struct {
		name string
		ev   *esl.Event
		want string
	}{
		{"Empty", esl.NewEvent(), "\n"},
		{"Plain", esl.NewEvent("Content-Type", "command/reply", "Reply-Text", "+OK accepted"),
			"Content-Type: command/reply\nReply-Text: %2BOK%20accepted\n\n"},
		{"Escaped", esl.NewEvent("Event-Name", "TEST", "Note", "a b%c\n"),
			"Event-Name: TEST\nNote: a%20b%25c%0A\n\n"},
		{"Body", esl.NewEvent("Content-Type", "api/response").WithBody([]byte("+OK\n")),
			"Content-Type: api/response\nContent-Length: 4\n\n+OK\n"},
		{"FixLength", esl.NewEvent("Content-Length", "99", "X", "y", "Content-Length", "1").WithBody([]byte("ab")),
			"Content-Length: 2\nX: y\n\nab"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := tc.ev.WriteTo(&buf)
			if err != nil {
				t.Fatalf("WriteTo: unexpected error: %v", err)
			}
			if got := buf.String(); got != tc.want {
				t.Errorf("WriteTo: got %q, want %q", got, tc.want)
			}
			if n != int64(len(tc.want)) {
				t.Errorf("WriteTo: got n=%d, want %d", n, len(tc.want))
			}
		})
	}
}

func TestEventRawValues(t *testing.T) {
	// Values that decode cleanly are written back as they were received, even
	// when they contain bytes the encoder would escape.
	const input = "Caller-Caller-ID-Number: +15551234\nChannel-Name: sofia/internal/1000%40example.com\n\n"
	var ev esl.Event
	if _, err := ev.ReadFrom(strings.NewReader(input)); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if got := ev.Get("Channel-Name"); got != "sofia/internal/1000@example.com" {
		t.Errorf("Channel-Name: got %q", got)
	}
	var buf bytes.Buffer
	if _, err := ev.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if got := buf.String(); got != input {
		t.Errorf("WriteTo: got %q, want %q", got, input)
	}
}

func TestEventAccessors(t *testing.T) {
	tests := []struct {
		ev               *esl.Event
		name, reply, str string
		isErr            bool
	}{
		{esl.NewEvent("Content-Type", "command/reply", "Reply-Text", "-ERR no such channel"),
			"", "-ERR no such channel", "Event(command/reply headers=2 body=0)", true},
		{esl.NewEvent("Event-Name", "HEARTBEAT"),
			"HEARTBEAT", "", "Event(HEARTBEAT headers=1 body=0)", false},
		{esl.NewEvent("Event-Name", "CUSTOM"),
			"CUSTOM", "", "Event(CUSTOM headers=1 body=0)", false},
		{esl.NewEvent("Event-Name", "BACKGROUND_JOB", "Job-UUID", "j1").WithBody([]byte("+OK done\n")),
			"BACKGROUND_JOB", "+OK done", "Event(BACKGROUND_JOB headers=3 body=9)", false},
		{esl.NewEvent("Event-Name", "CHANNEL_ANSWER", "Unique-ID", "leg-1"),
			"CHANNEL_ANSWER", "", "Event(CHANNEL_ANSWER uuid=leg-1 headers=2 body=0)", false},
		{nil, "", "", "Event(nil)", false},
	}
	for _, tc := range tests {
		if tc.ev == nil {
			if got := tc.ev.String(); got != tc.str {
				t.Errorf("String: got %q, want %q", got, tc.str)
			}
			continue
		}
		if got := tc.ev.Name(); got != tc.name {
			t.Errorf("%v Name: got %q, want %q", tc.ev, got, tc.name)
		}
		if got := tc.ev.Reply(); got != tc.reply {
			t.Errorf("%v Reply: got %q, want %q", tc.ev, got, tc.reply)
		}
		if got := tc.ev.IsError(); got != tc.isErr {
			t.Errorf("%v IsError: got %v, want %v", tc.ev, got, tc.isErr)
		}
		if got := tc.ev.String(); got != tc.str {
			t.Errorf("String: got %q, want %q", got, tc.str)
		}
	}
}

func TestCommandWire(t *testing.T) {
	tests := []struct {
		name string
		cmd  *esl.Command
		want string
	}{
		{"Bare", esl.NewCommand("exit"), "exit\n\n"},
		{"Args", esl.NewCommand("event", "plain", "ALL"), "event plain ALL\n\n"},
		{"Job", &esl.Command{Name: "bgapi", Args: "status", JobUUID: "job-1"},
			"bgapi status\nJob-UUID: job-1\n\n"},
		{"SendMsg", esl.SendMsg("leg-1", "execute").
			WithHeader("execute-app-name", "playback").
			WithHeader("execute-app-arg", "/tmp/x.wav"),
			"sendmsg leg-1\ncall-command: execute\nexecute-app-name: playback\nexecute-app-arg: /tmp/x.wav\n\n"},
		{"Body", esl.SendMsg("leg-1", "execute").WithBody([]byte("data")),
			"sendmsg leg-1\ncall-command: execute\nContent-Length: 4\n\ndata"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if _, err := tc.cmd.WriteTo(&buf); err != nil {
				t.Fatalf("WriteTo: unexpected error: %v", err)
			}
			if got := buf.String(); got != tc.want {
				t.Errorf("WriteTo: got %q, want %q", got, tc.want)
			}

			var cmd esl.Command
			if _, err := cmd.ReadFrom(&buf); err != nil {
				t.Fatalf("ReadFrom: unexpected error: %v", err)
			}
			if diff := cmp.Diff(&cmd, tc.cmd); diff != "" {
				t.Errorf("ReadFrom (-got, +want):\n%s", diff)
			}
		})
	}
}

func TestCommandValidate(t *testing.T) {
	tests := []struct {
		name string
		cmd  *esl.Command
	}{
		{"NoName", esl.NewCommand("")},
		{"SpaceInName", esl.NewCommand("two words")},
		{"BreakInArgs", esl.NewCommand("api", "status\nexit")},
		{"ColonInHeader", esl.NewCommand("sendmsg").WithHeader("a:b", "c")},
		{"EmptyHeader", esl.NewCommand("sendmsg").WithHeader("", "c")},
		{"BreakInValue", esl.NewCommand("sendmsg").WithHeader("a", "b\r\n")},
		{"BadJob", &esl.Command{Name: "bgapi", Args: "status", JobUUID: "a b"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cmd.Validate(); err == nil {
				t.Error("Validate: got nil error")
			}
			if _, err := tc.cmd.WriteTo(io.Discard); err == nil {
				t.Error("WriteTo: got nil error")
			}
		})
	}
}

func TestCommandRedact(t *testing.T) {
	for _, cmd := range []*esl.Command{
		esl.NewCommand("auth", "ClueCon"),
		esl.NewCommand("userauth", "1000@example.com:ClueCon"),
	} {
		if s := cmd.String(); strings.Contains(s, "ClueCon") {
			t.Errorf("String: got %q, which leaks the credential", s)
		}
		if s := cmd.Line(); !strings.Contains(s, "ClueCon") {
			t.Errorf("Line: got %q, want the complete request line", s)
		}
	}
}

func TestEventJSON(t *testing.T) {
	defer leaktest.Check(t)()

	c, f, stop := startConn(t, nil, nil)
	defer stop()

	got := make(chan *esl.Event, 1)
	c.Subscribe("CHANNEL_ANSWER", func(_ context.Context, ev *esl.Event) error {
		got <- ev
		return nil
	})
	const body = `{"Unique-ID":"leg-1","Event-Name":"CHANNEL_ANSWER","Caller-Count":3,` +
		`"Multi":["a","b"],"_body":"hello"}`
	f.Send(esl.NewEvent("Content-Type", "text/event-json").WithBody([]byte(body)))

	var ev *esl.Event
	select {
	case ev = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for event")
	}

	var names []string
	for name := range ev.Headers() {
		names = append(names, name)
	}
	if diff := cmp.Diff(names, []string{"Event-Name", "Caller-Count", "Multi", "Multi", "Unique-ID"}); diff != "" {
		t.Errorf("Header order (-got, +want):\n%s", diff)
	}
	if v := ev.Get("Caller-Count"); v != "3" {
		t.Errorf("Caller-Count: got %q, want 3", v)
	}
	if diff := cmp.Diff(ev.Values("Multi"), []string{"a", "b"}); diff != "" {
		t.Errorf("Multi (-got, +want):\n%s", diff)
	}
	if b := string(ev.Body()); b != "hello" {
		t.Errorf("Body: got %q, want hello", b)
	}
	if ev.UUID() != "leg-1" {
		t.Errorf("UUID: got %q, want leg-1", ev.UUID())
	}
}

func TestEventJSONInvalid(t *testing.T) {
	defer leaktest.Check(t)()

	c, f, stop := startConn(t, nil, nil)
	defer stop()

	f.Send(esl.NewEvent("Content-Type", "text/event-json").WithBody([]byte(`{"Event-Name":`)))
	var fe *esl.FrameError
	if err := c.Wait(); !errors.As(err, &fe) {
		t.Errorf("Wait: got %v, want FrameError", err)
	}
}
