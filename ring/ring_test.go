// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package ring_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/esl"
	"github.com/creachadair/esl/balance"
	"github.com/creachadair/esl/dialstr"
	"github.com/creachadair/esl/esltest"
	"github.com/creachadair/esl/ring"
	"github.com/creachadair/esl/session"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

// fakeSwitch answers originate commands. Destinations in answer reach the
// EXECUTE state at once, destinations in reject fail to issue, and all others
// ring without answering.
type fakeSwitch struct {
	*esltest.Server
	answer map[string]bool
	reject map[string]bool

	μ     sync.Mutex
	legs  map[string]string // dest → uuid
	order []string          // dests, in order of origination
}

func newFakeSwitch(t *testing.T, answer, reject []string) *fakeSwitch {
	f := &fakeSwitch{
		Server: esltest.NewServer(t, "secret"),
		answer: make(map[string]bool),
		reject: make(map[string]bool),
		legs:   make(map[string]string),
	}
	for _, d := range answer {
		f.answer[d] = true
	}
	for _, d := range reject {
		f.reject[d] = true
	}
	f.Handle("bgapi", f.originate)
	return f
}

func destOf(cmd *esl.Command) string {
	_, arg, _ := strings.Cut(cmd.Args, " ")
	_, rest, _ := dialstr.Parse(arg)
	dest, _, _ := strings.Cut(rest, " ")
	return dest
}

func (f *fakeSwitch) originate(p *esltest.Peer, cmd *esl.Command) error {
	dest, id := destOf(cmd), esltest.OriginationUUID(cmd)
	if f.reject[dest] {
		return p.Reply("-ERR no route")
	}
	f.μ.Lock()
	f.legs[dest] = id
	f.order = append(f.order, dest)
	f.μ.Unlock()

	if err := p.Reply("+OK Job-UUID: " + cmd.JobUUID); err != nil {
		return err
	}
	if f.answer[dest] {
		if err := p.Event(esltest.ChannelEvent("CHANNEL_EXECUTE", id, 4)...); err != nil {
			return err
		}
	}
	return p.Job(cmd.JobUUID, "+OK "+id)
}

func (f *fakeSwitch) uuid(dest string) string {
	f.μ.Lock()
	defer f.μ.Unlock()
	return f.legs[dest]
}

func (f *fakeSwitch) originated() []string {
	f.μ.Lock()
	defer f.μ.Unlock()
	return append([]string(nil), f.order...)
}

// hangups counts the hangup messages sent for each channel UUID.
func (f *fakeSwitch) hangups() map[string]int {
	out := make(map[string]int)
	for _, cmd := range f.Commands() {
		if cmd.Name == "sendmsg" && cmd.Get("call-command") == "hangup" {
			out[cmd.Args]++
		}
	}
	return out
}

func (f *fakeSwitch) dial(t *testing.T) *esl.Conn {
	t.Helper()
	c, err := session.Dial(t.Context(), f.Addr(), &session.DialOptions{Password: "secret"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return c
}

type attemptLog struct {
	esl.NopObserver
	μ   sync.Mutex
	got []esl.Attempt
}

func (a *attemptLog) AttemptDone(r esl.Attempt) {
	a.μ.Lock()
	defer a.μ.Unlock()
	a.got = append(a.got, r)
}

func TestParallel(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFakeSwitch(t, []string{"user/b"}, nil)
	defer f.Close()
	c := f.dial(t)
	defer c.Stop()

	var obs attemptLog
	ch, err := ring.Ring(t.Context(), c, []string{"user/a", "user/b", "user/c"}, &ring.Options{
		Mode:     ring.Parallel,
		Timeout:  5 * time.Second,
		Observer: &obs,
	})
	if err != nil {
		t.Fatalf("Ring: unexpected error: %v", err)
	}
	if ch == nil || ch.DialPath() != "user/b" {
		t.Fatalf("Ring: got %v, want user/b", ch)
	}
	if got, want := ch.UUID(), f.uuid("user/b"); got != want {
		t.Errorf("Winner UUID: got %q, want %q", got, want)
	}

	want := map[string]int{f.uuid("user/a"): 1, f.uuid("user/c"): 1}
	if diff := cmp.Diff(f.hangups(), want); diff != "" {
		t.Errorf("Hangups (-got, +want):\n%s", diff)
	}

	if len(obs.got) != 1 {
		t.Fatalf("Got %d attempt reports, want 1", len(obs.got))
	}
	if r := obs.got[0]; r.Winner != "user/b" || r.Originated != 3 || r.Mode != "parallel" || r.Err != nil {
		t.Errorf("Attempt: got %+v", r)
	}
}

func TestParallelNoAnswer(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFakeSwitch(t, nil, nil)
	defer f.Close()
	c := f.dial(t)
	defer c.Stop()

	ch, err := ring.Ring(t.Context(), c, []string{"user/a", "user/b"}, &ring.Options{
		Timeout: 50 * time.Millisecond,
	})
	if err != nil || ch != nil {
		t.Fatalf("Ring: got (%v, %v), want no winner and no error", ch, err)
	}
	want := map[string]int{f.uuid("user/a"): 1, f.uuid("user/b"): 1}
	if diff := cmp.Diff(f.hangups(), want); diff != "" {
		t.Errorf("Hangups (-got, +want):\n%s", diff)
	}
}

func TestParallelCanceled(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFakeSwitch(t, nil, nil)
	defer f.Close()
	c := f.dial(t)
	defer c.Stop()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	ch, err := ring.Ring(ctx, c, []string{"user/a", "user/b"}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Ring: got (%v, %v), want %v", ch, err, context.DeadlineExceeded)
	}

	// Cancellation still hangs up every leg.
	want := map[string]int{f.uuid("user/a"): 1, f.uuid("user/b"): 1}
	if diff := cmp.Diff(f.hangups(), want); diff != "" {
		t.Errorf("Hangups (-got, +want):\n%s", diff)
	}
}

func TestNoOrigination(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFakeSwitch(t, nil, []string{"user/a", "user/b"})
	defer f.Close()
	c := f.dial(t)
	defer c.Stop()

	for _, mode := range []ring.Mode{ring.Parallel, ring.Sequential} {
		ch, err := ring.Ring(t.Context(), c, []string{"user/a", "user/b"}, &ring.Options{Mode: mode})
		if !errors.Is(err, ring.ErrNoOrigination) {
			t.Errorf("Ring %v: got (%v, %v), want %v", mode, ch, err, ring.ErrNoOrigination)
		}
		var ce *esl.CommandError
		if !errors.As(err, &ce) {
			t.Errorf("Ring %v: error %v does not include the command failure", mode, err)
		}
	}
}

func TestSequential(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFakeSwitch(t, []string{"d2"}, nil)
	defer f.Close()
	c := f.dial(t)
	defer c.Stop()

	ch, err := ring.Ring(t.Context(), c, []string{"d1", "d2", "d3"}, &ring.Options{
		Mode:    ring.Sequential,
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Ring: unexpected error: %v", err)
	}
	if ch == nil || ch.DialPath() != "d2" {
		t.Fatalf("Ring: got %v, want d2", ch)
	}
	if diff := cmp.Diff(f.originated(), []string{"d1", "d2"}); diff != "" {
		t.Errorf("Originated (-got, +want):\n%s", diff)
	}
	want := map[string]int{f.uuid("d1"): 1}
	if diff := cmp.Diff(f.hangups(), want); diff != "" {
		t.Errorf("Hangups (-got, +want):\n%s", diff)
	}
}

func TestBalancing(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFakeSwitch(t, []string{"d2"}, nil)
	defer f.Close()
	c := f.dial(t)
	defer c.Stop()

	lb := balance.NewMemory()
	ctx := t.Context()
	lb.Increment(ctx, "d1")
	lb.Increment(ctx, "d1")

	ch, err := ring.Ring(ctx, c, []string{"d1", "d2"}, &ring.Options{
		Mode:     ring.Balancing,
		Balancer: lb,
	})
	if err != nil {
		t.Fatalf("Ring: unexpected error: %v", err)
	}
	if ch == nil || ch.DialPath() != "d2" {
		t.Fatalf("Ring: got %v, want d2", ch)
	}
	if diff := cmp.Diff(f.originated(), []string{"d2"}); diff != "" {
		t.Errorf("Originated (-got, +want):\n%s", diff)
	}
	if diff := cmp.Diff(lb.Snapshot(), map[string]int64{"d1": 2}); diff != "" {
		t.Errorf("Counts (-got, +want):\n%s", diff)
	}
}

func TestBalancingFallback(t *testing.T) {
	defer leaktest.Check(t)()
	f := newFakeSwitch(t, []string{"d1"}, nil)
	defer f.Close()
	c := f.dial(t)
	defer c.Stop()

	lb := balance.NewMemory()
	ctx := t.Context()
	lb.Increment(ctx, "d1")

	// d2 and d3 are less loaded but do not answer, so d1 is reached last.
	ch, err := ring.Ring(ctx, c, []string{"d1", "d2", "d3"}, &ring.Options{
		Mode:     ring.Balancing,
		Balancer: lb,
		Timeout:  50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Ring: unexpected error: %v", err)
	}
	if ch == nil || ch.DialPath() != "d1" {
		t.Fatalf("Ring: got %v, want d1", ch)
	}
	if diff := cmp.Diff(f.originated(), []string{"d2", "d3", "d1"}); diff != "" {
		t.Errorf("Originated (-got, +want):\n%s", diff)
	}
	if diff := cmp.Diff(lb.Snapshot(), map[string]int64{"d1": 1}); diff != "" {
		t.Errorf("Counts (-got, +want):\n%s", diff)
	}
}

func TestModes(t *testing.T) {
	for _, m := range []ring.Mode{ring.Parallel, ring.Sequential, ring.Balancing} {
		got, err := ring.ParseMode(strings.ToUpper(m.String()))
		if err != nil || got != m {
			t.Errorf("ParseMode(%q): got (%v, %v), want %v", m, got, err, m)
		}
	}
	if m, err := ring.ParseMode("random"); err == nil {
		t.Errorf("ParseMode(random): got %v, want error", m)
	}
	if _, err := ring.Ring(t.Context(), nil, nil, nil); err == nil {
		t.Error("Ring with no destinations: got nil error")
	}
}
