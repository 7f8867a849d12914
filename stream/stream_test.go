// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package stream_test

import (
	"context"
	"errors"
	"expvar"
	"strconv"
	"testing"
	"time"

	"github.com/creachadair/esl"
	"github.com/creachadair/esl/esltest"
	"github.com/creachadair/esl/session"
	"github.com/creachadair/esl/stream"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

func setup(t *testing.T) (*esltest.Server, *esltest.Peer, *esl.Conn) {
	t.Helper()
	s := esltest.NewServer(t, "ClueCon")
	c, err := session.Dial(t.Context(), s.Addr(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return s, s.Peers()[0], c
}

// whenSubscribed runs f in a goroutine once c has a subscriber.
func whenSubscribed(c *esl.Conn, f func()) *taskgroup.Single[error] {
	return taskgroup.Go(func() error {
		for c.Metrics().Get("subscribers").(*expvar.Int).Value() == 0 {
			time.Sleep(time.Millisecond)
		}
		f()
		return nil
	})
}

func heartbeats(p *esltest.Peer, n int) {
	for i := range n {
		p.Event("Event-Name", "HEARTBEAT", "Seq", strconv.Itoa(i))
	}
}

func TestEvents(t *testing.T) {
	defer leaktest.Check(t)()
	s, p, c := setup(t)
	defer s.Close()
	defer c.Stop()

	tests := []struct {
		name string
		take int
		want []string
	}{
		{"All", 3, []string{"0", "1", "2"}},
		{"Some", 2, []string{"0", "1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pub := whenSubscribed(c, func() {
				// Neither a different name nor a failed predicate is seen.
				p.Event("Event-Name", "RE_SCHEDULE", "Seq", "x")
				p.Event("Event-Name", "HEARTBEAT")
				heartbeats(p, 3)
			})
			defer pub.Wait()

			var got []string
			for ev, err := range stream.Take(stream.Events(t.Context(), c, "HEARTBEAT", esl.Has("Seq")), tc.take) {
				if err != nil {
					t.Fatalf("Events: unexpected error: %v", err)
				}
				got = append(got, ev.Get("Seq"))
			}
			if diff := cmp.Diff(got, tc.want); diff != "" {
				t.Errorf("Events (-got, +want):\n%s", diff)
			}
		})
	}

	t.Run("TakeNone", func(t *testing.T) {
		for ev, err := range stream.Take(stream.Events(t.Context(), c, ""), 0) {
			t.Errorf("Take 0: got (%v, %v)", ev, err)
		}
	})
}

func TestEventsEnd(t *testing.T) {
	defer leaktest.Check(t)()
	s, p, c := setup(t)
	defer s.Close()
	defer c.Stop()

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		var last error
		for _, err := range stream.Events(ctx, c, "") {
			last = err
		}
		if !errors.Is(last, context.Canceled) {
			t.Errorf("Events: got %v, want %v", last, context.Canceled)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		pub := whenSubscribed(c, func() { p.Close() })
		defer pub.Wait()

		var last error
		for _, err := range stream.Events(t.Context(), c, "") {
			if err != nil {
				last = err
			}
		}
		if !errors.Is(last, esl.ErrClosed) {
			t.Errorf("Events: got %v, want %v", last, esl.ErrClosed)
		}
	})
}

func TestJobs(t *testing.T) {
	defer leaktest.Check(t)()
	s, p, c := setup(t)
	defer s.Close()
	defer c.Stop()

	// Acknowledge background commands, but hold their results.
	s.Handle("bgapi", func(p *esltest.Peer, cmd *esl.Command) error {
		return p.Reply("+OK Job-UUID: " + cmd.JobUUID)
	})

	ctx := t.Context()
	var jobs []*esl.Job
	for _, cmd := range []string{"status", "version", "nonesuch"} {
		j, err := c.BGAPI(ctx, cmd)
		if err != nil {
			t.Fatalf("BGAPI %q: %v", cmd, err)
		}
		jobs = append(jobs, j)
	}

	// Complete the jobs out of order.
	p.Job(jobs[1].ID(), "+OK 1.10")
	p.Job(jobs[2].ID(), "-ERR nonesuch command not found")
	p.Job(jobs[0].ID(), "+OK up")

	var got []string
	for j, err := range stream.Jobs(ctx, jobs...) {
		var ce *esl.CommandError
		if err != nil && !errors.As(err, &ce) {
			t.Fatalf("Jobs: unexpected error: %v", err)
		}
		got = append(got, j.Command().Args+"="+j.Result())
	}
	want := []string{"version=+OK 1.10", "nonesuch=-ERR nonesuch command not found", "status=+OK up"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Jobs (-got, +want):\n%s", diff)
	}

	t.Run("Timeout", func(t *testing.T) {
		j, err := c.BGAPI(ctx, "sleep")
		if err != nil {
			t.Fatalf("BGAPI: %v", err)
		}
		defer j.Cancel()

		tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		var last error
		for _, err := range stream.Jobs(tctx, j) {
			last = err
		}
		if !errors.Is(last, context.DeadlineExceeded) {
			t.Errorf("Jobs: got %v, want %v", last, context.DeadlineExceeded)
		}
	})
}
