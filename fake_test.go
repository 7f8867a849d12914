// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package esl_test

import (
	"bytes"
	"expvar"
	"sync"
	"testing"

	"github.com/creachadair/esl"
	"github.com/creachadair/esl/transport"
	"github.com/creachadair/taskgroup"
)

// fakePeer serves the remote end of a direct transport. Each command it
// receives is recorded and passed to a responder, which may send any frames
// it likes in reply.
type fakePeer struct {
	*transport.Pipe

	μ    sync.Mutex
	cmds []*esl.Command
}

// startConn starts a connection on a direct transport whose remote end is
// served by respond. If respond == nil, standardResponse is used. The stop
// function stops the connection, waits for the remote end to exit, and
// reports the status of the connection.
func startConn(t *testing.T, opts *esl.Options, respond func(*fakePeer, *esl.Command)) (*esl.Conn, *fakePeer, func() error) {
	t.Helper()
	if respond == nil {
		respond = standardResponse
	}
	tr, pipe := transport.Direct()
	f := &fakePeer{Pipe: pipe}
	loop := taskgroup.Go(func() error {
		for {
			cmd, err := f.Recv()
			if err != nil {
				return nil
			}
			f.μ.Lock()
			f.cmds = append(f.cmds, cmd)
			f.μ.Unlock()
			respond(f, cmd)
		}
	})
	c := esl.NewConn(opts).Start(tr)
	return c, f, func() error {
		err := c.Stop()
		loop.Wait()
		return err
	}
}

// standardResponse answers every command successfully. Background jobs
// complete at once with result +OK.
func standardResponse(f *fakePeer, cmd *esl.Command) {
	switch cmd.Name {
	case "api":
		f.API("+OK")
	case "bgapi":
		f.Reply("+OK Job-UUID: " + cmd.JobUUID)
		f.Job(cmd.JobUUID, "+OK")
	default:
		f.Reply("+OK")
	}
}

// Lines returns the request lines of the commands received so far.
func (f *fakePeer) Lines() []string {
	f.μ.Lock()
	defer f.μ.Unlock()
	out := make([]string, len(f.cmds))
	for i, cmd := range f.cmds {
		out[i] = cmd.Line()
	}
	return out
}

// Commands returns the commands received so far.
func (f *fakePeer) Commands() []*esl.Command {
	f.μ.Lock()
	defer f.μ.Unlock()
	return append([]*esl.Command(nil), f.cmds...)
}

func (f *fakePeer) Reply(text string) error {
	return f.Send(esl.NewEvent("Content-Type", "command/reply", "Reply-Text", text))
}

func (f *fakePeer) API(body string) error {
	return f.Send(esl.NewEvent("Content-Type", "api/response").WithBody([]byte(body)))
}

func (f *fakePeer) Event(kv ...string) error { return f.EventBody(nil, kv...) }

func (f *fakePeer) EventBody(body []byte, kv ...string) error {
	inner := esl.NewEvent(kv...)
	if body != nil {
		inner = inner.WithBody(body)
	}
	var buf bytes.Buffer
	inner.WriteTo(&buf)
	return f.Send(esl.NewEvent("Content-Type", "text/event-plain").WithBody(buf.Bytes()))
}

func (f *fakePeer) Job(id, result string) error {
	return f.EventBody([]byte(result+"\n"), "Event-Name", "BACKGROUND_JOB", "Job-UUID", id)
}

// metric returns the value of the named connection metric.
func metric(c *esl.Conn, name string) int64 {
	return c.Metrics().Get(name).(*expvar.Int).Value()
}

// checkIdle reports an error for each connection gauge that is not zero.
func checkIdle(t *testing.T, c *esl.Conn) {
	t.Helper()
	for _, name := range []string{"replies_pending", "jobs_pending", "subscribers", "channels"} {
		if v := metric(c, name); v != 0 {
			t.Errorf("Metric %q = %d, want 0", name, v)
		}
	}
}
