// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package esltest provides a scriptable fake event socket peer for tests.
//
// A Server listens for initiators, challenges them for a password, and
// answers their commands. It can also dial an acceptor as the calling side of
// a session, using Call. Replies are produced by Responders registered by
// command name; commands with no responder get a default success reply.
package esltest

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/creachadair/esl"
	"github.com/creachadair/esl/dialstr"
	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
)

// A Responder answers a command received by a Peer. An error reported by a
// responder closes the connection.
type Responder func(p *Peer, cmd *esl.Command) error

// A Server is a fake event socket peer.
type Server struct {
	password string
	lst      net.Listener
	tasks    *taskgroup.Group

	μ       sync.Mutex
	handler map[string]Responder
	peers   []*Peer
	cmds    []*esl.Command
	changed chan struct{} // closed and replaced when cmds changes
}

// NewServer starts a server listening on a loopback TCP address, accepting
// the given password. The server is closed when the test ends.
func NewServer(t testing.TB, password string) *Server {
	t.Helper()
	lst, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := &Server{
		password: password,
		lst:      lst,
		tasks:    taskgroup.New(nil),
		handler:  make(map[string]Responder),
		changed:  make(chan struct{}),
	}
	s.tasks.Go(func() error {
		for {
			conn, err := lst.Accept()
			if err != nil {
				return nil
			}
			p := s.newPeer(conn)
			s.tasks.Go(func() error {
				if err := p.send(esl.NewEvent("Content-Type", "auth/request")); err != nil {
					return nil
				}
				p.serve(false)
				return nil
			})
		}
	})
	t.Cleanup(s.Close)
	return s
}

// Addr returns the listening address of s.
func (s *Server) Addr() string { return s.lst.Addr().String() }

// Close closes the listener and every connection, and waits for them to
// finish.
func (s *Server) Close() {
	s.lst.Close()
	s.μ.Lock()
	peers := slices.Clone(s.peers)
	s.μ.Unlock()
	for _, p := range peers {
		p.Close()
	}
	s.tasks.Wait()
}

// Handle registers r to answer commands with the given name, replacing any
// previous responder. If r == nil, the default responder is restored.
// Handle returns s to permit chaining.
func (s *Server) Handle(name string, r Responder) *Server {
	s.μ.Lock()
	defer s.μ.Unlock()
	if r == nil {
		delete(s.handler, name)
	} else {
		s.handler[name] = r
	}
	return s
}

// Commands returns the commands received so far by all peers, in order of
// arrival.
func (s *Server) Commands() []*esl.Command {
	s.μ.Lock()
	defer s.μ.Unlock()
	return slices.Clone(s.cmds)
}

// Lines returns the request lines of the commands received so far.
func (s *Server) Lines() []string {
	var out []string
	for _, cmd := range s.Commands() {
		out = append(out, cmd.String())
	}
	return out
}

// WaitFor blocks until a command satisfying match has been received, and
// returns the first such command. It fails if ctx ends first.
func (s *Server) WaitFor(ctx context.Context, match func(*esl.Command) bool) (*esl.Command, error) {
	for {
		s.μ.Lock()
		i := slices.IndexFunc(s.cmds, match)
		var cmd *esl.Command
		if i >= 0 {
			cmd = s.cmds[i]
		}
		changed := s.changed
		s.μ.Unlock()
		if cmd != nil {
			return cmd, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Peers returns the connections currently open on s.
func (s *Server) Peers() []*Peer {
	s.μ.Lock()
	defer s.μ.Unlock()
	return slices.Clone(s.peers)
}

// Broadcast sends an event with the given headers to every open connection.
func (s *Server) Broadcast(kv ...string) {
	for _, p := range s.Peers() {
		p.Event(kv...)
	}
}

// Call dials an acceptor at addr as the calling side of a session. The
// connect command is answered with channel data for a channel with the given
// UUID and the additional headers in kv; other commands are answered as for
// connections accepted by s.
func (s *Server) Call(ctx context.Context, addr, id string, kv ...string) (*Peer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	p := s.newPeer(conn)
	p.data = append([]string{
		"Unique-ID", id,
		"Channel-Unique-ID", id,
		"Channel-State", "CS_EXECUTE",
		"Channel-State-Number", "4",
		"Channel-Call-State", "RINGING",
	}, kv...)
	s.tasks.Go(func() error { p.serve(true); return nil })
	return p, nil
}

func (s *Server) newPeer(conn net.Conn) *Peer {
	p := &Peer{s: s, conn: conn, r: bufio.NewReader(conn), done: make(chan struct{})}
	s.μ.Lock()
	s.peers = append(s.peers, p)
	s.μ.Unlock()
	return p
}

func (s *Server) record(cmd *esl.Command) Responder {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.cmds = append(s.cmds, cmd)
	close(s.changed)
	s.changed = make(chan struct{})
	return s.handler[cmd.Name]
}

func (s *Server) remove(p *Peer) {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.peers = slices.DeleteFunc(s.peers, func(q *Peer) bool { return q == p })
}

// A Peer is one connection served by a Server.
type Peer struct {
	s    *Server
	conn net.Conn
	r    *bufio.Reader
	data []string // channel data for connect, if calling
	done chan struct{}

	wμ     sync.Mutex
	closed bool
}

// Done returns a channel that is closed when the connection ends.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Close closes the connection.
func (p *Peer) Close() error {
	p.wμ.Lock()
	defer p.wμ.Unlock()
	p.closed = true
	return p.conn.Close()
}

func (p *Peer) serve(calling bool) {
	defer close(p.done)
	defer p.s.remove(p)
	defer p.Close()
	authed := calling
	for {
		var cmd esl.Command
		if _, err := cmd.ReadFrom(p.r); err != nil {
			return
		}
		r := p.s.record(&cmd)
		if !authed {
			if cmd.Name != "auth" {
				p.Reply("-ERR command not found")
				continue
			} else if cmd.Args != p.s.password {
				p.Reply("-ERR invalid")
				return
			}
			authed = true
			p.Reply("+OK accepted")
			continue
		}
		if r == nil {
			r = defaultResponder
		}
		if err := r(p, &cmd); err != nil {
			return
		}
	}
}

func defaultResponder(p *Peer, cmd *esl.Command) error {
	switch cmd.Name {
	case "connect":
		if p.data == nil {
			return p.Reply("-ERR command not found")
		}
		kv := append([]string{"Content-Type", "command/reply", "Reply-Text", "+OK"}, p.data...)
		return p.Send(esl.NewEvent(kv...))
	case "api":
		return p.API("+OK")
	case "bgapi":
		id := cmp.Or(cmd.JobUUID, uuid.NewString())
		if err := p.Reply("+OK Job-UUID: " + id); err != nil {
			return err
		}
		return p.Job(id, "+OK")
	case "exit":
		p.Reply("+OK bye")
		return errors.New("exit")
	}
	return p.Reply("+OK")
}

// Send writes ev to the connection.
func (p *Peer) Send(ev *esl.Event) error { return p.send(ev) }

func (p *Peer) send(ev *esl.Event) error {
	p.wμ.Lock()
	defer p.wμ.Unlock()
	if p.closed {
		return net.ErrClosed
	}
	_, err := ev.WriteTo(p.conn)
	return err
}

// Reply sends a command/reply with the given reply text.
func (p *Peer) Reply(text string) error {
	return p.send(esl.NewEvent("Content-Type", "command/reply", "Reply-Text", text))
}

// API sends an api/response with the given body.
func (p *Peer) API(body string) error {
	return p.send(esl.NewEvent("Content-Type", "api/response").WithBody([]byte(body)))
}

// Event sends a text/event-plain frame wrapping an event with the given
// headers.
func (p *Peer) Event(kv ...string) error { return p.EventBody(nil, kv...) }

// EventBody sends a text/event-plain frame wrapping an event with the given
// headers and body.
func (p *Peer) EventBody(body []byte, kv ...string) error {
	inner := esl.NewEvent(kv...)
	if body != nil {
		inner = inner.WithBody(body)
	}
	var buf bytes.Buffer
	if _, err := inner.WriteTo(&buf); err != nil {
		return err
	}
	return p.send(esl.NewEvent("Content-Type", "text/event-plain").WithBody(buf.Bytes()))
}

// Job sends a BACKGROUND_JOB event reporting the result of the job with the
// given identifier.
func (p *Peer) Job(id, result string) error {
	return p.EventBody([]byte(result+"\n"), "Event-Name", "BACKGROUND_JOB", "Job-UUID", id)
}

// Disconnect sends a disconnect notice. If linger is true, the notice asks
// the receiver to linger.
func (p *Peer) Disconnect(linger bool) error {
	kv := []string{"Content-Type", "text/disconnect-notice"}
	if linger {
		kv = append(kv, "Content-Disposition", "linger")
	}
	return p.send(esl.NewEvent(kv...).WithBody([]byte("Disconnected, goodbye.\n")))
}

// ChannelEvent returns headers for an event of the given name about the
// channel with the given UUID, at the given peer state number, followed by
// the headers in kv.
func ChannelEvent(name, id string, state int, kv ...string) []string {
	return append([]string{
		"Event-Name", name,
		"Unique-ID", id,
		"Channel-State-Number", fmt.Sprint(state),
	}, kv...)
}

// OriginationUUID extracts the origination_uuid variable from an originate
// command, or returns "".
func OriginationUUID(cmd *esl.Command) string {
	_, arg, _ := strings.Cut(cmd.Args, " ")
	vars, _, err := dialstr.Parse(arg)
	if err != nil {
		return ""
	}
	for _, v := range vars {
		if v.Name == dialstr.OriginationUUID {
			return dialstr.Unquote(v.Value)
		}
	}
	return ""
}
