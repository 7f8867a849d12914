// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package session

import (
	"context"
	"errors"
	"maps"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/creachadair/esl"
	"github.com/creachadair/esl/cause"
	"github.com/creachadair/esl/internal/logging"
	"github.com/creachadair/esl/transport"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
)

// A Session is a connection opened by the peer on behalf of a single call.
type Session struct {
	// Conn is the connection carrying the session.
	Conn *esl.Conn

	// Channel is the call leg for which the peer opened the session.
	Channel *esl.Channel

	// Context is the channel data reported by the peer during the handshake.
	Context *esl.Event
}

// UUID returns the UUID of the session's channel.
func (s *Session) UUID() string { return s.Channel.UUID() }

// An App handles a session. If it reports an error, the session's channel is
// hung up with cause NORMAL_TEMPORARY_FAILURE unless it has already hung up.
// When the App returns, the session is closed, unless it is lingering: then
// the session stays open for the events that follow the hangup until the
// peer ends it, or for at most the linger timeout and the handshake timeout.
type App func(ctx context.Context, s *Session) error

// ServerOptions control the acceptor role. A nil *ServerOptions is ready for
// use and provides default values.
type ServerOptions struct {
	// MyEvents, if true, subscribes each session to the events of its own
	// channel only. Otherwise the session subscribes to all events, filtered
	// to its channel, so that further legs can be followed by adding filters.
	MyEvents bool

	// NoLinger, if true, disables the request to keep the connection open
	// for trailing events after the call ends.
	NoLinger bool

	// HandshakeTimeout bounds the setup of each session.
	// If zero, DefaultHandshakeTimeout is used.
	HandshakeTimeout time.Duration

	// Conn, if non-nil, provides options for each connection.
	Conn *esl.Options
}

func (o *ServerOptions) handshakeTimeout() time.Duration {
	if o == nil || o.HandshakeTimeout <= 0 {
		return DefaultHandshakeTimeout
	}
	return o.HandshakeTimeout
}

// lingerWait bounds how long a lingering session stays open after its App
// returns.
func (o *ServerOptions) lingerWait() time.Duration {
	linger := esl.DefaultLingerTimeout
	if o != nil && o.Conn != nil && o.Conn.LingerTimeout > 0 {
		linger = o.Conn.LingerTimeout
	}
	return linger + o.handshakeTimeout()
}

// A Server runs an App for each session accepted from the peer.
type Server struct {
	app  App
	opts ServerOptions
	log  zerolog.Logger

	μ        sync.Mutex
	sessions map[string]*Session // by channel UUID
}

// NewServer constructs a server that runs app for each session.
func NewServer(app App, opts *ServerOptions) *Server {
	s := &Server{app: app, sessions: make(map[string]*Session)}
	if opts != nil {
		s.opts = *opts
	}
	s.log = logging.Component(loggerOf(s.opts.Conn), "session")
	return s
}

// Sessions returns the sessions currently active on s, in no particular
// order.
func (s *Server) Sessions() []*Session {
	s.μ.Lock()
	defer s.μ.Unlock()
	return slices.Collect(maps.Values(s.sessions))
}

// Session returns the active session for the channel with the given UUID, or
// nil if there is none.
func (s *Server) Session(uuid string) *Session {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.sessions[uuid]
}

// Serve accepts connections from acc and serves each in its own goroutine,
// until acc closes or ctx ends. See Loop.
func (s *Server) Serve(ctx context.Context, acc Accepter) error {
	return Loop(ctx, acc, s.Handle)
}

// Handle serves a single session on tr, and returns when the session ends.
func (s *Server) Handle(ctx context.Context, tr esl.Transport) error {
	c := esl.NewConn(s.opts.Conn).Start(tr)
	defer c.Stop()

	sess, err := s.setup(ctx, c)
	if err != nil {
		s.log.Warn().Err(err).Msg("session setup failed")
		return err
	}
	id := sess.UUID()
	log := s.log.With().Str(logging.FieldUUID, id).Logger()

	s.μ.Lock()
	s.sessions[id] = sess
	s.μ.Unlock()
	defer func() {
		s.μ.Lock()
		delete(s.sessions, id)
		s.μ.Unlock()
		log.Info().Msg("session ended")
	}()
	log.Info().Msg("session started")

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.Done():
			cancel()
		case <-sctx.Done():
		}
	}()

	err = s.app(sctx, sess)
	if err != nil {
		log.Error().Err(err).Msg("application failed")
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.handshakeTimeout())
		defer cancel()
		if herr := sess.Channel.Hangup(hctx, cause.TemporaryFailure); herr != nil && !errors.Is(herr, esl.ErrClosed) {
			log.Warn().Err(herr).Msg("hangup after application error failed")
		}
	}
	if !s.opts.NoLinger {
		s.drain(ctx, c)
	}
	return err
}

// drain waits for the peer to close a lingering connection, so that events
// trailing the hangup still reach the subscribers of the session.
func (s *Server) drain(ctx context.Context, c *esl.Conn) {
	t := time.NewTimer(s.opts.lingerWait())
	defer t.Stop()
	select {
	case <-c.Done():
	case <-ctx.Done():
	case <-t.C:
		s.log.Debug().Msg("lingering session expired")
	}
}

// setup performs the acceptor handshake and event subscription for c.
func (s *Server) setup(ctx context.Context, c *esl.Conn) (*Session, error) {
	hctx, cancel := context.WithTimeout(ctx, s.opts.handshakeTimeout())
	defer cancel()

	ch, data, err := c.Connect(hctx)
	if err != nil {
		return nil, err
	}
	sess := &Session{Conn: c, Channel: ch, Context: data}

	if s.opts.MyEvents {
		err = c.MyEvents(hctx, "")
	} else if err = c.Events(hctx, "plain"); err == nil {
		err = c.Filter(hctx, "Unique-ID", ch.UUID())
	}
	if err != nil {
		return nil, err
	}
	if !s.opts.NoLinger {
		if err := c.Linger(hctx); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// An Accepter accepts transports from a listener.
type Accepter interface {
	Accept(context.Context) (esl.Transport, error)
}

// Loop accepts transports from acc and runs handle for each one in a
// goroutine. Loop continues until acc closes or ctx ends.
//
// When ctx terminates, all running handlers see their context end. When acc
// closes, the loop waits for running handlers to exit before returning.
func Loop(ctx context.Context, acc Accepter, handle func(context.Context, esl.Transport) error) error {
	g := taskgroup.New(nil)
	for {
		tr, err := acc.Accept(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
			g.Wait()
			return err
		}
		g.Go(func() error {
			handle(ctx, tr)
			return nil
		})
	}
}

// NetAccepter adapts a net.Listener to the Accepter interface.
func NetAccepter(lst net.Listener) Accepter {
	return netAccepter{Listener: lst}
}

type netAccepter struct {
	net.Listener
}

func (n netAccepter) Accept(ctx context.Context) (esl.Transport, error) {
	// A net.Listener does not obey a context, so simulate it by closing the
	// listener if ctx ends. The ok channel allows the context watcher to clean
	// up when we return before ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			n.Listener.Close()
		case <-ok:
		}
		return nil
	})

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return transport.IO(conn, conn), nil
}
