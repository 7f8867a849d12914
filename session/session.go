// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package session implements the two roles of an event socket connection:
// the initiator, which dials the peer and authenticates, and the acceptor,
// which serves connections opened by the peer for a call.
package session

import (
	"cmp"
	"context"
	"time"

	"github.com/creachadair/esl"
	"github.com/creachadair/esl/internal/logging"
	"github.com/creachadair/esl/transport"
	"github.com/rs/zerolog"
)

// Defaults for the initiator role.
const (
	DefaultPassword         = "ClueCon"
	DefaultHandshakeTimeout = 10 * time.Second
)

// DialOptions control the initiator role. A nil *DialOptions is ready for use
// and provides default values.
type DialOptions struct {
	// Password is the credential sent in answer to the peer's challenge.
	// If empty, DefaultPassword is used.
	Password string

	// HandshakeTimeout bounds the time allowed for authentication.
	// If zero, DefaultHandshakeTimeout is used.
	HandshakeTimeout time.Duration

	// Conn, if non-nil, provides options for the connection.
	Conn *esl.Options
}

func (o *DialOptions) password() string {
	if o == nil {
		return DefaultPassword
	}
	return cmp.Or(o.Password, DefaultPassword)
}

func (o *DialOptions) handshakeTimeout() time.Duration {
	if o == nil || o.HandshakeTimeout <= 0 {
		return DefaultHandshakeTimeout
	}
	return o.HandshakeTimeout
}

func (o *DialOptions) conn() *esl.Options {
	if o == nil {
		return nil
	}
	return o.Conn
}

func loggerOf(o *esl.Options) *zerolog.Logger {
	if o == nil {
		return nil
	}
	return o.Logger
}

// Dial connects to the event socket at addr, performs the authentication
// handshake, and returns the running connection. If the peer rejects the
// credential, Dial reports an *esl.AuthError and the connection is closed.
func Dial(ctx context.Context, addr string, opts *DialOptions) (*esl.Conn, error) {
	tr, _, err := transport.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return Start(ctx, tr, opts)
}

// Start starts a connection on tr and performs the authentication handshake
// as the initiator. If the handshake fails, the connection is stopped.
func Start(ctx context.Context, tr esl.Transport, opts *DialOptions) (*esl.Conn, error) {
	log := logging.Component(loggerOf(opts.conn()), "session")
	c := esl.NewConn(opts.conn()).Start(tr)

	hctx, cancel := context.WithTimeout(ctx, opts.handshakeTimeout())
	defer cancel()
	if err := c.Authenticate(hctx, opts.password()); err != nil {
		c.Stop()
		log.Warn().Err(err).Msg("handshake failed")
		return nil, err
	}
	log.Info().Msg("connected")
	return c, nil
}
