// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package esl implements a client engine for the FreeSWITCH Event Socket
// Layer (ESL) protocol.
//
// The event socket is a line-oriented text protocol. A client sends commands
// to the switch and receives frames in return. Some frames answer its
// commands, others are asynchronous events describing the progress of calls. Each frame is a block of "Name: value" headers terminated by a blank
// line, optionally followed by a body whose length is given by the
// Content-Length header.
//
// # Connections
//
// The core type defined by this package is the [Conn]. A Conn correlates
// commands with their replies over a [Transport], and dispatches events to
// subscribers. It also tracks background jobs.
//
// To create a new, unstarted connection:
//
//	c := esl.NewConn(nil)
//
// To start the service routine, call the Start method with a transport
// connected to the remote peer:
//
//	c.Start(tr)
//
// The connection runs until [Conn.Stop] is called or the transport fails. Call [Conn.Wait] to wait for the
// connection to exit and return its status:
//
//	if err := c.Wait(); err != nil {
//	   log.Fatalf("Connection failed: %v", err)
//	}
//
// The session package provides the handshakes for both roles: session.Dial
// connects to the switch and authenticates, while session.Server accepts
// connections the switch opens for a call.
//
// # Transports
//
// The [Transport] interface defines the ability to send commands and receive
// frames. A Transport implementation must allow concurrent use by one sender
// and one receiver. The transport package provides an implementation over a
// network connection and an in-memory implementation for testing.
//
// # Commands
//
// Use [Conn.Send] to send a command and wait for its reply. The peer answers
// commands in the order it receives them and does not label its replies, so
// at most one command is outstanding at a time; concurrent callers wait their
// turn. If the peer reports failure, Send returns a [*CommandError]:
//
//	rsp, err := c.Send(ctx, esl.NewCommand("event", "plain", "ALL"))
//
// [Conn.API] runs an API command and returns its output. Long-running API
// commands can instead be run in the background with [Conn.BGAPI], which
// returns a [Job] as soon as the peer accepts the command:
//
//	job, err := c.BGAPI(ctx, "status")
//	...
//	rsp, err := job.Wait(ctx)
//
// # Events
//
// To receive events, subscribe a [Handler] by event name:
//
//	cancel := c.Subscribe("CHANNEL_ANSWER", func(ctx context.Context, ev *esl.Event) error {
//	   log.Printf("Answered: %s", ev.UUID())
//	   return nil
//	})
//	defer cancel()
//
// The name "" or "*" matches every event. Additional [Predicate] arguments
// narrow the subscription further. Each subscriber receives its events in
// arrival order on its own goroutine, so a slow handler delays only itself.
// A handler may obtain its connection using [ContextConn].
//
// The peer only sends the events a client asks for; use [Conn.Events] and
// [Conn.Filter] to select them.
//
// # Channels
//
// A [Channel] tracks the lifecycle of a single call leg. [Conn.Originate]
// places a new call and returns its channel at once; use [Channel.WaitState]
// to wait for it to be answered:
//
//	ch, err := c.Originate(ctx, "user/1000", nil)
//	...
//	if err := ch.WaitState(ctx, esl.StateExecute); err != nil {
//	   log.Printf("Call was not answered: %v", err)
//	}
//
// The state of a channel only moves forward. A wait for a state the channel
// can no longer reach fails with a [*HangupError].
//
// The ring package builds on channels to ring a group of destinations.
//
// # Metrics
//
// Connections maintain a collection of metrics while running. Use the
// [Conn.Metrics] method to obtain an [expvar.Map] containing the metrics
// exported by the connection.
//
// The metrics currently exported by connections include:
//
//   - frames_received: counter of frames received
//   - frames_dropped: counter of frames received and discarded
//   - events_dispatched: counter of events offered to subscribers
//   - commands_sent: counter of commands sent
//   - commands_failed: counter of commands resolved with an error
//   - replies_pending: gauge of commands awaiting a reply
//   - jobs_pending: gauge of background jobs awaiting a result
//   - subscribers: gauge of active subscriptions
//   - channels: gauge of channels tracked by the connection
//
// For finer-grained instrumentation, supply an [Observer] in the [Options].
// The observe package provides observers for Prometheus and OpenTelemetry,
// and one that writes structured logs.
package esl
