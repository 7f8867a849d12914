// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package esl

import "time"

// An Observer receives notifications of activity on a connection, its
// channels, and the ring groups that use them. Its methods are invoked
// synchronously and must not block.
//
// A nil Observer in any options struct means no notifications are sent.
type Observer interface {
	// EventDispatched is called for each event offered to subscribers, in
	// arrival order, before any subscriber sees it.
	EventDispatched(*Event)

	// CommandSent is called after a command has been written to the peer.
	CommandSent(*Command)

	// CommandDone is called exactly once for each command passed to
	// CommandSent, when the command is resolved. For a background command
	// this is when its job completes or is abandoned. The reply is nil if
	// none was received.
	CommandDone(cmd *Command, reply *Event, err error, elapsed time.Duration)

	// StateChanged is called when a channel advances to a new state.
	StateChanged(ch *Channel, from, to State)

	// AttemptDone is called when a ring group attempt finishes.
	AttemptDone(Attempt)
}

// An Attempt summarizes one ring group invocation.
type Attempt struct {
	Mode         string        // the dial strategy
	Destinations []string      // the candidate dial paths, in order
	Winner       string        // the dial path that answered, or ""
	UUID         string        // the UUID of the winning channel, or ""
	Originated   int           // the number of channels created
	Elapsed      time.Duration // the total duration of the attempt
	Err          error         // non-nil if the attempt failed
}

// NopObserver is an Observer whose methods do nothing. Embed it in a struct to
// implement only some of the Observer methods.
type NopObserver struct{}

func (NopObserver) EventDispatched(*Event) {}
func (NopObserver) CommandSent(*Command) {}
func (NopObserver) CommandDone(*Command, *Event, error, time.Duration) {}
func (NopObserver) StateChanged(*Channel, State, State) {}
func (NopObserver) AttemptDone(Attempt) {}

// Observers returns an Observer that forwards each notification to each of
// the non-nil observers in obs, in order.
func Observers(obs ...Observer) Observer {
	var out multiObserver
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return NopObserver{}
	case 1:
		return out[0]
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) EventDispatched(e *Event) {
	for _, o := range m {
		o.EventDispatched(e)
	}
}

func (m multiObserver) CommandSent(c *Command) {
	for _, o := range m {
		o.CommandSent(c)
	}
}

func (m multiObserver) CommandDone(c *Command, r *Event, err error, d time.Duration) {
	for _, o := range m {
		o.CommandDone(c, r, err, d)
	}
}

func (m multiObserver) StateChanged(ch *Channel, from, to State) {
	for _, o := range m {
		o.StateChanged(ch, from, to)
	}
}

func (m multiObserver) AttemptDone(a Attempt) {
	for _, o := range m {
		o.AttemptDone(a)
	}
}

// orNop returns o if it is non-nil, otherwise a NopObserver.
func orNop(o Observer) Observer {
	if o == nil {
		return NopObserver{}
	}
	return o
}
