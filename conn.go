// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package esl

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/creachadair/esl/internal/logging"
	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/mds/queue"
	"github.com/creachadair/mds/value"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
)

// A Transport is a reliable ordered stream carrying commands to the remote
// peer and events back from it.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Transport interface {
	// Send the command in wire format to the remote peer.
	Send(*Command) error

	// Receive the next available frame from the remote peer.
	Recv() (*Event, error)

	// Close the transport, causing any pending send or receive operations to
	// terminate and report an error. After a transport is closed, all further
	// operations on it must report an error.
	Close() error
}

// A Handler processes an event delivered to a subscriber. A handler can
// obtain the connection from its context argument using ContextConn. An error
// reported by a handler is logged and otherwise ignored.
type Handler func(context.Context, *Event) error

// DefaultLingerTimeout is the grace period a lingering connection stays open
// after the peer reports that the call has ended.
const DefaultLingerTimeout = 5 * time.Second

// Options control the behavior of a Conn. A nil *Options is ready for use and
// provides default values.
type Options struct {
	// Logger, if non-nil, receives structured logs from the connection and
	// its channels.
	Logger *zerolog.Logger

	// Observer, if non-nil, receives notifications of activity.
	Observer Observer

	// LingerTimeout is how long a lingering connection stays open after the
	// peer's disconnect notice. If zero, DefaultLingerTimeout is used.
	LingerTimeout time.Duration
}

func (o *Options) logger() *zerolog.Logger {
	if o == nil {
		return nil
	}
	return o.Logger
}

func (o *Options) observer() Observer {
	if o == nil {
		return NopObserver{}
	}
	return orNop(o.Observer)
}

func (o *Options) lingerTimeout() time.Duration {
	if o == nil || o.LingerTimeout <= 0 {
		return DefaultLingerTimeout
	}
	return o.LingerTimeout
}

// A Conn is the protocol engine for one connection to a remote peer. It
// correlates commands with their replies and dispatches events to
// subscribers. Use NewConn to construct a Conn; the zero value is not ready
// for use.
//
// Call Start with a transport to start the service routine for the
// connection. Once started, a connection runs until Stop is called, the
// transport closes, or a fatal error occurs. Use Wait to wait for the
// connection to exit and report its status. A Conn cannot be restarted.
//
// Commands sent with Send are answered in the order they were submitted, and
// at most one is outstanding at a time. Background jobs (see Submit) are
// tracked independently by job identifier. Every other event is offered, in
// arrival order, to each subscriber whose name and predicates match it. Each
// subscriber receives its events in order, on its own goroutine, so that a
// slow subscriber does not delay the others.
//
// The methods of a Conn are safe for concurrent use by multiple goroutines.
type Conn struct {
	in  interface{ Recv() (*Event, error) }
	out struct {
		// Must hold the lock to send to or set tr.
		sync.Mutex
		tr Transport
	}
	tasks   *taskgroup.Group
	slot    chan struct{} // serializes the direct-reply path
	done    chan struct{} // closed when the connection exits
	ctx     context.Context
	cancel  context.CancelFunc
	log     zerolog.Logger
	opts    *Options
	obs     Observer
	linger  time.Duration
	metrics *connMetrics

	μ sync.Mutex

	err     error               // fatal error
	exited  bool                // the connection has terminated
	reply   chan *Event         // the pending direct-reply waiter, or nil
	auth    chan *Event         // authentication challenges
	jobs    map[string]*Job     // job identifier → pending job
	subs    []*subscription     // copy on write
	legs    map[string]*Channel // UUID → channel
	filters mapset.Set[string]  // "header value" filters registered
	lingerT *time.Timer         // set when lingering after disconnect
	onExit  func(error)
}

// NewConn constructs a new unstarted connection with the given options.
func NewConn(opts *Options) *Conn {
	c := &Conn{
		tasks:   taskgroup.New(nil),
		slot:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		log:     logging.Component(opts.logger(), "conn"),
		opts:    opts,
		obs:     opts.observer(),
		linger:  opts.lingerTimeout(),
		metrics: newConnMetrics(),
		auth:    make(chan *Event, 1),
		jobs:    make(map[string]*Job),
		legs:    make(map[string]*Channel),
		filters: mapset.New[string](),
	}
	c.ctx, c.cancel = context.WithCancel(context.WithValue(context.Background(), connContextKey{}, c))
	return c
}

// Start starts the connection running on the given transport. Start does not
// block; call Wait to wait for the connection to exit and report its status.
// Start panics if c was already started.
func (c *Conn) Start(tr Transport) *Conn {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.in != nil || c.exited {
		panic("conn is already started")
	}
	c.in = tr
	c.out.Lock()
	c.out.tr = tr
	c.out.Unlock()

	c.tasks.Go(func() error {
		for {
			ev, err := c.in.Recv()
			if err != nil {
				c.fail(err)
				return nil
			}
			c.metrics.eventRecv.Add(1)
			if err := c.dispatch(ev); err != nil {
				c.fail(err)
				return nil
			}
		}
	})
	return c
}

// Metrics returns a metrics map for the connection. It is safe for the caller
// to add additional metrics to the map while the connection is active.
func (c *Conn) Metrics() *expvar.Map { return c.metrics.emap }

// Stop closes the transport and terminates the connection. It blocks until
// the connection has exited and returns its status.
func (c *Conn) Stop() error {
	c.μ.Lock()
	started := c.in != nil
	c.μ.Unlock()
	if started {
		c.closeOut()
	} else {
		c.fail(nil)
	}
	return c.Wait()
}

// Wait blocks until c terminates and reports the error that caused it to
// stop. If c stopped because its transport closed, Wait returns nil.
func (c *Conn) Wait() error {
	<-c.done
	c.tasks.Wait()
	return c.exitErr()
}

// Done returns a channel that is closed when c terminates.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the error that terminated c, or nil if c is still running or
// exited cleanly.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.exitErr()
	default:
		return nil
	}
}

func (c *Conn) exitErr() error {
	c.μ.Lock()
	defer c.μ.Unlock()
	if treatErrorAsSuccess(c.err) {
		return nil
	}
	return c.err
}

// OnExit registers a callback to be invoked when the connection terminates.
// The callback is executed synchronously during shutdown, with the same error
// value that would be reported by the Wait method. If f == nil the callback
// is removed. OnExit returns c to permit chaining.
func (c *Conn) OnExit(f func(error)) *Conn {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.onExit = f
	return c
}

// Send sends cmd to the remote peer and blocks until its reply arrives or ctx
// ends. Concurrent callers are served in the order they call Send.
//
// If the peer answers with its error indicator, Send reports a *CommandError
// along with the reply. If ctx ends first, Send returns at once; the reply,
// when it arrives, is discarded.
func (c *Conn) Send(ctx context.Context, cmd *Command) (*Event, error) {
	start := time.Now()
	rsp, sent, err := c.exchange(ctx, cmd)
	if sent {
		c.commandDone(cmd, rsp, err, start)
	}
	return rsp, err
}

// exchange sends cmd and waits for its direct reply. It reports whether the
// command was written to the peer.
func (c *Conn) exchange(ctx context.Context, cmd *Command) (_ *Event, sent bool, _ error) {
	if err := cmd.Validate(); err != nil {
		return nil, false, err
	}
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, false, waitError(cmd.Name, ctx.Err())
	case <-c.done:
		return nil, false, c.closedErr()
	}

	c.μ.Lock()
	if c.exited || c.in == nil {
		c.μ.Unlock()
		<-c.slot
		return nil, false, c.closedErr()
	}
	rc := make(chan *Event, 1)
	c.reply = rc
	c.μ.Unlock()
	c.metrics.replyPending.Add(1)
	release := func() { c.metrics.replyPending.Add(-1); <-c.slot }

	if err := c.sendOut(cmd); err != nil {
		c.μ.Lock()
		if c.reply == rc {
			c.reply = nil
		}
		c.μ.Unlock()
		release()
		c.closeOut() // a failed write is fatal
		return nil, false, closedError(err)
	}
	c.obs.CommandSent(cmd)

	select {
	case rsp, ok := <-rc:
		release()
		if !ok {
			return nil, true, c.closedErr()
		}
		if rsp.IsError() {
			return rsp, true, &CommandError{Command: cmd.String(), Reply: rsp.Reply()}
		}
		return rsp, true, nil

	case <-ctx.Done():
		// Hold the slot until the reply arrives, so that it is not mistaken
		// for the reply to a later command.
		c.tasks.Go(func() error {
			<-rc
			release()
			return nil
		})
		return nil, true, waitError(cmd.Name, ctx.Err())
	}
}

func (c *Conn) commandDone(cmd *Command, rsp *Event, err error, start time.Time) {
	if err != nil {
		c.metrics.cmdFailed.Add(1)
		c.log.Debug().Err(err).Str(logging.FieldCommand, cmd.String()).Msg("command failed")
	}
	c.obs.CommandDone(cmd, rsp, err, time.Since(start))
}

// API executes an API command on the remote peer and returns the body of its
// response.
func (c *Conn) API(ctx context.Context, command string) (string, error) {
	rsp, err := c.Send(ctx, NewCommand("api", command))
	if err != nil {
		return "", err
	}
	return rsp.Reply(), nil
}

// Subscribe registers h to receive events whose routing name (see
// Event.Name) equals name and which satisfy all the predicates, evaluated in
// order. If name is "" or "*", h receives all events satisfying the
// predicates. Call the returned function to remove the subscription; events
// not yet delivered are then discarded.
func (c *Conn) Subscribe(name string, h Handler, preds ...Predicate) (cancel func()) {
	s := &subscription{
		name: value.Cond(name == "*", "", name),
		pred: All(preds...),
		h:    h,
		box:  newMailbox(),
	}
	c.μ.Lock()
	if c.exited {
		c.μ.Unlock()
		return func() {}
	}
	c.subs = append(slices.Clip(c.subs), s)
	c.μ.Unlock()
	c.metrics.subscribers.Add(1)

	c.tasks.Go(func() error {
		for {
			ev, ok := s.box.next()
			if !ok {
				return nil
			}
			if err := c.invoke(s.h, ev); err != nil {
				c.log.Warn().Err(err).Str(logging.FieldEvent, ev.Name()).Msg("event handler failed")
			}
		}
	})
	return sync.OnceFunc(func() {
		c.μ.Lock()
		n := len(c.subs)
		c.subs = slices.DeleteFunc(slices.Clone(c.subs), func(t *subscription) bool { return t == s })
		removed := len(c.subs) != n
		c.μ.Unlock()
		s.box.discard()
		if removed {
			c.metrics.subscribers.Add(-1)
		}
	})
}

// invoke calls h with ev, converting a panic into an error.
func (c *Conn) invoke(h Handler, ev *Event) (err error) {
	defer func() {
		if x := recover(); x != nil && err == nil {
			err = fmt.Errorf("handler panicked (recovered): %v", x)
		}
	}()
	return h(c.ctx, ev)
}

// Filter adds a server-side event filter accepting events whose header has
// the given value. Filters are additive: each extends the set of events the
// peer sends, and a filter already registered on c is not sent again.
func (c *Conn) Filter(ctx context.Context, header, value string) error {
	key := header + " " + value
	c.μ.Lock()
	have := c.filters.Has(key)
	c.μ.Unlock()
	if have {
		return nil
	}
	if _, err := c.Send(ctx, NewCommand("filter", header, value)); err != nil {
		return err
	}
	c.μ.Lock()
	c.filters.Add(key)
	c.μ.Unlock()
	return nil
}

// FilterDelete removes a server-side event filter added by Filter.
func (c *Conn) FilterDelete(ctx context.Context, header, value string) error {
	if _, err := c.Send(ctx, NewCommand("filter", "delete", header, value)); err != nil {
		return err
	}
	c.μ.Lock()
	c.filters.Remove(header + " " + value)
	c.μ.Unlock()
	return nil
}

// Filters returns the filters currently registered on c, each formatted as
// "header value", in lexicographic order.
func (c *Conn) Filters() []string {
	c.μ.Lock()
	defer c.μ.Unlock()
	out := make([]string, 0, c.filters.Len())
	for key := range c.filters {
		out = append(out, key)
	}
	slices.Sort(out)
	return out
}

// Events asks the peer to send events with the given names in the given
// format ("plain" or "json"). With no names, all events are requested.
func (c *Conn) Events(ctx context.Context, format string, names ...string) error {
	if format == "" {
		format = "plain"
	}
	if len(names) == 0 {
		names = []string{"ALL"}
	}
	_, err := c.Send(ctx, NewCommand("event", format, strings.Join(names, " ")))
	return err
}

// MyEvents asks the peer to send only the events for the given channel. On
// an accepted connection uuid may be empty, meaning the session's own channel.
func (c *Conn) MyEvents(ctx context.Context, uuid string) error {
	_, err := c.Send(ctx, NewCommand("myevents", uuid))
	return err
}

// Linger asks the peer to keep the connection open after the call ends, so
// that trailing events are delivered.
func (c *Conn) Linger(ctx context.Context) error {
	_, err := c.Send(ctx, NewCommand("linger"))
	return err
}

// NoLinger cancels a previous Linger request.
func (c *Conn) NoLinger(ctx context.Context) error {
	_, err := c.Send(ctx, NewCommand("nolinger"))
	return err
}

// Exit asks the peer to close the connection.
func (c *Conn) Exit(ctx context.Context) error {
	_, err := c.Send(ctx, NewCommand("exit"))
	return err
}

// Authenticate performs the initiator side of the handshake: it waits for the
// peer's authentication challenge and answers it with password. If the peer
// rejects the credential, Authenticate reports an *AuthError; the caller is
// responsible for stopping c.
func (c *Conn) Authenticate(ctx context.Context, password string) error {
	select {
	case <-c.auth:
	case <-ctx.Done():
		return waitError("auth", ctx.Err())
	case <-c.done:
		var ae *AuthError
		if err := c.exitErr(); errors.As(err, &ae) {
			return ae
		}
		return c.closedErr()
	}
	rsp, err := c.Send(ctx, NewCommand("auth", password))
	var ce *CommandError
	if errors.As(err, &ce) {
		return &AuthError{Reply: ce.Reply}
	} else if err != nil {
		return err
	} else if r := rsp.Reply(); !strings.HasPrefix(r, "+OK") {
		return &AuthError{Reply: r}
	}
	c.log.Debug().Msg("authenticated")
	return nil
}

// Connect performs the acceptor side of the handshake: it requests the
// session's channel data from the peer and returns the channel it describes,
// along with the data. Connect must be the first command sent on an accepted
// connection.
func (c *Conn) Connect(ctx context.Context) (*Channel, *Event, error) {
	rsp, err := c.Send(ctx, NewCommand("connect"))
	if err != nil {
		return nil, nil, err
	}
	id := rsp.UUID()
	if id == "" {
		id = rsp.Get("Channel-Unique-ID")
	}
	if id == "" {
		return nil, nil, errors.New("connect reply has no channel identifier")
	}
	return c.Attach(id, rsp), rsp, nil
}

// dispatch routes a frame from the remote peer.
// Any error it reports is fatal to the connection.
func (c *Conn) dispatch(ev *Event) error {
	switch ct := ev.ContentType(); ct {
	case "auth/request":
		select {
		case c.auth <- ev:
		default:
			c.metrics.eventDropped.Add(1)
		}

	case "command/reply", "api/response":
		c.μ.Lock()
		rc := c.reply
		c.reply = nil
		c.μ.Unlock()
		if rc == nil {
			c.metrics.eventDropped.Add(1)
			c.log.Warn().Str(logging.FieldReply, ev.Reply()).Msg("discarded reply with no pending command")
			return nil
		}
		rc <- ev // buffered, does not block

	case "text/event-plain":
		inner, err := parseEventPlain(ev.Body())
		if err != nil {
			return err
		}
		c.deliver(inner)

	case "text/event-json":
		inner, err := parseEventJSON(ev.Body())
		if err != nil {
			return err
		}
		c.deliver(inner)

	case "text/disconnect-notice":
		if strings.EqualFold(ev.Get("Content-Disposition"), "linger") {
			c.startLinger()
			return nil
		}
		c.log.Info().Msg("peer disconnected")
		return ErrClosed

	case "text/rude-rejection":
		return &AuthError{Reply: strings.TrimSpace(string(ev.Body()))}

	default:
		c.metrics.eventDropped.Add(1)
		c.log.Debug().Str("content_type", ct).Msg("discarded frame")
	}
	return nil
}

// deliver offers an event to the job table and to every subscriber.
func (c *Conn) deliver(ev *Event) {
	c.metrics.eventDispatch.Add(1)
	c.obs.EventDispatched(ev)

	name := ev.Name()
	if name == "BACKGROUND_JOB" {
		c.completeJob(ev)
	}
	c.μ.Lock()
	subs := c.subs
	c.μ.Unlock()
	for _, s := range subs {
		if (s.name == "" || s.name == name) && s.pred(ev) {
			s.box.put(ev)
		}
	}
}

func (c *Conn) startLinger() {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.lingerT == nil && !c.exited {
		c.log.Debug().Dur("timeout", c.linger).Msg("lingering after disconnect")
		c.lingerT = time.AfterFunc(c.linger, c.closeOut)
	}
}

// fail terminates all pending waiters and records the failure status.
func (c *Conn) fail(err error) {
	c.closeOut()

	c.μ.Lock()
	if c.exited {
		c.μ.Unlock()
		return
	}
	c.exited = true
	c.err = err
	if c.reply != nil {
		close(c.reply)
		c.reply = nil
	}
	if c.lingerT != nil {
		c.lingerT.Stop()
	}
	jobs, subs, legs := c.jobs, c.subs, c.legs
	c.jobs, c.subs, c.legs = nil, nil, nil
	onExit := c.onExit
	c.μ.Unlock()

	if err != nil && !treatErrorAsSuccess(err) {
		c.log.Error().Err(err).Msg("connection failed")
	}
	cerr := closedError(err)
	for _, j := range jobs {
		j.resolve(nil, cerr)
	}
	for _, ch := range legs {
		ch.closed(cerr)
	}
	for _, s := range subs {
		s.box.close()
	}
	c.metrics.subscribers.Add(-int64(len(subs)))
	c.metrics.channels.Add(-int64(len(legs)))
	c.cancel()
	close(c.done)

	if onExit != nil {
		onExit(value.Cond[error](treatErrorAsSuccess(err), nil, err))
	}
}

// closedErr returns the error reported to callers after c has exited.
func (c *Conn) closedErr() error {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.in == nil && !c.exited {
		return errors.New("conn is not started")
	}
	return closedError(c.err)
}

func (c *Conn) sendOut(cmd *Command) error {
	c.out.Lock()
	defer c.out.Unlock()
	if c.out.tr == nil {
		return ErrClosed
	}
	c.metrics.cmdSent.Add(1)
	c.log.Debug().Str(logging.FieldCommand, cmd.String()).Msg("send")
	return c.out.tr.Send(cmd)
}

func (c *Conn) closeOut() {
	c.out.Lock()
	defer c.out.Unlock()
	if c.out.tr != nil {
		c.out.tr.Close()
	}
}

type connContextKey struct{}

// ContextConn returns the Conn associated with the given context, or nil if
// none is defined. The context passed to a Handler has this value.
func ContextConn(ctx context.Context) *Conn {
	if v := ctx.Value(connContextKey{}); v != nil {
		return v.(*Conn)
	}
	return nil
}

// A subscription is a registered event handler.
type subscription struct {
	name string // "" matches all
	pred Predicate
	h    Handler
	box  *mailbox
}

// A mailbox is an unbounded ordered queue of events awaiting delivery to a
// single subscriber.
type mailbox struct {
	μ      sync.Mutex
	q      *queue.Queue[*Event]
	wake   chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{q: queue.New[*Event](), wake: make(chan struct{}, 1)}
}

func (m *mailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// put adds ev to the mailbox. It does not block.
func (m *mailbox) put(ev *Event) {
	m.μ.Lock()
	if !m.closed {
		m.q.Add(ev)
	}
	m.μ.Unlock()
	m.signal()
}

// close marks the mailbox closed. Events already queued are still delivered.
func (m *mailbox) close() {
	m.μ.Lock()
	m.closed = true
	m.μ.Unlock()
	m.signal()
}

// discard closes the mailbox and drops any queued events.
func (m *mailbox) discard() {
	m.μ.Lock()
	m.closed = true
	for !m.q.IsEmpty() {
		m.q.Pop()
	}
	m.μ.Unlock()
	m.signal()
}

// next blocks until an event is available, and reports false when the
// mailbox is closed and empty.
func (m *mailbox) next() (*Event, bool) {
	for {
		m.μ.Lock()
		if ev, ok := m.q.Pop(); ok {
			m.μ.Unlock()
			return ev, true
		} else if m.closed {
			m.μ.Unlock()
			return nil, false
		}
		m.μ.Unlock()
		<-m.wake
	}
}
