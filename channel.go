// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package esl

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/creachadair/esl/cause"
	"github.com/creachadair/esl/dialstr"
	"github.com/creachadair/esl/internal/logging"
	"github.com/creachadair/mds/mapset"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

// DefaultHangupCause is the cause reported by Hangup when none is given.
const DefaultHangupCause = cause.NormalClearing

// A DTMFHandler is invoked when a channel reports a touch-tone digit.
// An error reported by a handler is logged and otherwise ignored.
type DTMFHandler func(ctx context.Context, ch *Channel, digit string) error

// A Channel tracks the lifecycle of a single call leg carried by a Conn, and
// issues commands scoped to that leg.
//
// The state of a channel advances only as events for its UUID arrive from the
// peer, and never moves backward. A channel does not keep its connection
// alive: when the connection closes, every pending wait on the channel fails
// with an error wrapping ErrClosed.
type Channel struct {
	c        *Conn
	uuid     string
	dialPath string
	log      zerolog.Logger

	μ         sync.Mutex
	unsub     func() // cancels the event subscription
	detached  bool
	fsm       *fsm.FSM
	state     State
	peak      State // highest state reached before hangup
	callState CallState
	cause     string
	vars      map[string]string
	err       error // set when the connection closes
	swait     mapset.Set[*stateWaiter]
	ewait     mapset.Set[*eventWaiter]
	dtmf      map[string]DTMFHandler // "" is the wildcard
	keys      *mailbox               // DTMF events awaiting their handlers
	keysOn    bool                   // a task is serving keys
	filtered  bool                   // c added a Unique-ID filter for this leg
	gone      chan struct{}          // closed when c stops tracking the leg
}

type stateWaiter struct {
	target State
	done   chan error
}

type eventWaiter struct {
	match Predicate
	done  chan *Event
	fail  chan error
}

// lifecycleEvents defines one transition per destination state, permitted
// from every earlier state.
var lifecycleEvents = func() fsm.Events {
	var evs fsm.Events
	for dst := StateInit; dst <= StateDestroy; dst++ {
		var src []string
		for s := StateNew; s < dst; s++ {
			src = append(src, s.String())
		}
		evs = append(evs, fsm.EventDesc{Name: dst.String(), Src: src, Dst: dst.String()})
	}
	return evs
}()

func newChannel(c *Conn, id, dialPath string) *Channel {
	ch := &Channel{
		c:         c,
		uuid:      id,
		dialPath:  dialPath,
		log:       logging.Component(c.opts.logger(), "channel").With().Str(logging.FieldUUID, id).Logger(),
		callState: CallDown,
		vars:      make(map[string]string),
		swait:     mapset.New[*stateWaiter](),
		ewait:     mapset.New[*eventWaiter](),
		dtmf:      make(map[string]DTMFHandler),
		keys:      newMailbox(),
		gone:      make(chan struct{}),
	}
	ch.fsm = fsm.NewFSM(StateNew.String(), lifecycleEvents, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			ch.log.Debug().Str(logging.FieldOldState, e.Src).Str(logging.FieldNewState, e.Dst).Msg("state change")
		},
	})
	return ch
}

// UUID returns the unique identifier of ch.
func (ch *Channel) UUID() string { return ch.uuid }

// DialPath returns the dial path ch was originated to, or "" for a channel
// created by the peer.
func (ch *Channel) DialPath() string { return ch.dialPath }

// Conn returns the connection carrying ch.
func (ch *Channel) Conn() *Conn { return ch.c }

// State returns the current lifecycle state of ch.
func (ch *Channel) State() State {
	ch.μ.Lock()
	defer ch.μ.Unlock()
	return ch.state
}

// CallState returns the most recent call state reported for ch.
func (ch *Channel) CallState() CallState {
	ch.μ.Lock()
	defer ch.μ.Unlock()
	return ch.callState
}

// HangupCause returns the hangup cause reported for ch, or "" if none has
// been reported.
func (ch *Channel) HangupCause() string {
	ch.μ.Lock()
	defer ch.μ.Unlock()
	return ch.cause
}

// Variable returns the most recently reported value of the named channel
// variable, and reports whether it was found. Values are drawn from the
// variable_* headers of events for ch, and from SetVariable.
func (ch *Channel) Variable(name string) (string, bool) {
	ch.μ.Lock()
	defer ch.μ.Unlock()
	v, ok := ch.vars[name]
	return v, ok
}

// Variables returns a copy of the variables known for ch.
func (ch *Channel) Variables() map[string]string {
	ch.μ.Lock()
	defer ch.μ.Unlock()
	return maps.Clone(ch.vars)
}

// String returns a human-readable description of ch.
func (ch *Channel) String() string {
	return fmt.Sprintf("Channel(%s, %v)", ch.uuid, ch.State())
}

// WaitState blocks until ch has reached target, ctx ends, or the condition
// can no longer hold. A wait for a state already reached returns at once.
//
// If ch hangs up without having reached a target before StateHangup, the wait
// fails with a *HangupError. If ctx reaches its deadline the wait fails with
// a *TimeoutError. Either way the wait is removed from ch.
func (ch *Channel) WaitState(ctx context.Context, target State) error {
	if !target.IsValid() {
		return fmt.Errorf("invalid state %v", target)
	}
	ch.μ.Lock()
	if ok, err := ch.checkLocked(target); ok {
		ch.μ.Unlock()
		return err
	}
	w := &stateWaiter{target: target, done: make(chan error, 1)}
	ch.swait.Add(w)
	ch.μ.Unlock()

	select {
	case err := <-w.done:
		return err
	case <-ctx.Done():
		ch.μ.Lock()
		ch.swait.Remove(w)
		ch.μ.Unlock()
		return waitError("wait "+target.String(), ctx.Err())
	}
}

// checkLocked reports whether a wait for target is resolved, and if so with
// what result. The caller must hold ch.μ.
func (ch *Channel) checkLocked(target State) (bool, error) {
	if target < StateHangup {
		if ch.peak >= target {
			return true, nil
		} else if ch.state >= StateHangup {
			return true, &HangupError{UUID: ch.uuid, Cause: ch.cause}
		}
	} else if ch.state >= target {
		return true, nil
	}
	if ch.err != nil {
		return true, ch.err
	}
	return false, nil
}

// WaitEvent blocks until an event with the given name (see Event.Name) is
// reported for ch, and returns that event. It fails with a *HangupError if
// ch is destroyed first.
func (ch *Channel) WaitEvent(ctx context.Context, name string) (*Event, error) {
	w, err := ch.addEventWaiter(func(e *Event) bool { return e.Name() == name })
	if err != nil {
		return nil, err
	}
	return ch.awaitEvent(ctx, "wait "+name, w)
}

// addEventWaiter registers a waiter for the first event for ch satisfying
// match. It fails if ch can no longer report events.
func (ch *Channel) addEventWaiter(match Predicate) (*eventWaiter, error) {
	ch.μ.Lock()
	defer ch.μ.Unlock()
	if ch.err != nil {
		return nil, ch.err
	} else if ch.state >= StateDestroy {
		return nil, &HangupError{UUID: ch.uuid, Cause: ch.cause}
	}
	w := &eventWaiter{match: match, done: make(chan *Event, 1), fail: make(chan error, 1)}
	ch.ewait.Add(w)
	return w, nil
}

func (ch *Channel) removeEventWaiter(w *eventWaiter) {
	ch.μ.Lock()
	defer ch.μ.Unlock()
	ch.ewait.Remove(w)
}

func (ch *Channel) awaitEvent(ctx context.Context, op string, w *eventWaiter) (*Event, error) {
	select {
	case ev := <-w.done:
		return ev, nil
	case err := <-w.fail:
		return nil, err
	case <-ctx.Done():
		ch.removeEventWaiter(w)
		return nil, waitError(op, ctx.Err())
	}
}

// OnDTMF registers h to be called when ch reports the given digit. If digit
// is "", h is the wildcard handler, called for any digit that has no handler
// of its own. If h == nil, the handler for digit is removed.
// OnDTMF returns ch to permit chaining.
func (ch *Channel) OnDTMF(digit string, h DTMFHandler) *Channel {
	ch.μ.Lock()
	defer ch.μ.Unlock()
	if h == nil {
		delete(ch.dtmf, digit)
	} else {
		ch.dtmf[digit] = h
	}
	return ch
}

// On subscribes h to events with the given name reported for ch. The name
// rules are as for Conn.Subscribe.
func (ch *Channel) On(name string, h Handler) (cancel func()) {
	return ch.c.Subscribe(name, h, Equals("Unique-ID", ch.uuid))
}

// Execute runs a dialplan application on ch and waits for the peer to accept
// the request. It does not wait for the application to finish.
func (ch *Channel) Execute(ctx context.Context, app, arg string) error {
	_, err := ch.c.Send(ctx, ch.executeCommand(app, arg, ""))
	return err
}

// ExecuteWait runs a dialplan application on ch and waits for it to finish.
// It returns the CHANNEL_EXECUTE_COMPLETE event reported for the application.
func (ch *Channel) ExecuteWait(ctx context.Context, app, arg string) (*Event, error) {
	appID := uuid.NewString()
	w, err := ch.addEventWaiter(All(
		Equals("Event-Name", "CHANNEL_EXECUTE_COMPLETE"),
		Equals("Application-UUID", appID),
	))
	if err != nil {
		return nil, err
	}
	if _, err := ch.c.Send(ctx, ch.executeCommand(app, arg, appID)); err != nil {
		ch.removeEventWaiter(w)
		return nil, err
	}
	return ch.awaitEvent(ctx, app, w)
}

func (ch *Channel) executeCommand(app, arg, appID string) *Command {
	cmd := SendMsg(ch.uuid, "execute").WithHeader("execute-app-name", app)
	if arg != "" {
		cmd.WithHeader("execute-app-arg", arg)
	}
	if appID != "" {
		cmd.WithHeader("Event-UUID", appID)
	}
	return cmd
}

// Answer answers ch.
func (ch *Channel) Answer(ctx context.Context) error { return ch.Execute(ctx, "answer", "") }

// Park parks ch.
func (ch *Channel) Park(ctx context.Context) error { return ch.Execute(ctx, "park", "") }

// Playback starts playing the audio at path on ch.
func (ch *Channel) Playback(ctx context.Context, path string) error {
	return ch.Execute(ctx, "playback", path)
}

// Silence plays silence on ch for the given number of milliseconds.
func (ch *Channel) Silence(ctx context.Context, ms int) error {
	return ch.Playback(ctx, "silence_stream://"+strconv.Itoa(ms))
}

// SayOptions are the arguments of the say application.
type SayOptions struct {
	Text   string // required
	Module string // default "en"
	Lang   string // optional language within the module
	Kind   string // default "NUMBER"
	Method string // default "pronounced"
	Gender string // default "FEMININE"
}

// Args returns the application argument string for o.
func (o SayOptions) Args() string {
	module := cmp.Or(o.Module, "en")
	if o.Lang != "" {
		module += ":" + o.Lang
	}
	return strings.Join([]string{
		module,
		cmp.Or(o.Kind, "NUMBER"),
		cmp.Or(o.Method, "pronounced"),
		cmp.Or(o.Gender, "FEMININE"),
		o.Text,
	}, " ")
}

// Say speaks the text described by opts on ch.
func (ch *Channel) Say(ctx context.Context, opts SayOptions) error {
	return ch.Execute(ctx, "say", opts.Args())
}

// DigitOptions are the arguments of the play_and_get_digits application.
type DigitOptions struct {
	Min, Max          int
	Tries             int
	Timeout           int    // milliseconds
	Terminators       string // e.g., "#"
	File              string // prompt
	InvalidFile       string
	Var               string // variable receiving the digits; default "pagd_digits"
	Regexp            string
	DigitTimeout      int // milliseconds
	TransferOnFailure string
}

// Args returns the application argument string for o.
func (o DigitOptions) Args() string {
	num := func(v int) string { return strconv.Itoa(v) }
	opt := func(v int) string {
		if v == 0 {
			return ""
		}
		return num(v)
	}
	args := []string{
		num(o.Min), num(o.Max), num(o.Tries), num(o.Timeout),
		cmp.Or(o.Terminators, "none"), o.File, cmp.Or(o.InvalidFile, "silence_stream://250"),
		o.varName(), o.Regexp, opt(o.DigitTimeout), o.TransferOnFailure,
	}
	return strings.TrimSpace(strings.Join(args, " "))
}

func (o DigitOptions) varName() string { return cmp.Or(o.Var, "pagd_digits") }

// PlayAndGetDigits plays a prompt on ch and collects digits, waiting for the
// application to finish. It returns the digits collected, which may be empty.
func (ch *Channel) PlayAndGetDigits(ctx context.Context, opts DigitOptions) (string, error) {
	ev, err := ch.ExecuteWait(ctx, "play_and_get_digits", opts.Args())
	if err != nil {
		return "", err
	}
	return ev.Get("variable_" + opts.varName()), nil
}

// SetVariable sets a channel variable on ch.
func (ch *Channel) SetVariable(ctx context.Context, name, value string) error {
	if err := ch.Execute(ctx, "set", name+"="+value); err != nil {
		return err
	}
	ch.μ.Lock()
	ch.vars[name] = value
	ch.μ.Unlock()
	return nil
}

// Bridge connects ch to other, which must be carried by the same peer.
func (ch *Channel) Bridge(ctx context.Context, other *Channel) error {
	_, err := ch.c.API(ctx, "uuid_bridge "+ch.uuid+" "+other.uuid)
	return err
}

// BridgeDial bridges ch to a new leg originated to dialPath, and returns the
// channel for the new leg. The caller ID of ch is carried to the new leg
// unless vars specifies one.
func (ch *Channel) BridgeDial(ctx context.Context, dialPath string, vars map[string]any) (*Channel, error) {
	id := uuid.NewString()
	var b dialstr.Builder
	b.Reserve(dialstr.OriginationUUID, id)
	for _, key := range []string{"caller_id_name", "caller_id_number"} {
		if v, ok := ch.Variable(key); ok && v != "" {
			b.String("origination_"+key, v)
		}
	}
	b.Map(vars)
	if err := b.Err(); err != nil {
		return nil, err
	}

	leg := ch.c.attach(id, dialPath)
	if err := leg.filter(ctx); err != nil {
		ch.c.detach(leg)
		return nil, err
	}
	if err := ch.Execute(ctx, "bridge", b.Encode()+dialPath); err != nil {
		ch.c.detach(leg)
		return nil, err
	}
	return leg, nil
}

// Unbridge separates ch from the leg it is bridged to. If park is true both
// legs are parked; otherwise ch is transferred to dest.
func (ch *Channel) Unbridge(ctx context.Context, dest string, park bool) error {
	cmd := "uuid_transfer " + ch.uuid + " " + dest + " inline"
	if park {
		cmd = "uuid_transfer " + ch.uuid + " -both park: inline"
	}
	_, err := ch.c.API(ctx, cmd)
	return err
}

// Hangup ends the call on ch with the given cause, or DefaultHangupCause if
// reason is empty. The reason may be a cause name or a numeric code known to
// cause.Standard. Hangup does nothing if ch has already hung up.
func (ch *Channel) Hangup(ctx context.Context, reason string) error {
	if ch.State() >= StateHangup {
		return nil
	}
	name := cmp.Or(cause.Standard.Canonical(reason), reason, DefaultHangupCause)
	_, err := ch.c.Send(ctx, SendMsg(ch.uuid, "hangup").WithHeader("hangup-cause", name))
	return err
}

// handle processes an event reported for ch. It is called on the channel's
// subscription in arrival order.
func (ch *Channel) handle(_ context.Context, ev *Event) error {
	ch.update(ev)
	if st, ok := stateOf(ev); ok {
		ch.advance(st)
	}

	ch.μ.Lock()
	var hits []*eventWaiter
	for w := range ch.ewait {
		if w.match(ev) {
			hits = append(hits, w)
		}
	}
	ch.ewait.Remove(hits...)
	var serve bool
	if digit := ev.Get("DTMF-Digit"); ev.Name() == "DTMF" && digit != "" && ch.dtmfHandler(digit) != nil {
		if ch.err == nil && !ch.keysOn {
			ch.keysOn, serve = true, true
		}
		ch.keys.put(ev)
	}
	ch.μ.Unlock()

	for _, w := range hits {
		w.done <- ev
	}
	if serve {
		ch.c.tasks.Go(func() error { ch.serveKeys(); return nil })
	}
	return nil
}

// dtmfHandler returns the handler for digit, or nil. The caller must hold
// ch.μ.
func (ch *Channel) dtmfHandler(digit string) DTMFHandler {
	if h := ch.dtmf[digit]; h != nil {
		return h
	}
	return ch.dtmf[""]
}

// serveKeys calls the DTMF handlers of ch one at a time, in the order the
// digits were reported, until ch is no longer tracked.
func (ch *Channel) serveKeys() {
	for {
		ev, ok := ch.keys.next()
		if !ok {
			return
		}
		digit := ev.Get("DTMF-Digit")
		ch.μ.Lock()
		h := ch.dtmfHandler(digit)
		ch.μ.Unlock()
		if h == nil {
			continue
		}
		if err := ch.c.invoke(func(ctx context.Context, _ *Event) error {
			return h(ctx, ch, digit)
		}, ev); err != nil {
			ch.log.Warn().Err(err).Str("digit", digit).Msg("DTMF handler failed")
		}
	}
}

// update records the variables and call state reported by ev.
func (ch *Channel) update(ev *Event) {
	ch.μ.Lock()
	defer ch.μ.Unlock()
	for name, value := range ev.Headers() {
		if v, ok := strings.CutPrefix(name, "variable_"); ok {
			ch.vars[v] = value
		}
		switch name {
		case "Caller-Caller-ID-Name":
			ch.vars["caller_id_name"] = value
		case "Caller-Caller-ID-Number":
			ch.vars["caller_id_number"] = value
		case "Caller-Destination-Number":
			ch.vars["destination_number"] = value
		case "Channel-Name":
			ch.vars["channel_name"] = value
		}
	}
	if cs, ok := parseCallState(ev.Get("Channel-Call-State")); ok {
		ch.callState = cs
	}
	if cause := ev.Get("Hangup-Cause"); cause != "" && ch.cause == "" {
		ch.cause = cause
	}
}

// advance moves ch to state to, if that is later than its current state.
func (ch *Channel) advance(to State) {
	ch.μ.Lock()
	from := ch.state
	if to <= from {
		ch.μ.Unlock()
		return
	}
	if err := ch.fsm.Event(context.Background(), to.String()); err != nil {
		ch.μ.Unlock()
		ch.log.Debug().Err(err).Stringer(logging.FieldNewState, to).Msg("ignored transition")
		return
	}
	ch.state = to
	if to < StateHangup {
		ch.peak = to
	}

	type result struct {
		w   *stateWaiter
		err error
	}
	var done []result
	for w := range ch.swait {
		if ok, err := ch.checkLocked(w.target); ok {
			done = append(done, result{w, err})
		}
	}
	for _, r := range done {
		ch.swait.Remove(r.w)
	}
	var failed []*eventWaiter
	if to == StateDestroy {
		failed = slices.Collect(maps.Keys(ch.ewait))
		clear(ch.ewait)
	}
	herr := &HangupError{UUID: ch.uuid, Cause: ch.cause}
	ch.μ.Unlock()

	for _, r := range done {
		r.w.done <- r.err
	}
	for _, w := range failed {
		w.fail <- herr
	}
	ch.c.obs.StateChanged(ch, from, to)
	if to == StateDestroy {
		ch.c.detach(ch)
	}
}

// originateFailed drives ch to its end after its origination was rejected.
func (ch *Channel) originateFailed(cause string) {
	ch.μ.Lock()
	if ch.cause == "" {
		ch.cause = cause
	}
	ch.μ.Unlock()
	ch.log.Info().Str(logging.FieldCause, cause).Msg("origination failed")
	ch.advance(StateHangup)
	ch.advance(StateDestroy)
}

// closed fails all pending waits on ch with err.
func (ch *Channel) closed(err error) {
	ch.μ.Lock()
	if ch.err == nil {
		ch.err = err
	}
	ch.keys.close()
	sw := slices.Collect(maps.Keys(ch.swait))
	ew := slices.Collect(maps.Keys(ch.ewait))
	clear(ch.swait)
	clear(ch.ewait)
	ch.μ.Unlock()

	for _, w := range sw {
		w.done <- err
	}
	for _, w := range ew {
		w.fail <- err
	}
}

// Originate requests a new call leg to dialPath and returns its channel at
// once, in StateNew. The channel advances as the peer reports progress.
// Variables in vars are attached to the new leg, except that the variables
// carrying the leg's UUID and ring-ready request cannot be overridden.
//
// Originate returns an error only if the request could not be issued. If the
// peer later reports that origination failed, the channel hangs up with the
// reported cause.
func (c *Conn) Originate(ctx context.Context, dialPath string, vars map[string]any) (*Channel, error) {
	if strings.TrimSpace(dialPath) == "" {
		return nil, errors.New("empty dial path")
	}
	id := uuid.NewString()
	var b dialstr.Builder
	b.Reserve(dialstr.OriginationUUID, id)
	b.Reserve(dialstr.ReturnRingReady, "true")
	b.Map(vars)
	if err := b.Err(); err != nil {
		return nil, err
	}

	ch := c.attach(id, dialPath)
	if err := ch.filter(ctx); err != nil {
		c.detach(ch)
		return nil, err
	}
	job, err := c.Submit(ctx, NewCommand("bgapi", "originate", b.Encode()+dialPath, "&park()"))
	if err != nil {
		c.detach(ch)
		return nil, err
	}
	ch.log.Debug().Str(logging.FieldDest, dialPath).Str(logging.FieldJobUUID, job.ID()).Msg("originate")

	c.tasks.Go(func() error {
		select {
		case <-job.Done():
			var ce *CommandError
			if errors.As(job.err, &ce) {
				ch.originateFailed(ce.Reason())
			}
		case <-ch.gone:
			job.Cancel() // the leg ended before the peer reported the result
		}
		return nil
	})
	return ch, nil
}

// Attach returns the channel for the leg with the given UUID, creating it if
// necessary. If initial != nil, it is applied to the channel as if it had
// been reported by the peer. Use Attach to track a leg created by the peer.
func (c *Conn) Attach(id string, initial *Event) *Channel {
	ch := c.attach(id, "")
	if initial != nil {
		ch.handle(c.ctx, initial)
	}
	return ch
}

// Channels returns the channels currently tracked by c, in no particular order.
// A channel is tracked until it is destroyed or c closes.
func (c *Conn) Channels() []*Channel {
	c.μ.Lock()
	defer c.μ.Unlock()
	return slices.Collect(maps.Values(c.legs))
}

// Channel returns the channel tracked by c with the given UUID, or nil.
func (c *Conn) Channel(uuid string) *Channel {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.legs[uuid]
}

func (c *Conn) attach(id, dialPath string) *Channel {
	c.μ.Lock()
	if ch, ok := c.legs[id]; ok {
		c.μ.Unlock()
		return ch
	}
	ch := newChannel(c, id, dialPath)
	if c.exited {
		ch.err = closedError(c.err)
		c.μ.Unlock()
		return ch
	}
	c.legs[id] = ch
	c.μ.Unlock()

	c.metrics.channels.Add(1)
	unsub := c.Subscribe("", ch.handle, Equals("Unique-ID", id))
	ch.μ.Lock()
	ch.unsub = unsub
	gone := ch.detached
	ch.μ.Unlock()
	if gone {
		unsub()
	}
	return ch
}

func (c *Conn) detach(ch *Channel) {
	c.μ.Lock()
	cur, ok := c.legs[ch.uuid]
	if ok && cur == ch {
		delete(c.legs, ch.uuid)
	}
	c.μ.Unlock()
	if !ok || cur != ch {
		return
	}
	c.metrics.channels.Add(-1)
	ch.μ.Lock()
	ch.detached = true
	unsub, filtered := ch.unsub, ch.filtered
	ch.μ.Unlock()
	if unsub != nil {
		unsub()
	}
	ch.keys.close()
	close(ch.gone)

	if filtered {
		c.tasks.Go(func() error {
			ctx, cancel := context.WithTimeout(c.ctx, filterCleanupTimeout)
			defer cancel()
			if err := c.FilterDelete(ctx, "Unique-ID", ch.uuid); err != nil {
				ch.log.Debug().Err(err).Msg("removing filter failed")
			}
			return nil
		})
	}
}

// filterCleanupTimeout bounds the removal of the event filter for a leg that
// is no longer tracked.
const filterCleanupTimeout = 5 * time.Second

// filter asks the peer to send the events for ch, and records that the filter
// must be removed when ch is detached.
func (ch *Channel) filter(ctx context.Context) error {
	if err := ch.c.Filter(ctx, "Unique-ID", ch.uuid); err != nil {
		return err
	}
	ch.μ.Lock()
	ch.filtered = true
	ch.μ.Unlock()
	return nil
}
