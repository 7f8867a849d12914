// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package ring implements ring groups: originating calls to a list of
// candidate destinations and returning the first to answer.
package ring

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/creachadair/esl"
	"github.com/creachadair/esl/balance"
	"github.com/creachadair/esl/internal/logging"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
)

// A Mode is a strategy for ringing the destinations of a group.
type Mode int

const (
	// Parallel rings every destination at once. The first to answer wins.
	Parallel Mode = iota

	// Sequential rings each destination in turn, moving to the next when
	// one does not answer in time.
	Sequential

	// Balancing rings destinations in turn like Sequential, but chooses the
	// next destination by lowest count of active calls according to a
	// balancer.
	Balancing
)

var modeNames = [...]string{Parallel: "parallel", Sequential: "sequential", Balancing: "balancing"}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses the name of a mode, without regard to case.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown ring mode %q", s)
}

// Defaults for ring options.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultCleanupTimeout = 5 * time.Second
)

// ErrNoOrigination is reported when no destination in the group could be
// originated. It is distinct from a group that nobody answered, which is not
// an error.
var ErrNoOrigination = errors.New("no destination could be originated")

// Options control a ring group attempt. A nil *Options is ready for use and
// provides default values.
type Options struct {
	// Mode is the ringing strategy. The zero value is Parallel.
	Mode Mode

	// Timeout is how long to wait for each destination to answer. In
	// Parallel mode it bounds the whole attempt. If zero, DefaultTimeout is
	// used.
	Timeout time.Duration

	// Variables are attached to every leg originated.
	Variables map[string]any

	// DestVariables are attached to the legs for particular destinations,
	// and take precedence over Variables.
	DestVariables map[string]map[string]any

	// Balancer tracks active calls per destination. It is required in
	// Balancing mode and ignored otherwise.
	Balancer balance.Balancer

	// HangupCause is the cause used to hang up legs that did not win.
	// If empty, esl.DefaultHangupCause is used.
	HangupCause string

	// CleanupTimeout bounds each hangup issued for a leg that did not win.
	// If zero, DefaultCleanupTimeout is used.
	CleanupTimeout time.Duration

	// Logger, if non-nil, receives structured logs.
	Logger *zerolog.Logger

	// Observer, if non-nil, is notified when the attempt finishes.
	Observer esl.Observer
}

func (o *Options) timeout() time.Duration {
	if o == nil || o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o *Options) cleanupTimeout() time.Duration {
	if o == nil || o.CleanupTimeout <= 0 {
		return DefaultCleanupTimeout
	}
	return o.CleanupTimeout
}

func (o *Options) vars(dest string) map[string]any {
	if o == nil {
		return nil
	}
	out := maps.Clone(o.Variables)
	if dv := o.DestVariables[dest]; len(dv) != 0 {
		if out == nil {
			out = make(map[string]any, len(dv))
		}
		maps.Copy(out, dv)
	}
	return out
}

// A Group rings a list of destinations through a single connection.
type Group struct {
	c     *esl.Conn
	dests []string
	opts  Options
	log   zerolog.Logger
	obs   esl.Observer
}

// New constructs a ring group for the given destinations, originated on c.
func New(c *esl.Conn, dests []string, opts *Options) *Group {
	g := &Group{c: c, dests: slices.Clone(dests)}
	if opts != nil {
		g.opts = *opts
	}
	g.log = logging.Component(g.opts.Logger, "ring").With().Str(logging.FieldMode, g.opts.Mode.String()).Logger()
	g.obs = g.opts.Observer
	if g.obs == nil {
		g.obs = esl.NopObserver{}
	}
	return g
}

// Ring rings the destinations on c and returns the channel of the first to
// answer. If nobody answers, Ring returns nil, nil. If no destination could
// be originated, Ring reports ErrNoOrigination joined with the errors from
// each attempt.
//
// Every leg originated by Ring that does not win is hung up unless it has
// already hung up, including when ctx ends before any leg answers.
func Ring(ctx context.Context, c *esl.Conn, dests []string, opts *Options) (*esl.Channel, error) {
	return New(c, dests, opts).Ring(ctx)
}

// Ring rings the destinations of g. See the Ring function.
func (g *Group) Ring(ctx context.Context) (*esl.Channel, error) {
	if len(g.dests) == 0 {
		return nil, errors.New("empty ring group")
	}
	start := time.Now()
	r := &attempt{Group: g}

	var win *esl.Channel
	var err error
	switch g.opts.Mode {
	case Parallel:
		win, err = r.parallel(ctx)
	case Sequential:
		win, err = r.sequence(ctx, func(_ context.Context, rest []string) (string, error) {
			return rest[0], nil
		}, nil)
	case Balancing:
		if g.opts.Balancer == nil {
			return nil, errors.New("balancing mode requires a balancer")
		}
		win, err = r.sequence(ctx, g.opts.Balancer.Acquire, g.opts.Balancer.Decrement)
	default:
		return nil, fmt.Errorf("unknown ring mode %v", g.opts.Mode)
	}

	res := esl.Attempt{
		Mode:         g.opts.Mode.String(),
		Destinations: slices.Clone(g.dests),
		Originated:   r.originated,
		Elapsed:      time.Since(start),
		Err:          err,
	}
	if win != nil {
		res.Winner, res.UUID = win.DialPath(), win.UUID()
		g.log.Info().Str(logging.FieldDest, res.Winner).Str(logging.FieldUUID, res.UUID).Dur("elapsed", res.Elapsed).Msg("answered")
	} else if err != nil {
		g.log.Warn().Err(err).Msg("ring failed")
	} else {
		g.log.Info().Dur("elapsed", res.Elapsed).Msg("no answer")
	}
	g.obs.AttemptDone(res)
	return win, err
}

// An attempt holds the state of one invocation of a group.
type attempt struct {
	*Group
	tried      []string // destinations attempted, in order
	originated int
	errs       []error // origination failures
}

func (r *attempt) originate(ctx context.Context, dest string) (*esl.Channel, error) {
	ch, err := r.c.Originate(ctx, dest, r.opts.vars(dest))
	if err != nil {
		r.log.Debug().Err(err).Str(logging.FieldDest, dest).Msg("originate failed")
		return nil, fmt.Errorf("%s: %w", dest, err)
	}
	r.log.Debug().Str(logging.FieldDest, dest).Str(logging.FieldUUID, ch.UUID()).Msg("originated")
	return ch, nil
}

// parallel originates every destination at once and races them to answer.
func (r *attempt) parallel(ctx context.Context) (*esl.Channel, error) {
	chans := make([]*esl.Channel, len(r.dests))
	errs := make([]error, len(r.dests))
	g := taskgroup.New(nil)
	for i, dest := range r.dests {
		g.Go(func() error {
			chans[i], errs[i] = r.originate(ctx, dest)
			return nil
		})
	}
	g.Wait()
	r.tried = r.dests

	var live []*esl.Channel
	for i, ch := range chans {
		if ch != nil {
			live = append(live, ch)
		} else {
			r.errs = append(r.errs, errs[i])
		}
	}
	r.originated = len(live)
	if len(live) == 0 {
		return nil, r.noOrigination()
	}

	wctx, cancel := context.WithTimeout(ctx, r.opts.timeout())
	defer cancel()
	waits := make([]func(context.Context) (*esl.Channel, error), len(live))
	for i, ch := range live {
		waits[i] = func(ctx context.Context) (*esl.Channel, error) {
			return ch, ch.WaitState(ctx, esl.StateExecute)
		}
	}
	i, win, _ := first(wctx, waits)
	if i < 0 {
		win = nil
	}
	r.cleanup(ctx, live, win)
	if win == nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return win, nil
}

// sequence rings destinations one at a time, choosing each with next and
// reporting its completion to done, if non-nil.
func (r *attempt) sequence(ctx context.Context,
	next func(context.Context, []string) (string, error),
	done func(context.Context, string) error,
) (*esl.Channel, error) {
	remaining := slices.Clone(r.dests)
	for len(remaining) != 0 {
		dest, err := next(ctx, remaining)
		if err != nil {
			return nil, err
		}
		if i := slices.Index(remaining, dest); i >= 0 {
			remaining = slices.Delete(remaining, i, i+1)
		} else {
			return nil, fmt.Errorf("balancer chose unknown destination %q", dest)
		}
		r.tried = append(r.tried, dest)

		win, err := r.try(ctx, dest)
		if done != nil {
			dctx, cancel := r.detached(ctx)
			if derr := done(dctx, dest); derr != nil {
				r.log.Warn().Err(derr).Str(logging.FieldDest, dest).Msg("balancer release failed")
			}
			cancel()
		}
		if win != nil || err != nil {
			return win, err
		}
	}
	if r.originated == 0 {
		return nil, r.noOrigination()
	}
	return nil, nil
}

// try rings a single destination. It reports an error only if ctx ended.
func (r *attempt) try(ctx context.Context, dest string) (*esl.Channel, error) {
	ch, err := r.originate(ctx, dest)
	if err != nil {
		r.errs = append(r.errs, err)
		return nil, ctx.Err()
	}
	r.originated++

	wctx, cancel := context.WithTimeout(ctx, r.opts.timeout())
	defer cancel()
	err = ch.WaitState(wctx, esl.StateExecute)
	if err == nil {
		return ch, nil
	}
	r.log.Debug().Err(err).Str(logging.FieldDest, dest).Msg("no answer")
	r.cleanup(ctx, []*esl.Channel{ch}, nil)
	return nil, ctx.Err()
}

// cleanup hangs up every channel in chans other than win that has not
// already hung up. It runs even if ctx has ended.
func (r *attempt) cleanup(ctx context.Context, chans []*esl.Channel, win *esl.Channel) {
	cause := r.opts.HangupCause
	g := taskgroup.New(nil)
	for _, ch := range chans {
		if ch == win || ch.State() >= esl.StateHangup {
			continue
		}
		g.Go(func() error {
			hctx, cancel := r.detached(ctx)
			defer cancel()
			if err := ch.Hangup(hctx, cause); err != nil {
				r.log.Warn().Err(err).Str(logging.FieldUUID, ch.UUID()).Msg("hangup failed")
			}
			return nil
		})
	}
	g.Wait()
}

// detached returns a context for cleanup work that is not canceled with ctx.
func (r *attempt) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.opts.cleanupTimeout())
}

func (r *attempt) noOrigination() error {
	return errors.Join(append([]error{ErrNoOrigination}, r.errs...)...)
}
