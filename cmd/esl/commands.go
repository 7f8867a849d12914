// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/esl"
	"github.com/creachadair/esl/balance"
	"github.com/creachadair/esl/cause"
	"github.com/creachadair/esl/ring"
	"github.com/creachadair/esl/session"
	"github.com/creachadair/esl/stream"
)

func runAPI(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("missing API command")
	}
	return withConn(env, func(ctx context.Context, _ *runtime, c *esl.Conn) error {
		out, err := c.API(ctx, strings.Join(env.Args, " "))
		if out != "" {
			fmt.Print(out)
			if !strings.HasSuffix(out, "\n") {
				fmt.Println()
			}
		}
		return err
	})
}

var eventFlags struct {
	Count int  `flag:"n,Stop after this many events (0 means no limit)"`
	Brief bool `flag:"brief,Print a one-line summary of each event"`
}

func runEvents(env *command.Env) error {
	return withConn(env, func(ctx context.Context, _ *runtime, c *esl.Conn) error {
		if err := c.Events(ctx, "plain", env.Args...); err != nil {
			return err
		}
		seq := stream.Events(ctx, c, "")
		if eventFlags.Count > 0 {
			seq = stream.Take(seq, eventFlags.Count)
		}
		for ev, err := range seq {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil // interrupted
				}
				return err
			}
			if eventFlags.Brief {
				fmt.Println(ev)
			} else if _, err := ev.WriteTo(os.Stdout); err != nil {
				return err
			}
		}
		return nil
	})
}

var originateFlags struct {
	Timeout time.Duration `flag:"timeout,default=30s,How long to wait for an answer"`
	Play    string        `flag:"play,Play this file once answered"`
	Hold    time.Duration `flag:"hold,default=0s,Wait this long after answer before hanging up"`
}

func runOriginate(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("missing dial path")
	}
	vars, err := parseVars(env.Args[1:])
	if err != nil {
		return env.Usagef("%v", err)
	}
	return withConn(env, func(ctx context.Context, rt *runtime, c *esl.Conn) error {
		ch, err := c.Originate(ctx, env.Args[0], vars)
		if err != nil {
			return err
		}
		wctx, cancel := context.WithTimeout(ctx, originateFlags.Timeout)
		defer cancel()
		if err := ch.WaitState(wctx, esl.StateExecute); err != nil {
			hangup(ch, cause.NoAnswer)
			return err
		}
		fmt.Printf("answered %s %s\n", ch.DialPath(), ch.UUID())
		return hold(ctx, ch, originateFlags.Play, originateFlags.Hold)
	})
}

var ringFlags struct {
	Mode    string        `flag:"mode,Ring mode: parallel, sequential, or balancing (overrides the configuration)"`
	Timeout time.Duration `flag:"timeout,Per-destination answer timeout (overrides the configuration)"`
	Play    string        `flag:"play,Play this file to the answering leg"`
	Hold    time.Duration `flag:"hold,default=0s,Wait this long after answer before hanging up"`
}

func runRing(env *command.Env) error {
	return withConn(env, func(ctx context.Context, rt *runtime, c *esl.Conn) error {
		if ringFlags.Mode != "" {
			rt.cfg.Ring.Mode = ringFlags.Mode
		}
		if ringFlags.Timeout > 0 {
			rt.cfg.Ring.Timeout = ringFlags.Timeout
		}
		opts, err := rt.cfg.RingOptions()
		if err != nil {
			return env.Usagef("%v", err)
		}
		dests := env.Args
		if len(dests) == 0 {
			dests = rt.cfg.Ring.Destinations
		}
		if len(dests) == 0 {
			return env.Usagef("no destinations to ring")
		}
		opts.Logger = &rt.log
		opts.Observer = rt.obs

		if opts.Mode == ring.Balancing {
			b, closeb, err := rt.balancer(ctx)
			if err != nil {
				return err
			}
			defer closeb()
			opts.Balancer = b
		}

		ch, err := ring.Ring(ctx, c, dests, opts)
		if err != nil {
			return err
		} else if ch == nil {
			fmt.Println("no answer")
			return nil
		}
		fmt.Printf("answered %s %s\n", ch.DialPath(), ch.UUID())
		return hold(ctx, ch, ringFlags.Play, ringFlags.Hold)
	})
}

// balancer returns the load balancer selected by the configuration, and a
// function to release it.
func (rt *runtime) balancer(ctx context.Context) (balance.Balancer, func(), error) {
	bc := rt.cfg.Balancer
	if bc.Backend != "redis" {
		return balance.NewMemory(), func() {}, nil
	}
	r, err := balance.DialRedis(ctx, balance.RedisConfig{
		Addr: bc.RedisAddr,
		DB:   bc.RedisDB,
	}, &balance.RedisOptions{Prefix: bc.Prefix, Logger: &rt.log})
	if err != nil {
		return nil, nil, err
	}
	return r, func() { r.Close() }, nil
}

var serveFlags struct {
	Prompt string        `flag:"prompt,Play this file when a call is answered"`
	Hold   time.Duration `flag:"hold,default=30s,Hang up each call after this long"`
}

func runServe(env *command.Env) error {
	ctx, rt, err := setup(env)
	if err != nil {
		return err
	}
	defer rt.close()

	lst, err := net.Listen("tcp", rt.cfg.Server.Listen)
	if err != nil {
		return err
	}
	srv := session.NewServer(echoApp(serveFlags.Prompt, serveFlags.Hold), &session.ServerOptions{
		MyEvents:         rt.cfg.Server.Events == "myevents",
		NoLinger:         !rt.cfg.Server.Lingering(),
		HandshakeTimeout: rt.cfg.ESL.DialTimeout,
		Conn:             rt.connOptions(),
	})
	rt.log.Info().Str("addr", lst.Addr().String()).Msg("accepting sessions")
	return srv.Serve(ctx, session.NetAccepter(lst))
}

// echoApp returns a session application that answers the call, plays prompt
// if it is set, and speaks back each digit the caller presses. The call is
// hung up after hold, unless the caller hangs up first.
func echoApp(prompt string, hold time.Duration) session.App {
	return func(ctx context.Context, s *session.Session) error {
		ch := s.Channel
		ch.OnDTMF("", func(ctx context.Context, ch *esl.Channel, digit string) error {
			return ch.Say(ctx, esl.SayOptions{Text: digit, Method: "iterated"})
		})
		if err := ch.Answer(ctx); err != nil {
			return err
		}
		if prompt != "" {
			if err := ch.Playback(ctx, prompt); err != nil {
				return err
			}
		}
		hctx, cancel := context.WithTimeout(ctx, hold)
		defer cancel()
		switch err := ch.WaitState(hctx, esl.StateHangup); {
		case errors.Is(err, context.DeadlineExceeded):
			return ch.Hangup(ctx, cause.AllottedTimeout)
		case errors.Is(err, esl.ErrClosed):
			return nil // the caller hung up first
		default:
			return err
		}
	}
}

// hold plays the file at play on ch if it is set, waits for d or until the
// far end hangs up, then hangs up ch.
func hold(ctx context.Context, ch *esl.Channel, play string, d time.Duration) error {
	defer hangup(ch, "")
	if play != "" {
		if _, err := ch.ExecuteWait(ctx, "playback", play); err != nil {
			return err
		}
	}
	if d <= 0 {
		return nil
	}
	hctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	if err := ch.WaitState(hctx, esl.StateHangup); err == nil || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return ctx.Err()
}

// hangup hangs up ch with a short deadline of its own, so that it works
// after the caller's context has ended.
func hangup(ch *esl.Channel, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	ch.Hangup(ctx, reason)
}

// parseVars parses name=value arguments into a variable map.
func parseVars(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	vars := make(map[string]any, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid variable %q (want name=value)", arg)
		}
		vars[name] = value
	}
	return vars, nil
}
