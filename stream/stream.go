// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package stream provides iterators over the asynchronous results of a
// connection: events delivered to a subscription, and background jobs as they
// complete.
package stream

import (
	"context"
	"iter"

	"github.com/creachadair/esl"
	"github.com/creachadair/taskgroup"
)

// Events subscribes to events on c with the given name that satisfy preds,
// and yields them in arrival order. The stream ends when ctx ends, when c
// closes, or when the caller stops iterating, and the subscription is removed
// when it does.
//
// The returned iterator yields zero or more (ev, nil) values. If the stream
// ends because ctx ended or c closed, the iterator ends the stream with a
// final (nil, err) tuple.
//
// The subscription is registered when iteration begins, so events that
// arrive before then are not seen.
func Events(ctx context.Context, c *esl.Conn, name string, preds ...esl.Predicate) iter.Seq2[*esl.Event, error] {
	return func(yield func(*esl.Event, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// The subscription handler runs in a separate goroutine, and we can't
		// yield from there. Smuggle events back to the iterator through a
		// channel. A handler blocked on send holds up only this subscription.
		evs := make(chan *esl.Event)
		unsub := c.Subscribe(name, func(_ context.Context, ev *esl.Event) error {
			select {
			case evs <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}, preds...)
		defer unsub()

		for {
			select {
			case ev := <-evs:
				if !yield(ev, nil) {
					return
				}
			case <-c.Done():
				yield(nil, closedErr(c))
				return
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
		}
	}
}

func closedErr(c *esl.Conn) error {
	if err := c.Err(); err != nil {
		return err
	}
	return esl.ErrClosed
}

// Take returns an iterator over the first n values of seq, stopping early at
// the first error.
func Take(seq iter.Seq2[*esl.Event, error], n int) iter.Seq2[*esl.Event, error] {
	return func(yield func(*esl.Event, error) bool) {
		if n <= 0 {
			return
		}
		i := 0
		for ev, err := range seq {
			if !yield(ev, err) || err != nil {
				return
			}
			i++
			if i >= n {
				return
			}
		}
	}
}

// Jobs yields each of the given jobs as it completes, in order of completion,
// along with its result. A job whose command failed is yielded with its
// error. If ctx ends before all the jobs are complete, the iterator ends the
// stream with a final (nil, err) tuple; the remaining jobs are not canceled.
func Jobs(ctx context.Context, jobs ...*esl.Job) iter.Seq2[*esl.Job, error] {
	return func(yield func(*esl.Job, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		done := make(chan *esl.Job, len(jobs))
		for _, j := range jobs {
			taskgroup.Go(func() error {
				select {
				case <-j.Done():
					done <- j
				case <-ctx.Done():
				}
				return nil
			})
		}
		for range jobs {
			select {
			case j := <-done:
				_, err := j.Wait(context.Background()) // already complete
				if !yield(j, err) {
					return
				}
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
		}
	}
}
