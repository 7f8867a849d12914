// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package handler provides adapters to the esl.Handler type for functions
// with other signatures.
//
// Parameters are decoded from the body of the event. A parameter may be
// []byte or string, or a type whose pointer supports one of the
// encoding.BinaryUnmarshaler or encoding.TextUnmarshaler interfaces.
//
// Results are sent back to the peer as the body of a custom event, and may be
// []byte or string, or any type that supports one of the
// encoding.BinaryMarshaler or encoding.TextMarshaler interfaces.
package handler

import (
	"bytes"
	"context"
	"encoding"
	"fmt"

	"github.com/creachadair/esl"
)

// evContextKey is a context key for the event passed to a handler.
type evContextKey struct{}

// ContextEvent returns the original event passed to the handler, or nil if
// ctx has no associated event. The context passed to a function adapted by
// this package has this value.
func ContextEvent(ctx context.Context) *esl.Event {
	if v := ctx.Value(evContextKey{}); v != nil {
		return v.(*esl.Event)
	}
	return nil
}

// ParamError adapts a function f that accepts a parameter of type P decoded
// from the event body and returns an error, to an esl.Handler.
func ParamError[P any](f func(context.Context, P) error) esl.Handler {
	return func(ctx context.Context, ev *esl.Event) error {
		var p P
		if err := unmarshal(ev.Body(), &p); err != nil {
			return err
		}
		return f(context.WithValue(ctx, evContextKey{}, ev), p)
	}
}

// Param adapts a function f that accepts a parameter of type P decoded from
// the event body without error, to an esl.Handler.
func Param[P any](f func(context.Context, P)) esl.Handler {
	return ParamError(func(ctx context.Context, p P) error { f(ctx, p); return nil })
}

// ChannelError adapts a function f that accepts the channel an event is
// about, to an esl.Handler. Events for channels not tracked by the connection
// are ignored.
func ChannelError(f func(context.Context, *esl.Channel, *esl.Event) error) esl.Handler {
	return func(ctx context.Context, ev *esl.Event) error {
		c := esl.ContextConn(ctx)
		if c == nil {
			return fmt.Errorf("no connection for event %q", ev.Name())
		}
		ch := c.Channel(ev.UUID())
		if ch == nil {
			return nil
		}
		return f(context.WithValue(ctx, evContextKey{}, ev), ch, ev)
	}
}

// Reply adapts a function f that accepts a parameter of type P decoded from
// the event body and returns a result of type R, to an esl.Handler. The
// result is fired back to the peer as the body of a CUSTOM event with the
// given subclass, carrying the Unique-ID of the original event if it has one.
func Reply[P, R any](subclass string, f func(context.Context, P) (R, error)) esl.Handler {
	return func(ctx context.Context, ev *esl.Event) error {
		var p P
		if err := unmarshal(ev.Body(), &p); err != nil {
			return err
		}
		r, err := f(context.WithValue(ctx, evContextKey{}, ev), p)
		if err != nil {
			return err
		}
		data, err := marshal(r)
		if err != nil {
			return err
		}
		c := esl.ContextConn(ctx)
		if c == nil {
			return fmt.Errorf("no connection for event %q", ev.Name())
		}
		cmd := esl.NewCommand("sendevent", "CUSTOM").
			WithHeader("Event-Subclass", subclass)
		if id := ev.UUID(); id != "" {
			cmd.WithHeader("Unique-ID", id)
		}
		_, err = c.Send(ctx, cmd.WithBody(data))
		return err
	}
}

// unmarshal decodes data into v. The concrete type of v must be a pointer to a
// []byte or string, or must implement either the encoding.BinaryUnmarshaler
// interface or the encoding.TextUnmarshaler interface. If v implements both,
// BinaryUnmarshaler is preferred.
func unmarshal(data []byte, v any) error {
	switch t := v.(type) {
	case *[]byte:
		*t = bytes.Clone(data)
	case *string:
		*t = string(data)
	case encoding.BinaryUnmarshaler:
		return t.UnmarshalBinary(data)
	case encoding.TextUnmarshaler:
		return t.UnmarshalText(data)
	default:
		return fmt.Errorf("cannot unmarshal into %T", v)
	}
	return nil
}

// marshal encodes v into data. The concrete type of v must be a []byte or
// string (or a pointer to these); otherwise it must implement either the
// encoding.BinaryMarshaler interface or the encoding.TextMarshaler
// interface.
//
// As a special case if v is a nil pointer to a string or []byte, the result is
// nil without error.
func marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case *[]byte:
		if t == nil {
			return nil, nil
		}
		return *t, nil
	case string:
		return []byte(t), nil
	case *string:
		if t == nil {
			return nil, nil
		}
		return []byte(*t), nil
	case encoding.BinaryMarshaler:
		return t.MarshalBinary()
	case encoding.TextMarshaler:
		return t.MarshalText()
	default:
		return nil, fmt.Errorf("cannot marshal %T", v)
	}
}
