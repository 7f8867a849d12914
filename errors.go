// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package esl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// ErrClosed is reported to every waiter on a connection that has closed.
// Errors reporting a lost connection wrap ErrClosed together with the cause,
// so that errors.Is(err, ErrClosed) holds.
var ErrClosed = errors.New("connection closed")

// A FrameError reports malformed or truncated wire data. It is fatal to the
// connection on which it occurs.
type FrameError struct {
	Msg string
	Err error // the underlying cause, or nil
}

// Error satisfies the error interface.
func (f *FrameError) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("invalid frame: %s: %v", f.Msg, f.Err)
	}
	return "invalid frame: " + f.Msg
}

// Unwrap reports the underlying error of f, if any.
func (f *FrameError) Unwrap() error { return f.Err }

// An AuthError reports that the remote peer rejected the handshake.
type AuthError struct {
	Reply string // the reply text reported by the peer
}

// Error satisfies the error interface.
func (a *AuthError) Error() string {
	if a.Reply == "" {
		return "authentication failed"
	}
	return "authentication failed: " + a.Reply
}

// A CommandError reports that the remote peer answered a command with its
// error indicator. It does not affect the connection.
type CommandError struct {
	Command string // the request line of the command
	Reply   string // the complete reply text
}

// Reason returns the failure reason reported by the peer.
func (c *CommandError) Reason() string {
	return strings.TrimSpace(strings.TrimPrefix(c.Reply, "-ERR"))
}

// Error satisfies the error interface.
func (c *CommandError) Error() string {
	return fmt.Sprintf("command %q failed: %s", c.Command, c.Reason())
}

// A TimeoutError reports that a wait or command exceeded its allotted time.
type TimeoutError struct {
	Op string // the operation that timed out
}

// Error satisfies the error interface.
func (t *TimeoutError) Error() string { return t.Op + ": timed out" }

// Timeout reports true. It allows a TimeoutError to satisfy net.Error.
func (*TimeoutError) Timeout() bool { return true }

// Unwrap returns context.DeadlineExceeded.
func (*TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// A HangupError reports that a channel ended before the condition a caller
// was waiting for held.
type HangupError struct {
	UUID  string
	Cause string // the hangup cause, if known
}

// Error satisfies the error interface.
func (h *HangupError) Error() string {
	if h.Cause == "" {
		return fmt.Sprintf("channel %s hung up", h.UUID)
	}
	return fmt.Sprintf("channel %s hung up (%s)", h.UUID, h.Cause)
}

// waitError converts the error from a context that ended during op into the
// error reported to the caller.
func waitError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op}
	}
	return err
}

// closedError wraps err as a lost-connection error.
func closedError(err error) error {
	if err == nil || errors.Is(err, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %w", ErrClosed, err)
}

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrClosed)
}
