// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package transport provides implementations of the esl.Transport interface.
package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"

	"github.com/creachadair/esl"
)

// Direct constructs a connected in-memory transport that passes frames
// without encoding them. Commands sent on T are received by P, and events
// sent by P are received on T. This is intended for testing.
func Direct() (T esl.Transport, P *Pipe) {
	cmds := make(chan *esl.Command)
	evts := make(chan *esl.Event)
	done := make(chan struct{})
	return direct{cmds: cmds, evts: evts, done: done}, &Pipe{cmds: cmds, evts: evts, done: done}
}

type direct struct {
	cmds chan<- *esl.Command
	evts <-chan *esl.Event
	done chan struct{}
}

// Send implements a method of the [esl.Transport] interface.
func (d direct) Send(cmd *esl.Command) error {
	select {
	case d.cmds <- cmd:
		return nil
	case <-d.done:
		return net.ErrClosed
	}
}

// Recv implements a method of the [esl.Transport] interface.
func (d direct) Recv() (*esl.Event, error) {
	select {
	case ev := <-d.evts:
		return ev, nil
	case <-d.done:
		return nil, net.ErrClosed
	}
}

// Close implements a method of the [esl.Transport] interface.
func (d direct) Close() (err error) {
	defer func() {
		if recover() != nil {
			err = net.ErrClosed
		}
	}()
	close(d.done)
	return nil
}

// A Pipe is the remote end of a Direct transport.
type Pipe struct {
	cmds <-chan *esl.Command
	evts chan<- *esl.Event
	done <-chan struct{}
}

// Recv blocks until a command is sent on the transport, or the transport is
// closed.
func (p *Pipe) Recv() (*esl.Command, error) {
	select {
	case cmd := <-p.cmds:
		return cmd, nil
	case <-p.done:
		return nil, net.ErrClosed
	}
}

// Send delivers ev to the receiver of the transport.
func (p *Pipe) Send(ev *esl.Event) error {
	select {
	case p.evts <- ev:
		return nil
	case <-p.done:
		return net.ErrClosed
	}
}

// IO constructs a transport that receives frames from r and sends commands
// to wc.
func IO(r io.Reader, wc io.WriteCloser) IOTransport {
	// N.B. The bufio package will reuse existing buffers if possible.
	return IOTransport{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

// An IOTransport sends commands and receives frames on a reader and a writer.
type IOTransport struct {
	r *bufio.Reader
	w *bufio.Writer
	c io.Closer
}

// Send implements a method of the [esl.Transport] interface.
func (t IOTransport) Send(cmd *esl.Command) error {
	if _, err := cmd.WriteTo(t.w); err != nil {
		return err
	}
	return t.w.Flush()
}

// Recv implements a method of the [esl.Transport] interface.
func (t IOTransport) Recv() (*esl.Event, error) {
	var ev esl.Event
	if _, err := ev.ReadFrom(t.r); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Close implements a method of the [esl.Transport] interface.
func (t IOTransport) Close() error { return t.c.Close() }

// Dial connects to the event socket at addr and returns a transport for it.
// The network is chosen by SplitAddress.
func Dial(ctx context.Context, addr string) (IOTransport, net.Conn, error) {
	var d net.Dialer
	network, address := SplitAddress(addr)
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return IOTransport{}, nil, err
	}
	return IO(conn, conn), conn, nil
}

// SplitAddress parses an address string to guess a network type and target.
//
// The assignment of a network type uses the following heuristics:
//
// If s does not have the form [host]:port, the network is assigned as "unix".
// The network "unix" is also assigned if port == "", port contains characters
// other than ASCII letters, digits, and "-", or if host contains a "/".
//
// Otherwise, the network is assigned as "tcp". Note that this function does
// not verify whether the address is lexically valid.
func SplitAddress(s string) (network, address string) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "unix", s
	}
	host, port := s[:i], s[i+1:]
	if port == "" || !isServiceName(port) {
		return "unix", s
	} else if strings.IndexByte(host, '/') >= 0 {
		return "unix", s
	}
	return "tcp", s
}

// isServiceName reports whether s looks like a legal service name from the
// services(5) file. The grammar of such names is not well-defined, but for our
// purposes it includes letters, digits, and "-".
func isServiceName(s string) bool {
	for _, b := range s {
		if b >= '0' && b <= '9' || b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b == '-' {
			continue
		}
		return false
	}
	return true
}
