// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package transport_test

import (
	"bufio"
	"context"
	"net"
	"testing"

	"github.com/creachadair/esl"
	"github.com/creachadair/esl/transport"
	"github.com/creachadair/taskgroup"
)

func TestDirect(t *testing.T) {
	tr, p := transport.Direct()

	g := taskgroup.New(nil)
	g.Go(func() error {
		cmd := esl.NewCommand("api", "status")
		if err := tr.Send(cmd); err != nil {
			t.Errorf("T Send: %v", err)
		}
		got, err := tr.Recv()
		if err != nil {
			t.Errorf("T Recv: %v", err)
		} else if r := got.Reply(); r != "+OK" {
			t.Errorf("T Recv: got reply %q, want +OK", r)
		}
		return nil
	})
	g.Go(func() error {
		cmd, err := p.Recv()
		if err != nil {
			t.Errorf("P Recv: %v", err)
		} else if cmd.Line() != "api status" {
			t.Errorf("P Recv: got %q, want api status", cmd.Line())
		}
		if err := p.Send(esl.NewEvent("Content-Type", "command/reply", "Reply-Text", "+OK")); err != nil {
			t.Errorf("P Send: %v", err)
		}
		return nil
	})
	g.Wait()

	if err := tr.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := tr.Close(); err == nil {
		t.Error("Second Close did not report an error")
	}
	if err := tr.Send(esl.NewCommand("exit")); err == nil {
		t.Error("Send after close did not report an error")
	}
	if ev, err := tr.Recv(); err == nil {
		t.Errorf("Recv after close: got %v", ev)
	}
	if cmd, err := p.Recv(); err == nil {
		t.Errorf("Pipe Recv after close: got %v", cmd)
	}
	if err := p.Send(esl.NewEvent()); err == nil {
		t.Error("Pipe Send after close did not report an error")
	}
}

func TestIO(t *testing.T) {
	c, s := net.Pipe()
	tr := transport.IO(c, c)
	defer tr.Close()

	g := taskgroup.New(nil)
	g.Go(func() error {
		defer s.Close()
		br := bufio.NewReader(s)
		var cmd esl.Command
		if _, err := cmd.ReadFrom(br); err != nil {
			t.Errorf("Read command: %v", err)
			return nil
		}
		if got := cmd.Line(); got != "bgapi originate user/1000 &park()" {
			t.Errorf("Command: got %q", got)
		}
		if cmd.JobUUID != "job-1" {
			t.Errorf("Job-UUID: got %q, want job-1", cmd.JobUUID)
		}
		ev := esl.NewEvent("Content-Type", "api/response").WithBody([]byte("+OK\n"))
		if _, err := ev.WriteTo(s); err != nil {
			t.Errorf("Write event: %v", err)
		}
		return nil
	})

	cmd := esl.NewCommand("bgapi", "originate", "user/1000", "&park()")
	cmd.JobUUID = "job-1"
	if err := tr.Send(cmd); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ev, err := tr.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got := string(ev.Body()); got != "+OK\n" {
		t.Errorf("Body: got %q, want %q", got, "+OK\n")
	}
	if got := ev.Reply(); got != "+OK" {
		t.Errorf("Reply: got %q, want +OK", got)
	}
	g.Wait()
}

func TestDial(t *testing.T) {
	lst, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lst.Close()
	g := taskgroup.Go(func() error {
		conn, err := lst.Accept()
		if err == nil {
			conn.Close()
		}
		return err
	})

	tr, conn, err := transport.Dial(context.Background(), lst.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if got, want := conn.RemoteAddr().String(), lst.Addr().String(); got != want {
		t.Errorf("Remote address: got %q, want %q", got, want)
	}
	if err := g.Wait(); err != nil {
		t.Errorf("Accept: %v", err)
	}
	if ev, err := tr.Recv(); err == nil {
		t.Errorf("Recv from closed peer: got %v", ev)
	}
	tr.Close()
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"", "unix"},
		{":", "unix"},

		{"nothing", "unix"},           // no colon
		{"/run/esl.sock", "unix"},     // no colon
		{"no-port:", "unix"},          // empty port
		{"file/with:port", "unix"},    // slashes in host
		{"mangled:@3", "unix"},        // non-alphanumerics in port
		{"[::1]:8021", "tcp"},         // bracketed IPv6 with port
		{":8021", "tcp"},              // numeric port
		{"127.0.0.1:8021", "tcp"},     // host and numeric port
		{"freeswitch:esl-evt", "tcp"}, // host and service name
	}
	for _, test := range tests {
		got, addr := transport.SplitAddress(test.input)
		if got != test.want {
			t.Errorf("SplitAddress(%q) type: got %q, want %q", test.input, got, test.want)
		}
		if addr != test.input {
			t.Errorf("SplitAddress(%q) addr: got %q, want %q", test.input, addr, test.input)
		}
	}
}
