// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package esl

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// A Command is a request sent to the remote peer. On the wire it is a single
// request line, optionally followed by header lines and a body, terminated by
// a blank line.
type Command struct {
	Name    string   // the command word, e.g., "api" or "sendmsg"
	Args    string   // the rest of the request line, or ""
	JobUUID string   // if set, the job identifier for a background command
	Headers []Header // additional headers, in order
	Body    []byte   // optional body; Content-Length is supplied on write
}

// NewCommand constructs a command with the given name and arguments. The
// arguments are joined by single spaces.
func NewCommand(name string, args ...string) *Command {
	return &Command{Name: name, Args: strings.Join(args, " ")}
}

// SendMsg constructs a sendmsg command addressed to the channel with the given
// UUID. The call-command header is set to cmd.
func SendMsg(uuid, cmd string) *Command {
	return NewCommand("sendmsg", uuid).WithHeader("call-command", cmd)
}

// WithHeader adds a header to c and returns c to permit chaining.
func (c *Command) WithHeader(name, value string) *Command {
	c.Headers = append(c.Headers, Header{Name: name, Value: value})
	return c
}

// WithBody sets the body of c and returns c to permit chaining.
func (c *Command) WithBody(body []byte) *Command { c.Body = body; return c }

// Get returns the value of the first header of c with the given name, compared
// without regard to case, or "".
func (c *Command) Get(name string) string {
	for _, h := range c.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Line returns the request line of c.
func (c *Command) Line() string {
	if c.Args == "" {
		return c.Name
	}
	return c.Name + " " + c.Args
}

// String returns the request line of c with credentials redacted.
func (c *Command) String() string {
	if c.Name == "auth" || c.Name == "userauth" {
		return c.Name + " [redacted]"
	}
	return c.Line()
}

// Validate reports an error if c cannot be written on the wire.
func (c *Command) Validate() error {
	if c.Name == "" || strings.ContainsAny(c.Name, " \t\r\n") {
		return fmt.Errorf("invalid command name %q", c.Name)
	} else if strings.ContainsAny(c.Args, "\r\n") {
		return errors.New("command arguments contain a line break")
	}
	for _, h := range c.Headers {
		if h.Name == "" || strings.ContainsAny(h.Name, ":\r\n") {
			return fmt.Errorf("invalid header name %q", h.Name)
		} else if strings.ContainsAny(h.Value, "\r\n") {
			return fmt.Errorf("header %q value contains a line break", h.Name)
		}
	}
	if strings.ContainsAny(c.JobUUID, " \r\n") {
		return fmt.Errorf("invalid job identifier %q", c.JobUUID)
	}
	return nil
}

// WriteTo writes c in wire format to w. It implements io.WriterTo.
func (c *Command) WriteTo(w io.Writer) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	var buf bytes.Buffer
	buf.WriteString(c.Line())
	buf.WriteByte('\n')
	for _, h := range c.Headers {
		fmt.Fprintf(&buf, "%s: %s\n", h.Name, h.Value)
	}
	if c.JobUUID != "" {
		fmt.Fprintf(&buf, "Job-UUID: %s\n", c.JobUUID)
	}
	if len(c.Body) != 0 {
		fmt.Fprintf(&buf, "Content-Length: %d\n", len(c.Body))
	}
	buf.WriteByte('\n')
	buf.Write(c.Body)
	return buf.WriteTo(w)
}

// ReadFrom reads a single command from r into c, replacing its contents. It
// implements io.ReaderFrom. If r is not a *bufio.Reader, data buffered past
// the end of the command is lost.
//
// This is the inverse of WriteTo, for use by the side of a connection that
// receives commands.
func (c *Command) ReadFrom(r io.Reader) (int64, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	*c = Command{}
	var nr int64
	var clen int
	for {
		line, err := br.ReadString('\n')
		nr += int64(len(line))
		if err == io.EOF {
			if c.Name == "" && strings.TrimSpace(line) == "" {
				return nr, io.EOF
			}
			return nr, &FrameError{Msg: "command not terminated", Err: io.ErrUnexpectedEOF}
		} else if err != nil {
			return nr, err
		}
		line = strings.TrimRight(line, "\r\n")
		if c.Name == "" {
			if line == "" {
				continue
			}
			c.Name, c.Args, _ = strings.Cut(line, " ")
			continue
		} else if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nr, &FrameError{Msg: fmt.Sprintf("malformed header line %q", line)}
		}
		name, value = strings.TrimSpace(name), strings.TrimLeft(value, " \t")
		switch {
		case strings.EqualFold(name, "Content-Length"):
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return nr, &FrameError{Msg: fmt.Sprintf("invalid content length %q", value)}
			}
			clen = n
		case strings.EqualFold(name, "Job-UUID"):
			c.JobUUID = value
		default:
			c.Headers = append(c.Headers, Header{Name: name, Value: value})
		}
	}
	if clen > 0 {
		c.Body = make([]byte, clen)
		nb, err := io.ReadFull(br, c.Body)
		nr += int64(nb)
		if err != nil {
			return nr, &FrameError{Msg: fmt.Sprintf("body truncated at %d of %d bytes", nb, clen), Err: io.ErrUnexpectedEOF}
		}
	}
	return nr, nil
}
