// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package esl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// A Header is a single name/value pair from a header block.
type Header struct {
	Name  string
	Value string
}

// An Event is a single frame received from the remote peer: a block of headers
// in arrival order followed by an optional body.
//
// A header name may occur more than once, in which case Values reports all of
// its values in the order they arrived. Header values are percent-decoded.
//
// An Event must not be modified once it has been delivered. The methods of
// an Event are safe for concurrent use by multiple goroutines.
type Event struct {
	hdr  []Header
	raw  []string // original encoded values, parallel to hdr; may be nil
	body []byte
}

// NewEvent constructs an event from alternating header names and values.
// It panics if kv has odd length.
func NewEvent(kv ...string) *Event {
	if len(kv)%2 != 0 {
		panic("odd-length header list")
	}
	e := &Event{hdr: make([]Header, 0, len(kv)/2)}
	for i := 0; i < len(kv); i += 2 {
		e.hdr = append(e.hdr, Header{Name: kv[i], Value: kv[i+1]})
	}
	return e
}

// WithBody returns a copy of e having the specified body. The copy carries a
// Content-Length header matching the body.
func (e *Event) WithBody(body []byte) *Event {
	cp := &Event{hdr: make([]Header, 0, len(e.hdr)+1), body: bytes.Clone(body)}
	seen := false
	for _, h := range e.hdr {
		if strings.EqualFold(h.Name, "Content-Length") {
			if seen {
				continue
			}
			seen = true
			h.Value = strconv.Itoa(len(body))
		}
		cp.hdr = append(cp.hdr, h)
	}
	if !seen && len(body) != 0 {
		cp.hdr = append(cp.hdr, Header{Name: "Content-Length", Value: strconv.Itoa(len(body))})
	}
	return cp
}

// Get returns the first value of the named header, or "" if it is absent.
// Names are matched exactly, falling back to a case-insensitive match.
func (e *Event) Get(name string) string {
	if e == nil {
		return ""
	}
	for _, h := range e.hdr {
		if h.Name == name {
			return h.Value
		}
	}
	for _, h := range e.hdr {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Has reports whether e has at least one header with the given name.
func (e *Event) Has(name string) bool { return len(e.Values(name)) != 0 }

// Values returns all the values of the named header, in arrival order.
func (e *Event) Values(name string) []string {
	if e == nil {
		return nil
	}
	var out []string
	for _, h := range e.hdr {
		if h.Name == name {
			out = append(out, h.Value)
		}
	}
	if out == nil {
		for _, h := range e.hdr {
			if strings.EqualFold(h.Name, name) {
				out = append(out, h.Value)
			}
		}
	}
	return out
}

// Headers returns an iterator over the headers of e in arrival order.
func (e *Event) Headers() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		if e == nil {
			return
		}
		for _, h := range e.hdr {
			if !yield(h.Name, h.Value) {
				return
			}
		}
	}
}

// Len reports the number of header lines in e.
func (e *Event) Len() int { return len(e.hdr) }

// Body returns the body of e, or nil if it has none. The caller must not
// modify the contents of the slice.
func (e *Event) Body() []byte { return e.body }

// ContentType returns the Content-Type header of e.
func (e *Event) ContentType() string { return e.Get("Content-Type") }

// Name returns the event name used for routing. This is the Event-Name header,
// except that for CUSTOM events it is the Event-Subclass if one is present.
func (e *Event) Name() string {
	name := e.Get("Event-Name")
	if name == "CUSTOM" {
		if sub := e.Get("Event-Subclass"); sub != "" {
			return sub
		}
	}
	return name
}

// UUID returns the Unique-ID header of e.
func (e *Event) UUID() string { return e.Get("Unique-ID") }

// Reply returns the reply text carried by e. For an api/response frame, and
// for a background job completion, this is the body; otherwise it is the
// Reply-Text header.
func (e *Event) Reply() string {
	if e.ContentType() == "api/response" || e.Name() == "BACKGROUND_JOB" {
		return strings.TrimSpace(string(e.body))
	}
	return e.Get("Reply-Text")
}

// IsError reports whether the reply carried by e reports a failure.
func (e *Event) IsError() bool { return strings.HasPrefix(e.Reply(), "-ERR") }

// String returns a compact human-readable rendering of e.
func (e *Event) String() string {
	if e == nil {
		return "Event(nil)"
	}
	var parts []string
	if ct := e.ContentType(); ct != "" {
		parts = append(parts, ct)
	}
	if name := e.Name(); name != "" {
		parts = append(parts, name)
	}
	if id := e.UUID(); id != "" {
		parts = append(parts, "uuid="+id)
	}
	parts = append(parts, fmt.Sprintf("headers=%d body=%d", len(e.hdr), len(e.body)))
	return "Event(" + strings.Join(parts, " ") + ")"
}

// WriteTo writes e in wire format to w. It implements io.WriterTo.
//
// Headers are written in order. A Content-Length header, if present, is
// written with the length of the body; if the body is not empty and there is
// no such header, one is added after the others.
func (e *Event) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	useRaw := len(e.raw) == len(e.hdr)
	hasLen := false
	for i, h := range e.hdr {
		v := h.Value
		if strings.EqualFold(h.Name, "Content-Length") {
			if hasLen {
				continue
			}
			hasLen = true
			v = strconv.Itoa(len(e.body))
		} else if useRaw && unescape(e.raw[i]) == v {
			v = e.raw[i]
		} else {
			v = escape(v)
		}
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(v)
		buf.WriteByte('\n')
	}
	if !hasLen && len(e.body) != 0 {
		fmt.Fprintf(&buf, "Content-Length: %d\n", len(e.body))
	}
	buf.WriteByte('\n')
	buf.Write(e.body)
	return buf.WriteTo(w)
}

// ReadFrom reads a single frame from r into e, replacing its contents. It
// implements io.ReaderFrom. If r is not a *bufio.Reader, data buffered past
// the end of the frame is lost.
//
// At the end of the stream before any header, ReadFrom reports io.EOF. Any
// other malformed or truncated input is reported as a *FrameError.
func (e *Event) ReadFrom(r io.Reader) (int64, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	*e = Event{}
	var nr int64
	for {
		line, err := br.ReadString('\n')
		nr += int64(len(line))
		if err == io.EOF {
			if len(e.hdr) == 0 && strings.TrimSpace(line) == "" {
				return nr, io.EOF
			}
			return nr, &FrameError{Msg: "header block not terminated", Err: io.ErrUnexpectedEOF}
		} else if err != nil {
			return nr, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(e.hdr) == 0 {
				continue // skip blank lines between frames
			}
			break
		}
		if err := e.addLine(line); err != nil {
			return nr, err
		}
	}
	n, err := e.contentLength()
	if err != nil || n == 0 {
		return nr, err
	}
	e.body = make([]byte, n)
	nb, err := io.ReadFull(br, e.body)
	nr += int64(nb)
	if err != nil {
		return nr, &FrameError{Msg: fmt.Sprintf("body truncated at %d of %d bytes", nb, n), Err: io.ErrUnexpectedEOF}
	}
	return nr, nil
}

func (e *Event) addLine(line string) error {
	name, value, ok := strings.Cut(line, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return &FrameError{Msg: fmt.Sprintf("malformed header line %q", line)}
	}
	raw := strings.TrimLeft(value, " \t")
	e.hdr = append(e.hdr, Header{Name: strings.TrimSpace(name), Value: unescape(raw)})
	e.raw = append(e.raw, raw)
	return nil
}

func (e *Event) contentLength() (int, error) {
	s := e.Get("Content-Length")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, &FrameError{Msg: fmt.Sprintf("invalid content length %q", s)}
	}
	return n, nil
}

// parseEventPlain decodes the body of a text/event-plain frame, which is
// itself a header block possibly followed by a body. Unlike ReadFrom, the
// trailing blank line of the inner block may be omitted.
func parseEventPlain(data []byte) (*Event, error) {
	e := new(Event)
	rest := data
	for len(rest) != 0 {
		line, tail, _ := bytes.Cut(rest, []byte("\n"))
		rest = tail
		s := strings.TrimRight(string(line), "\r")
		if s == "" {
			if len(e.hdr) == 0 {
				continue
			}
			break
		}
		if err := e.addLine(s); err != nil {
			return nil, err
		}
	}
	n, err := e.contentLength()
	if err != nil {
		return nil, err
	} else if n > len(rest) {
		return nil, &FrameError{Msg: fmt.Sprintf("event body truncated at %d of %d bytes", len(rest), n)}
	} else if n > 0 {
		e.body = rest[:n]
	}
	return e, nil
}

// parseEventJSON decodes the body of a text/event-json frame. Array values
// become repeated headers; the special _body key becomes the body.
func parseEventJSON(data []byte) (*Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, &FrameError{Msg: "invalid event JSON", Err: err}
	}
	// Object keys are unordered; report Event-Name first, then the rest in
	// lexicographic order.
	e := new(Event)
	add := func(k string, v any) {
		switch t := v.(type) {
		case []any:
			for _, elt := range t {
				e.hdr = append(e.hdr, Header{Name: k, Value: fmt.Sprint(elt)})
			}
		default:
			e.hdr = append(e.hdr, Header{Name: k, Value: fmt.Sprint(t)})
		}
	}
	if v, ok := obj["Event-Name"]; ok {
		add("Event-Name", v)
	}
	for _, k := range slices.Sorted(maps.Keys(obj)) {
		v := obj[k]
		switch k {
		case "Event-Name":
		case "_body":
			e.body = []byte(fmt.Sprint(v))
		default:
			add(k, v)
		}
	}
	return e, nil
}

// unescape percent-decodes s. Malformed escapes leave s unchanged.
func unescape(s string) string {
	if strings.IndexByte(s, '%') < 0 {
		return s
	}
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}

// unsafeBytes are the bytes the server percent-encodes in header values.
const unsafeBytes = "\r\n #%&+:;<=>?@[\\]^`{|}\""

// escape percent-encodes the unsafe bytes of s, along with control and
// non-ASCII bytes.
func escape(s string) string {
	need := func(c byte) bool {
		return c < 0x20 || c >= 0x7f || strings.IndexByte(unsafeBytes, c) >= 0
	}
	i := 0
	for i < len(s) && !need(s[i]) {
		i++
	}
	if i == len(s) {
		return s
	}
	var sb strings.Builder
	sb.WriteString(s[:i])
	for ; i < len(s); i++ {
		if c := s[i]; need(c) {
			fmt.Fprintf(&sb, "%%%02X", c)
		} else {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
