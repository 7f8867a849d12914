// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package cause defines a mapping between the mnemonic names of hangup causes
// and their numeric codes. Codes below 128 are the ITU-T Q.850 cause values;
// larger codes are extensions used by the switch for conditions Q.850 does
// not describe.
//
// # Usage
//
// The Standard catalog knows the causes reported by the switch:
//
//	code, ok := cause.Standard.Lookup("USER_BUSY") // 17, true
//	name := cause.Standard.Name(19)                // "NO_ANSWER"
//
// To extend or replace the vocabulary, construct a catalog and add causes to
// it, or load one from its text encoding:
//
//	cat := cause.New().Set("MY_CAUSE", 900)
//
//	var loaded cause.Catalog
//	err := loaded.UnmarshalText(data)
//
// The text encoding is one cause per line, a decimal code followed by the
// name, separated by whitespace, in ascending order of code. Blank lines and
// lines beginning with "#" are ignored.
package cause

import (
	"bufio"
	"bytes"
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Names of commonly-used hangup causes.
const (
	NormalClearing    = "NORMAL_CLEARING"
	UserBusy          = "USER_BUSY"
	NoAnswer          = "NO_ANSWER"
	NoUserResponse    = "NO_USER_RESPONSE"
	CallRejected      = "CALL_REJECTED"
	OriginatorCancel  = "ORIGINATOR_CANCEL"
	LoseRace          = "LOSE_RACE"
	TemporaryFailure  = "NORMAL_TEMPORARY_FAILURE"
	ManagerRequest    = "MANAGER_REQUEST"
	AllottedTimeout   = "ALLOTTED_TIMEOUT"
	DestinationFailed = "DESTINATION_OUT_OF_ORDER"
)

// A Catalog is a bidirectional mapping between hangup cause names and codes.
//
// It is safe to copy a Catalog value; all copies share a reference to the
// same mapping. It is not safe to call Set while c is used concurrently by
// other goroutines without external synchronization.
type Catalog struct {
	codes map[string]int
	names map[int]string
}

// New creates a new empty catalog.
func New() Catalog {
	return Catalog{codes: make(map[string]int), names: make(map[int]string)}
}

// Set maps name to code in c, and returns c to allow chaining. If name was
// already mapped, the existing mapping is replaced. If several names share a
// code, Name reports the one set first.
func (c Catalog) Set(name string, code int) Catalog {
	if old, ok := c.codes[name]; ok && c.names[old] == name {
		delete(c.names, old)
	}
	c.codes[name] = code
	if _, ok := c.names[code]; !ok {
		c.names[code] = name
	}
	return c
}

// Lookup returns the code assigned to name, and reports whether it was found.
// Names are compared without regard to case.
func (c Catalog) Lookup(name string) (int, bool) {
	code, ok := c.codes[strings.ToUpper(name)]
	return code, ok
}

// Name returns the name assigned to code, or "" if there is none.
func (c Catalog) Name(code int) string { return c.names[code] }

// Canonical returns the catalog name for s, which may be a cause name in any
// case or a decimal code. It returns "" if s does not identify a cause in c.
func (c Catalog) Canonical(s string) string {
	if code, err := strconv.Atoi(s); err == nil {
		return c.Name(code)
	}
	if _, ok := c.Lookup(s); ok {
		return strings.ToUpper(s)
	}
	return ""
}

// Len reports the number of names in c.
func (c Catalog) Len() int { return len(c.codes) }

// Names returns the names in c in ascending order of code, with names sharing
// a code in lexicographic order.
func (c Catalog) Names() []string {
	names := slices.Collect(maps.Keys(c.codes))
	slices.SortFunc(names, func(a, b string) int {
		return cmp.Or(cmp.Compare(c.codes[a], c.codes[b]), cmp.Compare(a, b))
	})
	return names
}

// MarshalText encodes c in the text format described in the package doc.
func (c Catalog) MarshalText() ([]byte, error) {
	var buf bytes.Buffer
	for _, name := range c.Names() {
		fmt.Fprintf(&buf, "%d %s\n", c.codes[name], name)
	}
	return buf.Bytes(), nil
}

// UnmarshalText decodes data in the text format described in the package doc,
// replacing the contents of c.
func (c *Catalog) UnmarshalText(data []byte) error {
	if c.codes == nil {
		*c = New()
	} else {
		clear(c.codes)
		clear(c.names)
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for ln := 1; sc.Scan(); ln++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fs := strings.Fields(line)
		if len(fs) != 2 {
			return fmt.Errorf("line %d: want code and name, got %q", ln, line)
		}
		code, err := strconv.Atoi(fs[0])
		if err != nil || code < 0 {
			return fmt.Errorf("line %d: invalid code %q", ln, fs[0])
		}
		c.Set(strings.ToUpper(fs[1]), code)
	}
	return sc.Err()
}

// Standard is the catalog of hangup causes reported by the switch.
var Standard = New().
	Set("UNSPECIFIED", 0).
	Set("UNALLOCATED_NUMBER", 1).
	Set("NO_ROUTE_TRANSIT_NET", 2).
	Set("NO_ROUTE_DESTINATION", 3).
	Set("CHANNEL_UNACCEPTABLE", 6).
	Set("CALL_AWARDED_DELIVERED", 7).
	Set(NormalClearing, 16).
	Set(UserBusy, 17).
	Set(NoUserResponse, 18).
	Set(NoAnswer, 19).
	Set("SUBSCRIBER_ABSENT", 20).
	Set(CallRejected, 21).
	Set("NUMBER_CHANGED", 22).
	Set("REDIRECTION_TO_NEW_DESTINATION", 23).
	Set("EXCHANGE_ROUTING_ERROR", 25).
	Set(DestinationFailed, 27).
	Set("INVALID_NUMBER_FORMAT", 28).
	Set("FACILITY_REJECTED", 29).
	Set("RESPONSE_TO_STATUS_ENQUIRY", 30).
	Set("NORMAL_UNSPECIFIED", 31).
	Set("NORMAL_CIRCUIT_CONGESTION", 34).
	Set("NETWORK_OUT_OF_ORDER", 38).
	Set(TemporaryFailure, 41).
	Set("SWITCH_CONGESTION", 42).
	Set("ACCESS_INFO_DISCARDED", 43).
	Set("REQUESTED_CHAN_UNAVAIL", 44).
	Set("PRE_EMPTED", 45).
	Set("FACILITY_NOT_SUBSCRIBED", 50).
	Set("OUTGOING_CALL_BARRED", 52).
	Set("INCOMING_CALL_BARRED", 54).
	Set("BEARERCAPABILITY_NOTAUTH", 57).
	Set("BEARERCAPABILITY_NOTAVAIL", 58).
	Set("SERVICE_UNAVAILABLE", 63).
	Set("BEARERCAPABILITY_NOTIMPL", 65).
	Set("CHAN_NOT_IMPLEMENTED", 66).
	Set("FACILITY_NOT_IMPLEMENTED", 69).
	Set("SERVICE_NOT_IMPLEMENTED", 79).
	Set("INVALID_CALL_REFERENCE", 81).
	Set("INCOMPATIBLE_DESTINATION", 88).
	Set("INVALID_MSG_UNSPECIFIED", 95).
	Set("MANDATORY_IE_MISSING", 96).
	Set("MESSAGE_TYPE_NONEXIST", 97).
	Set("WRONG_MESSAGE", 98).
	Set("IE_NONEXIST", 99).
	Set("INVALID_IE_CONTENTS", 100).
	Set("WRONG_CALL_STATE", 101).
	Set("RECOVERY_ON_TIMER_EXPIRE", 102).
	Set("MANDATORY_IE_LENGTH_ERROR", 103).
	Set("PROTOCOL_ERROR", 111).
	Set("INTERWORKING", 127).
	Set(OriginatorCancel, 487).
	Set(LoseRace, 502).
	Set(ManagerRequest, 503).
	Set("BLIND_TRANSFER", 600).
	Set("ATTENDED_TRANSFER", 601).
	Set(AllottedTimeout, 602).
	Set("USER_CHALLENGE", 603).
	Set("MEDIA_TIMEOUT", 604).
	Set("PICKED_OFF", 605).
	Set("USER_NOT_REGISTERED", 606).
	Set("PROGRESS_TIMEOUT", 607).
	Set("GATEWAY_DOWN", 609).
	Set("CRASH", 700).
	Set("SYSTEM_SHUTDOWN", 701)

// IsNormal reports whether name is a cause that ends a call without
// indicating a failure.
func IsNormal(name string) bool {
	switch strings.ToUpper(name) {
	case NormalClearing, "NORMAL_UNSPECIFIED", OriginatorCancel, LoseRace, ManagerRequest,
		"BLIND_TRANSFER", "ATTENDED_TRANSFER", "PICKED_OFF":
		return true
	}
	return false
}
