// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package esl

import (
	"strconv"
	"strings"
)

// A State is a stage in the lifecycle of a channel. States are totally
// ordered, and a channel's state never decreases.
type State int

// The lifecycle states of a channel, in order.
const (
	StateNew State = iota
	StateInit
	StateRouting
	StateExecute
	StateExchangeMedia
	StatePark
	StateHangup
	StateDestroy
)

var stateNames = [...]string{
	StateNew:           "NEW",
	StateInit:          "INIT",
	StateRouting:       "ROUTING",
	StateExecute:       "EXECUTE",
	StateExchangeMedia: "EXCHANGE_MEDIA",
	StatePark:          "PARK",
	StateHangup:        "HANGUP",
	StateDestroy:       "DESTROY",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// IsValid reports whether s is one of the defined states.
func (s State) IsValid() bool { return s >= StateNew && s <= StateDestroy }

// ParseState parses the name of a state, with or without the "CS_" prefix
// used by the peer, without regard to case.
func ParseState(s string) (State, bool) {
	name := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "CS_")
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return 0, false
}

// peerStates maps the peer's core state numbers to lifecycle states.
// Intermediate states the lifecycle does not model map to -1.
var peerStates = [...]State{
	0:  StateNew,
	1:  StateInit,
	2:  StateRouting,
	3:  -1, // CS_SOFT_EXECUTE
	4:  StateExecute,
	5:  StateExchangeMedia,
	6:  StatePark,
	7:  -1, // CS_CONSUME_MEDIA
	8:  -1, // CS_HIBERNATE
	9:  -1, // CS_RESET
	10: StateHangup,
	11: StateHangup, // CS_REPORTING
	12: StateDestroy,
}

var peerStateNames = map[string]int{
	"CS_NEW": 0, "CS_INIT": 1, "CS_ROUTING": 2, "CS_SOFT_EXECUTE": 3,
	"CS_EXECUTE": 4, "CS_EXCHANGE_MEDIA": 5, "CS_PARK": 6, "CS_CONSUME_MEDIA": 7,
	"CS_HIBERNATE": 8, "CS_RESET": 9, "CS_HANGUP": 10, "CS_REPORTING": 11,
	"CS_DESTROY": 12,
}

// stateOf reports the lifecycle state implied by ev, if any. The event name
// takes precedence over the state headers for hangup and destroy.
func stateOf(ev *Event) (State, bool) {
	switch name := ev.Get("Event-Name"); {
	case name == "CHANNEL_DESTROY":
		return StateDestroy, true
	case strings.HasPrefix(name, "CHANNEL_HANGUP"):
		return StateHangup, true
	}
	num := -1
	if v := ev.Get("Channel-State-Number"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			num = n
		}
	}
	if num < 0 {
		if n, ok := peerStateNames[strings.ToUpper(ev.Get("Channel-State"))]; ok {
			num = n
		}
	}
	if num < 0 || num >= len(peerStates) || peerStates[num] < 0 {
		return 0, false
	}
	return peerStates[num], true
}

// A CallState is the call-level state reported by the peer in the
// Channel-Call-State header. Unlike State it is not monotonic.
type CallState string

// Call states reported by the peer.
const (
	CallDown     CallState = "DOWN"
	CallDialing  CallState = "DIALING"
	CallRinging  CallState = "RINGING"
	CallEarly    CallState = "EARLY"
	CallActive   CallState = "ACTIVE"
	CallHeld     CallState = "HELD"
	CallRingWait CallState = "RING_WAIT"
	CallHangup   CallState = "HANGUP"
	CallUnheld   CallState = "UNHELD"
)

// parseCallState normalizes a Channel-Call-State header value.
func parseCallState(s string) (CallState, bool) {
	cs := CallState(strings.ToUpper(strings.TrimSpace(s)))
	switch cs {
	case "EARLY_MEDIA":
		return CallEarly, true
	case CallDown, CallDialing, CallRinging, CallEarly, CallActive,
		CallHeld, CallRingWait, CallHangup, CallUnheld:
		return cs, true
	}
	return "", false
}
