// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package observe

import (
	"time"

	"github.com/creachadair/esl"
	"github.com/creachadair/esl/internal/logging"
	"github.com/rs/zerolog"
)

// Log is an esl.Observer that writes structured log entries. Wire traffic is
// logged at debug level, failures at warn level.
type Log struct {
	log zerolog.Logger
}

// NewLog constructs a Log observer writing to a child of base. If base is
// nil, nothing is logged.
func NewLog(base *zerolog.Logger) *Log {
	return &Log{log: logging.Component(base, "observe")}
}

// EventDispatched implements part of esl.Observer.
func (l *Log) EventDispatched(ev *esl.Event) {
	l.log.Debug().Str(logging.FieldEvent, ev.Name()).Str(logging.FieldUUID, ev.UUID()).Msg("event")
}

// CommandSent implements part of esl.Observer.
func (l *Log) CommandSent(cmd *esl.Command) {
	l.log.Debug().Str(logging.FieldCommand, cmd.String()).Msg("sent")
}

// CommandDone implements part of esl.Observer.
func (l *Log) CommandDone(cmd *esl.Command, rsp *esl.Event, err error, elapsed time.Duration) {
	if err != nil {
		l.log.Warn().Err(err).Str(logging.FieldCommand, cmd.String()).Dur("elapsed", elapsed).Msg("command failed")
		return
	}
	e := l.log.Debug().Str(logging.FieldCommand, cmd.String()).Dur("elapsed", elapsed)
	if rsp != nil {
		e = e.Str(logging.FieldReply, rsp.Reply())
	}
	e.Msg("command done")
}

// StateChanged implements part of esl.Observer.
func (l *Log) StateChanged(ch *esl.Channel, from, to esl.State) {
	e := l.log.Debug()
	if to == esl.StateHangup {
		e = l.log.Info().Str(logging.FieldCause, ch.HangupCause())
	}
	e.Str(logging.FieldUUID, ch.UUID()).
		Stringer(logging.FieldOldState, from).
		Stringer(logging.FieldNewState, to).
		Msg("state changed")
}

// AttemptDone implements part of esl.Observer.
func (l *Log) AttemptDone(a esl.Attempt) {
	e := l.log.Info()
	if a.Err != nil {
		e = l.log.Warn().Err(a.Err)
	}
	e.Str(logging.FieldMode, a.Mode).
		Strs("destinations", a.Destinations).
		Str(logging.FieldDest, a.Winner).
		Int("originated", a.Originated).
		Dur("elapsed", a.Elapsed).
		Msg("ring attempt done")
}
