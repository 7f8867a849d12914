// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package observe provides implementations of the esl.Observer interface
// that export connection activity to metrics, traces, or logs.
//
// Combine them with esl.Observers:
//
//	obs := esl.Observers(observe.NewMetrics(reg), observe.NewTracing(tp), observe.NewLog(log))
package observe

import (
	"cmp"
	"strings"
	"time"

	"github.com/creachadair/esl"
	"github.com/creachadair/esl/cause"
	"github.com/creachadair/mds/mapset"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is an esl.Observer that records Prometheus metrics.
type Metrics struct {
	events      *prometheus.CounterVec
	commands    *prometheus.CounterVec
	cmdLatency  *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	hangups     *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	ringLatency *prometheus.HistogramVec
}

// NewMetrics constructs a Metrics observer whose collectors are registered
// with reg. If reg == nil, the collectors are not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "esl_events_total",
			Help: "Total number of events dispatched to subscribers, by event name",
		}, []string{"event"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "esl_commands_total",
			Help: "Total number of commands resolved, by command and result",
		}, []string{"command", "result"}),
		cmdLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "esl_command_duration_seconds",
			Help:    "Time from sending a command until it is resolved",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"command"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "esl_channel_transitions_total",
			Help: "Total number of channel state transitions, by new state",
		}, []string{"state"}),
		hangups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "esl_channel_hangups_total",
			Help: "Total number of channels hung up, by hangup cause",
		}, []string{"cause"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "esl_ring_attempts_total",
			Help: "Total number of ring group attempts, by mode and outcome",
		}, []string{"mode", "outcome"}),
		ringLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "esl_ring_duration_seconds",
			Help:    "Duration of ring group attempts",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}, []string{"mode"}),
	}
}

// EventDispatched implements part of esl.Observer.
func (m *Metrics) EventDispatched(ev *esl.Event) {
	m.events.WithLabelValues(cmp.Or(ev.Name(), "unknown")).Inc()
}

// CommandSent implements part of esl.Observer.
func (*Metrics) CommandSent(*esl.Command) {}

// CommandDone implements part of esl.Observer.
func (m *Metrics) CommandDone(cmd *esl.Command, _ *esl.Event, err error, elapsed time.Duration) {
	name := commandLabel(cmd)
	m.commands.WithLabelValues(name, resultLabel(err)).Inc()
	m.cmdLatency.WithLabelValues(name).Observe(elapsed.Seconds())
}

// StateChanged implements part of esl.Observer.
func (m *Metrics) StateChanged(ch *esl.Channel, _, to esl.State) {
	m.transitions.WithLabelValues(to.String()).Inc()
	if to == esl.StateHangup {
		// Unknown causes share a label to bound cardinality.
		m.hangups.WithLabelValues(cmp.Or(cause.Standard.Canonical(ch.HangupCause()), "OTHER")).Inc()
	}
}

// AttemptDone implements part of esl.Observer.
func (m *Metrics) AttemptDone(a esl.Attempt) {
	m.attempts.WithLabelValues(a.Mode, outcome(a)).Inc()
	m.ringLatency.WithLabelValues(a.Mode).Observe(a.Elapsed.Seconds())
}

// commandLabel returns a bounded label for cmd: the command name, and for API
// commands the API verb. Names and verbs not known here share the label
// "other".
func commandLabel(cmd *esl.Command) string {
	switch cmd.Name {
	case "api", "bgapi":
		verb, _, _ := strings.Cut(cmd.Args, " ")
		return cmd.Name + " " + knownLabel(apiVerbs, verb)
	case "sendmsg":
		return cmd.Name + " " + knownLabel(callCommands, cmd.Get("call-command"))
	}
	return knownLabel(commandNames, cmd.Name)
}

func knownLabel(known mapset.Set[string], s string) string {
	if known.Has(s) {
		return s
	}
	return "other"
}

var (
	commandNames = mapset.New(
		"auth", "connect", "divert_events", "event", "exit", "filter", "linger",
		"log", "myevents", "nixevent", "noevents", "nolinger", "nolog", "resume",
		"sendevent",
	)
	apiVerbs = mapset.New(
		"break", "callcenter_config", "conference", "create_uuid", "eval",
		"fsctl", "global_getvar", "global_setvar", "hupall", "originate",
		"reloadxml", "sched_api", "show", "sofia", "status", "uptime",
		"uuid_answer", "uuid_break", "uuid_bridge", "uuid_broadcast",
		"uuid_dump", "uuid_exists", "uuid_getvar", "uuid_hold", "uuid_kill",
		"uuid_park", "uuid_record", "uuid_send_dtmf", "uuid_setvar",
		"uuid_transfer", "version",
	)
	callCommands = mapset.New("execute", "hangup", "nomedia", "unicast", "xferext")
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func outcome(a esl.Attempt) string {
	switch {
	case a.Err != nil:
		return "failed"
	case a.Winner != "":
		return "answered"
	default:
		return "no_answer"
	}
}
