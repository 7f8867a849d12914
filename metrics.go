// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package esl

import "expvar"

// connMetrics record connection activity counters.
type connMetrics struct {
	eventRecv     expvar.Int // frames received
	eventDropped  expvar.Int // frames received with no taker
	eventDispatch expvar.Int // events offered to subscribers
	cmdSent       expvar.Int
	cmdFailed     expvar.Int // commands resolved with an error
	replyPending  expvar.Int // direct replies outstanding
	jobPending    expvar.Int // background jobs outstanding
	subscribers   expvar.Int
	channels      expvar.Int // channels tracked by the connection

	emap *expvar.Map
}

func newConnMetrics() *connMetrics {
	cm := &connMetrics{emap: new(expvar.Map)}
	cm.emap.Set("frames_received", &cm.eventRecv)
	cm.emap.Set("frames_dropped", &cm.eventDropped)
	cm.emap.Set("events_dispatched", &cm.eventDispatch)
	cm.emap.Set("commands_sent", &cm.cmdSent)
	cm.emap.Set("commands_failed", &cm.cmdFailed)
	cm.emap.Set("replies_pending", &cm.replyPending)
	cm.emap.Set("jobs_pending", &cm.jobPending)
	cm.emap.Set("subscribers", &cm.subscribers)
	cm.emap.Set("channels", &cm.channels)
	return cm
}
