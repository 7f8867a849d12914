// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package esl

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/creachadair/esl/internal/logging"
	"github.com/google/uuid"
)

// A Job is a background command whose result is delivered asynchronously by a
// BACKGROUND_JOB event carrying its job identifier.
type Job struct {
	c     *Conn
	cmd   *Command
	start time.Time

	once  sync.Once
	ready chan struct{}
	rsp   *Event
	err   error
}

// ID returns the job identifier of j.
func (j *Job) ID() string { return j.cmd.JobUUID }

// Command returns the command that started j.
func (j *Job) Command() *Command { return j.cmd }

// Done returns a channel that is closed when j is resolved.
func (j *Job) Done() <-chan struct{} { return j.ready }

// Wait blocks until j completes or ctx ends. On completion it returns the
// BACKGROUND_JOB event; if the result body reports an error, Wait also returns
// a *CommandError. If ctx ends first, j is abandoned as if by Cancel and Wait
// reports the error of ctx; a result arriving later is discarded.
func (j *Job) Wait(ctx context.Context) (*Event, error) {
	select {
	case <-j.ready:
		return j.rsp, j.err
	case <-ctx.Done():
		j.abandon(waitError("bgapi "+j.cmd.Args, ctx.Err()))
		<-j.ready
		return j.rsp, j.err
	}
}

// Result returns the result text of the completed job, after Wait succeeds.
func (j *Job) Result() string {
	select {
	case <-j.ready:
		if j.rsp != nil {
			return j.rsp.Reply()
		}
	default:
	}
	return ""
}

// Cancel abandons j. Any waiter is released with context.Canceled, and the
// result, if it later arrives, is discarded.
func (j *Job) Cancel() { j.abandon(context.Canceled) }

// abandon removes j from the job table and resolves it with err, unless it
// has already been resolved.
func (j *Job) abandon(err error) {
	j.c.μ.Lock()
	if j.c.jobs[j.ID()] == j {
		delete(j.c.jobs, j.ID())
	}
	j.c.μ.Unlock()
	j.resolve(nil, err)
}

// resolve completes j exactly once.
func (j *Job) resolve(rsp *Event, err error) {
	j.once.Do(func() {
		j.rsp, j.err = rsp, err
		close(j.ready)
		j.c.metrics.jobPending.Add(-1)
		j.c.commandDone(j.cmd, rsp, err, j.start)
	})
}

// Submit sends a background API command and registers a job to receive its
// result. It returns as soon as the peer acknowledges the command. If cmd
// has no job identifier, a fresh one is assigned.
//
// The job is registered before the command is sent, so a result that arrives
// ahead of the acknowledgement is not lost.
func (c *Conn) Submit(ctx context.Context, cmd *Command) (*Job, error) {
	if cmd.JobUUID == "" {
		cmd.JobUUID = uuid.NewString()
	}
	j := &Job{c: c, cmd: cmd, start: time.Now(), ready: make(chan struct{})}

	c.μ.Lock()
	if c.exited {
		c.μ.Unlock()
		return nil, closedError(c.err)
	}
	c.jobs[cmd.JobUUID] = j
	c.μ.Unlock()
	c.metrics.jobPending.Add(1)

	rsp, sent, err := c.exchange(ctx, cmd)
	if err == nil {
		// The acknowledgement may carry a job identifier of the peer's choosing.
		if id := ackJobUUID(rsp); id != "" && id != cmd.JobUUID {
			c.μ.Lock()
			if c.jobs[cmd.JobUUID] == j {
				delete(c.jobs, cmd.JobUUID)
				cmd.JobUUID = id
				c.jobs[id] = j
			}
			c.μ.Unlock()
		}
		return j, nil
	}
	c.μ.Lock()
	if c.jobs[cmd.JobUUID] == j {
		delete(c.jobs, cmd.JobUUID)
	}
	c.μ.Unlock()
	if sent {
		j.resolve(rsp, err)
	} else {
		j.once.Do(func() { close(j.ready); c.metrics.jobPending.Add(-1) })
	}
	return nil, err
}

// BGAPI submits the API command as a background job.
func (c *Conn) BGAPI(ctx context.Context, command string) (*Job, error) {
	return c.Submit(ctx, NewCommand("bgapi", command))
}

// completeJob resolves the job named by a BACKGROUND_JOB event, if any.
func (c *Conn) completeJob(ev *Event) {
	id := ev.Get("Job-UUID")
	c.μ.Lock()
	j := c.jobs[id]
	delete(c.jobs, id)
	c.μ.Unlock()
	if j == nil {
		c.log.Debug().Str(logging.FieldJobUUID, id).Msg("result for unknown job")
		return
	}
	var err error
	if ev.IsError() {
		err = &CommandError{Command: j.cmd.String(), Reply: strings.TrimSpace(ev.Reply())}
	}
	j.resolve(ev, err)
}

// ackJobUUID extracts the job identifier from a bgapi acknowledgement.
func ackJobUUID(rsp *Event) string {
	if id := rsp.Get("Job-UUID"); id != "" {
		return id
	}
	if rest, ok := strings.CutPrefix(rsp.Reply(), "+OK Job-UUID:"); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}
