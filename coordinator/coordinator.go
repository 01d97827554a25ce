// Package coordinator serializes "check for updates" runs. At most one run
// is in flight; requests arriving meanwhile are merged into a single
// pending follow-up that starts as soon as the current run finishes.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Request describes one refresh.
type Request struct {
	ServerPath   string
	Targets      []string // project ids; empty means every installed mod
	ForceRefresh bool
	Source       string // who asked, e.g. "cli", "schedule", "signal"
}

// merge folds next into r. Force is sticky, everything else is taken from next.
func (r Request) merge(next Request) Request {
	next.ForceRefresh = r.ForceRefresh || next.ForceRefresh
	return next
}

// RunFunc performs one refresh.
type RunFunc func(ctx context.Context, req Request) error

// State of the coordinator.
type State int

const (
	Idle State = iota
	Running
	RunningWithPending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case RunningWithPending:
		return "running_with_pending"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome is the acknowledgement returned by Trigger.
type Outcome int

const (
	Started Outcome = iota
	Enqueued
)

func (o Outcome) String() string {
	if o == Started {
		return "started"
	}
	return "enqueued"
}

// Stats counts what the coordinator has done so far.
type Stats struct {
	Triggers  int
	Runs      int
	Coalesced int
	Failures  int
}

// RunResult is passed to the OnComplete hook after every run.
type RunResult struct {
	Request Request
	Err     error
}

// Coordinator is the single-flight controller.
type Coordinator struct {
	run RunFunc
	log *zap.SugaredLogger
	ctx context.Context

	// OnComplete, when set before the first Trigger, is called after each run.
	OnComplete func(RunResult)

	mu      sync.Mutex
	state   State
	pending Request
	stats   Stats
	idle    chan struct{} // closed while Idle
}

// New returns an idle Coordinator. Runs receive ctx; cancelling it stops
// the loop from starting further pending runs.
func New(ctx context.Context, run RunFunc, log *zap.SugaredLogger) *Coordinator {
	idle := make(chan struct{})
	close(idle)
	return &Coordinator{run: run, log: log.Named("coordinator"), ctx: ctx, idle: idle}
}

// Trigger requests a refresh. It never blocks on the run itself.
func (c *Coordinator) Trigger(req Request) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Triggers++
	switch c.state {
	case Idle:
		c.state = Running
		c.idle = make(chan struct{})
		go c.loop(req)
		c.log.Debugw("Check started", zap.String("source", req.Source), zap.Bool("force", req.ForceRefresh))
		return Started
	case Running:
		c.pending = req
		c.state = RunningWithPending
	case RunningWithPending:
		c.pending = c.pending.merge(req)
		c.stats.Coalesced++
	}
	c.log.Debugw("Check enqueued", zap.String("source", req.Source), zap.Bool("force", c.pending.ForceRefresh))
	return Enqueued
}

func (c *Coordinator) loop(req Request) {
	for {
		err := c.safeRun(req)
		if c.OnComplete != nil {
			c.OnComplete(RunResult{Request: req, Err: err})
		}

		next, ok := c.advance(err)
		if !ok {
			return
		}
		req = next
	}
}

// advance is the single transition taken at the end of a run.
func (c *Coordinator) advance(runErr error) (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Runs++
	if runErr != nil {
		c.stats.Failures++
	}
	if c.state == RunningWithPending && c.ctx.Err() == nil {
		next := c.pending
		c.pending = Request{}
		c.state = Running
		return next, true
	}
	if c.state == RunningWithPending {
		c.log.Warnw("Dropping pending check after shutdown", zap.Bool("force", c.pending.ForceRefresh))
	}
	c.pending = Request{}
	c.state = Idle
	close(c.idle)
	return Request{}, false
}

func (c *Coordinator) safeRun(req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
			c.log.Errorw("Check panicked", zap.Any("panic", r))
		}
	}()
	if err = c.run(c.ctx, req); err != nil {
		c.log.Errorw("Check failed", zap.String("source", req.Source), zap.Error(err))
	}
	return err
}

// Wait blocks until the coordinator is idle or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State reports the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the merged pending request, if any.
func (c *Coordinator) Pending() (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending, c.state == RunningWithPending
}

// Stats returns a snapshot of the counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
