// Package controller implements the run phase state machine spec.md
// §4.7 describes: it brings up every service through the service
// framework, advances INIT→READY→WARMUP→PROFILING→COOLDOWN/GRACE→
// FINALIZING→DONE (or ABORTED on a health failure), and is the only
// component that issues shutdown.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aiperf-core/genaiperf/internal/aggregator"
	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/clock"
	"github.com/aiperf-core/genaiperf/internal/logging"
	"github.com/aiperf-core/genaiperf/internal/scheduler"
	"github.com/aiperf-core/genaiperf/internal/service"
)

// RunPhase is one state of the controller's run-wide phase machine,
// distinct from model.Phase (which only tags warmup vs. profiling on an
// individual credit/record).
type RunPhase string

const (
	PhaseInit        RunPhase = "INIT"
	PhaseReady       RunPhase = "READY"
	PhaseWarmup      RunPhase = "WARMUP"
	PhaseProfiling   RunPhase = "PROFILING"
	PhaseCooldown    RunPhase = "COOLDOWN"
	PhaseFinalizing  RunPhase = "FINALIZING"
	PhaseDone        RunPhase = "DONE"
	PhaseAborted     RunPhase = "ABORTED"
)

// drainable is the subset of *bus.Queue the controller needs to decide
// whether in-flight work has drained during the grace period.
type drainable interface{ Len() int }

// Config tunes the controller's health monitoring and drain behavior.
type Config struct {
	HeartbeatInterval   time.Duration
	MaxMissedHeartbeats int
	GracePeriod         time.Duration
	PollInterval        time.Duration
}

// Controller orchestrates one benchmark run end to end.
type Controller struct {
	cfg       Config
	clk       clock.Clock
	log       *logging.Logger
	cmdBus    *bus.CommandBus
	status    <-chan bus.Message
	phaseTopic *bus.Topic

	scheduler  *scheduler.Scheduler
	aggregator *aggregator.Aggregator
	runner     *service.Runner
	drainQueues []drainable

	mu          sync.Mutex
	phase       RunPhase
	missed      map[string]int
	lastAbortErr error
}

// New constructs a Controller. status is the Runner's heartbeat/status
// topic subscription; phaseTopic is where phase transitions are
// broadcast for observability (internal/statusserver subscribes here).
func New(cfg Config, clk clock.Clock, log *logging.Logger, cmdBus *bus.CommandBus, status <-chan bus.Message, phaseTopic *bus.Topic, sched *scheduler.Scheduler, agg *aggregator.Aggregator, runner *service.Runner, drainQueues ...*bus.Queue) *Controller {
	dq := make([]drainable, 0, len(drainQueues))
	for _, q := range drainQueues {
		dq = append(dq, q)
	}
	return &Controller{
		cfg:         cfg,
		clk:         clk,
		log:         log.Service("controller"),
		cmdBus:      cmdBus,
		status:      status,
		phaseTopic:  phaseTopic,
		scheduler:   sched,
		aggregator:  agg,
		runner:      runner,
		drainQueues: dq,
		phase:       PhaseInit,
		missed:      make(map[string]int),
	}
}

// Phase reports the controller's current run phase.
func (c *Controller) Phase() RunPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) setPhase(p RunPhase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
	c.log.Infof("phase -> %s", p)
	if c.phaseTopic != nil {
		c.phaseTopic.Publish(bus.Message{Kind: bus.KindPhaseChange, Payload: p})
	}
}

// Run drives the whole state machine and returns the finalized result.
// On a health failure it still attempts Finalize so the aggregator
// "writes whatever is finalised" (spec.md §7), returning an error
// alongside the partial result.
func (c *Controller) Run(ctx context.Context) (aggregator.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.setPhase(PhaseInit)

	var healthWg sync.WaitGroup
	healthWg.Add(1)
	go c.monitorHealth(runCtx, cancel, &healthWg)

	_ = c.cmdBus.Broadcast(ctx, func() *bus.Command { return bus.NewCommand("configure", nil) })
	c.setPhase(PhaseReady)
	c.setPhase(PhaseWarmup)

	runnerDone := make(chan error, 1)
	go func() { runnerDone <- c.runner.Run(runCtx) }()

	c.waitForProfilingStart(runCtx)
	c.waitForDraining(runCtx)

	if c.Phase() != PhaseAborted {
		c.setPhase(PhaseCooldown)
		c.drainInFlight(runCtx)
		c.setPhase(PhaseFinalizing)
	}

	// Stop every service — including the aggregator's own consume loop —
	// before reading its state, so Finalize never races Run's seal calls.
	cancel()
	healthWg.Wait()
	<-runnerDone

	result, finalizeErr := c.aggregator.Finalize()

	if c.Phase() == PhaseAborted {
		err := c.lastAbortErr
		if err == nil {
			err = fmt.Errorf("controller: run aborted")
		}
		return result, err
	}
	c.setPhase(PhaseDone)
	return result, finalizeErr
}

// waitForProfilingStart polls the scheduler for its first profiling
// credit and, once seen, resets the aggregator's duration anchor and
// advances the phase (spec.md §4.7 "WARMUP→PROFILING ... aggregator
// resets duration anchor").
func (c *Controller) waitForProfilingStart(ctx context.Context) {
	ticker := c.pollTicker()
	defer ticker.Stop()
	for {
		if c.Phase() != PhaseWarmup {
			return
		}
		if anchor := c.scheduler.ProfilingAnchorNs(); anchor != 0 {
			c.aggregator.ResetProfilingAnchor(anchor)
			c.setPhase(PhaseProfiling)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// waitForDraining blocks until the scheduler reports DRAINING (its
// termination condition was reached) or ctx is cancelled.
func (c *Controller) waitForDraining(ctx context.Context) {
	ticker := c.pollTicker()
	defer ticker.Stop()
	for {
		if c.scheduler.State() == scheduler.StateDraining || c.Phase() == PhaseAborted {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drainInFlight waits for every outstanding queue to empty, up to the
// configured grace period, before finalisation (spec.md §4.7 "COOLDOWN→
// FINALIZING: in-flight drain (up to grace_period_seconds)").
func (c *Controller) drainInFlight(ctx context.Context) {
	deadline := c.clk.Now().Add(c.cfg.GracePeriod)
	ticker := c.pollTicker()
	defer ticker.Stop()
	for {
		if c.allQueuesEmpty() {
			return
		}
		if c.cfg.GracePeriod > 0 && c.clk.Now().After(deadline) {
			c.log.Warnf("grace period elapsed with requests still in flight")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Controller) allQueuesEmpty() bool {
	for _, q := range c.drainQueues {
		if q.Len() > 0 {
			return false
		}
	}
	return true
}

func (c *Controller) pollTicker() *time.Ticker {
	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return time.NewTicker(interval)
}

// monitorHealth consumes the runner's heartbeat/status topic, tracking
// missed beats per service. K consecutive misses or a FAILED report
// moves the controller to ABORTED (spec.md §4.7).
func (c *Controller) monitorHealth(ctx context.Context, abort context.CancelFunc, wg *sync.WaitGroup) {
	defer wg.Done()
	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = time.Second
	}
	seen := make(map[string]bool)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.status:
			if !ok {
				return
			}
			switch msg.Kind {
			case bus.KindHeartbeat:
				if hb, ok := msg.Payload.(service.HeartbeatPayload); ok {
					seen[hb.Service] = true
					c.missed[hb.Service] = 0
				}
			case bus.KindServiceStatus:
				if st, ok := msg.Payload.(service.StatusPayload); ok && st.State == "failed" {
					c.fail(abort, fmt.Errorf("service %s failed: %w", st.Service, st.Err))
					return
				}
			}
		case <-ticker.C:
			for name := range seen {
				c.missed[name]++
				if c.cfg.MaxMissedHeartbeats > 0 && c.missed[name] >= c.cfg.MaxMissedHeartbeats {
					c.fail(abort, fmt.Errorf("service %s missed %d consecutive heartbeats", name, c.missed[name]))
					return
				}
			}
		}
	}
}

func (c *Controller) fail(abort context.CancelFunc, err error) {
	c.mu.Lock()
	c.lastAbortErr = err
	c.phase = PhaseAborted
	c.mu.Unlock()
	c.log.Errorf("aborting run: %v", err)
	if c.phaseTopic != nil {
		c.phaseTopic.Publish(bus.Message{Kind: bus.KindPhaseChange, Payload: PhaseAborted})
	}
	abort()
}
