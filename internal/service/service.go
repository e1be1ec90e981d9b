// Package service implements the lifecycle/hook substrate shared by every
// pipeline component, grounded on the example pack's session lifecycle
// manager (internal/service/lifecycle): a small Init/Start/Stop/Cleanup
// contract plus a Runner that sequences those hooks across every
// registered service and fans out a periodic heartbeat onto the bus so
// the controller can track liveness.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/clock"
	"github.com/aiperf-core/genaiperf/internal/logging"
)

// Service is the lifecycle contract every pipeline component implements
// (spec.md §4.8): Init prepares state without doing any work, Start runs
// until ctx is cancelled or the service fails on its own, Stop requests a
// graceful shutdown, and Cleanup releases anything Init acquired.
type Service interface {
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Cleanup() error
}

type registeredService struct {
	name string
	svc  Service
}

// Runner sequences Init→Start across every registered service, fans out
// heartbeats on the status topic, and propagates the first hard error
// into a shared cancellation so every other service's context is
// cancelled together.
type Runner struct {
	heartbeatInterval time.Duration
	clk               clock.Clock
	log               *logging.Logger
	status            *bus.Topic

	mu       sync.Mutex
	services []registeredService
}

// New constructs a Runner. status is the bus.Topic heartbeats and
// service-status transitions are published to (consumed by the
// controller's health monitor).
func New(heartbeatInterval time.Duration, clk clock.Clock, log *logging.Logger, status *bus.Topic) *Runner {
	return &Runner{heartbeatInterval: heartbeatInterval, clk: clk, log: log.Service("runner"), status: status}
}

// Register adds a named service to the run set. Order of registration is
// the order Init is attempted in; Start runs all services concurrently
// once every Init has succeeded.
func (r *Runner) Register(name string, svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = append(r.services, registeredService{name: name, svc: svc})
}

// HeartbeatPayload is published periodically per service so the
// controller's health monitor can detect missed beats.
type HeartbeatPayload struct {
	Service string
	AtNs    int64
}

// StatusPayload announces a service's state transition to the controller.
type StatusPayload struct {
	Service string
	State   string // "initialized" | "running" | "stopped" | "failed"
	Err     error
}

// Run initializes every registered service in order, then starts all of
// them concurrently. The first service to return a non-nil error from
// Start cancels the shared context for the rest; Run waits for every
// Start call to return before returning the first error seen (if any).
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	services := append([]registeredService(nil), r.services...)
	r.mu.Unlock()

	for _, rs := range services {
		if err := rs.svc.Init(ctx); err != nil {
			r.publishStatus(rs.name, "failed", err)
			return err
		}
		r.publishStatus(rs.name, "initialized", nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(services))

	for _, rs := range services {
		wg.Add(1)
		go r.runHeartbeat(runCtx, rs.name, &wg)
	}

	for _, rs := range services {
		wg.Add(1)
		go func(rs registeredService) {
			defer wg.Done()
			r.publishStatus(rs.name, "running", nil)
			err := rs.svc.Start(runCtx)
			switch {
			case err == nil:
				r.publishStatus(rs.name, "stopped", nil)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				// Cooperative shutdown: the shared context was cancelled
				// (either by us here or by the controller), not a failure
				// this service originated.
				r.publishStatus(rs.name, "stopped", nil)
			default:
				r.log.Errorf("service %s failed: %v", rs.name, err)
				r.publishStatus(rs.name, "failed", err)
				cancel()
			}
			errs <- err
		}(rs)
	}

	wg.Wait()
	close(errs)

	for _, rs := range services {
		if err := rs.svc.Cleanup(); err != nil {
			r.log.Warnf("service %s cleanup error: %v", rs.name, err)
		}
	}

	var firstErr error
	for err := range errs {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StopAll requests a graceful stop on every registered service, bounded
// by ctx (typically carrying the run's grace period).
func (r *Runner) StopAll(ctx context.Context) {
	r.mu.Lock()
	services := append([]registeredService(nil), r.services...)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, rs := range services {
		wg.Add(1)
		go func(rs registeredService) {
			defer wg.Done()
			if err := rs.svc.Stop(ctx); err != nil {
				r.log.Warnf("service %s stop error: %v", rs.name, err)
			}
		}(rs)
	}
	wg.Wait()
}

func (r *Runner) runHeartbeat(ctx context.Context, name string, wg *sync.WaitGroup) {
	defer wg.Done()
	if r.heartbeatInterval <= 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.clk.After(r.heartbeatInterval):
			r.status.Publish(bus.Message{Kind: bus.KindHeartbeat, Payload: HeartbeatPayload{Service: name, AtNs: r.clk.NowNs()}})
		}
	}
}

func (r *Runner) publishStatus(name, state string, err error) {
	if r.status == nil {
		return
	}
	r.status.Publish(bus.Message{Kind: bus.KindServiceStatus, Payload: StatusPayload{Service: name, State: state, Err: err}})
}
