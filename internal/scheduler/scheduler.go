// Package scheduler turns a run's traffic configuration into a stream of
// Credits on the bus, per spec.md §4.3. Scheduler owns the
// IDLE → SCHEDULING → DRAINING → DONE (+FAILED) state machine; the three
// traffic modes (concurrency, rate, fixed-schedule) live in
// concurrency_mode.go, rate_mode.go, fixed_schedule_mode.go.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/aiperf-core/genaiperf/internal/bmerrors"
	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/clock"
	"github.com/aiperf-core/genaiperf/internal/config"
	"github.com/aiperf-core/genaiperf/internal/dataset"
	"github.com/aiperf-core/genaiperf/internal/logging"
	"github.com/aiperf-core/genaiperf/internal/model"
	"github.com/aiperf-core/genaiperf/internal/randseed"
	"github.com/aiperf-core/genaiperf/internal/telemetry"
)

// State is one of the scheduler's lifecycle states.
type State string

const (
	StateIdle       State = "IDLE"
	StateScheduling State = "SCHEDULING"
	StateDraining   State = "DRAINING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// Scheduler drives credit emission for one benchmark run.
type Scheduler struct {
	cfg      *config.Config
	provider *dataset.Provider
	root     *randseed.Root
	clk      clock.Clock
	log      *logging.Logger

	credits     *bus.Queue
	creditFreed <-chan bus.Message

	cancelRNG *rand.Rand

	mu            sync.Mutex
	state         State
	emitted       int64
	warmupSealed  int64
	profilingAnchorNs int64 // set once, when the first profiling credit is emitted
}

// New constructs a Scheduler bound to a run's configuration, its dataset
// provider, the run's deterministic seed root, and the outbound credit
// queue. creditFreed is the scheduler's subscription to the aggregator's
// "credit freed" topic (spec.md §4.6), used by ConcurrencyMode's gate.
func New(cfg *config.Config, provider *dataset.Provider, root *randseed.Root, clk clock.Clock, log *logging.Logger, credits *bus.Queue, creditFreed <-chan bus.Message) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		provider:    provider,
		root:        root,
		clk:         clk,
		log:         log.Service("scheduler"),
		credits:     credits,
		creditFreed: creditFreed,
		cancelRNG:   root.Derive(randseed.IdentCancellation),
		state:       StateIdle,
	}
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// MarkDone transitions DRAINING → DONE, normally issued by the controller
// once the aggregator has confirmed every emitted credit sealed.
func (s *Scheduler) MarkDone() { s.setState(StateDone) }

// MarkFailed transitions to FAILED, e.g. on a fatal internal error
// detected elsewhere in the pipeline.
func (s *Scheduler) MarkFailed(err error) {
	s.log.Errorf("scheduler failed: %v", err)
	s.setState(StateFailed)
}

// Run drives credit emission until a termination condition is reached or
// ctx is cancelled, then transitions to DRAINING and returns. It never
// blocks past ctx cancellation: every internal wait races against
// ctx.Done().
func (s *Scheduler) Run(ctx context.Context) error {
	s.setState(StateScheduling)

	var err error
	switch s.cfg.TrafficMode {
	case config.TrafficConcurrency:
		err = s.runConcurrencyMode(ctx)
	case config.TrafficRate:
		err = s.runRateMode(ctx)
	case config.TrafficFixedSchedule:
		err = s.runFixedScheduleMode(ctx)
	default:
		err = &bmerrors.ConfigError{Field: "TrafficMode", Message: fmt.Sprintf("unknown traffic mode %q", s.cfg.TrafficMode)}
	}

	s.setState(StateDraining)
	return err
}

// shouldStop reports whether the run's termination condition (request
// count or duration) has been reached. Fixed-schedule mode has its own
// exhaustion check in fixed_schedule_mode.go.
func (s *Scheduler) shouldStop(profilingElapsedNs int64) bool {
	emitted := atomic.LoadInt64(&s.emitted)
	if s.cfg.RequestCount > 0 {
		total := int64(s.cfg.RequestCount) + int64(s.cfg.WarmupRequestCount)
		if emitted >= total {
			return true
		}
	}
	if s.cfg.BenchmarkDurationSec > 0 && profilingElapsedNs > 0 {
		limitNs := int64(s.cfg.BenchmarkDurationSec * 1e9)
		if profilingElapsedNs >= limitNs {
			return true
		}
	}
	return false
}

// phaseFor tags a newly emitted credit's phase based on how many credits
// have been emitted so far, per spec.md §4.3 "the first N credits are
// tagged phase=warmup".
func (s *Scheduler) phaseFor(emittedIndex int64) model.Phase {
	if emittedIndex < int64(s.cfg.WarmupRequestCount) {
		return model.PhaseWarmup
	}
	return model.PhaseProfiling
}

// sampleConversation draws the next conversation for concurrency/rate
// modes. The CLI surface (spec.md §6) exposes no sampling-strategy flag,
// so RANDOM is used uniformly — fixed-schedule mode bypasses Sample
// entirely and replays the dataset in timestamp_ms order (fixed_schedule_mode.go).
func (s *Scheduler) sampleConversation() (model.Conversation, error) {
	return s.provider.Sample(model.SampleRandom)
}

// buildCredit assembles one Credit for conv, applying warmup tagging and
// cancellation injection.
func (s *Scheduler) buildCredit(conv model.Conversation, emittedIndex int64, scheduledNs int64) model.Credit {
	phase := s.phaseFor(emittedIndex)
	c := model.Credit{
		CreditID:       uuid.New().String(),
		ConversationID: conv.ID,
		TurnIndex:      0,
		Phase:          phase,
		ScheduledNs:    scheduledNs,
		IssuedNs:       s.clk.NowNs(),
	}
	if s.cfg.RequestCancellationRate > 0 {
		draw := s.cancelRNG.Float64() * 100
		if draw < s.cfg.RequestCancellationRate {
			delayNs := int64(s.cfg.RequestCancellationDelaySec * 1e9)
			c.CancelAfterNs = &delayNs
		}
	}
	return c
}

// emit pushes cred onto the outbound queue, blocking on back-pressure or
// ctx cancellation, and records emission/anchor bookkeeping.
func (s *Scheduler) emit(ctx context.Context, cred model.Credit) error {
	if err := s.credits.Push(ctx, bus.Message{Kind: bus.KindCredit, Payload: cred}); err != nil {
		return err
	}
	telemetry.RecordCreditIssued(string(cred.Phase))
	idx := atomic.AddInt64(&s.emitted, 1) - 1
	if cred.Phase == model.PhaseProfiling {
		s.mu.Lock()
		if s.profilingAnchorNs == 0 {
			s.profilingAnchorNs = cred.IssuedNs
		}
		s.mu.Unlock()
	}
	s.log.Debugf("emitted credit %s for conversation %s (index %d, phase %s)", cred.CreditID, cred.ConversationID, idx, cred.Phase)
	return nil
}

// profilingElapsedNs reports how long profiling has been running, 0 if
// no profiling credit has been emitted yet.
func (s *Scheduler) profilingElapsedNs() int64 {
	s.mu.Lock()
	anchor := s.profilingAnchorNs
	s.mu.Unlock()
	if anchor == 0 {
		return 0
	}
	return s.clk.NowNs() - anchor
}

// ProfilingAnchorNs reports the IssuedNs of the first profiling credit
// emitted so far, or 0 if none has been emitted yet. The controller polls
// this to know when to reset the aggregator's duration anchor on the
// WARMUP→PROFILING transition (spec.md §4.7).
func (s *Scheduler) ProfilingAnchorNs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profilingAnchorNs
}

// Emitted reports the number of credits emitted so far, for progress
// reporting.
func (s *Scheduler) Emitted() int64 { return atomic.LoadInt64(&s.emitted) }

// Init/Start/Stop/Cleanup make *Scheduler itself satisfy service.Service,
// so it registers directly on the Runner without a separate adapter type.
func (s *Scheduler) Init(ctx context.Context) error  { return nil }
func (s *Scheduler) Start(ctx context.Context) error { return s.Run(ctx) }
func (s *Scheduler) Stop(ctx context.Context) error  { return nil }
func (s *Scheduler) Cleanup() error                  { return nil }
