package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aiperf-core/genaiperf/internal/aggregator"
	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/clock"
	"github.com/aiperf-core/genaiperf/internal/config"
	"github.com/aiperf-core/genaiperf/internal/dataset"
	"github.com/aiperf-core/genaiperf/internal/logging"
	"github.com/aiperf-core/genaiperf/internal/metrics"
	"github.com/aiperf-core/genaiperf/internal/model"
	"github.com/aiperf-core/genaiperf/internal/randseed"
	"github.com/aiperf-core/genaiperf/internal/scheduler"
	"github.com/aiperf-core/genaiperf/internal/service"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error"})
}

func convsWithIDs(n int) []model.Conversation {
	convs := make([]model.Conversation, n)
	for i := range convs {
		convs[i] = model.Conversation{ID: string(rune('a' + i)), Turns: []model.Turn{{Role: "user", Text: "hi"}}}
	}
	return convs
}

// feederService drains the credits queue and pushes a corresponding
// sealed metric record into the aggregator's inbound queue, standing in
// for the worker pool + record processor pool in this test.
type feederService struct {
	credits *bus.Queue
	metricsQ *bus.Queue
}

func (f *feederService) Init(ctx context.Context) error { return nil }
func (f *feederService) Start(ctx context.Context) error {
	for {
		msg, ok := f.credits.Pull(ctx)
		if !ok {
			return nil
		}
		cred := msg.Payload.(model.Credit)
		_ = f.metricsQ.Push(ctx, bus.Message{Kind: bus.KindMetricRecord, Payload: model.MetricRecordDict{
			XRequestID: cred.CreditID,
			Phase:      cred.Phase,
			EndNs:      cred.IssuedNs + 1,
			Values:     map[string]model.MetricValue{"request_latency": {Scalar: 5, Unit: "ms"}},
		}})
	}
}
func (f *feederService) Stop(ctx context.Context) error { return nil }
func (f *feederService) Cleanup() error                  { return nil }

// aggregatorService adapts *aggregator.Aggregator to the service.Service
// contract so the runner can drive its Run loop like any other component.
type aggregatorService struct{ agg *aggregator.Aggregator }

func (a *aggregatorService) Init(ctx context.Context) error  { return nil }
func (a *aggregatorService) Start(ctx context.Context) error { return a.agg.Run(ctx) }
func (a *aggregatorService) Stop(ctx context.Context) error  { return nil }
func (a *aggregatorService) Cleanup() error                  { return nil }

type schedulerService struct{ sched *scheduler.Scheduler }

func (s *schedulerService) Init(ctx context.Context) error  { return nil }
func (s *schedulerService) Start(ctx context.Context) error { return s.sched.Run(ctx) }
func (s *schedulerService) Stop(ctx context.Context) error  { return nil }
func (s *schedulerService) Cleanup() error                  { return nil }

func TestControllerRunCompletesToDoneWithoutHealthFailures(t *testing.T) {
	cfg := &config.Config{TrafficMode: config.TrafficConcurrency, Concurrency: 2, RequestCount: 5}
	provider := dataset.NewProvider(convsWithIDs(10), randseed.NewRoot(1))

	credits := bus.NewQueue(16)
	metricsQ := bus.NewQueue(16)
	creditFreed := bus.NewTopic()
	status := bus.NewTopic()
	phaseTopic := bus.NewTopic()
	cmdBus := bus.NewCommandBus()

	sched := scheduler.New(cfg, provider, randseed.NewRoot(1), clock.Real{}, testLogger(), credits, creditFreed.Subscribe(16))
	agg := aggregator.New(cfg, clock.Real{}, testLogger(), metrics.NewRegistry(), metricsQ, creditFreed)

	runner := service.New(0, clock.Real{}, testLogger(), status)
	runner.Register("scheduler", &schedulerService{sched: sched})
	runner.Register("feeder", &feederService{credits: credits, metricsQ: metricsQ})
	runner.Register("aggregator", &aggregatorService{agg: agg})

	ctrl := New(Config{PollInterval: 5 * time.Millisecond, GracePeriod: 200 * time.Millisecond, HeartbeatInterval: time.Second}, clock.Real{}, testLogger(), cmdBus, status.Subscribe(64), phaseTopic, sched, agg, runner, credits, metricsQ)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := ctrl.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, PhaseDone, ctrl.Phase())
	require.Equal(t, 5, result.RequestCount)
}

func TestControllerAbortsOnServiceFailure(t *testing.T) {
	cfg := &config.Config{TrafficMode: config.TrafficConcurrency, Concurrency: 1, RequestCount: 100}
	provider := dataset.NewProvider(convsWithIDs(10), randseed.NewRoot(1))

	credits := bus.NewQueue(16)
	metricsQ := bus.NewQueue(16)
	creditFreed := bus.NewTopic()
	status := bus.NewTopic()
	cmdBus := bus.NewCommandBus()

	sched := scheduler.New(cfg, provider, randseed.NewRoot(1), clock.Real{}, testLogger(), credits, creditFreed.Subscribe(16))
	agg := aggregator.New(cfg, clock.Real{}, testLogger(), metrics.NewRegistry(), metricsQ, creditFreed)

	runner := service.New(0, clock.Real{}, testLogger(), status)
	runner.Register("scheduler", &schedulerService{sched: sched})
	runner.Register("aggregator", &aggregatorService{agg: agg})
	runner.Register("failing", &failingService{})

	ctrl := New(Config{PollInterval: 5 * time.Millisecond, GracePeriod: 50 * time.Millisecond, HeartbeatInterval: time.Second}, clock.Real{}, testLogger(), cmdBus, status.Subscribe(64), nil, sched, agg, runner, credits, metricsQ)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := ctrl.Run(ctx)
	require.Error(t, err)
	require.Equal(t, PhaseAborted, ctrl.Phase())
}

type failingService struct{}

func (f *failingService) Init(ctx context.Context) error { return nil }
func (f *failingService) Start(ctx context.Context) error {
	select {
	case <-time.After(20 * time.Millisecond):
		return errAssertion
	case <-ctx.Done():
		return ctx.Err()
	}
}
func (f *failingService) Stop(ctx context.Context) error { return nil }
func (f *failingService) Cleanup() error                 { return nil }

var errAssertion = errAssertionType{}

type errAssertionType struct{}

func (errAssertionType) Error() string { return "injected failure" }
