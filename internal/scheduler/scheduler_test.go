package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/clock"
	"github.com/aiperf-core/genaiperf/internal/config"
	"github.com/aiperf-core/genaiperf/internal/dataset"
	"github.com/aiperf-core/genaiperf/internal/logging"
	"github.com/aiperf-core/genaiperf/internal/model"
	"github.com/aiperf-core/genaiperf/internal/randseed"
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

func TestSchedulerConcurrencyModeRespectsRequestCount(t *testing.T) {
	cfg := &config.Config{TrafficMode: config.TrafficConcurrency, Concurrency: 2, RequestCount: 5}
	provider := dataset.NewProvider(convsWithIDs(10), randseed.NewRoot(1))
	credits := bus.NewQueue(16)
	freed := make(chan bus.Message, 16)

	sched := New(cfg, provider, randseed.NewRoot(1), clock.Real{}, testLogger(), credits, freed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		for i := 0; i < 5; i++ {
			freed <- bus.Message{Kind: bus.KindCreditFreed}
		}
	}()

	drained := make([]model.Credit, 0, 5)
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	for len(drained) < 5 {
		msg, ok := credits.Pull(ctx)
		require.True(t, ok)
		cred := msg.Payload.(model.Credit)
		drained = append(drained, cred)
		freed <- bus.Message{Kind: bus.KindCreditFreed}
	}

	require.Len(t, drained, 5)
	require.NoError(t, <-done)
	require.Equal(t, StateDraining, sched.State())
}

func TestSchedulerPhaseTaggingWarmupThenProfiling(t *testing.T) {
	cfg := &config.Config{TrafficMode: config.TrafficConcurrency, Concurrency: 1, RequestCount: 3, WarmupRequestCount: 2}
	provider := dataset.NewProvider(convsWithIDs(10), randseed.NewRoot(1))
	credits := bus.NewQueue(16)
	freed := make(chan bus.Message, 16)
	sched := New(cfg, provider, randseed.NewRoot(1), clock.Real{}, testLogger(), credits, freed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() { _ = sched.Run(ctx) }()

	var phases []model.Phase
	for i := 0; i < 5; i++ {
		msg, ok := credits.Pull(ctx)
		require.True(t, ok)
		cred := msg.Payload.(model.Credit)
		phases = append(phases, cred.Phase)
		freed <- bus.Message{Kind: bus.KindCreditFreed}
	}

	require.Equal(t, model.PhaseWarmup, phases[0])
	require.Equal(t, model.PhaseWarmup, phases[1])
	require.Equal(t, model.PhaseProfiling, phases[2])
}

func TestBuildFixedScheduleAutoOffsetAndTrim(t *testing.T) {
	ts0 := int64(1000)
	ts1 := int64(2000)
	ts2 := int64(3000)
	convs := []model.Conversation{
		{ID: "a", TimestampMs: &ts0, Turns: []model.Turn{{Role: "user", Text: "x"}}},
		{ID: "b", TimestampMs: &ts1, Turns: []model.Turn{{Role: "user", Text: "x"}}},
		{ID: "c", TimestampMs: &ts2, Turns: []model.Turn{{Role: "user", Text: "x"}}},
	}
	endOffset := int64(1500)
	cfg := &config.Config{
		TrafficMode:             config.TrafficFixedSchedule,
		FixedSchedule:           true,
		FixedScheduleAutoOffset: true,
		FixedScheduleEndOffsetMs: &endOffset,
	}
	provider := dataset.NewProvider(convs, randseed.NewRoot(1))
	sched := New(cfg, provider, randseed.NewRoot(1), clock.Real{}, testLogger(), bus.NewQueue(1), nil)

	entries, err := sched.buildFixedSchedule()
	require.NoError(t, err)
	require.Len(t, entries, 2) // offsets 0 and 1000 survive; 2000 is trimmed by end-offset 1500
	require.Equal(t, int64(0), entries[0].scheduledMs)
	require.Equal(t, int64(1000), entries[1].scheduledMs)
}

func TestBuildCreditCancellationInjectionAtFullRate(t *testing.T) {
	cfg := &config.Config{
		TrafficMode:                 config.TrafficConcurrency,
		Concurrency:                 1,
		RequestCancellationRate:     100,
		RequestCancellationDelaySec: 0.1,
	}
	provider := dataset.NewProvider(convsWithIDs(1), randseed.NewRoot(1))
	sched := New(cfg, provider, randseed.NewRoot(1), clock.Real{}, testLogger(), bus.NewQueue(1), nil)

	cred := sched.buildCredit(provider.All()[0], 0, 0)
	require.NotNil(t, cred.CancelAfterNs)
	require.Equal(t, int64(0.1*1e9), *cred.CancelAfterNs)
}
