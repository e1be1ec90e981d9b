package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/clock"
	"github.com/aiperf-core/genaiperf/internal/config"
	"github.com/aiperf-core/genaiperf/internal/logging"
	"github.com/aiperf-core/genaiperf/internal/metrics"
	"github.com/aiperf-core/genaiperf/internal/model"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error"})
}

func okDict(id string, phase model.Phase, endNs int64, latencyMs float64, outputTokens float64) model.MetricRecordDict {
	return model.MetricRecordDict{
		XRequestID: id,
		Phase:      phase,
		EndNs:      endNs,
		Values: map[string]model.MetricValue{
			"request_latency":    {Scalar: latencyMs, Unit: "ms"},
			"output_token_count": {Scalar: outputTokens, Unit: "tokens"},
		},
	}
}

func TestSealDedupesByXRequestID(t *testing.T) {
	in := bus.NewQueue(16)
	freed := bus.NewTopic()
	agg := New(&config.Config{}, clock.Real{}, testLogger(), metrics.NewRegistry(), in, freed)
	agg.ResetProfilingAnchor(0)

	agg.seal(okDict("r1", model.PhaseProfiling, 100, 10, 5))
	agg.seal(okDict("r1", model.PhaseProfiling, 100, 10, 5))

	require.Equal(t, 1, agg.completedCount)
	require.Len(t, agg.recordVectors["request_latency"], 1)
}

func TestSealSeparatesWarmupFromProfiling(t *testing.T) {
	in := bus.NewQueue(16)
	freed := bus.NewTopic()
	agg := New(&config.Config{}, clock.Real{}, testLogger(), metrics.NewRegistry(), in, freed)
	agg.ResetProfilingAnchor(0)

	agg.seal(okDict("w1", model.PhaseWarmup, 50, 999, 999))
	agg.seal(okDict("p1", model.PhaseProfiling, 100, 10, 5))

	require.Equal(t, 1, agg.warmupCount)
	require.Equal(t, 1, agg.completedCount)
	require.Equal(t, []float64{10}, agg.recordVectors["request_latency"])
}

func TestSealTracksErrorSummary(t *testing.T) {
	in := bus.NewQueue(16)
	freed := bus.NewTopic()
	agg := New(&config.Config{}, clock.Real{}, testLogger(), metrics.NewRegistry(), in, freed)
	agg.ResetProfilingAnchor(0)

	agg.seal(model.MetricRecordDict{
		XRequestID: "e1",
		Phase:      model.PhaseProfiling,
		Error:      &model.ErrorDetails{Type: "RequestTimeout", Code: 0},
	})

	require.Equal(t, 1, agg.errorCount)
	require.Equal(t, 1, agg.errorSummary["RequestTimeout"])
	require.Empty(t, agg.recordVectors["request_latency"])
}

func TestSealPublishesCreditFreed(t *testing.T) {
	in := bus.NewQueue(16)
	freed := bus.NewTopic()
	sub := freed.Subscribe(4)
	agg := New(&config.Config{}, clock.Real{}, testLogger(), metrics.NewRegistry(), in, freed)
	agg.ResetProfilingAnchor(0)

	agg.seal(okDict("r1", model.PhaseProfiling, 100, 10, 5))

	select {
	case msg := <-sub:
		require.Equal(t, bus.KindCreditFreed, msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a credit-freed message")
	}
}

func TestGoodputPredicateFiltersRecords(t *testing.T) {
	in := bus.NewQueue(16)
	freed := bus.NewTopic()
	cfg := &config.Config{Goodput: []config.GoodputPredicate{{MetricTag: "request_latency", MaxValue: 20}}}
	agg := New(cfg, clock.Real{}, testLogger(), metrics.NewRegistry(), in, freed)
	agg.ResetProfilingAnchor(0)

	agg.seal(okDict("good", model.PhaseProfiling, 100, 15, 5))
	agg.seal(okDict("bad", model.PhaseProfiling, 100, 50, 5))

	require.Equal(t, 2, agg.completedCount)
	require.Equal(t, 1, agg.goodCount)
}

func TestTimeslicingBucketsByEndNs(t *testing.T) {
	in := bus.NewQueue(16)
	freed := bus.NewTopic()
	cfg := &config.Config{SliceDurationSec: 1} // 1 second slices
	agg := New(cfg, clock.Real{}, testLogger(), metrics.NewRegistry(), in, freed)
	agg.ResetProfilingAnchor(0)

	agg.seal(okDict("s0", model.PhaseProfiling, 500_000_000, 10, 5))    // slice 0
	agg.seal(okDict("s1", model.PhaseProfiling, 1_500_000_000, 10, 5))  // slice 1
	agg.seal(okDict("s2", model.PhaseProfiling, 2_900_000_000, 10, 5))  // slice 2

	require.Len(t, agg.slices, 3)
	require.Contains(t, agg.slices, 0)
	require.Contains(t, agg.slices, 1)
	require.Contains(t, agg.slices, 2)
}

func TestFinalizeComputesPercentilesAndDerivedMetrics(t *testing.T) {
	in := bus.NewQueue(16)
	freed := bus.NewTopic()
	agg := New(&config.Config{}, clock.Real{}, testLogger(), metrics.NewRegistry(), in, freed)
	agg.ResetProfilingAnchor(0)

	for i, v := range []float64{10, 20, 30, 40, 50} {
		agg.seal(okDict("r"+string(rune('0'+i)), model.PhaseProfiling, int64((i+1)*1e9), v, 10))
	}

	result, err := agg.Finalize()
	require.NoError(t, err)
	require.Equal(t, 5, result.RequestCount)
	require.InDelta(t, 5.0, result.DurationSeconds, 1e-9)

	var latencyStat MetricStat
	for _, m := range result.RecordMetrics {
		if m.Tag == "request_latency" {
			latencyStat = m
		}
	}
	require.Equal(t, 5, latencyStat.Count)
	require.Equal(t, 10.0, latencyStat.Min)
	require.Equal(t, 50.0, latencyStat.Max)
	require.InDelta(t, 30.0, latencyStat.P50, 1e-9)

	require.InDelta(t, 1.0, result.DerivedMetrics["request_throughput"], 1e-9)
	require.InDelta(t, 10.0, result.DerivedMetrics["output_token_throughput"], 1e-9)
}

func TestAggregatorRunDrainsQueueUntilContextCancelled(t *testing.T) {
	in := bus.NewQueue(16)
	freed := bus.NewTopic()
	agg := New(&config.Config{}, clock.Real{}, testLogger(), metrics.NewRegistry(), in, freed)
	agg.ResetProfilingAnchor(0)

	require.NoError(t, in.Push(context.Background(), bus.Message{Kind: bus.KindMetricRecord, Payload: okDict("r1", model.PhaseProfiling, 100, 10, 5)}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Run(ctx) }()

	require.Eventually(t, func() bool { return agg.completedCount == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
