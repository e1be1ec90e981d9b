// Package aggregator implements the single-goroutine state owner spec.md
// §4.6 describes: it is fed exclusively through its inbound metric-record
// queue, so no locking is needed inside its own processing loop. Warmup
// and profiling records are kept in separate buckets; profiling records
// additionally accumulate into fixed wall-clock timeslices when slicing
// is enabled.
package aggregator

import (
	"context"
	"math"

	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/clock"
	"github.com/aiperf-core/genaiperf/internal/config"
	"github.com/aiperf-core/genaiperf/internal/logging"
	"github.com/aiperf-core/genaiperf/internal/metrics"
	"github.com/aiperf-core/genaiperf/internal/model"
	"github.com/aiperf-core/genaiperf/internal/telemetry"
)

// timesliceBucket accumulates per-metric sample vectors for one fixed
// wall-clock window.
type timesliceBucket struct {
	startNs int64
	endNs   int64
	vectors map[string][]float64
}

// Aggregator collects MetricRecordDicts, separates warmup from profiling,
// buckets profiling records into timeslices, and computes the final
// statistical summary on Finalize.
type Aggregator struct {
	cfg *config.Config
	clk clock.Clock
	log *logging.Logger

	registry *metrics.Registry
	dedup    *bus.Deduper

	in          *bus.Queue
	creditFreed *bus.Topic

	// profilingAnchorNs is reset by the controller on WARMUP→PROFILING
	// (spec.md §4.7), resolving the Open Question on duration measurement
	// by anchoring at "first issued profiling credit".
	profilingAnchorNs    int64
	lastProfilingRecordNs int64
	anchored              bool // true once ResetProfilingAnchor has run; 0 is a valid anchor

	warmupCount       int
	completedCount    int
	errorCount        int
	goodCount         int
	totalOutputTokens int64

	recordVectors map[string][]float64
	errorSummary  map[string]int

	sliceDurationNs int64
	slices          map[int]*timesliceBucket
}

// New constructs an Aggregator bound to its inbound metric-record queue
// and the "credit freed" topic it publishes to on every sealed record
// (spec.md §4.6, consumed by the scheduler's concurrency gate).
func New(cfg *config.Config, clk clock.Clock, log *logging.Logger, registry *metrics.Registry, in *bus.Queue, creditFreed *bus.Topic) *Aggregator {
	return &Aggregator{
		cfg:           cfg,
		clk:           clk,
		log:           log.Service("aggregator"),
		registry:      registry,
		dedup:         bus.NewDeduper(),
		in:            in,
		creditFreed:   creditFreed,
		recordVectors: make(map[string][]float64),
		errorSummary:  make(map[string]int),
		sliceDurationNs: int64(cfg.SliceDurationSec * 1e9),
		slices:        make(map[int]*timesliceBucket),
	}
}

// ResetProfilingAnchor marks the start of the profiling duration window.
// Called by the controller exactly once, on WARMUP→PROFILING.
func (a *Aggregator) ResetProfilingAnchor(ns int64) {
	a.profilingAnchorNs = ns
	a.lastProfilingRecordNs = ns
	a.anchored = true
}

// Run pulls MetricRecordDicts until ctx is cancelled or the queue closes.
func (a *Aggregator) Run(ctx context.Context) error {
	for {
		msg, ok := a.in.Pull(ctx)
		if !ok {
			return ctx.Err()
		}
		dict, ok := msg.Payload.(model.MetricRecordDict)
		if !ok {
			a.log.Warnf("aggregator: dropped malformed metric record payload")
			continue
		}
		a.seal(dict)
	}
}

// seal de-duplicates, buckets, and accounts for one MetricRecordDict, then
// publishes a credit-freed event (spec.md §4.6 invariants: exactly-once
// entry, warmup/profiling separation, exactly-one timeslice).
func (a *Aggregator) seal(dict model.MetricRecordDict) {
	if a.dedup.SeenBefore(dict.XRequestID) {
		return
	}

	ok := dict.Error == nil
	status := "success"
	if !ok {
		status = "error"
	}
	telemetry.RecordRequestCompleted(string(dict.Phase), status)

	if dict.Phase == model.PhaseWarmup {
		a.warmupCount++
	} else {
		if ok {
			a.completedCount++
			a.lastProfilingRecordNs = dict.EndNs
			a.accumulateRecordMetrics(dict)
			a.accumulateTimeslice(dict)
			if a.isGood(dict) {
				a.goodCount++
			}
		} else {
			a.errorCount++
			a.errorSummary[dict.Error.Type]++
		}
	}

	if a.creditFreed != nil {
		a.creditFreed.Publish(bus.Message{Kind: bus.KindCreditFreed, Payload: dict.XRequestID})
	}
}

// accumulateRecordMetrics appends every scalar/list record metric onto its
// running vector. Warmup records never reach here (spec.md §8 invariant).
func (a *Aggregator) accumulateRecordMetrics(dict model.MetricRecordDict) {
	for tag, v := range dict.Values {
		if v.IsList {
			a.recordVectors[tag] = append(a.recordVectors[tag], v.List...)
			continue
		}
		a.recordVectors[tag] = append(a.recordVectors[tag], v.Scalar)
	}
	if out, ok := dict.Values["output_token_count"]; ok {
		a.totalOutputTokens += int64(out.Scalar)
	}
}

// accumulateTimeslice buckets dict into the fixed wall-clock window its
// end_ns falls into, per spec.md §4.6 "slice index
// floor((end_ns-run_start_ns)/slice_duration_ns)".
func (a *Aggregator) accumulateTimeslice(dict model.MetricRecordDict) {
	if a.sliceDurationNs <= 0 || !a.anchored {
		return
	}
	idx := int(math.Floor(float64(dict.EndNs-a.profilingAnchorNs) / float64(a.sliceDurationNs)))
	if idx < 0 {
		idx = 0
	}
	bucket, ok := a.slices[idx]
	if !ok {
		bucket = &timesliceBucket{
			startNs: a.profilingAnchorNs + int64(idx)*a.sliceDurationNs,
			endNs:   a.profilingAnchorNs + int64(idx+1)*a.sliceDurationNs,
			vectors: make(map[string][]float64),
		}
		a.slices[idx] = bucket
	}
	if dict.EndNs > bucket.endNs {
		bucket.endNs = dict.EndNs // last slice may be partial and still growing
	}
	for tag, v := range dict.Values {
		if v.IsList {
			bucket.vectors[tag] = append(bucket.vectors[tag], v.List...)
			continue
		}
		bucket.vectors[tag] = append(bucket.vectors[tag], v.Scalar)
	}
}

// isGood reports whether dict satisfies every configured goodput
// predicate (spec.md §4.6 "goodput": all user-specified SLO predicates).
func (a *Aggregator) isGood(dict model.MetricRecordDict) bool {
	for _, p := range a.cfg.Goodput {
		v, ok := dict.Values[p.MetricTag]
		if !ok || v.Scalar > p.MaxValue {
			return false
		}
	}
	return true
}

// durationSeconds resolves the Open Question (spec.md §9): the window is
// anchored at the first issued profiling credit and closes at the last
// received profiling record, clamped to the configured benchmark duration
// when the run is duration-bound — so a run that drains in-flight
// requests past the nominal window still reports the window it promised,
// not however long drain happened to take.
func (a *Aggregator) durationSeconds() float64 {
	if !a.anchored {
		return 0
	}
	observed := float64(a.lastProfilingRecordNs-a.profilingAnchorNs) / 1e9
	if a.cfg.BenchmarkDurationSec > 0 && observed > a.cfg.BenchmarkDurationSec {
		return a.cfg.BenchmarkDurationSec
	}
	if observed <= 0 {
		return 0
	}
	return observed
}

// Finalize computes the run's final statistical summary: per-record-
// metric percentile stats, aggregate totals, topologically-resolved
// derived metrics, and (if slicing is enabled) one snapshot per
// timeslice.
func (a *Aggregator) Finalize() (Result, error) {
	duration := a.durationSeconds()

	result := Result{
		RequestCount:      a.completedCount,
		ErrorRequestCount: a.errorCount,
		GoodCount:         a.goodCount,
		WarmupCount:       a.warmupCount,
		DurationSeconds:   duration,
		ErrorSummary:      a.errorSummary,
	}

	specsByTag := make(map[string]string, len(a.registry.RecordSpecs()))
	for _, spec := range a.registry.RecordSpecs() {
		specsByTag[spec.Tag] = spec.Unit
	}
	for tag, values := range a.recordVectors {
		cp := append([]float64(nil), values...)
		result.RecordMetrics = append(result.RecordMetrics, computeStat(tag, specsByTag[tag], cp))
	}

	result.AggregateMetrics = []AggregateStat{
		{Tag: "request_count", Count: a.completedCount, Total: float64(a.completedCount)},
		{Tag: "error_request_count", Count: a.errorCount, Total: float64(a.errorCount)},
	}

	derived, err := a.registry.ResolveDerived(metrics.DerivedContext{
		CompletedCount:    a.completedCount,
		GoodCount:         a.goodCount,
		TotalOutputTokens: a.totalOutputTokens,
		DurationSeconds:   duration,
	})
	if err != nil {
		return result, err
	}
	result.DerivedMetrics = derived

	for idx, bucket := range a.slices {
		ts := TimesliceResult{Index: idx, StartNs: bucket.startNs, EndNs: bucket.endNs}
		for tag, values := range bucket.vectors {
			cp := append([]float64(nil), values...)
			ts.Metrics = append(ts.Metrics, computeStat(tag, specsByTag[tag], cp))
		}
		result.Timeslices = append(result.Timeslices, ts)
	}

	return result, nil
}

// Init/Start/Stop/Cleanup make *Aggregator itself satisfy service.Service.
func (a *Aggregator) Init(ctx context.Context) error  { return nil }
func (a *Aggregator) Start(ctx context.Context) error { return a.Run(ctx) }
func (a *Aggregator) Stop(ctx context.Context) error  { return nil }
func (a *Aggregator) Cleanup() error                  { return nil }
