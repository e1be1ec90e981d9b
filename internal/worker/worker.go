// Package worker implements the async worker pool of spec.md §4.4: N
// goroutines, each consuming Credits off the bus and producing
// RawRequestRecords. HTTP dispatch goes through an endpoint.Codec;
// history accumulation and turn pacing for multi-turn conversations are
// owned entirely by the goroutine handling that credit, discarded once
// the conversation's last turn completes (spec.md §9).
package worker

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/clock"
	"github.com/aiperf-core/genaiperf/internal/config"
	"github.com/aiperf-core/genaiperf/internal/endpoint"
	"github.com/aiperf-core/genaiperf/internal/logging"
	"github.com/aiperf-core/genaiperf/internal/model"
	"github.com/aiperf-core/genaiperf/internal/randseed"
)

// Pool runs the configured number of worker goroutines against one
// shared credits Queue, publishing onto one shared raw-records Queue.
type Pool struct {
	cfg        *config.Config
	codec      endpoint.Codec
	lookup     *bus.Replier
	credits    *bus.Queue
	rawRecords *bus.Queue
	httpClient *http.Client
	clk        clock.Clock
	log        *logging.Logger

	turnDelayRoot *randseed.Root
	workers       int
}

// NewPool constructs a worker Pool. lookup is the dataset Provider's
// Replier (spec.md §4.1 request/reply), so no worker touches the
// Provider directly.
func NewPool(cfg *config.Config, codec endpoint.Codec, lookup *bus.Replier, credits, rawRecords *bus.Queue, httpClient *http.Client, clk clock.Clock, root *randseed.Root, log *logging.Logger) *Pool {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Pool{
		cfg:           cfg,
		codec:         codec,
		lookup:        lookup,
		credits:       credits,
		rawRecords:    rawRecords,
		httpClient:    httpClient,
		clk:           clk,
		log:           log.Service("worker"),
		turnDelayRoot: root,
		workers:       1,
	}
}

// WithWorkerCount sets the goroutine count Start will run. Defaults to 1
// when never called.
func (p *Pool) WithWorkerCount(n int) *Pool {
	if n > 0 {
		p.workers = n
	}
	return p
}

// Init/Start/Stop/Cleanup make *Pool itself satisfy service.Service.
func (p *Pool) Init(ctx context.Context) error  { return nil }
func (p *Pool) Start(ctx context.Context) error { return p.Run(ctx, p.workers) }
func (p *Pool) Stop(ctx context.Context) error  { return nil }
func (p *Pool) Cleanup() error                  { return nil }

// Run starts n worker goroutines and blocks until ctx is cancelled or the
// credit queue is closed and drained.
func (p *Pool) Run(ctx context.Context, n int) error {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.runOne(ctx, workerID)
		}(i)
	}
	wg.Wait()
	return nil
}

func (p *Pool) runOne(ctx context.Context, workerID int) {
	turnDelayRNG := p.turnDelayRoot.Derive(randseed.IdentTurnDelay)
	for {
		msg, ok := p.credits.Pull(ctx)
		if !ok {
			return
		}
		cred, ok := msg.Payload.(model.Credit)
		if !ok {
			p.log.Warnf("worker %d: dropped malformed credit payload", workerID)
			continue
		}
		p.handleCredit(ctx, workerID, cred, turnDelayRNG)
	}
}

// sampleTurnDelay draws a non-negative inter-turn pause:
// normal(mean,stddev) scaled by the configured ratio, per spec.md §4.4
// step 7.
func sampleTurnDelay(rng *rand.Rand, meanMs, stddevMs, ratio float64) time.Duration {
	d := rng.NormFloat64()*stddevMs + meanMs
	d *= ratio
	if d < 0 {
		d = 0
	}
	return time.Duration(d * float64(time.Millisecond))
}

// newRequestIDs mints the per-attempt and per-conversation identifiers
// attached as X-Request-ID / X-Correlation-ID (spec.md §4.4 step 3).
func newRequestIDs() (requestID string) {
	return uuid.New().String()
}
