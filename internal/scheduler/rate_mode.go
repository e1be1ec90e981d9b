package scheduler

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/aiperf-core/genaiperf/internal/randseed"
)

// runRateMode sleeps a mode-dependent inter-arrival interval, then
// attempts to emit a credit; if a concurrency cap is also set, it waits
// for a free gate slot too (sleep-then-gate, spec.md §4.3 mode 2). No
// catch-up: a blocked gate pauses the schedule rather than bursting.
func (s *Scheduler) runRateMode(ctx context.Context) error {
	var limiter *rate.Limiter
	var interarrivalRNG interface{ Float64() float64 }
	if s.cfg.RequestRateMode == "poisson" {
		interarrivalRNG = s.root.Derive(randseed.IdentInterArrival)
	} else {
		limiter = rate.NewLimiter(rate.Every(time.Duration(float64(time.Second)/s.cfg.RequestRate)), 1)
	}

	var gate chan struct{}
	if s.cfg.Concurrency > 0 {
		gate = make(chan struct{}, s.cfg.Concurrency)
		for i := 0; i < s.cfg.Concurrency; i++ {
			gate <- struct{}{}
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-s.creditFreed:
					if !ok {
						return
					}
					select {
					case gate <- struct{}{}:
					default:
					}
				}
			}
		}()
	}

	for {
		if s.shouldStop(s.profilingElapsedNs()) {
			return nil
		}

		if err := s.waitInterArrival(ctx, limiter, interarrivalRNG); err != nil {
			return err
		}

		if gate != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-gate:
			}
		}

		conv, err := s.sampleConversation()
		if err != nil {
			return err
		}
		emittedIndex := atomic.LoadInt64(&s.emitted)
		cred := s.buildCredit(conv, emittedIndex, s.clk.NowNs())
		if err := s.emit(ctx, cred); err != nil {
			return err
		}
	}
}

// waitInterArrival blocks for one inter-arrival interval: the x/time/rate
// token bucket for constant mode, or a drawn exponential interval for
// poisson mode (-ln(U)/rate, U uniform in (0,1]).
func (s *Scheduler) waitInterArrival(ctx context.Context, limiter *rate.Limiter, interarrivalRNG interface{ Float64() float64 }) error {
	if limiter != nil {
		return limiter.Wait(ctx)
	}
	u := 1 - interarrivalRNG.Float64() // shift [0,1) to (0,1] so ln is defined
	interval := -math.Log(u) / s.cfg.RequestRate
	select {
	case <-s.clk.After(time.Duration(interval * float64(time.Second))):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
