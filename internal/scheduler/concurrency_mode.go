package scheduler

import (
	"context"
	"sync/atomic"
)

// runConcurrencyMode maintains at most Concurrency outstanding credits,
// releasing one new credit per "credit freed" event from the aggregator
// (spec.md §4.3 mode 1).
func (s *Scheduler) runConcurrencyMode(ctx context.Context) error {
	gate := make(chan struct{}, s.cfg.Concurrency)
	for i := 0; i < s.cfg.Concurrency; i++ {
		gate <- struct{}{}
	}

	// Refill the gate as the aggregator seals records, independently of
	// the emission loop below so a slow emitter never drops a freed slot.
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
					// gate already at capacity; nothing outstanding to refill for.
				}
			}
		}
	}()

	for {
		if s.shouldStop(s.profilingElapsedNs()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gate:
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
