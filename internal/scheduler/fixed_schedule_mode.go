package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/aiperf-core/genaiperf/internal/bmerrors"
	"github.com/aiperf-core/genaiperf/internal/model"
)

// scheduledEntry pairs a conversation with its resolved replay offset.
type scheduledEntry struct {
	conv        model.Conversation
	scheduledMs int64
}

// buildFixedSchedule resolves the dataset's timestamp_ms fields into a
// sorted, trimmed replay schedule: auto-offset subtracts the first
// timestamp, then start/end offsets trim the window inclusive of
// endpoints (spec.md §4.3 mode 3).
func (s *Scheduler) buildFixedSchedule() ([]scheduledEntry, error) {
	all := s.provider.All()
	entries := make([]scheduledEntry, 0, len(all))
	for _, conv := range all {
		if conv.TimestampMs == nil {
			continue
		}
		entries = append(entries, scheduledEntry{conv: conv, scheduledMs: *conv.TimestampMs})
	}
	if len(entries) == 0 {
		return nil, &bmerrors.DatasetError{Message: "fixed-schedule mode requires conversations with timestamp_ms"}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].scheduledMs < entries[j].scheduledMs })

	if s.cfg.FixedScheduleAutoOffset {
		base := entries[0].scheduledMs
		for i := range entries {
			entries[i].scheduledMs -= base
		}
	}

	trimmed := make([]scheduledEntry, 0, len(entries))
	for _, e := range entries {
		if s.cfg.FixedScheduleStartOffsetMs != nil && e.scheduledMs < *s.cfg.FixedScheduleStartOffsetMs {
			continue
		}
		if s.cfg.FixedScheduleEndOffsetMs != nil && e.scheduledMs > *s.cfg.FixedScheduleEndOffsetMs {
			continue
		}
		trimmed = append(trimmed, e)
	}
	return trimmed, nil
}

// runFixedScheduleMode replays the trimmed schedule in order, emitting
// each credit when the wall clock reaches its offset relative to the
// run's own start.
func (s *Scheduler) runFixedScheduleMode(ctx context.Context) error {
	entries, err := s.buildFixedSchedule()
	if err != nil {
		return err
	}

	runStart := s.clk.Now()
	for i, e := range entries {
		target := runStart.Add(time.Duration(e.scheduledMs) * time.Millisecond)
		if wait := target.Sub(s.clk.Now()); wait > 0 {
			select {
			case <-s.clk.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cred := s.buildCredit(e.conv, int64(i), e.scheduledMs*int64(time.Millisecond))
		if err := s.emit(ctx, cred); err != nil {
			return err
		}
	}
	return nil
}
