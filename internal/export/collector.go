package export

import (
	"context"
	"sort"
	"sync"

	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/model"
)

// Collector drains a queue of model.CompletedRecord and accumulates the
// RecordExport set profile_export.jsonl is rendered from. It implements
// service.Service so it runs on the same Runner as the rest of the
// pipeline, stopping cleanly when its queue drains on shutdown.
type Collector struct {
	in *bus.Queue

	mu      sync.Mutex
	records []RecordExport
}

// NewCollector constructs a Collector bound to in, the ProcessorPool's
// export fan-out queue.
func NewCollector(in *bus.Queue) *Collector {
	return &Collector{in: in}
}

func (c *Collector) Init(ctx context.Context) error { return nil }

func (c *Collector) Start(ctx context.Context) error {
	for {
		msg, ok := c.in.Pull(ctx)
		if !ok {
			return nil
		}
		cr, ok := msg.Payload.(model.CompletedRecord)
		if !ok {
			continue
		}
		c.mu.Lock()
		c.records = append(c.records, NewRecordExport(cr.Raw, cr.Dict))
		c.mu.Unlock()
	}
}

func (c *Collector) Stop(ctx context.Context) error { return nil }
func (c *Collector) Cleanup() error                  { return nil }

// Records returns every collected record sorted by x_request_id for
// deterministic artifact ordering across runs with the same seed. Call
// only after the Collector's Start has returned.
func (c *Collector) Records() []RecordExport {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]RecordExport(nil), c.records...)
	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.XRequestID < out[j].Metadata.XRequestID })
	return out
}
