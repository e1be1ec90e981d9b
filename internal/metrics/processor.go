package metrics

import (
	"context"
	"sync"

	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/model"
)

// ProcessorPool runs M stateless goroutines (spec.md §4.5) turning
// RawRequestRecords into MetricRecordDicts. The worker pool has already
// invoked the endpoint's Parser (ParseStream needs access to per-chunk
// receive timestamps, so it cannot be deferred), so a processor's job is
// running every registered extractor over the already-parsed response.
type ProcessorPool struct {
	registry          *Registry
	tokenizer         Tokenizer
	preferServerUsage bool
	in                *bus.Queue
	out               *bus.Queue
	exportOut         *bus.Queue
	processors        int
}

// NewProcessorPool constructs a ProcessorPool. tokenizer may be nil —
// token-count metrics then fall back to server-reported usage.
func NewProcessorPool(registry *Registry, tokenizer Tokenizer, preferServerUsage bool, in, out *bus.Queue) *ProcessorPool {
	return &ProcessorPool{registry: registry, tokenizer: tokenizer, preferServerUsage: preferServerUsage, in: in, out: out, processors: 1}
}

// WithProcessorCount sets the goroutine count Start will run. Defaults to
// 1 when never called.
func (p *ProcessorPool) WithProcessorCount(n int) *ProcessorPool {
	if n > 0 {
		p.processors = n
	}
	return p
}

// Init/Start/Stop/Cleanup make *ProcessorPool itself satisfy
// service.Service.
func (p *ProcessorPool) Init(ctx context.Context) error { return nil }
func (p *ProcessorPool) Start(ctx context.Context) error {
	p.Run(ctx, p.processors)
	return nil
}
func (p *ProcessorPool) Stop(ctx context.Context) error { return nil }
func (p *ProcessorPool) Cleanup() error                  { return nil }

// WithExport attaches a queue every processed record is additionally
// published to, as a model.CompletedRecord pairing the raw record with
// its derived dict, for internal/export to render profile_export.jsonl.
func (p *ProcessorPool) WithExport(exportOut *bus.Queue) *ProcessorPool {
	p.exportOut = exportOut
	return p
}

// Run starts n processor goroutines and blocks until ctx is cancelled or
// the input queue closes.
func (p *ProcessorPool) Run(ctx context.Context, n int) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runOne(ctx)
		}()
	}
	wg.Wait()
}

func (p *ProcessorPool) runOne(ctx context.Context) {
	for {
		msg, ok := p.in.Pull(ctx)
		if !ok {
			return
		}
		raw, ok := msg.Payload.(model.RawRequestRecord)
		if !ok {
			continue
		}
		dict := p.process(raw)
		if p.exportOut != nil {
			p.exportOut.TryPush(bus.Message{Kind: bus.KindExportRecord, Payload: model.CompletedRecord{Raw: raw, Dict: dict}})
		}
		if err := p.out.Push(ctx, bus.Message{Kind: bus.KindMetricRecord, Payload: dict}); err != nil {
			return
		}
	}
}

// process builds one MetricRecordDict from a raw record, per spec.md
// §4.5. Failed/cancelled records get a metadata-only dict carrying
// whatever input-length is known, so the aggregator can still count them
// without mixing them into percentile vectors.
func (p *ProcessorPool) process(raw model.RawRequestRecord) model.MetricRecordDict {
	dict := model.MetricRecordDict{
		XRequestID: raw.XRequestID,
		Phase:      raw.Phase,
		EndNs:      raw.EndNs,
		Values:     make(map[string]model.MetricValue),
		Error:      raw.Error,
	}
	if raw.Status != "ok" {
		if raw.InputSequenceLen > 0 {
			dict.Values["error_isl"] = model.MetricValue{Scalar: float64(raw.InputSequenceLen), Unit: "tokens"}
		}
		return dict
	}
	for _, spec := range p.registry.RecordSpecs() {
		if v, ok := spec.Extract(raw.RawResponse, &raw, p.tokenizer, p.preferServerUsage); ok {
			dict.Values[spec.Tag] = v
		}
	}
	return dict
}
