// Package dataset owns the pre-generated pool of conversations and serves
// lookups by id or sampling policy (spec.md §4.2). The provider is a
// single writer (at construction) / many readers (at runtime): once
// NewProvider has returned, conversations are never mutated again, so no locking
// is needed for lookups.
package dataset

import (
	"context"
	"sync"

	"github.com/aiperf-core/genaiperf/internal/bmerrors"
	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/model"
	"github.com/aiperf-core/genaiperf/internal/randseed"
)

// Provider answers dataset lookups. All sampling randomness is derived
// from the run's seed, so Sample is deterministic across runs with the
// same seed and config regardless of worker/processor count.
type Provider struct {
	mu            sync.Mutex // guards shuffle/sequential cursor only
	conversations []model.Conversation
	byID          map[string]int
	rng           *randSource
	seqCursor     int
	shuffleOrder  []int
	shuffleIdx    int

	lookupReplier *bus.Replier
}

type randSource struct {
	sample *randProxy
}

// randProxy narrows *rand.Rand to the one method Sample needs, so tests can
// supply a fake deterministic source without importing math/rand directly.
type randProxy struct {
	intn func(n int) int
}

// NewProvider materializes a provider over a fixed conversation set. The
// set must already be frozen (spec.md §3: "a conversation is immutable
// after dataset finalization").
func NewProvider(conversations []model.Conversation, root *randseed.Root) *Provider {
	byID := make(map[string]int, len(conversations))
	for i, c := range conversations {
		byID[c.ID] = i
	}
	sampleRNG := root.Derive(randseed.IdentSampleStrategy)
	p := &Provider{
		conversations: conversations,
		byID:          byID,
		rng:           &randSource{sample: &randProxy{intn: sampleRNG.Intn}},
	}
	p.shuffleOrder = shuffledIndices(len(conversations), sampleRNG.Intn)
	return p
}

func shuffledIndices(n int, intn func(int) int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := intn(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// GetByID looks up a conversation by id, failing with DatasetError if
// absent.
func (p *Provider) GetByID(id string) (model.Conversation, error) {
	idx, ok := p.byID[id]
	if !ok {
		return model.Conversation{}, &bmerrors.DatasetError{Message: "conversation not found: " + id}
	}
	return p.conversations[idx], nil
}

// Count returns the number of conversations in the pool.
func (p *Provider) Count() int { return len(p.conversations) }

// All returns the full conversation set in dataset order, read-only. Used
// by fixed-schedule replay, which needs every conversation's
// TimestampMs rather than a sampled subset.
func (p *Provider) All() []model.Conversation { return p.conversations }

// Sample draws one conversation according to strategy, deterministically
// under the provider's seeded RNG.
func (p *Provider) Sample(strategy model.SampleStrategy) (model.Conversation, error) {
	if len(p.conversations) == 0 {
		return model.Conversation{}, &bmerrors.DatasetError{Message: "dataset is empty"}
	}
	switch strategy {
	case model.SampleRandom:
		idx := p.rng.sample.intn(len(p.conversations))
		return p.conversations[idx], nil
	case model.SampleSequential:
		p.mu.Lock()
		idx := p.seqCursor % len(p.conversations)
		p.seqCursor++
		p.mu.Unlock()
		return p.conversations[idx], nil
	case model.SampleShuffle:
		p.mu.Lock()
		idx := p.shuffleOrder[p.shuffleIdx%len(p.shuffleOrder)]
		p.shuffleIdx++
		p.mu.Unlock()
		return p.conversations[idx], nil
	default:
		return model.Conversation{}, &bmerrors.DatasetError{Message: "unknown sample strategy: " + string(strategy)}
	}
}

// LookupRequest/LookupResponse are the request/reply payloads exchanged on
// the dataset lookup Replier, per spec.md §4.1 ("dataset lookup by
// conversation id").
type LookupRequest struct {
	ConversationID string
}

type LookupResponse struct {
	Conversation model.Conversation
	Err          error
}

// ServeLookups answers GetByID calls delivered over replier until ctx is
// cancelled, so workers in other goroutines never touch the Provider
// directly.
func (p *Provider) ServeLookups(ctx context.Context, replier *bus.Replier) {
	replier.Serve(ctx, func(request any) any {
		req, ok := request.(LookupRequest)
		if !ok {
			return LookupResponse{Err: &bmerrors.DatasetError{Message: "malformed lookup request"}}
		}
		conv, err := p.GetByID(req.ConversationID)
		return LookupResponse{Conversation: conv, Err: err}
	})
}

// WithReplier binds the Replier ServeLookups answers on when Provider
// runs as a registered service, so the Runner only needs to know the
// Provider, not its wiring.
func (p *Provider) WithReplier(replier *bus.Replier) *Provider {
	p.lookupReplier = replier
	return p
}

// Init/Start/Stop/Cleanup make *Provider itself satisfy service.Service.
func (p *Provider) Init(ctx context.Context) error { return nil }
func (p *Provider) Start(ctx context.Context) error {
	if p.lookupReplier == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	p.ServeLookups(ctx, p.lookupReplier)
	return ctx.Err()
}
func (p *Provider) Stop(ctx context.Context) error { return nil }
func (p *Provider) Cleanup() error { return nil }
