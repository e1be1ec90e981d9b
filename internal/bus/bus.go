// Package bus implements the four transport patterns spec.md §4.1 and §9
// require between services: pub/sub topic broadcast, push/pull bounded
// queues, request/reply, and a command bus with awaited acknowledgements.
//
// Per DESIGN NOTES §9 ("no inheritance — a sum/union of message shapes
// suffices"), every payload that crosses the bus carries a MessageKind
// discriminator instead of relying on Go interface dispatch, so a consumer
// can switch on Kind without caring about the concrete producer.
package bus

import (
	"context"
	"sync"
)

// MessageKind discriminates the closed set of message shapes the pipeline
// exchanges.
type MessageKind string

const (
	KindCredit        MessageKind = "credit"
	KindRawRecord     MessageKind = "raw_record"
	KindMetricRecord  MessageKind = "metric_record"
	KindExportRecord  MessageKind = "export_record"
	KindCreditFreed   MessageKind = "credit_freed"
	KindHeartbeat     MessageKind = "heartbeat"
	KindPhaseChange   MessageKind = "phase_change"
	KindServiceStatus MessageKind = "service_status"
	KindCommand       MessageKind = "command"
	KindCommandAck    MessageKind = "command_ack"
)

// Message is the envelope every transport moves. Payload is the kind-
// specific body (model.Credit, model.RawRequestRecord, ...).
type Message struct {
	Kind    MessageKind
	Payload any
}

// Topic is a pub/sub broadcast channel: every Publish fans out to every
// currently-subscribed reader. Used for control events, status, progress,
// and heartbeats (spec.md §4.1).
type Topic struct {
	mu   sync.RWMutex
	subs []chan Message
}

func NewTopic() *Topic { return &Topic{} }

// Subscribe returns a channel that receives every message published after
// this call. The channel is buffered so a slow subscriber does not stall
// the publisher indefinitely; callers should drain it promptly regardless.
func (t *Topic) Subscribe(buffer int) <-chan Message {
	ch := make(chan Message, buffer)
	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()
	return ch
}

// Publish delivers msg to every current subscriber without blocking on a
// full subscriber buffer — a status/heartbeat topic prioritizes freshness
// over completeness of delivery to a stalled reader.
func (t *Topic) Publish(msg Message) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Close closes every subscriber channel. Call once, after all producers
// have stopped publishing.
func (t *Topic) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		close(ch)
	}
	t.subs = nil
}

// Queue is a bounded push/pull channel: many producers, many consumers,
// each message delivered to exactly one consumer (load-balanced). Used for
// credits scheduler→worker, raw records worker→processor, and metric
// records processor→aggregator (spec.md §4.1).
//
// Producers block on a full queue (the spec's required back-pressure);
// TryPush is offered for producers that must self-throttle instead
// (the scheduler's concurrency gate).
type Queue struct {
	ch chan Message
}

// NewQueue creates a bounded queue of the given capacity. Capacity must be
// >0: unbounded queues are explicitly disallowed by spec.md §9.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Message, capacity)}
}

// Push blocks until there is room, or ctx is done.
func (q *Queue) Push(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPush attempts a non-blocking push, reporting whether it succeeded.
func (q *Queue) TryPush(msg Message) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		return false
	}
}

// Pull blocks until a message is available, the queue is closed, or ctx is
// done.
func (q *Queue) Pull(ctx context.Context) (Message, bool) {
	select {
	case msg, ok := <-q.ch:
		return msg, ok
	case <-ctx.Done():
		return Message{}, false
	}
}

// Len reports the number of messages currently buffered — used by the
// scheduler to observe back-pressure without consuming from the queue.
func (q *Queue) Len() int { return len(q.ch) }

// Close closes the underlying channel. Call once all producers have
// stopped.
func (q *Queue) Close() { close(q.ch) }

// replyEnvelope pairs a request payload with the channel its reply must be
// sent on, implementing request/reply (spec.md §4.1) without a second
// round-trip queue.
type replyEnvelope struct {
	request any
	reply   chan any
}

// Replier serves synchronous request/reply calls, e.g. dataset lookup by
// conversation id.
type Replier struct {
	requests chan replyEnvelope
}

func NewReplier(capacity int) *Replier {
	if capacity <= 0 {
		capacity = 1
	}
	return &Replier{requests: make(chan replyEnvelope, capacity)}
}

// Call sends a request and blocks for the matching reply.
func (r *Replier) Call(ctx context.Context, request any) (any, error) {
	env := replyEnvelope{request: request, reply: make(chan any, 1)}
	select {
	case r.requests <- env:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-env.reply:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Serve runs handler for every incoming request until ctx is done. Intended
// to run in its own goroutine on the replying service.
func (r *Replier) Serve(ctx context.Context, handler func(request any) any) {
	for {
		select {
		case env := <-r.requests:
			env.reply <- handler(env.request)
		case <-ctx.Done():
			return
		}
	}
}

// Command is an instruction the controller issues to a service, paired
// with an acknowledgement channel the issuer waits on.
type Command struct {
	Name    string
	Payload any
	ack     chan error
}

// NewCommand constructs a Command ready to be dispatched via CommandBus.
func NewCommand(name string, payload any) *Command {
	return &Command{Name: name, Payload: payload, ack: make(chan error, 1)}
}

// Ack signals command completion (or failure) back to the issuer.
func (c *Command) Ack(err error) { c.ack <- err }

// CommandBus lets the controller dispatch commands to a named set of
// services and wait for every one to acknowledge.
type CommandBus struct {
	mu       sync.RWMutex
	handlers map[string]chan *Command
}

func NewCommandBus() *CommandBus {
	return &CommandBus{handlers: make(map[string]chan *Command)}
}

// Register returns the inbound command channel for a named service.
func (b *CommandBus) Register(service string, buffer int) <-chan *Command {
	ch := make(chan *Command, buffer)
	b.mu.Lock()
	b.handlers[service] = ch
	b.mu.Unlock()
	return ch
}

// Dispatch sends cmd to service and blocks for its acknowledgement.
func (b *CommandBus) Dispatch(ctx context.Context, service string, cmd *Command) error {
	b.mu.RLock()
	ch, ok := b.handlers[service]
	b.mu.RUnlock()
	if !ok {
		return nil // no such service registered; nothing to command
	}
	select {
	case ch <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast dispatches cmd to every registered service and waits for all
// acknowledgements, returning the first error encountered (if any).
func (b *CommandBus) Broadcast(ctx context.Context, cmd func() *Command) error {
	b.mu.RLock()
	services := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		services = append(services, name)
	}
	b.mu.RUnlock()

	var firstErr error
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, svc := range services {
		wg.Add(1)
		go func(service string) {
			defer wg.Done()
			if err := b.Dispatch(ctx, service, cmd()); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(svc)
	}
	wg.Wait()
	return firstErr
}

// Deduper tracks x_request_id values already seen so consumers stay
// idempotent under the bus's at-least-once delivery guarantee
// (spec.md §4.1).
type Deduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDeduper() *Deduper { return &Deduper{seen: make(map[string]struct{})} }

// SeenBefore records id and reports whether it had already been recorded.
func (d *Deduper) SeenBefore(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	return false
}
