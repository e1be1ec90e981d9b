package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/aiperf-core/genaiperf/internal/bmerrors"
	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/dataset"
	"github.com/aiperf-core/genaiperf/internal/endpoint"
	"github.com/aiperf-core/genaiperf/internal/model"
)

// handleCredit runs the full per-credit procedure of spec.md §4.4: look
// up the conversation, then loop its turns, accumulating assistant
// history and pacing inter-turn delay, emitting one RawRequestRecord per
// turn attempted.
func (p *Pool) handleCredit(ctx context.Context, workerID int, cred model.Credit, turnDelayRNG *rand.Rand) {
	resp, err := p.lookup.Call(ctx, dataset.LookupRequest{ConversationID: cred.ConversationID})
	if err != nil {
		return // ctx cancelled mid-lookup; nothing to record
	}
	lookupResp, ok := resp.(dataset.LookupResponse)
	if !ok || lookupResp.Err != nil {
		p.emitLookupFailure(ctx, cred, workerID, lookupResp.Err)
		return
	}
	conv := lookupResp.Conversation
	correlationID := newRequestIDs()

	var priorAssistant []string
	for turnIndex, turn := range conv.Turns {
		if turnIndex > 0 {
			delay := sampleTurnDelay(turnDelayRNG, p.cfg.ConversationTurnDelayMean, p.cfg.ConversationTurnDelayStdDev, p.cfg.ConversationTurnDelayRatio)
			if delay > 0 {
				select {
				case <-p.clk.After(delay):
				case <-ctx.Done():
					return
				}
			}
		}

		record := p.attemptTurn(ctx, workerID, cred, conv, turnIndex, turn, correlationID, priorAssistant)
		if record.RawResponse != nil && record.RawResponse.FinalText != "" {
			priorAssistant = append(priorAssistant, record.RawResponse.FinalText)
		}

		if err := p.rawRecords.Push(ctx, bus.Message{Kind: bus.KindRawRecord, Payload: record}); err != nil {
			return
		}
		if record.Status != "ok" {
			return // terminal per spec.md §4.4 "no retries"; stop the conversation here
		}
	}
}

// attemptTurn issues one HTTP request/response exchange for a single
// turn and returns its timing snapshot.
func (p *Pool) attemptTurn(ctx context.Context, workerID int, cred model.Credit, conv model.Conversation, turnIndex int, turn model.Turn, correlationID string, priorAssistant []string) model.RawRequestRecord {
	requestID := newRequestIDs()
	rc := endpoint.RequestContext{
		Model:          p.cfg.Model,
		PriorAssistant: priorAssistant,
		Streaming:      p.cfg.Streaming,
		APIKey:         p.cfg.APIKey,
		UserHeaders:    p.cfg.UserHeaders,
	}
	record := model.RawRequestRecord{
		XRequestID:     requestID,
		XCorrelationID: correlationID,
		ConversationID: conv.ID,
		TurnIndex:      turnIndex,
		WorkerID:       workerID,
		Phase:          cred.Phase,
	}
	if turn.InputLength > 0 {
		record.InputSequenceLen = turn.InputLength
	}

	formatted, err := p.codec.FormatRequest(turn, rc)
	if err != nil {
		record.StartNs = p.clk.NowNs()
		record.EndNs = record.StartNs
		record.Status = "error"
		record.Error = classify(&bmerrors.ResponseParseError{Err: err})
		return record
	}

	attemptCtx := ctx
	var cancelTimer *time.Timer
	if p.cfg.RequestTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, time.Duration(p.cfg.RequestTimeoutSeconds*float64(time.Second)))
		defer cancel()
	}
	if cred.CancelAfterNs != nil {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithCancel(attemptCtx)
		defer cancel()
		cancelTimer = time.AfterFunc(time.Duration(*cred.CancelAfterNs), cancel)
		defer cancelTimer.Stop()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, p.cfg.URL+formatted.Path, bytes.NewReader(formatted.Body))
	if err != nil {
		record.StartNs = p.clk.NowNs()
		record.EndNs = record.StartNs
		record.Status = "error"
		record.Error = classify(&bmerrors.TransportError{Op: "build-request", Err: err})
		return record
	}
	for k, v := range formatted.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("X-Correlation-ID", correlationID)

	record.StartNs = p.clk.NowNs()
	httpResp, err := p.httpClient.Do(req)
	if err != nil {
		record.EndNs = p.clk.NowNs()
		wasCancelled := cred.CancelAfterNs != nil && errors.Is(attemptCtx.Err(), context.Canceled)
		if wasCancelled {
			cancelNs := record.StartNs + *cred.CancelAfterNs
			record.WasCancelled = true
			record.CancellationTimeNs = &cancelNs
			record.Status = "cancelled"
			record.Error = classify(bmerrors.NewRequestCancellationError())
			return record
		}
		record.Status = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			record.Error = classify(&bmerrors.RequestTimeout{TimeoutSeconds: p.cfg.RequestTimeoutSeconds})
		} else {
			record.Error = classify(&bmerrors.TransportError{Op: "do-request", Err: err})
		}
		return record
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(httpResp.Body)
		record.EndNs = p.clk.NowNs()
		record.AckNs = &record.EndNs
		record.Status = "error"
		record.Error = classify(&bmerrors.HTTPError{Code: httpResp.StatusCode, Body: string(body)})
		return record
	}

	parsed, ackNs, parseErr := p.consumeBody(attemptCtx, httpResp)
	record.EndNs = p.clk.NowNs()
	if ackNs != 0 {
		record.AckNs = &ackNs
	}
	if parseErr != nil {
		wasCancelled := cred.CancelAfterNs != nil && errors.Is(attemptCtx.Err(), context.Canceled)
		if wasCancelled {
			cancelNs := record.StartNs + *cred.CancelAfterNs
			record.WasCancelled = true
			record.CancellationTimeNs = &cancelNs
			record.Status = "cancelled"
			record.Error = classify(bmerrors.NewRequestCancellationError())
			return record
		}
		record.Status = "error"
		record.Error = classify(&bmerrors.ResponseParseError{Err: parseErr})
		return record
	}

	record.RawResponse = &parsed
	record.Status = "ok"
	return record
}

// consumeBody drains and parses the response body, streaming or not,
// returning the ack timestamp (first-byte time for streaming, end time
// for buffered).
func (p *Pool) consumeBody(ctx context.Context, httpResp *http.Response) (model.ParsedResponse, int64, error) {
	if !p.cfg.Streaming {
		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return model.ParsedResponse{}, 0, err
		}
		parsed, err := p.codec.ParseNonStreaming(flattenHeaders(httpResp.Header), body)
		endNs := p.clk.NowNs()
		return parsed, endNs, err
	}

	var ackNs int64
	var chunks []model.Chunk
	parsed, err := p.codec.ParseStream(ctx, httpResp.Body, func(chunk model.Chunk) {
		chunks = append(chunks, chunk)
	}, func() {
		ackNs = p.clk.NowNs()
	})
	parsed.Chunks = chunks
	return parsed, ackNs, err
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// classify wraps err into model.ErrorDetails tagged with its bmerrors
// kind, per spec.md §7's "API Error Summary" reporting.
func classify(err error) *model.ErrorDetails {
	code := 0
	var httpErr *bmerrors.HTTPError
	var cancelErr *bmerrors.RequestCancellationError
	switch {
	case errors.As(err, &httpErr):
		code = httpErr.Code
	case errors.As(err, &cancelErr):
		code = cancelErr.Code
	}
	return &model.ErrorDetails{Code: code, Type: bmerrors.Kind(err), Message: err.Error()}
}

// emitLookupFailure records a DatasetError when a credit names an
// unknown conversation id.
func (p *Pool) emitLookupFailure(ctx context.Context, cred model.Credit, workerID int, cause error) {
	if cause == nil {
		cause = &bmerrors.DatasetError{Message: "lookup failed"}
	}
	now := p.clk.NowNs()
	record := model.RawRequestRecord{
		XRequestID:     newRequestIDs(),
		ConversationID: cred.ConversationID,
		WorkerID:       workerID,
		Phase:          cred.Phase,
		StartNs:        now,
		EndNs:          now,
		Status:         "error",
		Error:          classify(cause),
	}
	_ = p.rawRecords.Push(ctx, bus.Message{Kind: bus.KindRawRecord, Payload: record})
}
