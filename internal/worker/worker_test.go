package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/clock"
	"github.com/aiperf-core/genaiperf/internal/config"
	"github.com/aiperf-core/genaiperf/internal/dataset"
	"github.com/aiperf-core/genaiperf/internal/endpoint"
	"github.com/aiperf-core/genaiperf/internal/logging"
	"github.com/aiperf-core/genaiperf/internal/model"
	"github.com/aiperf-core/genaiperf/internal/randseed"
)

func testLogger() *logging.Logger { return logging.New(logging.Config{Level: "error"}) }

func newTestPool(t *testing.T, serverURL string, streaming bool, rawRecords *bus.Queue) (*Pool, *dataset.Provider, context.CancelFunc) {
	cfg := &config.Config{
		Model:                 "test-model",
		URL:                   serverURL,
		EndpointType:          config.EndpointOpenAIChat,
		Streaming:             streaming,
		RequestTimeoutSeconds: 5,
	}
	codec, ok := endpoint.ByType("chat")
	require.True(t, ok)

	convs := []model.Conversation{{
		ID: "conv-1",
		Turns: []model.Turn{
			{Role: "user", Text: "hello"},
			{Role: "user", Text: "again"},
		},
	}}
	provider := dataset.NewProvider(convs, randseed.NewRoot(1))
	replier := bus.NewReplier(4)

	ctx, cancel := context.WithCancel(context.Background())
	go provider.ServeLookups(ctx, replier)

	credits := bus.NewQueue(4)
	pool := NewPool(cfg, codec, replier, credits, rawRecords, http.DefaultClient, clock.Real{}, randseed.NewRoot(1), testLogger())
	return pool, provider, cancel
}

func TestAttemptTurnNonStreamingSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "resp-1",
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "hi there"}}},
			"usage":   map[string]any{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		})
	}))
	defer srv.Close()

	records := bus.NewQueue(4)
	pool, _, cancel := newTestPool(t, srv.URL, false, records)
	defer cancel()

	cred := model.Credit{CreditID: "c1", ConversationID: "conv-1", Phase: model.PhaseProfiling}
	record := pool.attemptTurn(context.Background(), 0, cred, model.Conversation{ID: "conv-1"}, 0, model.Turn{Role: "user", Text: "hello"}, "corr-1", nil)

	require.Equal(t, "ok", record.Status)
	require.NotNil(t, record.RawResponse)
	require.Equal(t, "hi there", record.RawResponse.FinalText)
	require.LessOrEqual(t, record.StartNs, record.EndNs)
}

func TestHandleCreditMultiTurnSharesCorrelationID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "reply"}}},
		})
	}))
	defer srv.Close()

	records := bus.NewQueue(4)
	pool, _, cancel := newTestPool(t, srv.URL, false, records)
	defer cancel()

	cred := model.Credit{CreditID: "c1", ConversationID: "conv-1", Phase: model.PhaseProfiling}
	go pool.handleCredit(context.Background(), 0, cred, pool.turnDelayRoot.Derive(randseed.IdentTurnDelay))

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	first, ok := records.Pull(ctx)
	require.True(t, ok)
	second, ok := records.Pull(ctx)
	require.True(t, ok)

	r1 := first.Payload.(model.RawRequestRecord)
	r2 := second.Payload.(model.RawRequestRecord)
	require.Equal(t, 0, r1.TurnIndex)
	require.Equal(t, 1, r2.TurnIndex)
	require.Equal(t, r1.XCorrelationID, r2.XCorrelationID)
}

func TestAttemptTurnCancellationInjection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	records := bus.NewQueue(4)
	pool, _, cancel := newTestPool(t, srv.URL, false, records)
	defer cancel()

	delay := int64(20 * time.Millisecond)
	cred := model.Credit{CreditID: "c1", ConversationID: "conv-1", Phase: model.PhaseProfiling, CancelAfterNs: &delay}
	record := pool.attemptTurn(context.Background(), 0, cred, model.Conversation{ID: "conv-1"}, 0, model.Turn{Role: "user", Text: "hello"}, "corr-1", nil)

	require.Equal(t, "cancelled", record.Status)
	require.True(t, record.WasCancelled)
	require.NotNil(t, record.Error)
	require.Equal(t, "RequestCancellationError", record.Error.Type)
	require.Equal(t, 499, record.Error.Code)
}
