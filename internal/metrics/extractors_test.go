package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aiperf-core/genaiperf/internal/model"
)

type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if r == ' ' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

func sampleParsed() *model.ParsedResponse {
	return &model.ParsedResponse{
		FinalText: "hello there friend",
		Chunks: []model.Chunk{
			{ReceivedNs: 1_000_000_000, DeltaText: "hello"},
			{ReceivedNs: 1_050_000_000, DeltaText: " there"},
			{ReceivedNs: 1_100_000_000, DeltaText: " friend"},
		},
	}
}

func TestExtractRequestLatency(t *testing.T) {
	raw := &model.RawRequestRecord{StartNs: 1_000_000_000, EndNs: 1_200_000_000}
	v, ok := extractRequestLatency(nil, raw, nil, false)
	require.True(t, ok)
	require.InDelta(t, 200.0, v.Scalar, 1e-9)
}

func TestExtractTimeToFirstToken(t *testing.T) {
	parsed := sampleParsed()
	raw := &model.RawRequestRecord{StartNs: 900_000_000}
	v, ok := extractTimeToFirstToken(parsed, raw, nil, false)
	require.True(t, ok)
	require.InDelta(t, 100.0, v.Scalar, 1e-9)
}

func TestExtractInterChunkLatencyList(t *testing.T) {
	parsed := sampleParsed()
	raw := &model.RawRequestRecord{}
	v, ok := extractInterChunkLatency(parsed, raw, nil, false)
	require.True(t, ok)
	require.True(t, v.IsList)
	require.Len(t, v.List, 2)
	require.InDelta(t, 50.0, v.List[0], 1e-9)
	require.InDelta(t, 50.0, v.List[1], 1e-9)
}

func TestExtractOutputTokenCountFallsBackToTokenizer(t *testing.T) {
	parsed := sampleParsed()
	raw := &model.RawRequestRecord{}
	v, ok := extractOutputTokenCount(parsed, raw, wordTokenizer{}, false)
	require.True(t, ok)
	require.Equal(t, float64(3), v.Scalar)
}

func TestExtractOutputTokenCountPrefersUsage(t *testing.T) {
	parsed := &model.ParsedResponse{Usage: &model.Usage{CompletionTokens: 7}}
	raw := &model.RawRequestRecord{}
	v, ok := extractOutputTokenCount(parsed, raw, wordTokenizer{}, true)
	require.True(t, ok)
	require.Equal(t, float64(7), v.Scalar)
}

func TestExtractOutputTokenThroughputPerUser(t *testing.T) {
	ack := int64(1_000_000_000)
	raw := &model.RawRequestRecord{AckNs: &ack, EndNs: 2_000_000_000}
	parsed := &model.ParsedResponse{Usage: &model.Usage{CompletionTokens: 10}}
	v, ok := extractOutputTokenThroughputPerUser(parsed, raw, nil, true)
	require.True(t, ok)
	require.InDelta(t, 10.0, v.Scalar, 1e-9)
}

func TestRegistryResolveDerivedMetrics(t *testing.T) {
	reg := NewRegistry()
	resolved, err := reg.ResolveDerived(DerivedContext{
		CompletedCount:    100,
		GoodCount:         80,
		TotalOutputTokens: 5000,
		DurationSeconds:   10,
	})
	require.NoError(t, err)
	require.InDelta(t, 10.0, resolved["request_throughput"], 1e-9)
	require.InDelta(t, 500.0, resolved["output_token_throughput"], 1e-9)
	require.InDelta(t, 8.0, resolved["goodput"], 1e-9)
}

func TestProcessorPoolEmitsMetadataOnlyForFailedRecord(t *testing.T) {
	pool := NewProcessorPool(NewRegistry(), nil, false, nil, nil)
	dict := pool.process(model.RawRequestRecord{
		XRequestID:       "r1",
		Status:           "error",
		InputSequenceLen: 42,
		Error:            &model.ErrorDetails{Type: "HTTPError", Code: 500},
	})
	require.Equal(t, "r1", dict.XRequestID)
	require.Contains(t, dict.Values, "error_isl")
	require.Equal(t, float64(42), dict.Values["error_isl"].Scalar)
	require.NotContains(t, dict.Values, "request_latency")
}
