package metrics

import (
	"strings"

	"github.com/aiperf-core/genaiperf/internal/model"
)

// baseRecordSpecs implements spec.md §4.5's base per-request metrics.
func baseRecordSpecs() []RecordSpec {
	return []RecordSpec{
		{Tag: "input_sequence_length", Unit: "tokens", Extract: extractInputSequenceLength},
		{Tag: "request_latency", Unit: "ms", Extract: extractRequestLatency},
		{Tag: "time_to_first_token", Unit: "ms", Extract: extractTimeToFirstToken},
		{Tag: "time_to_first_output_token", Unit: "ms", Extract: extractTimeToFirstOutputToken},
		{Tag: "time_to_second_token", Unit: "ms", Extract: extractTimeToSecondToken},
		{Tag: "inter_chunk_latency", Unit: "ms", Extract: extractInterChunkLatency},
		{Tag: "inter_token_latency", Unit: "ms", Extract: extractInterTokenLatency},
		{Tag: "output_token_count", Unit: "tokens", Extract: extractOutputTokenCount},
		{Tag: "reasoning_token_count", Unit: "tokens", Extract: extractReasoningTokenCount},
		{Tag: "output_sequence_length", Unit: "tokens", Extract: extractOutputSequenceLength},
		{Tag: "output_token_throughput_per_user", Unit: "tokens/sec/user", Extract: extractOutputTokenThroughputPerUser},
	}
}

func scalar(v float64, unit string) (model.MetricValue, bool) {
	return model.MetricValue{Scalar: v, Unit: unit}, true
}

func extractInputSequenceLength(parsed *model.ParsedResponse, raw *model.RawRequestRecord, tok Tokenizer, preferServerUsage bool) (model.MetricValue, bool) {
	if raw.InputSequenceLen > 0 {
		return scalar(float64(raw.InputSequenceLen), "tokens")
	}
	if parsed != nil && parsed.Usage != nil {
		return scalar(float64(parsed.Usage.PromptTokens), "tokens")
	}
	return model.MetricValue{}, false
}

func extractRequestLatency(parsed *model.ParsedResponse, raw *model.RawRequestRecord, tok Tokenizer, preferServerUsage bool) (model.MetricValue, bool) {
	return scalar(float64(raw.EndNs-raw.StartNs)/1e6, "ms")
}

func extractTimeToFirstToken(parsed *model.ParsedResponse, raw *model.RawRequestRecord, tok Tokenizer, preferServerUsage bool) (model.MetricValue, bool) {
	if parsed == nil || len(parsed.Chunks) == 0 {
		return model.MetricValue{}, false
	}
	return scalar(float64(parsed.Chunks[0].ReceivedNs-raw.StartNs)/1e6, "ms")
}

func extractTimeToFirstOutputToken(parsed *model.ParsedResponse, raw *model.RawRequestRecord, tok Tokenizer, preferServerUsage bool) (model.MetricValue, bool) {
	if parsed == nil {
		return model.MetricValue{}, false
	}
	for _, c := range parsed.Chunks {
		if c.DeltaText != "" {
			return scalar(float64(c.ReceivedNs-raw.StartNs)/1e6, "ms")
		}
	}
	return model.MetricValue{}, false
}

func extractTimeToSecondToken(parsed *model.ParsedResponse, raw *model.RawRequestRecord, tok Tokenizer, preferServerUsage bool) (model.MetricValue, bool) {
	if parsed == nil || len(parsed.Chunks) < 2 {
		return model.MetricValue{}, false
	}
	return scalar(float64(parsed.Chunks[1].ReceivedNs-raw.StartNs)/1e6, "ms")
}

func extractInterChunkLatency(parsed *model.ParsedResponse, raw *model.RawRequestRecord, tok Tokenizer, preferServerUsage bool) (model.MetricValue, bool) {
	if parsed == nil || len(parsed.Chunks) < 2 {
		return model.MetricValue{}, false
	}
	deltas := make([]float64, 0, len(parsed.Chunks)-1)
	for i := 1; i < len(parsed.Chunks); i++ {
		deltas = append(deltas, float64(parsed.Chunks[i].ReceivedNs-parsed.Chunks[i-1].ReceivedNs)/1e6)
	}
	return model.MetricValue{List: deltas, IsList: true, Unit: "ms"}, true
}

func extractInterTokenLatency(parsed *model.ParsedResponse, raw *model.RawRequestRecord, tok Tokenizer, preferServerUsage bool) (model.MetricValue, bool) {
	if parsed == nil || len(parsed.Chunks) < 2 {
		return model.MetricValue{}, false
	}
	outTokens, ok := extractOutputTokenCount(parsed, raw, tok, preferServerUsage)
	if !ok || outTokens.Scalar <= 1 {
		return model.MetricValue{}, false
	}
	first := parsed.Chunks[0].ReceivedNs
	last := parsed.Chunks[len(parsed.Chunks)-1].ReceivedNs
	return scalar(float64(last-first)/1e6/(outTokens.Scalar-1), "ms")
}

func extractOutputTokenCount(parsed *model.ParsedResponse, raw *model.RawRequestRecord, tok Tokenizer, preferServerUsage bool) (model.MetricValue, bool) {
	if parsed == nil {
		return model.MetricValue{}, false
	}
	if preferServerUsage && parsed.Usage != nil && parsed.Usage.CompletionTokens > 0 {
		return scalar(float64(parsed.Usage.CompletionTokens), "tokens")
	}
	if tok != nil {
		text := concatenateDeltas(parsed)
		if text == "" && parsed.FinalText != "" {
			text = parsed.FinalText
		}
		return scalar(float64(tok.Count(text)), "tokens")
	}
	if parsed.Usage != nil {
		return scalar(float64(parsed.Usage.CompletionTokens), "tokens")
	}
	return model.MetricValue{}, false
}

func extractReasoningTokenCount(parsed *model.ParsedResponse, raw *model.RawRequestRecord, tok Tokenizer, preferServerUsage bool) (model.MetricValue, bool) {
	if parsed == nil || tok == nil {
		return scalar(0, "tokens")
	}
	var sb strings.Builder
	for _, c := range parsed.Chunks {
		sb.WriteString(c.DeltaReasoning)
	}
	if sb.Len() == 0 && parsed.ReasoningText != "" {
		sb.WriteString(parsed.ReasoningText)
	}
	return scalar(float64(tok.Count(sb.String())), "tokens")
}

func extractOutputSequenceLength(parsed *model.ParsedResponse, raw *model.RawRequestRecord, tok Tokenizer, preferServerUsage bool) (model.MetricValue, bool) {
	out, ok := extractOutputTokenCount(parsed, raw, tok, preferServerUsage)
	if !ok {
		return model.MetricValue{}, false
	}
	reasoning, _ := extractReasoningTokenCount(parsed, raw, tok, preferServerUsage)
	return scalar(out.Scalar+reasoning.Scalar, "tokens")
}

func extractOutputTokenThroughputPerUser(parsed *model.ParsedResponse, raw *model.RawRequestRecord, tok Tokenizer, preferServerUsage bool) (model.MetricValue, bool) {
	if raw.AckNs == nil {
		return model.MetricValue{}, false
	}
	windowSec := float64(raw.EndNs-*raw.AckNs) / 1e9
	if windowSec <= 0 {
		return model.MetricValue{}, false
	}
	out, ok := extractOutputTokenCount(parsed, raw, tok, preferServerUsage)
	if !ok {
		return model.MetricValue{}, false
	}
	return scalar(out.Scalar/windowSec, "tokens/sec/user")
}

func concatenateDeltas(parsed *model.ParsedResponse) string {
	if len(parsed.Chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, c := range parsed.Chunks {
		sb.WriteString(c.DeltaText)
	}
	return sb.String()
}
