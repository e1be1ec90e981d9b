package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aiperf-core/genaiperf/internal/model"
)

// CompletionsFormatter builds legacy /completions request bodies. Unlike
// chat, there is no message history: the prompt is the turn text alone,
// so multi-turn conversations are not meaningful against this endpoint
// type (spec.md §6 notes completions is single-turn only).
type CompletionsFormatter struct{}

func (CompletionsFormatter) FormatRequest(turn model.Turn, rc RequestContext) (FormattedRequest, error) {
	req := openai.CompletionRequest{
		Model:     firstNonEmpty(turn.Model, rc.Model),
		Prompt:    turn.Text,
		MaxTokens: turn.MaxTokens,
		Stream:    rc.Streaming,
	}
	if rc.Streaming {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return FormattedRequest{}, err
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if rc.APIKey != "" {
		headers["Authorization"] = "Bearer " + rc.APIKey
	}
	for k, v := range rc.UserHeaders {
		headers[k] = v
	}
	return FormattedRequest{Path: "/completions", Headers: headers, Body: body, Streaming: rc.Streaming}, nil
}

// CompletionsParser parses /completions responses, buffered or streamed.
type CompletionsParser struct{}

func (CompletionsParser) ParseNonStreaming(headers map[string]string, body []byte) (model.ParsedResponse, error) {
	var resp openai.CompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.ParsedResponse{}, fmt.Errorf("completions response parse: %w", err)
	}
	pr := model.ParsedResponse{}
	if len(resp.Choices) > 0 {
		pr.FinalText = resp.Choices[0].Text
	}
	if resp.Usage.TotalTokens > 0 || resp.Usage.PromptTokens > 0 {
		pr.Usage = &model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return pr, nil
}

func (CompletionsParser) ParseStream(ctx context.Context, body io.Reader, onChunk func(model.Chunk), onAck func()) (model.ParsedResponse, error) {
	pr := model.ParsedResponse{}
	now := nowNs()
	err := scanSSE(ctx, body, func() { onAck() }, func(payload []byte) error {
		var ev openai.CompletionResponse
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("completions stream event parse: %w", err)
		}
		if len(ev.Choices) > 0 {
			delta := ev.Choices[0]
			pr.FinalText += delta.Text
			onChunk(model.Chunk{
				ReceivedNs:   now(),
				DeltaText:    delta.Text,
				FinishReason: delta.FinishReason,
			})
		}
		if ev.Usage.TotalTokens > 0 || ev.Usage.PromptTokens > 0 {
			pr.Usage = &model.Usage{
				PromptTokens:     ev.Usage.PromptTokens,
				CompletionTokens: ev.Usage.CompletionTokens,
				TotalTokens:      ev.Usage.TotalTokens,
			}
		}
		return nil
	})
	return pr, err
}
