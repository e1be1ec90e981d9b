package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aiperf-core/genaiperf/internal/model"
)

// ChatFormatter builds OpenAI /chat/completions request bodies, carrying
// forward prior assistant turns for multi-turn history (spec.md §4.4
// step 2).
type ChatFormatter struct{}

func (ChatFormatter) FormatRequest(turn model.Turn, rc RequestContext) (FormattedRequest, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(rc.PriorAssistant)*2+1)
	for _, reply := range rc.PriorAssistant {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: turn.Text})

	req := openai.ChatCompletionRequest{
		Model:     firstNonEmpty(turn.Model, rc.Model),
		Messages:  messages,
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
	return FormattedRequest{Path: "/chat/completions", Headers: headers, Body: body, Streaming: rc.Streaming}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ChatParser parses both a buffered JSON chat-completion response and a
// streamed SSE chat-completion response into model.ParsedResponse.
type ChatParser struct{}

func (ChatParser) ParseNonStreaming(headers map[string]string, body []byte) (model.ParsedResponse, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.ParsedResponse{}, fmt.Errorf("chat response parse: %w", err)
	}
	pr := model.ParsedResponse{}
	if len(resp.Choices) > 0 {
		pr.FinalText = resp.Choices[0].Message.Content
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

func (ChatParser) ParseStream(ctx context.Context, body io.Reader, onChunk func(model.Chunk), onAck func()) (model.ParsedResponse, error) {
	pr := model.ParsedResponse{}
	now := nowNs()
	err := scanSSE(ctx, body, func() { onAck() }, func(payload []byte) error {
		var ev openai.ChatCompletionStreamResponse
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("chat stream event parse: %w", err)
		}
		if len(ev.Choices) > 0 {
			delta := ev.Choices[0]
			chunk := model.Chunk{
				ReceivedNs:   now(),
				DeltaText:    delta.Delta.Content,
				FinishReason: string(delta.FinishReason),
			}
			pr.FinalText += delta.Delta.Content
			onChunk(chunk)
		}
		if ev.Usage != nil {
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
