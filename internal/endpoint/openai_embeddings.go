package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aiperf-core/genaiperf/internal/model"
)

// EmbeddingsFormatter builds /embeddings request bodies. Embeddings have
// no notion of assistant history, so prior turns are ignored.
type EmbeddingsFormatter struct{}

func (EmbeddingsFormatter) FormatRequest(turn model.Turn, rc RequestContext) (FormattedRequest, error) {
	req := openai.EmbeddingRequest{
		Input: []string{turn.Text},
		Model: openai.EmbeddingModel(firstNonEmpty(turn.Model, rc.Model)),
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
	// Embeddings are always answered in a single buffered response;
	// servers do not stream them per spec.md §6.
	return FormattedRequest{Path: "/embeddings", Headers: headers, Body: body, Streaming: false}, nil
}

// EmbeddingsParser parses /embeddings responses. ParseStream is never
// exercised in practice (embeddings never stream) but is implemented to
// satisfy the Parser contract by draining and delegating.
type EmbeddingsParser struct{}

func (EmbeddingsParser) ParseNonStreaming(headers map[string]string, body []byte) (model.ParsedResponse, error) {
	var resp openai.EmbeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.ParsedResponse{}, fmt.Errorf("embeddings response parse: %w", err)
	}
	pr := model.ParsedResponse{}
	if resp.Usage.TotalTokens > 0 || resp.Usage.PromptTokens > 0 {
		pr.Usage = &model.Usage{
			PromptTokens: resp.Usage.PromptTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}
	return pr, nil
}

func (p EmbeddingsParser) ParseStream(ctx context.Context, body io.Reader, onChunk func(model.Chunk), onAck func()) (model.ParsedResponse, error) {
	raw, err := readAll(body)
	if err != nil {
		return model.ParsedResponse{}, err
	}
	onAck()
	return p.ParseNonStreaming(nil, raw)
}
