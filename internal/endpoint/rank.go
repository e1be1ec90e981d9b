package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aiperf-core/genaiperf/internal/model"
)

// rankRequestBody is the wire shape for a generic rerank endpoint: one
// query plus the candidate documents to score against it. No example
// SDK in the pack models this shape, so the envelope is defined
// directly against encoding/json, matching the field names widely used
// by rerank servers (query/documents/top_n).
type rankRequestBody struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rankResponseBody struct {
	Results []rankResult `json:"results"`
	Usage   *struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// RankFormatter builds requests against a generic rerank endpoint. The
// Turn's text is the query; PriorAssistant is repurposed to carry the
// candidate document set for this attempt.
type RankFormatter struct{}

func (RankFormatter) FormatRequest(turn model.Turn, rc RequestContext) (FormattedRequest, error) {
	req := rankRequestBody{
		Model:     firstNonEmpty(turn.Model, rc.Model),
		Query:     turn.Text,
		Documents: rc.PriorAssistant,
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
	return FormattedRequest{Path: "/rank", Headers: headers, Body: body, Streaming: false}, nil
}

// RankParser parses generic rerank responses, never streamed.
type RankParser struct{}

func (RankParser) ParseNonStreaming(headers map[string]string, body []byte) (model.ParsedResponse, error) {
	var resp rankResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.ParsedResponse{}, fmt.Errorf("rank response parse: %w", err)
	}
	pr := model.ParsedResponse{}
	for _, r := range resp.Results {
		pr.FinalText += fmt.Sprintf("%d:%.6f;", r.Index, r.RelevanceScore)
	}
	if resp.Usage != nil {
		pr.Usage = &model.Usage{PromptTokens: resp.Usage.PromptTokens, TotalTokens: resp.Usage.TotalTokens}
	}
	return pr, nil
}

func (p RankParser) ParseStream(ctx context.Context, body io.Reader, onChunk func(model.Chunk), onAck func()) (model.ParsedResponse, error) {
	raw, err := readAll(body)
	if err != nil {
		return model.ParsedResponse{}, err
	}
	onAck()
	return p.ParseNonStreaming(nil, raw)
}
