// Package endpoint implements the request/response plugin contract
// spec.md §6 defines for inference endpoints: format a Turn into an HTTP
// request, parse a response (streaming or not) into the normalized
// ParsedResponse shape. Built-ins cover OpenAI chat, completions,
// embeddings, and a generic rank endpoint.
package endpoint

import (
	"context"
	"io"

	"github.com/aiperf-core/genaiperf/internal/model"
)

// RequestContext carries the per-attempt state a Formatter needs beyond
// the current Turn: prior assistant replies for multi-turn history, and
// the configured model name/headers.
type RequestContext struct {
	Model         string
	PriorAssistant []string // accumulated assistant replies, oldest first
	Streaming     bool
	APIKey        string
	UserHeaders   map[string]string
}

// FormattedRequest is what a Formatter produces: enough to issue the HTTP
// call without the worker knowing which endpoint type it's talking to.
type FormattedRequest struct {
	Path      string
	Headers   map[string]string
	Body      []byte
	Streaming bool
}

// Formatter turns one conversation Turn into an HTTP request body, per
// spec.md §6 "format_request(turn, context) -> (path, headers,
// body_bytes, streaming?)".
type Formatter interface {
	FormatRequest(turn model.Turn, rc RequestContext) (FormattedRequest, error)
}

// Parser turns response bytes (buffered, for non-streaming; or an
// io.Reader-backed stream) into a model.ParsedResponse, per spec.md §6
// "parse_response(headers, body_or_stream) -> ParsedResponse | Error".
//
// ParseStream is given a ctx so it can honor cancellation mid-flight
// (spec.md §4.4 step 5, §5 "cancellation semantics").
type Parser interface {
	// ParseNonStreaming parses a complete response body.
	ParseNonStreaming(headers map[string]string, body []byte) (model.ParsedResponse, error)
	// ParseStream parses a streaming body, invoking onChunk as each delta
	// arrives with its receive timestamp already stamped by the parser
	// (wall clock, time.Now). onAck is called exactly once, on the first
	// byte of body.
	ParseStream(ctx context.Context, body io.Reader, onChunk func(model.Chunk), onAck func()) (model.ParsedResponse, error)
}

// Codec bundles a Formatter and Parser for one endpoint type, the unit
// cmd/profile selects via --endpoint-type.
type Codec struct {
	Formatter
	Parser
}

// ByType resolves a Codec for one of the spec's built-in endpoint types:
// "chat", "completions", "embeddings", "rank".
func ByType(endpointType string) (Codec, bool) {
	switch endpointType {
	case "chat":
		return Codec{Formatter: ChatFormatter{}, Parser: ChatParser{}}, true
	case "completions":
		return Codec{Formatter: CompletionsFormatter{}, Parser: CompletionsParser{}}, true
	case "embeddings":
		return Codec{Formatter: EmbeddingsFormatter{}, Parser: EmbeddingsParser{}}, true
	case "rank":
		return Codec{Formatter: RankFormatter{}, Parser: RankParser{}}, true
	default:
		return Codec{}, false
	}
}
