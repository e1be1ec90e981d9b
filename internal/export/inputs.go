package export

import (
	"encoding/json"
	"fmt"

	"github.com/aiperf-core/genaiperf/internal/endpoint"
	"github.com/aiperf-core/genaiperf/internal/model"
)

// BuildInputsDocument formats every turn of every conversation through
// the run's codec and assembles the inputs.json shape, independent of
// concurrency or worker/processor count — the determinism property
// spec.md §8 requires. Conversation order is whatever the caller passes
// (the provider's generation order), not sampling order.
func BuildInputsDocument(conversations []model.Conversation, codec endpoint.Codec, rc endpoint.RequestContext) (InputsDocument, error) {
	doc := InputsDocument{Data: make([]SessionPayloads, 0, len(conversations))}
	for _, conv := range conversations {
		session := SessionPayloads{SessionID: conv.ID, Payloads: make([]map[string]any, 0, len(conv.Turns))}
		for _, turn := range conv.Turns {
			formatted, err := codec.Formatter.FormatRequest(turn, rc)
			if err != nil {
				return InputsDocument{}, fmt.Errorf("export: format request for conversation %s: %w", conv.ID, err)
			}
			var body map[string]any
			if err := json.Unmarshal(formatted.Body, &body); err != nil {
				return InputsDocument{}, fmt.Errorf("export: decode formatted body for conversation %s: %w", conv.ID, err)
			}
			session.Payloads = append(session.Payloads, body)
		}
		doc.Data = append(doc.Data, session)
	}
	return doc, nil
}
