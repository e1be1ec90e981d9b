package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aiperf-core/genaiperf/internal/bmerrors"
	"github.com/aiperf-core/genaiperf/internal/model"
)

// singleTurnLine decodes one line of a single_turn or random_pool input
// file, per spec.md §6.
type singleTurnLine struct {
	Texts     []string `json:"texts"`
	Text      string   `json:"text"`
	Image     string   `json:"image"`
	Audio     string   `json:"audio"`
	Video     string   `json:"video"`
	MaxTokens int      `json:"max_tokens"`
}

// mooncakeTraceLine decodes one line of a mooncake_trace input file.
type mooncakeTraceLine struct {
	TimestampMs  int64   `json:"timestamp"`
	InputLength  int     `json:"input_length"`
	TextInput    string  `json:"text_input"`
	OutputLength int     `json:"output_length"`
	HashIDs      []int64 `json:"hash_ids"`
}

// multiTurnLine decodes one line of a multi_turn input file.
type multiTurnLine struct {
	SessionID string        `json:"session_id"`
	Turns     []turnPayload `json:"turns"`
}

type turnPayload struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	MaxTokens int    `json:"max_tokens"`
	MinTokens int     `json:"min_tokens"`
	IgnoreEOS bool    `json:"ignore_eos"`
	Model     string  `json:"model"`
	DelayAfterMs float64 `json:"delay_after_ms"`
}

// DecodeSingleTurn parses a single_turn or random_pool JSONL stream into
// one-turn conversations.
func DecodeSingleTurn(r io.Reader) ([]model.Conversation, error) {
	var convs []model.Conversation
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	idx := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var l singleTurnLine
		if err := json.Unmarshal(line, &l); err != nil {
			return nil, &bmerrors.DatasetError{Message: fmt.Sprintf("malformed single_turn line %d: %v", idx, err)}
		}
		text := l.Text
		if text == "" && len(l.Texts) > 0 {
			text = l.Texts[0]
		}
		convs = append(convs, model.Conversation{
			ID: fmt.Sprintf("line-%06d", idx),
			Turns: []model.Turn{{
				Role:      "user",
				Text:      text,
				MaxTokens: l.MaxTokens,
			}},
		})
		idx++
	}
	if err := scanner.Err(); err != nil {
		return nil, &bmerrors.DatasetError{Message: err.Error()}
	}
	return convs, nil
}

// DecodeMooncakeTrace parses a mooncake_trace JSONL stream, preserving the
// timestamp field needed for fixed-schedule replay.
func DecodeMooncakeTrace(r io.Reader) ([]model.Conversation, error) {
	var convs []model.Conversation
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	idx := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var l mooncakeTraceLine
		if err := json.Unmarshal(line, &l); err != nil {
			return nil, &bmerrors.DatasetError{Message: fmt.Sprintf("malformed mooncake_trace line %d: %v", idx, err)}
		}
		ts := l.TimestampMs
		convs = append(convs, model.Conversation{
			ID:          fmt.Sprintf("trace-%06d", idx),
			TimestampMs: &ts,
			HashIDs:     l.HashIDs,
			Turns: []model.Turn{{
				Role:         "user",
				Text:         l.TextInput,
				InputLength:  l.InputLength,
				OutputLength: l.OutputLength,
			}},
		})
		idx++
	}
	if err := scanner.Err(); err != nil {
		return nil, &bmerrors.DatasetError{Message: err.Error()}
	}
	return convs, nil
}

// DecodeMultiTurn parses a multi_turn JSONL stream.
func DecodeMultiTurn(r io.Reader) ([]model.Conversation, error) {
	var convs []model.Conversation
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	idx := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var l multiTurnLine
		if err := json.Unmarshal(line, &l); err != nil {
			return nil, &bmerrors.DatasetError{Message: fmt.Sprintf("malformed multi_turn line %d: %v", idx, err)}
		}
		id := l.SessionID
		if id == "" {
			id = fmt.Sprintf("session-%06d", idx)
		}
		turns := make([]model.Turn, len(l.Turns))
		for i, tp := range l.Turns {
			role := tp.Role
			if role == "" {
				role = "user"
			}
			turns[i] = model.Turn{
				Role:         role,
				Text:         tp.Text,
				MaxTokens:    tp.MaxTokens,
				MinTokens:    tp.MinTokens,
				IgnoreEOS:    tp.IgnoreEOS,
				Model:        tp.Model,
				DelayAfterMs: tp.DelayAfterMs,
			}
		}
		convs = append(convs, model.Conversation{ID: id, Turns: turns})
		idx++
	}
	if err := scanner.Err(); err != nil {
		return nil, &bmerrors.DatasetError{Message: err.Error()}
	}
	return convs, nil
}

// DecodeByType dispatches to the decoder matching customDatasetType, one
// of "single_turn", "mooncake_trace", "multi_turn", "random_pool".
func DecodeByType(r io.Reader, customDatasetType string) ([]model.Conversation, error) {
	switch customDatasetType {
	case "", "single_turn", "random_pool":
		return DecodeSingleTurn(r)
	case "mooncake_trace":
		return DecodeMooncakeTrace(r)
	case "multi_turn":
		return DecodeMultiTurn(r)
	default:
		return nil, &bmerrors.DatasetError{Message: "unknown custom-dataset-type: " + customDatasetType}
	}
}
