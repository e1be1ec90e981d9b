package endpoint

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// sseDoneMarker is the terminator spec.md §6 names for SSE streams.
const sseDoneMarker = "[DONE]"

// scanSSE reads Server-Sent Events from body, calling onEvent with each
// event's raw JSON payload (the part after "data: ") in receive order.
// Stops at the [DONE] terminator, EOF, or ctx cancellation. Built directly
// on bufio.Reader rather than an SDK's stream reader because the spec
// requires access to each chunk's own receive timestamp — onEvent is
// called the instant a full "data: ..." line has been read, letting the
// caller stamp received_ns immediately.
func scanSSE(ctx context.Context, body io.Reader, onFirstByte func(), onEvent func(payload []byte) error) error {
	reader := bufio.NewReader(body)
	firstByteSeen := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line, err := reader.ReadString('\n')
		if len(line) > 0 && !firstByteSeen {
			firstByteSeen = true
			if onFirstByte != nil {
				onFirstByte()
			}
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(trimmed, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
			if payload == sseDoneMarker {
				return nil
			}
			if payload != "" {
				if evErr := onEvent([]byte(payload)); evErr != nil {
					return evErr
				}
			}
		}
		if err != nil {
			return nil // EOF or stream closed; caller treats as end of body
		}
	}
}

// readAll drains a non-streaming body fully.
func readAll(body io.Reader) ([]byte, error) {
	return io.ReadAll(body)
}
