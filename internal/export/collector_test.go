package export

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/model"
)

func TestCollectorAccumulatesAndSortsRecords(t *testing.T) {
	q := bus.NewQueue(8)
	c := NewCollector(q)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	_ = q.Push(ctx, bus.Message{Kind: bus.KindExportRecord, Payload: model.CompletedRecord{
		Raw:  model.RawRequestRecord{XRequestID: "b"},
		Dict: model.MetricRecordDict{XRequestID: "b"},
	}})
	_ = q.Push(ctx, bus.Message{Kind: bus.KindExportRecord, Payload: model.CompletedRecord{
		Raw:  model.RawRequestRecord{XRequestID: "a"},
		Dict: model.MetricRecordDict{XRequestID: "a"},
	}})

	q.Close()
	require.NoError(t, <-done)

	records := c.Records()
	require.Len(t, records, 2)
	require.Equal(t, "a", records[0].Metadata.XRequestID)
	require.Equal(t, "b", records[1].Metadata.XRequestID)
}
