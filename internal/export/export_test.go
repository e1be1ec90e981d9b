package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aiperf-core/genaiperf/internal/aggregator"
	"github.com/aiperf-core/genaiperf/internal/config"
	"github.com/aiperf-core/genaiperf/internal/model"
)

func sampleResult() aggregator.Result {
	return aggregator.Result{
		RequestCount:      10,
		ErrorRequestCount: 1,
		GoodCount:         8,
		WarmupCount:       2,
		DurationSeconds:   5,
		RecordMetrics: []aggregator.MetricStat{
			{Tag: "request_latency", Unit: "ms", Count: 8, Min: 10, Max: 50, Mean: 25, StdDev: 10, P50: 24},
		},
		AggregateMetrics: []aggregator.AggregateStat{
			{Tag: "output_sequence_length", Unit: "tokens", Total: 400, Count: 8},
		},
		DerivedMetrics: map[string]float64{"request_throughput": 2.0},
		ErrorSummary:   map[string]int{"HTTPError": 1},
	}
}

func TestWriteInputsProducesExpectedShape(t *testing.T) {
	w, err := New(t.TempDir(), "run1")
	require.NoError(t, err)

	doc := InputsDocument{Data: []SessionPayloads{
		{SessionID: "conv-1", Payloads: []map[string]any{{"model": "gpt", "messages": []any{}}}},
	}}
	require.NoError(t, w.WriteInputs(doc))

	data, err := os.ReadFile(filepath.Join(w.dir, "inputs.json"))
	require.NoError(t, err)

	var got InputsDocument
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, doc, got)
}

func TestWriteRecordsWritesOneJSONPerLine(t *testing.T) {
	w, err := New(t.TempDir(), "run1")
	require.NoError(t, err)

	records := []RecordExport{
		NewRecordExport(
			model.RawRequestRecord{XRequestID: "r1", Status: "ok"},
			model.MetricRecordDict{Values: map[string]model.MetricValue{"request_latency": {Scalar: 12, Unit: "ms"}}},
		),
		NewRecordExport(
			model.RawRequestRecord{XRequestID: "r2", Status: "error"},
			model.MetricRecordDict{Error: &model.ErrorDetails{Code: 500, Type: "HTTPError"}},
		),
	}
	require.NoError(t, w.WriteRecords(records))

	f, err := os.Open(filepath.Join(w.dir, "profile_export.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)

	var first RecordExport
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "r1", first.Metadata.XRequestID)
	require.Equal(t, 12.0, first.Metrics["request_latency"].Scalar)

	var second RecordExport
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.Equal(t, "r2", second.Metadata.XRequestID)
	require.Equal(t, "HTTPError", second.Error.Type)
}

func TestWriteAggregateWritesJSONYAMLAndCSV(t *testing.T) {
	w, err := New(t.TempDir(), "run1")
	require.NoError(t, err)

	cfg := &config.Config{Model: "gpt-4", SliceDurationSec: 0}
	require.NoError(t, w.WriteAggregate(cfg, "run1", sampleResult()))

	jsonData, err := os.ReadFile(filepath.Join(w.dir, "profile_export_aiperf.json"))
	require.NoError(t, err)
	var report AggregateReport
	require.NoError(t, json.Unmarshal(jsonData, &report))
	require.Equal(t, 10, report.RequestCount)
	require.Equal(t, 8, report.GoodCount)

	_, err = os.Stat(filepath.Join(w.dir, "profile_export_aiperf.yaml"))
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(w.dir, "profile_export_aiperf.csv"))
	require.NoError(t, err)
	defer f.Close()
	cr := csv.NewReader(f)
	rows, err := cr.ReadAll()
	require.NoError(t, err)
	require.Equal(t, []string{"Metric", "Unit", "Stat", "Value"}, rows[0])
	require.Greater(t, len(rows), 1)

	_, err = os.Stat(filepath.Join(w.dir, "profile_export_aiperf_timeslices.csv"))
	require.True(t, os.IsNotExist(err))
}

func TestWriteAggregateEmitsTimeslicesWhenSlicingEnabled(t *testing.T) {
	w, err := New(t.TempDir(), "run1")
	require.NoError(t, err)

	result := sampleResult()
	result.Timeslices = []aggregator.TimesliceResult{
		{Index: 0, StartNs: 0, EndNs: 1_000_000_000, Metrics: []aggregator.MetricStat{
			{Tag: "request_latency", Unit: "ms", Count: 4, Mean: 20},
		}},
	}
	cfg := &config.Config{Model: "gpt-4", SliceDurationSec: 1}
	require.NoError(t, w.WriteAggregate(cfg, "run1", result))

	f, err := os.Open(filepath.Join(w.dir, "profile_export_aiperf_timeslices.csv"))
	require.NoError(t, err)
	defer f.Close()
	cr := csv.NewReader(f)
	rows, err := cr.ReadAll()
	require.NoError(t, err)
	require.Equal(t, []string{"Timeslice", "Metric", "Unit", "Stat", "Value"}, rows[0])
	require.Greater(t, len(rows), 1)
	require.Equal(t, "0", rows[1][0])
}

func TestAggregateReportRowsIncludesDerivedMetrics(t *testing.T) {
	report := NewAggregateReport("run1", &config.Config{}, sampleResult())
	rows := report.Rows()

	var sawDerived bool
	for _, r := range rows {
		if r.Metric == "request_throughput" && r.Stat == "value" {
			sawDerived = true
			require.Equal(t, 2.0, r.Value)
		}
	}
	require.True(t, sawDerived)
}
