// Package export renders the pipeline's finalized state into the
// on-disk artifact set spec.md §6 names: inputs.json (the generated
// dataset, for determinism checks), profile_export.jsonl (one record per
// line), profile_export_aiperf.{json,csv} (the aggregate report), and,
// when slicing is enabled, profile_export_aiperf_timeslices.{csv,json}.
// Grounded on the teacher's cmd/format.go Json()/Yaml() pair, generalized
// from one BenchmarkResult to the full artifact set and given real file
// writers instead of string builders.
package export

import (
	"github.com/aiperf-core/genaiperf/internal/aggregator"
	"github.com/aiperf-core/genaiperf/internal/config"
	"github.com/aiperf-core/genaiperf/internal/model"
)

// RecordMetadata mirrors the worker-level timing fields spec.md §7's
// "MetricRecordInfo.metadata" names.
type RecordMetadata struct {
	XRequestID         string  `json:"x_request_id"`
	XCorrelationID     string  `json:"x_correlation_id"`
	ConversationID     string  `json:"conversation_id"`
	TurnIndex          int     `json:"turn_index"`
	SessionNum         int     `json:"session_num"`
	WorkerID           int     `json:"worker_id"`
	Phase              string  `json:"phase"`
	StartNs            int64   `json:"start_ns"`
	AckNs              *int64  `json:"ack_ns,omitempty"`
	EndNs              int64   `json:"end_ns"`
	Status             string  `json:"status"`
	WasCancelled       bool    `json:"was_cancelled"`
	CancellationTimeNs *int64  `json:"cancellation_time_ns,omitempty"`
	InputSequenceLen   int     `json:"input_sequence_len"`
}

// RecordExport is one line of profile_export.jsonl.
type RecordExport struct {
	Metadata RecordMetadata                 `json:"metadata"`
	Metrics  map[string]model.MetricValue   `json:"metrics"`
	Error    *model.ErrorDetails            `json:"error,omitempty"`
}

// NewRecordExport builds a RecordExport from a worker's raw record and the
// metric dictionary the record processor derived from it.
func NewRecordExport(raw model.RawRequestRecord, dict model.MetricRecordDict) RecordExport {
	return RecordExport{
		Metadata: RecordMetadata{
			XRequestID:         raw.XRequestID,
			XCorrelationID:     raw.XCorrelationID,
			ConversationID:     raw.ConversationID,
			TurnIndex:          raw.TurnIndex,
			SessionNum:         raw.SessionNum,
			WorkerID:           raw.WorkerID,
			Phase:              string(raw.Phase),
			StartNs:            raw.StartNs,
			AckNs:              raw.AckNs,
			EndNs:              raw.EndNs,
			Status:             raw.Status,
			WasCancelled:       raw.WasCancelled,
			CancellationTimeNs: raw.CancellationTimeNs,
			InputSequenceLen:   raw.InputSequenceLen,
		},
		Metrics: dict.Values,
		Error:   dict.Error,
	}
}

// SessionPayloads is one entry of inputs.json's "data" array: every
// formatted request body issued for one conversation, in turn order.
type SessionPayloads struct {
	SessionID string            `json:"session_id"`
	Payloads  []map[string]any  `json:"payloads"`
}

// InputsDocument is the full inputs.json shape.
type InputsDocument struct {
	Data []SessionPayloads `json:"data"`
}

// StatRow is one (metric, stat) pair, the unit both the flat and
// timesliced CSV artifacts tile over.
type StatRow struct {
	Metric string
	Unit   string
	Stat   string
	Value  float64
}

// AggregateReport is the full profile_export_aiperf.json/yaml shape:
// the finalized result plus an echo of the run configuration that
// produced it, so the artifact is self-describing.
type AggregateReport struct {
	RunName string         `json:"run_name" yaml:"run_name"`
	Config  *config.Config `json:"config" yaml:"config"`

	RequestCount      int `json:"request_count" yaml:"request_count"`
	ErrorRequestCount int `json:"error_request_count" yaml:"error_request_count"`
	GoodCount         int `json:"good_count" yaml:"good_count"`
	WarmupCount       int `json:"warmup_count" yaml:"warmup_count"`
	DurationSeconds   float64 `json:"duration_seconds" yaml:"duration_seconds"`

	RecordMetrics    []aggregator.MetricStat    `json:"record_metrics" yaml:"record_metrics"`
	AggregateMetrics []aggregator.AggregateStat `json:"aggregate_metrics" yaml:"aggregate_metrics"`
	DerivedMetrics   map[string]float64         `json:"derived_metrics" yaml:"derived_metrics"`

	ErrorSummary map[string]int `json:"error_summary" yaml:"error_summary"`
}

// NewAggregateReport adapts an aggregator.Result into the export shape.
func NewAggregateReport(runName string, cfg *config.Config, result aggregator.Result) AggregateReport {
	return AggregateReport{
		RunName:           runName,
		Config:            cfg,
		RequestCount:      result.RequestCount,
		ErrorRequestCount: result.ErrorRequestCount,
		GoodCount:         result.GoodCount,
		WarmupCount:       result.WarmupCount,
		DurationSeconds:   result.DurationSeconds,
		RecordMetrics:     result.RecordMetrics,
		AggregateMetrics:  result.AggregateMetrics,
		DerivedMetrics:    result.DerivedMetrics,
		ErrorSummary:      result.ErrorSummary,
	}
}

// statRows flattens a MetricStat into the nine-percentile-plus-moments row
// set the tidy CSV artifacts use.
func statRows(m aggregator.MetricStat) []StatRow {
	return []StatRow{
		{Metric: m.Tag, Unit: m.Unit, Stat: "count", Value: float64(m.Count)},
		{Metric: m.Tag, Unit: m.Unit, Stat: "min", Value: m.Min},
		{Metric: m.Tag, Unit: m.Unit, Stat: "max", Value: m.Max},
		{Metric: m.Tag, Unit: m.Unit, Stat: "mean", Value: m.Mean},
		{Metric: m.Tag, Unit: m.Unit, Stat: "std", Value: m.StdDev},
		{Metric: m.Tag, Unit: m.Unit, Stat: "p1", Value: m.P1},
		{Metric: m.Tag, Unit: m.Unit, Stat: "p5", Value: m.P5},
		{Metric: m.Tag, Unit: m.Unit, Stat: "p10", Value: m.P10},
		{Metric: m.Tag, Unit: m.Unit, Stat: "p25", Value: m.P25},
		{Metric: m.Tag, Unit: m.Unit, Stat: "p50", Value: m.P50},
		{Metric: m.Tag, Unit: m.Unit, Stat: "p75", Value: m.P75},
		{Metric: m.Tag, Unit: m.Unit, Stat: "p90", Value: m.P90},
		{Metric: m.Tag, Unit: m.Unit, Stat: "p95", Value: m.P95},
		{Metric: m.Tag, Unit: m.Unit, Stat: "p99", Value: m.P99},
	}
}

// Rows flattens the full aggregate report into profile_export_aiperf.csv's
// row set: record metrics' full stat breakdown, plus one total/count pair
// per aggregate-only metric.
func (r AggregateReport) Rows() []StatRow {
	var rows []StatRow
	for _, m := range r.RecordMetrics {
		rows = append(rows, statRows(m)...)
	}
	for _, a := range r.AggregateMetrics {
		rows = append(rows, StatRow{Metric: a.Tag, Unit: a.Unit, Stat: "total", Value: a.Total})
		rows = append(rows, StatRow{Metric: a.Tag, Unit: a.Unit, Stat: "count", Value: float64(a.Count)})
	}
	for tag, v := range r.DerivedMetrics {
		rows = append(rows, StatRow{Metric: tag, Unit: "", Stat: "value", Value: v})
	}
	return rows
}

// TimesliceRow is one row of profile_export_aiperf_timeslices.csv.
type TimesliceRow struct {
	Timeslice int
	Metric    string
	Unit      string
	Stat      string
	Value     float64
}

// TimesliceRows flattens every timeslice's metric breakdown into the tidy
// `Timeslice,Metric,Unit,Stat,Value` shape spec.md §6 names.
func TimesliceRows(slices []aggregator.TimesliceResult) []TimesliceRow {
	var rows []TimesliceRow
	for _, ts := range slices {
		for _, m := range statRows2(ts.Metrics) {
			rows = append(rows, TimesliceRow{Timeslice: ts.Index, Metric: m.Metric, Unit: m.Unit, Stat: m.Stat, Value: m.Value})
		}
	}
	return rows
}

func statRows2(metrics []aggregator.MetricStat) []StatRow {
	var rows []StatRow
	for _, m := range metrics {
		rows = append(rows, statRows(m)...)
	}
	return rows
}
