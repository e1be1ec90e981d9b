package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aiperf-core/genaiperf/internal/config"
)

func TestParseSequenceDistribution(t *testing.T) {
	dists, err := parseSequenceDistribution("128:256:0.5,512:1024:0.5:16:32")
	require.NoError(t, err)
	require.Len(t, dists, 2)
	require.Equal(t, config.SequenceDistribution{ISL: 128, OSL: 256, Prob: 0.5}, dists[0])
	require.Equal(t, config.SequenceDistribution{ISL: 512, OSL: 1024, Prob: 0.5, ISLStdDev: 16, OSLStdDev: 32}, dists[1])
}

func TestParseSequenceDistributionEmpty(t *testing.T) {
	dists, err := parseSequenceDistribution("")
	require.NoError(t, err)
	require.Nil(t, dists)
}

func TestParseSequenceDistributionRejectsTooFewFields(t *testing.T) {
	_, err := parseSequenceDistribution("128:256")
	require.Error(t, err)
}

func TestParseGoodput(t *testing.T) {
	preds, err := parseGoodput("time_to_first_token:0.1 inter_token_latency:0.05")
	require.NoError(t, err)
	require.Equal(t, []config.GoodputPredicate{
		{MetricTag: "time_to_first_token", MaxValue: 0.1},
		{MetricTag: "inter_token_latency", MaxValue: 0.05},
	}, preds)
}

func TestParseGoodputRejectsMalformedPredicate(t *testing.T) {
	_, err := parseGoodput("time_to_first_token")
	require.Error(t, err)
}

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders("X-Foo:bar,X-Baz: qux")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"X-Foo": "bar", "X-Baz": "qux"}, headers)
}

func TestParseHeadersEmpty(t *testing.T) {
	headers, err := parseHeaders("")
	require.NoError(t, err)
	require.Nil(t, headers)
}

func TestToConfigAssemblesFromFlags(t *testing.T) {
	flags, err := parseFlags([]string{
		"--model", "gpt-4",
		"--url", "http://localhost:8000",
		"--endpoint-type", "chat",
		"--request-timeout-seconds", "30",
		"--traffic-mode", "concurrency",
		"--concurrency", "4",
		"--request-count", "100",
		"--artifact-dir", "/tmp/artifacts",
		"--run-name", "smoke",
		"--sequence-distribution", "128:128:1",
		"--goodput", "time_to_first_token:0.1",
		"--header", "X-Foo:bar",
	})
	require.NoError(t, err)

	cfg, err := flags.toConfig()
	require.NoError(t, err)
	require.Equal(t, "gpt-4", cfg.Model)
	require.Equal(t, config.EndpointOpenAIChat, cfg.EndpointType)
	require.Equal(t, config.TrafficConcurrency, cfg.TrafficMode)
	require.Equal(t, 4, cfg.Concurrency)
	require.Equal(t, 100, cfg.RequestCount)
	require.Equal(t, "/tmp/artifacts", cfg.ArtifactDir)
	require.Equal(t, "smoke", cfg.RunName)
	require.Equal(t, []config.SequenceDistribution{{ISL: 128, OSL: 128, Prob: 1}}, cfg.SequenceDistribution)
	require.Equal(t, []config.GoodputPredicate{{MetricTag: "time_to_first_token", MaxValue: 0.1}}, cfg.Goodput)
	require.Equal(t, map[string]string{"X-Foo": "bar"}, cfg.UserHeaders)
	require.NoError(t, cfg.Validate())
}

func TestToConfigSwitchesTrafficModeOnFixedSchedule(t *testing.T) {
	flags, err := parseFlags([]string{
		"--model", "gpt-4",
		"--url", "http://localhost:8000",
		"--input-file", "trace.jsonl",
		"--fixed-schedule",
		"--fixed-schedule-start-offset", "10",
		"--fixed-schedule-end-offset", "20",
	})
	require.NoError(t, err)

	cfg, err := flags.toConfig()
	require.NoError(t, err)
	require.Equal(t, config.TrafficFixedSchedule, cfg.TrafficMode)
	require.NotNil(t, cfg.FixedScheduleStartOffsetMs)
	require.Equal(t, int64(10), *cfg.FixedScheduleStartOffsetMs)
	require.NotNil(t, cfg.FixedScheduleEndOffsetMs)
	require.Equal(t, int64(20), *cfg.FixedScheduleEndOffsetMs)
}

func TestParseFlagsRejectsUnknownFlag(t *testing.T) {
	_, err := parseFlags([]string{"--not-a-flag", "1"})
	require.Error(t, err)
}
