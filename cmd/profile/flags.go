package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/aiperf-core/genaiperf/internal/config"
)

// cliFlags mirrors spec.md §6's flag surface one-to-one, parsed with
// pflag the way the teacher's cmd/main.go parses its own flat flag set.
type cliFlags struct {
	// Endpoint
	model                 string
	url                   string
	endpointType          string
	streaming             bool
	requestTimeoutSeconds float64
	apiKey                string

	// Input
	inputFile                  string
	customDatasetType          string
	fixedSchedule              bool
	fixedScheduleAutoOffset    bool
	fixedScheduleStartOffsetMs int64
	fixedScheduleEndOffsetMs   int64
	randomSeed                 uint64

	// Load
	trafficMode                 string
	concurrency                 int
	requestRate                 float64
	requestRateMode              string
	requestCount                 int
	benchmarkDurationSec         float64
	benchmarkGracePeriodSec      float64
	warmupRequestCount            int
	requestCancellationRate       float64
	requestCancellationDelaySec    float64

	// Conversation
	conversationNum             int
	conversationTurnMean        float64
	conversationTurnStdDev      float64
	conversationTurnDelayMean   float64
	conversationTurnDelayStdDev float64
	conversationTurnDelayRatio  float64

	// Lengths
	islMean              float64
	islStdDev            float64
	oslMean              float64
	oslStdDev            float64
	sequenceDistribution string
	promptPrefixPoolSize int
	promptPrefixLength   int

	// Output
	artifactDir string
	runName     string

	// Service
	workersMax       int
	recordProcessors int
	sliceDurationSec float64

	// Goodput
	goodput string

	preferServerUsage bool
	userHeaders       string

	help bool
}

func parseFlags(args []string) (*cliFlags, error) {
	fs := pflag.NewFlagSet("profile", pflag.ContinueOnError)
	f := &cliFlags{}

	fs.StringVar(&f.model, "model", "", "model name sent in every request")
	fs.StringVar(&f.url, "url", "", "base URL of the inference endpoint")
	fs.StringVar(&f.endpointType, "endpoint-type", "chat", "chat | completions | embeddings | rank")
	fs.BoolVar(&f.streaming, "streaming", false, "use streaming responses")
	fs.Float64Var(&f.requestTimeoutSeconds, "request-timeout-seconds", 60, "per-request timeout")
	fs.StringVar(&f.apiKey, "api-key", "", "bearer token for the endpoint")

	fs.StringVar(&f.inputFile, "input-file", "", "JSONL dataset file; omit to generate synthetic conversations")
	fs.StringVar(&f.customDatasetType, "custom-dataset-type", "", "single_turn | mooncake_trace | multi_turn | random_pool")
	fs.BoolVar(&f.fixedSchedule, "fixed-schedule", false, "replay input-file timestamps instead of scheduling live")
	fs.BoolVar(&f.fixedScheduleAutoOffset, "fixed-schedule-auto-offset", false, "anchor fixed-schedule replay at the first issued credit")
	fs.Int64Var(&f.fixedScheduleStartOffsetMs, "fixed-schedule-start-offset", 0, "fixed-schedule replay window start, ms")
	fs.Int64Var(&f.fixedScheduleEndOffsetMs, "fixed-schedule-end-offset", 0, "fixed-schedule replay window end, ms (0 = unbounded)")
	fs.Uint64Var(&f.randomSeed, "random-seed", 0, "seed for every derived random stream")

	fs.StringVar(&f.trafficMode, "traffic-mode", "concurrency", "concurrency | rate | fixed_schedule")
	fs.IntVar(&f.concurrency, "concurrency", 0, "fixed number of in-flight requests")
	fs.Float64Var(&f.requestRate, "request-rate", 0, "requests per second in rate mode")
	fs.StringVar(&f.requestRateMode, "request-rate-mode", "constant", "constant | poisson")
	fs.IntVar(&f.requestCount, "request-count", 0, "total profiling requests to issue (0 = duration/trace-bound)")
	fs.Float64Var(&f.benchmarkDurationSec, "benchmark-duration", 0, "profiling window duration, seconds")
	fs.Float64Var(&f.benchmarkGracePeriodSec, "benchmark-grace-period", 30, "in-flight drain grace period, seconds")
	fs.IntVar(&f.warmupRequestCount, "warmup-request-count", 0, "requests issued before profiling starts")
	fs.Float64Var(&f.requestCancellationRate, "request-cancellation-rate", 0, "percent of credits injected with mid-flight cancellation")
	fs.Float64Var(&f.requestCancellationDelaySec, "request-cancellation-delay", 0, "delay before injected cancellation fires, seconds")

	fs.IntVar(&f.conversationNum, "conversation-num", 1, "number of synthetic conversations to generate")
	fs.Float64Var(&f.conversationTurnMean, "conversation-turn-mean", 1, "mean turns per synthetic conversation")
	fs.Float64Var(&f.conversationTurnStdDev, "conversation-turn-stddev", 0, "stddev of turns per synthetic conversation")
	fs.Float64Var(&f.conversationTurnDelayMean, "conversation-turn-delay-mean", 0, "mean inter-turn delay, ms")
	fs.Float64Var(&f.conversationTurnDelayStdDev, "conversation-turn-delay-stddev", 0, "stddev of inter-turn delay, ms")
	fs.Float64Var(&f.conversationTurnDelayRatio, "conversation-turn-delay-ratio", 1, "scale applied to the sampled inter-turn delay")

	fs.Float64Var(&f.islMean, "isl-mean", 128, "mean input sequence length, tokens")
	fs.Float64Var(&f.islStdDev, "isl-stddev", 0, "stddev of input sequence length")
	fs.Float64Var(&f.oslMean, "osl-mean", 128, "mean output sequence length, tokens")
	fs.Float64Var(&f.oslStdDev, "osl-stddev", 0, "stddev of output sequence length")
	fs.StringVar(&f.sequenceDistribution, "sequence-distribution", "", "comma-separated isl:osl:prob[:isl_stddev:osl_stddev] mixture components")
	fs.IntVar(&f.promptPrefixPoolSize, "prompt-prefix-pool-size", 0, "number of shared prompt prefixes to draw from")
	fs.IntVar(&f.promptPrefixLength, "prompt-prefix-length", 0, "token length of each shared prompt prefix")

	fs.StringVar(&f.artifactDir, "artifact-dir", "./artifacts", "directory artifacts are written under")
	fs.StringVar(&f.runName, "run-name", "run", "subdirectory under artifact-dir for this run's artifacts")

	fs.IntVar(&f.workersMax, "workers-max", 0, "cap on worker goroutines (0 = spec.md §4.4 default sizing)")
	fs.IntVar(&f.recordProcessors, "record-processors", 0, "record processor goroutines (0 = same as the effective worker count)")
	fs.Float64Var(&f.sliceDurationSec, "slice-duration", 0, "fixed timeslice width, seconds (0 = disabled)")

	fs.StringVar(&f.goodput, "goodput", "", `goodput SLO predicates in each metric's own unit (ms for latencies), e.g. "time_to_first_token:200 inter_token_latency:20"`)
	fs.BoolVar(&f.preferServerUsage, "prefer-server-usage", false, "prefer server-reported token usage over the tokenizer's own count")
	fs.StringVar(&f.userHeaders, "header", "", `extra request headers, e.g. "X-Foo:bar,X-Baz:qux"`)

	fs.BoolVarP(&f.help, "help", "h", false, "show this help message")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.help {
		fmt.Println("Usage of profile:")
		fs.PrintDefaults()
	}
	return f, nil
}

func (f *cliFlags) toConfig() (*config.Config, error) {
	seqDist, err := parseSequenceDistribution(f.sequenceDistribution)
	if err != nil {
		return nil, err
	}
	goodput, err := parseGoodput(f.goodput)
	if err != nil {
		return nil, err
	}
	headers, err := parseHeaders(f.userHeaders)
	if err != nil {
		return nil, err
	}

	cfg := &config.Config{
		Model:                 f.model,
		URL:                   f.url,
		EndpointType:          config.EndpointType(f.endpointType),
		Streaming:             f.streaming,
		RequestTimeoutSeconds: f.requestTimeoutSeconds,
		APIKey:                f.apiKey,

		InputFile:              f.inputFile,
		CustomDatasetType:      f.customDatasetType,
		FixedSchedule:          f.fixedSchedule,
		FixedScheduleAutoOffset: f.fixedScheduleAutoOffset,
		RandomSeed:             f.randomSeed,

		TrafficMode:             config.TrafficMode(f.trafficMode),
		Concurrency:             f.concurrency,
		RequestRate:             f.requestRate,
		RequestRateMode:         config.RateMode(f.requestRateMode),
		RequestCount:            f.requestCount,
		BenchmarkDurationSec:    f.benchmarkDurationSec,
		BenchmarkGracePeriodSec: f.benchmarkGracePeriodSec,
		WarmupRequestCount:      f.warmupRequestCount,
		RequestCancellationRate: f.requestCancellationRate,
		RequestCancellationDelaySec: f.requestCancellationDelaySec,

		ConversationNum:             f.conversationNum,
		ConversationTurnMean:        f.conversationTurnMean,
		ConversationTurnStdDev:      f.conversationTurnStdDev,
		ConversationTurnDelayMean:   f.conversationTurnDelayMean,
		ConversationTurnDelayStdDev: f.conversationTurnDelayStdDev,
		ConversationTurnDelayRatio:  f.conversationTurnDelayRatio,

		ISLMean:              f.islMean,
		ISLStdDev:            f.islStdDev,
		OSLMean:              f.oslMean,
		OSLStdDev:            f.oslStdDev,
		SequenceDistribution: seqDist,
		PromptPrefixPoolSize: f.promptPrefixPoolSize,
		PromptPrefixLength:   f.promptPrefixLength,

		ArtifactDir: f.artifactDir,
		RunName:     f.runName,

		WorkersMax:       f.workersMax,
		RecordProcessors: f.recordProcessors,

		SliceDurationSec: f.sliceDurationSec,

		Goodput:           goodput,
		PreferServerUsage: f.preferServerUsage,
		UserHeaders:       headers,
	}
	if f.fixedScheduleStartOffsetMs != 0 {
		v := f.fixedScheduleStartOffsetMs
		cfg.FixedScheduleStartOffsetMs = &v
	}
	if f.fixedScheduleEndOffsetMs != 0 {
		v := f.fixedScheduleEndOffsetMs
		cfg.FixedScheduleEndOffsetMs = &v
	}
	if f.fixedSchedule {
		cfg.TrafficMode = config.TrafficFixedSchedule
	}
	return cfg, nil
}

// parseSequenceDistribution parses "isl:osl:prob[:isl_stddev:osl_stddev]"
// components separated by commas.
func parseSequenceDistribution(s string) ([]config.SequenceDistribution, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []config.SequenceDistribution
	for _, part := range strings.Split(s, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) < 3 {
			return nil, fmt.Errorf("sequence-distribution component %q: need at least isl:osl:prob", part)
		}
		isl, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("sequence-distribution component %q: bad isl: %w", part, err)
		}
		osl, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("sequence-distribution component %q: bad osl: %w", part, err)
		}
		prob, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("sequence-distribution component %q: bad prob: %w", part, err)
		}
		d := config.SequenceDistribution{ISL: isl, OSL: osl, Prob: prob}
		if len(fields) >= 5 {
			if d.ISLStdDev, err = strconv.ParseFloat(fields[3], 64); err != nil {
				return nil, fmt.Errorf("sequence-distribution component %q: bad isl_stddev: %w", part, err)
			}
			if d.OSLStdDev, err = strconv.ParseFloat(fields[4], 64); err != nil {
				return nil, fmt.Errorf("sequence-distribution component %q: bad osl_stddev: %w", part, err)
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// parseGoodput parses "tag:value tag2:value2" space-separated predicates.
func parseGoodput(s string) ([]config.GoodputPredicate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []config.GoodputPredicate
	for _, part := range strings.Fields(s) {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("goodput predicate %q: expected tag:value", part)
		}
		v, err := strconv.ParseFloat(kv[1], 64)
		if err != nil {
			return nil, fmt.Errorf("goodput predicate %q: bad value: %w", part, err)
		}
		out = append(out, config.GoodputPredicate{MetricTag: kv[0], MaxValue: v})
	}
	return out, nil
}

// parseHeaders parses "Name:value,Name2:value2" pairs.
func parseHeaders(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("header %q: expected Name:value", part)
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out, nil
}
