// Package config holds the assembled run configuration that cmd/profile
// builds from CLI flags (CLI parsing itself is the external contract
// boundary spec.md §1 keeps out of scope) and validates before any
// service starts.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/aiperf-core/genaiperf/internal/bmerrors"
)

// RateMode selects the inter-arrival distribution for RateMode scheduling.
type RateMode string

const (
	RateModeConstant RateMode = "constant"
	RateModePoisson  RateMode = "poisson"
)

// TrafficMode selects which of the three credit scheduler modes governs
// this run.
type TrafficMode string

const (
	TrafficConcurrency  TrafficMode = "concurrency"
	TrafficRate         TrafficMode = "rate"
	TrafficFixedSchedule TrafficMode = "fixed_schedule"
)

// EndpointType selects the built-in request formatter/response parser.
type EndpointType string

const (
	EndpointOpenAIChat        EndpointType = "chat"
	EndpointOpenAICompletions EndpointType = "completions"
	EndpointOpenAIEmbeddings  EndpointType = "embeddings"
	EndpointRank              EndpointType = "rank"
)

// SequenceDistribution describes one (ISL, OSL) mixture component, per
// spec.md §4.2.
type SequenceDistribution struct {
	ISL        int     `validate:"min=1"`
	OSL        int     `validate:"min=1"`
	Prob       float64 `validate:"gte=0,lte=1"`
	ISLStdDev  float64 `validate:"gte=0"`
	OSLStdDev  float64 `validate:"gte=0"`
}

// GoodputPredicate is one "metric <= threshold" SLO clause.
type GoodputPredicate struct {
	MetricTag string
	MaxValue  float64
}

// Config is the fully assembled, validated run configuration.
type Config struct {
	// Endpoint
	Model                 string       `validate:"required"`
	URL                   string       `validate:"required,url"`
	EndpointType          EndpointType `validate:"required"`
	Streaming             bool
	RequestTimeoutSeconds float64 `validate:"gt=0"`
	APIKey                string

	// Input
	InputFile             string
	CustomDatasetType      string
	FixedSchedule          bool
	FixedScheduleAutoOffset bool
	FixedScheduleStartOffsetMs *int64
	FixedScheduleEndOffsetMs   *int64
	RandomSeed             uint64

	// Load
	TrafficMode             TrafficMode `validate:"required"`
	Concurrency             int         `validate:"gte=0"`
	RequestRate             float64     `validate:"gte=0"`
	RequestRateMode         RateMode
	RequestCount            int `validate:"gte=0"`
	BenchmarkDurationSec    float64 `validate:"gte=0"`
	BenchmarkGracePeriodSec float64 `validate:"gte=0"`
	WarmupRequestCount      int     `validate:"gte=0"`
	RequestCancellationRate float64 `validate:"gte=0,lte=100"`
	RequestCancellationDelaySec float64 `validate:"gte=0"`

	// Conversation
	ConversationNum            int     `validate:"gte=0"`
	ConversationTurnMean       float64 `validate:"gte=0"`
	ConversationTurnStdDev     float64 `validate:"gte=0"`
	ConversationTurnDelayMean  float64 `validate:"gte=0"`
	ConversationTurnDelayStdDev float64 `validate:"gte=0"`
	ConversationTurnDelayRatio  float64 `validate:"gte=0"`

	// Lengths
	ISLMean                float64 `validate:"gte=0"`
	ISLStdDev              float64 `validate:"gte=0"`
	OSLMean                float64 `validate:"gte=0"`
	OSLStdDev              float64 `validate:"gte=0"`
	SequenceDistribution   []SequenceDistribution
	PromptPrefixPoolSize   int `validate:"gte=0"`
	PromptPrefixLength     int `validate:"gte=0"`

	// Output
	ArtifactDir string `validate:"required"`
	RunName     string `validate:"required"`

	// Service
	WorkersMax       int `validate:"gte=0"`
	RecordProcessors int `validate:"gte=0"`

	// Timeslicing
	SliceDurationSec float64 `validate:"gte=0"`

	// Goodput
	Goodput []GoodputPredicate

	// Tokenizer preference (Open Question §9): prefer tokenizer counts
	// over server-reported usage counts when they disagree, but allow
	// the user to flip this.
	PreferServerUsage bool

	UserHeaders map[string]string
}

var validate = validator.New()

// Validate runs structural validation and the spec's explicit illegal-
// combination checks, returning a *bmerrors.ConfigError for the first
// problem found.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return &bmerrors.ConfigError{Field: fe.Field(), Message: fe.Tag()}
		}
		return &bmerrors.ConfigError{Message: err.Error()}
	}

	if c.TrafficMode == TrafficRate && c.FixedSchedule {
		return &bmerrors.ConfigError{Message: "request-rate is incompatible with fixed-schedule"}
	}
	if c.TrafficMode == TrafficFixedSchedule && !c.FixedSchedule {
		return &bmerrors.ConfigError{Message: "fixed_schedule traffic mode requires --fixed-schedule"}
	}
	if c.TrafficMode == TrafficRate {
		if c.RequestRate <= 0 {
			return &bmerrors.ConfigError{Field: "RequestRate", Message: "must be > 0 in rate mode"}
		}
		if c.RequestRateMode != RateModeConstant && c.RequestRateMode != RateModePoisson {
			return &bmerrors.ConfigError{Field: "RequestRateMode", Message: "must be constant or poisson"}
		}
	}
	if c.SliceDurationSec > 0 && c.BenchmarkDurationSec > 0 && c.SliceDurationSec >= c.BenchmarkDurationSec {
		return &bmerrors.ConfigError{Message: "slice-duration must be less than benchmark-duration"}
	}
	if c.RequestCount == 0 && c.BenchmarkDurationSec == 0 && !c.FixedSchedule {
		return &bmerrors.ConfigError{Message: "one of request-count, benchmark-duration, or fixed-schedule is required"}
	}
	switch c.EndpointType {
	case EndpointOpenAIChat, EndpointOpenAICompletions, EndpointOpenAIEmbeddings, EndpointRank:
	default:
		return &bmerrors.ConfigError{Field: "EndpointType", Message: fmt.Sprintf("unsupported endpoint type %q", c.EndpointType)}
	}
	if c.FixedScheduleStartOffsetMs != nil && c.FixedScheduleEndOffsetMs != nil &&
		*c.FixedScheduleStartOffsetMs > *c.FixedScheduleEndOffsetMs {
		return &bmerrors.ConfigError{Message: "fixed-schedule-start-offset must not exceed fixed-schedule-end-offset"}
	}
	return nil
}

// EffectiveWorkerCount resolves the worker-pool sizing rule from spec.md
// §4.4: min(concurrency, floor(cpus*0.75)-1), capped at 32, but never above
// the user's own --workers-max when set.
func (c *Config) EffectiveWorkerCount(numCPU int) int {
	defaultCount := numCPU*3/4 - 1
	if defaultCount < 1 {
		defaultCount = 1
	}
	if defaultCount > 32 {
		defaultCount = 32
	}
	count := defaultCount
	if c.Concurrency > 0 && c.Concurrency < count {
		count = c.Concurrency
	}
	if c.WorkersMax > 0 && c.WorkersMax < count {
		count = c.WorkersMax
	}
	if count < 1 {
		count = 1
	}
	return count
}
