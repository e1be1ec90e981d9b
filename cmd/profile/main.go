// Command profile drives one benchmark run end to end: it assembles a
// config.Config from CLI flags, wires the message bus and every pipeline
// service, runs the controller's phase machine to completion, and writes
// the resulting artifacts under --artifact-dir. One command, per
// spec.md §6 — no subcommand wrapper.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/aiperf-core/genaiperf/internal/aggregator"
	"github.com/aiperf-core/genaiperf/internal/bmerrors"
	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/clock"
	"github.com/aiperf-core/genaiperf/internal/config"
	"github.com/aiperf-core/genaiperf/internal/controller"
	"github.com/aiperf-core/genaiperf/internal/dataset"
	"github.com/aiperf-core/genaiperf/internal/endpoint"
	"github.com/aiperf-core/genaiperf/internal/export"
	"github.com/aiperf-core/genaiperf/internal/logging"
	"github.com/aiperf-core/genaiperf/internal/metrics"
	"github.com/aiperf-core/genaiperf/internal/randseed"
	"github.com/aiperf-core/genaiperf/internal/scheduler"
	"github.com/aiperf-core/genaiperf/internal/service"
	"github.com/aiperf-core/genaiperf/internal/statusserver"
	"github.com/aiperf-core/genaiperf/internal/worker"
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2
	exitInterrupted  = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}
	if flags.help {
		return exitOK
	}

	cfg, err := flags.toConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "profile:", err)
		return exitConfigError
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "profile:", err)
		return exitConfigError
	}

	log := logging.New(logging.Config{Level: "info"}).With(map[string]any{"run_name": cfg.RunName})
	clk := clock.Real{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, writeErr, runErr := runPipeline(ctx, cfg, clk, log)
	if ctx.Err() != nil {
		log.Warnf("interrupted")
		return exitInterrupted
	}
	if writeErr != nil {
		fmt.Fprintln(os.Stderr, "profile: writing artifacts:", writeErr)
		return exitRuntimeError
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "profile:", runErr)
		return exitRuntimeError
	}

	printSummary(cfg, result)
	return exitOK
}

// runPipeline wires every package into one running process and drives it
// to completion. Two independent errors can result: runErr from the
// controller's phase machine itself, and writeErr from rendering
// artifacts afterward — both are reported, since a failed run still
// leaves a partial result worth trying to write.
func runPipeline(ctx context.Context, cfg *config.Config, clk clock.Clock, log *logging.Logger) (result aggregator.Result, writeErr error, runErr error) {
	root := randseed.NewRoot(cfg.RandomSeed)
	tok := newWordTokenizer(referenceCorpus)

	conversations, err := buildConversations(cfg, root, tok)
	if err != nil {
		return aggregator.Result{}, nil, fmt.Errorf("build dataset: %w", err)
	}
	provider := dataset.NewProvider(conversations, root)

	codec, ok := endpoint.ByType(string(cfg.EndpointType))
	if !ok {
		return aggregator.Result{}, nil, &bmerrors.ConfigError{Field: "EndpointType", Message: "unsupported endpoint type"}
	}

	numCPU := runtime.NumCPU()
	workerCount := cfg.EffectiveWorkerCount(numCPU)
	processorCount := cfg.RecordProcessors
	if processorCount <= 0 {
		processorCount = workerCount
	}

	credits := bus.NewQueue(workerCount * 4)
	rawRecords := bus.NewQueue(workerCount * 4)
	metricsQ := bus.NewQueue(workerCount * 4)
	exportQ := bus.NewQueue(workerCount * 4)
	creditFreed := bus.NewTopic()
	statusTopic := bus.NewTopic()
	phaseTopic := bus.NewTopic()
	cmdBus := bus.NewCommandBus()
	lookupReplier := bus.NewReplier(workerCount * 2)

	sched := scheduler.New(cfg, provider, root, clk, log, credits, creditFreed.Subscribe(64))

	httpClient := &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSeconds * float64(time.Second))}
	workerPool := worker.NewPool(cfg, codec, lookupReplier, credits, rawRecords, httpClient, clk, root, log).WithWorkerCount(workerCount)

	registry := metrics.NewRegistry()
	processorPool := metrics.NewProcessorPool(registry, tok, cfg.PreferServerUsage, rawRecords, metricsQ).
		WithProcessorCount(processorCount).
		WithExport(exportQ)

	agg := aggregator.New(cfg, clk, log, registry, metricsQ, creditFreed)
	collector := export.NewCollector(exportQ)

	statusSrv := statusserver.New(":9091", clk, log, phaseTopic.Subscribe(16), statusTopic.Subscribe(64))

	runner := service.New(time.Second, clk, log, statusTopic)
	runner.Register("dataset", provider.WithReplier(lookupReplier))
	runner.Register("scheduler", sched)
	runner.Register("worker", workerPool)
	runner.Register("processor", processorPool)
	runner.Register("aggregator", agg)
	runner.Register("collector", collector)
	runner.Register("statusserver", statusSrv)

	ctrlCfg := controller.Config{
		HeartbeatInterval:   2 * time.Second,
		MaxMissedHeartbeats: 5,
		GracePeriod:         time.Duration(cfg.BenchmarkGracePeriodSec * float64(time.Second)),
		PollInterval:        50 * time.Millisecond,
	}
	ctrl := controller.New(ctrlCfg, clk, log, cmdBus, statusTopic.Subscribe(64), phaseTopic, sched, agg, runner,
		credits, rawRecords, metricsQ, exportQ)

	stopProgress := runProgressBar(ctx, cfg, creditFreed.Subscribe(256))
	defer stopProgress()

	result, runErr = ctrl.Run(ctx)

	writer, err := export.New(cfg.ArtifactDir, cfg.RunName)
	if err != nil {
		return result, fmt.Errorf("create artifact writer: %w", err), runErr
	}

	inputsDoc, err := export.BuildInputsDocument(conversations, codec, endpoint.RequestContext{
		Model:       cfg.Model,
		Streaming:   cfg.Streaming,
		APIKey:      cfg.APIKey,
		UserHeaders: cfg.UserHeaders,
	})
	if err != nil {
		return result, fmt.Errorf("build inputs.json: %w", err), runErr
	}
	if err := writer.WriteInputs(inputsDoc); err != nil {
		return result, fmt.Errorf("write inputs.json: %w", err), runErr
	}
	if err := writer.WriteRecords(collector.Records()); err != nil {
		return result, fmt.Errorf("write profile_export.jsonl: %w", err), runErr
	}
	if err := writer.WriteAggregate(cfg, cfg.RunName, result); err != nil {
		return result, fmt.Errorf("write aggregate artifacts: %w", err), runErr
	}

	return result, nil, runErr
}

// runProgressBar renders a terminal progress bar across WARMUP/PROFILING
// when attached to a TTY, one tick per sealed credit, mirroring the
// teacher's per-concurrency-level bar in cmd/benchmark.go. It is a no-op
// when stderr is not a terminal.
func runProgressBar(ctx context.Context, cfg *config.Config, sealed <-chan bus.Message) func() {
	stopCh := make(chan struct{})
	done := make(chan struct{})

	if !isatty.IsTerminal(os.Stderr.Fd()) {
		go func() {
			defer close(done)
			for {
				select {
				case <-stopCh:
					return
				case <-ctx.Done():
					return
				case _, ok := <-sealed:
					if !ok {
						return
					}
				}
			}
		}()
		return func() { close(stopCh); <-done }
	}

	total := int64(-1)
	if cfg.RequestCount > 0 {
		total = int64(cfg.RequestCount + cfg.WarmupRequestCount)
	}
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("profiling"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("req"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)

	go func() {
		defer close(done)
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case _, ok := <-sealed:
				if !ok {
					return
				}
				_ = bar.Add(1)
			}
		}
	}()
	return func() {
		close(stopCh)
		<-done
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
}

func printSummary(cfg *config.Config, result aggregator.Result) {
	fmt.Printf("run %q: %d requests (%d errors, %d good) over %.2fs\n",
		cfg.RunName, result.RequestCount, result.ErrorRequestCount, result.GoodCount, result.DurationSeconds)
	if len(result.ErrorSummary) > 0 {
		fmt.Println("API Error Summary:")
		for kind, count := range result.ErrorSummary {
			fmt.Printf("  %-24s %d\n", kind, count)
		}
	}
	fmt.Printf("artifacts written under %s\n", cfg.ArtifactDir)
}
