package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aiperf-core/genaiperf/internal/bus"
	"github.com/aiperf-core/genaiperf/internal/clock"
	"github.com/aiperf-core/genaiperf/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error"})
}

type fakeService struct {
	startErr  error
	started   chan struct{}
	stopped   bool
	cleanedUp bool
}

func (f *fakeService) Init(ctx context.Context) error { return nil }

func (f *fakeService) Start(ctx context.Context) error {
	close(f.started)
	if f.startErr != nil {
		return f.startErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeService) Stop(ctx context.Context) error { f.stopped = true; return nil }
func (f *fakeService) Cleanup() error                 { f.cleanedUp = true; return nil }

func TestRunnerRunsAllServicesAndCleansUpOnShutdown(t *testing.T) {
	status := bus.NewTopic()
	runner := New(0, clock.Real{}, testLogger(), status)

	svcA := &fakeService{started: make(chan struct{})}
	svcB := &fakeService{started: make(chan struct{})}
	runner.Register("a", svcA)
	runner.Register("b", svcB)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	<-svcA.started
	<-svcB.started
	cancel()

	require.NoError(t, <-done)
	require.True(t, svcA.cleanedUp)
	require.True(t, svcB.cleanedUp)
}

func TestRunnerPropagatesFirstStartErrorAsCancellation(t *testing.T) {
	status := bus.NewTopic()
	runner := New(0, clock.Real{}, testLogger(), status)

	failing := &fakeService{started: make(chan struct{}), startErr: errors.New("boom")}
	healthy := &fakeService{started: make(chan struct{})}
	runner.Register("failing", failing)
	runner.Register("healthy", healthy)

	done := make(chan error, 1)
	go func() { done <- runner.Run(context.Background()) }()

	err := <-done
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestRunnerEmitsHeartbeatsOnStatusTopic(t *testing.T) {
	status := bus.NewTopic()
	sub := status.Subscribe(16)
	runner := New(10*time.Millisecond, clock.Real{}, testLogger(), status)

	svc := &fakeService{started: make(chan struct{})}
	runner.Register("svc", svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	<-svc.started

	var sawHeartbeat bool
	deadline := time.After(time.Second)
	for !sawHeartbeat {
		select {
		case msg := <-sub:
			if msg.Kind == bus.KindHeartbeat {
				sawHeartbeat = true
			}
		case <-deadline:
			t.Fatal("expected at least one heartbeat message")
		}
	}

	cancel()
	<-done
}
