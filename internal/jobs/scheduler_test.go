package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// start runs s in the background and returns a stop func that waits for it.
func start(t *testing.T, s *Scheduler) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not stop")
		}
	}
}

func TestScheduler_RunsOnEachTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	metrics := observability.NewMetricsForTesting()
	s := NewScheduler(clock, discardLogger(), metrics)

	var runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "sync", Interval: 10 * time.Minute, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))
	stop := start(t, s)
	defer stop()

	for i := 1; i <= 3; i++ {
		require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
		clock.Advance(10 * time.Minute)
		want := int32(i)
		require.Eventually(t, func() bool { return runs.Load() == want }, time.Second, 5*time.Millisecond)
	}
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.JobRuns.WithLabelValues("sync", "success")), 0)
}

func TestScheduler_RunOnStart(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewScheduler(clock, discardLogger(), observability.NewMetricsForTesting())

	var runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "sync", Interval: time.Hour, RunOnStart: true, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))
	stop := start(t, s)
	defer stop()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_ErrorKeepsSchedule(t *testing.T) {
	clock := clockwork.NewFakeClock()
	metrics := observability.NewMetricsForTesting()
	s := NewScheduler(clock, discardLogger(), metrics)

	var runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "cleanup", Interval: time.Hour, Run: func(context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("database unavailable")
		}
		panic("boom")
	}}))
	stop := start(t, s)
	defer stop()

	for i := 1; i <= 2; i++ {
		require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
		clock.Advance(time.Hour)
		want := int32(i)
		require.Eventually(t, func() bool { return runs.Load() == want }, time.Second, 5*time.Millisecond)
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.JobRuns.WithLabelValues("cleanup", "error")) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_DoesNotOverlap(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewScheduler(clock, discardLogger(), observability.NewMetricsForTesting())

	release := make(chan struct{})
	var running, maxRunning, runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "expire-alerts", Interval: time.Minute, Run: func(context.Context) error {
		n := running.Add(1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		runs.Add(1)
		<-release
		running.Add(-1)
		return nil
	}}))
	stop := start(t, s)
	defer stop()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	// More ticks while the first run is still in progress.
	clock.Advance(time.Minute)
	clock.Advance(time.Minute)
	close(release)

	require.Eventually(t, func() bool { return running.Load() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxRunning.Load())
	assert.LessOrEqual(t, runs.Load(), int32(2))
}

func TestScheduler_AddValidates(t *testing.T) {
	s := NewScheduler(nil, discardLogger(), observability.NewMetricsForTesting())

	require.Error(t, s.Add(Job{Name: "", Interval: time.Minute, Run: func(context.Context) error { return nil }}))
	require.Error(t, s.Add(Job{Name: "sync", Interval: 0, Run: func(context.Context) error { return nil }}))
	require.Error(t, s.Add(Job{Name: "sync", Interval: time.Minute}))
}
