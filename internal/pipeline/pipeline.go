// Package pipeline drains DetectionCreated events from the bus, fans each one
// out to nearby users and hands the resulting batch to notification dispatch.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/dispatch"
	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
)

// MaxHandleAttempts bounds how often one event is retried before it is skipped.
const MaxHandleAttempts = 5

const (
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// EventSource reads up to batchSize detection events from the bus.
type EventSource interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.EventEnvelope, error)
}

// Handler turns one detection event into the user alerts it produces.
type Handler interface {
	Handle(ctx context.Context, evt domain.DetectionCreated) (dispatch.Batch, error)
}

// Sink accepts alert batches for delivery.
type Sink interface {
	Submit(ctx context.Context, b dispatch.Batch) error
}

// Pipeline orchestrates the consume-handle-dispatch loop.
type Pipeline struct {
	source         EventSource
	handler        Handler
	sink           Sink
	logger         *slog.Logger
	metrics        *observability.Metrics
	ready          atomic.Bool
	batchSize      int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// New creates a Pipeline with the given stages and observability.
func New(source EventSource, handler Handler, sink Sink, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		source:         source,
		handler:        handler,
		sink:           sink,
		logger:         logger,
		metrics:        metrics,
		batchSize:      batchSize,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
}

// WithBackoff overrides the retry backoff bounds.
func (p *Pipeline) WithBackoff(initial, maxBackoff time.Duration) *Pipeline {
	p.initialBackoff = initial
	p.maxBackoff = maxBackoff
	return p
}

// CheckReadiness returns nil once the pipeline has read from the bus.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not read any events yet")
	}
	return nil
}

// Run executes the consume loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := p.initialBackoff
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff) {
			return nil
		}
	}
}

// processBatch runs one consume cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	start := time.Now()

	batch, err := p.source.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}
	if len(batch) == 0 {
		return ctx.Err() == nil
	}

	p.ready.Store(true)
	p.metrics.EventsConsumed.Add(float64(len(batch)))
	p.metrics.BatchSize.Observe(float64(len(batch)))
	*backoff = p.initialBackoff

	for _, env := range batch {
		if !p.processEvent(ctx, env) {
			return false
		}
	}
	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	return true
}

// processEvent handles one envelope and commits it. Events that are invalid or
// keep failing are committed and skipped. Returns false if the pipeline should
// stop, leaving the offset uncommitted.
func (p *Pipeline) processEvent(ctx context.Context, env domain.EventEnvelope) bool {
	if env.Err == nil {
		env.Err = env.Event.Validate()
	}
	if env.Err != nil {
		p.skip(ctx, env, env.Err)
		return true
	}

	out, err := p.handleWithRetry(ctx, env.Event)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.skip(ctx, env, err)
		return true
	}

	if err := p.sink.Submit(ctx, out); err != nil {
		// The batch was not queued; leave the offset for redelivery.
		p.logger.Error("submit alert batch failed", "error", err,
			"detection_id", env.Event.DetectionID, "fire_alert_id", out.Alert.ID)
		return false
	}
	p.commitOffset(ctx, env)
	return true
}

func (p *Pipeline) handleWithRetry(ctx context.Context, evt domain.DetectionCreated) (dispatch.Batch, error) {
	backoff := p.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= MaxHandleAttempts; attempt++ {
		out, err := p.handler.Handle(ctx, evt)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, domain.ErrInvalidEvent) {
			return dispatch.Batch{}, err
		}
		lastErr = err
		p.logger.Warn("handle event failed",
			"detection_id", evt.DetectionID, "attempt", attempt, "error", err)
		if attempt == MaxHandleAttempts {
			break
		}
		if !sharedretry.SleepWithContext(ctx, backoff) {
			return dispatch.Batch{}, ctx.Err()
		}
		backoff = sharedretry.NextBackoff(backoff, p.maxBackoff)
	}
	return dispatch.Batch{}, lastErr
}

func (p *Pipeline) skip(ctx context.Context, env domain.EventEnvelope, err error) {
	p.logger.Warn("skipping detection event",
		"error", err,
		"topic", env.Topic,
		"partition", env.Partition,
		"offset", env.Offset,
	)
	p.metrics.EventHandleErrors.Inc()
	p.commitOffset(ctx, env)
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sharedretry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = sharedretry.NextBackoff(*backoff, p.maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, env domain.EventEnvelope) {
	if env.Commit == nil {
		return
	}
	if err := env.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", env.Topic, "partition", env.Partition, "offset", env.Offset)
	}
}
