package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	"github.com/google/uuid"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("dispatch pool closed")

// BatchSender sends one batch and reports per-user success.
type BatchSender interface {
	SendBatch(ctx context.Context, b Batch) map[uuid.UUID]bool
}

// Pool runs batch sends on a fixed set of workers fed by a bounded queue.
type Pool struct {
	sender  BatchSender
	jobs    chan Batch
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPool starts workers goroutines draining a queue of queueSize batches.
func NewPool(sender BatchSender, workers, queueSize int, logger *slog.Logger, metrics *observability.Metrics) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		sender:  sender,
		jobs:    make(chan Batch, max(0, queueSize)),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
	}
	for range max(1, workers) {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit queues b, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- b:
		p.metrics.DispatchQueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake and waits for queued batches to drain. When ctx expires
// first, in-flight sends are cancelled and ctx's error is returned.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		if n := len(p.jobs); n > 0 {
			p.logger.Warn("dispatch pool closed with queued batches", "queued", n)
		}
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for b := range p.jobs {
		p.metrics.DispatchQueueDepth.Dec()
		p.run(b)
	}
}

func (p *Pool) run(b Batch) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dispatch batch panicked", "fire_alert_id", b.Alert.ID, "panic", fmt.Sprint(r))
		}
	}()

	results := p.sender.SendBatch(p.ctx, b)
	failed := 0
	for _, ok := range results {
		if !ok {
			failed++
		}
	}
	if failed > 0 {
		p.logger.Warn("dispatch batch partially failed",
			"fire_alert_id", b.Alert.ID, "users", len(results), "failed", failed)
		return
	}
	p.logger.Debug("dispatch batch sent", "fire_alert_id", b.Alert.ID, "users", len(results))
}
