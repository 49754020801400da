// Package ingest pulls detections from the satellite adapters, removes
// spatio-temporal duplicates, scores and stores what is new, and announces
// each new detection on the event bus.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Cache keys owned by the sync engine.
const (
	KeyActiveDetections = "active_detections"
	KeyDetectionStats   = "detection_stats"
	KeyLastGlobalSync   = "last_global_sync"
)

const (
	readCacheTTL   = 5 * time.Minute
	lastSyncTTL    = 24 * time.Hour
	activeWindow   = 24 * time.Hour
	fetchAttempts  = 3
	defaultBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second

	announceTimeout = 10 * time.Second
	announceBacklog = 500
)

// Store persists detections.
type Store interface {
	FindDuplicate(ctx context.Context, d domain.Detection, radiusMeters float64, window time.Duration) (bool, error)
	InsertDetection(ctx context.Context, d domain.Detection) (bool, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ActiveDetections(ctx context.Context, since time.Time) ([]domain.Detection, error)
	DetectionStats(ctx context.Context) (domain.DetectionStats, error)
	UnannouncedDetections(ctx context.Context, since time.Time, limit int) ([]domain.Detection, error)
	MarkAnnounced(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Cache is the shared key-value cache.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Remove(ctx context.Context, keys ...string) error
}

// Scorer assigns a risk score to a detection.
type Scorer interface {
	Score(ctx context.Context, d domain.Detection) float64
}

// Publisher announces new detections.
type Publisher interface {
	Publish(ctx context.Context, events ...domain.DetectionCreated) error
}

// Options tunes deduplication and fetch fan-out.
type Options struct {
	DedupRadiusMeters float64
	DedupWindow       time.Duration
	Concurrency       int
	Retention         time.Duration
	RetryBackoff      time.Duration // first retry delay; defaults to 200ms
}

// Engine runs sync and housekeeping.
type Engine struct {
	tasks     []Task
	store     Store
	cache     Cache
	scorer    Scorer
	publisher Publisher
	opts      Options
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewEngine creates an Engine.
func NewEngine(tasks []Task, store Store, cache Cache, scorer Scorer, publisher Publisher, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultBackoff
	}
	return &Engine{
		tasks:     tasks,
		store:     store,
		cache:     cache,
		scorer:    scorer,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}
}

// SyncAll fetches every task, stores new detections and publishes one event
// per new detection. It returns how many detections were new. Failed tasks
// are logged and skipped; only cancellation fails the run.
//
// Every stored detection is announced, including those stored before a
// cancellation. Detections whose event was never acknowledged by an earlier
// run are announced again first.
func (e *Engine) SyncAll(ctx context.Context) (int, error) {
	start := time.Now()
	e.logger.Info("sync started", "tasks", len(e.tasks))

	results := e.fetchAll(ctx)
	if err := ctx.Err(); err != nil {
		e.metrics.SyncRuns.WithLabelValues("error").Inc()
		return 0, err
	}

	backlog := e.unannounced(ctx)

	var (
		created    []domain.DetectionCreated
		duplicates int
		failed     int
		runErr     error
	)
	// Sequential so each candidate sees the rows stored before it.
candidates:
	for _, batch := range results {
		for _, d := range batch {
			if runErr = ctx.Err(); runErr != nil {
				break candidates
			}
			stored, inserted, err := e.persist(ctx, d)
			switch {
			case err != nil:
				failed++
				e.logger.Error("insert detection failed", "error", err, "detection_id", d.ID)
			case !inserted:
				duplicates++
			default:
				created = append(created, domain.NewDetectionCreated(stored))
			}
		}
	}

	e.announce(ctx, append(backlog, created...), len(created) > 0)
	e.metrics.DetectionsPersisted.Add(float64(len(created)))
	e.metrics.DetectionsDuplicate.Add(float64(duplicates))
	if runErr != nil {
		e.metrics.SyncRuns.WithLabelValues("error").Inc()
		e.logger.Warn("sync interrupted", "error", runErr, "new", len(created))
		return len(created), runErr
	}

	if err := e.cache.Set(ctx, KeyLastGlobalSync, domain.Now(), lastSyncTTL); err != nil {
		e.logger.Warn("record last sync failed", "error", err)
	}
	e.metrics.SyncRuns.WithLabelValues("success").Inc()
	e.metrics.SyncDuration.Observe(time.Since(start).Seconds())
	e.logger.Info("sync complete",
		"new", len(created), "duplicates", duplicates, "failed", failed,
		"reannounced", len(backlog), "duration", time.Since(start).String())
	return len(created), nil
}

// unannounced loads stored detections from the active window whose event was
// never acknowledged.
func (e *Engine) unannounced(ctx context.Context) []domain.DetectionCreated {
	dets, err := e.store.UnannouncedDetections(ctx, domain.Now().Add(-activeWindow), announceBacklog)
	if err != nil {
		e.logger.Warn("load unannounced detections failed", "error", err)
		return nil
	}
	events := make([]domain.DetectionCreated, len(dets))
	for i, d := range dets {
		events[i] = domain.NewDetectionCreated(d)
	}
	return events
}

// announce publishes events and stamps the acknowledged ones as announced. It
// runs detached from ctx cancellation, bounded by announceTimeout, so rows
// stored by an interrupted run still get their event.
func (e *Engine) announce(ctx context.Context, events []domain.DetectionCreated, invalidate bool) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), announceTimeout)
	defer cancel()

	if invalidate {
		if err := e.cache.Remove(ctx, KeyActiveDetections, KeyDetectionStats); err != nil {
			e.logger.Warn("invalidate detection caches failed", "error", err)
		}
	}

	var lost map[uuid.UUID]bool
	if err := e.publisher.Publish(ctx, events...); err != nil {
		lost = undelivered(err, events)
		e.metrics.EventPublishErrors.Add(float64(len(lost)))
		e.logger.Error("publish detection events failed",
			"error", err, "failed", len(lost), "count", len(events))
	}

	acked := make([]uuid.UUID, 0, len(events))
	for _, evt := range events {
		if !lost[evt.DetectionID] {
			acked = append(acked, evt.DetectionID)
		}
	}
	if err := e.store.MarkAnnounced(ctx, acked, domain.Now()); err != nil {
		// The next run publishes these again; handlers are idempotent.
		e.logger.Warn("mark detections announced failed", "error", err, "count", len(acked))
	}
}

// fetchAll runs every task concurrently. The result slot of a failed task is nil.
func (e *Engine) fetchAll(ctx context.Context) [][]domain.Detection {
	results := make([][]domain.Detection, len(e.tasks))

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, task := range e.tasks {
		g.Go(func() error {
			dets, err := e.fetchWithRetry(ctx, task)
			if err != nil {
				e.metrics.SourceErrors.WithLabelValues(task.Source.Name()).Inc()
				e.logger.Error("sync task failed", "task", task.Name, "error", err)
				return nil
			}
			e.metrics.DetectionsFetched.WithLabelValues(task.Source.Name()).Add(float64(len(dets)))
			e.logger.Debug("sync task fetched", "task", task.Name, "count", len(dets))
			results[i] = dets
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) fetchWithRetry(ctx context.Context, task Task) ([]domain.Detection, error) {
	backoff := e.opts.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		dets, err := task.Source.FetchActiveFires(ctx, task.Box, task.Lookback)
		if err == nil {
			return dets, nil
		}
		lastErr = err
		if attempt == fetchAttempts || !sharedretry.SleepWithContext(ctx, backoff) {
			break
		}
		e.logger.Warn("sync task attempt failed, retrying",
			"task", task.Name, "attempt", attempt, "error", err)
		backoff = sharedretry.NextBackoff(backoff, maxBackoff)
	}
	return nil, fmt.Errorf("%s after %d attempts: %w", task.Name, fetchAttempts, lastErr)
}

// persist scores and stores d unless it duplicates a stored detection. A
// failed duplicate lookup lets the detection through.
func (e *Engine) persist(ctx context.Context, d domain.Detection) (domain.Detection, bool, error) {
	dup, err := e.store.FindDuplicate(ctx, d, e.opts.DedupRadiusMeters, e.opts.DedupWindow)
	if err != nil {
		e.logger.Warn("duplicate check failed, treating as new", "error", err, "detection_id", d.ID)
	}
	if dup {
		return d, false, nil
	}

	d.RiskScore = e.scorer.Score(ctx, d)
	inserted, err := e.store.InsertDetection(ctx, d)
	if err != nil {
		return d, false, err
	}
	return d, inserted, nil
}

// Cleanup deletes terminal detections older than the retention period.
func (e *Engine) Cleanup(ctx context.Context) (int64, error) {
	cutoff := domain.Now().Add(-e.opts.Retention)
	n, err := e.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := e.cache.Remove(ctx, KeyActiveDetections, KeyDetectionStats); err != nil {
			e.logger.Warn("invalidate detection caches failed", "error", err)
		}
	}
	e.logger.Info("detection cleanup complete", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// ActiveDetections returns non-terminal detections from the last 24 hours.
func (e *Engine) ActiveDetections(ctx context.Context) ([]domain.Detection, error) {
	var cached []domain.Detection
	if ok, err := e.cache.Get(ctx, KeyActiveDetections, &cached); err != nil {
		e.logger.Warn("read active detections cache failed", "error", err)
	} else if ok {
		return cached, nil
	}

	dets, err := e.store.ActiveDetections(ctx, domain.Now().Add(-activeWindow))
	if err != nil {
		return nil, err
	}
	if err := e.cache.Set(ctx, KeyActiveDetections, dets, readCacheTTL); err != nil {
		e.logger.Warn("write active detections cache failed", "error", err)
	}
	return dets, nil
}

// Stats counts stored detections by status and by source.
func (e *Engine) Stats(ctx context.Context) (domain.DetectionStats, error) {
	var cached domain.DetectionStats
	if ok, err := e.cache.Get(ctx, KeyDetectionStats, &cached); err != nil {
		e.logger.Warn("read detection stats cache failed", "error", err)
	} else if ok {
		return cached, nil
	}

	stats, err := e.store.DetectionStats(ctx)
	if err != nil {
		return domain.DetectionStats{}, err
	}
	if err := e.cache.Set(ctx, KeyDetectionStats, stats, readCacheTTL); err != nil {
		e.logger.Warn("write detection stats cache failed", "error", err)
	}
	return stats, nil
}

// LastSync returns when the last sync run finished. It reports false when no
// run is recorded within the last day.
func (e *Engine) LastSync(ctx context.Context) (time.Time, bool, error) {
	var at time.Time
	ok, err := e.cache.Get(ctx, KeyLastGlobalSync, &at)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, ok, nil
}

// undelivered returns the detections a publish error covers. Publishers that
// know which events were acknowledged expose the rest through Undelivered.
func undelivered(err error, events []domain.DetectionCreated) map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool, len(events))
	var partial interface{ Undelivered() []uuid.UUID }
	if errors.As(err, &partial) {
		for _, id := range partial.Undelivered() {
			out[id] = true
		}
		return out
	}
	for _, evt := range events {
		out[evt.DetectionID] = true
	}
	return out
}
