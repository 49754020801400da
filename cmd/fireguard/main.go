package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/couchcryptid/fireguard-alerts/internal/adapter/firms"
	"github.com/couchcryptid/fireguard-alerts/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/fireguard-alerts/internal/adapter/kafka"
	"github.com/couchcryptid/fireguard-alerts/internal/adapter/mapbox"
	"github.com/couchcryptid/fireguard-alerts/internal/adapter/mtg"
	"github.com/couchcryptid/fireguard-alerts/internal/adapter/overpass"
	"github.com/couchcryptid/fireguard-alerts/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/fireguard-alerts/internal/adapter/redis"
	"github.com/couchcryptid/fireguard-alerts/internal/alerting"
	"github.com/couchcryptid/fireguard-alerts/internal/config"
	"github.com/couchcryptid/fireguard-alerts/internal/dispatch"
	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/geofence"
	"github.com/couchcryptid/fireguard-alerts/internal/ingest"
	"github.com/couchcryptid/fireguard-alerts/internal/jobs"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	"github.com/couchcryptid/fireguard-alerts/internal/pipeline"
	"github.com/couchcryptid/fireguard-alerts/internal/risk"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage and cache.
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(db); err != nil {
		return err
	}
	store := postgres.New(db)

	redisClient := redisadapter.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()
	cache := redisadapter.NewCache(redisClient, "fireguard")

	// Geodata for risk scoring and location checks.
	geodata := overpass.NewCached(
		overpass.NewClient(cfg.OverpassURL, cfg.GeodataTimeout, logger, metrics),
		cache, logger, metrics)
	scorer := risk.NewScorer(geodata, logger, metrics)

	var boundary geofence.Boundary
	if cfg.CountryBoundaryPath != "" {
		b, err := overpass.LoadBoundary(cfg.CountryBoundaryPath)
		if err != nil {
			return err
		}
		boundary = b
		logger.Info("country boundary loaded", "path", cfg.CountryBoundaryPath)
	}

	// Reverse geocoding (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxLanguage, cfg.MapboxTimeout, logger, metrics)
		geocoder = mapbox.NewCachedGeocoder(client, cache, cfg.MapboxCacheTTL, logger, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_ttl", cfg.MapboxCacheTTL, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	// Satellite sources and the sync engine.
	var geostationary, polar ingest.Source
	if cfg.MTGEnabled() {
		geostationary = mtg.NewClient(mtg.Options{
			BaseURL:        cfg.MTGBaseURL,
			ConsumerKey:    cfg.MTGConsumerKey,
			ConsumerSecret: cfg.MTGConsumerSecret,
			Collection:     cfg.MTGCollection,
			Timeout:        cfg.SourceTimeout,
		}, mtg.NewHTTPDecoder(cfg.MTGDecoderURL, cfg.SourceTimeout), clockwork.NewRealClock(), logger)
	} else {
		logger.Warn("mtg source disabled: MTG_CONSUMER_KEY or MTG_DECODER_URL not set")
	}
	if cfg.FirmsEnabled() {
		polar = firms.NewClient(firms.Options{
			BaseURL: cfg.FirmsBaseURL,
			APIKey:  cfg.FirmsAPIKey,
			Source:  cfg.FirmsSource,
			Timeout: cfg.SourceTimeout,
		}, logger)
	} else {
		logger.Warn("firms source disabled: FIRMS_API_KEY not set")
	}

	writer := kafkaadapter.NewWriter(cfg, logger)
	defer closeLogged(logger, "kafka writer", writer.Close)

	syncEngine := ingest.NewEngine(
		ingest.BuildTasks(geostationary, polar, ingest.DefaultRegions),
		store, cache, scorer, writer,
		ingest.Options{
			DedupRadiusMeters: cfg.DedupRadiusMeters,
			DedupWindow:       cfg.DedupWindow,
			Concurrency:       cfg.SyncConcurrency,
			Retention:         cfg.CleanupRetention,
		}, logger, metrics)

	// Notification broker and dispatch.
	amqpConn, err := dispatch.Dial(cfg.AMQPURL)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "amqp connection", amqpConn.Close)

	publisher, err := dispatch.NewPublisher(amqpConn, cfg.PublishConfirmTimeout, metrics)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "amqp publisher", publisher.Close)

	dispatcher := dispatch.NewDispatcher(publisher, cfg.DispatchParallelism, logger, metrics)
	pool := dispatch.NewPool(dispatcher, cfg.DispatchWorkers, cfg.DispatchQueueSize, logger, metrics)

	hub := dispatch.NewHub(logger)
	transports := []dispatch.Transport{
		hub,
		dispatch.NewEmailTransport(dispatch.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, store, cfg.TransportRPS),
		dispatch.NewSMSTransport(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom, store, cfg.TransportRPS),
	}

	// Alert fan-out and the detection event consumer.
	alerts := alerting.NewService(store, cache, geocoder, logger, metrics)
	fence := geofence.NewEngine(store, alerts, cache, boundary, geofence.Options{
		RadiusKm:      cfg.GeofenceRadiusKm,
		MinConfidence: cfg.AlertMinConfidence,
	}, logger, metrics)

	reader := kafkaadapter.NewReader(cfg, logger)
	defer closeLogged(logger, "kafka reader", reader.Close)
	p := pipeline.New(reader, fence, pool, logger, metrics, cfg.BatchSize)

	// Scheduled jobs.
	scheduler := jobs.NewScheduler(clockwork.NewRealClock(), logger, metrics)
	for _, job := range []jobs.Job{
		{Name: "sync", Interval: cfg.SyncInterval, RunOnStart: true, Run: func(ctx context.Context) error {
			_, err := syncEngine.SyncAll(ctx)
			return err
		}},
		{Name: "cleanup", Interval: cfg.CleanupInterval, Run: func(ctx context.Context) error {
			_, err := syncEngine.Cleanup(ctx)
			return err
		}},
		{Name: "expire-alerts", Interval: cfg.ExpirySweepInterval, Run: func(ctx context.Context) error {
			_, err := alerts.ExpireSweep(ctx)
			return err
		}},
	} {
		if err := scheduler.Add(job); err != nil {
			return err
		}
	}

	ready := readinessChecks{store, cache, publisher}
	api := httpadapter.NewAPI(syncEngine, alerts, fence, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, api, hub, logger, metrics)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	var wg sync.WaitGroup
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				logger.Error(name+" stopped with error", "error", err)
				stop()
			}
		}()
	}

	for _, t := range transports {
		consumer := dispatch.NewConsumer(amqpConn, t, publisher, store, cfg.ConsumerPrefetch, logger, metrics)
		goRun(string(t.Channel())+" consumer", consumer.Run)
	}
	goRun("pipeline", p.Run)
	goRun("scheduler", func(ctx context.Context) error {
		scheduler.Run(ctx)
		return nil
	})

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	wg.Wait()
	if err := pool.Close(shutdownCtx); err != nil {
		logger.Error("dispatch pool drain incomplete", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// readinessChecks reports the first failing dependency.
type readinessChecks []interface {
	CheckReadiness(ctx context.Context) error
}

func (r readinessChecks) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

func closeLogged(logger *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error(fmt.Sprintf("%s close error", name), "error", err)
	}
}
