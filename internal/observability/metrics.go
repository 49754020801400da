package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fireguard"

// Metrics holds the Prometheus collectors for every stage of the detection to
// notification pipeline.
type Metrics struct {
	// Sync engine.
	SyncRuns            *prometheus.CounterVec // labels: outcome={success,error}
	SyncDuration        prometheus.Histogram
	DetectionsFetched   *prometheus.CounterVec // labels: source
	DetectionsPersisted prometheus.Counter
	DetectionsDuplicate prometheus.Counter
	SourceErrors        *prometheus.CounterVec // labels: source
	EventPublishErrors  prometheus.Counter

	// Risk scoring and geodata.
	RiskScore      prometheus.Histogram
	GeodataLookups *prometheus.CounterVec // labels: lookup, outcome={success,error}
	GeodataCache   *prometheus.CounterVec // labels: lookup, result={hit,miss}

	// Detection event consumer.
	EventsConsumed          prometheus.Counter
	EventHandleErrors       prometheus.Counter
	PipelineRunning         prometheus.Gauge
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Alert fan-out.
	FireAlertsCreated prometheus.Counter
	UserAlertsCreated prometheus.Counter
	AlertsSuppressed  prometheus.Counter
	AlertsExpired     prometheus.Counter

	// Notification dispatch.
	NotificationsPublished *prometheus.CounterVec // labels: channel, outcome={confirmed,unconfirmed,error}
	NotificationsDelivered *prometheus.CounterVec // labels: channel, outcome={success,retry,dead_letter,undeliverable,rejected}
	DispatchQueueDepth     prometheus.Gauge
	DispatchBatchDuration  prometheus.Histogram
	PublishConfirmDuration prometheus.Histogram

	// Reverse geocoding.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge

	// Scheduled jobs.
	JobRuns *prometheus.CounterVec // labels: job, outcome={success,error}

	// HTTP surface.
	HTTPRequests        *prometheus.CounterVec   // labels: route, code
	HTTPRequestDuration *prometheus.HistogramVec // labels: route
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered metrics to avoid "already
// registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Completed sync runs by outcome.",
		}, []string{"outcome"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of a full multi-source sync.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		DetectionsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_fetched_total",
			Help:      "Detections returned by satellite adapters.",
		}, []string{"source"}),
		DetectionsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_persisted_total",
			Help:      "New detections written to storage.",
		}),
		DetectionsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_duplicate_total",
			Help:      "Detections skipped as spatio-temporal duplicates.",
		}),
		SourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Adapter fetches that failed after retries.",
		}, []string{"source"}),
		EventPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "DetectionCreated events that could not be published.",
		}),
		RiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Distribution of computed detection risk scores.",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		GeodataLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geodata_lookups_total",
			Help:      "Geodata lookups by kind and outcome.",
		}, []string{"lookup", "outcome"}),
		GeodataCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geodata_cache_total",
			Help:      "Geodata cache lookups by kind and result.",
		}, []string{"lookup", "result"}),
		EventsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      "DetectionCreated events read from the bus.",
		}),
		EventHandleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handle_errors_total",
			Help:      "DetectionCreated events skipped after failed handling.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the event consumer is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of events per batch read from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of handling one event batch.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		FireAlertsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fire_alerts_created_total",
			Help:      "Fire alerts created.",
		}),
		UserAlertsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_alerts_created_total",
			Help:      "Per-user alerts created.",
		}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Per-user alerts suppressed by the recent-alert window.",
		}),
		AlertsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_expired_total",
			Help:      "Fire alerts retired by the expiry sweep.",
		}),
		NotificationsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_published_total",
			Help:      "Notification publishes by channel and broker outcome.",
		}, []string{"channel", "outcome"}),
		NotificationsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_delivered_total",
			Help:      "Consumer delivery attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		DispatchQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Alert batches waiting for a dispatch worker.",
		}),
		DispatchBatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_batch_duration_seconds",
			Help:      "Duration of publishing one alert batch.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		PublishConfirmDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_confirm_duration_seconds",
			Help:      "Time from publish to broker confirmation.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Reverse geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when reverse geocoding is enabled, 0 otherwise.",
		}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by matched route pattern and status code.",
		}, []string{"route", "code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by matched route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SyncRuns, m.SyncDuration, m.DetectionsFetched, m.DetectionsPersisted,
		m.DetectionsDuplicate, m.SourceErrors, m.EventPublishErrors,
		m.RiskScore, m.GeodataLookups, m.GeodataCache,
		m.EventsConsumed, m.EventHandleErrors, m.PipelineRunning, m.BatchSize, m.BatchProcessingDuration,
		m.FireAlertsCreated, m.UserAlertsCreated, m.AlertsSuppressed, m.AlertsExpired,
		m.NotificationsPublished, m.NotificationsDelivered, m.DispatchQueueDepth,
		m.DispatchBatchDuration, m.PublishConfirmDuration,
		m.GeocodeRequests, m.GeocodeCache, m.GeocodeAPIDuration, m.GeocodeEnabled,
		m.JobRuns, m.HTTPRequests, m.HTTPRequestDuration,
	}
}
