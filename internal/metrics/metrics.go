package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "emby_guard"

var (
	// AuthDecisions counts gateway allow/deny outcomes by source.
	AuthDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_decisions_total",
		Help:      "Gateway allow/deny outcomes by decision source.",
	}, []string{"outcome", "source"})

	// BansTriggered counts automatic ban attempts by result.
	BansTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bans_triggered_total",
		Help:      "Automatic ban attempts by result.",
	}, []string{"result"})

	// CheckinRejected counts check-in rejections per pipeline stage.
	CheckinRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkin_rejected_total",
		Help:      "Check-in rejections per pipeline stage.",
	}, []string{"stage", "reason"})

	// CheckinGranted counts successful check-in grants.
	CheckinGranted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkin_granted_total",
		Help:      "Successful check-in reward grants.",
	})

	// CacheEntries is the current entry count per shared cache.
	CacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Current entry count per shared cache.",
	}, []string{"cache"})

	// CacheEvictions counts entries removed per cache and cause.
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_evictions_total",
		Help:      "Entries removed per cache by cause.",
	}, []string{"cache", "cause"})

	// APICalls counts raw external API calls.
	APICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_calls_total",
		Help:      "Raw external API call counts.",
	}, []string{"service", "endpoint", "status"})

	// APIDuration records external API latency.
	APIDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_duration_seconds",
		Help:      "External API call latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"service", "endpoint"})

	// NotificationsSent counts Telegram notification sends by kind and status.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_sent_total",
		Help:      "Telegram notification sends by kind and status.",
	}, []string{"kind", "status"})

	// LimiterFallbacks counts permanent Redis-to-memory limiter fallbacks.
	LimiterFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "limiter_fallbacks_total",
		Help:      "Permanent Redis-to-memory limiter fallbacks.",
	})

	// WebhookEvents counts media-server webhook events by type.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Media-server webhook events by type.",
	}, []string{"event"})

	// DBSizeBytes tracks bbolt on-disk file size.
	DBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_size_bytes",
		Help:      "bbolt on-disk file size in bytes.",
	})
)
