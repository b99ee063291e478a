package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CrawlsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_crawls_total",
		Help: "Total number of upstream crawl attempts by outcome.",
	}, []string{"outcome"})
	CrawlDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "herald_crawl_duration_seconds",
		Help:    "Duration of upstream crawl operations.",
		Buckets: prometheus.DefBuckets,
	})
	NoticesDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herald_notices_discovered_total",
		Help: "Total number of new notices found by the diff.",
	})
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_deliveries_total",
		Help: "Total number of webhook deliveries by result category.",
	}, []string{"category"})
	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "herald_delivery_duration_seconds",
		Help:    "Duration of single webhook delivery attempts.",
		Buckets: prometheus.DefBuckets,
	})
	BatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herald_batches_total",
		Help: "Total number of notification batches executed.",
	})
	BatchesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "herald_batches_in_flight",
		Help: "Number of notification batches currently running.",
	})
	WebhooksTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "herald_webhooks_total",
		Help: "Total number of registered webhook endpoints.",
	})
	WebhooksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "herald_webhooks_active",
		Help: "Number of active webhook endpoints.",
	})
	WebhooksDeactivated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "herald_webhooks_deactivated_total",
		Help: "Total number of endpoints deactivated after permanent delivery failures.",
	})
	CleanupDeletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_cleanup_deletions_total",
		Help: "Total number of inactive endpoints physically deleted, by schedule.",
	}, []string{"schedule"})
	RateLimitWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "herald_rate_limit_wait_seconds",
		Help:    "Time spent waiting on the dispatch rate limiter.",
		Buckets: []float64{.001, .01, .033, .1, .25, .5, 1, 2.5},
	})
	RegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_registrations_total",
		Help: "Total number of webhook registration attempts by outcome.",
	}, []string{"outcome"})
)
