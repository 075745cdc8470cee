package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TenantRuns      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "extractor_tenant_runs_total", Help: "Tenant extraction runs by terminal state"}, []string{"result"})
	EventsExtracted = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "extractor_events_extracted_total", Help: "Events persisted, by category"}, []string{"category"})
	ItemsSkipped    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "extractor_items_skipped_total", Help: "Remote items not persisted, by reason"}, []string{"reason"})
	PagesFetched    = prometheus.NewCounter(prometheus.CounterOpts{Name: "extractor_pages_fetched_total", Help: "Remote pages fetched"})
	PageCeilingHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "extractor_page_ceiling_hits_total", Help: "Category runs truncated by the page ceiling"})
	RemoteRetries   = prometheus.NewCounter(prometheus.CounterOpts{Name: "extractor_remote_retries_total", Help: "Remote calls retried after a transient failure"})
	TriggerRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "extractor_trigger_rate_limit_rejects_total", Help: "On-demand triggers rejected by the rate limiter"})
	LeasesLost      = prometheus.NewCounter(prometheus.CounterOpts{Name: "extractor_leases_lost_total", Help: "Tenant leases that lapsed or were taken over while a run held them"})
	InFlightTenants = prometheus.NewGauge(prometheus.GaugeOpts{Name: "extractor_tenants_inflight", Help: "Tenant runs currently executing"})
	RunDuration     = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "extractor_tenant_run_duration_seconds",
		Help:    "Wall time of one tenant extraction run",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TenantRuns,
			EventsExtracted,
			ItemsSkipped,
			PagesFetched,
			PageCeilingHits,
			RemoteRetries,
			TriggerRejects,
			LeasesLost,
			InFlightTenants,
			RunDuration,
		)
	})
	return promhttp.Handler()
}
