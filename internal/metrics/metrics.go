package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_provider_calls_total",
			Help: "Provider calls by provider, operation and outcome",
		},
		[]string{"provider", "operation", "outcome"},
	)

	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vortex_provider_call_duration_seconds",
			Help:    "Provider call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)

	ProviderAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vortex_provider_attempts",
			Help:    "Providers tried per manager call",
			Buckets: []float64{1, 2, 3, 4, 6, 9},
		},
		[]string{"operation"},
	)

	ProvidersExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_providers_exhausted_total",
			Help: "Manager calls that ran out of providers",
		},
		[]string{"operation"},
	)

	ArticlesIndexed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_articles_indexed_total",
			Help: "Articles processed by the indexer",
		},
		[]string{"outcome"},
	)

	ArticlesAnalyzed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_articles_analyzed_total",
			Help: "Articles processed by the analyzer",
		},
		[]string{"outcome"},
	)

	Verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_verifications_total",
			Help: "Claim verifications by verdict",
		},
		[]string{"verdict"},
	)

	ArticlesCollected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vortex_articles_collected_total",
			Help: "New articles stored by the collector",
		},
	)

	SourcesOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vortex_sources_online",
			Help: "Monitored news sites answering at the last check",
		},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_http_requests_total",
			Help: "API requests by route and status code",
		},
		[]string{"route", "status"},
	)
)

var once sync.Once

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			ProviderCalls,
			ProviderLatency,
			ProviderAttempts,
			ProvidersExhausted,
			ArticlesIndexed,
			ArticlesAnalyzed,
			Verifications,
			ArticlesCollected,
			SourcesOnline,
			HTTPRequests,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
