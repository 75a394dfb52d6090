package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for crawl runs.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ThrottledTotal    prometheus.Counter
	ListingsSeen      prometheus.Counter
	ListingsRejected  *prometheus.CounterVec
	RecordsUploaded   prometheus.Counter
	RecordsCommitted  prometheus.Counter
	CatalogsProcessed *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_requests_total",
			Help: "Marketplace API calls by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_request_duration_seconds",
			Help:    "Marketplace API call latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	throttled := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_throttled_total",
			Help: "Search requests abandoned after a throttling status.",
		},
	)
	seen := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_listings_seen_total",
			Help: "Raw listings handed to the normalizer.",
		},
	)
	rejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_listings_rejected_total",
			Help: "Listings dropped by the normalizer, by reason.",
		},
		[]string{"reason"},
	)
	uploaded := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_records_uploaded_total",
			Help: "Item rows written to staging.",
		},
	)
	committed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_records_committed_total",
			Help: "Rows merged from staging into canonical tables.",
		},
	)
	catalogs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_catalogs_processed_total",
			Help: "Catalogs processed, by gender.",
		},
		[]string{"gender"},
	)

	registry.MustRegister(requests, requestDuration, throttled, seen, rejected, uploaded, committed, catalogs)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		ThrottledTotal:    throttled,
		ListingsSeen:      seen,
		ListingsRejected:  rejected,
		RecordsUploaded:   uploaded,
		RecordsCommitted:  committed,
		CatalogsProcessed: catalogs,
	}
}

func (m *Metrics) IncRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

func (m *Metrics) IncThrottled() {
	if m == nil {
		return
	}
	m.ThrottledTotal.Inc()
}

func (m *Metrics) IncSeen() {
	if m == nil {
		return
	}
	m.ListingsSeen.Inc()
}

func (m *Metrics) IncRejected(reason string) {
	if m == nil {
		return
	}
	m.ListingsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddUploaded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsUploaded.Add(float64(n))
}

func (m *Metrics) AddCommitted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsCommitted.Add(float64(n))
}

func (m *Metrics) IncCatalog(women bool) {
	if m == nil {
		return
	}
	gender := "men"
	if women {
		gender = "women"
	}
	m.CatalogsProcessed.WithLabelValues(gender).Inc()
}
