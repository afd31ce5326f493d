// Package metrics holds the Prometheus instruments docrelay components
// report to. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docrelay"

// Metrics holds every docrelay instrument.
type Metrics struct {
	registry *prometheus.Registry

	ProvisionAttempts *prometheus.CounterVec // docrelay_bucket_provision_attempts_total{result}
	BucketReady       prometheus.Gauge       // docrelay_bucket_ready (1 ready, 0 unknown, -1 broken)

	URLResolutions *prometheus.CounterVec // docrelay_url_resolutions_total{tier}
	URLVerifyFails prometheus.Counter     // docrelay_url_verify_failures_total

	CatalogLookups    *prometheus.CounterVec // docrelay_catalog_page_lookups_total{source}
	ReconcileBackfill prometheus.Counter     // docrelay_catalog_backfilled_total
	ReconcileSkipped  prometheus.Counter     // docrelay_catalog_backfill_failures_total
	SweepRemoved      prometheus.Counter     // docrelay_catalog_orphans_removed_total

	UploadFiles   *prometheus.CounterVec // docrelay_upload_files_total{result}
	UploadBatches *prometheus.CounterVec // docrelay_upload_batches_total{outcome}
	UploadBytes   prometheus.Counter     // docrelay_upload_bytes_total
	IndexFailures *prometheus.CounterVec // docrelay_index_write_failures_total{op}
	Deletions     *prometheus.CounterVec // docrelay_deletions_total{result}

	Deliveries *prometheus.CounterVec // docrelay_deliveries_total{method,result}

	HTTPRequests *prometheus.CounterVec   // docrelay_http_requests_total{route,method,code}
	HTTPDuration *prometheus.HistogramVec // docrelay_http_request_duration_seconds{route}
}

// New registers all instruments on a fresh registry together with the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ProvisionAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bucket_provision_attempts_total",
			Help: "Bucket provisioning attempts by result",
		}, []string{"result"}),
		BucketReady: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "bucket_ready",
			Help: "Cached bucket state: 1 ready, 0 unknown, -1 broken",
		}),

		URLResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "url_resolutions_total",
			Help: "URL resolutions by the tier that produced the URL",
		}, []string{"tier"}),
		URLVerifyFails: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "url_verify_failures_total",
			Help: "URLs that failed the reachability check",
		}),

		CatalogLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "catalog_page_lookups_total",
			Help: "Catalog page lookups by source (cache, index)",
		}, []string{"source"}),
		ReconcileBackfill: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "catalog_backfilled_total",
			Help: "Index rows inserted by reconciliation",
		}),
		ReconcileSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "catalog_backfill_failures_total",
			Help: "Reconciliation inserts that failed and were skipped",
		}),
		SweepRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "catalog_orphans_removed_total",
			Help: "Index rows removed because their object no longer exists",
		}),

		UploadFiles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "upload_files_total",
			Help: "Uploaded files by result",
		}, []string{"result"}),
		UploadBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "upload_batches_total",
			Help: "Upload batches by outcome",
		}, []string{"outcome"}),
		UploadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "upload_bytes_total",
			Help: "Bytes written to the object store by uploads",
		}),
		IndexFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "index_write_failures_total",
			Help: "Index writes that failed after the object operation succeeded",
		}, []string{"op"}),
		Deletions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deletions_total",
			Help: "Document deletions by result",
		}, []string{"result"}),

		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Document deliveries by method and result",
		}, []string{"method", "result"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route, method and status code",
		}, []string{"route", "method", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ProvisionAttempt records one provisioning attempt.
func (m *Metrics) ProvisionAttempt(err error) {
	if m == nil {
		return
	}
	m.ProvisionAttempts.WithLabelValues(result(err)).Inc()
}

// SetBucketReady publishes the cached bucket state.
func (m *Metrics) SetBucketReady(v float64) {
	if m == nil {
		return
	}
	m.BucketReady.Set(v)
}

// URLResolved records which tier produced a URL.
func (m *Metrics) URLResolved(tier string) {
	if m == nil {
		return
	}
	m.URLResolutions.WithLabelValues(tier).Inc()
}

// URLVerifyFailed records a failed reachability check.
func (m *Metrics) URLVerifyFailed() {
	if m == nil {
		return
	}
	m.URLVerifyFails.Inc()
}

// PageLookup records a catalog page served from source.
func (m *Metrics) PageLookup(source string) {
	if m == nil {
		return
	}
	m.CatalogLookups.WithLabelValues(source).Inc()
}

// Backfilled records index rows inserted and skipped by reconciliation.
func (m *Metrics) Backfilled(inserted, skipped int) {
	if m == nil {
		return
	}
	m.ReconcileBackfill.Add(float64(inserted))
	m.ReconcileSkipped.Add(float64(skipped))
}

// Swept records orphan index rows removed.
func (m *Metrics) Swept(n int) {
	if m == nil {
		return
	}
	m.SweepRemoved.Add(float64(n))
}

// FileUploaded records one file of a batch.
func (m *Metrics) FileUploaded(size int64, err error) {
	if m == nil {
		return
	}
	m.UploadFiles.WithLabelValues(result(err)).Inc()
	if err == nil && size > 0 {
		m.UploadBytes.Add(float64(size))
	}
}

// BatchFinished records a batch outcome.
func (m *Metrics) BatchFinished(outcome string) {
	if m == nil {
		return
	}
	m.UploadBatches.WithLabelValues(outcome).Inc()
}

// IndexWriteFailed records a tolerated or reported index failure.
func (m *Metrics) IndexWriteFailed(op string) {
	if m == nil {
		return
	}
	m.IndexFailures.WithLabelValues(op).Inc()
}

// Deleted records a deletion result.
func (m *Metrics) Deleted(err error) {
	if m == nil {
		return
	}
	m.Deletions.WithLabelValues(result(err)).Inc()
}

// Delivered records a delivery attempt.
func (m *Metrics) Delivered(method string, err error) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(method, result(err)).Inc()
}

// HTTPRequest records a served request.
func (m *Metrics) HTTPRequest(route, method, code string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, code).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(seconds)
}
