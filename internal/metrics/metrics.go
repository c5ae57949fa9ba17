// Package metrics provides Prometheus metrics for the wheelhouse server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheelhouse_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wheelhouse_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Resource delivery metrics
	resourceDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheelhouse_resource_downloads_total",
			Help: "Total number of resource deliveries by kind",
		},
		[]string{"kind", "status"},
	)

	resourceBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wheelhouse_resource_bytes_total",
			Help: "Total resource bytes written to clients",
		},
	)

	proxyTruncatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wheelhouse_proxy_truncated_total",
			Help: "Streamed upstream bodies that ended early after headers were sent",
		},
	)

	// Backend repository metrics
	backendLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wheelhouse_backend_lookup_duration_seconds",
			Help:    "Backend repository lookup duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	backendErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheelhouse_backend_errors_total",
			Help: "Backend repository lookup failures",
		},
		[]string{"kind"},
	)

	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheelhouse_upstream_requests_total",
			Help: "Requests issued to upstream package indexes",
		},
		[]string{"status"},
	)

	// Metadata extraction metrics
	metadataCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheelhouse_metadata_cache_total",
			Help: "Metadata cache lookups",
		},
		[]string{"result"},
	)

	metadataExtractedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wheelhouse_metadata_extracted_total",
			Help: "METADATA files extracted from wheels",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheelhouse_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Client metrics
	pipClientsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheelhouse_pip_clients_total",
			Help: "Requests by pip client version (major.minor)",
		},
		[]string{"version"},
	)

	// S3 metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wheelhouse_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wheelhouse_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordResourceDownload records a resource delivery by dispatch kind
// (text, local, redirect, stream).
func RecordResourceDownload(kind string, bytes int64, success bool) {
	if bytes > 0 {
		resourceBytesTotal.Add(float64(bytes))
	}
	status := "success"
	if !success {
		status = "error"
	}
	resourceDownloadsTotal.WithLabelValues(kind, status).Inc()
}

// RecordProxyTruncated records a streamed body that terminated early.
func RecordProxyTruncated() {
	proxyTruncatedTotal.Inc()
}

// ObserveBackendLookup records a backend lookup duration for op
// (list, page, resource).
func ObserveBackendLookup(op string, duration time.Duration) {
	backendLookupDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordBackendError records a failed backend lookup by error kind.
func RecordBackendError(kind string) {
	backendErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordUpstreamRequest records a request to an upstream index.
func RecordUpstreamRequest(status int) {
	upstreamRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordMetadataCache records a metadata cache lookup result (hit, miss, error).
func RecordMetadataCache(result string) {
	metadataCacheTotal.WithLabelValues(result).Inc()
}

// RecordMetadataExtracted records a successful METADATA extraction.
func RecordMetadataExtracted() {
	metadataExtractedTotal.Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordPipClient records the pip version advertised by a client.
func RecordPipClient(version string) {
	pipClientsTotal.WithLabelValues(version).Inc()
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	s3OperationsTotal.WithLabelValues(operation, status).Inc()
}

// endpointLabel collapses request paths to a bounded label set; project and
// resource names must not become label values.
func endpointLabel(path string) string {
	switch {
	case path == "/" || path == "/simple" || path == "/simple/":
		return "index"
	case strings.HasPrefix(path, "/simple/"):
		return "project"
	case strings.HasPrefix(path, "/resources/"):
		return "resource"
	case path == "/health":
		return "health"
	default:
		return "other"
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, endpointLabel(r.URL.Path), rw.statusCode, time.Since(start))
	})
}
