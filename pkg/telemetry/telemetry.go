package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"cipherfeed/pkg/logger"
)

// Minimal, low-overhead request telemetry.
// - Prometheus collectors cover the ledger lifecycle and HTTP surface.
// - Slow requests additionally get a structured log line (see slowThreshold).

var (
	// RecordsSubmitted counts listen records accepted into the ledger.
	RecordsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "records_submitted_total",
		Help: "Listen records accepted into the ledger.",
	})

	// RecordsProcessed counts records whose projection flipped to processed.
	RecordsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "records_processed_total",
		Help: "Records resolved by an oracle callback.",
	})

	// DecryptRequests counts oracle submissions by kind (record, aggregate).
	DecryptRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "decrypt_requests_total",
		Help: "Decryption requests forwarded to the oracle.",
	}, []string{"kind"})

	// CallbackFailures counts rejected callbacks by reason.
	CallbackFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "callback_failures_total",
		Help: "Oracle callbacks rejected by the correlator.",
	}, []string{"reason"})

	// PendingRequests tracks oracle requests awaiting a callback.
	PendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pending_requests",
		Help: "Oracle requests in the created state.",
	})

	// AggregateCategories tracks the number of distinct observed categories.
	AggregateCategories = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aggregate_categories",
		Help: "Distinct categories with an aggregate counter.",
	})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by method and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "code"})

	stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stage_duration_seconds",
		Help:    "Latency of named internal stages.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
)

func init() {
	prometheus.MustRegister(
		RecordsSubmitted,
		RecordsProcessed,
		DecryptRequests,
		CallbackFailures,
		PendingRequests,
		AggregateCategories,
		httpDuration,
		stageDuration,
	)
}

var slowThresholdMs int64 = 200

// SetSlowThreshold sets the duration above which requests get a warning log.
// Zero or negative disables slow logging.
func SetSlowThreshold(d time.Duration) {
	atomic.StoreInt64(&slowThresholdMs, d.Milliseconds())
}

// Middleware wraps the provided handler and records request timing.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)

		dur := time.Since(start)
		httpDuration.WithLabelValues(r.Method, strconv.Itoa(srw.status)).Observe(dur.Seconds())

		if th := atomic.LoadInt64(&slowThresholdMs); th > 0 && dur.Milliseconds() > th {
			logger.Log.Warn("slow_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", srw.status),
				zap.Int64("duration_ms", dur.Milliseconds()))
		}
	})
}

// StartSpan returns an end function that records the stage's duration.
// The context is accepted for call-site symmetry with request handlers.
func StartSpan(_ context.Context, name string) func() {
	start := time.Now()
	return func() {
		stageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so streaming responses keep flowing
// through the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
