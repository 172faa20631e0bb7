package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "staking_ledger",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "staking_ledger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "staking_ledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	stakingOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "staking_ledger",
			Subsystem: "staking",
			Name:      "operations_total",
			Help:      "Total number of staking operations by outcome.",
		},
		[]string{"operation", "token", "outcome"},
	)

	stakingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "staking_ledger",
			Subsystem: "staking",
			Name:      "operation_duration_seconds",
			Help:      "Duration of staking operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"operation"},
	)

	priceRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "staking_ledger",
			Subsystem: "pricefeed",
			Name:      "refreshes_total",
			Help:      "Total number of price feed refresh attempts.",
		},
		[]string{"pair", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		stakingOperations,
		stakingDuration,
		priceRefreshes,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordStakingOperation records the outcome of a ledger operation. Outcome is
// "ok" or the short name of the error that rejected it.
func RecordStakingOperation(operation, token, outcome string, duration time.Duration) {
	if token == "" {
		token = "unknown"
	}
	if outcome == "" {
		outcome = "ok"
	}
	if duration <= 0 {
		duration = time.Microsecond
	}
	stakingOperations.WithLabelValues(operation, token, outcome).Inc()
	stakingDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPriceRefresh records a refresher fetch for a feed pair.
func RecordPriceRefresh(pair string, success bool) {
	if pair == "" {
		pair = "unknown"
	}
	priceRefreshes.WithLabelValues(pair, strconv.FormatBool(success)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses the token segment so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "tokens", "stakes", "rewards", "assets":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		parts[1] = ":token"
		return "/" + strings.Join(parts, "/")
	case "feeds":
		if len(parts) > 1 {
			parts[1] = ":feed"
		}
		return "/" + strings.Join(parts, "/")
	default:
		return "/" + parts[0]
	}
}
