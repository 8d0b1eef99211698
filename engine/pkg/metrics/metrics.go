package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lottery_engine_build_info",
			Help: "Build information of the lottery engine",
		},
		[]string{"version", "commit", "date"},
	)

	TicketsSoldTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_engine_tickets_sold_total",
			Help: "Total number of tickets sold",
		},
		[]string{"category"},
	)

	RoundsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_engine_rounds_created_total",
			Help: "Total number of rounds created",
		},
		[]string{"category"},
	)

	RoundsFilledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_engine_rounds_filled_total",
			Help: "Total number of rounds that reached capacity",
		},
		[]string{"category"},
	)

	RewardsClaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_engine_rewards_claimed_total",
			Help: "Total number of round prizes paid out",
		},
		[]string{"category"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_engine_operations_total",
			Help: "Total number of engine operations",
		},
		[]string{"operation", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lottery_engine_operation_duration_seconds",
			Help:    "Duration of engine operations",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~0.8s
		},
		[]string{"operation"},
	)

	AutoRefillTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_engine_auto_refill_total",
			Help: "Total number of auto-refill attempts",
		},
		[]string{"status"},
	)

	OracleRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lottery_engine_oracle_requests_total",
			Help: "Total number of randomness requests accepted by the coordinator",
		},
	)

	OracleFulfilmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_engine_oracle_fulfilments_total",
			Help: "Total number of randomness fulfilments delivered",
		},
		[]string{"status"},
	)

	LoopRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_engine_loop_runs_total",
			Help: "Total number of background loop iterations",
		},
		[]string{"loop", "status"},
	)

	JournalWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_engine_journal_writes_total",
			Help: "Total number of event journal writes",
		},
		[]string{"status"},
	)

	JournalWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lottery_engine_journal_write_duration_seconds",
			Help:    "Duration of event journal writes",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4.1s
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lottery_engine_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lottery_engine_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lottery_engine_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Route pattern keeps label cardinality bounded.
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = "unmatched"
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordOperation records the outcome and duration of an engine operation.
func RecordOperation(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordJournalWrite records the outcome and duration of a journal write.
func RecordJournalWrite(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	JournalWritesTotal.WithLabelValues(status).Inc()
	JournalWriteDuration.Observe(duration.Seconds())
}
