// Package metrics holds the Prometheus collectors of the engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FeedCandles counts candles received from the stream, by closed flag.
	FeedCandles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fibo_feed_candles_total",
		Help: "Candles received from the venue stream",
	}, []string{"closed"})

	FeedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fibo_feed_dropped_total",
		Help: "Closed candles dropped because a subscriber was too slow",
	})

	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fibo_feed_reconnects_total",
		Help: "Websocket reconnects",
	})

	FeedKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fibo_feed_keys",
		Help: "Subscribed symbol/timeframe keys",
	})

	// Setups counts detected setups, by side and pattern.
	Setups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fibo_setups_total",
		Help: "Setups detected by the decision engine",
	}, []string{"side", "pattern"})

	// IntentsSkipped counts setups that did not become intents, by reason.
	IntentsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fibo_intents_skipped_total",
		Help: "Setups rejected by admission or sizing",
	}, []string{"reason"})

	// Orders counts venue order submissions by leg and outcome.
	Orders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fibo_orders_total",
		Help: "Venue order submissions",
	}, []string{"leg", "outcome"})

	// PositionsClosed counts terminal positions by final state.
	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fibo_positions_closed_total",
		Help: "Positions that reached a terminal state",
	}, []string{"state"})

	RunningInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fibo_running_instances",
		Help: "User sessions currently running",
	})

	InstanceCrashes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fibo_instance_crashes_total",
		Help: "Session crashes detected by the supervisor",
	})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fibo_reconcile_duration_seconds",
		Help:    "Supervisor reconcile tick duration",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fibo_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fibo_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics labelled with the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
