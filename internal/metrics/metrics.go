// Package metrics provides Prometheus instrumentation for the simulator.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DaysAdvanced counts committed trading days.
	DaysAdvanced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nepsesim_days_advanced_total",
		Help: "Total number of simulated trading days committed",
	})

	// BarsGenerated counts bars appended to history, by circuit status.
	BarsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nepsesim_bars_generated_total",
		Help: "Total bars appended to history",
	}, []string{"status"})

	// AdvanceDuration tracks how long one daily advance takes.
	AdvanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nepsesim_advance_duration_seconds",
		Help:    "Duration of a daily advance in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	// HaltedInstruments tracks instruments currently halted.
	HaltedInstruments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nepsesim_halted_instruments",
		Help: "Number of instruments currently halted",
	})

	// Ticks counts real-time ticks by outcome (produced, skipped, dropped).
	Ticks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nepsesim_ticks_total",
		Help: "Real-time ticks by outcome",
	}, []string{"outcome"})

	// ObserverPanics counts recovered observer panics by hook.
	ObserverPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nepsesim_observer_panics_total",
		Help: "Observer callbacks that panicked",
	}, []string{"hook"})

	// TradesTotal counts executed portfolio trades by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nepsesim_trades_total",
		Help: "Total number of portfolio trades executed",
	}, []string{"side"})

	// TradeRejections counts rejected trades by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nepsesim_trade_rejections_total",
		Help: "Portfolio trades rejected",
	}, []string{"reason"})

	// AnalysisCache counts analyzer cache lookups by result (hit, miss).
	AnalysisCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nepsesim_analysis_cache_total",
		Help: "Analyzer cache lookups",
	}, []string{"result"})

	// StreamDropped counts snapshots dropped for slow stream subscribers.
	StreamDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nepsesim_stream_dropped_total",
		Help: "Snapshots dropped for slow subscribers",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nepsesim_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nepsesim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nepsesim_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps label cardinality bounded.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
