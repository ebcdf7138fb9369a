// Package metrics provides Prometheus instrumentation for the f-asset
// manager service.
package metrics

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/atmx/fasset-manager/internal/events"
)

var (
	// EventsTotal counts published events by source and name.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fasset_events_total",
		Help: "Total number of committed events",
	}, []string{"source", "name"})

	// MintedUBA tracks cumulative minted f-assets in underlying base units.
	MintedUBA = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fasset_minted_uba_total",
		Help: "Cumulative minted value in underlying base units",
	}, []string{"asset_manager"})

	// RedeemedUBA tracks the value of redemption requests created.
	RedeemedUBA = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fasset_redemption_requested_uba_total",
		Help: "Cumulative value of redemption requests in underlying base units",
	}, []string{"asset_manager"})

	// RedemptionOutcomes counts finished redemptions by outcome.
	RedemptionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fasset_redemptions_finished_total",
		Help: "Redemption requests finished, by outcome",
	}, []string{"asset_manager", "outcome"})

	// LiquidatedUBA tracks f-assets burnt by liquidators.
	LiquidatedUBA = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fasset_liquidated_uba_total",
		Help: "Cumulative liquidated value in underlying base units",
	}, []string{"asset_manager"})

	// GovernanceCalls counts governance calls by stage.
	GovernanceCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fasset_governance_calls_total",
		Help: "Governance calls timelocked and executed",
	}, []string{"stage"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fasset_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fasset_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fasset_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Publisher returns an events.Publisher that updates the domain counters.
func Publisher() events.Publisher {
	return events.PublisherFunc(func(_ context.Context, evs []events.Event) {
		for _, e := range evs {
			Observe(e)
		}
	})
}

// Observe records one committed event.
func Observe(e events.Event) {
	EventsTotal.WithLabelValues(e.Source, e.Name).Inc()
	switch e.Name {
	case events.MintingExecuted:
		MintedUBA.WithLabelValues(e.Source).Add(amount(e.Args["mintedAmountUBA"]))
	case events.RedemptionRequested:
		RedeemedUBA.WithLabelValues(e.Source).Add(amount(e.Args["valueUBA"]))
	case events.RedemptionPerformed:
		RedemptionOutcomes.WithLabelValues(e.Source, "paid").Inc()
	case events.RedemptionDefault:
		RedemptionOutcomes.WithLabelValues(e.Source, "default").Inc()
	case events.LiquidationPerformed:
		LiquidatedUBA.WithLabelValues(e.Source).Add(amount(e.Args["valueUBA"]))
	case events.GovernanceCallTimelocked:
		GovernanceCalls.WithLabelValues("timelocked").Inc()
	case events.GovernanceCallExecuted:
		GovernanceCalls.WithLabelValues("executed").Inc()
	}
}

// amount converts a decimal string event argument to a float sample.
// Unparseable values count as zero.
func amount(v any) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps the path label low-cardinality.
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

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer cannot hijack")
	}
	return h.Hijack()
}
