package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds the Prometheus collectors of the bot. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	GatewayInFlight prometheus.Gauge
	GatewayCalls    *prometheus.CounterVec
	GatewayLatency  prometheus.Histogram
	Checks          *prometheus.CounterVec
	SessionsClosed  *prometheus.CounterVec

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		GatewayInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "report_checker_gateway_in_flight",
			Help: "Completion calls currently holding a limiter slot",
		}),
		GatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_checker_gateway_calls_total",
			Help: "Completion calls by outcome",
		}, []string{"outcome"}),
		GatewayLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "report_checker_gateway_duration_seconds",
			Help:    "Completion call latency including decode",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		Checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_checker_checks_total",
			Help: "User submissions by outcome",
		}, []string{"outcome"}),
		SessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_checker_sessions_closed_total",
			Help: "Closed sessions by reason",
		}, []string{"reason"}),
		registry: reg,
	}
	reg.MustRegister(m.GatewayInFlight, m.GatewayCalls, m.GatewayLatency, m.Checks, m.SessionsClosed)
	return m
}

// TrackActiveSessions exports the registry's active count as a gauge.
func (m *Metrics) TrackActiveSessions(count func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "report_checker_sessions_active",
		Help: "Sessions currently accepting checks",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) GatewayStarted() {
	if m == nil {
		return
	}
	m.GatewayInFlight.Inc()
}

func (m *Metrics) GatewayFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayInFlight.Dec()
	m.GatewayCalls.WithLabelValues(outcome).Inc()
	m.GatewayLatency.Observe(d.Seconds())
}

func (m *Metrics) CheckOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Checks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.SessionsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.WithField("addr", addr).Info("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("metrics endpoint stopped")
	}
}
