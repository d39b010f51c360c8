package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the global metrics container for the dispatcher service.
type Metrics struct {
	// HTTP adapter metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Dispatch business metrics
	DeliveriesCreatedTotal   *prometheus.CounterVec
	DeliveriesCompletedTotal *prometheus.CounterVec
	DeliveriesLateTotal      *prometheus.CounterVec
	OrchestratorRunDuration  *prometheus.HistogramVec
	SolverInvocationsTotal   *prometheus.CounterVec
	SolverDuration           *prometheus.HistogramVec
	JITDelayAppliedMinutes   *prometheus.HistogramVec
	RoutePenalty             *prometheus.GaugeVec
	EligibleDeliveries       prometheus.Gauge
	AvailableVehicles        prometheus.Gauge
	SimulationClockMinutes   prometheus.Gauge
	AvgPenaltyPerDelivery    prometheus.Gauge

	// Runtime metrics
	MemoryUsage *prometheus.GaugeVec
	Goroutines  prometheus.Gauge

	// Service info
	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics initializes and registers the dispatcher's metrics.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),

		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		DeliveriesCreatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "deliveries_created_total",
				Help:      "Total number of deliveries submitted via POST /orders",
			},
			[]string{"size"},
		),

		DeliveriesCompletedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "deliveries_completed_total",
				Help:      "Total number of deliveries transitioned to DELIVERED",
			},
			[]string{"late"},
		),

		DeliveriesLateTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "deliveries_late_total",
				Help:      "Total number of deliveries that breached their deadline and were marked late",
			},
			[]string{"stage"},
		),

		OrchestratorRunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "orchestrator_run_duration_seconds",
				Help:      "Duration of a single routing decision pass",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"mode"},
		),

		SolverInvocationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "solver_invocations_total",
				Help:      "Total number of solver invocations by algorithm token",
			},
			[]string{"algorithm", "status"},
		),

		SolverDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "solver_duration_seconds",
				Help:      "Duration of solver execution by algorithm token",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"algorithm"},
		),

		JITDelayAppliedMinutes: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jit_delay_applied_minutes",
				Help:      "Usable delay applied by the just-in-time dispatch policy",
				Buckets:   []float64{0, 1, 2, 5, 10, 15, 30, 60},
			},
			[]string{"vehicle_id"},
		),

		RoutePenalty: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "route_penalty",
				Help:      "Last computed total penalty for a vehicle's route",
			},
			[]string{"vehicle_id"},
		),

		EligibleDeliveries: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "eligible_deliveries",
				Help:      "Number of READY deliveries considered in the last routing decision",
			},
		),

		AvailableVehicles: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "available_vehicles",
				Help:      "Number of IDLE vehicles considered in the last routing decision",
			},
		),

		SimulationClockMinutes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "simulation_clock_minutes",
				Help:      "Current simulation clock value, in minutes since system start",
			},
		),

		AvgPenaltyPerDelivery: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "avg_penalty_per_delivery",
				Help:      "Monitor's cumulative penalty divided by completed deliveries",
			},
		),

		MemoryUsage: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage",
			},
			[]string{"type"},
		),

		Goroutines: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "goroutines",
				Help:      "Current number of goroutines",
			},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance, initializing it with the
// dispatcher's default namespace if it has not been set up yet.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("dispatcher", "")
	}
	return defaultMetrics
}

// RecordHTTPRequest records metrics for a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(route string, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordDeliveryCreated records one delivery submitted via POST /orders, labelled by size.
func (m *Metrics) RecordDeliveryCreated(size string) {
	m.DeliveriesCreatedTotal.WithLabelValues(size).Inc()
}

// RecordDeliveryCompleted records a delivery reaching the DELIVERED state.
func (m *Metrics) RecordDeliveryCompleted(late bool) {
	status := "on_time"
	if late {
		status = "late"
	}
	m.DeliveriesCompletedTotal.WithLabelValues(status).Inc()
}

// RecordDeliveryLate records a deadline breach caught at a given pipeline stage.
func (m *Metrics) RecordDeliveryLate(stage string) {
	m.DeliveriesLateTotal.WithLabelValues(stage).Inc()
}

// RecordOrchestratorRun records one routing decision pass.
func (m *Metrics) RecordOrchestratorRun(mode string, duration time.Duration, eligible, available int) {
	m.OrchestratorRunDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.EligibleDeliveries.Set(float64(eligible))
	m.AvailableVehicles.Set(float64(available))
}

// RecordSolverInvocation records one solver execution.
func (m *Metrics) RecordSolverInvocation(algorithm string, success bool, duration time.Duration) {
	status := "ok"
	if !success {
		status = "infeasible"
	}
	m.SolverInvocationsTotal.WithLabelValues(algorithm, status).Inc()
	m.SolverDuration.WithLabelValues(algorithm).Observe(duration.Seconds())
}

// RecordJITDelay records the usable delay the JIT policy applied before dispatch.
func (m *Metrics) RecordJITDelay(vehicleID string, delayMinutes float64) {
	m.JITDelayAppliedMinutes.WithLabelValues(vehicleID).Observe(delayMinutes)
}

// RecordRoutePenalty records the last computed total penalty for a vehicle's route.
func (m *Metrics) RecordRoutePenalty(vehicleID string, penalty float64) {
	m.RoutePenalty.WithLabelValues(vehicleID).Set(penalty)
}

// SetSimulationClock records the current simulation clock value.
func (m *Metrics) SetSimulationClock(minutes float64) {
	m.SimulationClockMinutes.Set(minutes)
}

// SetAvgPenaltyPerDelivery records the Monitor's derived
// average-penalty-per-completed-delivery gauge.
func (m *Metrics) SetAvgPenaltyPerDelivery(avg float64) {
	m.AvgPenaltyPerDelivery.Set(avg)
}

// SetServiceInfo sets the service version/environment info gauge.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts a standalone HTTP server exposing /metrics and /health.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, write failure is not actionable
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
