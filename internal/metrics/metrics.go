// Package metrics exposes the meter's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alcoholmeter"

// NewRegistry creates a dedicated registry with the Go and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics holds the meter's own metrics.
type AppMetrics struct {
	Frames        *prometheus.CounterVec // labels: role, direction, result=ok|error
	SessionState  *prometheus.GaugeVec   // labels: role; value is the numeric state
	Concentration prometheus.Gauge
	Baseline      prometheus.Gauge
	Calibrations  *prometheus.CounterVec // labels: result=ok|error
	Throttled     prometheus.Counter     // commands dropped by the rate limit
}

// NewAppMetrics registers and returns the application metrics.
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Protocol frames encoded or decoded.",
		}, []string{"role", "direction", "result"}),
		SessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current BLE session state as its ordinal.",
		}, []string{"role"}),
		Concentration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "concentration_mg_per_l",
			Help:      "Latest estimated breath alcohol concentration.",
		}),
		Baseline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "baseline_resistance",
			Help:      "Current clean-air baseline resistance R0.",
		}),
		Calibrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calibrations_total",
			Help:      "Completed calibrations.",
		}, []string{"result"}),
		Throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_throttled_total",
			Help:      "Commands dropped because the central exceeded the command rate.",
		}),
	}
	reg.MustRegister(m.Frames, m.SessionState, m.Concentration, m.Baseline, m.Calibrations, m.Throttled)
	return m
}

// FrameCounter returns a counter for one session role. It satisfies
// ble.FrameCounter.
func (m *AppMetrics) FrameCounter(role string) *RoleFrames {
	return &RoleFrames{vec: m.Frames, role: role}
}

// RoleFrames counts frames for a single role.
type RoleFrames struct {
	vec  *prometheus.CounterVec
	role string
}

// CountFrame records one frame in direction ("in" or "out").
func (r *RoleFrames) CountFrame(direction string, err error) {
	r.vec.WithLabelValues(r.role, direction, result(err)).Inc()
}

// SetSessionState records a session state ordinal for role.
func (m *AppMetrics) SetSessionState(role string, state int) {
	m.SessionState.WithLabelValues(role).Set(float64(state))
}

// ObserveCalibration counts a finished calibration.
func (m *AppMetrics) ObserveCalibration(err error) {
	m.Calibrations.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
