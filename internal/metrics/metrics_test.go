package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCounterLabels(t *testing.T) {
	reg := NewRegistry()
	m := NewAppMetrics(reg)

	fc := m.FrameCounter("peripheral")
	fc.CountFrame("in", nil)
	fc.CountFrame("in", nil)
	fc.CountFrame("in", errors.New("bad header"))
	m.FrameCounter("central").CountFrame("out", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Frames.WithLabelValues("peripheral", "in", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Frames.WithLabelValues("peripheral", "in", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Frames.WithLabelValues("central", "out", "ok")))
}

func TestGaugesAndCalibrations(t *testing.T) {
	m := NewAppMetrics(NewRegistry())

	m.SetSessionState("peripheral", 3)
	m.Concentration.Set(0.42)
	m.Baseline.Set(0.18)
	m.ObserveCalibration(nil)
	m.ObserveCalibration(errors.New("adc"))
	m.Throttled.Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionState.WithLabelValues("peripheral")))
	assert.Equal(t, 0.42, testutil.ToFloat64(m.Concentration))
	assert.Equal(t, 0.18, testutil.ToFloat64(m.Baseline))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calibrations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calibrations.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Throttled))
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := NewRegistry()
	m := NewAppMetrics(reg)
	m.Baseline.Set(0.2)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "alcoholmeter_baseline_resistance 0.2"), body)
	assert.Contains(t, body, "go_goroutines")
}
