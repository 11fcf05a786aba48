package device

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/alcoholmeter/internal/ble/protocol"
	"github.com/chaz8081/alcoholmeter/internal/meter"
	"github.com/chaz8081/alcoholmeter/internal/metrics"
)

var _ meter.Sink = (*Outbox)(nil)

func TestOutboxFrames(t *testing.T) {
	n := &fakeNotifier{}
	m := metrics.NewAppMetrics(metrics.NewRegistry())
	o := NewOutbox(n, m, quietLogger())

	o.Concentration(0.25)
	o.Voltage(1.5)
	o.Baseline(0.18)
	o.Channel(2, 1234)
	o.Channel(7, 1)
	o.Status(meter.StatusReady)

	require.Len(t, n.frames, 4)
	want := []struct {
		cmd protocol.Command
		v   float32
	}{
		{protocol.CalcVal0, 0.25},
		{protocol.Adc0, 1.5},
		{protocol.R0, 0.18},
		{protocol.CalcVal2, 1234},
	}
	for i, w := range want {
		assert.Equal(t, w.cmd, n.frames[i].cmd)
		assert.Equal(t, protocol.Write, n.frames[i].dir)
		assert.Equal(t, w.v, protocol.BytesToFloat(n.frames[i].payload))
	}
	assert.Equal(t, []string{meter.StatusReady}, n.statuses)

	assert.Equal(t, 0.25, testutil.ToFloat64(m.Concentration))
	assert.Equal(t, 0.18, testutil.ToFloat64(m.Baseline))
}

func TestOutboxToleratesSendFailures(t *testing.T) {
	n := &fakeNotifier{err: errors.New("gone")}
	o := NewOutbox(n, nil, quietLogger())

	o.Concentration(1)
	o.Status("x")
	assert.Len(t, n.frames, 1)
	assert.Len(t, n.statuses, 1)
}
