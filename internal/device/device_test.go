package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/alcoholmeter/internal/ble"
	"github.com/chaz8081/alcoholmeter/internal/ble/protocol"
	"github.com/chaz8081/alcoholmeter/internal/hw"
	"github.com/chaz8081/alcoholmeter/internal/meter"
	"github.com/chaz8081/alcoholmeter/internal/metrics"
)

const waitFor = 2 * time.Second

type inbox struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (i *inbox) add(m protocol.Message) {
	i.mu.Lock()
	i.msgs = append(i.msgs, m)
	i.mu.Unlock()
}

func (i *inbox) has(cmd protocol.Command, match func(protocol.Message) bool) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, m := range i.msgs {
		if m.Command == cmd && (match == nil || match(m)) {
			return true
		}
	}
	return false
}

func (i *inbox) last(cmd protocol.Command) (protocol.Message, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for j := len(i.msgs) - 1; j >= 0; j-- {
		if i.msgs[j].Command == cmd {
			return i.msgs[j], true
		}
	}
	return protocol.Message{}, false
}

func statusIs(text string) func(protocol.Message) bool {
	return func(m protocol.Message) bool { return m.Text() == text }
}

type rig struct {
	dev     *Device
	central *ble.Central
	sim     *hw.Simulator
	sched   *stepScheduler
	inbox   *inbox
	metrics *metrics.AppMetrics
}

// newRig runs a device and a client session joined by an in-memory link
// until the test ends, and waits for the client to become Ready.
func newRig(t *testing.T) *rig {
	t.Helper()
	log := quietLogger()
	l := newLink()

	r := &rig{
		sim:     hw.NewSimulator(hw.SimOptions{R0: 0.18, DetectThreshold: 0.25}),
		sched:   &stepScheduler{},
		inbox:   &inbox{},
		metrics: metrics.NewAppMetrics(metrics.NewRegistry()),
	}
	guard, err := meter.NewPowerGuard(r.sim, log)
	require.NoError(t, err)

	clock := time.Unix(1700000000, 0)
	var clockMu sync.Mutex
	r.dev = New(Options{
		Transport: linkPeripheral{l},
		Hardware:  meter.Hardware{ADC: r.sim, Power: guard, Detect: r.sim},
		Meter: meter.Options{
			Samples:   8,
			Scheduler: r.sched,
			Now: func() time.Time {
				clockMu.Lock()
				defer clockMu.Unlock()
				clock = clock.Add(time.Second)
				return clock
			},
			Sleep: func(time.Duration) {},
		},
		Metrics: r.metrics,
	}, log)

	r.central = ble.NewCentral(linkCentral{l}, ble.CentralOptions{NamePrefix: "Alcohol"}, log)
	r.central.OnMessage(r.inbox.add)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)
	go func() { done <- r.dev.Run(ctx) }()
	go func() { done <- r.central.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})

	require.Eventually(t, func() bool {
		return r.dev.Peripheral().State() == ble.PeripheralAdvertising
	}, waitFor, time.Millisecond)
	require.NoError(t, r.central.Start())
	require.Eventually(t, func() bool {
		return r.central.State() == ble.CentralReady &&
			r.dev.Peripheral().State() == ble.PeripheralServicesBound
	}, waitFor, time.Millisecond)
	return r
}

func TestStartCommandReachesPipeline(t *testing.T) {
	r := newRig(t)

	require.NoError(t, r.central.Send(protocol.Start, protocol.Write, nil))

	require.Eventually(t, func() bool {
		return r.dev.Pipeline().State() == meter.WarmingUp
	}, waitFor, time.Millisecond)
	require.Eventually(t, func() bool {
		return r.inbox.has(protocol.Status, statusIs("Warming up... 5s"))
	}, waitFor, time.Millisecond)
	assert.True(t, r.sim.Powered())
}

func TestMeasurementReachesClient(t *testing.T) {
	r := newRig(t)
	r.sim.SetAlcohol(0.4)

	require.NoError(t, r.central.Send(protocol.Start, protocol.Write, nil))
	require.Eventually(t, func() bool {
		return r.dev.Pipeline().State() == meter.WarmingUp
	}, waitFor, time.Millisecond)

	for i := 0; i < 5; i++ {
		r.sched.fire()
	}
	require.Equal(t, meter.Measuring, r.dev.Pipeline().State())
	r.sched.fire()

	require.Eventually(t, func() bool {
		return r.inbox.has(protocol.CalcVal0, nil) && r.inbox.has(protocol.Adc0, nil)
	}, waitFor, time.Millisecond)
	conc, _ := r.inbox.last(protocol.CalcVal0)
	assert.InDelta(t, 0.4, conc.Float(), 0.02)
	assert.True(t, r.inbox.has(protocol.Status, statusIs(meter.StatusMeasuring)))

	st := r.dev.Status()
	assert.Equal(t, "services_bound", st.Session)
	assert.Equal(t, "measuring", st.Pipeline)
	assert.True(t, st.Sensor.AlcoholDetected)
	assert.InDelta(t, 0.4, testutil.ToFloat64(r.metrics.Concentration), 0.02)

	require.NoError(t, r.central.Send(protocol.Stop, protocol.Write, nil))
	require.Eventually(t, func() bool {
		return r.dev.Pipeline().State() == meter.Idle
	}, waitFor, time.Millisecond)
	assert.False(t, r.sim.Powered())
}

func TestReadRequestsAnswered(t *testing.T) {
	r := newRig(t)

	require.NoError(t, r.central.Send(protocol.R0, protocol.Read, nil))
	require.Eventually(t, func() bool {
		return r.inbox.has(protocol.R0, nil)
	}, waitFor, time.Millisecond)
	r0, _ := r.inbox.last(protocol.R0)
	assert.InDelta(t, 0.18, r0.Float(), 1e-6)

	require.NoError(t, r.central.Send(protocol.CalcVal1, protocol.Read, nil))
	require.Eventually(t, func() bool {
		return r.inbox.has(protocol.CalcVal1, nil)
	}, waitFor, time.Millisecond)
}

func TestCalibrationOverTheLink(t *testing.T) {
	r := newRig(t)

	require.NoError(t, r.central.Send(protocol.Calibrate, protocol.Write, nil))
	require.Eventually(t, func() bool {
		return r.dev.Pipeline().State() == meter.Calibrating
	}, waitFor, time.Millisecond)
	r.sched.fire()

	require.Eventually(t, func() bool {
		return r.inbox.has(protocol.Status, statusIs(meter.StatusReady)) && r.inbox.has(protocol.R0, nil)
	}, waitFor, time.Millisecond)
	r0, _ := r.inbox.last(protocol.R0)
	assert.InEpsilon(t, 0.18, r0.Float(), 0.01)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.Calibrations.WithLabelValues("ok")))
	assert.False(t, r.sim.Powered())
}

func TestDisconnectReadvertises(t *testing.T) {
	r := newRig(t)

	require.NoError(t, r.central.Stop())
	require.Eventually(t, func() bool {
		return r.dev.Peripheral().State() == ble.PeripheralAdvertising
	}, waitFor, time.Millisecond)
	assert.Equal(t, float64(ble.PeripheralAdvertising), testutil.ToFloat64(r.metrics.SessionState.WithLabelValues("peripheral")))
}
