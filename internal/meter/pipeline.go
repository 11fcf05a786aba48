// Package meter runs the MQ3 measurement pipeline: warm-up, periodic
// averaged sampling, Kalman smoothing, concentration estimation and
// clean-air calibration of the baseline resistance.
package meter

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chaz8081/alcoholmeter/internal/kalman"
)

// Status strings sent to the client.
const (
	StatusCalibrating     = "Status: Calibrating"
	StatusReady           = "Status: Ready"
	StatusMeasuring       = "Status: Measuring"
	StatusSensorError     = "Status: Sensor error"
	StatusStopToCalibrate = "Please stop measurements before calibrating."
)

var (
	ErrBusy         = errors.New("meter: pipeline busy")
	ErrNotMeasuring = errors.New("meter: not measuring")
	ErrChannel      = errors.New("meter: invalid ADC channel")
)

// WarmupStatus formats the countdown status for n remaining seconds.
func WarmupStatus(n int) string {
	return fmt.Sprintf("Warming up... %ds", n)
}

// State is the pipeline's lifecycle state.
type State int

const (
	Idle State = iota
	Calibrating
	WarmingUp
	Measuring
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Calibrating:
		return "calibrating"
	case WarmingUp:
		return "warming_up"
	case Measuring:
		return "measuring"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ADC reads a single-ended channel (0-3) and returns a non-negative raw count.
type ADC interface {
	ReadChannel(ch int) (int, error)
}

// DigitalInput reads the sensor's comparator output.
type DigitalInput interface {
	Read() (bool, error)
}

// Sink receives everything the pipeline reports. Implementations must not
// call back into the Pipeline synchronously.
type Sink interface {
	Status(text string)
	Concentration(mgPerL float64)
	Voltage(volts float64)
	Baseline(r0 float64)
	Channel(ch int, raw float64)
}

// Hardware bundles the pipeline's peripherals. Detect is optional.
type Hardware struct {
	ADC    ADC
	Power  *PowerGuard
	Detect DigitalInput
}

// Options tunes the pipeline. Zero counts, intervals and tuning constants
// take the DefaultOptions value; zero sample delays mean back-to-back reads.
type Options struct {
	WarmupSeconds          int // negative skips warm-up
	MeasureInterval        time.Duration
	Samples                int
	SampleDelay            time.Duration
	CalibrationSampleDelay time.Duration
	CalibrationSettle      time.Duration
	InitialR0              float64
	MeasurementVariance    float64
	ProcessNoise           float64

	Scheduler Scheduler
	Now       func() time.Time
	Sleep     func(time.Duration)

	// OnCalibrated, if set, is told how each calibration ended. It runs with
	// the pipeline locked.
	OnCalibrated func(r0 float64, err error)
}

// DefaultOptions returns the stock MQ3 tuning.
func DefaultOptions() Options {
	return Options{
		WarmupSeconds:          5,
		MeasureInterval:        time.Second,
		Samples:                100,
		SampleDelay:            2 * time.Millisecond,
		CalibrationSampleDelay: 10 * time.Millisecond,
		CalibrationSettle:      5 * time.Second,
		InitialR0:              0.18,
		MeasurementVariance:    0.5,
		ProcessNoise:           0.1,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WarmupSeconds < 0 {
		o.WarmupSeconds = 0
	} else if o.WarmupSeconds == 0 {
		o.WarmupSeconds = d.WarmupSeconds
	}
	if o.MeasureInterval <= 0 {
		o.MeasureInterval = d.MeasureInterval
	}
	if o.Samples <= 0 {
		o.Samples = d.Samples
	}
	if o.SampleDelay < 0 {
		o.SampleDelay = 0
	}
	if o.CalibrationSampleDelay < 0 {
		o.CalibrationSampleDelay = 0
	}
	if o.CalibrationSettle <= 0 {
		o.CalibrationSettle = d.CalibrationSettle
	}
	if o.InitialR0 <= 0 {
		o.InitialR0 = d.InitialR0
	}
	if o.MeasurementVariance <= 0 {
		o.MeasurementVariance = d.MeasurementVariance
	}
	if o.ProcessNoise <= 0 {
		o.ProcessNoise = d.ProcessNoise
	}
	if o.Scheduler == nil {
		o.Scheduler = TimeScheduler{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	return o
}

// SensorState is the latest set of derived readings.
type SensorState struct {
	State           string    `json:"state"`
	Powered         bool      `json:"powered"`
	RawAverage      float64   `json:"raw_average"`
	Voltage         float64   `json:"voltage"`
	Resistance      float64   `json:"resistance"`
	Baseline        float64   `json:"baseline"`
	Ratio           float64   `json:"ratio"`
	Concentration   float64   `json:"concentration_mg_per_l"`
	AlcoholDetected bool      `json:"alcohol_detected"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Pipeline is the measurement state machine. All exported methods are safe
// for concurrent use; timer callbacks are serialized with them.
type Pipeline struct {
	hw   Hardware
	sink Sink
	opts Options
	log  logrus.FieldLogger

	mu       sync.Mutex
	state    State
	remain   int
	filter   *kalman.Filter
	lastTick time.Time
	reading  SensorState
	release  func()
	cancel   Cancel
	gen      uint64
}

// New builds an idle pipeline with the baseline at opts.InitialR0.
func New(hw Hardware, sink Sink, opts Options, log logrus.FieldLogger) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		hw:      hw,
		sink:    sink,
		opts:    opts,
		log:     log,
		filter:  kalman.New(opts.ProcessNoise),
		reading: SensorState{Baseline: opts.InitialR0},
	}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Baseline returns the current R0.
func (p *Pipeline) Baseline() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reading.Baseline
}

// Snapshot returns a copy of the latest readings.
func (p *Pipeline) Snapshot() SensorState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.reading
	s.State = p.state.String()
	s.Powered = p.release != nil
	return s
}

// Start powers the sensor and begins the warm-up countdown. Valid only from
// Idle.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Idle {
		return fmt.Errorf("%w: start while %s", ErrBusy, p.state)
	}
	release, err := p.hw.Power.Acquire()
	if err != nil {
		return err
	}
	p.release = release
	p.gen++
	p.filter.Reset(0, 0)

	if p.opts.WarmupSeconds == 0 {
		p.enterMeasuringLocked()
		return nil
	}
	p.state = WarmingUp
	p.remain = p.opts.WarmupSeconds
	p.log.WithField("seconds", p.remain).Info("warm-up started")
	p.sink.Status(WarmupStatus(p.remain))
	p.cancel = p.opts.Scheduler.Every(time.Second, p.warmupTick(p.gen))
	return nil
}

func (p *Pipeline) warmupTick(gen uint64) func() {
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if gen != p.gen || p.state != WarmingUp {
			return
		}
		p.remain--
		if p.remain > 0 {
			p.sink.Status(WarmupStatus(p.remain))
			return
		}
		p.cancelLocked()
		p.enterMeasuringLocked()
	}
}

func (p *Pipeline) enterMeasuringLocked() {
	p.state = Measuring
	p.lastTick = p.opts.Now()
	p.log.Info("measuring")
	p.sink.Status(StatusMeasuring)
	p.cancel = p.opts.Scheduler.Every(p.opts.MeasureInterval, p.measureTick(p.gen))
}

func (p *Pipeline) measureTick(gen uint64) func() {
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if gen != p.gen || p.state != Measuring {
			return
		}
		now := p.opts.Now()
		dt := now.Sub(p.lastTick).Seconds()
		p.lastTick = now

		raw, err := p.averageLocked(p.opts.SampleDelay)
		if err != nil {
			p.log.WithError(err).Error("sensor read failed, stopping")
			p.stopLocked()
			p.sink.Status(StatusSensorError)
			return
		}
		volts := Voltage(raw)

		filtered := volts
		if err := p.filter.Update(volts, p.opts.MeasurementVariance, dt); err != nil {
			p.log.WithError(err).Warn("skipping filter update")
		} else {
			filtered = p.filter.Position()
		}

		p.reading.RawAverage = raw
		p.reading.Voltage = filtered
		p.reading.UpdatedAt = now
		p.readDetectLocked()

		rs, err := SensorResistance(filtered)
		if err != nil {
			p.log.WithError(err).Warn("skipping concentration")
			p.sink.Voltage(filtered)
			return
		}
		ratio, err := Ratio(rs, p.reading.Baseline)
		if err != nil {
			p.log.WithError(err).Warn("skipping concentration")
			p.sink.Voltage(filtered)
			return
		}
		conc, err := Concentration(ratio)
		if err != nil {
			p.log.WithError(err).Warn("skipping concentration")
			p.sink.Voltage(filtered)
			return
		}
		p.reading.Resistance = rs
		p.reading.Ratio = ratio
		p.reading.Concentration = conc

		p.log.WithFields(logrus.Fields{
			"volts":    filtered,
			"ratio":    ratio,
			"mg_per_l": conc,
		}).Debug("measurement")
		p.sink.Concentration(conc)
		p.sink.Voltage(filtered)
	}
}

func (p *Pipeline) readDetectLocked() {
	if p.hw.Detect == nil {
		return
	}
	v, err := p.hw.Detect.Read()
	if err != nil {
		p.log.WithError(err).Debug("status pin read failed")
		return
	}
	p.reading.AlcoholDetected = v
}

// Stop cancels warm-up or measurement and powers the sensor down.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != WarmingUp && p.state != Measuring {
		return fmt.Errorf("%w: stop while %s", ErrNotMeasuring, p.state)
	}
	p.stopLocked()
	p.log.Info("measurement stopped")
	p.sink.Status(StatusReady)
	return nil
}

func (p *Pipeline) stopLocked() {
	p.cancelLocked()
	p.gen++
	p.releaseLocked()
	p.state = Idle
}

// Calibrate powers the sensor, waits for it to settle and derives a new R0
// from clean air. Rejected while warming up or measuring; the client is told
// to stop first and the baseline is left unchanged.
func (p *Pipeline) Calibrate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case WarmingUp, Measuring:
		p.sink.Status(StatusStopToCalibrate)
		return fmt.Errorf("%w: calibrate while %s", ErrBusy, p.state)
	case Calibrating:
		return fmt.Errorf("%w: calibration in progress", ErrBusy)
	}

	release, err := p.hw.Power.Acquire()
	if err != nil {
		return err
	}
	p.release = release
	p.gen++
	p.state = Calibrating
	p.log.Info("calibration started")
	p.sink.Status(StatusCalibrating)
	p.cancel = p.opts.Scheduler.After(p.opts.CalibrationSettle, p.finishCalibration(p.gen))
	return nil
}

func (p *Pipeline) finishCalibration(gen uint64) func() {
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if gen != p.gen || p.state != Calibrating {
			return
		}
		p.cancel = nil
		raw, err := p.averageLocked(p.opts.CalibrationSampleDelay)
		p.stopLocked()
		if err != nil {
			p.log.WithError(err).Error("calibration read failed")
			p.calibrated(err)
			p.sink.Status(StatusSensorError)
			return
		}

		r0, err := BaselineResistance(Voltage(raw))
		if err != nil {
			p.log.WithError(err).Warn("calibration kept previous baseline")
		} else {
			p.reading.Baseline = r0
			p.log.WithField("r0", r0).Info("calibration complete")
		}
		p.calibrated(err)
		p.sink.Status(StatusReady)
		p.sink.Baseline(p.reading.Baseline)
	}
}

// ReadChannel samples one ADC channel and reports the raw count through the
// sink.
func (p *Pipeline) ReadChannel(ch int) error {
	if ch < 0 || ch > 3 {
		return fmt.Errorf("%w: %d", ErrChannel, ch)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	raw, err := p.hw.ADC.ReadChannel(ch)
	if err != nil {
		return fmt.Errorf("meter: read channel %d: %w", ch, err)
	}
	p.sink.Channel(ch, float64(max(raw, 0)))
	return nil
}

// SendBaseline reports the current R0 through the sink.
func (p *Pipeline) SendBaseline() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink.Baseline(p.reading.Baseline)
}

// Close cancels pending timers and releases power. The pipeline returns to
// Idle and may be started again.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Pipeline) averageLocked(delay time.Duration) (float64, error) {
	var sum float64
	for i := 0; i < p.opts.Samples; i++ {
		if i > 0 && delay > 0 {
			p.opts.Sleep(delay)
		}
		raw, err := p.hw.ADC.ReadChannel(0)
		if err != nil {
			return 0, err
		}
		sum += float64(max(raw, 0))
	}
	return sum / float64(p.opts.Samples), nil
}

func (p *Pipeline) calibrated(err error) {
	if p.opts.OnCalibrated != nil {
		p.opts.OnCalibrated(p.reading.Baseline, err)
	}
}

func (p *Pipeline) cancelLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Pipeline) releaseLocked() {
	if p.release != nil {
		p.release()
		p.release = nil
	}
}
