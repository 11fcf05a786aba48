package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chaz8081/alcoholmeter/internal/ble"
	"github.com/chaz8081/alcoholmeter/internal/config"
	"github.com/chaz8081/alcoholmeter/internal/device"
	"github.com/chaz8081/alcoholmeter/internal/httpapi"
	"github.com/chaz8081/alcoholmeter/internal/hw"
	"github.com/chaz8081/alcoholmeter/internal/meter"
	"github.com/chaz8081/alcoholmeter/internal/metrics"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Serve the sensor as a BLE peripheral",
	Long: `device advertises the meter service, powers and samples the MQ3 on
request and notifies readings to the connected client.

With --simulate (or sensor.simulate in the config) no I2C or GPIO hardware
is touched; a simulated sensor exposed to --sim-alcohol mg/L is used instead.`,
	Args: cobra.NoArgs,
	RunE: runDevice,
}

func init() {
	deviceCmd.Flags().Bool("simulate", false, "use a simulated sensor")
	deviceCmd.Flags().Float64("sim-alcohol", 0, "alcohol level for the simulated sensor, mg/L")
	deviceCmd.Flags().Bool("calibrate-on-start", true, "calibrate the baseline once at startup")
	deviceCmd.Flags().String("listen", "", "HTTP status address, overrides http.listen")
}

func runDevice(cmd *cobra.Command, _ []string) error {
	cfg, log, closer, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	if sim, _ := cmd.Flags().GetBool("simulate"); sim {
		cfg.Sensor.Simulate = true
	}
	if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
		cfg.HTTP.Listen = addr
	}
	calibrate, _ := cmd.Flags().GetBool("calibrate-on-start")
	simAlcohol, _ := cmd.Flags().GetFloat64("sim-alcohol")

	layout, err := layoutFor(cfg)
	if err != nil {
		return err
	}

	hardware, closeHardware, err := openHardware(cfg, simAlcohol, log)
	if err != nil {
		return err
	}
	defer closeHardware()

	transport := ble.NewBluetoothPeripheral(cfg.BLE.DeviceName, log)
	if err := transport.Enable(); err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	appMetrics := metrics.NewAppMetrics(reg)

	dev := device.New(device.Options{
		Transport:        transport,
		Layout:           layout,
		Codec:            codecFor(cfg),
		Hardware:         hardware,
		Meter:            meterOptions(cfg),
		Metrics:          appMetrics,
		CommandRate:      cfg.BLE.CommandRate,
		CommandBurst:     cfg.BLE.CommandBurst,
		CalibrateOnStart: calibrate,
	}, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	running := 1
	go func() { errCh <- dev.Run(ctx) }()
	if cfg.HTTP.Listen != "" {
		running++
		srv := httpapi.New(cfg.HTTP.Listen, dev, metrics.Handler(reg), log)
		go func() { errCh <- srv.Run(ctx) }()
	}

	log.WithFields(logrus.Fields{
		"name":      cfg.BLE.DeviceName,
		"service":   layout.Service,
		"simulated": cfg.Sensor.Simulate,
	}).Info("device ready, Ctrl+C to quit")

	var first error
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
			stop()
		}
	}
	log.Info("goodbye")
	return first
}

// openHardware opens the real sensor board or builds a simulator.
func openHardware(cfg *config.Config, simAlcohol float64, log logrus.FieldLogger) (meter.Hardware, func(), error) {
	if cfg.Sensor.Simulate {
		opts := hw.DefaultSimOptions()
		opts.R0 = cfg.Meter.InitialR0
		sim := hw.NewSimulator(opts)
		sim.SetAlcohol(simAlcohol)
		guard, err := meter.NewPowerGuard(sim, log)
		if err != nil {
			return meter.Hardware{}, nil, err
		}
		log.WithField("mg_per_l", simAlcohol).Info("using simulated sensor")
		return meter.Hardware{ADC: sim, Power: guard, Detect: sim}, func() {}, nil
	}

	board, err := hw.OpenBoard(hw.BoardConfig{
		I2CBus:     cfg.Sensor.I2CBus,
		ADCAddress: cfg.Sensor.ADCAddress,
		PowerPin:   cfg.Sensor.PowerPin,
		StatusPin:  cfg.Sensor.StatusPin,
	}, log)
	if err != nil {
		return meter.Hardware{}, nil, err
	}
	guard, err := meter.NewPowerGuard(board.Power, log)
	if err != nil {
		board.Close()
		return meter.Hardware{}, nil, err
	}

	hardware := meter.Hardware{ADC: board.ADC, Power: guard}
	if board.Status != nil {
		hardware.Detect = board.Status
	}
	return hardware, func() {
		if err := board.Close(); err != nil {
			log.WithError(err).Warn("closing sensor board")
		}
	}, nil
}

func meterOptions(cfg *config.Config) meter.Options {
	m := cfg.Meter
	warmup := m.WarmupSeconds
	if warmup == 0 {
		warmup = -1 // configured zero means no warm-up
	}
	return meter.Options{
		WarmupSeconds:          warmup,
		MeasureInterval:        m.MeasureInterval,
		Samples:                m.Samples,
		SampleDelay:            m.SampleDelay,
		CalibrationSampleDelay: m.CalibrationSampleDelay,
		CalibrationSettle:      m.CalibrationSettle,
		InitialR0:              m.InitialR0,
		MeasurementVariance:    m.MeasurementVariance,
		ProcessNoise:           m.ProcessNoise,
	}
}
