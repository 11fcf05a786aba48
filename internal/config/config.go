package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel      string         `yaml:"log_level"`
	LogFile       string         `yaml:"log_file"`
	LogMaxSizeMB  int            `yaml:"log_max_size_mb"`
	LogMaxBackups int            `yaml:"log_max_backups"`
	LogMaxAgeDays int            `yaml:"log_max_age_days"`
	Protocol      ProtocolConfig `yaml:"protocol"`
	BLE           BLEConfig      `yaml:"ble"`
	Sensor        SensorConfig   `yaml:"sensor"`
	Meter         MeterConfig    `yaml:"meter"`
	HTTP          HTTPConfig     `yaml:"http"`
}

// ProtocolConfig holds frame codec settings. Both peers must agree on them.
type ProtocolConfig struct {
	Header uint8 `yaml:"header"`
	Strict bool  `yaml:"strict"` // verify checksum and declared length
}

// BLEConfig holds GATT layout and discovery settings.
type BLEConfig struct {
	DeviceName   string        `yaml:"device_name"`
	NamePrefix   string        `yaml:"name_prefix"`
	ServiceUUID  string        `yaml:"service_uuid"`
	RXUUID       string        `yaml:"rx_uuid"` // commands into the device
	TXUUID       string        `yaml:"tx_uuid"` // data out of the device
	ScanTimeout  time.Duration `yaml:"scan_timeout"`
	RetryMax     int           `yaml:"retry_max"`    // seconds
	CommandRate  float64       `yaml:"command_rate"` // frames per second, 0 = unlimited
	CommandBurst int           `yaml:"command_burst"`
}

// SensorConfig holds hardware wiring for the MQ3 and its ADC.
type SensorConfig struct {
	I2CBus     string `yaml:"i2c_bus"`
	ADCAddress uint16 `yaml:"adc_address"`
	PowerPin   string `yaml:"power_pin"`
	StatusPin  string `yaml:"status_pin"`
	Simulate   bool   `yaml:"simulate"`
}

// MeterConfig holds measurement pipeline tuning.
type MeterConfig struct {
	WarmupSeconds          int           `yaml:"warmup_seconds"`
	MeasureInterval        time.Duration `yaml:"measure_interval"`
	Samples                int           `yaml:"samples"`
	SampleDelay            time.Duration `yaml:"sample_delay"`
	CalibrationSampleDelay time.Duration `yaml:"calibration_sample_delay"`
	CalibrationSettle      time.Duration `yaml:"calibration_settle"`
	InitialR0              float64       `yaml:"initial_r0"`
	MeasurementVariance    float64       `yaml:"measurement_variance"`
	ProcessNoise           float64       `yaml:"process_noise"`
}

// HTTPConfig holds the device status server settings. An empty Listen
// disables the server.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "alcoholmeter")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:      "info",
		LogMaxSizeMB:  10,
		LogMaxBackups: 3,
		LogMaxAgeDays: 28,
		Protocol: ProtocolConfig{
			Header: 0xA0,
		},
		BLE: BLEConfig{
			DeviceName:   "AlcoholMeter",
			NamePrefix:   "Alcohol",
			ServiceUUID:  "00001813-0000-1000-8000-00805f9b34fb",
			RXUUID:       "0000ab01-0000-1000-8000-00805f9b34fb",
			TXUUID:       "0000ab02-0000-1000-8000-00805f9b34fb",
			ScanTimeout:  60 * time.Second,
			RetryMax:     30,
			CommandRate:  20,
			CommandBurst: 10,
		},
		Sensor: SensorConfig{
			ADCAddress: 0x48,
			PowerPin:   "GPIO17",
			StatusPin:  "GPIO27",
		},
		Meter: MeterConfig{
			WarmupSeconds:          5,
			MeasureInterval:        time.Second,
			Samples:                100,
			SampleDelay:            2 * time.Millisecond,
			CalibrationSampleDelay: 10 * time.Millisecond,
			CalibrationSettle:      5 * time.Second,
			InitialR0:              0.18,
			MeasurementVariance:    0.5,
			ProcessNoise:           0.1,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in log_file is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.LogFile = expandTilde(cfg.LogFile)

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the path written, or "" when a config was
// already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	content := append([]byte(defaultHeader), data...)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

const defaultHeader = `# alcoholmeter configuration
# Durations use Go syntax (e.g. 1s, 10ms). protocol.header must match on both peers.
`

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	for name, v := range map[string]string{
		"ble.service_uuid": c.BLE.ServiceUUID,
		"ble.rx_uuid":      c.BLE.RXUUID,
		"ble.tx_uuid":      c.BLE.TXUUID,
	} {
		if _, err := uuid.Parse(v); err != nil {
			return fmt.Errorf("%s: invalid UUID %q: %w", name, v, err)
		}
	}
	if strings.EqualFold(c.BLE.RXUUID, c.BLE.TXUUID) {
		return fmt.Errorf("ble.rx_uuid and ble.tx_uuid must differ")
	}

	if c.BLE.DeviceName == "" {
		return fmt.Errorf("ble.device_name must not be empty")
	}
	if c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0")
	}
	if c.BLE.RetryMax <= 0 {
		return fmt.Errorf("ble.retry_max must be > 0")
	}
	if c.BLE.CommandRate < 0 || c.BLE.CommandBurst < 0 {
		return fmt.Errorf("ble.command_rate and ble.command_burst must be >= 0")
	}

	if !c.Sensor.Simulate && (c.Sensor.PowerPin == "" || c.Sensor.ADCAddress == 0) {
		return fmt.Errorf("sensor.power_pin and sensor.adc_address are required unless sensor.simulate is set")
	}

	if c.Meter.WarmupSeconds < 0 {
		return fmt.Errorf("meter.warmup_seconds must be >= 0")
	}
	if c.Meter.MeasureInterval <= 0 {
		return fmt.Errorf("meter.measure_interval must be > 0")
	}
	if c.Meter.Samples <= 0 {
		return fmt.Errorf("meter.samples must be > 0")
	}
	if c.Meter.SampleDelay < 0 || c.Meter.CalibrationSampleDelay < 0 {
		return fmt.Errorf("meter sample delays must be >= 0")
	}
	if c.Meter.CalibrationSettle <= 0 {
		return fmt.Errorf("meter.calibration_settle must be > 0")
	}
	if c.Meter.InitialR0 <= 0 {
		return fmt.Errorf("meter.initial_r0 must be > 0")
	}
	if c.Meter.MeasurementVariance <= 0 || c.Meter.ProcessNoise <= 0 {
		return fmt.Errorf("meter.measurement_variance and meter.process_noise must be > 0")
	}

	return nil
}

// NewLogger builds the application logger. Output goes to w and, when
// log_file is set, to a size-rotated file as well; the returned closer
// releases that file.
func (c *Config) NewLogger(w io.Writer) (*logrus.Logger, io.Closer) {
	logger := logrus.New()
	logger.SetLevel(ParseLogLevel(c.LogLevel))
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if c.LogFile == "" {
		logger.SetOutput(w)
		return logger, nopCloser{}
	}

	rotated := &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		MaxAge:     c.LogMaxAgeDays,
	}
	logger.SetOutput(io.MultiWriter(w, rotated))
	return logger, rotated
}

// ParseLogLevel maps a config log level to logrus. Unknown values fall back
// to info.
func ParseLogLevel(s string) logrus.Level {
	switch s {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
