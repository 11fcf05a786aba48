package meter

import (
	"errors"
	"fmt"
)

// MQ3 / ADS1115 electrical constants.
const (
	Resolution    = 32767.0 // ADS1115 single-ended full scale (15 bits)
	ADCRange      = 4.096   // volts at full scale with gain 1
	SupplyVoltage = 5.0     // MQ3 heater and divider supply
	CleanAirRatio = 70.0    // Rs/R0 in clean air

	// minVoltage guards the Rs divider against division by ~0.
	minVoltage = 1e-6
)

var (
	ErrVoltageTooLow = errors.New("meter: sensor voltage too low")
	ErrNoBaseline    = errors.New("meter: baseline resistance not positive")
	ErrInvalidRatio  = errors.New("meter: resistance ratio not positive")
)

// Voltage converts an averaged raw ADC reading to volts.
func Voltage(raw float64) float64 {
	return raw / Resolution * ADCRange
}

// SensorResistance returns Rs in units of the load resistor for a divider
// reading of volts.
func SensorResistance(volts float64) (float64, error) {
	if volts < minVoltage {
		return 0, fmt.Errorf("%w: %.6fV", ErrVoltageTooLow, volts)
	}
	return (SupplyVoltage - volts) / volts, nil
}

// BaselineResistance derives R0 from a clean-air voltage reading.
func BaselineResistance(volts float64) (float64, error) {
	rs, err := SensorResistance(volts)
	if err != nil {
		return 0, err
	}
	return rs / CleanAirRatio, nil
}

// Ratio returns Rs/R0.
func Ratio(rs, r0 float64) (float64, error) {
	if r0 <= 0 {
		return 0, ErrNoBaseline
	}
	return rs / r0, nil
}

// Concentration maps an Rs/R0 ratio to mg/L using the three-piece MQ3 curve.
// The curve is decreasing in ratio and continuous at both breakpoints
// (ratio 3 -> 1.0, ratio 20 -> 0.1).
func Concentration(ratio float64) (float64, error) {
	if ratio <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRatio, ratio)
	}
	switch {
	case ratio > 20:
		return 0.1 * (20 / ratio), nil
	case ratio < 3:
		return 1.0 * (3 / ratio), nil
	default:
		return 0.1 + (20-ratio)*(0.9/17), nil
	}
}
