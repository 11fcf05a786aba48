package ble

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// Layout names the meter's service and its two characteristics.
type Layout struct {
	Service string
	RX      string // commands into the device
	TX      string // data out of the device
}

// DefaultLayout returns the stock meter layout.
func DefaultLayout() Layout {
	return Layout{Service: ServiceUUID, RX: RXCharUUID, TX: TXCharUUID}
}

// NewLayout validates and normalizes the three UUIDs.
func NewLayout(service, rx, tx string) (Layout, error) {
	var l Layout
	for _, f := range []struct {
		dst  *string
		src  string
		name string
	}{
		{&l.Service, service, "service"},
		{&l.RX, rx, "rx"},
		{&l.TX, tx, "tx"},
	} {
		u, err := uuid.Parse(f.src)
		if err != nil {
			return Layout{}, fmt.Errorf("ble: %s uuid %q: %w", f.name, f.src, err)
		}
		*f.dst = u.String()
	}
	return l, nil
}

// Definition returns the GATT service a device serves for this layout.
func (l Layout) Definition() ServiceDefinition {
	return ServiceDefinition{
		UUID: l.Service,
		Characteristics: []CharacteristicInfo{
			{UUID: l.RX, Properties: PropWrite | PropWriteNoResponse},
			{UUID: l.TX, Properties: PropNotify | PropRead, Descriptors: []string{CCCDUUID}},
		},
	}
}

// properties returns the characteristic info the layout declares for uuid.
// Characteristics outside the layout get no properties.
func (l Layout) properties(id string) CharacteristicInfo {
	for _, c := range l.Definition().Characteristics {
		if sameUUID(c.UUID, id) {
			c.UUID = id
			return c
		}
	}
	return CharacteristicInfo{UUID: id}
}

func sameUUID(a, b string) bool {
	return strings.EqualFold(a, b)
}

func bluetoothUUID(s string) (bluetooth.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return bluetooth.UUID{}, err
	}
	return bluetooth.NewUUID(u), nil
}

// Backoff returns the delay before rescan attempt n (0-based), doubling from
// one second and capped at maxSeconds.
func Backoff(attempt int, maxSeconds int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	max := time.Duration(maxSeconds) * time.Second
	if delay > max {
		return max
	}
	return delay
}
