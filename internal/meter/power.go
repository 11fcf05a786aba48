package meter

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Pin drives a digital output.
type Pin interface {
	Set(high bool) error
}

// PowerGuard sequences the sensor's power-enable pin. Every Acquire must be
// paired with a call to the returned release; the pin stays high while any
// holder is outstanding.
type PowerGuard struct {
	pin Pin
	log logrus.FieldLogger

	mu      sync.Mutex
	holders int
}

// NewPowerGuard wraps pin. The pin is driven low immediately.
func NewPowerGuard(pin Pin, log logrus.FieldLogger) (*PowerGuard, error) {
	if err := pin.Set(false); err != nil {
		return nil, fmt.Errorf("meter: power pin low: %w", err)
	}
	return &PowerGuard{pin: pin, log: log}, nil
}

// Acquire powers the sensor. The returned release is safe to call more than
// once; only the first call counts.
func (g *PowerGuard) Acquire() (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.holders == 0 {
		if err := g.pin.Set(true); err != nil {
			return nil, fmt.Errorf("meter: power up: %w", err)
		}
		g.log.Debug("sensor power on")
	}
	g.holders++

	var once sync.Once
	return func() { once.Do(g.release) }, nil
}

func (g *PowerGuard) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.holders--
	if g.holders > 0 {
		return
	}
	g.holders = 0
	if err := g.pin.Set(false); err != nil {
		g.log.WithError(err).Error("sensor power off failed")
		return
	}
	g.log.Debug("sensor power off")
}

// Powered reports whether any holder is outstanding.
func (g *PowerGuard) Powered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holders > 0
}
