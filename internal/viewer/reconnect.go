package viewer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chaz8081/alcoholmeter/internal/ble"
)

// Starter restarts discovery.
type Starter interface {
	Start() error
}

// Reconnector restarts scanning after the link fails or drops, waiting
// ble.Backoff between attempts. A session stopped on purpose (Idle) is left
// alone.
type Reconnector struct {
	c          Starter
	maxSeconds int
	log        logrus.FieldLogger
	after      func(time.Duration) <-chan time.Time

	// Observe keeps only the latest state; wake tells Run it changed.
	mu       sync.Mutex
	latest   ble.CentralState
	sawReady bool
	wake     chan struct{}
}

// NewReconnector creates a Reconnector for c. Register Observe with the
// session before the first Start.
func NewReconnector(c Starter, maxSeconds int, log logrus.FieldLogger) *Reconnector {
	return &Reconnector{
		c:          c,
		maxSeconds: maxSeconds,
		log:        log,
		after:      time.After,
		wake:       make(chan struct{}, 1),
	}
}

// Observe is a ble.Central state observer. It never blocks; when Run falls
// behind, intermediate states collapse into the latest one.
func (r *Reconnector) Observe(_, to ble.CentralState) {
	r.mu.Lock()
	r.latest = to
	if to == ble.CentralReady {
		r.sawReady = true
	}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// take returns the latest state and whether Ready was seen since the last
// call.
func (r *Reconnector) take() (ble.CentralState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ready := r.sawReady
	r.sawReady = false
	return r.latest, ready
}

// Run reacts to state changes until ctx is done.
func (r *Reconnector) Run(ctx context.Context) {
	attempt := 0
	var retry <-chan time.Time

	schedule := func() {
		delay := ble.Backoff(attempt, r.maxSeconds)
		attempt++
		r.log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Info("rescanning")
		retry = r.after(delay)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
			st, ready := r.take()
			if ready {
				attempt = 0
			}
			switch st {
			case ble.CentralReady:
				retry = nil
			case ble.CentralIdle:
				retry = nil
			case ble.CentralError, ble.CentralDisconnected:
				if retry == nil {
					schedule()
				}
			}
		case <-retry:
			retry = nil
			if err := r.c.Start(); err != nil {
				r.log.WithError(err).Warn("rescan failed")
				schedule()
			}
		}
	}
}
