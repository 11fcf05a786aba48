package meter

import (
	"sync"
	"time"
)

// Cancel stops a scheduled callback. Calling it more than once is a no-op.
type Cancel func()

// Scheduler runs pipeline callbacks on timers.
type Scheduler interface {
	// Every calls fn every d until cancelled.
	Every(d time.Duration, fn func()) Cancel
	// After calls fn once after d unless cancelled first.
	After(d time.Duration, fn func()) Cancel
}

// TimeScheduler is the production Scheduler built on time.Ticker and
// time.AfterFunc.
type TimeScheduler struct{}

func (TimeScheduler) Every(d time.Duration, fn func()) Cancel {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

func (TimeScheduler) After(d time.Duration, fn func()) Cancel {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
