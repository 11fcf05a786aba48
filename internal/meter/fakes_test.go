package meter

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakePin struct {
	mu      sync.Mutex
	high    bool
	history []bool
	err     error
}

func (p *fakePin) Set(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.high = high
	p.history = append(p.history, high)
	return nil
}

func (p *fakePin) High() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high
}

type fakeADC struct {
	mu    sync.Mutex
	raw   map[int]int
	err   error
	reads int
}

func newFakeADC(ch0 int) *fakeADC {
	return &fakeADC{raw: map[int]int{0: ch0}}
}

func (a *fakeADC) ReadChannel(ch int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reads++
	if a.err != nil {
		return 0, a.err
	}
	return a.raw[ch], nil
}

func (a *fakeADC) set(ch, raw int) {
	a.mu.Lock()
	a.raw[ch] = raw
	a.mu.Unlock()
}

func (a *fakeADC) fail(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

// manualScheduler records timers and fires them on demand.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	every     time.Duration
	after     time.Duration
	fn        func()
	cancelled bool
}

func (s *manualScheduler) Every(d time.Duration, fn func()) Cancel {
	return s.add(&manualTimer{every: d, fn: fn})
}

func (s *manualScheduler) After(d time.Duration, fn func()) Cancel {
	return s.add(&manualTimer{after: d, fn: fn})
}

func (s *manualScheduler) add(t *manualTimer) Cancel {
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		t.cancelled = true
		s.mu.Unlock()
	}
}

// fire runs every live timer once. One-shot timers are consumed.
func (s *manualScheduler) fire() {
	s.mu.Lock()
	var due []func()
	for _, t := range s.timers {
		if t.cancelled {
			continue
		}
		due = append(due, t.fn)
		if t.after > 0 {
			t.cancelled = true
		}
	}
	s.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}

func (s *manualScheduler) live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}

type sinkEvent struct {
	kind  string
	text  string
	value float64
	ch    int
}

func (e sinkEvent) String() string {
	if e.kind == "status" {
		return fmt.Sprintf("status %q", e.text)
	}
	return fmt.Sprintf("%s %d %v", e.kind, e.ch, e.value)
}

type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (r *recordingSink) add(e sinkEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) Status(text string) { r.add(sinkEvent{kind: "status", text: text}) }
func (r *recordingSink) Concentration(v float64) { r.add(sinkEvent{kind: "concentration", value: v}) }
func (r *recordingSink) Voltage(v float64) { r.add(sinkEvent{kind: "voltage", value: v}) }
func (r *recordingSink) Baseline(v float64) { r.add(sinkEvent{kind: "baseline", value: v}) }
func (r *recordingSink) Channel(ch int, v float64) { r.add(sinkEvent{kind: "channel", ch: ch, value: v}) }

func (r *recordingSink) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.kind == "status" {
			out = append(out, e.text)
		}
	}
	return out
}

func (r *recordingSink) last(kind string) (sinkEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].kind == kind {
			return r.events[i], true
		}
	}
	return sinkEvent{}, false
}

var errSensor = errors.New("i2c nack")
