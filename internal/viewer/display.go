package viewer

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Concentration bands, in mg/L, for colouring readings.
const (
	WarnLevel  = 0.3
	AlarmLevel = 0.5
)

// LevelColor returns the colour a reading is shown in.
func LevelColor(mgPerL float64) *color.Color {
	switch {
	case mgPerL < WarnLevel:
		return color.New(color.FgGreen, color.Bold)
	case mgPerL < AlarmLevel:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

// Display prints readings and status lines to a terminal.
type Display struct {
	mu  sync.Mutex
	out io.Writer

	reading  float64
	r0       float64
	hasR0    bool
	status   string
	received bool
}

// NewDisplay writes to out.
func NewDisplay(out io.Writer) *Display {
	return &Display{out: out}
}

// Reading shows a new concentration.
func (d *Display) Reading(mgPerL float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reading = mgPerL
	d.received = true
	d.renderLocked()
}

// Baseline shows a new R0.
func (d *Display) Baseline(r0 float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.r0 = r0
	d.hasR0 = true
	d.renderLocked()
}

// Status shows a status line. Runs of whitespace collapse to one space.
func (d *Display) Status(text string) {
	text = strings.Join(strings.Fields(text), " ")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = text
	color.New(color.FgCyan).Fprintln(d.out, text)
}

// Channel shows a raw channel reading.
func (d *Display) Channel(ch int, raw float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, "adc%d: %.0f\n", ch, raw)
}

// Warn shows a local warning.
func (d *Display) Warn(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	color.New(color.FgYellow).Fprintln(d.out, text)
}

// LastStatus returns the most recent status line.
func (d *Display) LastStatus() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Display) renderLocked() {
	r0 := "R0: Not Calibrated"
	if d.hasR0 {
		r0 = fmt.Sprintf("R0: %.2f", d.r0)
	}
	if !d.received {
		fmt.Fprintln(d.out, r0)
		return
	}
	LevelColor(d.reading).Fprintf(d.out, "%.2f mg/L", d.reading)
	fmt.Fprintf(d.out, "  %s\n", r0)
}
