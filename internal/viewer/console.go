// Package viewer is the client role's front end: it reads operator
// commands from a console, sends them to the meter and renders what the
// meter reports.
package viewer

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Action is an operator request typed at the console.
type Action int

const (
	ActionStart Action = iota
	ActionStop
	ActionCalibrate
	ActionBaseline
	ActionChannel
	ActionHelp
	ActionQuit
)

// Command is one parsed console line.
type Command struct {
	Action  Action
	Channel int // for ActionChannel
}

// Usage lists the console commands.
const Usage = "commands: start, stop, calibrate, r0, adc <0-3>, help, quit"

// ParseCommand parses a console line. Matching is case-insensitive and
// ignores surrounding whitespace.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}

	want := func(n int) error {
		if len(fields) != n {
			return fmt.Errorf("%s takes %d argument(s)", fields[0], n-1)
		}
		return nil
	}

	switch fields[0] {
	case "start":
		return Command{Action: ActionStart}, want(1)
	case "stop":
		return Command{Action: ActionStop}, want(1)
	case "calibrate", "cal":
		return Command{Action: ActionCalibrate}, want(1)
	case "r0":
		return Command{Action: ActionBaseline}, want(1)
	case "help", "?":
		return Command{Action: ActionHelp}, want(1)
	case "quit", "exit", "q":
		return Command{Action: ActionQuit}, want(1)
	case "adc":
		if err := want(2); err != nil {
			return Command{}, err
		}
		ch, err := strconv.Atoi(fields[1])
		if err != nil || ch < 0 || ch > 3 {
			return Command{}, fmt.Errorf("adc channel must be 0-3, got %q", fields[1])
		}
		return Command{Action: ActionChannel, Channel: ch}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", fields[0])
	}
}

// Console reads commands line by line and emits them on a channel.
type Console struct {
	r    io.Reader
	ch   chan Command
	errs chan error
	done chan struct{}
	once sync.Once
}

// NewConsole creates a Console reading from r.
func NewConsole(r io.Reader) *Console {
	return &Console{
		r:    r,
		ch:   make(chan Command, 16),
		errs: make(chan error, 16),
		done: make(chan struct{}),
	}
}

// Commands returns the channel of parsed commands. It is closed when input
// ends or Stop is called.
func (c *Console) Commands() <-chan Command {
	return c.ch
}

// Errors returns lines that failed to parse.
func (c *Console) Errors() <-chan error {
	return c.errs
}

// Start reads input until EOF or Stop. It blocks; run it in a goroutine.
func (c *Console) Start() {
	defer close(c.ch)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-c.done:
				return
			}
		}
	}()

	for {
		select {
		case <-c.done:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			cmd, err := ParseCommand(line)
			if err != nil {
				select {
				case c.errs <- err:
				default: // nobody is reading errors
				}
				continue
			}
			select {
			case c.ch <- cmd:
			case <-c.done:
				return
			}
		}
	}
}

// Stop terminates the console. It is safe to call multiple times.
func (c *Console) Stop() {
	c.once.Do(func() {
		close(c.done)
	})
}
