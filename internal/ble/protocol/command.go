package protocol

import "fmt"

// Command identifies the semantic operation carried by a frame. The set is
// open: receivers ignore commands they do not know.
type Command byte

const (
	CalcVal0  Command = 0xA0 // computed concentration; read request returns raw channel 0
	CalcVal1  Command = 0xA1
	CalcVal2  Command = 0xA2
	CalcVal3  Command = 0xA3
	Adc0      Command = 0xB0 // sensor voltage
	Adc1      Command = 0xB1
	Adc2      Command = 0xB2
	Adc3      Command = 0xB3
	R0        Command = 0xB4 // calibrated baseline resistance
	Start     Command = 0xC0
	Stop      Command = 0xC1
	Calibrate Command = 0xC2
	Status    Command = 0xD0 // free-text status string
)

var commandNames = map[Command]string{
	CalcVal0:  "calc0",
	CalcVal1:  "calc1",
	CalcVal2:  "calc2",
	CalcVal3:  "calc3",
	Adc0:      "adc0",
	Adc1:      "adc1",
	Adc2:      "adc2",
	Adc3:      "adc3",
	R0:        "r0",
	Start:     "start",
	Stop:      "stop",
	Calibrate: "calibrate",
	Status:    "status",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("cmd(0x%02x)", byte(c))
}

// Known reports whether c is one of the reserved command bytes.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// ParseCommand resolves a command by name ("start", "r0", ...) or by a hex
// literal such as "0xc0".
func ParseCommand(s string) (Command, error) {
	for cmd, name := range commandNames {
		if name == s {
			return cmd, nil
		}
	}
	var b byte
	if _, err := fmt.Sscanf(s, "0x%02x", &b); err == nil {
		return Command(b), nil
	}
	return 0, fmt.Errorf("protocol: unknown command %q", s)
}

// ParseDirection accepts "write"/"w" and "read"/"r".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "write", "w":
		return Write, nil
	case "read", "r":
		return Read, nil
	default:
		return 0, fmt.Errorf("protocol: unknown direction %q", s)
	}
}

// ChannelCommand returns the CalcVal command for ADC channel i (0-3).
func ChannelCommand(i int) (Command, bool) {
	if i < 0 || i > 3 {
		return 0, false
	}
	return CalcVal0 + Command(i), true
}
