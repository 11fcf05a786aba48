package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chaz8081/alcoholmeter/internal/ble/protocol"
)

var frameCmd = &cobra.Command{
	Use:   "frame",
	Short: "Encode or decode protocol frames",
}

var frameEncodeCmd = &cobra.Command{
	Use:   "encode <command> <direction> [value]",
	Short: "Print the hex frame for a command",
	Long: `Encode builds a frame and prints it as hex.

command is a name (start, stop, calibrate, r0, calc0-3, adc0-3, status) or a
hex byte such as 0xc0. direction is write or read. For status the value is
sent as text; for any other command a numeric value is sent as a float32.

Examples:
  alcoholmeter frame encode start write
  alcoholmeter frame encode r0 write 0.18
  alcoholmeter frame encode status write "Status: Ready"`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		codec, err := frameCodec(cmd)
		if err != nil {
			return err
		}
		out, err := encodeFrame(codec, args)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var frameDecodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Describe a hex frame",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		codec, err := frameCodec(cmd)
		if err != nil {
			return err
		}
		out, err := describeFrame(codec, strings.Join(args, ""))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	frameCmd.PersistentFlags().Uint8("header", protocol.DefaultHeader, "frame sentinel byte (default: protocol.header from config)")
	frameCmd.PersistentFlags().Bool("strict", false, "verify length and checksum when decoding (default: protocol.strict from config)")
	frameCmd.AddCommand(frameEncodeCmd, frameDecodeCmd)
}

// frameCodec starts from the configured codec and applies --header and
// --strict when they are given.
func frameCodec(cmd *cobra.Command) (protocol.Codec, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, _, err := loadConfig(path)
	if err != nil {
		return protocol.Codec{}, fmt.Errorf("config: %w", err)
	}
	codec := *codecFor(cfg)

	if cmd.Flags().Changed("header") {
		codec.Header, _ = cmd.Flags().GetUint8("header")
	}
	if cmd.Flags().Changed("strict") {
		codec.Strict, _ = cmd.Flags().GetBool("strict")
	}
	return codec, nil
}

func encodeFrame(codec protocol.Codec, args []string) (string, error) {
	command, err := protocol.ParseCommand(strings.ToLower(args[0]))
	if err != nil {
		return "", err
	}
	dir, err := protocol.ParseDirection(strings.ToLower(args[1]))
	if err != nil {
		return "", err
	}

	var payload []byte
	if len(args) == 3 {
		payload, err = framePayload(command, args[2])
		if err != nil {
			return "", err
		}
	}

	frame, err := codec.Encode(command, dir, payload)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(frame), nil
}

func framePayload(command protocol.Command, value string) ([]byte, error) {
	if command == protocol.Status {
		return []byte(value), nil
	}
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("value for %s must be a number: %w", command, err)
	}
	return protocol.FloatToBytes(float32(f)), nil
}

func describeFrame(codec protocol.Codec, input string) (string, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(strings.ToLower(input))
	data, err := hex.DecodeString(clean)
	if err != nil {
		return "", fmt.Errorf("invalid hex: %w", err)
	}
	msg, err := codec.Decode(data)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "command:   %s (0x%02x)\n", msg.Command, byte(msg.Command))
	fmt.Fprintf(&b, "direction: %s\n", msg.Direction)
	fmt.Fprintf(&b, "payload:   [% x]\n", msg.Payload)
	switch {
	case msg.Command == protocol.Status:
		fmt.Fprintf(&b, "text:      %q\n", msg.Text())
	case len(msg.Payload) == 4:
		fmt.Fprintf(&b, "float:     %g\n", msg.Float())
	}
	if end := 4 + len(msg.Payload); len(data) >= end+2 {
		got := binary.LittleEndian.Uint16(data[end : end+2])
		want := protocol.Checksum(data[:end])
		verdict := "ok"
		if got != want {
			verdict = fmt.Sprintf("mismatch, computed 0x%04x", want)
		}
		fmt.Fprintf(&b, "checksum:  0x%04x (%s)\n", got, verdict)
	} else {
		b.WriteString("checksum:  missing\n")
	}
	return b.String(), nil
}
