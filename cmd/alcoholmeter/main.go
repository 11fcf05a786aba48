// Command alcoholmeter runs either side of the BLE breath alcohol meter:
// the sensor device (GATT peripheral) or the viewing client (GATT central).
//
// Usage:
//
//	alcoholmeter device [--simulate]
//	alcoholmeter client
//	alcoholmeter frame encode start write
//	alcoholmeter frame decode a00201c06301
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "alcoholmeter",
	Short: "MQ3 breath alcohol meter over Bluetooth Low Energy",
	Long: `alcoholmeter measures breath alcohol with an MQ3 sensor and exchanges
readings over BLE using a small framed protocol.

  device   serve the sensor as a GATT peripheral
  client   connect to a device and show its readings
  frame    encode or decode protocol frames by hand`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to config file (default: ~/.config/alcoholmeter/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(deviceCmd, clientCmd, frameCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
