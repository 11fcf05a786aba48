package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chaz8081/alcoholmeter/internal/ble"
	"github.com/chaz8081/alcoholmeter/internal/viewer"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect to a meter and show its readings",
	Long: `client scans for a device whose name starts with ble.name_prefix,
connects, and shows readings as they arrive. Type commands on stdin:

  ` + viewer.Usage + `

A dropped link is rescanned with exponential backoff capped at ble.retry_max
seconds.`,
	Args: cobra.NoArgs,
	RunE: runClient,
}

func runClient(cmd *cobra.Command, _ []string) error {
	cfg, log, closer, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	layout, err := layoutFor(cfg)
	if err != nil {
		return err
	}

	transport := ble.NewBluetoothCentral(layout, cfg.BLE.ScanTimeout, log)
	if err := transport.Enable(); err != nil {
		return err
	}

	central := ble.NewCentral(transport, ble.CentralOptions{
		NamePrefix: cfg.BLE.NamePrefix,
		Layout:     layout,
		Codec:      codecFor(cfg),
	}, log)

	display := viewer.NewDisplay(cmd.OutOrStdout())
	view := viewer.New(central, display, log)
	reconnect := viewer.NewReconnector(central, cfg.BLE.RetryMax, log)
	central.OnMessage(view.HandleMessage)
	central.OnStateChange(view.HandleState)
	central.OnStateChange(reconnect.Observe)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := central.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("central session stopped")
		}
	}()
	go reconnect.Run(ctx)

	console := viewer.NewConsole(os.Stdin)
	go console.Start()
	defer console.Stop()

	if err := central.Start(); err != nil {
		// The reconnector retries from the Error state.
		log.WithError(err).Warn("initial scan failed")
	}
	fmt.Fprintln(cmd.OutOrStdout(), viewer.Usage)

	for {
		select {
		case <-ctx.Done():
			return shutdownClient(central)
		case err := <-console.Errors():
			display.Warn(err.Error())
		case c, ok := <-console.Commands():
			if !ok || c.Action == viewer.ActionQuit {
				return shutdownClient(central)
			}
			if err := view.Execute(c); err != nil {
				if errors.Is(err, ble.ErrNotReady) {
					display.Warn("not connected yet")
					continue
				}
				display.Warn(err.Error())
			}
		}
	}
}

func shutdownClient(central *ble.Central) error {
	if err := central.Stop(); err != nil {
		return err
	}
	fmt.Println("Goodbye!")
	return nil
}
