package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chaz8081/alcoholmeter/internal/ble"
	"github.com/chaz8081/alcoholmeter/internal/ble/protocol"
	"github.com/chaz8081/alcoholmeter/internal/config"
)

// setup loads and validates the config and builds the logger. The returned
// closer flushes the log file, if any.
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, io.Closer, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, loadedFrom, err := loadConfig(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("config validation: %w", err)
	}

	log, closer := cfg.NewLogger(os.Stderr)
	if loadedFrom != "" {
		log.WithField("path", loadedFrom).Info("config loaded")
	} else {
		log.Info("no config file found, using defaults")
	}
	return cfg, log, closer, nil
}

// loadConfig loads the config from path, or from the default path when it
// exists, or falls back to built-in defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, defaultPath, nil
	}
	return config.Default(), "", nil
}

func layoutFor(cfg *config.Config) (ble.Layout, error) {
	return ble.NewLayout(cfg.BLE.ServiceUUID, cfg.BLE.RXUUID, cfg.BLE.TXUUID)
}

func codecFor(cfg *config.Config) *protocol.Codec {
	return &protocol.Codec{Header: cfg.Protocol.Header, Strict: cfg.Protocol.Strict}
}
