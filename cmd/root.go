// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vevorstat/internal/config"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Configuration and logging flags
	configPath string
	logLevel   string
)

var (
	// cfg is the loaded configuration with flag overrides applied
	cfg *config.Config
	// logger is the root logger built from cfg.Log
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vevorstat",
	Short: "Vevor Diesel Heater Serial Protocol Analyzer",
	Long: `Vevorstat - A CLI tool for monitoring and decoding the serial link between a
diesel heater and its combustion controller.

Provides commands for passive frame logging, error detection with statistics,
and an active controller mode that polls the heater and decodes its status.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 4800]
  WebSocket: --url ws://host/path [--username user]

Settings may also come from a YAML file (--config). Flags override the file.

For WebSocket authentication, the password is read from the VEVORSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", config.DefaultBaud, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Configuration and logging flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
}

// loadConfig reads the configuration file, applies flag overrides and
// builds the root logger
func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	// A transport flag replaces whichever transport the file configured
	if flags.Changed("port") {
		loaded.Serial.Port = portName
		loaded.WebSocket = config.WebSocketConfig{}
	}
	if flags.Changed("baud") {
		loaded.Serial.Baud = baudRate
	}
	if flags.Changed("url") {
		loaded.WebSocket.URL = wsURL
		loaded.Serial.Port = ""
	}
	if flags.Changed("username") {
		loaded.WebSocket.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		loaded.WebSocket.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("log-level") {
		loaded.Log.Level = logLevel
	}

	// Flags may have introduced invalid combinations
	if err := config.Validate(loaded); err != nil {
		return err
	}

	logger, err = newLogger(loaded.Log)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
