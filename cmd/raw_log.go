// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vevorstat/pkg/vevor"
)

var rawLogHex bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display decoded bus frames in human-readable format",
	Long: `Continuously decode and display heater bus frames as they arrive.

Each frame is shown with timestamp, variant, direction and command byte,
followed by the combustion state and every subscribed field value with its
confidence level. Frames that fail validation are shown as errors.

This command only listens; nothing is written to the bus.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogHex, "hex", false, "Also print the raw frame bytes")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	mon, err := newMonitor(cfg)
	if err != nil {
		return err
	}
	log := componentLogger("raw_log")

	fmt.Printf("Vevorstat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Checksum: %s\n", cfg.Decoder.Checksum)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	buf := make([]byte, 128)
	backoff := newReadBackoff(log)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// A closed bridge is permanent; exit gracefully
			if errors.Is(err, ErrConnectionClosed) {
				log.Info().Msg("connection closed")
				return nil
			}
			if err := backoff.fail(err); err != nil {
				return err
			}
			continue
		}
		backoff.ok()

		for _, ev := range mon.feed(buf[:n], time.Now()) {
			printBusEvent(ev, rawLogHex)
		}
	}
}

func printBusEvent(ev busEvent, hex bool) {
	if ev.Err != nil {
		if ev.Frame != nil {
			fmt.Printf("[ERROR] %v\n  frame: %s\n", ev.Err, vevor.FormatHex(ev.Frame.Bytes()))
			return
		}
		fmt.Printf("[ERROR] %v\n", ev.Err)
		return
	}

	fmt.Print(vevor.FormatDecoded(ev.Decoded))
	if hex {
		fmt.Printf("  bytes: %s\n", vevor.FormatHex(ev.Frame.Bytes()))
	}
}
