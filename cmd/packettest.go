// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vevorstat/pkg/vevor"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid heater bus frame",
	Long: `Wait for a valid frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any frame
that passes structural validation and the configured checksum strategy.
Garbage bytes and rejected frames are counted but otherwise ignored.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking wiring and baud rate before running raw_log or poll.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	mon, err := newMonitor(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Vevorstat - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	frameChan := make(chan busEvent, 1)
	errChan := make(chan error, 1)

	go func() {
		buf := make([]byte, 128)
		rejected := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for _, ev := range mon.feed(buf[:n], time.Now()) {
				if ev.Err != nil {
					rejected++
					continue
				}
				if rejected > 0 {
					fmt.Printf("(discarded %d invalid frames or byte runs before sync)\n", rejected)
				}
				frameChan <- ev
				return
			}
		}
	}()

	select {
	case ev := <-frameChan:
		state, source := ev.Decoded.State()
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Variant: %s\n", ev.Variant)
		fmt.Printf("  Direction: %s\n", ev.Frame.Direction())
		fmt.Printf("  Command: %s (0x%02X)\n", vevor.FormatCommand(ev.Frame.Command()), ev.Frame.Command())
		fmt.Printf("  Length: %d bytes\n", ev.Frame.Len())
		fmt.Printf("  Checksum: 0x%02X\n", ev.Frame.ChecksumByte())
		fmt.Printf("  State: %s (%s)\n", state, source)
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
