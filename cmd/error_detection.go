// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vevorstat/pkg/vevor"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed frames and errors",
	Long: `Track framing errors, checksum failures and ambiguous decodes with statistics.

This command validates each frame and detects:
  - Framing errors (unknown device or length code, truncated frames)
  - Checksum mismatches under the configured strategy
  - Decode ambiguity (missing or out-of-range combustion state)
  - Statistics and trends (frame rate, error rate, per-variant counts)

By default, only errors are displayed. Use --show-all to display valid frames too.

Frames are validated in real-time, with errors highlighted immediately and
periodic statistics summaries displayed at configurable intervals.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	if statsInterval <= 0 {
		return fmt.Errorf("--stats-interval must be > 0, got %d", statsInterval)
	}

	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	mon, err := newMonitor(cfg)
	if err != nil {
		return err
	}

	if useTUI {
		return runTUIMode(conn, connInfo, mon)
	}
	return runTextMode(conn, connInfo, mon)
}

// printDecodeError prints a synchronizer error in highlighted format
func printDecodeError(ev busEvent) {
	timestamp := ev.At.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mFRAMING ERROR:\033[0m %v\n", timestamp, ev.Err)
	fmt.Printf("  >>> BYTES DISCARDED <<<\n\n")
}

// printValidationError prints a rejected frame with the error details
func printValidationError(ev busEvent) {
	timestamp := ev.Frame.Timestamp().Format("15:04:05.000")

	var perr *vevor.ProtocolError
	if !errors.As(ev.Err, &perr) {
		fmt.Printf("[%s] \033[1;31mERROR:\033[0m %v\n\n", timestamp, ev.Err)
		return
	}

	switch perr.Kind {
	case vevor.KindChecksum:
		fmt.Printf("[%s] \033[1;33mCHECKSUM ERROR:\033[0m %v\n", timestamp, perr.Details["variant"])
	default:
		fmt.Printf("[%s] \033[1;31mFRAMING ERROR:\033[0m len=%d\n", timestamp, ev.Frame.Len())
	}
	fmt.Printf("  Issue: \033[1;31m%s\033[0m\n", perr.Message)
	printDetails(perr.Details)
	fmt.Printf("  Frame: %s\n", vevor.FormatHex(ev.Frame.Bytes()))
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

// printAmbiguous prints a valid frame whose combustion state could not be
// resolved
func printAmbiguous(ev busEvent) {
	timestamp := ev.Frame.Timestamp().Format("15:04:05.000")
	state, _ := ev.Decoded.State()
	fmt.Printf("[%s] \033[1;33mDECODE AMBIGUITY:\033[0m %s\n", timestamp, ev.Variant)
	fmt.Printf("  Checksum: \033[1;32mOK\033[0m\n")
	fmt.Printf("  Issue: %v\n", ev.Decoded.Err())
	fmt.Printf("  Carried state: %s\n\n", state)
}

func printDetails(details map[string]any) {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := details[k].(type) {
		case byte:
			fmt.Printf("    %s=0x%02X\n", k, v)
		default:
			fmt.Printf("    %s=%v\n", k, v)
		}
	}
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(conn Connection, connInfo string, mon *monitor) error {
	m := initialModel(connInfo, cfg.Decoder.Checksum, statsInterval, showAll)
	p := tea.NewProgram(m)
	log := componentLogger("error_detection")

	// Reader goroutine; the model owns the statistics
	go func() {
		buf := make([]byte, 128)
		backoff := newReadBackoff(log)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				if errors.Is(err, ErrConnectionClosed) {
					p.Send(closedMsg{err: err})
					return
				}
				if err := backoff.fail(err); err != nil {
					p.Send(closedMsg{err: err})
					return
				}
				continue
			}
			backoff.ok()

			for _, ev := range mon.feed(buf[:n], time.Now()) {
				p.Send(busMsg(ev))
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(conn Connection, connInfo string, mon *monitor) error {
	fmt.Printf("Vevorstat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Checksum: %s\n", cfg.Decoder.Checksum)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := vevor.NewStatistics()
	log := componentLogger("error_detection")
	invalidBeforeSync := 0

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	// Channel for non-blocking reads
	incoming := make(chan []byte, 10)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 128)
		backoff := newReadBackoff(log)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				if errors.Is(err, ErrConnectionClosed) {
					readErr <- err
					return
				}
				if err := backoff.fail(err); err != nil {
					readErr <- err
					return
				}
				continue
			}
			backoff.ok()
			data := make([]byte, n)
			copy(data, buf[:n])
			incoming <- data
		}
	}()

	for {
		select {
		case data := <-incoming:
			for _, ev := range mon.feed(data, time.Now()) {
				ev.record(stats)

				switch {
				case ev.PreSync:
					invalidBeforeSync++
				case ev.Frame == nil:
					printDecodeError(ev)
				case ev.Err != nil:
					printValidationError(ev)
				default:
					if ev.Synced {
						if invalidBeforeSync > 0 {
							fmt.Printf("[SYNC] Synchronized after discarding %d invalid byte runs\n\n", invalidBeforeSync)
						} else {
							fmt.Printf("[SYNC] Synchronized\n\n")
						}
					}
					if ev.Decoded.Err() != nil {
						printAmbiguous(ev)
					} else if showAll {
						fmt.Print(vevor.FormatDecoded(ev.Decoded))
						fmt.Println()
					}
				}
			}

		case err := <-readErr:
			fmt.Println()
			fmt.Print(stats.String())
			if errors.Is(err, ErrConnectionClosed) {
				log.Info().Err(err).Msg("connection closed")
				return nil
			}
			return err

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
