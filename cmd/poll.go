// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/vevorstat/pkg/pollcycle"
	"github.com/Thermoquad/vevorstat/pkg/vevor"
)

var (
	pollFormat string
	pollCount  int
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Act as the controller: poll the heater and decode its status",
	Long: `Run the poll cycle against a heater with no controller attached.

Each cycle sends the configured request frame (power level, mode and command
byte from the request section of the config), waits for the heater's status
frame and decodes it. Missing or invalid responses are reported as timeouts;
after poll.max_timeouts consecutive timeouts the heater is reported offline
and polling continues until it answers again.

Output formats:
  text - human-readable events on stdout
  cbor - one CBOR readings map per completed cycle on stdout (a CBOR
         sequence); other events go to the log on stderr

With --count N the command stops after N cycles have completed or timed out.

Exit codes:
  0 - Stopped by signal, or every counted cycle completed
  1 - One or more counted cycles timed out
  2 - Connection error`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().StringVar(&pollFormat, "format", "text", "Output format (text, cbor)")
	pollCmd.Flags().IntVar(&pollCount, "count", 0, "Stop after this many cycles (0 = run until interrupted)")
}

func runPoll(cmd *cobra.Command, args []string) error {
	var out eventWriter
	switch pollFormat {
	case "text":
		out = &textEventWriter{w: os.Stdout}
	case "cbor":
		out = &cborEventWriter{w: os.Stdout}
	default:
		return fmt.Errorf("unknown format %q (use text or cbor)", pollFormat)
	}

	machineCfg, err := cfg.MachineConfig()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	machine, err := pollcycle.New(machineCfg, conn, logger)
	if err != nil {
		return err
	}

	if pollFormat == "text" {
		fmt.Printf("Vevorstat - Poll Mode\n")
		fmt.Printf("Connection: %s\n", connInfo)
		fmt.Printf("Checksum: %s\n", cfg.Decoder.Checksum)
		fmt.Printf("Request: %s\n", vevor.FormatHex(machineCfg.Request.Encode(machineCfg.Checksum)))
		fmt.Printf("Press Ctrl+C to exit\n\n")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan pollcycle.Event, 16)
	done := make(chan error, 1)
	go func() {
		done <- machine.Run(ctx, cfg.Poll.Tick(), events)
	}()

	stats := vevor.NewStatistics()
	counted, failed := 0, 0

	for {
		select {
		case ev := <-events:
			recordPollEvent(stats, ev)
			if err := out.write(ev); err != nil {
				cancel()
				return err
			}

			// The machine logs timeouts and availability changes itself
			switch ev.Kind {
			case pollcycle.EventCycle:
				counted++
			case pollcycle.EventTimeout:
				counted++
				failed++
			}

			if pollCount > 0 && counted >= pollCount {
				cancel()
			}

		case err := <-done:
			out.summary(stats)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("poll stopped: %w", err)
			}
			if pollCount > 0 && failed > 0 {
				os.Exit(1)
			}
			return nil
		}
	}
}

func recordPollEvent(s *vevor.Statistics, ev pollcycle.Event) {
	switch ev.Kind {
	case pollcycle.EventCycle:
		s.Update(ev.Cycle.Decoded.Variant(), ev.Cycle.Decoded, nil)
		s.RecordCycle()
	case pollcycle.EventTimeout, pollcycle.EventOffline:
		s.RecordError(ev.Err)
	case pollcycle.EventDiagnostic:
		v := vevor.VariantUnknown
		if ev.Frame != nil {
			if info, ok := vevor.LookupVariant(ev.Frame.DeviceID(), ev.Frame.LengthCode()); ok {
				v = info.Variant
			}
		}
		s.Update(v, nil, ev.Err)
	}
}

// eventWriter renders poll events for the chosen output format
type eventWriter interface {
	write(ev pollcycle.Event) error
	summary(s *vevor.Statistics)
}

type textEventWriter struct {
	w io.Writer
}

func (t *textEventWriter) write(ev pollcycle.Event) error {
	ts := ev.At.Format("15:04:05.000")
	var err error
	switch ev.Kind {
	case pollcycle.EventCycle:
		_, err = fmt.Fprintf(t.w, "%s  latency: %v\n\n", vevor.FormatDecoded(ev.Cycle.Decoded), ev.Cycle.Latency)
	case pollcycle.EventTimeout:
		_, err = fmt.Fprintf(t.w, "[%s] TIMEOUT (attempt %d): %v\n\n", ts, ev.Attempt, ev.Err)
	case pollcycle.EventDiagnostic:
		_, err = fmt.Fprintf(t.w, "[%s] DIAGNOSTIC: %v\n", ts, ev.Err)
		if err == nil && ev.Frame != nil {
			_, err = fmt.Fprintf(t.w, "  frame: %s\n", vevor.FormatHex(ev.Frame.Bytes()))
		}
	case pollcycle.EventOffline:
		_, err = fmt.Fprintf(t.w, "[%s] OFFLINE: %v\n\n", ts, ev.Err)
	case pollcycle.EventOnline:
		_, err = fmt.Fprintf(t.w, "[%s] ONLINE\n\n", ts)
	}
	return err
}

func (t *textEventWriter) summary(s *vevor.Statistics) {
	fmt.Fprintln(t.w)
	fmt.Fprint(t.w, s.String())
}

// cborEventWriter emits completed cycles as a CBOR sequence
type cborEventWriter struct {
	w io.Writer
}

func (c *cborEventWriter) write(ev pollcycle.Event) error {
	if ev.Kind != pollcycle.EventCycle {
		return nil
	}
	data, err := vevor.MarshalReadingsCBOR(ev.Cycle.Decoded)
	if err != nil {
		return fmt.Errorf("encode readings: %w", err)
	}
	_, err = c.w.Write(data)
	return err
}

func (c *cborEventWriter) summary(s *vevor.Statistics) {
	s.CalculateRates()
	logger.Info().
		Uint64("cycles", s.Cycles).
		Uint64("timeouts", s.Timeouts).
		Uint64("checksum_errors", s.ChecksumErrors).
		Uint64("offline_events", s.OfflineEvents).
		Msg("poll stopped")
}
