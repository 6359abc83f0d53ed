// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package pollcycle runs the controller side of the heater bus: send a
// request, pair it with the heater's response, and report timeouts and
// offline conditions to the host.
//
// The machine is driven by Tick. It never blocks beyond one bounded read on
// the transport and never has more than one request outstanding.
package pollcycle

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/vevorstat/pkg/vevor"
)

// Transport is the serial link. Read must return within a bounded time,
// with n == 0 when no bytes arrived.
type Transport interface {
	io.Reader
	io.Writer
}

// Config is the runtime configuration of a machine
type Config struct {
	RequestInterval time.Duration // minimum spacing between requests
	ResponseTimeout time.Duration
	MaxTimeouts     int           // consecutive timeouts before offline
	IdleTimeout     time.Duration // synchronizer partial-frame timeout
	ReadBufferSize  int

	Checksum     vevor.Checksum
	Table        *vevor.Table
	Subscription vevor.Subscription
	Request      vevor.Request
}

const defaultReadBufferSize = 256

// Machine is the poll-cycle state machine. It owns the synchronizer buffer,
// the pending request and the carried combustion state; only Tick and
// Cancel mutate them.
type Machine struct {
	cfg  Config
	port Transport
	log  zerolog.Logger

	sync      *vevor.Synchronizer
	validator *vevor.Validator
	decoder   *vevor.FieldDecoder
	request   []byte
	buf       []byte

	phase        Phase
	last         Phase
	pending      *vevor.RawFrame
	sentAt       time.Time
	lastRequest  time.Time
	hasRequested bool
	timeouts     int
	offline      bool
	state        vevor.CombustionState
}

// New creates a machine in Idle with the carried state Off
func New(cfg Config, port Transport, logger zerolog.Logger) (*Machine, error) {
	if port == nil {
		return nil, errors.New("pollcycle: transport required")
	}
	if cfg.RequestInterval <= 0 {
		return nil, errors.New("pollcycle: request interval must be > 0")
	}
	if cfg.ResponseTimeout <= 0 {
		return nil, errors.New("pollcycle: response timeout must be > 0")
	}
	if cfg.MaxTimeouts < 1 {
		return nil, errors.New("pollcycle: max timeouts must be >= 1")
	}
	if err := cfg.Request.Validate(); err != nil {
		return nil, fmt.Errorf("pollcycle: request: %w", err)
	}
	if cfg.Checksum == nil {
		cfg.Checksum = vevor.ModularSum{}
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}

	return &Machine{
		cfg:       cfg,
		port:      port,
		log:       logger.With().Str("component", "pollcycle").Logger(),
		sync:      vevor.NewSynchronizer(cfg.IdleTimeout, vevor.NewValidator(cfg.Checksum)),
		validator: vevor.NewValidator(cfg.Checksum),
		decoder:   vevor.NewFieldDecoder(cfg.Table, cfg.Subscription),
		request:   cfg.Request.Encode(cfg.Checksum),
		buf:       make([]byte, cfg.ReadBufferSize),
		phase:     Idle,
		last:      Idle,
		state:     vevor.StateOff,
	}, nil
}

// Phase returns the current phase. Between ticks this is Idle or
// AwaitingResponse.
func (m *Machine) Phase() Phase {
	return m.phase
}

// LastPhase returns the terminal phase the most recent cycle ended in, or
// Idle if none has ended yet
func (m *Machine) LastPhase() Phase {
	return m.last
}

// State returns the carried combustion state
func (m *Machine) State() vevor.CombustionState {
	return m.state
}

// Offline reports whether the heater is currently considered unavailable
func (m *Machine) Offline() bool {
	return m.offline
}

// ConsecutiveTimeouts returns the current timeout streak
func (m *Machine) ConsecutiveTimeouts() int {
	return m.timeouts
}

// Tick performs one poll step at time now: one bounded read, response
// matching, timeout handling, and a new request when the machine is idle and
// the request interval has passed. Only transport failures are returned as
// errors; protocol outcomes are events.
func (m *Machine) Tick(now time.Time) ([]Event, error) {
	var events []Event

	n, readErr := m.port.Read(m.buf)
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		return nil, fmt.Errorf("pollcycle: read: %w", readErr)
	}

	if err := m.sync.Expire(now); err != nil {
		m.log.Debug().Err(err).Msg("dropped partial frame")
	}
	frames, syncErrs := m.sync.Feed(m.buf[:n], now)
	for _, err := range syncErrs {
		m.log.Debug().Err(err).Msg("resynchronizing")
	}

	for _, f := range frames {
		if m.phase != AwaitingResponse {
			m.log.Debug().Str("direction", f.Direction().String()).Int("len", f.Len()).Msg("unsolicited frame ignored")
			continue
		}
		events = append(events, m.handleFrame(f, now)...)
	}

	if m.phase == AwaitingResponse && now.Sub(m.sentAt) >= m.cfg.ResponseTimeout {
		events = append(events, m.timeout(now, nil)...)
	}

	if m.phase.Terminal() {
		m.last = m.phase
		m.phase = Idle
		m.pending = nil
	}

	if m.phase == Idle && (!m.hasRequested || now.Sub(m.lastRequest) >= m.cfg.RequestInterval) {
		if err := m.send(now); err != nil {
			return events, err
		}
	}

	if readErr != nil {
		return events, fmt.Errorf("pollcycle: read: %w", readErr)
	}
	return events, nil
}

// Cancel abandons the pending cycle: partial frames are flushed, the request
// is dropped and the machine returns to Idle. No event is produced.
func (m *Machine) Cancel() {
	m.sync.Reset()
	m.pending = nil
	m.phase = Idle
	m.log.Debug().Msg("cycle cancelled")
}

func (m *Machine) send(now time.Time) error {
	pending, err := vevor.NewRawFrame(m.request, now)
	if err != nil {
		return err
	}

	m.phase = RequestSent
	if _, err := m.port.Write(m.request); err != nil {
		m.phase = Idle
		return fmt.Errorf("pollcycle: write request: %w", err)
	}

	m.pending = pending
	m.sentAt = now
	m.lastRequest = now
	m.hasRequested = true
	m.phase = AwaitingResponse
	m.log.Debug().Str("request", vevor.FormatHex(m.request)).Msg("request sent")
	return nil
}

// handleFrame matches one frame against the pending request
func (m *Machine) handleFrame(f *vevor.RawFrame, now time.Time) []Event {
	// The controller's own request echoes on the single-wire bus
	if f.Direction() != vevor.DirectionHeaterToController {
		m.log.Debug().Int("len", f.Len()).Msg("echo ignored")
		return nil
	}

	variant, err := m.validator.Validate(f)
	if err != nil {
		m.log.Debug().Err(err).Str("frame", vevor.FormatHex(f.Bytes())).Msg("response rejected")
		events := []Event{{Kind: EventDiagnostic, At: now, Frame: f, Err: err}}
		return append(events, m.timeout(now, err)...)
	}

	decoded := m.decoder.Decode(f, variant, m.state)
	if derr := decoded.Err(); derr != nil {
		m.log.Debug().Err(derr).Msg("combustion state unresolved")
	}
	m.state, _ = decoded.State()

	var events []Event
	if m.offline {
		m.offline = false
		m.log.Info().Msg("heater back online")
		events = append(events, Event{Kind: EventOnline, At: now})
	}
	m.timeouts = 0
	m.phase = Completed

	cycle := &Cycle{
		Request:  m.pending,
		Response: f,
		Decoded:  decoded,
		Latency:  f.Timestamp().Sub(m.sentAt),
	}
	return append(events, Event{Kind: EventCycle, At: now, Cycle: cycle, Frame: f})
}

// timeout ends the pending cycle as timed out and escalates to offline once
// the streak reaches the limit
func (m *Machine) timeout(now time.Time, cause error) []Event {
	m.timeouts++
	err := vevor.NewTimeoutError(m.timeouts, cause)
	m.phase = TimedOut
	m.log.Warn().Int("attempt", m.timeouts).Err(cause).Msg("response timeout")

	events := []Event{{Kind: EventTimeout, At: now, Err: err, Attempt: m.timeouts}}
	if m.timeouts >= m.cfg.MaxTimeouts && !m.offline {
		m.offline = true
		m.phase = Rejected
		m.log.Error().Int("consecutive_timeouts", m.timeouts).Msg("heater offline")
		events = append(events, Event{
			Kind:    EventOffline,
			At:      now,
			Err:     vevor.NewOfflineError(m.cfg.MaxTimeouts),
			Attempt: m.timeouts,
		})
	}
	return events
}
