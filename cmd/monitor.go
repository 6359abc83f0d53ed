// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/vevorstat/internal/config"
	"github.com/Thermoquad/vevorstat/pkg/vevor"
)

// busEvent is one outcome of passively decoding bus traffic. Exactly one of
// Decoded or Err is set; Frame is nil for synchronizer errors.
type busEvent struct {
	At      time.Time
	Frame   *vevor.RawFrame
	Variant vevor.Variant
	Decoded *vevor.DecodedFrame
	Err     error

	// PreSync marks synchronizer errors seen before the first valid frame.
	// Those are line noise from joining mid-frame, not bus errors.
	PreSync bool
	// Synced marks the first valid frame
	Synced bool
}

// record counts the event in s. Pre-sync noise is not counted.
func (ev busEvent) record(s *vevor.Statistics) {
	switch {
	case ev.PreSync:
	case ev.Frame == nil:
		s.RecordError(ev.Err)
	default:
		s.Update(ev.Variant, ev.Decoded, ev.Err)
	}
}

// monitor decodes both directions of the bus without sending anything.
// The combustion state seen in heater frames is carried forward so
// state-conditioned fields resolve in frames that lack a selector.
type monitor struct {
	sync      *vevor.Synchronizer
	validator *vevor.Validator
	decoder   *vevor.FieldDecoder
	state     vevor.CombustionState
	synced    bool
	log       zerolog.Logger
}

func newMonitor(c *config.Config) (*monitor, error) {
	checksum, err := c.ChecksumStrategy()
	if err != nil {
		return nil, err
	}

	m := &monitor{
		sync:      vevor.NewSynchronizer(c.Poll.IdleTimeout(), vevor.NewValidator(checksum)),
		validator: vevor.NewValidator(checksum),
		decoder:   vevor.NewFieldDecoder(nil, c.Subscription()),
		state:     vevor.StateOff,
		log:       componentLogger("monitor"),
	}
	if checksum.Provisional() {
		m.log.Warn().Str("checksum", checksum.Name()).Msg("checksum strategy is provisional")
	}
	return m, nil
}

// feed runs received bytes through the pipeline. An empty read still
// expires a stale partial frame.
func (m *monitor) feed(data []byte, now time.Time) []busEvent {
	var events []busEvent

	if err := m.sync.Expire(now); err != nil {
		events = append(events, m.syncError(err, now))
	}

	frames, errs := m.sync.Feed(data, now)
	for _, err := range errs {
		events = append(events, m.syncError(err, now))
	}

	for _, f := range frames {
		v, err := m.validator.Validate(f)
		if err != nil {
			m.log.Debug().Err(err).Str("frame", vevor.FormatHex(f.Bytes())).Msg("frame rejected")
			events = append(events, busEvent{At: now, Frame: f, Variant: v, Err: err})
			continue
		}

		ev := busEvent{At: now, Frame: f, Variant: v, Decoded: m.decoder.Decode(f, v, m.state)}
		if !m.synced {
			m.synced = true
			ev.Synced = true
		}
		if state, source := ev.Decoded.State(); source == vevor.StateDecoded {
			if state != m.state {
				m.log.Info().Stringer("from", m.state).Stringer("to", state).Msg("combustion state changed")
			}
			m.state = state
		}
		events = append(events, ev)
	}

	return events
}

func (m *monitor) syncError(err error, now time.Time) busEvent {
	m.log.Debug().Err(err).Bool("synced", m.synced).Msg("synchronizer discarded bytes")
	return busEvent{At: now, Err: err, PreSync: !m.synced}
}
