// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

// Defaults
const (
	DefaultBaud              = 4800
	DefaultTickMs            = 10
	DefaultRequestIntervalMs = 1000
	DefaultResponseTimeoutMs = 500
	DefaultMaxTimeouts       = 5
	DefaultIdleTimeoutMs     = 50
	DefaultChecksum          = "modular-sum"
	DefaultLevel             = 10
	DefaultMode              = "off"
	DefaultCommand           = 0x02
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"
)

// Normalize fills unset values with defaults.
// It is allowed to mutate configuration and runs before Validate.
// Values that were set, even to something invalid, are left for Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = DefaultBaud
	}

	p := &cfg.Poll
	if p.TickMs == 0 {
		p.TickMs = DefaultTickMs
	}
	if p.RequestIntervalMs == 0 {
		p.RequestIntervalMs = DefaultRequestIntervalMs
	}
	if p.ResponseTimeoutMs == 0 {
		p.ResponseTimeoutMs = DefaultResponseTimeoutMs
	}
	if p.MaxTimeouts == 0 {
		p.MaxTimeouts = DefaultMaxTimeouts
	}
	if p.IdleTimeoutMs == nil {
		idle := DefaultIdleTimeoutMs
		p.IdleTimeoutMs = &idle
	}

	if cfg.Decoder.Checksum == "" {
		cfg.Decoder.Checksum = DefaultChecksum
	}
	if cfg.Decoder.Reserved == nil {
		reserved := true
		cfg.Decoder.Reserved = &reserved
	}

	if cfg.Request.Level == 0 {
		cfg.Request.Level = DefaultLevel
	}
	if cfg.Request.Mode == "" {
		cfg.Request.Mode = DefaultMode
	}
	if cfg.Request.Command == nil {
		command := uint8(DefaultCommand)
		cfg.Request.Command = &command
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
