// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/vevorstat/pkg/vevor"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}

	// ------------------------------------------------------------
	// TRANSPORT
	// ------------------------------------------------------------

	if cfg.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be > 0, got %d", cfg.Serial.Baud)
	}
	if cfg.Serial.Port != "" && cfg.WebSocket.URL != "" {
		return fmt.Errorf("serial.port and websocket.url are mutually exclusive")
	}
	if cfg.WebSocket.Username != "" && cfg.WebSocket.URL == "" {
		return fmt.Errorf("websocket.username requires websocket.url")
	}

	// ------------------------------------------------------------
	// POLL CYCLE
	// ------------------------------------------------------------

	p := cfg.Poll
	if p.TickMs <= 0 {
		return fmt.Errorf("poll.tick_ms must be > 0, got %d", p.TickMs)
	}
	if p.RequestIntervalMs <= 0 {
		return fmt.Errorf("poll.request_interval_ms must be > 0, got %d", p.RequestIntervalMs)
	}
	if p.ResponseTimeoutMs <= 0 {
		return fmt.Errorf("poll.response_timeout_ms must be > 0, got %d", p.ResponseTimeoutMs)
	}
	if p.TickMs > p.ResponseTimeoutMs {
		return fmt.Errorf("poll.tick_ms (%d) must not exceed poll.response_timeout_ms (%d)", p.TickMs, p.ResponseTimeoutMs)
	}
	if p.MaxTimeouts < 1 {
		return fmt.Errorf("poll.max_timeouts must be >= 1, got %d", p.MaxTimeouts)
	}
	if p.IdleTimeoutMs != nil && *p.IdleTimeoutMs < 0 {
		return fmt.Errorf("poll.idle_timeout_ms must be >= 0, got %d", *p.IdleTimeoutMs)
	}

	// ------------------------------------------------------------
	// DECODER
	// ------------------------------------------------------------

	if _, err := vevor.ChecksumByName(cfg.Decoder.Checksum); err != nil {
		return fmt.Errorf("decoder.checksum: %w", err)
	}

	table := vevor.DefaultTable()
	seen := make(map[string]bool)
	for _, name := range cfg.Decoder.Fields {
		if !table.HasField(name) {
			return fmt.Errorf("decoder.fields: unknown field %q", name)
		}
		if seen[name] {
			return fmt.Errorf("decoder.fields: %q listed twice", name)
		}
		seen[name] = true
	}

	// ------------------------------------------------------------
	// REQUEST TEMPLATE
	// ------------------------------------------------------------

	if _, ok := vevor.ParseMode(cfg.Request.Mode); !ok {
		return fmt.Errorf("request.mode: unknown mode %q", cfg.Request.Mode)
	}
	if cfg.Request.Level < vevor.MinPowerLevel || cfg.Request.Level > vevor.MaxPowerLevel {
		return fmt.Errorf("request.level must be in [%d, %d], got %d",
			vevor.MinPowerLevel, vevor.MaxPowerLevel, cfg.Request.Level)
	}

	// ------------------------------------------------------------
	// LOGGING
	// ------------------------------------------------------------

	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", cfg.Log.Format)
	}

	return nil
}
