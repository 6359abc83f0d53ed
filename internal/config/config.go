// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config holds the YAML configuration of vevorstat.
//
// Loading happens in three steps: decode (load.go), fill defaults
// (normalize.go), then declarative checks (validate.go).
package config

import (
	"time"

	"github.com/Thermoquad/vevorstat/pkg/pollcycle"
	"github.com/Thermoquad/vevorstat/pkg/vevor"
)

type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Poll      PollConfig      `yaml:"poll"`
	Decoder   DecoderConfig   `yaml:"decoder"`
	Request   RequestConfig   `yaml:"request"`
	Log       LogConfig       `yaml:"log"`
}

// ---- TRANSPORT ----

type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type WebSocketConfig struct {
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

// ---- POLL CYCLE ----

type PollConfig struct {
	TickMs            int `yaml:"tick_ms"`
	RequestIntervalMs int `yaml:"request_interval_ms"`
	ResponseTimeoutMs int `yaml:"response_timeout_ms"`
	MaxTimeouts       int `yaml:"max_timeouts"`
	IdleTimeoutMs     *int `yaml:"idle_timeout_ms"` // 0 disables the idle check
}

func (p PollConfig) Tick() time.Duration {
	return time.Duration(p.TickMs) * time.Millisecond
}

func (p PollConfig) RequestInterval() time.Duration {
	return time.Duration(p.RequestIntervalMs) * time.Millisecond
}

func (p PollConfig) ResponseTimeout() time.Duration {
	return time.Duration(p.ResponseTimeoutMs) * time.Millisecond
}

func (p PollConfig) IdleTimeout() time.Duration {
	if p.IdleTimeoutMs == nil {
		return DefaultIdleTimeoutMs * time.Millisecond
	}
	return time.Duration(*p.IdleTimeoutMs) * time.Millisecond
}

// ---- DECODER ----

type DecoderConfig struct {
	Checksum string   `yaml:"checksum"`
	Fields   []string `yaml:"fields"` // empty = every named field
	Reserved *bool    `yaml:"reserved"`
}

// ---- REQUEST TEMPLATE ----

type RequestConfig struct {
	Level   int    `yaml:"level"`
	Mode    string `yaml:"mode"`
	Command *uint8 `yaml:"command"`
}

// ---- LOGGING ----

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// ---- RUNTIME VIEWS ----
// These assume a validated config.

// ChecksumStrategy builds the configured checksum strategy
func (c *Config) ChecksumStrategy() (vevor.Checksum, error) {
	return vevor.ChecksumByName(c.Decoder.Checksum)
}

// Subscription returns the decoder field selection
func (c *Config) Subscription() vevor.Subscription {
	return vevor.Subscription{
		Fields:       append([]string(nil), c.Decoder.Fields...),
		OmitReserved: c.Decoder.Reserved != nil && !*c.Decoder.Reserved,
	}
}

// RequestTemplate returns the poll request sent to the heater
func (c *Config) RequestTemplate() vevor.Request {
	mode, _ := vevor.ParseMode(c.Request.Mode)
	r := vevor.Request{Level: byte(c.Request.Level), Mode: mode, Command: vevor.CommandSteady}
	if c.Request.Command != nil {
		r.Command = *c.Request.Command
	}
	return r
}

// MachineConfig returns the poll-cycle machine settings
func (c *Config) MachineConfig() (pollcycle.Config, error) {
	checksum, err := c.ChecksumStrategy()
	if err != nil {
		return pollcycle.Config{}, err
	}
	return pollcycle.Config{
		RequestInterval: c.Poll.RequestInterval(),
		ResponseTimeout: c.Poll.ResponseTimeout(),
		MaxTimeouts:     c.Poll.MaxTimeouts,
		IdleTimeout:     c.Poll.IdleTimeout(),
		Checksum:        checksum,
		Subscription:    c.Subscription(),
		Request:         c.RequestTemplate(),
	}, nil
}
