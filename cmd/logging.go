// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/vevorstat/internal/config"
)

// newLogger builds the root logger. Logs go to stderr so analyzer output on
// stdout stays clean.
func newLogger(c config.LogConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	var w io.Writer = os.Stderr
	if c.Format == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// componentLogger returns a child of the root logger tagged with a component
func componentLogger(name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
