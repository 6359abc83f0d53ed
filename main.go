// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Vevorstat - Vevor Diesel Heater Serial Protocol Analyzer
//
// A CLI tool for monitoring, decoding and polling the serial link between a
// diesel heater and its combustion controller.

package main

import (
	"os"

	"github.com/Thermoquad/vevorstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
