// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vevor

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatFrame formats a frame header line
func FormatFrame(f *RawFrame, v Variant) string {
	timestamp := f.Timestamp().Format("15:04:05.000")
	return fmt.Sprintf("[%s] %s %s cmd=%s (0x%02X) len=%d\n",
		timestamp, v, f.Direction(), FormatCommand(f.Command()), f.Command(), f.Len())
}

// FormatCommand returns the human-readable name for a command byte
func FormatCommand(command byte) string {
	switch command {
	case CommandSteady:
		return "STEADY"
	case CommandTransition:
		return "TRANSITION"
	default:
		return "UNKNOWN"
	}
}

// FormatHex formats bytes as space separated hex pairs
func FormatHex(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// FormatDecoded formats a decoded frame: header line, state line, then one
// line per value
func FormatDecoded(d *DecodedFrame) string {
	var sb strings.Builder
	sb.WriteString(FormatFrame(d.Frame(), d.Variant()))

	state, source := d.State()
	fmt.Fprintf(&sb, "  state: %s (%s)\n", state, source)
	if err := d.Err(); err != nil {
		fmt.Fprintf(&sb, "  warning: %v\n", err)
	}

	for _, v := range d.values {
		sb.WriteString("  ")
		sb.WriteString(FormatValue(v))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// FormatValue formats one value as "name = value unit [confidence]"
func FormatValue(v Value) string {
	if v.Absent {
		return fmt.Sprintf("%-28s = absent", v.Name)
	}
	text := FormatNumber(v)
	if v.Unit != "" {
		text += " " + v.Unit
	}
	return fmt.Sprintf("%-28s = %-14s [%s @%d]", v.Name, text, v.Confidence, v.Offset)
}

// FormatNumber renders a value with as many decimals as its scale needs
func FormatNumber(v Value) string {
	if v.Scale == 0 {
		return strconv.Itoa(v.Raw)
	}
	decimals := 0
	for s := v.Scale; s < 1 && decimals < 6; s *= 10 {
		decimals++
	}
	return strconv.FormatFloat(v.Value, 'f', decimals, 64)
}
