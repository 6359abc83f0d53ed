// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vevor

import "fmt"

// Request is the controller poll frame. The controller sends it every poll
// interval and the heater answers with its status frame.
//
// Wire layout (16 bytes):
//
//	AA 66 <command> 0B 00 00 00 00 <level> <mode> 00 00 00 00 00 <checksum>
type Request struct {
	Level   byte
	Mode    Mode
	Command byte
}

// Request body offsets
const (
	requestLevelOffset = 8
	requestModeOffset  = 9
)

// DefaultRequest polls at full power level with the heater off, which only
// queries status
func DefaultRequest() Request {
	return Request{Level: MaxPowerLevel, Mode: ModeOff, Command: CommandSteady}
}

// Validate checks the request against the values the heater accepts
func (r Request) Validate() error {
	if r.Level < MinPowerLevel || r.Level > MaxPowerLevel {
		return fmt.Errorf("level %d out of range [%d, %d]", r.Level, MinPowerLevel, MaxPowerLevel)
	}
	switch r.Mode {
	case ModeOff, ModeSetOff, ModeSetOn, ModeRunning:
	default:
		return fmt.Errorf("unknown mode 0x%02X", byte(r.Mode))
	}
	return nil
}

// Encode builds the wire frame for the request
func (r Request) Encode(c Checksum) []byte {
	body := make([]byte, LengthShort)
	body[requestLevelOffset-BodyOffset] = r.Level
	body[requestModeOffset-BodyOffset] = byte(r.Mode)

	// Body length equals the length code, so EncodeFrame cannot fail
	frame, _ := EncodeFrame(DeviceController, r.Command, LengthShort, body, c)
	return frame
}
