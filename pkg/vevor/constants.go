// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package vevor decodes the serial link between a Vevor-style diesel heater
// and its combustion controller.
//
// The link is a half-duplex 4800 baud bus. The controller sends a short
// request frame, the heater answers with a long status frame. Every frame
// starts with the sync byte 0xAA, followed by a device id, a command byte,
// a length code, the body, and a single checksum byte.
//
// The protocol is reverse engineered. Field interpretations carry an
// explicit confidence and the checksum algorithm is a pluggable strategy.
package vevor

// Framing bytes
const (
	SyncByte = 0xAA
)

// Device ids (byte 1)
const (
	DeviceController = 0x66
	DeviceHeater     = 0x77
)

// Length codes (byte 3)
const (
	LengthShort = 0x0B
	LengthLong  = 0x33
)

// Command bytes (byte 2). Recorded, never validated.
const (
	CommandSteady     = 0x02
	CommandTransition = 0x06
)

// Frame layout
const (
	HeaderSize   = 4 // sync, device, command, length code
	TrailerSize  = 1 // checksum
	BodyOffset   = HeaderSize
	MaxFrameSize = 0xFF + HeaderSize + TrailerSize
)

// Serial line defaults
const (
	DefaultBaudRate = 4800
)

// Direction of a frame on the bus
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionControllerToHeater
	DirectionHeaterToController
)

// DirectionForDevice maps a device id byte to the direction of travel
func DirectionForDevice(deviceID byte) Direction {
	switch deviceID {
	case DeviceController:
		return DirectionControllerToHeater
	case DeviceHeater:
		return DirectionHeaterToController
	default:
		return DirectionUnknown
	}
}

// String returns a short arrow notation for the direction
func (d Direction) String() string {
	switch d {
	case DirectionControllerToHeater:
		return "controller->heater"
	case DirectionHeaterToController:
		return "heater->controller"
	default:
		return "unknown"
	}
}

// CombustionState is the heater's operating phase as reported at offset 5
// of a long heater frame
type CombustionState int

const (
	StateOff CombustionState = iota
	StateGlowPlugPreheat
	StateIgnited
	StateStableCombustion
	StateCoolingDown
)

// Valid reports whether s is one of the known phases
func (s CombustionState) Valid() bool {
	return s >= StateOff && s <= StateCoolingDown
}

// String returns the phase name
func (s CombustionState) String() string {
	switch s {
	case StateOff:
		return "Off"
	case StateGlowPlugPreheat:
		return "GlowPlugPreheat"
	case StateIgnited:
		return "Ignited"
	case StateStableCombustion:
		return "StableCombustion"
	case StateCoolingDown:
		return "CoolingDown"
	default:
		return "Unknown"
	}
}

// Mode is the controller's requested operating mode (offset 9 of a short
// controller frame)
type Mode byte

const (
	ModeOff     Mode = 0x02
	ModeSetOff  Mode = 0x05
	ModeSetOn   Mode = 0x06
	ModeRunning Mode = 0x08
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "OFF"
	case ModeSetOff:
		return "SET_OFF"
	case ModeSetOn:
		return "SET_ON"
	case ModeRunning:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// ParseMode resolves a mode name as written in configuration
func ParseMode(name string) (Mode, bool) {
	switch name {
	case "off", "OFF":
		return ModeOff, true
	case "set_off", "SET_OFF":
		return ModeSetOff, true
	case "set_on", "SET_ON":
		return ModeSetOn, true
	case "running", "RUNNING":
		return ModeRunning, true
	default:
		return 0, false
	}
}

// Power level bounds for requests
const (
	MinPowerLevel = 1
	MaxPowerLevel = 10
)

// Synchronizer states
const (
	stateSync = iota
	stateDevice
	stateCommand
	stateLength
	stateBody
)
