// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vevor

import (
	"fmt"
	"time"
)

// RawFrame is one frame as received on the bus. It is immutable: the
// constructor copies its input and accessors never expose internal storage
// for writing.
type RawFrame struct {
	data      []byte
	direction Direction
	timestamp time.Time
}

// NewRawFrame builds a frame from received bytes. The first byte must be the
// sync marker.
func NewRawFrame(data []byte, timestamp time.Time) (*RawFrame, error) {
	if len(data) == 0 {
		return nil, newProtocolError(KindFraming, nil, "empty frame")
	}
	if data[0] != SyncByte {
		return nil, newProtocolError(KindFraming, map[string]interface{}{"first_byte": data[0]},
			"frame starts with 0x%02X, want 0x%02X", data[0], SyncByte)
	}

	f := &RawFrame{
		data:      append([]byte(nil), data...),
		timestamp: timestamp,
	}
	if len(data) > 1 {
		f.direction = DirectionForDevice(data[1])
	}
	return f, nil
}

// MustRawFrame is NewRawFrame for literals in tests and examples
func MustRawFrame(data []byte, timestamp time.Time) *RawFrame {
	f, err := NewRawFrame(data, timestamp)
	if err != nil {
		panic(fmt.Sprintf("MustRawFrame: %v", err))
	}
	return f
}

// Bytes returns a copy of the frame bytes
func (f *RawFrame) Bytes() []byte {
	return append([]byte(nil), f.data...)
}

// Len returns the frame length in bytes
func (f *RawFrame) Len() int {
	return len(f.data)
}

// At returns the byte at offset i and whether the frame is long enough to
// hold it
func (f *RawFrame) At(i int) (byte, bool) {
	if i < 0 || i >= len(f.data) {
		return 0, false
	}
	return f.data[i], true
}

// DeviceID returns byte 1, or 0 for a frame shorter than two bytes
func (f *RawFrame) DeviceID() byte {
	b, _ := f.At(1)
	return b
}

// Command returns byte 2
func (f *RawFrame) Command() byte {
	b, _ := f.At(2)
	return b
}

// LengthCode returns byte 3
func (f *RawFrame) LengthCode() byte {
	b, _ := f.At(3)
	return b
}

// ChecksumByte returns the terminal byte
func (f *RawFrame) ChecksumByte() byte {
	return f.data[len(f.data)-1]
}

// Direction returns the direction implied by the device id
func (f *RawFrame) Direction() Direction {
	return f.direction
}

// Timestamp returns the arrival time of the last byte
func (f *RawFrame) Timestamp() time.Time {
	return f.timestamp
}
