// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vevor

import (
	"fmt"
	"math"
)

// Encoder builds wire frames. It is used for outgoing requests and for
// writing decoded values back into a frame.
type Encoder struct {
	table    *Table
	checksum Checksum
}

// NewEncoder creates an encoder. Nil arguments select DefaultTable and the
// modular sum.
func NewEncoder(table *Table, c Checksum) *Encoder {
	if table == nil {
		table = DefaultTable()
	}
	if c == nil {
		c = ModularSum{}
	}
	return &Encoder{table: table, checksum: c}
}

// EncodeFrame creates a complete frame: sync byte, header, body and
// checksum. The body may be shorter than the length code implies, as in
// truncated controller frames, but never longer.
func EncodeFrame(deviceID, command, lengthCode byte, body []byte, c Checksum) ([]byte, error) {
	if len(body) > int(lengthCode) {
		return nil, fmt.Errorf("body too large: %d bytes (length code allows %d)", len(body), lengthCode)
	}
	if c == nil {
		c = ModularSum{}
	}

	frame := make([]byte, 0, HeaderSize+len(body)+TrailerSize)
	frame = append(frame, SyncByte, deviceID, command, lengthCode)
	frame = append(frame, body...)
	return AppendChecksum(frame, c), nil
}

// EncodeDecoded writes every present value of d back at its offset and
// recomputes the checksum. Decoding the result with the same table and
// subscription yields the same values.
func (e *Encoder) EncodeDecoded(d *DecodedFrame) ([]byte, error) {
	info, ok := d.Variant().Info()
	if !ok {
		return nil, fmt.Errorf("cannot encode variant %s", d.Variant())
	}

	size := d.Frame().Len()
	if size < info.MinSize || size > info.FrameSize {
		return nil, fmt.Errorf("frame size %d outside %s bounds", size, info.Variant)
	}

	frame := make([]byte, size)
	frame[0] = SyncByte
	frame[1] = info.DeviceID
	frame[2] = d.Frame().Command()
	frame[3] = info.LengthCode

	// The state byte decides which conditioned fields apply, so it is
	// written even when the host did not subscribe to it
	if state, source := d.State(); source == StateDecoded {
		if sel, ok := e.table.Selector(d.Variant()); ok {
			if err := putField(frame, sel, int(state)); err != nil {
				return nil, err
			}
		}
	}

	for _, v := range d.values {
		if v.Absent {
			continue
		}
		raw := RawFromValue(v.Value, v.Scale)
		spec := FieldSpec{Name: v.Name, Offset: v.Offset, Width: v.Width, Signed: raw < 0}
		if err := putField(frame, spec, raw); err != nil {
			return nil, err
		}
	}

	frame[size-1] = e.checksum.Compute(frame)
	return frame, nil
}

// RawFromValue converts a scaled value back to its wire integer
func RawFromValue(value, scale float64) int {
	if scale == 0 {
		scale = 1
	}
	return int(math.Round(value / scale))
}

func putField(frame []byte, spec FieldSpec, raw int) error {
	end := spec.Offset + spec.Width
	if spec.Offset < BodyOffset || end > len(frame)-TrailerSize {
		return fmt.Errorf("field %s at offset %d does not fit a %d-byte frame", spec.Name, spec.Offset, len(frame))
	}

	lo, hi := 0, 1<<(8*spec.Width)-1
	if spec.Signed {
		lo, hi = -(1 << (8*spec.Width - 1)), 1<<(8*spec.Width-1)-1
	}
	if raw < lo || raw > hi {
		return fmt.Errorf("field %s value %d out of range [%d, %d]", spec.Name, raw, lo, hi)
	}

	switch spec.Width {
	case 1:
		frame[spec.Offset] = byte(raw)
	case 2:
		frame[spec.Offset] = byte(raw >> 8)
		frame[spec.Offset+1] = byte(raw)
	}
	return nil
}
