// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vevor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Reading is one value as delivered to the host. Value is nil for absent
// fields; absent never means zero.
type Reading struct {
	Name       string   `cbor:"0,keyasint"`
	Value      *float64 `cbor:"1,keyasint"`
	Unit       string   `cbor:"2,keyasint,omitempty"`
	Confidence int      `cbor:"3,keyasint"`
	Offset     int      `cbor:"4,keyasint"`
	Raw        *int64   `cbor:"5,keyasint"`
}

// Readings is the host boundary record for one decoded frame
type Readings struct {
	TimestampMs int64     `cbor:"0,keyasint"`
	Variant     string    `cbor:"1,keyasint"`
	State       string    `cbor:"2,keyasint"`
	StateSource string    `cbor:"3,keyasint"`
	Ambiguous   bool      `cbor:"4,keyasint,omitempty"`
	Values      []Reading `cbor:"5,keyasint"`
}

var readingsEncMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vevor: cbor enc mode: %v", err))
	}
	return em
}

// NewReadings converts a decoded frame to its host record
func NewReadings(d *DecodedFrame) *Readings {
	state, source := d.State()
	r := &Readings{
		TimestampMs: d.Frame().Timestamp().UnixMilli(),
		Variant:     d.Variant().String(),
		State:       state.String(),
		StateSource: source.String(),
		Ambiguous:   d.Err() != nil,
		Values:      make([]Reading, 0, len(d.values)),
	}
	for _, v := range d.values {
		reading := Reading{
			Name:       v.Name,
			Unit:       v.Unit,
			Confidence: int(v.Confidence),
			Offset:     v.Offset,
		}
		if !v.Absent {
			value := v.Value
			raw := int64(v.Raw)
			reading.Value = &value
			reading.Raw = &raw
		}
		r.Values = append(r.Values, reading)
	}
	return r
}

// MarshalReadingsCBOR encodes a decoded frame for the host
func MarshalReadingsCBOR(d *DecodedFrame) ([]byte, error) {
	data, err := readingsEncMode.Marshal(NewReadings(d))
	if err != nil {
		return nil, fmt.Errorf("failed to encode readings: %w", err)
	}
	return data, nil
}

// ParseReadingsCBOR decodes a host record
func ParseReadingsCBOR(data []byte) (*Readings, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty CBOR payload")
	}
	var r Readings
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	return &r, nil
}

// Get returns a reading by name
func (r *Readings) Get(name string) (Reading, bool) {
	for _, v := range r.Values {
		if v.Name == name {
			return v, true
		}
	}
	return Reading{}, false
}
