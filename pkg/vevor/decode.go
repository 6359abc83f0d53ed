// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vevor

import (
	"fmt"
	"sort"
)

// Value is one decoded field. Absent values have no Raw or Value.
type Value struct {
	Name       string
	Offset     int
	Width      int
	Raw        int
	Value      float64
	Scale      float64
	Unit       string
	Confidence Confidence
	Absent     bool
	Reserved   bool
}

// StateSource tells where the state used for a frame came from
type StateSource int

const (
	StateCarried StateSource = iota // from the previous frame, or Off on cold start
	StateDecoded                    // from this frame's own selector byte
)

// String returns the source name
func (s StateSource) String() string {
	if s == StateDecoded {
		return "decoded"
	}
	return "carried"
}

// DecodedFrame is the result of decoding one validated frame. It is not
// modified after Decode returns.
type DecodedFrame struct {
	frame       *RawFrame
	variant     Variant
	state       CombustionState
	stateSource StateSource
	values      []Value
	index       map[string]int
	err         error
}

// Frame returns the frame the values came from
func (d *DecodedFrame) Frame() *RawFrame {
	return d.frame
}

// Variant returns the frame variant
func (d *DecodedFrame) Variant() Variant {
	return d.variant
}

// State returns the combustion state used to resolve conditioned fields, and
// whether it was decoded from this frame or carried over
func (d *DecodedFrame) State() (CombustionState, StateSource) {
	return d.state, d.stateSource
}

// Values returns all emitted values ordered by offset
func (d *DecodedFrame) Values() []Value {
	return append([]Value(nil), d.values...)
}

// Get returns a value by name
func (d *DecodedFrame) Get(name string) (Value, bool) {
	i, ok := d.index[name]
	if !ok {
		return Value{}, false
	}
	return d.values[i], true
}

// Err returns the decode ambiguity error, if the state could not be resolved
func (d *DecodedFrame) Err() error {
	return d.err
}

// Subscription selects which fields the host wants. An empty Fields list
// selects every named field. Unsubscribed fields are never computed.
type Subscription struct {
	Fields       []string
	OmitReserved bool
}

// FieldDecoder turns validated frames into values using a field table
type FieldDecoder struct {
	table    *Table
	fields   map[string]bool
	reserved bool
}

// NewFieldDecoder creates a decoder. A nil table selects DefaultTable.
func NewFieldDecoder(table *Table, sub Subscription) *FieldDecoder {
	if table == nil {
		table = DefaultTable()
	}
	d := &FieldDecoder{table: table, reserved: !sub.OmitReserved}
	if len(sub.Fields) > 0 {
		d.fields = make(map[string]bool, len(sub.Fields))
		for _, name := range sub.Fields {
			d.fields[name] = true
		}
	}
	return d
}

// Table returns the field table in use
func (d *FieldDecoder) Table() *Table {
	return d.table
}

func (d *FieldDecoder) wants(name string) bool {
	return d.fields == nil || d.fields[name]
}

// Decode reads every subscribed field of a validated frame. carried is the
// state from the previous decoded frame; a state byte in this frame takes
// precedence. If the frame's own state byte is missing or out of range the
// returned frame has Err set, its conditioned fields are absent, and State
// reports the carried state unchanged.
func (d *FieldDecoder) Decode(f *RawFrame, v Variant, carried CombustionState) *DecodedFrame {
	out := &DecodedFrame{
		frame:       f,
		variant:     v,
		state:       carried,
		stateSource: StateCarried,
		index:       make(map[string]int),
	}

	resolved := true
	if sel, ok := d.table.Selector(v); ok {
		raw, present := readField(f, sel)
		switch {
		case !present:
			resolved = false
			out.err = newProtocolError(KindDecodeAmbiguity,
				map[string]interface{}{"field": sel.Name, "offset": sel.Offset, "length": f.Len()},
				"%s at offset %d missing from %d-byte frame", sel.Name, sel.Offset, f.Len())
		case !CombustionState(raw).Valid():
			resolved = false
			out.err = newProtocolError(KindDecodeAmbiguity,
				map[string]interface{}{"field": sel.Name, "offset": sel.Offset, "raw": raw},
				"%s value %d is not a known state", sel.Name, raw)
		default:
			out.state = CombustionState(raw)
			out.stateSource = StateDecoded
		}
	}

	var specs []FieldSpec
	var reservedKey CombustionState
	if resolved {
		specs = d.table.Resolve(v, out.state)
		reservedKey = out.state
	} else {
		specs = d.table.Unresolved(v)
		reservedKey = stateUnresolved
	}

	for _, spec := range specs {
		if d.wants(spec.Name) {
			out.add(valueOf(f, spec))
		}
	}
	// Conditioned fields the frame's state does not carry are still reported,
	// marked absent, so subscribers see every field they asked for
	present := make(map[string]bool, len(specs))
	for _, spec := range specs {
		present[spec.Name] = true
	}
	for _, spec := range d.table.Conditioned(v) {
		if !present[spec.Name] && d.wants(spec.Name) {
			present[spec.Name] = true
			out.add(absentValue(spec))
		}
	}
	if d.reserved {
		for _, off := range d.table.Reserved(v, reservedKey) {
			val := valueOf(f, reservedSpec(off))
			val.Reserved = true
			out.add(val)
		}
	}

	sort.SliceStable(out.values, func(i, j int) bool {
		if out.values[i].Offset != out.values[j].Offset {
			return out.values[i].Offset < out.values[j].Offset
		}
		return out.values[i].Name < out.values[j].Name
	})
	for i, val := range out.values {
		out.index[val.Name] = i
	}

	return out
}

func (d *DecodedFrame) add(v Value) {
	d.values = append(d.values, v)
}

// ReservedName is the generic name of an undocumented body byte
func ReservedName(offset int) string {
	return fmt.Sprintf("reserved_%02d", offset)
}

func reservedSpec(offset int) FieldSpec {
	return FieldSpec{Name: ReservedName(offset), Offset: offset, Width: 1, Scale: 1, Confidence: ConfidenceUnknown}
}

// readField returns the raw integer of a spec, and false when the frame ends
// before the field does. The terminal checksum byte is never part of a field.
func readField(f *RawFrame, spec FieldSpec) (int, bool) {
	end := spec.Offset + spec.Width
	if spec.Offset < BodyOffset || end > f.Len()-TrailerSize {
		return 0, false
	}

	var raw int
	switch spec.Width {
	case 1:
		b := f.data[spec.Offset]
		if spec.Signed {
			raw = int(int8(b))
		} else {
			raw = int(b)
		}
	case 2:
		u := uint16(f.data[spec.Offset])<<8 | uint16(f.data[spec.Offset+1])
		if spec.Signed {
			raw = int(int16(u))
		} else {
			raw = int(u)
		}
	default:
		return 0, false
	}
	return raw, true
}

func valueOf(f *RawFrame, spec FieldSpec) Value {
	raw, ok := readField(f, spec)
	if !ok {
		return absentValue(spec)
	}
	v := absentValue(spec)
	v.Absent = false
	v.Raw = raw
	v.Value = float64(raw) * spec.Scale
	return v
}

func absentValue(spec FieldSpec) Value {
	return Value{
		Name:       spec.Name,
		Offset:     spec.Offset,
		Width:      spec.Width,
		Scale:      spec.Scale,
		Unit:       spec.Unit,
		Confidence: spec.Confidence,
		Absent:     true,
	}
}
