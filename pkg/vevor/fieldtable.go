// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vevor

import (
	"fmt"
	"sort"
)

// Confidence is how sure the reverse engineering is about a field, as a
// percentage
type Confidence int

const (
	ConfidenceUnknown     Confidence = 0
	ConfidenceSpeculative Confidence = 25
	ConfidenceHeuristic   Confidence = 50
	ConfidenceProbable    Confidence = 75
	ConfidenceConfirmed   Confidence = 100
)

// String returns the confidence label
func (c Confidence) String() string {
	switch {
	case c >= ConfidenceConfirmed:
		return "confirmed"
	case c >= ConfidenceProbable:
		return "probable"
	case c >= ConfidenceHeuristic:
		return "heuristic"
	case c >= ConfidenceSpeculative:
		return "speculative"
	default:
		return "unknown"
	}
}

// FieldSpec describes one decodable value. 2-byte fields are big-endian.
type FieldSpec struct {
	Name       string
	Offset     int
	Width      int
	Signed     bool
	Scale      float64
	Unit       string
	Confidence Confidence
	Variants   []Variant

	// States restricts the spec to the listed combustion states. Nil means
	// the spec applies in every state.
	States []CombustionState

	// StateSelector marks the field that carries the combustion state
	StateSelector bool

	Description string
}

// Conditioned reports whether the meaning of this spec depends on state
func (s FieldSpec) Conditioned() bool {
	return len(s.States) > 0
}

func (s FieldSpec) appliesTo(v Variant) bool {
	for _, sv := range s.Variants {
		if sv == v {
			return true
		}
	}
	return false
}

func (s FieldSpec) appliesIn(state CombustionState) bool {
	if !s.Conditioned() {
		return true
	}
	for _, st := range s.States {
		if st == state {
			return true
		}
	}
	return false
}

// stateUnresolved keys the lookup used when the combustion state of a frame
// could not be decoded
const stateUnresolved CombustionState = -1

type tableKey struct {
	variant Variant
	state   CombustionState
}

// Table is the field registry, keyed by (variant, combustion state). It is
// built once and never mutated.
type Table struct {
	specs    []FieldSpec
	resolved map[tableKey][]FieldSpec
	reserved map[tableKey][]int
	selector map[Variant]FieldSpec
	names    map[string]bool
}

var allStates = []CombustionState{StateOff, StateGlowPlugPreheat, StateIgnited, StateStableCombustion, StateCoolingDown}

// NewTable validates specs and builds the lookup tables
func NewTable(specs []FieldSpec) (*Table, error) {
	t := &Table{
		specs:    append([]FieldSpec(nil), specs...),
		resolved: make(map[tableKey][]FieldSpec),
		reserved: make(map[tableKey][]int),
		selector: make(map[Variant]FieldSpec),
		names:    make(map[string]bool),
	}

	for i, spec := range t.specs {
		if err := t.checkSpec(spec); err != nil {
			return nil, fmt.Errorf("field %d (%s): %w", i, spec.Name, err)
		}
		t.names[spec.Name] = true
	}

	for _, info := range variantTable {
		v := info.Variant
		seen := make(map[string]bool)
		for _, spec := range t.specs {
			if !spec.appliesTo(v) {
				continue
			}
			if seen[spec.Name] {
				return nil, fmt.Errorf("field %s defined twice for %s", spec.Name, v)
			}
			seen[spec.Name] = true
			if spec.StateSelector {
				if prev, ok := t.selector[v]; ok {
					return nil, fmt.Errorf("%s has two state selectors: %s and %s", v, prev.Name, spec.Name)
				}
				t.selector[v] = spec
			}
		}

		for _, state := range append(allStates, stateUnresolved) {
			key := tableKey{v, state}
			owner := make(map[int]string)
			for _, spec := range t.specs {
				if !spec.appliesTo(v) {
					continue
				}
				// Unresolved frames still cover conditioned bytes, so those
				// bytes are reported absent rather than reserved
				if state != stateUnresolved && !spec.appliesIn(state) {
					continue
				}
				for b := spec.Offset; b < spec.Offset+spec.Width; b++ {
					if other, ok := owner[b]; ok && state != stateUnresolved {
						return nil, fmt.Errorf("%s and %s overlap at offset %d for %s in state %s",
							other, spec.Name, b, v, state)
					}
					owner[b] = spec.Name
				}
				if state != stateUnresolved || !spec.Conditioned() {
					t.resolved[key] = append(t.resolved[key], spec)
				}
			}
			sort.SliceStable(t.resolved[key], func(i, j int) bool {
				return t.resolved[key][i].Offset < t.resolved[key][j].Offset
			})

			for off := BodyOffset; off < info.FrameSize-TrailerSize; off++ {
				if _, ok := owner[off]; !ok {
					t.reserved[key] = append(t.reserved[key], off)
				}
			}
		}
	}

	return t, nil
}

func (t *Table) checkSpec(spec FieldSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("missing name")
	}
	if spec.Width != 1 && spec.Width != 2 {
		return fmt.Errorf("width %d (must be 1 or 2)", spec.Width)
	}
	if spec.Scale == 0 {
		return fmt.Errorf("zero scale")
	}
	if len(spec.Variants) == 0 {
		return fmt.Errorf("no variants")
	}
	for _, v := range spec.Variants {
		info, ok := v.Info()
		if !ok {
			return fmt.Errorf("unknown variant %d", int(v))
		}
		if spec.Offset < BodyOffset || spec.Offset+spec.Width > info.FrameSize-TrailerSize {
			return fmt.Errorf("offset %d width %d outside the %s body", spec.Offset, spec.Width, v)
		}
	}
	for _, st := range spec.States {
		if !st.Valid() {
			return fmt.Errorf("unknown state %d", int(st))
		}
	}
	if spec.StateSelector && (spec.Conditioned() || spec.Width != 1) {
		return fmt.Errorf("state selector must be a single unconditioned byte")
	}
	return nil
}

// Specs returns every spec in definition order
func (t *Table) Specs() []FieldSpec {
	return append([]FieldSpec(nil), t.specs...)
}

// HasField reports whether any variant defines a field with this name
func (t *Table) HasField(name string) bool {
	return t.names[name]
}

// Selector returns the state selector spec of a variant
func (t *Table) Selector(v Variant) (FieldSpec, bool) {
	spec, ok := t.selector[v]
	return spec, ok
}

// Resolve returns the specs that apply to a variant in a given state, ordered
// by offset
func (t *Table) Resolve(v Variant, state CombustionState) []FieldSpec {
	return t.resolved[tableKey{v, state}]
}

// Unresolved returns the unconditioned specs of a variant, used when the
// frame's state is unknown
func (t *Table) Unresolved(v Variant) []FieldSpec {
	return t.resolved[tableKey{v, stateUnresolved}]
}

// Conditioned returns the state-conditioned specs of a variant
func (t *Table) Conditioned(v Variant) []FieldSpec {
	var out []FieldSpec
	for _, spec := range t.specs {
		if spec.appliesTo(v) && spec.Conditioned() {
			out = append(out, spec)
		}
	}
	return out
}

// Reserved returns the body offsets no spec covers for a variant in a given
// state
func (t *Table) Reserved(v Variant, state CombustionState) []int {
	return t.reserved[tableKey{v, state}]
}

func mustTable(specs []FieldSpec) *Table {
	t, err := NewTable(specs)
	if err != nil {
		panic(fmt.Sprintf("field table: %v", err))
	}
	return t
}

var (
	heaterLong       = []Variant{LongHeaterToController}
	controllerShort  = []Variant{ShortControllerToHeater}
	heaterShort      = []Variant{ShortHeaterToController}
	controllerLong   = []Variant{LongControllerToHeater}
	glowPlugStates   = []CombustionState{StateGlowPlugPreheat, StateIgnited}
	combustionStates = []CombustionState{StateStableCombustion, StateCoolingDown}
)

// DefaultFieldSpecs returns the field layout as currently understood
func DefaultFieldSpecs() []FieldSpec {
	return []FieldSpec{
		// Long heater -> controller status frame
		{Name: "heater_enabled", Offset: 4, Width: 1, Scale: 1, Confidence: ConfidenceHeuristic, Variants: heaterLong},
		{Name: "combustion_state", Offset: 5, Width: 1, Scale: 1, Confidence: ConfidenceConfirmed, Variants: heaterLong, StateSelector: true,
			Description: "0 off, 1 glow plug preheat, 2 ignited, 3 stable combustion, 4 cooling down"},
		{Name: "power_level", Offset: 6, Width: 1, Scale: 1, Unit: "level", Confidence: ConfidenceConfirmed, Variants: heaterLong},
		{Name: "input_voltage", Offset: 11, Width: 1, Scale: 0.1, Unit: "V", Confidence: ConfidenceConfirmed, Variants: heaterLong},
		{Name: "glow_plug_current", Offset: 13, Width: 1, Scale: 1, Unit: "A", Confidence: ConfidenceHeuristic, Variants: heaterLong},
		{Name: "cooling_down", Offset: 14, Width: 1, Scale: 1, Confidence: ConfidenceProbable, Variants: heaterLong},
		{Name: "fan_voltage", Offset: 15, Width: 1, Scale: 1, Unit: "V", Confidence: ConfidenceSpeculative, Variants: heaterLong},
		{Name: "heat_exchanger_temperature", Offset: 16, Width: 2, Signed: true, Scale: 0.1, Unit: "°C", Confidence: ConfidenceProbable, Variants: heaterLong},
		{Name: "state_duration", Offset: 20, Width: 2, Scale: 1, Unit: "s", Confidence: ConfidenceProbable, Variants: heaterLong},
		{Name: "pump_frequency", Offset: 23, Width: 1, Scale: 0.1, Unit: "Hz", Confidence: ConfidenceConfirmed, Variants: heaterLong},

		// Offsets 24-27 are multiplexed by combustion state. In Off they
		// carry nothing known.
		{Name: "glow_plug_voltage", Offset: 24, Width: 1, Scale: 1, Unit: "V", Confidence: ConfidenceHeuristic, Variants: heaterLong, States: glowPlugStates},
		{Name: "glow_plug_current_secondary", Offset: 25, Width: 1, Scale: 1, Unit: "A", Confidence: ConfidenceHeuristic, Variants: heaterLong, States: glowPlugStates},
		{Name: "glow_plug_temperature", Offset: 26, Width: 1, Scale: 1, Unit: "°C", Confidence: ConfidenceHeuristic, Variants: heaterLong, States: glowPlugStates},
		{Name: "glow_plug_misc", Offset: 27, Width: 1, Scale: 1, Confidence: ConfidenceSpeculative, Variants: heaterLong, States: glowPlugStates},
		{Name: "flame_sensor_voltage", Offset: 24, Width: 1, Scale: 1, Unit: "V", Confidence: ConfidenceSpeculative, Variants: heaterLong, States: combustionStates},
		{Name: "flame_sensor_current", Offset: 25, Width: 1, Scale: 1, Unit: "A", Confidence: ConfidenceSpeculative, Variants: heaterLong, States: combustionStates},
		{Name: "flame_temperature", Offset: 26, Width: 1, Scale: 1, Unit: "°C", Confidence: ConfidenceSpeculative, Variants: heaterLong, States: combustionStates},
		{Name: "flame_sensor_misc", Offset: 27, Width: 1, Scale: 1, Confidence: ConfidenceSpeculative, Variants: heaterLong, States: combustionStates},

		{Name: "fan_speed", Offset: 28, Width: 2, Scale: 1, Unit: "rpm", Confidence: ConfidenceConfirmed, Variants: heaterLong},
		{Name: "glow_plug_aux", Offset: 52, Width: 2, Scale: 1, Confidence: ConfidenceSpeculative, Variants: heaterLong},

		// Short controller -> heater request
		{Name: "heater_enabled", Offset: 4, Width: 1, Scale: 1, Confidence: ConfidenceHeuristic, Variants: controllerShort},
		{Name: "power_level", Offset: 6, Width: 1, Scale: 1, Unit: "level", Confidence: ConfidenceProbable, Variants: controllerShort},
		{Name: "requested_level", Offset: 8, Width: 1, Scale: 1, Unit: "level", Confidence: ConfidenceConfirmed, Variants: controllerShort},
		{Name: "requested_mode", Offset: 9, Width: 1, Scale: 1, Confidence: ConfidenceConfirmed, Variants: controllerShort,
			Description: "0x02 off, 0x05 set off, 0x06 set on, 0x08 running"},

		// Shapes inferred by symmetry, never captured
		{Name: "heater_enabled", Offset: 4, Width: 1, Scale: 1, Confidence: ConfidenceSpeculative, Variants: heaterShort},
		{Name: "combustion_state", Offset: 5, Width: 1, Scale: 1, Confidence: ConfidenceSpeculative, Variants: heaterShort, StateSelector: true},
		{Name: "power_level", Offset: 6, Width: 1, Scale: 1, Unit: "level", Confidence: ConfidenceSpeculative, Variants: heaterShort},
		{Name: "requested_level", Offset: 8, Width: 1, Scale: 1, Unit: "level", Confidence: ConfidenceSpeculative, Variants: controllerLong},
		{Name: "requested_mode", Offset: 9, Width: 1, Scale: 1, Confidence: ConfidenceSpeculative, Variants: controllerLong},
	}
}

var defaultTable = mustTable(DefaultFieldSpecs())

// DefaultTable returns the shared table built from DefaultFieldSpecs
func DefaultTable() *Table {
	return defaultTable
}
