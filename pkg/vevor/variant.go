// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vevor

// Variant is one of the four frame shapes on the bus, distinguished by
// device id and length code
type Variant int

const (
	VariantUnknown Variant = iota
	ShortControllerToHeater
	LongHeaterToController
	LongControllerToHeater
	ShortHeaterToController
)

// VariantInfo describes one entry of the variant table
type VariantInfo struct {
	Variant    Variant
	DeviceID   byte
	LengthCode byte
	FrameSize  int  // nominal size, length code + header + checksum
	MinSize    int  // shortest frame the validator accepts
	Observed   bool // false for shapes inferred by symmetry
}

var variantTable = []VariantInfo{
	{ShortControllerToHeater, DeviceController, LengthShort, nominalSize(LengthShort), 12, true},
	{LongHeaterToController, DeviceHeater, LengthLong, nominalSize(LengthLong), nominalSize(LengthLong), true},
	{LongControllerToHeater, DeviceController, LengthLong, nominalSize(LengthLong), nominalSize(LengthLong), false},
	{ShortHeaterToController, DeviceHeater, LengthShort, nominalSize(LengthShort), 12, false},
}

func nominalSize(lengthCode byte) int {
	return int(lengthCode) + HeaderSize + TrailerSize
}

// Variants returns the variant table
func Variants() []VariantInfo {
	return append([]VariantInfo(nil), variantTable...)
}

// LookupVariant resolves a (device id, length code) pair
func LookupVariant(deviceID, lengthCode byte) (VariantInfo, bool) {
	for _, v := range variantTable {
		if v.DeviceID == deviceID && v.LengthCode == lengthCode {
			return v, true
		}
	}
	return VariantInfo{}, false
}

// Info returns the table entry for v
func (v Variant) Info() (VariantInfo, bool) {
	for _, info := range variantTable {
		if info.Variant == v {
			return info, true
		}
	}
	return VariantInfo{}, false
}

// Direction returns the direction frames of this variant travel in
func (v Variant) Direction() Direction {
	info, ok := v.Info()
	if !ok {
		return DirectionUnknown
	}
	return DirectionForDevice(info.DeviceID)
}

// String returns the variant name
func (v Variant) String() string {
	switch v {
	case ShortControllerToHeater:
		return "ShortControllerToHeater"
	case LongHeaterToController:
		return "LongHeaterToController"
	case LongControllerToHeater:
		return "LongControllerToHeater"
	case ShortHeaterToController:
		return "ShortHeaterToController"
	default:
		return "Unknown"
	}
}

// isKnownDevice reports whether b is a device id on the bus
func isKnownDevice(b byte) bool {
	return b == DeviceController || b == DeviceHeater
}

// frameSizeFor returns the nominal size for a length code, or 0 if the code
// is not in the variant table for that device
func frameSizeFor(deviceID, lengthCode byte) int {
	info, ok := LookupVariant(deviceID, lengthCode)
	if !ok {
		return 0
	}
	return info.FrameSize
}
