// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vevor

// Validator checks frame structure and integrity and classifies the variant.
// Failures are returned as *ProtocolError with kind Framing or Checksum so
// callers can tell structural problems from integrity problems.
type Validator struct {
	checksum Checksum
}

// NewValidator creates a validator using checksum c. A nil strategy selects
// the provisional modular sum.
func NewValidator(c Checksum) *Validator {
	if c == nil {
		c = ModularSum{}
	}
	return &Validator{checksum: c}
}

// Checksum returns the strategy in use
func (v *Validator) Checksum() Checksum {
	return v.checksum
}

// Classify runs the structural checks only: header present, known
// (device id, length code) pair, and frame size within the variant's bounds
func (v *Validator) Classify(f *RawFrame) (VariantInfo, error) {
	if f == nil || f.Len() < HeaderSize+TrailerSize {
		n := 0
		if f != nil {
			n = f.Len()
		}
		return VariantInfo{}, newProtocolError(KindFraming,
			map[string]interface{}{"length": n, "minimum": HeaderSize + TrailerSize},
			"frame too short for a header (%d bytes)", n)
	}

	info, ok := LookupVariant(f.DeviceID(), f.LengthCode())
	if !ok {
		return VariantInfo{}, newProtocolError(KindFraming,
			map[string]interface{}{"device_id": f.DeviceID(), "length_code": f.LengthCode()},
			"unknown variant: device 0x%02X length code 0x%02X", f.DeviceID(), f.LengthCode())
	}

	if f.Len() < info.MinSize {
		return VariantInfo{}, newProtocolError(KindFraming,
			map[string]interface{}{"variant": info.Variant.String(), "length": f.Len(), "minimum": info.MinSize},
			"%s frame too short: %d bytes (minimum %d)", info.Variant, f.Len(), info.MinSize)
	}
	if f.Len() > info.FrameSize {
		return VariantInfo{}, newProtocolError(KindFraming,
			map[string]interface{}{"variant": info.Variant.String(), "length": f.Len(), "maximum": info.FrameSize},
			"%s frame too long: %d bytes (maximum %d)", info.Variant, f.Len(), info.FrameSize)
	}

	return info, nil
}

// Validate classifies the frame and verifies its checksum
func (v *Validator) Validate(f *RawFrame) (Variant, error) {
	info, err := v.Classify(f)
	if err != nil {
		return VariantUnknown, err
	}

	expected := v.checksum.Compute(f.data)
	got := f.ChecksumByte()
	if expected != got {
		return VariantUnknown, newProtocolError(KindChecksum,
			map[string]interface{}{
				"variant":     info.Variant.String(),
				"strategy":    v.checksum.Name(),
				"provisional": v.checksum.Provisional(),
				"expected":    expected,
				"got":         got,
			},
			"checksum mismatch (%s): expected 0x%02X, got 0x%02X", v.checksum.Name(), expected, got)
	}

	return info.Variant, nil
}
