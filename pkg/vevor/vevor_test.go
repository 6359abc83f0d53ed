// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vevor

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Test Helpers
// ============================================================

// exampleRequest is the documented short controller frame. Its terminal
// byte does not match any known checksum candidate.
var exampleRequest = []byte{0xAA, 0x66, 0x02, 0x0B, 0x01, 0x01, 0x0A, 0x00, 0x03, 0xFB, 0x00, 0x9E}

var testTime = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

// buildHeaterFrame creates a valid long heater frame (modular sum) in the
// given combustion state. mutate may edit the body, indexed by frame offset.
func buildHeaterFrame(state byte, mutate func(frame []byte)) []byte {
	frame := make([]byte, nominalSize(LengthLong))
	frame[0] = SyncByte
	frame[1] = DeviceHeater
	frame[2] = CommandSteady
	frame[3] = LengthLong
	frame[4] = 0x01  // heater_enabled
	frame[5] = state // combustion_state
	frame[6] = 0x05  // power_level
	frame[11] = 124  // input_voltage 12.4 V
	frame[16] = 0x00 // heat_exchanger_temperature 21.5 °C
	frame[17] = 0xD7
	frame[20] = 0x01 // state_duration 300 s
	frame[21] = 0x2C
	frame[23] = 35   // pump_frequency 3.5 Hz
	frame[24] = 0x11 // glow plug / flame group
	frame[25] = 0x22
	frame[26] = 0x33
	frame[27] = 0x44
	frame[28] = 0x0B // fan_speed 3000 rpm
	frame[29] = 0xB8
	if mutate != nil {
		mutate(frame)
	}
	frame[len(frame)-1] = ModularSum{}.Compute(frame)
	return frame
}

func mustFrame(t *testing.T, data []byte) *RawFrame {
	t.Helper()
	f, err := NewRawFrame(data, testTime)
	if err != nil {
		t.Fatalf("NewRawFrame: %v", err)
	}
	return f
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func protocolKind(t *testing.T, err error) ErrorKind {
	t.Helper()
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *ProtocolError, got %T (%v)", err, err)
	}
	return pe.Kind
}

// ============================================================
// Checksum Tests
// ============================================================

func TestChecksum_KnownValues(t *testing.T) {
	crcFrame := append(append([]byte{0xAA, 0x77}, []byte("123456789")...), 0x00)

	tests := []struct {
		name     string
		checksum Checksum
		frame    []byte
		expected byte
	}{
		{"modular sum of example", ModularSum{}, exampleRequest, 0x17},
		{"xor of example", XOR{}, exampleRequest, 0xFB},
		{"crc8 maxim check value", NewCRC8Maxim(), crcFrame, 0xA1},
		{"unverified echoes terminal byte", Unverified{}, exampleRequest, 0x9E},
		{"modular sum wraps", ModularSum{}, []byte{0xAA, 0x66, 0xFF, 0x02, 0x00}, 0x01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.checksum.Compute(tt.frame)
			if got != tt.expected {
				t.Errorf("Checksum mismatch: expected 0x%02X, got 0x%02X", tt.expected, got)
			}
		})
	}
}

func TestChecksum_ShortInput(t *testing.T) {
	for _, name := range ChecksumNames() {
		c, err := ChecksumByName(name)
		if err != nil {
			t.Fatalf("ChecksumByName(%q): %v", name, err)
		}
		// Must not panic
		c.Compute(nil)
		c.Compute([]byte{0xAA})
	}
}

func TestChecksumByName(t *testing.T) {
	for _, name := range []string{ChecksumModularSum, ChecksumXOR, ChecksumCRC8Maxim, ChecksumUnverified} {
		c, err := ChecksumByName(name)
		if err != nil {
			t.Errorf("ChecksumByName(%q): %v", name, err)
			continue
		}
		if c.Name() != name {
			t.Errorf("Expected name %q, got %q", name, c.Name())
		}
		if !c.Provisional() {
			t.Errorf("%s must be flagged provisional", name)
		}
	}

	if _, err := ChecksumByName("crc32"); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}

// ============================================================
// Variant Tests
// ============================================================

func TestLookupVariant(t *testing.T) {
	tests := []struct {
		device, length byte
		expected       Variant
		size           int
	}{
		{DeviceController, LengthShort, ShortControllerToHeater, 16},
		{DeviceHeater, LengthLong, LongHeaterToController, 56},
		{DeviceController, LengthLong, LongControllerToHeater, 56},
		{DeviceHeater, LengthShort, ShortHeaterToController, 16},
	}

	for _, tt := range tests {
		t.Run(tt.expected.String(), func(t *testing.T) {
			info, ok := LookupVariant(tt.device, tt.length)
			if !ok {
				t.Fatal("Variant not found")
			}
			if info.Variant != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, info.Variant)
			}
			if info.FrameSize != tt.size {
				t.Errorf("Expected size %d, got %d", tt.size, info.FrameSize)
			}
			if info.Variant.Direction() != DirectionForDevice(tt.device) {
				t.Errorf("Direction mismatch for %s", info.Variant)
			}
		})
	}

	if _, ok := LookupVariant(DeviceHeater, 0x20); ok {
		t.Error("Expected unknown length code to miss")
	}
}

// ============================================================
// RawFrame Tests
// ============================================================

func TestNewRawFrame(t *testing.T) {
	if _, err := NewRawFrame(nil, testTime); !errors.Is(err, ErrFraming) {
		t.Errorf("Expected framing error for empty frame, got %v", err)
	}
	if _, err := NewRawFrame([]byte{0x55, 0x66}, testTime); !errors.Is(err, ErrFraming) {
		t.Errorf("Expected framing error for bad sync byte, got %v", err)
	}

	data := append([]byte(nil), exampleRequest...)
	f := mustFrame(t, data)
	data[6] = 0x00
	if b, _ := f.At(6); b != 0x0A {
		t.Error("RawFrame must copy its input")
	}
	f.Bytes()[6] = 0x00
	if b, _ := f.At(6); b != 0x0A {
		t.Error("Bytes must return a copy")
	}

	if f.Direction() != DirectionControllerToHeater {
		t.Errorf("Expected controller->heater, got %s", f.Direction())
	}
	if f.Command() != CommandSteady || f.LengthCode() != LengthShort || f.ChecksumByte() != 0x9E {
		t.Errorf("Header accessors wrong: cmd=0x%02X len=0x%02X ck=0x%02X", f.Command(), f.LengthCode(), f.ChecksumByte())
	}
	if !f.Timestamp().Equal(testTime) {
		t.Errorf("Expected timestamp %v, got %v", testTime, f.Timestamp())
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidator_DocumentedExample(t *testing.T) {
	f := mustFrame(t, exampleRequest)

	info, err := NewValidator(nil).Classify(f)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if info.Variant != ShortControllerToHeater {
		t.Errorf("Expected ShortControllerToHeater, got %s", info.Variant)
	}

	v, err := NewValidator(Unverified{}).Validate(f)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v != ShortControllerToHeater {
		t.Errorf("Expected ShortControllerToHeater, got %s", v)
	}
}

func TestValidator_DocumentedExampleModularSum(t *testing.T) {
	_, err := NewValidator(nil).Validate(mustFrame(t, exampleRequest))
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("Expected checksum error, got %v", err)
	}

	var pe *ProtocolError
	errors.As(err, &pe)
	if pe.Details["expected"] != byte(0x17) || pe.Details["got"] != byte(0x9E) {
		t.Errorf("Unexpected details: %v", pe.Details)
	}
	if pe.Details["provisional"] != true {
		t.Error("Checksum error should report the strategy as provisional")
	}
}

func TestValidator_HeaterFrame(t *testing.T) {
	v, err := NewValidator(nil).Validate(mustFrame(t, buildHeaterFrame(byte(StateStableCombustion), nil)))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v != LongHeaterToController {
		t.Errorf("Expected LongHeaterToController, got %s", v)
	}
}

func TestValidator_FlippedBit(t *testing.T) {
	valid := buildHeaterFrame(byte(StateIgnited), nil)
	validator := NewValidator(nil)

	for offset := BodyOffset; offset < len(valid)-1; offset++ {
		for bit := 0; bit < 8; bit++ {
			corrupt := append([]byte(nil), valid...)
			corrupt[offset] ^= 1 << bit

			_, err := validator.Validate(mustFrame(t, corrupt))
			if !errors.Is(err, ErrChecksum) {
				t.Fatalf("offset %d bit %d: expected checksum error, got %v", offset, bit, err)
			}
			if errors.Is(err, ErrFraming) {
				t.Fatalf("offset %d bit %d: checksum error must not match framing", offset, bit)
			}
		}
	}
}

func TestValidator_StructuralErrors(t *testing.T) {
	long := buildHeaterFrame(0, nil)

	tests := []struct {
		name string
		data []byte
	}{
		{"header only", []byte{0xAA, 0x77, 0x02, 0x33}},
		{"unknown length code", []byte{0xAA, 0x77, 0x02, 0x20, 0x00, 0x22}},
		{"unknown device", []byte{0xAA, 0x55, 0x02, 0x0B, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x0D}},
		{"long frame truncated", long[:len(long)-1]},
		{"short frame too short", exampleRequest[:11]},
		{"short frame too long", append(append([]byte(nil), DefaultRequest().Encode(nil)...), 0x00)},
	}

	validator := NewValidator(Unverified{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.Validate(mustFrame(t, tt.data))
			if err == nil {
				t.Fatal("Expected error")
			}
			if kind := protocolKind(t, err); kind != KindFraming {
				t.Errorf("Expected framing error, got %s", kind)
			}
		})
	}
}

// ============================================================
// Synchronizer Tests
// ============================================================

func TestSynchronizer_GarbageBetweenFrames(t *testing.T) {
	first := buildHeaterFrame(byte(StateIgnited), nil)
	second := buildHeaterFrame(byte(StateStableCombustion), func(f []byte) { f[6] = 0x08 })

	stream := append([]byte(nil), first...)
	stream = append(stream, 0x00, 0x13, 0x55, 0x66, 0x77, 0xFF, 0x02)
	stream = append(stream, second...)

	s := NewSynchronizer(50*time.Millisecond, NewValidator(nil))
	frames, errs := s.Feed(stream, testTime)
	if len(errs) != 0 {
		t.Errorf("Unexpected errors: %v", errs)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if string(frames[0].Bytes()) != string(first) || string(frames[1].Bytes()) != string(second) {
		t.Error("Frames do not match the input")
	}
	if s.Pending() != 0 {
		t.Errorf("Expected empty buffer, got %d pending", s.Pending())
	}
}

func TestSynchronizer_BadDeviceID(t *testing.T) {
	frame := buildHeaterFrame(0, nil)
	stream := append([]byte{0xAA, 0x12}, frame...)

	frames, errs := NewSynchronizer(0, NewValidator(nil)).Feed(stream, testTime)
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrFraming) {
		t.Fatalf("Expected one framing error, got %v", errs)
	}
}

func TestSynchronizer_RescansRejectedHeader(t *testing.T) {
	// AA 66 AA 77: the controller header is rejected at its length byte,
	// and the AA inside it starts the real heater frame
	frame := buildHeaterFrame(byte(StateCoolingDown), nil)
	stream := append([]byte{0xAA, 0x66}, frame...)

	frames, errs := NewSynchronizer(0, NewValidator(nil)).Feed(stream, testTime)
	if len(errs) != 1 || !errors.Is(errs[0], ErrFraming) {
		t.Fatalf("Expected one framing error, got %v", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	if string(frames[0].Bytes()) != string(frame) {
		t.Error("Recovered frame does not match")
	}
}

func TestSynchronizer_RepeatedSyncByte(t *testing.T) {
	frame := DefaultRequest().Encode(nil)
	stream := append([]byte{0xAA, 0xAA}, frame...)

	frames, errs := NewSynchronizer(0, NewValidator(nil)).Feed(stream, testTime)
	if len(errs) != 0 {
		t.Errorf("Unexpected errors: %v", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
}

func TestSynchronizer_IdleTimeout(t *testing.T) {
	frame := buildHeaterFrame(byte(StateIgnited), nil)
	s := NewSynchronizer(50*time.Millisecond, NewValidator(nil))

	frames, _ := s.Feed(frame[:20], testTime)
	if len(frames) != 0 {
		t.Fatal("Partial frame must not be emitted")
	}
	if s.Pending() != 20 {
		t.Fatalf("Expected 20 pending bytes, got %d", s.Pending())
	}

	if err := s.Expire(testTime.Add(10 * time.Millisecond)); err != nil {
		t.Fatalf("Expire before idle timeout: %v", err)
	}

	err := s.Expire(testTime.Add(60 * time.Millisecond))
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("Expected framing error, got %v", err)
	}
	if s.Pending() != 0 {
		t.Errorf("Expected buffer flushed, got %d pending", s.Pending())
	}

	// Rest of the stale frame is scanned as garbage, then a fresh frame decodes
	later := testTime.Add(time.Second)
	s.Feed(frame[20:], later)
	s.Reset()
	frames, errs := s.Feed(frame, later)
	if len(errs) != 0 || len(frames) != 1 {
		t.Fatalf("Expected clean frame after reset, got %d frames %v", len(frames), errs)
	}
}

func TestSynchronizer_IdleTimeoutOnByte(t *testing.T) {
	frame := buildHeaterFrame(byte(StateIgnited), nil)
	s := NewSynchronizer(50*time.Millisecond, NewValidator(nil))
	s.Feed(frame[:10], testTime)

	// A new frame arriving after the idle window drops the stale one
	later := testTime.Add(100 * time.Millisecond)
	frames, errs := s.Feed(frame, later)
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrFraming) {
		t.Fatalf("Expected one framing error for the stale frame, got %v", errs)
	}
	if !frames[0].Timestamp().Equal(later) {
		t.Errorf("Expected timestamp %v, got %v", later, frames[0].Timestamp())
	}
}

func TestSynchronizer_ByteAtATime(t *testing.T) {
	frame := buildHeaterFrame(byte(StateGlowPlugPreheat), nil)
	s := NewSynchronizer(0, NewValidator(nil))

	var got *RawFrame
	for i, b := range frame {
		frames, errs := s.DecodeByte(b, testTime)
		if len(errs) != 0 {
			t.Fatalf("byte %d: %v", i, errs)
		}
		if len(frames) > 0 {
			if i != len(frame)-1 || len(frames) != 1 {
				t.Fatalf("Unexpected %d frames at byte %d", len(frames), i)
			}
			got = frames[0]
		}
	}
	if got == nil || got.Len() != len(frame) {
		t.Fatal("Expected a complete frame")
	}
}

// validFrames runs the stream through a synchronizer and keeps the frames
// the validator accepts
func validFrames(t *testing.T, c Checksum, stream []byte) []*RawFrame {
	t.Helper()
	validator := NewValidator(c)
	frames, _ := NewSynchronizer(0, validator).Feed(stream, testTime)

	var valid []*RawFrame
	for _, f := range frames {
		if _, err := validator.Validate(f); err == nil {
			valid = append(valid, f)
		}
	}
	return valid
}

func TestSynchronizer_Resynchronizes(t *testing.T) {
	first := buildHeaterFrame(byte(StateIgnited), nil)
	second := buildHeaterFrame(byte(StateStableCombustion), nil)
	third := buildHeaterFrame(byte(StateCoolingDown), nil)
	falseHeader := []byte{SyncByte, DeviceHeater, 0x02, LengthLong}

	join := func(parts ...[]byte) []byte {
		var out []byte
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}

	tests := []struct {
		name     string
		checksum Checksum
		stream   []byte
		want     [][]byte
	}{
		{
			name:     "false long header in garbage",
			checksum: ModularSum{},
			stream:   join(first, falseHeader, second, third),
			want:     [][]byte{first, second, third},
		},
		{
			name:     "false header after garbage bytes",
			checksum: ModularSum{},
			stream:   join(first, []byte{0x13, 0x37}, falseHeader, []byte{0x00}, second),
			want:     [][]byte{first, second},
		},
		{
			name:     "short request then response",
			checksum: Unverified{},
			stream:   join(exampleRequest, first),
			want:     [][]byte{exampleRequest, first},
		},
		{
			name:     "short request with bad checksum then response",
			checksum: ModularSum{},
			stream:   join(exampleRequest, first, second),
			want:     [][]byte{first, second},
		},
		{
			name:     "full request then response",
			checksum: ModularSum{},
			stream:   join(DefaultRequest().Encode(nil), first),
			want:     [][]byte{DefaultRequest().Encode(nil), first},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := validFrames(t, tt.checksum, tt.stream)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d valid frames, got %d", len(tt.want), len(got))
			}
			for i, want := range tt.want {
				if !bytes.Equal(got[i].Bytes(), want) {
					t.Errorf("Frame %d:\n  got  % X\n  want % X", i, got[i].Bytes(), want)
				}
			}
		})
	}
}

func TestSynchronizer_RejectedCandidateIsReported(t *testing.T) {
	frame := buildHeaterFrame(byte(StateIgnited), nil)
	stream := append([]byte{SyncByte, DeviceHeater, 0x02, LengthLong}, frame...)

	validator := NewValidator(nil)
	frames, errs := NewSynchronizer(0, validator).Feed(stream, testTime)
	if len(errs) != 0 {
		t.Errorf("Unexpected framing errors: %v", errs)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected the rejected candidate and the real frame, got %d frames", len(frames))
	}
	if _, err := validator.Validate(frames[0]); !errors.Is(err, ErrChecksum) {
		t.Errorf("Expected checksum error for the candidate, got %v", err)
	}
	if !bytes.Equal(frames[1].Bytes(), frame) {
		t.Error("Real frame not recovered")
	}
}

func TestSynchronizer_ShortFrameEndsAtNextHeader(t *testing.T) {
	frame := buildHeaterFrame(byte(StateIgnited), nil)
	s := NewSynchronizer(0, NewValidator(Unverified{}))

	frames, errs := s.Feed(append(append([]byte(nil), exampleRequest...), frame...), testTime)
	if len(errs) != 0 {
		t.Fatalf("Unexpected errors: %v", errs)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if frames[0].Len() != len(exampleRequest) {
		t.Errorf("Expected %d-byte request, got %d bytes", len(exampleRequest), frames[0].Len())
	}
	if !bytes.Equal(frames[1].Bytes(), frame) {
		t.Error("Response not recovered intact")
	}
	if s.Pending() != 0 {
		t.Errorf("Expected empty buffer, got %d pending", s.Pending())
	}
}

// ============================================================
// Request Tests
// ============================================================

func TestRequest_Encode(t *testing.T) {
	frame := DefaultRequest().Encode(nil)
	expected := []byte{0xAA, 0x66, 0x02, 0x0B, 0x00, 0x00, 0x00, 0x00, 0x0A, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x19}
	if string(frame) != string(expected) {
		t.Fatalf("Expected %s, got %s", FormatHex(expected), FormatHex(frame))
	}

	v, err := NewValidator(nil).Validate(mustFrame(t, frame))
	if err != nil || v != ShortControllerToHeater {
		t.Fatalf("Request does not validate: %s %v", v, err)
	}

	d := NewFieldDecoder(nil, Subscription{}).Decode(mustFrame(t, frame), v, StateOff)
	if level, _ := d.Get("requested_level"); level.Value != 10 {
		t.Errorf("Expected requested_level 10, got %v", level.Value)
	}
	if mode, _ := d.Get("requested_mode"); Mode(mode.Raw) != ModeOff {
		t.Errorf("Expected mode OFF, got %v", mode.Raw)
	}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		request Request
		wantErr bool
	}{
		{"default", DefaultRequest(), false},
		{"level 1 running", Request{Level: 1, Mode: ModeRunning, Command: CommandSteady}, false},
		{"level 0", Request{Level: 0, Mode: ModeOff}, true},
		{"level 11", Request{Level: 11, Mode: ModeOff}, true},
		{"unknown mode", Request{Level: 5, Mode: 0x07}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncodeFrame_BodyTooLarge(t *testing.T) {
	if _, err := EncodeFrame(DeviceController, CommandSteady, LengthShort, make([]byte, 12), nil); err == nil {
		t.Error("Expected error for oversized body")
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()
	s.Update(LongHeaterToController, nil, nil)
	s.Update(VariantUnknown, nil, &ProtocolError{Kind: KindChecksum})
	s.Update(VariantUnknown, nil, &ProtocolError{Kind: KindFraming})
	s.RecordError(NewTimeoutError(1, nil))
	s.RecordError(NewOfflineError(5))
	s.RecordCycle()

	if s.TotalFrames != 3 || s.ValidFrames != 1 {
		t.Errorf("Expected 3 total / 1 valid, got %d / %d", s.TotalFrames, s.ValidFrames)
	}
	if s.ChecksumErrors != 1 || s.FramingErrors != 1 || s.Timeouts != 1 || s.OfflineEvents != 1 || s.Cycles != 1 {
		t.Errorf("Unexpected counters: %+v", s)
	}
	if s.ByVariant[LongHeaterToController] != 1 {
		t.Errorf("Expected 1 LongHeaterToController frame, got %d", s.ByVariant[LongHeaterToController])
	}

	out := s.String()
	for _, want := range []string{"Total Frames", "Checksum Errors", "Offline Events", "LongHeaterToController"} {
		if !strings.Contains(out, want) {
			t.Errorf("Summary missing %q:\n%s", want, out)
		}
	}

	s.Reset()
	if s.TotalFrames != 0 || len(s.ByVariant) != 0 {
		t.Error("Reset did not clear counters")
	}
}

// ============================================================
// Error Tests
// ============================================================

func TestProtocolError_Is(t *testing.T) {
	err := NewTimeoutError(3, errors.New("checksum mismatch"))
	if !errors.Is(err, ErrTimeout) {
		t.Error("Expected timeout error to match ErrTimeout")
	}
	if errors.Is(err, ErrOffline) {
		t.Error("Timeout must not match ErrOffline")
	}
	if err.Details["attempt"] != 3 {
		t.Errorf("Expected attempt 3, got %v", err.Details["attempt"])
	}
}
