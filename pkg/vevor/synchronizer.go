// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vevor

import "time"

// Synchronizer finds frame boundaries in a raw byte stream. It owns its
// buffer; callers only see completed frames.
//
// A candidate frame the validator rejects is still returned so the caller
// can report it, but every byte after its sync byte is scanned again. A
// false header inside garbage therefore cannot swallow the real frame that
// follows it.
type Synchronizer struct {
	state       int
	buffer      []byte
	expected    int
	lastByte    time.Time
	idleTimeout time.Duration
	validator   *Validator
}

// NewSynchronizer creates a synchronizer that drops a partial frame once no
// byte has arrived for idleTimeout. Zero disables the idle check.
// Candidates are checked with v; a nil validator accepts any structurally
// complete frame.
func NewSynchronizer(idleTimeout time.Duration, v *Validator) *Synchronizer {
	return &Synchronizer{
		state:       stateSync,
		buffer:      make([]byte, 0, MaxFrameSize),
		idleTimeout: idleTimeout,
		validator:   v,
	}
}

// Reset drops any partial frame and returns to scanning for the sync byte
func (s *Synchronizer) Reset() {
	s.state = stateSync
	s.buffer = s.buffer[:0]
	s.expected = 0
}

// Pending returns the number of bytes held for an incomplete frame
func (s *Synchronizer) Pending() int {
	return len(s.buffer)
}

// Expire discards the partial frame if the stream has been idle for longer
// than the idle timeout. It returns a framing error describing what was
// dropped, or nil if nothing was.
func (s *Synchronizer) Expire(now time.Time) error {
	if s.state == stateSync || s.idleTimeout <= 0 {
		return nil
	}
	if now.Sub(s.lastByte) < s.idleTimeout {
		return nil
	}

	err := newProtocolError(KindFraming,
		map[string]interface{}{"buffered": len(s.buffer), "expected": s.expected, "idle": now.Sub(s.lastByte)},
		"incomplete frame dropped after %v idle (%d bytes buffered)", now.Sub(s.lastByte), len(s.buffer))
	s.Reset()
	return err
}

// DecodeByte processes a single byte through the synchronizer state machine.
// Bytes scanned again after a rejected candidate can complete more than one
// frame, so frames and framing errors come back as slices in order of
// occurrence. Scanning resumes on its own after an error.
func (s *Synchronizer) DecodeByte(b byte, now time.Time) ([]*RawFrame, []error) {
	var frames []*RawFrame
	var errs []error

	if err := s.Expire(now); err != nil {
		errs = append(errs, err)
	}
	s.lastByte = now

	queue := []byte{b}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]

		frame, replay, err := s.step(c, now)
		if err != nil {
			errs = append(errs, err)
		}
		if frame != nil {
			frames = append(frames, frame)
		}
		if len(replay) > 0 {
			queue = append(replay, queue...)
		}
	}
	return frames, errs
}

// Feed runs a chunk of bytes through DecodeByte, collecting frames and errors
// in order of occurrence
func (s *Synchronizer) Feed(data []byte, now time.Time) ([]*RawFrame, []error) {
	var frames []*RawFrame
	var errs []error
	for _, b := range data {
		f, e := s.DecodeByte(b, now)
		frames = append(frames, f...)
		errs = append(errs, e...)
	}
	return frames, errs
}

// step advances the state machine by one byte. It returns a completed
// frame, the bytes that must be scanned again before any further input,
// and a framing error.
func (s *Synchronizer) step(b byte, now time.Time) (*RawFrame, []byte, error) {
	switch s.state {
	case stateSync:
		if b == SyncByte {
			s.buffer = append(s.buffer[:0], b)
			s.state = stateDevice
		}
		return nil, nil, nil

	case stateDevice:
		if b == SyncByte {
			// Repeated sync byte, treat the latest one as the frame start
			s.buffer = append(s.buffer[:0], b)
			return nil, nil, nil
		}
		if !isKnownDevice(b) {
			s.Reset()
			return nil, nil, newProtocolError(KindFraming, map[string]interface{}{"device_id": b},
				"unknown device id 0x%02X", b)
		}
		s.buffer = append(s.buffer, b)
		s.state = stateCommand
		return nil, nil, nil

	case stateCommand:
		s.buffer = append(s.buffer, b)
		s.state = stateLength
		return nil, nil, nil

	case stateLength:
		device := s.buffer[1]
		size := frameSizeFor(device, b)
		if size == 0 {
			// A real frame start may hide behind the rejected sync byte
			replay := append(append([]byte(nil), s.buffer[1:]...), b)
			s.Reset()
			return nil, replay, newProtocolError(KindFraming,
				map[string]interface{}{"device_id": device, "length_code": b},
				"unknown length code 0x%02X for device 0x%02X", b, device)
		}
		s.buffer = append(s.buffer, b)
		s.expected = size
		s.state = stateBody
		return nil, nil, nil

	case stateBody:
		s.buffer = append(s.buffer, b)
		if len(s.buffer) < s.expected {
			return nil, nil, nil
		}
		return s.complete(now)
	}

	s.Reset()
	return nil, nil, nil
}

// complete turns a full buffer into a frame. A short frame that ends early
// is cut where the next header begins; a rejected candidate hands its bytes
// after the sync byte back for scanning.
func (s *Synchronizer) complete(now time.Time) (*RawFrame, []byte, error) {
	data := append([]byte(nil), s.buffer...)
	s.Reset()

	if cut := s.earlyEnd(data, now); cut > 0 {
		frame, err := NewRawFrame(data[:cut], now)
		return frame, data[cut:], err
	}

	frame, err := NewRawFrame(data, now)
	if err != nil {
		return nil, data[1:], err
	}
	if !s.accepts(frame) {
		return frame, data[1:], nil
	}
	return frame, nil, nil
}

// earlyEnd returns the offset at which a short frame below its nominal size
// ends because the next frame's header follows it, or 0 if the whole buffer
// is one frame. The earlier frame must validate on its own.
func (s *Synchronizer) earlyEnd(data []byte, now time.Time) int {
	info, ok := LookupVariant(data[1], data[3])
	if !ok || info.MinSize >= len(data) {
		return 0
	}

	for i := info.MinSize; i <= len(data)-2; i++ {
		if !looksLikeHeader(data[i:]) {
			continue
		}
		prefix, err := NewRawFrame(data[:i], now)
		if err == nil && s.accepts(prefix) {
			return i
		}
	}
	return 0
}

// structural classifies frames when no validator is configured
var structural = NewValidator(nil)

func (s *Synchronizer) accepts(f *RawFrame) bool {
	if s.validator == nil {
		_, err := structural.Classify(f)
		return err == nil
	}
	_, err := s.validator.Validate(f)
	return err == nil
}

// looksLikeHeader reports whether data starts with a sync byte and a known
// device id, and, when the length code is present, a known variant
func looksLikeHeader(data []byte) bool {
	if len(data) < 2 || data[0] != SyncByte || !isKnownDevice(data[1]) {
		return false
	}
	if len(data) >= HeaderSize {
		_, ok := LookupVariant(data[1], data[3])
		return ok
	}
	return true
}
