// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vevor

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	ChecksumErrors  uint64
	FramingErrors   uint64
	AmbiguousFrames uint64
	Timeouts        uint64
	OfflineEvents   uint64
	Cycles          uint64
	ByVariant       map[Variant]uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		ByVariant:      make(map[Variant]uint64),
	}
}

// Update counts one candidate frame and the outcome of validating and
// decoding it. decoded may be nil when err is set.
func (s *Statistics) Update(v Variant, decoded *DecodedFrame, err error) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if err != nil {
		s.RecordError(err)
		return
	}

	s.ValidFrames++
	s.ByVariant[v]++
	if decoded != nil && decoded.Err() != nil {
		s.AmbiguousFrames++
	}
}

// RecordError counts an error reported outside a frame, such as a
// synchronizer framing error or a poll timeout
func (s *Statistics) RecordError(err error) {
	switch {
	case errors.Is(err, ErrChecksum):
		s.ChecksumErrors++
	case errors.Is(err, ErrTimeout):
		s.Timeouts++
	case errors.Is(err, ErrOffline):
		s.OfflineEvents++
	case errors.Is(err, ErrDecodeAmbiguity):
		s.AmbiguousFrames++
	default:
		s.FramingErrors++
	}
	s.LastUpdateTime = time.Now()
}

// RecordCycle counts a completed request/response cycle
func (s *Statistics) RecordCycle() {
	s.Cycles++
	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.ErrorCount()) / elapsed
	}
}

// ErrorCount returns the number of checksum, framing and timeout errors
func (s *Statistics) ErrorCount() uint64 {
	return s.ChecksumErrors + s.FramingErrors + s.Timeouts
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, checksumPercent, framingPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		checksumPercent = float64(s.ChecksumErrors) * 100.0 / float64(s.TotalFrames)
		framingPercent = float64(s.FramingErrors) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)
	for _, info := range variantTable {
		if n := s.ByVariant[info.Variant]; n > 0 {
			result += fmt.Sprintf("  %-24s %5d\n", info.Variant.String()+":", n)
		}
	}

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, checksumPercent)
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d (%.1f%%)\n", s.FramingErrors, framingPercent)
	}
	if s.AmbiguousFrames > 0 {
		result += fmt.Sprintf("Ambiguous State: %8d\n", s.AmbiguousFrames)
	}
	if s.Cycles > 0 || s.Timeouts > 0 {
		result += fmt.Sprintf("Poll Cycles:     %8d\n", s.Cycles)
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.OfflineEvents > 0 {
		result += fmt.Sprintf("Offline Events:  %8d\n", s.OfflineEvents)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	now := time.Now()
	*s = Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		ByVariant:      make(map[Variant]uint64),
	}
}
