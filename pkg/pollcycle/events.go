// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pollcycle

import (
	"time"

	"github.com/Thermoquad/vevorstat/pkg/vevor"
)

// Phase of the poll cycle
type Phase int

const (
	Idle Phase = iota
	RequestSent
	AwaitingResponse
	Completed
	TimedOut
	Rejected
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case RequestSent:
		return "RequestSent"
	case AwaitingResponse:
		return "AwaitingResponse"
	case Completed:
		return "Completed"
	case TimedOut:
		return "TimedOut"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the phase ends a cycle
func (p Phase) Terminal() bool {
	return p == Completed || p == TimedOut || p == Rejected
}

// Cycle is a request paired with its validated, decoded response
type Cycle struct {
	Request  *vevor.RawFrame
	Response *vevor.RawFrame
	Decoded  *vevor.DecodedFrame
	Latency  time.Duration
}

// EventKind tells the host what happened during a tick
type EventKind int

const (
	EventCycle      EventKind = iota // a cycle completed
	EventTimeout                     // no valid response within the window
	EventDiagnostic                  // a response failed validation
	EventOffline                     // consecutive timeouts reached the limit
	EventOnline                      // first completed cycle after offline
)

// String returns the event name
func (k EventKind) String() string {
	switch k {
	case EventCycle:
		return "cycle"
	case EventTimeout:
		return "timeout"
	case EventDiagnostic:
		return "diagnostic"
	case EventOffline:
		return "offline"
	case EventOnline:
		return "online"
	default:
		return "unknown"
	}
}

// Event is delivered to the host. Cycle is set for EventCycle; Err carries
// the *vevor.ProtocolError for the other kinds; Attempt is the consecutive
// timeout count for EventTimeout and EventOffline.
type Event struct {
	Kind    EventKind
	At      time.Time
	Cycle   *Cycle
	Frame   *vevor.RawFrame
	Err     error
	Attempt int
}
