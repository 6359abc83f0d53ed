// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vevor

import "fmt"

// ErrorKind classifies a protocol failure
type ErrorKind int

const (
	KindFraming ErrorKind = iota
	KindChecksum
	KindTimeout
	KindOffline
	KindDecodeAmbiguity
)

// String returns the kind name used in logs and statistics
func (k ErrorKind) String() string {
	switch k {
	case KindFraming:
		return "framing"
	case KindChecksum:
		return "checksum"
	case KindTimeout:
		return "timeout"
	case KindOffline:
		return "offline"
	case KindDecodeAmbiguity:
		return "decode_ambiguity"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ProtocolError is the single typed error reported by the decoder and the
// poll cycle. Details carries the values that triggered it.
type ProtocolError struct {
	Kind    ErrorKind
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	return e.Kind.String() + ": " + e.Message
}

// Is matches any ProtocolError of the same kind, so the sentinels below work
// with errors.Is
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrFraming         = &ProtocolError{Kind: KindFraming, Message: "framing error"}
	ErrChecksum        = &ProtocolError{Kind: KindChecksum, Message: "checksum mismatch"}
	ErrTimeout         = &ProtocolError{Kind: KindTimeout, Message: "response timeout"}
	ErrOffline         = &ProtocolError{Kind: KindOffline, Message: "heater offline"}
	ErrDecodeAmbiguity = &ProtocolError{Kind: KindDecodeAmbiguity, Message: "combustion state unresolved"}
)

func newProtocolError(kind ErrorKind, details map[string]interface{}, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Details: details,
	}
}

// NewTimeoutError reports a poll cycle that got no usable response
func NewTimeoutError(attempt int, cause error) *ProtocolError {
	details := map[string]interface{}{"attempt": attempt}
	if cause != nil {
		details["cause"] = cause.Error()
		return newProtocolError(KindTimeout, details, "no valid response (attempt %d): %v", attempt, cause)
	}
	return newProtocolError(KindTimeout, details, "no response (attempt %d)", attempt)
}

// NewOfflineError reports the heater as unavailable after limit consecutive
// timeouts
func NewOfflineError(limit int) *ProtocolError {
	return newProtocolError(KindOffline, map[string]interface{}{"consecutive_timeouts": limit},
		"heater unavailable after %d consecutive timeouts", limit)
}
