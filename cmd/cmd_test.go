// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/vevorstat/internal/config"
	"github.com/Thermoquad/vevorstat/pkg/pollcycle"
	"github.com/Thermoquad/vevorstat/pkg/vevor"
)

// heaterFrame builds a long heater status frame with a valid modular sum
func heaterFrame(t *testing.T, state vevor.CombustionState) []byte {
	t.Helper()
	body := make([]byte, vevor.LengthLong)
	body[0] = 0x01        // heater_enabled @4
	body[1] = byte(state) // combustion_state @5
	body[24] = 0x0B       // fan_speed @28, 3000 rpm
	body[25] = 0xB8
	frame, err := vevor.EncodeFrame(vevor.DeviceHeater, vevor.CommandSteady, vevor.LengthLong, body, vevor.ModularSum{})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	return frame
}

func testMonitor(t *testing.T) *monitor {
	t.Helper()
	logger = zerolog.Nop()
	c, err := config.Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m, err := newMonitor(c)
	if err != nil {
		t.Fatalf("newMonitor: %v", err)
	}
	return m
}

// ============================================================================
// Monitor Tests
// ============================================================================

func TestMonitor_SyncAfterGarbage(t *testing.T) {
	m := testMonitor(t)
	now := time.Unix(1700000000, 0)

	// Unknown device id after a sync byte is a framing error before sync
	data := append([]byte{0xAA, 0x55}, heaterFrame(t, vevor.StateStableCombustion)...)
	events := m.feed(data, now)

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].PreSync || !errors.Is(events[0].Err, vevor.ErrFraming) {
		t.Errorf("expected pre-sync framing error, got %+v", events[0])
	}
	if !events[1].Synced || events[1].Decoded == nil {
		t.Fatalf("expected first decoded frame, got %+v", events[1])
	}
	if m.state != vevor.StateStableCombustion {
		t.Errorf("expected carried state StableCombustion, got %s", m.state)
	}

	stats := vevor.NewStatistics()
	for _, ev := range events {
		ev.record(stats)
	}
	if stats.FramingErrors != 0 || stats.ValidFrames != 1 {
		t.Errorf("pre-sync noise must not be counted: %+v", stats)
	}
}

func TestMonitor_ChecksumErrorAfterSync(t *testing.T) {
	m := testMonitor(t)
	now := time.Unix(1700000000, 0)

	m.feed(heaterFrame(t, vevor.StateOff), now)

	bad := heaterFrame(t, vevor.StateOff)
	bad[len(bad)-1] ^= 0xFF
	events := m.feed(bad, now)

	if len(events) != 1 || events[0].Frame == nil || !errors.Is(events[0].Err, vevor.ErrChecksum) {
		t.Fatalf("expected one checksum error, got %+v", events)
	}
	if events[0].PreSync {
		t.Error("validation errors are never pre-sync")
	}
}

func TestMonitor_IdleExpiry(t *testing.T) {
	m := testMonitor(t)
	now := time.Unix(1700000000, 0)

	m.feed(heaterFrame(t, vevor.StateOff), now)
	frame := heaterFrame(t, vevor.StateOff)
	m.feed(frame[:10], now)

	// An empty read past the idle timeout discards the partial frame
	events := m.feed(nil, now.Add(time.Second))
	if len(events) != 1 || !errors.Is(events[0].Err, vevor.ErrFraming) || events[0].PreSync {
		t.Fatalf("expected one framing error, got %+v", events)
	}
}

// ============================================================================
// TUI Model Tests
// ============================================================================

func TestModel_HandleBusEvent(t *testing.T) {
	m := testMonitor(t)
	model := initialModel("Serial: test", vevor.ChecksumModularSum, 10, false)

	for _, ev := range m.feed(heaterFrame(t, vevor.StateGlowPlugPreheat), time.Now()) {
		model.handleBusEvent(ev)
	}

	if !model.synchronized || !model.hasDecoded {
		t.Fatal("expected synchronized model with decoded status")
	}
	if model.lastState != vevor.StateGlowPlugPreheat || model.lastSource != vevor.StateDecoded {
		t.Errorf("unexpected state %s (%s)", model.lastState, model.lastSource)
	}
	if model.stats.ValidFrames != 1 {
		t.Errorf("expected 1 valid frame, got %d", model.stats.ValidFrames)
	}

	found := false
	for _, row := range model.fields.Rows() {
		if strings.HasPrefix(row[0], "reserved_") {
			t.Errorf("reserved row shown without --show-all: %v", row)
		}
		if row[0] == "fan_speed" {
			found = true
			if row[1] != "3000" || row[2] != "rpm" {
				t.Errorf("unexpected fan_speed row: %v", row)
			}
		}
	}
	if !found {
		t.Error("fan_speed row missing")
	}

	if view := model.View(); !strings.Contains(view, "GlowPlugPreheat") {
		t.Errorf("view does not show the combustion state:\n%s", view)
	}
}

// ============================================================================
// Poll Output Tests
// ============================================================================

func TestTextEventWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &textEventWriter{w: &buf}
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	events := []pollcycle.Event{
		{Kind: pollcycle.EventTimeout, At: at, Err: vevor.NewTimeoutError(2, nil), Attempt: 2},
		{Kind: pollcycle.EventOffline, At: at, Err: vevor.NewOfflineError(3)},
		{Kind: pollcycle.EventOnline, At: at},
	}
	for _, ev := range events {
		if err := w.write(ev); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	out := buf.String()
	for _, want := range []string{"TIMEOUT (attempt 2)", "OFFLINE", "ONLINE"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCBOREventWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &cborEventWriter{w: &buf}

	raw := vevor.MustRawFrame(heaterFrame(t, vevor.StateStableCombustion), time.Now())
	decoded := vevor.NewFieldDecoder(nil, vevor.Subscription{}).Decode(raw, vevor.LongHeaterToController, vevor.StateOff)

	if err := w.write(pollcycle.Event{Kind: pollcycle.EventTimeout}); err != nil || buf.Len() != 0 {
		t.Fatalf("non-cycle events must not be written (err=%v, %d bytes)", err, buf.Len())
	}
	if err := w.write(pollcycle.Event{Kind: pollcycle.EventCycle, Cycle: &pollcycle.Cycle{Decoded: decoded}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	readings, err := vevor.ParseReadingsCBOR(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseReadingsCBOR: %v", err)
	}
	fan, ok := readings.Get("fan_speed")
	if !ok || fan.Value == nil || *fan.Value != 3000 {
		t.Errorf("unexpected fan_speed reading: %+v", fan)
	}
}

func TestRecordPollEvent(t *testing.T) {
	stats := vevor.NewStatistics()
	recordPollEvent(stats, pollcycle.Event{Kind: pollcycle.EventTimeout, Err: vevor.NewTimeoutError(1, nil)})
	recordPollEvent(stats, pollcycle.Event{Kind: pollcycle.EventOffline, Err: vevor.NewOfflineError(1)})

	if stats.Timeouts != 1 || stats.OfflineEvents != 1 {
		t.Errorf("unexpected statistics: %+v", stats)
	}
}

// ============================================================================
// Helper Tests
// ============================================================================

func TestCountSyncBytes(t *testing.T) {
	if n := countSyncBytes([]byte{0xAA, 0x66, 0xAA, 0x00}); n != 2 {
		t.Errorf("expected 2 sync bytes, got %d", n)
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger(config.LogConfig{Level: "debug", Format: "json"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := newLogger(config.LogConfig{Level: "loud", Format: "console"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestRunErrorDetection_RejectsStatsInterval(t *testing.T) {
	saved := statsInterval
	defer func() { statsInterval = saved }()

	for _, interval := range []int{0, -5} {
		statsInterval = interval
		err := runErrorDetection(nil, nil)
		if err == nil || !strings.Contains(err.Error(), "--stats-interval") {
			t.Errorf("interval %d: expected --stats-interval error, got %v", interval, err)
		}
	}
}

// ============================================================================
// Connection Tests
// ============================================================================

func TestReadBackoff(t *testing.T) {
	var waits []time.Duration
	b := newReadBackoff(zerolog.Nop())
	b.limit = 3
	b.sleep = func(d time.Duration) { waits = append(waits, d) }

	readErr := errors.New("device not configured")
	for i := 0; i < 2; i++ {
		if err := b.fail(readErr); err != nil {
			t.Fatalf("failure %d: unexpected give-up: %v", i+1, err)
		}
	}
	if len(waits) != 2 || waits[0] != readRetryDelay || waits[1] != 2*readRetryDelay {
		t.Errorf("expected growing waits, got %v", waits)
	}

	// A good read ends the streak
	b.ok()
	if err := b.fail(readErr); err != nil {
		t.Fatalf("streak not reset: %v", err)
	}
	if waits[len(waits)-1] != readRetryDelay {
		t.Errorf("expected first-step wait after reset, got %v", waits[len(waits)-1])
	}

	if err := b.fail(readErr); err != nil {
		t.Fatalf("second failure after reset: unexpected give-up: %v", err)
	}
	err := b.fail(readErr)
	if err == nil || !errors.Is(err, readErr) {
		t.Fatalf("expected give-up wrapping the read error, got %v", err)
	}
}

func TestWebSocketConnection_CloseStopsReader(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 100; i++ {
			if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0xAA, byte(i)}); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	raw, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	w := newWebSocketConnection(raw)

	// Nobody reads, so the reader fills the queue and waits
	deadline := time.Now().Add(2 * time.Second)
	for len(w.messages) < cap(w.messages) {
		if time.Now().After(deadline) {
			t.Fatalf("queue never filled: %d/%d", len(w.messages), cap(w.messages))
		}
		time.Sleep(5 * time.Millisecond)
	}

	w.Close()
	w.Close()

	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("reader goroutine still running after Close")
	}
}
