package beacon

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/thermal-logger/internal/frame"
)

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() (time.Time, error) { return c.t, nil }

func newTestMux(clock ClockSource, position PositionSource, out io.Writer) *Mux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(clock, position, out, logger)
}

func TestEmitClockCachesTimestamp(t *testing.T) {
	var buf bytes.Buffer
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := newTestMux(fixedClock{t: ts}, NewReplaySource([]Fix{
		{Latitude: 37.123456, Longitude: -122.123456, Altitude: 15.2, Satellites: 8, Valid: true},
	}), &buf)

	if err := m.emitClock(); err != nil {
		t.Fatalf("emitClock failed: %v", err)
	}
	if err := m.emitPosition(); err != nil {
		t.Fatalf("emitPosition failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\r\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	if lines[0] != "DATA,RTC,2024-01-01 12:00:00" {
		t.Errorf("clock frame = %q", lines[0])
	}
	if lines[1] != "DATA,GPS,2024-01-01 12:00:00,37.123456,-122.123456,15.2,8" {
		t.Errorf("position frame = %q", lines[1])
	}

	// The collector must be able to decode exactly what went out.
	for _, line := range lines {
		if _, err := frame.Decode(line); err != nil {
			t.Errorf("emitted frame does not decode: %q: %v", line, err)
		}
	}
}

func TestEmitClockNotConnected(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMux(NullClock{}, NewReplaySource(nil), &buf)

	if err := m.emitClock(); err != nil {
		t.Fatalf("emitClock failed: %v", err)
	}

	// The tick still produces a line: silence would be indistinguishable
	// from a dropped frame downstream.
	if got := strings.TrimSpace(buf.String()); got != "STATUS,CLOCK,NOT_CONNECTED" {
		t.Errorf("clock status = %q", got)
	}
}

func TestEmitPositionWithoutClockUsesToken(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMux(NullClock{}, NewReplaySource([]Fix{
		{Latitude: 37.123456, Longitude: -122.123456, Altitude: 15.2, Satellites: 8, Valid: true},
	}), &buf)

	if err := m.emitPosition(); err != nil {
		t.Fatalf("emitPosition failed: %v", err)
	}

	got := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(got, "DATA,GPS,"+frame.NoClockToken+",") {
		t.Errorf("position frame = %q, want NO_RTC timestamp", got)
	}
}

func TestEmitPositionNotFixed(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMux(NullClock{}, NewReplaySource([]Fix{
		{Satellites: 2, Valid: false},
	}), &buf)

	if err := m.emitPosition(); err != nil {
		t.Fatalf("emitPosition failed: %v", err)
	}

	got := strings.TrimSpace(buf.String())
	if got != "GPS: Not Fixed (Satellites: 2)" {
		t.Errorf("diagnostic line = %q", got)
	}

	// Free text must decode as Skipped, not as an error.
	r, err := frame.Decode(got)
	if err != nil {
		t.Fatalf("diagnostic line decode failed: %v", err)
	}
	if _, ok := r.(frame.Skipped); !ok {
		t.Errorf("diagnostic decoded as %T, want Skipped", r)
	}
}

func TestReplaySourceCycles(t *testing.T) {
	src := NewReplaySource([]Fix{
		{Satellites: 4, Valid: true},
		{Satellites: 5, Valid: true},
	})

	want := []int{4, 5, 4}
	for i, sats := range want {
		fix, err := src.Fix()
		if err != nil {
			t.Fatalf("Fix %d failed: %v", i, err)
		}
		if fix.Satellites != sats {
			t.Errorf("fix %d satellites = %d, want %d", i, fix.Satellites, sats)
		}
	}
}
