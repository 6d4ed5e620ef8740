package frame

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeRoundTrip(t *testing.T) {
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	records := []Record{
		ClockSample{Timestamp: clock},
		PositionSample{
			Latitude:   37.123456,
			Longitude:  -122.123456,
			Altitude:   15.2,
			Satellites: 8,
			Clock:      clock,
			HasClock:   true,
		},
		PositionSample{
			Latitude:   -33.865143,
			Longitude:  151.209900,
			Altitude:   5.0,
			Satellites: 4,
		},
	}

	for _, want := range records {
		line := Encode(want)

		got, err := Decode(line)
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", line, err)
		}
		if got != want {
			t.Errorf("Decode(%q) = %#v, want %#v", line, got, want)
		}
	}
}

func TestDecodeClock(t *testing.T) {
	got, err := Decode("DATA,RTC,2024-01-01 12:00:00")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	clock, ok := got.(ClockSample)
	if !ok {
		t.Fatalf("Decode returned %T, want ClockSample", got)
	}

	want := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if !clock.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", clock.Timestamp, want)
	}
}

func TestDecodeGPSNoClock(t *testing.T) {
	got, err := Decode("DATA,GPS,NO_RTC,37.123456,-122.123456,15.2,8")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	pos, ok := got.(PositionSample)
	if !ok {
		t.Fatalf("Decode returned %T, want PositionSample", got)
	}
	if pos.HasClock {
		t.Error("HasClock = true, want false for NO_RTC frame")
	}
	if pos.Satellites != 8 {
		t.Errorf("Satellites = %d, want 8", pos.Satellites)
	}
}

func TestDecodeErrors(t *testing.T) {
	testCases := []struct {
		name string
		line string
		want error
	}{
		{"RTC missing timestamp", "DATA,RTC", ErrMalformedFrame},
		{"RTC extra field", "DATA,RTC,2024-01-01 12:00:00,extra", ErrMalformedFrame},
		{"RTC bad timestamp", "DATA,RTC,yesterday", ErrInvalidField},
		{"GPS short", "DATA,GPS,NO_RTC,37.0,-122.0", ErrMalformedFrame},
		{"GPS bad latitude", "DATA,GPS,NO_RTC,north,-122.0,15.2,8", ErrInvalidField},
		{"GPS bad satellites", "DATA,GPS,NO_RTC,37.0,-122.0,15.2,many", ErrInvalidField},
		{"GPS bad timestamp", "DATA,GPS,01/01/2024,37.0,-122.0,15.2,8", ErrInvalidField},
		{"DATA with no subtype", "DATA", ErrMalformedFrame},
		{"STATUS with no source", "STATUS", ErrMalformedFrame},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.line)
			if !errors.Is(err, tc.want) {
				t.Errorf("Decode(%q) error = %v, want %v", tc.line, err, tc.want)
			}
		})
	}
}

func TestDecodeSkipsUnknown(t *testing.T) {
	lines := []string{
		"GPS: Not Fixed (Satellites: 0)",
		"booting v1.2",
		"DATA,BARO,1013.2",
		"",
	}

	for _, line := range lines {
		got, err := Decode(line)
		if err != nil {
			t.Errorf("Decode(%q) failed: %v", line, err)
			continue
		}
		if _, ok := got.(Skipped); !ok {
			t.Errorf("Decode(%q) = %T, want Skipped", line, got)
		}
	}
}

func TestDecodeUnfixedGPSIsStatus(t *testing.T) {
	testCases := []struct {
		name string
		line string
	}{
		{"zero satellites", "DATA,GPS,NO_RTC,0.000000,0.000000,0.0,0"},
		{"latitude out of range", "DATA,GPS,NO_RTC,91.000000,10.000000,5.0,6"},
		{"longitude out of range", "DATA,GPS,NO_RTC,10.000000,181.000000,5.0,6"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tc.line)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if _, ok := got.(StatusLine); !ok {
				t.Errorf("Decode(%q) = %T, want StatusLine", tc.line, got)
			}
		})
	}
}

func TestDecodeClockStatus(t *testing.T) {
	got, err := Decode(EncodeClockStatus())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	status, ok := got.(StatusLine)
	if !ok {
		t.Fatalf("Decode returned %T, want StatusLine", got)
	}
	if status.Source != "CLOCK" || status.Detail != "NOT_CONNECTED" {
		t.Errorf("StatusLine = %+v, want CLOCK/NOT_CONNECTED", status)
	}
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		line string
		want Outcome
	}{
		{"clock", "DATA,RTC,2024-01-01 12:00:00", OutcomeClock},
		{"position", "DATA,GPS,NO_RTC,37.123456,-122.123456,15.2,8", OutcomePosition},
		{"status", "STATUS,CLOCK,NOT_CONNECTED", OutcomeStatus},
		{"free text", "GPS: Not Fixed (Satellites: 0)", OutcomeSkipped},
		{"malformed", "DATA,RTC", OutcomeMalformed},
		{"invalid field", "DATA,RTC,yesterday", OutcomeInvalid},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := Decode(tc.line)
			if got := Classify(r, err); got != tc.want {
				t.Errorf("Classify(%q) = %s, want %s", tc.line, got, tc.want)
			}
		})
	}
}
