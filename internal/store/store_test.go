package store

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roman-kulish/thermal-logger/internal/capture"
	"github.com/roman-kulish/thermal-logger/internal/correlate"
	"github.com/roman-kulish/thermal-logger/internal/frame"
	"github.com/roman-kulish/thermal-logger/internal/link"
)

func testSample(id string) correlate.Sample {
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return correlate.Sample{
		Event: capture.Event{
			ID:         id,
			CapturedAt: clock.Add(time.Second),
			Frame:      &capture.Frame{Width: 2, Height: 1, Pix: []uint16{100, 200}},
		},
		Clock: &frame.ClockSample{Timestamp: clock},
		Position: &frame.PositionSample{
			Latitude:   37.123456,
			Longitude:  -122.123456,
			Altitude:   15.2,
			Satellites: 8,
			Clock:      clock,
			HasClock:   true,
		},
	}
}

func readRecords(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return records
}

func TestOpenAllocatesSequentialRunDirs(t *testing.T) {
	root := t.TempDir()

	// Stray files must not confuse the scan.
	if err := os.WriteFile(filepath.Join(root, "launch99"), []byte("not a dir"), 0o644); err != nil {
		t.Fatal(err)
	}

	s1, err := Open(root)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	defer s1.Close()

	s2, err := Open(root)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	if got := filepath.Base(s1.RunDir()); got != "launch01" {
		t.Errorf("first run dir = %s, want launch01", got)
	}
	if got := filepath.Base(s2.RunDir()); got != "launch02" {
		t.Errorf("second run dir = %s, want launch02", got)
	}

	for _, d := range []string{"thermal", "gps", "time", "raw"} {
		if _, err := os.Stat(filepath.Join(s1.RunDir(), d)); err != nil {
			t.Errorf("dataset directory %s missing: %v", d, err)
		}
	}
}

func TestCommitWritesAllStores(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	sample := testSample("20240101_120001")
	if err := s.Commit(sample, []byte("png-bytes")); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	png, err := os.ReadFile(filepath.Join(s.RunDir(), "thermal", "20240101_120001.png"))
	if err != nil {
		t.Fatalf("image missing: %v", err)
	}
	if string(png) != "png-bytes" {
		t.Errorf("image content = %q", png)
	}

	raw, err := os.ReadFile(filepath.Join(s.RunDir(), "thermal", "20240101_120001_raw.gray16"))
	if err != nil {
		t.Fatalf("raw frame missing: %v", err)
	}
	if len(raw) != 4 {
		t.Errorf("raw frame length = %d, want 4", len(raw))
	}
	if raw[0] != 0 || raw[1] != 100 || raw[2] != 0 || raw[3] != 200 {
		t.Errorf("raw frame bytes = %v", raw)
	}

	gps := readRecords(t, filepath.Join(s.RunDir(), "gps", "log_gps.csv"))
	if len(gps) != 2 {
		t.Fatalf("gps records = %d rows, want header plus one", len(gps))
	}
	wantGPS := []string{"20240101_120001", "37.123456", "-122.123456", "15.2", "8", "ok"}
	for i, field := range wantGPS {
		if gps[1][i] != field {
			t.Errorf("gps field %d = %q, want %q", i, gps[1][i], field)
		}
	}

	times := readRecords(t, filepath.Join(s.RunDir(), "time", "log_time.csv"))
	if len(times) != 2 {
		t.Fatalf("time records = %d rows, want header plus one", len(times))
	}
	if times[1][0] != "20240101_120001" || times[1][1] != "2024-01-01 12:00:00" {
		t.Errorf("time record = %v", times[1])
	}
}

func TestCommitUnavailableVariants(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	sample := testSample("20240101_120001")
	sample.Clock = nil
	sample.Position = nil

	if err := s.Commit(sample, []byte("png")); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	gps := readRecords(t, filepath.Join(s.RunDir(), "gps", "log_gps.csv"))
	if gps[1][1] != NoneField || gps[1][5] != "unavailable" {
		t.Errorf("gps record = %v, want NONE fields with unavailable status", gps[1])
	}

	times := readRecords(t, filepath.Join(s.RunDir(), "time", "log_time.csv"))
	if times[1][1] != NoneField {
		t.Errorf("time record = %v, want NONE timestamp", times[1])
	}
}

func TestAppendRawQuotesCommas(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	raw := link.RawLine{
		ReceivedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Text:       "DATA,GPS,NO_RTC,37.0,-122.0,15.2,8",
		Outcome:    frame.OutcomePosition,
	}
	if err := s.AppendRaw(raw); err != nil {
		t.Fatalf("AppendRaw failed: %v", err)
	}

	records := readRecords(t, filepath.Join(s.RunDir(), "raw", "log_raw.csv"))
	if len(records) != 2 {
		t.Fatalf("raw records = %d rows, want header plus one", len(records))
	}
	if records[1][1] != raw.Text {
		t.Errorf("raw text = %q, want %q", records[1][1], raw.Text)
	}
	if records[1][2] != "position" {
		t.Errorf("outcome = %q, want position", records[1][2])
	}
}

func TestCommitFailureLeavesNoDanglingRecord(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	// Force the record append to fail after the image is placed.
	gpsPath := s.gpsFile.f.Name()
	if err := s.gpsFile.f.Close(); err != nil {
		t.Fatal(err)
	}

	sample := testSample("20240101_120001")
	err = s.Commit(sample, []byte("png"))
	if err == nil {
		t.Fatal("Commit succeeded with a closed record file")
	}
	if !errors.Is(err, ErrPartialWrite) {
		t.Errorf("error = %v, want ErrPartialWrite", err)
	}
	if !errors.Is(err, ErrIOFailure) {
		t.Errorf("error = %v, want ErrIOFailure", err)
	}

	// The orphaned image is allowed; a record without its image is not.
	records := readRecords(t, gpsPath)
	for _, rec := range records[1:] {
		if rec[0] == "20240101_120001" {
			t.Errorf("gps record written despite failed commit: %v", rec)
		}
	}
}
