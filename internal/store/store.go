// Package store persists correlated samples across four independent
// per-run datasets: thermal images, GPS records, timestamp records and
// the raw received lines. Records are append-only flat files; nothing
// here is ever mutated or deleted once written.
//
// Commit ordering is the crash-safety contract: the image is durably
// placed first via temp-then-rename, and the cheap text records are
// appended only afterwards. A crash mid-commit leaves at most an orphaned
// image, never a record pointing at a missing image.
package store

import (
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/roman-kulish/thermal-logger/internal/capture"
	"github.com/roman-kulish/thermal-logger/internal/correlate"
	"github.com/roman-kulish/thermal-logger/internal/frame"
	"github.com/roman-kulish/thermal-logger/internal/link"
)

const (
	thermalDir = "thermal"
	gpsDir     = "gps"
	timeDir    = "time"
	rawDir     = "raw"

	// NoneField marks an unavailable variant in a text record.
	NoneField = "NONE"

	dirPerm  = 0o755
	filePerm = 0o644
)

var (
	// ErrIOFailure wraps any disk-level commit failure.
	ErrIOFailure = errors.New("storage I/O failure")

	// ErrPartialWrite marks a commit that failed after the image was
	// already placed. The image is a harmless orphan; the sample has no
	// records.
	ErrPartialWrite = errors.New("partial write: image placed without records")

	launchPattern = regexp.MustCompile(`^launch(\d{2,})$`)
)

var (
	gpsHeader  = []string{"sample_id", "latitude", "longitude", "altitude", "satellites", "status"}
	timeHeader = []string{"sample_id", "rtc_timestamp"}
	rawHeader  = []string{"receipt_time", "raw_text", "decode_outcome"}
)

// Store owns one run directory and its four datasets. Methods are not
// safe for concurrent use; the persistence task is the single writer.
type Store struct {
	runDir string

	gpsFile  *appendFile
	timeFile *appendFile
	rawFile  *appendFile
}

// Open allocates the next launchNN run directory under root, creates the
// four dataset directories and opens the record files. Directory creation
// happens here once, never per sample.
func Open(root string) (*Store, error) {
	runDir, err := nextRunDir(root)
	if err != nil {
		return nil, err
	}

	for _, d := range []string{thermalDir, gpsDir, timeDir, rawDir} {
		if err := os.MkdirAll(filepath.Join(runDir, d), dirPerm); err != nil {
			return nil, fmt.Errorf("creating dataset directory %s: %w", d, err)
		}
	}

	s := Store{runDir: runDir}

	if s.gpsFile, err = openAppend(filepath.Join(runDir, gpsDir, "log_gps.csv"), gpsHeader); err != nil {
		return nil, err
	}
	if s.timeFile, err = openAppend(filepath.Join(runDir, timeDir, "log_time.csv"), timeHeader); err != nil {
		s.Close()
		return nil, err
	}
	if s.rawFile, err = openAppend(filepath.Join(runDir, rawDir, "log_raw.csv"), rawHeader); err != nil {
		s.Close()
		return nil, err
	}

	return &s, nil
}

// RunDir returns the allocated run directory.
func (s *Store) RunDir() string { return s.runDir }

// Commit durably writes one correlated sample: the rendered image and the
// raw frame buffer first, then the GPS and timestamp records. png may be
// nil when rendering failed; the raw buffer alone still makes the sample
// worth keeping.
func (s *Store) Commit(sample correlate.Sample, png []byte) error {
	id := sample.Event.ID

	if png != nil {
		if err := writeAtomic(filepath.Join(s.runDir, thermalDir, id+".png"), png); err != nil {
			return fmt.Errorf("%w: placing image %s: %w", ErrIOFailure, id, err)
		}
	}
	if err := writeAtomic(filepath.Join(s.runDir, thermalDir, id+"_raw.gray16"), rawFrameBytes(sample.Event.Frame)); err != nil {
		return fmt.Errorf("%w: placing raw frame %s: %w", ErrIOFailure, id, err)
	}

	if err := s.gpsFile.append(gpsRecord(id, sample.Position)); err != nil {
		return fmt.Errorf("%w: %w: gps record %s: %w", ErrIOFailure, ErrPartialWrite, id, err)
	}
	if err := s.timeFile.append(timeRecord(id, sample.Clock)); err != nil {
		return fmt.Errorf("%w: %w: timestamp record %s: %w", ErrIOFailure, ErrPartialWrite, id, err)
	}

	return nil
}

// AppendRaw records one received line, parseable or not. Independent of
// sample commits.
func (s *Store) AppendRaw(raw link.RawLine) error {
	rec := []string{
		raw.ReceivedAt.UTC().Format(time.RFC3339),
		raw.Text,
		string(raw.Outcome),
	}
	if err := s.rawFile.append(rec); err != nil {
		return fmt.Errorf("%w: raw line: %w", ErrIOFailure, err)
	}
	return nil
}

// Close flushes and closes the record files.
func (s *Store) Close() error {
	var errs []error
	for _, f := range []*appendFile{s.gpsFile, s.timeFile, s.rawFile} {
		if f == nil {
			continue
		}
		if err := f.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func gpsRecord(id string, p *frame.PositionSample) []string {
	if p == nil {
		return []string{id, NoneField, NoneField, NoneField, NoneField, "unavailable"}
	}
	return []string{
		id,
		strconv.FormatFloat(p.Latitude, 'f', 6, 64),
		strconv.FormatFloat(p.Longitude, 'f', 6, 64),
		strconv.FormatFloat(p.Altitude, 'f', 1, 64),
		strconv.Itoa(p.Satellites),
		"ok",
	}
}

func timeRecord(id string, c *frame.ClockSample) []string {
	if c == nil {
		return []string{id, NoneField}
	}
	return []string{id, c.Timestamp.Format(frame.TimeLayout)}
}

// rawFrameBytes serializes the 16-bit frame buffer, big endian, row
// major. The format matches what StreamSource consumes.
func rawFrameBytes(f *capture.Frame) []byte {
	if f == nil {
		return nil
	}
	out := make([]byte, len(f.Pix)*2)
	for i, p := range f.Pix {
		binary.BigEndian.PutUint16(out[i*2:], p)
	}
	return out
}

// writeAtomic writes data to a temp file in the target directory, syncs
// it and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp_*")
	if err != nil {
		return err
	}

	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if cErr := tmp.Close(); cErr != nil && err == nil {
		err = cErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// nextRunDir allocates the next launchNN directory under root.
func nextRunDir(root string) (string, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return "", fmt.Errorf("creating data root: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("scanning data root: %w", err)
	}

	next := 1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := launchPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n >= next {
			next = n + 1
		}
	}

	runDir := filepath.Join(root, fmt.Sprintf("launch%02d", next))
	if err := os.Mkdir(runDir, dirPerm); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	return runDir, nil
}

// appendFile is a CSV append store. The header is written once when the
// file is created; every record is flushed and synced so a committed
// sample survives power loss.
type appendFile struct {
	f *os.File
	w *csv.Writer
}

func openAppend(path string, header []string) (*appendFile, error) {
	info, statErr := os.Stat(path)
	fresh := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	af := appendFile{f: f, w: csv.NewWriter(f)}
	if fresh {
		if err := af.append(header); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("writing header to %s: %w", path, err)
		}
	}
	return &af, nil
}

func (a *appendFile) append(record []string) error {
	if err := a.w.Write(record); err != nil {
		return err
	}
	a.w.Flush()
	if err := a.w.Error(); err != nil {
		return err
	}
	return a.f.Sync()
}

func (a *appendFile) close() error {
	a.w.Flush()
	err := a.w.Error()
	if cErr := a.f.Close(); cErr != nil && err == nil {
		err = cErr
	}
	return err
}
