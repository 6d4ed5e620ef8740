// Package frame implements the textual line codec for the telemetry link.
//
// Each frame is one comma-separated line. Data frames carry a DATA tag and
// a subtype (RTC or GPS); status frames carry a STATUS tag. Anything else
// on the channel (boot banners, free-text diagnostics from the remote unit)
// decodes to Skipped rather than an error, since the link is shared.
package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	tagData   = "DATA"
	tagStatus = "STATUS"

	subRTC   = "RTC"
	subGPS   = "GPS"
	subClock = "CLOCK"

	// NoClockToken marks a GPS frame emitted before the remote unit has
	// seen a clock reading.
	NoClockToken = "NO_RTC"

	// TimeLayout is the wall-clock format used on the wire, second
	// resolution.
	TimeLayout = "2006-01-02 15:04:05"

	rtcArity = 1
	gpsArity = 5
)

var (
	// ErrMalformedFrame is returned when a data frame has the wrong
	// number of fields for its subtype.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrInvalidField is returned when a numeric or timestamp field
	// fails to parse.
	ErrInvalidField = errors.New("invalid field")
)

// Outcome classifies what became of one received line. It is recorded with
// the raw line for forensic replay.
type Outcome string

const (
	OutcomeClock     Outcome = "clock"
	OutcomePosition  Outcome = "position"
	OutcomeStatus    Outcome = "status"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeMalformed Outcome = "malformed"
	OutcomeInvalid   Outcome = "invalid_field"
	OutcomeTooLong   Outcome = "too_long"
)

// Record is one decoded telemetry frame. Exactly one of the concrete
// variants below implements it.
type Record interface {
	Outcome() Outcome
}

// ClockSample is a wall-clock reading from the remote RTC.
type ClockSample struct {
	Timestamp time.Time
}

func (ClockSample) Outcome() Outcome { return OutcomeClock }

// PositionSample is a GPS fix. Clock is the remote clock reading the fix
// was stamped with; HasClock is false when the remote had no RTC yet.
// Decode only produces a PositionSample for a usable fix (satellites > 0,
// coordinates in range); anything else comes back as a StatusLine.
type PositionSample struct {
	Latitude   float64
	Longitude  float64
	Altitude   float64
	Satellites int
	Clock      time.Time
	HasClock   bool
}

func (PositionSample) Outcome() Outcome { return OutcomePosition }

// StatusLine is a recognized machine status frame, or a data frame that
// parsed but does not carry a usable sample (for example a GPS frame with
// zero satellites).
type StatusLine struct {
	Source string // CLOCK, GPS
	Detail string
}

func (StatusLine) Outcome() Outcome { return OutcomeStatus }

// Skipped is a line that is not part of the machine protocol: unknown tag
// or free text. Retained only for the raw audit trail.
type Skipped struct {
	Line string
}

func (Skipped) Outcome() Outcome { return OutcomeSkipped }

// Encode renders a record back to its wire line, without the trailing
// delimiter. It is the inverse of Decode for ClockSample, PositionSample
// and clock StatusLine frames.
func Encode(r Record) string {
	switch v := r.(type) {
	case ClockSample:
		return EncodeClock(v.Timestamp)

	case PositionSample:
		return EncodePosition(v)

	case StatusLine:
		return tagStatus + "," + v.Source + "," + v.Detail

	case Skipped:
		return v.Line

	default:
		return ""
	}
}

// EncodeClock renders a DATA,RTC frame.
func EncodeClock(t time.Time) string {
	return tagData + "," + subRTC + "," + t.Format(TimeLayout)
}

// EncodePosition renders a DATA,GPS frame. Coordinates are written with
// six decimals, altitude with one, matching the remote unit.
func EncodePosition(p PositionSample) string {
	ts := NoClockToken
	if p.HasClock {
		ts = p.Clock.Format(TimeLayout)
	}
	return fmt.Sprintf("%s,%s,%s,%.6f,%.6f,%.1f,%d",
		tagData, subGPS, ts, p.Latitude, p.Longitude, p.Altitude, p.Satellites)
}

// EncodeClockStatus renders the STATUS frame emitted when the remote RTC
// is absent.
func EncodeClockStatus() string {
	return tagStatus + "," + subClock + ",NOT_CONNECTED"
}

// Decode parses one line into a Record. Unknown tags and free text decode
// to Skipped; only structurally bad data frames return an error. The line
// must already be stripped of its delimiter.
func Decode(line string) (Record, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Skipped{Line: line}, nil
	}

	parts := strings.Split(line, ",")
	switch parts[0] {
	case tagData:
		return decodeData(line, parts)

	case tagStatus:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: STATUS frame with no source: %q", ErrMalformedFrame, line)
		}
		return StatusLine{Source: parts[1], Detail: strings.Join(parts[2:], ",")}, nil

	default:
		return Skipped{Line: line}, nil
	}
}

func decodeData(line string, parts []string) (Record, error) {
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: DATA frame with no subtype: %q", ErrMalformedFrame, line)
	}

	switch parts[1] {
	case subRTC:
		if len(parts) != 2+rtcArity {
			return nil, fmt.Errorf("%w: RTC frame has %d fields, want %d: %q",
				ErrMalformedFrame, len(parts)-2, rtcArity, line)
		}

		ts, err := time.Parse(TimeLayout, parts[2])
		if err != nil {
			return nil, fmt.Errorf("%w: RTC timestamp %q: %w", ErrInvalidField, parts[2], err)
		}
		return ClockSample{Timestamp: ts}, nil

	case subGPS:
		if len(parts) != 2+gpsArity {
			return nil, fmt.Errorf("%w: GPS frame has %d fields, want %d: %q",
				ErrMalformedFrame, len(parts)-2, gpsArity, line)
		}
		return decodeGPS(line, parts[2:])

	default:
		// Future data subtypes share the channel; not an error.
		return Skipped{Line: line}, nil
	}
}

func decodeGPS(line string, fields []string) (Record, error) {
	var p PositionSample

	if fields[0] != NoClockToken {
		ts, err := time.Parse(TimeLayout, fields[0])
		if err != nil {
			return nil, fmt.Errorf("%w: GPS timestamp %q: %w", ErrInvalidField, fields[0], err)
		}
		p.Clock = ts
		p.HasClock = true
	}

	var err error
	if p.Latitude, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return nil, fmt.Errorf("%w: latitude %q: %w", ErrInvalidField, fields[1], err)
	}
	if p.Longitude, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return nil, fmt.Errorf("%w: longitude %q: %w", ErrInvalidField, fields[2], err)
	}
	if p.Altitude, err = strconv.ParseFloat(fields[3], 64); err != nil {
		return nil, fmt.Errorf("%w: altitude %q: %w", ErrInvalidField, fields[3], err)
	}
	if p.Satellites, err = strconv.Atoi(fields[4]); err != nil || p.Satellites < 0 {
		return nil, fmt.Errorf("%w: satellite count %q", ErrInvalidField, fields[4])
	}

	// A frame without a fix is a status observation, not a sample.
	if p.Satellites == 0 || p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return StatusLine{Source: subGPS, Detail: fmt.Sprintf("not fixed, satellites=%d", p.Satellites)}, nil
	}

	return p, nil
}

// Classify maps a decode result to the outcome recorded alongside the raw
// line. err takes precedence over the record.
func Classify(r Record, err error) Outcome {
	switch {
	case errors.Is(err, ErrInvalidField):
		return OutcomeInvalid
	case err != nil:
		return OutcomeMalformed
	case r != nil:
		return r.Outcome()
	default:
		return OutcomeSkipped
	}
}
