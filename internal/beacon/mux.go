// Package beacon implements the remote sensor multiplexer: it polls a
// clock source and a position source on independent cadences and frames
// the readings onto the outbound serial channel. The link must never go
// silent on a tick — downstream cannot tell silence from a dropped frame
// — so an unavailable source emits a status line instead of nothing.
package beacon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roman-kulish/thermal-logger/internal/frame"
)

const (
	// DefaultClockInterval is the reference clock emission cadence.
	DefaultClockInterval = 3 * time.Second

	// DefaultPositionInterval is the reference position emission
	// cadence; slower than the clock by design.
	DefaultPositionInterval = 6 * time.Second
)

// ClockSource yields the current wall-clock reading. An error means the
// clock hardware is not connected.
type ClockSource interface {
	Now() (time.Time, error)
}

// Fix is one position reading. Valid is false while the receiver has no
// usable fix; Satellites is still meaningful then, for diagnostics.
type Fix struct {
	Latitude   float64
	Longitude  float64
	Altitude   float64
	Satellites int
	Valid      bool
}

// PositionSource yields the current fix. An error means the receiver
// itself is unreachable, which is reported like an invalid fix.
type PositionSource interface {
	Fix() (Fix, error)
}

// WithIntervals overrides both cadences.
func WithIntervals(clock, position time.Duration) func(*Mux) {
	return func(m *Mux) {
		if clock > 0 {
			m.clockInterval = clock
		}
		if position > 0 {
			m.positionInterval = position
		}
	}
}

// Mux is the periodic emitter. It owns the cached clock string used to
// stamp position frames; no other goroutine touches it.
type Mux struct {
	clock    ClockSource
	position PositionSource
	out      io.Writer

	clockInterval    time.Duration
	positionInterval time.Duration

	lastClock    time.Time
	hasLastClock bool

	logger *slog.Logger
}

// New creates a Mux writing delimited frames to out.
func New(clock ClockSource, position PositionSource, out io.Writer,
	logger *slog.Logger, options ...func(*Mux)) *Mux {

	m := Mux{
		clock:            clock,
		position:         position,
		out:              out,
		clockInterval:    DefaultClockInterval,
		positionInterval: DefaultPositionInterval,
		logger:           logger.With(slog.String("component", "beacon")),
	}

	for _, option := range options {
		option(&m)
	}

	return &m
}

// Run emits until ctx is cancelled. Both cadences fire immediately once,
// then on their tickers. A write failure is fatal: the serial channel is
// this component's only output.
func (m *Mux) Run(ctx context.Context) error {
	clockTick := time.NewTicker(m.clockInterval)
	defer clockTick.Stop()
	positionTick := time.NewTicker(m.positionInterval)
	defer positionTick.Stop()

	if err := m.emitClock(); err != nil {
		return err
	}
	if err := m.emitPosition(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-clockTick.C:
			if err := m.emitClock(); err != nil {
				return err
			}

		case <-positionTick.C:
			if err := m.emitPosition(); err != nil {
				return err
			}
		}
	}
}

func (m *Mux) emitClock() error {
	now, err := m.clock.Now()
	if err != nil {
		m.logger.Warn("clock source unavailable", slog.String("error", err.Error()))
		return m.writeLine(frame.EncodeClockStatus())
	}

	m.lastClock = now
	m.hasLastClock = true
	return m.writeLine(frame.EncodeClock(now))
}

func (m *Mux) emitPosition() error {
	fix, err := m.position.Fix()
	if err != nil || !fix.Valid {
		if err != nil {
			m.logger.Warn("position source unavailable", slog.String("error", err.Error()))
		}
		// Human-readable diagnostic; the collector logs it verbatim.
		return m.writeLine(fmt.Sprintf("GPS: Not Fixed (Satellites: %d)", fix.Satellites))
	}

	return m.writeLine(frame.EncodePosition(frame.PositionSample{
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		Altitude:   fix.Altitude,
		Satellites: fix.Satellites,
		Clock:      m.lastClock,
		HasClock:   m.hasLastClock,
	}))
}

func (m *Mux) writeLine(line string) error {
	if _, err := io.WriteString(m.out, line+"\r\n"); err != nil {
		return fmt.Errorf("writing to serial channel: %w", err)
	}
	return nil
}
