// Package correlate joins thermal captures with telemetry received over
// the radio link. Captures and telemetry arrive on independent cadences
// and either side can stall; the correlator holds each capture for a
// bounded time, fills in the nearest telemetry of each variant, and always
// lets the capture through — a thermal frame has value even without its
// geotag.
package correlate

import (
	"context"
	"log/slog"
	"time"

	"github.com/roman-kulish/thermal-logger/internal/capture"
	"github.com/roman-kulish/thermal-logger/internal/frame"
	"github.com/roman-kulish/thermal-logger/internal/link"
)

const (
	// DefaultTolerance is the correlation window: the maximum distance
	// between a capture and a telemetry receipt for them to be joined.
	DefaultTolerance = 3 * time.Second

	// DefaultHoldTimeout bounds how long a capture waits for telemetry
	// before being committed with whatever was found.
	DefaultHoldTimeout = 5 * time.Second

	sweepInterval = 500 * time.Millisecond
)

// Sample is the durable join of one capture with at most one telemetry
// record of each variant. Nil Clock or Position means that variant was
// unavailable within the window. Immutable once emitted.
type Sample struct {
	Event    capture.Event
	Clock    *frame.ClockSample
	Position *frame.PositionSample
}

type slot[T any] struct {
	record     T
	receivedAt time.Time
}

// pending is a capture waiting for telemetry. Candidate slots are
// replaced only by a strictly closer record, so the first record seen at
// a given distance wins and the outcome depends on timestamps alone.
type pending struct {
	event    capture.Event
	deadline time.Time

	clock    *slot[frame.ClockSample]
	position *slot[frame.PositionSample]
}

// WithTolerance overrides the correlation window.
func WithTolerance(d time.Duration) func(*Correlator) {
	return func(c *Correlator) {
		c.tolerance = d
	}
}

// WithHoldTimeout overrides the capture hold bound.
func WithHoldTimeout(d time.Duration) func(*Correlator) {
	return func(c *Correlator) {
		c.holdTimeout = d
	}
}

// Correlator is the sole owner of the telemetry window and the pending
// capture queue. All state is confined to the Run goroutine.
type Correlator struct {
	telemetry <-chan link.Telemetry
	captures  <-chan capture.Event
	samples   chan<- Sample

	tolerance   time.Duration
	holdTimeout time.Duration

	lastClock    *slot[frame.ClockSample]
	lastPosition *slot[frame.PositionSample]
	queue        []*pending

	logger *slog.Logger
	now    func() time.Time
}

// New creates a Correlator consuming telemetry and captures and emitting
// correlated samples. The samples channel is closed when Run returns.
func New(telemetry <-chan link.Telemetry, captures <-chan capture.Event, samples chan<- Sample,
	logger *slog.Logger, options ...func(*Correlator)) *Correlator {

	c := Correlator{
		telemetry:   telemetry,
		captures:    captures,
		samples:     samples,
		tolerance:   DefaultTolerance,
		holdTimeout: DefaultHoldTimeout,
		logger:      logger.With(slog.String("component", "correlate")),
		now:         time.Now,
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Run processes until ctx is cancelled or both input channels are closed.
// On the way out every held capture is flushed as a timeout commit, so no
// capture is ever silently dropped here.
func (c *Correlator) Run(ctx context.Context) {
	defer close(c.samples)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	telemetry, captures := c.telemetry, c.captures
	for {
		select {
		case <-ctx.Done():
			c.flushAll(ctx)
			return

		case t, ok := <-telemetry:
			if !ok {
				telemetry = nil
				break
			}
			c.onTelemetry(ctx, t)

		case ev, ok := <-captures:
			if !ok {
				captures = nil
				break
			}
			c.onCapture(ctx, ev)

		case now := <-ticker.C:
			c.sweep(ctx, now)
		}

		if telemetry == nil && captures == nil {
			c.flushAll(ctx)
			return
		}
	}
}

// onTelemetry updates the window and offers the record to every held
// capture. Emits any capture whose both slots are now filled.
func (c *Correlator) onTelemetry(ctx context.Context, t link.Telemetry) {
	switch r := t.Record.(type) {
	case frame.ClockSample:
		c.lastClock = &slot[frame.ClockSample]{record: r, receivedAt: t.ReceivedAt}
		for _, p := range c.queue {
			offerClock(p, c.lastClock, c.tolerance)
		}

	case frame.PositionSample:
		c.lastPosition = &slot[frame.PositionSample]{record: r, receivedAt: t.ReceivedAt}
		for _, p := range c.queue {
			offerPosition(p, c.lastPosition, c.tolerance)
		}

	default:
		// Status and skipped lines never reach this queue.
		return
	}

	c.emitReady(ctx)
}

// onCapture seeds a pending entry from the current window and either
// emits it at once (both variants already in range) or holds it for late
// telemetry.
func (c *Correlator) onCapture(ctx context.Context, ev capture.Event) {
	p := &pending{
		event:    ev,
		deadline: ev.CapturedAt.Add(c.holdTimeout),
	}

	offerClock(p, c.lastClock, c.tolerance)
	offerPosition(p, c.lastPosition, c.tolerance)

	if p.clock != nil && p.position != nil {
		c.emit(ctx, p)
		return
	}

	c.queue = append(c.queue, p)
}

// sweep emits every held capture whose hold deadline has passed.
func (c *Correlator) sweep(ctx context.Context, now time.Time) {
	kept := c.queue[:0]
	for _, p := range c.queue {
		if now.Before(p.deadline) {
			kept = append(kept, p)
			continue
		}

		if p.position == nil {
			c.logger.Info("capture committed without position", slog.String("id", p.event.ID))
		}
		c.emit(ctx, p)
	}
	c.queue = kept
}

func (c *Correlator) emitReady(ctx context.Context) {
	kept := c.queue[:0]
	for _, p := range c.queue {
		if p.clock != nil && p.position != nil {
			c.emit(ctx, p)
			continue
		}
		kept = append(kept, p)
	}
	c.queue = kept
}

func (c *Correlator) flushAll(ctx context.Context) {
	for _, p := range c.queue {
		c.emit(ctx, p)
	}
	c.queue = nil
}

// emit hands a sample to persistence. The send blocks: persistence
// backpressure is meant to propagate here and, through the capture queue,
// to the scheduler's drop policy.
func (c *Correlator) emit(ctx context.Context, p *pending) {
	s := Sample{Event: p.event}
	if p.clock != nil {
		s.Clock = &p.clock.record
	}
	if p.position != nil {
		s.Position = &p.position.record
	}

	select {
	case c.samples <- s:
	case <-ctx.Done():
	}
}

// offerClock fills or improves the clock slot of a pending capture.
// A candidate qualifies when its receipt time is within tolerance of the
// capture time, and replaces an existing candidate only when strictly
// closer.
func offerClock(p *pending, s *slot[frame.ClockSample], tolerance time.Duration) {
	if s == nil || !within(p.event.CapturedAt, s.receivedAt, tolerance) {
		return
	}
	if p.clock != nil && distance(p.event.CapturedAt, s.receivedAt) >= distance(p.event.CapturedAt, p.clock.receivedAt) {
		return
	}
	p.clock = s
}

func offerPosition(p *pending, s *slot[frame.PositionSample], tolerance time.Duration) {
	if s == nil || !within(p.event.CapturedAt, s.receivedAt, tolerance) {
		return
	}
	if p.position != nil && distance(p.event.CapturedAt, s.receivedAt) >= distance(p.event.CapturedAt, p.position.receivedAt) {
		return
	}
	p.position = s
}

func within(a, b time.Time, tolerance time.Duration) bool {
	return distance(a, b) <= tolerance
}

func distance(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d
}
