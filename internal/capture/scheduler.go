package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roman-kulish/thermal-logger/internal/metrics"
)

// DefaultInterval is the reference capture cadence.
const DefaultInterval = 30 * time.Second

// Scheduler triggers thermal captures on a fixed cadence. The events
// channel uses a drop-oldest policy under backpressure: when persistence
// falls behind, the stalest pending capture is shed so the newest frame
// still gets through.
type Scheduler struct {
	source   FrameSource
	interval time.Duration
	events   chan Event

	logger  *slog.Logger
	metrics *metrics.Metrics

	now  func() time.Time
	seq  int
	last string
}

// NewScheduler creates a Scheduler emitting on events. The channel must
// be buffered; the scheduler never blocks on it.
func NewScheduler(source FrameSource, interval time.Duration, events chan Event,
	logger *slog.Logger, m *metrics.Metrics) *Scheduler {

	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Scheduler{
		source:   source,
		interval: interval,
		events:   events,
		logger:   logger.With(slog.String("component", "capture")),
		metrics:  m,
		now:      time.Now,
	}
}

// Run captures until ctx is cancelled. The first capture fires
// immediately, then on every tick. Capture failures are counted and the
// tick skipped; they never stop the cadence.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.capture(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.capture(ctx)
		}
	}
}

func (s *Scheduler) capture(ctx context.Context) {
	frame, err := s.source.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.metrics.CaptureFailures.Inc()
		s.logger.Warn("capture failed, skipping tick", slog.String("error", err.Error()))
		return
	}

	capturedAt := s.now()
	ev := Event{
		ID:         s.nextID(capturedAt),
		CapturedAt: capturedAt,
		Frame:      frame,
	}
	s.metrics.CapturesTaken.Inc()

	select {
	case s.events <- ev:
		return
	default:
	}

	// Queue full: evict the oldest pending capture, then retry once.
	select {
	case old := <-s.events:
		s.metrics.CapturesDropped.Inc()
		s.logger.Warn("capture queue full, oldest capture dropped", slog.String("id", old.ID))
	default:
	}

	select {
	case s.events <- ev:
	default:
		s.metrics.CapturesDropped.Inc()
		s.logger.Warn("capture queue full, capture dropped", slog.String("id", ev.ID))
	}
}

// nextID derives the sample identifier from the capture time, UTC second
// resolution, with a sequence suffix when two captures land in the same
// second.
func (s *Scheduler) nextID(t time.Time) string {
	id := t.UTC().Format("20060102_150405")
	if id == s.last {
		s.seq++
		return fmt.Sprintf("%s_%d", id, s.seq)
	}

	s.last = id
	s.seq = 0
	return id
}
