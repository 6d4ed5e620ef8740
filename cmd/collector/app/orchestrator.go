package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/thermal-logger/internal/capture"
	"github.com/roman-kulish/thermal-logger/internal/correlate"
	"github.com/roman-kulish/thermal-logger/internal/link"
	"github.com/roman-kulish/thermal-logger/internal/metrics"
	"github.com/roman-kulish/thermal-logger/internal/render"
	"github.com/roman-kulish/thermal-logger/internal/store"
)

const commitRetryBackoff = 500 * time.Millisecond

// Orchestrator owns the pipeline goroutines and the queues between them.
// Data flows link -> correlator <- scheduler, correlator -> persistence;
// every queue is bounded and sheds load instead of growing.
type Orchestrator struct {
	reader     *link.Reader
	scheduler  *capture.Scheduler
	correlator *correlate.Correlator

	store    *store.Store
	renderer *render.Renderer

	telemetry chan link.Telemetry
	captures  chan capture.Event
	samples   chan correlate.Sample
	raws      chan link.RawLine

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewOrchestrator wires the pipeline from configuration.
func NewOrchestrator(config *Config, st *store.Store, source capture.FrameSource,
	opener link.Opener, logger *slog.Logger, m *metrics.Metrics) (*Orchestrator, error) {

	renderer, err := render.New(render.Config{Scale: config.Render.Scale})
	if err != nil {
		return nil, fmt.Errorf("creating renderer: %w", err)
	}

	o := Orchestrator{
		store:     st,
		renderer:  renderer,
		telemetry: make(chan link.Telemetry, config.Queues.Telemetry),
		captures:  make(chan capture.Event, config.Queues.Captures),
		samples:   make(chan correlate.Sample, config.Queues.Samples),
		raws:      make(chan link.RawLine, config.Queues.RawLines),
		logger:    logger,
		metrics:   m,
	}

	o.reader = link.NewReader(opener, o.telemetry, o.raws, logger, m,
		link.WithMaxLineLen(config.Link.MaxLineLength),
		link.WithReconnect(config.Link.ReconnectAttempts, seconds(config.Link.ReconnectDelay)))

	o.scheduler = capture.NewScheduler(source, seconds(config.Capture.Interval), o.captures, logger, m)

	o.correlator = correlate.New(o.telemetry, o.captures, o.samples, logger,
		correlate.WithTolerance(seconds(config.Correlate.Tolerance)),
		correlate.WithHoldTimeout(seconds(config.Correlate.HoldTimeout)))

	return &o, nil
}

// Run starts the pipeline and blocks until ctx is cancelled or the link
// is lost. On the way out in-flight samples are drained through
// persistence before the stores close.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	linkErr := make(chan error, 1)

	var producers sync.WaitGroup
	producers.Add(2)
	go func() {
		defer producers.Done()
		if err := o.reader.Run(ctx); err != nil {
			linkErr <- err
			cancel() // the pipeline cannot run without its link
			return
		}
		linkErr <- nil
	}()
	go func() {
		defer producers.Done()
		o.scheduler.Run(ctx)
	}()

	// The correlator drains and closes samples once both inputs close.
	correlatorDone := make(chan struct{})
	go func() {
		defer close(correlatorDone)
		o.correlator.Run(context.Background())
	}()

	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		o.persist()
	}()

	<-ctx.Done()

	// Producers stop first, then their queues close so the correlator
	// and persistence can drain what is already in flight.
	producers.Wait()
	close(o.telemetry)
	close(o.captures)
	<-correlatorDone
	close(o.raws)
	<-persistDone

	return <-linkErr
}

// persist is the single consumer of samples and raw lines, and the only
// writer to the stores.
func (o *Orchestrator) persist() {
	samples, raws := o.samples, o.raws
	for samples != nil || raws != nil {
		select {
		case s, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			o.persistSample(s)

		case raw, ok := <-raws:
			if !ok {
				raws = nil
				continue
			}
			if err := o.store.AppendRaw(raw); err != nil {
				o.logger.Error("appending raw line failed", slog.String("error", err.Error()))
			}
		}
	}
}

// persistSample renders and commits one sample, retrying the commit once
// before dropping it. A single storage hiccup must not end a multi-day
// run.
func (o *Orchestrator) persistSample(s correlate.Sample) {
	png, err := o.renderer.Render(s.Event.Frame, caption(s))
	if err != nil {
		// The raw buffer still gets stored; only the rendering is lost.
		o.logger.Warn("rendering frame failed", slog.String("id", s.Event.ID), slog.String("error", err.Error()))
		png = nil
	}

	if err := o.store.Commit(s, png); err != nil {
		o.logger.Warn("commit failed, retrying", slog.String("id", s.Event.ID), slog.String("error", err.Error()))
		time.Sleep(commitRetryBackoff)

		if err := o.store.Commit(s, png); err != nil {
			o.metrics.SamplesFailed.Inc()
			o.logger.Error("commit failed twice, sample dropped", slog.String("id", s.Event.ID), slog.String("error", err.Error()))
			return
		}
	}

	o.metrics.SamplesCommitted.Inc()
	o.logger.Info("sample committed",
		slog.String("id", s.Event.ID),
		slog.String("image", humanize.Bytes(uint64(len(png)))),
		slog.Bool("hasClock", s.Clock != nil),
		slog.Bool("hasPosition", s.Position != nil))
}

// caption builds the one-line HUD drawn on the rendered image.
func caption(s correlate.Sample) string {
	minVal, maxVal, avg := s.Event.Frame.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, "%s min:%d max:%d avg:%.0f",
		s.Event.CapturedAt.UTC().Format("2006-01-02 15:04:05"), minVal, maxVal, avg)

	if s.Position != nil {
		fmt.Fprintf(&b, " %.6f,%.6f alt:%.1fm sats:%d",
			s.Position.Latitude, s.Position.Longitude, s.Position.Altitude, s.Position.Satellites)
	} else {
		b.WriteString(" gps:unavailable")
	}

	return b.String()
}
