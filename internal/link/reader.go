// Package link reads the inbound radio serial channel, reassembles the
// byte stream into candidate lines and forwards decode results. The link
// is half duplex and noisy: lines arrive truncated, garbled or not at all,
// and the device itself can vanish mid-run.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roman-kulish/thermal-logger/internal/frame"
	"github.com/roman-kulish/thermal-logger/internal/metrics"
)

const (
	// MaxLineLen bounds line reassembly. A line that grows past this
	// without a delimiter is noise or a stuck transmitter; it is
	// discarded and the buffer reset.
	MaxLineLen = 512

	// ReconnectAttempts is the reconnect budget after the device
	// disappears mid-run. Once spent, Run returns ErrLinkLost and the
	// supervisor is expected to restart the process.
	ReconnectAttempts = 5

	reconnectDelay = 5 * time.Second
	readChunkSize  = 256
)

// ErrLinkLost is returned by Run when the serial device is gone and the
// reconnect budget is exhausted.
var ErrLinkLost = errors.New("telemetry link lost")

// RawLine is the exact text received for one frame attempt, kept for
// forensic replay regardless of how decoding went.
type RawLine struct {
	ReceivedAt time.Time
	Text       string
	Outcome    frame.Outcome
}

// Telemetry is a decoded sample stamped with its local receipt time. The
// correlator windows on receipt time: the remote clock and the collector
// clock are not assumed synchronized.
type Telemetry struct {
	Record     frame.Record
	ReceivedAt time.Time
}

// WithMaxLineLen overrides the line reassembly bound.
func WithMaxLineLen(n int) func(*Reader) {
	return func(r *Reader) {
		r.maxLineLen = n
	}
}

// WithReconnect overrides the reconnect budget and delay.
func WithReconnect(attempts int, delay time.Duration) func(*Reader) {
	return func(r *Reader) {
		r.reconnectAttempts = attempts
		r.reconnectDelay = delay
	}
}

// Reader consumes the serial byte stream and fans out into two bounded
// channels: decoded telemetry records for the correlator, and raw lines
// for the audit store. Decode failures never stop the reader; the next
// line is always attempted.
type Reader struct {
	opener Opener

	records chan<- Telemetry
	raws    chan<- RawLine

	maxLineLen        int
	reconnectAttempts int
	reconnectDelay    time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics

	now func() time.Time
}

// NewReader creates a Reader. Records sent on records are only ClockSample
// and PositionSample values; status and skipped lines surface on raws
// alone.
func NewReader(opener Opener, records chan<- Telemetry, raws chan<- RawLine,
	logger *slog.Logger, m *metrics.Metrics, options ...func(*Reader)) *Reader {

	r := Reader{
		opener:            opener,
		records:           records,
		raws:              raws,
		maxLineLen:        MaxLineLen,
		reconnectAttempts: ReconnectAttempts,
		reconnectDelay:    reconnectDelay,
		logger:            logger.With(slog.String("component", "link")),
		metrics:           m,
		now:               time.Now,
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Run reads until ctx is cancelled or the reconnect budget is spent.
// It returns nil on cancellation and ErrLinkLost on a dead link.
func (r *Reader) Run(ctx context.Context) error {
	attempts := 0
	for {
		port, err := r.opener.Open()
		if err != nil {
			attempts++
			r.logger.Warn("opening serial port failed",
				slog.String("error", err.Error()),
				slog.Int("attempt", attempts))

			if attempts > r.reconnectAttempts {
				return fmt.Errorf("%w: %w", ErrLinkLost, err)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.reconnectDelay):
			}
			continue
		}

		attempts = 0
		err = r.consume(ctx, port)
		_ = port.Close()

		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			r.metrics.LinkReconnects.Inc()
			r.logger.Warn("serial port read failed, reconnecting", slog.String("error", err.Error()))
		}
	}
}

// consume reads from an open port until ctx is cancelled or the port
// errors out. Partial lines are buffered across reads; only a complete
// delimited line is forwarded.
func (r *Reader) consume(ctx context.Context, port io.Reader) error {
	var (
		pending   []byte
		discard   bool // past maxLineLen, dropping until next delimiter
		discarded []byte
	)
	buf := make([]byte, readChunkSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := port.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' {
				if discard {
					r.reportTooLong(discarded)
					discard = false
					discarded = nil
					continue
				}
				r.dispatch(string(trimCR(pending)))
				pending = pending[:0]
				continue
			}

			if discard {
				continue
			}

			pending = append(pending, b)
			if len(pending) > r.maxLineLen {
				discarded = append([]byte(nil), pending[:r.maxLineLen]...)
				pending = pending[:0]
				discard = true
			}
		}

		if err != nil {
			// A read timeout surfaces as EOF with the port still
			// usable; keep polling so shutdown stays observable.
			if errors.Is(err, io.EOF) {
				continue
			}
			return fmt.Errorf("reading serial port: %w", err)
		}
	}
}

// dispatch decodes one complete line, always records the raw text and
// forwards telemetry samples to the correlator queue.
func (r *Reader) dispatch(line string) {
	if line == "" {
		return
	}

	r.metrics.FramesReceived.Inc()
	received := r.now()

	record, err := frame.Decode(line)
	outcome := frame.Classify(record, err)

	r.forwardRaw(RawLine{ReceivedAt: received, Text: line, Outcome: outcome})

	switch outcome {
	case frame.OutcomeMalformed, frame.OutcomeInvalid:
		r.metrics.DecodeErrors.WithLabelValues(string(outcome)).Inc()
		r.logger.Warn("frame decode failed", slog.String("line", line), slog.String("error", err.Error()))
		return

	case frame.OutcomeStatus:
		status := record.(frame.StatusLine)
		r.logger.Info("remote status", slog.String("source", status.Source), slog.String("detail", status.Detail))
		return

	case frame.OutcomeSkipped:
		r.logger.Info("unrecognized line", slog.String("line", line))
		return
	}

	// Telemetry queue sheds the newest record when full: a stale cache
	// entry in the correlator beats blocking the radio path.
	select {
	case r.records <- Telemetry{Record: record, ReceivedAt: received}:
	default:
		r.metrics.TelemetryDropped.Inc()
		r.logger.Warn("telemetry queue full, record dropped", slog.String("line", line))
	}
}

func (r *Reader) reportTooLong(prefix []byte) {
	r.metrics.DecodeErrors.WithLabelValues(string(frame.OutcomeTooLong)).Inc()
	r.logger.Warn("line exceeded maximum length, discarded", slog.Int("limit", r.maxLineLen))
	r.forwardRaw(RawLine{ReceivedAt: r.now(), Text: string(trimCR(prefix)), Outcome: frame.OutcomeTooLong})
}

func (r *Reader) forwardRaw(raw RawLine) {
	select {
	case r.raws <- raw:
	default:
		r.logger.Warn("raw line queue full, audit record dropped")
	}
}

func trimCR(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\r' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return b
}
