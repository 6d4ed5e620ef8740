// Package app wires the collector pipeline: serial link in, thermal
// captures in, correlated samples out to per-run datasets on disk.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roman-kulish/thermal-logger/internal/capture"
	"github.com/roman-kulish/thermal-logger/internal/link"
	"github.com/roman-kulish/thermal-logger/internal/metrics"
	"github.com/roman-kulish/thermal-logger/internal/store"
)

// Exit codes per unrecoverable failure class.
const (
	ExitOK = iota
	ExitConfig
	ExitStorage
	ExitLink
)

// ErrStorageUnavailable wraps startup storage failures, mapped to
// ExitStorage by main.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ExitCode maps a Run error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrStorageUnavailable):
		return ExitStorage
	case errors.Is(err, link.ErrLinkLost), errors.Is(err, link.ErrNoDevice):
		return ExitLink
	default:
		return ExitConfig
	}
}

// Run executes the collector until ctx is cancelled or an unrecoverable
// failure occurs.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	st, err := store.Open(config.Storage.DataDirectory)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	defer st.Close()

	source, err := openSource(&config.Capture)
	if err != nil {
		return fmt.Errorf("opening frame source: %w", err)
	}
	defer source.Close()

	opener := &link.SerialOpener{
		Ports:       config.Link.Ports,
		Baud:        config.Link.BaudRate,
		ReadTimeout: seconds(config.Link.ReadTimeout),
	}

	orchestrator, err := NewOrchestrator(config, st, source, opener, logger, m)
	if err != nil {
		return err
	}

	if config.Metrics.Listen != "" {
		stop := serveMetrics(config.Metrics.Listen, registry, logger)
		defer stop()
	}

	logger.Info("collector started",
		slog.String("runDir", st.RunDir()),
		slog.Any("ports", config.Link.Ports),
		slog.String("source", string(config.Capture.Source)))

	err = orchestrator.Run(ctx)
	logSummary(registry, logger)
	return err
}

func openSource(config *CaptureConfig) (capture.FrameSource, error) {
	switch config.Source {
	case SourceStream:
		return capture.OpenStream(config.StreamPath, config.Width, config.Height)
	default:
		return capture.NewSyntheticSource(config.Width, config.Height), nil
	}
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener failed", slog.String("error", err.Error()))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}

// logSummary writes the end-of-run counter totals, the session log
// operators read after a flight.
func logSummary(registry *prometheus.Registry, logger *slog.Logger) {
	families, err := registry.Gather()
	if err != nil {
		return
	}

	attrs := make([]any, 0, len(families))
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		attrs = append(attrs, slog.Int64(mf.GetName(), int64(total)))
	}

	logger.Info("run summary", attrs...)
}
