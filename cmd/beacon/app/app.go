// Package app wires the beacon: a bench-side stand-in for the remote
// GPS/RTC unit, emitting telemetry frames onto a serial channel.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/tarm/serial"

	"github.com/roman-kulish/thermal-logger/internal/beacon"
)

// Run emits frames until ctx is cancelled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	out, closeOut, err := openOutput(&config.Output)
	if err != nil {
		return fmt.Errorf("opening output: %w", err)
	}
	defer closeOut()

	var clock beacon.ClockSource = beacon.SystemClock{}
	if !config.Clock.Enabled {
		clock = beacon.NullClock{}
	}

	mux := beacon.New(clock, beacon.NewReplaySource(config.Position.Fixes), out, logger,
		beacon.WithIntervals(
			time.Duration(config.Clock.Interval*float64(time.Second)),
			time.Duration(config.Position.Interval*float64(time.Second))))

	logger.Info("beacon started",
		slog.String("port", config.Output.Port),
		slog.Bool("clock", config.Clock.Enabled),
		slog.Int("fixes", len(config.Position.Fixes)))

	return mux.Run(ctx)
}

func openOutput(config *OutputConfig) (io.Writer, func(), error) {
	if config.Port == "-" {
		return os.Stdout, func() {}, nil
	}

	port, err := serial.OpenPort(&serial.Config{Name: config.Port, Baud: config.BaudRate})
	if err != nil {
		return nil, nil, err
	}
	return port, func() { _ = port.Close() }, nil
}
