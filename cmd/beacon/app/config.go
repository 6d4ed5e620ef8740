package app

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/thermal-logger/internal/beacon"
)

// Config represents the beacon configuration. Intervals are in seconds.
type Config struct {
	Settings Settings       `yaml:"settings"`
	Output   OutputConfig   `yaml:"output"`
	Clock    ClockConfig    `yaml:"clock"`
	Position PositionConfig `yaml:"position"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// OutputConfig represents the outbound serial channel. Port "-" writes
// frames to stdout, for piping into a collector on the bench.
type OutputConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baudRate"`
}

// ClockConfig represents the clock source. Disabled models a missing
// RTC: the beacon then emits NOT_CONNECTED status on every clock tick.
type ClockConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Interval float64 `yaml:"interval"`
}

// PositionConfig represents the position source: a scripted list of
// fixes replayed in order. An empty list reports a permanent no-fix.
type PositionConfig struct {
	Interval float64      `yaml:"interval"`
	Fixes    []beacon.Fix `yaml:"fixes"`
}

// LoadConfig reads and validates the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	config := Config{
		Settings: Settings{LogLevel: "info"},
		Output:   OutputConfig{Port: "-", BaudRate: 9600},
		Clock:    ClockConfig{Enabled: true, Interval: 3},
		Position: PositionConfig{Interval: 6},
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if config.Output.Port == "" {
		return nil, fmt.Errorf("output: port is required")
	}
	if config.Output.BaudRate <= 0 {
		return nil, fmt.Errorf("output: invalid baud rate %d", config.Output.BaudRate)
	}
	if config.Clock.Interval <= 0 || config.Position.Interval <= 0 {
		return nil, fmt.Errorf("intervals must be positive")
	}

	return &config, nil
}

// Level parses the configured log level, defaulting to Info.
func (s Settings) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
