package app

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SourceSynthetic SourceType = "synthetic"
	SourceStream    SourceType = "stream"
)

type SourceType string

// Config represents the main collector configuration. Intervals and
// timeouts are in seconds.
type Config struct {
	Settings  Settings        `yaml:"settings"`
	Link      LinkConfig      `yaml:"link"`
	Capture   CaptureConfig   `yaml:"capture"`
	Correlate CorrelateConfig `yaml:"correlate"`
	Queues    QueueConfig     `yaml:"queues"`
	Storage   StorageConfig   `yaml:"storage"`
	Render    RenderConfig    `yaml:"render"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// LinkConfig represents the radio serial link settings
type LinkConfig struct {
	Ports             []string `yaml:"ports"`
	BaudRate          int      `yaml:"baudRate"`
	ReadTimeout       float64  `yaml:"readTimeout"`
	MaxLineLength     int      `yaml:"maxLineLength"`
	ReconnectAttempts int      `yaml:"reconnectAttempts"`
	ReconnectDelay    float64  `yaml:"reconnectDelay"`
}

// CaptureConfig represents the thermal capture settings
type CaptureConfig struct {
	Source     SourceType `yaml:"source"`
	StreamPath string     `yaml:"streamPath"`
	Width      int        `yaml:"width"`
	Height     int        `yaml:"height"`
	Interval   float64    `yaml:"interval"`
}

// CorrelateConfig represents the correlation window settings
type CorrelateConfig struct {
	Tolerance   float64 `yaml:"tolerance"`
	HoldTimeout float64 `yaml:"holdTimeout"`
}

// QueueConfig represents the bounded queue capacities
type QueueConfig struct {
	Telemetry int `yaml:"telemetry"`
	Captures  int `yaml:"captures"`
	Samples   int `yaml:"samples"`
	RawLines  int `yaml:"rawLines"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory"`
}

// RenderConfig represents image rendering settings
type RenderConfig struct {
	Scale int `yaml:"scale"`
}

// MetricsConfig represents the optional metrics listener. An empty
// address keeps the process without any network surface.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoadConfig reads and validates the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	config := Config{
		Settings: Settings{LogLevel: "info"},
		Link: LinkConfig{
			Ports:             []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyACM0", "/dev/ttyACM1"},
			BaudRate:          9600,
			ReadTimeout:       1,
			MaxLineLength:     512,
			ReconnectAttempts: 5,
			ReconnectDelay:    5,
		},
		Capture: CaptureConfig{
			Source:   SourceSynthetic,
			Width:    160,
			Height:   120,
			Interval: 30,
		},
		Correlate: CorrelateConfig{
			Tolerance:   3,
			HoldTimeout: 5,
		},
		Queues: QueueConfig{
			Telemetry: 64,
			Captures:  8,
			Samples:   8,
			RawLines:  256,
		},
		Storage: StorageConfig{DataDirectory: "data"},
		Render:  RenderConfig{Scale: 1},
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if len(c.Link.Ports) == 0 {
		return fmt.Errorf("link: at least one serial port is required")
	}
	if c.Link.BaudRate <= 0 {
		return fmt.Errorf("link: invalid baud rate %d", c.Link.BaudRate)
	}
	if c.Link.MaxLineLength <= 0 {
		return fmt.Errorf("link: invalid maximum line length %d", c.Link.MaxLineLength)
	}

	switch c.Capture.Source {
	case SourceSynthetic:
	case SourceStream:
		if c.Capture.StreamPath == "" {
			return fmt.Errorf("capture: stream source requires streamPath")
		}
	default:
		return fmt.Errorf("capture: unknown source '%s'", c.Capture.Source)
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture: invalid frame geometry %dx%d", c.Capture.Width, c.Capture.Height)
	}
	if c.Capture.Interval <= 0 {
		return fmt.Errorf("capture: invalid interval %f", c.Capture.Interval)
	}

	if c.Correlate.Tolerance <= 0 || c.Correlate.HoldTimeout <= 0 {
		return fmt.Errorf("correlate: tolerance and holdTimeout must be positive")
	}
	for name, v := range map[string]int{
		"telemetry": c.Queues.Telemetry,
		"captures":  c.Queues.Captures,
		"samples":   c.Queues.Samples,
		"rawLines":  c.Queues.RawLines,
	} {
		if v <= 0 {
			return fmt.Errorf("queues: %s capacity must be positive", name)
		}
	}

	return nil
}

// Level parses the configured log level, defaulting to Info.
func (s Settings) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
