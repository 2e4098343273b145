// Package config holds stream and server settings, their defaults and YAML loading.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FailurePolicy decides what a stream does when the detection model fails on a frame.
type FailurePolicy string

const (
	// PolicyAbort fails the stream on the first model failure.
	PolicyAbort FailurePolicy = "abort"
	// PolicySkip logs the failure, drops the frame and continues.
	PolicySkip FailurePolicy = "skip"
)

// StreamConfig configures one annotation stream.
type StreamConfig struct {
	Source              string        `yaml:"source"`
	Model               string        `yaml:"model"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	FrameSkip           int           `yaml:"frame_skip"`
	SinkPath            string        `yaml:"sink_path"`
	OnModelFailure      FailurePolicy `yaml:"on_model_failure"`

	// FPS is reported for image-sequence sources, which carry no timing.
	FPS          float64       `yaml:"fps"`
	ModelTimeout time.Duration `yaml:"model_timeout"`
}

// ServerConfig configures the live monitor.
type ServerConfig struct {
	Addr                string        `yaml:"addr"`
	MetricsAddr         string        `yaml:"metrics_addr"`
	RecordingOutputPath string        `yaml:"recording_output_path"`
	STUNServers         []string      `yaml:"stun_servers"`
	MaxWebRTCClients    int           `yaml:"max_webrtc_clients"`
	StatusInterval      time.Duration `yaml:"status_interval"`
	JPEGQuality         int           `yaml:"jpeg_quality"`
	HistorySize         int           `yaml:"history_size"`
	// Realtime paces file sources at their native frame rate.
	Realtime bool `yaml:"realtime"`
	// Loop reopens the source when it ends.
	Loop bool `yaml:"loop"`
	// HeaderOverlay draws the frame counter line on the MJPEG feed.
	HeaderOverlay bool `yaml:"header_overlay"`
}

// LogConfig selects logger level and coloring. Modules maps a module tag
// such as "Detector" to a level overriding Level for that tag.
type LogConfig struct {
	Level   string            `yaml:"level"`
	Color   bool              `yaml:"color"`
	Modules map[string]string `yaml:"modules"`
}

// Config is the full file layout.
type Config struct {
	Stream StreamConfig `yaml:"stream"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// DefaultStreamConfig returns the stream defaults: threshold 0.5, every frame, abort on model failure.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Model:               "none",
		ConfidenceThreshold: 0.5,
		FrameSkip:           1,
		OnModelFailure:      PolicyAbort,
		ModelTimeout:        10 * time.Second,
	}
}

// DefaultConfig returns a config usable without a file.
func DefaultConfig() Config {
	return Config{
		Stream: DefaultStreamConfig(),
		Server: ServerConfig{
			Addr:                ":8080",
			MetricsAddr:         ":9090",
			RecordingOutputPath: "./recordings",
			STUNServers:         []string{"stun:stun.l.google.com:19302"},
			MaxWebRTCClients:    10,
			StatusInterval:      2 * time.Second,
			JPEGQuality:         80,
			HistorySize:         8,
			Realtime:            true,
			HeaderOverlay:       true,
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
	}
}

// Load reads a YAML file over DefaultConfig. Keys absent from the file keep their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over DefaultConfig. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the stream settings that Open relies on.
func (c StreamConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if !(c.ConfidenceThreshold > 0 && c.ConfidenceThreshold <= 1) {
		return fmt.Errorf("confidence_threshold must be in (0, 1], got %g", c.ConfidenceThreshold)
	}
	if c.FrameSkip < 1 {
		return fmt.Errorf("frame_skip must be >= 1, got %d", c.FrameSkip)
	}
	switch c.OnModelFailure {
	case PolicyAbort, PolicySkip:
	default:
		return fmt.Errorf("on_model_failure must be %q or %q, got %q", PolicyAbort, PolicySkip, c.OnModelFailure)
	}
	if !(c.FPS >= 0) {
		return fmt.Errorf("fps must not be negative, got %g", c.FPS)
	}
	return nil
}

// Validate checks the whole config.
func (c Config) Validate() error {
	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	if c.Server.JPEGQuality < 1 || c.Server.JPEGQuality > 100 {
		return fmt.Errorf("server: jpeg_quality must be in [1, 100], got %d", c.Server.JPEGQuality)
	}
	if c.Server.StatusInterval <= 0 {
		return fmt.Errorf("server: status_interval must be positive")
	}
	if c.Server.HistorySize < 0 {
		return fmt.Errorf("server: history_size must not be negative")
	}
	return nil
}
