package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultStreamConfig(t *testing.T) {
	c := DefaultStreamConfig()
	assert.Equal(t, 0.5, c.ConfidenceThreshold)
	assert.Equal(t, 1, c.FrameSkip)
	assert.Equal(t, PolicyAbort, c.OnModelFailure)
	assert.Empty(t, c.SinkPath)
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
stream:
  source: clips/patrol.mp4
  model: http://localhost:9000/infer
  confidence_threshold: 0.6
  frame_skip: 2
  on_model_failure: skip
server:
  addr: ":8088"
  status_interval: 500ms
log:
  level: debug
  modules:
    Detector: warn
`))
	require.NoError(t, err)

	assert.Equal(t, "clips/patrol.mp4", cfg.Stream.Source)
	assert.Equal(t, 0.6, cfg.Stream.ConfidenceThreshold)
	assert.Equal(t, 2, cfg.Stream.FrameSkip)
	assert.Equal(t, PolicySkip, cfg.Stream.OnModelFailure)
	assert.Equal(t, 10*time.Second, cfg.Stream.ModelTimeout)
	assert.Equal(t, ":8088", cfg.Server.Addr)
	assert.Equal(t, 500*time.Millisecond, cfg.Server.StatusInterval)
	assert.Equal(t, ":9090", cfg.Server.MetricsAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Color)
	assert.Equal(t, map[string]string{"Detector": "warn"}, cfg.Log.Modules)
	require.NoError(t, cfg.Validate())
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("stream:\n  treshold: 0.4\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stream:\n  source: frames/\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "frames/", cfg.Stream.Source)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStreamValidate(t *testing.T) {
	valid := DefaultStreamConfig()
	valid.Source = "in.mp4"
	require.NoError(t, valid.Validate())

	one := valid
	one.ConfidenceThreshold = 1
	assert.NoError(t, one.Validate(), "threshold 1 is inclusive")

	cases := map[string]func(*StreamConfig){
		"no source":      func(c *StreamConfig) { c.Source = "" },
		"zero threshold": func(c *StreamConfig) { c.ConfidenceThreshold = 0 },
		"big threshold":  func(c *StreamConfig) { c.ConfidenceThreshold = 1.01 },
		"zero skip":      func(c *StreamConfig) { c.FrameSkip = 0 },
		"bad policy":     func(c *StreamConfig) { c.OnModelFailure = "retry" },
		"negative fps":   func(c *StreamConfig) { c.FPS = -1 },
		"nan threshold":  func(c *StreamConfig) { c.ConfidenceThreshold = math.NaN() },
		"nan fps":        func(c *StreamConfig) { c.FPS = math.NaN() },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestParseNaNThresholdRejected(t *testing.T) {
	cfg, err := Parse([]byte("stream:\n  source: in.mp4\n  confidence_threshold: .nan\n"))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(cfg.Stream.ConfidenceThreshold))
	assert.ErrorContains(t, cfg.Validate(), "confidence_threshold")
}

func TestConfigValidateServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stream.Source = "in.mp4"
	require.NoError(t, cfg.Validate())

	cfg.Server.JPEGQuality = 0
	assert.Error(t, cfg.Validate())
}
