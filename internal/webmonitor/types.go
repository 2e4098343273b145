package webmonitor

import (
	"github.com/threatlens/annotator/internal/recorder"
	"github.com/threatlens/annotator/internal/transport"
)

// MonitorStats summarizes emitted results since the server started.
type MonitorStats struct {
	FramesProcessed int     `json:"frames_processed"`
	CurrentFPS      float64 `json:"current_fps"`
	DetectionCount  int     `json:"detection_count"`
	TargetFPS       float64 `json:"target_fps"`
}

// StreamStatus describes the stream the monitor is currently running.
type StreamStatus struct {
	ID          string   `json:"id,omitempty"`
	Source      string   `json:"source"`
	State       string   `json:"state"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	FPS         float64  `json:"fps"`
	TotalFrames int      `json:"total_frames"`
	Progress    *float64 `json:"progress,omitempty"`
	Runs        int      `json:"runs"`
	LastError   string   `json:"last_error,omitempty"`
}

// Status is the payload of /api/status and /api/status/stream.
type Status struct {
	Monitor          MonitorStats             `json:"monitor"`
	Stream           StreamStatus             `json:"stream"`
	LatestDetection  *transport.Payload       `json:"latest_detection"`
	DetectionHistory []*transport.Payload     `json:"detection_history"`
	Recording        recorder.RecordingStatus `json:"recording"`
	WebRTCClients    int                      `json:"webrtc_clients"`
	Timestamp        float64                  `json:"timestamp"`
}

// CategoryInfo is one entry of /api/categories.
type CategoryInfo struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	Threat string `json:"threat"`
	Marker string `json:"marker,omitempty"`
}
