package webmonitor

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/threatlens/annotator/internal/transport"
	"github.com/threatlens/annotator/pkg/types"
)

const fpsWindow = 30

// Monitor keeps the statistics served by /api/status.
type Monitor struct {
	clock       clock.Clock
	historySize int

	mu               sync.Mutex
	stream           StreamStatus
	info             types.VideoInfo
	running          bool
	framesProcessed  int
	detectionCount   int
	emitTimes        []time.Time
	latestDetection  *transport.Payload
	detectionHistory []*transport.Payload
}

// NewMonitor creates a Monitor keeping up to historySize frames with detections.
func NewMonitor(historySize int, clk clock.Clock) *Monitor {
	if historySize <= 0 {
		historySize = 8
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		clock:       clk,
		historySize: historySize,
		stream:      StreamStatus{State: "idle"},
	}
}

// StreamStarted records a freshly opened stream.
func (m *Monitor) StreamStarted(id, source string, info types.VideoInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stream.ID = id
	m.stream.Source = source
	m.stream.State = "streaming"
	m.stream.Width = info.Width
	m.stream.Height = info.Height
	m.stream.FPS = info.FPS
	m.stream.TotalFrames = info.TotalFrames
	m.stream.Progress = nil
	m.stream.Runs++
	m.info = info
	m.running = true
	m.emitTimes = m.emitTimes[:0]
}

// StreamEnded records the end of the current stream. A nil err means the source was exhausted.
func (m *Monitor) StreamEnded(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = false
	if err != nil {
		m.stream.State = "failed"
		m.stream.LastError = err.Error()
		return
	}
	m.stream.State = "closed"
}

// Observe records one emitted frame.
func (m *Monitor) Observe(p *transport.Payload) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.framesProcessed++
	m.detectionCount += p.Count
	if p.Progress != nil {
		v := *p.Progress
		m.stream.Progress = &v
	}

	m.emitTimes = append(m.emitTimes, m.clock.Now())
	if len(m.emitTimes) > fpsWindow {
		m.emitTimes = m.emitTimes[len(m.emitTimes)-fpsWindow:]
	}

	m.latestDetection = p
	if p.Count > 0 {
		m.detectionHistory = append([]*transport.Payload{p}, m.detectionHistory...)
		if len(m.detectionHistory) > m.historySize {
			m.detectionHistory = m.detectionHistory[:m.historySize]
		}
	}
}

// StreamInfo returns the metadata of the running stream.
func (m *Monitor) StreamInfo() (types.VideoInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info, m.running
}

// Snapshot returns the current statistics. Payloads are shared and must not be modified.
func (m *Monitor) Snapshot() (MonitorStats, StreamStatus, *transport.Payload, []*transport.Payload) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		FramesProcessed: m.framesProcessed,
		CurrentFPS:      m.currentFPSLocked(),
		DetectionCount:  m.detectionCount,
		TargetFPS:       m.info.FPS,
	}

	stream := m.stream
	if stream.Progress != nil {
		v := *stream.Progress
		stream.Progress = &v
	}

	history := make([]*transport.Payload, len(m.detectionHistory))
	copy(history, m.detectionHistory)

	return stats, stream, m.latestDetection, history
}

func (m *Monitor) currentFPSLocked() float64 {
	n := len(m.emitTimes)
	if n < 2 {
		return 0
	}
	span := m.emitTimes[n-1].Sub(m.emitTimes[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(n-1) / span
}
