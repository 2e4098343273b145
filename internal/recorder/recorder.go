package recorder

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/threatlens/annotator/internal/logger"
	"github.com/threatlens/annotator/internal/video"
	"github.com/threatlens/annotator/pkg/types"
)

var log = logger.For("Recorder")

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// SinkOpener creates the sink a recording is written to.
type SinkOpener func(path string, info types.VideoInfo) (video.Sink, error)

// Options tunes a Recorder. Zero fields get defaults.
type Options struct {
	// Ext is the container extension for generated names (default ".mp4").
	// An empty-extension name records a PNG sequence directory instead.
	Ext      string
	Buffer   int
	OpenSink SinkOpener
	Clock    clock.Clock
}

// Recorder writes annotated frames to a sink on demand. Frames are queued
// without blocking the caller and written by one goroutine per recording.
type Recorder struct {
	mu       sync.RWMutex
	basePath string
	opts     Options
	active   *session
	last     *session
}

// session is one recording. Its writer closes finished once the queue is
// drained, so Stop waits only for its own recording.
type session struct {
	sink       video.Sink
	path       string
	frames     chan image.Image
	done       chan struct{}
	finished   chan struct{}
	frameCount uint64
	dropped    uint64
	startTime  time.Time
	lastErr    error
}

// NewRecorder creates a recorder writing under basePath.
func NewRecorder(basePath string, opts Options) *Recorder {
	if opts.Ext == "" {
		opts.Ext = ".mp4"
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 60
	}
	if opts.OpenSink == nil {
		opts.OpenSink = video.OpenSink
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Recorder{
		basePath: basePath,
		opts:     opts,
	}
}

// Start opens a new recording for frames described by info. An empty name
// generates one from the current time. It returns the output path.
func (r *Recorder) Start(info types.VideoInfo, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return "", ErrAlreadyRecording
	}

	now := r.opts.Clock.Now()
	if name == "" {
		name = fmt.Sprintf("recording_%s%s", now.Format("20060102_150405"), r.opts.Ext)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid recording name %q", name)
	}

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return "", fmt.Errorf("create recordings dir: %w", err)
	}
	path := filepath.Join(r.basePath, name)
	sink, err := r.opts.OpenSink(path, info)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}

	sess := &session{
		sink:      sink,
		path:      path,
		frames:    make(chan image.Image, r.opts.Buffer),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		startTime: now,
	}
	r.active = sess
	r.last = sess
	go r.writeFrames(sess)

	log.Infof("Recording started: %s", path)
	return path, nil
}

// Stop finishes the current recording and returns its path. A new
// recording may start while this one is still being finalized.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	sess := r.active
	if sess == nil {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	r.active = nil
	close(sess.done)
	r.mu.Unlock()

	<-sess.finished
	closeErr := sess.sink.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	if closeErr != nil {
		sess.lastErr = closeErr
		return sess.path, fmt.Errorf("finalize recording: %w", closeErr)
	}
	log.Infof("Recording stopped: %s (%d frames, %d dropped)", sess.path, sess.frameCount, sess.dropped)
	return sess.path, nil
}

// SendFrame queues a frame if recording. It never blocks; a full queue drops the frame.
func (r *Recorder) SendFrame(frame image.Image) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.active
	if sess == nil {
		return false
	}
	select {
	case sess.frames <- frame:
		return true
	default:
		sess.dropped++
		return false
	}
}

func (r *Recorder) writeFrames(sess *session) {
	defer close(sess.finished)

	for {
		select {
		case frame := <-sess.frames:
			r.writeFrame(sess, frame)
		case <-sess.done:
			for {
				select {
				case frame := <-sess.frames:
					r.writeFrame(sess, frame)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeFrame(sess *session, frame image.Image) {
	err := sess.sink.Write(frame)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if sess.lastErr == nil {
			log.Warnf("Write failed: %v", err)
		}
		sess.lastErr = err
		return
	}
	sess.frameCount++
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active != nil
}

// GetStatus reports the active recording, or the most recent one once stopped.
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess := r.last
	if sess == nil {
		return RecordingStatus{}
	}
	status := RecordingStatus{
		Recording:     sess == r.active,
		Filename:      sess.path,
		FrameCount:    sess.frameCount,
		DroppedFrames: sess.dropped,
		StartTime:     sess.startTime,
	}
	if status.Recording {
		status.DurationMs = r.opts.Clock.Since(sess.startTime).Milliseconds()
	}
	if sess.lastErr != nil {
		status.LastError = sess.lastErr.Error()
	}
	return status
}

// Close stops an active recording.
func (r *Recorder) Close() error {
	if r.IsRecording() {
		_, err := r.Stop()
		return err
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording     bool      `json:"recording"`
	Filename      string    `json:"filename,omitempty"`
	FrameCount    uint64    `json:"frame_count"`
	DroppedFrames uint64    `json:"dropped_frames"`
	DurationMs    int64     `json:"duration_ms"`
	StartTime     time.Time `json:"start_time"`
	LastError     string    `json:"last_error,omitempty"`
}
