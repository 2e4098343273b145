// Package webmonitor runs one annotation stream and serves it to browsers:
// an MJPEG feed of annotated frames, SSE streams of detections and status,
// recording control and WebRTC data channel signaling.
package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/threatlens/annotator/internal/annotate"
	"github.com/threatlens/annotator/internal/category"
	"github.com/threatlens/annotator/internal/config"
	"github.com/threatlens/annotator/internal/detector"
	"github.com/threatlens/annotator/internal/logger"
	"github.com/threatlens/annotator/internal/metrics"
	"github.com/threatlens/annotator/internal/pipeline"
	"github.com/threatlens/annotator/internal/recorder"
	"github.com/threatlens/annotator/internal/webrtc"
	"github.com/threatlens/annotator/pkg/types"
)

var log = logger.For("WebMonitor")

// Options wires a Server. Recorder and WebRTC are optional; their
// endpoints answer 503 when absent.
type Options struct {
	Server   config.ServerConfig
	Stream   config.StreamConfig
	Deps     pipeline.Deps
	Recorder *recorder.Recorder
	WebRTC   *webrtc.Server
}

// Server serves the monitor endpoints for one stream.
type Server struct {
	cfg       config.ServerConfig
	streamCfg config.StreamConfig
	deps      pipeline.Deps
	monitor   *Monitor
	recorder  *recorder.Recorder
	webrtc    *webrtc.Server

	frames     *Broadcaster[[]byte]
	detections *Broadcaster[*SerializedEvent]
	status     *Broadcaster[*SerializedEvent]
}

// NewServer fills in the shared collaborators every run of the stream uses
// and returns a Server ready for Run and Handler.
func NewServer(opts Options) (*Server, error) {
	deps := opts.Deps
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Registry == nil {
		deps.Registry = category.Default()
	}
	if deps.Annotator == nil {
		a, err := annotate.New(annotate.Options{})
		if err != nil {
			return nil, err
		}
		deps.Annotator = a
	}
	if deps.Detector == nil {
		dopts := detector.DefaultOptions()
		if opts.Stream.ModelTimeout > 0 {
			dopts.Timeout = opts.Stream.ModelTimeout
		}
		det, err := detector.Open(opts.Stream.Model, dopts)
		if err != nil {
			return nil, err
		}
		deps.Detector = det
	}

	cfg := opts.Server
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = config.DefaultConfig().Server.StatusInterval
	}

	return &Server{
		cfg:        cfg,
		streamCfg:  opts.Stream,
		deps:       deps,
		monitor:    NewMonitor(cfg.HistorySize, deps.Clock),
		recorder:   opts.Recorder,
		webrtc:     opts.WebRTC,
		frames:     NewBroadcaster[[]byte]("MJPEG", 2, deps.Metrics),
		detections: NewBroadcaster[*SerializedEvent]("Detections", 30, deps.Metrics),
		status:     NewBroadcaster[*SerializedEvent]("Status", 2, deps.Metrics),
	}, nil
}

// Monitor exposes the statistics collector.
func (s *Server) Monitor() *Monitor {
	return s.monitor
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/detections/stream", s.handleDetectionsStream)
	mux.HandleFunc("/api/categories", s.handleCategories)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)

	return mux
}

// RunStatus broadcasts a status snapshot every StatusInterval until ctx ends.
func (s *Server) RunStatus(ctx context.Context) error {
	ticker := s.deps.Clock.Ticker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.status.ClientCount() == 0 {
				s.snapshot()
				continue
			}
			event, err := s.statusEvent()
			if err != nil {
				log.Warnf("Status snapshot: %v", err)
				continue
			}
			s.status.Broadcast(event)
		}
	}
}

// Close disconnects subscribers and stops an active recording.
func (s *Server) Close() error {
	s.frames.Close()
	s.detections.Close()
	s.status.Close()

	var err error
	if s.recorder != nil {
		err = s.recorder.Close()
	}
	if s.webrtc != nil {
		err = multierr.Append(err, s.webrtc.Close())
	}
	return err
}

func (s *Server) snapshot() Status {
	stats, stream, latest, history := s.monitor.Snapshot()
	st := Status{
		Monitor:          stats,
		Stream:           stream,
		LatestDetection:  latest,
		DetectionHistory: history,
		Timestamp:        float64(s.deps.Clock.Now().UnixMilli()) / 1000,
	}
	if s.recorder != nil {
		st.Recording = s.recorder.GetStatus()
		if st.Recording.Recording {
			s.deps.Metrics.RecordingActive.Store(1)
		} else {
			s.deps.Metrics.RecordingActive.Store(0)
		}
		s.deps.Metrics.RecordingFrames.Store(st.Recording.FrameCount)
	}
	if s.webrtc != nil {
		st.WebRTCClients = s.webrtc.GetClientCount()
	}
	return st
}

func (s *Server) statusEvent() (*SerializedEvent, error) {
	data, err := json.Marshal(s.snapshot())
	if err != nil {
		return nil, err
	}
	return &SerializedEvent{JSONData: data}, nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, stream, _, _ := s.monitor.Snapshot()
	writeJSON(w, map[string]any{
		"status": "ok",
		"stream": stream.State,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snapshot())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	first, err := s.statusEvent()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	streamEventsFromChannel(r.Context(), w, eventCh, false, first)
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.detections.Subscribe()
	defer s.detections.Unsubscribe(id)

	streamEventsFromChannel(r.Context(), w, eventCh, wantsProtobuf(r), nil)
}

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

// handleCategories lists the registry, or a single category with ?name=.
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("name"); name != "" {
		c, ok := s.deps.Registry.Lookup(name)
		if !ok {
			writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("unknown category %q", name)}, http.StatusNotFound)
			return
		}
		writeJSON(w, categoryInfo(c))
		return
	}

	cats := s.deps.Registry.Categories()
	out := make([]CategoryInfo, 0, len(cats))
	for _, c := range cats {
		out = append(out, categoryInfo(c))
	}
	writeJSON(w, out)
}

func categoryInfo(c types.Category) CategoryInfo {
	return CategoryInfo{
		ID:     c.ID,
		Name:   c.Name,
		Color:  fmt.Sprintf("#%02x%02x%02x", c.Color.R, c.Color.G, c.Color.B),
		Threat: c.Threat.String(),
		Marker: markerName(c.Marker),
	}
}

func markerName(m types.Marker) string {
	switch m {
	case types.MarkerCircle:
		return "circle"
	case types.MarkerSquare:
		return "square"
	default:
		return ""
	}
}

type recordingRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recording is not configured"}, http.StatusServiceUnavailable)
		return
	}

	var req recordingRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSONWithStatus(w, map[string]any{"error": "invalid request body"}, http.StatusBadRequest)
			return
		}
	}

	info, running := s.monitor.StreamInfo()
	if !running {
		writeJSONWithStatus(w, map[string]any{"error": "stream is not running"}, http.StatusConflict)
		return
	}

	path, err := s.recorder.Start(info, req.Name)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	s.deps.Metrics.RecordingActive.Store(1)

	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       path,
		"started_at": float64(s.deps.Clock.Now().UnixMilli()) / 1000,
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recording is not configured"}, http.StatusServiceUnavailable)
		return
	}

	path, err := s.recorder.Stop()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	status := s.recorder.GetStatus()
	s.deps.Metrics.RecordingActive.Store(0)
	s.deps.Metrics.RecordingFrames.Store(status.FrameCount)

	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       path,
		"stats":      status,
		"stopped_at": float64(s.deps.Clock.Now().UnixMilli()) / 1000,
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJSON(w, recorder.RecordingStatus{})
		return
	}
	writeJSON(w, s.recorder.GetStatus())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.webrtc == nil {
		writeJSONWithStatus(w, map[string]any{"error": "webrtc is not configured"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.webrtc.HandleOffer(body)
	if errors.Is(err, webrtc.ErrTooManyClients) {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		log.Warnf("WebRTC offer rejected: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
