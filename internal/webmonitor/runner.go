package webmonitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/threatlens/annotator/internal/pipeline"
	"github.com/threatlens/annotator/internal/transport"
	"github.com/threatlens/annotator/pkg/types"
)

// Run drives the configured stream and publishes every result to the
// monitor's consumers. With Loop set the source is reopened when it ends.
// It returns nil when ctx is cancelled or the source is exhausted, and the
// stream's terminal error otherwise.
func (s *Server) Run(ctx context.Context) error {
	for {
		emitted, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if !s.cfg.Loop {
			log.Infof("Source %s exhausted", s.streamCfg.Source)
			return nil
		}
		if emitted == 0 {
			log.Warnf("Source %s produced no frames, not looping", s.streamCfg.Source)
			return nil
		}
		log.Debugf("Looping source %s", s.streamCfg.Source)
	}
}

func (s *Server) runOnce(ctx context.Context) (int, error) {
	st, err := pipeline.New(s.streamCfg, s.deps)
	if err != nil {
		s.monitor.StreamEnded(err)
		return 0, err
	}
	defer st.Close()

	if err := st.Open(ctx); err != nil {
		s.monitor.StreamEnded(err)
		return 0, err
	}

	info := st.Info()
	s.monitor.StreamStarted(st.ID(), s.streamCfg.Source, info)
	log.Infof("Stream %s started: %dx%d @ %.2f fps, %d frames", st.ID(), info.Width, info.Height, info.FPS, info.TotalFrames)

	limiter := s.pacer(info)
	emitted := 0
	for res, err := range st.All(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				s.monitor.StreamEnded(nil)
				return emitted, ctx.Err()
			}
			s.monitor.StreamEnded(err)
			return emitted, err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				s.monitor.StreamEnded(nil)
				return emitted, err
			}
		}
		s.publish(st.ID(), res)
		emitted++
	}
	s.monitor.StreamEnded(nil)
	return emitted, nil
}

// pacer limits emission to the source frame rate divided by frame_skip.
// Sources without a declared length are live and pace themselves.
func (s *Server) pacer(info types.VideoInfo) *rate.Limiter {
	if !s.cfg.Realtime || info.FPS <= 0 || info.TotalFrames == 0 {
		return nil
	}
	skip := max(s.streamCfg.FrameSkip, 1)
	return rate.NewLimiter(rate.Limit(info.FPS/float64(skip)), 1)
}

// publish hands one result to the monitor, the SSE and WebRTC subscribers,
// the recorder and the MJPEG feed.
func (s *Server) publish(streamID string, res *types.FrameResult) {
	payload, err := transport.NewPayload(res, transport.PayloadOptions{StreamID: streamID})
	if err != nil {
		log.Warnf("Frame %d: %v", res.FrameNumber, err)
		return
	}
	s.monitor.Observe(payload)

	event, err := serializePayload(payload)
	if err != nil {
		log.Warnf("Frame %d: %v", res.FrameNumber, err)
	} else {
		s.detections.Broadcast(event)
		if s.webrtc != nil {
			s.webrtc.Broadcast(event.JSONData)
		}
	}

	if s.recorder != nil && s.recorder.IsRecording() {
		s.recorder.SendFrame(res.Frame)
	}

	if s.frames.ClientCount() == 0 {
		return
	}
	frame := res.Frame
	if s.cfg.HeaderOverlay {
		frame = s.deps.Annotator.AnnotateWithHeader(res.Frame, nil, frameHeader(res))
	}
	jpegData, err := transport.EncodeJPEG(frame, s.cfg.JPEGQuality)
	if err != nil {
		log.Warnf("Frame %d: encode jpeg: %v", res.FrameNumber, err)
		return
	}
	s.frames.Broadcast(jpegData)
}

func frameHeader(res *types.FrameResult) string {
	if res.Progress != nil {
		return fmt.Sprintf("Frame: %d/%d (%.1f%%)  Detections: %d", res.FrameNumber, res.TotalFrames, *res.Progress, res.Count)
	}
	return fmt.Sprintf("Frame: %d  Detections: %d", res.FrameNumber, res.Count)
}

func serializePayload(p *transport.Payload) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	wire, err := p.MarshalProto()
	if err != nil {
		return nil, err
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(wire)))
	base64.StdEncoding.Encode(encoded, wire)
	return &SerializedEvent{JSONData: jsonData, ProtobufData: encoded}, nil
}
