// Package pipeline runs annotation streams: frames are pulled from a source,
// passed through the detection model, annotated and handed to the caller one
// at a time, optionally mirrored into a sink.
//
// A Stream moves through Idle, Opened, Streaming and Closed. Any error while
// streaming moves it to Failed; Close then moves it to Closed. Source and sink
// are released exactly once, whichever way the stream ends.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"iter"
	"math"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/threatlens/annotator/internal/annotate"
	"github.com/threatlens/annotator/internal/category"
	"github.com/threatlens/annotator/internal/config"
	"github.com/threatlens/annotator/internal/detector"
	"github.com/threatlens/annotator/internal/logger"
	"github.com/threatlens/annotator/internal/metrics"
	"github.com/threatlens/annotator/internal/video"
	"github.com/threatlens/annotator/pkg/types"
)

var log = logger.For("Pipeline")

var (
	// ErrSourceUnavailable is returned by Open when the source cannot be opened.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrSinkUnavailable is returned by Open when the sink cannot be created.
	ErrSinkUnavailable = errors.New("sink unavailable")
	// ErrSinkWrite fails a stream whose sink rejects a frame.
	ErrSinkWrite = errors.New("sink write failed")
	// ErrModelFailure is detector.ErrModelFailure, re-exported for callers of this package.
	ErrModelFailure = detector.ErrModelFailure
	// ErrNotOpened is returned by Next on a stream that was never opened.
	ErrNotOpened = errors.New("stream not opened")
)

// State is the lifecycle position of a Stream.
type State int

const (
	StateIdle State = iota
	StateOpened
	StateStreaming
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpened:
		return "opened"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SourceOpener opens the frame source named by a stream config.
type SourceOpener func(ctx context.Context, path string, opts video.SourceOptions) (video.Source, error)

// SinkOpener creates the sink for annotated frames.
type SinkOpener func(path string, info types.VideoInfo) (video.Sink, error)

// Deps are the collaborators a Stream uses. Zero fields get defaults:
// the detector named by the config's model handle, a fresh annotator, the
// default category registry, the wall clock, private metrics and the video
// package openers.
type Deps struct {
	Detector   detector.Detector
	Annotator  *annotate.Annotator
	Registry   *category.Registry
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	OpenSource SourceOpener
	OpenSink   SinkOpener
}

func (d Deps) withDefaults(cfg config.StreamConfig) (Deps, error) {
	if d.Detector == nil {
		opts := detector.DefaultOptions()
		if cfg.ModelTimeout > 0 {
			opts.Timeout = cfg.ModelTimeout
		}
		det, err := detector.Open(cfg.Model, opts)
		if err != nil {
			return d, err
		}
		d.Detector = det
	}
	if d.Annotator == nil {
		a, err := annotate.New(annotate.Options{})
		if err != nil {
			return d, err
		}
		d.Annotator = a
	}
	if d.Registry == nil {
		d.Registry = category.Default()
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.OpenSource == nil {
		d.OpenSource = video.OpenSource
	}
	if d.OpenSink == nil {
		d.OpenSink = video.OpenSink
	}
	return d, nil
}

// Stream is one run over one source. It is driven by a single goroutine
// calling Next; Close may be called from any goroutine once Next has returned.
type Stream struct {
	id   string
	cfg  config.StreamConfig
	deps Deps

	mu      sync.Mutex
	state   State
	err     error
	info    types.VideoInfo
	source  video.Source
	sink    video.Sink
	ordinal int
	emitted int

	releaseOnce sync.Once
	releaseErr  error
}

// New returns an Idle stream. Nothing is opened until Open is called.
func New(cfg config.StreamConfig, deps Deps) (*Stream, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("%w: empty source path", ErrSourceUnavailable)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream config: %w", err)
	}
	deps, err := deps.withDefaults(cfg)
	if err != nil {
		return nil, err
	}
	return &Stream{
		id:   uuid.NewString(),
		cfg:  cfg,
		deps: deps,
	}, nil
}

// Open creates and opens a stream in one step.
func Open(ctx context.Context, cfg config.StreamConfig, deps Deps) (*Stream, error) {
	s, err := New(cfg, deps)
	if err != nil {
		return nil, err
	}
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Open acquires the source and, when a sink path is configured, the sink.
// If the sink cannot be created the source is released before returning.
func (s *Stream) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("open: stream is %s", s.state)
	}

	src, err := s.deps.OpenSource(ctx, s.cfg.Source, video.SourceOptions{FPS: s.cfg.FPS})
	if err != nil {
		s.deps.Metrics.SourceErrors.Add(1)
		return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, s.cfg.Source, err)
	}
	info := src.Info()

	var sink video.Sink
	if s.cfg.SinkPath != "" {
		sink, err = s.deps.OpenSink(s.cfg.SinkPath, info)
		if err != nil {
			s.deps.Metrics.SinkErrors.Add(1)
			if cerr := src.Close(); cerr != nil {
				log.Warnf("Release source after sink failure: %v", cerr)
			}
			return fmt.Errorf("%w: %s: %w", ErrSinkUnavailable, s.cfg.SinkPath, err)
		}
	}

	s.source = src
	s.sink = sink
	s.info = info
	s.state = StateOpened
	s.deps.Metrics.ActiveStreams.Add(1)

	log.Infof("Stream %s opened: %s (%dx%d @ %.2f fps, %d frames, skip=%d, threshold=%.2f)",
		s.id, s.cfg.Source, info.Width, info.Height, info.FPS, info.TotalFrames,
		s.cfg.FrameSkip, s.cfg.ConfidenceThreshold)
	return nil
}

// ID returns the run id assigned at creation.
func (s *Stream) ID() string {
	return s.id
}

// Info returns the source metadata. It is zero before Open.
func (s *Stream) Info() types.VideoInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that failed the stream, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Next returns the next annotated frame. It returns io.EOF once the source is
// exhausted, after which source and sink have been released. Any other error
// is terminal and is returned again by later calls.
func (s *Stream) Next(ctx context.Context) (*types.FrameResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
		return nil, ErrNotOpened
	case StateFailed:
		return nil, s.err
	case StateClosed:
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	s.state = StateStreaming

	for {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(err)
		}

		frame, err := s.source.Read(ctx)
		if err == io.EOF {
			return nil, s.finish()
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, s.fail(cerr)
			}
			s.deps.Metrics.SourceErrors.Add(1)
			return nil, s.fail(fmt.Errorf("read frame %d: %w", s.ordinal+1, err))
		}

		s.ordinal++
		captured := s.deps.Clock.Now()
		s.deps.Metrics.FramesRead.Add(1)

		if s.ordinal%s.cfg.FrameSkip != 0 {
			s.deps.Metrics.FramesSkipped.Add(1)
			continue
		}

		res, err := s.process(ctx, frame)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, s.fail(cerr)
			}
			if errors.Is(err, ErrModelFailure) {
				s.deps.Metrics.ModelFailures.Add(1)
				if s.cfg.OnModelFailure == config.PolicySkip {
					log.Warnf("Stream %s frame %d skipped: %v", s.id, s.ordinal, err)
					s.deps.Metrics.FramesSkipped.Add(1)
					continue
				}
			}
			return nil, s.fail(err)
		}
		res.Timestamp = captured

		if s.sink != nil {
			if err := s.sink.Write(res.Frame); err != nil {
				s.deps.Metrics.SinkErrors.Add(1)
				return nil, s.fail(fmt.Errorf("%w: frame %d: %w", ErrSinkWrite, s.ordinal, err))
			}
			s.deps.Metrics.SinkFrames.Add(1)
		}

		s.emitted++
		s.deps.Metrics.FramesProcessed.Add(1)
		return res, nil
	}
}

// process runs detection and annotation on the frame at the current ordinal.
func (s *Stream) process(ctx context.Context, frame image.Image) (*types.FrameResult, error) {
	clk := s.deps.Clock

	start := clk.Now()
	raw, err := s.deps.Detector.Detect(ctx, frame, s.cfg.ConfidenceThreshold)
	s.deps.Metrics.ObserveInference(clk.Since(start))
	if err != nil {
		if !errors.Is(err, ErrModelFailure) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", ErrModelFailure, err)
		}
		return nil, fmt.Errorf("frame %d: %w", s.ordinal, err)
	}

	dets := s.filter(raw)

	start = clk.Now()
	annotated := s.deps.Annotator.Annotate(frame, dets)
	s.deps.Metrics.ObserveAnnotate(clk.Since(start))

	return &types.FrameResult{
		Detections:  dets,
		Frame:       annotated,
		Count:       len(dets),
		FrameNumber: s.ordinal,
		TotalFrames: s.info.TotalFrames,
		Progress:    progress(s.ordinal, s.info.TotalFrames),
	}, nil
}

// filter keeps detections at or above the threshold with a non-empty box, in
// model order, and resolves their categories.
func (s *Stream) filter(raw []types.RawDetection) []types.Detection {
	dets := make([]types.Detection, 0, len(raw))
	for _, r := range raw {
		if !(r.Confidence >= 0 && r.Confidence <= 1) {
			s.deps.Metrics.BelowThreshold.Add(1)
			log.Warnf("Stream %s frame %d: dropping class %d with confidence %g outside [0, 1]", s.id, s.ordinal, r.ClassID, r.Confidence)
			continue
		}
		box := r.Box.Normalize()
		if box.Empty() || r.Confidence < s.cfg.ConfidenceThreshold {
			s.deps.Metrics.BelowThreshold.Add(1)
			continue
		}
		cat, known := s.deps.Registry.ResolveKnown(r.ClassID)
		if !known {
			s.deps.Metrics.MappingGaps.Add(1)
			log.Debugf("Stream %s frame %d: class id %d has no category, using %s", s.id, s.ordinal, r.ClassID, cat.Name)
		}
		s.deps.Metrics.CountDetection(cat.Name, cat.Threat.String())
		dets = append(dets, types.Detection{
			Box:        box,
			ClassID:    r.ClassID,
			Category:   cat,
			Confidence: r.Confidence,
		})
	}
	return dets
}

// progress is ordinal/total as a percentage capped at 100, or nil when total is unknown.
func progress(ordinal, total int) *float64 {
	if total <= 0 {
		return nil
	}
	p := math.Min(100, float64(ordinal)/float64(total)*100)
	return &p
}

// finish handles source exhaustion. Caller holds s.mu.
func (s *Stream) finish() error {
	if err := s.release(); err != nil {
		s.state = StateFailed
		s.err = err
		return err
	}
	s.state = StateClosed
	log.Infof("Stream %s finished: %d frames read, %d emitted", s.id, s.ordinal, s.emitted)
	return io.EOF
}

// fail records err as terminal and releases resources. Caller holds s.mu.
func (s *Stream) fail(err error) error {
	if rerr := s.release(); rerr != nil {
		log.Warnf("Stream %s release after failure: %v", s.id, rerr)
	}
	s.state = StateFailed
	s.err = err
	log.Errorf("Stream %s failed at frame %d: %v", s.id, s.ordinal, err)
	return err
}

// release closes sink then source, once. Caller holds s.mu.
func (s *Stream) release() error {
	s.releaseOnce.Do(func() {
		if s.source == nil {
			return
		}
		var err error
		if s.sink != nil {
			if cerr := s.sink.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("%w: close: %w", ErrSinkWrite, cerr))
			}
		}
		if cerr := s.source.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close source: %w", cerr))
		}
		s.releaseErr = err
		s.deps.Metrics.ActiveStreams.Add(-1)
	})
	return s.releaseErr
}

// Close releases the source and sink if they are still held and moves the
// stream to Closed. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.release()
	if s.state != StateClosed {
		log.Debugf("Stream %s closed from %s", s.id, s.state)
	}
	s.state = StateClosed
	return err
}

// All yields results until the stream ends. The stream is closed when the
// loop exits, including on early break. A terminal error other than io.EOF is
// yielded once with a nil result.
func (s *Stream) All(ctx context.Context) iter.Seq2[*types.FrameResult, error] {
	return func(yield func(*types.FrameResult, error) bool) {
		defer s.Close()
		for {
			res, err := s.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(res, nil) {
				return
			}
		}
	}
}
