package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatlens/annotator/internal/config"
	"github.com/threatlens/annotator/internal/detector"
	"github.com/threatlens/annotator/internal/metrics"
	"github.com/threatlens/annotator/internal/video"
	"github.com/threatlens/annotator/pkg/types"
)

type fakeSource struct {
	info    types.VideoInfo
	frames  int
	reads   atomic.Int32
	closes  atomic.Int32
	failAt  int // 1-based read that fails, 0 = never
	lastOut *image.RGBA
}

func (s *fakeSource) Info() types.VideoInfo { return s.info }

func (s *fakeSource) Read(ctx context.Context) (image.Image, error) {
	n := int(s.reads.Add(1))
	if s.failAt == n {
		return nil, errors.New("decoder crashed")
	}
	if n > s.frames {
		return nil, io.EOF
	}
	img := image.NewRGBA(image.Rect(0, 0, s.info.Width, s.info.Height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 40, 40, 40, 255
	}
	s.lastOut = img
	return img, nil
}

func (s *fakeSource) Close() error {
	s.closes.Add(1)
	return nil
}

type fakeSink struct {
	writes   int
	closes   int
	failAt   int
	closeErr error
}

func (s *fakeSink) Write(image.Image) error {
	s.writes++
	if s.writes == s.failAt {
		return errors.New("disk full")
	}
	return nil
}

func (s *fakeSink) Close() error {
	s.closes++
	return s.closeErr
}

type harness struct {
	src   *fakeSource
	sink  *fakeSink
	clock *clock.Mock
	m     *metrics.Metrics
	deps  Deps
	cfg   config.StreamConfig
}

func newHarness(frames, total int, det detector.Detector) *harness {
	h := &harness{
		src: &fakeSource{
			info:   types.VideoInfo{FPS: 10, Width: 100, Height: 100, TotalFrames: total},
			frames: frames,
		},
		sink:  &fakeSink{},
		clock: clock.NewMock(),
		m:     metrics.New(),
	}
	h.clock.Set(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	if det == nil {
		det = detector.Null{}
	}
	h.deps = Deps{
		Detector: det,
		Clock:    h.clock,
		Metrics:  h.m,
		OpenSource: func(context.Context, string, video.SourceOptions) (video.Source, error) {
			return h.src, nil
		},
		OpenSink: func(string, types.VideoInfo) (video.Sink, error) {
			return h.sink, nil
		},
	}
	h.cfg = config.DefaultStreamConfig()
	h.cfg.Source = "patrol.mp4"
	return h
}

func (h *harness) open(t *testing.T) *Stream {
	t.Helper()
	s, err := Open(context.Background(), h.cfg, h.deps)
	require.NoError(t, err)
	return s
}

func collect(t *testing.T, s *Stream) []*types.FrameResult {
	t.Helper()
	var out []*types.FrameResult
	for res, err := range s.All(context.Background()) {
		require.NoError(t, err)
		out = append(out, res)
	}
	return out
}

func fixed(dets ...types.RawDetection) detector.Detector {
	return detector.Func(func(context.Context, image.Image, float64) ([]types.RawDetection, error) {
		return dets, nil
	})
}

func box(x1, y1, x2, y2 float64) types.BoundingBox {
	return types.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func TestTenFramesSkipTwo(t *testing.T) {
	h := newHarness(10, 10, nil)
	h.cfg.FrameSkip = 2
	s := h.open(t)

	results := collect(t, s)
	require.Len(t, results, 5)

	var frames []int
	var progress []float64
	for _, r := range results {
		assert.Equal(t, 0, r.Count)
		assert.Empty(t, r.Detections)
		assert.Equal(t, 10, r.TotalFrames)
		require.NotNil(t, r.Progress)
		frames = append(frames, r.FrameNumber)
		progress = append(progress, *r.Progress)
	}
	assert.Equal(t, []int{2, 4, 6, 8, 10}, frames)
	assert.Equal(t, []float64{20, 40, 60, 80, 100}, progress)

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, int32(1), h.src.closes.Load())
	assert.Equal(t, uint64(10), h.m.FramesRead.Load())
	assert.Equal(t, uint64(5), h.m.FramesSkipped.Load())
	assert.Equal(t, int64(0), h.m.ActiveStreams.Load())
}

func TestFrameNumbersRespectSkip(t *testing.T) {
	h := newHarness(10, 10, nil)
	h.cfg.FrameSkip = 3
	results := collect(t, h.open(t))

	prev := 0
	for _, r := range results {
		assert.Greater(t, r.FrameNumber, prev)
		assert.Zero(t, r.FrameNumber%3)
		prev = r.FrameNumber
	}
	assert.Len(t, results, 3)
}

func TestThresholdIsInclusive(t *testing.T) {
	h := newHarness(1, 1, fixed(
		types.RawDetection{Box: box(10, 10, 50, 50), ClassID: 1, Confidence: 0.59},
		types.RawDetection{Box: box(60, 60, 90, 90), ClassID: 2, Confidence: 0.6},
	))
	h.cfg.ConfidenceThreshold = 0.6
	results := collect(t, h.open(t))

	require.Len(t, results, 1)
	require.Equal(t, 1, results[0].Count)
	assert.Equal(t, "Civilian", results[0].Detections[0].Category.Name)
	for _, d := range results[0].Detections {
		assert.GreaterOrEqual(t, d.Confidence, 0.6)
	}
}

func TestBelowThresholdOnlyGivesEmptyFrame(t *testing.T) {
	h := newHarness(1, 1, fixed(types.RawDetection{Box: box(10, 10, 50, 50), ClassID: 1, Confidence: 0.59}))
	h.cfg.ConfidenceThreshold = 0.6
	results := collect(t, h.open(t))

	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Count)
	assert.Equal(t, uint64(1), h.m.BelowThreshold.Load())
}

func TestConfidenceOutsideUnitRangeDropped(t *testing.T) {
	h := newHarness(1, 1, fixed(
		types.RawDetection{Box: box(10, 10, 50, 50), ClassID: 1, Confidence: 1.7},
		types.RawDetection{Box: box(10, 10, 50, 50), ClassID: 1, Confidence: math.NaN()},
		types.RawDetection{Box: box(60, 60, 90, 90), ClassID: 2, Confidence: 1},
	))
	results := collect(t, h.open(t))

	require.Len(t, results, 1)
	require.Equal(t, 1, results[0].Count)
	assert.Equal(t, "Civilian", results[0].Detections[0].Category.Name)
	assert.Equal(t, 1.0, results[0].Detections[0].Confidence)
	assert.Equal(t, uint64(2), h.m.BelowThreshold.Load())
}

func TestSoldierDetectionResolved(t *testing.T) {
	h := newHarness(1, 1, fixed(types.RawDetection{Box: box(10, 10, 50, 50), ClassID: 1, Confidence: 0.9}))
	results := collect(t, h.open(t))

	require.Len(t, results, 1)
	r := results[0]
	require.Equal(t, 1, r.Count)
	d := r.Detections[0]
	assert.Equal(t, 1, d.ClassID)
	assert.Equal(t, "Soldier", d.Category.Name)
	assert.Equal(t, types.ThreatHigh, d.Category.Threat)
	assert.Equal(t, box(10, 10, 50, 50), d.Box)

	// Far corner is outside the box and label area.
	assert.Equal(t, color.RGBA{R: 40, G: 40, B: 40, A: 255}, r.Frame.RGBAAt(95, 95))
	assert.NotEqual(t, color.RGBA{R: 40, G: 40, B: 40, A: 255}, r.Frame.RGBAAt(10, 30))
}

func TestInputFrameNotMutated(t *testing.T) {
	h := newHarness(1, 1, fixed(types.RawDetection{Box: box(10, 10, 50, 50), ClassID: 1, Confidence: 0.9}))
	results := collect(t, h.open(t))
	require.Len(t, results, 1)

	for i := 0; i < len(h.src.lastOut.Pix); i += 4 {
		require.Equal(t, uint8(40), h.src.lastOut.Pix[i])
	}
	assert.NotSame(t, h.src.lastOut, results[0].Frame)
}

func TestUnknownClassResolvesToUnknown(t *testing.T) {
	h := newHarness(1, 1, fixed(types.RawDetection{Box: box(10, 10, 50, 50), ClassID: 99, Confidence: 0.8}))
	results := collect(t, h.open(t))

	require.Len(t, results, 1)
	d := results[0].Detections[0]
	assert.Equal(t, 99, d.ClassID)
	assert.Equal(t, "Unknown", d.Category.Name)
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, d.Category.Color)
	assert.Equal(t, uint64(1), h.m.MappingGaps.Load())
}

func TestDegenerateBoxesDroppedAndReversedNormalized(t *testing.T) {
	h := newHarness(1, 1, fixed(
		types.RawDetection{Box: box(10, 10, 10, 40), ClassID: 0, Confidence: 0.9},
		types.RawDetection{Box: box(50, 60, 20, 30), ClassID: 0, Confidence: 0.9},
	))
	results := collect(t, h.open(t))

	require.Len(t, results, 1)
	require.Equal(t, 1, results[0].Count)
	assert.Equal(t, box(20, 30, 50, 60), results[0].Detections[0].Box)
}

func TestDetectionOrderPreserved(t *testing.T) {
	h := newHarness(1, 1, fixed(
		types.RawDetection{Box: box(60, 60, 90, 90), ClassID: 4, Confidence: 0.7},
		types.RawDetection{Box: box(10, 10, 50, 50), ClassID: 3, Confidence: 0.95},
	))
	results := collect(t, h.open(t))

	require.Len(t, results, 1)
	assert.Equal(t, "Drone", results[0].Detections[0].Category.Name)
	assert.Equal(t, "Vehicle", results[0].Detections[1].Category.Name)
}

func TestTimestampsFromClock(t *testing.T) {
	h := newHarness(2, 2, nil)
	s := h.open(t)

	first, err := s.Next(context.Background())
	require.NoError(t, err)
	h.clock.Add(100 * time.Millisecond)
	second, err := s.Next(context.Background())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), first.Timestamp)
	assert.Equal(t, 100*time.Millisecond, second.Timestamp.Sub(first.Timestamp))
	require.NoError(t, s.Close())
}

func TestProgressUnknownTotal(t *testing.T) {
	h := newHarness(3, 0, nil)
	results := collect(t, h.open(t))

	require.Len(t, results, 3)
	for _, r := range results {
		assert.Nil(t, r.Progress)
		assert.Equal(t, 0, r.TotalFrames)
	}
}

func TestProgressClampedWhenTotalUndercounts(t *testing.T) {
	h := newHarness(5, 4, nil)
	results := collect(t, h.open(t))

	require.Len(t, results, 5)
	prev := 0.0
	for _, r := range results {
		require.NotNil(t, r.Progress)
		assert.GreaterOrEqual(t, *r.Progress, prev)
		assert.LessOrEqual(t, *r.Progress, 100.0)
		prev = *r.Progress
	}
	assert.Equal(t, 100.0, *results[4].Progress)
}

func TestOpenIsLazy(t *testing.T) {
	h := newHarness(5, 5, nil)
	s := h.open(t)

	assert.Equal(t, StateOpened, s.State())
	assert.Equal(t, int32(0), h.src.reads.Load())

	_, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.src.reads.Load())
	assert.Equal(t, StateStreaming, s.State())
	require.NoError(t, s.Close())
}

func TestNewIsIdle(t *testing.T) {
	h := newHarness(1, 1, nil)
	s, err := New(h.cfg, h.deps)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s.State())
	assert.NotEmpty(t, s.ID())

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrNotOpened)

	require.NoError(t, s.Open(context.Background()))
	assert.Error(t, s.Open(context.Background()), "second open")
	require.NoError(t, s.Close())
}

func TestNonexistentSource(t *testing.T) {
	cfg := config.DefaultStreamConfig()
	cfg.Source = filepath.Join(t.TempDir(), "missing.mp4")

	s, err := Open(context.Background(), cfg, Deps{Detector: detector.Null{}})
	require.Error(t, err)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEmptySource(t *testing.T) {
	cfg := config.DefaultStreamConfig()
	_, err := Open(context.Background(), cfg, Deps{Detector: detector.Null{}})
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestInvalidConfig(t *testing.T) {
	h := newHarness(1, 1, nil)
	h.cfg.FrameSkip = 0
	_, err := Open(context.Background(), h.cfg, h.deps)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSourceUnavailable)
}

func TestSinkOpenFailureReleasesSource(t *testing.T) {
	h := newHarness(3, 3, nil)
	h.cfg.SinkPath = "/nonexistent/out.mp4"
	h.deps.OpenSink = func(string, types.VideoInfo) (video.Sink, error) {
		return nil, errors.New("no such directory")
	}

	_, err := Open(context.Background(), h.cfg, h.deps)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSinkUnavailable)
	assert.Equal(t, int32(1), h.src.closes.Load())
	assert.Equal(t, int32(0), h.src.reads.Load())
	assert.Equal(t, int64(0), h.m.ActiveStreams.Load())
}

func TestSinkReceivesEveryResult(t *testing.T) {
	h := newHarness(6, 6, nil)
	h.cfg.FrameSkip = 2
	h.cfg.SinkPath = "out.mp4"
	var gotInfo types.VideoInfo
	h.deps.OpenSink = func(_ string, info types.VideoInfo) (video.Sink, error) {
		gotInfo = info
		return h.sink, nil
	}

	results := collect(t, h.open(t))
	assert.Len(t, results, 3)
	assert.Equal(t, 3, h.sink.writes)
	assert.Equal(t, 1, h.sink.closes)
	assert.Equal(t, h.src.info, gotInfo)
}

func TestEarlyBreakReleasesOnce(t *testing.T) {
	h := newHarness(10, 10, nil)
	h.cfg.SinkPath = "out.mp4"
	s := h.open(t)

	n := 0
	for _, err := range s.All(context.Background()) {
		require.NoError(t, err)
		n++
		if n == 3 {
			break
		}
	}
	require.NoError(t, s.Close())

	assert.Equal(t, 3, n)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, int32(1), h.src.closes.Load())
	assert.Equal(t, 1, h.sink.closes)
	assert.Equal(t, int32(3), h.src.reads.Load())

	_, err := s.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestExhaustedStreamKeepsReturningEOF(t *testing.T) {
	h := newHarness(1, 1, nil)
	s := h.open(t)

	_, err := s.Next(context.Background())
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	_, err = s.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), h.src.closes.Load())
}

func TestModelFailureAborts(t *testing.T) {
	calls := 0
	det := detector.Func(func(context.Context, image.Image, float64) ([]types.RawDetection, error) {
		calls++
		if calls == 2 {
			return nil, detector.Failure("cuda out of memory")
		}
		return nil, nil
	})
	h := newHarness(5, 5, det)
	h.cfg.SinkPath = "out.mp4"
	s := h.open(t)

	var results int
	var gotErr error
	for res, err := range s.All(context.Background()) {
		if err != nil {
			gotErr = err
			break
		}
		require.NotNil(t, res)
		results++
	}

	assert.Equal(t, 1, results)
	require.Error(t, gotErr)
	assert.ErrorIs(t, gotErr, ErrModelFailure)
	assert.ErrorIs(t, gotErr, detector.ErrModelFailure)
	assert.Equal(t, int32(1), h.src.closes.Load())
	assert.Equal(t, 1, h.sink.closes)
	assert.Equal(t, uint64(1), h.m.ModelFailures.Load())

	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrModelFailure, "terminal error is sticky")
}

func TestModelFailureStateTransitions(t *testing.T) {
	det := detector.Func(func(context.Context, image.Image, float64) ([]types.RawDetection, error) {
		return nil, errors.New("backend exploded")
	})
	h := newHarness(3, 3, det)
	s := h.open(t)

	_, err := s.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelFailure, "plain backend errors are wrapped")
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, err, s.Err())

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, int32(1), h.src.closes.Load())
}

func TestModelFailureSkipPolicy(t *testing.T) {
	calls := 0
	det := detector.Func(func(context.Context, image.Image, float64) ([]types.RawDetection, error) {
		calls++
		if calls == 2 {
			return nil, detector.Failure("timeout")
		}
		return nil, nil
	})
	h := newHarness(4, 4, det)
	h.cfg.OnModelFailure = config.PolicySkip
	results := collect(t, h.open(t))

	var frames []int
	for _, r := range results {
		frames = append(frames, r.FrameNumber)
	}
	assert.Equal(t, []int{1, 3, 4}, frames)
	assert.Equal(t, uint64(1), h.m.ModelFailures.Load())
}

func TestSinkWriteFailure(t *testing.T) {
	h := newHarness(5, 5, nil)
	h.cfg.SinkPath = "out.mp4"
	h.sink.failAt = 2
	s := h.open(t)

	_, err := s.Next(context.Background())
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSinkWrite)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 1, h.sink.closes)
	assert.Equal(t, int32(1), h.src.closes.Load())
}

func TestSinkCloseFailureReported(t *testing.T) {
	h := newHarness(1, 1, nil)
	h.cfg.SinkPath = "out.mp4"
	h.sink.closeErr = errors.New("moov atom not written")
	s := h.open(t)

	_, err := s.Next(context.Background())
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSinkWrite)
	assert.Equal(t, int32(1), h.src.closes.Load())
}

func TestSourceReadFailure(t *testing.T) {
	h := newHarness(5, 5, nil)
	h.src.failAt = 3
	s := h.open(t)

	var gotErr error
	n := 0
	for _, err := range s.All(context.Background()) {
		if err != nil {
			gotErr = err
			continue
		}
		n++
	}
	assert.Equal(t, 2, n)
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "decoder crashed")
	assert.Equal(t, int32(1), h.src.closes.Load())
}

func TestContextCancellation(t *testing.T) {
	h := newHarness(5, 5, nil)
	s := h.open(t)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Next(ctx)
	require.NoError(t, err)
	cancel()

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, int32(1), h.src.closes.Load())
}

func TestCloseIdempotent(t *testing.T) {
	h := newHarness(3, 3, nil)
	h.cfg.SinkPath = "out.mp4"
	s := h.open(t)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), h.src.closes.Load())
	assert.Equal(t, 1, h.sink.closes)
	assert.Equal(t, int64(0), h.m.ActiveStreams.Load())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestImageSequenceEndToEnd(t *testing.T) {
	in := t.TempDir()
	for i := 0; i < 4; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 64, 48))
		f, err := os.Create(filepath.Join(in, "frame_"+string(rune('a'+i))+".png"))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
	out := filepath.Join(t.TempDir(), "annotated")

	cfg := config.DefaultStreamConfig()
	cfg.Source = in
	cfg.SinkPath = out
	cfg.FrameSkip = 2
	s, err := Open(context.Background(), cfg, Deps{
		Detector: fixed(types.RawDetection{Box: box(5, 20, 40, 44), ClassID: 2, Confidence: 0.75}),
	})
	require.NoError(t, err)
	assert.Equal(t, types.VideoInfo{FPS: video.DefaultFPS, Width: 64, Height: 48, TotalFrames: 4}, s.Info())

	results := collect(t, s)
	require.Len(t, results, 2)
	assert.Equal(t, 100.0, *results[1].Progress)

	written, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, written, 2)
}
