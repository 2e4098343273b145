package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/multierr"

	"github.com/threatlens/annotator/pkg/types"
)

// stderrLimit bounds how much ffmpeg diagnostic output is kept for error messages.
const stderrLimit = 4096

// FFmpegSource decodes a video file or stream into RGB24 frames through an ffmpeg child process.
type FFmpegSource struct {
	info      types.VideoInfo
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    *tailBuffer
	cancel    context.CancelFunc
	frameSize int
	buf       []byte

	closeOnce sync.Once
}

// OpenFFmpegSource probes path and starts decoding it.
func OpenFFmpegSource(ctx context.Context, path string) (*FFmpegSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not available: %w", err)
	}

	probe, err := ffmpeg.Probe(path)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	info, err := parseProbe(probe)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	if info.FPS <= 0 {
		info.FPS = DefaultFPS
	}

	procCtx, cancel := context.WithCancel(ctx)
	stream := ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{"format": "rawvideo", "pix_fmt": "rgb24"})
	stream.Context = procCtx

	cmd := stream.Compile()
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	log.Infof("Opened %s (%dx%d @ %.2f fps, %d frames)", path, info.Width, info.Height, info.FPS, info.TotalFrames)

	frameSize := info.Width * info.Height * 3
	return &FFmpegSource{
		info:      info,
		cmd:       cmd,
		stdout:    stdout,
		stderr:    stderr,
		cancel:    cancel,
		frameSize: frameSize,
		buf:       make([]byte, frameSize),
	}, nil
}

// Info returns the probed metadata.
func (s *FFmpegSource) Info() types.VideoInfo {
	return s.info
}

// Read returns the next decoded frame, or io.EOF when ffmpeg has no more output.
func (s *FFmpegSource) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, err := io.ReadFull(s.stdout, s.buf)
	switch {
	case err == nil:
		return rgb24ToRGBA(s.buf, s.info.Width, s.info.Height), nil
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		log.Warnf("Truncated final frame discarded")
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("read frame: %w (%s)", err, s.stderr.String())
	}
}

// Close stops ffmpeg and reaps the process. It is safe to call more than once.
func (s *FFmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.stdout.Close()
		// The process was killed on purpose; its exit status carries no information.
		_ = s.cmd.Wait()
	})
	return nil
}

// FFmpegSink encodes RGB24 frames into a video file through an ffmpeg child process.
type FFmpegSink struct {
	path   string
	info   types.VideoInfo
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	buf    []byte

	mu     sync.Mutex
	closed bool
	frames int
}

var codecByExt = map[string]string{
	".mp4":  "mpeg4",
	".m4v":  "mpeg4",
	".mov":  "mpeg4",
	".avi":  "mpeg4",
	".mkv":  "mpeg4",
	".webm": "libvpx",
}

// OpenFFmpegSink starts an ffmpeg encoder writing to path.
func OpenFFmpegSink(path string, info types.VideoInfo) (*FFmpegSink, error) {
	codec, ok := codecByExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("unsupported sink container %q", filepath.Ext(path))
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not available: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			return nil, fmt.Errorf("sink directory %s does not exist", dir)
		}
	}
	fps := info.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}

	stream := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"format":  "rawvideo",
		"pix_fmt": "rgb24",
		"s":       fmt.Sprintf("%dx%d", info.Width, info.Height),
		"r":       fmt.Sprintf("%g", fps),
	}).Output(path, ffmpeg.KwArgs{
		"vcodec":  codec,
		"pix_fmt": "yuv420p",
		"q:v":     3,
	}).OverWriteOutput()

	cmd := stream.Compile()
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	log.Infof("Writing %s (%s, %dx%d @ %.2f fps)", path, codec, info.Width, info.Height, fps)
	return &FFmpegSink{
		path:   path,
		info:   info,
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		buf:    make([]byte, 0, info.Width*info.Height*3),
	}, nil
}

// Write encodes one frame.
func (s *FFmpegSink) Write(frame image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("sink closed")
	}
	s.buf = appendRGB24(s.buf[:0], frame, s.info.Width, s.info.Height)
	if _, err := s.stdin.Write(s.buf); err != nil {
		return fmt.Errorf("write frame to %s: %w (%s)", s.path, err, s.stderr.String())
	}
	s.frames++
	return nil
}

// Close flushes the encoder and waits for ffmpeg to finalize the container.
func (s *FFmpegSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := multierr.Append(s.stdin.Close(), s.cmd.Wait())
	if err != nil {
		return fmt.Errorf("finalize %s: %w (%s)", s.path, err, s.stderr.String())
	}
	log.Infof("Finalized %s (%d frames)", s.path, s.frames)
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
