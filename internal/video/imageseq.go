package video

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/threatlens/annotator/pkg/types"
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".webp": true,
	".tif":  true,
	".tiff": true,
}

// ImageSequence reads a directory of still images in lexical order as video frames.
type ImageSequence struct {
	dir   string
	files []string
	info  types.VideoInfo

	mu     sync.Mutex
	next   int
	closed bool
}

// OpenImageSequence lists the images in dir. The first image fixes the frame size.
func OpenImageSequence(dir string, fps float64) (*ImageSequence, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sequence dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}
	sort.Strings(files)

	cfg, err := decodeConfig(files[0])
	if err != nil {
		return nil, err
	}
	if fps <= 0 {
		fps = DefaultFPS
	}

	log.Infof("Opened image sequence %s (%d frames, %dx%d)", dir, len(files), cfg.Width, cfg.Height)
	return &ImageSequence{
		dir:   dir,
		files: files,
		info: types.VideoInfo{
			FPS:         fps,
			Width:       cfg.Width,
			Height:      cfg.Height,
			TotalFrames: len(files),
		},
	}, nil
}

func decodeConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

func (s *ImageSequence) Info() types.VideoInfo {
	return s.info
}

// Read decodes the next image. Frames are decoded lazily, one per call.
func (s *ImageSequence) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed || s.next >= len(s.files) {
		s.mu.Unlock()
		return nil, io.EOF
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func (s *ImageSequence) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// ImageSequenceSink writes each frame as frame_%06d.png in a directory.
type ImageSequenceSink struct {
	dir  string
	info types.VideoInfo
	enc  png.Encoder

	mu     sync.Mutex
	count  int
	closed bool
}

// NewImageSequenceSink creates dir if needed.
func NewImageSequenceSink(dir string, info types.VideoInfo) (*ImageSequenceSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}
	return &ImageSequenceSink{
		dir:  dir,
		info: info,
		enc:  png.Encoder{CompressionLevel: png.BestSpeed},
	}, nil
}

func (s *ImageSequenceSink) Write(frame image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sink closed")
	}
	path := filepath.Join(s.dir, fmt.Sprintf("frame_%06d.png", s.count))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.enc.Encode(f, frame); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.count++
	return nil
}

func (s *ImageSequenceSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		log.Debugf("Wrote %d frames to %s", s.count, s.dir)
	}
	return nil
}
