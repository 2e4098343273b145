// Package video opens frame sources and annotated-frame sinks.
//
// Video files and network streams go through ffmpeg (raw RGB24 over pipes).
// A directory of still images is read as an image sequence, and a sink path
// without an extension is written as one.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/threatlens/annotator/internal/logger"
	"github.com/threatlens/annotator/pkg/types"
)

var log = logger.For("Video")

// DefaultFPS is used when a source does not declare a frame rate.
const DefaultFPS = 30.0

// Source yields decoded frames in order. Read returns io.EOF after the last frame.
type Source interface {
	Info() types.VideoInfo
	Read(ctx context.Context) (image.Image, error)
	Close() error
}

// Sink receives annotated frames. All frames have the dimensions given at open time.
type Sink interface {
	Write(frame image.Image) error
	Close() error
}

// SourceOptions tunes OpenSource.
type SourceOptions struct {
	// FPS overrides the frame rate reported for image sequences.
	FPS float64
}

// OpenSource opens path as a video file, stream URL or image-sequence directory.
func OpenSource(ctx context.Context, path string, opts SourceOptions) (Source, error) {
	if path == "" {
		return nil, errors.New("empty source path")
	}
	if isURL(path) {
		return OpenFFmpegSource(ctx, path)
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if st.IsDir() {
		return OpenImageSequence(path, opts.FPS)
	}
	return OpenFFmpegSource(ctx, path)
}

// OpenSink creates a sink at path for frames described by info.
// A path with a video extension is encoded by ffmpeg; a path without an
// extension becomes a directory of PNG frames.
func OpenSink(path string, info types.VideoInfo) (Sink, error) {
	if path == "" {
		return nil, errors.New("empty sink path")
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("invalid sink dimensions %dx%d", info.Width, info.Height)
	}
	if filepath.Ext(path) == "" {
		return NewImageSequenceSink(path, info)
	}
	return OpenFFmpegSink(path, info)
}

func isURL(path string) bool {
	return strings.Contains(path, "://")
}
