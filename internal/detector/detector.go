// Package detector is the boundary to the object-detection backend.
//
// A Detector is synchronous: Detect blocks until the backend answers. It
// returns only integer class ids; display names come from the category
// registry. Failures wrap ErrModelFailure and are never retried here.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/threatlens/annotator/pkg/types"
)

// ErrModelFailure marks any failure of the backend to produce detections for a frame.
var ErrModelFailure = errors.New("model failure")

// Detector runs object detection on one frame.
type Detector interface {
	Detect(ctx context.Context, frame image.Image, threshold float64) ([]types.RawDetection, error)
}

// Func adapts a plain function to Detector.
type Func func(ctx context.Context, frame image.Image, threshold float64) ([]types.RawDetection, error)

// Detect calls f.
func (f Func) Detect(ctx context.Context, frame image.Image, threshold float64) ([]types.RawDetection, error) {
	return f(ctx, frame, threshold)
}

// Null never detects anything. It lets a stream run without a backend.
type Null struct{}

// Detect returns no detections.
func (Null) Detect(context.Context, image.Image, float64) ([]types.RawDetection, error) {
	return nil, nil
}

// Options configures backends created by Open.
type Options struct {
	Timeout     time.Duration
	JPEGQuality int
	Client      *http.Client
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Timeout:     10 * time.Second,
		JPEGQuality: 90,
	}
}

// Open selects a backend from a model handle:
//
//	none | ""          no detections
//	http(s)://host/... HTTP inference endpoint
func Open(handle string, opts Options) (Detector, error) {
	h := strings.TrimSpace(handle)
	switch {
	case h == "" || strings.EqualFold(h, "none"):
		return Null{}, nil
	case strings.HasPrefix(h, "http://") || strings.HasPrefix(h, "https://"):
		return NewHTTPBackend(h, opts)
	default:
		return nil, fmt.Errorf("unsupported model handle %q (expected none or http(s):// endpoint)", handle)
	}
}

// Failure wraps err as a model failure.
func Failure(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrModelFailure, fmt.Sprintf(format, args...))
}
