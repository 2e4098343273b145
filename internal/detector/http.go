package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/threatlens/annotator/internal/logger"
	"github.com/threatlens/annotator/pkg/types"
)

var log = logger.For("Detector")

// HTTPBackend posts each frame as a JPEG to an inference endpoint.
//
// Request:  POST <endpoint>?conf=<threshold>, Content-Type: image/jpeg
// Response: {"detections":[{"bbox":[x1,y1,x2,y2],"class_id":1,"confidence":0.91}]}
type HTTPBackend struct {
	endpoint *url.URL
	client   *http.Client
	quality  int
}

type inferResponse struct {
	Detections []inferDetection `json:"detections"`
}

type inferDetection struct {
	BBox       []float64 `json:"bbox"`
	ClassID    *int      `json:"class_id"`
	Confidence float64   `json:"confidence"`
}

// NewHTTPBackend returns a backend for endpoint.
func NewHTTPBackend(endpoint string, opts Options) (*HTTPBackend, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse model endpoint: %w", err)
	}
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = def.JPEGQuality
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &HTTPBackend{endpoint: u, client: client, quality: opts.JPEGQuality}, nil
}

// Detect sends frame to the endpoint and parses the detections it returns.
func (b *HTTPBackend) Detect(ctx context.Context, frame image.Image, threshold float64) ([]types.RawDetection, error) {
	var body bytes.Buffer
	if err := jpeg.Encode(&body, frame, &jpeg.Options{Quality: b.quality}); err != nil {
		return nil, Failure("encode frame: %v", err)
	}

	u := *b.endpoint
	q := u.Query()
	q.Set("conf", strconv.FormatFloat(threshold, 'f', -1, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return nil, Failure("build request: %v", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: backend unavailable: %w", ErrModelFailure, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Failure("read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, Failure("backend returned %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var parsed inferResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, Failure("decode response: %v", err)
	}

	out := make([]types.RawDetection, 0, len(parsed.Detections))
	for i, d := range parsed.Detections {
		if len(d.BBox) != 4 || d.ClassID == nil {
			return nil, Failure("detection %d: want bbox[4] and class_id", i)
		}
		if !(d.Confidence >= 0 && d.Confidence <= 1) {
			return nil, Failure("detection %d: confidence %g outside [0, 1]", i, d.Confidence)
		}
		out = append(out, types.RawDetection{
			Box:        types.BoundingBox{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]},
			ClassID:    *d.ClassID,
			Confidence: d.Confidence,
		})
	}
	log.Debugf("%s returned %d detections", b.endpoint.Host, len(out))
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
