package transport

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/threatlens/annotator/internal/category"
	pb "github.com/threatlens/annotator/pkg/proto"
	"github.com/threatlens/annotator/pkg/types"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestEncodeJPEG(t *testing.T) {
	img := solid(40, 30, color.RGBA{R: 200, G: 40, B: 40, A: 255})
	data, err := EncodeJPEG(img, 90)
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())

	r, g, b, _ := decoded.At(20, 15).RGBA()
	assert.InDelta(t, 200, r>>8, 8)
	assert.InDelta(t, 40, g>>8, 8)
	assert.InDelta(t, 40, b>>8, 8)
}

func TestEncodeJPEGRejectsNil(t *testing.T) {
	_, err := EncodeJPEG(nil, 80)
	assert.Error(t, err)
}

func TestEncodeJPEGDefaultsQuality(t *testing.T) {
	img := solid(16, 16, color.RGBA{A: 255})
	a, err := EncodeJPEG(img, 0)
	require.NoError(t, err)
	b, err := EncodeJPEG(img, DefaultJPEGQuality)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeBase64RoundTrip(t *testing.T) {
	img := solid(8, 8, color.RGBA{G: 255, A: 255})
	s, err := EncodeBase64(img, 80)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 8, decoded.Bounds().Dx())
}

func sampleResult(progress *float64) *types.FrameResult {
	reg := category.Default()
	dets := []types.Detection{
		{
			Box:        types.BoundingBox{X1: 10, Y1: 10, X2: 50, Y2: 50},
			ClassID:    1,
			Category:   reg.Resolve(1),
			Confidence: 0.9,
		},
		{
			Box:        types.BoundingBox{X1: 1.5, Y1: 2, X2: 3, Y2: 4.25},
			ClassID:    42,
			Category:   reg.Resolve(42),
			Confidence: 0.55,
		},
	}
	return &types.FrameResult{
		Detections:  dets,
		Frame:       solid(20, 10, color.RGBA{B: 255, A: 255}),
		Count:       len(dets),
		Timestamp:   time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC),
		FrameNumber: 4,
		TotalFrames: 10,
		Progress:    progress,
	}
}

func TestNewPayload(t *testing.T) {
	progress := 40.0
	p, err := NewPayload(sampleResult(&progress), PayloadOptions{StreamID: "run-1"})
	require.NoError(t, err)

	assert.Equal(t, "run-1", p.StreamID)
	assert.Equal(t, 4, p.FrameNumber)
	assert.Equal(t, 10, p.TotalFrames)
	require.NotNil(t, p.Progress)
	assert.Equal(t, 40.0, *p.Progress)
	assert.Equal(t, "2024-05-01T12:00:00.123456789Z", p.Timestamp)
	assert.Equal(t, 2, p.Count)
	assert.Empty(t, p.Image)

	require.Len(t, p.Detections, 2)
	assert.Equal(t, Detection{
		ClassName:  "Soldier",
		ClassID:    1,
		Confidence: 0.9,
		BBox:       [4]float64{10, 10, 50, 50},
		Threat:     "HIGH",
	}, p.Detections[0])
	assert.Equal(t, "Unknown", p.Detections[1].ClassName)
	assert.Equal(t, 42, p.Detections[1].ClassID)
	assert.Equal(t, "UNKNOWN", p.Detections[1].Threat)
}

func TestNewPayloadCopiesProgress(t *testing.T) {
	progress := 40.0
	res := sampleResult(&progress)
	p, err := NewPayload(res, PayloadOptions{})
	require.NoError(t, err)
	progress = 90
	assert.Equal(t, 40.0, *p.Progress)
}

func TestNewPayloadIncludesImage(t *testing.T) {
	p, err := NewPayload(sampleResult(nil), PayloadOptions{IncludeImage: true, JPEGQuality: 70})
	require.NoError(t, err)
	require.NotEmpty(t, p.Image)

	raw, err := base64.StdEncoding.DecodeString(p.Image)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Width)
	assert.Equal(t, 10, cfg.Height)
}

func TestNewPayloadNil(t *testing.T) {
	_, err := NewPayload(nil, PayloadOptions{})
	assert.Error(t, err)
}

func TestPayloadJSONOmitsUnknownProgress(t *testing.T) {
	p, err := NewPayload(sampleResult(nil), PayloadOptions{})
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotContains(t, m, "progress")
	assert.NotContains(t, m, "image")
	assert.Equal(t, float64(4), m["frame_number"])

	dets := m["detections"].([]any)
	first := dets[0].(map[string]any)
	assert.Equal(t, "Soldier", first["class_name"])
	assert.Equal(t, []any{10.0, 10.0, 50.0, 50.0}, first["bbox"])
}

func TestPayloadJSONKeepsZeroDetections(t *testing.T) {
	res := sampleResult(nil)
	res.Detections = nil
	res.Count = 0
	p, err := NewPayload(res, PayloadOptions{})
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"detections":[]`)
}

func unmarshalPayload(t *testing.T, p *Payload) *pb.FramePayload {
	t.Helper()
	wire, err := p.MarshalProto()
	require.NoError(t, err)
	var msg pb.FramePayload
	require.NoError(t, proto.Unmarshal(wire, &msg))
	return &msg
}

func TestPayloadProtoRoundTrip(t *testing.T) {
	progress := 40.0
	p, err := NewPayload(sampleResult(&progress), PayloadOptions{StreamID: "run-1", IncludeImage: true})
	require.NoError(t, err)

	msg := unmarshalPayload(t, p)
	assert.Equal(t, "run-1", msg.GetStreamId())
	assert.Equal(t, uint64(p.FrameNumber), msg.GetFrameNumber())
	assert.Equal(t, uint64(p.TotalFrames), msg.GetTotalFrames())
	require.NotNil(t, msg.Progress)
	assert.Equal(t, 40.0, msg.GetProgress())
	assert.Equal(t, p.Timestamp, msg.GetTimestamp())
	assert.Equal(t, uint32(p.Count), msg.GetCount())
	assert.Equal(t, p.Image, msg.GetImage())
	assert.NotEmpty(t, msg.GetImage())

	require.Len(t, msg.GetDetections(), len(p.Detections))
	for i, d := range p.Detections {
		got := msg.GetDetections()[i]
		assert.Equal(t, d.ClassName, got.GetClassName())
		assert.Equal(t, int32(d.ClassID), got.GetClassId())
		assert.Equal(t, d.Confidence, got.GetConfidence())
		assert.Equal(t, d.BBox[:], got.GetBbox())
		assert.Equal(t, d.Threat, got.GetThreat())
	}
}

func TestPayloadProtoWithoutProgress(t *testing.T) {
	p, err := NewPayload(sampleResult(nil), PayloadOptions{})
	require.NoError(t, err)

	msg := unmarshalPayload(t, p)
	assert.Nil(t, msg.Progress)
	assert.Empty(t, msg.GetImage())
	assert.Len(t, msg.GetDetections(), len(p.Detections))
}

func TestPayloadProtoNegativeClassID(t *testing.T) {
	p := &Payload{Detections: []Detection{{ClassName: "Unknown", ClassID: -1, Threat: "UNKNOWN"}}}
	msg := unmarshalPayload(t, p)
	require.Len(t, msg.GetDetections(), 1)
	assert.Equal(t, int32(-1), msg.GetDetections()[0].GetClassId())
}

func TestPayloadProtoBBoxesIndependent(t *testing.T) {
	p := &Payload{Detections: []Detection{
		{ClassName: "Soldier", BBox: [4]float64{1, 2, 3, 4}},
		{ClassName: "Civilian", BBox: [4]float64{5, 6, 7, 8}},
	}}
	msg := p.Proto()
	assert.Equal(t, []float64{1, 2, 3, 4}, msg.Detections[0].Bbox)
	assert.Equal(t, []float64{5, 6, 7, 8}, msg.Detections[1].Bbox)
}
