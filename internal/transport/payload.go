package transport

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"

	pb "github.com/threatlens/annotator/pkg/proto"
	"github.com/threatlens/annotator/pkg/types"
)

// Detection is one detection as delivered to consumers.
type Detection struct {
	ClassName  string     `json:"class_name"`
	ClassID    int        `json:"class_id"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
	Threat     string     `json:"threat"`
}

// Payload is the transport record for one frame result.
// Progress is omitted when the source length is unknown; Image is omitted unless requested.
type Payload struct {
	StreamID    string      `json:"stream_id,omitempty"`
	FrameNumber int         `json:"frame_number"`
	TotalFrames int         `json:"total_frames"`
	Progress    *float64    `json:"progress,omitempty"`
	Timestamp   string      `json:"timestamp"`
	Count       int         `json:"count"`
	Detections  []Detection `json:"detections"`
	Image       string      `json:"image,omitempty"`
}

// PayloadOptions controls NewPayload.
type PayloadOptions struct {
	StreamID     string
	IncludeImage bool
	JPEGQuality  int
}

// NewPayload converts res into a Payload. The annotated frame is embedded as
// base64 JPEG only when opts.IncludeImage is set.
func NewPayload(res *types.FrameResult, opts PayloadOptions) (*Payload, error) {
	if res == nil {
		return nil, fmt.Errorf("nil frame result")
	}
	p := &Payload{
		StreamID:    opts.StreamID,
		FrameNumber: res.FrameNumber,
		TotalFrames: res.TotalFrames,
		Timestamp:   res.Timestamp.UTC().Format(time.RFC3339Nano),
		Count:       res.Count,
		Detections:  make([]Detection, len(res.Detections)),
	}
	if res.Progress != nil {
		v := *res.Progress
		p.Progress = &v
	}
	for i, d := range res.Detections {
		p.Detections[i] = Detection{
			ClassName:  d.Category.Name,
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			BBox:       d.Box.Array(),
			Threat:     d.Category.Threat.String(),
		}
	}
	if opts.IncludeImage && res.Frame != nil {
		img, err := EncodeBase64(res.Frame, opts.JPEGQuality)
		if err != nil {
			return nil, err
		}
		p.Image = img
	}
	return p, nil
}

// Proto converts p to its wire message. Progress keeps explicit presence.
func (p *Payload) Proto() *pb.FramePayload {
	msg := &pb.FramePayload{
		StreamId:    p.StreamID,
		FrameNumber: uint64(p.FrameNumber),
		TotalFrames: uint64(p.TotalFrames),
		Timestamp:   p.Timestamp,
		Count:       uint32(p.Count),
		Detections:  make([]*pb.Detection, len(p.Detections)),
		Image:       p.Image,
	}
	if p.Progress != nil {
		v := *p.Progress
		msg.Progress = &v
	}
	for i, d := range p.Detections {
		msg.Detections[i] = &pb.Detection{
			ClassName:  d.ClassName,
			ClassId:    int32(d.ClassID),
			Confidence: d.Confidence,
			Bbox:       d.BBox[:],
			Threat:     d.Threat,
		}
	}
	return msg
}

// MarshalProto encodes p in protobuf wire format.
func (p *Payload) MarshalProto() ([]byte, error) {
	data, err := proto.Marshal(p.Proto())
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf payload: %w", err)
	}
	return data, nil
}
