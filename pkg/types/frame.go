package types

import (
	"image"
	"image/color"
	"time"
)

// ThreatTier orders categories by how urgently an operator should look at them.
// ThreatUnknown is the lowest priority.
type ThreatTier int

const (
	ThreatUnknown ThreatTier = iota
	ThreatLow
	ThreatMedium
	ThreatHigh
)

var threatNames = map[ThreatTier]string{
	ThreatUnknown: "UNKNOWN",
	ThreatLow:     "LOW",
	ThreatMedium:  "MEDIUM",
	ThreatHigh:    "HIGH",
}

// String returns the upper-case tier name used in payloads and logs
func (t ThreatTier) String() string {
	if name, ok := threatNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// Marker is the glyph drawn in the top-right corner of an emphasized box.
type Marker int

const (
	MarkerNone Marker = iota
	MarkerCircle
	MarkerSquare
)

// Category is an immutable semantic detection class.
type Category struct {
	ID     int
	Name   string
	Color  color.RGBA
	Threat ThreatTier
	Marker Marker
}

// Emphasized reports whether the category is drawn with a heavier outline and a marker glyph.
func (c Category) Emphasized() bool {
	return c.Marker != MarkerNone
}

// BoundingBox is a pixel-space box with X1<X2 and Y1<Y2.
type BoundingBox struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

// Normalize swaps reversed corners so that X1<=X2 and Y1<=Y2.
func (b BoundingBox) Normalize() BoundingBox {
	if b.X1 > b.X2 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y1 > b.Y2 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
	return b
}

// Empty reports whether the box has no area
func (b BoundingBox) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Rect returns the integer pixel rectangle covered by the box.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// Array returns the box as [x1, y1, x2, y2].
func (b BoundingBox) Array() [4]float64 {
	return [4]float64{b.X1, b.Y1, b.X2, b.Y2}
}

// RawDetection is what a detection backend returns for a single object.
type RawDetection struct {
	Box        BoundingBox
	ClassID    int
	Confidence float64
}

// Detection is a thresholded detection with its category resolved.
type Detection struct {
	Box        BoundingBox
	ClassID    int
	Category   Category
	Confidence float64
}

// FrameResult is the per-frame output of a stream.
// The annotated Frame is an independent copy owned by the consumer.
type FrameResult struct {
	Detections  []Detection
	Frame       *image.RGBA
	Count       int
	Timestamp   time.Time
	FrameNumber int
	TotalFrames int
	// Progress is nil when the source does not declare a frame count.
	Progress *float64
}

// VideoInfo holds source metadata read at open time.
// TotalFrames is 0 when the source does not declare a frame count.
type VideoInfo struct {
	FPS         float64
	Width       int
	Height      int
	TotalFrames int
}
