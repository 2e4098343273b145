// Package annotate draws detection overlays onto copies of video frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"

	"github.com/threatlens/annotator/pkg/types"
)

const (
	labelMargin    = 10
	labelPadX      = 10
	labelPadTop    = 8
	labelPadBottom = 2
	labelTextInset = 5
	labelOpacity   = 0.8

	markerRadius = 6
	markerInset  = 10
	squareInner  = 4
	squareOuter  = 16

	defaultFontSize = 14
)

var (
	outlineColor = color.Black
	textColor    = color.White
	markerEdge   = color.White
)

// Options tunes the annotator.
type Options struct {
	FontSize float64
}

// Annotator renders detection overlays. It holds no per-call state, so one
// Annotator may be shared by concurrent streams.
type Annotator struct {
	font *truetype.Font
	size float64
}

// New parses the embedded Go Bold font and returns an Annotator.
func New(opts Options) (*Annotator, error) {
	f, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	size := opts.FontSize
	if size <= 0 {
		size = defaultFontSize
	}
	return &Annotator{font: f, size: size}, nil
}

// face is created per call: truetype faces cache glyphs and are not safe for concurrent use.
func (a *Annotator) face() font.Face {
	return truetype.NewFace(a.font, &truetype.Options{Size: a.size, Hinting: font.HintingFull})
}

// Copy returns an origin-based RGBA copy of img.
func Copy(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Annotate returns a new frame with every detection drawn in order. frame is not modified.
func (a *Annotator) Annotate(frame image.Image, detections []types.Detection) *image.RGBA {
	out := Copy(frame)
	dc := gg.NewContextForRGBA(out)
	face := a.face()
	defer face.Close()
	dc.SetFontFace(face)

	for _, det := range detections {
		a.drawDetection(dc, face, det)
	}
	return out
}

// AnnotateWithHeader is Annotate followed by a status line in the top-left corner.
func (a *Annotator) AnnotateWithHeader(frame image.Image, detections []types.Detection, header string) *image.RGBA {
	out := a.Annotate(frame, detections)
	if header == "" {
		return out
	}
	dc := gg.NewContextForRGBA(out)
	face := a.face()
	defer face.Close()
	dc.SetFontFace(face)

	w, ascent, descent := textExtent(face, header)
	dc.SetColor(color.NRGBA{A: 200})
	dc.DrawRectangle(4, 4, float64(w+2*labelTextInset), float64(ascent+descent+2*labelTextInset))
	dc.Fill()
	drawOutlinedText(dc, header, float64(4+labelTextInset), float64(4+labelTextInset+ascent))
	return out
}

// Label returns the text drawn next to a detection.
func Label(det types.Detection) string {
	return fmt.Sprintf("%s %d%%", det.Category.Name, int(math.Round(det.Confidence*100)))
}

// Thickness returns the box outline width for a category.
func Thickness(c types.Category) float64 {
	if c.Emphasized() {
		return 3
	}
	return 2
}

// LabelRect returns the label background rectangle for det.
func (a *Annotator) LabelRect(det types.Detection) image.Rectangle {
	face := a.face()
	defer face.Close()
	r, _ := labelLayout(face, det)
	return r
}

// labelLayout places the label above the box, or just inside its top edge when
// there is no room above.
func labelLayout(face font.Face, det types.Detection) (bg image.Rectangle, baselineY int) {
	box := det.Box.Rect()
	w, ascent, descent := textExtent(face, Label(det))

	labelY := box.Min.Y - labelMargin
	if labelY <= ascent {
		labelY = box.Min.Y + ascent + labelMargin
	}

	bg = image.Rect(
		box.Min.X, labelY-ascent-labelPadTop,
		box.Min.X+w+labelPadX, labelY+descent+labelPadBottom,
	)
	return bg, labelY
}

func textExtent(face font.Face, s string) (width, ascent, descent int) {
	m := face.Metrics()
	return font.MeasureString(face, s).Ceil(), m.Ascent.Ceil(), m.Descent.Ceil()
}

func (a *Annotator) drawDetection(dc *gg.Context, face font.Face, det types.Detection) {
	cat := det.Category
	box := det.Box.Rect()

	dc.SetColor(cat.Color)
	dc.SetLineWidth(Thickness(cat))
	dc.DrawRectangle(float64(box.Min.X), float64(box.Min.Y), float64(box.Dx()), float64(box.Dy()))
	dc.Stroke()

	bg, labelY := labelLayout(face, det)
	dc.SetColor(color.NRGBA{R: cat.Color.R, G: cat.Color.G, B: cat.Color.B, A: uint8(math.Round(labelOpacity * 255))})
	dc.DrawRectangle(float64(bg.Min.X), float64(bg.Min.Y), float64(bg.Dx()), float64(bg.Dy()))
	dc.Fill()

	drawOutlinedText(dc, Label(det), float64(box.Min.X+labelTextInset), float64(labelY))

	drawMarker(dc, cat, box)
}

// drawOutlinedText stamps the text in black around the anchor, then draws it in white on top.
func drawOutlinedText(dc *gg.Context, s string, x, y float64) {
	dc.SetColor(outlineColor)
	for dy := -1.0; dy <= 1; dy++ {
		for dx := -1.0; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			dc.DrawString(s, x+dx, y+dy)
		}
	}
	dc.SetColor(textColor)
	dc.DrawString(s, x, y)
}

func drawMarker(dc *gg.Context, cat types.Category, box image.Rectangle) {
	switch cat.Marker {
	case types.MarkerCircle:
		cx, cy := float64(box.Max.X-markerInset), float64(box.Min.Y+markerInset)
		dc.DrawCircle(cx, cy, markerRadius)
		dc.SetColor(cat.Color)
		dc.Fill()
		dc.DrawCircle(cx, cy, markerRadius)
		dc.SetColor(markerEdge)
		dc.SetLineWidth(1)
		dc.Stroke()
	case types.MarkerSquare:
		x, y := float64(box.Max.X-squareOuter), float64(box.Min.Y+squareInner)
		side := float64(squareOuter - squareInner)
		dc.DrawRectangle(x, y, side, side)
		dc.SetColor(cat.Color)
		dc.Fill()
		dc.DrawRectangle(x, y, side, side)
		dc.SetColor(markerEdge)
		dc.SetLineWidth(1)
		dc.Stroke()
	}
}
