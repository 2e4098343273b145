package video

import (
	"image"

	"golang.org/x/image/draw"
)

// rgb24ToRGBA converts a packed RGB24 buffer into a new RGBA image.
func rgb24ToRGBA(buf []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i+2 < len(buf) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = buf[i]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// appendRGB24 appends frame as packed RGB24 to dst, cropped or padded to width x height.
func appendRGB24(dst []byte, frame image.Image, width, height int) []byte {
	rgba, ok := frame.(*image.RGBA)
	if !ok || rgba.Bounds() != image.Rect(0, 0, width, height) {
		rgba = image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(rgba, rgba.Bounds(), frame, frame.Bounds().Min, draw.Src)
	}
	for y := 0; y < height; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+width*4]
		for x := 0; x < len(row); x += 4 {
			dst = append(dst, row[x], row[x+1], row[x+2])
		}
	}
	return dst
}
