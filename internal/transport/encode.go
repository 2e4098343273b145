// Package transport encodes annotated frames and frame results for delivery
// to consumers: JPEG bytes, base64 text, and the payload record in JSON or
// protobuf wire form.
package transport

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
)

// DefaultJPEGQuality matches what the monitor uses for its MJPEG feed.
const DefaultJPEGQuality = 85

// EncodeJPEG compresses img. Quality outside 1..100 falls back to DefaultJPEGQuality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeBase64 returns the JPEG encoding of img as standard base64 text.
func EncodeBase64(img image.Image, quality int) (string, error) {
	data, err := EncodeJPEG(img, quality)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
