package snapshot

import (
	"bytes"
	"fmt"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"strings"
)

const (
	FormatPNG  = "image/png"
	FormatJPEG = "image/jpeg"
	FormatGIF  = "image/gif"
)

// Blob is an encoded image with its media type.
type Blob struct {
	Type string
	Data []byte
}

// DataURL returns the blob as a base64 data URI.
func (b *Blob) DataURL() string { return DataURL(b.Data, b.Type) }

// normalizeFormat maps short names and media types onto a supported media
// type; the empty string means PNG.
func normalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "png", FormatPNG:
		return FormatPNG, nil
	case "jpg", "jpeg", FormatJPEG:
		return FormatJPEG, nil
	case "gif", FormatGIF:
		return FormatGIF, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// Encode writes the surface in the given format. quality only applies to JPEG.
func (s *Surface) Encode(format string, quality float64) (*Blob, error) {
	mt, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	switch mt {
	case FormatPNG:
		err = png.Encode(&buf, s.Image)
	case FormatJPEG:
		q := int(math.Round(quality * 100))
		q = max(1, min(q, 100))
		err = jpeg.Encode(&buf, s.Image, &jpeg.Options{Quality: q})
	case FormatGIF:
		err = gif.Encode(&buf, s.Image, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", mt, err)
	}
	return &Blob{Type: mt, Data: buf.Bytes()}, nil
}
