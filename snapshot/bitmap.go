package snapshot

import (
	"context"
	"image"
)

// BitmapDecoder rasterizes an SVG data URI at the given pixel size.
type BitmapDecoder interface {
	DecodeBitmap(ctx context.Context, svgDataURI string, width, height int) (image.Image, error)
}

// DecoderFunc adapts a function to BitmapDecoder.
type DecoderFunc func(ctx context.Context, svgDataURI string, width, height int) (image.Image, error)

func (f DecoderFunc) DecodeBitmap(ctx context.Context, svgDataURI string, width, height int) (image.Image, error) {
	return f(ctx, svgDataURI, width, height)
}
