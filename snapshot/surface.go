package snapshot

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// Surface is a rasterized snapshot. Image holds device pixels; Width and
// Height are the logical size the device pixels were scaled from.
type Surface struct {
	Image  *image.RGBA
	Width  int
	Height int
	Ratio  float64
}

// clampDimensions scales width and height down so that neither exceeds the
// canvas limit, keeping the aspect ratio.
func clampDimensions(width, height int) (int, int) {
	const limit = canvasDimensionLimit
	if width <= limit && height <= limit {
		return width, height
	}
	w, h := float64(width), float64(height)
	switch {
	case width > limit && height > limit:
		if width > height {
			h *= limit / w
			w = limit
		} else {
			w *= limit / h
			h = limit
		}
	case width > limit:
		h *= limit / w
		w = limit
	default:
		w *= limit / h
		h = limit
	}
	return int(w), int(h)
}

// deviceSize computes the pixel size of a surface for a logical size.
func deviceSize(width, height int, ratio float64, skipAutoScale bool) (int, int, error) {
	dw := int(math.Floor(float64(width) * ratio))
	dh := int(math.Floor(float64(height) * ratio))
	if dw <= 0 || dh <= 0 {
		return 0, 0, fmt.Errorf("invalid surface size %dx%d", dw, dh)
	}
	if dw > canvasDimensionLimit || dh > canvasDimensionLimit {
		if skipAutoScale {
			return 0, 0, fmt.Errorf("%w: %dx%d exceeds %d", ErrDimensionOverflow, dw, dh, canvasDimensionLimit)
		}
		dw, dh = clampDimensions(dw, dh)
	}
	return dw, dh, nil
}

// newSurface allocates the device canvas and paints the background fill.
func newSurface(width, height, deviceWidth, deviceHeight int, ratio float64, background string) (*Surface, error) {
	img := image.NewRGBA(image.Rect(0, 0, deviceWidth, deviceHeight))
	if background != "" {
		c, ok := ParseColor(background)
		if !ok {
			return nil, fmt.Errorf("background color %q: unsupported", background)
		}
		draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	}
	return &Surface{Image: img, Width: width, Height: height, Ratio: ratio}, nil
}

// drawBitmap scales bitmap over the whole surface.
func (s *Surface) drawBitmap(bitmap image.Image) {
	if bitmap == nil {
		return
	}
	if bitmap.Bounds().Size() == s.Image.Bounds().Size() {
		draw.Draw(s.Image, s.Image.Bounds(), bitmap, bitmap.Bounds().Min, draw.Over)
		return
	}
	draw.CatmullRom.Scale(s.Image, s.Image.Bounds(), bitmap, bitmap.Bounds(), draw.Over, nil)
}

// PixelData returns the non-premultiplied RGBA bytes of the top-left
// width x height region. Pixels outside the surface are transparent black.
func (s *Surface) PixelData(width, height int) []byte {
	out := make([]byte, width*height*4)
	b := s.Image.Bounds()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x >= b.Dx() || y >= b.Dy() {
				continue
			}
			c := color.NRGBAModel.Convert(s.Image.RGBAAt(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := (y*width + x) * 4
			out[i], out[i+1], out[i+2], out[i+3] = c.R, c.G, c.B, c.A
		}
	}
	return out
}
