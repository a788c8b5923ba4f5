package snapshot

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/html"
)

// Converter holds the collaborators shared by conversions. The zero value
// is usable for SVG output; raster output needs a Decoder.
type Converter struct {
	Client  *http.Client
	Decoder BitmapDecoder
	Logger  *log.Logger
	Clock   func() time.Time
	// PixelRatio is used when Options.PixelRatio is zero; 0 means 1.
	PixelRatio float64
	// Debug logs every resolved resource and stage.
	Debug bool
}

// NewConverter returns a converter with a default HTTP client. Debug
// logging follows DOMSHOT_DEBUG=1.
func NewConverter(decoder BitmapDecoder) *Converter {
	return &Converter{
		Client:     &http.Client{Timeout: defaultFetchTimeout},
		Decoder:    decoder,
		Logger:     log.Default(),
		Clock:      time.Now,
		PixelRatio: 1,
		Debug:      os.Getenv("DOMSHOT_DEBUG") == "1",
	}
}

// DefaultConverter backs the package-level functions. Its Decoder is nil
// until the program installs one.
var DefaultConverter = NewConverter(nil)

func (c *Converter) logger() *log.Logger {
	if c.Logger == nil {
		return log.Default()
	}
	return c.Logger
}

func (c *Converter) pixelRatio(opts Options) float64 {
	if opts.PixelRatio > 0 {
		return opts.PixelRatio
	}
	if c.PixelRatio > 0 {
		return c.PixelRatio
	}
	return 1
}

func (c *Converter) debugf(format string, args ...any) {
	if c.Debug {
		c.logger().Printf(format, args...)
	}
}

func (c *Converter) resolver(opts Options) *resolver {
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	if opts.Jar != nil {
		cc := *client
		cc.Jar = opts.Jar
		client = &cc
	}
	now := c.Clock
	if now == nil {
		now = time.Now
	}
	return &resolver{client: client, opts: opts, now: now, logger: c.logger(), debug: c.Debug}
}

func withTimeout(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	if opts.Timeout > 0 {
		return context.WithTimeout(ctx, opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func checkElement(el *Element) error {
	if el == nil || el.doc == nil || el.node == nil || el.node.Type != html.ElementNode {
		return ErrNoElement
	}
	return nil
}

// ToSVG converts el into a self-contained SVG data URI.
func (c *Converter) ToSVG(ctx context.Context, el *Element, opts Options) (string, error) {
	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()
	svg, _, _, err := c.toSVG(ctx, el, opts)
	return svg, err
}

// toSVG runs the pipeline stages in order on a fresh clone. It also returns
// the measured size.
func (c *Converter) toSVG(ctx context.Context, el *Element, opts Options) (string, int, int, error) {
	if err := checkElement(el); err != nil {
		return "", 0, 0, err
	}
	doc := el.doc
	width, height := measureSize(doc, el.node, opts)

	tags := imageTags{}
	tagged := tagVisibleImages(doc.styles, el.node, 0, tags, c.logger())

	clone := (&cloner{doc: doc, filter: opts.Filter, tags: tags}).cloneTree(el.node)
	c.debugf("SNAP <%s> %dx%d, %d visible images", el.node.Data, width, height, tagged)

	res := c.resolver(opts)
	if !opts.SkipFonts {
		css := opts.FontEmbedCSS
		if css == "" {
			var err error
			css, err = fontFaceCSS(ctx, doc.styles, el.node, opts, res)
			if err != nil {
				return "", 0, 0, fmt.Errorf("embed fonts: %w", err)
			}
		}
		insertFontCSS(clone, css)
	}

	emb := &embedder{res: res, baseURL: doc.baseURL, logger: c.logger(), debug: c.Debug}
	if err := emb.run(ctx, clone, opts.concurrency()); err != nil {
		return "", 0, 0, fmt.Errorf("embed resources: %w", err)
	}

	applyStyle(clone, opts)

	svg, err := serializeSVG(clone, width, height)
	if err != nil {
		return "", 0, 0, fmt.Errorf("serialize: %w", err)
	}
	c.debugf("SNAP svg %d bytes", len(svg))
	return svg, width, height, nil
}

// ToCanvas rasterizes el onto a surface.
func (c *Converter) ToCanvas(ctx context.Context, el *Element, opts Options) (*Surface, error) {
	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()
	s, _, _, err := c.toCanvas(ctx, el, opts)
	return s, err
}

func (c *Converter) toCanvas(ctx context.Context, el *Element, opts Options) (*Surface, int, int, error) {
	if c.Decoder == nil {
		return nil, 0, 0, ErrNoDecoder
	}
	svg, width, height, err := c.toSVG(ctx, el, opts)
	if err != nil {
		return nil, 0, 0, err
	}
	ratio := c.pixelRatio(opts)
	canvasWidth, canvasHeight := opts.CanvasWidth, opts.CanvasHeight
	if canvasWidth <= 0 {
		canvasWidth = width
	}
	if canvasHeight <= 0 {
		canvasHeight = height
	}
	dw, dh, err := deviceSize(canvasWidth, canvasHeight, ratio, opts.SkipAutoScale)
	if err != nil {
		return nil, 0, 0, err
	}
	bitmap, err := c.Decoder.DecodeBitmap(ctx, svg, dw, dh)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode bitmap: %w", err)
	}
	surface, err := newSurface(canvasWidth, canvasHeight, dw, dh, ratio, opts.BackgroundColor)
	if err != nil {
		return nil, 0, 0, err
	}
	surface.drawBitmap(bitmap)
	c.debugf("SNAP canvas %dx%d (ratio %.2f)", dw, dh, ratio)
	return surface, width, height, nil
}

// ToPixelData returns the RGBA bytes of the measured, unscaled region.
func (c *Converter) ToPixelData(ctx context.Context, el *Element, opts Options) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()
	s, width, height, err := c.toCanvas(ctx, el, opts)
	if err != nil {
		return nil, err
	}
	return s.PixelData(width, height), nil
}

// ToImage encodes el in format (png, jpeg or gif) and returns a data URI.
func (c *Converter) ToImage(ctx context.Context, el *Element, format string, opts Options) (string, error) {
	if _, err := normalizeFormat(format); err != nil {
		return "", err
	}
	b, err := c.encode(ctx, el, format, opts)
	if err != nil {
		return "", err
	}
	return b.DataURL(), nil
}

// ToPNG returns a PNG data URI.
func (c *Converter) ToPNG(ctx context.Context, el *Element, opts Options) (string, error) {
	return c.ToImage(ctx, el, FormatPNG, opts)
}

// ToJPEG returns a JPEG data URI encoded at opts.Quality.
func (c *Converter) ToJPEG(ctx context.Context, el *Element, opts Options) (string, error) {
	return c.ToImage(ctx, el, FormatJPEG, opts)
}

// ToBlob encodes el as opts.Type, PNG by default.
func (c *Converter) ToBlob(ctx context.Context, el *Element, opts Options) (*Blob, error) {
	if _, err := normalizeFormat(opts.Type); err != nil {
		return nil, err
	}
	return c.encode(ctx, el, opts.Type, opts)
}

func (c *Converter) encode(ctx context.Context, el *Element, format string, opts Options) (*Blob, error) {
	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()
	s, _, _, err := c.toCanvas(ctx, el, opts)
	if err != nil {
		return nil, err
	}
	return s.Encode(format, opts.quality())
}

// FontEmbedCSS returns the @font-face CSS el would embed, with font files inlined.
func (c *Converter) FontEmbedCSS(ctx context.Context, el *Element, opts Options) (string, error) {
	if err := checkElement(el); err != nil {
		return "", err
	}
	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()
	return fontFaceCSS(ctx, el.doc.styles, el.node, opts, c.resolver(opts))
}

// ResolveURLsInCSS rewrites every url(...) of css into a data URI, resolving
// relative references against baseURL.
func (c *Converter) ResolveURLsInCSS(ctx context.Context, css, baseURL string, opts Options) (string, error) {
	return resolveCSSURLs(ctx, css, baseURL, c.resolver(opts), false)
}

func ToSVG(ctx context.Context, el *Element, opts Options) (string, error) {
	return DefaultConverter.ToSVG(ctx, el, opts)
}

func ToCanvas(ctx context.Context, el *Element, opts Options) (*Surface, error) {
	return DefaultConverter.ToCanvas(ctx, el, opts)
}

func ToPixelData(ctx context.Context, el *Element, opts Options) ([]byte, error) {
	return DefaultConverter.ToPixelData(ctx, el, opts)
}

func ToImage(ctx context.Context, el *Element, format string, opts Options) (string, error) {
	return DefaultConverter.ToImage(ctx, el, format, opts)
}

func ToPNG(ctx context.Context, el *Element, opts Options) (string, error) {
	return DefaultConverter.ToPNG(ctx, el, opts)
}

func ToJPEG(ctx context.Context, el *Element, opts Options) (string, error) {
	return DefaultConverter.ToJPEG(ctx, el, opts)
}

func ToBlob(ctx context.Context, el *Element, opts Options) (*Blob, error) {
	return DefaultConverter.ToBlob(ctx, el, opts)
}

func FontEmbedCSS(ctx context.Context, el *Element, opts Options) (string, error) {
	return DefaultConverter.FontEmbedCSS(ctx, el, opts)
}
