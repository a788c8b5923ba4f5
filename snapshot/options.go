// Package snapshot turns an element subtree of an HTML document into a
// self-contained SVG, a raster surface, raw pixels or an encoded image.
package snapshot

import (
	"net/http"
	"time"

	"golang.org/x/net/html"
)

const (
	defaultConcurrency  = 8
	defaultFetchTimeout = 15 * time.Second

	// canvasDimensionLimit is the largest surface side accepted without scaling.
	canvasDimensionLimit = 16384
)

// Options configures a single conversion. The value is copied when a
// conversion starts and is never modified afterwards.
type Options struct {
	// Width and Height override the measured size of the root element.
	Width  int
	Height int
	// CanvasWidth and CanvasHeight override the logical surface size.
	CanvasWidth  int
	CanvasHeight int
	// PixelRatio scales the surface; 0 means the converter default.
	PixelRatio float64
	// BackgroundColor is a CSS color painted under the snapshot and set on the clone root.
	BackgroundColor string
	// Quality applies to lossy encoders, in (0, 1]. 0 means 1.
	Quality float64
	// Type is the blob content type used by ToBlob (image/png when empty).
	Type string
	// SkipAutoScale disables clamping oversized surfaces; they fail with ErrDimensionOverflow.
	SkipAutoScale bool
	// SkipFonts disables @font-face embedding.
	SkipFonts bool
	// FontEmbedCSS replaces font discovery with caller supplied CSS.
	FontEmbedCSS string
	// PreferredFontFormat keeps only @font-face sources of this format (e.g. "woff2").
	PreferredFontFormat string
	// CacheBust appends a timestamp query parameter to every fetched resource.
	CacheBust bool
	// ImagePlaceholder is a data URL used when a resource cannot be fetched.
	// When empty, a failing fetch aborts the conversion.
	ImagePlaceholder string
	// RequestHeaders are sent with every resource fetch.
	RequestHeaders http.Header
	// Jar is used for resource fetches when set.
	Jar http.CookieJar
	// Filter excludes descendants of the root from the clone when it returns false.
	Filter func(n *html.Node) bool
	// Style is merged into the clone root's inline style.
	Style map[string]string
	// Concurrency bounds the number of nodes embedded at once.
	Concurrency int
	// Timeout bounds the whole conversion; 0 leaves the caller's context alone.
	Timeout time.Duration
}

func (o Options) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return defaultConcurrency
}

func (o Options) quality() float64 {
	if o.Quality <= 0 || o.Quality > 1 {
		return 1
	}
	return o.Quality
}
