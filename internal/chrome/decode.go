package chrome

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"image"
	"image/png"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"domshot/snapshot"
)

const decodeImageID = "snapshot"

var _ snapshot.BitmapDecoder = (*Browser)(nil)

// bitmapPage is the document an SVG data URI is painted in. The image
// fills a transparent viewport of exactly the requested size.
func bitmapPage(svgDataURI string, width, height int) string {
	return fmt.Sprintf(`<!DOCTYPE html><html><head><style>html,body{margin:0;padding:0;background:transparent;overflow:hidden}img{display:block}</style></head>`+
		`<body><img id="%s" width="%d" height="%d" src="%s"></body></html>`,
		decodeImageID, width, height, html.EscapeString(svgDataURI))
}

// DecodeBitmap paints an SVG data URI at width x height device pixels and
// returns the captured pixels.
func (b *Browser) DecodeBitmap(ctx context.Context, svgDataURI string, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("decode bitmap: invalid size %dx%d", width, height)
	}
	tabCtx, cancel := b.newTab(ctx)
	defer cancel()

	var loaded bool
	var buf []byte
	err := chromedp.Run(tabCtx,
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false),
		emulation.SetDefaultBackgroundColorOverride().WithColor(&cdp.RGBA{R: 0, G: 0, B: 0, A: 0}),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, bitmapPage(svgDataURI, width, height)).Do(ctx)
		}),
		chromedp.Evaluate(fmt.Sprintf(`document.getElementById(%q).decode().then(() => true)`, decodeImageID), &loaded,
			func(p *runtime.EvaluateParams) *runtime.EvaluateParams { return p.WithAwaitPromise(true) }),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			buf, err = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatPng).
				WithClip(&page.Viewport{X: 0, Y: 0, Width: float64(width), Height: float64(height), Scale: 1}).
				WithFromSurface(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("decode bitmap: %w", err)
	}
	if !loaded {
		return nil, fmt.Errorf("decode bitmap: image did not load")
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("decode bitmap: screenshot: %w", err)
	}
	b.logger.Printf("CHROME bitmap %dx%d (%d bytes svg)", width, height, len(svgDataURI))
	return img, nil
}
