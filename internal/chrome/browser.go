// Package chrome drives a headless Chrome through chromedp. It rasterizes
// SVG snapshots and renders script-driven pages for the snapshot service.
package chrome

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/chromedp/chromedp"
)

// Browser owns one Chrome process. Each operation runs in its own tab.
type Browser struct {
	allocator context.Context
	cancel    context.CancelFunc
	logger    *log.Logger
}

// NewBrowser prepares an exec allocator. Chrome starts lazily on first use.
// CHROME_PATH overrides the executable lookup.
func NewBrowser(logger *log.Logger) (*Browser, error) {
	if logger == nil {
		logger = log.Default()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("font-render-hinting", "none"),
	)
	if p := strings.TrimSpace(os.Getenv("CHROME_PATH")); p != "" {
		opts = append(opts, chromedp.ExecPath(p))
	}
	if os.Getenv("CHROME_NO_SANDBOX") == "1" {
		opts = append(opts, chromedp.NoSandbox)
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Browser{
		allocator: allocCtx,
		cancel:    cancel,
		logger:    logger,
	}, nil
}

// Close stops the browser process.
func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}

// newTab opens a tab whose lifetime is bound to ctx as well as the browser.
func (b *Browser) newTab(ctx context.Context) (context.Context, context.CancelFunc) {
	tabCtx, cancelTab := chromedp.NewContext(b.allocator, chromedp.WithLogf(b.logger.Printf))
	stop := context.AfterFunc(ctx, cancelTab)
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithDeadline(tabCtx, deadline)
		return tabCtx, func() {
			cancel()
			stop()
			cancelTab()
		}
	}
	return tabCtx, func() {
		stop()
		cancelTab()
	}
}
