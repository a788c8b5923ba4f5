package snapshot

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="4" height="4"><rect width="4" height="4" fill="red"/></svg>`

func pngBytes(t testing.TB, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

// origin is a test HTTP server that counts and orders requests by path.
type origin struct {
	*httptest.Server
	mu    sync.Mutex
	hits  map[string]int
	order []string
	query map[string]string
}

func newOrigin(t *testing.T, routes map[string]http.HandlerFunc) *origin {
	t.Helper()
	o := &origin{hits: map[string]int{}, query: map[string]string{}}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.URL.Path]++
		o.order = append(o.order, r.URL.Path)
		o.query[r.URL.Path] = r.URL.RawQuery
		o.mu.Unlock()
		h, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *origin) count(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func (o *origin) total() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.order)
}

func (o *origin) requestOrder() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}

func (o *origin) rawQuery(path string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.query[path]
}

func serveBytes(contentType string, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}
}

func parseTestDocument(t *testing.T, src, baseURL string) *Document {
	t.Helper()
	doc, err := ParseDocument(context.Background(), strings.NewReader(src), baseURL, "text/html; charset=utf-8", LoadOptions{})
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	return doc
}

func mustSelect(t *testing.T, doc *Document, selector string) *Element {
	t.Helper()
	el, err := doc.Select(selector)
	if err != nil {
		t.Fatalf("Select(%q): %v", selector, err)
	}
	return el
}

func queryNode(t *testing.T, root *html.Node, selector string) *html.Node {
	t.Helper()
	n := cascadia.Query(root, cascadia.MustCompile(selector))
	if n == nil {
		t.Fatalf("no node for %q", selector)
	}
	return n
}

func renderNode(t *testing.T, n *html.Node) string {
	t.Helper()
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		t.Fatalf("html.Render: %v", err)
	}
	return buf.String()
}

func testResolver(opts Options) *resolver {
	return (&Converter{}).resolver(opts)
}

// solidDecoder fills the requested size with c and records the calls.
type solidDecoder struct {
	c     color.Color
	mu    sync.Mutex
	sizes []image.Point
	svgs  []string
}

func (d *solidDecoder) DecodeBitmap(ctx context.Context, svg string, width, height int) (image.Image, error) {
	d.mu.Lock()
	d.sizes = append(d.sizes, image.Pt(width, height))
	d.svgs = append(d.svgs, svg)
	d.mu.Unlock()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if d.c != nil {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.Set(x, y, d.c)
			}
		}
	}
	return img, nil
}
