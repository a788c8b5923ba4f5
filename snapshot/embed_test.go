package snapshot

import (
	"context"
	"errors"
	"image/color"
	"net/http"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"
)

func parseFragment(t *testing.T, src string) *html.Node {
	t.Helper()
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	return queryNode(t, root, "#root")
}

func newTestEmbedder(o *origin, opts Options) *embedder {
	return &embedder{res: testResolver(opts), baseURL: o.URL + "/page.html"}
}

func TestClassifyNode(t *testing.T) {
	t.Parallel()
	root, err := html.Parse(strings.NewReader(`<div id="d">text<img id="i"><svg><image id="v"></image></svg><!-- c --></div>`))
	if err != nil {
		t.Fatal(err)
	}
	div := queryNode(t, root, "#d")
	cases := []struct {
		name string
		node *html.Node
		want nodeKind
	}{
		{"generic", div, genericElement},
		{"text", div.FirstChild, nonElement},
		{"raster", queryNode(t, root, "#i"), rasterImageElement},
		{"vector", queryNode(t, root, "#v"), vectorImageElement},
		{"svg_root", queryNode(t, root, "svg"), genericElement},
		{"comment", div.LastChild, nonElement},
		{"nil", nil, nonElement},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyNode(tc.node); got != tc.want {
				t.Fatalf("classifyNode = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEmbedDataURLIsIdempotent(t *testing.T) {
	t.Parallel()
	o := newOrigin(t, nil)
	src := DataURL(pngBytes(t, 2, 2, color.White), "image/png")
	root := parseFragment(t, `<div id="root"><img srcset="x.png 2x" src="`+src+`"><p style="color: red">hi</p></div>`)
	before := renderNode(t, root)

	if err := newTestEmbedder(o, Options{}).run(context.Background(), root, 4); err != nil {
		t.Fatalf("run: %v", err)
	}
	if after := renderNode(t, root); after != before {
		t.Fatalf("tree changed:\nbefore %s\nafter  %s", before, after)
	}
	if n := o.total(); n != 0 {
		t.Fatalf("expected no fetches, got %d", n)
	}
}

func TestEmbedCompleteness(t *testing.T) {
	t.Parallel()
	img := pngBytes(t, 3, 3, color.Black)
	o := newOrigin(t, map[string]http.HandlerFunc{
		"/a.png":   serveBytes("image/png", img),
		"/b.png":   serveBytes("image/png", img),
		"/bg.png":  serveBytes("image/png", img),
		"/pic.svg": serveBytes("image/svg+xml", []byte(testSVG)),
	})
	root := parseFragment(t, `<div id="root" style="background: url(bg.png) no-repeat">
	  <section><div style="background-image: url('/bg.png')"><img src="a.png" srcset="a.png 1x, b.png 2x"></div></section>
	  <svg><image href="pic.svg"></image><image xlink:href="/pic.svg"></image></svg>
	  <ul><li><img src="`+o.URL+`/b.png"></li></ul>
	</div>`)

	if err := newTestEmbedder(o, Options{}).run(context.Background(), root, 3); err != nil {
		t.Fatalf("run: %v", err)
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch classifyNode(n) {
		case rasterImageElement:
			if !IsDataURL(getAttr(n, "src")) || hasAttr(n, "srcset") {
				t.Errorf("img not embedded: %v", n.Attr)
			}
		case vectorImageElement:
			if !IsDataURL(hrefAttr(n)) {
				t.Errorf("svg image not embedded: %v", n.Attr)
			}
		}
		if style := getAttr(n, "style"); style != "" && hasExternalCSSURL(style) {
			t.Errorf("external url left in style %q", style)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	if got := o.count("/bg.png"); got != 2 {
		t.Fatalf("bg.png fetched %d times, want once per occurrence (2)", got)
	}
	if got := o.count("/pic.svg"); got != 2 {
		t.Fatalf("pic.svg fetched %d times, want 2", got)
	}
}

func TestEmbedBackgroundKeepsPriority(t *testing.T) {
	t.Parallel()
	o := newOrigin(t, map[string]http.HandlerFunc{
		"/bg.png": serveBytes("image/png", pngBytes(t, 1, 1, color.White)),
	})
	root := parseFragment(t, `<div id="root" style="color: red; background: url(/bg.png) !important"></div>`)
	if err := newTestEmbedder(o, Options{}).run(context.Background(), root, 1); err != nil {
		t.Fatalf("run: %v", err)
	}
	style := getAttr(root, "style")
	if !strings.Contains(style, "background: url(data:image/png;base64,") {
		t.Fatalf("background not embedded: %q", style)
	}
	if !strings.HasSuffix(style, "!important;") {
		t.Fatalf("priority lost: %q", style)
	}
	if !strings.HasPrefix(style, "color: red;") {
		t.Fatalf("other declarations disturbed: %q", style)
	}
}

func TestEmbedOrdering(t *testing.T) {
	t.Parallel()
	img := pngBytes(t, 1, 1, color.White)
	o := newOrigin(t, map[string]http.HandlerFunc{
		"/self-bg.png": serveBytes("image/png", img),
		"/self.png":    serveBytes("image/png", img),
		"/parent.png":  serveBytes("image/png", img),
		"/child.png":   serveBytes("image/png", img),
		"/grand.png":   serveBytes("image/png", img),
	})
	root := parseFragment(t, `<div id="root" style="background: url(/parent.png)">
	  <img src="/self.png" style="background: url(/self-bg.png)">
	  <div style="background: url(/child.png)"><p><img src="/grand.png"></p></div>
	</div>`)
	if err := newTestEmbedder(o, Options{}).run(context.Background(), root, 8); err != nil {
		t.Fatalf("run: %v", err)
	}
	pos := map[string]int{}
	for i, p := range o.requestOrder() {
		pos[p] = i
	}
	before := [][2]string{
		{"/self-bg.png", "/self.png"},
		{"/parent.png", "/self-bg.png"},
		{"/parent.png", "/child.png"},
		{"/child.png", "/grand.png"},
	}
	for _, pair := range before {
		if pos[pair[0]] >= pos[pair[1]] {
			t.Fatalf("%s fetched after %s: %v", pair[0], pair[1], o.requestOrder())
		}
	}
}

func TestEmbedJoinsSlowChildren(t *testing.T) {
	t.Parallel()
	img := pngBytes(t, 1, 1, color.White)
	slow := func(d time.Duration) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(d)
			serveBytes("image/png", img)(w, r)
		}
	}
	o := newOrigin(t, map[string]http.HandlerFunc{
		"/fast.png": slow(0),
		"/mid.png":  slow(40 * time.Millisecond),
		"/slow.png": slow(120 * time.Millisecond),
	})
	root := parseFragment(t, `<div id="root"><img id="a" src="/fast.png"><img id="b" src="/mid.png"><div><img id="c" src="/slow.png"></div></div>`)

	start := time.Now()
	if err := newTestEmbedder(o, Options{}).run(context.Background(), root, 4); err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 120*time.Millisecond {
		t.Fatalf("run settled after %v, before the slowest child", elapsed)
	}
	for _, sel := range []string{"#a", "#b", "#c"} {
		if !IsDataURL(getAttr(queryNode(t, root, sel), "src")) {
			t.Fatalf("%s not embedded when run returned", sel)
		}
	}
}

func TestEmbedFailurePropagates(t *testing.T) {
	t.Parallel()
	img := pngBytes(t, 1, 1, color.White)
	o := newOrigin(t, map[string]http.HandlerFunc{
		"/ok.png":     serveBytes("image/png", img),
		"/broken.png": serveBytes("image/png", []byte("definitely not a png")),
	})
	cases := []struct {
		name  string
		body  string
		check func(t *testing.T, err error)
	}{
		{
			name: "missing_image",
			body: `<div id="root"><img src="/ok.png"><div><img src="/missing.png"></div><img src="/ok.png"></div>`,
			check: func(t *testing.T, err error) {
				var rerr *ResourceError
				if !errors.As(err, &rerr) || rerr.Status != http.StatusNotFound {
					t.Fatalf("expected 404 ResourceError, got %v", err)
				}
			},
		},
		{
			name: "missing_background",
			body: `<div id="root"><p style="background: url(/nope.png)"></p></div>`,
			check: func(t *testing.T, err error) {
				var rerr *ResourceError
				if !errors.As(err, &rerr) {
					t.Fatalf("expected ResourceError, got %v", err)
				}
			},
		},
		{
			name: "undecodable_image",
			body: `<div id="root"><img src="/broken.png"></div>`,
			check: func(t *testing.T, err error) {
				var lerr *ImageLoadError
				if !errors.As(err, &lerr) {
					t.Fatalf("expected ImageLoadError, got %v", err)
				}
			},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			root := parseFragment(t, tc.body)
			err := newTestEmbedder(o, Options{}).run(context.Background(), root, 4)
			if err == nil {
				t.Fatalf("expected failure")
			}
			tc.check(t, err)
		})
	}
}

func TestEmbedPlaceholderIsOptIn(t *testing.T) {
	t.Parallel()
	o := newOrigin(t, nil)
	placeholder := DataURL(pngBytes(t, 1, 1, color.Black), "image/png")
	root := parseFragment(t, `<div id="root"><img id="i" src="/gone.png"></div>`)
	if err := newTestEmbedder(o, Options{ImagePlaceholder: placeholder}).run(context.Background(), root, 2); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := getAttr(queryNode(t, root, "#i"), "src"); got != placeholder {
		t.Fatalf("src = %q, want placeholder", got)
	}
}

func TestEmbedHonoursDeadline(t *testing.T) {
	t.Parallel()
	o := newOrigin(t, map[string]http.HandlerFunc{
		"/hang.png": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		},
	})
	root := parseFragment(t, `<div id="root"><img src="/hang.png"></div>`)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := newTestEmbedder(o, Options{}).run(ctx, root, 2)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCheckImageData(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		uri  string
		ok   bool
	}{
		{"png", DataURL(pngBytes(t, 1, 1, color.White), "image/png"), true},
		{"svg", DataURL([]byte(testSVG), "image/svg+xml"), true},
		{"svg_mislabelled", DataURL([]byte(testSVG), "application/octet-stream"), true},
		{"svg_wrong_root", DataURL([]byte(`<html/>`), "image/svg+xml"), false},
		{"garbage", DataURL([]byte("nope"), "image/png"), false},
		{"ico", DataURL(icoBytes, "image/x-icon"), true},
		{"ico_unlabelled", DataURL(icoBytes, "application/octet-stream"), true},
		{"avif", DataURL(avifBytes, "image/avif"), true},
		{"html_error_page", DataURL([]byte("<!DOCTYPE html><html><body>Not Found</body></html>"), "image/png"), false},
		{"empty", "data:image/png;base64,", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := checkImageData(tc.uri)
			if (err == nil) != tc.ok {
				t.Fatalf("checkImageData err = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

var (
	icoBytes  = []byte{0, 0, 1, 0, 1, 0, 16, 16, 0, 0, 1, 0, 32, 0, 0x68, 4, 0, 0, 22, 0, 0, 0}
	avifBytes = []byte("\x00\x00\x00\x1cftypavif\x00\x00\x00\x00avifmif1miaf")
)

func TestEmbedImagesWithoutGoDecoder(t *testing.T) {
	t.Parallel()
	o := newOrigin(t, map[string]http.HandlerFunc{
		"/favicon.ico": serveBytes("image/x-icon", icoBytes),
		"/photo.avif":  serveBytes("image/avif", avifBytes),
		"/oops.png":    serveBytes("image/png", []byte("<html><body>502 Bad Gateway</body></html>")),
	})
	root := parseFragment(t, `<div id="root"><img id="ico" src="/favicon.ico"><img id="avif" src="/photo.avif"></div>`)
	if err := newTestEmbedder(o, Options{}).run(context.Background(), root, 2); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := getAttr(queryNode(t, root, "#ico"), "src"); !strings.HasPrefix(got, "data:image/x-icon;base64,") {
		t.Fatalf("ico src = %.40q", got)
	}
	if got := getAttr(queryNode(t, root, "#avif"), "src"); !strings.HasPrefix(got, "data:image/avif;base64,") {
		t.Fatalf("avif src = %.40q", got)
	}

	root = parseFragment(t, `<div id="root"><img src="/oops.png"></div>`)
	var lerr *ImageLoadError
	if err := newTestEmbedder(o, Options{}).run(context.Background(), root, 2); !errors.As(err, &lerr) {
		t.Fatalf("html payload: err = %v, want ImageLoadError", err)
	}
}

func TestEmbedBackgroundPlaceholder(t *testing.T) {
	t.Parallel()
	o := newOrigin(t, nil)
	placeholder := DataURL(pngBytes(t, 1, 1, color.Black), "image/png")
	root := parseFragment(t, `<div id="root"><p id="p" style="background: url(/gone.png) no-repeat"></p></div>`)
	if err := newTestEmbedder(o, Options{ImagePlaceholder: placeholder}).run(context.Background(), root, 2); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := getAttr(queryNode(t, root, "#p"), "style"); !strings.Contains(got, "url("+placeholder+")") {
		t.Fatalf("style = %q, want placeholder background", got)
	}
}
