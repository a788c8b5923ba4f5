package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"domshot/internal/chrome"
	"domshot/snapshot"
)

// fillDecoder paints every bitmap with one color.
type fillDecoder struct{ c color.Color }

func (d fillDecoder) DecodeBitmap(ctx context.Context, svg string, width, height int) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: d.c}, image.Point{}, draw.Src)
	return img, nil
}

type fakeRenderer struct {
	mu      sync.Mutex
	targets []string
	jar     http.CookieJar
	opts    chrome.FetchOptions
	page    *chrome.Page
	err     error
}

func (f *fakeRenderer) Fetch(ctx context.Context, target string, hdr http.Header, jar http.CookieJar, opts chrome.FetchOptions) (*chrome.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	f.jar = jar
	f.opts = opts
	return f.page, f.err
}

func pngData(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{G: 255, A: 255}}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// newOrigin serves a small site with one page, one image and one font.
func newOrigin(t *testing.T) (*httptest.Server, *sync.Map) {
	t.Helper()
	seen := &sync.Map{}
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		seen.Store("page-ua", r.UserAgent())
		seen.Store("page-token", r.Header.Get("X-Token"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, `<html><head><style>
			@font-face { font-family: "Brand"; src: url(/brand.woff2) format("woff2") }
			#card { width: 40px; height: 20px; font-family: Brand }
		</style></head><body><div id="card"><img src="/dot.png"></div>
		<div id="broken"><img src="/missing.png"></div></body></html>`)
	})
	dot := pngData(t)
	mux.HandleFunc("/dot.png", func(w http.ResponseWriter, r *http.Request) {
		seen.Store("img-ua", r.UserAgent())
		w.Header().Set("Content-Type", "image/png")
		w.Write(dot)
	})
	mux.HandleFunc("/brand.woff2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "font/woff2")
		io.WriteString(w, "wOF2")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, seen
}

func newTestServer(t *testing.T, decoder snapshot.BitmapDecoder, renderer PageRenderer) *Server {
	t.Helper()
	cfg := Config{
		SitesDir: t.TempDir(),
		Logger:   log.New(io.Discard, "", 0),
	}
	return New(cfg, decoder, renderer)
}

func do(t *testing.T, s *Server, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "text/html; charset=utf-8")
	}
	req.Header.Set("User-Agent", "domshot-test")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestPingAndIndex(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil, nil)
	if rec := do(t, s, http.MethodGet, "/ping", ""); rec.Code != http.StatusOK || rec.Body.String() != "pong\n" {
		t.Fatalf("ping = %d %q", rec.Code, rec.Body.String())
	}
	rec := do(t, s, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `action="/snapshot"`) {
		t.Fatalf("index = %d %q", rec.Code, rec.Body.String())
	}
	if rec := do(t, s, http.MethodDelete, "/snapshot", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE /snapshot = %d", rec.Code)
	}
}

func TestSnapshotSVGFromURL(t *testing.T) {
	t.Parallel()
	origin, seen := newOrigin(t)
	s := newTestServer(t, nil, nil)
	q := url.Values{"url": {origin.URL + "/page"}, "selector": {"#card"}, "format": {"svg"}}
	rec := do(t, s, http.MethodGet, "/snapshot?"+q.Encode(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "image/svg+xml") {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "<svg") || !strings.Contains(body, "data:image/png;base64,") {
		t.Fatalf("svg not self-contained: %.200s", body)
	}
	if !strings.Contains(body, "data:font/woff2;base64,") {
		t.Fatalf("font not embedded: %.400s", body)
	}
	if ua, _ := seen.Load("img-ua"); ua != "domshot-test" {
		t.Fatalf("image fetch user agent = %v", ua)
	}

	q.Set("dataurl", "1")
	rec = do(t, s, http.MethodGet, "/snapshot?"+q.Encode(), "")
	if !strings.HasPrefix(rec.Body.String(), "data:image/svg+xml;charset=utf-8,") {
		t.Fatalf("dataurl output = %.60s", rec.Body.String())
	}
}

func TestSnapshotRasterFormats(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, fillDecoder{c: color.RGBA{R: 255, A: 255}}, nil)
	page := `<div id="box" style="width: 4px; height: 2px"></div>`

	rec := do(t, s, http.MethodPost, "/snapshot?selector=%23box&format=png&ratio=2", page)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("png = %d %q: %s", rec.Code, rec.Header().Get("Content-Type"), rec.Body.String())
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if sz := img.Bounds().Size(); sz != image.Pt(8, 4) {
		t.Fatalf("png size = %v", sz)
	}

	rec = do(t, s, http.MethodPost, "/snapshot?selector=%23box&format=pixels&ratio=3", page)
	if rec.Code != http.StatusOK || rec.Body.Len() != 4*2*4 {
		t.Fatalf("pixels = %d, %d bytes", rec.Code, rec.Body.Len())
	}
	if rec.Header().Get("X-Snapshot-Width") != "4" || rec.Header().Get("X-Snapshot-Height") != "2" {
		t.Fatalf("pixel headers = %v", rec.Header())
	}
	if px := rec.Body.Bytes()[:4]; !bytes.Equal(px, []byte{255, 0, 0, 255}) {
		t.Fatalf("first pixel = %v", px)
	}

	rec = do(t, s, http.MethodPost, "/snapshot?selector=%23box&format=jpeg&q=0.7&dataurl=1", page)
	if !strings.HasPrefix(rec.Body.String(), "data:image/jpeg;base64,") {
		t.Fatalf("jpeg dataurl = %.60s", rec.Body.String())
	}

	rec = do(t, s, http.MethodPost, "/snapshot?selector=%23box&format=blob&type=image/gif", page)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/gif" {
		t.Fatalf("gif blob = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestSnapshotErrors(t *testing.T) {
	t.Parallel()
	origin, _ := newOrigin(t)
	withDecoder := newTestServer(t, fillDecoder{c: color.White}, nil)
	svgOnly := newTestServer(t, nil, nil)
	small := `<div id="x"></div>`
	cases := []struct {
		name   string
		s      *Server
		method string
		target string
		body   string
		want   int
	}{
		{"missing source", svgOnly, http.MethodGet, "/snapshot", "", http.StatusBadRequest},
		{"bad format", svgOnly, http.MethodPost, "/snapshot?format=tiff", small, http.StatusBadRequest},
		{"bad ratio", svgOnly, http.MethodPost, "/snapshot?ratio=abc", small, http.StatusBadRequest},
		{"bad quality", svgOnly, http.MethodPost, "/snapshot?q=3", small, http.StatusBadRequest},
		{"bad color", svgOnly, http.MethodPost, "/snapshot?bg=notacolor", small, http.StatusBadRequest},
		{"no match", svgOnly, http.MethodPost, "/snapshot?format=svg&selector=%23nope", small, http.StatusBadRequest},
		{"bad blob type", withDecoder, http.MethodPost, "/snapshot?format=blob&type=image/avif&selector=%23x", small, http.StatusBadRequest},
		{"no decoder", svgOnly, http.MethodPost, "/snapshot?format=png&selector=%23x", small, http.StatusNotImplemented},
		{"overflow", withDecoder, http.MethodPost, "/snapshot?format=png&selector=%23x&w=20000&h=10&noscale=1", small, http.StatusUnprocessableEntity},
		{"broken image", svgOnly, http.MethodGet, "/snapshot?format=svg&selector=%23broken&url=" + url.QueryEscape(origin.URL+"/page"), "", http.StatusBadGateway},
		{"no renderer", svgOnly, http.MethodGet, "/snapshot?format=svg&render=js&url=" + url.QueryEscape(origin.URL+"/page"), "", http.StatusNotImplemented},
		{"unreachable", svgOnly, http.MethodGet, "/snapshot?format=svg&url=" + url.QueryEscape("http://127.0.0.1:1/page"), "", http.StatusBadGateway},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, tc.s, tc.method, tc.target, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestSnapshotBodyTooLarge(t *testing.T) {
	t.Parallel()
	s := New(Config{SitesDir: t.TempDir(), MaxBodyBytes: 16, Logger: log.New(io.Discard, "", 0)}, nil, nil)
	rec := do(t, s, http.MethodPost, "/snapshot?format=svg", strings.Repeat("<p>x</p>", 10))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSnapshotRenderJS(t *testing.T) {
	t.Parallel()
	origin, _ := newOrigin(t)
	r := &fakeRenderer{page: &chrome.Page{
		URL:        origin.URL + "/page",
		Status:     200,
		Header:     http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		HTML:       []byte(`<html><body><div id="app" style="width: 10px; height: 10px"><img src="dot.png"></div></body></html>`),
		SetCookies: []string{"sid=abc; Path=/"},
	}}
	s := newTestServer(t, nil, r)
	q := url.Values{"url": {origin.URL + "/page"}, "render": {"js"}, "selector": {"#app"}, "format": {"svg"}, "wait": {"#app"}}
	rec := do(t, s, http.MethodGet, "/snapshot?"+q.Encode(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Values("Set-Cookie"); len(got) != 1 || got[0] != "sid=abc; Path=/" {
		t.Fatalf("set-cookie = %v", got)
	}
	if !strings.Contains(rec.Body.String(), "data:image/png;base64,") {
		t.Fatalf("image not embedded against rendered URL")
	}
	if len(r.targets) != 1 || r.targets[0] != origin.URL+"/page" || r.jar == nil || r.opts.WaitSelector != "#app" {
		t.Fatalf("renderer call = %v jar=%v opts=%+v", r.targets, r.jar, r.opts)
	}

	failing := newTestServer(t, nil, &fakeRenderer{err: errors.New("tab crashed")})
	if rec := do(t, failing, http.MethodGet, "/snapshot?"+q.Encode(), ""); rec.Code != http.StatusBadGateway {
		t.Fatalf("renderer failure = %d", rec.Code)
	}
}

func TestSiteConfigApplied(t *testing.T) {
	t.Parallel()
	origin, seen := newOrigin(t)
	s := newTestServer(t, nil, nil)
	host := strings.Split(strings.TrimPrefix(origin.URL, "http://"), ":")[0]
	site := `{"headers": {"X-Token": "secret"}, "selector": "#card"}`
	if err := os.WriteFile(filepath.Join(s.cfg.SitesDir, host+".json"), []byte(site), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := do(t, s, http.MethodGet, "/snapshot?format=svg&url="+url.QueryEscape(origin.URL+"/page"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if tok, _ := seen.Load("page-token"); tok != "secret" {
		t.Fatalf("site header not sent, got %v", tok)
	}
	if strings.Contains(rec.Body.String(), "missing.png") {
		t.Fatalf("site selector not applied")
	}
}

func TestFontsEndpoint(t *testing.T) {
	t.Parallel()
	origin, _ := newOrigin(t)
	s := newTestServer(t, nil, nil)
	rec := do(t, s, http.MethodGet, "/fonts?selector=%23card&url="+url.QueryEscape(origin.URL+"/page"), "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "text/css; charset=utf-8" {
		t.Fatalf("fonts = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	css := rec.Body.String()
	if !strings.Contains(css, `font-family: "Brand"`) || !strings.Contains(css, "data:font/woff2;base64,") {
		t.Fatalf("font css = %q", css)
	}
}

func TestOptionsFromQuery(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil, nil)
	q, _ := url.ParseQuery("w=100&h=50&cw=200&ch=80&ratio=1.5&q=0.8&bg=%23fff&noscale=1&nofonts=true&cachebust=yes&fontformat=woff2&timeout=2s")
	opts, err := s.optionsFromQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("%d %d %d %d %v %v %s %v %v %v %s %s", 100, 50, 200, 80, 1.5, 0.8, "#fff", true, true, true, "woff2", "2s")
	got := fmt.Sprintf("%d %d %d %d %v %v %s %v %v %v %s %s", opts.Width, opts.Height, opts.CanvasWidth, opts.CanvasHeight,
		opts.PixelRatio, opts.Quality, opts.BackgroundColor, opts.SkipAutoScale, opts.SkipFonts, opts.CacheBust,
		opts.PreferredFontFormat, opts.Timeout)
	if got != want {
		t.Fatalf("options = %s\nwant      %s", got, want)
	}
	if _, err := s.optionsFromQuery(url.Values{"w": {"-3"}}); err == nil {
		t.Fatalf("negative width accepted")
	}
	if _, err := s.optionsFromQuery(url.Values{"timeout": {"soon"}}); err == nil {
		t.Fatalf("bad timeout accepted")
	}
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", snapshot.ErrDimensionOverflow), http.StatusUnprocessableEntity},
		{fmt.Errorf("embed resources: %w", &snapshot.ResourceError{URL: "u", Status: 404}), http.StatusBadGateway},
		{&snapshot.ImageLoadError{URL: "u", Err: errors.New("bad")}, http.StatusBadGateway},
		{&snapshot.ResourceError{URL: "u", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{snapshot.ErrNoElement, http.StatusBadRequest},
		{snapshot.ErrNoDecoder, http.StatusNotImplemented},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := errorStatus(tc.err); got != tc.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
