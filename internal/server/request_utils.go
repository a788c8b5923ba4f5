package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"domshot/snapshot"
)

// snapshotRequest is a parsed /snapshot or /fonts request.
type snapshotRequest struct {
	Target   string
	Base     string
	Body     []byte
	Selector string
	Format   string
	RenderJS bool
	Wait     string
	Opts     snapshot.Options
}

const (
	formatSVG    = "svg"
	formatPixels = "pixels"
	formatBlob   = "blob"
)

var outputFormats = map[string]bool{
	formatSVG:    true,
	"png":        true,
	"jpeg":       true,
	"jpg":        true,
	"gif":        true,
	formatPixels: true,
	formatBlob:   true,
}

// parseBool accepts 1/0, true/false, yes/no and on/off.
func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

func parsePositiveInt(q url.Values, key string) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: expected a non-negative integer, got %q", key, v)
	}
	return n, nil
}

func parsePositiveFloat(q url.Values, key string) (float64, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%s: expected a non-negative number, got %q", key, v)
	}
	return f, nil
}

// optionsFromQuery maps query parameters onto conversion options.
func (s *Server) optionsFromQuery(q url.Values) (snapshot.Options, error) {
	opts := snapshot.Options{
		Concurrency:      s.cfg.Concurrency,
		Timeout:          s.cfg.ConvertTimeout,
		ImagePlaceholder: s.cfg.PlaceholderImage,
	}
	var err error
	if opts.Width, err = parsePositiveInt(q, "w"); err != nil {
		return opts, err
	}
	if opts.Height, err = parsePositiveInt(q, "h"); err != nil {
		return opts, err
	}
	if opts.CanvasWidth, err = parsePositiveInt(q, "cw"); err != nil {
		return opts, err
	}
	if opts.CanvasHeight, err = parsePositiveInt(q, "ch"); err != nil {
		return opts, err
	}
	if opts.PixelRatio, err = parsePositiveFloat(q, "ratio"); err != nil {
		return opts, err
	}
	if opts.Quality, err = parsePositiveFloat(q, "q"); err != nil {
		return opts, err
	}
	if opts.Quality > 1 {
		return opts, fmt.Errorf("q: must be in (0, 1], got %v", opts.Quality)
	}
	if bg := strings.TrimSpace(q.Get("bg")); bg != "" {
		if _, ok := snapshot.ParseColor(bg); !ok {
			return opts, fmt.Errorf("bg: unsupported color %q", bg)
		}
		opts.BackgroundColor = bg
	}
	if v, ok := parseBool(q.Get("noscale")); ok {
		opts.SkipAutoScale = v
	}
	if v, ok := parseBool(q.Get("nofonts")); ok {
		opts.SkipFonts = v
	}
	if v, ok := parseBool(q.Get("cachebust")); ok {
		opts.CacheBust = v
	}
	if v := strings.TrimSpace(q.Get("fontformat")); v != "" {
		opts.PreferredFontFormat = v
	}
	if v := strings.TrimSpace(q.Get("type")); v != "" {
		opts.Type = v
	}
	if v := strings.TrimSpace(q.Get("timeout")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return opts, fmt.Errorf("timeout: invalid duration %q", v)
		}
		if d < opts.Timeout || opts.Timeout == 0 {
			opts.Timeout = d
		}
	}
	return opts, nil
}

// parseSnapshotRequest reads the source and options of a request. The HTML
// source is either the url parameter or the request body.
func (s *Server) parseSnapshotRequest(r *http.Request, body []byte) (*snapshotRequest, error) {
	q := r.URL.Query()
	req := &snapshotRequest{
		Selector: firstNonEmpty(strings.TrimSpace(q.Get("selector")), "body"),
		Format:   strings.ToLower(firstNonEmpty(strings.TrimSpace(q.Get("format")), "png")),
		RenderJS: strings.EqualFold(strings.TrimSpace(q.Get("render")), "js"),
		Wait:     strings.TrimSpace(q.Get("wait")),
		Body:     body,
	}
	if !outputFormats[req.Format] {
		return nil, fmt.Errorf("format: unsupported %q", req.Format)
	}
	if raw := strings.TrimSpace(q.Get("url")); raw != "" {
		target, err := normalizeTarget(raw)
		if err != nil {
			return nil, err
		}
		req.Target = target
	} else if len(body) == 0 {
		return nil, fmt.Errorf("missing url or html body")
	}
	if base := strings.TrimSpace(q.Get("base")); base != "" && req.Target == "" {
		abs, err := normalizeTarget(base)
		if err != nil {
			return nil, err
		}
		req.Base = abs
	}
	opts, err := s.optionsFromQuery(q)
	if err != nil {
		return nil, err
	}
	req.Opts = opts
	return req, nil
}

func (s *Server) headersFromRequest(r *http.Request) http.Header {
	hdr := http.Header{}
	q := r.URL.Query()
	if ua := firstNonEmpty(q.Get("ua"), r.UserAgent()); ua != "" {
		hdr.Set("User-Agent", ua)
	}
	if lang := firstNonEmpty(q.Get("lang"), r.Header.Get("Accept-Language")); lang != "" {
		hdr.Set("Accept-Language", lang)
	}
	if ref := q.Get("ref"); ref != "" {
		hdr.Set("Referer", ref)
	}
	return hdr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
