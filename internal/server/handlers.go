package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"domshot/internal/chrome"
	"domshot/snapshot"
)

var errNoRenderer = errors.New("javascript rendering is not available")

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(s.cfg.IndexHTML)))
	io.WriteString(w, s.cfg.IndexHTML)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "pong\n")
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	key := s.cacheKey(r)
	if key != "" {
		if res, ok := s.cache.Select(key); ok {
			s.logger.Printf("CACHE hit %s", r.URL.RawQuery)
			w.Header().Set("X-Snapshot-Cache", "hit")
			s.writeResult(w, res)
			return
		}
	}
	req, el, ok := s.prepare(w, r)
	if !ok {
		return
	}
	asDataURL, _ := parseBool(r.URL.Query().Get("dataurl"))
	s.logger.Printf("SNAPSHOT %s selector=%q format=%s", firstNonEmpty(req.Target, "<body>"), req.Selector, req.Format)
	res, err := s.render(r.Context(), el, req, asDataURL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if key != "" {
		s.cache.Store(key, res)
	}
	s.writeResult(w, res)
}

// cacheKey returns the cache key of a GET snapshot of a URL, or "" when the
// request must not be cached.
func (s *Server) cacheKey(r *http.Request) string {
	q := r.URL.Query()
	if r.Method != http.MethodGet || q.Get("url") == "" {
		return ""
	}
	if bust, _ := parseBool(q.Get("cachebust")); bust {
		return ""
	}
	return deriveClientKey(r) + "|" + q.Encode()
}

// render converts el into the requested output format.
func (s *Server) render(ctx context.Context, el *snapshot.Element, req *snapshotRequest, asDataURL bool) (*result, error) {
	switch req.Format {
	case formatSVG:
		svg, err := s.converter.ToSVG(ctx, el, req.Opts)
		if err != nil {
			return nil, err
		}
		if asDataURL {
			return &result{contentType: "text/plain; charset=utf-8", data: []byte(svg)}, nil
		}
		doc, err := svgDocumentText(svg)
		if err != nil {
			return nil, err
		}
		return &result{contentType: "image/svg+xml; charset=utf-8", data: []byte(doc)}, nil
	case formatPixels:
		width, height, err := snapshot.MeasureSize(el, req.Opts)
		if err != nil {
			return nil, err
		}
		data, err := s.converter.ToPixelData(ctx, el, req.Opts)
		if err != nil {
			return nil, err
		}
		hdr := http.Header{}
		hdr.Set("X-Snapshot-Width", strconv.Itoa(width))
		hdr.Set("X-Snapshot-Height", strconv.Itoa(height))
		return &result{contentType: "application/octet-stream", header: hdr, data: data}, nil
	}
	opts := req.Opts
	if req.Format != formatBlob {
		opts.Type = req.Format
	}
	blob, err := s.converter.ToBlob(ctx, el, opts)
	if err != nil {
		return nil, err
	}
	if asDataURL {
		return &result{contentType: "text/plain; charset=utf-8", data: []byte(blob.DataURL())}, nil
	}
	return &result{contentType: blob.Type, data: blob.Data}, nil
}

func (s *Server) handleFonts(w http.ResponseWriter, r *http.Request) {
	req, el, ok := s.prepare(w, r)
	if !ok {
		return
	}
	css, err := s.converter.FontEmbedCSS(r.Context(), el, req.Opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeBody(w, "text/css; charset=utf-8", []byte(css))
}

// prepare parses the request, loads the source document and selects the
// root element. It writes the error response itself when it fails.
func (s *Server) prepare(w http.ResponseWriter, r *http.Request) (*snapshotRequest, *snapshot.Element, bool) {
	var body []byte
	if r.Method == http.MethodPost {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
		r.Body.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
				return nil, nil, false
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return nil, nil, false
		}
	}
	req, err := s.parseSnapshotRequest(r, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, nil, false
	}
	doc, setCookies, err := s.loadDocument(r.Context(), r, req)
	if err != nil {
		s.writeError(w, err)
		return nil, nil, false
	}
	for _, sc := range setCookies {
		w.Header().Add("Set-Cookie", sc)
	}
	el, err := doc.Select(req.Selector)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, nil, false
	}
	return req, el, true
}

func (s *Server) loadDocument(ctx context.Context, r *http.Request, req *snapshotRequest) (*snapshot.Document, []string, error) {
	jar := s.jars.Get(deriveClientKey(r))
	hdr := s.headersFromRequest(r)
	waitSelector := req.Wait
	if req.Target != "" {
		if site := s.sites.Find(req.Target); site != nil {
			for k, v := range site.Headers {
				hdr.Set(k, v)
			}
			if site.Mode == "js" {
				req.RenderJS = true
			}
			if site.Selector != "" && r.URL.Query().Get("selector") == "" {
				req.Selector = site.Selector
			}
			waitSelector = firstNonEmpty(waitSelector, site.WaitSelector)
		}
	}
	req.Opts.Jar = jar
	req.Opts.RequestHeaders = hdr
	loadOpts := snapshot.LoadOptions{
		Header: hdr,
		Jar:    jar,
		Client: s.client,
		Logger: s.logger,
	}

	switch {
	case req.Target == "":
		doc, err := snapshot.ParseDocument(ctx, bytes.NewReader(req.Body), req.Base, r.Header.Get("Content-Type"), loadOpts)
		return doc, nil, err
	case req.RenderJS:
		if s.renderer == nil {
			return nil, nil, errNoRenderer
		}
		fetchHeader := http.Header{}
		copyHeader(fetchHeader, hdr)
		page, err := s.renderer.Fetch(ctx, req.Target, fetchHeader, jar, chrome.FetchOptions{
			Timeout:         s.cfg.ConvertTimeout,
			WaitSelector:    waitSelector,
			WaitNetworkIdle: 500 * time.Millisecond,
		})
		if err != nil {
			return nil, nil, &snapshot.ResourceError{URL: req.Target, Err: err}
		}
		doc, err := snapshot.ParseDocument(ctx, bytes.NewReader(page.HTML), page.URL, page.Header.Get("Content-Type"), loadOpts)
		return doc, page.SetCookies, err
	default:
		doc, err := snapshot.LoadDocument(ctx, req.Target, loadOpts)
		return doc, nil, err
	}
}

// errorStatus maps conversion failures onto HTTP status codes.
func errorStatus(err error) int {
	var resErr *snapshot.ResourceError
	var imgErr *snapshot.ImageLoadError
	switch {
	case errors.Is(err, snapshot.ErrDimensionOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, snapshot.ErrNoElement), errors.Is(err, snapshot.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, snapshot.ErrNoDecoder), errors.Is(err, errNoRenderer):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &resErr), errors.As(err, &imgErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errorStatus(err)
	s.logger.Printf("ERR %d %v", code, err)
	http.Error(w, err.Error(), code)
}

func (s *Server) writeResult(w http.ResponseWriter, res *result) {
	for k, vs := range res.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	s.writeBody(w, res.contentType, res.data)
}

func (s *Server) writeBody(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

// svgDocumentText unwraps an SVG data URI produced by the converter.
func svgDocumentText(uri string) (string, error) {
	i := strings.IndexByte(uri, ',')
	if !strings.HasPrefix(uri, "data:image/svg+xml") || i < 0 {
		return "", fmt.Errorf("unexpected svg data url")
	}
	return url.PathUnescape(uri[i+1:])
}
