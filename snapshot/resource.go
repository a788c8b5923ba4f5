package snapshot

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

var mimeByExtension = map[string]string{
	"woff":  "application/font-woff",
	"woff2": "application/font-woff2",
	"ttf":   "application/font-truetype",
	"otf":   "application/font-opentype",
	"eot":   "application/vnd.ms-fontobject",
	"png":   "image/png",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"gif":   "image/gif",
	"bmp":   "image/bmp",
	"tif":   "image/tiff",
	"tiff":  "image/tiff",
	"svg":   "image/svg+xml",
	"webp":  "image/webp",
}

// InferMimeType derives a content type from the extension of a URL path.
// It returns "" for unknown extensions.
func InferMimeType(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	if ext == "" {
		return ""
	}
	if m, ok := mimeByExtension[ext]; ok {
		return m
	}
	if m := mime.TypeByExtension("." + ext); m != "" {
		if mt, _, err := mime.ParseMediaType(m); err == nil {
			return mt
		}
	}
	return ""
}

// IsDataURL reports whether s is an inline data URI.
func IsDataURL(s string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "data:")
}

// DataURL builds a base64 data URI.
func DataURL(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// decodeDataURL splits a data URI into its media type and payload.
func decodeDataURL(uri string) (string, []byte, error) {
	comma := strings.IndexByte(uri, ',')
	if !IsDataURL(uri) || comma == -1 {
		return "", nil, fmt.Errorf("malformed data url")
	}
	meta := strings.TrimSpace(uri)[len("data:"):comma]
	payload := uri[comma+1:]
	mediaType := meta
	isBase64 := false
	if i := strings.Index(strings.ToLower(meta), ";base64"); i != -1 {
		mediaType = meta[:i]
		isBase64 = true
	}
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = mt
	}
	if isBase64 {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
		if err != nil {
			return mediaType, nil, fmt.Errorf("decode base64: %w", err)
		}
		return mediaType, raw, nil
	}
	raw, err := url.PathUnescape(payload)
	if err != nil {
		return mediaType, nil, err
	}
	return mediaType, []byte(raw), nil
}

// fetchBytes performs a GET and returns the decoded body. Non-2xx responses
// yield a *ResourceError carrying the status; the body is still returned.
func fetchBytes(ctx context.Context, client *http.Client, absURL string, hdr http.Header, accept string) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, absURL, nil)
	if err != nil {
		return nil, nil, &ResourceError{URL: absURL, Err: err}
	}
	for k, vals := range hdr {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if accept != "" && req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", accept)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, &ResourceError{URL: absURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err == nil {
		body, err = decodeContent(body, resp.Header.Get("Content-Encoding"))
	}
	if err != nil {
		return nil, resp, &ResourceError{URL: absURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, resp, &ResourceError{URL: absURL, Status: resp.StatusCode}
	}
	return body, resp, nil
}

// decodeContent undoes a gzip or deflate Content-Encoding. Deflate bodies
// may be zlib wrapped or raw.
func decodeContent(body []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	case "deflate":
		if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			defer zr.Close()
			return io.ReadAll(zr)
		}
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		return io.ReadAll(fr)
	}
	return body, nil
}

// resolver turns resource URLs into data URIs. Every occurrence is fetched
// on its own; nothing is shared between calls.
type resolver struct {
	client *http.Client
	opts   Options
	now    func() time.Time
	logger *log.Logger
	debug  bool
}

// resolveImage resolves an image reference. When the fetch fails and the
// caller configured ImagePlaceholder, the placeholder stands in for it.
func (r *resolver) resolveImage(ctx context.Context, rawURL, mimeHint string) (string, error) {
	data, err := r.resolveURL(ctx, rawURL, mimeHint)
	if err != nil && ctx.Err() == nil && r.opts.ImagePlaceholder != "" {
		if r.debug {
			r.logger.Printf("RES %s failed, using placeholder: %v", rawURL, err)
		}
		return r.opts.ImagePlaceholder, nil
	}
	return data, err
}

// cacheBustURL appends the timestamp to the query of rawURL, keeping any
// fragment last.
func cacheBustURL(rawURL string, ts int64) string {
	stamp := strconv.FormatInt(ts, 10)
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.RawQuery == "" {
		u.RawQuery = stamp
	} else {
		u.RawQuery += "&" + stamp
	}
	return u.String()
}

// resolveURL fetches rawURL and returns it as a base64 data URI. The content
// type is mimeHint when set, else the response Content-Type, else inferred
// from the URL.
func (r *resolver) resolveURL(ctx context.Context, rawURL, mimeHint string) (string, error) {
	if IsDataURL(rawURL) {
		return rawURL, nil
	}
	target := rawURL
	if r.opts.CacheBust {
		target = cacheBustURL(rawURL, r.now().UnixMilli())
	}
	accept := "*/*"
	if strings.HasPrefix(mimeHint, "image/") {
		accept = "image/*,*/*;q=0.8"
	}
	body, resp, err := fetchBytes(ctx, r.client, target, r.opts.RequestHeaders, accept)
	if err == nil && len(body) == 0 {
		err = &ResourceError{URL: target, Err: fmt.Errorf("empty body")}
	}
	if err != nil {
		return "", err
	}
	contentType := mimeHint
	if contentType == "" && resp != nil {
		if mt, _, perr := mime.ParseMediaType(resp.Header.Get("Content-Type")); perr == nil {
			contentType = mt
		}
	}
	if contentType == "" {
		contentType = InferMimeType(rawURL)
	}
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	if r.debug {
		r.logger.Printf("RES %s -> %s (%d bytes)", rawURL, contentType, len(body))
	}
	return DataURL(body, contentType), nil
}
