package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const (
	defaultViewportWidth  = 1280
	defaultViewportHeight = 800
	defaultUserAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36 domshot/1.0"
)

// Document is a parsed HTML tree with its base URL and cascaded stylesheet.
// It plays the role of the live host document: conversions read it but
// never modify it.
type Document struct {
	root    *html.Node
	baseURL string
	styles  *Stylesheet
	vp      viewport
}

// Element is a node of a Document; it is the root of a conversion.
type Element struct {
	doc  *Document
	node *html.Node
}

// LoadOptions controls how documents and their stylesheets are fetched.
type LoadOptions struct {
	Header         http.Header
	Jar            http.CookieJar
	Client         *http.Client
	ViewportWidth  int
	ViewportHeight int
	Logger         *log.Logger
}

func (o LoadOptions) client() *http.Client {
	c := o.Client
	if c == nil {
		c = &http.Client{Timeout: defaultFetchTimeout}
	}
	if o.Jar != nil && c.Jar == nil {
		cc := *c
		cc.Jar = o.Jar
		c = &cc
	}
	return c
}

func (o LoadOptions) textFetcher() textFetcher {
	client := o.client()
	return func(ctx context.Context, absURL, accept string) ([]byte, bool) {
		body, _, err := fetchBytes(ctx, client, absURL, o.Header, accept)
		if err != nil {
			if o.Logger != nil {
				o.Logger.Printf("CSS fetch %s: %v", absURL, err)
			}
			return nil, false
		}
		return body, true
	}
}

// ParseDocument parses an HTML document. contentType is used to detect the
// charset; baseURL resolves relative references and may be overridden by <base href>.
func ParseDocument(ctx context.Context, r io.Reader, baseURL, contentType string, opts LoadOptions) (*Document, error) {
	utf8, err := charset.NewReader(r, contentType)
	if err != nil {
		return nil, fmt.Errorf("detect charset: %w", err)
	}
	root, err := html.Parse(utf8)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base := findBaseURL(root, baseURL)
	vp := viewport{width: opts.ViewportWidth, height: opts.ViewportHeight}.withDefaults()
	return &Document{
		root:    root,
		baseURL: base,
		styles:  buildStylesheet(ctx, root, base, opts.textFetcher(), vp, opts.Logger),
		vp:      vp,
	}, nil
}

// LoadDocument fetches target and parses it. Non-2xx responses are still
// parsed when they carry a body.
func LoadDocument(ctx context.Context, target string, opts LoadOptions) (*Document, error) {
	hdr := opts.Header.Clone()
	if hdr == nil {
		hdr = http.Header{}
	}
	if hdr.Get("User-Agent") == "" {
		hdr.Set("User-Agent", defaultUserAgent)
	}
	if hdr.Get("Accept-Language") == "" {
		hdr.Set("Accept-Language", "en;q=0.8")
	}
	opts.Header = hdr
	body, resp, err := fetchBytes(ctx, opts.client(), target, hdr, "text/html,application/xhtml+xml,*/*;q=0.8")
	if err != nil {
		var rerr *ResourceError
		if !errors.As(err, &rerr) || rerr.Status == 0 || len(body) == 0 {
			return nil, err
		}
	}
	final := target
	ct := ""
	if resp != nil {
		if resp.Request != nil && resp.Request.URL != nil {
			final = resp.Request.URL.String()
		}
		ct = resp.Header.Get("Content-Type")
	}
	return ParseDocument(ctx, bytes.NewReader(body), final, ct, opts)
}

// NewDocument wraps an already parsed tree. The stylesheet is built from
// inline <style> elements only.
func NewDocument(root *html.Node, baseURL string) *Document {
	base := findBaseURL(root, baseURL)
	return &Document{
		root:    root,
		baseURL: base,
		styles:  buildStylesheet(context.Background(), root, base, nil, viewport{}.withDefaults(), nil),
		vp:      viewport{}.withDefaults(),
	}
}

func findBaseURL(doc *html.Node, cur string) string {
	var found string
	var visit func(*html.Node) bool
	visit = func(n *html.Node) bool {
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "base") {
			if href := strings.TrimSpace(getAttr(n, "href")); href != "" {
				found = href
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if visit(c) {
				return true
			}
		}
		return false
	}
	if doc == nil || !visit(doc) {
		return cur
	}
	if abs := resolveAbsURL(cur, found); abs != "" {
		return abs
	}
	return cur
}

// Root returns the document's <body>, or the first element when there is none.
func (d *Document) Root() *Element {
	if body := cascadia.Query(d.root, cascadia.MustCompile("body")); body != nil {
		return &Element{doc: d, node: body}
	}
	for n := d.root.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode {
			return &Element{doc: d, node: n}
		}
	}
	return &Element{doc: d, node: d.root}
}

// Select returns the first element matching the CSS selector.
func (d *Document) Select(selector string) (*Element, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w", selector, err)
	}
	n := cascadia.Query(d.root, sel)
	if n == nil {
		return nil, fmt.Errorf("selector %q: %w", selector, ErrNoElement)
	}
	return &Element{doc: d, node: n}, nil
}

// Wrap returns the Element for a node that belongs to the document tree.
func (d *Document) Wrap(n *html.Node) *Element { return &Element{doc: d, node: n} }

// BaseURL is the URL relative references resolve against.
func (d *Document) BaseURL() string { return d.baseURL }

// HTML returns the document tree.
func (d *Document) HTML() *html.Node { return d.root }

// ComputedStyle returns the cascaded declarations of n (without inheritance).
func (d *Document) ComputedStyle(n *html.Node) map[string]string {
	props := d.styles.computeStyle(n)
	out := make(map[string]string, len(props))
	for k, decl := range props {
		out[k] = decl.value
	}
	return out
}

// Node returns the element's HTML node.
func (e *Element) Node() *html.Node { return e.node }

// Document returns the owning document.
func (e *Element) Document() *Document { return e.doc }
