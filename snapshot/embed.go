package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"net/http"
	"strings"

	"github.com/beevik/etree"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/net/html"
)

// nodeKind is decided once per node and selects the embedding steps.
type nodeKind int

const (
	nonElement nodeKind = iota
	genericElement
	rasterImageElement
	vectorImageElement
)

func (k nodeKind) String() string {
	switch k {
	case genericElement:
		return "element"
	case rasterImageElement:
		return "raster-image"
	case vectorImageElement:
		return "vector-image"
	default:
		return "non-element"
	}
}

func classifyNode(n *html.Node) nodeKind {
	if n == nil || n.Type != html.ElementNode {
		return nonElement
	}
	switch {
	case n.Namespace == "" && strings.EqualFold(n.Data, "img"):
		return rasterImageElement
	case n.Namespace == "svg" && strings.EqualFold(n.Data, "image"):
		return vectorImageElement
	}
	return genericElement
}

// embedder inlines the external resources of a cloned tree.
type embedder struct {
	res     *resolver
	baseURL string
	logger  *log.Logger
	debug   bool
}

// backgroundProperties are the inline style properties whose url(...)
// references are embedded, in order.
var backgroundProperties = []string{"background", "background-image"}

// run embeds root and its whole subtree. A node's children are queued only
// after its own background and image source are done.
func (e *embedder) run(ctx context.Context, root *html.Node, workers int) error {
	return walkTree(ctx, root, workers, e.visit)
}

func (e *embedder) visit(ctx context.Context, n *html.Node) ([]*html.Node, error) {
	kind := classifyNode(n)
	if kind == nonElement {
		return nil, nil
	}
	if err := e.embedBackground(ctx, n); err != nil {
		return nil, err
	}
	if kind == rasterImageElement || kind == vectorImageElement {
		if err := e.embedImage(ctx, n, kind); err != nil {
			return nil, err
		}
	}
	return childNodes(n), nil
}

func (e *embedder) embedBackground(ctx context.Context, n *html.Node) error {
	raw := getAttr(n, "style")
	if !strings.Contains(strings.ToLower(raw), "url(") {
		return nil
	}
	st := parseInlineStyle(raw)
	changed := false
	for _, prop := range backgroundProperties {
		value, important := st.get(prop)
		if value == "" {
			continue
		}
		rewritten, err := resolveCSSURLs(ctx, value, e.baseURL, e.res, true)
		if err != nil {
			return err
		}
		if rewritten != value {
			st.set(prop, rewritten, important)
			changed = true
		}
	}
	if changed {
		st.apply(n)
	}
	return nil
}

func (e *embedder) embedImage(ctx context.Context, n *html.Node, kind nodeKind) error {
	src := getAttr(n, "src")
	if kind == vectorImageElement {
		src = hrefAttr(n)
	}
	src = strings.TrimSpace(src)
	if src == "" || IsDataURL(src) {
		return nil
	}
	abs := resolveAbsURL(e.baseURL, src)
	if abs == "" {
		return &ResourceError{URL: src, Err: fmt.Errorf("invalid url")}
	}
	hint := ""
	if kind == vectorImageElement {
		hint = InferMimeType(abs)
	}
	data, err := e.res.resolveImage(ctx, abs, hint)
	if err != nil {
		return err
	}
	if kind == rasterImageElement {
		removeAttr(n, "srcset")
		setAttr(n, "src", data)
	} else {
		setHrefAttr(n, data)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if mediaType, err := checkImageData(data); err != nil {
		return &ImageLoadError{URL: abs, Type: mediaType, Err: err}
	}
	if e.debug {
		e.logger.Printf("EMBED %s %s", kind, shortURL(abs))
	}
	return nil
}

// checkImageData reports whether a data URI holds something a browser
// loads as an image. Formats without a Go decoder (ico, avif) pass on their
// declared or sniffed image type; text such as an HTML error page fails.
// It returns the declared media type.
func checkImageData(uri string) (string, error) {
	mediaType, data, err := decodeDataURL(uri)
	if err != nil {
		return mediaType, err
	}
	if len(data) == 0 {
		return mediaType, fmt.Errorf("empty image")
	}
	if strings.Contains(mediaType, "svg") || strings.Contains(mediaType, "xml") {
		return mediaType, checkSVG(data)
	}
	_, _, decodeErr := image.DecodeConfig(bytes.NewReader(data))
	if decodeErr == nil || checkSVG(data) == nil {
		return mediaType, nil
	}
	sniffed := http.DetectContentType(data)
	if strings.HasPrefix(sniffed, "image/") {
		return mediaType, nil
	}
	if strings.HasPrefix(mediaType, "image/") && !strings.HasPrefix(sniffed, "text/") {
		return mediaType, nil
	}
	return mediaType, fmt.Errorf("decode image: content is %s: %w", sniffed, decodeErr)
}

func checkSVG(data []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return fmt.Errorf("parse svg: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "svg" {
		return fmt.Errorf("parse svg: missing <svg> root")
	}
	return nil
}
