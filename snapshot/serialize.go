package snapshot

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html"
)

const (
	svgNamespace   = "http://www.w3.org/2000/svg"
	xhtmlNamespace = "http://www.w3.org/1999/xhtml"
	xlinkNamespace = "http://www.w3.org/1999/xlink"
	svgDataPrefix  = "data:image/svg+xml;charset=utf-8,"
)

// serializeSVG renders the clone inside an SVG foreignObject of the given
// size and returns the document as an SVG data URI.
func serializeSVG(root *html.Node, width, height int) (string, error) {
	text, err := svgDocument(root, width, height).WriteToString()
	if err != nil {
		return "", err
	}
	return svgDataPrefix + url.PathEscape(text), nil
}

func svgDocument(root *html.Node, width, height int) *etree.Document {
	doc := etree.NewDocument()
	svg := doc.CreateElement("svg")
	svg.CreateAttr("xmlns", svgNamespace)
	svg.CreateAttr("width", strconv.Itoa(width))
	svg.CreateAttr("height", strconv.Itoa(height))
	svg.CreateAttr("viewBox", "0 0 "+strconv.Itoa(width)+" "+strconv.Itoa(height))

	fo := svg.CreateElement("foreignObject")
	fo.CreateAttr("width", "100%")
	fo.CreateAttr("height", "100%")
	fo.CreateAttr("x", "0")
	fo.CreateAttr("y", "0")
	fo.CreateAttr("externalResourcesRequired", "true")

	el := appendXHTML(fo, root, "")
	if el != nil && root.Namespace == "" {
		el.CreateAttr("xmlns", xhtmlNamespace)
	}
	return doc
}

// appendXHTML converts n into an XML element under parent. parentNS is the
// namespace in effect at parent; a namespace change emits an xmlns.
func appendXHTML(parent *etree.Element, n *html.Node, parentNS string) *etree.Element {
	switch n.Type {
	case html.TextNode:
		parent.CreateText(n.Data)
		return nil
	case html.ElementNode:
	default:
		return nil
	}
	el := parent.CreateElement(strings.ToLower(n.Data))
	if n.Namespace != parentNS {
		el.CreateAttr("xmlns", namespaceURI(n.Namespace))
	}
	xlinkDeclared := false
	for _, a := range n.Attr {
		key := a.Key
		space := ""
		switch {
		case a.Namespace == "xlink" || strings.HasPrefix(strings.ToLower(key), "xlink:"):
			space, key = "xlink", strings.TrimPrefix(strings.TrimPrefix(key, "xlink:"), "XLINK:")
			if !xlinkDeclared {
				el.CreateAttr("xmlns:xlink", xlinkNamespace)
				xlinkDeclared = true
			}
		case a.Namespace == "xml":
			space = "xml"
		case a.Namespace != "" || strings.Contains(key, ":") || key == "xmlns":
			continue
		}
		if !validXMLName(key) {
			continue
		}
		if space != "" {
			key = space + ":" + key
		}
		el.CreateAttr(key, a.Val)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		appendXHTML(el, c, n.Namespace)
	}
	return el
}

func namespaceURI(ns string) string {
	switch ns {
	case "svg":
		return svgNamespace
	case "math":
		return "http://www.w3.org/1998/Math/MathML"
	default:
		return xhtmlNamespace
	}
}

func validXMLName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
		case i > 0 && (r == '-' || r == '.' || r >= '0' && r <= '9'):
		default:
			return false
		}
	}
	return true
}
