package snapshot

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

func getAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, name, val string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}

func removeAttr(n *html.Node, name string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if !strings.EqualFold(a.Key, name) {
			out = append(out, a)
		}
	}
	n.Attr = out
}

// hrefAttr returns the link of an SVG <image>, preferring href over xlink:href.
func hrefAttr(n *html.Node) string {
	if v := getAttr(n, "href"); v != "" {
		return v
	}
	for _, a := range n.Attr {
		if (a.Key == "href" && a.Namespace == "xlink") || strings.EqualFold(a.Key, "xlink:href") {
			return a.Val
		}
	}
	return ""
}

func setHrefAttr(n *html.Node, val string) {
	for i, a := range n.Attr {
		if (a.Key == "href" && a.Namespace == "xlink") || strings.EqualFold(a.Key, "xlink:href") {
			n.Attr[i].Val = val
		}
	}
	setAttr(n, "href", val)
}

func resolveAbsURL(base, href string) string {
	hu, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base == "" || hu.IsAbs() {
		return hu.String()
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return bu.ResolveReference(hu).String()
}

func childNodes(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}
