package snapshot

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// droppedElements never make it into a clone.
var droppedElements = map[string]bool{
	"script":   true,
	"noscript": true,
	"template": true,
}

// urlAttributes are rewritten to absolute URLs in the clone.
var urlAttributes = []string{"src", "href", "poster", "background"}

// cloner copies a source subtree into a detached tree that carries its
// computed styles inline.
type cloner struct {
	doc    *Document
	filter func(*html.Node) bool
	tags   imageTags
}

// cloneTree deep-copies root. The filter is consulted for descendants only.
func (c *cloner) cloneTree(root *html.Node) *html.Node {
	return c.cloneNode(root)
}

func (c *cloner) cloneNode(n *html.Node) *html.Node {
	out := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if n.Type == html.ElementNode {
		out.Attr = make([]html.Attribute, len(n.Attr))
		copy(out.Attr, n.Attr)
		c.captureStyle(n, out)
		c.absolutize(out)
		if id, ok := c.tags[n]; ok {
			setAttr(out, NodeIDAttr, strconv.Itoa(id))
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.CommentNode || child.Type == html.DoctypeNode {
			continue
		}
		if child.Type == html.ElementNode && droppedElements[strings.ToLower(child.Data)] {
			continue
		}
		if c.filter != nil && !c.filter(child) {
			continue
		}
		out.AppendChild(c.cloneNode(child))
	}
	if n.Type == html.ElementNode {
		captureFormState(out)
	}
	return out
}

func (c *cloner) captureStyle(src, dst *html.Node) {
	decls := sortedDeclarations(c.doc.styles.computeStyle(src))
	if len(decls) == 0 {
		removeAttr(dst, "style")
		return
	}
	st := &inlineStyle{decls: decls}
	for i := range st.decls {
		st.decls[i].value = absoluteCSSURLs(st.decls[i].value, c.doc.baseURL)
	}
	st.apply(dst)
}

func (c *cloner) absolutize(n *html.Node) {
	for i, a := range n.Attr {
		name := strings.ToLower(a.Key)
		if name == "xlink:href" {
			name = "href"
		}
		if !containsFold(urlAttributes, name) {
			continue
		}
		v := strings.TrimSpace(a.Val)
		if v == "" || IsDataURL(v) || strings.HasPrefix(v, "#") || strings.HasPrefix(strings.ToLower(v), "javascript:") {
			continue
		}
		if abs := resolveAbsURL(c.doc.baseURL, v); abs != "" {
			n.Attr[i].Val = abs
		}
	}
}

// captureFormState turns a value attribute on textarea and select into the
// markup that renders it.
func captureFormState(n *html.Node) {
	if n.Namespace != "" || !hasAttr(n, "value") {
		return
	}
	value := getAttr(n, "value")
	switch strings.ToLower(n.Data) {
	case "textarea":
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
		removeAttr(n, "value")
	case "select":
		var visit func(*html.Node)
		visit = func(x *html.Node) {
			for c := x.FirstChild; c != nil; c = c.NextSibling {
				if c.Type != html.ElementNode {
					continue
				}
				if strings.EqualFold(c.Data, "option") {
					optValue := getAttr(c, "value")
					if !hasAttr(c, "value") {
						optValue = strings.TrimSpace(textContent(c))
					}
					if optValue == value {
						setAttr(c, "selected", "selected")
					} else {
						removeAttr(c, "selected")
					}
					continue
				}
				visit(c)
			}
		}
		visit(n)
		removeAttr(n, "value")
	}
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		if x.Type == html.TextNode {
			b.WriteString(x.Data)
		}
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
