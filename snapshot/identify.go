package snapshot

import (
	"log"
	"strings"

	"golang.org/x/net/html"
)

// NodeIDAttr is written on cloned image elements that were visible in the
// source tree. Its value is the id assigned by the identification pass.
const NodeIDAttr = "data-snapshot-node-id"

// imageTags maps visible image elements of the source tree to their ids.
// It belongs to a single conversion; the source tree itself is never modified.
type imageTags map[*html.Node]int

func isVisible(ss *Stylesheet, n *html.Node) bool {
	style := ss.computeStyle(n)
	display := strings.ToLower(style["display"].value)
	if display == "" && hasAttr(n, "hidden") {
		display = "none"
	}
	return display != "none" && strings.ToLower(style["visibility"].value) != "hidden"
}

// tagVisibleImages walks n in document order and records an increasing id
// for every visible image element. Hidden elements are skipped with their
// subtree; only an element's own style decides. It returns the next free id.
func tagVisibleImages(ss *Stylesheet, n *html.Node, id int, tags imageTags, logger *log.Logger) int {
	if n == nil || n.Type != html.ElementNode || !isVisible(ss, n) {
		return id
	}
	if kind := classifyNode(n); kind == rasterImageElement || kind == vectorImageElement {
		tags[n] = id
		id++
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		id = tagChild(ss, c, id, tags, logger)
	}
	return id
}

// tagChild tags one subtree. A failure inside it is logged and the subtree
// contributes no ids.
func tagChild(ss *Stylesheet, n *html.Node, id int, tags imageTags, logger *log.Logger) (next int) {
	next = id
	defer func() {
		if r := recover(); r != nil {
			for node, v := range tags {
				if v >= id {
					delete(tags, node)
				}
			}
			if logger != nil {
				logger.Printf("identify: skipping <%s> subtree: %v", n.Data, r)
			}
			next = id
		}
	}()
	return tagVisibleImages(ss, n, id, tags, logger)
}
