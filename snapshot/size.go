package snapshot

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

const (
	replacedDefaultWidth  = 300
	replacedDefaultHeight = 150
)

var replacedElements = map[string]bool{
	"img":    true,
	"svg":    true,
	"canvas": true,
	"video":  true,
	"iframe": true,
	"object": true,
	"embed":  true,
}

// MeasureSize returns the logical size a conversion of el with opts uses.
func MeasureSize(el *Element, opts Options) (int, int, error) {
	if err := checkElement(el); err != nil {
		return 0, 0, err
	}
	w, h := measureSize(el.doc, el.node, opts)
	return w, h, nil
}

// measureSize returns the logical width and height of the snapshot.
// Explicit options win; otherwise the element's CSS box is used.
func measureSize(doc *Document, n *html.Node, opts Options) (int, int) {
	style := doc.styles.computeStyle(n)
	width := opts.Width
	if width <= 0 {
		width = boxSize(style, n, "width", []string{"left", "right"}, doc.vp.width)
	}
	height := opts.Height
	if height <= 0 {
		height = boxSize(style, n, "height", []string{"top", "bottom"}, doc.vp.height)
	}
	if width <= 0 || height <= 0 {
		defW, defH := doc.vp.width, doc.vp.height
		if replacedElements[strings.ToLower(n.Data)] {
			defW, defH = replacedDefaultWidth, replacedDefaultHeight
		}
		if width <= 0 {
			width = defW
		}
		if height <= 0 {
			height = defH
		}
	}
	return width, height
}

// boxSize converts the CSS dimension prop to the element's border-box size.
func boxSize(style map[string]cssDeclaration, n *html.Node, prop string, sides []string, base int) int {
	size, ok := cssLengthToPx(style[prop].value, base)
	if !ok {
		if v, err := strconv.Atoi(strings.TrimSpace(getAttr(n, prop))); err == nil && v > 0 {
			return v
		}
		return 0
	}
	if strings.EqualFold(strings.TrimSpace(style["box-sizing"].value), "border-box") {
		return size
	}
	for _, side := range sides {
		size += edgeWidth(style, "padding", side)
		size += borderWidth(style, side)
	}
	return size
}

// edgeWidth reads padding-<side>, falling back to the padding shorthand.
func edgeWidth(style map[string]cssDeclaration, prop, side string) int {
	if px, ok := cssLengthToPx(style[prop+"-"+side].value, 0); ok {
		return px
	}
	return boxShorthandSide(style[prop].value, side)
}

func borderWidth(style map[string]cssDeclaration, side string) int {
	if px, ok := cssLengthToPx(style["border-"+side+"-width"].value, 0); ok {
		return px
	}
	if px, ok := firstLength(style["border-"+side].value); ok {
		return px
	}
	if v := style["border-width"].value; v != "" {
		return boxShorthandSide(v, side)
	}
	px, _ := firstLength(style["border"].value)
	return px
}

// boxShorthandSide picks one side out of a 1 to 4 value box shorthand.
func boxShorthandSide(value, side string) int {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0
	}
	idx := map[string][4]int{
		"top":    {0, 0, 0, 0},
		"right":  {0, 1, 1, 1},
		"bottom": {0, 0, 2, 2},
		"left":   {0, 1, 1, 3},
	}[side][min(len(fields), 4)-1]
	px, _ := cssLengthToPx(fields[idx], 0)
	return px
}

func firstLength(value string) (int, bool) {
	for _, f := range strings.Fields(value) {
		switch strings.ToLower(f) {
		case "thin":
			return 1, true
		case "medium":
			return 3, true
		case "thick":
			return 5, true
		}
		if px, ok := cssLengthToPx(f, 0); ok {
			return px, true
		}
	}
	return 0, false
}
