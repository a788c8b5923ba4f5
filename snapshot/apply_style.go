package snapshot

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// applyStyle writes the caller's presentation overrides onto the clone root.
func applyStyle(n *html.Node, opts Options) {
	st := parseInlineStyle(getAttr(n, "style"))
	if opts.BackgroundColor != "" {
		st.set("background-color", opts.BackgroundColor, false)
	}
	if opts.Width > 0 {
		st.set("width", strconv.Itoa(opts.Width)+"px", false)
	}
	if opts.Height > 0 {
		st.set("height", strconv.Itoa(opts.Height)+"px", false)
	}
	keys := make([]string, 0, len(opts.Style))
	for k := range opts.Style {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := strings.TrimSpace(opts.Style[k])
		important := false
		if strings.HasSuffix(strings.ToLower(v), "!important") {
			important = true
			v = strings.TrimSpace(v[:len(v)-len("!important")])
		}
		if prop := cssPropertyName(k); prop != "" {
			st.set(prop, v, important)
		}
	}
	st.apply(n)
}

// cssPropertyName accepts both backgroundColor and background-color.
func cssPropertyName(key string) string {
	key = strings.TrimSpace(key)
	var b strings.Builder
	for i, r := range key {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
