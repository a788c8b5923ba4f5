package snapshot

import (
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"
)

// usedFontFamilies collects the lower-cased font families declared on n,
// its ancestors and its descendants.
func usedFontFamilies(ss *Stylesheet, n *html.Node) map[string]bool {
	families := map[string]bool{}
	add := func(x *html.Node) {
		style := ss.computeStyle(x)
		for _, f := range parseFontFamilies(style["font-family"].value) {
			families[f] = true
		}
		if font := style["font"].value; font != "" {
			for _, f := range parseFontFamilies(fontShorthandFamilies(font)) {
				families[f] = true
			}
		}
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			add(p)
		}
	}
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		if x.Type == html.ElementNode {
			add(x)
		}
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return families
}

func parseFontFamilies(v string) []string {
	var out []string
	for _, part := range splitTopLevel(v, ',') {
		name := strings.ToLower(trimCSSString(strings.TrimSpace(part)))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// fontShorthandFamilies returns the family list of a font shorthand, which
// follows the size token.
func fontShorthandFamilies(font string) string {
	fields := strings.Fields(font)
	for i := len(fields) - 1; i >= 0; i-- {
		f := fields[i]
		if f != "" && (f[0] >= '0' && f[0] <= '9' || f[0] == '.') {
			return strings.Join(fields[i+1:], " ")
		}
	}
	return ""
}

// splitTopLevel splits s on sep outside of parentheses and quotes.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '(':
			depth++
		case ch == ')':
			if depth > 0 {
				depth--
			}
		case ch == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// filterFontFormat keeps the src entries declared with format(preferred).
// The value is returned unchanged when no entry matches.
func filterFontFormat(src, preferred string) string {
	preferred = strings.ToLower(strings.TrimSpace(preferred))
	if preferred == "" {
		return src
	}
	var kept []string
	for _, entry := range splitTopLevel(src, ',') {
		lower := strings.ToLower(entry)
		i := strings.Index(lower, "format(")
		if i == -1 {
			continue
		}
		format := lower[i+len("format("):]
		if j := strings.IndexByte(format, ')'); j != -1 {
			format = format[:j]
		}
		if trimCSSString(strings.TrimSpace(format)) == preferred {
			kept = append(kept, strings.TrimSpace(entry))
		}
	}
	if len(kept) == 0 {
		return src
	}
	return strings.Join(kept, ", ")
}

// fontFaceCSS returns the @font-face rules used by n with every src URL
// inlined. Faces are embedded concurrently, bounded by the options.
func fontFaceCSS(ctx context.Context, ss *Stylesheet, n *html.Node, opts Options, res *resolver) (string, error) {
	if ss == nil || len(ss.fontFaces) == 0 {
		return "", nil
	}
	families := usedFontFamilies(ss, n)
	var faces []fontFaceRule
	for _, face := range ss.fontFaces {
		for _, d := range face.declarations {
			if d.property != "font-family" {
				continue
			}
			if fams := parseFontFamilies(d.value); len(fams) > 0 && families[fams[0]] {
				faces = append(faces, face)
			}
			break
		}
	}
	if len(faces) == 0 {
		return "", nil
	}

	out := make([]string, len(faces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency())
	for i, face := range faces {
		g.Go(func() error {
			css, err := embedFontFace(gctx, face, opts.PreferredFontFormat, res)
			out[i] = css
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(out, "\n"), nil
}

func embedFontFace(ctx context.Context, face fontFaceRule, preferred string, res *resolver) (string, error) {
	var b strings.Builder
	b.WriteString("@font-face {")
	for _, d := range face.declarations {
		value := d.value
		if d.property == "src" {
			var err error
			value, err = resolveCSSURLs(ctx, filterFontFormat(value, preferred), face.baseURL, res, false)
			if err != nil {
				return "", err
			}
		}
		b.WriteString(" ")
		b.WriteString(d.property)
		b.WriteString(": ")
		b.WriteString(value)
		if d.important {
			b.WriteString(" !important")
		}
		b.WriteString(";")
	}
	b.WriteString(" }")
	return b.String(), nil
}

// insertFontCSS prepends a <style> element holding css to the clone root.
func insertFontCSS(root *html.Node, css string) {
	if strings.TrimSpace(css) == "" {
		return
	}
	style := &html.Node{Type: html.ElementNode, DataAtom: atom.Style, Data: "style"}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: css})
	root.InsertBefore(style, root.FirstChild)
}
