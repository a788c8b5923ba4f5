package snapshot

import (
	"context"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

const (
	maxStylesheetDepth = 16
	maxExternalSheets  = 16
)

type propState struct {
	decl  cssDeclaration
	spec  cascadia.Specificity
	order int
}

type cssDeclaration struct {
	property  string
	value     string
	important bool
}

type cssRule struct {
	selector     cascadia.Sel
	specificity  cascadia.Specificity
	declarations []cssDeclaration
	order        int
}

// fontFaceRule is an @font-face block together with the URL of the
// stylesheet that declared it, which relative src URLs resolve against.
type fontFaceRule struct {
	declarations []cssDeclaration
	baseURL      string
}

// Stylesheet is the cascaded set of rules of a document.
type Stylesheet struct {
	rules     []cssRule
	fontFaces []fontFaceRule
}

type cssParseContext struct {
	baseURL  string
	fetch    textFetcher
	viewport viewport
	depth    int
	visited  map[string]struct{}
	budget   *int
	logger   *log.Logger
}

type viewport struct {
	width  int
	height int
}

func (vp viewport) withDefaults() viewport {
	if vp.width <= 0 {
		vp.width = defaultViewportWidth
	}
	if vp.height <= 0 {
		vp.height = defaultViewportHeight
	}
	return vp
}

// textFetcher loads a stylesheet body. It returns false when the body is unavailable.
type textFetcher func(ctx context.Context, absURL, accept string) ([]byte, bool)

func (ctx *cssParseContext) child(newBase string) *cssParseContext {
	next := *ctx
	next.baseURL = newBase
	next.depth = ctx.depth + 1
	return &next
}

func buildStylesheet(ctx context.Context, doc *html.Node, base string, fetch textFetcher, vp viewport, logger *log.Logger) *Stylesheet {
	ss := &Stylesheet{}
	if doc == nil {
		return ss
	}
	order := 0
	budget := maxExternalSheets
	pctx := &cssParseContext{
		baseURL:  base,
		fetch:    fetch,
		viewport: vp,
		visited:  map[string]struct{}{},
		budget:   &budget,
		logger:   logger,
	}

	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "style":
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					order = ss.addCSSText(ctx, n.FirstChild.Data, order, pctx)
				}
			case "link":
				if href := stylesheetHref(n); href != "" {
					order = ss.addExternal(ctx, resolveAbsURL(base, href), order, pctx)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(doc)
	return ss
}

func stylesheetHref(n *html.Node) string {
	rel := strings.ToLower(strings.TrimSpace(getAttr(n, "rel")))
	if rel == "" || !strings.Contains(rel, "stylesheet") {
		return ""
	}
	typ := strings.ToLower(strings.TrimSpace(getAttr(n, "type")))
	if typ != "" && typ != "text/css" {
		return ""
	}
	if media := getAttr(n, "media"); media != "" && !mediaRuleActive(media, viewport{}) {
		return ""
	}
	return strings.TrimSpace(getAttr(n, "href"))
}

func (ss *Stylesheet) addExternal(ctx context.Context, abs string, order int, pctx *cssParseContext) int {
	if abs == "" || pctx.fetch == nil {
		return order
	}
	if _, seen := pctx.visited[abs]; seen {
		return order
	}
	pctx.visited[abs] = struct{}{}
	if *pctx.budget <= 0 {
		return order
	}
	*pctx.budget--
	b, ok := pctx.fetch(ctx, abs, "text/css")
	if !ok {
		return order
	}
	return ss.addCSSText(ctx, string(b), order, pctx.child(abs))
}

func (ss *Stylesheet) addCSSText(ctx context.Context, txt string, order int, pctx *cssParseContext) int {
	trimmed := strings.TrimSpace(txt)
	if trimmed == "" || pctx.depth >= maxStylesheetDepth {
		return order
	}
	sheet, err := parser.Parse(terminateDeclarations(trimmed, false))
	if err != nil {
		if pctx.logger != nil {
			pctx.logger.Printf("CSS parse %s: %v", pctx.baseURL, err)
		}
		return order
	}

	var walk func([]*cssast.Rule)
	walk = func(list []*cssast.Rule) {
		for _, rule := range list {
			if rule == nil {
				continue
			}
			switch rule.Kind {
			case cssast.AtRule:
				switch strings.ToLower(strings.TrimSpace(rule.Name)) {
				case "@media":
					if mediaRuleActive(rule.Prelude, pctx.viewport) {
						walk(rule.Rules)
					}
				case "@supports":
					walk(rule.Rules)
				case "@font-face":
					if decls := convertDeclarations(rule.Declarations); len(decls) > 0 {
						ss.fontFaces = append(ss.fontFaces, fontFaceRule{declarations: decls, baseURL: pctx.baseURL})
					}
				case "@import":
					target, media := extractImportTarget(rule.Prelude)
					if target == "" || (media != "" && !mediaRuleActive(media, pctx.viewport)) {
						continue
					}
					abs := resolveAbsURL(pctx.baseURL, target)
					if abs == "" {
						abs = target
					}
					order = ss.addExternal(ctx, abs, order, pctx)
				default:
					if rule.EmbedsRules() {
						walk(rule.Rules)
					}
				}
			case cssast.QualifiedRule:
				decls := convertDeclarations(rule.Declarations)
				if len(decls) == 0 || len(rule.Selectors) == 0 {
					continue
				}
				for i := range decls {
					decls[i].value = absoluteCSSURLs(decls[i].value, pctx.baseURL)
				}
				group, err := cascadia.ParseGroup(strings.Join(rule.Selectors, ","))
				if err != nil {
					continue
				}
				for _, sel := range group {
					if sel == nil || sel.PseudoElement() != "" {
						continue
					}
					ss.rules = append(ss.rules, cssRule{selector: sel, specificity: sel.Specificity(), declarations: decls, order: order})
					order++
				}
			}
		}
	}
	walk(sheet.Rules)
	return order
}

func convertDeclarations(list []*cssast.Declaration) []cssDeclaration {
	if len(list) == 0 {
		return nil
	}
	out := make([]cssDeclaration, 0, len(list))
	for _, decl := range list {
		if decl == nil {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(decl.Property))
		val := strings.TrimSpace(decl.Value)
		if prop == "" || val == "" {
			continue
		}
		out = append(out, cssDeclaration{property: prop, value: val, important: decl.Important})
	}
	return out
}

func extractImportTarget(prelude string) (string, string) {
	s := strings.TrimSpace(prelude)
	if s == "" {
		return "", ""
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "url(") {
		end := strings.Index(s, ")")
		if end == -1 {
			return "", ""
		}
		return trimCSSString(s[4:end]), strings.TrimSpace(s[end+1:])
	}
	if (s[0] == '"' || s[0] == '\'') && len(s) > 1 {
		if idx := strings.IndexByte(s[1:], s[0]); idx != -1 {
			return s[1 : idx+1], strings.TrimSpace(s[idx+2:])
		}
	}
	fields := strings.Fields(s)
	return trimCSSString(fields[0]), strings.TrimSpace(strings.TrimPrefix(s, fields[0]))
}

func trimCSSString(v string) string {
	vv := strings.TrimSpace(v)
	if len(vv) >= 2 {
		if (vv[0] == '"' && vv[len(vv)-1] == '"') || (vv[0] == '\'' && vv[len(vv)-1] == '\'') {
			return vv[1 : len(vv)-1]
		}
	}
	return vv
}

func mediaRuleActive(prelude string, vp viewport) bool {
	if strings.TrimSpace(prelude) == "" {
		return true
	}
	for _, raw := range strings.Split(prelude, ",") {
		query := strings.ToLower(strings.TrimSpace(raw))
		if query == "" {
			continue
		}
		query = strings.TrimSpace(strings.TrimPrefix(query, "only "))
		mediaType := ""
		rest := query
		if parts := strings.Fields(query); len(parts) > 0 && !strings.HasPrefix(parts[0], "(") {
			mediaType = parts[0]
			rest = strings.TrimSpace(strings.TrimPrefix(query, mediaType))
			rest = strings.TrimSpace(strings.TrimPrefix(rest, "and"))
		}
		switch mediaType {
		case "", "all", "screen":
			if evaluateMediaFeatures(rest, vp) {
				return true
			}
		}
	}
	return false
}

func evaluateMediaFeatures(expr string, vp viewport) bool {
	width, height := vp.width, vp.height
	if width <= 0 {
		width = defaultViewportWidth
	}
	if height <= 0 {
		height = defaultViewportHeight
	}
	for _, clause := range strings.Split(expr, "and") {
		c := strings.TrimSpace(clause)
		if c == "" {
			continue
		}
		if strings.HasPrefix(c, "(") && strings.HasSuffix(c, ")") {
			c = strings.TrimSpace(c[1 : len(c)-1])
		}
		parts := strings.SplitN(c, ":", 2)
		feature := strings.TrimSpace(parts[0])
		value := ""
		if len(parts) == 2 {
			value = strings.TrimSpace(parts[1])
		}
		switch feature {
		case "orientation":
			orientation := "portrait"
			if width > height {
				orientation = "landscape"
			}
			if value != "" && value != orientation {
				return false
			}
		case "min-width":
			if px, ok := cssLengthToPx(value, width); ok && width < px {
				return false
			}
		case "max-width":
			if px, ok := cssLengthToPx(value, width); ok && width > px {
				return false
			}
		case "min-height":
			if px, ok := cssLengthToPx(value, height); ok && height < px {
				return false
			}
		case "max-height":
			if px, ok := cssLengthToPx(value, height); ok && height > px {
				return false
			}
		case "prefers-color-scheme":
			if value != "" && value != "light" {
				return false
			}
		}
	}
	return true
}

func cssLengthToPx(val string, base int) (int, bool) {
	v := strings.ToLower(strings.TrimSpace(val))
	if v == "" {
		return 0, false
	}
	num := func(s string) (float64, bool) {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	switch {
	case strings.HasSuffix(v, "px"):
		if f, ok := num(v[:len(v)-2]); ok {
			return int(f + 0.5), true
		}
	case strings.HasSuffix(v, "%"):
		if base <= 0 {
			return 0, false
		}
		if f, ok := num(v[:len(v)-1]); ok {
			return int(float64(base) * f / 100.0), true
		}
	case strings.HasSuffix(v, "rem"):
		if f, ok := num(v[:len(v)-3]); ok {
			return int(f*16.0 + 0.5), true
		}
	case strings.HasSuffix(v, "em"):
		if f, ok := num(v[:len(v)-2]); ok {
			return int(f*16.0 + 0.5), true
		}
	case strings.HasSuffix(v, "pt"):
		if f, ok := num(v[:len(v)-2]); ok {
			return int(f*4.0/3.0 + 0.5), true
		}
	case strings.HasSuffix(v, "vw"), strings.HasSuffix(v, "vh"):
		if base <= 0 {
			return 0, false
		}
		if f, ok := num(v[:len(v)-2]); ok {
			return int(float64(base) * f / 100.0), true
		}
	default:
		if f, ok := num(v); ok {
			return int(f + 0.5), true
		}
	}
	return 0, false
}

// computeStyle cascades the stylesheet rules and the inline style attribute
// for n. Inheritance is not applied: only declarations targeting n count.
func (ss *Stylesheet) computeStyle(n *html.Node) map[string]cssDeclaration {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	props := map[string]propState{}
	if ss != nil {
		for _, rule := range ss.rules {
			if rule.selector == nil || !rule.selector.Match(n) {
				continue
			}
			for _, decl := range rule.declarations {
				applyDeclaration(props, decl, rule.specificity, rule.order)
			}
		}
	}
	inlineSpec := cascadia.Specificity{1 << 12, 0, 0}
	for i, decl := range parseInlineStyle(getAttr(n, "style")).decls {
		applyDeclaration(props, decl, inlineSpec, (1<<30)+i)
	}
	out := make(map[string]cssDeclaration, len(props))
	for k, st := range props {
		out[k] = st.decl
	}
	return out
}

func applyDeclaration(store map[string]propState, decl cssDeclaration, spec cascadia.Specificity, order int) {
	if decl.property == "" || strings.TrimSpace(decl.value) == "" {
		return
	}
	entry := propState{decl: decl, spec: spec, order: order}
	prev, ok := store[decl.property]
	if !ok {
		store[decl.property] = entry
		return
	}
	if prev.decl.important && !decl.important {
		return
	}
	if decl.important && !prev.decl.important {
		store[decl.property] = entry
		return
	}
	if prev.spec.Less(spec) {
		store[decl.property] = entry
		return
	}
	if spec.Less(prev.spec) {
		return
	}
	if order >= prev.order {
		store[decl.property] = entry
	}
}

// sortedDeclarations returns the computed declarations ordered by property name.
func sortedDeclarations(props map[string]cssDeclaration) []cssDeclaration {
	out := make([]cssDeclaration, 0, len(props))
	for _, d := range props {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].property < out[j].property })
	return out
}
