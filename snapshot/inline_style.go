package snapshot

import (
	"strings"

	"github.com/aymerick/douceur/parser"
	"github.com/gorilla/css/scanner"
	"golang.org/x/net/html"
)

// inlineStyle is the parsed form of an element's style attribute.
type inlineStyle struct {
	decls []cssDeclaration
}

func parseInlineStyle(inline string) *inlineStyle {
	st := &inlineStyle{}
	inline = strings.TrimSpace(inline)
	if inline == "" {
		return st
	}
	if decls, err := parser.ParseDeclarations(terminateDeclarations(inline, true)); err == nil {
		st.decls = convertDeclarations(decls)
		return st
	}
	for _, part := range strings.Split(inline, ";") {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		value := strings.TrimSpace(kv[1])
		important := false
		if strings.HasSuffix(strings.ToLower(value), "!important") {
			important = true
			value = strings.TrimSpace(value[:len(value)-len("!important")])
		}
		prop := strings.ToLower(strings.TrimSpace(kv[0]))
		if prop == "" || value == "" {
			continue
		}
		st.decls = append(st.decls, cssDeclaration{property: prop, value: value, important: important})
	}
	return st
}

// terminateDeclarations ends every declaration in css with a semicolon.
// The parser only keeps a value once it sees ';' or '}', so "a{color:red}"
// and "width:1px" would otherwise lose their last declaration. list marks a
// bare declaration list, whose end of input also closes a declaration.
func terminateDeclarations(css string, list bool) string {
	var b, pending strings.Builder
	b.Grow(len(css) + 8)
	var last *scanner.Token
	closeOpen := func() {
		if last != nil && !(last.Type == scanner.TokenChar && strings.Contains(";{}", last.Value)) {
			b.WriteByte(';')
		}
	}
	s := scanner.New(css)
	consumed := 0
	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF:
			if list {
				closeOpen()
			}
			b.WriteString(pending.String())
			return b.String()
		case scanner.TokenError:
			b.WriteString(pending.String())
			b.WriteString(css[min(consumed, len(css)):])
			return b.String()
		case scanner.TokenS, scanner.TokenComment:
			consumed += len(tok.Value)
			pending.WriteString(tok.Value)
			continue
		}
		if tok.Type == scanner.TokenChar && tok.Value == "}" {
			closeOpen()
		}
		b.WriteString(pending.String())
		pending.Reset()
		consumed += len(tok.Value)
		b.WriteString(tok.Value)
		last = tok
	}
}

// get returns the effective value of prop and whether it carries !important.
func (st *inlineStyle) get(prop string) (string, bool) {
	value, important := "", false
	for _, d := range st.decls {
		if d.property != prop {
			continue
		}
		if important && !d.important {
			continue
		}
		value, important = d.value, d.important
	}
	return value, important
}

// set replaces every declaration of prop with a single one.
func (st *inlineStyle) set(prop, value string, important bool) {
	out := st.decls[:0]
	placed := false
	for _, d := range st.decls {
		if d.property != prop {
			out = append(out, d)
			continue
		}
		if !placed {
			out = append(out, cssDeclaration{property: prop, value: value, important: important})
			placed = true
		}
	}
	if !placed {
		out = append(out, cssDeclaration{property: prop, value: value, important: important})
	}
	st.decls = out
}

func (st *inlineStyle) String() string {
	var b strings.Builder
	for i, d := range st.decls {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(d.property)
		b.WriteString(": ")
		b.WriteString(d.value)
		if d.important {
			b.WriteString(" !important")
		}
		b.WriteByte(';')
	}
	return b.String()
}

func (st *inlineStyle) apply(n *html.Node) {
	if len(st.decls) == 0 {
		removeAttr(n, "style")
		return
	}
	setAttr(n, "style", st.String())
}
