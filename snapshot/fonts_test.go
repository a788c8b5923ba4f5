package snapshot

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const fontPage = `<html><head>
<link rel="stylesheet" href="/css/fonts.css">
<style>
@font-face { font-family: "Unused"; src: url(/fonts/unused.woff2) format("woff2") }
body { font-family: 'Body Sans', serif }
.brand { font: italic bold 12px/30px Brand, sans-serif }
</style></head><body>
<div id="root"><p class="brand">Hello</p></div>
<div id="other">x</div>
</body></html>`

func fontOrigin(t *testing.T) *origin {
	return newOrigin(t, map[string]http.HandlerFunc{
		"/css/fonts.css": serveBytes("text/css", []byte(`
			@font-face { font-family: "Brand"; font-weight: 700; src: url(brand.woff2) format("woff2"), url(brand.ttf) format("truetype") }
			@font-face { font-family: "Body Sans"; src: url("body.woff") }
		`)),
		"/css/brand.woff2": serveBytes("font/woff2", []byte("wOF2-brand")),
		"/css/brand.ttf":   serveBytes("font/ttf", []byte("ttf-brand")),
		"/css/body.woff":   serveBytes("font/woff", []byte("wOFF-body")),
	})
}

func TestFontFaceCSS(t *testing.T) {
	t.Parallel()
	o := fontOrigin(t)
	doc := parseTestDocument(t, fontPage, o.URL+"/index.html")
	el := mustSelect(t, doc, "#root")

	css, err := (&Converter{}).FontEmbedCSS(context.Background(), el, Options{PreferredFontFormat: "woff2"})
	if err != nil {
		t.Fatalf("FontEmbedCSS: %v", err)
	}
	if strings.Contains(css, "Unused") || o.count("/fonts/unused.woff2") != 0 {
		t.Fatalf("unused face embedded: %s", css)
	}
	if !strings.Contains(css, `font-family: "Brand"`) || !strings.Contains(css, "font-weight: 700") {
		t.Fatalf("brand face missing: %s", css)
	}
	if !strings.Contains(css, `url(data:font/woff2;base64,`) || strings.Contains(css, "truetype") {
		t.Fatalf("preferred format not applied: %s", css)
	}
	if !strings.Contains(css, `url("data:font/woff;base64,`) {
		t.Fatalf("inherited body font missing: %s", css)
	}
	if o.count("/css/brand.ttf") != 0 {
		t.Fatalf("filtered source was fetched")
	}
	if strings.Contains(css, "http://") {
		t.Fatalf("external reference left: %s", css)
	}
}

func TestParseFontFamilies(t *testing.T) {
	t.Parallel()
	got := parseFontFamilies(`"Open Sans", 'Fira Code' , serif`)
	want := []string{"open sans", "fira code", "serif"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseFontFamilies = %v, want %v", got, want)
	}
	if f := fontShorthandFamilies("italic bold 12px/30px Georgia, serif"); f != "Georgia, serif" {
		t.Fatalf("fontShorthandFamilies = %q", f)
	}
}

func TestFilterFontFormat(t *testing.T) {
	t.Parallel()
	src := `url(a.woff2) format("woff2"), url(a.woff) format('woff'), local(Arial)`
	cases := []struct {
		preferred string
		want      string
	}{
		{"", src},
		{"woff", `url(a.woff) format('woff')`},
		{"WOFF2", `url(a.woff2) format("woff2")`},
		{"opentype", src},
	}
	for _, tc := range cases {
		if got := filterFontFormat(src, tc.preferred); got != tc.want {
			t.Errorf("filterFontFormat(%q) = %q, want %q", tc.preferred, got, tc.want)
		}
	}
}

func TestInsertFontCSS(t *testing.T) {
	t.Parallel()
	root := parseFragment(t, `<div id="root"><p>x</p></div>`)
	insertFontCSS(root, "  ")
	if root.FirstChild.Data != "p" {
		t.Fatalf("blank css inserted a style element")
	}
	insertFontCSS(root, "@font-face {}")
	if root.FirstChild.Type != html.ElementNode || root.FirstChild.Data != "style" || root.FirstChild.FirstChild.Data != "@font-face {}" {
		t.Fatalf("style not prepended: %s", renderNode(t, root))
	}
}

func TestFontFaceIgnoresImagePlaceholder(t *testing.T) {
	t.Parallel()
	o := newOrigin(t, nil)
	page := `<html><head><style>
	@font-face { font-family: Gone; src: url(/fonts/gone.woff2) format("woff2") }
	</style></head><body><div id="root" style="font-family: Gone">x</div></body></html>`
	doc := parseTestDocument(t, page, o.URL+"/")
	placeholder := DataURL([]byte("GIF89a"), "image/gif")

	css, err := (&Converter{}).FontEmbedCSS(context.Background(), mustSelect(t, doc, "#root"), Options{ImagePlaceholder: placeholder})
	if strings.Contains(css, "image/gif") {
		t.Fatalf("image placeholder used as font source: %s", css)
	}
	var rerr *ResourceError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want ResourceError", err)
	}
}
