package snapshot

import (
	"context"
	"strings"

	"github.com/gorilla/css/scanner"
)

// cssURLToken is one url(...) reference found in a CSS value.
type cssURLToken struct {
	raw   string
	url   string
	quote string
}

func parseURLToken(raw string) cssURLToken {
	tok := cssURLToken{raw: raw}
	inner := raw
	if len(inner) >= 4 && strings.EqualFold(inner[:4], "url(") {
		inner = inner[4:]
	}
	inner = strings.TrimSuffix(inner, ")")
	inner = strings.TrimSpace(inner)
	if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') && inner[len(inner)-1] == inner[0] {
		tok.quote = inner[:1]
		inner = inner[1 : len(inner)-1]
	}
	tok.url = strings.TrimSpace(inner)
	return tok
}

// scanCSS walks the tokens of value, calling fn for every url(...) token.
// fn returns the replacement text for the token. Text the scanner cannot
// tokenize is kept verbatim.
func scanCSS(value string, fn func(cssURLToken) (string, error)) (string, error) {
	var b strings.Builder
	s := scanner.New(value)
	consumed := 0
	for {
		tok := s.Next()
		if tok.Type == scanner.TokenEOF {
			break
		}
		if tok.Type == scanner.TokenError {
			b.WriteString(value[min(consumed, len(value)):])
			break
		}
		consumed += len(tok.Value)
		if tok.Type != scanner.TokenURI {
			b.WriteString(tok.Value)
			continue
		}
		out, err := fn(parseURLToken(tok.Value))
		if err != nil {
			return "", err
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

// cssURLs lists the url(...) references of a CSS value in source order.
func cssURLs(value string) []string {
	var urls []string
	_, _ = scanCSS(value, func(t cssURLToken) (string, error) {
		if t.url != "" {
			urls = append(urls, t.url)
		}
		return t.raw, nil
	})
	return urls
}

// hasExternalCSSURL reports whether value references anything that is not a data URI.
func hasExternalCSSURL(value string) bool {
	for _, u := range cssURLs(value) {
		if !IsDataURL(u) {
			return true
		}
	}
	return false
}

// resolveCSSURLs rewrites every url(...) of value to a data URI. Relative
// references resolve against baseURL; data URIs and fragment references are
// left untouched. images marks values that reference images, which may fall
// back to the configured placeholder.
func resolveCSSURLs(ctx context.Context, value, baseURL string, res *resolver, images bool) (string, error) {
	if !strings.Contains(strings.ToLower(value), "url(") {
		return value, nil
	}
	resolve := res.resolveURL
	if images {
		resolve = res.resolveImage
	}
	return scanCSS(value, func(t cssURLToken) (string, error) {
		if t.url == "" || IsDataURL(t.url) || strings.HasPrefix(t.url, "#") {
			return t.raw, nil
		}
		abs := resolveAbsURL(baseURL, t.url)
		if abs == "" {
			return t.raw, nil
		}
		data, err := resolve(ctx, abs, "")
		if err != nil {
			return "", err
		}
		return "url(" + t.quote + data + t.quote + ")", nil
	})
}

// absoluteCSSURLs rewrites relative url(...) references of value against baseURL.
func absoluteCSSURLs(value, baseURL string) string {
	if baseURL == "" || !strings.Contains(strings.ToLower(value), "url(") {
		return value
	}
	out, _ := scanCSS(value, func(t cssURLToken) (string, error) {
		if t.url == "" || IsDataURL(t.url) || strings.HasPrefix(t.url, "#") {
			return t.raw, nil
		}
		abs := resolveAbsURL(baseURL, t.url)
		if abs == "" || abs == t.url {
			return t.raw, nil
		}
		return "url(" + t.quote + abs + t.quote + ")", nil
	})
	return out
}
