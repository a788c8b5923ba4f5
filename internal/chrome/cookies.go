package chrome

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

func cookieParams(cookies []*http.Cookie, u *url.URL) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   cookieDomainForParam(c, u),
			Path:     cookiePathForParam(c),
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if !c.Expires.IsZero() {
			exp := cdp.TimeSinceEpoch(c.Expires.UTC())
			param.Expires = &exp
		}
		params = append(params, param)
	}
	return params
}

func cookieFromNetwork(c *network.Cookie) *http.Cookie {
	if c == nil {
		return nil
	}
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if !c.Session && c.Expires > 0 {
		sec, frac := math.Modf(c.Expires)
		hc.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	switch c.SameSite {
	case network.CookieSameSiteLax:
		hc.SameSite = http.SameSiteLaxMode
	case network.CookieSameSiteStrict:
		hc.SameSite = http.SameSiteStrictMode
	case network.CookieSameSiteNone:
		hc.SameSite = http.SameSiteNoneMode
	}
	return hc
}

func cookieDomainForParam(c *http.Cookie, u *url.URL) string {
	if c.Domain != "" {
		return c.Domain
	}
	if u != nil {
		return u.Hostname()
	}
	return ""
}

func cookiePathForParam(c *http.Cookie) string {
	if c.Path != "" {
		return c.Path
	}
	return "/"
}

// headersFromNetwork flattens a devtools header map. Values may arrive as
// strings, lists or other JSON scalars.
func headersFromNetwork(h network.Headers) http.Header {
	out := http.Header{}
	for k, v := range h {
		switch hv := v.(type) {
		case string:
			// Chrome joins repeated headers with newlines.
			for _, item := range strings.Split(hv, "\n") {
				out.Add(k, item)
			}
		case []string:
			for _, item := range hv {
				out.Add(k, item)
			}
		case []interface{}:
			for _, item := range hv {
				out.Add(k, fmt.Sprint(item))
			}
		default:
			out.Add(k, fmt.Sprint(hv))
		}
	}
	return out
}

// extraHeaders converts request headers for Network.setExtraHTTPHeaders.
func extraHeaders(h http.Header) network.Headers {
	extra := network.Headers{}
	for k, vs := range h {
		name := http.CanonicalHeaderKey(k)
		if name == "Content-Length" || len(vs) == 0 {
			continue
		}
		extra[name] = strings.Join(vs, ", ")
	}
	return extra
}

func cloneHeader(h http.Header) http.Header {
	out := http.Header{}
	for k, vs := range h {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out
}
