package server

import (
	"fmt"
	neturl "net/url"
	"strings"
)

// urlDecode converts percent-encoded sequences like %2f into their byte values.
func urlDecode(url string) string {
	b := make([]byte, 0, len(url))
	for i := 0; i < len(url); i++ {
		c := url[i]
		if c == '%' && i+2 < len(url) {
			hi := fromHex(url[i+1])
			lo := fromHex(url[i+2])
			b = append(b, hi<<4|lo)
			i += 2
		} else {
			b = append(b, c)
		}
	}
	return string(b)
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

// encodedScheme reports whether s starts with a percent-encoded "scheme://".
func encodedScheme(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range []string{"%3a%2f%2f", "%253a%252f%252f"} {
		if i := strings.Index(lower, marker); i > 0 && i <= len("https") {
			return true
		}
	}
	return false
}

// normalizeTarget turns a user supplied page address into an absolute
// http(s) URL. Addresses may arrive percent-encoded once or twice and may
// omit the scheme.
func normalizeTarget(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	for i := 0; i < 2 && encodedScheme(s); i++ {
		s = urlDecode(s)
	}
	if s == "" {
		return "", fmt.Errorf("url: empty")
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(s, "//") {
		s = "http:" + s
	} else if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		if strings.Contains(s, "://") {
			return "", fmt.Errorf("url: unsupported scheme in %q", raw)
		}
		s = "http://" + s
	}
	u, err := neturl.Parse(s)
	if err != nil {
		return "", fmt.Errorf("url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url: missing host in %q", raw)
	}
	return u.String(), nil
}
