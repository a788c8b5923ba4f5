package chrome

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const defaultFetchTimeout = 25 * time.Second

// FetchOptions controls how long a rendered page is given to settle.
type FetchOptions struct {
	Timeout         time.Duration
	WaitSelector    string
	WaitNetworkIdle time.Duration
	WaitAfterLoad   time.Duration
	Scripts         []string
}

// Page is a document as the browser serialized it after scripts ran.
type Page struct {
	URL        string
	Status     int
	Header     http.Header
	HTML       []byte
	SetCookies []string
}

// Fetch navigates to target and returns the rendered DOM. Cookies of jar are
// sent with the navigation and the browser's cookies are stored back into it.
func (b *Browser) Fetch(ctx context.Context, target string, hdr http.Header, jar http.CookieJar, opts FetchOptions) (*Page, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("js fetch: empty target url")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()
	tabCtx, cancel := b.newTab(ctx)
	defer cancel()

	requestHeaders := cloneHeader(hdr)
	var finalURL string
	var htmlContent string
	var mainResp *network.Response
	var mainHeaders http.Header
	setCookieHeaders := []string{}

	var mu sync.Mutex
	activeRequests := 0
	lastActivity := time.Now()
	mainRequestID := network.RequestID("")

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		mu.Lock()
		defer mu.Unlock()
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			activeRequests++
			lastActivity = time.Now()
			if e.Type == network.ResourceTypeDocument && mainRequestID == "" {
				mainRequestID = e.RequestID
			}
		case *network.EventLoadingFinished:
			if activeRequests > 0 {
				activeRequests--
			}
			lastActivity = time.Now()
		case *network.EventLoadingFailed:
			if activeRequests > 0 {
				activeRequests--
			}
			lastActivity = time.Now()
		case *network.EventResponseReceived:
			if e.RequestID != mainRequestID || e.Type != network.ResourceTypeDocument {
				return
			}
			mainResp = e.Response
			mainHeaders = headersFromNetwork(e.Response.Headers)
			if mainResp.MimeType != "" && mainHeaders.Get("Content-Type") == "" {
				mainHeaders.Set("Content-Type", mainResp.MimeType)
			}
			setCookieHeaders = append(setCookieHeaders, mainHeaders.Values("Set-Cookie")...)
		}
	})

	actions := []chromedp.Action{network.Enable()}

	if ua := requestHeaders.Get("User-Agent"); ua != "" {
		actions = append(actions, emulation.SetUserAgentOverride(ua))
		requestHeaders.Del("User-Agent")
	}
	if extra := extraHeaders(requestHeaders); len(extra) > 0 {
		actions = append(actions, network.SetExtraHTTPHeaders(extra))
	}
	if jar != nil {
		if u, err := url.Parse(target); err == nil {
			if params := cookieParams(jar.Cookies(u), u); len(params) > 0 {
				actions = append(actions, network.SetCookies(params))
			}
		}
	}

	actions = append(actions,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if sel := strings.TrimSpace(opts.WaitSelector); sel != "" {
		actions = append(actions, chromedp.WaitVisible(sel, chromedp.ByQuery))
	}
	if opts.WaitNetworkIdle > 0 {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for {
				mu.Lock()
				active := activeRequests
				elapsed := time.Since(lastActivity)
				mu.Unlock()
				if active == 0 && elapsed >= opts.WaitNetworkIdle {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		}))
	}
	if opts.WaitAfterLoad > 0 {
		actions = append(actions, chromedp.Sleep(opts.WaitAfterLoad))
	}
	for _, snippet := range opts.Scripts {
		if code := strings.TrimSpace(snippet); code != "" {
			actions = append(actions, chromedp.Evaluate(code, nil))
		}
	}

	var browserCookies []*network.Cookie
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &htmlContent, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			u := finalURL
			if u == "" {
				u = target
			}
			var err error
			browserCookies, err = network.GetCookies().WithURLs([]string{u}).Do(ctx)
			return err
		}),
	)

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return nil, fmt.Errorf("js fetch %s: %w", target, err)
	}
	if finalURL == "" {
		finalURL = target
	}

	mu.Lock()
	defer mu.Unlock()
	header := cloneHeader(mainHeaders)
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "text/html; charset=utf-8")
	}

	seen := map[string]struct{}{}
	for _, sc := range setCookieHeaders {
		if trimmed := strings.TrimSpace(sc); trimmed != "" {
			seen[trimmed] = struct{}{}
		}
	}
	httpCookies := make([]*http.Cookie, 0, len(browserCookies))
	for _, c := range browserCookies {
		if hc := cookieFromNetwork(c); hc != nil {
			httpCookies = append(httpCookies, hc)
			if sc := hc.String(); sc != "" {
				seen[sc] = struct{}{}
			}
		}
	}
	if jar != nil && len(httpCookies) > 0 {
		if u, err := url.Parse(finalURL); err == nil {
			jar.SetCookies(u, httpCookies)
		}
	}
	setCookies := make([]string, 0, len(seen))
	for sc := range seen {
		setCookies = append(setCookies, sc)
	}
	sort.Strings(setCookies)

	p := &Page{
		URL:        finalURL,
		Header:     header,
		HTML:       []byte(htmlContent),
		SetCookies: setCookies,
	}
	if mainResp != nil {
		p.Status = int(mainResp.Status)
	}
	b.logger.Printf("CHROME fetch %s status=%d bytes=%d", finalURL, p.Status, len(p.HTML))
	return p, nil
}
