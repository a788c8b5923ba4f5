package server

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// clientJars keeps one cookie jar per client so a session set while loading
// one snapshot source is sent with the next. Jars idle for ttl are dropped and
// at most max jars are held; the least recently used goes first.
type clientJars struct {
	mu   sync.Mutex
	now  func() time.Time
	ttl  time.Duration
	max  int
	jars map[string]*clientJar
}

type clientJar struct {
	jar      http.CookieJar
	lastUsed time.Time
}

func newClientJars(now func() time.Time, ttl time.Duration, max int) *clientJars {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = defaultJarTTL
	}
	if max <= 0 {
		max = defaultMaxJars
	}
	return &clientJars{now: now, ttl: ttl, max: max, jars: make(map[string]*clientJar)}
}

// Get returns the live jar of key, starting a fresh one when the client has
// none or its jar went idle.
func (s *clientJars) Get(key string) http.CookieJar {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.jars[key]; ok && now.Sub(e.lastUsed) < s.ttl {
		e.lastUsed = now
		return e.jar
	}
	s.pruneLocked(now)
	if len(s.jars) >= s.max {
		s.evictOldestLocked()
	}
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	s.jars[key] = &clientJar{jar: jar, lastUsed: now}
	return jar
}

// Len reports how many jars are held.
func (s *clientJars) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jars)
}

func (s *clientJars) pruneLocked(now time.Time) {
	for k, e := range s.jars {
		if now.Sub(e.lastUsed) >= s.ttl {
			delete(s.jars, k)
		}
	}
}

func (s *clientJars) evictOldestLocked() {
	oldest := ""
	var at time.Time
	for k, e := range s.jars {
		if oldest == "" || e.lastUsed.Before(at) {
			oldest, at = k, e.lastUsed
		}
	}
	delete(s.jars, oldest)
}

func deriveClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		host = r.RemoteAddr
	}
	return host + "|" + r.UserAgent()
}
