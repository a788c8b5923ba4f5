package server

import (
	"net/http"
	"sync"
	"time"
)

// result is an encoded snapshot ready to be written.
type result struct {
	contentType string
	header      http.Header
	data        []byte
}

type cacheEntry struct {
	res     result
	created time.Time
}

// resultCache keeps recent snapshots of URL sources for ttl. A zero ttl
// disables it.
type resultCache struct {
	mu   sync.RWMutex
	now  func() time.Time
	ttl  time.Duration
	data map[string]cacheEntry
}

func newResultCache(now func() time.Time, ttl time.Duration) *resultCache {
	if now == nil {
		now = time.Now
	}
	return &resultCache{
		now:  now,
		ttl:  ttl,
		data: make(map[string]cacheEntry),
	}
}

func (c *resultCache) Store(key string, res *result) {
	if c.ttl <= 0 || res == nil || len(res.data) == 0 {
		return
	}
	entry := cacheEntry{
		res: result{
			contentType: res.contentType,
			header:      res.header.Clone(),
			data:        append([]byte(nil), res.data...),
		},
		created: c.now(),
	}
	c.mu.Lock()
	c.pruneLocked()
	c.data[key] = entry
	c.mu.Unlock()
}

func (c *resultCache) Select(key string) (*result, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.created) >= c.ttl {
		return nil, false
	}
	return &result{
		contentType: entry.res.contentType,
		header:      entry.res.header.Clone(),
		data:        append([]byte(nil), entry.res.data...),
	}, true
}

func (c *resultCache) pruneLocked() {
	now := c.now()
	for k, e := range c.data {
		if now.Sub(e.created) >= c.ttl {
			delete(c.data, k)
		}
	}
}
