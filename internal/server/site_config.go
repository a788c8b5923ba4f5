package server

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// SiteConfig holds per-host request settings. Mode "js" renders the page in
// the browser before taking the snapshot.
type SiteConfig struct {
	Mode         string            `json:"mode" yaml:"mode"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	WaitSelector string            `json:"wait_selector,omitempty" yaml:"wait_selector,omitempty"`
	Selector     string            `json:"selector,omitempty" yaml:"selector,omitempty"`
}

type siteConfigStore struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*SiteConfig
}

func newSiteConfigStore(dir string) *siteConfigStore {
	return &siteConfigStore{
		dir:   dir,
		cache: make(map[string]*SiteConfig),
	}
}

// Find returns the configuration of target's host or of its closest parent
// domain, or nil.
func (s *siteConfigStore) Find(target string) *SiteConfig {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil
	}
	host := u.Hostname()
	s.mu.RLock()
	if cfg, ok := s.cache[host]; ok {
		s.mu.RUnlock()
		return cfg
	}
	s.mu.RUnlock()

	var found *SiteConfig
	labels := strings.Split(host, ".")
	for i := 0; i < len(labels); i++ {
		if cfg := s.load(strings.Join(labels[i:], ".")); cfg != nil {
			found = cfg
			break
		}
	}
	s.mu.Lock()
	s.cache[host] = found
	s.mu.Unlock()
	return found
}

func (s *siteConfigStore) load(host string) *SiteConfig {
	if s.dir == "" {
		return nil
	}
	var cfg SiteConfig
	if data, err := os.ReadFile(filepath.Join(s.dir, host+".json")); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil
		}
	} else if data, err := os.ReadFile(filepath.Join(s.dir, host+".yaml")); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil
		}
	} else {
		return nil
	}
	cfg.Mode = strings.TrimSpace(strings.ToLower(cfg.Mode))
	return &cfg
}
