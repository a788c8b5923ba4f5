package server

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultSitesDir       = "config/sites"
	defaultFetchTimeout   = 15 * time.Second
	defaultConvertTimeout = 60 * time.Second
	defaultMaxBodyBytes   = 8 << 20
	defaultJarTTL         = 30 * time.Minute
	defaultMaxJars        = 1024
)

// Config describes server wiring and runtime behaviour.
type Config struct {
	Addr           string
	IndexHTML      string
	SitesDir       string
	FetchTimeout   time.Duration
	ConvertTimeout time.Duration
	MaxBodyBytes   int64
	Concurrency    int
	// CacheTTL keeps GET snapshots of URLs per client; 0 disables caching.
	CacheTTL time.Duration
	// JarTTL drops a client's cookie jar after this much idle time.
	JarTTL  time.Duration
	MaxJars int
	// PlaceholderImage is used for resources that cannot be fetched.
	PlaceholderImage string
	Debug            bool
	Logger           *log.Logger
	Clock            func() time.Time
}

// DefaultConfig populates configuration from environment variables.
func DefaultConfig() Config {
	cfg := Config{
		IndexHTML:        defaultIndexHTML,
		Logger:           log.Default(),
		Clock:            time.Now,
		SitesDir:         strings.TrimSpace(os.Getenv("DOMSHOT_SITES_DIR")),
		PlaceholderImage: strings.TrimSpace(os.Getenv("DOMSHOT_PLACEHOLDER")),
		Debug:            os.Getenv("DOMSHOT_DEBUG") == "1",
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Addr = ":" + port
	}
	if d, err := time.ParseDuration(os.Getenv("DOMSHOT_FETCH_TIMEOUT")); err == nil && d > 0 {
		cfg.FetchTimeout = d
	}
	if d, err := time.ParseDuration(os.Getenv("DOMSHOT_TIMEOUT")); err == nil && d > 0 {
		cfg.ConvertTimeout = d
	}
	if d, err := time.ParseDuration(os.Getenv("DOMSHOT_CACHE_TTL")); err == nil && d > 0 {
		cfg.CacheTTL = d
	}
	if d, err := time.ParseDuration(os.Getenv("DOMSHOT_JAR_TTL")); err == nil && d > 0 {
		cfg.JarTTL = d
	}
	if n, err := strconv.Atoi(os.Getenv("DOMSHOT_MAX_JARS")); err == nil && n > 0 {
		cfg.MaxJars = n
	}
	if n, err := strconv.Atoi(os.Getenv("DOMSHOT_CONCURRENCY")); err == nil && n > 0 {
		cfg.Concurrency = n
	}
	if n, err := strconv.ParseInt(os.Getenv("DOMSHOT_MAX_BODY"), 10, 64); err == nil && n > 0 {
		cfg.MaxBodyBytes = n
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.IndexHTML == "" {
		c.IndexHTML = defaultIndexHTML
	}
	if c.SitesDir == "" {
		c.SitesDir = defaultSitesDir
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.ConvertTimeout <= 0 {
		c.ConvertTimeout = defaultConvertTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.JarTTL <= 0 {
		c.JarTTL = defaultJarTTL
	}
	if c.MaxJars <= 0 {
		c.MaxJars = defaultMaxJars
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// fileConfig is the YAML form of Config. Zero values keep the base setting.
type fileConfig struct {
	Addr           string        `yaml:"addr"`
	SitesDir       string        `yaml:"sites_dir"`
	IndexFile      string        `yaml:"index_file"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	ConvertTimeout time.Duration `yaml:"convert_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	Concurrency    int           `yaml:"concurrency"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	JarTTL         time.Duration `yaml:"jar_ttl"`
	MaxJars        int           `yaml:"max_jars"`
	Placeholder    string        `yaml:"placeholder"`
	Debug          *bool         `yaml:"debug"`
}

// LoadFile overlays the YAML file at path onto base.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return base, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg := base
	if fc.Addr != "" {
		cfg.Addr = fc.Addr
	}
	if fc.SitesDir != "" {
		cfg.SitesDir = fc.SitesDir
	}
	if fc.IndexFile != "" {
		page, err := os.ReadFile(fc.IndexFile)
		if err != nil {
			return base, fmt.Errorf("index file: %w", err)
		}
		cfg.IndexHTML = string(page)
	}
	if fc.FetchTimeout > 0 {
		cfg.FetchTimeout = fc.FetchTimeout
	}
	if fc.ConvertTimeout > 0 {
		cfg.ConvertTimeout = fc.ConvertTimeout
	}
	if fc.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = fc.MaxBodyBytes
	}
	if fc.Concurrency > 0 {
		cfg.Concurrency = fc.Concurrency
	}
	if fc.CacheTTL > 0 {
		cfg.CacheTTL = fc.CacheTTL
	}
	if fc.JarTTL > 0 {
		cfg.JarTTL = fc.JarTTL
	}
	if fc.MaxJars > 0 {
		cfg.MaxJars = fc.MaxJars
	}
	if fc.Placeholder != "" {
		cfg.PlaceholderImage = fc.Placeholder
	}
	if fc.Debug != nil {
		cfg.Debug = *fc.Debug
	}
	return cfg.withDefaults(), nil
}
