// Package server exposes snapshot conversions over HTTP.
package server

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"domshot/internal/chrome"
	"domshot/snapshot"
)

const defaultIndexHTML = `<!DOCTYPE html>
<html><body>
<h1>domshot</h1>
<form action="/snapshot" method="get">
URL: <input name="url" size="60"><br>
Selector: <input name="selector" value="body"><br>
Format: <select name="format"><option>png</option><option>jpeg</option><option>svg</option><option>gif</option></select><br>
Pixel ratio: <input name="ratio" size="4" value="1"><br>
Render: <select name="render"><option value="">static</option><option value="js">javascript</option></select><br>
<button type="submit">Snapshot</button>
</form>
</body></html>`

// PageRenderer loads a page in a browser so its scripts run before the
// snapshot is taken.
type PageRenderer interface {
	Fetch(ctx context.Context, target string, hdr http.Header, jar http.CookieJar, opts chrome.FetchOptions) (*chrome.Page, error)
}

// Server exposes the HTTP handlers of the snapshot service.
type Server struct {
	cfg        Config
	router     chi.Router
	handler    http.Handler
	logger     *log.Logger
	converter  *snapshot.Converter
	renderer   PageRenderer
	client     *http.Client
	jars       *clientJars
	sites      *siteConfigStore
	cache      *resultCache
}

// New wires a server. decoder rasterizes snapshots and may be nil, in which
// case only SVG output is served. renderer backs render=js and may be nil.
func New(cfg Config, decoder snapshot.BitmapDecoder, renderer PageRenderer) *Server {
	cfg = cfg.withDefaults()
	client := &http.Client{Timeout: cfg.FetchTimeout}
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: cfg.Logger,
		converter: &snapshot.Converter{
			Client:     client,
			Decoder:    decoder,
			Logger:     cfg.Logger,
			Clock:      cfg.Clock,
			PixelRatio: 1,
			Debug:      cfg.Debug,
		},
		renderer:   renderer,
		client:     client,
		jars:       newClientJars(cfg.Clock, cfg.JarTTL, cfg.MaxJars),
		sites:      newSiteConfigStore(cfg.SitesDir),
		cache:      newResultCache(cfg.Clock, cfg.CacheTTL),
	}
	s.registerRoutes()
	s.handler = s.router
	return s
}

// NewServer builds an SVG-only server from the environment.
func NewServer() http.Handler {
	return New(DefaultConfig(), nil, nil)
}

// Handler exposes the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler { return s }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler { return withLogging(s.logger, next) })

	r.Get("/", s.handleRoot)
	r.Get("/ping", s.handlePing)
	r.Get("/snapshot", s.handleSnapshot)
	r.Post("/snapshot", s.handleSnapshot)
	r.Get("/fonts", s.handleFonts)
	r.Post("/fonts", s.handleFonts)
}
