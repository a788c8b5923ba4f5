package main

import (
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"domshot/internal/chrome"
	"domshot/internal/server"
)

func main() {
	addrFlag := flag.String("addr", "", "listen address, e.g. :8080 or 0.0.0.0:8080 (default $PORT or :8080)")
	configFlag := flag.String("config", "", "optional YAML configuration file")
	noChrome := flag.Bool("no-chrome", false, "serve SVG output only, without a browser")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	cfg := server.DefaultConfig()
	if *configFlag != "" {
		loaded, err := server.LoadFile(*configFlag, cfg)
		if err != nil {
			log.Fatalf("config %s: %v", *configFlag, err)
		}
		cfg = loaded
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}

	var handler http.Handler
	if *noChrome {
		handler = server.New(cfg, nil, nil)
	} else {
		browser, err := chrome.NewBrowser(cfg.Logger)
		if err != nil {
			log.Fatalf("chrome: %v", err)
		}
		defer browser.Close()
		handler = server.New(cfg, browser, browser)
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
		// Conservative timeouts to avoid slowloris and leaked connections blocking the server
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.ConvertTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          log.New(os.Stdout, "HTTPERR ", log.LstdFlags|log.Lmicroseconds),
		ConnState: func(c net.Conn, s http.ConnState) {
			if cfg.Debug {
				log.Printf("CONN %s %s", s.String(), c.RemoteAddr())
			}
		},
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		log.Fatalf("Listen error on %s: %v", cfg.Addr, err)
	}

	log.Println("Listening on", cfg.Addr)
	log.Fatal(srv.Serve(ln))
}
