package server

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

func withLogging(logger *log.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		logger.Printf("REQ %s %s %s UA=%q From=%s", reqID, r.Method, r.URL.String(), r.UserAgent(), r.RemoteAddr)
		if v := r.Header.Get("Content-Type"); v != "" {
			logger.Printf("HDR %s Content-Type: %s", reqID, v)
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Printf("RES %s %d %dB in %s", reqID, ww.Status(), ww.BytesWritten(), time.Since(start).Round(time.Millisecond))
	})
}
