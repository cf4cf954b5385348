// Package httpserver builds the HTTP server with the project's timeouts.
package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server. Write timeout leaves headroom over the
// per-request timeout so the handler's own deadline fires first.
func New(addr string, handler http.Handler, requestTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
