package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for this project. Write
// timeout leaves room for harness runs bounded by their own deadline.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      6 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}
