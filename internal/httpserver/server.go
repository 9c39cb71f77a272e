package httpserver

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"
)

// Server bundles the HTTP listener and its router.
type Server struct {
	Router http.Handler
	http   *http.Server
}

// New constructs the HTTP server for s on addr.
func New(addr string, s Session) *Server {
	router := NewRouter(s)
	return &Server{
		Router: router,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start serves in the background; listener failures are sent on the returned channel.
func (s *Server) Start() <-chan error {
	errs := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()
	return errs
}

// Shutdown drains connections, closing them outright if ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.http.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = s.http.Close()
	}
}
