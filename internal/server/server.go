// Package server implements the ofuton HTTP server: static routes, the
// object read/write routes, and the middleware chain around them.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hideki0403/ofuton/internal/auth"
	"github.com/hideki0403/ofuton/internal/config"
	"github.com/hideki0403/ofuton/internal/handlers"
	"github.com/hideki0403/ofuton/internal/storage"
)

// Version is the service version reported by the root banner.
const Version = "1.0.0"

// repositoryURL is appended to the root banner.
const repositoryURL = "https://github.com/hideki0403/ofuton"

// Server is the ofuton HTTP server.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	store      *storage.Storage
	verifier   *auth.Verifier
	handler    *handlers.Handler
	httpServer *http.Server
}

// New creates a Server wired to the given storage engine.
func New(cfg *config.Config, store *storage.Storage) *Server {
	s := &Server{
		cfg:      cfg,
		router:   chi.NewMux(),
		store:    store,
		verifier: auth.NewVerifier(cfg.Account.AccessKey, cfg.Account.SecretKey),
		handler:  handlers.New(store),
	}
	s.registerRoutes()
	return s
}

// registerRoutes configures all routes. Chi matches the fixed routes first
// and falls through to the object catch-all.
func (s *Server) registerRoutes() {
	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ofuton v%s - %s", Version, repositoryURL)
	})
	s.router.Get("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /"))
	})
	s.router.Handle("/metrics", promhttp.Handler())

	// Reads are unauthenticated; writes go through SigV4 verification, the
	// multipart state middleware, and the body size cap.
	write := s.multipartState(auth.Middleware(s.verifier)(http.HandlerFunc(s.handler.WriteObject)))

	s.router.Get("/*", s.handler.ReadObject)
	s.router.Head("/*", s.handler.ReadObject)
	s.router.Method(http.MethodPut, "/*", write)
	s.router.Method(http.MethodPost, "/*", write)
	s.router.Method(http.MethodDelete, "/*", write)
}

// Handler returns the full middleware-wrapped handler, exposed for
// in-process tests.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = maxBodySize(s.cfg.MaxUploadSizeBytes())(handler)
	handler = accessLog(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// ListenAndServe starts the HTTP server on the configured address.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
