// Package server implements the HTTP surface of the upload service: multipart
// uploads gated by a per-client rate limiter, and retrieval of stored objects.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/snapbin/snapbin/internal/metrics"
	"github.com/snapbin/snapbin/internal/ratelimit"
	"github.com/snapbin/snapbin/internal/store"
)

// Config wires the server's collaborators.
type Config struct {
	// Images and Pastes are the two object collections.
	Images *store.Store
	Pastes *store.Store
	// Gate, when non-nil, admits or denies uploads per client address.
	Gate *ratelimit.Gate
	// TrustHeaders enables X-Real-IP as the client identity.
	TrustHeaders bool
	// LinkPrefix is prepended to object paths in upload responses.
	LinkPrefix string
	// Metrics must be non-nil.
	Metrics *metrics.Metrics
}

// Server handles upload and retrieval requests.
type Server struct {
	cfg  Config
	mux  *http.ServeMux
	http *http.Server
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	s := &Server{
		cfg: cfg,
		mux: http.NewServeMux(),
	}
	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	s.mux.HandleFunc("POST /upload", s.withCSRF(s.withAdmission(s.handleUpload)))
	s.mux.HandleFunc("POST /paste", s.withCSRF(s.withAdmission(s.handlePaste)))

	s.mux.HandleFunc("GET /i/{name}", s.serveObject(s.cfg.Images, ""))
	s.mux.HandleFunc("GET /p/{name}", s.serveObject(s.cfg.Pastes, "text/plain; charset=utf-8"))
}

// ServeHTTP dispatches to the route table. Exposed for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	log.Info().Str("addr", ln.Addr().String()).Msg("server listening")
	return s.http.Serve(ln)
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, false, "ok")
}
