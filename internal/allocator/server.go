package allocator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zeus-ci/zeus/internal/logger"
)

// Limits resolves the authoritative per-user container quota at request
// time; the persistence store implements it.
type Limits interface {
	ContainerLimit(ctx context.Context, username string) (int, error)
}

type requestBody struct {
	Username string `json:"username"`
}

type grantResponse struct {
	Granted bool `json:"granted"`
}

// Server exposes the registry over a local HTTP RPC endpoint.
type Server struct {
	registry *Registry
	limits   Limits
	srv      *http.Server
}

// NewServer builds a Server bound to addr (host:port).
func NewServer(addr string, limits Limits) *Server {
	s := &Server{
		registry: NewRegistry(),
		limits:   limits,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Registry returns the server's allocation registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/v1/request-container", s.handleRequest)
	r.Post("/v1/return-container", s.handleReturn)
	return r
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	limit, err := s.limits.ContainerLimit(r.Context(), body.Username)
	if err != nil {
		logger.Error(r.Context(), "container limit lookup failed",
			"username", body.Username, "err", err)
		http.Error(w, "unknown user", http.StatusNotFound)
		return
	}

	granted := s.registry.Request(body.Username, limit)
	logger.Debug(r.Context(), "container request",
		"username", body.Username, "granted", granted)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(grantResponse{Granted: granted})
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	s.registry.Return(body.Username)
	logger.Debug(r.Context(), "container returned", "username", body.Username)
	w.WriteHeader(http.StatusNoContent)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("allocator listen on %s: %w", s.srv.Addr, err)
	}
	logger.Info(ctx, "resource allocator listening", "addr", s.srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
