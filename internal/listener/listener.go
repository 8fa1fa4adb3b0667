// Package listener receives upstream push webhooks and persists them as
// builds for the coordinator to pick up. It also exposes liveness and
// Prometheus metrics.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeus-ci/zeus/internal/logger"
	"github.com/zeus-ci/zeus/internal/metrics"
	"github.com/zeus-ci/zeus/internal/models"
	"github.com/zeus-ci/zeus/internal/persistence"
	"github.com/zeus-ci/zeus/internal/reporter"
)

// Server is the webhook HTTP server.
type Server struct {
	store       *persistence.Store
	newReporter reporter.Factory
	srv         *http.Server
}

// New builds a Server bound to addr (host:port).
func New(addr string, store *persistence.Store, factory reporter.Factory) *Server {
	s := &Server{
		store:       store,
		newReporter: factory,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes assembles the HTTP surface: the webhook endpoint, liveness and
// metrics.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/github-webhook/", s.handlePush)
	return r
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var payload models.PushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	// tag-creation events and anything without a ref are acknowledged and
	// dropped; the push event for the tag carries the ref
	if payload.Ref == "" || payload.RefType == "tag" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if payload.Repository.FullName == "" || payload.Sender.Login == "" {
		http.Error(w, "incomplete payload", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	logger.Debug(ctx, "received push event",
		"repo", payload.Repository.FullName, "ref", payload.Ref)

	user, err := s.store.EnsureUser(ctx, payload.Sender.Login)
	if err != nil {
		logger.Error(ctx, "cannot ensure user", "username", payload.Sender.Login, "err", err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	repo, err := s.store.EnsureRepo(ctx, payload.Repository.FullName, user.Username, "github")
	if err != nil {
		logger.Error(ctx, "cannot ensure repo", "repo", payload.Repository.FullName, "err", err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}

	build := models.Build{
		RepoName: repo.Name,
		Ref:      payload.Ref,
		Commit:   payload.After,
		Payload:  json.RawMessage(body),
		Status:   models.StatusCreated,
	}
	if err := s.store.CreateBuild(ctx, &build); err != nil {
		logger.Error(ctx, "cannot create build", "repo", repo.Name, "err", err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	metrics.BuildsReceived.Inc()
	logger.Info(ctx, "build created",
		"build", build.ID, "repo", repo.Name, "ref", build.Ref, "commit", build.Commit)

	// statuses are reported as the repo owner, who may not be the sender
	token := user.Token
	if repo.Username != user.Username {
		owner, err := s.store.GetUser(ctx, repo.Username)
		if err != nil {
			logger.Warn(ctx, "cannot load repo owner", "username", repo.Username, "err", err)
		}
		token = owner.Token
	}
	rep := s.newReporter(token)
	if err := rep.UpdateStatus(ctx, build, reporter.StatePending); err != nil {
		logger.Warn(ctx, "status report failed", "build", build.ID, "err", err)
	}

	w.WriteHeader(http.StatusOK)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listener bind %s: %w", s.srv.Addr, err)
	}
	logger.Info(ctx, "webhook listener serving", "addr", s.srv.Addr)

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
