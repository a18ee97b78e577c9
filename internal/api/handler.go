// Package api exposes the reconciled repository views over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/user/nostrgit/internal/ingest"
	"github.com/user/nostrgit/internal/migration"
	"github.com/user/nostrgit/internal/reconcile"
	"github.com/user/nostrgit/internal/remote"
	"github.com/user/nostrgit/internal/repo"
	"github.com/user/nostrgit/internal/storage"
	"github.com/user/nostrgit/pkg/logger"
)

// maxEventBytes bounds the body of POST /v1/events.
const maxEventBytes = 1 << 20

// Importer builds local repository records from an external host.
type Importer interface {
	ImportRepository(ctx context.Context, owner, name, ownerHex string) (repo.Repository, error)
}

// Deps are the collaborators of the API.
type Deps struct {
	Cache      storage.Cache
	Pipeline   *ingest.Pipeline
	Reconciler *reconcile.Reconciler
	Session    migration.Session
	Hosts      remote.Hosts
	// Importer is optional; POST /v1/import answers 503 without it.
	Importer Importer
}

// Handler is the container for API dependencies.
type Handler struct {
	Deps
	log zerolog.Logger
	now func() time.Time
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(d Deps) http.Handler {
	if d.Reconciler == nil {
		d.Reconciler = reconcile.New()
	}
	h := &Handler{Deps: d, log: logger.With("component", "api"), now: time.Now}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/repos", h.listRepos)
		r.Route("/repos/{entity}/{repo}", func(r chi.Router) {
			r.Get("/", h.getRepo)
			r.Delete("/", h.deleteRepo)
			r.Post("/restore", h.restoreRepo)
			r.Get("/remotes", h.getRemotes)
			r.Get("/issues", h.listEntries(storage.KindIssues))
			r.Get("/pulls", h.listEntries(storage.KindPulls))
		})
		r.Post("/migrate", h.runMigration)
		r.Post("/events", h.postEvent)
		r.Post("/import", h.importRepo)
	})

	return r
}

// requestLogger logs every request through zerolog.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
