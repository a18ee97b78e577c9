package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/user/nostrgit/internal/errors"
	"github.com/user/nostrgit/internal/identity"
	"github.com/user/nostrgit/internal/ingest"
	"github.com/user/nostrgit/internal/remote"
	"github.com/user/nostrgit/internal/repo"
	"github.com/user/nostrgit/internal/storage"
)

// listRepos returns the reconciled repository list of one owner.
// GET /v1/repos?owner=<npub|hex>
func (h *Handler) listRepos(w http.ResponseWriter, r *http.Request) {
	ownerHex := h.Session.PubkeyHex
	if q := r.URL.Query().Get("owner"); q != "" {
		ownerHex = identity.Resolve(q)
	}
	if ownerHex == "" {
		respondWithError(w, http.StatusBadRequest, "Invalid or missing 'owner' parameter")
		return
	}

	raw, err := storage.LoadRawRepositories(r.Context(), h.Cache)
	if err != nil {
		h.internalError(w, err, "Failed to load repositories")
		return
	}
	tombstones, err := storage.LoadTombstones(r.Context(), h.Cache)
	if err != nil {
		h.internalError(w, err, "Failed to load tombstones")
		return
	}

	respondWithJSON(w, http.StatusOK, h.Reconciler.Reconcile(raw, ownerHex, tombstones))
}

// getRepo resolves one repository through the finder.
// GET /v1/repos/{entity}/{repo}
func (h *Handler) getRepo(w http.ResponseWriter, r *http.Request) {
	found, ok := h.find(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, found)
}

// getRemotes returns the clone URLs of one repository.
// GET /v1/repos/{entity}/{repo}/remotes
func (h *Handler) getRemotes(w http.ResponseWriter, r *http.Request) {
	found, ok := h.find(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, remote.Resolve(found, h.Hosts))
}

// deleteRepo tombstones a repository so every list view suppresses it.
// DELETE /v1/repos/{entity}/{repo}
func (h *Handler) deleteRepo(w http.ResponseWriter, r *http.Request) {
	entity, name := chi.URLParam(r, "entity"), chi.URLParam(r, "repo")

	t := repo.Tombstone{Entity: entity, Repo: name, OwnerPubkey: identity.Resolve(entity), DeletedAt: h.now().UnixMilli()}
	repos, err := storage.LoadRepositories(r.Context(), h.Cache)
	if err != nil {
		h.internalError(w, err, "Failed to load repositories")
		return
	}
	if found, ok := repo.Find(repos, entity, name); ok && found.OwnerHex() != "" {
		t.OwnerPubkey = found.OwnerHex()
	}

	if err := storage.AddTombstone(r.Context(), h.Cache, t); err != nil {
		h.storageError(w, err, "Failed to store tombstone")
		return
	}
	respondWithJSON(w, http.StatusOK, t)
}

// restoreRepo clears the tombstones of a repository.
// POST /v1/repos/{entity}/{repo}/restore
func (h *Handler) restoreRepo(w http.ResponseWriter, r *http.Request) {
	removed, err := storage.RemoveTombstone(r.Context(), h.Cache, chi.URLParam(r, "entity"), chi.URLParam(r, "repo"))
	if err != nil {
		h.storageError(w, err, "Failed to remove tombstone")
		return
	}
	if !removed {
		respondWithError(w, http.StatusNotFound, "Repository is not deleted")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listEntries returns the issue or pull request projection of a repository.
// GET /v1/repos/{entity}/{repo}/issues?status=&author=&q=
func (h *Handler) listEntries(kind storage.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := ingest.ViewOptions{Author: identity.Resolve(q.Get("author")), Query: q.Get("q")}
		if s := q.Get("status"); s != "" {
			opts.Status = ingest.ParseStatus(s)
			if opts.Status == "" {
				respondWithError(w, http.StatusBadRequest, "Invalid 'status' parameter")
				return
			}
		}
		if q.Get("author") != "" && opts.Author == "" {
			respondWithError(w, http.StatusBadRequest, "Invalid 'author' parameter")
			return
		}

		target, err := h.Pipeline.ResolveTarget(r.Context(), chi.URLParam(r, "entity"), chi.URLParam(r, "repo"))
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				respondWithError(w, http.StatusNotFound, "Repository not found")
				return
			}
			h.internalError(w, err, "Failed to resolve repository")
			return
		}

		entries, err := h.Pipeline.Entries(r.Context(), target, kind, opts)
		if err != nil {
			h.internalError(w, err, "Failed to load entries")
			return
		}
		respondWithJSON(w, http.StatusOK, entries)
	}
}

// find resolves the {entity}/{repo} route parameters. Tombstoned
// repositories are reported as not found.
func (h *Handler) find(w http.ResponseWriter, r *http.Request) (repo.Repository, bool) {
	repos, err := storage.LoadRepositories(r.Context(), h.Cache)
	if err != nil {
		h.internalError(w, err, "Failed to load repositories")
		return repo.Repository{}, false
	}
	found, ok := repo.Find(repos, chi.URLParam(r, "entity"), chi.URLParam(r, "repo"))
	if !ok {
		respondWithError(w, http.StatusNotFound, "Repository not found")
		return repo.Repository{}, false
	}

	tombstones, err := storage.LoadTombstones(r.Context(), h.Cache)
	if err != nil {
		h.internalError(w, err, "Failed to load tombstones")
		return repo.Repository{}, false
	}
	if repo.Tombstoned(tombstones, found) {
		respondWithError(w, http.StatusNotFound, "Repository was deleted")
		return repo.Repository{}, false
	}
	return found, true
}

func (h *Handler) internalError(w http.ResponseWriter, err error, msg string) {
	h.log.Error().Err(err).Msg(msg)
	respondWithError(w, http.StatusInternalServerError, "Internal server error")
}

func (h *Handler) storageError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, apperrors.ErrStorageQuotaExceeded) {
		h.log.Warn().Err(err).Msg(msg)
		respondWithError(w, http.StatusInsufficientStorage, "Storage quota exceeded")
		return
	}
	h.internalError(w, err, msg)
}
