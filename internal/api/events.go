package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nbd-wtf/go-nostr"

	apperrors "github.com/user/nostrgit/internal/errors"
	"github.com/user/nostrgit/internal/github"
	"github.com/user/nostrgit/internal/ingest"
	"github.com/user/nostrgit/internal/migration"
	"github.com/user/nostrgit/internal/storage"
)

// postEvent feeds one signed event through the ingestion pipeline, the same
// way a relay delivery after end of stored events would.
// POST /v1/events
func (h *Handler) postEvent(w http.ResponseWriter, r *http.Request) {
	var ev nostr.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&ev); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid event JSON")
		return
	}
	if ev.GetID() != ev.ID {
		respondWithError(w, http.StatusBadRequest, "Event id does not match its content")
		return
	}
	if ok, err := ev.CheckSignature(); err != nil || !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid event signature")
		return
	}

	res, err := h.Pipeline.Ingest(r.Context(), ingest.Target{}, &ev, true)
	if err != nil {
		var parseErr *apperrors.EventParseError
		switch {
		case errors.As(err, &parseErr):
			respondWithError(w, http.StatusUnprocessableEntity, parseErr.Error())
		case errors.Is(err, ingest.ErrOutOfScope):
			respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.storageError(w, err, "Failed to ingest event")
		}
		return
	}

	h.log.Info().Str("event", ev.ID).Int("kind", ev.Kind).Bool("inserted", res.Inserted).Msg("Event accepted")
	respondWithJSON(w, http.StatusAccepted, res)
}

// runMigration runs the entity migration for the session.
// POST /v1/migrate
func (h *Handler) runMigration(w http.ResponseWriter, r *http.Request) {
	out, err := migration.NewRunner(h.Cache, h.Session).Run(r.Context())
	if err != nil {
		h.internalError(w, err, "Migration failed")
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

type importRequest struct {
	GitHub string `json:"github"`
}

// importRepo creates a local repository record from a GitHub repository.
// POST /v1/import
func (h *Handler) importRepo(w http.ResponseWriter, r *http.Request) {
	if h.Importer == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Import is disabled")
		return
	}
	if h.Session.PubkeyHex == "" {
		respondWithError(w, http.StatusBadRequest, "No session identity configured")
		return
	}

	var req importRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request JSON")
		return
	}
	owner, name, err := github.ParseFullName(req.GitHub)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.Importer.ImportRepository(r.Context(), owner, name, h.Session.PubkeyHex)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			respondWithError(w, http.StatusNotFound, "GitHub repository not found")
		case errors.Is(err, apperrors.ErrNetworkUnavailable):
			h.log.Warn().Err(err).Msg("GitHub unavailable")
			respondWithError(w, http.StatusBadGateway, "GitHub unavailable")
		default:
			h.internalError(w, err, "Import failed")
		}
		return
	}

	replaced, err := storage.PutRepository(r.Context(), h.Cache, rec)
	if err != nil {
		h.storageError(w, err, "Failed to store imported repository")
		return
	}

	status := http.StatusCreated
	if replaced {
		status = http.StatusOK
	}
	respondWithJSON(w, status, rec)
}
