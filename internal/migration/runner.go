package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/user/nostrgit/internal/errors"
	"github.com/user/nostrgit/internal/identity"
	"github.com/user/nostrgit/internal/repo"
	"github.com/user/nostrgit/internal/storage"
	"github.com/user/nostrgit/pkg/logger"
)

// Outcome reports what a Runner pass did.
type Outcome struct {
	// Skipped means the stored data was already migrated for this session.
	Skipped bool `json:"skipped"`
	// Completed is false when the corrected collection could not be
	// persisted; the stored data is untouched and the run can be retried.
	Completed bool `json:"completed"`
	Changed   bool `json:"changed"`
	OpenItems int  `json:"openItems"`
}

// marker is the value stored at the migration key.
type marker struct {
	Session     string `json:"session"`
	CompletedAt int64  `json:"completedAt"`
}

// Runner applies Migrate to the cached repository collection at most once
// per data fingerprint.
type Runner struct {
	cache       storage.Cache
	session     Session
	recognizers []Recognizer
}

// NewRunner creates a runner for a session.
func NewRunner(cache storage.Cache, session Session, recognizers ...Recognizer) *Runner {
	return &Runner{cache: cache, session: session, recognizers: recognizers}
}

// Run migrates the stored collection. A storage quota failure is not an
// error: Run returns Completed == false and leaves prior state in place.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	raw, err := storage.LoadRawRepositories(ctx, r.cache)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load repositories: %w", err)
	}

	fp, err := Fingerprint(raw, r.session)
	if err != nil {
		return Outcome{}, err
	}
	var m marker
	done, err := r.cache.Get(ctx, storage.MigrationKey(fp), &m)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read migration marker: %w", err)
	}
	if done {
		logger.Debug().Str("fingerprint", fp).Msg("Migration already applied")
		return Outcome{Skipped: true, Completed: true}, nil
	}

	res := Migrate(raw, r.session, r.recognizers...)
	for _, item := range res.OpenItems {
		logger.Warn().
			Str("entity", item.Entity).
			Str("repo", item.DisplayName()).
			Msg("Prefix entity without owner key left unmigrated")
	}

	out := Outcome{Completed: true, Changed: res.Changed, OpenItems: len(res.OpenItems)}
	if res.Changed {
		if err := storage.SaveRepositories(ctx, r.cache, res.Repositories); err != nil {
			if errors.Is(err, apperrors.ErrStorageQuotaExceeded) {
				logger.Warn().Err(err).Msg("Migration not persisted, will retry later")
				return Outcome{Changed: true, OpenItems: len(res.OpenItems)}, nil
			}
			return Outcome{}, fmt.Errorf("failed to save migrated repositories: %w", err)
		}
		logger.Info().Int("count", len(res.Repositories)).Msg("Migrated repository entities")
	}

	newFP, err := Fingerprint(res.Repositories, r.session)
	if err != nil {
		return Outcome{}, err
	}
	m = marker{Session: identity.Npub(r.session.PubkeyHex), CompletedAt: time.Now().UnixMilli()}
	if err := r.cache.Set(ctx, storage.MigrationKey(newFP), m); err != nil {
		logger.Warn().Err(err).Msg("Failed to record migration marker")
	}
	return out, nil
}

// Fingerprint hashes the session key and the serialized collection.
func Fingerprint(repos []repo.Repository, s Session) (string, error) {
	b, err := json.Marshal(repos)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint repositories: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(s.PubkeyHex))
	h.Write([]byte{'\n'})
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))[:32], nil
}
