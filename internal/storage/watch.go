package storage

import (
	"context"
	"database/sql"
	"errors"
)

// ErrWatchNotFound is returned when removing a watch that does not exist.
var ErrWatchNotFound = errors.New("watch not found")

// WatchStore handles chat and watch related database operations.
type WatchStore struct {
	db *Database
}

// NewWatchStore creates a new watch store.
func NewWatchStore(db *Database) *WatchStore {
	return &WatchStore{db: db}
}

// CreateOrUpdateChat creates or updates a chat record.
func (s *WatchStore) CreateOrUpdateChat(ctx context.Context, chatID int64, chatType, title string) error {
	query := `
		INSERT INTO chats (chat_id, chat_type, title)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			chat_type = excluded.chat_type,
			title = excluded.title
	`
	_, err := s.db.ExecContext(ctx, query, chatID, chatType, title)
	return err
}

// Watch registers a chat's interest in (entity, repo). ownerPubkey is the
// resolved hex owner, or "" when it is not known yet.
func (s *WatchStore) Watch(ctx context.Context, chatID int64, entity, repo, ownerPubkey string) error {
	query := `
		INSERT INTO watches (chat_id, entity, repo, owner_pubkey)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id, entity, repo) DO UPDATE SET
			owner_pubkey = excluded.owner_pubkey
	`
	_, err := s.db.ExecContext(ctx, query, chatID, entity, repo, ownerPubkey)
	return err
}

// Unwatch removes a watch.
func (s *WatchStore) Unwatch(ctx context.Context, chatID int64, entity, repo string) error {
	query := `DELETE FROM watches WHERE chat_id = ? AND entity = ? AND repo = ?`
	result, err := s.db.ExecContext(ctx, query, chatID, entity, repo)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrWatchNotFound
	}
	return nil
}

// WatchesByChat returns all watches of a chat.
func (s *WatchStore) WatchesByChat(ctx context.Context, chatID int64) ([]Watch, error) {
	var watches []Watch
	query := `SELECT * FROM watches WHERE chat_id = ? ORDER BY created_at DESC, id DESC`
	err := s.db.SelectContext(ctx, &watches, query, chatID)
	return watches, err
}

// WatchesByRepo returns all watches of a repository.
func (s *WatchStore) WatchesByRepo(ctx context.Context, entity, repo string) ([]Watch, error) {
	var watches []Watch
	query := `SELECT * FROM watches WHERE entity = ? AND repo = ? ORDER BY id`
	err := s.db.SelectContext(ctx, &watches, query, entity, repo)
	return watches, err
}

// GetWatch returns a specific watch, or nil.
func (s *WatchStore) GetWatch(ctx context.Context, chatID int64, entity, repo string) (*Watch, error) {
	var w Watch
	query := `SELECT * FROM watches WHERE chat_id = ? AND entity = ? AND repo = ?`
	err := s.db.GetContext(ctx, &w, query, chatID, entity, repo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// AllWatchedRepos returns every distinct watched repository.
func (s *WatchStore) AllWatchedRepos(ctx context.Context) ([]WatchedRepo, error) {
	var repos []WatchedRepo
	query := `SELECT entity, repo, MAX(owner_pubkey) AS owner_pubkey FROM watches GROUP BY entity, repo`
	err := s.db.SelectContext(ctx, &repos, query)
	return repos, err
}

// RecordNotice records a delivered notification for deduplication.
func (s *WatchStore) RecordNotice(ctx context.Context, entity, repo, kind, eventID string) error {
	query := `
		INSERT OR IGNORE INTO delivered_notices (entity, repo, kind, event_id)
		VALUES (?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, entity, repo, kind, eventID)
	return err
}

// IsNoticeDelivered checks whether a notification was already delivered.
func (s *WatchStore) IsNoticeDelivered(ctx context.Context, entity, repo, kind, eventID string) (bool, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM delivered_notices
		WHERE entity = ? AND repo = ? AND kind = ? AND event_id = ?
	`
	err := s.db.GetContext(ctx, &count, query, entity, repo, kind, eventID)
	return count > 0, err
}

// CleanupOldNotices removes old notice records to prevent database bloat.
func (s *WatchStore) CleanupOldNotices(ctx context.Context, daysToKeep int) (int64, error) {
	query := `DELETE FROM delivered_notices WHERE created_at < datetime('now', '-' || ? || ' days')`
	result, err := s.db.ExecContext(ctx, query, daysToKeep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
