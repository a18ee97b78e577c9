package storage

import "time"

// Watch is a chat's interest in one repository's PRs and issues.
type Watch struct {
	ID          int64     `db:"id"`
	ChatID      int64     `db:"chat_id"`
	Entity      string    `db:"entity"`
	Repo        string    `db:"repo"`
	OwnerPubkey string    `db:"owner_pubkey"`
	CreatedAt   time.Time `db:"created_at"`
}

// DeliveredNotice records a notification already pushed, for deduplication.
type DeliveredNotice struct {
	ID        int64     `db:"id"`
	Entity    string    `db:"entity"`
	Repo      string    `db:"repo"`
	Kind      string    `db:"kind"`
	EventID   string    `db:"event_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Chat represents a Telegram chat (user or group).
type Chat struct {
	ID        int64     `db:"id"`
	ChatID    int64     `db:"chat_id"`
	ChatType  string    `db:"chat_type"` // private, group, supergroup, channel
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
}

// WatchedRepo is one distinct watched repository.
type WatchedRepo struct {
	Entity      string `db:"entity"`
	Repo        string `db:"repo"`
	OwnerPubkey string `db:"owner_pubkey"`
}
