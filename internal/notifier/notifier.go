// Package notifier delivers new PR and issue notices to watching chats.
package notifier

import (
	"context"
	"fmt"

	"github.com/user/nostrgit/internal/ingest"
	"github.com/user/nostrgit/internal/storage"
	"github.com/user/nostrgit/pkg/logger"
)

// Sender delivers a Markdown message to a chat.
type Sender interface {
	SendMarkdownMessage(chatID int64, text string) error
}

// Store is the part of the watch store the notifier needs.
type Store interface {
	WatchesByRepo(ctx context.Context, entity, repo string) ([]storage.Watch, error)
	IsNoticeDelivered(ctx context.Context, entity, repo, kind, eventID string) (bool, error)
	RecordNotice(ctx context.Context, entity, repo, kind, eventID string) error
}

// Notifier sends notices to the chats watching their repository.
type Notifier struct {
	sender Sender
	store  Store
}

// NewNotifier creates a new notifier instance.
func NewNotifier(sender Sender, store Store) *Notifier {
	return &Notifier{sender: sender, store: store}
}

// Run handles notices until ctx is done or the channel is closed.
func (n *Notifier) Run(ctx context.Context, notices <-chan ingest.Notice) {
	for {
		select {
		case <-ctx.Done():
			return
		case notice, ok := <-notices:
			if !ok {
				return
			}
			if err := n.Handle(ctx, notice); err != nil {
				logger.Error().Err(err).Str("repo", notice.Target.Key()).Msg("Failed to handle notice")
			}
		}
	}
}

// Handle delivers one notice. A notice is delivered at most once per
// repository, collection and entry id.
func (n *Notifier) Handle(ctx context.Context, notice ingest.Notice) error {
	entity, slug := notice.Target.Entity, notice.Target.Slug

	watches, err := n.store.WatchesByRepo(ctx, entity, slug)
	if err != nil {
		return fmt.Errorf("failed to get watches: %w", err)
	}
	if len(watches) == 0 {
		logger.Debug().Str("repo", notice.Target.Key()).Msg("No watchers for this repository")
		return nil
	}

	kind := notice.Collection()
	delivered, err := n.store.IsNoticeDelivered(ctx, entity, slug, kind, notice.Entry.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to check notice delivery status")
	}
	if delivered {
		logger.Debug().Str("event_id", notice.Entry.ID).Msg("Notice already delivered, skipping")
		return nil
	}

	message := notice.FormatMessage()
	for _, w := range watches {
		if err := n.sender.SendMarkdownMessage(w.ChatID, message); err != nil {
			logger.Error().
				Err(err).
				Int64("chat_id", w.ChatID).
				Msg("Failed to send notification")
		}
	}

	if err := n.store.RecordNotice(ctx, entity, slug, kind, notice.Entry.ID); err != nil {
		logger.Warn().Err(err).Msg("Failed to record notice")
	}
	return nil
}
