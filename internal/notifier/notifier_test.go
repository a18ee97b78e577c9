package notifier

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/nostrgit/internal/ingest"
	"github.com/user/nostrgit/internal/storage"
)

type sent struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	fail int64
}

func (f *fakeSender) SendMarkdownMessage(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if chatID == f.fail {
		return errors.New("blocked by user")
	}
	f.sent = append(f.sent, sent{chatID, text})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newStore(t *testing.T) *storage.WatchStore {
	t.Helper()
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "notifier.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := storage.NewWatchStore(db)
	for _, id := range []int64{10, 20, 30, 40} {
		require.NoError(t, store.CreateOrUpdateChat(context.Background(), id, "private", ""))
	}
	return store
}

var notice = ingest.Notice{
	Target: ingest.Target{Entity: "npub1demo", Slug: "demo"},
	Kind:   ingest.KindPullRequest,
	Entry:  ingest.Entry{ID: "pr1", Number: 1, Title: "Add feature", Author: "abcd"},
}

func TestHandleDeliversOncePerWatcher(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Watch(ctx, 10, "npub1demo", "demo", ""))
	require.NoError(t, store.Watch(ctx, 20, "npub1demo", "demo", ""))
	require.NoError(t, store.Watch(ctx, 30, "npub1demo", "demo", ""))
	require.NoError(t, store.Watch(ctx, 40, "npub1other", "demo", ""))

	sender := &fakeSender{fail: 20}
	n := NewNotifier(sender, store)

	require.NoError(t, n.Handle(ctx, notice))
	require.NoError(t, n.Handle(ctx, notice))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, int64(10), sender.sent[0].chatID)
	assert.Equal(t, int64(30), sender.sent[1].chatID)
	assert.Contains(t, sender.sent[0].text, "*New PR #1*")

	delivered, err := store.IsNoticeDelivered(ctx, "npub1demo", "demo", "pulls", "pr1")
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestHandleWithoutWatchers(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	sender := &fakeSender{}

	require.NoError(t, NewNotifier(sender, store).Handle(ctx, notice))
	assert.Empty(t, sender.sent)

	delivered, err := store.IsNoticeDelivered(ctx, "npub1demo", "demo", "pulls", "pr1")
	require.NoError(t, err)
	assert.False(t, delivered)
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Watch(ctx, 10, "npub1demo", "demo", ""))
	sender := &fakeSender{}

	ch := make(chan ingest.Notice, 1)
	done := make(chan struct{})
	go func() {
		NewNotifier(sender, store).Run(ctx, ch)
		close(done)
	}()

	ch <- notice
	assert.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 10*time.Millisecond)
	close(ch)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
