package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/user/nostrgit/internal/errors"
	"github.com/user/nostrgit/internal/relay"
)

type fakeFeed struct {
	filters nostr.Filters
	onEvent relay.EventFunc
	onEOSE  func()
	closed  bool
}

type fakeSubscriber struct {
	mu    sync.Mutex
	feeds []*fakeFeed
	err   error
	// hold, when set, blocks Subscribe until closed.
	hold chan struct{}
}

func (f *fakeSubscriber) Subscribe(_ context.Context, filters nostr.Filters, _ []string, onEvent relay.EventFunc, onEOSE func()) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	feed := &fakeFeed{filters: filters, onEvent: onEvent, onEOSE: onEOSE}
	f.mu.Lock()
	f.feeds = append(f.feeds, feed)
	f.mu.Unlock()
	if f.hold != nil {
		<-f.hold
	}
	return func() { feed.closed = true }, nil
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.feeds)
}

func TestWatcherRepositoryLifecycle(t *testing.T) {
	c := newCache(t)
	sub := &fakeSubscriber{}
	w := NewWatcher(NewPipeline(c), sub, []string{"wss://relay.example"}, nil)
	defer w.Stop()

	id, err := w.WatchRepository(demoTarget)
	require.NoError(t, err)

	again, err := w.WatchRepository(demoTarget)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	require.Len(t, sub.feeds, 1)

	feed := sub.feeds[0]
	assert.Equal(t, []string{demoAddr}, feed.filters[0].Tags["a"])
	assert.Equal(t, StatusKinds, feed.filters[1].Kinds)

	s := w.Subscriptions()[0]
	assert.Equal(t, StateSubscribing, s.State())

	feed.onEvent(prEvent("a", "A", 100), false, "wss://relay.example")
	assert.Equal(t, StateReceiving, s.State())

	feed.onEvent(&nostr.Event{ID: "junk", Kind: 9999}, false, "wss://relay.example")
	feed.onEOSE()
	assert.Equal(t, StateSettled, s.State())

	feed.onEvent(prEvent("b", "B", 200), true, "wss://relay.example")
	assert.Equal(t, StateReceiving, s.State())
	assert.Equal(t, 3, s.Received())

	assert.Len(t, snap(t, c, demoTarget).Pulls, 2)

	assert.True(t, w.Unwatch(id))
	assert.False(t, w.Unwatch(id))
	assert.True(t, feed.closed)
	assert.Empty(t, w.Subscriptions())
}

func TestWatcherOwners(t *testing.T) {
	sub := &fakeSubscriber{}
	w := NewWatcher(NewPipeline(newCache(t)), sub, nil, []int{KindRepository})
	defer w.Stop()

	_, err := w.WatchOwners([]string{"not-a-key"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidIdentifier)

	_, err = w.WatchOwners([]string{ownerHex})
	require.NoError(t, err)
	require.Len(t, sub.feeds, 1)
	assert.Equal(t, []string{ownerHex}, sub.feeds[0].filters[0].Authors)
	assert.Equal(t, []int{KindRepository}, sub.feeds[0].filters[0].Kinds)
}

func TestWatcherRejectsUnknownOwner(t *testing.T) {
	w := NewWatcher(NewPipeline(newCache(t)), &fakeSubscriber{}, nil, nil)
	defer w.Stop()

	_, err := w.WatchRepository(Target{Entity: "someone", Slug: "demo"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidIdentifier)
}

func TestWatcherSubscribeFailure(t *testing.T) {
	sub := &fakeSubscriber{err: &apperrors.NetworkError{Target: "wss://down", Err: context.DeadlineExceeded}}
	w := NewWatcher(NewPipeline(newCache(t)), sub, nil, nil)
	defer w.Stop()

	_, err := w.WatchRepository(demoTarget)
	assert.ErrorIs(t, err, apperrors.ErrNetworkUnavailable)
	assert.Empty(t, w.Subscriptions())
}

func TestWatcherConcurrentWatchSharesSubscription(t *testing.T) {
	sub := &fakeSubscriber{hold: make(chan struct{})}
	w := NewWatcher(NewPipeline(newCache(t)), sub, nil, nil)
	defer w.Stop()

	byHex := NewTarget(ownerHex, "demo", "")
	ids := make([]string, 2)
	var wg sync.WaitGroup
	for i, target := range []Target{demoTarget, byHex} {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			id, err := w.WatchRepository(target)
			assert.NoError(t, err)
			ids[i] = id
		}(i, target)
	}

	require.Eventually(t, func() bool { return sub.count() == 2 }, time.Second, time.Millisecond)
	close(sub.hold)
	wg.Wait()

	assert.Equal(t, ids[0], ids[1])
	require.Len(t, w.Subscriptions(), 1)
	closed := 0
	for _, feed := range sub.feeds {
		if feed.closed {
			closed++
		}
	}
	assert.Equal(t, 1, closed)
}
