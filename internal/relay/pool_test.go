package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/user/nostrgit/internal/errors"
)

type fakeConn struct {
	url    string
	events chan *nostr.Event
	eose   chan struct{}

	mu      sync.Mutex
	filters nostr.Filters
	closed  bool
}

func newFakeConn(url string) *fakeConn {
	return &fakeConn{url: url, events: make(chan *nostr.Event, 8), eose: make(chan struct{})}
}

func (c *fakeConn) URL() string { return c.url }

func (c *fakeConn) Subscribe(_ context.Context, filters nostr.Filters) (*Feed, error) {
	c.mu.Lock()
	c.filters = filters
	c.mu.Unlock()
	return &Feed{Events: c.events, EOSE: c.eose, Unsub: func() {}}, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func dialerFor(conns map[string]*fakeConn) Dialer {
	return func(_ context.Context, url string) (Conn, error) {
		c, ok := conns[url]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return c, nil
	}
}

type recorder struct {
	mu     sync.Mutex
	events []string
	after  []bool
	eose   int
}

func (r *recorder) onEvent(ev *nostr.Event, after bool, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.ID)
	r.after = append(r.after, after)
}

func (r *recorder) onEOSE() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eose++
}

func (r *recorder) snapshot() ([]string, []bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]bool(nil), r.after...), r.eose
}

func TestPoolDeliversAndSignalsEOSE(t *testing.T) {
	a, b := newFakeConn("wss://a"), newFakeConn("wss://b")
	pool := NewPool(WithDialer(dialerFor(map[string]*fakeConn{"wss://a": a, "wss://b": b})))

	rec := &recorder{}
	filters := nostr.Filters{{Kinds: []int{1618}}}
	unsub, err := pool.Subscribe(context.Background(), filters, []string{"wss://a", "wss://b", "wss://down"}, rec.onEvent, rec.onEOSE)
	require.NoError(t, err)

	a.events <- &nostr.Event{ID: "stored"}
	require.Eventually(t, func() bool {
		ids, _, _ := rec.snapshot()
		return len(ids) == 1
	}, time.Second, 5*time.Millisecond)
	close(a.eose)
	close(b.eose)

	require.Eventually(t, func() bool {
		_, _, eose := rec.snapshot()
		return eose == 1
	}, time.Second, 5*time.Millisecond)

	b.events <- &nostr.Event{ID: "live"}
	require.Eventually(t, func() bool {
		ids, _, _ := rec.snapshot()
		return len(ids) == 2
	}, time.Second, 5*time.Millisecond)

	unsub()
	unsub()

	ids, after, eose := rec.snapshot()
	assert.Equal(t, []string{"stored", "live"}, ids)
	assert.Equal(t, []bool{false, true}, after)
	assert.Equal(t, 1, eose)
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Equal(t, filters, a.filters)
}

func TestPoolNoRelayReachable(t *testing.T) {
	pool := NewPool(WithDialer(dialerFor(nil)))
	_, err := pool.Subscribe(context.Background(), nil, []string{"wss://down"}, func(*nostr.Event, bool, string) {}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNetworkUnavailable)
}
