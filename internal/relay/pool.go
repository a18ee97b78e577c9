// Package relay connects to Nostr relays and fans their subscription feeds
// into a single ordered callback.
package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/user/nostrgit/internal/errors"
	"github.com/user/nostrgit/pkg/logger"
)

// EventFunc receives every event delivered by any relay. afterEOSE is true
// once the delivering relay has finished sending stored events.
type EventFunc func(ev *nostr.Event, afterEOSE bool, relayURL string)

// Feed is one open subscription on one relay.
type Feed struct {
	Events <-chan *nostr.Event
	EOSE   <-chan struct{}
	Unsub  func()
}

// Conn is a connected relay.
type Conn interface {
	URL() string
	Subscribe(ctx context.Context, filters nostr.Filters) (*Feed, error)
	Close() error
}

// Dialer opens a relay connection.
type Dialer func(ctx context.Context, url string) (Conn, error)

// Pool opens subscriptions across a set of relays.
type Pool struct {
	dial        Dialer
	dialTimeout time.Duration
}

// Option configures a Pool.
type Option func(*Pool)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(p *Pool) {
		p.dial = d
	}
}

// WithDialTimeout bounds each relay connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(p *Pool) {
		p.dialTimeout = d
	}
}

// NewPool creates a pool that dials relays over websockets.
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		dial:        DialRelay,
		dialTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type delivery struct {
	ev    *nostr.Event
	after bool
	url   string
	eose  bool
}

// Subscribe opens filters on every reachable relay in urls. onEvent is
// called from a single goroutine, in arrival order. onEOSE, if set, is called
// once every connected relay has sent its end-of-stored-events marker.
// The returned function closes the subscription and waits for delivery to
// stop; it is safe to call more than once.
//
// Subscribe fails with ErrNetworkUnavailable only when no relay could be
// reached.
func (p *Pool) Subscribe(ctx context.Context, filters nostr.Filters, urls []string, onEvent EventFunc, onEOSE func()) (func(), error) {
	conns := p.connect(ctx, urls)
	if len(conns) == 0 {
		return nil, &apperrors.NetworkError{
			Target: strings.Join(urls, ","),
			Err:    fmt.Errorf("no relay reachable"),
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan delivery, 64)

	var feeds []*Feed
	var readers sync.WaitGroup
	for _, c := range conns {
		feed, err := c.Subscribe(subCtx, filters)
		if err != nil {
			logger.Warn().Err(err).Str("relay", c.URL()).Msg("Failed to subscribe")
			continue
		}
		feeds = append(feeds, feed)
		readers.Add(1)
		go read(subCtx, c.URL(), feed, out, &readers)
	}

	if len(feeds) == 0 {
		cancel()
		closeAll(conns)
		return nil, &apperrors.NetworkError{
			Target: strings.Join(urls, ","),
			Err:    fmt.Errorf("no relay accepted the subscription"),
		}
	}

	go func() {
		readers.Wait()
		close(out)
	}()

	done := make(chan struct{})
	go dispatch(out, len(feeds), onEvent, onEOSE, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			for _, f := range feeds {
				if f.Unsub != nil {
					f.Unsub()
				}
			}
			<-done
			closeAll(conns)
		})
	}, nil
}

// connect dials every url concurrently and returns the connections that
// succeeded.
func (p *Pool) connect(ctx context.Context, urls []string) []Conn {
	var mu sync.Mutex
	var conns []Conn

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, url := range urls {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, p.dialTimeout)
			defer cancel()

			c, err := p.dial(dctx, url)
			if err != nil {
				logger.Warn().Err(err).Str("relay", url).Msg("Failed to connect to relay")
				return nil
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return conns
}

func read(ctx context.Context, url string, feed *Feed, out chan<- delivery, wg *sync.WaitGroup) {
	defer wg.Done()

	eose := feed.EOSE
	after := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-eose:
			eose = nil
			after = true
			select {
			case out <- delivery{url: url, eose: true}:
			case <-ctx.Done():
				return
			}
		case ev, ok := <-feed.Events:
			if !ok {
				return
			}
			select {
			case out <- delivery{ev: ev, after: after, url: url}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func dispatch(in <-chan delivery, pending int, onEvent EventFunc, onEOSE func(), done chan<- struct{}) {
	defer close(done)
	for d := range in {
		if d.eose {
			pending--
			if pending == 0 && onEOSE != nil {
				onEOSE()
			}
			continue
		}
		onEvent(d.ev, d.after, d.url)
	}
}

func closeAll(conns []Conn) {
	for _, c := range conns {
		if err := c.Close(); err != nil {
			logger.Debug().Err(err).Str("relay", c.URL()).Msg("Failed to close relay")
		}
	}
}

// wsConn adapts a go-nostr relay to Conn.
type wsConn struct {
	relay *nostr.Relay
}

// DialRelay connects to a relay over a websocket.
func DialRelay(ctx context.Context, url string) (Conn, error) {
	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, &apperrors.NetworkError{Target: url, Err: err}
	}
	return &wsConn{relay: r}, nil
}

func (c *wsConn) URL() string {
	return c.relay.URL
}

func (c *wsConn) Subscribe(ctx context.Context, filters nostr.Filters) (*Feed, error) {
	sub, err := c.relay.Subscribe(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe on %s: %w", c.relay.URL, err)
	}
	return &Feed{
		Events: sub.Events,
		EOSE:   sub.EndOfStoredEvents,
		Unsub:  sub.Unsub,
	}, nil
}

func (c *wsConn) Close() error {
	return c.relay.Close()
}
