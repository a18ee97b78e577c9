package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog"

	apperrors "github.com/user/nostrgit/internal/errors"
	"github.com/user/nostrgit/internal/identity"
	"github.com/user/nostrgit/internal/relay"
	"github.com/user/nostrgit/pkg/logger"
)

// State is the lifecycle state of one subscription.
type State int

const (
	StateSubscribing State = iota
	StateReceiving
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateReceiving:
		return "receiving"
	case StateSettled:
		return "settled"
	}
	return "unknown"
}

// Subscription tracks one open relay subscription. It starts Subscribing,
// moves to Receiving on the first event and to Settled at end of stored
// events. Events after that move it back to Receiving; there is no
// terminal state while it is open.
type Subscription struct {
	ID     string
	Target Target
	Owners []string

	mu       sync.Mutex
	state    State
	received int
	unsub    func()
}

// State returns the current state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Received returns the number of events delivered so far.
func (s *Subscription) Received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

func (s *Subscription) observeEvent() {
	s.mu.Lock()
	s.state = StateReceiving
	s.received++
	s.mu.Unlock()
}

func (s *Subscription) observeEOSE() {
	s.mu.Lock()
	s.state = StateSettled
	s.mu.Unlock()
}

// Subscriber opens relay subscriptions; *relay.Pool implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, filters nostr.Filters, urls []string, onEvent relay.EventFunc, onEOSE func()) (func(), error)
}

// Watcher keeps subscriptions open and feeds their events to a Pipeline.
type Watcher struct {
	pipeline  *Pipeline
	sub       Subscriber
	relays    []string
	repoKinds []int
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewWatcher creates a watcher. repoKinds are the announcement kinds
// requested for owner feeds.
func NewWatcher(p *Pipeline, sub Subscriber, relays []string, repoKinds []int) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	if len(repoKinds) == 0 {
		repoKinds = []int{KindRepository, KindRepositoryState}
	}
	return &Watcher{
		pipeline:  p,
		sub:       sub,
		relays:    relays,
		repoKinds: repoKinds,
		log:       logger.With("component", "watcher"),
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[string]*Subscription),
	}
}

// RepositoryFilters returns the filters of a per-repository feed.
func RepositoryFilters(target Target) nostr.Filters {
	tags := nostr.TagMap{"a": []string{target.Address()}}
	return nostr.Filters{
		{Kinds: []int{KindPatch, KindPullRequest, KindIssue}, Tags: tags},
		{Kinds: StatusKinds, Tags: tags},
	}
}

// WatchOwners subscribes to the repository announcements of owners (hex or
// npub) and returns the subscription id.
func (w *Watcher) WatchOwners(owners []string) (string, error) {
	var authors []string
	for _, o := range owners {
		h := identity.Resolve(o)
		if h == "" {
			return "", fmt.Errorf("owner %q: %w", o, apperrors.ErrInvalidIdentifier)
		}
		authors = append(authors, h)
	}
	if len(authors) == 0 {
		return "", fmt.Errorf("no owners: %w", apperrors.ErrInvalidIdentifier)
	}

	s := &Subscription{ID: uuid.NewString(), Owners: authors}
	filters := nostr.Filters{{Kinds: w.repoKinds, Authors: authors}}
	if _, err := w.open(s, filters); err != nil {
		return "", err
	}
	w.log.Info().Str("subscription", s.ID).Int("owners", len(authors)).Msg("Watching repository announcements")
	return s.ID, nil
}

// WatchRepository subscribes to the issues, pull requests and statuses of
// target. Watching a target twice returns the existing subscription id.
func (w *Watcher) WatchRepository(target Target) (string, error) {
	if target.Address() == "" {
		return "", fmt.Errorf("%s: owner key unknown: %w", target.Key(), apperrors.ErrInvalidIdentifier)
	}

	w.mu.Lock()
	id, ok := w.findRepository(target)
	w.mu.Unlock()
	if ok {
		return id, nil
	}

	s := &Subscription{ID: uuid.NewString(), Target: target}
	id, err := w.open(s, RepositoryFilters(target))
	if err != nil {
		return "", err
	}
	if id == s.ID {
		w.log.Info().Str("subscription", s.ID).Str("repo", target.Key()).Msg("Watching repository")
	}
	return id, nil
}

// findRepository returns the subscription watching target. Callers hold w.mu.
func (w *Watcher) findRepository(target Target) (string, bool) {
	for id, s := range w.subs {
		if s.Target.Slug != "" && s.Target.Key() == target.Key() {
			return id, true
		}
	}
	return "", false
}

// open subscribes and registers s, returning the id now serving it. A
// repository subscription that lost a race with a concurrent watch of the
// same target is closed and the winner's id returned.
func (w *Watcher) open(s *Subscription, filters nostr.Filters) (string, error) {
	onEvent := func(ev *nostr.Event, afterEOSE bool, relayURL string) {
		s.observeEvent()
		w.handle(s, ev, afterEOSE, relayURL)
	}
	unsub, err := w.sub.Subscribe(w.ctx, filters, w.relays, onEvent, s.observeEOSE)
	if err != nil {
		return "", fmt.Errorf("failed to subscribe: %w", err)
	}

	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()

	w.mu.Lock()
	if s.Target.Slug != "" {
		if id, ok := w.findRepository(s.Target); ok {
			w.mu.Unlock()
			unsub()
			return id, nil
		}
	}
	w.subs[s.ID] = s
	w.mu.Unlock()
	return s.ID, nil
}

// handle ingests one event. Failures are isolated to that event.
func (w *Watcher) handle(s *Subscription, ev *nostr.Event, afterEOSE bool, relayURL string) {
	_, err := w.pipeline.Ingest(w.ctx, s.Target, ev, afterEOSE)
	if err == nil {
		return
	}

	var parseErr *apperrors.EventParseError
	switch {
	case errors.As(err, &parseErr), errors.Is(err, ErrOutOfScope):
		w.log.Debug().Err(err).Str("relay", relayURL).Msg("Skipping event")
	default:
		w.log.Error().Err(err).Str("relay", relayURL).Str("event", ev.ID).Msg("Failed to ingest event")
	}
}

// Unwatch closes a subscription and reports whether it existed.
func (w *Watcher) Unwatch(id string) bool {
	w.mu.Lock()
	s, ok := w.subs[id]
	delete(w.subs, id)
	w.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	unsub := s.unsub
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	return true
}

// Subscriptions returns the open subscriptions ordered by id.
func (w *Watcher) Subscriptions() []*Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]*Subscription, 0, len(w.subs))
	for _, s := range w.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop closes every subscription.
func (w *Watcher) Stop() {
	logger.Info().Msg("Stopping watcher")
	w.cancel()
	for _, s := range w.Subscriptions() {
		w.Unwatch(s.ID)
	}
}
