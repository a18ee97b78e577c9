package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	apperrors "github.com/user/nostrgit/internal/errors"
	"github.com/user/nostrgit/internal/identity"
	"github.com/user/nostrgit/internal/repo"
	"github.com/user/nostrgit/internal/storage"
	"github.com/user/nostrgit/pkg/logger"
)

// ErrOutOfScope means an event does not belong to the subscribed repository.
var ErrOutOfScope = errors.New("event does not belong to repository")

// Result describes what one Ingest call changed.
type Result struct {
	Kind     int    `json:"kind"`
	EntryID  string `json:"entryId"`
	Inserted bool   `json:"inserted"`
	// Pending is set for a status event whose target has not arrived yet.
	Pending bool `json:"pending"`
}

// Pipeline folds parsed events into the cache. Every read-modify-write of a
// cache key happens under one lock.
type Pipeline struct {
	cache   storage.Cache
	strict  bool
	notices chan<- Notice

	mu sync.Mutex
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithStrictRecency makes upserts ignore updates older than the stored entry.
func WithStrictRecency(strict bool) PipelineOption {
	return func(p *Pipeline) {
		p.strict = strict
	}
}

// WithNotices sends a Notice for every entry inserted after the end of
// stored events. Sends never block; a full channel drops the notice.
func WithNotices(ch chan<- Notice) PipelineOption {
	return func(p *Pipeline) {
		p.notices = ch
	}
}

// NewPipeline creates an ingestion pipeline over cache.
func NewPipeline(cache storage.Cache, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{cache: cache}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest parses ev and applies it. Repository announcements and state
// events are global; other kinds are scoped to target, which is derived
// from the event's address tag when zero.
//
// A malformed event yields an *EventParseError and an event for another
// repository yields ErrOutOfScope; in both cases nothing is written.
func (p *Pipeline) Ingest(ctx context.Context, target Target, ev *nostr.Event, afterEOSE bool) (Result, error) {
	parsed, err := Parse(ev)
	if err != nil {
		return Result{}, err
	}
	meta := parsed.EventMeta()
	res := Result{Kind: meta.Kind, EntryID: meta.ID}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := parsed.(type) {
	case RepositoryEvent:
		return res, p.applyAnnouncement(ctx, e)
	case RepositoryStateEvent:
		return res, p.applyState(ctx, e)
	}

	if target.Slug == "" {
		target, err = p.targetFromTags(ctx, meta.Tags)
		if err != nil {
			return res, err
		}
	}
	if !target.Accepts(meta.Tags) {
		return res, fmt.Errorf("%w: %s", ErrOutOfScope, target.Key())
	}

	switch e := parsed.(type) {
	case PullRequestEvent:
		res.Inserted, err = p.upsertEntry(ctx, target, storage.KindPulls, entryFromPullRequest(e))
	case IssueEvent:
		res.Inserted, err = p.upsertEntry(ctx, target, storage.KindIssues, entryFromIssue(e))
	case StatusEvent:
		res.EntryID = e.Target
		res.Pending, err = p.applyStatusEvent(ctx, target, e)
	}
	if err != nil {
		return res, err
	}

	if res.Inserted && afterEOSE {
		p.notify(ctx, target, meta.Kind, res.EntryID)
	}
	return res, nil
}

// targetFromTags resolves the repository an unscoped event addresses,
// preferring the entity of a cached record for that owner and slug.
func (p *Pipeline) targetFromTags(ctx context.Context, tags Tags) (Target, error) {
	addr, ok := tags.RepositoryAddress()
	if !ok {
		return Target{}, &apperrors.EventParseError{Reason: "no repository address tag"}
	}
	if !identity.IsFullHex(addr.Owner) {
		return Target{}, &apperrors.EventParseError{Reason: "malformed repository address", Err: apperrors.ErrInvalidIdentifier}
	}

	repos, err := storage.LoadRepositories(ctx, p.cache)
	if err != nil {
		return Target{}, fmt.Errorf("failed to load repositories: %w", err)
	}
	for _, r := range repos {
		if r.OwnerHex() == addr.Owner && strings.EqualFold(r.Slug, addr.RepoID) {
			return TargetFor(r), nil
		}
	}
	return NewTarget(identity.Npub(addr.Owner), addr.RepoID, addr.Owner), nil
}

func (p *Pipeline) loadEntries(ctx context.Context, key string) ([]Entry, error) {
	var entries []Entry
	if _, err := p.cache.Get(ctx, key, &entries); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return entries, nil
}

func (p *Pipeline) upsertEntry(ctx context.Context, target Target, kind storage.Kind, e Entry) (bool, error) {
	key := target.CollectionKey(kind)
	entries, err := p.loadEntries(ctx, key)
	if err != nil {
		return false, err
	}

	entries, inserted := Upsert(entries, e, p.strict)
	if inserted {
		entries, err = p.drainPending(ctx, target, entries, e.ID)
		if err != nil {
			return false, err
		}
	}

	if err := p.cache.Set(ctx, key, entries); err != nil {
		return false, fmt.Errorf("failed to save %s: %w", key, err)
	}
	return inserted, nil
}

// drainPending applies held status events for a newly inserted entry.
func (p *Pipeline) drainPending(ctx context.Context, target Target, entries []Entry, id string) ([]Entry, error) {
	key := target.CollectionKey(storage.KindStatuses)
	var pending []StatusRecord
	found, err := p.cache.Get(ctx, key, &pending)
	if err != nil || !found {
		return entries, err
	}

	kept := pending[:0]
	for _, st := range pending {
		if st.Target != id {
			kept = append(kept, st)
			continue
		}
		if i := entryIndex(entries, id); i >= 0 && target.mayChangeStatus(st.Author, entries[i]) {
			entries, _ = ApplyStatus(entries, st)
		}
	}
	if len(kept) == len(pending) {
		return entries, nil
	}
	if err := p.cache.Set(ctx, key, kept); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", key, err)
	}
	return entries, nil
}

// applyStatusEvent applies a status to the issue or pull request it
// targets, or holds it until the target arrives.
func (p *Pipeline) applyStatusEvent(ctx context.Context, target Target, ev StatusEvent) (bool, error) {
	st := StatusRecord{ID: ev.ID, Author: ev.Author, Target: ev.Target, Status: ev.Status, CreatedAt: ev.CreatedAt}

	for _, kind := range []storage.Kind{storage.KindPulls, storage.KindIssues} {
		key := target.CollectionKey(kind)
		entries, err := p.loadEntries(ctx, key)
		if err != nil {
			return false, err
		}
		i := entryIndex(entries, ev.Target)
		if i < 0 {
			continue
		}
		if !target.mayChangeStatus(ev.Author, entries[i]) {
			logger.Debug().Str("event", ev.ID).Str("author", ev.Author).Msg("Ignoring status from unauthorized author")
			return false, nil
		}
		updated, _ := ApplyStatus(entries, st)
		if err := p.cache.Set(ctx, key, updated); err != nil {
			return false, fmt.Errorf("failed to save %s: %w", key, err)
		}
		return false, nil
	}

	key := target.CollectionKey(storage.KindStatuses)
	var pending []StatusRecord
	if _, err := p.cache.Get(ctx, key, &pending); err != nil {
		return false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	for _, existing := range pending {
		if existing.ID == st.ID {
			return true, nil
		}
	}
	if err := p.cache.Set(ctx, key, append(pending, st)); err != nil {
		return false, fmt.Errorf("failed to save %s: %w", key, err)
	}
	return true, nil
}

func (p *Pipeline) notify(ctx context.Context, target Target, kind int, id string) {
	if p.notices == nil {
		return
	}
	coll := storage.KindPulls
	if kind == KindIssue {
		coll = storage.KindIssues
	}
	entries, err := p.loadEntries(ctx, target.CollectionKey(coll))
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load entry for notice")
		return
	}
	i := entryIndex(entries, id)
	if i < 0 {
		return
	}

	select {
	case p.notices <- Notice{Target: target, Kind: kind, Entry: entries[i]}:
	default:
		logger.Warn().Str("repo", target.Key()).Msg("Notice channel full")
	}
}

// Entries returns the cached entries of one collection through View.
func (p *Pipeline) Entries(ctx context.Context, target Target, kind storage.Kind, opts ViewOptions) ([]Entry, error) {
	p.mu.Lock()
	entries, err := p.loadEntries(ctx, target.CollectionKey(kind))
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return View(entries, opts), nil
}

// ResolveTarget finds the cached repository (entity, name) and returns it
// as a Target. An unknown repository with a decodable entity still yields
// a usable Target. Hex and npub spellings resolve to the same Target.
func (p *Pipeline) ResolveTarget(ctx context.Context, entity, name string) (Target, error) {
	repos, err := storage.LoadRepositories(ctx, p.cache)
	if err != nil {
		return Target{}, fmt.Errorf("failed to load repositories: %w", err)
	}
	if r, ok := repo.Find(repos, entity, name); ok {
		return TargetFor(r), nil
	}
	if h := identity.Resolve(entity); h != "" {
		return NewTarget(entity, name, h), nil
	}
	return Target{}, fmt.Errorf("%s/%s: %w", entity, name, apperrors.ErrNotFound)
}

func entryIndex(entries []Entry, id string) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}
