package storage

import (
	"context"
	"strings"

	"github.com/user/nostrgit/internal/repo"
)

// LoadRawRepositories returns the repository collection exactly as stored.
// Only the migration engine should need the raw form.
func LoadRawRepositories(ctx context.Context, c Cache) ([]repo.Repository, error) {
	var repos []repo.Repository
	if _, err := c.Get(ctx, RepositoriesKey(), &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// LoadRepositories returns the repository collection canonicalized.
func LoadRepositories(ctx context.Context, c Cache) ([]repo.Repository, error) {
	repos, err := LoadRawRepositories(ctx, c)
	if err != nil {
		return nil, err
	}
	return repo.CanonicalizeAll(repos), nil
}

// SaveRepositories replaces the repository collection.
func SaveRepositories(ctx context.Context, c Cache, repos []repo.Repository) error {
	return c.Set(ctx, RepositoriesKey(), repos)
}

// PutRepository stores r over the record with the same owner and slug, or
// appends it. A published record keeps its network identity and state and
// is marked as carrying unpushed edits. It reports whether a record was
// replaced.
func PutRepository(ctx context.Context, c Cache, r repo.Repository) (bool, error) {
	repos, err := LoadRepositories(ctx, c)
	if err != nil {
		return false, err
	}
	r = repo.Canonicalize(r)
	owner := r.OwnerHex()
	for i, existing := range repos {
		if owner != "" && existing.OwnerHex() == owner && strings.EqualFold(existing.Slug, r.Slug) {
			repos[i] = mergeOnto(existing, r)
			return true, SaveRepositories(ctx, c, repos)
		}
	}
	return false, SaveRepositories(ctx, c, append(repos, r))
}

// mergeOnto applies the local record r over existing.
func mergeOnto(existing, r repo.Repository) repo.Repository {
	if existing.CreatedAt > 0 {
		r.CreatedAt = existing.CreatedAt
	}
	if existing.LastNostrEventID == "" && existing.NostrEventID == "" {
		return r
	}

	r.Entity = existing.Entity
	r.NostrEventID = existing.NostrEventID
	r.LastNostrEventID = existing.LastNostrEventID
	r.LastNostrEventCreatedAt = existing.LastNostrEventCreatedAt
	r.Branches = existing.Branches
	r.HeadCommit = existing.HeadCommit
	if existing.DefaultBranch != "" {
		r.DefaultBranch = existing.DefaultBranch
	}
	if len(r.Relays) == 0 {
		r.Relays = existing.Relays
	}
	if r.LogoURL == "" {
		r.LogoURL = existing.LogoURL
	}
	if existing.LastModifiedAt > r.LastModifiedAt {
		r.LastModifiedAt = existing.LastModifiedAt
	}
	r.HasUnpushedEdits = true
	r.Status = repo.StatusLiveWithEdits
	return r
}

// LoadTombstones returns the local deletion list.
func LoadTombstones(ctx context.Context, c Cache) ([]repo.Tombstone, error) {
	var list []repo.Tombstone
	if _, err := c.Get(ctx, TombstonesKey(), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// AddTombstone appends t unless an equal (entity, repo) entry exists.
func AddTombstone(ctx context.Context, c Cache, t repo.Tombstone) error {
	list, err := LoadTombstones(ctx, c)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing.Entity == t.Entity && existing.Repo == t.Repo {
			return nil
		}
	}
	return c.Set(ctx, TombstonesKey(), append(list, t))
}

// RemoveTombstone clears every tombstone suppressing (entity, repoName) and
// reports whether any was removed. The pair is resolved through the finder,
// so a tombstone written under one spelling of the owner clears under
// another.
func RemoveTombstone(ctx context.Context, c Cache, entity, repoName string) (bool, error) {
	list, err := LoadTombstones(ctx, c)
	if err != nil {
		return false, err
	}
	repos, err := LoadRepositories(ctx, c)
	if err != nil {
		return false, err
	}
	target, ok := repo.Find(repos, entity, repoName)
	if !ok {
		target = repo.Canonicalize(repo.Repository{Entity: entity, Name: repoName})
	}

	kept := list[:0]
	for _, t := range list {
		if t.Matches(target) || (t.Entity == entity && strings.EqualFold(t.Repo, repoName)) {
			continue
		}
		kept = append(kept, t)
	}
	if len(kept) == len(list) {
		return false, nil
	}
	return true, c.Set(ctx, TombstonesKey(), kept)
}
