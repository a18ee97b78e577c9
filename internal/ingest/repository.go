package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/user/nostrgit/internal/identity"
	"github.com/user/nostrgit/internal/repo"
	"github.com/user/nostrgit/internal/storage"
	"github.com/user/nostrgit/pkg/logger"
)

const headsPrefix = "refs/heads/"

func (p *Pipeline) applyAnnouncement(ctx context.Context, ev RepositoryEvent) error {
	repos, err := storage.LoadRepositories(ctx, p.cache)
	if err != nil {
		return fmt.Errorf("failed to load repositories: %w", err)
	}

	i := indexOf(repos, ev.Author, ev.Identifier)
	if i < 0 {
		repos = append(repos, ApplyAnnouncement(nil, ev))
	} else {
		if repos[i].LastNostrEventCreatedAt > ev.CreatedAt {
			logger.Debug().Str("event", ev.ID).Str("repo", ev.Identifier).Msg("Ignoring older repository announcement")
			return nil
		}
		repos[i] = ApplyAnnouncement(&repos[i], ev)
	}

	if err := storage.SaveRepositories(ctx, p.cache, repos); err != nil {
		return fmt.Errorf("failed to save repositories: %w", err)
	}
	return nil
}

// ApplyAnnouncement folds a repository announcement into the stored record,
// or builds a new record when existing is nil. A local draft edited after
// the announcement keeps its edits and becomes live_with_edits.
func ApplyAnnouncement(existing *repo.Repository, ev RepositoryEvent) repo.Repository {
	var r repo.Repository
	if existing != nil {
		r = *existing
	}

	if r.Entity == "" {
		r.Entity = identity.Npub(ev.Author)
	}
	r.OwnerPubkey = ev.Author
	if r.Slug == "" {
		r.Slug = ev.Identifier
	}
	if r.Repo == "" {
		r.Repo = ev.Identifier
	}
	if ev.Name != "" {
		r.Name = ev.Name
	} else if r.Name == "" {
		r.Name = ev.Identifier
	}
	if ev.Description != "" {
		r.Description = ev.Description
	}
	if len(ev.Web) > 0 {
		r.SourceURL = ev.Web[0]
	}
	if len(ev.Clone) > 0 {
		r.Clone = ev.Clone
	}
	if len(ev.Relays) > 0 {
		r.Relays = ev.Relays
	}
	r.Contributors = withMaintainers(r.Contributors, ev.Author, ev.Maintainers)
	r.Deleted = ev.Deleted
	r.Archived = ev.Archived

	if r.CreatedAt == 0 {
		r.CreatedAt = ev.CreatedAt
	}
	if r.NostrEventID == "" {
		r.NostrEventID = ev.ID
	}
	r.LastNostrEventID = ev.ID
	r.LastNostrEventCreatedAt = ev.CreatedAt

	if r.HasUnpushedEdits || r.LastModifiedAt > ev.CreatedAt {
		r.Status = repo.StatusLiveWithEdits
	} else {
		r.Status = repo.StatusLive
	}
	return repo.Canonicalize(r)
}

// withMaintainers adds the owner and every maintainer key that is not yet in
// list.
func withMaintainers(list []repo.Contributor, owner string, maintainers []string) []repo.Contributor {
	out := append([]repo.Contributor(nil), list...)
	add := func(key string, role repo.Role, weight int) {
		h := identity.Resolve(key)
		if h == "" {
			return
		}
		for _, c := range out {
			if identity.Resolve(c.Pubkey) == h {
				return
			}
		}
		out = append(out, repo.Contributor{Pubkey: h, Role: role, Weight: weight})
	}

	add(owner, repo.RoleOwner, 100)
	for _, m := range maintainers {
		add(m, repo.RoleMaintainer, 50)
	}
	return repo.SanitizeContributors(out, repo.SanitizeOptions{KeepNameOnly: true})
}

func (p *Pipeline) applyState(ctx context.Context, ev RepositoryStateEvent) error {
	repos, err := storage.LoadRepositories(ctx, p.cache)
	if err != nil {
		return fmt.Errorf("failed to load repositories: %w", err)
	}

	i := indexOf(repos, ev.Author, ev.Identifier)
	if i < 0 {
		logger.Debug().Str("event", ev.ID).Str("repo", ev.Identifier).Msg("State for unknown repository")
		return nil
	}
	repos[i] = ApplyState(repos[i], ev)

	if err := storage.SaveRepositories(ctx, p.cache, repos); err != nil {
		return fmt.Errorf("failed to save repositories: %w", err)
	}
	return nil
}

// ApplyState records the branch list, default branch and head commit.
func ApplyState(r repo.Repository, ev RepositoryStateEvent) repo.Repository {
	var branches []string
	for ref := range ev.Refs {
		if name, ok := strings.CutPrefix(ref, headsPrefix); ok {
			branches = append(branches, name)
		}
	}
	sort.Strings(branches)
	if len(branches) > 0 {
		r.Branches = branches
	}

	headRef := strings.TrimSpace(strings.TrimPrefix(ev.Head, "ref:"))
	if name, ok := strings.CutPrefix(headRef, headsPrefix); ok {
		r.DefaultBranch = name
	}
	if commit, ok := ev.Refs[headRef]; ok {
		r.HeadCommit = commit
	}
	return r
}

func indexOf(repos []repo.Repository, owner, slug string) int {
	for i, r := range repos {
		if r.OwnerHex() == owner && strings.EqualFold(r.Slug, slug) {
			return i
		}
	}
	return -1
}
