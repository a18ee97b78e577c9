// Package reconcile turns the raw cached repository collection into the
// single ordered, deduplicated list shown for one owner.
package reconcile

import (
	"sort"
	"strings"

	"github.com/user/nostrgit/internal/identity"
	"github.com/user/nostrgit/internal/repo"
	"github.com/user/nostrgit/pkg/logger"
)

// DefaultBadEntities are entity values left behind by a past data-integrity
// bug, where the hosting domain was written into the entity field.
var DefaultBadEntities = []string{"gittr.space"}

// statusPriority orders records needing attention first.
var statusPriority = map[repo.Status]int{
	repo.StatusPushing:       0,
	repo.StatusPushFailed:    1,
	repo.StatusLocal:         2,
	repo.StatusLiveWithEdits: 3,
	repo.StatusLive:          4,
}

const unknownPriority = 5

// Reconciler holds the filters that do not change between calls.
type Reconciler struct {
	badEntities []string
	isCorrupted func(repo.Repository) bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithBadEntities replaces the known-bad entity sentinels.
func WithBadEntities(entities []string) Option {
	return func(r *Reconciler) {
		r.badEntities = entities
	}
}

// WithCorruptionCheck installs an external corruption check.
func WithCorruptionCheck(fn func(repo.Repository) bool) Option {
	return func(r *Reconciler) {
		r.isCorrupted = fn
	}
}

// New creates a Reconciler.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{badEntities: DefaultBadEntities}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile filters, sorts and deduplicates raw for the owner identity
// (hex or npub). It is a pure function of its inputs.
func (rc *Reconciler) Reconcile(raw []repo.Repository, owner string, tombstones []repo.Tombstone) []repo.Repository {
	all := repo.CanonicalizeAll(raw)
	ownerHex := identity.Resolve(owner)

	kept := make([]repo.Repository, 0, len(all))
	for _, r := range all {
		switch {
		case rc.corrupted(r):
			logger.Debug().Str("entity", r.Entity).Str("repo", r.Slug).Msg("Excluding corrupted repository")
		case repo.Tombstoned(tombstones, r):
		case r.Deleted || r.Archived:
		case !ownedBy(all, r, ownerHex):
		default:
			kept = append(kept, r)
		}
	}

	SortByStatus(kept)
	return dedupe(kept)
}

func (rc *Reconciler) corrupted(r repo.Repository) bool {
	if rc.isCorrupted != nil && rc.isCorrupted(r) {
		return true
	}
	for _, bad := range rc.badEntities {
		if strings.EqualFold(r.Entity, bad) {
			return true
		}
	}
	return false
}

// ownedBy applies the ownership cascade: direct ownerPubkey, owner resolved
// through the finder, an owner-role contributor, then the decoded entity.
// Records without a recognized entity encoding are never shown.
func ownedBy(all []repo.Repository, r repo.Repository, ownerHex string) bool {
	if ownerHex == "" || !identity.IsRecognized(r.Entity) {
		return false
	}
	if strings.EqualFold(r.OwnerPubkey, ownerHex) {
		return true
	}
	if repo.ResolveOwner(all, r.Entity, r.Slug) == ownerHex {
		return true
	}
	for _, k := range repo.OwnerContributors(r.Contributors) {
		if k == ownerHex {
			return true
		}
	}
	return identity.Resolve(r.Entity) == ownerHex
}

// SortByStatus orders records by status priority, then most recent activity,
// then display name.
func SortByStatus(repos []repo.Repository) {
	sort.SliceStable(repos, func(i, j int) bool {
		pi, pj := priority(repos[i].Status), priority(repos[j].Status)
		if pi != pj {
			return pi < pj
		}
		ai, aj := repos[i].ActivityAt(), repos[j].ActivityAt()
		if ai != aj {
			return ai > aj
		}
		return strings.ToLower(repos[i].DisplayName()) < strings.ToLower(repos[j].DisplayName())
	})
}

func priority(s repo.Status) int {
	if p, ok := statusPriority[s]; ok {
		return p
	}
	return unknownPriority
}

// dedupeKey groups records naming the same repository of the same owner.
func dedupeKey(r repo.Repository) string {
	owner := r.OwnerHex()
	if owner == "" {
		owner = r.Entity
	}
	return owner + "\x00" + repo.NormalizeName(r.Name)
}

// dedupe collapses each group to one record, kept at the position of the
// group's first member.
func dedupe(sorted []repo.Repository) []repo.Repository {
	index := make(map[string]int, len(sorted))
	out := make([]repo.Repository, 0, len(sorted))

	for _, r := range sorted {
		key := dedupeKey(r)
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, r)
			continue
		}
		out[i] = Merge(out[i], r)
	}
	return out
}

func isNetwork(s repo.Status) bool {
	return s == repo.StatusLive || s == repo.StatusLiveWithEdits
}

// Merge resolves two records of one group. A local draft paired with a
// network copy is merged onto the network copy; any other pair keeps the
// later-created record.
func Merge(a, b repo.Repository) repo.Repository {
	switch {
	case a.Status == repo.StatusLocal && isNetwork(b.Status):
		return mergeDraft(a, b)
	case b.Status == repo.StatusLocal && isNetwork(a.Status):
		return mergeDraft(b, a)
	case b.CreatedAt > a.CreatedAt:
		return b
	default:
		return a
	}
}

func mergeDraft(local, network repo.Repository) repo.Repository {
	merged := network
	if local.LogoURL != "" {
		merged.LogoURL = local.LogoURL
	}
	merged.HasUnpushedEdits = local.HasUnpushedEdits || network.HasUnpushedEdits
	if local.LastModifiedAt > merged.LastModifiedAt {
		merged.LastModifiedAt = local.LastModifiedAt
	}

	if local.HasUnpushedEdits || local.LastModifiedAt > network.LastNostrEventCreatedAt {
		merged.Status = repo.StatusLiveWithEdits
	} else {
		merged.Status = network.Status
	}
	return merged
}
