package ingest

import (
	"strings"

	"github.com/user/nostrgit/internal/identity"
	"github.com/user/nostrgit/internal/repo"
	"github.com/user/nostrgit/internal/storage"
)

// Target is the repository a per-repository subscription is scoped to.
// Entity is the owner npub whenever the owner key is known.
type Target struct {
	Entity      string   `json:"entity"`
	Slug        string   `json:"slug"`
	OwnerHex    string   `json:"ownerPubkey,omitempty"`
	Maintainers []string `json:"maintainers,omitempty"`

	// legacyEntity is the stored entity of a record that predates
	// migration, still honored in legacy repo tags.
	legacyEntity string
}

// NewTarget builds a Target for entity/slug, normalizing the entity to the
// owner npub when ownerHex or entity names a full key.
func NewTarget(entity, slug, ownerHex string) Target {
	if ownerHex == "" {
		ownerHex = identity.Resolve(entity)
	}
	t := Target{Entity: entity, Slug: slug, OwnerHex: ownerHex}
	if n := identity.Npub(ownerHex); n != "" {
		if n != entity {
			t.legacyEntity = entity
		}
		t.Entity = n
	}
	return t
}

// TargetFor builds a Target from a canonical repository record.
func TargetFor(r repo.Repository) Target {
	t := NewTarget(r.Entity, r.Slug, r.OwnerHex())
	for _, c := range r.Contributors {
		if c.Role != repo.RoleOwner && c.Role != repo.RoleMaintainer {
			continue
		}
		if h := identity.Resolve(c.Pubkey); h != "" && h != t.OwnerHex {
			t.Maintainers = append(t.Maintainers, h)
		}
	}
	return t
}

// Address returns the repository-address tag value of the target, or ""
// when the owner key is unknown.
func (t Target) Address() string {
	if t.OwnerHex == "" {
		return ""
	}
	return Address{Kind: KindRepository, Owner: t.OwnerHex, RepoID: t.Slug}.String()
}

// CollectionKey addresses one collection of the target. Hex and npub
// spellings of the same owner share a key.
func (t Target) CollectionKey(kind storage.Kind) string {
	entity := t.Entity
	if n := identity.Npub(t.OwnerHex); n != "" {
		entity = n
	}
	return storage.CollectionKey(kind, entity, t.Slug)
}

// Key identifies the target in logs and dedup tables.
func (t Target) Key() string {
	return t.Entity + "/" + t.Slug
}

// Accepts reports whether an event with tags belongs to the target. The
// repo id of an address tag must equal the slug. An address with another
// owner is accepted only when a legacy ownership tag names the target.
// Events with no address tag are judged by the legacy tags alone.
func (t Target) Accepts(tags Tags) bool {
	addr, ok := tags.RepositoryAddress()
	if ok {
		if !strings.EqualFold(addr.RepoID, t.Slug) {
			return false
		}
		if t.OwnerHex == "" || addr.Owner == t.OwnerHex {
			return true
		}
	}
	return t.legacyMatch(tags)
}

// legacyMatch checks the fallback ownership encodings: a "repo" tag of
// "<npub or entity>/<slug>", or a p tag naming the owner together with a
// repo tag naming the slug.
func (t Target) legacyMatch(tags Tags) bool {
	if tags.LegacyRepo == "" {
		return false
	}
	owner, slug, found := strings.Cut(tags.LegacyRepo, "/")
	if !found {
		slug, owner = owner, ""
	}
	if !strings.EqualFold(slug, t.Slug) {
		return false
	}

	if owner != "" {
		if owner == t.Entity || (t.legacyEntity != "" && owner == t.legacyEntity) {
			return true
		}
		if h := identity.Resolve(owner); h != "" && h == t.OwnerHex {
			return true
		}
		return false
	}
	for _, p := range tags.Pubkeys {
		if p == t.OwnerHex {
			return true
		}
	}
	return false
}

// mayChangeStatus reports whether author may set statuses on entry.
func (t Target) mayChangeStatus(author string, e Entry) bool {
	if author == e.Author || (t.OwnerHex != "" && author == t.OwnerHex) {
		return true
	}
	for _, m := range t.Maintainers {
		if m == author {
			return true
		}
	}
	return false
}
