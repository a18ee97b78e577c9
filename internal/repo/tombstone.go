package repo

import (
	"strings"

	"github.com/user/nostrgit/internal/identity"
)

// Tombstone suppresses display of one (entity, repo) pair locally. The
// network events behind it are untouched.
type Tombstone struct {
	Entity      string `json:"entity"`
	Repo        string `json:"repo"`
	OwnerPubkey string `json:"ownerPubkey,omitempty"`
	DeletedAt   int64  `json:"deletedAt"`
}

// Matches reports whether t suppresses r. Tombstones may predate knowledge
// of the full owner key, so three paths are tried: owner key equality,
// the tombstone's decoded entity against the record owner, and the raw
// (entity, name) pair. The owner paths also require the name to match.
func (t Tombstone) Matches(r Repository) bool {
	owner := r.OwnerHex()
	if owner != "" && t.sameName(r) {
		if t.OwnerPubkey != "" && strings.EqualFold(t.OwnerPubkey, owner) {
			return true
		}
		if h := identity.Resolve(t.Entity); h != "" && h == owner {
			return true
		}
	}
	return t.Entity == r.Entity && t.sameName(r)
}

func (t Tombstone) sameName(r Repository) bool {
	for _, n := range []string{r.Slug, r.Repo, r.Name} {
		if n != "" && strings.EqualFold(n, t.Repo) {
			return true
		}
	}
	return false
}

// Tombstoned reports whether any tombstone in list suppresses r.
func Tombstoned(list []Tombstone, r Repository) bool {
	for _, t := range list {
		if t.Matches(r) {
			return true
		}
	}
	return false
}
