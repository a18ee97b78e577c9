package repo

import (
	"strings"

	"github.com/user/nostrgit/internal/identity"
)

// Find resolves an (entity, name) query against a cached repository set.
//
// A record must match the name first: case-insensitive equality with its
// slug, repo field, "entity/name" composite or display name. Among name
// matches the first record whose identity matches wins, in this order of
// checks: raw entity equality, decoded query equal to the entity, decoded
// query equal to ownerPubkey, raw ownerPubkey equality and finally the
// 8-char prefix fallback. The store may hold legacy duplicates, so the
// result is decided by slice order, not uniqueness.
func Find(repos []Repository, entityQuery, nameQuery string) (Repository, bool) {
	entityQuery = strings.TrimSpace(entityQuery)
	nameQuery = strings.TrimSpace(nameQuery)
	if nameQuery == "" {
		return Repository{}, false
	}

	queryHex := identity.Resolve(entityQuery)

	for _, r := range repos {
		if !NameMatches(r, nameQuery) {
			continue
		}
		if EntityMatches(r, entityQuery, queryHex) {
			return r, true
		}
	}
	return Repository{}, false
}

// NameMatches reports whether nameQuery names r.
func NameMatches(r Repository, nameQuery string) bool {
	candidates := []string{r.Slug, r.Repo, r.Name, r.RepositoryName}
	if r.Entity != "" {
		candidates = append(candidates, r.Entity+"/"+r.DisplayName())
	}
	for _, c := range candidates {
		if c != "" && strings.EqualFold(c, nameQuery) {
			return true
		}
	}
	return false
}

// EntityMatches applies the identity half of Find. queryHex is the decoded
// form of entityQuery, or "" when it does not decode.
func EntityMatches(r Repository, entityQuery, queryHex string) bool {
	if entityQuery == "" {
		return false
	}
	if r.Entity == entityQuery {
		return true
	}
	if queryHex != "" {
		if strings.EqualFold(r.Entity, queryHex) || strings.EqualFold(r.OwnerPubkey, queryHex) {
			return true
		}
	}
	if r.OwnerPubkey != "" && r.OwnerPubkey == entityQuery {
		return true
	}
	if identity.IsPrefixForm(entityQuery) && identity.HasPrefixFold(r.Entity, entityQuery) {
		return true
	}
	return false
}

// ResolveOwner returns the hex owner of the record matching (entity, name),
// or "" when no record matches or the match has no decodable owner.
func ResolveOwner(repos []Repository, entityQuery, nameQuery string) string {
	r, ok := Find(repos, entityQuery, nameQuery)
	if !ok {
		return ""
	}
	return r.OwnerHex()
}
