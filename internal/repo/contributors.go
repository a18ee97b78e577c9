package repo

import (
	"strings"

	"github.com/user/nostrgit/internal/identity"
)

// SanitizeOptions controls SanitizeContributors.
type SanitizeOptions struct {
	// KeepNameOnly keeps entries identified by display name alone.
	KeepNameOnly bool
}

// SanitizeContributors normalizes and deduplicates a contributor list.
//
// Pubkeys are normalized to lowercase hex (malformed ones are dropped, the
// rest of the entry is kept), unknown roles are cleared and negative weights
// clamped to zero. The dedup key is the pubkey, else the GitHub login, else
// (with KeepNameOnly) the display name; the first occurrence wins. Survivors
// keep their input order.
func SanitizeContributors(list []Contributor, opts SanitizeOptions) []Contributor {
	out := make([]Contributor, 0, len(list))
	seen := make(map[string]struct{}, len(list))

	for _, c := range list {
		c.Pubkey = identity.Resolve(c.Pubkey)
		c.GithubLogin = strings.TrimSpace(c.GithubLogin)
		c.Name = strings.TrimSpace(c.Name)
		c.Picture = strings.TrimSpace(c.Picture)
		c.Role = normalizeRole(c.Role)
		if c.Weight < 0 {
			c.Weight = 0
		}

		key := contributorKey(c, opts.KeepNameOnly)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

func contributorKey(c Contributor, keepNameOnly bool) string {
	switch {
	case c.Pubkey != "":
		return "pk:" + c.Pubkey
	case c.GithubLogin != "":
		return "gh:" + strings.ToLower(c.GithubLogin)
	case keepNameOnly && c.Name != "":
		return "name:" + strings.ToLower(c.Name)
	default:
		return ""
	}
}

func normalizeRole(r Role) Role {
	switch Role(strings.ToLower(strings.TrimSpace(string(r)))) {
	case RoleOwner:
		return RoleOwner
	case RoleMaintainer:
		return RoleMaintainer
	case RoleContributor:
		return RoleContributor
	default:
		return ""
	}
}

// OwnerContributors returns the hex pubkeys of contributors with the owner role.
func OwnerContributors(list []Contributor) []string {
	var keys []string
	for _, c := range list {
		if c.Role == RoleOwner {
			if h := identity.Resolve(c.Pubkey); h != "" {
				keys = append(keys, h)
			}
		}
	}
	return keys
}
