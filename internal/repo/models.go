// Package repo provides the repository record model, the canonicalization
// applied at the cache-read boundary, contributor sanitizing and the
// repository finder.
package repo

import (
	"strings"
	"unicode"

	"github.com/user/nostrgit/internal/identity"
)

// PlaceholderName backfills records that carry no usable name at all.
const PlaceholderName = "unnamed-repo"

// Status is the derived sync state of a repository record.
type Status string

const (
	StatusLocal         Status = "local"
	StatusLive          Status = "live"
	StatusLiveWithEdits Status = "live_with_edits"
	StatusPushing       Status = "pushing"
	StatusPushFailed    Status = "push_failed"
)

// Role is a contributor role.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleMaintainer  Role = "maintainer"
	RoleContributor Role = "contributor"
)

// Contributor is one entry of a repository's contributor list.
type Contributor struct {
	Pubkey      string `json:"pubkey,omitempty"`
	GithubLogin string `json:"githubLogin,omitempty"`
	Name        string `json:"name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Weight      int    `json:"weight"`
	Role        Role   `json:"role,omitempty"`
}

// Repository is one hosted repository as persisted in the local cache.
//
// Timestamps are unix values. Historic data mixes seconds and milliseconds;
// Canonicalize normalizes them all to milliseconds.
type Repository struct {
	Entity         string `json:"entity,omitempty"`
	OwnerPubkey    string `json:"ownerPubkey,omitempty"`
	Repo           string `json:"repo,omitempty"`
	Slug           string `json:"slug,omitempty"`
	Name           string `json:"name,omitempty"`
	RepositoryName string `json:"repositoryName,omitempty"`
	Description    string `json:"description,omitempty"`
	LogoURL        string `json:"logoUrl,omitempty"`
	SourceURL      string `json:"sourceUrl,omitempty"`

	Contributors []Contributor `json:"contributors,omitempty"`
	Clone        []string      `json:"clone,omitempty"`
	Relays       []string      `json:"relays,omitempty"`
	Branches     []string      `json:"branches,omitempty"`

	DefaultBranch string `json:"defaultBranch,omitempty"`
	HeadCommit    string `json:"headCommit,omitempty"`

	Status           Status `json:"status,omitempty"`
	HasUnpushedEdits bool   `json:"hasUnpushedEdits,omitempty"`
	NostrEventID     string `json:"nostrEventId,omitempty"`
	LastNostrEventID string `json:"lastNostrEventId,omitempty"`

	CreatedAt               int64 `json:"createdAt,omitempty"`
	LastModifiedAt          int64 `json:"lastModifiedAt,omitempty"`
	LastNostrEventCreatedAt int64 `json:"lastNostrEventCreatedAt,omitempty"`

	Deleted  bool `json:"deleted,omitempty"`
	Archived bool `json:"archived,omitempty"`
}

// DisplayName returns the best human-facing name of the record.
func (r Repository) DisplayName() string {
	return firstNonEmpty(r.Name, r.RepositoryName, r.Repo, r.Slug)
}

// ActivityAt returns the most meaningful activity timestamp: the last
// network event, then the last local modification, then creation.
func (r Repository) ActivityAt() int64 {
	switch {
	case r.LastNostrEventCreatedAt > 0:
		return r.LastNostrEventCreatedAt
	case r.LastModifiedAt > 0:
		return r.LastModifiedAt
	default:
		return r.CreatedAt
	}
}

// OwnerHex returns the full hex key of the owner: ownerPubkey when usable,
// else the decoded entity, else "".
func (r Repository) OwnerHex() string {
	if h := identity.Resolve(r.OwnerPubkey); h != "" {
		return h
	}
	return identity.Resolve(r.Entity)
}

// Canonicalize returns r with every derived field populated: names
// backfilled, ownerPubkey normalized to lowercase hex, timestamps in
// milliseconds and a status derived when none was stored. Downstream code
// relies on these fields and never re-derives them.
func Canonicalize(r Repository) Repository {
	r.Entity = strings.TrimSpace(r.Entity)
	if h := identity.Resolve(r.OwnerPubkey); h != "" {
		r.OwnerPubkey = h
	} else {
		r.OwnerPubkey = strings.TrimSpace(r.OwnerPubkey)
	}

	slugMissing := strings.TrimSpace(r.Slug) == ""
	r, _ = FillNames(r)
	if slugMissing {
		if s := Slugify(r.Slug); s != "" {
			r.Slug = s
		}
	}

	r.CreatedAt = Millis(r.CreatedAt)
	r.LastModifiedAt = Millis(r.LastModifiedAt)
	r.LastNostrEventCreatedAt = Millis(r.LastNostrEventCreatedAt)

	if r.Status == "" {
		r.Status = DeriveStatus(r)
	}
	if r.Contributors != nil {
		r.Contributors = SanitizeContributors(r.Contributors, SanitizeOptions{KeepNameOnly: true})
	}
	return r
}

// CanonicalizeAll applies Canonicalize to every record.
func CanonicalizeAll(repos []Repository) []Repository {
	out := make([]Repository, len(repos))
	for i, r := range repos {
		out[i] = Canonicalize(r)
	}
	return out
}

// FillNames guarantees non-empty name, repo and slug fields, backfilling from
// the first non-empty of repositoryName, repo, slug and name, and reports
// whether anything changed.
func FillNames(r Repository) (Repository, bool) {
	source := firstNonEmpty(
		strings.TrimSpace(r.RepositoryName),
		strings.TrimSpace(r.Repo),
		strings.TrimSpace(r.Slug),
		strings.TrimSpace(r.Name),
	)
	if source == "" {
		source = PlaceholderName
	}

	changed := false
	if strings.TrimSpace(r.Name) == "" {
		r.Name = source
		changed = true
	}
	if strings.TrimSpace(r.Repo) == "" {
		r.Repo = source
		changed = true
	}
	if strings.TrimSpace(r.Slug) == "" {
		r.Slug = source
		changed = true
	}
	return r, changed
}

// DeriveStatus computes a status from sync markers alone.
func DeriveStatus(r Repository) Status {
	if r.LastNostrEventID == "" && r.NostrEventID == "" {
		return StatusLocal
	}
	if r.HasUnpushedEdits {
		return StatusLiveWithEdits
	}
	return StatusLive
}

// secondsCutoff separates second and millisecond unix timestamps; 1e11
// seconds is past the year 5000.
const secondsCutoff = 100_000_000_000

// Millis normalizes a unix timestamp in seconds or milliseconds to
// milliseconds.
func Millis(ts int64) int64 {
	if ts > 0 && ts < secondsCutoff {
		return ts * 1000
	}
	return ts
}

// Slugify lowercases s and maps runs of characters outside [a-z0-9._-] to a
// single dash.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '_':
			b.WriteRune(c)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// NormalizeName lowercases s and strips everything but letters and digits.
// Two records with the same entity and normalized name are duplicates.
func NormalizeName(s string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(s) {
		if unicode.IsLetter(c) || unicode.IsDigit(c) {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
