// Package migration corrects repository records whose entity field drifted
// to a legacy format, rewriting them to the npub of their owner.
package migration

import (
	"strings"

	"github.com/user/nostrgit/internal/identity"
	"github.com/user/nostrgit/internal/repo"
)

// SentinelUser is the placeholder entity written by very old clients.
const SentinelUser = "user"

// Session identifies who is running the migration.
type Session struct {
	PubkeyHex   string
	DisplayName string
}

// NewSession builds a Session from a hex or npub key. An undecodable key
// yields a session with no identity; only owner-independent rules apply.
func NewSession(pubkey, displayName string) Session {
	return Session{
		PubkeyHex:   identity.Resolve(pubkey),
		DisplayName: strings.TrimSpace(displayName),
	}
}

// owns reports whether the session key is the record's owner.
func (s Session) owns(r repo.Repository) bool {
	return s.PubkeyHex != "" && identity.Resolve(r.OwnerPubkey) == s.PubkeyHex
}

// Recognizer is one legacy entity shape. Resolve returns the canonical entity
// for r, or ok=false when the recognizer has no opinion.
type Recognizer interface {
	Name() string
	Resolve(r repo.Repository, s Session) (entity string, ok bool)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc struct {
	Label string
	Fn    func(r repo.Repository, s Session) (string, bool)
}

func (f RecognizerFunc) Name() string { return f.Label }

func (f RecognizerFunc) Resolve(r repo.Repository, s Session) (string, bool) {
	return f.Fn(r, s)
}

// DefaultRecognizers are tried in order; the first opinion wins.
var DefaultRecognizers = []Recognizer{
	RecognizerFunc{Label: "external-username", Fn: externalUsername},
	RecognizerFunc{Label: "session-prefix", Fn: sessionPrefix},
	RecognizerFunc{Label: "missing-entity", Fn: missingEntity},
	RecognizerFunc{Label: "owner-prefix", Fn: ownerPrefix},
}

func externalUsername(r repo.Repository, s Session) (string, bool) {
	if !looksLikeUsername(r.Entity) || !s.owns(r) {
		return "", false
	}
	return npubOf(r.OwnerPubkey)
}

func sessionPrefix(r repo.Repository, s Session) (string, bool) {
	if !identity.IsPrefixForm(r.Entity) || !s.owns(r) {
		return "", false
	}
	return npubOf(r.OwnerPubkey)
}

func missingEntity(r repo.Repository, s Session) (string, bool) {
	if strings.TrimSpace(r.Entity) != "" || !s.owns(r) {
		return "", false
	}
	return npubOf(r.OwnerPubkey)
}

// ownerPrefix also corrects records owned by other users.
func ownerPrefix(r repo.Repository, _ Session) (string, bool) {
	if !identity.IsPrefixForm(r.Entity) || !identity.IsFullHex(r.OwnerPubkey) {
		return "", false
	}
	if !identity.HasPrefixFold(r.OwnerPubkey, r.Entity) {
		return "", false
	}
	return npubOf(r.OwnerPubkey)
}

// looksLikeUsername matches free-text handles such as GitHub logins: not a
// key encoding, at least as long as a prefix, and containing a separator or
// a non-hex character. An 8-char handle like "alice-gh" qualifies since
// IsPrefixForm already claims every 8-char hex string.
func looksLikeUsername(entity string) bool {
	if identity.Classify(entity) != identity.FormLegacy || len(entity) < identity.PrefixLength {
		return false
	}
	if strings.HasPrefix(strings.ToLower(entity), "npub1") {
		return false
	}
	for _, c := range strings.ToLower(entity) {
		isHexDigit := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		if !isHexDigit {
			return true
		}
	}
	return false
}

func npubOf(owner string) (string, bool) {
	n := identity.Npub(identity.Resolve(owner))
	return n, n != ""
}

// Result is the outcome of Migrate.
type Result struct {
	Repositories []repo.Repository
	Changed      bool
	// OpenItems lists records that looked legacy but could not be migrated
	// safely, e.g. a prefix entity with no owner key.
	OpenItems []repo.Repository
}

// Migrate applies the sentinel, recognizer and name rules to every record.
// It is pure: the input slice is not modified, and running it on its own
// output reports Changed == false.
func Migrate(repos []repo.Repository, s Session, recognizers ...Recognizer) Result {
	if len(recognizers) == 0 {
		recognizers = DefaultRecognizers
	}

	res := Result{Repositories: make([]repo.Repository, len(repos))}
	for i, r := range repos {
		if r.Entity == SentinelUser && s.DisplayName != "" && (r.OwnerPubkey == "" || s.owns(r)) {
			if slug := repo.Slugify(s.DisplayName); slug != "" && slug != r.Entity {
				r.Entity = slug
				res.Changed = true
			}
		}

		resolved := false
		for _, rec := range recognizers {
			if entity, ok := rec.Resolve(r, s); ok {
				if entity != r.Entity {
					r.Entity = entity
					res.Changed = true
				}
				resolved = true
				break
			}
		}
		if !resolved && identity.IsPrefixForm(r.Entity) && r.OwnerPubkey == "" {
			res.OpenItems = append(res.OpenItems, r)
		}

		var named bool
		r, named = repo.FillNames(r)
		res.Changed = res.Changed || named

		res.Repositories[i] = r
	}
	return res
}
