// Package remote derives the git remote URLs of a repository record.
package remote

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/user/nostrgit/internal/identity"
	"github.com/user/nostrgit/internal/repo"
	"github.com/user/nostrgit/pkg/logger"
)

// Hosts are the endpoints remote URLs are built against.
type Hosts struct {
	SSHHost      string
	BridgeURLs   []string
	NativeRelays []string
}

// Remotes are equivalent addresses of one repository.
type Remotes struct {
	SSH    string   `json:"ssh,omitempty"`
	HTTPS  []string `json:"https"`
	Native []string `json:"native,omitempty"`
}

// Resolve builds the remotes of r. SSH and native URLs need the full owner
// key and are omitted without it; bridge URLs fall back to the raw entity.
func Resolve(r repo.Repository, hosts Hosts) Remotes {
	slug := r.Slug
	if slug == "" {
		slug = repo.Slugify(r.DisplayName())
	}
	owner := r.OwnerHex()
	npub := identity.Npub(owner)

	out := Remotes{HTTPS: []string{}}
	if slug == "" {
		return out
	}

	pathID := npub
	if pathID == "" {
		pathID = strings.TrimSpace(r.Entity)
	}
	if pathID != "" {
		for _, base := range hosts.BridgeURLs {
			u := strings.TrimRight(base, "/") + "/" + pathID + "/" + slug + ".git"
			if valid(u) {
				out.HTTPS = append(out.HTTPS, u)
			}
		}
	}

	if npub == "" {
		return out
	}

	if hosts.SSHHost != "" {
		u := fmt.Sprintf("git@%s:%s/%s.git", hosts.SSHHost, npub, slug)
		if valid(u) {
			out.SSH = u
		}
	}
	for _, relay := range hosts.NativeRelays {
		host := relayHost(relay)
		if host == "" {
			continue
		}
		out.Native = append(out.Native, fmt.Sprintf("nostr://%s@%s/%s", owner[:identity.PrefixLength], host, slug))
	}
	return out
}

// valid reports whether u parses as a git endpoint.
func valid(u string) bool {
	if _, err := transport.NewEndpoint(u); err != nil {
		logger.Warn().Err(err).Str("url", u).Msg("Dropping invalid remote URL")
		return false
	}
	return true
}

func relayHost(relay string) string {
	u, err := url.Parse(strings.TrimSpace(relay))
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}
