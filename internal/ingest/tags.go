package ingest

import (
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// Event kinds handled by the pipeline.
const (
	KindPatch           = 1617
	KindPullRequest     = 1618
	KindIssue           = 1621
	KindStatusOpen      = 1630
	KindStatusApplied   = 1631
	KindStatusClosed    = 1632
	KindStatusDraft     = 1633
	KindRepository      = 30617
	KindRepositoryState = 30618
)

// StatusKinds lists every status event kind.
var StatusKinds = []int{KindStatusOpen, KindStatusApplied, KindStatusClosed, KindStatusDraft}

// Address is a parsed repository-address tag value, "kind:ownerHex:repoId".
type Address struct {
	Kind   int
	Owner  string
	RepoID string
}

// String formats the address back to tag form.
func (a Address) String() string {
	return strconv.Itoa(a.Kind) + ":" + a.Owner + ":" + a.RepoID
}

// ParseAddress parses an address tag value. The repo id may itself contain
// colons.
func ParseAddress(s string) (Address, bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[2] == "" {
		return Address{}, false
	}
	kind, err := strconv.Atoi(parts[0])
	if err != nil {
		return Address{}, false
	}
	return Address{Kind: kind, Owner: strings.ToLower(parts[1]), RepoID: parts[2]}, true
}

// Tags is the structured view of an event's relational tags.
type Tags struct {
	Identifier  string
	Subject     string
	Addresses   []Address
	Branch      string
	Commit      string
	Clone       []string
	Linked      []string
	Pubkeys     []string
	LegacyRepo  string
	Status      string
	Labels      []string
	Name        string
	Description string
	Web         []string
	Relays      []string
	Maintainers []string
	Refs        map[string]string
	Head        string
	Deleted     bool
	Archived    bool
}

// RepositoryAddress returns the first address naming a repository
// announcement.
func (t Tags) RepositoryAddress() (Address, bool) {
	for _, a := range t.Addresses {
		if a.Kind == KindRepository {
			return a, true
		}
	}
	return Address{}, false
}

// ParseTags extracts the known tags. Unknown and short tags are ignored.
func ParseTags(tags nostr.Tags) Tags {
	var t Tags
	for _, tag := range tags {
		if len(tag) == 0 {
			continue
		}
		key := tag[0]
		if strings.HasPrefix(key, "refs/") && len(tag) >= 2 {
			if t.Refs == nil {
				t.Refs = make(map[string]string)
			}
			t.Refs[key] = tag[1]
			continue
		}

		switch key {
		case "deleted":
			t.Deleted = true
			continue
		case "archived":
			t.Archived = len(tag) < 2 || tag[1] != "false"
			continue
		}
		if len(tag) < 2 {
			continue
		}

		value := tag[1]
		switch key {
		case "d":
			t.Identifier = value
		case "subject", "title":
			if t.Subject == "" {
				t.Subject = value
			}
		case "a":
			if a, ok := ParseAddress(value); ok {
				t.Addresses = append(t.Addresses, a)
			}
		case "branch", "branch-name":
			t.Branch = value
		case "c", "commit":
			t.Commit = value
		case "clone":
			t.Clone = append(t.Clone, nonEmpty(tag[1:])...)
		case "e":
			t.Linked = append(t.Linked, value)
		case "p":
			t.Pubkeys = append(t.Pubkeys, strings.ToLower(value))
		case "repo":
			t.LegacyRepo = value
		case "status":
			t.Status = value
		case "t":
			t.Labels = append(t.Labels, value)
		case "name":
			t.Name = value
		case "description":
			t.Description = value
		case "web":
			t.Web = append(t.Web, nonEmpty(tag[1:])...)
		case "relays":
			t.Relays = append(t.Relays, nonEmpty(tag[1:])...)
		case "maintainers":
			t.Maintainers = append(t.Maintainers, nonEmpty(tag[1:])...)
		case "HEAD":
			t.Head = value
		}
	}
	return t
}

// rootTarget returns the event id a status event refers to: the e tag
// marked root, else the first e tag.
func rootTarget(tags nostr.Tags) string {
	first := ""
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != "e" {
			continue
		}
		if len(tag) >= 4 && tag[3] == "root" {
			return tag[1]
		}
		if first == "" {
			first = tag[1]
		}
	}
	return first
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
