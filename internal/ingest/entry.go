package ingest

import (
	"slices"
	"sort"
	"strings"
)

// EntryStatus is the lifecycle state of an issue or pull request.
type EntryStatus string

const (
	StatusOpen    EntryStatus = "open"
	StatusApplied EntryStatus = "applied"
	StatusClosed  EntryStatus = "closed"
	StatusDraft   EntryStatus = "draft"
)

// ParseStatus maps a legacy status string to an EntryStatus, or "" when it
// is not recognized.
func ParseStatus(s string) EntryStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "opened", "reopened":
		return StatusOpen
	case "applied", "merged", "resolved":
		return StatusApplied
	case "closed":
		return StatusClosed
	case "draft":
		return StatusDraft
	}
	return ""
}

func statusForKind(kind int) EntryStatus {
	switch kind {
	case KindStatusApplied:
		return StatusApplied
	case KindStatusClosed:
		return StatusClosed
	case KindStatusDraft:
		return StatusDraft
	default:
		return StatusOpen
	}
}

// Entry is the cached projection of an issue, pull request or patch.
type Entry struct {
	ID          string      `json:"id"`
	Number      int         `json:"number"`
	Kind        int         `json:"kind"`
	Author      string      `json:"author"`
	Title       string      `json:"title,omitempty"`
	Body        string      `json:"body,omitempty"`
	Branch      string      `json:"branch,omitempty"`
	Commit      string      `json:"commit,omitempty"`
	Clone       []string    `json:"clone,omitempty"`
	LinkedIssue string      `json:"linkedIssue,omitempty"`
	Labels      []string    `json:"labels,omitempty"`
	Status      EntryStatus `json:"status,omitempty"`
	CreatedAt   int64       `json:"createdAt,omitempty"`
	UpdatedAt   int64       `json:"updatedAt,omitempty"`

	StatusAt      int64    `json:"statusAt,omitempty"`
	StatusEventID string   `json:"statusEventId,omitempty"`
	AppliedStatus []string `json:"appliedStatus,omitempty"`
}

// StatusRecord is a status event held until its target entry arrives.
type StatusRecord struct {
	ID        string      `json:"id"`
	Author    string      `json:"author"`
	Target    string      `json:"target"`
	Status    EntryStatus `json:"status"`
	CreatedAt int64       `json:"createdAt"`
}

func entryFromPullRequest(ev PullRequestEvent) Entry {
	return Entry{
		ID:          ev.ID,
		Kind:        ev.Kind,
		Author:      ev.Author,
		Title:       ev.Title,
		Body:        ev.Body,
		Branch:      ev.Branch,
		Commit:      ev.Commit,
		Clone:       ev.Clone,
		LinkedIssue: ev.LinkedIssue,
		Labels:      ev.Labels,
		Status:      ev.Status,
		CreatedAt:   ev.CreatedAt,
		UpdatedAt:   ev.CreatedAt,
	}
}

func entryFromIssue(ev IssueEvent) Entry {
	return Entry{
		ID:        ev.ID,
		Kind:      ev.Kind,
		Author:    ev.Author,
		Title:     ev.Title,
		Body:      ev.Body,
		Labels:    ev.Labels,
		Status:    ev.Status,
		CreatedAt: ev.CreatedAt,
		UpdatedAt: ev.CreatedAt,
	}
}

// mergeEntry shallow-merges upd over old: set fields of upd win, unset ones
// keep the old value. Number and status history always come from old.
func mergeEntry(old, upd Entry) Entry {
	out := old
	if upd.Kind != 0 {
		out.Kind = upd.Kind
	}
	if upd.Author != "" {
		out.Author = upd.Author
	}
	if upd.Title != "" {
		out.Title = upd.Title
	}
	if upd.Body != "" {
		out.Body = upd.Body
	}
	if upd.Branch != "" {
		out.Branch = upd.Branch
	}
	if upd.Commit != "" {
		out.Commit = upd.Commit
	}
	if len(upd.Clone) > 0 {
		out.Clone = upd.Clone
	}
	if upd.LinkedIssue != "" {
		out.LinkedIssue = upd.LinkedIssue
	}
	if len(upd.Labels) > 0 {
		out.Labels = upd.Labels
	}
	if upd.Status != "" && old.StatusEventID == "" {
		out.Status = upd.Status
	}
	if upd.CreatedAt != 0 {
		out.CreatedAt = upd.CreatedAt
	}
	if upd.UpdatedAt != 0 {
		out.UpdatedAt = upd.UpdatedAt
	}
	return out
}

// Upsert inserts e, numbered after the highest existing number, or
// shallow-merges it over the entry with the same id. With strictRecency an
// update older than the stored entry is ignored. entries is not modified.
func Upsert(entries []Entry, e Entry, strictRecency bool) (out []Entry, inserted bool) {
	out = slices.Clone(entries)
	for i, existing := range out {
		if existing.ID != e.ID {
			continue
		}
		if strictRecency && e.UpdatedAt < existing.UpdatedAt {
			return out, false
		}
		out[i] = mergeEntry(existing, e)
		return out, false
	}

	next := 0
	for _, existing := range out {
		next = max(next, existing.Number)
	}
	e.Number = next + 1
	if e.Status == "" {
		e.Status = StatusOpen
	}
	return append(out, e), true
}

// ApplyStatus records st on its target entry. Each status event is applied
// once; among applied events the latest created wins, ties broken by id.
// It reports whether the target exists.
func ApplyStatus(entries []Entry, st StatusRecord) ([]Entry, bool) {
	i := slices.IndexFunc(entries, func(e Entry) bool { return e.ID == st.Target })
	if i < 0 {
		return entries, false
	}

	out := slices.Clone(entries)
	e := out[i]
	if slices.Contains(e.AppliedStatus, st.ID) {
		return out, true
	}

	e.AppliedStatus = append(slices.Clone(e.AppliedStatus), st.ID)
	sort.Strings(e.AppliedStatus)
	if st.CreatedAt > e.StatusAt || (st.CreatedAt == e.StatusAt && st.ID > e.StatusEventID) {
		e.Status = st.Status
		e.StatusAt = st.CreatedAt
		e.StatusEventID = st.ID
	}
	out[i] = e
	return out, true
}

// ViewOptions selects and orders entries for display.
type ViewOptions struct {
	Status EntryStatus
	Author string
	Query  string
}

// View filters entries and sorts them newest first. It does not modify
// entries and returns the same result for the same input.
func View(entries []Entry, opts ViewOptions) []Entry {
	q := strings.ToLower(strings.TrimSpace(opts.Query))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if opts.Status != "" && e.Status != opts.Status {
			continue
		}
		if opts.Author != "" && !strings.EqualFold(e.Author, opts.Author) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(e.Title), q) && !strings.Contains(strings.ToLower(e.Body), q) {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].Number > out[j].Number
	})
	return out
}
