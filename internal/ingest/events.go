// Package ingest classifies incoming Nostr git events, folds them into the
// local cache and drives the relay subscriptions that feed them.
package ingest

import (
	"encoding/json"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	apperrors "github.com/user/nostrgit/internal/errors"
	"github.com/user/nostrgit/internal/repo"
)

// Meta is shared by every typed event.
type Meta struct {
	ID        string
	Author    string
	Kind      int
	CreatedAt int64 // milliseconds
	Tags      Tags
}

// Event is one of RepositoryEvent, RepositoryStateEvent, PullRequestEvent,
// IssueEvent or StatusEvent.
type Event interface {
	EventMeta() Meta
}

func (m Meta) EventMeta() Meta { return m }

// RepositoryEvent is a repository announcement.
type RepositoryEvent struct {
	Meta
	Identifier  string
	Name        string
	Description string
	Web         []string
	Clone       []string
	Relays      []string
	Maintainers []string
	Labels      []string
	Deleted     bool
	Archived    bool
}

// RepositoryStateEvent announces the branch heads of a repository.
type RepositoryStateEvent struct {
	Meta
	Identifier string
	Refs       map[string]string
	Head       string
}

// PullRequestEvent is a pull request or, when Patch is set, an emailed-style
// patch.
type PullRequestEvent struct {
	Meta
	Patch       bool
	Title       string
	Body        string
	Branch      string
	Commit      string
	Clone       []string
	LinkedIssue string
	Labels      []string
	Status      EntryStatus
}

// IssueEvent is an issue.
type IssueEvent struct {
	Meta
	Title  string
	Body   string
	Labels []string
	Status EntryStatus
}

// StatusEvent sets the status of the entry with id Target.
type StatusEvent struct {
	Meta
	Status EntryStatus
	Target string
}

// legacyContent is the JSON body older clients wrote instead of tags.
type legacyContent struct {
	Title       string   `json:"title"`
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	Body        string   `json:"body"`
	Content     string   `json:"content"`
	Branch      string   `json:"branch"`
	Status      string   `json:"status"`
	Labels      []string `json:"labels"`
}

// Parse classifies ev into its typed shape. It fails with an
// *EventParseError for malformed events and for kinds outside the handled
// set, the latter wrapping ErrUnknownKind.
func Parse(ev *nostr.Event) (Event, error) {
	if ev == nil {
		return nil, &apperrors.EventParseError{Reason: "nil event"}
	}
	if ev.ID == "" {
		return nil, &apperrors.EventParseError{Kind: ev.Kind, Reason: "missing id"}
	}

	tags := ParseTags(ev.Tags)
	meta := Meta{
		ID:        ev.ID,
		Author:    strings.ToLower(ev.PubKey),
		Kind:      ev.Kind,
		CreatedAt: repo.Millis(int64(ev.CreatedAt)),
		Tags:      tags,
	}

	switch ev.Kind {
	case KindRepository:
		if tags.Identifier == "" {
			return nil, parseError(ev, "repository announcement without d tag")
		}
		return RepositoryEvent{
			Meta:        meta,
			Identifier:  tags.Identifier,
			Name:        tags.Name,
			Description: tags.Description,
			Web:         tags.Web,
			Clone:       tags.Clone,
			Relays:      tags.Relays,
			Maintainers: tags.Maintainers,
			Labels:      tags.Labels,
			Deleted:     tags.Deleted,
			Archived:    tags.Archived,
		}, nil

	case KindRepositoryState:
		if tags.Identifier == "" {
			return nil, parseError(ev, "repository state without d tag")
		}
		return RepositoryStateEvent{Meta: meta, Identifier: tags.Identifier, Refs: tags.Refs, Head: tags.Head}, nil

	case KindPullRequest, KindPatch:
		title, body, legacy := textOf(ev.Content, tags)
		pr := PullRequestEvent{
			Meta:   meta,
			Patch:  ev.Kind == KindPatch,
			Title:  title,
			Body:   body,
			Branch: tags.Branch,
			Commit: tags.Commit,
			Clone:  tags.Clone,
			Labels: tags.Labels,
			Status: ParseStatus(tags.Status),
		}
		if len(tags.Linked) > 0 {
			pr.LinkedIssue = tags.Linked[0]
		}
		if legacy != nil {
			if pr.Branch == "" {
				pr.Branch = legacy.Branch
			}
			if pr.Status == "" {
				pr.Status = ParseStatus(legacy.Status)
			}
			pr.Labels = append(pr.Labels, legacy.Labels...)
		}
		return pr, nil

	case KindIssue:
		title, body, legacy := textOf(ev.Content, tags)
		issue := IssueEvent{Meta: meta, Title: title, Body: body, Labels: tags.Labels, Status: ParseStatus(tags.Status)}
		if legacy != nil {
			if issue.Status == "" {
				issue.Status = ParseStatus(legacy.Status)
			}
			issue.Labels = append(issue.Labels, legacy.Labels...)
		}
		return issue, nil

	case KindStatusOpen, KindStatusApplied, KindStatusClosed, KindStatusDraft:
		target := rootTarget(ev.Tags)
		if target == "" {
			return nil, parseError(ev, "status event without target")
		}
		return StatusEvent{Meta: meta, Status: statusForKind(ev.Kind), Target: target}, nil
	}

	return nil, &apperrors.EventParseError{
		EventID: ev.ID,
		Kind:    ev.Kind,
		Reason:  "unhandled kind",
		Err:     apperrors.ErrUnknownKind,
	}
}

// textOf resolves title and body: the subject tag first, then a legacy JSON
// body, else the raw content as markdown with no title.
func textOf(content string, tags Tags) (title, body string, legacy *legacyContent) {
	if tags.Subject != "" {
		return tags.Subject, content, nil
	}

	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") {
		var lc legacyContent
		if err := json.Unmarshal([]byte(trimmed), &lc); err == nil {
			if t := firstNonEmpty(lc.Title, lc.Subject); t != "" {
				return t, firstNonEmpty(lc.Description, lc.Body, lc.Content), &lc
			}
		}
	}
	return "", content, nil
}

func parseError(ev *nostr.Event, reason string) error {
	return &apperrors.EventParseError{EventID: ev.ID, Kind: ev.Kind, Reason: reason}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
