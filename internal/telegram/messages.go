package telegram

import (
	"fmt"
	"strings"

	"github.com/user/nostrgit/internal/identity"
	"github.com/user/nostrgit/internal/ingest"
	"github.com/user/nostrgit/internal/storage"
)

// maxListed caps the entries shown by /pulls and /issues.
const maxListed = 10

var statusEmoji = map[ingest.EntryStatus]string{
	ingest.StatusOpen:    "🟢",
	ingest.StatusApplied: "🟣",
	ingest.StatusClosed:  "🔴",
	ingest.StatusDraft:   "⚪",
}

// FormatRepoRef renders entity/slug with the entity shortened.
func FormatRepoRef(entity, slug string) string {
	return fmt.Sprintf("`%s/%s`", identity.Short(entity), slug)
}

// FormatWatchList renders the watches of one chat.
func FormatWatchList(watches []storage.Watch) string {
	text := fmt.Sprintf("📋 *Watched repositories (%d)*\n\n", len(watches))
	for i, w := range watches {
		text += fmt.Sprintf("%d. %s\n", i+1, FormatRepoRef(w.Entity, w.Repo))
	}
	text += "\nUse `/unwatch <owner>/<repo>` to stop watching"
	return text
}

// FormatEntries renders a collection listing such as the open PRs of a
// repository.
func FormatEntries(label string, target ingest.Target, entries []ingest.Entry) string {
	if len(entries) == 0 {
		return fmt.Sprintf("📭 No %s in %s", label, FormatRepoRef(target.Entity, target.Slug))
	}

	text := fmt.Sprintf("📋 *%s in* %s (%d)\n\n", strings.ToUpper(label[:1])+label[1:], FormatRepoRef(target.Entity, target.Slug), len(entries))
	for i, e := range entries {
		if i == maxListed {
			text += fmt.Sprintf("… and %d more\n", len(entries)-maxListed)
			break
		}
		title := e.Title
		if title == "" {
			title = "(untitled)"
		}
		text += fmt.Sprintf("%s #%d %s\n", statusEmoji[e.Status], e.Number, escapeMarkdown(title))
	}
	return text
}

func escapeMarkdown(s string) string {
	return strings.NewReplacer("_", "\\_", "*", "\\*", "[", "\\[", "`", "\\`").Replace(s)
}
