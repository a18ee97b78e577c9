package ingest

import (
	"fmt"
	"strings"

	"github.com/user/nostrgit/internal/identity"
)

// Notice announces an entry first seen after the end of stored events.
type Notice struct {
	Target Target
	Kind   int
	Entry  Entry
}

// Collection returns the dedup kind name of the notice.
func (n Notice) Collection() string {
	if n.Kind == KindIssue {
		return "issues"
	}
	return "pulls"
}

// FormatMessage renders the notice as Telegram Markdown.
func (n Notice) FormatMessage() string {
	label, emoji := "PR", "🔀"
	switch n.Kind {
	case KindIssue:
		label, emoji = "Issue", "📝"
	case KindPatch:
		label, emoji = "Patch", "🩹"
	}

	title := n.Entry.Title
	if title == "" {
		title = truncateString(firstLine(n.Entry.Body), 80)
	}

	msg := fmt.Sprintf("%s *New %s #%d* in `%s`\n\n", emoji, label, n.Entry.Number, n.Target.Key())
	msg += fmt.Sprintf("📌 %s\n", escapeMarkdown(title))
	msg += fmt.Sprintf("👤 By: %s\n", escapeMarkdown(identity.Short(n.Entry.Author)))

	if n.Entry.Branch != "" {
		msg += fmt.Sprintf("🌿 Branch: `%s`\n", n.Entry.Branch)
	}
	if len(n.Entry.Labels) > 0 {
		msg += fmt.Sprintf("🏷️ Labels: %s\n", escapeMarkdown(strings.Join(n.Entry.Labels, ", ")))
	}
	if n.Entry.Title != "" && n.Entry.Body != "" {
		msg += fmt.Sprintf("\n%s\n", escapeMarkdown(truncateString(n.Entry.Body, 300)))
	}
	return msg
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// escapeMarkdown escapes Markdown control characters.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
