package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	apperrors "github.com/user/nostrgit/internal/errors"
	"github.com/user/nostrgit/internal/github"
	"github.com/user/nostrgit/internal/ingest"
	"github.com/user/nostrgit/internal/storage"
	"github.com/user/nostrgit/pkg/logger"
)

// API is the part of the Telegram client the handlers use.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Resolver finds repositories and reads their cached collections.
type Resolver interface {
	ResolveTarget(ctx context.Context, entity, name string) (ingest.Target, error)
	Entries(ctx context.Context, target ingest.Target, kind storage.Kind, opts ingest.ViewOptions) ([]ingest.Entry, error)
}

// Watcher manages relay subscriptions of watched repositories.
type Watcher interface {
	WatchRepository(target ingest.Target) (string, error)
	Unwatch(id string) bool
	Subscriptions() []*ingest.Subscription
}

// Handlers manages command handling for the bot.
type Handlers struct {
	api       API
	store     *storage.WatchStore
	resolver  Resolver
	watcher   Watcher
	ghClient  *github.Client
	startTime time.Time
}

// NewHandlers creates a new handlers instance.
func NewHandlers(api API, store *storage.WatchStore, resolver Resolver, watcher Watcher) *Handlers {
	return &Handlers{
		api:       api,
		store:     store,
		resolver:  resolver,
		watcher:   watcher,
		startTime: time.Now(),
	}
}

// SetGitHubClient sets the GitHub client used for rate limit reporting.
func (h *Handlers) SetGitHubClient(client *github.Client) {
	h.ghClient = client
}

// SetStartTime sets the bot start time for uptime calculation.
func (h *Handlers) SetStartTime(t time.Time) {
	h.startTime = t
}

// HandleCommand routes commands to appropriate handlers.
func (h *Handlers) HandleCommand(msg *tgbotapi.Message) {
	command := msg.Command()
	args := msg.CommandArguments()

	logger.Debug().
		Str("command", command).
		Str("args", args).
		Int64("chat_id", msg.Chat.ID).
		Msg("Received command")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h.trackChat(ctx, msg.Chat)

	switch command {
	case "start":
		h.handleStart(msg)
	case "help":
		h.handleHelp(msg)
	case "watch":
		h.handleWatch(ctx, msg.Chat.ID, args)
	case "unwatch":
		h.handleUnwatch(ctx, msg.Chat.ID, args)
	case "list":
		h.handleList(ctx, msg)
	case "pulls":
		h.handleEntries(ctx, msg.Chat.ID, args, storage.KindPulls)
	case "issues":
		h.handleEntries(ctx, msg.Chat.ID, args, storage.KindIssues)
	case "status":
		h.handleStatus(ctx, msg)
	default:
		h.sendReply(msg.Chat.ID, "Unknown command. Use /help to see the available commands.")
	}
}

// HandleCallback handles inline keyboard callbacks.
func (h *Handlers) HandleCallback(callback *tgbotapi.CallbackQuery) {
	if _, err := h.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		logger.Warn().Err(err).Msg("Failed to acknowledge callback")
	}
	if callback.Message == nil || callback.Message.Chat == nil {
		return
	}

	action, arg, _ := strings.Cut(callback.Data, ":")
	switch action {
	case "unwatch":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		h.handleUnwatchCallback(ctx, callback.Message.Chat.ID, arg)
	}
}

// handleUnwatchCallback handles the inline unwatch button. Callback data is
// capped at 64 bytes, so buttons carry the watch id instead of the key.
func (h *Handlers) handleUnwatchCallback(ctx context.Context, chatID int64, arg string) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return
	}
	watches, err := h.store.WatchesByChat(ctx, chatID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to get watches")
		return
	}
	for _, w := range watches {
		if w.ID == id {
			h.handleUnwatch(ctx, chatID, w.Entity+"/"+w.Repo)
			return
		}
	}
	h.sendReply(chatID, "❌ That watch no longer exists")
}

// trackChat stores chat information for notifications.
func (h *Handlers) trackChat(ctx context.Context, chat *tgbotapi.Chat) {
	title := chat.Title
	if chat.IsPrivate() {
		title = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	}

	if err := h.store.CreateOrUpdateChat(ctx, chat.ID, chat.Type, title); err != nil {
		logger.Error().Err(err).Int64("chat_id", chat.ID).Msg("Failed to track chat")
	}
}

func (h *Handlers) handleStart(msg *tgbotapi.Message) {
	text := `🤖 *Welcome!*

I follow git repositories published on Nostr relays and tell you about:
• 🔀 new pull requests and patches
• 📝 new issues

*Quick start:*
` + "`/watch <owner>/<repo>`" + `

The owner is an npub or a hex public key.
Use /help to see every command.`

	h.sendMarkdown(msg.Chat.ID, text)
}

func (h *Handlers) handleHelp(msg *tgbotapi.Message) {
	text := `📚 *Commands*

*Watching:*
• ` + "`/watch <owner>/<repo>`" + ` - notify this chat about new PRs and issues
• ` + "`/unwatch <owner>/<repo>`" + ` - stop watching
• ` + "`/list`" + ` - show watched repositories

*Browsing:*
• ` + "`/pulls <owner>/<repo> [status]`" + ` - list pull requests
• ` + "`/issues <owner>/<repo> [status]`" + ` - list issues

*Other:*
• ` + "`/status`" + ` - service status`

	h.sendMarkdown(msg.Chat.ID, text)
}

func (h *Handlers) handleWatch(ctx context.Context, chatID int64, args string) {
	entity, name, err := parseRepoArg(args)
	if err != nil {
		h.sendReply(chatID, "❌ Usage: `/watch <owner>/<repo>`")
		return
	}

	target, err := h.resolver.ResolveTarget(ctx, entity, name)
	if err != nil {
		h.replyResolveError(chatID, entity, name, err)
		return
	}

	if h.watcher != nil {
		if _, err := h.watcher.WatchRepository(target); err != nil {
			logger.Error().Err(err).Str("repo", target.Key()).Msg("Failed to subscribe")
			if errors.Is(err, apperrors.ErrInvalidIdentifier) {
				h.sendReply(chatID, fmt.Sprintf("❌ The owner of %s is unknown, use an npub or hex key", FormatRepoRef(entity, name)))
			} else {
				h.sendReply(chatID, "⚠️ Could not reach the relays, please try again later")
			}
			return
		}
	}

	if err := h.store.Watch(ctx, chatID, target.Entity, target.Slug, target.OwnerHex); err != nil {
		logger.Error().Err(err).Str("repo", target.Key()).Msg("Failed to store watch")
		h.sendReply(chatID, "❌ Failed to watch, please try again later")
		return
	}

	h.sendMarkdown(chatID, fmt.Sprintf("✅ *Watching* %s\n\nNew pull requests and issues will be posted here.", FormatRepoRef(target.Entity, target.Slug)))
}

func (h *Handlers) handleUnwatch(ctx context.Context, chatID int64, args string) {
	entity, name, err := parseRepoArg(args)
	if err != nil {
		h.sendReply(chatID, "❌ Usage: `/unwatch <owner>/<repo>`")
		return
	}

	target, err := h.resolver.ResolveTarget(ctx, entity, name)
	if err != nil {
		target = ingest.Target{Entity: entity, Slug: name}
	}

	if err := h.store.Unwatch(ctx, chatID, target.Entity, target.Slug); err != nil {
		if errors.Is(err, storage.ErrWatchNotFound) {
			h.sendReply(chatID, fmt.Sprintf("❌ %s is not watched here", FormatRepoRef(entity, name)))
			return
		}
		logger.Error().Err(err).Str("repo", target.Key()).Msg("Failed to unwatch")
		h.sendReply(chatID, "❌ Failed to unwatch, please try again later")
		return
	}

	h.releaseSubscription(ctx, target)
	h.sendReply(chatID, fmt.Sprintf("✅ Stopped watching %s", FormatRepoRef(target.Entity, target.Slug)))
}

// releaseSubscription closes the relay subscription of target once no chat
// watches it.
func (h *Handlers) releaseSubscription(ctx context.Context, target ingest.Target) {
	if h.watcher == nil {
		return
	}
	remaining, err := h.store.WatchesByRepo(ctx, target.Entity, target.Slug)
	if err != nil || len(remaining) > 0 {
		return
	}
	for _, s := range h.watcher.Subscriptions() {
		if s.Target.Key() == target.Key() {
			h.watcher.Unwatch(s.ID)
		}
	}
}

func (h *Handlers) handleList(ctx context.Context, msg *tgbotapi.Message) {
	watches, err := h.store.WatchesByChat(ctx, msg.Chat.ID)
	if err != nil {
		h.sendReply(msg.Chat.ID, "❌ Failed to load watches")
		logger.Error().Err(err).Msg("Failed to get watches")
		return
	}

	if len(watches) == 0 {
		h.sendReply(msg.Chat.ID, "📭 Nothing watched yet\n\nUse `/watch <owner>/<repo>` to start")
		return
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, FormatWatchList(watches))
	reply.ParseMode = tgbotapi.ModeMarkdown
	reply.DisableWebPagePreview = true

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(watches))
	for _, w := range watches {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✖ "+w.Repo, "unwatch:"+strconv.FormatInt(w.ID, 10)),
		))
	}
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)

	if _, err := h.api.Send(reply); err != nil {
		logger.Error().Err(err).Msg("Failed to send watch list")
	}
}

func (h *Handlers) handleEntries(ctx context.Context, chatID int64, args string, kind storage.Kind) {
	repoArg, statusArg, _ := strings.Cut(strings.TrimSpace(args), " ")
	entity, name, err := parseRepoArg(repoArg)
	if err != nil {
		h.sendReply(chatID, fmt.Sprintf("❌ Usage: `/%s <owner>/<repo> [open|applied|closed|draft]`", kind))
		return
	}

	opts := ingest.ViewOptions{Status: ingest.StatusOpen}
	if s := strings.TrimSpace(statusArg); s != "" {
		opts.Status = ingest.ParseStatus(s)
		if opts.Status == "" {
			h.sendReply(chatID, fmt.Sprintf("❌ Unknown status `%s`", s))
			return
		}
	}

	target, err := h.resolver.ResolveTarget(ctx, entity, name)
	if err != nil {
		h.replyResolveError(chatID, entity, name, err)
		return
	}

	entries, err := h.resolver.Entries(ctx, target, kind, opts)
	if err != nil {
		logger.Error().Err(err).Str("repo", target.Key()).Msg("Failed to load entries")
		h.sendReply(chatID, "❌ Failed to load entries")
		return
	}

	label := "pull requests"
	if kind == storage.KindIssues {
		label = "issues"
	}
	h.sendMarkdown(chatID, FormatEntries(string(opts.Status)+" "+label, target, entries))
}

func (h *Handlers) handleStatus(ctx context.Context, msg *tgbotapi.Message) {
	uptime := formatDuration(time.Since(h.startTime))

	repoCount := 0
	if repos, err := h.store.AllWatchedRepos(ctx); err == nil {
		repoCount = len(repos)
	}

	chatCount := 0
	if watches, err := h.store.WatchesByChat(ctx, msg.Chat.ID); err == nil {
		chatCount = len(watches)
	}

	subs, settled := 0, 0
	if h.watcher != nil {
		for _, s := range h.watcher.Subscriptions() {
			subs++
			if s.State() == ingest.StateSettled {
				settled++
			}
		}
	}

	rateLimitInfo := "unknown"
	if h.ghClient != nil {
		limits, err := h.ghClient.GetRateLimit(ctx)
		if err == nil && limits != nil && limits.Core != nil {
			resetIn := time.Until(limits.Core.Reset.Time)
			rateLimitInfo = fmt.Sprintf("%d/%d (resets in %s)", limits.Core.Remaining, limits.Core.Limit, formatDuration(resetIn))
		}
	}

	text := fmt.Sprintf(`📊 *Status*

⏱️ *Uptime:* %s

📡 *Relays:*
• Subscriptions: %d (%d settled)
• Watched repositories: %d

👤 *This chat:*
• Watches: %d

🔗 *GitHub import quota:* %s
`, uptime, subs, settled, repoCount, chatCount, rateLimitInfo)

	h.sendMarkdown(msg.Chat.ID, text)
}

func (h *Handlers) replyResolveError(chatID int64, entity, name string, err error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		h.sendReply(chatID, fmt.Sprintf("❌ Repository %s not found. Use an npub or hex key as the owner.", FormatRepoRef(entity, name)))
		return
	}
	logger.Error().Err(err).Str("entity", entity).Str("repo", name).Msg("Failed to resolve repository")
	h.sendReply(chatID, "⚠️ Failed to look up the repository, please try again later")
}

// formatDuration formats a duration to a human-readable string.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// sendReply sends a simple text reply.
func (h *Handlers) sendReply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := h.api.Send(msg); err != nil {
		logger.Error().Err(err).Msg("Failed to send reply")
	}
}

// sendMarkdown sends a markdown-formatted message.
func (h *Handlers) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := h.api.Send(msg); err != nil {
		logger.Error().Err(err).Msg("Failed to send markdown message")
	}
}

// parseRepoArg parses "owner/repo".
func parseRepoArg(arg string) (entity, repo string, err error) {
	parts := strings.Split(strings.TrimSpace(arg), "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid format")
	}

	entity = strings.TrimSpace(parts[0])
	repo = strings.TrimSpace(parts[1])
	if entity == "" || repo == "" {
		return "", "", fmt.Errorf("empty owner or repo")
	}
	return entity, repo, nil
}
