package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/user/nostrgit/internal/api"
	"github.com/user/nostrgit/internal/config"
	"github.com/user/nostrgit/internal/github"
	"github.com/user/nostrgit/internal/ingest"
	"github.com/user/nostrgit/internal/migration"
	"github.com/user/nostrgit/internal/notifier"
	"github.com/user/nostrgit/internal/reconcile"
	"github.com/user/nostrgit/internal/relay"
	"github.com/user/nostrgit/internal/remote"
	"github.com/user/nostrgit/internal/storage"
	"github.com/user/nostrgit/internal/telegram"
	"github.com/user/nostrgit/pkg/logger"
)

// noticeRetentionDays bounds the delivered-notice dedup table.
const noticeRetentionDays = 30

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init("info", "")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	logger.Info().Msg("Starting nostrgit")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Watches and delivered notices always live in SQLite; the repository
	// cache may use Redis instead.
	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()
	watchStore := storage.NewWatchStore(db)

	var cache storage.Cache
	switch cfg.Database.Driver {
	case "redis":
		cache, err = storage.NewRedisCache(cfg.Database.RedisURL, cfg.Database.QuotaBytes)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
	default:
		cache = storage.NewSQLiteCache(db, cfg.Database.QuotaBytes)
	}
	defer cache.Close()
	logger.Info().Str("driver", cfg.Database.Driver).Msg("Cache initialized")

	session := migration.NewSession(cfg.Session.Pubkey, cfg.Session.DisplayName)
	if out, err := migration.NewRunner(cache, session).Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Entity migration failed")
	} else {
		logger.Info().
			Bool("skipped", out.Skipped).
			Bool("changed", out.Changed).
			Int("open_items", out.OpenItems).
			Msg("Entity migration finished")
	}

	var notices chan ingest.Notice
	pipelineOpts := []ingest.PipelineOption{ingest.WithStrictRecency(cfg.Ingest.StrictRecency)}
	if cfg.Telegram.Token != "" {
		notices = make(chan ingest.Notice, cfg.Ingest.NoticeBuffer)
		pipelineOpts = append(pipelineOpts, ingest.WithNotices(notices))
	}
	pipeline := ingest.NewPipeline(cache, pipelineOpts...)

	watcher := ingest.NewWatcher(pipeline, relay.NewPool(), cfg.Nostr.Relays, cfg.Nostr.RepoKinds)
	startWatching(ctx, watcher, pipeline, watchStore, session)

	ghClient := github.NewClient(cfg.GitHub.Token)

	server := &http.Server{
		Addr: cfg.ServerAddress(),
		Handler: api.NewRouter(api.Deps{
			Cache:      cache,
			Pipeline:   pipeline,
			Reconciler: reconcile.New(reconcile.WithBadEntities(cfg.Reconcile.BadEntities)),
			Session:    session,
			Hosts: remote.Hosts{
				SSHHost:      cfg.Remotes.SSHHost,
				BridgeURLs:   cfg.Remotes.BridgeURLs,
				NativeRelays: cfg.Remotes.NativeRelays,
			},
			Importer: ghClient,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("address", cfg.ServerAddress()).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	var bot *telegram.Bot
	if cfg.Telegram.Token != "" {
		bot, err = telegram.NewBot(cfg.Telegram.Token, cfg.Telegram.Debug, watchStore, pipeline, watcher, ghClient)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
		}
		go notifier.NewNotifier(bot, watchStore).Run(ctx, notices)
		go cleanupNotices(ctx, watchStore)
		bot.Start()
	} else {
		logger.Info().Msg("Telegram token not set, notifications disabled")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if bot != nil {
		bot.Stop()
	}
	watcher.Stop()

	logger.Info().Msg("Shutdown complete")
}

// startWatching subscribes to the session owner's and watched owners'
// repository announcements, then to every watched repository.
func startWatching(ctx context.Context, w *ingest.Watcher, p *ingest.Pipeline, store *storage.WatchStore, session migration.Session) {
	watched, err := store.AllWatchedRepos(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load watched repositories")
	}

	var owners []string
	seen := map[string]bool{}
	for _, key := range append([]string{session.PubkeyHex}, ownersOf(watched)...) {
		if key != "" && !seen[key] {
			seen[key] = true
			owners = append(owners, key)
		}
	}
	if len(owners) > 0 {
		if _, err := w.WatchOwners(owners); err != nil {
			logger.Error().Err(err).Msg("Failed to watch repository announcements")
		}
	}

	for _, wr := range watched {
		target, err := p.ResolveTarget(ctx, wr.Entity, wr.Repo)
		if err != nil {
			target = ingest.NewTarget(wr.Entity, wr.Repo, wr.OwnerPubkey)
		}
		if _, err := w.WatchRepository(target); err != nil {
			logger.Warn().Err(err).Str("repo", target.Key()).Msg("Failed to watch repository")
		}
	}
}

func ownersOf(watched []storage.WatchedRepo) []string {
	out := make([]string, 0, len(watched))
	for _, wr := range watched {
		out = append(out, wr.OwnerPubkey)
	}
	return out
}

// cleanupNotices prunes the delivered-notice table once a day.
func cleanupNotices(ctx context.Context, store *storage.WatchStore) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.CleanupOldNotices(ctx, noticeRetentionDays)
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to clean up delivered notices")
				continue
			}
			logger.Debug().Int64("removed", n).Msg("Cleaned up delivered notices")
		}
	}
}
