package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/do/v2"
	"golang.org/x/sync/errgroup"

	audioimpl "github.com/foxseedlab/voicecal/external/audio"
	calendarimpl "github.com/foxseedlab/voicecal/external/calendar"
	configloader "github.com/foxseedlab/voicecal/external/config"
	discordimpl "github.com/foxseedlab/voicecal/external/discord"
	intentimpl "github.com/foxseedlab/voicecal/external/intent"
	repositoryimpl "github.com/foxseedlab/voicecal/external/repository"
	transcriberimpl "github.com/foxseedlab/voicecal/external/transcriber"
	webhookimpl "github.com/foxseedlab/voicecal/external/webhook"
	"github.com/foxseedlab/voicecal/external/websocket"
	"github.com/foxseedlab/voicecal/internal/config"
	"github.com/foxseedlab/voicecal/internal/discordbot"
	"github.com/foxseedlab/voicecal/internal/repository"
	"github.com/foxseedlab/voicecal/internal/session"
)

const (
	orphanCleanupTimeout = 10 * time.Second
	shutdownTimeout      = 15 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "calendar_source", cfg.CalendarSource)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, injector); err != nil {
		slog.Error("backend stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	calendarimpl.RegisterDI(injector)
	intentimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	discordimpl.RegisterDI(injector)
	session.RegisterDI(injector)
	discordbot.RegisterDI(injector)
	websocket.RegisterDI(injector)

	return injector
}

func run(ctx context.Context, cfg *config.Config, injector do.Injector) error {
	repo, err := do.Invoke[repository.Repository](injector)
	if err != nil {
		return err
	}
	completeOrphanSessions(ctx, repo)

	registry, err := do.Invoke[*session.Registry](injector)
	if err != nil {
		return err
	}
	janitor, err := do.Invoke[*session.Janitor](injector)
	if err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.HTTPAddr != "" {
		srv, err := do.Invoke[*websocket.Server](injector)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(gctx) })
	}
	if cfg.DiscordEnabled {
		bot, err := do.Invoke[*discordbot.Bot](injector)
		if err != nil {
			return err
		}
		slog.Info("startup: launching discord bot", "guild_id", cfg.DiscordGuildID)
		g.Go(func() error { return bot.Run(gctx) })
	}

	runErr := g.Wait()
	slog.Info("shutting down", "sessions", registry.Count())

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := registry.CloseAll(shutdownCtx, session.StopReasonServerShutdown); err != nil {
		slog.Error("failed to close sessions", "error", err)
	}
	if report := injector.ShutdownWithContext(shutdownCtx); report != nil && !report.Succeed {
		slog.Warn("dependency shutdown reported errors", "error", report.Error())
	}
	return runErr
}

func completeOrphanSessions(ctx context.Context, repo repository.Repository) {
	ctx, cancel := context.WithTimeout(ctx, orphanCleanupTimeout)
	defer cancel()
	n, err := repo.CompleteOrphanSessions(ctx, time.Now(), session.StopReasonServerShutdown)
	if err != nil {
		slog.Error("failed to complete orphan sessions", "error", err)
		return
	}
	if n > 0 {
		slog.Info("completed orphan sessions", "count", n)
	}
}
