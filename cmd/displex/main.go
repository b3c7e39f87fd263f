package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/displex/displex/internal/accounts"
	"github.com/displex/displex/internal/api"
	"github.com/displex/displex/internal/api/ratelimit"
	"github.com/displex/displex/internal/config"
	"github.com/displex/displex/internal/crypto"
	"github.com/displex/displex/internal/database"
	"github.com/displex/displex/internal/discord"
	"github.com/displex/displex/internal/httpclient"
	"github.com/displex/displex/internal/linking"
	"github.com/displex/displex/internal/logger"
	"github.com/displex/displex/internal/plex"
	"github.com/displex/displex/internal/scheduler"
	"github.com/displex/displex/internal/scheduler/tasks"
	"github.com/displex/displex/internal/session"
	"github.com/displex/displex/internal/startup"
	"github.com/displex/displex/internal/tautulli"
)

const usage = `Usage: displex [-config path] [command]

Commands:
  serve              run the HTTP server (default)
  register-metadata  register the role connection metadata schema with Discord
  migrate-down       roll back the most recent database migration
`

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Close()

	httpClient := httpclient.New(httpclient.Options{
		ConnectTimeout:     cfg.HTTP.ConnectTimeout,
		Timeout:            cfg.HTTP.Timeout,
		AcceptInvalidCerts: cfg.HTTP.AcceptInvalidCerts,
	})

	discordClient := discord.NewClient(httpClient, discord.Config{
		ClientID:     cfg.Discord.ClientID,
		ClientSecret: cfg.Discord.ClientSecret,
		RedirectURL:  cfg.Server.BaseURL() + "/discord/callback",
		BotToken:     cfg.Discord.BotToken,
	}, log.Logger)

	switch cmd := flag.Arg(0); cmd {
	case "register-metadata":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := registerMetadata(ctx, discordClient, log.WithComponent("startup")); err != nil {
			log.Error().Err(err).Msg("failed to register metadata")
			log.Close()
			os.Exit(1)
		}
	case "migrate-down":
		if err := migrateDown(cfg, log.WithComponent("database")); err != nil {
			log.Error().Err(err).Msg("failed to roll back migration")
			log.Close()
			os.Exit(1)
		}
	case "", "serve":
		if err := serve(cfg, log, httpClient, discordClient); err != nil {
			log.Error().Err(err).Msg("displex stopped with error")
			log.Close()
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
}

func registerMetadata(ctx context.Context, client *discord.Client, log zerolog.Logger) error {
	return startup.WithRetry(ctx, "discord metadata registration", startup.DefaultRetryConfig(), func(ctx context.Context) error {
		_, err := client.RegisterMetadata(ctx, discord.DefaultMetadataRecords)
		return err
	}, log)
}

func migrateDown(cfg *config.Config, log zerolog.Logger) error {
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.MigrateDown(); err != nil {
		return err
	}
	version, err := db.Version()
	if err != nil {
		return err
	}
	log.Info().Str("path", db.Path()).Int64("schemaVersion", version).Msg("rolled back database migration")
	return nil
}

func serve(cfg *config.Config, log *logger.Logger, httpClient *http.Client, discordClient *discord.Client) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Info().
		Str("version", config.Version).
		Str("hostname", cfg.Server.Hostname).
		Str("sessionBackend", cfg.Session.Backend).
		Msg("starting displex")

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	dbLog := log.WithComponent("database")
	dbLog.Info().Str("path", db.Path()).Msg("running database migrations")
	if err := db.Migrate(); err != nil {
		return err
	}
	version, err := db.Version()
	if err != nil {
		return err
	}
	dbLog.Info().Int64("schemaVersion", version).Msg("database schema up to date")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Discord.RegisterMetadata {
		if err := registerMetadata(ctx, discordClient, log.WithComponent("startup")); err != nil {
			log.Warn().Err(err).Msg("failed to register role connection metadata, linked roles may not show until it is registered")
		}
	}

	plexClient := plex.NewClient(httpClient, plex.Config{
		ClientID:   cfg.Plex.ClientID,
		Product:    "displex",
		Version:    config.Version,
		ForwardURL: cfg.Server.BaseURL() + "/plex/callback",
	}, log.Logger)

	var stats linking.StatsProvider
	tautulliClient := tautulli.NewClient(httpClient, cfg.Tautulli.URL, cfg.Tautulli.APIKey, log.Logger)
	if tautulliClient.Configured() {
		stats = tautulliClient
	} else {
		log.Warn().Msg("tautulli is not configured, linked roles will carry zero watch statistics")
	}

	secrets := crypto.NewSecretStore(cfg.Security.TokenKey)
	if !secrets.Enabled() {
		log.Warn().Msg("security.token_key is not set, tokens are stored unencrypted")
	}
	repo := accounts.NewRepository(db.Conn(), secrets, log.Logger)

	orchestrator := linking.NewOrchestrator(linking.Config{
		ServerID:     cfg.Plex.ServerID,
		PlatformName: cfg.ApplicationName,
		QueryDays:    cfg.Tautulli.QueryDays,
	}, discordClient, plexClient, stats, repo, log.Logger)

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		return err
	}

	cookieOpts := session.CookieOptions{Secure: cfg.Server.SecureCookies, TTL: cfg.Session.TTL}
	var store session.Store
	switch cfg.Session.Backend {
	case config.SessionBackendDatabase:
		dbStore := session.NewDBStore(db.Conn(), cookieOpts)
		if err := tasks.RegisterSessionCleanupTask(sched, dbStore, log.Logger); err != nil {
			return err
		}
		store = dbStore
	default:
		store, err = session.NewCookieStore(cfg.Session.SecretKey, cookieOpts)
		if err != nil {
			return err
		}
	}

	limiter := ratelimit.NewLimiter(ratelimit.DefaultRequestsPerMinute, ratelimit.DefaultBurst)
	if err := tasks.RegisterRateLimitCleanupTask(sched, limiter, log.Logger); err != nil {
		return err
	}

	server := api.NewServer(orchestrator, store, db.Conn(), limiter, log.Logger)

	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Error().Err(err).Msg("scheduler shutdown error")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
	return nil
}
