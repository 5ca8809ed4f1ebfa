package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sangam/internal/api"
	"sangam/internal/commands"
	"sangam/internal/config"
	"sangam/internal/http"
	applog "sangam/internal/log"
	"sangam/internal/presence"
	"sangam/internal/push"
	"sangam/internal/storage"
	"sangam/internal/ws"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("sangam", flag.ContinueOnError)
	addUser := flags.String("add-user", "", "Username to create or update through the admin API of a running server")
	displayName := flags.String("display-name", "", "Display name for -add-user")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*addUser != "")
	if err != nil {
		return err
	}
	applog.Init(cfg.AppEnv, cfg.LogLevel)

	if *addUser != "" {
		return commands.AddUser(*addUser, *displayName, cfg)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	if n, err := bbStorage.ResetPresence(time.Now()); err != nil {
		return err
	} else if n > 0 {
		log.Info().Int("users", n).Msg("cleared presence left from previous run")
	}

	directory := storage.NewCachedDirectory(ctx, bbStorage, cfg.UserCacheTTL)

	hub := ws.NewHub(cfg.SendBuffer)
	registry := presence.NewRegistry()
	tracker := presence.NewTracker(registry, directory, hub, cfg.InactivityThreshold)

	var notifier ws.Notifier
	if cfg.PushEnabled() {
		notifier = push.NewNotifier(push.Config{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subject:    cfg.VAPIDSubject,
		}, directory)
		log.Info().Msg("web push enabled")
	}

	dispatcher := ws.NewDispatcher(hub, tracker, bbStorage, directory, notifier)
	sockets := ws.NewServer(hub, dispatcher, ws.ServerConfig{
		PingInterval: cfg.PingInterval,
		PongWait:     cfg.PongWait,
		EventRate:    cfg.EventRate,
		EventBurst:   cfg.EventBurst,
	})

	handlers := api.New(bbStorage, directory, cfg.HistoryPageLimit, cfg.VAPIDPublicKey)
	adminServer := http.NewAdminServer(directory, registry, cfg.AdminAddr)

	g, gCtx := errgroup.WithContext(ctx)
	apiServer := http.NewAPIServer(gCtx, handlers, sockets, cfg.APIAddr)

	g.Go(adminServer.Start)
	g.Go(apiServer.Start)

	g.Go(func() error {
		return tracker.Run(gCtx, cfg.SweepInterval)
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("admin server shutdown error")
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("application error")
	}
}
