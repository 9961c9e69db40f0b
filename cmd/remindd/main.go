package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"remindd/internal/config"
	"remindd/internal/database"
	"remindd/internal/dispatch"
	"remindd/internal/models"
	"remindd/internal/notify"
	"remindd/internal/repository"
	"remindd/internal/scheduler"
	"remindd/internal/server"
	"remindd/internal/service"
	"remindd/internal/timer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}

	logger := buildLogger(cfg)
	if cfg.DatabaseURI == "" {
		logger.Fatal().Msg("DATABASE_URI is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, cfg.DatabaseURI, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	logger.Info().Msg("connected to database")

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	reminderRepo := repository.NewReminderRepository(db)
	endpointRepo := repository.NewEndpointRepository(db)
	timers := timer.New(cfg.MisfireGrace, logger)
	defer timers.Stop()

	transports := notify.Registry{}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegramTransport(cfg.TelegramToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create Telegram transport")
		}
		transports[models.PlatformTelegram] = tg
		logger.Info().Msg("Telegram transport enabled")
	}
	if cfg.PushGatewayURL != "" {
		transports[models.PlatformPush] = notify.NewPushTransport(cfg.PushGatewayURL, cfg.PushGatewayKey)
		logger.Info().Msg("push transport enabled")
	}
	if len(transports) == 0 {
		logger.Warn().Msg("no transports configured, reminders will trigger without delivery")
	}

	dispatcher := dispatch.New(reminderRepo, endpointRepo, transports, timers, logger)
	svc := service.New(reminderRepo, timers, dispatcher, logger)

	if _, err := svc.RearmTimers(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to re-arm timers, relying on sweep")
	}

	sweeper := scheduler.New(reminderRepo, dispatcher, cfg.SweepInterval, logger)
	go sweeper.Start(ctx)

	srv := server.New(svc, endpointRepo, dispatcher, logger)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info().Msg("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("http server error")
	}
}

func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if !cfg.LogPretty {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
