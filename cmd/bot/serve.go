package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"session_broadcaster_bot/internal/app"
	"session_broadcaster_bot/internal/infra/config"
	"session_broadcaster_bot/internal/infra/logger"
	"session_broadcaster_bot/internal/infra/metrics"
	"session_broadcaster_bot/internal/infra/mtproto"
	"session_broadcaster_bot/internal/infra/scheduler"
	"session_broadcaster_bot/internal/infra/storage"
	"session_broadcaster_bot/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/telebot.v3"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start every saved session and run the control bot",
		Long: `Loads configuration from the environment (and .env), starts one session per
saved credential, and serves the control bot until SIGINT or SIGTERM.

Storage is chosen by STORAGE_DRIVER: file, postgres, sqlite or redis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not load application configuration: %w", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")
	baseLogger := logrus.NewEntry(logger.Log)

	mainLogger.WithFields(logrus.Fields{
		"log_level":      cfg.LogLevel,
		"environment":    cfg.Environment,
		"admin_id":       cfg.AdminTelegramID,
		"storage_driver": cfg.StorageDriver,
	}).Info("Configuration loaded")

	backend, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("could not open %s storage: %w", cfg.StorageDriver, err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			mainLogger.WithError(err).Warn("Failed to close storage")
		}
	}()
	mainLogger.Info("Storage initialized")

	creds, err := backend.Credentials.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("could not load saved sessions: %w", err)
	}

	auth := mtproto.NewAuthenticator(cfg.APIID, cfg.APIHash, baseLogger)
	pool := app.NewSessionPool(auth, backend.Credentials, baseLogger)
	pool.SetCallTimeout(cfg.CallTimeout)
	defer pool.Close()

	mainLogger.WithField("saved", len(creds)).Info("Starting all sessions...")
	started, failures := pool.StartAll(ctx, creds)
	mainLogger.WithFields(logrus.Fields{
		"started": len(started),
		"failed":  len(failures),
	}).Info("Sessions started")

	collector, err := metrics.NewCollector(pool.Len)
	if err != nil {
		return fmt.Errorf("could not register metrics: %w", err)
	}
	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, collector, mainLogger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				mainLogger.WithError(err).Warn("Metrics server shutdown failed")
			}
		}()
	}

	engine := app.NewFanoutEngine(pool, backend.ActionLog, app.FanoutConfig{
		SendDelay:   cfg.SendDelay,
		JoinDelay:   cfg.JoinDelay,
		CallTimeout: cfg.CallTimeout,
	}, collector, baseLogger)
	adminService := app.NewAdminService(pool, engine, backend.Credentials, cfg.AdminTelegramID)

	maintenance := scheduler.NewMaintenanceScheduler(pool, baseLogger, cfg.CronSpecIdentityRefresh)
	if err := maintenance.Start(); err != nil {
		return err
	}
	defer maintenance.Stop()

	bot, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) { // Global error handler
			logCtx := logger.Component("telebot").WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				logCtx = logCtx.WithFields(logrus.Fields{
					"text":      c.Text(),
					"sender_id": c.Sender().ID,
					"chat_id":   c.Chat().ID,
				})
			}
			logCtx.Error("Handler error")
		},
	})
	if err != nil {
		return fmt.Errorf("could not create Telegram bot: %w", err)
	}

	telegram.RegisterBotCommands(bot, baseLogger)
	telegram.RegisterAdminHandlers(ctx, bot, adminService, collector, baseLogger)
	if err := bot.SetCommands(telegram.BotCommands()); err != nil {
		mainLogger.WithError(err).Warn("Failed to publish command menu")
	}
	mainLogger.Info("Command handlers registered")

	notifier := telegram.NewAdminNotifier(bot, cfg.AdminTelegramID)
	if err := notifier.NotifyStartup(len(started), failures); err != nil {
		mainLogger.WithError(err).Warn("Failed to send startup report to admin")
	}

	go bot.Start()
	mainLogger.Info("Bot is running")

	<-ctx.Done()
	mainLogger.Info("Shutting down application...")
	bot.Stop()
	return nil
}

func startMetricsServer(addr string, collector *metrics.Collector, log *logrus.Entry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.WithField("addr", addr).Info("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server failed")
		}
	}()
	return srv
}
