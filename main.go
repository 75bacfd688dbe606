// Package main runs the TellMyShow bot: Telegram users enroll to be notified
// when ticket booking opens for a movie at a venue on a date, and a
// background loop polls BookMyShow to detect the opening.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/booking"
	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/bot"
	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/enroll"
	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/reconcile"
	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/store"
	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Optional .env for local development; real deployments set the
	// environment directly.
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", "error", err)
	}

	appVersion := os.Getenv("BMS_APP_VERSION")
	if appVersion == "" {
		logger.Error("BMS_APP_VERSION environment variable required (Play Store app version, e.g. 10.4.2)")
		os.Exit(1)
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "db/bms.db"
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		logger.Error("Failed to create database directory", "path", dbPath, "error", err)
		os.Exit(1)
	}

	interval := reconcile.DefaultInterval
	if raw := os.Getenv("POLL_INTERVAL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			logger.Error("Invalid POLL_INTERVAL", "value", raw, "error", err)
			os.Exit(1)
		}
		interval = parsed
	}

	db, err := store.Open(store.Config{Path: dbPath, Logger: logger})
	if err != nil {
		logger.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("Failed to close store", "error", err)
		}
	}()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	bookingClient := booking.New(httpClient, logger, appVersion)

	// Without a bot token the service runs in local development mode:
	// deliveries are logged by the mock provider and the command surface is
	// disabled, but the reconciliation loop still runs.
	token := os.Getenv("TELEGRAM_BOT_TOKEN")

	var api *tgbotapi.BotAPI
	var provider telegram.Provider
	if token == "" {
		logger.Info("No TELEGRAM_BOT_TOKEN set, running with mock deliveries")
		provider = telegram.NewMockProvider(logger)
	} else {
		api, err = tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, httpClient)
		if err != nil {
			logger.Error("Failed to initialize Telegram bot", "error", err)
			os.Exit(1)
		}
		logger.Info("Telegram bot authorized", "username", api.Self.UserName)
		provider = telegram.NewBotProvider(api, logger)
	}
	sender := telegram.New(provider, logger)

	enrollService := enroll.New(db, bookingClient, sender, logger)
	monitor := reconcile.New(db, bookingClient, sender, logger)

	go monitor.Run(ctx, interval)

	if api != nil {
		commandBot := bot.New(api, enrollService, db, bookingClient, sender, logger)
		commandBot.Run(ctx)
	} else {
		<-ctx.Done()
	}

	logger.Info("Shutting down")
}
