// Command gazette is the daily activity summary service.
//
// Usage:
//
//	gazette -config gazette.yaml
//
// Secrets (GEMINI_API_KEY, LINKEDIN_ACCESS_TOKEN, TELEGRAM_BOT_TOKEN,
// TELEGRAM_CHAT_ID, GAZETTE_WEBHOOK_TOKEN) come from the environment; a
// .env file next to the binary is loaded if present.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/gazette"
	"github.com/hazyhaar/gazette/dbopen"
	"github.com/hazyhaar/gazette/internal/gate"
	"github.com/hazyhaar/gazette/internal/publish"
	"github.com/hazyhaar/gazette/internal/store"
	"github.com/hazyhaar/gazette/internal/summarize"
)

func main() {
	configPath := flag.String("config", "gazette.yaml", "path to YAML config file")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	// Missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()

	cfg, err := gazette.LoadConfigFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("gazette: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *gazette.Config) error {
	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(store.Schema),
	)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	opts := []gazette.ServiceOption{
		gazette.WithMetricsRegistry(prometheus.NewRegistry()),
	}

	summarizer, err := summarize.New(ctx, summarize.Config{
		APIKey:  cfg.Gemini.APIKey,
		Models:  cfg.Gemini.Models,
		Timeout: cfg.GenerateTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("summarizer: %w", err)
	}
	opts = append(opts, gazette.WithSummarizer(summarizer))

	if cfg.Webhook.URL != "" {
		opts = append(opts, gazette.WithPublisher(publish.NewWebhook(cfg.Webhook.URL)))
		logger.Info("publishing via webhook relay")
	} else {
		opts = append(opts, gazette.WithPublisher(publish.NewLinkedIn(cfg.LinkedIn.AccessToken)))
		logger.Info("publishing via LinkedIn")
	}

	var notifier *gate.TelegramNotifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		notifier, err = gate.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			return fmt.Errorf("telegram notifier: %w", err)
		}
		opts = append(opts, gazette.WithReviewNotifier(notifier))
	}

	svc, err := gazette.New(db, cfg, logger, opts...)
	if err != nil {
		return err
	}

	if notifier != nil {
		notifier.Resolve = svc.ResolveReview
		notifier.Start(ctx)
	}

	svc.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gazette listening",
		"addr", cfg.Listen,
		"db", cfg.DBPath,
		"publish_time", cfg.PublishTime,
		"review_required", cfg.ReviewRequired,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
