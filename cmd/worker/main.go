package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mailkite/mailkite-backend/internal/config"
	"github.com/mailkite/mailkite-backend/internal/db"
	"github.com/mailkite/mailkite-backend/internal/provider"
	"github.com/mailkite/mailkite-backend/internal/queue"
	"github.com/mailkite/mailkite-backend/internal/ratelimit"
	"github.com/mailkite/mailkite-backend/internal/repository"
	"github.com/mailkite/mailkite-backend/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	conn, err := db.Connect(cfg.DB.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	q, err := queue.NewAMQPQueue(cfg.AMQP.URL, cfg.AMQP.Queue, logger)
	if err != nil {
		logger.Error("failed to connect to AMQP", "error", err)
		os.Exit(1)
	}
	defer q.Close()

	providers := provider.NewRegistry(cfg.Dispatch.DefaultProvider,
		provider.NewSMTPProvider(provider.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Timeout:  cfg.Dispatch.SendTimeout,

			InsecureSkipVerify: cfg.SMTP.SkipTLSVerify,
		}),
		provider.NewStubProvider("sendgrid"),
		provider.NewStubProvider("mailgun"),
		provider.NewStubProvider("ses"),
	)

	limiter, err := ratelimit.NewSendLimiter(
		cfg.Dispatch.RateLimit, cfg.Dispatch.RateWindow, cfg.Dispatch.TokenMaxWait)
	if err != nil {
		logger.Error("invalid rate limit configuration", "error", err)
		os.Exit(1)
	}

	worker := &service.DispatchWorker{
		CampaignRepo: &repository.CampaignRepository{DB: conn},
		ContactRepo:  &repository.ContactRepository{DB: conn},
		LedgerRepo:   &repository.LedgerRepository{DB: conn},
		Providers:    providers,
		Limiter:      limiter,
		BatchSize:    cfg.Dispatch.BatchSize,
		SendTimeout:  cfg.Dispatch.SendTimeout,
		Log:          logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("worker running, waiting for activations", "queue", cfg.AMQP.Queue)
	if err := q.Consume(ctx, worker.RunActivation); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func newLogger(cfg config.Log) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}
