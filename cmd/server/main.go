package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailkite/mailkite-backend/internal/config"
	"github.com/mailkite/mailkite-backend/internal/db"
	"github.com/mailkite/mailkite-backend/internal/handler"
	"github.com/mailkite/mailkite-backend/internal/provider"
	"github.com/mailkite/mailkite-backend/internal/queue"
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

	if cfg.DB.RunMigrations {
		if err := db.Migrate(cfg.DB.DSN()); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

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

	campaignRepo := &repository.CampaignRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}
	ledgerRepo := &repository.LedgerRepository{DB: conn}

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

	campaignService := &service.CampaignService{
		CampaignRepo: campaignRepo,
		ContactRepo:  contactRepo,
		LedgerRepo:   ledgerRepo,
		Providers:    providers,
		Queue:        q,
		Log:          logger,
	}
	trackingService := &service.TrackingService{
		LedgerRepo: ledgerRepo,
		Log:        logger,
	}

	campaignHandler := &handler.CampaignHandler{
		Service:  campaignService,
		Tracking: trackingService,
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Group(func(r chi.Router) {
		r.Use(handler.TenantContext)
		campaignHandler.Routes(r)
	})

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	logger.Info("server listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
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
