package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mood-bot/internal/advice"
	"mood-bot/internal/cache"
	"mood-bot/internal/config"
	"mood-bot/internal/convo"
	"mood-bot/internal/httpserver"
	"mood-bot/internal/ledger"
	"mood-bot/internal/logging"
	"mood-bot/internal/metrics"
	"mood-bot/internal/payment"
	"mood-bot/internal/repo"
	"mood-bot/internal/session"
	"mood-bot/internal/telegram"
	"mood-bot/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.AppEnv)
	logger.Info("starting mood-bot", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	var repository repo.Repository
	if cfg.DatabaseURL != "" {
		repository, err = repo.New(ctx, cfg.DatabaseURL, logger)
	} else {
		repository, err = repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	}
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	tgClient, err := telegram.New(cfg.TelegramToken, logger, metricRegistry)
	if err != nil {
		return fmt.Errorf("init telegram client: %w", err)
	}

	adviceClient := advice.New(advice.Config{
		APIKey:   cfg.YandexGPTAPIKey,
		FolderID: cfg.YandexGPTFolderID,
		Model:    cfg.YandexGPTModel,
		Timeout:  cfg.YandexGPTTimeout,
	}, logger, metricRegistry)

	creditLedger := ledger.New(repository, logger, metricRegistry)

	paymentController := payment.New(repository, creditLedger, tgClient, logger, metricRegistry, payment.Config{
		Currency:     "XTR",
		InvoiceStars: cfg.InvoiceStars,
		CreditAmount: cfg.AdvicePrice,
	})

	engine := convo.New(
		session.NewManager(),
		repository,
		repository,
		creditLedger,
		adviceClient,
		paymentController,
		tgClient,
		logger,
		metricRegistry,
		convo.EngineConfig{
			AdviceWindow: cfg.AdviceWindow,
			ReportWindow: cfg.ReportWindow,
			AdvicePrice:  cfg.AdvicePrice,
		},
	)
	tgClient.SetProcessor(engine)

	tgCtx, tgCancel := context.WithCancel(ctx)
	defer tgCancel()
	go func() {
		if err := tgClient.Run(tgCtx); err != nil {
			logger.Error("telegram client stopped", "error", err)
			stop()
		}
	}()

	httpSrv := httpserver.New(httpserver.Config{
		Addr:          cfg.HTTPListenAddr,
		BasePath:      cfg.PublicBasePath,
		StatsCacheTTL: cfg.StatsCacheTTL,
	}, logger, metricRegistry, httpserver.Dependencies{
		Repository: repository,
		Redis:      redisClient,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
