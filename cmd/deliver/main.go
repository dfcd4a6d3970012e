package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/fedrelay/config"
	"github.com/d60-Lab/fedrelay/internal/apub"
	"github.com/d60-Lab/fedrelay/internal/jsonld"
	"github.com/d60-Lab/fedrelay/internal/repository"
	"github.com/d60-Lab/fedrelay/internal/service"
	"github.com/d60-Lab/fedrelay/pkg/database"
	"github.com/d60-Lab/fedrelay/pkg/httpsig"
	"github.com/d60-Lab/fedrelay/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN}); err != nil {
			logger.Fatal("init sentry failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	keyPEM, err := os.ReadFile(cfg.Federation.PrivateKeyFile)
	if err != nil {
		logger.Fatal("read private key failed",
			zap.String("file", cfg.Federation.PrivateKeyFile), zap.Error(err))
	}
	privateKey, err := httpsig.ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		logger.Fatal("parse private key failed", zap.Error(err))
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Fatal("init database failed", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("migrate database failed", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	timeout := config.Duration(cfg.Federation.RequestTimeout, 30*time.Second)
	resolver := jsonld.NewResolver(jsonld.Options{
		UserAgent:  cfg.Federation.Origin + "/",
		Accept:     apub.JSONAccepts,
		Timeout:    timeout,
		Production: cfg.Production(),
		Cache:      jsonld.NewRedisCache(rdb, config.Duration(cfg.Federation.CacheTTL, 5*time.Minute)),
	})

	deliverService := service.NewDeliverService(
		db,
		repository.NewDeliveryRepository(),
		repository.NewOutboxRepository(),
		resolver,
		service.NewRedisNotifier(rdb),
		service.DeliverOptions{
			Origin:       cfg.Federation.Origin,
			PublicKeyURL: cfg.Federation.PublicKeyURL,
			PrivateKey:   privateKey,
			Production:   cfg.Production(),
			Workers:      cfg.Federation.Workers,
			PollInterval: config.Duration(cfg.Federation.PollInterval, time.Minute),
			DeliverDelay: config.Duration(cfg.Federation.DeliverDelay, 2*time.Second),
			BaseDelay:    config.Duration(cfg.Federation.BaseDelay, 10*time.Second),
			MaxAttempts:  cfg.Federation.MaxAttempts,
			Timeout:      timeout,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("delivery workers started", zap.Int("workers", cfg.Federation.Workers))
	deliverService.Run(ctx)
	logger.Info("delivery workers stopped")
}
