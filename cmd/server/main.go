package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/fedrelay/config"
	"github.com/d60-Lab/fedrelay/internal/api"
	"github.com/d60-Lab/fedrelay/internal/api/handler"
	"github.com/d60-Lab/fedrelay/internal/apub"
	"github.com/d60-Lab/fedrelay/internal/jsonld"
	"github.com/d60-Lab/fedrelay/internal/repository"
	"github.com/d60-Lab/fedrelay/internal/service"
	"github.com/d60-Lab/fedrelay/pkg/database"
	"github.com/d60-Lab/fedrelay/pkg/logger"
	"github.com/d60-Lab/fedrelay/pkg/tracing"
)

// loggingNoteHandler 领域层接入点：上层业务实现 service.NoteHandler
// 并在此替换。默认实现只记录收到的笔记。
type loggingNoteHandler struct{}

func (loggingNoteHandler) HandleNote(ctx context.Context, note *service.Note) error {
	logger.Info("note received",
		zap.String("note", note.ID),
		zap.String("actor", note.Actor.ID),
		zap.Int("mentions", len(note.Mentions)))
	return nil
}

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg)
	if err != nil {
		logger.Fatal("init tracing failed", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

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

	resolver := jsonld.NewResolver(jsonld.Options{
		UserAgent:  cfg.Federation.Origin + "/",
		Accept:     apub.JSONAccepts,
		Timeout:    config.Duration(cfg.Federation.RequestTimeout, 30*time.Second),
		Production: cfg.Production(),
		Cache:      jsonld.NewRedisCache(rdb, config.Duration(cfg.Federation.CacheTTL, 5*time.Minute)),
	})

	dispatcher := service.NewDispatcher(loggingNoteHandler{}, cfg.Federation.DispatchQueue)
	stopDispatcher := dispatcher.Start(2)
	notifier := service.NewRedisNotifier(rdb)

	inboxRepo := repository.NewInboxRepository()
	outboxRepo := repository.NewOutboxRepository()
	deliveryRepo := repository.NewDeliveryRepository()

	inboxService := service.NewInboxService(db, inboxRepo, resolver, dispatcher,
		cfg.Federation.Domain, cfg.Federation.RelaxedVerify)
	outboxService := service.NewOutboxService(db, outboxRepo, deliveryRepo, notifier,
		cfg.Federation.Origin, cfg.Federation.ActorURL)

	h := handler.New(db, inboxService, outboxService, outboxRepo, cfg.Federation.Origin)
	router := api.NewRouter(cfg, h)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	go func() {
		logger.Info("server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if err := stopDispatcher(shutdownCtx); err != nil {
		logger.Error("dispatcher shutdown failed", zap.Error(err))
	}
}
