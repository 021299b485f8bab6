// Package main は日記サーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/diary-we-write/internal/auth"
	"github.com/yourusername/diary-we-write/internal/config"
	"github.com/yourusername/diary-we-write/internal/diary"
	"github.com/yourusername/diary-we-write/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	slog.SetDefault(logger)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accountStore, err := setupStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open account store", slog.Any("error", err))
		os.Exit(1)
	}

	throttle, closeThrottle, err := setupThrottle(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up login throttling", slog.Any("error", err))
		_ = accountStore.Close(context.Background())
		os.Exit(1)
	}

	service := diary.NewService(accountStore, diary.Options{
		Location: cfg.Location(),
		Logger:   logger,
	})
	manager := auth.NewManager(service, auth.Options{
		Throttle:    throttle,
		Providers:   setupProviders(cfg, logger),
		IdleTimeout: cfg.SessionIdle,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, service, manager, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// サーバーの起動
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr), slog.String("mode", cfg.GinMode))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped with error", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down server", slog.Any("error", err))
	}
	if err := accountStore.Close(shutdownCtx); err != nil {
		logger.Error("failed to close account store", slog.Any("error", err))
	}
	if err := closeThrottle(); err != nil {
		logger.Error("failed to close redis client", slog.Any("error", err))
	}
}
