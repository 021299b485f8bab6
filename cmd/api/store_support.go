package main

import (
	"context"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/diary-we-write/internal/auth"
	"github.com/yourusername/diary-we-write/internal/config"
	"github.com/yourusername/diary-we-write/internal/diary"
	"github.com/yourusername/diary-we-write/internal/store"
)

// setupStore は STORE_DRIVER に応じてアカウントストアを開きます。
func setupStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (diary.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.DBConnectTimeout)
	defer cancel()

	switch cfg.StoreDriver {
	case config.StoreMongo:
		s, err := store.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to mongodb", slog.String("database", cfg.MongoDatabase))
		return s, nil
	case config.StorePostgres:
		s, err := store.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to postgres")
		return s, nil
	case config.StoreMemory:
		logger.Warn("using in-memory store; accounts are lost on restart")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.StoreDriver)
	}
}

// setupThrottle は REDIS_URL があれば Redis、なければプロセス内のログイン試行制限を返します。
// 返す close 関数は Redis クライアントを閉じます。
func setupThrottle(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.Throttle, func() error, error) {
	if cfg.RedisURL == "" {
		return auth.NewMemoryThrottle(), func() error { return nil }, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, cfg.DBConnectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	logger.Info("login throttling backed by redis", slog.String("addr", opt.Addr))
	return auth.NewRedisThrottle(rdb), rdb.Close, nil
}

// setupProviders は資格情報が設定されているプロバイダーだけを有効にします。
func setupProviders(cfg *config.Config, logger *slog.Logger) []*auth.Provider {
	var providers []*auth.Provider
	if cfg.Google.Enabled() {
		providers = append(providers, auth.NewGoogleProvider(cfg.Google, cfg.CallbackURL(string(diary.ProviderGoogle))))
	} else {
		logger.Info("google login disabled: GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set")
	}
	if cfg.Facebook.Enabled() {
		providers = append(providers, auth.NewFacebookProvider(cfg.Facebook, cfg.CallbackURL(string(diary.ProviderFacebook))))
	} else {
		logger.Info("facebook login disabled: FACEBOOK_APP_ID/FACEBOOK_APP_SECRET not set")
	}
	return providers
}
