package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/brewfeed/internal/config"
	"github.com/hitoshi/brewfeed/internal/database"
	"github.com/hitoshi/brewfeed/internal/events"
	"github.com/hitoshi/brewfeed/internal/feed"
	"github.com/hitoshi/brewfeed/internal/handler"
	"github.com/hitoshi/brewfeed/internal/like"
	"github.com/hitoshi/brewfeed/internal/logger"
	"github.com/hitoshi/brewfeed/internal/metrics"
	"github.com/hitoshi/brewfeed/internal/middleware"
	"github.com/hitoshi/brewfeed/internal/security"
)

// runServe はエッジAPIサーバーモードで起動する。
// キャッシュストア・イベントチャネル・レジストリに接続し、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// ctxが終了するとグレースフルシャットダウンを行い、実行中のバックグラウンド再構築の完了を待つ。
func runServe(ctx context.Context, cfg *config.Config) error {
	reg, collector := newMetrics()

	// 1. 協調サービスのクライアント（レジストリ経由）
	upstreamClient, consulClient, err := newUpstreamClient(cfg, collector)
	if err != nil {
		return err
	}

	// 2. キャッシュストア
	rdb, err := database.OpenRedis(ctx, database.RedisOptions{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()
	slog.Info("cache store connection established", slog.String("addr", cfg.RedisAddr()))

	// 3. イベントチャネル
	publisher, err := events.NewPublisher(eventsConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create event publisher: %w", err)
	}
	defer publisher.Close()

	// 4. ドメインサービス
	cache := feed.NewCache(rdb, feed.DefaultTTL, logger.Component(slog.Default(), "feed_cache"))
	assembler := feed.NewAssembler(
		upstreamClient,
		cache,
		security.NewReviewSanitizer(),
		logger.Component(slog.Default(), "feed"),
		feed.WithBackgroundTimeout(cfg.BackgroundRefreshTimeout),
		feed.WithMetrics(collector),
	)
	defer assembler.Wait()

	propagator := like.NewPropagator(publisher, logger.Component(slog.Default(), "propagator"), collector)

	// 5. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitLike),
		slog.Default(),
	)
	defer rateLimiter.Stop()

	router := handler.NewEdgeRouter(&handler.EdgeDeps{
		CommonDeps: handler.CommonDeps{
			Logger:            slog.Default(),
			CORSAllowedOrigin: cfg.CORSAllowedOrigin,
			RateLimiter:       rateLimiter,
			Health: handler.NewHealthHandler(map[string]handler.HealthCheck{
				"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			}, slog.Default()),
			Metrics: metrics.SetupMetricsRoute(reg),
		},
		Verifier:  upstreamClient,
		Likes:     upstreamClient,
		Publisher: propagator,
		Feed:      assembler,
	})

	// 6. HTTPサーバー（ブロッキング）
	return serveHTTP(ctx, cfg, CommandServe, router, consulClient)
}
