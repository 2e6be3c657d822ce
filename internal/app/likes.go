package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/brewfeed/internal/config"
	"github.com/hitoshi/brewfeed/internal/database"
	"github.com/hitoshi/brewfeed/internal/events"
	"github.com/hitoshi/brewfeed/internal/handler"
	"github.com/hitoshi/brewfeed/internal/like"
	"github.com/hitoshi/brewfeed/internal/logger"
	"github.com/hitoshi/brewfeed/internal/metrics"
	"github.com/hitoshi/brewfeed/internal/middleware"
	"github.com/hitoshi/brewfeed/internal/repository"
)

// runLikes はいいね状態ストアサービスとして起動する。
// 読み出し面（GET /likes）と直接書き込み面（POST/DELETE /like）を提供する。
func runLikes(ctx context.Context, cfg *config.Config) error {
	reg, collector := newMetrics()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established (likes)")

	// 2. 検証サービスのクライアントとイベントチャネル
	upstreamClient, consulClient, err := newUpstreamClient(cfg, collector)
	if err != nil {
		return err
	}

	publisher, err := events.NewPublisher(eventsConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create event publisher: %w", err)
	}
	defer publisher.Close()

	// 3. ドメインサービス
	likeService := like.NewService(
		repository.NewPostgresLikeRepo(db),
		like.NewPropagator(publisher, logger.Component(slog.Default(), "propagator"), collector),
		logger.Component(slog.Default(), "likes"),
	)

	// 4. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitLike),
		slog.Default(),
	)
	defer rateLimiter.Stop()

	router := handler.NewLikesRouter(&handler.LikesDeps{
		CommonDeps: handler.CommonDeps{
			Logger:            slog.Default(),
			CORSAllowedOrigin: cfg.CORSAllowedOrigin,
			RateLimiter:       rateLimiter,
			Health: handler.NewHealthHandler(map[string]handler.HealthCheck{
				"postgres": db.PingContext,
			}, slog.Default()),
			Metrics: metrics.SetupMetricsRoute(reg),
		},
		Verifier:    upstreamClient,
		LikeService: likeService,
	})

	return serveHTTP(ctx, cfg, CommandLikes, router, consulClient)
}
