package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/brewfeed/internal/config"
	"github.com/hitoshi/brewfeed/internal/database"
	"github.com/hitoshi/brewfeed/internal/events"
	"github.com/hitoshi/brewfeed/internal/handler"
	"github.com/hitoshi/brewfeed/internal/like"
	"github.com/hitoshi/brewfeed/internal/logger"
	"github.com/hitoshi/brewfeed/internal/metrics"
	"github.com/hitoshi/brewfeed/internal/repository"
	"github.com/hitoshi/brewfeed/internal/worker/consume"
)

// runWorker はイベントチャネルのコンシューマとして起動する。
// 1件ずつ受信し、いいね状態ストアへ適用する。ctxが終了すると停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
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
	slog.Info("database connection established (worker)")

	// 2. イベントチャネルの購読
	sub, err := events.NewSubscriber(ctx, eventsConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to subscribe to event channel: %w", err)
	}
	defer sub.Close()

	// 3. 適用先（コンシューマは発行しないためPropagatorは持たない）
	likeService := like.NewService(repository.NewPostgresLikeRepo(db), nil, logger.Component(slog.Default(), "likes"))

	worker := consume.NewWorker(sub, likeService, logger.Component(slog.Default(), "consumer"), collector)

	slog.Info("worker starting",
		slog.String("broker", cfg.EventBroker),
		slog.String("queue", cfg.LikesQueue),
		slog.String("group", cfg.ConsumerGroup),
	)

	// 監視用エンドポイント（/health, /metrics）はレジストリに登録しない
	ops := handler.NewOpsRouter(&handler.CommonDeps{
		Logger: slog.Default(),
		Health: handler.NewHealthHandler(map[string]handler.HealthCheck{
			"postgres": db.PingContext,
		}, slog.Default()),
		Metrics: metrics.SetupMetricsRoute(reg),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveHTTP(gctx, cfg, CommandWorker, ops, nil)
	})
	g.Go(func() error {
		return worker.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker stopped with error: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}
