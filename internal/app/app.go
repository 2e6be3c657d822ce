// Package app はサブコマンドの解析と各モードの依存関係のワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/brewfeed/internal/config"
	"github.com/hitoshi/brewfeed/internal/database"
	"github.com/hitoshi/brewfeed/internal/discovery"
	"github.com/hitoshi/brewfeed/internal/events"
	"github.com/hitoshi/brewfeed/internal/logger"
	"github.com/hitoshi/brewfeed/internal/metrics"
	"github.com/hitoshi/brewfeed/internal/upstream"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	if cmd.RequiresDatabase() {
		if err := cfg.RequireDatabase(); err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("event_broker", cfg.EventBroker),
	)

	ctx, stop := signalContext()
	defer stop()

	switch cmd {
	case CommandLikes:
		return runLikes(ctx, cfg)
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// signalContext はSIGINTまたはSIGTERMを受信するとキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// newMetrics はプロセス用のレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newUpstreamClient はレジストリ経由で協調サービスを呼び出すクライアントを構築する。
// 戻り値のconsulクライアントは自己登録にも使う。
func newUpstreamClient(cfg *config.Config, m metrics.MetricsCollector) (*upstream.Client, *consulapi.Client, error) {
	consulClient, err := discovery.NewConsulClient(cfg.RegistryAddr())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create registry client: %w", err)
	}

	router := discovery.NewRouter(
		discovery.NewConsulRegistry(consulClient),
		logger.Component(slog.Default(), "router"),
		m,
	)

	client := upstream.NewClient(
		&http.Client{Timeout: cfg.UpstreamTimeout},
		router,
		upstream.Services{
			Verifier: cfg.VerifierService,
			Reviews:  cfg.ReviewsService,
			Likes:    cfg.LikesService,
		},
		logger.Component(slog.Default(), "upstream"),
		m,
	)
	return client, consulClient, nil
}

// eventsConfig は設定からイベントチャネルの接続設定を組み立てる。
func eventsConfig(cfg *config.Config) events.Config {
	return events.Config{
		Broker:       cfg.EventBroker,
		NatsURL:      cfg.NatsURL,
		KafkaBrokers: cfg.KafkaBrokers,
		Group:        cfg.ConsumerGroup,
		Queue:        cfg.LikesQueue,
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.Migrate(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
