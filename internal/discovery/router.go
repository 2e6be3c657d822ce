package discovery

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net"
	"strconv"

	"github.com/hitoshi/brewfeed/internal/metrics"
	"github.com/hitoshi/brewfeed/internal/model"
)

// Router はRegistryを使って外部呼び出しごとに呼び出し先インスタンスを1つ選ぶ。
// インスタンスは呼び出しをまたいでキャッシュしない。
type Router struct {
	registry Registry
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	intn     func(n int) int
}

// NewRouter はRouterを生成する。metricsがnilの場合は記録しない。
func NewRouter(registry Registry, logger *slog.Logger, m metrics.MetricsCollector) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Router{
		registry: registry,
		logger:   logger,
		metrics:  m,
		intn:     rand.IntN,
	}
}

// Resolve はサービス名に対応するインスタンス一覧を返す。
// ヘルスフィルタ済み一覧が得られない（エラーまたは空）場合は、
// フィルタなしの全登録インスタンスにフォールバックする。
// どちらも空の場合はServiceUnavailableを返す。
func (r *Router) Resolve(ctx context.Context, name string) ([]model.ServiceInstance, error) {
	healthy, err := r.registry.HealthyInstances(ctx, name)
	if err == nil && len(healthy) > 0 {
		return healthy, nil
	}
	if err != nil {
		r.logger.WarnContext(ctx, "health-filtered lookup failed, falling back to full listing",
			slog.String("service", name),
			slog.String("error", err.Error()),
		)
	}

	all, err := r.registry.AllInstances(ctx, name)
	if err != nil {
		r.logger.ErrorContext(ctx, "registry lookup failed",
			slog.String("service", name),
			slog.String("error", err.Error()),
		)
		return nil, model.NewServiceUnavailableError(name)
	}
	if len(all) == 0 {
		return nil, model.NewServiceUnavailableError(name)
	}

	r.logger.InfoContext(ctx, "using unfiltered instance listing",
		slog.String("service", name),
		slog.Int("instances", len(all)),
	)
	r.metrics.RecordRegistryFallback(name)
	return all, nil
}

// Pick はインスタンスを一様ランダムに1つ選ぶ。空の場合は即座にServiceUnavailableを返す。
func (r *Router) Pick(instances []model.ServiceInstance) (model.ServiceInstance, error) {
	if len(instances) == 0 {
		return model.ServiceInstance{}, model.NewServiceUnavailableError("service")
	}
	return instances[r.intn(len(instances))], nil
}

// Endpoint は解決と選択を行い、呼び出し先のベースURL（http://host:port）を返す。
func (r *Router) Endpoint(ctx context.Context, name string) (string, error) {
	instances, err := r.Resolve(ctx, name)
	if err != nil {
		return "", err
	}
	inst, err := r.Pick(instances)
	if err != nil {
		return "", err
	}
	return "http://" + net.JoinHostPort(inst.Address, strconv.Itoa(inst.Port)), nil
}
