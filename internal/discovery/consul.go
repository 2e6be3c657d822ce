// Package discovery はサービスレジストリへの問い合わせと呼び出し先インスタンスの選択を提供する。
package discovery

import (
	"context"
	"fmt"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/hitoshi/brewfeed/internal/model"
)

// Registry はサービス名からインスタンス一覧を取得するインターフェース。
type Registry interface {
	// HealthyInstances はヘルスチェックに合格しているインスタンスのみを返す。
	HealthyInstances(ctx context.Context, name string) ([]model.ServiceInstance, error)
	// AllInstances はヘルス状態に関係なく登録済みの全インスタンスを返す。
	AllInstances(ctx context.Context, name string) ([]model.ServiceInstance, error)
}

// NewConsulClient は指定アドレスのConsul互換レジストリに接続するクライアントを生成する。
// addrは "host:port" または "http://host:port" 形式。
func NewConsulClient(addr string) (*consulapi.Client, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry client: %w", err)
	}
	return client, nil
}

// ConsulRegistry はConsul HTTP APIを使うRegistry実装。
// 結果はキャッシュせず、呼び出しのたびにレジストリへ問い合わせる。
type ConsulRegistry struct {
	client *consulapi.Client
}

// NewConsulRegistry はConsulRegistryを生成する。
func NewConsulRegistry(client *consulapi.Client) *ConsulRegistry {
	return &ConsulRegistry{client: client}
}

// HealthyInstances は /v1/health/service/{name}?passing でインスタンスを取得する。
func (r *ConsulRegistry) HealthyInstances(ctx context.Context, name string) ([]model.ServiceInstance, error) {
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	entries, _, err := r.client.Health().Service(name, "", true, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query healthy instances of %s: %w", name, err)
	}

	instances := make([]model.ServiceInstance, 0, len(entries))
	for _, e := range entries {
		if e.Service == nil {
			continue
		}
		addr := e.Service.Address
		if addr == "" && e.Node != nil {
			addr = e.Node.Address
		}
		instances = append(instances, model.ServiceInstance{
			ID:      e.Service.ID,
			Name:    e.Service.Service,
			Address: addr,
			Port:    e.Service.Port,
			Status:  model.InstanceStatusPassing,
		})
	}
	return instances, nil
}

// AllInstances は /v1/catalog/service/{name} でヘルス状態を問わずインスタンスを取得する。
func (r *ConsulRegistry) AllInstances(ctx context.Context, name string) ([]model.ServiceInstance, error) {
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	services, _, err := r.client.Catalog().Service(name, "", q)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances of %s: %w", name, err)
	}

	instances := make([]model.ServiceInstance, 0, len(services))
	for _, s := range services {
		addr := s.ServiceAddress
		if addr == "" {
			addr = s.Address
		}
		instances = append(instances, model.ServiceInstance{
			ID:      s.ServiceID,
			Name:    s.ServiceName,
			Address: addr,
			Port:    s.ServicePort,
			Status:  model.InstanceStatusUnknown,
		})
	}
	return instances, nil
}

// compile-time interface check
var _ Registry = (*ConsulRegistry)(nil)
