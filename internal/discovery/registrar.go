package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

// 自己登録時のヘルスチェック設定
const (
	checkInterval         = 10 * time.Second
	checkTimeout          = 5 * time.Second
	deregisterCriticalAft = time.Minute
)

// Registration はレジストリへ自己登録するサービスの情報。
type Registration struct {
	ID      string
	Name    string
	Address string
	Port    int
}

// Registrar はプロセス自身をレジストリへ登録・登録解除する。
type Registrar struct {
	agent *consulapi.Agent
}

// NewRegistrar はRegistrarを生成する。
func NewRegistrar(client *consulapi.Client) *Registrar {
	return &Registrar{agent: client.Agent()}
}

// Register は /health へのHTTPチェック付きでサービスを登録する。
func (r *Registrar) Register(ctx context.Context, reg Registration) error {
	healthURL := "http://" + net.JoinHostPort(reg.Address, strconv.Itoa(reg.Port)) + "/health"
	svc := &consulapi.AgentServiceRegistration{
		ID:      reg.ID,
		Name:    reg.Name,
		Address: reg.Address,
		Port:    reg.Port,
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           healthURL,
			Interval:                       checkInterval.String(),
			Timeout:                        checkTimeout.String(),
			DeregisterCriticalServiceAfter: deregisterCriticalAft.String(),
		},
	}

	opts := consulapi.ServiceRegisterOpts{}.WithContext(ctx)
	if err := r.agent.ServiceRegisterOpts(svc, opts); err != nil {
		return fmt.Errorf("failed to register %s: %w", reg.ID, err)
	}
	return nil
}

// Deregister は登録済みサービスを削除する。
func (r *Registrar) Deregister(ctx context.Context, id string) error {
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	if err := r.agent.ServiceDeregisterOpts(id, q); err != nil {
		return fmt.Errorf("failed to deregister %s: %w", id, err)
	}
	return nil
}
