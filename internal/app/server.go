package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/hitoshi/brewfeed/internal/config"
	"github.com/hitoshi/brewfeed/internal/discovery"
)

const (
	shutdownTimeout   = 30 * time.Second
	registrationDelay = 5 * time.Second
)

// registration は設定からレジストリ登録情報を組み立てる。
// インスタンスIDは「サービス名-アドレス-ポート」とし、再起動時も同じIDで上書きされる。
func registration(cfg *config.Config, cmd Command) (discovery.Registration, error) {
	port, err := strconv.Atoi(cfg.ServerPort)
	if err != nil {
		return discovery.Registration{}, fmt.Errorf("invalid SERVER_PORT %q: %w", cfg.ServerPort, err)
	}
	name := cfg.ServiceName
	if name == "" {
		name = cmd.defaultServiceName()
	}
	return discovery.Registration{
		ID:      fmt.Sprintf("%s-%s-%d", name, cfg.ServiceAddress, port),
		Name:    name,
		Address: cfg.ServiceAddress,
		Port:    port,
	}, nil
}

// serveHTTP はHTTPサーバーを起動し、ctxが終了するまでブロックする。
// REGISTER_SELFが有効な場合は起動後にレジストリへ自己登録し、停止時に登録解除する。
func serveHTTP(ctx context.Context, cfg *config.Config, cmd Command, h http.Handler, consul *consulapi.Client) error {
	reg, err := registration(cfg, cmd)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTPサーバーを起動します",
			slog.String("command", string(cmd)),
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var registrar *discovery.Registrar
	if cfg.RegisterSelf && consul != nil {
		registrar = discovery.NewRegistrar(consul)
		regCtx, cancel := context.WithTimeout(ctx, registrationDelay)
		if err := registrar.Register(regCtx, reg); err != nil {
			// レジストリが一時的に落ちていても自身のサービス提供は継続する
			slog.Error("レジストリへの自己登録に失敗しました",
				slog.String("service_id", reg.ID),
				slog.String("error", err.Error()),
			)
			registrar = nil
		} else {
			slog.Info("レジストリへ自己登録しました",
				slog.String("service_id", reg.ID),
				slog.String("service", reg.Name),
			)
		}
		cancel()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("HTTPサーバーを停止します", slog.String("command", string(cmd)))
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("server listen error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if registrar != nil {
		if err := registrar.Deregister(shutdownCtx, reg.ID); err != nil {
			slog.Warn("レジストリからの登録解除に失敗しました",
				slog.String("service_id", reg.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if serveErr != nil {
		return serveErr
	}

	slog.Info("HTTPサーバーを正常に停止しました", slog.String("command", string(cmd)))
	return nil
}
